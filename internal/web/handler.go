package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/errors"
	"github.com/Shugur-Network/proxypool/internal/metrics"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	statusOK   = "OK"
	statusFail = "FAIL"
)

// ProxyResponse is the body of /get_proxy.
type ProxyResponse struct {
	Status     string `json:"status"`
	Address    string `json:"address,omitempty"`
	Type       string `json:"type,omitempty"`
	BadRequest int    `json:"bad_request"`
}

// UploadRequest is the body of /upload_proxy and /action/clear.
type UploadRequest struct {
	Source  string   `json:"source"`
	Proxies []string `json:"proxies"`
}

// ActionResponse is the body of every successful mutating call.
type ActionResponse struct {
	Status    string   `json:"status"`
	Added     int      `json:"added,omitempty"`
	Removed   int      `json:"removed,omitempty"`
	Penalized int      `json:"penalized,omitempty"`
	Missing   []string `json:"missing,omitempty"`
}

// PoolStats is the per-source section of /api/v1/stats.
type PoolStats struct {
	Relays     int            `json:"relays"`
	Eligible   int            `json:"eligible"`
	Statistics map[string]int `json:"statistics"`
}

// StatsResponse is the body of /api/v1/stats and each stats feed frame.
type StatsResponse struct {
	Timestamp time.Time            `json:"timestamp"`
	Uptime    string               `json:"uptime"`
	Sources   map[string]PoolStats `json:"sources"`
	Totals    metrics.Totals       `json:"totals"`
}

func sourceParam(r *http.Request) string {
	if source := r.URL.Query().Get("source"); source != "" {
		return source
	}
	return relaypool.DefaultSource
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// handleIndex writes the plain-text failure table of one pool.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	source := sourceParam(r)
	stats, err := s.Registry.Statistics(source)
	if err != nil {
		errors.HandleHTTPError(w, r, err)
		return
	}

	addrs := make([]string, 0, len(stats))
	for addr := range stats {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var b strings.Builder
	fmt.Fprintf(&b, "source %s\naddress\t\tbad_count\n", source)
	for _, addr := range addrs {
		fmt.Fprintf(&b, "%s\t\t%d\n", addr, stats[addr])
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, b.String())
}

func (s *Server) handleGetProxy(w http.ResponseWriter, r *http.Request) error {
	relay, ok, err := s.Registry.Select(sourceParam(r))
	if err != nil {
		return err
	}
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, ProxyResponse{Status: statusFail})
		return nil
	}
	writeJSON(w, http.StatusOK, ProxyResponse{
		Status:     statusOK,
		Address:    relay.String(),
		Type:       relay.Kind,
		BadRequest: relay.Failures,
	})
	return nil
}

func (s *Server) handleBadProxy(w http.ResponseWriter, r *http.Request) error {
	proxy := strings.TrimSpace(r.URL.Query().Get("proxy"))
	if proxy == "" {
		return errors.ValidationError("MISSING_PROXY", "The proxy parameter is required.")
	}
	n, err := s.Registry.Penalize(sourceParam(r), proxy)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, ActionResponse{Status: statusOK, Penalized: n})
	return nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeUpload(w, r)
	if err != nil {
		return err
	}
	if len(req.Proxies) == 0 {
		return errors.ValidationError("NO_PROXIES", "The proxies list must not be empty.")
	}
	added, err := s.Registry.AddMany(req.Source, req.Proxies)
	if err != nil {
		return err
	}
	s.logger.Info("Relays uploaded",
		zap.String("source", req.Source),
		zap.Int("received", len(req.Proxies)),
		zap.Int("added", added))
	writeJSON(w, http.StatusOK, ActionResponse{Status: statusOK, Added: added})
	return nil
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) error {
	switch action := chi.URLParam(r, "action"); action {
	case "clear":
		return s.actionClear(w, r)
	case "load":
		return s.actionLoad(w, r)
	case "save":
		return s.actionSave(w, r)
	case "discover":
		return s.actionDiscover(w, r)
	default:
		return errors.NotFoundError(fmt.Sprintf("Action %q", action))
	}
}

// actionClear removes the listed relays, or all of them, from one pool or
// from every pool, then saves the affected pools.
func (s *Server) actionClear(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeUpload(w, r)
	if err != nil {
		return err
	}

	var (
		removed  int
		affected []string
	)
	if strings.EqualFold(req.Source, constants.AllSources) {
		removed = s.Registry.ClearAll(req.Proxies)
		affected = s.Registry.Sources()
	} else {
		removed, err = s.Registry.Clear(req.Source, req.Proxies)
		if err != nil {
			return err
		}
		affected = []string{req.Source}
	}
	if s.Discoverer != nil {
		s.Discoverer.Forget()
	}

	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), constants.SnapshotTimeout)
		defer cancel()
		for _, source := range affected {
			if err := s.Registry.Snapshot(ctx, source, s.Store); err != nil {
				return err
			}
		}
	}
	writeJSON(w, http.StatusOK, ActionResponse{Status: statusOK, Removed: removed})
	return nil
}

func (s *Server) actionLoad(w http.ResponseWriter, r *http.Request) error {
	if s.Store == nil {
		return errPersistenceDisabled()
	}
	ctx, cancel := context.WithTimeout(r.Context(), constants.SnapshotTimeout)
	defer cancel()

	missing, err := s.Registry.RestoreAll(ctx, s.Store)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, ActionResponse{Status: statusOK, Missing: missing})
	return nil
}

func (s *Server) actionSave(w http.ResponseWriter, r *http.Request) error {
	if s.Store == nil {
		return errPersistenceDisabled()
	}
	ctx, cancel := context.WithTimeout(r.Context(), constants.SnapshotTimeout)
	defer cancel()

	if err := s.Registry.SnapshotAll(ctx, s.Store); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, ActionResponse{Status: statusOK})
	return nil
}

func (s *Server) actionDiscover(w http.ResponseWriter, r *http.Request) error {
	if s.Discoverer == nil {
		return errors.ValidationError("DISCOVERY_DISABLED", "Discovery is not enabled on this server.")
	}
	added, err := s.Discoverer.Discover(r.Context())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeExternal, "DISCOVERY_FAILED", "Discovery round failed")
	}
	writeJSON(w, http.StatusOK, ActionResponse{Status: statusOK, Added: added})
	return nil
}

func (s *Server) handleStatsAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, s.collectStats())
}

func (s *Server) collectStats() StatsResponse {
	resp := StatsResponse{
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Sources:   make(map[string]PoolStats),
		Totals:    metrics.GetTotals(),
	}
	for _, source := range s.Registry.Sources() {
		pool, err := s.Registry.Pool(source)
		if err != nil {
			continue
		}
		total, eligible := pool.Len(), pool.Eligible()
		metrics.ObservePool(source, total, eligible)
		resp.Sources[source] = PoolStats{
			Relays:     total,
			Eligible:   eligible,
			Statistics: pool.Statistics(),
		}
	}
	return resp
}

// decodeUpload reads an UploadRequest, applying the body size limit and the
// default source.
func decodeUpload(w http.ResponseWriter, r *http.Request) (UploadRequest, error) {
	var req UploadRequest
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return req, errors.Wrap(err, errors.ErrorTypeValidation, "INVALID_BODY", "Request body is not valid JSON").
			WithSeverity(errors.SeverityLow).
			WithUserMessage("The request body must be a JSON object with source and proxies.")
	}
	if req.Source == "" {
		req.Source = relaypool.DefaultSource
	}
	return req, nil
}

func errPersistenceDisabled() error {
	return errors.ValidationError("PERSISTENCE_DISABLED", "Persistence is not enabled on this server.")
}
