package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the status of a specific component
type ComponentStatus struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version"`
	Uptime     string                 `json:"uptime"`
	Components []*ComponentStatus     `json:"components"`
	Summary    map[string]interface{} `json:"summary"`
}

// StoreInterface is the part of a snapshot backend the checker needs.
type StoreInterface interface {
	Name() string
	Ping(ctx context.Context) error
}

// PoolsInterface is satisfied by *relaypool.Registry.
type PoolsInterface interface {
	Sources() []string
	Pool(source string) (*relaypool.Pool, error)
}

// HealthChecker reports on the snapshot store, the pools and the process.
type HealthChecker struct {
	store     StoreInterface
	pools     PoolsInterface
	logger    *zap.Logger
	startTime time.Time
	version   string
}

// NewHealthChecker creates a new health checker. store may be nil when
// persistence is disabled.
func NewHealthChecker(store StoreInterface, pools PoolsInterface, logger *zap.Logger, version string) *HealthChecker {
	return &HealthChecker{
		store:     store,
		pools:     pools,
		logger:    logger.Named("health"),
		startTime: time.Now(),
		version:   version,
	}
}

// CheckHealth performs a comprehensive health check
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthResponse {
	startTime := time.Now()
	components := []*ComponentStatus{
		h.checkStore(ctx),
		h.checkPools(),
		h.checkMemory(),
		h.checkSystemResources(),
	}

	return &HealthResponse{
		Status:     determineOverallStatus(components),
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     formatUptime(time.Since(h.startTime)),
		Components: components,
		Summary: map[string]interface{}{
			"total_components":     len(components),
			"healthy_components":   countComponentsByStatus(components, StatusHealthy),
			"degraded_components":  countComponentsByStatus(components, StatusDegraded),
			"unhealthy_components": countComponentsByStatus(components, StatusUnhealthy),
			"check_duration_ms":    time.Since(startTime).Milliseconds(),
		},
	}
}

func (h *HealthChecker) checkStore(ctx context.Context) *ComponentStatus {
	status := &ComponentStatus{
		Name:    "store",
		Details: make(map[string]interface{}),
	}

	if h.store == nil {
		status.Status = StatusHealthy
		status.Message = "Persistence disabled"
		return status
	}

	status.Details["backend"] = h.store.Name()
	pingStart := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		status.Status = StatusUnhealthy
		status.Message = "Snapshot store unreachable"
		status.Details["error"] = err.Error()
		return status
	}
	status.Details["ping_ms"] = time.Since(pingStart).Milliseconds()
	status.Status = StatusHealthy
	status.Message = "Snapshot store is healthy"
	return status
}

// checkPools reports per-source sizes. A pool that holds relays but can
// hand none of them out is degraded; empty pools are not.
func (h *HealthChecker) checkPools() *ComponentStatus {
	status := &ComponentStatus{
		Name:    "pools",
		Status:  StatusHealthy,
		Details: make(map[string]interface{}),
	}

	var starved []string
	for _, source := range h.pools.Sources() {
		pool, err := h.pools.Pool(source)
		if err != nil {
			continue
		}
		total, eligible := pool.Len(), pool.Eligible()
		status.Details[source] = map[string]int{
			"relays":   total,
			"eligible": eligible,
		}
		if total > 0 && eligible == 0 {
			starved = append(starved, source)
		}
	}

	if len(starved) > 0 {
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("No eligible relays in %d pool(s): %v", len(starved), starved)
		return status
	}
	status.Message = fmt.Sprintf("%d pools serving", len(h.pools.Sources()))
	return status
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() *ComponentStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := &ComponentStatus{
		Name:    "memory",
		Details: make(map[string]interface{}),
	}

	allocMB := float64(m.Alloc) / 1024 / 1024
	status.Details["alloc_mb"] = allocMB
	status.Details["sys_mb"] = float64(m.Sys) / 1024 / 1024
	status.Details["heap_mb"] = float64(m.HeapAlloc) / 1024 / 1024
	status.Details["num_gc"] = m.NumGC

	const (
		memoryWarningMB  = 256
		memoryCriticalMB = 512
	)

	switch {
	case allocMB > memoryCriticalMB:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("High memory usage: %.1f MB", allocMB)
	case allocMB > memoryWarningMB:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Elevated memory usage: %.1f MB", allocMB)
	default:
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("Memory usage normal: %.1f MB", allocMB)
	}

	return status
}

// checkSystemResources checks system-level resources
func (h *HealthChecker) checkSystemResources() *ComponentStatus {
	goroutineCount := runtime.NumGoroutine()
	status := &ComponentStatus{
		Name: "system",
		Details: map[string]interface{}{
			"goroutines": goroutineCount,
			"cpus":       runtime.NumCPU(),
		},
	}

	const (
		goroutineWarning  = 1000
		goroutineCritical = 5000
	)

	switch {
	case goroutineCount > goroutineCritical:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("High goroutine count: %d", goroutineCount)
	case goroutineCount > goroutineWarning:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Elevated goroutine count: %d", goroutineCount)
	default:
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("System resources normal: %d goroutines", goroutineCount)
	}

	return status
}

func determineOverallStatus(components []*ComponentStatus) HealthStatus {
	overall := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func countComponentsByStatus(components []*ComponentStatus, status HealthStatus) int {
	count := 0
	for _, comp := range components {
		if comp.Status == status {
			count++
		}
	}
	return count
}

// formatUptime formats uptime duration as a human-readable string
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// HandleHealth is the HTTP handler for health checks. Degraded still
// answers 200; only unhealthy answers 503.
func (h *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), constants.HealthCheckTimeout)
	defer cancel()

	healthResponse := h.CheckHealth(ctx)

	statusCode := http.StatusOK
	if healthResponse.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(healthResponse); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
		return
	}

	h.logger.Debug("Health check completed",
		zap.String("status", string(healthResponse.Status)),
		zap.Int("status_code", statusCode),
		zap.String("client_ip", r.RemoteAddr))
}
