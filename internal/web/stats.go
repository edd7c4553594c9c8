package web

import (
	"net/http"
	"time"

	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/errors"
	"github.com/Shugur-Network/proxypool/internal/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStatsFeed upgrades to a WebSocket and pushes a StatsResponse every
// stats interval until the client goes away. Client messages are ignored.
func (s *Server) handleStatsFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Debug("Stats feed upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.StatsSubscribers.Inc()
	defer metrics.StatsSubscribers.Dec()

	done := make(chan struct{})
	go s.drainFeed(conn, done)

	interval := s.cfg.StatsInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ping := time.NewTicker(constants.WSPingPeriod)
	defer ping.Stop()

	if err := s.writeStats(conn); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := s.writeStats(conn); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(constants.WSWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logFeedError("ping", err)
				return
			}
		}
	}
}

func (s *Server) writeStats(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(constants.WSWriteTimeout))
	if err := conn.WriteJSON(s.collectStats()); err != nil {
		s.logFeedError("write", err)
		return err
	}
	return nil
}

// drainFeed reads until the connection fails so pongs and close frames are
// processed, then closes done.
func (s *Server) drainFeed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logFeedError("read", err)
			return
		}
	}
}

func (s *Server) logFeedError(op string, err error) {
	appErr := errors.WebSocketError(op, err)
	if appErr.Severity == errors.SeverityLow {
		s.logger.Debug("Stats feed closed", zap.String("code", appErr.Code))
		return
	}
	s.logger.Debug("Stats feed error", zap.String("code", appErr.Code), zap.Error(err))
}
