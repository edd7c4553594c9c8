package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/metrics"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
)

// Backend is a snapshot store plus the lifecycle hooks the node needs.
type Backend interface {
	relaypool.Store
	// Name identifies the backend in logs, metrics and health output.
	Name() string
	// Sources lists the sources that have a stored snapshot.
	Sources(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the backend selected by cfg. It returns nil for the "none"
// backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendFile:
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		s, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		s, err := NewPostgresStore(ctx, cfg.PostgresURL, cfg.ConnectAttempts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// observe records the outcome and latency of one store operation.
func observe(backend, op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.StoreOperations.WithLabelValues(backend, op, result).Inc()
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

func noSnapshot(source string) error {
	return fmt.Errorf("%w: %q", relaypool.ErrNoSnapshot, source)
}
