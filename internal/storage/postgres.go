package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/logger"
	"github.com/Shugur-Network/proxypool/internal/metrics"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.uber.org/zap"
)

// DBState represents the current state of the database connection
type DBState int

const (
	DBStateInitial DBState = iota
	DBStateConnecting
	DBStateConnected
	DBStateClosed
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ` + constants.SnapshotTable + ` (
	source      TEXT        PRIMARY KEY,
	saved_at    TIMESTAMPTZ NOT NULL,
	relay_count INTEGER     NOT NULL,
	payload     JSONB       NOT NULL
)`

// PostgresStore keeps snapshots in a PostgreSQL (or CockroachDB) table.
type PostgresStore struct {
	Pool    *pgxpool.Pool
	state   DBState
	stateMu sync.RWMutex
}

var _ Backend = (*PostgresStore)(nil)

func newPoolConfig(dbURI string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dbURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URI: %w", err)
	}
	cfg.MaxConns = constants.DBPoolMaxConns
	cfg.MinConns = constants.DBPoolMinConns
	cfg.MaxConnLifetime = constants.DBConnMaxLifetime
	cfg.MaxConnIdleTime = constants.DBConnMaxIdleTime
	cfg.ConnConfig.ConnectTimeout = constants.DBConnAcquireTimeout
	cfg.HealthCheckPeriod = 30 * time.Second
	return cfg, nil
}

// NewPostgresStore connects with exponential backoff and creates the
// snapshot table if it is missing.
func NewPostgresStore(ctx context.Context, dbURI string, attempts int) (*PostgresStore, error) {
	if attempts <= 0 {
		attempts = constants.DBConnectAttempts
	}
	poolCfg, err := newPoolConfig(dbURI)
	if err != nil {
		return nil, err
	}

	s := &PostgresStore{state: DBStateConnecting}
	backoff := constants.DBInitialBackoff

	for i := 1; i <= attempts; i++ {
		var pool *pgxpool.Pool
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				s.Pool = pool
				s.state = DBStateConnected
				logger.Info("✅ DB Connected Successfully",
					zap.Int("attempts", i),
					zap.Int32("db_max_connections", pool.Stat().MaxConns()))
				metrics.DBConnections.WithLabelValues("success").Inc()
				break
			}
			pool.Close()
		}

		logger.Warn("Failed to connect to DB, retrying...",
			zap.Error(err),
			zap.Int("attempt", i),
			zap.Duration("backoff", backoff))
		metrics.DBConnections.WithLabelValues("failure").Inc()
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if s.Pool == nil {
		s.state = DBStateClosed
		return nil, fmt.Errorf("failed to connect to DB after %d attempts: %w", attempts, err)
	}

	if _, err := s.Pool.Exec(ctx, postgresSchema); err != nil {
		s.Pool.Close()
		return nil, fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) isConnected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state == DBStateConnected
}

// Save upserts the snapshot row of source.
func (s *PostgresStore) Save(ctx context.Context, source string, relays []relaypool.Relay) (err error) {
	start := time.Now()
	defer func() { observe(s.Name(), "save", start, err) }()

	if !s.isConnected() {
		return fmt.Errorf("database is not connected")
	}
	now := time.Now()
	payload, err := encodeSnapshot(source, relays, now)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO `+constants.SnapshotTable+` (source, saved_at, relay_count, payload)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (source) DO UPDATE SET
			saved_at = EXCLUDED.saved_at,
			relay_count = EXCLUDED.relay_count,
			payload = EXCLUDED.payload`,
		source, now.UTC(), len(relays), string(payload))
	if err != nil {
		logger.Error("Snapshot upsert failed", zap.String("source", source), zap.Error(err))
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot row of source.
func (s *PostgresStore) Load(ctx context.Context, source string) (relays []relaypool.Relay, err error) {
	start := time.Now()
	defer func() { observe(s.Name(), "load", start, err) }()

	if !s.isConnected() {
		return nil, fmt.Errorf("database is not connected")
	}
	var payload []byte
	err = s.Pool.QueryRow(ctx,
		`SELECT payload::text FROM `+constants.SnapshotTable+` WHERE source = $1`, source).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, noSnapshot(source)
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return decodeSnapshot(source, payload)
}

// Sources lists every source with a stored snapshot.
func (s *PostgresStore) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT source FROM `+constants.SnapshotTable+` ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return s.Pool.Ping(ctx)
}

// Close closes the connection pool once.
func (s *PostgresStore) Close() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == DBStateClosed {
		return nil
	}
	s.state = DBStateClosed
	if s.Pool != nil {
		s.Pool.Close()
		metrics.DBConnections.WithLabelValues("closed").Inc()
	}
	return nil
}
