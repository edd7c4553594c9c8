package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/logger"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // sqlite driver
)

const sqliteSchema = `
CREATE TABLE ` + constants.SnapshotTable + ` (
	source      TEXT    PRIMARY KEY,
	saved_at    INTEGER NOT NULL,
	relay_count INTEGER NOT NULL,
	payload     BLOB    NOT NULL
);`

// SQLiteStore keeps snapshots in a single SQLite file. Writes go through a
// one-connection pool; reads use their own pool.
type SQLiteStore struct {
	write *sql.DB
	read  *sql.DB
	path  string
}

var _ Backend = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at path and applies the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.Contains(path, ":memory:") {
		return nil, fmt.Errorf("use a named database file, not :memory:")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	params := make(url.Values)
	// Start write transactions as IMMEDIATE so busy_timeout applies.
	params.Add("_txlock", "immediate")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(1000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + params.Encode()

	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = write.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	read.SetMaxOpenConns(4)

	s := &SQLiteStore{write: write, read: read, path: path}
	if err := s.setup(); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("SQLite snapshot store ready", zap.String("path", path))
	return s, nil
}

// setup applies the schema on a fresh database and refuses a database
// written by a different schema version.
func (s *SQLiteStore) setup() error {
	var existing int
	if err := s.write.QueryRow("PRAGMA user_version;").Scan(&existing); err != nil {
		return fmt.Errorf("checking database schema version: %w", err)
	}
	switch {
	case existing == 0:
		if _, err := s.write.Exec(sqliteSchema); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		if _, err := s.write.Exec(fmt.Sprintf("PRAGMA user_version = %d", constants.SQLiteSchemaVersion)); err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}
		return nil
	case existing != constants.SQLiteSchemaVersion:
		return fmt.Errorf("database schema version mismatch: expected %d, have %d",
			constants.SQLiteSchemaVersion, existing)
	default:
		return nil
	}
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Save upserts the snapshot row of source.
func (s *SQLiteStore) Save(ctx context.Context, source string, relays []relaypool.Relay) (err error) {
	start := time.Now()
	defer func() { observe(s.Name(), "save", start, err) }()

	now := time.Now()
	payload, err := encodeSnapshot(source, relays, now)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx, `
		INSERT INTO `+constants.SnapshotTable+` (source, saved_at, relay_count, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			saved_at = excluded.saved_at,
			relay_count = excluded.relay_count,
			payload = excluded.payload`,
		source, now.Unix(), len(relays), payload)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot row of source.
func (s *SQLiteStore) Load(ctx context.Context, source string) (relays []relaypool.Relay, err error) {
	start := time.Now()
	defer func() { observe(s.Name(), "load", start, err) }()

	var payload []byte
	err = s.read.QueryRowContext(ctx,
		`SELECT payload FROM `+constants.SnapshotTable+` WHERE source = ?`, source).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, noSnapshot(source)
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return decodeSnapshot(source, payload)
}

// Sources lists every source with a stored snapshot.
func (s *SQLiteStore) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT source FROM `+constants.SnapshotTable+` ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.write.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return multierr.Combine(s.read.Close(), s.write.Close())
}
