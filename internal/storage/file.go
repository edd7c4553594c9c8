package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/logger"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"go.uber.org/zap"
)

// FileStore keeps one JSON snapshot file per source in a directory.
type FileStore struct {
	dir string
}

var _ Backend = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Name() string { return "file" }

// Path returns the snapshot file of source.
func (s *FileStore) Path(source string) (string, error) {
	if source == "" || strings.ContainsAny(source, `/\`) || source == "." || source == ".." {
		return "", fmt.Errorf("source %q is not usable as a file name", source)
	}
	return filepath.Join(s.dir, constants.SnapshotFilePrefix+source+constants.SnapshotFileExt), nil
}

// Save writes the snapshot to a temp file and renames it over the old one,
// so readers never see a partial file.
func (s *FileStore) Save(ctx context.Context, source string, relays []relaypool.Relay) (err error) {
	start := time.Now()
	defer func() { observe(s.Name(), "save", start, err) }()

	if err = ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(source)
	if err != nil {
		return err
	}
	data, err := encodeSnapshot(source, relays, time.Now())
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	logger.Debug("Snapshot written",
		zap.String("source", source),
		zap.String("path", path),
		zap.Int("relays", len(relays)))
	return nil
}

// Load reads the snapshot of source.
func (s *FileStore) Load(ctx context.Context, source string) (relays []relaypool.Relay, err error) {
	start := time.Now()
	defer func() { observe(s.Name(), "load", start, err) }()

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path(source)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, noSnapshot(source)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return decodeSnapshot(source, data)
}

// Sources lists the sources that have a snapshot file.
func (s *FileStore) Sources(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, constants.SnapshotFilePrefix+"*"+constants.SnapshotFileExt))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), constants.SnapshotFilePrefix), constants.SnapshotFileExt)
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Ping checks the directory is still there and writable.
func (s *FileStore) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	f, err := os.CreateTemp(s.dir, ".ping.*")
	if err != nil {
		return fmt.Errorf("snapshot dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (s *FileStore) Close() error { return nil }
