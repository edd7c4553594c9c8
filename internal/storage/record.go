package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
)

// snapshotRecord is the on-disk form of one pool. Every backend stores the
// same document so snapshots can move between them.
type snapshotRecord struct {
	Version int           `json:"version"`
	Source  string        `json:"source"`
	SavedAt time.Time     `json:"saved_at"`
	Relays  []relayRecord `json:"relays"`
}

type relayRecord struct {
	Address     string     `json:"address"`
	Port        int        `json:"port"`
	Source      string     `json:"source"`
	Kind        string     `json:"kind,omitempty"`
	AvailableAt *time.Time `json:"available_at,omitempty"`
	Failures    int        `json:"failures"`
}

// encodeSnapshot serializes relays for source.
func encodeSnapshot(source string, relays []relaypool.Relay, savedAt time.Time) ([]byte, error) {
	rec := snapshotRecord{
		Version: constants.SnapshotVersion,
		Source:  source,
		SavedAt: savedAt.UTC(),
		Relays:  make([]relayRecord, 0, len(relays)),
	}
	for _, r := range relays {
		rr := relayRecord{
			Address:  r.Address,
			Port:     r.Port,
			Source:   r.Source,
			Kind:     r.Kind,
			Failures: r.Failures,
		}
		if !r.AvailableAt.IsZero() {
			at := r.AvailableAt.UTC()
			rr.AvailableAt = &at
		}
		rec.Relays = append(rec.Relays, rr)
	}
	return json.Marshal(rec)
}

// decodeSnapshot parses a snapshot written by encodeSnapshot and checks it
// belongs to source.
func decodeSnapshot(source string, data []byte) ([]relaypool.Relay, error) {
	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if rec.Version != constants.SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", rec.Version)
	}
	if rec.Source != source {
		return nil, fmt.Errorf("snapshot belongs to source %q, not %q", rec.Source, source)
	}

	relays := make([]relaypool.Relay, 0, len(rec.Relays))
	for i, rr := range rec.Relays {
		if rr.Address == "" || rr.Port < 1 || rr.Port > 65535 {
			return nil, fmt.Errorf("relay %d: invalid endpoint %q:%d", i, rr.Address, rr.Port)
		}
		r := relaypool.Relay{
			Address:  rr.Address,
			Port:     rr.Port,
			Source:   rr.Source,
			Kind:     rr.Kind,
			Failures: rr.Failures,
		}
		if rr.AvailableAt != nil {
			r.AvailableAt = *rr.AvailableAt
		}
		relays = append(relays, r)
	}
	return relays, nil
}
