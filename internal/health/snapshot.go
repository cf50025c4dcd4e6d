package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"veilleur/internal/core"
	"veilleur/internal/logger"
)

// Snapshot is the on-disk mirror of the health store. Fields are additive
// only; readers tolerate unknown keys.
type Snapshot struct {
	LastUpdated time.Time                    `json:"last_updated"`
	Sources     map[string]core.SourceHealth `json:"sources"`
	Blacklist   []string                     `json:"blacklist"`
}

// Snapshotter mirrors the health store to a JSON file on a fixed cadence
// and once more on shutdown.
type Snapshotter struct {
	store    Store
	path     string
	interval time.Duration
}

// NewSnapshotter creates a snapshotter writing to path every interval.
func NewSnapshotter(store Store, path string, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Snapshotter{store: store, path: path, interval: interval}
}

// Run writes snapshots until the context is cancelled, then writes a final
// one. Write failures are logged, never fatal: the primary store still holds
// the truth.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Write(context.Background()); err != nil {
				logger.Warn("Final health snapshot failed", "error", err.Error())
			}
			return
		case <-ticker.C:
			if err := s.Write(ctx); err != nil {
				logger.Warn("Health snapshot failed", "error", err.Error())
			}
		}
	}
}

// Write dumps the current store state to disk atomically.
func (s *Snapshotter) Write(ctx context.Context) error {
	records, err := s.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read health records: %w", err)
	}
	blacklist, err := s.store.Blacklisted(ctx)
	if err != nil {
		return fmt.Errorf("failed to read blacklist: %w", err)
	}

	snap := Snapshot{
		LastUpdated: time.Now().UTC(),
		Sources:     make(map[string]core.SourceHealth, len(records)),
		Blacklist:   blacklist,
	}
	if snap.Blacklist == nil {
		snap.Blacklist = []string{}
	}
	for _, h := range records {
		snap.Sources[h.Domain] = h
	}

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot file. A missing file returns an empty
// snapshot, not an error.
func LoadSnapshot(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Snapshot{Sources: map[string]core.SourceHealth{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", path, err)
	}
	if snap.Sources == nil {
		snap.Sources = map[string]core.SourceHealth{}
	}
	return &snap, nil
}

// StoreFromSnapshot builds an in-memory store seeded from a snapshot file.
// Used when the primary store is unreachable at startup.
func StoreFromSnapshot(path string) (*MemoryStore, error) {
	snap, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	store := NewMemoryStore()
	store.Seed(snap.Sources, snap.Blacklist)
	return store, nil
}
