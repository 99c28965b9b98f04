package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sanoy-si/doom-blocker-backend/models"
)

// SnapshotEntry is the persisted form of a cache entry
type SnapshotEntry struct {
	Key         string           `json:"key"`
	Decision    models.Decision  `json:"decision"`
	Signature   models.Signature `json:"signature"`
	CreatedAt   time.Time        `json:"created_at"`
	AccessCount int              `json:"access_count"`
}

// Snapshot returns every live entry
func (s *Store) Snapshot() []SnapshotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]SnapshotEntry, 0, s.sizeLocked())
	for _, t := range lookupOrder {
		for _, e := range s.tiers[t] {
			if s.expired(e, now) {
				continue
			}
			out = append(out, SnapshotEntry{
				Key:         e.key,
				Decision:    e.decision.Clone(),
				Signature:   e.signature,
				CreatedAt:   e.createdAt,
				AccessCount: e.accessCount,
			})
		}
	}
	return out
}

// Restore loads snapshot entries into the legacy tier. Expired entries and
// keys already cached are skipped. Restored entries keep their original age
// and move to a regular tier on their first hit.
func (s *Store) Restore(entries []SnapshotEntry) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	restored := 0
	for _, se := range entries {
		if se.Key == "" || s.containsLocked(se.Key) {
			continue
		}
		e := &entry{
			key:         se.Key,
			decision:    se.Decision.Clone(),
			signature:   se.Signature,
			createdAt:   se.CreatedAt,
			accessCount: se.AccessCount,
			tier:        TierLegacy,
		}
		if s.expired(e, now) {
			continue
		}
		s.tiers[TierLegacy][se.Key] = e
		if se.AccessCount > s.history[se.Key] {
			s.history[se.Key] = se.AccessCount
		}
		restored++
	}

	s.evictLocked()
	return restored
}

// SaveFile writes a snapshot of the store to path as JSON
func (s *Store) SaveFile(path string) error {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal cache snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cache snapshot: %w", err)
	}
	return nil
}

// LoadFile restores a snapshot written by SaveFile. A missing file is not an error.
func (s *Store) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache snapshot: %w", err)
	}

	var entries []SnapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("decode cache snapshot: %w", err)
	}
	return s.Restore(entries), nil
}
