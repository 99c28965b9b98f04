package cache

import (
	"sync"
	"time"

	"github.com/sanoy-si/doom-blocker-backend/models"
)

// Tier is the physical placement of an entry
type Tier int

const (
	TierCold Tier = iota
	TierWarm
	TierHot
	// TierLegacy holds entries restored from a snapshot until their first hit
	TierLegacy
)

func (t Tier) String() string {
	switch t {
	case TierCold:
		return "cold"
	case TierWarm:
		return "warm"
	case TierHot:
		return "hot"
	case TierLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// lookupOrder is the order Get probes the tiers
var lookupOrder = []Tier{TierHot, TierWarm, TierCold, TierLegacy}

// evictionOrder is the order tiers give up entries under capacity pressure
var evictionOrder = []Tier{TierLegacy, TierCold, TierWarm, TierHot}

// Config holds store limits and tier thresholds
type Config struct {
	MaxEntries    int
	MaxAge        time.Duration
	HotThreshold  int
	WarmThreshold int
}

// DefaultConfig returns 100 entries, 5 minute max age, hot at 10, warm at 3
func DefaultConfig() Config {
	return Config{
		MaxEntries:    100,
		MaxAge:        5 * time.Minute,
		HotThreshold:  10,
		WarmThreshold: 3,
	}
}

// entry is a single cached decision
type entry struct {
	key         string
	decision    models.Decision
	signature   models.Signature
	createdAt   time.Time
	accessCount int
	tier        Tier
}

// Store is a tiered in-memory cache of decisions keyed by request fingerprint.
// Thread-safe implementation using sync.Mutex; every lookup records an access.
type Store struct {
	mu      sync.Mutex
	tiers   map[Tier]map[string]*entry
	history map[string]int // access count per key, kept across evictions

	cfg Config
	now func() time.Time

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
	promotions  uint64
}

// NewStore creates a new Store
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.HotThreshold <= 0 {
		cfg.HotThreshold = def.HotThreshold
	}
	if cfg.WarmThreshold <= 0 {
		cfg.WarmThreshold = def.WarmThreshold
	}

	s := &Store{
		tiers:   make(map[Tier]map[string]*entry, len(lookupOrder)),
		history: make(map[string]int),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, t := range lookupOrder {
		s.tiers[t] = make(map[string]*entry)
	}
	return s
}

// WithClock replaces the time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// placement maps a historical access count to a tier
func (s *Store) placement(accesses int) Tier {
	switch {
	case accesses >= s.cfg.HotThreshold:
		return TierHot
	case accesses >= s.cfg.WarmThreshold:
		return TierWarm
	default:
		return TierCold
	}
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return now.Sub(e.createdAt) >= s.cfg.MaxAge
}

// Get returns the cached decision for key. Entries past max age are removed
// and reported as absent.
func (s *Store) Get(key string) (models.Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, t := range lookupOrder {
		e, ok := s.tiers[t][key]
		if !ok {
			continue
		}
		if s.expired(e, now) {
			delete(s.tiers[t], key)
			s.expirations++
			s.misses++
			return models.Decision{}, false
		}

		e.accessCount++
		s.history[key] = e.accessCount
		s.hits++
		s.relocate(e)
		return e.decision.Clone(), true
	}

	s.misses++
	return models.Decision{}, false
}

// relocate moves e to the tier its access count earns (must be called with lock held)
func (s *Store) relocate(e *entry) {
	target := s.placement(e.accessCount)
	if target == e.tier {
		return
	}
	delete(s.tiers[e.tier], e.key)
	if e.tier != TierLegacy && target > e.tier {
		s.promotions++
	}
	e.tier = target
	s.tiers[target][e.key] = e
}

// Put stores a decision. Placement follows the key's historical access count;
// a never-seen key lands in the cold tier.
func (s *Store) Put(key string, decision models.Decision, sig models.Signature) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(key)

	accesses := s.history[key]
	e := &entry{
		key:         key,
		decision:    decision.Clone(),
		signature:   sig,
		createdAt:   s.now(),
		accessCount: accesses,
		tier:        s.placement(accesses),
	}
	s.tiers[e.tier][key] = e

	s.evictLocked()
	s.trimHistoryLocked()
}

func (s *Store) removeLocked(key string) {
	for _, t := range lookupOrder {
		delete(s.tiers[t], key)
	}
}

func (s *Store) sizeLocked() int {
	n := 0
	for _, t := range lookupOrder {
		n += len(s.tiers[t])
	}
	return n
}

// evictLocked drops the oldest entries, tier by tier in eviction order,
// until the store is back under capacity (must be called with lock held)
func (s *Store) evictLocked() {
	for s.sizeLocked() > s.cfg.MaxEntries {
		victim := s.oldestLocked()
		if victim == nil {
			return
		}
		delete(s.tiers[victim.tier], victim.key)
		s.evictions++
	}
}

func (s *Store) oldestLocked() *entry {
	for _, t := range evictionOrder {
		var oldest *entry
		for _, e := range s.tiers[t] {
			if oldest == nil || e.createdAt.Before(oldest.createdAt) {
				oldest = e
			}
		}
		if oldest != nil {
			return oldest
		}
	}
	return nil
}

// trimHistoryLocked bounds the access history to a multiple of capacity,
// forgetting keys that are no longer cached
func (s *Store) trimHistoryLocked() {
	limit := s.cfg.MaxEntries * 4
	if len(s.history) <= limit {
		return
	}
	for key := range s.history {
		if len(s.history) <= limit {
			return
		}
		if !s.containsLocked(key) {
			delete(s.history, key)
		}
	}
}

func (s *Store) containsLocked(key string) bool {
	for _, t := range lookupOrder {
		if _, ok := s.tiers[t][key]; ok {
			return true
		}
	}
	return false
}

// TierOf reports where key currently lives, without recording an access
func (s *Store) TierOf(key string) (Tier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range lookupOrder {
		if _, ok := s.tiers[t][key]; ok {
			return t, true
		}
	}
	return 0, false
}

// Match is a cached decision whose request resembled the probe
type Match struct {
	Key      string
	Decision models.Decision
	Score    float64
}

// FindSimilar returns the live entry whose signature is most similar to sig,
// provided the score reaches threshold. It does not count as an access.
func (s *Store) FindSimilar(sig models.Signature, threshold float64) (Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *entry
	bestScore := -1.0
	for _, t := range lookupOrder {
		for _, e := range s.tiers[t] {
			if s.expired(e, now) {
				continue
			}
			score := e.signature.Similarity(sig)
			if score >= threshold && score > bestScore {
				best, bestScore = e, score
			}
		}
	}

	if best == nil {
		return Match{}, false
	}
	return Match{Key: best.key, Decision: best.decision.Clone(), Score: bestScore}, true
}

// Clear removes all entries and access history
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range lookupOrder {
		s.tiers[t] = make(map[string]*entry)
	}
	s.history = make(map[string]int)
}

// Len returns the number of entries across all tiers
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeLocked()
}

// CleanupExpired removes all expired entries
// Should be called periodically in a background goroutine
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, t := range lookupOrder {
		for key, e := range s.tiers[t] {
			if s.expired(e, now) {
				delete(s.tiers[t], key)
				removed++
			}
		}
	}
	s.expirations += uint64(removed)
	return removed
}

// StartCleanupWorker starts a background worker to periodically clean up expired entries
func (s *Store) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size        int            `json:"size"`
	MaxSize     int            `json:"max_size"`
	Tiers       map[string]int `json:"tiers"`
	Hits        uint64         `json:"hits"`
	Misses      uint64         `json:"misses"`
	Evictions   uint64         `json:"evictions"`
	Expirations uint64         `json:"expirations"`
	Promotions  uint64         `json:"promotions"`
	HitRate     float64        `json:"hit_rate"`
}

// Stats returns cache statistics
func (s *Store) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	tiers := make(map[string]int, len(lookupOrder))
	for _, t := range lookupOrder {
		tiers[t.String()] = len(s.tiers[t])
	}

	var hitRate float64
	if total := s.hits + s.misses; total > 0 {
		hitRate = float64(s.hits) / float64(total)
	}

	return CacheStats{
		Size:        s.sizeLocked(),
		MaxSize:     s.cfg.MaxEntries,
		Tiers:       tiers,
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
		Expirations: s.expirations,
		Promotions:  s.promotions,
		HitRate:     hitRate,
	}
}
