package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds the admission budget
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultConfig returns 3000 requests per hour
func DefaultConfig() Config {
	return Config{
		Window:      time.Hour,
		MaxRequests: 3000,
	}
}

// RateLimitResult represents the result of an admission check
type RateLimitResult struct {
	Allowed           bool
	Count             int
	Limit             int
	RequestsRemaining int
	ResetAt           time.Time
}

// Stats is a snapshot of limiter state for health reporting
type Stats struct {
	TrackedIdentities int           `json:"tracked_identities"`
	LastReset         time.Time     `json:"last_reset"`
	Window            time.Duration `json:"window"`
	MaxRequests       int           `json:"max_requests"`
}

// RateLimitService counts requests per identity. All counters are cleared
// together once the window has elapsed since the last process-wide reset.
type RateLimitService struct {
	mu        sync.Mutex
	counts    map[string]int
	lastReset time.Time

	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(cfg Config, logger *zap.Logger) *RateLimitService {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultConfig().MaxRequests
	}
	return &RateLimitService{
		counts:    make(map[string]int),
		lastReset: time.Now(),
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *RateLimitService) WithClock(now func() time.Time) *RateLimitService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.lastReset = now()
	return s
}

// Admit increments and returns the identity's count for the current window.
// It never blocks on anything but the counter lock.
func (s *RateLimitService) Admit(identity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(identity)
}

// CheckLimit admits the identity and reports whether it is within budget.
// The count and reset time come from the same window.
func (s *RateLimitService) CheckLimit(identity string) RateLimitResult {
	s.mu.Lock()
	count := s.admitLocked(identity)
	resetAt := s.lastReset.Add(s.cfg.Window)
	s.mu.Unlock()

	remaining := s.cfg.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitResult{
		Allowed:           count <= s.cfg.MaxRequests,
		Count:             count,
		Limit:             s.cfg.MaxRequests,
		RequestsRemaining: remaining,
		ResetAt:           resetAt,
	}
}

func (s *RateLimitService) admitLocked(identity string) int {
	s.resetIfNeededLocked(s.now())
	s.counts[identity]++
	return s.counts[identity]
}

func (s *RateLimitService) resetIfNeededLocked(now time.Time) bool {
	if now.Sub(s.lastReset) < s.cfg.Window {
		return false
	}
	s.counts = make(map[string]int)
	s.lastReset = now
	return true
}

// Reset clears all counters if the window has elapsed
func (s *RateLimitService) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetIfNeededLocked(s.now())
}

// Stats returns a snapshot of the limiter
func (s *RateLimitService) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		TrackedIdentities: len(s.counts),
		LastReset:         s.lastReset,
		Window:            s.cfg.Window,
		MaxRequests:       s.cfg.MaxRequests,
	}
}

// StartResetWorker starts a background worker that releases counters of idle
// windows even when no request arrives to trigger the lazy reset
func (s *RateLimitService) StartResetWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit reset worker",
		zap.Duration("interval", interval),
		zap.Duration("window", s.cfg.Window))

	for {
		select {
		case <-ticker.C:
			if s.Reset() {
				s.logger.Debug("rate limit window reset")
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit reset worker")
			return
		}
	}
}
