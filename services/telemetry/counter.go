package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/sanoy-si/doom-blocker-backend/repositories"
	"go.uber.org/zap"
)

// CounterSnapshot is the blocked items total at a point in time
type CounterSnapshot struct {
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Counter tracks how many items clients report as hidden. It is kept in
// memory and mirrored to the repository when one is configured.
type Counter struct {
	mu      sync.Mutex
	count   int64
	updated time.Time
	repo    repositories.BlockedCounterRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewCounter(repo repositories.BlockedCounterRepository, logger *zap.Logger) *Counter {
	return &Counter{
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		updated: time.Now().UTC(),
	}
}

// Load seeds the in-memory total from the repository
func (c *Counter) Load(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	total, updated, err := c.repo.Get(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = total
	if !updated.IsZero() {
		c.updated = updated
	}
	return nil
}

// Add increments the total by n. Non-positive n leaves it unchanged.
// A repository failure is logged and the in-memory total still advances.
func (c *Counter) Add(ctx context.Context, n int64) CounterSnapshot {
	if n <= 0 {
		return c.Snapshot()
	}

	c.mu.Lock()
	c.count += n
	c.updated = c.now().UTC()
	snap := CounterSnapshot{Count: c.count, LastUpdated: c.updated}
	c.mu.Unlock()

	c.logger.Info("blocked items counter updated", zap.Int64("count", snap.Count), zap.Int64("added", n))

	if c.repo != nil {
		if _, _, err := c.repo.Add(ctx, n); err != nil {
			c.logger.Error("failed to persist blocked items counter", zap.Error(err))
		}
	}
	return snap
}

func (c *Counter) Snapshot() CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CounterSnapshot{Count: c.count, LastUpdated: c.updated}
}
