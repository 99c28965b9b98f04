package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sanoy-si/doom-blocker-backend/repositories"
	"go.uber.org/zap"
)

// BlockedCounterRepository keeps the counter in a single-row table
type BlockedCounterRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewBlockedCounterRepository(db *DB, logger *zap.Logger) repositories.BlockedCounterRepository {
	return &BlockedCounterRepository{
		db:     db,
		logger: logger,
	}
}

// Add increments the counter and returns the new total
func (r *BlockedCounterRepository) Add(ctx context.Context, n int64) (int64, time.Time, error) {
	query := `
		INSERT INTO blocked_counter (id, total, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET total = blocked_counter.total + EXCLUDED.total,
		    updated_at = EXCLUDED.updated_at
		RETURNING total, updated_at
	`

	var total int64
	var updatedAt time.Time
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, n, time.Now().UTC()).Scan(&total, &updatedAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment blocked counter: %w", err)
	}

	r.logger.Debug("blocked counter incremented", zap.Int64("added", n), zap.Int64("total", total))
	return total, updatedAt, nil
}

// Get returns the current total; a missing row reads as zero
func (r *BlockedCounterRepository) Get(ctx context.Context) (int64, time.Time, error) {
	query := `SELECT total, updated_at FROM blocked_counter WHERE id = 1`

	var total int64
	var updatedAt time.Time
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query).Scan(&total, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, fmt.Errorf("failed to read blocked counter: %w", err)
	}
	return total, updatedAt, nil
}
