package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sanoy-si/doom-blocker-backend/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// DecisionLogRepository handles decision log data operations
type DecisionLogRepository interface {
	// Insert inserts a new decision log entry
	Insert(ctx context.Context, log *models.DecisionLog) error

	// InsertBatch inserts several entries; callers wrap it in a transaction
	InsertBatch(ctx context.Context, logs []*models.DecisionLog) error

	// GetByID retrieves a decision log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.DecisionLog, error)

	// ListRecent retrieves the newest decision logs
	ListRecent(ctx context.Context, limit int) ([]*models.DecisionLog, error)

	// CountBySource counts decisions per source created at or after since
	CountBySource(ctx context.Context, since time.Time) (map[models.DecisionSource]int64, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) DecisionLogRepository
}

// BlockedCounterRepository persists the process-wide blocked items counter
type BlockedCounterRepository interface {
	// Add increments the counter and returns the new total
	Add(ctx context.Context, n int64) (int64, time.Time, error)

	// Get returns the current total and when it last changed
	Get(ctx context.Context) (int64, time.Time, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	DecisionLogs   DecisionLogRepository
	BlockedCounter BlockedCounterRepository
}
