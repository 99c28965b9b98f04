package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sanoy-si/doom-blocker-backend/models"
	"github.com/sanoy-si/doom-blocker-backend/repositories"
	"go.uber.org/zap"
)

const decisionLogColumns = `id, request_id, visitor_id, identity, url, platform, cache_key,
		       source, model, hidden_count, latency_ms, error_kind, created_at`

// DecisionLogRepository implements repositories.DecisionLogRepository
type DecisionLogRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

func NewDecisionLogRepository(db *DB, logger *zap.Logger) repositories.DecisionLogRepository {
	return &DecisionLogRepository{
		db:     db,
		logger: logger,
	}
}

func (r *DecisionLogRepository) executor(ctx context.Context) Executor {
	if r.tx != nil {
		return r.tx.tx
	}
	return GetExecutor(ctx, r.db)
}

// Insert inserts a new decision log entry
func (r *DecisionLogRepository) Insert(ctx context.Context, log *models.DecisionLog) error {
	query := `
		INSERT INTO decision_logs (
			id, request_id, visitor_id, identity, url, platform, cache_key,
			source, model, hidden_count, latency_ms, error_kind, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.executor(ctx).ExecContext(ctx, query,
		log.ID,
		log.RequestID,
		log.VisitorID,
		log.Identity,
		log.URL,
		log.Platform,
		log.CacheKey,
		log.Source,
		log.Model,
		log.HiddenCount,
		log.LatencyMs,
		log.ErrorKind,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision log: %w", err)
	}

	r.logger.Debug("decision log inserted",
		zap.String("id", log.ID.String()),
		zap.String("source", string(log.Source)))
	return nil
}

// InsertBatch inserts logs one by one, stopping at the first failure
func (r *DecisionLogRepository) InsertBatch(ctx context.Context, logs []*models.DecisionLog) error {
	for _, log := range logs {
		if err := r.Insert(ctx, log); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a decision log by ID
func (r *DecisionLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DecisionLog, error) {
	query := `SELECT ` + decisionLogColumns + ` FROM decision_logs WHERE id = $1`

	log, err := scanDecisionLog(r.executor(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("decision log not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get decision log: %w", err)
	}
	return log, nil
}

// ListRecent retrieves the newest decision logs
func (r *DecisionLogRepository) ListRecent(ctx context.Context, limit int) ([]*models.DecisionLog, error) {
	query := `SELECT ` + decisionLogColumns + ` FROM decision_logs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.executor(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.DecisionLog
	for rows.Next() {
		log, err := scanDecisionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision logs: %w", err)
	}
	return logs, nil
}

// CountBySource counts decisions per source created at or after since
func (r *DecisionLogRepository) CountBySource(ctx context.Context, since time.Time) (map[models.DecisionSource]int64, error) {
	query := `
		SELECT source, COUNT(*)
		FROM decision_logs
		WHERE created_at >= $1
		GROUP BY source
	`

	rows, err := r.executor(ctx).QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count decision logs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DecisionSource]int64)
	for rows.Next() {
		var source models.DecisionSource
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan decision count: %w", err)
		}
		counts[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision counts: %w", err)
	}
	return counts, nil
}

// WithTx returns a repository bound to tx
func (r *DecisionLogRepository) WithTx(tx repositories.Transaction) repositories.DecisionLogRepository {
	bound := &DecisionLogRepository{db: r.db, logger: r.logger}
	if pgTx, ok := tx.(*Transaction); ok {
		bound.tx = pgTx
	}
	return bound
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecisionLog(row rowScanner) (*models.DecisionLog, error) {
	log := &models.DecisionLog{}
	var requestID, visitorID, platform sql.NullString
	err := row.Scan(
		&log.ID,
		&requestID,
		&visitorID,
		&log.Identity,
		&log.URL,
		&platform,
		&log.CacheKey,
		&log.Source,
		&log.Model,
		&log.HiddenCount,
		&log.LatencyMs,
		&log.ErrorKind,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	log.RequestID = requestID.String
	log.VisitorID = visitorID.String
	log.Platform = platform.String
	return log, nil
}
