package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/sanoy-si/doom-blocker-backend/models"
	"github.com/sanoy-si/doom-blocker-backend/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var decisionLogRowColumns = []string{
	"id", "request_id", "visitor_id", "identity", "url", "platform", "cache_key",
	"source", "model", "hidden_count", "latency_ms", "error_kind", "created_at",
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return Wrap(conn, zap.NewNop()), mock
}

func sampleLog() *models.DecisionLog {
	req := &models.FilterRequest{
		URL:       "https://www.youtube.com/",
		Identity:  "203.0.113.7",
		VisitorID: "visitor-1",
		RequestID: "req-1",
	}
	return models.NewDecisionLog(req, "3f2a9c", models.SourcePrimary, 2).
		WithModel("gpt-4o-mini").
		WithPlatform("youtube").
		WithLatency(420 * time.Millisecond)
}

func TestDecisionLogRepository_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("writes every column", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDecisionLogRepository(db, zap.NewNop())
		log := sampleLog()

		mock.ExpectExec("INSERT INTO decision_logs").
			WithArgs(
				log.ID, "req-1", "visitor-1", "203.0.113.7", "https://www.youtube.com/", "youtube",
				"3f2a9c", "primary", "gpt-4o-mini", 2, 420, nil, log.CreatedAt,
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Insert(ctx, log))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDecisionLogRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO decision_logs").WillReturnError(errors.New("connection reset"))

		err := repo.Insert(ctx, sampleLog())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert decision log")
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestDecisionLogRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	created := time.Date(2025, 1, 15, 16, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDecisionLogRepository(db, zap.NewNop())

		rows := sqlmock.NewRows(decisionLogRowColumns).
			AddRow(id.String(), "req-1", nil, "203.0.113.7", "https://x.com/home", "twitter",
				"abc", "keyword_rules", nil, 3, 12, "circuit_open", created)
		mock.ExpectQuery("SELECT (.+) FROM decision_logs WHERE id =").WithArgs(id).WillReturnRows(rows)

		log, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, log.ID)
		assert.Equal(t, "req-1", log.RequestID)
		assert.Empty(t, log.VisitorID)
		assert.Equal(t, models.SourceKeywordRules, log.Source)
		assert.Nil(t, log.Model)
		require.NotNil(t, log.ErrorKind)
		assert.Equal(t, "circuit_open", *log.ErrorKind)
		assert.Equal(t, 3, log.HiddenCount)
		assert.Equal(t, created, log.CreatedAt)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDecisionLogRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT (.+) FROM decision_logs WHERE id =").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(decisionLogRowColumns))

		log, err := repo.GetByID(ctx, id)
		assert.Nil(t, log)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decision log not found")
	})
}

func TestDecisionLogRepository_ListRecent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionLogRepository(db, zap.NewNop())
	now := time.Now().UTC()

	rows := sqlmock.NewRows(decisionLogRowColumns).
		AddRow(uuid.NewString(), "r2", "v", "ip", "u", "generic", "k2", "cache", nil, 0, 1, nil, now).
		AddRow(uuid.NewString(), "r1", "v", "ip", "u", "generic", "k1", "primary", "gpt-4o-mini", 1, 900, nil, now.Add(-time.Minute))
	mock.ExpectQuery("SELECT (.+) FROM decision_logs ORDER BY created_at DESC LIMIT").
		WithArgs(2).
		WillReturnRows(rows)

	logs, err := repo.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.SourceCache, logs[0].Source)
	require.NotNil(t, logs[1].Model)
	assert.Equal(t, "gpt-4o-mini", *logs[1].Model)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecisionLogRepository_CountBySource(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionLogRepository(db, zap.NewNop())
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery("SELECT source, COUNT\\(\\*\\)").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"source", "count"}).
			AddRow("primary", 40).
			AddRow("similar_cache", 2))

	counts, err := repo.CountBySource(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, map[models.DecisionSource]int64{
		models.SourcePrimary:      40,
		models.SourceSimilarCache: 2,
	}, counts)
}

func TestDecisionLogRepository_InsertBatchInTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDecisionLogRepository(db, zap.NewNop())
		txMgr := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO decision_logs").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO decision_logs").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			return repo.InsertBatch(ctx, []*models.DecisionLog{sampleLog(), sampleLog()})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on the first failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDecisionLogRepository(db, zap.NewNop())
		txMgr := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO decision_logs").WillReturnError(errors.New("unique violation"))
		mock.ExpectRollback()

		err := txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			return repo.InsertBatch(ctx, []*models.DecisionLog{sampleLog(), sampleLog()})
		})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("WithTx binds the repository", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDecisionLogRepository(db, zap.NewNop())
		txMgr := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO decision_logs").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := txMgr.Begin(ctx)
		require.NoError(t, err)
		// plain context: the binding comes from WithTx
		require.NoError(t, repo.WithTx(tx).Insert(ctx, sampleLog()))
		require.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBlockedCounterRepository(t *testing.T) {
	ctx := context.Background()
	stamp := time.Date(2025, 1, 15, 16, 0, 0, 0, time.UTC)

	t.Run("Add upserts and returns the total", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBlockedCounterRepository(db, zap.NewNop())

		mock.ExpectQuery("INSERT INTO blocked_counter").
			WithArgs(int64(5), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"total", "updated_at"}).AddRow(12, stamp))

		total, updated, err := repo.Add(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(12), total)
		assert.Equal(t, stamp, updated)
	})

	t.Run("Get reads zero before the first increment", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBlockedCounterRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT total, updated_at FROM blocked_counter").
			WillReturnRows(sqlmock.NewRows([]string{"total", "updated_at"}))

		total, updated, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.True(t, updated.IsZero())
	})
}

func TestDB_SchemaAndHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("InitSchema creates the tables", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS decision_logs").WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, db.InitSchema(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("HealthCheck pings and queries", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		require.NoError(t, db.HealthCheck(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("HealthCheck reports ping failures", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing().WillReturnError(errors.New("refused"))

		err := db.HealthCheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database health check failed")
	})
}
