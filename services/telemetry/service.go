package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanoy-si/doom-blocker-backend/models"
	"github.com/sanoy-si/doom-blocker-backend/repositories"
	"github.com/sanoy-si/doom-blocker-backend/services"
	"go.uber.org/zap"
)

var (
	ErrNotStarted     = errors.New("telemetry service not started")
	ErrAlreadyStarted = errors.New("telemetry service already started")
	ErrBufferFull     = errors.New("telemetry buffer full")
)

// Service records decision logs in the background. Log never blocks the
// caller; a full buffer drops the entry.
type Service struct {
	repo     repositories.DecisionLogRepository
	txMgr    repositories.TransactionManager
	logger   *zap.Logger
	config   Config
	logChan  chan *models.DecisionLog
	wg       sync.WaitGroup
	mu       sync.RWMutex
	started  bool
	stopped  bool
	written  atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize    int
	WorkerCount   int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:    256,
		WorkerCount:   2,
		BatchSize:     20,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// NewService creates a telemetry service. With a nil repo every entry is
// written to the logger instead; txMgr is optional and groups batch inserts.
func NewService(repo repositories.DecisionLogRepository, txMgr repositories.TransactionManager, logger *zap.Logger, config Config) *Service {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	return &Service{
		repo:    repo,
		txMgr:   txMgr,
		logger:  logger,
		config:  config,
		logChan: make(chan *models.DecisionLog, config.BufferSize),
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started telemetry service",
		zap.Int("worker_count", s.config.WorkerCount),
		zap.Int("buffer_size", s.config.BufferSize),
		zap.Bool("persistent", s.repo != nil))
	return nil
}

// Stop stops accepting entries and waits for queued ones to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	close(s.logChan)
	s.mu.Unlock()

	s.logger.Info("stopping telemetry service", zap.Int("pending", len(s.logChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("telemetry service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("telemetry service stop timeout after %v", timeout)
	}
}

// Log queues an entry without blocking
func (s *Service) Log(log *models.DecisionLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.logChan <- log:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("telemetry buffer full, dropping decision log",
			zap.String("request_id", log.RequestID),
			zap.String("source", string(log.Source)))
		return ErrBufferFull
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("telemetry worker started", zap.Int("worker_id", id))

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*models.DecisionLog, 0, s.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.write(batch); err != nil {
			s.failures.Add(uint64(len(batch)))
			s.logger.Error("failed to write decision logs",
				zap.Int("worker_id", id),
				zap.Int("count", len(batch)),
				zap.Error(err))
		} else {
			s.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case log, ok := <-s.logChan:
			if !ok {
				flush()
				s.logger.Debug("telemetry worker stopped", zap.Int("worker_id", id))
				return
			}
			batch = append(batch, log)
			if len(batch) >= s.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Service) write(batch []*models.DecisionLog) error {
	if s.repo == nil {
		for _, log := range batch {
			s.logger.Info("decision",
				zap.String("request_id", log.RequestID),
				zap.String("visitor_id", log.VisitorID),
				zap.String("url", log.URL),
				zap.String("platform", log.Platform),
				zap.String("source", string(log.Source)),
				zap.Int("hidden", log.HiddenCount),
				zap.Int("latency_ms", log.LatencyMs))
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()

	if s.txMgr == nil || len(batch) == 1 {
		return s.repo.InsertBatch(ctx, batch)
	}
	return services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return s.repo.WithTx(tx).InsertBatch(ctx, batch)
	})
}

// GetStats returns statistics about the service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:  s.config.BufferSize,
		Pending:     len(s.logChan),
		WorkerCount: s.config.WorkerCount,
		Started:     s.started && !s.stopped,
		Persistent:  s.repo != nil,
		Written:     s.written.Load(),
		Dropped:     s.dropped.Load(),
		Failed:      s.failures.Load(),
	}
}

// Stats represents telemetry service statistics
type Stats struct {
	BufferSize  int    `json:"buffer_size"`
	Pending     int    `json:"pending"`
	WorkerCount int    `json:"worker_count"`
	Started     bool   `json:"started"`
	Persistent  bool   `json:"persistent"`
	Written     uint64 `json:"written"`
	Dropped     uint64 `json:"dropped"`
	Failed      uint64 `json:"failed"`
}
