package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sanoy-si/doom-blocker-backend/auth"
	"github.com/sanoy-si/doom-blocker-backend/config"
	"github.com/sanoy-si/doom-blocker-backend/handlers"
	"github.com/sanoy-si/doom-blocker-backend/middleware"
	"github.com/sanoy-si/doom-blocker-backend/repositories"
	"github.com/sanoy-si/doom-blocker-backend/repositories/postgres"
	"github.com/sanoy-si/doom-blocker-backend/services/cache"
	"github.com/sanoy-si/doom-blocker-backend/services/circuitbreaker"
	"github.com/sanoy-si/doom-blocker-backend/services/fallback"
	"github.com/sanoy-si/doom-blocker-backend/services/filter"
	"github.com/sanoy-si/doom-blocker-backend/services/keywords"
	"github.com/sanoy-si/doom-blocker-backend/services/prompt"
	"github.com/sanoy-si/doom-blocker-backend/services/providers"
	"github.com/sanoy-si/doom-blocker-backend/services/providers/openai"
	"github.com/sanoy-si/doom-blocker-backend/services/ratelimit"
	"github.com/sanoy-si/doom-blocker-backend/services/telemetry"
)

// newRepositoryFactory opens the decision log database. Tests swap it for a
// factory around sqlmock.
var newRepositoryFactory = postgres.NewRepositoryFactory

const (
	rateLimitSweepInterval = time.Minute
	telemetryStopTimeout   = 5 * time.Second
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory (nil without DATABASE_URL)
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	DecisionLogs   repositories.DecisionLogRepository
	BlockedCounter repositories.BlockedCounterRepository
	TxManager      repositories.TransactionManager

	// Pipeline components
	Prompts   *prompt.Service
	Keywords  *keywords.Rules
	Providers *providers.Registry
	Breakers  *circuitbreaker.Registry
	Cache     *cache.Store
	Limiter   *ratelimit.RateLimitService
	Cascade   *fallback.Cascade
	Telemetry *telemetry.Service
	Counter   *telemetry.Counter
	Pipeline  *filter.Pipeline

	// HTTP surface
	AuthMiddleware *middleware.AuthMiddleware
	FilterHandler  *handlers.FilterHandler
	HealthHandler  *handlers.HealthHandler
	CounterHandler *handlers.CounterHandler
	MetricsHandler *handlers.MetricsHandler

	stopWorkers context.CancelFunc
	stopCleanup chan struct{}
	closed      bool
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initPrompts(cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize prompts: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initCache(cfg)
	deps.initLimiter(cfg)

	if err := deps.initTelemetry(ctx, cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := deps.initPipeline(cfg); err != nil {
		_ = deps.Telemetry.Stop(telemetryStopTimeout)
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	deps.initAuth(cfg)
	deps.initHandlers(cfg)
	deps.startWorkers(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("primary_model", cfg.Model.Primary),
		zap.String("alternate_model", cfg.Model.Alternate),
		zap.Bool("openai_configured", cfg.OpenAI.Configured()),
		zap.Bool("decision_logs_persisted", deps.RepoFactory != nil),
		zap.Bool("auth_enabled", deps.AuthMiddleware.Enabled()))
	return deps, nil
}

// initDatabase opens the optional PostgreSQL pool
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Warn("database not configured, decision logs go to the process log only")
		return nil
	}

	factory, err := newRepositoryFactory(*cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.GetDB().PingContext(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

func (d *Dependencies) initRepositories() {
	if d.RepoFactory == nil {
		return
	}

	repos := d.RepoFactory.NewRepositories()
	d.DecisionLogs = repos.DecisionLogs
	d.BlockedCounter = repos.BlockedCounter
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initPrompts loads the prompt catalog and the keyword rules that share its
// related terms table
func (d *Dependencies) initPrompts(cfg *config.Config) error {
	catalog := prompt.DefaultCatalog()
	if cfg.PromptsFile != "" {
		loaded, err := prompt.LoadCatalog(cfg.PromptsFile)
		if err != nil {
			return err
		}
		catalog = loaded
		d.Logger.Info("prompt catalog loaded",
			zap.String("path", cfg.PromptsFile),
			zap.Int("patterns", len(catalog.Prompts)))
	}

	related := catalog.RelatedTerms
	if len(related) == 0 {
		related = keywords.DefaultRelatedTerms()
	}

	d.Prompts = prompt.NewService(catalog, d.Logger)
	d.Keywords = keywords.NewRules(related)
	return nil
}

// initProviders registers the model clients and their breakers
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry()

	adapter := openai.NewOpenAIAdapter(providers.ProviderConfig{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Timeout:        cfg.Model.Timeout,
		ConnectTimeout: cfg.Model.ConnectTimeout,
	})
	if err := registry.Register(adapter); err != nil {
		return err
	}
	if !adapter.Configured() {
		d.Logger.Warn("OpenAI API key not configured, every request is answered by fallbacks")
	}

	for _, model := range []string{cfg.Model.Primary, cfg.Model.Alternate} {
		if _, err := registry.ForModel(model); err != nil {
			return fmt.Errorf("model %q: %w", model, err)
		}
	}

	logger := d.Logger
	d.Breakers = circuitbreaker.NewRegistry(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout).
		OnStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		})
	d.Providers = registry

	d.Logger.Info("providers registered", zap.Strings("providers", registry.List()))
	return nil
}

func (d *Dependencies) initCache(cfg *config.Config) {
	d.Cache = cache.NewStore(cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxAge:        cfg.Cache.MaxAge,
		HotThreshold:  cfg.Cache.HotThreshold,
		WarmThreshold: cfg.Cache.WarmThreshold,
	})

	if cfg.Cache.SnapshotFile == "" {
		return
	}
	restored, err := d.Cache.LoadFile(cfg.Cache.SnapshotFile)
	if err != nil {
		// a bad snapshot only costs a cold start
		d.Logger.Warn("failed to restore cache snapshot",
			zap.String("path", cfg.Cache.SnapshotFile),
			zap.Error(err))
		return
	}
	d.Logger.Info("cache snapshot restored",
		zap.String("path", cfg.Cache.SnapshotFile),
		zap.Int("entries", restored))
}

func (d *Dependencies) initLimiter(cfg *config.Config) {
	d.Limiter = ratelimit.NewRateLimitService(ratelimit.Config{
		Window:      cfg.RateLimit.Window,
		MaxRequests: cfg.RateLimit.MaxRequests,
	}, d.Logger)
}

// breakerName keys breakers per upstream model
func breakerName(provider, model string) string {
	return provider + ":" + model
}

// initPipeline wires the primary call, the fallback cascade and the decision cache
func (d *Dependencies) initPipeline(cfg *config.Config) error {
	primary, err := d.Providers.ForModel(cfg.Model.Primary)
	if err != nil {
		return err
	}
	alternate, err := d.Providers.ForModel(cfg.Model.Alternate)
	if err != nil {
		return err
	}

	rules := fallback.NewKeywordRules(d.Keywords)
	d.Cascade = fallback.NewCascade(rules, d.Logger,
		fallback.NewAlternateModel(d.Prompts, alternate,
			d.Breakers.GetBreaker(breakerName(alternate.Name(), cfg.Model.Alternate)),
			fallback.AlternateModelConfig{
				Model:       cfg.Model.Alternate,
				MaxTokens:   cfg.Model.MaxTokens,
				Temperature: cfg.Model.Temperature,
				Timeout:     cfg.Model.AlternateTimeout,
			}),
		fallback.NewSimilarCache(d.Cache, cfg.Cache.SimilarityThreshold),
		rules,
	)

	d.Pipeline = filter.NewPipeline(
		d.Limiter,
		d.Cache,
		d.Prompts,
		primary,
		d.Breakers.GetBreaker(breakerName(primary.Name(), cfg.Model.Primary)),
		d.Cascade,
		d.Telemetry,
		filter.Config{
			Model:       cfg.Model.Primary,
			MaxTokens:   cfg.Model.MaxTokens,
			Temperature: cfg.Model.Temperature,
			Timeout:     cfg.Model.Timeout,
			ChunkSize:   cfg.Model.ChunkSize,
		},
		d.Logger,
	)
	return nil
}

// initTelemetry starts the decision log writers and seeds the blocked counter
func (d *Dependencies) initTelemetry(ctx context.Context, cfg *config.Config) error {
	defaults := telemetry.DefaultConfig()
	d.Telemetry = telemetry.NewService(d.DecisionLogs, d.TxManager, d.Logger, telemetry.Config{
		BufferSize:    cfg.Telemetry.BufferSize,
		WorkerCount:   cfg.Telemetry.WorkerCount,
		BatchSize:     defaults.BatchSize,
		FlushInterval: defaults.FlushInterval,
		WriteTimeout:  defaults.WriteTimeout,
	})
	if err := d.Telemetry.Start(); err != nil {
		return err
	}

	d.Counter = telemetry.NewCounter(d.BlockedCounter, d.Logger)
	if err := d.Counter.Load(ctx); err != nil {
		// the counter restarts from zero rather than blocking startup
		d.Logger.Warn("failed to load blocked counter", zap.Error(err))
	}
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.Auth.Enabled() {
		d.Logger.Warn("API_AUTH_KEY not set, filter endpoint is unauthenticated")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, d.Logger)
		return
	}

	tokens := auth.NewTokenService(auth.Config{
		Secret: cfg.Auth.APIKey,
		Issuer: cfg.Auth.Issuer,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(tokens, d.Logger)
	d.Logger.Info("bearer token auth enabled", zap.String("issuer", cfg.Auth.Issuer))
}

func (d *Dependencies) initHandlers(cfg *config.Config) {
	var sqlDB *sql.DB
	if d.DB != nil {
		sqlDB = d.DB.DB
	}

	d.FilterHandler = handlers.NewFilterHandler(d.Pipeline, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(sqlDB, cfg.OpenAI.Configured(), d.Logger)
	d.CounterHandler = handlers.NewCounterHandler(d.Counter, d.Logger)
	d.MetricsHandler = handlers.NewMetricsHandler(handlers.MetricsSources{
		Breakers:  d.Breakers,
		Cache:     d.Cache,
		Limiter:   d.Limiter,
		Telemetry: d.Telemetry,
	})
}

// startWorkers launches the cache sweeper and the rate limit window sweeper
func (d *Dependencies) startWorkers(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	d.stopWorkers = cancel
	d.stopCleanup = make(chan struct{})

	interval := cfg.Cache.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go d.Cache.StartCleanupWorker(interval, d.stopCleanup)
	go d.Limiter.StartResetWorker(ctx, rateLimitSweepInterval)
}

func (d *Dependencies) closeDatabase() {
	if d.RepoFactory != nil {
		_ = d.RepoFactory.Close()
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.Logger.Info("shutting down dependencies")

	var errs error

	if d.stopWorkers != nil {
		d.stopWorkers()
	}
	if d.stopCleanup != nil {
		close(d.stopCleanup)
	}

	// drain queued decision logs before the pool goes away
	if d.Telemetry != nil {
		timeout := telemetryStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Telemetry.Stop(timeout); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to stop telemetry: %w", err))
		}
	}

	if d.Cache != nil && d.Config.Cache.SnapshotFile != "" {
		if err := d.Cache.SaveFile(d.Config.Cache.SnapshotFile); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to save cache snapshot: %w", err))
		} else {
			d.Logger.Info("cache snapshot saved", zap.String("path", d.Config.Cache.SnapshotFile))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errs
}
