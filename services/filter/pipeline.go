// Package filter decides which page items to hide for a request.
//
// Decide runs admission, the decision cache, the primary model call behind a
// circuit breaker, and the fallback cascade, in that order:
//
//	decision, err := pipeline.Decide(ctx, req)
//	if services.IsRateLimitError(err) {
//	    // 429
//	}
package filter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanoy-si/doom-blocker-backend/models"
	"github.com/sanoy-si/doom-blocker-backend/services"
	"github.com/sanoy-si/doom-blocker-backend/services/cache"
	"github.com/sanoy-si/doom-blocker-backend/services/circuitbreaker"
	"github.com/sanoy-si/doom-blocker-backend/services/fallback"
	"github.com/sanoy-si/doom-blocker-backend/services/prompt"
	"github.com/sanoy-si/doom-blocker-backend/services/providers"
	"github.com/sanoy-si/doom-blocker-backend/services/ratelimit"
	"github.com/sanoy-si/doom-blocker-backend/services/sanitizer"
)

// Admitter counts requests per identity against its budget
type Admitter interface {
	CheckLimit(identity string) ratelimit.RateLimitResult
}

// DecisionCache stores finished decisions by request key
type DecisionCache interface {
	Get(key string) (models.Decision, bool)
	Put(key string, decision models.Decision, sig models.Signature)
}

// Recorder receives one log entry per decision. It must not block.
type Recorder interface {
	Log(log *models.DecisionLog) error
}

// Config holds the primary model invocation parameters
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// ChunkSize splits large grids across several model calls; 0 disables
	ChunkSize int
}

func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   256,
		Temperature: 0.6,
		Timeout:     30 * time.Second,
	}
}

// Pipeline orchestrates a filtering decision
type Pipeline struct {
	limiter  Admitter
	cache    DecisionCache
	builder  prompt.Builder
	client   providers.ModelClient
	breaker  *circuitbreaker.CircuitBreaker
	cascade  *fallback.Cascade
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
}

// NewPipeline creates a pipeline. recorder may be nil.
func NewPipeline(
	limiter Admitter,
	decisionCache DecisionCache,
	builder prompt.Builder,
	client providers.ModelClient,
	breaker *circuitbreaker.CircuitBreaker,
	cascade *fallback.Cascade,
	recorder Recorder,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Pipeline{
		limiter:  limiter,
		cache:    decisionCache,
		builder:  builder,
		client:   client,
		breaker:  breaker,
		cascade:  cascade,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
}

// resolution is the decision plus what produced it
type resolution struct {
	decision models.Decision
	source   models.DecisionSource
	model    string
	failure  string
}

// Decide returns the items to hide. Only admission and internal failures are
// returned as errors; model failures are absorbed by the fallback cascade.
//
// Work started for a caller that goes away is finished and cached, but the
// caller gets ctx.Err() instead of the decision.
func (p *Pipeline) Decide(ctx context.Context, req *models.FilterRequest) (models.Decision, error) {
	start := time.Now()

	// Step 1: admission
	p.logger.Debug("step 1: admitting request", zap.String("request_id", req.RequestID))
	if admission := p.limiter.CheckLimit(req.Identity); !admission.Allowed {
		p.logger.Warn("rate limit exceeded",
			zap.String("request_id", req.RequestID),
			zap.String("identity", req.Identity),
			zap.Int("count", admission.Count),
			zap.Int("limit", admission.Limit),
			zap.Time("reset_at", admission.ResetAt))
		return models.Decision{}, services.NewAdmissionDeniedError(admission.Count, admission.Limit).
			WithDetail("reset_at", admission.ResetAt.UTC().Format(time.RFC3339))
	}

	// Step 2: cache
	key, err := cache.KeyFor(req)
	if err != nil {
		p.logger.Error("failed to compute cache key", zap.String("request_id", req.RequestID), zap.Error(err))
		return models.Decision{}, services.NewInternalError("failed to compute cache key", err)
	}
	p.logger.Debug("step 2: checking cache",
		zap.String("request_id", req.RequestID),
		zap.String("cache_key", key[:8]))

	if decision, ok := p.cache.Get(key); ok {
		p.record(req, key, resolution{decision: decision, source: models.SourceCache}, start)
		return decision, nil
	}

	type result struct {
		res resolution
		err error
	}
	done := make(chan result, 1)
	detached := context.WithoutCancel(ctx)

	go func() {
		var r result
		defer func() {
			if rec := recover(); rec != nil {
				p.logger.Error("pipeline panicked",
					zap.String("request_id", req.RequestID),
					zap.Any("panic", rec))
				r = result{err: services.NewInternalError("decision failed", fmt.Errorf("panic: %v", rec))}
			}
			done <- r
		}()

		r.res = p.resolve(detached, req)

		// Step 7: cache the final decision
		p.logger.Debug("step 7: caching decision", zap.String("request_id", req.RequestID))
		p.cache.Put(key, r.res.decision, req.Grid.Signature())
		p.record(req, key, r.res, start)
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return models.Decision{}, r.err
		}
		if err := ctx.Err(); err != nil {
			return models.Decision{}, err
		}
		return r.res.decision, nil
	case <-ctx.Done():
		p.logger.Info("caller went away, decision will still be cached",
			zap.String("request_id", req.RequestID),
			zap.Error(ctx.Err()))
		return models.Decision{}, ctx.Err()
	}
}

// resolve runs steps 3 to 6 and always produces a decision
func (p *Pipeline) resolve(ctx context.Context, req *models.FilterRequest) resolution {
	// Steps 3 and 4: build the invocation and call the primary model
	p.logger.Debug("step 3: calling primary model",
		zap.String("request_id", req.RequestID),
		zap.String("model", p.cfg.Model))

	decision, err := p.primary(ctx, req)
	if err != nil {
		// Step 6: fallback cascade
		p.logger.Warn("primary model call failed, running fallback cascade",
			zap.String("request_id", req.RequestID),
			zap.Error(err))

		out := p.cascade.Run(ctx, req, err)
		res := resolution{
			decision: out.Decision,
			source:   out.Source,
			model:    out.Model,
			failure:  out.Failure.String(),
		}
		if res.source == "" {
			res.source = models.SourceKeywordRules
		}
		return res
	}

	// Step 5: an empty answer from the model is not trusted
	if decision.IsEmpty() {
		p.logger.Debug("step 5: model hid nothing, applying keyword safety net",
			zap.String("request_id", req.RequestID))

		safety, err := p.cascade.Final(ctx, req)
		if err != nil {
			p.logger.Error("keyword safety net failed", zap.String("request_id", req.RequestID), zap.Error(err))
		} else if !safety.Decision.IsEmpty() {
			return resolution{decision: safety.Decision, source: safety.Source}
		}
	}

	return resolution{decision: decision, source: models.SourcePrimary, model: p.cfg.Model}
}

// primary asks the primary model, splitting large grids into chunks. The
// whole fan-out is one breaker call and any chunk failure fails it.
func (p *Pipeline) primary(ctx context.Context, req *models.FilterRequest) (models.Decision, error) {
	parts, err := prompt.SplitGrid(req.Grid, p.cfg.ChunkSize)
	if err != nil {
		return models.Decision{}, err
	}

	invocations := make([]prompt.Invocation, len(parts))
	for i, part := range parts {
		chunk := *req
		chunk.Grid = part
		if invocations[i], err = p.builder.Build(&chunk); err != nil {
			return models.Decision{}, fmt.Errorf("failed to build prompt: %w", err)
		}
	}
	if len(invocations) > 1 {
		p.logger.Debug("splitting grid into chunks",
			zap.String("request_id", req.RequestID),
			zap.Int("chunks", len(invocations)))
	}

	return circuitbreaker.Do(ctx, p.breaker, func(ctx context.Context) (models.Decision, error) {
		if len(invocations) == 1 {
			return p.invoke(ctx, req, invocations[0])
		}
		return p.fanOut(ctx, req, invocations)
	})
}

// fanOut sends every chunk concurrently and merges the answers
func (p *Pipeline) fanOut(ctx context.Context, req *models.FilterRequest, invocations []prompt.Invocation) (models.Decision, error) {
	decisions := make([]models.Decision, len(invocations))
	errs := make([]error, len(invocations))
	var wg sync.WaitGroup
	for i, inv := range invocations {
		wg.Add(1)
		go func(i int, inv prompt.Invocation) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					errs[i] = fmt.Errorf("chunk panicked: %v", rec)
				}
			}()
			decisions[i], errs[i] = p.invoke(ctx, req, inv)
		}(i, inv)
	}
	wg.Wait()

	var merged models.Decision
	for i := range invocations {
		if errs[i] != nil {
			return models.Decision{}, fmt.Errorf("chunk %d of %d: %w", i+1, len(invocations), errs[i])
		}
		merged = merged.Merge(decisions[i])
	}
	return merged, nil
}

// invoke sends one prompt to the primary model
func (p *Pipeline) invoke(ctx context.Context, req *models.FilterRequest, inv prompt.Invocation) (models.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	raw, err := p.client.Invoke(ctx, &providers.InvokeRequest{
		Prompt:      inv.Prompt,
		Content:     inv.Content,
		Model:       p.cfg.Model,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		Timeout:     p.cfg.Timeout,
	})
	if err != nil {
		return models.Decision{}, err
	}

	report := sanitizer.Inspect(raw, inv.ValidIDs)
	if len(report.Unknown) > 0 {
		p.logger.Debug("model returned unknown ids",
			zap.String("request_id", req.RequestID),
			zap.Strings("unknown", report.Unknown))
	}
	return models.NewDecision(req.Grid, report.IDs), nil
}

// record emits the decision log; failures never affect the decision
func (p *Pipeline) record(req *models.FilterRequest, key string, res resolution, start time.Time) {
	latency := time.Since(start)
	p.logger.Info("decision made",
		zap.String("request_id", req.RequestID),
		zap.String("source", string(res.source)),
		zap.Int("hidden", res.decision.HiddenCount()),
		zap.Duration("latency", latency))

	if p.recorder == nil {
		return
	}
	log := models.NewDecisionLog(req, key, res.source, res.decision.HiddenCount()).
		WithModel(res.model).
		WithPlatform(prompt.DetectPlatform(req.URL)).
		WithLatency(latency).
		WithErrorKind(res.failure)
	if err := p.recorder.Log(log); err != nil {
		p.logger.Debug("decision log not recorded", zap.String("request_id", req.RequestID), zap.Error(err))
	}
}
