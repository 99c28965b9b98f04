package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/sanoy-si/doom-blocker-backend/models"
	"github.com/sanoy-si/doom-blocker-backend/services/cache"
	"github.com/sanoy-si/doom-blocker-backend/services/circuitbreaker"
	"github.com/sanoy-si/doom-blocker-backend/services/keywords"
	"github.com/sanoy-si/doom-blocker-backend/services/prompt"
	"github.com/sanoy-si/doom-blocker-backend/services/providers"
	"github.com/sanoy-si/doom-blocker-backend/services/sanitizer"
)

// AlternateModelConfig describes the secondary model call
type AlternateModelConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// AlternateModel retries once against a cheaper model with a simplified
// prompt. It runs only for quota failures.
type AlternateModel struct {
	builder prompt.Builder
	client  providers.ModelClient
	breaker *circuitbreaker.CircuitBreaker
	cfg     AlternateModelConfig
}

// NewAlternateModel creates the strategy. breaker may be nil.
func NewAlternateModel(builder prompt.Builder, client providers.ModelClient, breaker *circuitbreaker.CircuitBreaker, cfg AlternateModelConfig) *AlternateModel {
	return &AlternateModel{builder: builder, client: client, breaker: breaker, cfg: cfg}
}

func (s *AlternateModel) Source() models.DecisionSource { return models.SourceAlternateModel }

func (s *AlternateModel) Applies(f Failure) bool { return f == FailureQuota }

func (s *AlternateModel) Attempt(ctx context.Context, req *models.FilterRequest) (Result, error) {
	inv, err := s.builder.BuildSimplified(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build simplified prompt: %w", err)
	}

	call := func(ctx context.Context) (string, error) {
		return s.client.Invoke(ctx, &providers.InvokeRequest{
			Prompt:      inv.Prompt,
			Content:     inv.Content,
			Model:       s.cfg.Model,
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: s.cfg.Temperature,
			Timeout:     s.cfg.Timeout,
		})
	}

	var raw string
	if s.breaker != nil {
		raw, err = circuitbreaker.Do(ctx, s.breaker, call)
	} else {
		raw, err = call(ctx)
	}
	if err != nil {
		return Result{}, err
	}

	ids := sanitizer.Sanitize(raw, inv.ValidIDs)
	if len(ids) == 0 {
		return Result{}, ErrNoResult
	}
	return Result{Decision: models.NewDecision(req.Grid, ids), Model: s.cfg.Model}, nil
}

// SimilarFinder looks up a cached decision by structural similarity
type SimilarFinder interface {
	FindSimilar(sig models.Signature, threshold float64) (cache.Match, bool)
}

// SimilarCache replays the decision of a structurally similar cached request.
// It runs for timeout and connection failures.
type SimilarCache struct {
	finder    SimilarFinder
	threshold float64
}

func NewSimilarCache(finder SimilarFinder, threshold float64) *SimilarCache {
	return &SimilarCache{finder: finder, threshold: threshold}
}

func (s *SimilarCache) Source() models.DecisionSource { return models.SourceSimilarCache }

func (s *SimilarCache) Applies(f Failure) bool { return f == FailureTimeout }

func (s *SimilarCache) Attempt(_ context.Context, req *models.FilterRequest) (Result, error) {
	match, ok := s.finder.FindSimilar(req.Grid.Signature(), s.threshold)
	if !ok {
		return Result{}, ErrNoResult
	}
	// ids from another request only count where they exist in this one
	decision := match.Decision.Restrict(req.Grid)
	if decision.IsEmpty() {
		return Result{}, ErrNoResult
	}
	return Result{Decision: decision, Score: match.Score}, nil
}

// KeywordRules applies the deterministic keyword filter. As a cascade step it
// runs when the breaker is open; it is also the final fallback.
type KeywordRules struct {
	rules *keywords.Rules
}

func NewKeywordRules(rules *keywords.Rules) *KeywordRules {
	return &KeywordRules{rules: rules}
}

func (s *KeywordRules) Source() models.DecisionSource { return models.SourceKeywordRules }

func (s *KeywordRules) Applies(f Failure) bool { return f == FailureCircuitOpen }

func (s *KeywordRules) Attempt(_ context.Context, req *models.FilterRequest) (Result, error) {
	return Result{Decision: s.rules.Filter(req)}, nil
}
