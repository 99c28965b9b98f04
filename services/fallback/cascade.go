// Package fallback runs degraded strategies when the primary model call
// fails or is refused.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sanoy-si/doom-blocker-backend/models"
)

// ErrNoResult is returned by a strategy that ran but has nothing to offer
var ErrNoResult = errors.New("strategy produced no result")

// Result is a decision produced by a strategy
type Result struct {
	Decision models.Decision
	Source   models.DecisionSource
	Model    string  // set by model-backed strategies
	Score    float64 // set by similarity-based strategies
}

// Strategy is one degraded way to reach a decision
type Strategy interface {
	Source() models.DecisionSource
	// Applies reports whether the strategy should run for this failure
	Applies(f Failure) bool
	Attempt(ctx context.Context, req *models.FilterRequest) (Result, error)
}

// Attempt records one strategy run, for logging and telemetry
type Attempt struct {
	Source models.DecisionSource
	Err    error
}

// Outcome is the result of running the cascade
type Outcome struct {
	Result
	Failure  Failure
	Attempts []Attempt
	// Final is true when the unconditional last resort produced the result
	Final bool
}

// Cascade tries strategies in priority order; the first success wins. When
// none applies or all fail, the final strategy runs unconditionally.
type Cascade struct {
	strategies []Strategy
	final      Strategy
	logger     *zap.Logger
}

func NewCascade(final Strategy, logger *zap.Logger, strategies ...Strategy) *Cascade {
	return &Cascade{
		strategies: strategies,
		final:      final,
		logger:     logger,
	}
}

// Run never fails. cause is the primary-call error that triggered it.
func (c *Cascade) Run(ctx context.Context, req *models.FilterRequest, cause error) Outcome {
	failure := Classify(cause)
	out := Outcome{Failure: failure}

	for _, s := range c.strategies {
		if !s.Applies(failure) {
			continue
		}

		res, err := safeAttempt(ctx, s, req)
		out.Attempts = append(out.Attempts, Attempt{Source: s.Source(), Err: err})
		if err == nil {
			c.logger.Info("fallback strategy succeeded",
				zap.String("request_id", req.RequestID),
				zap.String("strategy", string(s.Source())),
				zap.String("failure", failure.String()),
				zap.Int("hidden", res.Decision.HiddenCount()),
			)
			out.Result = res
			return out
		}

		level := c.logger.Warn
		if errors.Is(err, ErrNoResult) {
			level = c.logger.Debug
		}
		level("fallback strategy did not produce a decision",
			zap.String("request_id", req.RequestID),
			zap.String("strategy", string(s.Source())),
			zap.Error(err),
		)
	}

	res, err := safeAttempt(ctx, c.final, req)
	out.Attempts = append(out.Attempts, Attempt{Source: c.final.Source(), Err: err})
	out.Final = true
	if err != nil {
		c.logger.Error("final fallback failed, hiding nothing",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		out.Result = Result{Source: c.final.Source()}
		return out
	}
	out.Result = res
	return out
}

// Final runs only the last-resort strategy
func (c *Cascade) Final(ctx context.Context, req *models.FilterRequest) (Result, error) {
	return safeAttempt(ctx, c.final, req)
}

// safeAttempt converts a panic inside a strategy into an error
func safeAttempt(ctx context.Context, s Strategy, req *models.FilterRequest) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("strategy %s panicked: %v", s.Source(), r)
		}
	}()
	res, err = s.Attempt(ctx, req)
	if err == nil {
		res.Source = s.Source()
	}
	return res, err
}
