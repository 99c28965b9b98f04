package models

import (
	"time"

	"github.com/google/uuid"
)

// DecisionSource identifies which path produced a decision
type DecisionSource string

const (
	SourcePrimary        DecisionSource = "primary"
	SourceAlternateModel DecisionSource = "alternate_model"
	SourceSimilarCache   DecisionSource = "similar_cache"
	SourceKeywordRules   DecisionSource = "keyword_rules"
	SourceCache          DecisionSource = "cache"
)

// DecisionLog records one filtering decision for later analysis
type DecisionLog struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	RequestID   string         `json:"request_id" db:"request_id"`
	VisitorID   string         `json:"visitor_id" db:"visitor_id"`
	Identity    string         `json:"identity" db:"identity"`
	URL         string         `json:"url" db:"url"`
	Platform    string         `json:"platform" db:"platform"`
	CacheKey    string         `json:"cache_key" db:"cache_key"`
	Source      DecisionSource `json:"source" db:"source"`
	Model       *string        `json:"model,omitempty" db:"model"`
	HiddenCount int            `json:"hidden_count" db:"hidden_count"`
	LatencyMs   int            `json:"latency_ms" db:"latency_ms"`
	ErrorKind   *string        `json:"error_kind,omitempty" db:"error_kind"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the DecisionLog model
func (DecisionLog) TableName() string {
	return "decision_logs"
}

// NewDecisionLog creates a new DecisionLog stamped with the current time
func NewDecisionLog(req *FilterRequest, cacheKey string, source DecisionSource, hidden int) *DecisionLog {
	log := &DecisionLog{
		ID:          uuid.New(),
		CacheKey:    cacheKey,
		Source:      source,
		HiddenCount: hidden,
		CreatedAt:   time.Now().UTC(),
	}
	if req != nil {
		log.RequestID = req.RequestID
		log.VisitorID = req.VisitorID
		log.Identity = req.Identity
		log.URL = req.URL
	}
	return log
}

// WithModel sets the model that produced the decision
func (l *DecisionLog) WithModel(model string) *DecisionLog {
	if model != "" {
		l.Model = &model
	}
	return l
}

// WithLatency sets the end-to-end latency
func (l *DecisionLog) WithLatency(d time.Duration) *DecisionLog {
	l.LatencyMs = int(d.Milliseconds())
	return l
}

// WithPlatform sets the detected platform
func (l *DecisionLog) WithPlatform(platform string) *DecisionLog {
	l.Platform = platform
	return l
}

// WithErrorKind records the failure that led to a degraded decision
func (l *DecisionLog) WithErrorKind(kind string) *DecisionLog {
	if kind != "" {
		l.ErrorKind = &kind
	}
	return l
}
