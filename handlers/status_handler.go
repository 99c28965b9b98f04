package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sanoy-si/doom-blocker-backend/services/cache"
	"github.com/sanoy-si/doom-blocker-backend/services/circuitbreaker"
	"github.com/sanoy-si/doom-blocker-backend/services/ratelimit"
	"github.com/sanoy-si/doom-blocker-backend/services/telemetry"
	"github.com/sanoy-si/doom-blocker-backend/utils"
)

// RootResponse is the service banner served at GET /
type RootResponse struct {
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Endpoints map[string]string `json:"endpoints"`
}

// HandleRoot handles GET /
func HandleRoot(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, RootResponse{
		Message:   "Doom Blocker Backend API",
		Status:    "running",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Endpoints: map[string]string{
			"health":        "/health",
			"docs":          "/docs",
			"blocked_count": "/api/blocked-count",
			"ai_analysis":   "/fetch_distracting_chunks",
		},
	})
}

// BlockedCounter is the process-wide count of items clients report as hidden
type BlockedCounter interface {
	Add(ctx context.Context, n int64) telemetry.CounterSnapshot
	Snapshot() telemetry.CounterSnapshot
}

// ReportBlockedItemsBody is the body of POST /api/report-blocked-items
type ReportBlockedItemsBody struct {
	Count int64 `json:"count"`
}

// ReportBlockedItemsResponse acknowledges a report
type ReportBlockedItemsResponse struct {
	Success bool  `json:"success"`
	Count   int64 `json:"count"`
}

// CounterHandler serves the blocked items counter
type CounterHandler struct {
	counter BlockedCounter
	logger  *zap.Logger
}

func NewCounterHandler(counter BlockedCounter, logger *zap.Logger) *CounterHandler {
	return &CounterHandler{
		counter: counter,
		logger:  logger,
	}
}

// HandleBlockedCount handles GET /api/blocked-count
func (h *CounterHandler) HandleBlockedCount(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.counter.Snapshot())
}

// HandleReportBlockedItems handles POST /api/report-blocked-items.
// Non-positive counts are acknowledged without changing the total.
func (h *CounterHandler) HandleReportBlockedItems(w http.ResponseWriter, r *http.Request) {
	var body ReportBlockedItemsBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	snap := h.counter.Add(r.Context(), body.Count)
	_ = utils.WriteOK(w, ReportBlockedItemsResponse{Success: true, Count: snap.Count})
}

// MetricsSources are the components reported by GET /api/metrics. Any may be nil.
type MetricsSources struct {
	Breakers  *circuitbreaker.Registry
	Cache     *cache.Store
	Limiter   *ratelimit.RateLimitService
	Telemetry *telemetry.Service
}

// MetricsResponse is the operational snapshot served at GET /api/metrics
type MetricsResponse struct {
	Timestamp string                   `json:"timestamp"`
	Breakers  []circuitbreaker.Metrics `json:"breakers"`
	Cache     *cache.CacheStats        `json:"cache,omitempty"`
	RateLimit *ratelimit.Stats         `json:"rate_limit,omitempty"`
	Telemetry *telemetry.Stats         `json:"telemetry,omitempty"`
}

// MetricsHandler serves pipeline component metrics
type MetricsHandler struct {
	sources MetricsSources
}

func NewMetricsHandler(sources MetricsSources) *MetricsHandler {
	return &MetricsHandler{sources: sources}
}

// HandleMetrics handles GET /api/metrics
func (h *MetricsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	response := MetricsResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Breakers:  []circuitbreaker.Metrics{},
	}
	if h.sources.Breakers != nil {
		response.Breakers = h.sources.Breakers.Metrics()
	}
	if h.sources.Cache != nil {
		stats := h.sources.Cache.Stats()
		response.Cache = &stats
	}
	if h.sources.Limiter != nil {
		stats := h.sources.Limiter.Stats()
		response.RateLimit = &stats
	}
	if h.sources.Telemetry != nil {
		stats := h.sources.Telemetry.GetStats()
		response.Telemetry = &stats
	}

	_ = utils.WriteOK(w, response)
}
