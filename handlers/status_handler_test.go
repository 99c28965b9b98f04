package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sanoy-si/doom-blocker-backend/services/cache"
	"github.com/sanoy-si/doom-blocker-backend/services/circuitbreaker"
	"github.com/sanoy-si/doom-blocker-backend/services/ratelimit"
	"github.com/sanoy-si/doom-blocker-backend/services/telemetry"
)

func TestHandleRoot(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	HandleRoot(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response RootResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "Doom Blocker Backend API", response.Message)
	assert.Equal(t, "running", response.Status)
	assert.Equal(t, "/fetch_distracting_chunks", response.Endpoints["ai_analysis"])
	assert.Equal(t, "/api/blocked-count", response.Endpoints["blocked_count"])
}

func TestCounterHandler(t *testing.T) {
	newHandler := func() *CounterHandler {
		return NewCounterHandler(telemetry.NewCounter(nil, zap.NewNop()), zap.NewNop())
	}

	report := func(h *CounterHandler, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/report-blocked-items", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.HandleReportBlockedItems(w, req)
		return w
	}

	t.Run("reports accumulate", func(t *testing.T) {
		h := newHandler()

		w := report(h, `{"count":3}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"count":3}`, w.Body.String())

		w = report(h, `{"count":4}`)
		assert.JSONEq(t, `{"success":true,"count":7}`, w.Body.String())

		req := httptest.NewRequest(http.MethodGet, "/api/blocked-count", nil)
		rec := httptest.NewRecorder()
		h.HandleBlockedCount(rec, req)

		var snap telemetry.CounterSnapshot
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
		assert.Equal(t, int64(7), snap.Count)
		assert.WithinDuration(t, time.Now(), snap.LastUpdated, time.Minute)
	})

	tests := []struct {
		name string
		body string
	}{
		{name: "zero count", body: `{"count":0}`},
		{name: "negative count", body: `{"count":-5}`},
		{name: "missing count", body: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name+" is acknowledged without change", func(t *testing.T) {
			h := newHandler()
			report(h, `{"count":2}`)

			w := report(h, tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"success":true,"count":2}`, w.Body.String())
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		w := report(newHandler(), `{"count":"many"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleMetrics(t *testing.T) {
	breakers := circuitbreaker.NewRegistry(3, 30*time.Second)
	breakers.GetBreaker("openai:gpt-4o-mini")
	breakers.GetBreaker("openai:gpt-3.5-turbo")

	store := cache.NewStore(cache.DefaultConfig())
	limiter := ratelimit.NewRateLimitService(ratelimit.DefaultConfig(), zap.NewNop())
	limiter.Admit("203.0.113.7")

	h := NewMetricsHandler(MetricsSources{
		Breakers: breakers,
		Cache:    store,
		Limiter:  limiter,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	w := httptest.NewRecorder()
	h.HandleMetrics(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	list, ok := response["breakers"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 2)
	first := list[0].(map[string]interface{})
	assert.Equal(t, "openai:gpt-3.5-turbo", first["name"])
	assert.Equal(t, "CLOSED", first["state"])

	assert.Contains(t, response, "cache")
	rateLimit := response["rate_limit"].(map[string]interface{})
	assert.Equal(t, float64(1), rateLimit["tracked_identities"])
	assert.NotContains(t, response, "telemetry")
}

func TestHandleMetrics_NoSources(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	w := httptest.NewRecorder()
	NewMetricsHandler(MetricsSources{}).HandleMetrics(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"breakers":[]`)
}
