package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/budget"
	"github.com/JakeFAU/article-harvester/internal/engine"
	"github.com/JakeFAU/article-harvester/internal/metrics"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

type fakeSummary struct {
	summary engine.Summary
	ok      bool
}

func (f fakeSummary) Summary() (engine.Summary, bool) { return f.summary, f.ok }

type fakeBudget []budget.State

func (f fakeBudget) Snapshot() []budget.State { return f }

func newTestServer(summary SummarySource, checks []ReadinessCheck, cfg Config) *Server {
	metrics.Init()
	return NewServer(summary, fakeBudget{{
		ChannelID:         retrieval.ChannelRemoteBrowser,
		SessionsUsedToday: 4,
		Ceiling:           budget.Ceiling{DailySessions: 30},
	}}, checks, cfg, zap.NewNop())
}

func serve(s *Server, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(nil, nil, Config{}), "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	healthy := []ReadinessCheck{{Name: "browser", Check: func(context.Context) error { return nil }}}
	rec := serve(newTestServer(nil, healthy, Config{}), "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	failing := []ReadinessCheck{{Name: "browser", Check: func(context.Context) error { return errors.New("exhausted") }}}
	rec = serve(newTestServer(nil, failing, Config{}), "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "exhausted")
}

func TestServer_Summary(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(fakeSummary{}, nil, Config{}), "/v1/summary", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	summary := engine.Summary{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Statuses:  map[retrieval.TargetStatus]int{retrieval.TargetSuccess: 3},
	}
	rec = serve(newTestServer(fakeSummary{summary: summary, ok: true}, nil, Config{}), "/v1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got engine.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, 3, got.Statuses[retrieval.TargetSuccess])
}

func TestServer_Budget(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(nil, nil, Config{}), "/v1/budget", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"sessions_used_today":4`)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, nil, Config{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, serve(s, "/v1/budget", nil).Code)
	require.Equal(t, http.StatusOK, serve(s, "/v1/budget", http.Header{"X-Api-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusOK, serve(s, "/healthz", nil).Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, nil, Config{})
	serve(s, "/healthz", nil)
	rec := serve(s, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}
