package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/tutorflow/api/handlers"
	"github.com/BaSui01/tutorflow/config"
	"github.com/BaSui01/tutorflow/internal/metrics"
	"github.com/BaSui01/tutorflow/llm"
	"github.com/BaSui01/tutorflow/testutil/fixtures"
	"github.com/BaSui01/tutorflow/testutil/mocks"
	"github.com/BaSui01/tutorflow/tutor"
	"github.com/BaSui01/tutorflow/tutor/persistence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	srv      *Server
	handler  http.Handler
	registry *prometheus.Registry
	primary  *mocks.MockProvider
}

// newTestServer 用内存存储与 mock 模型装配服务器，不打开任何网络后端
func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.RateLimitRPS = 0
	cfg.LLM.Primary.Model = "gpt-4o"
	if mutate != nil {
		mutate(cfg)
	}

	logger := zap.NewNop()
	primary := mocks.NewSuccessProvider(fixtures.TutorReply).WithName("primary")
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("tutorflow", registry, logger)

	store := persistence.NewMemoryStore()
	deps := &Dependencies{
		Store:     store,
		Primary:   primary,
		Secondary: primary,
		logger:    logger,
	}
	factory := newChatFactory(cfg, primary, primary, collector, logger)
	deps.Sessions = tutor.NewManager(store, factory, managerConfig(cfg.Tutor), collector, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := newServer(ctx, cfg, deps, registry, collector, logger)
	return &testServer{srv: srv, handler: srv.handler(ctx), registry: registry, primary: primary}
}

func (ts *testServer) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func TestServer_HealthRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = ts.do(http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ready handlers.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ready))
	assert.Equal(t, "healthy", ready.Status)
	assert.Contains(t, ready.Checks, "store")
	assert.Contains(t, ready.Checks, "llm")
	assert.NotContains(t, ready.Checks, "redis")

	w = ts.do(http.MethodGet, "/version", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), Version)
}

func TestServer_ReadyFailsWhenModelUnhealthy(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.primary.WithError(errors.New("endpoint down"))

	w := ts.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "endpoint down")
}

func TestServer_SessionLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/v1/sessions", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	require.NotEmpty(t, created.Data.ID)

	w = ts.do(http.MethodGet, "/api/v1/sessions/"+created.Data.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodDelete, "/api/v1/sessions/"+created.Data.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, 0, ts.srv.deps.Sessions.Count())
}

func TestServer_ChatPassthrough(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"What is a terrier?"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), fixtures.TutorReply)

	call := ts.primary.GetLastCall()
	require.NotNil(t, call)
	assert.Equal(t, "gpt-4o", call.Request.Model)
	require.Len(t, call.Request.Messages, 1)
	assert.Equal(t, llm.RoleUser, call.Request.Messages[0].Role)
}

func TestServer_APIKeyProtectsSessions(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.APIKeys = []string{"k1"}
	})

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/v1/sessions", "", nil).Code)

	w := ts.do(http.MethodPost, "/api/v1/sessions", "", http.Header{"X-Api-Key": {"k1"}})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestServer_RecordsHTTPMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(http.MethodGet, "/api/v1/sessions/unknown", "", nil)

	families, err := ts.registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "tutorflow_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["path"] == "/api/v1/sessions/:id" && labels["status"] == "4xx" {
				found = true
				assert.Equal(t, 1.0, m.GetCounter().GetValue())
			}
		}
	}
	assert.True(t, found, "expected a normalized 404 sample")
}

func TestServer_MetricsManagerOnlyWhenPortSet(t *testing.T) {
	withPort := newTestServer(t, func(cfg *config.Config) { cfg.Server.MetricsPort = 9091 })
	assert.NotNil(t, withPort.srv.metricsManager)

	without := newTestServer(t, func(cfg *config.Config) { cfg.Server.MetricsPort = 0 })
	assert.Nil(t, without.srv.metricsManager)
}

func TestOriginHosts(t *testing.T) {
	got := originHosts([]string{"https://tutor.example.com", "http://localhost:3000", "*.example.org"})
	assert.Equal(t, []string{"tutor.example.com", "localhost:3000", "*.example.org"}, got)
	assert.Empty(t, originHosts(nil))
}

func TestManagerConfig(t *testing.T) {
	tc := config.DefaultTutorConfig()
	tc.MinAttempts = 5
	tc.WrongFraction = 0.5
	tc.ConsecutiveWrong = 2
	tc.SaveTimeout = 0

	mc := managerConfig(tc)
	assert.Equal(t, 5, mc.Thresholds.MinAttempts)
	assert.Equal(t, 0.5, mc.Thresholds.WrongFraction)
	assert.Equal(t, 2, mc.Thresholds.ConsecutiveWrong)
	assert.Positive(t, mc.SaveTimeout)
}

func TestCacheConfig(t *testing.T) {
	rc := config.DefaultRedisConfig()
	rc.Addr = "redis:6379"
	rc.KeyPrefix = "tf:"
	rc.PoolSize = 0

	cc := cacheConfig(rc)
	assert.Equal(t, "redis:6379", cc.Addr)
	assert.Equal(t, "tf:", cc.KeyPrefix)
	assert.Positive(t, cc.PoolSize)
}
