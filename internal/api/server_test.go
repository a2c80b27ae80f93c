package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/browserpool"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/store"
)

type stubPool struct {
	ready bool
	stats browserpool.Stats
}

func (s stubPool) Stats() browserpool.Stats { return s.stats }
func (s stubPool) Ready() bool              { return s.ready }

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Pool == nil {
		opts.Pool = stubPool{ready: true}
	}
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Options{})
	require.Error(t, err)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Options{Pool: stubPool{ready: false}})
	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready := newTestServer(t, Options{Pool: stubPool{ready: true}})
	rec = do(t, ready.Handler(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := do(t, srv.Handler(), req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestPoolStatsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Options{Pool: stubPool{
		ready: true,
		stats: browserpool.Stats{Total: 3, Available: 1, Busy: 2, TotalRequests: 9},
	}})
	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/v1/pool", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Ready bool              `json:"ready"`
		Stats browserpool.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.Equal(t, 3, body.Stats.Total)
	assert.Equal(t, 2, body.Stats.Busy)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Options{APIKey: "secret"})

	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/v1/pool", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = do(t, srv.Handler(), req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestRunRoutes(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	repo := &mockRunRepo{runs: []store.Run{{ID: runID, Status: store.RunError}}}
	srv := newTestServer(t, Options{Runs: repo})

	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"error"`)

	rec = do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/pages", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	noRepo := newTestServer(t, Options{})
	rec = do(t, noRepo.Handler(), httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRouteAndMiddleware(t *testing.T) {
	t.Parallel()

	var seen []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("scraper_pool_waiting 0\n"))
	})
	srv := newTestServer(t, Options{Metrics: metricsHandler, Middleware: []func(http.Handler) http.Handler{mw}})

	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scraper_pool_waiting")
	assert.Equal(t, []string{"/metrics"}, seen)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	srv := &Server{logger: zap.NewNop()}
	h := srv.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
