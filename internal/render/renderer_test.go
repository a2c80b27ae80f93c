package render

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/apperr"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/browserpool"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/retry"
)

type stubHandle struct{}

func (stubHandle) PID() int                                { return 1 }
func (stubHandle) IsAlive() bool                           { return true }
func (stubHandle) Close(context.Context) error             { return nil }
func (stubHandle) OnLifecycle(func(browserpool.Lifecycle)) {}

type countingPool struct {
	mu         sync.Mutex
	acquireErr error
	acquired   int
	released   int
	handle     browserpool.Handle
}

func (p *countingPool) Acquire(context.Context) (browserpool.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquired++
	return p.handle, nil
}

func (p *countingPool) Release(browserpool.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return nil
}

func testConfig() Config {
	return Config{
		Timeout: time.Second,
		Retry: retry.Options{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
			Jitter:      retry.JitterNone,
		},
	}
}

func TestRenderRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	pool := &countingPool{handle: stubHandle{}}
	r := New(pool, testConfig(), nil)
	calls := 0
	r.attempt = func(_ context.Context, h browserpool.Handle, rawURL string) (Page, error) {
		calls++
		require.NotNil(t, h)
		if calls < 3 {
			return Page{}, apperr.NewNetworkError("chromedp run", errors.New("target crashed"))
		}
		return Page{URL: rawURL, Title: "Intro", PDF: []byte("%PDF-1.7")}, nil
	}

	page, err := r.Render(context.Background(), "https://docs.example/intro")
	require.NoError(t, err)
	require.Equal(t, "Intro", page.Title)
	require.Equal(t, 3, page.Attempts)
	require.Equal(t, 3, pool.acquired)
	require.Equal(t, 3, pool.released, "every attempt returns its browser")
}

func TestRenderDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	pool := &countingPool{handle: stubHandle{}}
	r := New(pool, testConfig(), nil)
	calls := 0
	r.attempt = func(_ context.Context, _ browserpool.Handle, rawURL string) (Page, error) {
		calls++
		return Page{}, &apperr.HTTPStatusError{URL: rawURL, Code: 404}
	}

	page, err := r.Render(context.Background(), "https://docs.example/missing")
	require.Equal(t, 1, page.Attempts)
	require.Equal(t, "https://docs.example/missing", page.URL)
	var status *apperr.HTTPStatusError
	require.ErrorAs(t, err, &status)
	require.Equal(t, 404, status.Code)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, pool.released)
}

func TestRenderStopsOnPoolStateErrors(t *testing.T) {
	t.Parallel()

	pool := &countingPool{acquireErr: apperr.ErrPoolClosed}
	r := New(pool, testConfig(), nil)
	r.attempt = func(context.Context, browserpool.Handle, string) (Page, error) {
		t.Fatal("attempt must not run without a browser")
		return Page{}, nil
	}

	_, err := r.Render(context.Background(), "https://docs.example/")
	require.ErrorIs(t, err, apperr.ErrPoolClosed)
	require.Zero(t, pool.released)
}

func TestRenderInTabRequiresTabs(t *testing.T) {
	t.Parallel()

	r := New(&countingPool{}, testConfig(), nil)
	_, err := r.renderInTab(context.Background(), stubHandle{}, "https://docs.example/")
	require.ErrorIs(t, err, ErrNoTabs)
}

func TestWaitDomainBudgetPerHost(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DomainQPS = 20
	var hosts []string
	cfg.OnRateLimitWait = func(host string, _ time.Duration) { hosts = append(hosts, host) }
	r := New(&countingPool{}, cfg, nil)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, r.waitDomainBudget(ctx, "https://a.example/1"))
	require.NoError(t, r.waitDomainBudget(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 40*time.Millisecond, "first call per host is free")

	require.NoError(t, r.waitDomainBudget(ctx, "https://A.example/2"))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, r.waitDomainBudget(canceled, "https://a.example/3"))
	require.Equal(t, []string{"a.example", "b.example", "a.example"}, hosts)
}

func TestCleanupScript(t *testing.T) {
	t.Parallel()

	require.Empty(t, cleanupScript(nil, ""))
	require.Empty(t, cleanupScript([]string{"  "}, " "))

	script := cleanupScript([]string{"nav", ".cookie-banner"}, "main article")
	require.Contains(t, script, `["nav",".cookie-banner"]`)
	require.Contains(t, script, `"main article"`)

	onlyContent := cleanupScript(nil, "main")
	require.Contains(t, onlyContent, "for (const sel of []")
	require.True(t, strings.HasPrefix(onlyContent, "(() =>"))
}

func TestPrintParams(t *testing.T) {
	t.Parallel()

	p := printParams(PDFOptions{
		Landscape:       true,
		PrintBackground: true,
		PaperWidth:      8.27,
		PaperHeight:     11.69,
		MarginTop:       0.4,
	})
	require.True(t, p.Landscape)
	require.True(t, p.PrintBackground)
	require.InDelta(t, 8.27, p.PaperWidth, 1e-9)
	require.InDelta(t, 11.69, p.PaperHeight, 1e-9)
	require.InDelta(t, 0.4, p.MarginTop, 1e-9)
	require.Zero(t, p.MarginBottom)
	require.Zero(t, p.Scale)
	require.True(t, p.GenerateDocumentOutline)
}

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeStylesheet,
		Response: &network.Response{Status: 500, URL: "https://docs.example/site.css"},
	})
	require.NoError(t, meta.check("https://docs.example/"))

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://docs.example/gone"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://docs.example/iframe"},
	})

	status, finalURL := meta.snapshot()
	require.Equal(t, 404, status)
	require.Equal(t, "https://docs.example/gone", finalURL)

	var statusErr *apperr.HTTPStatusError
	require.ErrorAs(t, meta.check("https://docs.example/gone"), &statusErr)
	require.False(t, statusErr.Retryable())
}
