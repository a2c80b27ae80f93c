// Package render prints documentation pages to PDF in pooled headless
// browsers.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/apperr"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/browserpool"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/policy/ratelimit"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/retry"
)

// ErrNoTabs is returned when a pooled handle cannot open browser tabs.
var ErrNoTabs = errors.New("pooled handle cannot open tabs")

// Pool is the subset of *browserpool.Pool the renderer needs.
type Pool interface {
	Acquire(ctx context.Context) (browserpool.Handle, error)
	Release(h browserpool.Handle) error
}

type tabOpener interface {
	NewTab() (context.Context, context.CancelFunc)
}

// PDFOptions are passed to Page.printToPDF. Sizes are in inches; zero paper
// sizes and scale keep Chrome's defaults, zero margins mean no margin.
type PDFOptions struct {
	Landscape         bool
	PrintBackground   bool
	PreferCSSPageSize bool
	Scale             float64
	PaperWidth        float64
	PaperHeight       float64
	MarginTop         float64
	MarginBottom      float64
	MarginLeft        float64
	MarginRight       float64
}

// Config controls page rendering.
type Config struct {
	// Timeout bounds one attempt from navigation to the last PDF byte.
	Timeout time.Duration
	// WaitSelector, when set, must become visible before printing.
	WaitSelector string
	// RemoveSelectors are deleted from the DOM before printing.
	RemoveSelectors []string
	// ContentSelector, when set, replaces the body with the first match.
	ContentSelector string
	// DomainQPS limits navigations per host. Zero disables the limit.
	DomainQPS float64
	UserAgent string
	PDF       PDFOptions
	Retry     retry.Options
	// OnRateLimitWait, when set, receives the time spent on the per-host
	// limiter before each navigation.
	OnRateLimitWait func(host string, waited time.Duration)
}

// Page is one rendered document.
type Page struct {
	URL        string
	FinalURL   string
	Title      string
	StatusCode int
	PDF        []byte
	Duration   time.Duration
	Attempts   int
}

type attemptFunc func(ctx context.Context, h browserpool.Handle, rawURL string) (Page, error)

// Renderer renders pages, one pooled browser per attempt.
type Renderer struct {
	pool    Pool
	cfg     Config
	logger  *zap.Logger
	limiter *ratelimit.Limiter
	attempt attemptFunc
}

// New builds a Renderer drawing browsers from pool.
func New(pool Pool, cfg Config, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	r := &Renderer{pool: pool, cfg: cfg, logger: logger}
	if cfg.DomainQPS > 0 {
		r.limiter = ratelimit.New(ratelimit.Config{RPS: cfg.DomainQPS, Burst: 1, OnWait: cfg.OnRateLimitWait})
	}
	r.attempt = r.renderInTab
	return r
}

// Render prints rawURL to PDF. Each attempt acquires its own browser and
// releases it before any retry wait. State errors and 4xx responses are not
// retried. On failure the returned Page still carries URL, Attempts and
// Duration.
func (r *Renderer) Render(ctx context.Context, rawURL string) (Page, error) {
	opts := r.cfg.Retry
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = apperr.Retryable
	}
	userRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("render failed; retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if userRetry != nil {
			userRetry(attempt, err, wait)
		}
	}

	attempts := 0
	start := time.Now()
	p, err := retry.DoValue(ctx, func(ctx context.Context) (Page, error) {
		attempts++
		return r.once(ctx, rawURL)
	}, opts)
	if err != nil {
		return Page{URL: rawURL, Attempts: attempts, Duration: time.Since(start)},
			fmt.Errorf("render %s: %w", rawURL, err)
	}
	p.Attempts = attempts
	p.Duration = time.Since(start)
	return p, nil
}

func (r *Renderer) once(ctx context.Context, rawURL string) (Page, error) {
	if err := r.waitDomainBudget(ctx, rawURL); err != nil {
		return Page{}, fmt.Errorf("render rate limit: %w", err)
	}
	h, err := r.pool.Acquire(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("acquire browser: %w", err)
	}
	defer func() {
		if err := r.pool.Release(h); err != nil {
			r.logger.Warn("release browser failed", zap.Int("pid", h.PID()), zap.Error(err))
		}
	}()
	return r.attempt(ctx, h, rawURL)
}

func (r *Renderer) renderInTab(ctx context.Context, h browserpool.Handle, rawURL string) (Page, error) {
	opener, ok := h.(tabOpener)
	if !ok {
		return Page{}, fmt.Errorf("%w: %T", ErrNoTabs, h)
	}
	tabCtx, cancelTab := opener.NewTab()
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	var (
		title string
		pdf   []byte
	)
	if err := chromedp.Run(taskCtx, r.tasks(rawURL, meta, &title, &pdf)); err != nil {
		var status *apperr.HTTPStatusError
		if errors.As(err, &status) {
			return Page{}, status
		}
		if ctx.Err() != nil {
			return Page{}, fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return Page{}, apperr.NewNetworkError("chromedp run", err)
	}

	status, finalURL := meta.snapshot()
	return Page{
		URL:        rawURL,
		FinalURL:   firstNonEmpty(finalURL, rawURL),
		Title:      strings.TrimSpace(title),
		StatusCode: status,
		PDF:        pdf,
	}, nil
}

func (r *Renderer) tasks(rawURL string, meta *responseMeta, title *string, pdf *[]byte) chromedp.Tasks {
	tasks := chromedp.Tasks{network.Enable()}
	if r.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(r.cfg.UserAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.ActionFunc(func(context.Context) error {
			return meta.check(rawURL)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if r.cfg.WaitSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(r.cfg.WaitSelector, chromedp.ByQuery))
	}
	if script := cleanupScript(r.cfg.RemoveSelectors, r.cfg.ContentSelector); script != "" {
		tasks = append(tasks, chromedp.Evaluate(script, nil))
	}
	tasks = append(tasks,
		chromedp.Title(title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := printParams(r.cfg.PDF).Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			*pdf = buf
			return nil
		}),
	)
	return tasks
}

func printParams(opts PDFOptions) *page.PrintToPDFParams {
	params := page.PrintToPDF().
		WithLandscape(opts.Landscape).
		WithPrintBackground(opts.PrintBackground).
		WithPreferCSSPageSize(opts.PreferCSSPageSize).
		WithMarginTop(opts.MarginTop).
		WithMarginBottom(opts.MarginBottom).
		WithMarginLeft(opts.MarginLeft).
		WithMarginRight(opts.MarginRight).
		WithGenerateDocumentOutline(true)
	if opts.Scale > 0 {
		params = params.WithScale(opts.Scale)
	}
	if opts.PaperWidth > 0 {
		params = params.WithPaperWidth(opts.PaperWidth)
	}
	if opts.PaperHeight > 0 {
		params = params.WithPaperHeight(opts.PaperHeight)
	}
	return params
}

// cleanupScript builds the DOM rewrite run before printing. It returns an
// empty string when there is nothing to do.
func cleanupScript(remove []string, content string) string {
	selectors := make([]string, 0, len(remove))
	for _, s := range remove {
		if s = strings.TrimSpace(s); s != "" {
			selectors = append(selectors, s)
		}
	}
	content = strings.TrimSpace(content)
	if len(selectors) == 0 && content == "" {
		return ""
	}
	removeJSON, _ := json.Marshal(selectors)
	contentJSON, _ := json.Marshal(content)
	return fmt.Sprintf(`(() => {
  for (const sel of %s) {
    document.querySelectorAll(sel).forEach((el) => el.remove());
  }
  const content = %s;
  if (content) {
    const el = document.querySelector(content);
    if (el) {
      document.body.replaceChildren(el);
    }
  }
  return true;
})()`, removeJSON, contentJSON)
}

func (r *Renderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx, rawURL)
}

type responseMeta struct {
	mu     sync.Mutex
	seen   bool
	status int
	url    string
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen {
		return
	}
	m.seen = true
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.url
}

func (m *responseMeta) check(rawURL string) error {
	status, _ := m.snapshot()
	if status >= 400 {
		return &apperr.HTTPStatusError{URL: rawURL, Code: status}
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
