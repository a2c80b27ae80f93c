package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/apperr"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/retry"
)

// Config controls site traversal.
type Config struct {
	UserAgent string
	// PathPrefix restricts discovery to URLs under this path. Empty means the
	// directory of the root URL.
	PathPrefix string
	// MaxDepth is the number of link hops followed from the root. Zero means
	// unlimited.
	MaxDepth int
	// MaxPages caps the number of pages returned. Zero means unlimited.
	MaxPages int
	// ExcludePatterns are regular expressions; matching URLs are skipped.
	ExcludePatterns []string
	// LinkSelector selects the elements whose href is followed.
	LinkSelector   string
	RequestTimeout time.Duration
	RespectRobots  bool
	// Retry wraps each full traversal attempt. Only a failing root fetch
	// fails an attempt.
	Retry retry.Options
}

// Discoverer walks a documentation site and returns its pages in navigation
// order.
type Discoverer struct {
	cfg     Config
	logger  *zap.Logger
	exclude []*regexp.Regexp
}

// New validates cfg and builds a Discoverer.
func New(cfg Config, logger *zap.Logger) (*Discoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must be >= 0")
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0")
	}
	if cfg.LinkSelector == "" {
		cfg.LinkSelector = "a[href]"
	}
	exclude := make([]*regexp.Regexp, 0, len(cfg.ExcludePatterns))
	for _, raw := range cfg.ExcludePatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", raw, err)
		}
		exclude = append(exclude, re)
	}
	return &Discoverer{cfg: cfg, logger: logger, exclude: exclude}, nil
}

// Discover returns the normalized URLs reachable from rootURL, root first,
// in depth-first document order.
func (d *Discoverer) Discover(ctx context.Context, rootURL string) ([]string, error) {
	normalized, err := NormalizeURL(rootURL)
	if err != nil {
		return nil, err
	}
	root, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse root url: %w", err)
	}
	if root.Scheme != "http" && root.Scheme != "https" {
		return nil, fmt.Errorf("root url must be http or https: %q", rootURL)
	}

	opts := d.cfg.Retry
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = apperr.Retryable
	}
	userRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		d.logger.Warn("root fetch failed; retrying",
			zap.String("url", normalized),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if userRetry != nil {
			userRetry(attempt, err, wait)
		}
	}

	pages, err := retry.DoValue(ctx, func(ctx context.Context) ([]string, error) {
		return d.walk(ctx, root)
	}, opts)
	if err != nil {
		return nil, err
	}
	d.logger.Info("discovery complete", zap.String("root", normalized), zap.Int("pages", len(pages)))
	return pages, nil
}

// walk runs one synchronous traversal with a fresh collector so a retried
// attempt does not see the previous attempt's visited set.
func (d *Discoverer) walk(ctx context.Context, root *url.URL) ([]string, error) {
	prefix := scopePrefix(root, d.cfg.PathPrefix)
	scope := regexp.MustCompile("^" + regexp.QuoteMeta(root.Scheme+"://"+root.Host+prefix))

	collector := colly.NewCollector(
		colly.AllowedDomains(root.Hostname()),
		colly.URLFilters(scope),
		colly.DisallowedURLFilters(d.exclude...),
		colly.UserAgent(d.cfg.UserAgent),
		colly.StdlibContext(ctx),
	)
	if d.cfg.MaxDepth > 0 {
		collector.MaxDepth = d.cfg.MaxDepth + 1
	}
	collector.IgnoreRobotsTxt = !d.cfg.RespectRobots
	if d.cfg.RequestTimeout > 0 {
		collector.SetRequestTimeout(d.cfg.RequestTimeout)
	}

	var (
		pages      []string
		seen       = make(map[string]struct{})
		rootStatus int
	)
	full := func() bool { return d.cfg.MaxPages > 0 && len(pages) >= d.cfg.MaxPages }

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || full() {
			r.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		if r.Request.Depth == 1 {
			rootStatus = r.StatusCode
		}
		if !strings.Contains(strings.ToLower(r.Headers.Get("Content-Type")), "html") {
			return
		}
		page, err := NormalizeURL(r.Request.URL.String())
		if err != nil {
			return
		}
		if _, dup := seen[page]; dup || full() {
			return
		}
		seen[page] = struct{}{}
		pages = append(pages, page)
	})
	collector.OnHTML(d.cfg.LinkSelector, func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" || strings.HasPrefix(href, "#") || full() {
			return
		}
		link, err := NormalizeURL(e.Request.AbsoluteURL(href))
		if err != nil || link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		if err := e.Request.Visit(link); err != nil && !expectedVisitError(err) {
			d.logger.Debug("link skipped", zap.String("url", link), zap.Error(err))
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r.Request.Depth == 1 {
			rootStatus = r.StatusCode
		}
		d.logger.Warn("page fetch failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	if err := collector.Visit(root.String()); err != nil {
		if rootStatus >= 400 {
			return nil, &apperr.HTTPStatusError{URL: root.String(), Code: rootStatus}
		}
		return nil, fmt.Errorf("fetch root %s: %w", root, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("fetch root %s: no html document", root)
	}
	return pages, nil
}

func expectedVisitError(err error) bool {
	var already *colly.AlreadyVisitedError
	return errors.As(err, &already) ||
		errors.Is(err, colly.ErrMaxDepth) ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrNoURLFiltersMatch) ||
		errors.Is(err, colly.ErrForbiddenURL) ||
		errors.Is(err, colly.ErrAbortedAfterHeaders)
}
