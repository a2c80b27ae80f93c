// Package ratelimit implements per-host token buckets used to keep page
// renders polite.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained rate per host. Zero or less disables limiting.
	RPS   float64
	Burst int
	// OnWait, when set, receives the time Wait blocked for a host.
	OnWait func(host string, waited time.Duration)
}

// Limiter manages one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	onWait   func(string, time.Duration)
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		onWait:   cfg.OnWait,
	}
}

// Wait blocks until rawURL's host has a token, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host, err := HostOf(rawURL)
	if err != nil {
		return err
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if l.onWait != nil {
		l.onWait(host, time.Since(start))
	}
	return nil
}

// Hosts returns the number of hosts seen so far.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// HostOf returns the lower-cased hostname of rawURL.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.ToLower(u.Hostname()), nil
}
