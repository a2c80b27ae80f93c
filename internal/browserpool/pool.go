// Package browserpool manages a fixed-capacity set of expensive, stateful
// worker processes (headless browsers). Handles move between three disjoint
// sets: available (idle, FIFO), busy (checked out) and quarantined (observed
// dead on release, never handed out again).
package browserpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/apperr"
)

// Stats is a point-in-time snapshot of pool accounting.
type Stats struct {
	Created      int `json:"created"`
	Disconnected int `json:"disconnected"`
	Errors       int `json:"errors"`
	// TotalRequests counts successful checkouts only.
	TotalRequests  int `json:"total_requests"`
	ActiveRequests int `json:"active_requests"`

	Total       int `json:"total"`
	Available   int `json:"available"`
	Busy        int `json:"busy"`
	Quarantined int `json:"quarantined"`
	Waiting     int `json:"waiting"`
}

type acquireResult struct {
	handle Handle
	err    error
}

type waiter struct {
	ch chan acquireResult
}

// Pool hands out launched resources to callers. All methods are safe for
// concurrent use.
type Pool struct {
	cfg      Config
	launcher Launcher
	logger   *zap.Logger
	subs     subscribers

	// emitMu is taken before mu is released so events reach subscribers in
	// the order the transitions happened.
	emitMu sync.Mutex

	mu           sync.Mutex
	all          []Handle
	available    []Handle
	busy         map[Handle]struct{}
	quarantined  []Handle
	waiters      []*waiter
	created      int
	disconnected int
	errors       int
	requests     int
	initializing bool
	initialized  bool
	closed       bool
}

// New builds an uninitialized pool. Call Initialize before Acquire.
func New(launcher Launcher, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg.withDefaults(),
		launcher: launcher,
		logger:   logger,
		busy:     make(map[Handle]struct{}),
	}
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it.
func (p *Pool) Subscribe(fn Subscriber) (unsubscribe func()) {
	return p.subs.add(fn)
}

// Initialize launches Capacity resources concurrently. Individual launch
// failures are logged and tolerated; if none succeed a NetworkError is
// returned and the pool stays uninitialized so the call can be repeated.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return apperr.ErrPoolClosed
	case p.initialized:
		p.mu.Unlock()
		p.logger.Warn("browser pool already initialized")
		return nil
	case p.initializing:
		p.mu.Unlock()
		return apperr.ErrPoolInitializing
	}
	p.initializing = true
	p.mu.Unlock()

	handles := make([]Handle, p.cfg.Capacity)
	failures := make([]error, p.cfg.Capacity)
	var g errgroup.Group
	for i := range handles {
		g.Go(func() error {
			h, err := p.create(ctx)
			if err != nil {
				p.logger.Error("browser launch failed", zap.Int("slot", i), zap.Error(err))
				failures[i] = err
				return nil
			}
			handles[i] = h
			return nil
		})
	}
	_ = g.Wait()

	created := make([]Handle, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			created = append(created, h)
		}
	}

	p.mu.Lock()
	p.initializing = false
	if p.closed {
		p.mu.Unlock()
		p.closeHandles(ctx, created)
		return apperr.ErrPoolClosed
	}
	if len(created) == 0 {
		p.mu.Unlock()
		return apperr.NewNetworkError(
			"initialize browser pool",
			fmt.Errorf("none of %d browsers launched: %w", p.cfg.Capacity, errors.Join(failures...)),
		)
	}
	p.all = append(p.all, created...)
	p.available = append(p.available, created...)
	p.initialized = true
	p.unlockAndEmit(Event{Kind: EventInitialized, TotalUsable: len(created)})

	p.logger.Info("browser pool initialized",
		zap.Int("usable", len(created)),
		zap.Int("capacity", p.cfg.Capacity),
	)
	return nil
}

// create launches one resource. It never retries.
func (p *Pool) create(ctx context.Context) (Handle, error) {
	h, err := p.launcher.Launch(ctx, p.cfg.Launch)
	if err == nil && h == nil {
		err = errors.New("launcher returned no handle")
	}
	if err != nil {
		p.mu.Lock()
		p.errors++
		p.mu.Unlock()
		return nil, apperr.NewNetworkError("launch browser", err)
	}

	pid := h.PID()
	h.OnLifecycle(func(ev Lifecycle) {
		p.logger.Debug("browser lifecycle signal",
			zap.Int("pid", pid),
			zap.String("signal", string(ev.Kind)),
			zap.String("target_id", ev.TargetID),
			zap.String("url", ev.URL),
		)
	})

	p.mu.Lock()
	p.created++
	p.unlockAndEmit(Event{Kind: EventCreated, Handle: h})
	p.logger.Debug("browser launched", zap.Int("pid", pid))
	return h, nil
}

// Acquire checks out the oldest idle resource. When none is idle the caller
// joins a FIFO wait queue until a resource is released, ctx ends or the pool
// closes. A full queue yields ErrPoolExhausted; a pool with no live resource
// left yields ErrPoolDepleted. A waiter served while ctx ends still gets the
// resource and a nil error.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return nil, apperr.ErrPoolClosed
	case !p.initialized:
		p.mu.Unlock()
		return nil, apperr.ErrPoolNotInitialized
	}

	if len(p.available) > 0 {
		h := p.available[0]
		p.available[0] = nil
		p.available = p.available[1:]
		p.busy[h] = struct{}{}
		p.requests++
		p.unlockAndEmit(Event{Kind: EventAcquired, Stats: p.statsLocked()})
		return h, nil
	}
	if len(p.busy) == 0 {
		p.mu.Unlock()
		return nil, apperr.ErrPoolDepleted
	}
	if len(p.waiters) >= p.cfg.MaxWaiters {
		p.mu.Unlock()
		return nil, apperr.ErrPoolExhausted
	}
	w := &waiter{ch: make(chan acquireResult, 1)}
	p.waiters = append(p.waiters, w)
	position := len(p.waiters)
	p.mu.Unlock()

	p.logger.Debug("waiting for idle browser", zap.Int("queue_position", position))

	select {
	case res := <-w.ch:
		return res.handle, res.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	if p.removeWaiterLocked(w) {
		p.mu.Unlock()
		return nil, fmt.Errorf("wait for idle browser: %w", ctx.Err())
	}
	p.mu.Unlock()

	// Release handed us a resource before we could leave the queue. The
	// handoff is already counted, so the caller owns it.
	res := <-w.ch
	return res.handle, res.err
}

// Release returns a checked-out resource. A dead resource is quarantined and
// never handed out again; a live one goes to the oldest waiter or to the back
// of the idle queue.
func (p *Pool) Release(h Handle) error {
	if h == nil {
		return apperr.ErrNotCheckedOut
	}
	alive := h.IsAlive()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperr.ErrPoolClosed
	}
	if _, ok := p.busy[h]; !ok {
		p.mu.Unlock()
		return apperr.ErrNotCheckedOut
	}
	delete(p.busy, h)

	if !alive {
		p.quarantined = append(p.quarantined, h)
		p.disconnected++
		released := Event{Kind: EventReleased, Stats: p.statsLocked()}
		if len(p.busy) == 0 && len(p.available) == 0 {
			p.failWaitersLocked(apperr.ErrPoolDepleted)
		}
		p.unlockAndEmit(released)
		p.logger.Warn("browser disconnected; quarantined", zap.Int("pid", h.PID()))
		return nil
	}

	p.available = append(p.available, h)
	released := Event{Kind: EventReleased, Stats: p.statsLocked()}
	if len(p.waiters) == 0 {
		p.unlockAndEmit(released)
		return nil
	}

	w := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	next := p.available[0]
	p.available[0] = nil
	p.available = p.available[1:]
	p.busy[next] = struct{}{}
	p.requests++
	w.ch <- acquireResult{handle: next}
	p.unlockAndEmit(released, Event{Kind: EventAcquired, Stats: p.statsLocked()})
	return nil
}

// Close terminates every resource ever tracked, best effort, and fails any
// queued waiters. Later calls only log a warning.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("browser pool already closed")
		return
	}
	p.closed = true
	handles := append([]Handle(nil), p.all...)
	p.failWaitersLocked(apperr.ErrPoolClosed)
	p.mu.Unlock()

	p.closeHandles(ctx, handles)

	p.mu.Lock()
	p.unlockAndEmit(Event{Kind: EventClosed})
	p.logger.Info("browser pool closed", zap.Int("closed", len(handles)))
}

// Stats returns a snapshot of the pool counters and set sizes.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// Ready reports whether Acquire can currently succeed or wait.
func (p *Pool) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized && !p.closed
}

func (p *Pool) closeHandles(ctx context.Context, handles []Handle) {
	for _, h := range handles {
		if err := h.Close(ctx); err != nil {
			p.logger.Warn("browser close failed", zap.Int("pid", h.PID()), zap.Error(err))
		}
	}
}

func (p *Pool) statsLocked() Stats {
	return Stats{
		Created:        p.created,
		Disconnected:   p.disconnected,
		Errors:         p.errors,
		TotalRequests:  p.requests,
		ActiveRequests: len(p.busy),
		Total:          len(p.all),
		Available:      len(p.available),
		Busy:           len(p.busy),
		Quarantined:    len(p.quarantined),
		Waiting:        len(p.waiters),
	}
}

func (p *Pool) removeWaiterLocked(w *waiter) bool {
	for i, candidate := range p.waiters {
		if candidate == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pool) failWaitersLocked(err error) {
	for _, w := range p.waiters {
		w.ch <- acquireResult{err: err}
	}
	p.waiters = nil
}

// unlockAndEmit releases mu and delivers events to subscribers. The caller
// must hold mu.
func (p *Pool) unlockAndEmit(events ...Event) {
	p.emitMu.Lock()
	p.mu.Unlock()
	defer p.emitMu.Unlock()
	subs := p.subs.snapshot()
	for _, evt := range events {
		for _, fn := range subs {
			fn(evt)
		}
	}
}
