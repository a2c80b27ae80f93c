// Package browser launches headless Chrome processes with chromedp and adapts
// them to browserpool.Handle.
package browser

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/browserpool"
)

// Launcher starts one Chrome process per Launch call.
type Launcher struct {
	logger *zap.Logger
}

var _ browserpool.Launcher = (*Launcher)(nil)

// NewLauncher returns a chromedp-backed launcher.
func NewLauncher(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger}
}

// Launch starts Chrome with the fixed launch policy and waits until the
// DevTools connection is up. ctx bounds the startup only; the process lives
// until the returned handle is closed.
func (l *Launcher) Launch(ctx context.Context, opts browserpool.LaunchOptions) (browserpool.Handle, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	release := func() {
		browserCancel()
		allocCancel()
	}

	stopForward := forwardCancel(ctx, release)
	err := chromedp.Run(browserCtx)
	stopForward()
	if err != nil {
		release()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	if ctx.Err() != nil {
		release()
		return nil, fmt.Errorf("chromedp warmup: %w", ctx.Err())
	}

	pid := 0
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		if proc := c.Browser.Process(); proc != nil {
			pid = proc.Pid
		}
	}

	b := newBrowser(browserCtx, pid, func() error { return chromedp.Cancel(browserCtx) }, release)
	chromedp.ListenBrowser(browserCtx, b.handleBrowserEvent)
	l.logger.Debug("chrome started", zap.Int("pid", pid), zap.Bool("headless", opts.Headless))
	return b, nil
}

func allocatorOptions(opts browserpool.LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(opts) {
		out = append(out, chromedp.Flag(name, value))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		out = append(out, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	return out
}

// launchFlags is the command-line policy applied on top of chromedp's
// defaults.
func launchFlags(opts browserpool.LaunchOptions) map[string]any {
	flags := map[string]any{
		"headless":              opts.Headless,
		"disable-gpu":           true,
		"disable-dev-shm-usage": true,
		"hide-scrollbars":       true,
		"enable-automation":     false,
	}
	if opts.NoSandbox {
		flags["no-sandbox"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

// Browser is one running Chrome process.
type Browser struct {
	ctx      context.Context
	pid      int
	shutdown func() error
	release  func()

	alive     atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu        sync.Mutex
	listeners []func(browserpool.Lifecycle)
}

var _ browserpool.Handle = (*Browser)(nil)

func newBrowser(ctx context.Context, pid int, shutdown func() error, release func()) *Browser {
	b := &Browser{ctx: ctx, pid: pid, shutdown: shutdown, release: release}
	b.alive.Store(true)
	go func() {
		<-ctx.Done()
		if b.alive.Swap(false) {
			b.notify(browserpool.Lifecycle{Kind: browserpool.LifecycleDisconnected})
		}
	}()
	return b
}

// PID returns the Chrome process id, or zero when it could not be read.
func (b *Browser) PID() int { return b.pid }

// IsAlive reports whether the DevTools connection is still open.
func (b *Browser) IsAlive() bool {
	return b.alive.Load() && b.ctx.Err() == nil
}

// OnLifecycle registers fn for disconnect and target signals.
func (b *Browser) OnLifecycle(fn func(browserpool.Lifecycle)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// NewTab opens a new tab in this browser. Cancel the returned function to
// close the tab.
func (b *Browser) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(b.ctx)
}

// Close asks Chrome to exit and tears down the allocator. If ctx ends first
// the process is killed.
func (b *Browser) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.alive.Store(false)
		done := make(chan error, 1)
		go func() { done <- b.shutdown() }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				b.closeErr = fmt.Errorf("close chrome %d: %w", b.pid, err)
			}
		case <-ctx.Done():
			b.closeErr = fmt.Errorf("close chrome %d: %w", b.pid, ctx.Err())
		}
		b.release()
	})
	return b.closeErr
}

func (b *Browser) handleBrowserEvent(ev any) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo != nil {
			b.notify(browserpool.Lifecycle{
				Kind:     browserpool.LifecycleTargetCreated,
				TargetID: string(e.TargetInfo.TargetID),
				URL:      e.TargetInfo.URL,
			})
		}
	case *target.EventTargetDestroyed:
		b.notify(browserpool.Lifecycle{
			Kind:     browserpool.LifecycleTargetDestroyed,
			TargetID: string(e.TargetID),
		})
	}
}

func (b *Browser) notify(ev browserpool.Lifecycle) {
	b.mu.Lock()
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func forwardCancel(parent context.Context, cancel func()) func() {
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
