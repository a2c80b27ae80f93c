package browserpool

import (
	"context"
	"time"
)

// LifecycleKind names a signal raised by a pooled resource.
type LifecycleKind string

// Lifecycle signals. Only disconnection matters to the pool, and only when the
// resource is released.
const (
	LifecycleDisconnected    LifecycleKind = "disconnected"
	LifecycleTargetCreated   LifecycleKind = "target-created"
	LifecycleTargetDestroyed LifecycleKind = "target-destroyed"
)

// Lifecycle describes one signal observed on a resource.
type Lifecycle struct {
	Kind     LifecycleKind
	TargetID string
	URL      string
}

// Handle is one launched worker process owned by the pool.
// Implementations must be comparable (pointer receivers) because the pool
// tracks handles in maps.
type Handle interface {
	// PID identifies the underlying process; zero when unknown.
	PID() int
	// IsAlive reports whether the process is still usable.
	IsAlive() bool
	// Close terminates the process. It must be safe to call more than once.
	Close(ctx context.Context) error
	// OnLifecycle registers fn for lifecycle signals.
	OnLifecycle(fn func(Lifecycle))
}

// LaunchOptions is the fixed launch policy applied to every resource.
type LaunchOptions struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	NoSandbox    bool
}

// Launcher starts new resources.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Handle, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, opts LaunchOptions) (Handle, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, opts LaunchOptions) (Handle, error) {
	return f(ctx, opts)
}

// Config is fixed at construction time.
type Config struct {
	// Capacity is the number of resources launched by Initialize.
	Capacity int
	// Launch is passed unchanged to every Launcher call.
	Launch LaunchOptions
	// CreateRetryLimit and CreateRetryDelay parameterize the caller's retry
	// loop around Initialize. The pool never retries creation itself.
	CreateRetryLimit int
	CreateRetryDelay time.Duration
	// MaxWaiters bounds the FIFO queue of callers blocked in Acquire.
	MaxWaiters int
}

const (
	defaultCapacity         = 1
	defaultCreateRetryLimit = 3
	defaultCreateRetryDelay = 5 * time.Second
	defaultMaxWaiters       = 64
)

// DefaultConfig returns a single headless resource with three creation
// attempts five seconds apart.
func DefaultConfig() Config {
	return Config{
		Capacity:         defaultCapacity,
		Launch:           LaunchOptions{Headless: true, WindowWidth: 1920, WindowHeight: 1080, NoSandbox: true},
		CreateRetryLimit: defaultCreateRetryLimit,
		CreateRetryDelay: defaultCreateRetryDelay,
		MaxWaiters:       defaultMaxWaiters,
	}
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = defaultCapacity
	}
	if c.CreateRetryLimit <= 0 {
		c.CreateRetryLimit = defaultCreateRetryLimit
	}
	if c.CreateRetryDelay <= 0 {
		c.CreateRetryDelay = defaultCreateRetryDelay
	}
	if c.MaxWaiters <= 0 {
		c.MaxWaiters = defaultMaxWaiters
	}
	return c
}
