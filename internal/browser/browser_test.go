package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/require"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/browserpool"
)

func TestLaunchFlags(t *testing.T) {
	t.Parallel()

	flags := launchFlags(browserpool.LaunchOptions{Headless: true, NoSandbox: true})
	require.Equal(t, true, flags["headless"])
	require.Equal(t, true, flags["no-sandbox"])
	require.Equal(t, true, flags["disable-setuid-sandbox"])
	require.Equal(t, true, flags["disable-dev-shm-usage"])

	flags = launchFlags(browserpool.LaunchOptions{Headless: false})
	require.Equal(t, false, flags["headless"])
	require.NotContains(t, flags, "no-sandbox")
}

func TestAllocatorOptionsIncludeOverrides(t *testing.T) {
	t.Parallel()

	base := allocatorOptions(browserpool.LaunchOptions{})
	full := allocatorOptions(browserpool.LaunchOptions{
		ExecPath:     "/usr/bin/chromium",
		UserAgent:    "docs-scraper",
		WindowWidth:  800,
		WindowHeight: 600,
	})
	require.Len(t, full, len(base)+3)
}

func TestLaunchMissingBinaryFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h, err := NewLauncher(nil).Launch(ctx, browserpool.LaunchOptions{
		Headless: true,
		ExecPath: "/nonexistent/chrome-for-tests",
	})
	require.Error(t, err)
	require.Nil(t, h)
}

func TestBrowserReportsDisconnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := newBrowser(ctx, 42, func() error { return nil }, cancel)

	var mu sync.Mutex
	var seen []browserpool.Lifecycle
	b.OnLifecycle(func(ev browserpool.Lifecycle) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev)
	})
	require.True(t, b.IsAlive())
	require.Equal(t, 42, b.PID())

	cancel()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, time.Millisecond)
	require.False(t, b.IsAlive())
	require.Equal(t, browserpool.LifecycleDisconnected, seen[0].Kind)
}

func TestBrowserTargetEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := newBrowser(ctx, 1, func() error { return nil }, cancel)

	var seen []browserpool.Lifecycle
	b.OnLifecycle(func(ev browserpool.Lifecycle) { seen = append(seen, ev) })

	b.handleBrowserEvent(&target.EventTargetCreated{TargetInfo: &target.Info{TargetID: "T1", URL: "about:blank"}})
	b.handleBrowserEvent(&target.EventTargetDestroyed{TargetID: "T1"})
	b.handleBrowserEvent("unrelated")

	require.Equal(t, []browserpool.Lifecycle{
		{Kind: browserpool.LifecycleTargetCreated, TargetID: "T1", URL: "about:blank"},
		{Kind: browserpool.LifecycleTargetDestroyed, TargetID: "T1"},
	}, seen)
}

func TestBrowserCloseOnce(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	shutdowns, releases := 0, 0
	b := newBrowser(ctx, 7, func() error {
		shutdowns++
		return errors.New("websocket gone")
	}, func() {
		releases++
		cancel()
	})

	err := b.Close(context.Background())
	require.ErrorContains(t, err, "websocket gone")
	require.Equal(t, err, b.Close(context.Background()))
	require.Equal(t, 1, shutdowns)
	require.Equal(t, 1, releases)
	require.False(t, b.IsAlive())
}

func TestBrowserCloseHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	defer close(block)
	b := newBrowser(ctx, 9, func() error {
		<-block
		return nil
	}, cancel)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer closeCancel()
	require.ErrorIs(t, b.Close(closeCtx), context.DeadlineExceeded)
}
