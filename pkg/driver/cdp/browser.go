// Package cdp implements the driver interfaces with chromedp over the
// Chrome DevTools Protocol.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/autobrowse/internal/logger"
	"github.com/jmylchreest/autobrowse/pkg/driver"
)

// ErrLaunch wraps browser start-up failures.
var ErrLaunch = errors.New("browser launch failed")

// Browser is a chromedp-controlled browser process.
type Browser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ driver.Launcher = Launch

// Launch starts a browser process. The process outlives ctx; ctx bounds
// only the start-up.
func Launch(ctx context.Context, opts driver.LaunchOptions) (driver.Browser, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	for name, value := range opts.Flags {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}

	execPath := opts.ExecPath
	if execPath == "" {
		execPath = FindBrowserPath(opts.Channel)
	}
	if execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(execPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.Viewport.Width, opts.Viewport.Height))
	}
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp error", "msg", fmt.Sprintf(format, args...))
		}),
	)

	logger.Debug("starting browser", "headless", opts.Headless, "channel", opts.Channel, "exec", execPath, "flags", len(opts.Flags), "proxied", opts.Proxy != "")

	// The first Run allocates the browser and ties its lifetime to the
	// context it is given, so it must be browserCtx and not a derived one.
	if err := startWithin(ctx, browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	return &Browser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// startWithin runs the first (empty) action list on target while honouring
// the caller's deadline.
func startWithin(ctx, target context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(target) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewContext implements driver.Browser.
func (b *Browser) NewContext(ctx context.Context, opts driver.ContextOptions) (driver.Context, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, driver.ErrClosed
	}

	cctx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	if err := startWithin(ctx, cctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return newBrowserContext(cctx, cancel, opts), nil
}

// Close implements driver.Browser. It is safe to call more than once.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- chromedp.Cancel(b.browserCtx) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.browserCancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
