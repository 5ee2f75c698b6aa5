package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/autobrowse/pkg/driver"
	"github.com/jmylchreest/autobrowse/pkg/human"
	"github.com/jmylchreest/autobrowse/pkg/retry"
)

const readyStateJS = `document.readyState`

// GotoOptions control Goto. Zero values take the configured defaults.
type GotoOptions struct {
	// Retries is the attempt count. Defaults to Config.Retry.MaxRetries.
	Retries int
	// Timeout is the budget shared by all attempts; each attempt gets
	// Timeout/Retries. Defaults to Timeouts.ExtraLong.
	Timeout time.Duration
	// WaitUntil defaults to driver.WaitLoad.
	WaitUntil driver.WaitUntil
}

// Goto navigates with retries. On success the page is given WaitForReady;
// after the last failed attempt a goto_failed screenshot is saved and the
// error is returned wrapped in ErrNavigation.
func (s *Session) Goto(ctx context.Context, url string, opts GotoOptions) error {
	if s.closed.Load() {
		return ErrClosed
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = s.cfg.Retry.MaxRetries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeouts.ExtraLong
	}
	waitUntil := opts.WaitUntil
	if waitUntil == "" {
		waitUntil = driver.WaitLoad
	}
	perAttempt := timeout / time.Duration(retries)

	start := time.Now()
	_, err := retry.Do(ctx, s.cfg.Retry.WithMaxRetries(retries), func(ctx context.Context, attempt int) (struct{}, error) {
		s.log.Debug("navigating", "url", url, "attempt", attempt, "of", retries, "budget", perAttempt)
		actx, cancel := context.WithTimeout(ctx, perAttempt)
		defer cancel()
		return struct{}{}, s.page.Navigate(actx, url, waitUntil)
	})
	metricNavigationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		metricActions.WithLabelValues("goto", resultLabel(false)).Inc()
		s.log.Error("navigation failed", "url", url, "attempts", retries, "elapsed", time.Since(start).Round(time.Millisecond), "error", err)

		shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeouts.Short)
		s.Screenshot(shotCtx, "goto_failed", ScreenshotOptions{})
		cancel()
		return fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
	}

	metricActions.WithLabelValues("goto", resultLabel(true)).Inc()
	s.WaitForReady(ctx, ReadyOptions{WaitForLoad: waitUntil != driver.WaitCommit})
	return nil
}

// ReadyOptions control WaitForReady.
type ReadyOptions struct {
	// WaitForLoad waits for readyState "complete" instead of just past
	// "loading".
	WaitForLoad bool
	// WaitForNetwork adds a network-idle wait bounded by Timeouts.Short.
	// Its timeout is tolerated.
	WaitForNetwork bool
	// Timeout bounds the whole call. Defaults to Timeouts.Medium.
	Timeout time.Duration
}

// WaitForReady lets the page settle: DOM ready, optional network idle,
// document.readyState polling and finally Config.SettleDelay. Every step
// is best effort and failures are only logged.
func (s *Session) WaitForReady(ctx context.Context, opts ReadyOptions) {
	if s.closed.Load() {
		return
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeouts.Medium
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.pollReadyState(rctx, false); err != nil {
		s.log.Debug("dom ready wait ended", "error", err)
	}

	if opts.WaitForNetwork {
		nctx, ncancel := context.WithTimeout(rctx, s.cfg.Timeouts.Short)
		if err := s.page.WaitNetworkIdle(nctx); err != nil {
			s.log.Debug("network idle wait timed out, continuing", "error", err)
		}
		ncancel()
	}

	if opts.WaitForLoad {
		if err := s.pollReadyState(rctx, true); err != nil {
			s.log.Debug("load wait ended", "error", err)
		}
	}

	if err := human.Sleep(ctx, s.cfg.SettleDelay); err != nil {
		s.log.Debug("settle delay interrupted", "error", err)
	}
}

// pollReadyState polls document.readyState until it is "complete", or
// anything other than "loading" when complete is false.
func (s *Session) pollReadyState(ctx context.Context, complete bool) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		var state string
		err := s.page.Evaluate(ctx, readyStateJS, &state)
		switch {
		case err != nil:
			s.log.Debug("ready state check failed", "error", err)
		case state == "complete":
			return nil
		case !complete && state == "interactive":
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
