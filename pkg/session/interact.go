package session

import (
	"context"
	"time"

	"github.com/jmylchreest/autobrowse/pkg/driver"
	"github.com/jmylchreest/autobrowse/pkg/retry"
)

// ClickOptions control Click.
type ClickOptions struct {
	// Timeout is the FindElement budget per attempt. Defaults to
	// Timeouts.Medium.
	Timeout time.Duration
	// Retries defaults to Config.Retry.MaxRetries.
	Retries int
	// Human overrides Config.Human.Enabled.
	Human *bool
}

// TypeOptions control Type.
type TypeOptions struct {
	Timeout time.Duration
	Retries int
	Human   *bool
	// Clear empties the field before typing.
	Clear bool
	// PressEnter presses Enter after the text.
	PressEnter bool
}

// Click resolves selectors and clicks the element, retrying the whole
// sequence under the retry policy. It reports whether a click landed.
func (s *Session) Click(ctx context.Context, selectors []string, opts ClickOptions) bool {
	if s.closed.Load() {
		return false
	}
	useHuman := s.humanEnabled(opts.Human)
	timeout := s.orMedium(opts.Timeout)

	ok := retry.DoBool(ctx, s.policy(opts.Retries), func(ctx context.Context, attempt int) bool {
		el := s.FindElement(ctx, selectors, FindOptions{Timeout: timeout, MustBeVisible: true, MustBeEnabled: true})
		if el == nil {
			s.log.Debug("click target not found", "selectors", selectors, "attempt", attempt)
			return false
		}
		s.prepare(ctx, el, useHuman)
		if err := el.Click(ctx); err != nil {
			s.log.Debug("click failed", "selector", el.Selector(), "attempt", attempt, "error", err)
			return false
		}
		return true
	})

	metricActions.WithLabelValues("click", resultLabel(ok)).Inc()
	if !ok {
		s.log.Warn("click gave up", "selectors", selectors)
	}
	return ok
}

// Type resolves selectors, focuses the element and types text, retrying
// the whole sequence under the retry policy.
func (s *Session) Type(ctx context.Context, selectors []string, text string, opts TypeOptions) bool {
	if s.closed.Load() {
		return false
	}
	useHuman := s.humanEnabled(opts.Human)
	timeout := s.orMedium(opts.Timeout)

	ok := retry.DoBool(ctx, s.policy(opts.Retries), func(ctx context.Context, attempt int) bool {
		el := s.FindElement(ctx, selectors, FindOptions{Timeout: timeout, MustBeVisible: true, MustBeEnabled: true})
		if el == nil {
			s.log.Debug("type target not found", "selectors", selectors, "attempt", attempt)
			return false
		}
		s.prepare(ctx, el, useHuman)
		if err := el.Focus(ctx); err != nil {
			s.log.Debug("focus failed", "selector", el.Selector(), "error", err)
			return false
		}
		if opts.Clear {
			if err := el.Clear(ctx); err != nil {
				s.log.Debug("clear failed", "selector", el.Selector(), "error", err)
				return false
			}
		}

		var err error
		if useHuman {
			err = s.human.Type(ctx, s.page, text)
		} else {
			err = s.page.TypeText(ctx, text)
		}
		if err != nil {
			s.log.Debug("typing failed", "selector", el.Selector(), "attempt", attempt, "error", err)
			return false
		}

		if opts.PressEnter {
			if err := s.page.PressKey(ctx, "Enter"); err != nil {
				s.log.Debug("enter key failed", "selector", el.Selector(), "error", err)
				return false
			}
		}
		return true
	})

	metricActions.WithLabelValues("type", resultLabel(ok)).Inc()
	if !ok {
		s.log.Warn("type gave up", "selectors", selectors)
	}
	return ok
}

// prepare scrolls el into view and, with human simulation on, moves the
// mouse to a random point inside it. Failures are logged and ignored.
func (s *Session) prepare(ctx context.Context, el driver.Element, useHuman bool) {
	if err := el.ScrollIntoView(ctx); err != nil {
		s.log.Debug("scroll into view failed", "selector", el.Selector(), "error", err)
	}
	if !useHuman {
		return
	}
	box, err := el.Box(ctx)
	if err != nil {
		s.log.Debug("element box unavailable", "selector", el.Selector(), "error", err)
		return
	}
	if err := s.human.MoveTo(ctx, s.page, s.human.ClickPoint(box)); err != nil {
		s.log.Debug("mouse path interrupted", "error", err)
	}
}

func (s *Session) policy(retries int) retry.Policy {
	if retries > 0 {
		return s.cfg.Retry.WithMaxRetries(retries)
	}
	return s.cfg.Retry
}

func (s *Session) humanEnabled(override *bool) bool {
	if override != nil {
		return *override
	}
	return s.cfg.Human.Enabled
}

func (s *Session) orMedium(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return s.cfg.Timeouts.Medium
}
