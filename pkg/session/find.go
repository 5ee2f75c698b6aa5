package session

import (
	"context"
	"time"

	"github.com/jmylchreest/autobrowse/pkg/driver"
)

// FindOptions control FindElement.
type FindOptions struct {
	// Timeout is shared by all candidates; each gets Timeout/len(selectors).
	// Defaults to Timeouts.Medium.
	Timeout       time.Duration
	MustBeVisible bool
	MustBeEnabled bool
	// PollInterval defaults to Config.PollInterval.
	PollInterval time.Duration
}

// FindElement tries selectors in order and returns the first element that
// passes the visibility and enabled filters, or nil when none does within
// its budget.
func (s *Session) FindElement(ctx context.Context, selectors []string, opts FindOptions) driver.Element {
	if s.closed.Load() || len(selectors) == 0 {
		return nil
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeouts.Medium
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}
	budget := timeout / time.Duration(len(selectors))

	for i, sel := range selectors {
		if ctx.Err() != nil {
			return nil
		}
		if el := s.awaitCandidate(ctx, sel, budget, interval, opts); el != nil {
			s.log.Debug("element resolved", "selector", sel, "candidate", i+1, "of", len(selectors))
			return el
		}
	}
	s.log.Debug("no candidate resolved", "selectors", selectors, "timeout", timeout)
	return nil
}

// awaitCandidate polls one selector for up to budget.
func (s *Session) awaitCandidate(ctx context.Context, selector string, budget, interval time.Duration, opts FindOptions) driver.Element {
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if el := s.checkCandidate(cctx, selector, opts); el != nil {
			return el
		}
		select {
		case <-cctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// checkCandidate queries once. Any error counts as no match.
func (s *Session) checkCandidate(ctx context.Context, selector string, opts FindOptions) driver.Element {
	el, err := s.page.Query(ctx, selector)
	if err != nil {
		s.log.Debug("query failed", "selector", selector, "error", err)
		return nil
	}
	if el == nil {
		return nil
	}
	if opts.MustBeVisible {
		if ok, err := el.Visible(ctx); err != nil || !ok {
			return nil
		}
	}
	if opts.MustBeEnabled {
		if ok, err := el.Enabled(ctx); err != nil || !ok {
			return nil
		}
	}
	return el
}
