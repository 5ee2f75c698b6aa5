package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/autobrowse/pkg/driver"
)

// ConditionKind selects what a Condition tests.
type ConditionKind int

const (
	// ConditionSelector holds when an element matches Value.
	ConditionSelector ConditionKind = iota
	// ConditionURL holds when the page URL contains Value.
	ConditionURL
	// ConditionText holds when the visible body text contains Value.
	ConditionText
	// ConditionPredicate holds when Predicate returns true.
	ConditionPredicate
)

func (k ConditionKind) String() string {
	switch k {
	case ConditionSelector:
		return "selector"
	case ConditionURL:
		return "url"
	case ConditionText:
		return "text"
	case ConditionPredicate:
		return "predicate"
	default:
		return fmt.Sprintf("ConditionKind(%d)", int(k))
	}
}

// Condition is one alternative of WaitForAny.
type Condition struct {
	Kind  ConditionKind
	Value string
	// Predicate is used by ConditionPredicate. An error counts as false.
	Predicate func(ctx context.Context, page driver.Page) (bool, error)
}

// Selector returns a condition satisfied by an element matching sel.
func Selector(sel string) Condition { return Condition{Kind: ConditionSelector, Value: sel} }

// URLContains returns a condition satisfied when the URL contains sub.
func URLContains(sub string) Condition { return Condition{Kind: ConditionURL, Value: sub} }

// TextContains returns a condition satisfied when the page text contains sub.
func TextContains(sub string) Condition { return Condition{Kind: ConditionText, Value: sub} }

// Predicate returns a custom condition. name is used in logs.
func Predicate(name string, fn func(ctx context.Context, page driver.Page) (bool, error)) Condition {
	return Condition{Kind: ConditionPredicate, Value: name, Predicate: fn}
}

func (c Condition) String() string {
	return c.Kind.String() + ":" + c.Value
}

// WaitOptions control WaitForAny.
type WaitOptions struct {
	// Timeout defaults to Timeouts.Long.
	Timeout time.Duration
	// CheckInterval defaults to Config.PollInterval.
	CheckInterval time.Duration
}

// WaitResult reports which condition matched. Index is -1 when nothing
// matched.
type WaitResult struct {
	Matched   bool
	Index     int
	Condition Condition
	Elapsed   time.Duration
}

const bodyTextJS = `document.body ? document.body.innerText : ""`

// WaitForAny polls until one of conditions holds. Each tick evaluates the
// conditions fresh and in list order; the first true one wins, so when
// several become true together the earliest in the list is returned.
func (s *Session) WaitForAny(ctx context.Context, conditions []Condition, opts WaitOptions) WaitResult {
	res := WaitResult{Index: -1}
	if s.closed.Load() || len(conditions) == 0 {
		return res
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeouts.Long
	}
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		t := &tick{s: s}
		for i, c := range conditions {
			if t.holds(wctx, c) {
				res = WaitResult{Matched: true, Index: i, Condition: c, Elapsed: time.Since(start)}
				s.log.Debug("wait condition matched", "condition", c.String(), "index", i, "elapsed", res.Elapsed)
				return res
			}
		}
		select {
		case <-wctx.Done():
			res.Elapsed = time.Since(start)
			s.log.Debug("wait timed out", "conditions", len(conditions), "elapsed", res.Elapsed)
			return res
		case <-ticker.C:
		}
	}
}

// tick caches the URL and body text for one round of checks.
type tick struct {
	s    *Session
	url  *string
	text *string
}

func (t *tick) holds(ctx context.Context, c Condition) bool {
	switch c.Kind {
	case ConditionSelector:
		el, err := t.s.page.Query(ctx, c.Value)
		return err == nil && el != nil
	case ConditionURL:
		if t.url == nil {
			u, err := t.s.page.URL(ctx)
			if err != nil {
				t.s.log.Debug("wait: url unavailable", "error", err)
			}
			t.url = &u
		}
		return strings.Contains(*t.url, c.Value)
	case ConditionText:
		if t.text == nil {
			var body string
			if err := t.s.page.Evaluate(ctx, bodyTextJS, &body); err != nil {
				t.s.log.Debug("wait: body text unavailable", "error", err)
			}
			t.text = &body
		}
		return strings.Contains(*t.text, c.Value)
	case ConditionPredicate:
		if c.Predicate == nil {
			return false
		}
		ok, err := c.Predicate(ctx, t.s.page)
		if err != nil {
			t.s.log.Debug("wait: predicate failed", "predicate", c.Value, "error", err)
			return false
		}
		return ok
	default:
		return false
	}
}
