package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/autobrowse/pkg/detect"
	"github.com/jmylchreest/autobrowse/pkg/driver"
	"github.com/jmylchreest/autobrowse/pkg/events"
	"github.com/jmylchreest/autobrowse/pkg/human"
)

// Session is one browser, one context and one page driven through the
// facade methods. Methods are meant to be called from one goroutine at a
// time.
type Session struct {
	id      string
	profile string
	authKey string
	cfg     Config

	browser driver.Browser
	bctx    driver.Context
	page    driver.Page

	human *human.Simulator
	bus   *events.Bus
	log   *slog.Logger

	closed atomic.Bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Profile returns the label given at launch.
func (s *Session) Profile() string { return s.profile }

// AuthKey returns the auth profile restored at launch, if any.
func (s *Session) AuthKey() string { return s.authKey }

// Config returns the configuration the session was launched with.
func (s *Session) Config() Config { return s.cfg }

// Page returns the underlying page for operations the facade does not
// cover.
func (s *Session) Page() driver.Page { return s.page }

// Events subscribes to the page lifecycle stream. Call the returned
// function to unsubscribe; the channel is closed when the session closes.
func (s *Session) Events() (<-chan events.Event, func()) {
	return s.bus.Subscribe()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close releases the page, the context and the browser in that order.
// Every step is attempted even when an earlier one fails. Only the first
// call does any work; later calls return nil.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	errs := []error{
		closeStep("page", func() error { return s.page.Close(ctx) }),
		closeStep("context", func() error { return s.bctx.Close(ctx) }),
		closeStep("browser", func() error { return s.browser.Close(ctx) }),
	}

	s.bus.Publish(events.Event{Type: events.SessionClosed, SessionID: s.id})
	s.bus.Close()
	metricSessionsActive.Dec()

	err := errors.Join(errs...)
	if err != nil {
		s.log.Warn("session closed with errors", "error", err)
	} else {
		s.log.Info("session closed")
	}
	return err
}

// closeStep runs one teardown step and turns a panic into an error.
func closeStep(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close %s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// State is a snapshot of the page.
type State struct {
	URL        string        `json:"url" yaml:"url"`
	Title      string        `json:"title" yaml:"title"`
	ReadyState string        `json:"ready_state" yaml:"ready_state"`
	Issues     detect.Report `json:"issues" yaml:"issues"`
}

// State reads the page URL, title and ready state and runs the issue
// detector. Fields that cannot be read are left empty.
func (s *Session) State(ctx context.Context) State {
	var st State
	if s.closed.Load() {
		return st
	}
	var err error
	if st.URL, err = s.page.URL(ctx); err != nil {
		s.log.Debug("state: url unavailable", "error", err)
	}
	if st.Title, err = s.page.Title(ctx); err != nil {
		s.log.Debug("state: title unavailable", "error", err)
	}
	if err := s.page.Evaluate(ctx, readyStateJS, &st.ReadyState); err != nil {
		s.log.Debug("state: ready state unavailable", "error", err)
	}
	st.Issues = s.detect(ctx, st.URL)
	return st
}

// DetectIssues classifies the current page.
func (s *Session) DetectIssues(ctx context.Context) detect.Report {
	if s.closed.Load() {
		return detect.Report{}
	}
	url, err := s.page.URL(ctx)
	if err != nil {
		s.log.Debug("issue detection: url unavailable", "error", err)
	}
	return s.detect(ctx, url)
}

func (s *Session) detect(ctx context.Context, url string) detect.Report {
	html, err := s.page.HTML(ctx)
	if err != nil {
		s.log.Debug("issue detection: document unavailable", "error", err)
		return detect.Detect(url, "")
	}
	report, _ := detect.DetectDocument(url, html)
	for _, flag := range report.Flags() {
		metricIssues.WithLabelValues(flag).Inc()
	}
	if report.Any() {
		s.log.Debug("page issues detected", "url", url, "flags", report.Flags(), "reasons", report.Reasons)
	}
	return report
}

// ScreenshotOptions control a capture.
type ScreenshotOptions struct {
	FullPage bool
	// Dir overrides Config.ScreenshotDir.
	Dir string
}

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Screenshot writes <label>_<epochMillis>.png and returns its path, or ""
// when the capture or the write fails.
func (s *Session) Screenshot(ctx context.Context, label string, opts ScreenshotOptions) string {
	if s.closed.Load() {
		return ""
	}
	dir := opts.Dir
	if dir == "" {
		dir = s.cfg.ScreenshotDir
	}
	if label = unsafeLabel.ReplaceAllString(label, "_"); label == "" {
		label = "screenshot"
	}

	data, err := s.Capture(ctx, opts.FullPage)
	if err != nil {
		s.log.Warn("screenshot capture failed", "label", label, "error", err)
		return ""
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("screenshot directory unavailable", "dir", dir, "error", err)
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", label, time.Now().UnixMilli()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn("screenshot write failed", "path", path, "error", err)
		return ""
	}
	s.log.Info("screenshot saved", "path", path, "size", humanize.Bytes(uint64(len(data))))
	return path
}

// Capture returns a PNG of the viewport, or of the whole page when
// fullPage is set, without writing it anywhere.
func (s *Session) Capture(ctx context.Context, fullPage bool) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.page.Screenshot(ctx, fullPage)
}

// SaveAuthState snapshots cookies and localStorage into the auth store
// under profile, or under the session's auth key when profile is empty.
func (s *Session) SaveAuthState(ctx context.Context, profile string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if profile == "" {
		profile = s.authKey
	}
	if profile == "" {
		return errors.New("save auth state: no profile name")
	}
	if s.cfg.Store == nil {
		return ErrNoStore
	}

	state, err := s.bctx.StorageState(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot storage: %w", err)
	}
	if err := s.cfg.Store.Save(ctx, profile, state); err != nil {
		return fmt.Errorf("failed to save auth profile %s: %w", profile, err)
	}
	s.log.Info("auth profile saved", "profile", profile, "cookies", len(state.Cookies), "origins", len(state.Origins))
	return nil
}

// Idle performs random mouse moves and scrolls for up to budget.
func (s *Session) Idle(ctx context.Context, budget time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	vp := s.page.Viewport()
	return s.human.Idle(ctx, s.page, budget, human.Box{Width: float64(vp.Width), Height: float64(vp.Height)})
}

// LoginFields are the selector sets AutoFillLogin types into. Submit may
// be empty, in which case Enter is pressed in the password field.
type LoginFields struct {
	Username []string
	Password []string
	Submit   []string
}

// AutoFillLogin types the stored credentials for service into the given
// fields and submits the form.
func (s *Session) AutoFillLogin(ctx context.Context, service string, fields LoginFields) bool {
	if s.cfg.Store == nil {
		s.log.Warn("auto login skipped: no auth store", "service", service)
		return false
	}
	creds, err := s.cfg.Store.Credentials(ctx, service)
	if err != nil {
		s.log.Warn("auto login skipped: no credentials", "service", service, "error", err)
		return false
	}

	if !s.Type(ctx, fields.Username, creds.Login(), TypeOptions{Clear: true}) {
		s.log.Warn("auto login: username field not filled", "service", service)
		return false
	}
	submitWithEnter := len(fields.Submit) == 0
	if !s.Type(ctx, fields.Password, creds.Password, TypeOptions{Clear: true, PressEnter: submitWithEnter}) {
		s.log.Warn("auto login: password field not filled", "service", service)
		return false
	}
	if submitWithEnter {
		return true
	}
	return s.Click(ctx, fields.Submit, ClickOptions{})
}
