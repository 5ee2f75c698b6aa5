package session

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/autobrowse/internal/logger"
	"github.com/jmylchreest/autobrowse/pkg/authstore"
	"github.com/jmylchreest/autobrowse/pkg/detect"
	"github.com/jmylchreest/autobrowse/pkg/driver"
	"github.com/jmylchreest/autobrowse/pkg/events"
	"github.com/jmylchreest/autobrowse/pkg/human"
	"github.com/jmylchreest/autobrowse/pkg/stealth"
)

// LaunchOptions are per-launch overrides of the client configuration.
type LaunchOptions struct {
	// Headless and Stealth override the client configuration when set.
	Headless *bool
	Stealth  *bool

	// Auth names the auth profile to restore. A missing or stale profile
	// is logged and the session starts unauthenticated.
	Auth string
	// Profile is a free-form label carried on the session.
	Profile string
	// Proxy overrides Config.Proxy when set.
	Proxy string

	// Context overrides the generated fingerprint. Zero fields keep the
	// generated values; headers and init scripts are added to the stealth
	// ones.
	Context driver.ContextOptions

	// OnCaptcha is called on its own goroutine for every load event whose
	// document shows a captcha.
	OnCaptcha func(page driver.Page, info detect.CaptchaInfo)
}

// Launch starts a browser and returns a session owning one browser, one
// context and one page.
func (c *Client) Launch(ctx context.Context, opts LaunchOptions) (*Session, error) {
	cfg := c.config

	headless := cfg.Headless
	if opts.Headless != nil {
		headless = *opts.Headless
	}
	stealthOn := cfg.Stealth
	if opts.Stealth != nil {
		stealthOn = *opts.Stealth
	}

	proxy := cfg.Proxy
	if opts.Proxy != "" {
		proxy = opts.Proxy
	}
	proxy = resolveProxy(proxy)

	fp := stealth.PickFingerprint()
	if opts.Context.Locale != "" {
		fp = fp.WithLocale(opts.Context.Locale)
	}
	ctxOpts := contextOptions(fp, stealthOn, cfg.BlockTrackers, opts.Context)

	flags := stealth.BaseFlags()
	if stealthOn {
		maps.Copy(flags, stealth.LaunchFlags())
	}

	id := uuid.NewString()
	log := logger.With("session", id)
	log.Debug("launching browser",
		"headless", headless,
		"stealth", stealthOn,
		"viewport", fmt.Sprintf("%dx%d", ctxOpts.Viewport.Width, ctxOpts.Viewport.Height),
		"auth", opts.Auth,
		"proxied", proxy != "")

	browser, err := cfg.Launcher(ctx, driver.LaunchOptions{
		Headless:  headless,
		Channel:   cfg.Channel,
		Flags:     flags,
		UserAgent: ctxOpts.UserAgent,
		Viewport:  ctxOpts.Viewport,
		Proxy:     proxy,
	})
	if err != nil {
		metricLaunches.WithLabelValues(resultLabel(false)).Inc()
		log.Error("browser launch failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	if opts.Auth != "" {
		ctxOpts.StorageState = loadAuth(ctx, cfg, opts.Auth)
	}

	bctx, err := browser.NewContext(ctx, ctxOpts)
	if err != nil {
		metricLaunches.WithLabelValues(resultLabel(false)).Inc()
		if cerr := browser.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Debug("failed to close browser after context error", "error", cerr)
		}
		return nil, fmt.Errorf("%w: creating context: %w", ErrLaunch, err)
	}

	page, err := bctx.NewPage(ctx)
	if err != nil {
		metricLaunches.WithLabelValues(resultLabel(false)).Inc()
		cleanup := context.WithoutCancel(ctx)
		if cerr := bctx.Close(cleanup); cerr != nil {
			log.Debug("failed to close context after page error", "error", cerr)
		}
		if cerr := browser.Close(cleanup); cerr != nil {
			log.Debug("failed to close browser after page error", "error", cerr)
		}
		return nil, fmt.Errorf("%w: creating page: %w", ErrLaunch, err)
	}

	s := &Session{
		id:      id,
		profile: opts.Profile,
		authKey: opts.Auth,
		cfg:     cfg,
		browser: browser,
		bctx:    bctx,
		page:    page,
		human:   human.New(cfg.Human),
		bus:     events.NewBus(events.DefaultBuffer),
		log:     log,
	}
	if opts.OnCaptcha != nil {
		s.dispatchCaptcha(opts.OnCaptcha)
	}
	page.OnLoad(s.handleLoad)

	metricLaunches.WithLabelValues(resultLabel(true)).Inc()
	metricSessionsActive.Inc()
	log.Info("session started", "headless", headless, "stealth", stealthOn, "authenticated", ctxOpts.StorageState != nil)
	return s, nil
}

// contextOptions merges the fingerprint, stealth output and caller
// overrides into the options for a new browser context.
func contextOptions(fp stealth.Fingerprint, stealthOn, blockTrackers bool, override driver.ContextOptions) driver.ContextOptions {
	out := driver.ContextOptions{
		UserAgent: fp.UserAgent,
		Viewport:  driver.Viewport{Width: fp.Viewport.Width, Height: fp.Viewport.Height},
		Locale:    fp.Locale,
	}
	if stealthOn {
		out.Timezone = fp.Timezone
		out.ExtraHeaders = stealth.Headers(fp)
		out.InitScripts = []string{stealth.Script(fp, 0)}
	}

	if override.UserAgent != "" {
		out.UserAgent = override.UserAgent
	}
	if override.Viewport.Width > 0 && override.Viewport.Height > 0 {
		out.Viewport = override.Viewport
	}
	if override.Locale != "" {
		out.Locale = override.Locale
	}
	if override.Timezone != "" {
		out.Timezone = override.Timezone
	}
	if len(override.ExtraHeaders) > 0 {
		if out.ExtraHeaders == nil {
			out.ExtraHeaders = make(map[string]string, len(override.ExtraHeaders))
		}
		maps.Copy(out.ExtraHeaders, override.ExtraHeaders)
	}
	out.InitScripts = append(out.InitScripts, override.InitScripts...)

	switch {
	case override.Filter != nil:
		out.Filter = override.Filter
	case blockTrackers:
		out.Filter = stealth.DefaultBlocklist()
	}
	return out
}

// loadAuth fetches an auth profile. Every failure degrades to nil.
func loadAuth(ctx context.Context, cfg Config, name string) *authstore.State {
	if cfg.Store == nil {
		logger.Warn("auth profile requested but no store is configured", "profile", name)
		return nil
	}
	if !cfg.Store.HasValid(ctx, name, cfg.AuthMaxAge) {
		logger.Warn("auth profile missing or stale, continuing unauthenticated",
			"profile", name,
			"max_age", cfg.AuthMaxAge)
		return nil
	}
	state, err := cfg.Store.Load(ctx, name)
	if err != nil {
		logger.Warn("failed to load auth profile, continuing unauthenticated", "profile", name, "error", err)
		return nil
	}
	if state == nil {
		logger.Warn("auth profile disappeared before load", "profile", name)
		return nil
	}
	logger.Debug("restoring auth profile",
		"profile", name,
		"cookies", len(state.Cookies),
		"origins", len(state.Origins),
		"age", state.Age(time.Now()).Round(time.Second))
	return state
}

// handleLoad runs after every load event: it publishes the load and checks
// the document for a captcha.
func (s *Session) handleLoad() {
	if s.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeouts.Short)
	defer cancel()

	url, err := s.page.URL(ctx)
	if err != nil {
		s.log.Debug("load hook could not read url", "error", err)
	}
	s.bus.Publish(events.Event{Type: events.PageLoaded, SessionID: s.id, URL: url})

	html, err := s.page.HTML(ctx)
	if err != nil {
		s.log.Debug("captcha check skipped", "url", url, "error", err)
		return
	}
	info := detect.DetectCaptcha(html)
	if !info.Detected {
		return
	}
	metricIssues.WithLabelValues("captcha").Inc()
	s.log.Warn("captcha detected", "url", url, "type", info.Type, "selector", info.Selector)
	s.bus.Publish(events.Event{Type: events.CaptchaDetected, SessionID: s.id, URL: url, Captcha: info})
}

// dispatchCaptcha subscribes fn to captcha events. The subscription ends
// when the session closes the bus.
func (s *Session) dispatchCaptcha(fn func(driver.Page, detect.CaptchaInfo)) {
	ch, _ := s.bus.Subscribe()
	go func() {
		for ev := range ch {
			if ev.Type != events.CaptchaDetected {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("captcha callback panicked", "panic", r)
					}
				}()
				fn(s.page, ev.Captcha)
			}()
		}
	}()
}
