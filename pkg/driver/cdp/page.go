package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/jmylchreest/autobrowse/internal/logger"
	"github.com/jmylchreest/autobrowse/pkg/driver"
)

// lifecycleState counts main-frame lifecycle events.
type lifecycleState struct {
	domSeq  uint64
	loadSeq uint64
	idle    bool
}

// lifecycle broadcasts state changes by closing and replacing changed.
type lifecycle struct {
	mu      sync.Mutex
	state   lifecycleState
	changed chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{changed: make(chan struct{})}
}

func (l *lifecycle) update(fn func(*lifecycleState)) {
	l.mu.Lock()
	fn(&l.state)
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

func (l *lifecycle) snapshot() (lifecycleState, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.changed
}

// wait blocks until cond holds or ctx is done.
func (l *lifecycle) wait(ctx context.Context, cond func(lifecycleState) bool) error {
	for {
		st, changed := l.snapshot()
		if cond(st) {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tab is one page. The first page of a context shares the context's target
// and has no cancel of its own.
type tab struct {
	ctx      context.Context
	cancel   context.CancelFunc
	viewport driver.Viewport
	life     *lifecycle

	mu        sync.Mutex
	mainFrame cdpproto.FrameID
	mouse     [2]float64
	onLoad    []func()
	closed    bool
}

func newTab(ctx context.Context, cancel context.CancelFunc, vp driver.Viewport) *tab {
	return &tab{ctx: ctx, cancel: cancel, viewport: vp, life: newLifecycle()}
}

// setup applies emulation, headers, init scripts and stored cookies before
// the first navigation.
func (p *tab) setup(ctx context.Context, opts driver.ContextOptions, restoreCookies bool) error {
	chromedp.ListenTarget(p.ctx, p.handleEvent(opts.Filter))

	tasks := chromedp.Tasks{
		page.Enable(),
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			p.mu.Lock()
			p.mainFrame = tree.Frame.ID
			p.mu.Unlock()
			return nil
		}),
	}

	if opts.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(opts.UserAgent)
		if opts.Locale != "" {
			ua = ua.WithAcceptLanguage(opts.Locale)
		}
		tasks = append(tasks, ua)
	}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(int64(opts.Viewport.Width), int64(opts.Viewport.Height), 1, false))
	}
	if opts.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(opts.Timezone))
	}
	if opts.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if len(opts.ExtraHeaders) > 0 {
		headers := make(network.Headers, len(opts.ExtraHeaders))
		for k, v := range opts.ExtraHeaders {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}

	scripts := append([]string(nil), opts.InitScripts...)
	if opts.StorageState != nil {
		restore, err := restoreStorageScript(opts.StorageState.Origins)
		if err != nil {
			return fmt.Errorf("failed to encode stored localStorage: %w", err)
		}
		if restore != "" {
			scripts = append(scripts, restore)
		}
	}
	for _, src := range scripts {
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx)
			return err
		}))
	}

	if restoreCookies {
		if live := opts.StorageState.LiveCookies(time.Now()); len(live) > 0 {
			tasks = append(tasks, network.SetCookies(toCookieParams(live)))
		}
	}
	if opts.Filter != nil {
		tasks = append(tasks, fetch.Enable())
	}

	if err := run(ctx, p.ctx, tasks); err != nil {
		return fmt.Errorf("failed to prepare page: %w", err)
	}
	return nil
}

func (p *tab) handleEvent(filter driver.RequestFilter) func(ev any) {
	return func(ev any) {
		switch ev := ev.(type) {
		case *page.EventDomContentEventFired:
			p.life.update(func(s *lifecycleState) { s.domSeq++ })
		case *page.EventLoadEventFired:
			p.life.update(func(s *lifecycleState) { s.loadSeq++ })
			p.mu.Lock()
			hooks := append([]func(){}, p.onLoad...)
			p.mu.Unlock()
			for _, fn := range hooks {
				go fn()
			}
		case *page.EventLifecycleEvent:
			p.mu.Lock()
			main := p.mainFrame
			p.mu.Unlock()
			if main != "" && ev.FrameID != main {
				return
			}
			switch ev.Name {
			case "init":
				p.life.update(func(s *lifecycleState) { s.idle = false })
			case "networkIdle":
				p.life.update(func(s *lifecycleState) { s.idle = true })
			}
		case *fetch.EventRequestPaused:
			if filter == nil {
				return
			}
			// Listener callbacks must not block on CDP round trips.
			go p.resolveRequest(filter, ev)
		}
	}
}

func (p *tab) resolveRequest(filter driver.RequestFilter, ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	exec := cdpproto.WithExecutor(p.ctx, c.Target)
	var err error
	if filter.Match(ev.Request.URL) {
		logger.Debug("blocked request", "url", ev.Request.URL)
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(exec)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(exec)
	}
	if err != nil && p.ctx.Err() == nil {
		logger.Debug("failed to resolve paused request", "url", ev.Request.URL, "error", err)
	}
}

func (p *tab) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *tab) do(ctx context.Context, actions ...chromedp.Action) error {
	if p.isClosed() {
		return driver.ErrClosed
	}
	return run(ctx, p.ctx, actions...)
}

// Navigate implements driver.Page.
func (p *tab) Navigate(ctx context.Context, url string, waitUntil driver.WaitUntil) error {
	before, _ := p.life.snapshot()

	var res page.NavigateReturns
	err := p.do(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdpproto.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res)
	}))
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("failed to navigate to %s: %s", url, res.ErrorText)
	}
	// Same-document navigations produce no loader and no load event.
	if res.LoaderID == "" || waitUntil == driver.WaitCommit {
		return nil
	}

	var cond func(lifecycleState) bool
	switch waitUntil {
	case driver.WaitDOMContentLoaded:
		cond = func(s lifecycleState) bool { return s.domSeq > before.domSeq }
	case driver.WaitNetworkIdle:
		cond = func(s lifecycleState) bool { return s.loadSeq > before.loadSeq && s.idle }
	default:
		cond = func(s lifecycleState) bool { return s.loadSeq > before.loadSeq }
	}
	if err := p.life.wait(ctx, cond); err != nil {
		return fmt.Errorf("waiting for %s on %s: %w", waitUntil, url, err)
	}
	return nil
}

// URL implements driver.Page.
func (p *tab) URL(ctx context.Context) (string, error) {
	var u string
	err := p.do(ctx, chromedp.Location(&u))
	return u, err
}

// Title implements driver.Page.
func (p *tab) Title(ctx context.Context) (string, error) {
	var t string
	err := p.do(ctx, chromedp.Title(&t))
	return t, err
}

// HTML implements driver.Page.
func (p *tab) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.Evaluate(ctx, `document.documentElement ? document.documentElement.outerHTML : ""`, &html)
	return html, err
}

// Evaluate implements driver.Page. The result travels as a JSON string so
// undefined and null results decode the same way.
func (p *tab) Evaluate(ctx context.Context, expression string, out any) error {
	wrapped := "(() => { const v = (" + expression + "); return JSON.stringify(v === undefined ? null : v); })()"
	var raw string
	if err := p.do(ctx, chromedp.Evaluate(wrapped, &raw)); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode evaluation result: %w", err)
	}
	return nil
}

// Query implements driver.Page.
func (p *tab) Query(ctx context.Context, selector string) (driver.Element, error) {
	sel := driver.ParseSelector(selector)

	var nodes []*cdpproto.Node
	var action chromedp.QueryAction
	if sel.Kind == driver.CSS {
		action = chromedp.Nodes(sel.Value, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))
	} else {
		action = chromedp.Nodes(sel.XPathExpr(), &nodes, chromedp.BySearch, chromedp.AtLeast(0))
	}
	if err := p.do(ctx, action); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &element{page: p, selector: selector, node: nodes[0]}, nil
}

// WaitNetworkIdle implements driver.Page.
func (p *tab) WaitNetworkIdle(ctx context.Context) error {
	if p.isClosed() {
		return driver.ErrClosed
	}
	return p.life.wait(ctx, func(s lifecycleState) bool { return s.idle })
}

// Screenshot implements driver.Page. Both modes produce PNG.
func (p *tab) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := p.do(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

// Viewport implements driver.Page.
func (p *tab) Viewport() driver.Viewport {
	return p.viewport
}

// OnLoad implements driver.Page.
func (p *tab) OnLoad(fn func()) {
	p.mu.Lock()
	p.onLoad = append(p.onLoad, fn)
	p.mu.Unlock()
}

// MoveMouse implements human.Pointer.
func (p *tab) MoveMouse(ctx context.Context, x, y float64) error {
	if err := p.do(ctx, chromedp.MouseEvent(input.MouseMoved, x, y)); err != nil {
		return err
	}
	p.mu.Lock()
	p.mouse = [2]float64{x, y}
	p.mu.Unlock()
	return nil
}

// Scroll implements human.Pointer. The wheel event fires at the last mouse
// position.
func (p *tab) Scroll(ctx context.Context, dx, dy float64) error {
	p.mu.Lock()
	x, y := p.mouse[0], p.mouse[1]
	p.mu.Unlock()
	return p.do(ctx, input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(dx).WithDeltaY(dy))
}

// TypeText implements human.Keyboard.
func (p *tab) TypeText(ctx context.Context, text string) error {
	return p.do(ctx, chromedp.KeyEvent(text))
}

var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Backspace":  kb.Backspace,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Delete":     kb.Delete,
	"ArrowDown":  kb.ArrowDown,
	"ArrowUp":    kb.ArrowUp,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
}

// PressKey implements human.Keyboard.
func (p *tab) PressKey(ctx context.Context, key string) error {
	if k, ok := namedKeys[key]; ok {
		key = k
	}
	return p.do(ctx, chromedp.KeyEvent(key))
}

// Close implements driver.Page. The first page of a context is released
// with the context.
func (p *tab) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.cancel == nil {
		return nil
	}
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Cancel(p.ctx) }()
	select {
	case err := <-errc:
		p.cancel()
		if err != nil {
			return fmt.Errorf("failed to close page: %w", err)
		}
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
