package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/jmylchreest/autobrowse/pkg/authstore"
	"github.com/jmylchreest/autobrowse/pkg/driver"
	"github.com/jmylchreest/autobrowse/pkg/human"
)

// closeLog records teardown order across the fake browser, context and page.
type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *closeLog) add(name string) {
	l.mu.Lock()
	l.order = append(l.order, name)
	l.mu.Unlock()
}

func (l *closeLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type fakeDriver struct {
	mu         sync.Mutex
	launchErr  error
	contextErr error
	pageErr    error
	launches   []driver.LaunchOptions
	contexts   []driver.ContextOptions
	browsers   []*fakeBrowser
	// setup prepares each new page before the session sees it.
	setup func(*fakePage)
	log   *closeLog

	pageCloseErr    error
	browserCloseErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{log: &closeLog{}}
}

func (d *fakeDriver) Launch(_ context.Context, opts driver.LaunchOptions) (driver.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches = append(d.launches, opts)
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	b := &fakeBrowser{d: d}
	d.browsers = append(d.browsers, b)
	return b, nil
}

func (d *fakeDriver) lastContext() driver.ContextOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contexts[len(d.contexts)-1]
}

func (d *fakeDriver) lastBrowser() *fakeBrowser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.browsers[len(d.browsers)-1]
}

type fakeBrowser struct {
	d      *fakeDriver
	ctx    *fakeContext
	closed int
}

func (b *fakeBrowser) NewContext(_ context.Context, opts driver.ContextOptions) (driver.Context, error) {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	b.d.contexts = append(b.d.contexts, opts)
	if b.d.contextErr != nil {
		return nil, b.d.contextErr
	}
	c := &fakeContext{d: b.d}
	if opts.StorageState != nil {
		c.cookies = append(c.cookies, opts.StorageState.Cookies...)
		c.origins = append(c.origins, opts.StorageState.Origins...)
	}
	b.ctx = c
	return c, nil
}

func (b *fakeBrowser) Close(context.Context) error {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	b.closed++
	b.d.log.add("browser")
	return b.d.browserCloseErr
}

type fakeContext struct {
	d       *fakeDriver
	page    *fakePage
	cookies []authstore.Cookie
	origins []authstore.OriginStorage
	closed  int
}

func (c *fakeContext) NewPage(context.Context) (driver.Page, error) {
	c.d.mu.Lock()
	err, setup := c.d.pageErr, c.d.setup
	c.d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p := newFakePage()
	p.closeErr = c.d.pageCloseErr
	p.log = c.d.log
	if setup != nil {
		setup(p)
	}
	c.page = p
	return p, nil
}

func (c *fakeContext) StorageState(context.Context) (*authstore.State, error) {
	return &authstore.State{
		Cookies: append([]authstore.Cookie(nil), c.cookies...),
		Origins: append([]authstore.OriginStorage(nil), c.origins...),
	}, nil
}

func (c *fakeContext) Close(context.Context) error {
	c.closed++
	c.d.log.add("context")
	return nil
}

type fakeElement struct {
	selector string
	visible  bool
	enabled  bool
	box      human.Box

	mu      sync.Mutex
	clicks  int
	focused int
	cleared int
}

func (e *fakeElement) Selector() string                       { return e.selector }
func (e *fakeElement) Visible(context.Context) (bool, error)  { return e.visible, nil }
func (e *fakeElement) Enabled(context.Context) (bool, error)  { return e.enabled, nil }
func (e *fakeElement) ScrollIntoView(context.Context) error   { return nil }
func (e *fakeElement) Box(context.Context) (human.Box, error) { return e.box, nil }
func (e *fakeElement) Text(context.Context) (string, error)   { return e.selector, nil }

func (e *fakeElement) Focus(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focused++
	return nil
}

func (e *fakeElement) Clear(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleared++
	return nil
}

func (e *fakeElement) Click(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clicks++
	return nil
}

func (e *fakeElement) clickCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

type fakePage struct {
	mu         sync.Mutex
	url        string
	title      string
	html       string
	bodyText   string
	readyState string
	elements   map[string]*fakeElement

	// navigate is called for every Navigate; nil succeeds.
	navigate func(attempt int, url string) error
	navCalls int

	screenshot    []byte
	screenshotErr error

	moves  []human.Point
	typed  strings.Builder
	keys   []string
	onLoad []func()

	closeErr error
	closed   int
	log      *closeLog
}

func newFakePage() *fakePage {
	return &fakePage{
		readyState: "complete",
		elements:   map[string]*fakeElement{},
		screenshot: []byte("\x89PNG fake"),
	}
}

func (p *fakePage) add(el *fakeElement) *fakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[el.selector] = el
	return el
}

func (p *fakePage) set(fn func(p *fakePage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// fireLoad runs the load hooks synchronously.
func (p *fakePage) fireLoad() {
	p.mu.Lock()
	hooks := append([]func(){}, p.onLoad...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (p *fakePage) Navigate(_ context.Context, url string, _ driver.WaitUntil) error {
	p.mu.Lock()
	p.navCalls++
	attempt, fn := p.navCalls, p.navigate
	p.mu.Unlock()
	if fn != nil {
		if err := fn(attempt, url); err != nil {
			return err
		}
	}
	p.set(func(p *fakePage) { p.url = url })
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Title(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) Evaluate(_ context.Context, expression string, out any) error {
	p.mu.Lock()
	var v any
	switch expression {
	case readyStateJS:
		v = p.readyState
	case bodyTextJS:
		v = p.bodyText
	}
	p.mu.Unlock()
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *fakePage) Query(_ context.Context, selector string) (driver.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[selector]; ok {
		return el, nil
	}
	return nil, nil
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePage) Screenshot(context.Context, bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screenshot, p.screenshotErr
}

func (p *fakePage) Viewport() driver.Viewport { return driver.Viewport{Width: 1280, Height: 800} }

func (p *fakePage) OnLoad(fn func()) {
	p.mu.Lock()
	p.onLoad = append(p.onLoad, fn)
	p.mu.Unlock()
}

func (p *fakePage) MoveMouse(_ context.Context, x, y float64) error {
	p.mu.Lock()
	p.moves = append(p.moves, human.Point{X: x, Y: y})
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Scroll(context.Context, float64, float64) error { return nil }

func (p *fakePage) TypeText(_ context.Context, text string) error {
	p.mu.Lock()
	p.typed.WriteString(text)
	p.mu.Unlock()
	return nil
}

func (p *fakePage) PressKey(_ context.Context, key string) error {
	p.mu.Lock()
	p.keys = append(p.keys, key)
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Close(context.Context) error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	if p.log != nil {
		p.log.add("page")
	}
	return p.closeErr
}

var errNavFlaky = errors.New("net::ERR_CONNECTION_RESET")
