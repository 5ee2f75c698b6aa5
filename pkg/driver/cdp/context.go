package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/autobrowse/internal/logger"
	"github.com/jmylchreest/autobrowse/pkg/authstore"
	"github.com/jmylchreest/autobrowse/pkg/driver"
)

// browserContext is an incognito-style browser context. Its own target
// becomes the first page; later pages are child tabs.
type browserContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   driver.ContextOptions

	mu          sync.Mutex
	pages       []*tab
	anchorTaken bool
	cookiesSet  bool
	closed      bool
}

func newBrowserContext(ctx context.Context, cancel context.CancelFunc, opts driver.ContextOptions) *browserContext {
	return &browserContext{ctx: ctx, cancel: cancel, opts: opts}
}

// NewPage implements driver.Context.
func (c *browserContext) NewPage(ctx context.Context) (driver.Page, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, driver.ErrClosed
	}
	useAnchor := !c.anchorTaken
	c.anchorTaken = true
	restoreCookies := !c.cookiesSet && c.opts.StorageState != nil
	c.cookiesSet = true
	c.mu.Unlock()

	var (
		pctx   = c.ctx
		cancel context.CancelFunc
	)
	if !useAnchor {
		pctx, cancel = chromedp.NewContext(c.ctx)
		if err := startWithin(ctx, pctx); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open tab: %w", err)
		}
	}

	p := newTab(pctx, cancel, c.opts.Viewport)
	if err := p.setup(ctx, c.opts, restoreCookies); err != nil {
		_ = p.Close(ctx)
		return nil, err
	}

	c.mu.Lock()
	c.pages = append(c.pages, p)
	c.mu.Unlock()
	return p, nil
}

// StorageState implements driver.Context.
func (c *browserContext) StorageState(ctx context.Context) (*authstore.State, error) {
	c.mu.Lock()
	pages := append([]*tab(nil), c.pages...)
	c.mu.Unlock()

	state := &authstore.State{}

	var cookies []*network.Cookie
	err := run(ctx, c.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cc := chromedp.FromContext(ctx)
		browserExec := cdpproto.WithExecutor(ctx, cc.Browser)
		var err error
		cookies, err = storage.GetCookies().WithBrowserContextID(cc.BrowserContextID).Do(browserExec)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	for _, ck := range cookies {
		state.Cookies = append(state.Cookies, fromNetworkCookie(ck))
	}

	seen := map[string]bool{}
	for _, p := range pages {
		if p.isClosed() {
			continue
		}
		var snap struct {
			Origin string            `json:"origin"`
			Items  map[string]string `json:"items"`
		}
		if err := p.Evaluate(ctx, localStorageSnapshotJS, &snap); err != nil {
			logger.Debug("localStorage snapshot failed", "error", err)
			continue
		}
		if snap.Origin == "" || snap.Origin == "null" || seen[snap.Origin] {
			continue
		}
		seen[snap.Origin] = true
		state.Origins = append(state.Origins, authstore.OriginStorage{Origin: snap.Origin, LocalStorage: snap.Items})
	}
	return state, nil
}

const localStorageSnapshotJS = `(() => {
	try {
		const items = {};
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			items[k] = localStorage.getItem(k);
		}
		return { origin: location.origin, items };
	} catch (e) {
		return { origin: '', items: {} };
	}
})()`

// Close implements driver.Context. Cancelling the chromedp context disposes
// the browser context and every tab in it.
func (c *browserContext) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.cancel()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to close browser context: %w", ctx.Err())
	}
}

func fromNetworkCookie(c *network.Cookie) authstore.Cookie {
	expires := c.Expires
	if c.Session {
		expires = -1
	}
	return authstore.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  expires,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: string(c.SameSite),
	}
}

func toCookieParams(cookies []authstore.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
			t := cdpproto.TimeSinceEpoch(time.Unix(sec, nsec))
			p.Expires = &t
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		params = append(params, p)
	}
	return params
}

// restoreStorageScript returns an init script that writes the saved
// localStorage of the current origin once per tab.
func restoreStorageScript(origins []authstore.OriginStorage) (string, error) {
	byOrigin := make(map[string]map[string]string, len(origins))
	for _, o := range origins {
		if len(o.LocalStorage) > 0 {
			byOrigin[o.Origin] = o.LocalStorage
		}
	}
	if len(byOrigin) == 0 {
		return "", nil
	}
	data, err := json.Marshal(byOrigin)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	const saved = %s;
	const items = saved[location.origin];
	if (!items) return;
	try {
		if (sessionStorage.getItem('__autobrowse_restored')) return;
		for (const [k, v] of Object.entries(items)) localStorage.setItem(k, v);
		sessionStorage.setItem('__autobrowse_restored', '1');
	} catch (e) {}
})();`, data), nil
}

// run executes actions against a chromedp target context while honouring
// the caller's cancellation and deadline.
func run(caller, target context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	if deadline, ok := caller.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(caller, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && caller.Err() != nil && errors.Is(err, context.Canceled) {
		return caller.Err()
	}
	return err
}
