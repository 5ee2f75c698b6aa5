// Package driver defines the browser operations the session layer needs.
// The chromedp implementation lives in driver/cdp; tests use fakes.
package driver

import (
	"context"
	"errors"

	"github.com/jmylchreest/autobrowse/pkg/authstore"
	"github.com/jmylchreest/autobrowse/pkg/human"
)

// ErrClosed is returned by operations on a closed browser, context or page.
var ErrClosed = errors.New("driver: closed")

// WaitUntil names the lifecycle point Navigate waits for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
	WaitCommit           WaitUntil = "commit"
)

// Viewport is the page size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// LaunchOptions configure the browser process.
type LaunchOptions struct {
	Headless bool
	// Channel selects an installed browser build: "chrome", "chromium",
	// "msedge" or "" for the first one found.
	Channel string
	// ExecPath overrides browser discovery.
	ExecPath string
	// Flags are extra command-line switches; values are bool or string.
	Flags     map[string]any
	UserAgent string
	Viewport  Viewport
	// Proxy is passed to --proxy-server, e.g. "socks5://127.0.0.1:9050"
	// or "http://host:3128". Empty means a direct connection.
	Proxy string
}

// RequestFilter decides which requests are aborted before they are sent.
type RequestFilter interface {
	Match(url string) bool
}

// ContextOptions configure an isolated browser context.
type ContextOptions struct {
	UserAgent    string
	Viewport     Viewport
	Locale       string
	Timezone     string
	ExtraHeaders map[string]string
	// InitScripts run in every document before page scripts.
	InitScripts []string
	// StorageState restores cookies and localStorage.
	StorageState *authstore.State
	Filter       RequestFilter
}

// Launcher starts a browser.
type Launcher func(ctx context.Context, opts LaunchOptions) (Browser, error)

// Browser is a running browser process.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close(ctx context.Context) error
}

// Context is an isolated set of cookies and storage.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	// StorageState snapshots cookies and the localStorage of open pages.
	StorageState(ctx context.Context) (*authstore.State, error)
	Close(ctx context.Context) error
}

// Page is a single tab.
type Page interface {
	human.Pointer
	human.Keyboard

	Navigate(ctx context.Context, url string, waitUntil WaitUntil) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript expression and decodes the result into out.
	// out may be nil.
	Evaluate(ctx context.Context, expression string, out any) error
	// Query returns the first element matching selector, or nil when there
	// is none. It does not wait.
	Query(ctx context.Context, selector string) (Element, error)
	WaitNetworkIdle(ctx context.Context) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Viewport() Viewport
	// OnLoad registers fn to run after every load event. fn runs on its own
	// goroutine.
	OnLoad(fn func())
	Close(ctx context.Context) error
}

// Element is a handle to a DOM node.
type Element interface {
	Selector() string
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	ScrollIntoView(ctx context.Context) error
	Box(ctx context.Context) (human.Box, error)
	Click(ctx context.Context) error
	Focus(ctx context.Context) error
	Clear(ctx context.Context) error
	Text(ctx context.Context) (string, error)
}
