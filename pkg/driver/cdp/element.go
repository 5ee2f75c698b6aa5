package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/autobrowse/pkg/human"
)

// ErrDetached is returned when an element is no longer in the document.
var ErrDetached = errors.New("element detached from document")

type element struct {
	page     *tab
	selector string
	node     *cdpproto.Node
}

const (
	jsVisible = `function() {
	if (!this.isConnected) return false;
	const style = window.getComputedStyle(this);
	if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
	const r = this.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`
	jsEnabled = `function() {
	return !this.disabled && this.getAttribute('aria-disabled') !== 'true';
}`
	jsScrollIntoView = `function() {
	this.scrollIntoView({block: 'center', inline: 'center', behavior: 'instant'});
}`
	jsBox = `function() {
	const r = this.getBoundingClientRect();
	return {x: r.left, y: r.top, width: r.width, height: r.height};
}`
	jsFocus = `function() { this.focus(); }`
	jsClear = `function() {
	if ('value' in this) {
		this.value = '';
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	} else if (this.isContentEditable) {
		this.textContent = '';
	}
}`
	jsText = `function() {
	return (this.innerText || this.textContent || '').trim();
}`
)

// call runs fn with the element bound to this and decodes its return value
// into out, which may be nil.
func (e *element) call(ctx context.Context, fn string, out any) error {
	return e.page.do(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(e.node.BackendNodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDetached, err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script exception: %s", exc.Text)
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(res.Value), out)
	}))
}

func (e *element) Selector() string {
	return e.selector
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	var v bool
	err := e.call(ctx, jsVisible, &v)
	return v, err
}

func (e *element) Enabled(ctx context.Context) (bool, error) {
	var v bool
	err := e.call(ctx, jsEnabled, &v)
	return v, err
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.call(ctx, jsScrollIntoView, nil)
}

func (e *element) Box(ctx context.Context) (human.Box, error) {
	var b human.Box
	err := e.call(ctx, jsBox, &b)
	return b, err
}

// Click presses the left button at the centre of the element box.
func (e *element) Click(ctx context.Context) error {
	if err := e.ScrollIntoView(ctx); err != nil {
		return err
	}
	box, err := e.Box(ctx)
	if err != nil {
		return err
	}
	if box.Width <= 0 || box.Height <= 0 {
		return fmt.Errorf("element %q has no clickable area", e.selector)
	}
	c := box.Center()
	return e.page.do(ctx, chromedp.MouseClickXY(c.X, c.Y))
}

func (e *element) Focus(ctx context.Context) error {
	return e.call(ctx, jsFocus, nil)
}

func (e *element) Clear(ctx context.Context) error {
	return e.call(ctx, jsClear, nil)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, jsText, &s)
	return s, err
}
