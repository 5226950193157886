package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// Functions evaluated with `this` bound to the element.
const (
	jsDisplayed = `function() {
	if (!this.isConnected) return false;
	const s = window.getComputedStyle(this);
	if (s.display === 'none' || s.visibility === 'hidden' || s.opacity === '0') return false;
	const r = this.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`
	jsEnabled = `function() {
	if (this.disabled) return false;
	if (this.getAttribute('aria-disabled') === 'true') return false;
	return !this.classList.contains('is-disabled');
}`
	jsText      = `function() { return (this.innerText || this.textContent || '').trim(); }`
	jsAttribute = `function(name) { const v = this.getAttribute(name); return v === null ? '' : v; }`
	jsOuterHTML = `function() { return this.outerHTML; }`
	jsClick     = `function() { this.click(); return true; }`
	jsClear     = `function() {
	this.focus();
	this.value = '';
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`
)

// element is a chromedp-backed schemas.Element.
type element struct {
	session *Session
	node    *cdp.Node
}

var _ schemas.Element = (*element)(nil)

// call evaluates fn with `this` bound to the element's remote object.
func (e *element) call(ctx context.Context, fn string, res interface{}, args ...interface{}) error {
	return e.session.run(ctx, defaultActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node %d: %w", e.node.NodeID, err)
		}
		// Release fails once the page navigated away; the object is gone either way.
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		return chromedp.CallFunctionOn(fn, res, withObjectID(obj.ObjectID), args...).Do(ctx)
	}))
}

func withObjectID(id runtime.RemoteObjectID) chromedp.CallOption {
	return func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return p.WithObjectID(id)
	}
}

func (e *element) Displayed(ctx context.Context) (bool, error) {
	var ok bool
	err := e.call(ctx, jsDisplayed, &ok)
	return ok, err
}

func (e *element) Enabled(ctx context.Context) (bool, error) {
	var ok bool
	err := e.call(ctx, jsEnabled, &ok)
	return ok, err
}

func (e *element) Text(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, jsText, &s)
	return s, err
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	var s string
	err := e.call(ctx, jsAttribute, &s, name)
	return s, err
}

func (e *element) OuterHTML(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, jsOuterHTML, &s)
	return s, err
}

func (e *element) ScriptClick(ctx context.Context) error {
	var ok bool
	if err := e.call(ctx, jsClick, &ok); err != nil {
		return fmt.Errorf("script click: %w", err)
	}
	return nil
}

func (e *element) NativeClick(ctx context.Context) error {
	err := e.session.run(ctx, defaultActionTimeout,
		dom.ScrollIntoViewIfNeeded().WithNodeID(e.node.NodeID),
		chromedp.MouseClickNode(e.node),
	)
	if err != nil {
		return fmt.Errorf("native click: %w", err)
	}
	return nil
}

func (e *element) Clear(ctx context.Context) error {
	var ok bool
	return e.call(ctx, jsClear, &ok)
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	return e.session.run(ctx, defaultActionTimeout,
		chromedp.SendKeys([]cdp.NodeID{e.node.NodeID}, text, chromedp.ByNodeID),
	)
}

// FindAll supports CSS only. XPath through DOM.performSearch is document-wide and
// cannot be scoped to a node.
func (e *element) FindAll(ctx context.Context, kind schemas.SelectorKind, selector string) ([]schemas.Element, error) {
	if kind != schemas.ByCSS {
		return nil, fmt.Errorf("%s inside an element: %w", kind, schemas.ErrUnsupportedSelector)
	}
	return e.session.query(ctx, selector, chromedp.ByQueryAll, chromedp.FromNode(e.node), chromedp.AtLeast(0))
}
