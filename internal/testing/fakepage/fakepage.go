// Package fakepage is an in-memory stand-in for a browser tab. Tests build a small
// node tree, attach behavior to clicks and navigations, and hand the Page to the
// automation engine in place of a chromedp session.
//
// Supported selectors are the shapes the console profiles use:
//
//	CSS:   tag, .class, tag.class, [attr='v'], tag[attr='v'] and comma separated lists of those
//	XPath: //tag, //*, //tag[contains(., 'literal')] where literal may be a concat(...)
package fakepage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// Node is one element of the fake DOM.
type Node struct {
	Tag      string
	Text     string
	Classes  []string
	Attrs    map[string]string
	Hidden   bool
	Disabled bool
	Children []*Node

	// OnClick runs after a successful click, outside the page lock.
	OnClick func()
	// ScriptClickErr and NativeClickErr make the corresponding click variant fail.
	ScriptClickErr error
	NativeClickErr error
	// ProbeErr is returned by Displayed and Enabled.
	ProbeErr error

	Value        string
	ScriptClicks int
	NativeClicks int
	Cleared      int
}

// El builds a node with text and optional children.
func El(tag, text string, children ...*Node) *Node {
	return &Node{Tag: tag, Text: text, Children: children}
}

// WithClass adds classes and returns the node for chaining.
func (n *Node) WithClass(classes ...string) *Node {
	n.Classes = append(n.Classes, classes...)
	return n
}

// WithAttr sets an attribute and returns the node for chaining.
func (n *Node) WithAttr(name, value string) *Node {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[name] = value
	return n
}

// Page implements schemas.Page over a node tree.
type Page struct {
	mu   sync.Mutex
	id   string
	root *Node

	URL         string
	Navigations []string
	Refreshes   int
	CookieWipes int
	Closes      int

	// NavigateErr, when set, decides whether a navigation fails.
	NavigateErr func(url string) error
	// OnNavigate runs after a successful navigation, outside the page lock.
	OnNavigate func(url string)
	// OnRefresh runs after every refresh, outside the page lock.
	OnRefresh func()
	// OnDeleteCookies runs after cookies are wiped, outside the page lock.
	OnDeleteCookies func()
	// FindErr is returned by every lookup while set.
	FindErr error
	// PanicOnNavigate makes Navigate panic with the given value.
	PanicOnNavigate any
	// CloseErr is returned by Close.
	CloseErr error
	// CookieErr is returned by Cookies while set.
	CookieErr error

	cookies []schemas.Cookie
}

var (
	_ schemas.Page         = (*Page)(nil)
	_ schemas.CookieReader = (*Page)(nil)
)

// New returns an empty page.
func New(id string) *Page {
	return &Page{id: id, root: &Node{Tag: "html"}}
}

// SetBody replaces the whole document.
func (p *Page) SetBody(nodes ...*Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root = &Node{Tag: "html", Children: nodes}
}

// Append adds nodes to the end of the document.
func (p *Page) Append(nodes ...*Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root.Children = append(p.root.Children, nodes...)
}

// Remove detaches n wherever it sits in the tree.
func (p *Page) Remove(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removeFrom(p.root, n)
}

// SetHidden toggles the visibility of n.
func (p *Page) SetHidden(n *Node, hidden bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n.Hidden = hidden
}

// Update runs fn under the page lock for arbitrary mutations.
func (p *Page) Update(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// Stats returns the interaction counters under the lock.
func (p *Page) Stats() (navigations []string, refreshes, cookieWipes, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	navigations = append([]string(nil), p.Navigations...)
	return navigations, p.Refreshes, p.CookieWipes, p.Closes
}

// Clicks returns the script and native click counters of n.
func (p *Page) Clicks(n *Node) (script, native int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return n.ScriptClicks, n.NativeClicks
}

// ValueOf returns what has been typed into n.
func (p *Page) ValueOf(n *Node) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return n.Value
}

func removeFrom(parent, target *Node) bool {
	for i, c := range parent.Children {
		if c == target {
			parent.Children = append(parent.Children[:i:i], parent.Children[i+1:]...)
			return true
		}
		if removeFrom(c, target) {
			return true
		}
	}
	return false
}

func (p *Page) ID() string { return p.id }

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.PanicOnNavigate != nil {
		v := p.PanicOnNavigate
		p.mu.Unlock()
		panic(v)
	}
	p.Navigations = append(p.Navigations, url)
	var err error
	if p.NavigateErr != nil {
		err = p.NavigateErr(url)
	}
	if err == nil {
		p.URL = url
	}
	hook := p.OnNavigate
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if hook != nil {
		hook(url)
	}
	return nil
}

func (p *Page) FindAll(ctx context.Context, kind schemas.SelectorKind, selector string) ([]schemas.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FindErr != nil {
		return nil, p.FindErr
	}
	return p.query(p.root, kind, selector)
}

func (p *Page) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Refreshes++
	hook := p.OnRefresh
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (p *Page) DeleteCookies(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.CookieWipes++
	p.cookies = nil
	hook := p.OnDeleteCookies
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// SetCookie adds or replaces a cookie by name.
func (p *Page) SetCookie(c schemas.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.cookies {
		if p.cookies[i].Name == c.Name {
			p.cookies[i] = c
			return
		}
	}
	p.cookies = append(p.cookies, c)
}

func (p *Page) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CookieErr != nil {
		return nil, p.CookieErr
	}
	return append([]schemas.Cookie(nil), p.cookies...), nil
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closes++
	return p.CloseErr
}

// -- Elements --

type element struct {
	page *Page
	node *Node
}

var _ schemas.Element = (*element)(nil)

func (e *element) Displayed(ctx context.Context) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if e.node.ProbeErr != nil {
		return false, e.node.ProbeErr
	}
	path, ok := pathTo(e.page.root, e.node)
	if !ok {
		// Detached nodes are never visible.
		return false, nil
	}
	for _, n := range path {
		if n.Hidden {
			return false, nil
		}
	}
	return true, nil
}

func (e *element) Enabled(ctx context.Context) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if e.node.ProbeErr != nil {
		return false, e.node.ProbeErr
	}
	return !e.node.Disabled, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return textOf(e.node), nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if name == "class" {
		return strings.Join(e.node.Classes, " "), nil
	}
	return e.node.Attrs[name], nil
}

func (e *element) OuterHTML(ctx context.Context) (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	var b strings.Builder
	render(&b, e.node)
	return b.String(), nil
}

func (e *element) ScriptClick(ctx context.Context) error {
	return e.click(ctx, true)
}

func (e *element) NativeClick(ctx context.Context) error {
	return e.click(ctx, false)
}

func (e *element) click(ctx context.Context, scripted bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	var err error
	if scripted {
		err = e.node.ScriptClickErr
		if err == nil {
			e.node.ScriptClicks++
		}
	} else {
		err = e.node.NativeClickErr
		if err == nil {
			e.node.NativeClicks++
		}
	}
	hook := e.node.OnClick
	e.page.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

func (e *element) Clear(ctx context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.node.Value = ""
	e.node.Cleared++
	return nil
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.node.Value += text
	return nil
}

func (e *element) FindAll(ctx context.Context, kind schemas.SelectorKind, selector string) ([]schemas.Element, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if e.page.FindErr != nil {
		return nil, e.page.FindErr
	}
	return e.page.query(e.node, kind, selector)
}

// -- Queries --

var (
	cssSimple    = regexp.MustCompile(`^([a-zA-Z][\w-]*|\*)?((?:\.[\w-]+)*)(?:\[([\w-]+)=['"]([^'"]*)['"]\])?$`)
	xpathElement = regexp.MustCompile(`^//([\w-]+|\*)(?:\[contains\(\.,\s*(.+)\)\])?$`)
	xpathQuoted  = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)
)

type matcher func(n *Node) bool

func (p *Page) query(scope *Node, kind schemas.SelectorKind, selector string) ([]schemas.Element, error) {
	m, err := compile(kind, selector)
	if err != nil {
		return nil, err
	}
	var out []schemas.Element
	walk(scope, func(n *Node) {
		if n != scope && m(n) {
			out = append(out, &element{page: p, node: n})
		}
	})
	return out, nil
}

func compile(kind schemas.SelectorKind, selector string) (matcher, error) {
	selector = strings.TrimSpace(selector)
	if kind == schemas.ByXPath {
		return compileXPath(selector)
	}
	var parts []matcher
	for _, raw := range strings.Split(selector, ",") {
		m, err := compileCSS(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		parts = append(parts, m)
	}
	return func(n *Node) bool {
		for _, m := range parts {
			if m(n) {
				return true
			}
		}
		return false
	}, nil
}

func compileCSS(sel string) (matcher, error) {
	groups := cssSimple.FindStringSubmatch(sel)
	if sel == "" || groups == nil {
		return nil, fmt.Errorf("%w: css %q", schemas.ErrUnsupportedSelector, sel)
	}
	tag := groups[1]
	var classes []string
	for _, c := range strings.Split(groups[2], ".") {
		if c != "" {
			classes = append(classes, c)
		}
	}
	attr, value := groups[3], groups[4]
	return func(n *Node) bool {
		if tag != "" && tag != "*" && !strings.EqualFold(n.Tag, tag) {
			return false
		}
		for _, c := range classes {
			if !hasClass(n, c) {
				return false
			}
		}
		if attr != "" && n.Attrs[attr] != value {
			return false
		}
		return true
	}, nil
}

func compileXPath(sel string) (matcher, error) {
	groups := xpathElement.FindStringSubmatch(sel)
	if groups == nil {
		return nil, fmt.Errorf("%w: xpath %q", schemas.ErrUnsupportedSelector, sel)
	}
	tag := groups[1]
	var needle *string
	if groups[2] != "" {
		lit, err := xpathLiteral(groups[2])
		if err != nil {
			return nil, err
		}
		needle = &lit
	}
	return func(n *Node) bool {
		if tag != "*" && !strings.EqualFold(n.Tag, tag) {
			return false
		}
		return needle == nil || strings.Contains(textOf(n), *needle)
	}, nil
}

// xpathLiteral decodes 'x', "x" and concat('a', "b", ...).
func xpathLiteral(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "concat(") && strings.HasSuffix(expr, ")") {
		var b strings.Builder
		for _, m := range xpathQuoted.FindAllStringSubmatch(expr[len("concat("):len(expr)-1], -1) {
			b.WriteString(m[1] + m[2])
		}
		return b.String(), nil
	}
	m := xpathQuoted.FindStringSubmatch(expr)
	if m == nil || len(m[0]) != len(expr) {
		return "", fmt.Errorf("%w: xpath literal %q", schemas.ErrUnsupportedSelector, expr)
	}
	return m[1] + m[2], nil
}

func walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		walk(c, fn)
	}
}

func pathTo(root, target *Node) ([]*Node, bool) {
	if root == target {
		return []*Node{root}, true
	}
	for _, c := range root.Children {
		if path, ok := pathTo(c, target); ok {
			return append([]*Node{root}, path...), true
		}
	}
	return nil, false
}

func hasClass(n *Node, class string) bool {
	for _, c := range n.Classes {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *Node) string {
	var parts []string
	walk(n, func(c *Node) {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	})
	return strings.Join(parts, " ")
}

func render(b *strings.Builder, n *Node) {
	b.WriteString("<" + n.Tag)
	if len(n.Classes) > 0 {
		fmt.Fprintf(b, ` class="%s"`, strings.Join(n.Classes, " "))
	}
	for k, v := range n.Attrs {
		fmt.Fprintf(b, ` %s="%s"`, k, v)
	}
	b.WriteString(">" + n.Text)
	for _, c := range n.Children {
		render(b, c)
	}
	b.WriteString("</" + n.Tag + ">")
}
