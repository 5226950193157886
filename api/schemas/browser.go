package schemas

import (
	"context"
	"errors"
	"time"
)

// -- Browser Session Schemas --

// SelectorKind tells a Page how to interpret a selector string.
type SelectorKind int

const (
	// ByCSS interprets the selector as a CSS selector (querySelectorAll semantics).
	ByCSS SelectorKind = iota
	// ByXPath interprets the selector as an XPath expression evaluated against the document.
	ByXPath
)

func (k SelectorKind) String() string {
	switch k {
	case ByCSS:
		return "css"
	case ByXPath:
		return "xpath"
	default:
		return "unknown"
	}
}

// KindOf guesses the selector kind the way the console profiles are written:
// anything starting with "/" or "(" is XPath, everything else is CSS.
func KindOf(selector string) SelectorKind {
	if len(selector) > 0 && (selector[0] == '/' || selector[0] == '(') {
		return ByXPath
	}
	return ByCSS
}

var (
	// ErrElementNotFound is returned by drivers when a lookup that requires a match finds none.
	ErrElementNotFound = errors.New("element not found")
	// ErrSessionClosed is returned for operations attempted after Close.
	ErrSessionClosed = errors.New("browser session is closed")
	// ErrUnsupportedSelector is returned when a driver cannot evaluate a selector kind in the requested scope.
	ErrUnsupportedSelector = errors.New("unsupported selector for this scope")
)

// Element is a handle to a single DOM element inside a Page. Handles become stale after
// navigation; callers re-query instead of caching them across page loads.
type Element interface {
	// Displayed reports whether the element is rendered and visible.
	Displayed(ctx context.Context) (bool, error)
	// Enabled reports whether the element accepts interaction.
	Enabled(ctx context.Context) (bool, error)
	// Text returns the visible text of the element.
	Text(ctx context.Context) (string, error)
	// Attribute returns the value of an attribute, or "" when it is absent.
	Attribute(ctx context.Context, name string) (string, error)
	// OuterHTML returns the serialized markup, used for diagnostics only.
	OuterHTML(ctx context.Context) (string, error)
	// ScriptClick dispatches element.click() from page script, bypassing overlays.
	ScriptClick(ctx context.Context) error
	// NativeClick performs a real mouse click at the element's center.
	NativeClick(ctx context.Context) error
	// Clear empties an input element.
	Clear(ctx context.Context) error
	// SendKeys types text into the element.
	SendKeys(ctx context.Context, text string) error
	// FindAll returns descendants matching the selector. Zero matches is not an error.
	FindAll(ctx context.Context, kind SelectorKind, selector string) ([]Element, error)
}

// Page is one isolated browser session bound to a single tab. It is the only browser
// capability the automation engine depends on.
type Page interface {
	// ID identifies the session in logs.
	ID() string
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// FindAll returns all elements matching the selector. Zero matches is not an error.
	FindAll(ctx context.Context, kind SelectorKind, selector string) ([]Element, error)
	// Refresh reloads the current document.
	Refresh(ctx context.Context) error
	// DeleteCookies removes every cookie of the session's browser context.
	DeleteCookies(ctx context.Context) error
	// Close releases the tab and its browser context. It is safe to call more than once.
	Close(ctx context.Context) error
}

// SessionFactory creates fresh, isolated Pages. Each call must return a session that
// shares no cookies or storage with any other.
type SessionFactory interface {
	NewSession(ctx context.Context) (Page, error)
}

// Cookie is a cookie of the session's browser context.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	// Expires is zero for session cookies.
	Expires time.Time
}

// CookieReader is implemented by Pages that can list their cookies. Consumers treat it
// as optional and type-assert for it.
type CookieReader interface {
	Cookies(ctx context.Context) ([]Cookie, error)
}
