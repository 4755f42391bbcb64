// Package dom is the browser capability surface the extraction engine works
// against: navigation, CSS queries, element interaction and script probes.
package dom

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTimeout     = errors.New("timed out")
	ErrUnsupported = errors.New("operation not supported")
	ErrNoPage      = errors.New("no page for URL")
)

type LoadState string

const (
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateLoad             LoadState = "load"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

type SelectorState string

const (
	SelectorAttached SelectorState = "attached"
	SelectorVisible  SelectorState = "visible"
	SelectorHidden   SelectorState = "hidden"
)

// Common script probes. Implementations must at least understand these.
const (
	ScriptScrollHeight   = "document.body.scrollHeight"
	ScriptScrollToBottom = "window.scrollTo(0, document.body.scrollHeight)"
	ScriptScrollToTop    = "window.scrollTo(0, 0)"
	ScriptReadyState     = "document.readyState"
)

// Page is one browser tab.
type Page interface {
	Goto(url string, timeout time.Duration) error
	URL() string
	Content() (string, error)
	// Query returns nil and no error when nothing matches.
	Query(selector string) (Element, error)
	QueryAll(selector string) ([]Element, error)
	Evaluate(expression string) (any, error)
	WaitForLoadState(state LoadState, timeout time.Duration) error
	WaitForSelector(selector string, state SelectorState, timeout time.Duration) error
	Close() error
}

// Element is a handle to one DOM node.
type Element interface {
	Query(selector string) (Element, error)
	QueryAll(selector string) ([]Element, error)
	InnerText() (string, error)
	// Attribute returns "" when the attribute is missing.
	Attribute(name string) (string, error)
	Click() error
	Fill(value string) error
	Type(value string, delay time.Duration) error
	Press(key string) error
	Check() error
	SelectOption(value string) error
	IsVisible() (bool, error)
}

// Session owns the lifetime of a page.
type Session interface {
	EnsureReady(ctx context.Context) (Page, error)
	Close() error
}

// Number converts a script result to a float64. Drivers return JSON numbers
// as int or float64 depending on the value.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
