package browser

import (
	"errors"
	"time"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/playwright-community/playwright-go"
)

// pwPage adapts a playwright page to dom.Page.
type pwPage struct {
	page playwright.Page
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

// wrapErr maps playwright timeouts onto dom.ErrTimeout.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return errors.Join(dom.ErrTimeout, err)
	}
	return err
}

func (p *pwPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms(timeout),
	})
	return wrapErr(err)
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Content() (string, error) { return p.page.Content() }

func (p *pwPage) Query(selector string) (dom.Element, error) {
	h, err := p.page.QuerySelector(selector)
	if err != nil || h == nil {
		return nil, err
	}
	return &pwElement{h: h}, nil
}

func (p *pwPage) QueryAll(selector string) ([]dom.Element, error) {
	handles, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	return wrapHandles(handles), nil
}

func (p *pwPage) Evaluate(expression string) (any, error) {
	return p.page.Evaluate(expression)
}

func (p *pwPage) WaitForLoadState(state dom.LoadState, timeout time.Duration) error {
	ls := playwright.LoadStateDomcontentloaded
	switch state {
	case dom.LoadStateLoad:
		ls = playwright.LoadStateLoad
	case dom.LoadStateNetworkIdle:
		ls = playwright.LoadStateNetworkidle
	}
	return wrapErr(p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   ls,
		Timeout: ms(timeout),
	}))
}

func (p *pwPage) WaitForSelector(selector string, state dom.SelectorState, timeout time.Duration) error {
	ws := playwright.WaitForSelectorStateAttached
	switch state {
	case dom.SelectorVisible:
		ws = playwright.WaitForSelectorStateVisible
	case dom.SelectorHidden:
		ws = playwright.WaitForSelectorStateHidden
	}
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   ws,
		Timeout: ms(timeout),
	})
	return wrapErr(err)
}

// MouseMove lets Humanize drive the real pointer.
func (p *pwPage) MouseMove(x, y float64) error {
	return p.page.Mouse().Move(x, y)
}

// Close is owned by the Session; tabs are not closed individually.
func (p *pwPage) Close() error { return nil }

type pwElement struct {
	h playwright.ElementHandle
}

func wrapHandles(handles []playwright.ElementHandle) []dom.Element {
	out := make([]dom.Element, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			out = append(out, &pwElement{h: h})
		}
	}
	return out
}

func (e *pwElement) Query(selector string) (dom.Element, error) {
	h, err := e.h.QuerySelector(selector)
	if err != nil || h == nil {
		return nil, err
	}
	return &pwElement{h: h}, nil
}

func (e *pwElement) QueryAll(selector string) ([]dom.Element, error) {
	handles, err := e.h.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	return wrapHandles(handles), nil
}

func (e *pwElement) InnerText() (string, error) { return e.h.InnerText() }

func (e *pwElement) Attribute(name string) (string, error) { return e.h.GetAttribute(name) }

func (e *pwElement) Click() error { return wrapErr(e.h.Click()) }

func (e *pwElement) Fill(value string) error { return wrapErr(e.h.Fill(value)) }

func (e *pwElement) Type(value string, delay time.Duration) error {
	return wrapErr(e.h.Type(value, playwright.ElementHandleTypeOptions{Delay: ms(delay)}))
}

func (e *pwElement) Press(key string) error { return wrapErr(e.h.Press(key)) }

func (e *pwElement) Check() error { return wrapErr(e.h.Check()) }

func (e *pwElement) SelectOption(value string) error {
	_, err := e.h.SelectOption(playwright.SelectOptionValues{Values: &[]string{value}})
	return wrapErr(err)
}

func (e *pwElement) IsVisible() (bool, error) { return e.h.IsVisible() }
