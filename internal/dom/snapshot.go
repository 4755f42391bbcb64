package dom

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Action is one recorded interaction against a Snapshot.
type Action struct {
	Kind     string
	Selector string
	Value    string
}

// Snapshot is a static Page over pre-captured HTML documents, parsed with
// goquery. It serves offline analysis and deterministic tests: links navigate
// between known documents and search submission navigates to SearchURL.
type Snapshot struct {
	mu      sync.Mutex
	pages   map[string]string
	current string
	doc     *goquery.Document
	actions []Action
	closed  bool

	// SearchURL maps a submitted query to the results document URL.
	SearchURL func(query string) string
	// Height is reported for document.body.scrollHeight.
	Height int
}

func NewSnapshot() *Snapshot {
	return &Snapshot{pages: make(map[string]string), Height: 1000}
}

// Add registers html under rawURL.
func (s *Snapshot) Add(rawURL, html string) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[pageKey(rawURL)] = html
	return s
}

// Actions returns the interactions recorded so far.
func (s *Snapshot) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.actions...)
}

// Visited lists the URLs navigated to, in order.
func (s *Snapshot) Visited() []string {
	var out []string
	for _, a := range s.Actions() {
		if a.Kind == "goto" {
			out = append(out, a.Value)
		}
	}
	return out
}

func (s *Snapshot) record(kind, selector, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, Action{Kind: kind, Selector: selector, Value: value})
}

func pageKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil {
		u.Fragment = ""
		raw = u.String()
	}
	return strings.TrimSuffix(raw, "/")
}

func (s *Snapshot) Goto(rawURL string, _ time.Duration) error {
	s.mu.Lock()
	html, ok := s.pages[pageKey(rawURL)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPage, rawURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse snapshot %s: %w", rawURL, err)
	}

	s.mu.Lock()
	s.current = rawURL
	s.doc = doc
	s.mu.Unlock()
	s.record("goto", "", rawURL)
	return nil
}

func (s *Snapshot) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Snapshot) document() (*goquery.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, fmt.Errorf("%w: nothing loaded", ErrNoPage)
	}
	return s.doc, nil
}

func (s *Snapshot) Content() (string, error) {
	doc, err := s.document()
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(doc.Selection)
}

func (s *Snapshot) Query(selector string) (Element, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	return first(s, find(doc.Selection, selector), selector), nil
}

func (s *Snapshot) QueryAll(selector string) ([]Element, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	return all(s, find(doc.Selection, selector), selector), nil
}

func (s *Snapshot) Evaluate(expression string) (any, error) {
	switch {
	case strings.Contains(expression, "scrollTo") || strings.Contains(expression, "scrollBy"):
		s.record("scroll", "", expression)
		return nil, nil
	case strings.Contains(expression, "scrollHeight"):
		return s.Height, nil
	case strings.Contains(expression, "readyState"):
		return "complete", nil
	default:
		return nil, fmt.Errorf("%w: evaluate %q", ErrUnsupported, expression)
	}
}

func (s *Snapshot) WaitForLoadState(LoadState, time.Duration) error {
	_, err := s.document()
	return err
}

func (s *Snapshot) WaitForSelector(selector string, state SelectorState, _ time.Duration) error {
	doc, err := s.document()
	if err != nil {
		return err
	}
	found := find(doc.Selection, selector).Length() > 0
	if (state == SelectorHidden) == found {
		return fmt.Errorf("%w: waiting for %q to be %s", ErrTimeout, selector, state)
	}
	return nil
}

func (s *Snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// submit performs a search submission for query.
func (s *Snapshot) submit(query string) error {
	s.record("submit", "", query)
	if s.SearchURL == nil {
		return nil
	}
	return s.Goto(s.SearchURL(query), 0)
}

var hasTextRe = regexp.MustCompile(`^(.*):has-text\("([^"]*)"\)$`)

// find supports plain CSS plus the tag:has-text("...") form.
func find(sel *goquery.Selection, selector string) *goquery.Selection {
	if m := hasTextRe.FindStringSubmatch(selector); m != nil {
		base := m[1]
		if base == "" {
			base = "*"
		}
		needle := strings.ToLower(m[2])
		return sel.Find(base).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(strings.ToLower(s.Text()), needle)
		})
	}
	return sel.Find(selector)
}

func first(s *Snapshot, sel *goquery.Selection, selector string) Element {
	if sel.Length() == 0 {
		return nil
	}
	return &snapshotElement{page: s, sel: sel.First(), selector: selector}
}

func all(s *Snapshot, sel *goquery.Selection, selector string) []Element {
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, item *goquery.Selection) {
		out = append(out, &snapshotElement{page: s, sel: item, selector: selector})
	})
	return out
}

type snapshotElement struct {
	page     *Snapshot
	sel      *goquery.Selection
	selector string
}

var wsRe = regexp.MustCompile(`[ \t\r\n]+`)

func (e *snapshotElement) Query(selector string) (Element, error) {
	return first(e.page, find(e.sel, selector), selector), nil
}

func (e *snapshotElement) QueryAll(selector string) ([]Element, error) {
	return all(e.page, find(e.sel, selector), selector), nil
}

func (e *snapshotElement) InnerText() (string, error) {
	return strings.TrimSpace(wsRe.ReplaceAllString(e.sel.Text(), " ")), nil
}

func (e *snapshotElement) Attribute(name string) (string, error) {
	v, _ := e.sel.Attr(name)
	return v, nil
}

func (e *snapshotElement) Click() error {
	e.page.record("click", e.selector, "")

	link := e.sel
	if !link.Is("a[href]") {
		link = e.sel.Closest("a[href]")
	}
	if href, ok := link.Attr("href"); ok && link.Length() > 0 {
		target := resolve(e.page.URL(), href)
		e.page.mu.Lock()
		_, known := e.page.pages[pageKey(target)]
		e.page.mu.Unlock()
		if known {
			return e.page.Goto(target, 0)
		}
		return nil
	}

	if e.sel.Is("button[type='submit'], input[type='submit']") || (e.sel.Is("button") && e.sel.Closest("form").Length() > 0) {
		return e.page.submit(e.page.pendingQuery())
	}
	return nil
}

func (e *snapshotElement) Fill(value string) error {
	e.sel.SetAttr("value", value)
	e.page.record("fill", e.selector, value)
	return nil
}

func (e *snapshotElement) Type(value string, _ time.Duration) error {
	current, _ := e.sel.Attr("value")
	e.sel.SetAttr("value", current+value)
	e.page.record("type", e.selector, value)
	return nil
}

func (e *snapshotElement) Press(key string) error {
	e.page.record("press", e.selector, key)
	if key == "Enter" {
		v, _ := e.sel.Attr("value")
		return e.page.submit(v)
	}
	return nil
}

func (e *snapshotElement) Check() error {
	e.sel.SetAttr("checked", "checked")
	e.page.record("check", e.selector, "")
	return nil
}

func (e *snapshotElement) SelectOption(value string) error {
	e.page.record("select", e.selector, value)
	return nil
}

func (e *snapshotElement) IsVisible() (bool, error) {
	if _, hidden := e.sel.Attr("hidden"); hidden {
		return false, nil
	}
	style, _ := e.sel.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return !strings.Contains(style, "display:none"), nil
}

// pendingQuery is the last value typed into any field.
func (s *Snapshot) pendingQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.actions) - 1; i >= 0; i-- {
		switch s.actions[i].Kind {
		case "type":
			value := s.actions[i].Value
			for j := i - 1; j >= 0 && s.actions[j].Kind == "type"; j-- {
				value = s.actions[j].Value + value
			}
			return value
		case "fill":
			return s.actions[i].Value
		}
	}
	return ""
}

func resolve(base, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// StaticSession is a Session over a Snapshot.
type StaticSession struct {
	mu     sync.Mutex
	page   *Snapshot
	ready  bool
	closes int
}

func NewStaticSession(page *Snapshot) *StaticSession {
	return &StaticSession{page: page}
}

func (s *StaticSession) EnsureReady(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	return s.page, nil
}

func (s *StaticSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		s.closes++
	}
	s.ready = false
	return nil
}

func (s *StaticSession) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Closes counts closes that actually tore down a ready session.
func (s *StaticSession) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
