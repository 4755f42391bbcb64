package marketplace

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/maltedev/marketplace-agent/internal/urlutil"
)

// foldCase returns the case-folded form of s. Casers carry state, so one is
// made per call.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

func equalFold(a, b string) bool {
	return foldCase(strings.TrimSpace(a)) == foldCase(strings.TrimSpace(b))
}

// submitSearch types query into the search field and submits it.
func (e *Engine) submitSearch(ctx context.Context, page dom.Page, s *models.SiteStructure, query string) error {
	sel := s.Search.InputSelector
	if sel == "" {
		return newError(models.KindStructureUnavailable, ErrMissingSelector, "Search field selector not defined")
	}

	input, err := page.Query(sel)
	if err != nil {
		return browserError(err, "Failed to query search field %s", sel)
	}
	if input == nil {
		return newError(models.KindElementNotFound, ErrElementNotFound, "Search field not found by selector: %s", sel)
	}

	if err := input.Click(); err != nil {
		e.logger.Debug("search field click failed", "error", err)
	}
	if err := input.Fill(""); err != nil {
		return browserError(err, "Failed to clear search field")
	}
	if err := e.sleep(ctx, e.cfg.InputPause); err != nil {
		return browserError(err, "Search interrupted")
	}
	if err := input.Type(query, e.cfg.TypingDelay); err != nil {
		return browserError(err, "Failed to type query")
	}

	if !e.clickSearchButton(page, s.Search.ButtonSelector) {
		if err := input.Press("Enter"); err != nil {
			return browserError(err, "Failed to submit search")
		}
	}
	e.logger.Info("search submitted", "query", query)
	return e.settle(ctx, page)
}

func (e *Engine) clickSearchButton(page dom.Page, sel string) bool {
	if sel == "" {
		return false
	}
	button, err := page.Query(sel)
	if err != nil || button == nil {
		e.logger.Debug("search button not found, submitting with Enter", "selector", sel)
		return false
	}
	if err := button.Click(); err != nil {
		e.logger.Debug("search button click failed, submitting with Enter", "error", err)
		return false
	}
	return true
}

// postSearch applies the site's post-search nudge, if it has one.
func (e *Engine) postSearch(ctx context.Context, page dom.Page, hints SiteHints) {
	if hints.PostSearchWait <= 0 {
		return
	}
	_ = e.sleep(ctx, hints.PostSearchWait)
	if !hints.PostSearchScroll {
		return
	}
	for _, script := range []string{"window.scrollTo(0, 500)", dom.ScriptScrollToTop} {
		if _, err := page.Evaluate(script); err != nil {
			e.logger.Debug("post-search scroll failed", "error", err)
			return
		}
		if err := e.sleep(ctx, e.cfg.ScrollPause); err != nil {
			return
		}
	}
}

// refresh re-infers the structure of the page a search landed on. On failure
// the prior structure is kept.
func (e *Engine) refresh(ctx context.Context, page dom.Page, domain string, prior *models.SiteStructure) *models.SiteStructure {
	result, err := e.infer(ctx, page, domain)
	if err != nil {
		e.logger.Warn("re-analysis of results page failed, keeping prior structure", "error", err)
		return prior
	}
	return result.Structure
}

// applyFilters applies each requested filter it can match and returns how
// many were applied. Unmatched filters are skipped.
func (e *Engine) applyFilters(ctx context.Context, page dom.Page, s *models.SiteStructure, filters map[string]string) (int, error) {
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		value := filters[name]
		logger := e.logger.With("filter", name, "value", value)

		group, ok := findGroup(s.FilterGroups, name)
		if !ok {
			logger.Warn("filter group not found")
			continue
		}
		opt, ok := findOption(group, value)
		if !ok {
			logger.Warn("filter option not found", "group", group.Name)
			continue
		}
		el, err := page.Query(opt.Selector)
		if err != nil || el == nil {
			logger.Warn("filter element not found", "selector", opt.Selector)
			continue
		}
		if err := operate(el, opt, value); err != nil {
			logger.Warn("failed to apply filter", "error", err)
			continue
		}
		applied++
		logger.Info("filter applied", "kind", opt.Kind)
	}

	if applied > 0 {
		if err := e.settle(ctx, page); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

func findGroup(groups []models.FilterGroup, name string) (models.FilterGroup, bool) {
	for _, g := range groups {
		if equalFold(g.Name, name) {
			return g, true
		}
	}
	return models.FilterGroup{}, false
}

// findOption matches by value, then by option name. A group with a single
// free-text input accepts any value.
func findOption(g models.FilterGroup, value string) (models.FilterOption, bool) {
	for _, opt := range g.Options {
		if opt.Value != "" && equalFold(opt.Value, value) {
			return opt, true
		}
	}
	for _, opt := range g.Options {
		if equalFold(opt.Name, value) {
			return opt, true
		}
	}
	var inputs []models.FilterOption
	for _, opt := range g.Options {
		if opt.Kind == models.FilterInput {
			inputs = append(inputs, opt)
		}
	}
	if len(inputs) == 1 {
		return inputs[0], true
	}
	return models.FilterOption{}, false
}

func operate(el dom.Element, opt models.FilterOption, value string) error {
	switch opt.Kind {
	case models.FilterCheckbox:
		if err := el.Check(); err != nil {
			return el.Click()
		}
		return nil
	case models.FilterInput:
		return el.Fill(value)
	case models.FilterSelect:
		if opt.Value != "" {
			value = opt.Value
		}
		return el.SelectOption(value)
	default:
		return el.Click()
	}
}

// currentStructure is the cached structure for the page the session is on.
func (e *Engine) currentStructure(page dom.Page) (*models.SiteStructure, error) {
	s, ok := e.cache.Get(urlutil.Domain(page.URL()))
	if !ok {
		return nil, newError(models.KindStructureUnavailable, ErrStructureUnavailable, "Page structure not defined")
	}
	return s, nil
}

// Filter applies filters to the current page.
func (e *Engine) Filter(ctx context.Context, filters map[string]string) (int, error) {
	if len(filters) == 0 {
		return 0, inputError("Filters are required for application")
	}
	page, err := e.page(ctx)
	if err != nil {
		return 0, err
	}
	s, err := e.currentStructure(page)
	if err != nil {
		return 0, err
	}
	return e.applyFilters(ctx, page, s, filters)
}

// Navigate moves the current listing towards target. Only one "next" click is
// made; the page number is reported, not verified. Page 1 cannot be reached by
// moving forward.
func (e *Engine) Navigate(ctx context.Context, target int) (int, error) {
	if target < 1 {
		return 0, inputError("Page number must be positive, got %d", target)
	}
	page, err := e.page(ctx)
	if err != nil {
		return 0, err
	}
	s, err := e.currentStructure(page)
	if err != nil {
		return 0, err
	}
	if s.Navigation == nil || s.Navigation.NextSelector == "" {
		return 0, newError(models.KindUnsupportedNavigation, ErrUnsupportedNavigation, "Navigation not supported for this site")
	}
	if target == 1 {
		return 0, newError(models.KindElementNotFound, ErrElementNotFound, "Navigation to specified page is not possible")
	}

	next, err := page.Query(s.Navigation.NextSelector)
	if err != nil {
		return 0, browserError(err, "Failed to query next page control")
	}
	if next == nil {
		return 0, newError(models.KindElementNotFound, ErrElementNotFound, "Navigation to specified page is not possible")
	}
	if err := next.Click(); err != nil {
		return 0, browserError(err, "Failed to click next page")
	}
	if err := e.settle(ctx, page); err != nil {
		return 0, err
	}
	return target, nil
}
