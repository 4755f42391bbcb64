package marketplace

import (
	"context"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/maltedev/marketplace-agent/internal/readiness"
	"github.com/maltedev/marketplace-agent/internal/urlutil"
)

var (
	reviewItemFallbacks = []string{
		".review",
		".comment",
		"[data-testid*='review']",
		".user-review",
		".feedback-item",
	}

	reviewTextFallbacks = []string{
		".review-text",
		".comment-text",
		".feedback-text",
		"[data-testid*='text']",
		"p",
		".content",
	}

	loadMoreSelectors = []string{
		"button:has-text(\"Показать еще\")",
		"button:has-text(\"Показать ещё\")",
		"button:has-text(\"Загрузить еще\")",
		"button:has-text(\"Еще отзывы\")",
		"button:has-text(\"Show more\")",
		"button:has-text(\"Load more\")",
		"button:has-text(\"Mehr anzeigen\")",
		"button:has-text(\"Weitere Bewertungen\")",
		"[data-testid*='load-more']",
		".load-more",
		".show-more",
	}

	paginationSelectors = []string{
		"a:has-text(\"Следующая\")",
		"a:has-text(\"Далее\")",
		"a:has-text(\"Next\")",
		"a:has-text(\"Weiter\")",
		"[data-testid*='pagination-next']",
		".pagination-next",
		"a[rel='next']",
	}
)

// Reviews collects up to maxReviews reviews for productURL.
func (e *Engine) Reviews(ctx context.Context, productURL string, maxReviews int) ([]models.ExtractedReview, error) {
	target, err := normalizeInput(productURL, "Product URL is required for review retrieval")
	if err != nil {
		return nil, err
	}
	return e.reviews(ctx, target, e.clampReviews(maxReviews))
}

func (e *Engine) clampReviews(n int) int {
	if n <= 0 {
		n = e.cfg.MaxReviews
	}
	if limit := e.cfg.MaxReviewsLimit; limit > 0 && n > limit {
		e.logger.Warn("max_reviews above limit, clamping", "requested", n, "limit", limit)
		n = limit
	}
	return n
}

func (e *Engine) reviews(ctx context.Context, productURL string, limit int) ([]models.ExtractedReview, error) {
	page, err := e.page(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.open(ctx, page, productURL); err != nil {
		return nil, err
	}

	domain := urlutil.Domain(productURL)
	s, _ := e.cache.Get(domain)
	var sel models.ReviewSelectors
	if s != nil && s.Reviews != nil {
		sel = *s.Reviews
	}
	logger := e.logger.With("product_url", productURL)

	if sel.ItemSelector != "" {
		if items, _ := page.QueryAll(sel.ItemSelector); len(items) > 0 {
			logger.Info("reviews present on product page")
			return e.collectReviews(ctx, page, sel, limit)
		}
	}

	link, err := e.reviewsLink(ctx, page, sel)
	if err != nil {
		return nil, err
	}
	logger.Info("opening reviews page", "reviews_url", link)
	if err := e.open(ctx, page, link); err != nil {
		return nil, err
	}
	return e.collectReviews(ctx, page, sel, limit)
}

// reviewsLink finds the reviews page of the current product page, first
// through the inferred selector, then by asking the model.
func (e *Engine) reviewsLink(ctx context.Context, page dom.Page, sel models.ReviewSelectors) (string, error) {
	base := page.URL()
	if sel.ReviewsLinkSelector != "" {
		href := firstAttribute(page, []string{sel.ReviewsLinkSelector}, "href", nonEmpty)
		if href != "" {
			return urlutil.Resolve(base, href), nil
		}
		e.logger.Debug("inferred reviews link selector matched nothing", "selector", sel.ReviewsLinkSelector)
	}

	cleaned, err := e.cleanedContent(page)
	if err != nil {
		return "", err
	}
	if link, ok := e.inference.FindReviewsLink(ctx, base, cleaned); ok {
		return link, nil
	}
	return "", newError(models.KindElementNotFound, ErrElementNotFound, "Reviews link not found on product page")
}

// collectReviews loads more reviews on the current page, extracts them and
// follows pagination until limit is reached.
func (e *Engine) collectReviews(ctx context.Context, page dom.Page, sel models.ReviewSelectors, limit int) ([]models.ExtractedReview, error) {
	e.loadMore(ctx, page)

	reviews := e.selectorReviews(page, sel, limit)
	if len(reviews) == 0 {
		cleaned, err := e.cleanedContent(page)
		if err != nil {
			return nil, err
		}
		reviews = e.inference.ExtractReviews(ctx, page.URL(), cleaned, limit)
	}
	if len(reviews) == 0 {
		return nil, newError(models.KindElementNotFound, ErrElementNotFound, "Reviews not found on reviews page")
	}

	seen := make(map[string]bool, len(reviews))
	for _, r := range reviews {
		seen[r.Text] = true
	}
	for i := 0; i < e.cfg.PaginationPages && len(reviews) < limit; i++ {
		next := firstVisible(page, paginationSelectors)
		if next == nil {
			break
		}
		if err := next.Click(); err != nil {
			e.logger.Debug("pagination click failed", "error", err)
			break
		}
		if err := e.settle(ctx, page); err != nil {
			return reviews, nil
		}
		e.loadMore(ctx, page)

		added := 0
		for _, r := range e.selectorReviews(page, sel, limit-len(reviews)) {
			if !seen[r.Text] {
				seen[r.Text] = true
				reviews = append(reviews, r)
				added++
			}
		}
		if added == 0 {
			break
		}
	}
	return reviews, nil
}

// loadMore scrolls until the height is stable, then presses the first
// "load more" control found until it disappears or the click budget runs out.
func (e *Engine) loadMore(ctx context.Context, page dom.Page) {
	loader := e.reviewLoader()
	if _, err := loader.Load(ctx, page); err != nil {
		e.logger.Debug("review scroll stopped", "error", err)
	}

	for _, sel := range loadMoreSelectors {
		button, err := page.Query(sel)
		if err != nil || button == nil {
			continue
		}
		for i := 0; i < e.cfg.LoadMoreClicks && button != nil; i++ {
			if visible, err := button.IsVisible(); err != nil || !visible {
				break
			}
			if err := button.Click(); err != nil {
				e.logger.Debug("load more click failed", "error", err)
				break
			}
			if err := e.sleep(ctx, e.cfg.LoadMorePause); err != nil {
				return
			}
			button, _ = page.Query(sel)
		}
		break
	}

	for _, script := range []string{dom.ScriptScrollToTop, dom.ScriptScrollToBottom} {
		if _, err := page.Evaluate(script); err != nil {
			e.logger.Debug("final review scroll failed", "error", err)
			return
		}
	}
	_ = e.sleep(ctx, e.cfg.LoadMorePause)
}

func (e *Engine) reviewLoader() readiness.ScrollLoader {
	return readiness.ScrollLoader{
		Attempts:  e.cfg.ScrollAttempts,
		Pause:     e.cfg.ScrollPause,
		Threshold: 1,
		Sleep:     e.sleep,
	}
}

func firstVisible(page dom.Page, selectors []string) dom.Element {
	for _, sel := range selectors {
		el, err := page.Query(sel)
		if err != nil || el == nil {
			continue
		}
		if visible, err := el.IsVisible(); err == nil && visible {
			return el
		}
	}
	return nil
}

// selectorReviews extracts reviews with the inferred selectors, falling back
// to the generic ladders.
func (e *Engine) selectorReviews(page dom.Page, sel models.ReviewSelectors, limit int) []models.ExtractedReview {
	items := firstMatching(page, ladder(reviewItemFallbacks, sel.ItemSelector))
	textSelectors := ladder(reviewTextFallbacks, sel.TextSelector)

	var reviews []models.ExtractedReview
	for _, item := range items {
		if len(reviews) >= limit {
			break
		}
		text := firstText(item, textSelectors, nonEmpty)
		if text == "" {
			if own, err := item.InnerText(); err == nil {
				text = collapse(own)
			}
		}
		if !models.ValidReviewText(text) {
			continue
		}

		r := models.ExtractedReview{Text: text, Author: models.AnonymousAuthor}
		if sel.AuthorSelector != "" {
			if author := firstText(item, []string{sel.AuthorSelector}, nonEmpty); author != "" {
				r.Author = author
			}
		}
		if sel.RatingSelector != "" {
			r.Rating = firstText(item, []string{sel.RatingSelector}, nonEmpty)
		}
		if sel.DateSelector != "" {
			r.Date = firstText(item, []string{sel.DateSelector}, nonEmpty)
		}
		reviews = append(reviews, r)
	}
	return reviews
}
