package marketplace

import (
	"context"
	"strings"

	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/maltedev/marketplace-agent/internal/urlutil"
)

// Search runs a query on the marketplace at req.URL and extracts the listing.
// Queries asking about reviews or quality get reviews attached per product.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Query) == "" {
		return SearchResult{}, inputError("URL and query are required for search")
	}
	target, err := normalizeInput(req.URL, "URL and query are required for search")
	if err != nil {
		return SearchResult{}, err
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = e.cfg.MaxResults
	}

	domain := urlutil.Domain(target)
	hints := e.hints.For(domain)
	logger := e.logger.With("domain", domain, "query", req.Query)

	page, err := e.page(ctx)
	if err != nil {
		return SearchResult{}, err
	}

	if urlutil.Domain(page.URL()) != domain {
		if err := e.open(ctx, page, target); err != nil {
			return SearchResult{}, err
		}
	}
	s, err := e.structureFor(ctx, page, domain)
	if err != nil {
		return SearchResult{}, err
	}

	if err := e.submitSearch(ctx, page, s, req.Query); err != nil {
		return SearchResult{}, err
	}
	e.postSearch(ctx, page, hints)
	e.lazyLoad(ctx, page, 3)
	s = e.refresh(ctx, page, domain, s)

	if len(req.Filters) > 0 {
		applied, err := e.applyFilters(ctx, page, s, req.Filters)
		if err != nil {
			logger.Warn("applying filters failed", "error", err)
		}
		logger.Info("filters applied", "applied", applied, "requested", len(req.Filters))
	}

	extractor := newListingExtractor(page, s, hints, e.logger)
	products := extractor.Extract(page, limit)
	if len(products) > 0 && !anyTitled(products) {
		if alt := extractor.Alternative(page, limit); len(alt) > 0 {
			products = alt
		}
	}
	if len(products) == 0 {
		return SearchResult{}, newError(models.KindElementNotFound, ErrElementNotFound,
			"No products found. Page structure may be different or no results for query.")
	}
	logger.Info("products extracted", "count", len(products))

	result := SearchResult{Products: products}
	if WantsReviews(req.Query) {
		result.Products = e.augment(ctx, products)
		result.Augmented = true
	}
	return result, nil
}

func anyTitled(products []models.ExtractedProduct) bool {
	for _, p := range products {
		if p.HasTitle() {
			return true
		}
	}
	return false
}

// Product opens productURL and reads its detail fields.
func (e *Engine) Product(ctx context.Context, productURL string) (models.ProductDetails, error) {
	target, err := normalizeInput(productURL, "Product URL is required for information retrieval")
	if err != nil {
		return models.ProductDetails{}, err
	}
	page, err := e.page(ctx)
	if err != nil {
		return models.ProductDetails{}, err
	}
	if err := e.open(ctx, page, target); err != nil {
		return models.ProductDetails{}, err
	}

	domain := urlutil.Domain(target)
	s, ok := e.cache.Get(domain)
	if !ok {
		e.logger.Debug("no cached structure for product page, using generic selectors", "domain", domain)
	}
	return extractDetails(page, s, e.hints.For(domain)), nil
}
