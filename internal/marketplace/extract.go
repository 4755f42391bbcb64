package marketplace

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/maltedev/marketplace-agent/internal/urlutil"
)

var (
	containerFallbacks = []string{
		"[data-widget='searchResultsV2'] > div",
		".tile-root",
		".product-card",
		".goods-tile",
		"[data-testid*='product']",
		".catalog-product",
	}

	titleFallbacks = []string{
		"a[href*='/product/']",
		"[data-testid*='title']",
		".title",
		".name",
		".product-name",
		".goods-tile-title",
		"h3",
		"h4",
		"h5",
		".tsBodyL",
	}

	priceFallbacks = []string{
		"[data-testid*='price']",
		".price",
		".product-price",
		".cost",
		".goods-tile-price",
		"[class*='price']",
	}

	ratingFallbacks = []string{
		"[data-testid*='rating']",
		".rating",
		"[class*='rating']",
	}

	discountFallbacks = []string{
		"[data-testid*='discount']",
		".discount",
		"[class*='discount']",
		"[class*='sale']",
	}

	imageFallbacks = []string{
		"img[src]",
		"img[data-src]",
	}

	linkFallbacks = []string{
		"a[href*='/product/']",
		"a[href*='/goods/']",
		"a[href]",
	}

	alternativeFallbacks = []string{
		"a[href*='/product/']",
		"a[href*='/goods/']",
		"[data-testid*='product'] a",
	}

	alternativeTitleSelectors = []string{".title", ".name", "[data-testid*='title']", "h3", "h4", "span", "a"}
	alternativePriceSelectors = []string{"[data-testid*='price']", ".price", "span", "div"}

	productTitleFallbacks = []string{"h1", "[data-testid*='title']", ".product-title", ".pdp-product-name", ".goods-name"}
	productPriceFallbacks = []string{"[data-testid*='price']", ".product-price", ".price", ".cost"}
)

const (
	minTitleLength            = 3
	minAlternativeTitleLength = 6
	alternativeTitleLimit     = 100
	descriptionLimit          = 300
	specificationsLimit       = 200
)

var (
	spaceRe      = regexp.MustCompile(`\s+`)
	numericRe    = regexp.MustCompile(`^[\d\s.,%+-]+$`)
	currencyRe   = regexp.MustCompile(`(?i)(₽|руб|р\.|\$|€|£|₸|₴|zł|kr|eur|usd)`)
	productPaths = []string{"/product/", "/goods/"}
	priceSpaces  = strings.NewReplacer(
		"\u2009", " ",
		"\u202f", " ",
		"\u00a0", " ",
		"&thinsp;", " ",
		"&nbsp;", " ",
		"&#8201;", " ",
		"&#160;", " ",
	)
)

// NormalizePrice replaces thin and non-breaking spaces with plain spaces and
// collapses runs of whitespace.
func NormalizePrice(s string) string {
	return collapse(priceSpaces.Replace(s))
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func plausibleTitle(s string) bool {
	return len([]rune(s)) >= minTitleLength && !numericRe.MatchString(s)
}

func plausiblePrice(s string) bool {
	return hasDigit(s)
}

func productLink(href string) bool {
	for _, p := range productPaths {
		if strings.Contains(href, p) {
			return true
		}
	}
	return false
}

// ladder prepends the non-empty preferred selectors to the fallbacks.
func ladder(fallbacks []string, preferred ...string) []string {
	out := make([]string, 0, len(preferred)+len(fallbacks))
	seen := make(map[string]bool)
	for _, group := range [][]string{preferred, fallbacks} {
		for _, sel := range group {
			if sel = strings.TrimSpace(sel); sel != "" && !seen[sel] {
				seen[sel] = true
				out = append(out, sel)
			}
		}
	}
	return out
}

type querier interface {
	Query(selector string) (dom.Element, error)
	QueryAll(selector string) ([]dom.Element, error)
}

// firstText returns the first text under root, walking selectors in order,
// that passes accept.
func firstText(root querier, selectors []string, accept func(string) bool) string {
	for _, sel := range selectors {
		el, err := root.Query(sel)
		if err != nil || el == nil {
			continue
		}
		text, err := el.InnerText()
		if err != nil {
			continue
		}
		if text = collapse(text); accept(text) {
			return text
		}
	}
	return ""
}

func firstAttribute(root querier, selectors []string, name string, accept func(string) bool) string {
	for _, sel := range selectors {
		el, err := root.Query(sel)
		if err != nil || el == nil {
			continue
		}
		v, err := el.Attribute(name)
		if err != nil {
			continue
		}
		if v = strings.TrimSpace(v); v != "" && accept(v) {
			return v
		}
	}
	return ""
}

// imageAttributes are read in order; lazy-loaded images keep the real URL in
// data-src.
var imageAttributes = []string{"src", "data-src"}

func firstImage(root querier, selectors []string) string {
	for _, sel := range selectors {
		el, err := root.Query(sel)
		if err != nil || el == nil {
			continue
		}
		for _, name := range imageAttributes {
			if v, err := el.Attribute(name); err == nil && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func firstMatching(root querier, selectors []string) []dom.Element {
	for _, sel := range selectors {
		els, err := root.QueryAll(sel)
		if err == nil && len(els) > 0 {
			return els
		}
	}
	return nil
}

func nonEmpty(s string) bool { return s != "" }

// listingExtractor pulls product summaries out of a results page.
type listingExtractor struct {
	listing models.ListingSelectors
	hints   SiteHints
	base    string
	logger  *slog.Logger
}

func newListingExtractor(page dom.Page, s *models.SiteStructure, hints SiteHints, logger *slog.Logger) *listingExtractor {
	x := &listingExtractor{hints: hints, logger: logger}
	if s != nil {
		x.listing = s.ProductListing
		x.base = s.BaseURL
	}
	if x.base == "" {
		x.base = urlutil.Origin(page.URL())
	}
	return x
}

// Extract reads up to limit products. Containers come from the inferred
// selector, then the site hints, then the generic ladder. Items whose title
// cannot be read keep the title sentinel.
func (x *listingExtractor) Extract(page dom.Page, limit int) []models.ExtractedProduct {
	containers := firstMatching(page, ladder(ladder(containerFallbacks, x.hints.ContainerSelectors...), x.listing.ContainerSelector))
	if len(containers) == 0 {
		x.logger.Info("no product containers matched, trying alternative extraction")
		return x.Alternative(page, limit)
	}

	products := make([]models.ExtractedProduct, 0, min(len(containers), limit))
	for i, c := range containers {
		if len(products) >= limit {
			break
		}
		p, ok := x.product(c)
		if !ok {
			x.logger.Debug("skipping container", "index", i)
			continue
		}
		products = append(products, p)
	}
	return products
}

func (x *listingExtractor) product(c dom.Element) (p models.ExtractedProduct, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Warn("product extraction panicked", "error", r)
			ok = false
		}
	}()

	p.Title = firstText(c, ladder(titleFallbacks, x.listing.TitleSelector), plausibleTitle)
	if p.Title == "" {
		p.Title = models.TitleNotFound
	}

	price := firstText(c, ladder(ladder(priceFallbacks, x.hints.PriceSelectors...), x.listing.PriceSelector), plausiblePrice)
	if price != "" {
		p.Price = NormalizePrice(price)
	}

	href := firstAttribute(c, ladder(linkFallbacks, x.listing.LinkSelector), "href", productLink)
	if href == "" {
		if own, err := c.Attribute("href"); err == nil && productLink(own) {
			href = own
		}
	}
	if href != "" {
		p.Link = urlutil.Resolve(x.base, href)
	}

	p.Rating = firstText(c, ladder(ratingFallbacks, x.listing.RatingSelector), nonEmpty)
	p.Discount = firstText(c, ladder(discountFallbacks, x.listing.DiscountSelector), nonEmpty)
	if src := firstImage(c, ladder(imageFallbacks, x.listing.ImageSelector)); src != "" {
		p.Image = urlutil.Resolve(x.base, src)
	}
	return p, true
}

// Alternative walks product links directly when no container matched. Only
// items with a readable title are returned.
func (x *listingExtractor) Alternative(page dom.Page, limit int) []models.ExtractedProduct {
	selectors := x.hints.AlternativeSelectors
	if len(selectors) == 0 {
		selectors = alternativeFallbacks
	}
	priceSelectors := ladder(alternativePriceSelectors, x.hints.PriceSelectors...)

	for _, sel := range selectors {
		els, err := page.QueryAll(sel)
		if err != nil || len(els) == 0 {
			continue
		}

		var products []models.ExtractedProduct
		seen := make(map[string]bool)
		for _, el := range els {
			if len(products) >= limit {
				break
			}
			title := alternativeTitle(el)
			if title == "" {
				continue
			}
			p := models.ExtractedProduct{
				Title: title,
				Price: NormalizePrice(firstText(el, priceSelectors, alternativePrice)),
				Link:  x.alternativeLink(el),
			}
			if p.Link != "" {
				if seen[p.Link] {
					continue
				}
				seen[p.Link] = true
			}
			products = append(products, p)
		}
		if len(products) > 0 {
			x.logger.Info("alternative extraction matched", "selector", sel, "count", len(products))
			return products
		}
	}
	return nil
}

func alternativeTitle(el dom.Element) string {
	accept := func(s string) bool {
		return len([]rune(s)) >= minAlternativeTitleLength && !numericRe.MatchString(s)
	}
	title := firstText(el, alternativeTitleSelectors, accept)
	if title == "" {
		if own, err := el.InnerText(); err == nil && accept(collapse(own)) {
			title = collapse(own)
		}
	}
	if r := []rune(title); len(r) > alternativeTitleLimit {
		title = strings.TrimSpace(string(r[:alternativeTitleLimit]))
	}
	return title
}

func alternativePrice(s string) bool {
	if !hasDigit(s) || len([]rune(s)) > 40 {
		return false
	}
	return currencyRe.MatchString(s) || numericRe.MatchString(s)
}

func (x *listingExtractor) alternativeLink(el dom.Element) string {
	if own, err := el.Attribute("href"); err == nil && productLink(own) {
		return urlutil.Resolve(x.base, own)
	}
	if href := firstAttribute(el, linkFallbacks[:2], "href", productLink); href != "" {
		return urlutil.Resolve(x.base, href)
	}
	return ""
}

// extractDetails reads a product page.
func extractDetails(page dom.Page, s *models.SiteStructure, hints SiteHints) models.ProductDetails {
	var sel models.ProductPageSelectors
	if s != nil {
		sel = s.ProductPage
	}
	base := urlutil.Origin(page.URL())

	d := models.ProductDetails{
		Title: firstText(page, ladder(productTitleFallbacks, sel.TitleSelector), plausibleTitle),
		Price: NormalizePrice(firstText(page, ladder(ladder(productPriceFallbacks, hints.PriceSelectors...), sel.PriceSelector), plausiblePrice)),
	}
	if d.Title == "" {
		d.Title = models.TitleNotFound
	}
	if d.Price == "" {
		d.Price = models.PriceNotFound
	}
	if sel.DescriptionSelector != "" {
		d.Description = models.Truncate(firstText(page, []string{sel.DescriptionSelector}, nonEmpty), descriptionLimit)
	}
	if sel.SpecsSelector != "" {
		d.Specifications = models.Truncate(firstText(page, []string{sel.SpecsSelector}, nonEmpty), specificationsLimit)
	}
	if sel.AvailabilitySelector != "" {
		d.Availability = firstText(page, []string{sel.AvailabilitySelector}, nonEmpty)
	}
	if sel.ImagesSelector != "" {
		if src := firstAttribute(page, []string{sel.ImagesSelector}, "src", nonEmpty); src != "" {
			d.Image = urlutil.Resolve(base, src)
		}
	}
	return d
}
