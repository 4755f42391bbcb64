package marketplace

import (
	"strings"
	"time"
)

// SiteHints are hand-maintained selectors for a marketplace whose markup the
// generic ladders handle poorly. They are tried after inferred selectors and
// before the generic fallbacks.
type SiteHints struct {
	Name string
	// Domains match the exact host or any subdomain of it.
	Domains []string

	ContainerSelectors   []string
	PriceSelectors       []string
	AlternativeSelectors []string
	ChallengeSelectors   []string

	// PostSearchWait is an extra pause after a search submission, followed by
	// a short scroll down and back up when PostSearchScroll is set.
	PostSearchWait   time.Duration
	PostSearchScroll bool
}

// Hints is a registry of per-site hints.
type Hints []SiteHints

func DefaultHints() Hints {
	return Hints{
		{
			Name:    "ozon",
			Domains: []string{"ozon.ru", "ozon.by", "ozon.kz", "ozon.com"},
			ContainerSelectors: []string{
				"[data-widget='searchResultsV2'] > div > div",
				"[data-widget='skuGrid'] > div",
			},
			PriceSelectors: []string{
				"span.c35_3_1-a1.tsHeadline500Medium.c35_3_1-b1.c35_3_1-a6",
				"span.tsHeadline500Medium",
				"span[style*='background-image'][style*='linear-gradient']",
			},
			AlternativeSelectors: []string{
				"a[href*='/product/']",
				"[data-widget='searchResultsV2'] a",
				".tile-root",
			},
			ChallengeSelectors: []string{".message .loader"},
			PostSearchWait:     3 * time.Second,
			PostSearchScroll:   true,
		},
	}
}

// For returns the hints registered for domain, or empty hints.
func (h Hints) For(domain string) SiteHints {
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	for _, site := range h {
		for _, d := range site.Domains {
			if domain == d || strings.HasSuffix(domain, "."+d) {
				return site
			}
		}
	}
	return SiteHints{}
}

// ChallengeSelectors collects every registered interstitial marker.
func (h Hints) ChallengeSelectors() []string {
	var out []string
	seen := make(map[string]bool)
	for _, site := range h {
		for _, sel := range site.ChallengeSelectors {
			if !seen[sel] {
				seen[sel] = true
				out = append(out, sel)
			}
		}
	}
	return out
}
