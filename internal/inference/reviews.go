package inference

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/marketplace-agent/internal/llmjson"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/maltedev/marketplace-agent/internal/urlutil"
)

const notFoundMarker = "NOT_FOUND"

var linkTokenRe = regexp.MustCompile(`(https?://[^\s"'<>` + "`" + `]+|/[^\s"'<>` + "`" + `]+)`)

// FindReviewsLink asks the model for the reviews link on a product page. The
// answer is accepted only when it names an anchor that exists in the markup.
func (e *Engine) FindReviewsLink(ctx context.Context, productURL, cleanedHTML string) (string, bool) {
	logger := e.logger.With("url", productURL)

	response, err := e.llm.Ask(ctx, reviewsLinkPrompt(productURL, cleanedHTML))
	if err != nil {
		logger.Warn("reviews link lookup failed", "error", err)
		return "", false
	}

	candidate := strings.Trim(strings.TrimSpace(response), "`\"' ")
	if candidate == "" || strings.Contains(candidate, notFoundMarker) {
		return "", false
	}
	if !strings.HasPrefix(candidate, "http") && !strings.HasPrefix(candidate, "/") {
		candidate = linkTokenRe.FindString(candidate)
		if candidate == "" {
			logger.Debug("model returned no usable link", "response", response)
			return "", false
		}
	}

	link := urlutil.Resolve(productURL, candidate)
	if !linkInMarkup(productURL, cleanedHTML, link) {
		logger.Warn("model returned a link that is not on the page", "link", link)
		return "", false
	}
	return link, true
}

func linkInMarkup(baseURL, html, link string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if urlutil.Resolve(baseURL, strings.TrimSpace(href)) == link {
			found = true
			return false
		}
		return true
	})
	return found
}

// ExtractReviews asks the model to read up to limit reviews out of a reviews
// page. Entries with too little text are dropped.
func (e *Engine) ExtractReviews(ctx context.Context, reviewsURL, cleanedHTML string, limit int) []models.ExtractedReview {
	if limit <= 0 {
		return nil
	}
	logger := e.logger.With("url", reviewsURL)

	response, err := e.llm.Ask(ctx, reviewsPrompt(reviewsURL, cleanedHTML, limit))
	if err != nil {
		logger.Warn("review extraction failed", "error", err)
		return nil
	}

	var raw []map[string]any
	if _, err := llmjson.Array(response, &raw); err != nil {
		logger.Warn("model returned no review array", "error", err)
		return nil
	}

	reviews := make([]models.ExtractedReview, 0, len(raw))
	for _, item := range raw {
		text := field(item, "text")
		if !models.ValidReviewText(text) {
			continue
		}
		author := field(item, "author")
		if author == "" {
			author = models.AnonymousAuthor
		}
		reviews = append(reviews, models.ExtractedReview{
			Text:   text,
			Rating: field(item, "rating"),
			Author: author,
			Date:   field(item, "date"),
		})
		if len(reviews) == limit {
			break
		}
	}

	logger.Info("reviews extracted by model", "count", len(reviews))
	return reviews
}

func field(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}
