package marketplace

import (
	"context"
	"strings"

	"github.com/maltedev/marketplace-agent/internal/models"
)

// reviewKeywords signal that a query cares about reviews or quality.
var reviewKeywords = []string{
	// en
	"review", "rating", "feedback", "opinion", "quality", "reliable", "reliability", "durable", "recommend",
	// ru
	"отзыв", "рейтинг", "оценк", "мнени", "качеств", "надежн", "надёжн", "рекоменд",
	// de
	"bewertung", "rezension", "erfahrung", "qualität", "zuverlässig", "empfehl",
}

// WantsReviews reports whether query mentions reviews, ratings or quality in
// any of the supported languages.
func WantsReviews(query string) bool {
	q := foldCase(query)
	for _, kw := range reviewKeywords {
		if strings.Contains(q, foldCase(kw)) {
			return true
		}
	}
	return false
}

// augment attaches up to ReviewsPerProduct reviews to every product with a
// link. A product whose lookup finds nothing gets an empty, non-nil slice.
func (e *Engine) augment(ctx context.Context, products []models.ExtractedProduct) []models.ExtractedProduct {
	out := make([]models.ExtractedProduct, len(products))
	copy(out, products)

	for i := range out {
		if out[i].Link == "" {
			continue
		}
		if err := e.pacer.Wait(ctx); err != nil {
			e.logger.Warn("review augmentation interrupted", "error", err)
			break
		}

		reviews, err := e.reviews(ctx, out[i].Link, e.cfg.ReviewsPerProduct)
		if err != nil {
			e.pacer.RecordError()
			e.logger.Info("no reviews for product", "link", out[i].Link, "error", err)
			reviews = []models.ExtractedReview{}
		} else {
			e.pacer.RecordSuccess()
		}
		out[i].Reviews = reviews
	}
	return out
}
