package models

import (
	"fmt"
	"strings"
)

const (
	TitleNotFound   = "Title not found"
	PriceNotFound   = "Price not found"
	AnonymousAuthor = "Anonymous"

	// MinReviewLength is the shortest review text kept, in characters after trimming.
	MinReviewLength = 10

	reviewSummaryLimit = 400
)

type ExtractedProduct struct {
	Title    string            `json:"title"`
	Price    string            `json:"price,omitempty"`
	Link     string            `json:"link,omitempty"`
	Image    string            `json:"image,omitempty"`
	Rating   string            `json:"rating,omitempty"`
	Discount string            `json:"discount,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`

	// Reviews is set by review augmentation. A non-nil empty slice means
	// reviews were looked up and none were found.
	Reviews []ExtractedReview `json:"reviews,omitempty"`
}

// HasTitle reports whether a real title was extracted.
func (p ExtractedProduct) HasTitle() bool {
	return p.Title != "" && p.Title != TitleNotFound
}

func (p ExtractedProduct) Summary() string {
	var b strings.Builder
	b.WriteString("📦 " + p.Title)
	if p.Price != "" {
		b.WriteString("\n💰 " + p.Price)
	}
	if p.Link != "" {
		b.WriteString("\n🔗 " + p.Link)
	}
	if p.Rating != "" {
		b.WriteString("\n⭐ " + p.Rating)
	}
	if p.Discount != "" {
		b.WriteString("\n🏷️ " + p.Discount)
	}
	if p.Reviews == nil {
		return b.String()
	}

	b.WriteString("\n\n📝 REVIEWS: ")
	if len(p.Reviews) == 0 {
		b.WriteString("no reviews found")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("%d\n", len(p.Reviews)))
	b.WriteString(FormatReviews(p.Reviews))
	return b.String()
}

type ExtractedReview struct {
	Text   string            `json:"text"`
	Rating string            `json:"rating,omitempty"`
	Author string            `json:"author,omitempty"`
	Date   string            `json:"date,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// ValidReviewText reports whether text is long enough to be a real review.
func ValidReviewText(text string) bool {
	return len([]rune(strings.TrimSpace(text))) >= MinReviewLength
}

func (r ExtractedReview) Summary() string {
	author := r.Author
	if author == "" {
		author = AnonymousAuthor
	}

	var b strings.Builder
	b.WriteString("👤 " + author)
	if r.Rating != "" {
		b.WriteString("\n⭐ " + r.Rating)
	}
	if r.Date != "" {
		b.WriteString("\n📅 " + r.Date)
	}
	b.WriteString("\n💬 " + Truncate(r.Text, reviewSummaryLimit))
	return b.String()
}

// FormatProducts renders a numbered product list.
func FormatProducts(products []ExtractedProduct) string {
	lines := make([]string, len(products))
	for i, p := range products {
		lines[i] = fmt.Sprintf("%d. %s", i+1, p.Summary())
	}
	return strings.Join(lines, "\n")
}

func FormatReviews(reviews []ExtractedReview) string {
	parts := make([]string, len(reviews))
	for i, r := range reviews {
		parts[i] = r.Summary()
	}
	return strings.Join(parts, "\n---\n")
}

// ProductDetails is the text-oriented view of a single product page.
type ProductDetails struct {
	Title          string `json:"title"`
	Price          string `json:"price"`
	Description    string `json:"description,omitempty"`
	Specifications string `json:"specifications,omitempty"`
	Availability   string `json:"availability,omitempty"`
	Image          string `json:"image,omitempty"`
}

func (d ProductDetails) Format() string {
	parts := []string{
		"📦 PRODUCT: " + d.Title,
		"💰 PRICE: " + d.Price,
	}
	if d.Description != "" {
		parts = append(parts, "📝 DESCRIPTION: "+d.Description)
	}
	if d.Specifications != "" {
		parts = append(parts, "📋 SPECIFICATIONS: "+d.Specifications)
	}
	if d.Availability != "" {
		parts = append(parts, "📦 AVAILABILITY: "+d.Availability)
	}
	if d.Image != "" {
		parts = append(parts, "🖼️ IMAGE: "+d.Image)
	}
	return strings.Join(parts, "\n\n")
}

// Truncate cuts s to limit runes, appending "..." when something was removed.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
