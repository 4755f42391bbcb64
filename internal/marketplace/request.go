package marketplace

import (
	"context"
	"fmt"
	"strings"

	"github.com/maltedev/marketplace-agent/internal/models"
)

const (
	ActionAnalyzePage    = "analyze_page"
	ActionSearchProducts = "search_products"
	ActionGetProductInfo = "get_product_info"
	ActionGetReviews     = "get_reviews"
	ActionApplyFilters   = "apply_filters"
	ActionNavigatePage   = "navigate_page"
	ActionClose          = "close"
)

// Actions lists every action Execute understands.
var Actions = []string{
	ActionAnalyzePage,
	ActionSearchProducts,
	ActionGetProductInfo,
	ActionGetReviews,
	ActionApplyFilters,
	ActionNavigatePage,
	ActionClose,
}

// Request is the tool-call form of an operation.
type Request struct {
	Action     string            `json:"action"`
	URL        string            `json:"url,omitempty"`
	Query      string            `json:"query,omitempty"`
	ProductURL string            `json:"product_url,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	MaxResults int               `json:"max_results,omitempty"`
	MaxReviews int               `json:"max_reviews,omitempty"`
	PageNumber int               `json:"page_number,omitempty"`
}

type SearchRequest struct {
	URL        string
	Query      string
	MaxResults int
	Filters    map[string]string
}

// SearchResult is what Search found.
type SearchResult struct {
	Products []models.ExtractedProduct
	// Augmented is set when reviews were attached to the products.
	Augmented bool
}

// Execute dispatches req by action name.
func (e *Engine) Execute(ctx context.Context, req Request) models.ToolResult {
	switch strings.TrimSpace(req.Action) {
	case ActionAnalyzePage:
		return e.AnalyzePage(ctx, req.URL)
	case ActionSearchProducts:
		return e.SearchProducts(ctx, SearchRequest{
			URL:        req.URL,
			Query:      req.Query,
			MaxResults: req.MaxResults,
			Filters:    req.Filters,
		})
	case ActionGetProductInfo:
		return e.GetProductInfo(ctx, req.ProductURL)
	case ActionGetReviews:
		return e.GetReviews(ctx, req.ProductURL, req.MaxReviews)
	case ActionApplyFilters:
		return e.ApplyFilters(ctx, req.Filters)
	case ActionNavigatePage:
		return e.NavigatePage(ctx, req.PageNumber)
	case ActionClose:
		return e.Close(ctx)
	default:
		return models.Failure(models.KindInput, fmt.Sprintf("Unknown action: %s", req.Action))
	}
}

func orNotFound(s string) string {
	if s == "" {
		return "not found"
	}
	return s
}

func formatAnalysis(r models.InferenceResult) string {
	s := r.Structure
	var b strings.Builder
	b.WriteString("Page structure analysis completed successfully!\n\n")
	fmt.Fprintf(&b, "Marketplace: %s\n", orNotFound(s.MarketplaceName))
	fmt.Fprintf(&b, "Confidence level: %.2f\n", r.Confidence)
	fmt.Fprintf(&b, "Page type: %s\n\n", r.PageType)
	b.WriteString("Found elements:\n")
	fmt.Fprintf(&b, "- Search: %s\n", orNotFound(s.Search.InputSelector))
	fmt.Fprintf(&b, "- Product container: %s\n", orNotFound(s.ProductListing.ContainerSelector))
	fmt.Fprintf(&b, "- Price: %s\n", orNotFound(s.ProductListing.PriceSelector))
	fmt.Fprintf(&b, "- Title: %s\n", orNotFound(s.ProductListing.TitleSelector))
	fmt.Fprintf(&b, "- Link: %s\n", orNotFound(s.ProductListing.LinkSelector))
	fmt.Fprintf(&b, "- Filters: %d groups\n", len(s.FilterGroups))
	if s.Navigation != nil {
		fmt.Fprintf(&b, "- Next page: %s\n", orNotFound(s.Navigation.NextSelector))
	}
	if s.Reviews != nil {
		fmt.Fprintf(&b, "- Reviews: %s\n", orNotFound(s.Reviews.ItemSelector))
	}
	if s.Notes != "" {
		fmt.Fprintf(&b, "\nSpecial notes: %s", s.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}
