package models

import "strings"

// PageType classifies an analyzed page.
type PageType string

const (
	PageTypeMain     PageType = "main"
	PageTypeCategory PageType = "category"
	PageTypeSearch   PageType = "search"
	PageTypeProduct  PageType = "product"
	PageTypeUnknown  PageType = "unknown"
)

// ParsePageType maps free-form model output onto the known page types.
func ParsePageType(s string) PageType {
	switch PageType(strings.ToLower(strings.TrimSpace(s))) {
	case PageTypeMain:
		return PageTypeMain
	case PageTypeCategory:
		return PageTypeCategory
	case PageTypeSearch:
		return PageTypeSearch
	case PageTypeProduct:
		return PageTypeProduct
	default:
		return PageTypeUnknown
	}
}

// FilterKind selects how a filter option is operated.
type FilterKind string

const (
	FilterCheckbox FilterKind = "checkbox"
	FilterRadio    FilterKind = "radio"
	FilterInput    FilterKind = "input"
	FilterSelect   FilterKind = "select"
)

// SiteStructure is the inferred selector map for one marketplace domain.
// Empty selector strings mean the element is not present on the analyzed page.
type SiteStructure struct {
	MarketplaceName string               `json:"marketplace_name"`
	BaseURL         string               `json:"base_url"`
	Search          SearchSelectors      `json:"search"`
	ProductListing  ListingSelectors     `json:"product"`
	ProductPage     ProductPageSelectors `json:"product_page"`
	FilterGroups    []FilterGroup        `json:"filters"`
	Navigation      *NavigationSelectors `json:"navigation,omitempty"`
	Reviews         *ReviewSelectors     `json:"reviews,omitempty"`
	Notes           string               `json:"special_notes,omitempty"`
}

type SearchSelectors struct {
	InputSelector  string `json:"search_input_selector"`
	ButtonSelector string `json:"search_button_selector,omitempty"`
	FormSelector   string `json:"search_form_selector,omitempty"`
}

type ListingSelectors struct {
	ContainerSelector string `json:"container_selector,omitempty"`
	TitleSelector     string `json:"title_selector,omitempty"`
	PriceSelector     string `json:"price_selector,omitempty"`
	LinkSelector      string `json:"link_selector,omitempty"`
	ImageSelector     string `json:"image_selector,omitempty"`
	RatingSelector    string `json:"rating_selector,omitempty"`
	DiscountSelector  string `json:"discount_selector,omitempty"`
}

// IsEmpty reports whether no listing selector was inferred.
func (l ListingSelectors) IsEmpty() bool {
	return l == ListingSelectors{}
}

type ProductPageSelectors struct {
	TitleSelector        string `json:"title_selector,omitempty"`
	PriceSelector        string `json:"price_selector,omitempty"`
	DescriptionSelector  string `json:"description_selector,omitempty"`
	SpecsSelector        string `json:"specifications_selector,omitempty"`
	ImagesSelector       string `json:"images_selector,omitempty"`
	AvailabilitySelector string `json:"availability_selector,omitempty"`
	BuyButtonSelector    string `json:"buy_button_selector,omitempty"`
}

type FilterGroup struct {
	Name              string         `json:"name"`
	ContainerSelector string         `json:"container_selector"`
	Options           []FilterOption `json:"options"`
}

type FilterOption struct {
	Name     string     `json:"name"`
	Selector string     `json:"selector"`
	Value    string     `json:"value,omitempty"`
	Kind     FilterKind `json:"filter_type"`
}

type NavigationSelectors struct {
	PaginationSelector string `json:"pagination_selector,omitempty"`
	NextSelector       string `json:"next_page_selector,omitempty"`
	PrevSelector       string `json:"prev_page_selector,omitempty"`
}

type ReviewSelectors struct {
	ContainerSelector   string `json:"reviews_container_selector,omitempty"`
	ItemSelector        string `json:"review_item_selector,omitempty"`
	TextSelector        string `json:"review_text_selector,omitempty"`
	RatingSelector      string `json:"review_rating_selector,omitempty"`
	AuthorSelector      string `json:"review_author_selector,omitempty"`
	DateSelector        string `json:"review_date_selector,omitempty"`
	ReviewsLinkSelector string `json:"reviews_link_selector,omitempty"`
}

// Clone returns a deep copy so cached entries cannot be mutated by callers.
func (s *SiteStructure) Clone() *SiteStructure {
	if s == nil {
		return nil
	}
	c := *s
	if s.FilterGroups != nil {
		c.FilterGroups = make([]FilterGroup, len(s.FilterGroups))
		for i, g := range s.FilterGroups {
			g.Options = append([]FilterOption(nil), g.Options...)
			c.FilterGroups[i] = g
		}
	}
	if s.Navigation != nil {
		nav := *s.Navigation
		c.Navigation = &nav
	}
	if s.Reviews != nil {
		rev := *s.Reviews
		c.Reviews = &rev
	}
	return &c
}

// InferenceResult is the outcome of one structure inference call.
type InferenceResult struct {
	Success      bool           `json:"success"`
	Structure    *SiteStructure `json:"marketplace_structure,omitempty"`
	Confidence   float64        `json:"confidence"`
	PageType     PageType       `json:"page_type"`
	ErrorMessage string         `json:"error_message,omitempty"`

	// Err is the typed cause behind ErrorMessage.
	Err error `json:"-"`
}
