package inference

import (
	"fmt"
	"strings"
)

const structureSchema = `{
    "success": true,
    "confidence": 0.95,
    "page_type": "main|category|search|product",
    "marketplace_structure": {
        "marketplace_name": "Marketplace Name",
        "base_url": "https://domain.com",
        "search": {
            "search_input_selector": "input[type='search']",
            "search_button_selector": "button[type='submit']",
            "search_form_selector": "form.search"
        },
        "product": {
            "container_selector": null,
            "title_selector": null,
            "price_selector": null,
            "link_selector": null,
            "image_selector": null,
            "rating_selector": null,
            "discount_selector": null
        },
        "product_page": {
            "title_selector": null,
            "price_selector": null,
            "description_selector": null,
            "specifications_selector": null,
            "images_selector": null,
            "availability_selector": null,
            "buy_button_selector": null
        },
        "filters": [
            {
                "name": "Price",
                "container_selector": ".price-filter",
                "options": [
                    {
                        "name": "Up to 1000",
                        "selector": "input[data-price='1000']",
                        "value": "1000",
                        "filter_type": "checkbox"
                    }
                ]
            }
        ],
        "navigation": {
            "pagination_selector": null,
            "next_page_selector": null,
            "prev_page_selector": null
        },
        "reviews": {
            "reviews_container_selector": null,
            "review_item_selector": null,
            "review_text_selector": null,
            "review_rating_selector": null,
            "review_author_selector": null,
            "review_date_selector": null,
            "reviews_link_selector": null
        },
        "special_notes": "Anything unusual about operating this site"
    }
}`

func structurePrompt(pageURL, html string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert web scraper analyzing a marketplace page. Study the HTML and identify every interactive element.\n\n")
	fmt.Fprintf(&b, "Page URL: %s\n\nHTML (rendered by JavaScript):\n%s\n\n", pageURL, html)
	b.WriteString(`The page comes from a modern single-page marketplace. Look for data-* attributes,
component-style class names and elements created at runtime.

PAGE TYPES:
- main: landing page, usually without product lists
- category: category page with a product list
- search: search results page with a product list
- product: a single product page

WHAT TO LOOK FOR:
1. SEARCH (present on most pages): input[type="search"], placeholders such as "Search" or "Поиск",
   [data-widget*="search"], optional submit buttons and forms.
2. PRODUCT LIST (category and search only): repeated cards such as [data-widget*="searchResults"],
   .product-card, .goods-tile or [data-testid*="product"]; titles usually sit in links to /product/
   pages; prices often use special Unicode spaces or gradient styling.
3. PRODUCT PAGE (product only): h1 titles, price blocks, description and specification blocks.
4. FILTERS: sidebar groups of checkboxes, radios, inputs and selects.
5. NAVIGATION: pagination blocks and next/previous controls.
6. REVIEWS: review blocks, individual review items, ratings, authors, dates and links to a reviews page.

RULES:
- If an element is NOT on the page, use null. DO NOT GUESS.
- Only return selectors that match elements present in the HTML above.
- Prefer data-* attributes and stable selectors.
- If there are no filters, return "filters": [].
- If there is no product list (for example on a main page), every product selector must be null.

Return the result STRICTLY as JSON in this shape:

`)
	b.WriteString(structureSchema)
	b.WriteString("\n")
	return b.String()
}

func reviewsLinkPrompt(productURL, html string) string {
	return fmt.Sprintf(`Analyze the product page HTML and find the link to this product's reviews.

Page URL: %s

HTML:
%s

The link usually contains "/reviews/", "/review/", "/comments/" or "/feedback/", or its text
mentions reviews, comments or feedback.

Return ONLY the relative or absolute URL of that link, with no other text.
Use only links present in the HTML. If there is no such link, return NOT_FOUND.

Response (URL or NOT_FOUND):
`, productURL, html)
}

func reviewsPrompt(reviewsURL, html string, limit int) string {
	return fmt.Sprintf(`Analyze the reviews page HTML and extract the user reviews.

Page URL: %s

HTML:
%s

For each review find the author, the rating, the date and the review text.

Return ONLY a JSON array in this format:
[
  {
    "author": "author name or \"Anonymous\"",
    "rating": "rating or null",
    "date": "date or null",
    "text": "review text"
  }
]

RULES:
- Only real user reviews, never the product description.
- Review text must be at least 10 characters long.
- Use null for a missing rating or date and "Anonymous" for a missing author.
- At most %d reviews.
- Do not invent reviews.
`, reviewsURL, html, limit)
}
