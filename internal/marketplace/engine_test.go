package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/maltedev/marketplace-agent/internal/llm"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	landingURL = "https://shop.example"

	landingHTML = `<html><body>
	  <header><form action="/search"><input name="q" type="text"><button type="submit">Найти</button></form></header>
	  <section class="promo"><h2>Скидки недели</h2></section>
	</body></html>`

	resultsHTML = `<html><body>
	  <header><form action="/search"><input name="q" type="text"><button type="submit">Найти</button></form></header>
	  <div class="results">
	    <div class="card"><a class="link" href="/product/1"><span class="title">Кроссовки синие</span></a><span class="price">4` + "\u2009" + `990 ₽</span></div>
	    <div class="card"><a class="link" href="/product/2"><span class="title">Кроссовки белые</span></a><span class="price">3 490 ₽</span></div>
	  </div>
	</body></html>`

	product1HTML = `<html><body><h1>Кроссовки синие</h1><span class="price">4 990 ₽</span>
	  <a href="/product/1/reviews">Отзывы (3)</a></body></html>`

	product2HTML = `<html><body><h1>Кроссовки белые</h1><span class="price">3 490 ₽</span></body></html>`

	reviews1HTML = `<html><body><div class="feed">
	  <div class="review"><span class="who">Анна</span><p>Очень удобные, ношу каждый день.</p></div>
	  <div class="review"><p>Хорошо</p></div>
	  <div class="review"><p>Очень рад!</p></div>
	</div></body></html>`
)

const landingStructure = `{
  "success": true,
  "confidence": 0.9,
  "page_type": "main",
  "marketplace_structure": {
    "marketplace_name": "Shop",
    "base_url": "https://shop.example",
    "search": {"search_input_selector": "input[name='q']", "search_button_selector": "button[type='submit']"},
    "product": {"container_selector": null, "title_selector": null, "price_selector": null, "link_selector": null},
    "filters": [],
    "navigation": null
  }
}`

const resultsStructure = `Here is the analysis:
{
  "success": true,
  "confidence": 0.8,
  "page_type": "search",
  "marketplace_structure": {
    "marketplace_name": "Shop",
    "base_url": "https://shop.example",
    "search": {"search_input_selector": "input[name='q']", "search_button_selector": "button[type='submit']"},
    "product": {"container_selector": ".card", "title_selector": ".title", "price_selector": ".price", "link_selector": "a.link"},
    "filters": [
      {"name": "Brand", "container_selector": ".brands", "options": [
        {"name": "Nike", "selector": "#brand-nike", "value": "nike", "filter_type": "checkbox"},
        {"name": "Puma", "selector": "#brand-puma", "value": "puma", "filter_type": "checkbox"}
      ]}
    ],
    "navigation": {"next_page_selector": "a.next"}
  }
}`

var reviewsHrefRe = regexp.MustCompile(`href="(/product/\d+/reviews)"`)

// fakeModel answers the three prompt kinds the engine sends and counts calls.
type fakeModel struct {
	mu      sync.Mutex
	prompts []string
}

func (m *fakeModel) ask(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	switch {
	case strings.HasPrefix(prompt, "Analyze the product page HTML"):
		if match := reviewsHrefRe.FindStringSubmatch(prompt); match != nil {
			return "`" + match[1] + "`", nil
		}
		return "NOT_FOUND", nil
	case strings.HasPrefix(prompt, "Analyze the reviews page HTML"):
		return "[]", nil
	case strings.Contains(prompt, "Page URL: "+landingURL+"/search"):
		return resultsStructure, nil
	default:
		return "```json\n" + landingStructure + "\n```", nil
	}
}

func (m *fakeModel) count(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

type recordingRecorder struct {
	mu   sync.Mutex
	runs []models.OperationRun
}

func (r *recordingRecorder) Record(_ context.Context, run *models.OperationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func searchURL(q string) string {
	return landingURL + "/search?q=" + url.QueryEscape(q)
}

func newShop() *dom.Snapshot {
	page := dom.NewSnapshot()
	page.SearchURL = searchURL
	page.Add(landingURL, landingHTML).
		Add(searchURL("blue shoes"), resultsHTML).
		Add(searchURL("shoes reviews"), resultsHTML).
		Add(landingURL+"/product/1", product1HTML).
		Add(landingURL+"/product/2", product2HTML).
		Add(landingURL+"/product/1/reviews", reviews1HTML)
	return page
}

type fixture struct {
	engine   *Engine
	page     *dom.Snapshot
	session  *dom.StaticSession
	model    *fakeModel
	recorder *recordingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ReviewPacing = 0

	f := &fixture{page: newShop(), model: &fakeModel{}, recorder: &recordingRecorder{}}
	f.session = dom.NewStaticSession(f.page)
	f.engine = New(cfg, Deps{
		Session:  f.session,
		LLM:      llm.Func(f.model.ask),
		Recorder: f.recorder,
		Sleep:    noSleep,
		Logger:   discardLogger(),
	})
	return f
}

func TestAnalyzePage_LandingPage(t *testing.T) {
	f := newFixture(t)

	res := f.engine.AnalyzePage(context.Background(), "shop.example")

	require.False(t, res.Failed(), res.Error)
	assert.Contains(t, res.Output, "Page structure analysis completed successfully!")
	assert.Contains(t, res.Output, "Page type: main")
	assert.Contains(t, res.Output, "- Product container: not found")

	result, ok := res.Data.(models.InferenceResult)
	require.True(t, ok)
	assert.Equal(t, models.PageTypeMain, result.PageType)
	assert.True(t, result.Structure.ProductListing.IsEmpty())

	cached, ok := f.engine.Cache().Get("shop.example")
	require.True(t, ok)
	assert.Equal(t, "input[name='q']", cached.Search.InputSelector)
	assert.Equal(t, []string{"https://shop.example"}, f.page.Visited())
}

func TestAnalyzePage_MalformedModelResponse(t *testing.T) {
	f := newFixture(t)
	f.engine = New(DefaultConfig(), Deps{
		Session: f.session,
		LLM:     llm.Func(func(context.Context, string) (string, error) { return "I could not find anything useful", nil }),
		Sleep:   noSleep,
		Logger:  discardLogger(),
	})

	res := f.engine.AnalyzePage(context.Background(), landingURL)

	require.True(t, res.Failed())
	assert.Equal(t, models.KindModelMalformed, res.Kind)
	assert.Equal(t, "Failed to analyze structure: LLM did not return valid JSON", res.Error)
	assert.Zero(t, f.engine.Cache().Len())
}

func TestSearchProducts_PlainQuery(t *testing.T) {
	f := newFixture(t)

	res := f.engine.SearchProducts(context.Background(), SearchRequest{URL: landingURL, Query: "blue shoes"})

	require.False(t, res.Failed(), res.Error)
	assert.True(t, strings.HasPrefix(res.Output, "Found products: 2\n\n"))
	products := res.Data.([]models.ExtractedProduct)
	require.Len(t, products, 2)
	assert.Equal(t, "Кроссовки синие", products[0].Title)
	assert.Equal(t, "4 990 ₽", products[0].Price)
	assert.Equal(t, "https://shop.example/product/1", products[0].Link)
	for _, p := range products {
		assert.Nil(t, p.Reviews)
	}
	assert.Zero(t, f.model.count("Analyze the product page HTML"))

	// the results page was analyzed again and replaced the landing structure
	cached, ok := f.engine.Cache().Get("shop.example")
	require.True(t, ok)
	assert.Equal(t, ".card", cached.ProductListing.ContainerSelector)
}

func TestSearchProducts_ReviewQueryAugments(t *testing.T) {
	f := newFixture(t)

	res := f.engine.SearchProducts(context.Background(), SearchRequest{URL: landingURL, Query: "shoes reviews"})

	require.False(t, res.Failed(), res.Error)
	assert.True(t, strings.HasPrefix(res.Output, "Found products with reviews: 2\n\n"))
	products := res.Data.([]models.ExtractedProduct)
	require.Len(t, products, 2)

	require.NotNil(t, products[0].Reviews)
	require.Len(t, products[0].Reviews, 2)
	assert.Equal(t, "Очень удобные, ношу каждый день.", products[0].Reviews[0].Text)
	assert.Equal(t, models.AnonymousAuthor, products[0].Reviews[0].Author)
	assert.Equal(t, "Очень рад!", products[0].Reviews[1].Text)

	require.NotNil(t, products[1].Reviews)
	assert.Empty(t, products[1].Reviews)
	assert.Contains(t, res.Output, "no reviews found")
	assert.Contains(t, f.page.Visited(), "https://shop.example/product/1/reviews")
}

func TestSearchProducts_MissingSearchSelector(t *testing.T) {
	f := newFixture(t)
	f.engine.Cache().Put("shop.example", &models.SiteStructure{MarketplaceName: "Shop"})

	res := f.engine.SearchProducts(context.Background(), SearchRequest{URL: landingURL, Query: "blue shoes"})

	require.True(t, res.Failed())
	assert.Equal(t, models.KindStructureUnavailable, res.Kind)
	assert.Equal(t, "Search field selector not defined", res.Error)
}

func TestSearchProducts_SelectorNotOnPage(t *testing.T) {
	f := newFixture(t)
	f.engine.Cache().Put("shop.example", &models.SiteStructure{Search: models.SearchSelectors{InputSelector: "#search"}})

	res := f.engine.SearchProducts(context.Background(), SearchRequest{URL: landingURL, Query: "blue shoes"})

	require.True(t, res.Failed())
	assert.Equal(t, models.KindElementNotFound, res.Kind)
	assert.Equal(t, "Search field not found by selector: #search", res.Error)
}

func TestSearchProducts_AppliesFilters(t *testing.T) {
	f := newFixture(t)
	f.page.Add(searchURL("blue shoes"), strings.Replace(resultsHTML, `<div class="results">`,
		`<div class="brands"><input type="checkbox" id="brand-nike"><input type="checkbox" id="brand-puma"></div><div class="results">`, 1))

	res := f.engine.SearchProducts(context.Background(), SearchRequest{
		URL:     landingURL,
		Query:   "blue shoes",
		Filters: map[string]string{"brand": "NIKE", "color": "blue"},
	})

	require.False(t, res.Failed(), res.Error)
	var checked []string
	for _, a := range f.page.Actions() {
		if a.Kind == "check" {
			checked = append(checked, a.Selector)
		}
	}
	assert.Equal(t, []string{"#brand-nike"}, checked)
}

func TestApplyFilters(t *testing.T) {
	t.Run("on current results page", func(t *testing.T) {
		f := newFixture(t)
		f.page.Add(searchURL("shoes"), strings.Replace(resultsHTML, `<div class="results">`,
			`<div class="brands"><input type="checkbox" id="brand-nike"><input type="checkbox" id="brand-puma"></div><div class="results">`, 1))
		require.False(t, f.engine.SearchProducts(context.Background(), SearchRequest{URL: landingURL, Query: "shoes"}).Failed())

		res := f.engine.ApplyFilters(context.Background(), map[string]string{"Brand": "Puma", "Size": "42"})

		require.False(t, res.Failed(), res.Error)
		assert.Equal(t, "Filters applied successfully", res.Output)
		assert.Equal(t, map[string]int{"applied": 1, "requested": 2}, res.Data)
	})

	t.Run("without structure", func(t *testing.T) {
		f := newFixture(t)
		res := f.engine.ApplyFilters(context.Background(), map[string]string{"Brand": "Puma"})
		require.True(t, res.Failed())
		assert.Equal(t, models.KindStructureUnavailable, res.Kind)
	})
}

func TestNavigatePage(t *testing.T) {
	t.Run("without next selector", func(t *testing.T) {
		f := newFixture(t)
		require.False(t, f.engine.AnalyzePage(context.Background(), landingURL).Failed())

		res := f.engine.NavigatePage(context.Background(), 2)

		require.True(t, res.Failed())
		assert.Equal(t, models.KindUnsupportedNavigation, res.Kind)
		assert.Equal(t, "Navigation not supported for this site", res.Error)
	})

	t.Run("without structure", func(t *testing.T) {
		f := newFixture(t)
		res := f.engine.NavigatePage(context.Background(), 2)
		require.True(t, res.Failed())
		assert.Equal(t, models.KindStructureUnavailable, res.Kind)
		assert.Equal(t, "Page structure not defined", res.Error)
	})

	t.Run("clicks next", func(t *testing.T) {
		f := newFixture(t)
		f.page.Add(searchURL("blue shoes"), strings.Replace(resultsHTML, "</body>", `<a class="next" href="/search?q=blue+shoes&amp;page=2">Дальше</a></body>`, 1))
		f.page.Add(landingURL+"/search?q=blue+shoes&page=2", resultsHTML)
		require.False(t, f.engine.SearchProducts(context.Background(), SearchRequest{URL: landingURL, Query: "blue shoes"}).Failed())

		res := f.engine.NavigatePage(context.Background(), 2)

		require.False(t, res.Failed(), res.Error)
		assert.Equal(t, "Navigated to page 2", res.Output)
		assert.Equal(t, landingURL+"/search?q=blue+shoes&page=2", f.page.URL())
	})

	t.Run("first page", func(t *testing.T) {
		f := newFixture(t)
		f.page.Add(searchURL("blue shoes"), strings.Replace(resultsHTML, "</body>", `<a class="next" href="/search?q=blue+shoes&amp;page=2">Дальше</a></body>`, 1))
		require.False(t, f.engine.SearchProducts(context.Background(), SearchRequest{URL: landingURL, Query: "blue shoes"}).Failed())

		res := f.engine.NavigatePage(context.Background(), 1)

		require.True(t, res.Failed())
		assert.Equal(t, models.KindElementNotFound, res.Kind)
		assert.Equal(t, "Navigation to specified page is not possible", res.Error)
		assert.Equal(t, searchURL("blue shoes"), f.page.URL())
	})

	t.Run("non-positive pages", func(t *testing.T) {
		for _, n := range []int{0, -5} {
			f := newFixture(t)

			res := f.engine.NavigatePage(context.Background(), n)

			require.True(t, res.Failed())
			assert.Equal(t, models.KindInput, res.Kind)
			assert.Equal(t, fmt.Sprintf("Page number must be positive, got %d", n), res.Error)
			assert.NotContains(t, res.Output, "Navigated")
			assert.False(t, f.session.Ready())
		}
	})
}

func TestGetReviews(t *testing.T) {
	f := newFixture(t)

	res := f.engine.GetReviews(context.Background(), landingURL+"/product/1", 1)

	require.False(t, res.Failed(), res.Error)
	assert.True(t, strings.HasPrefix(res.Output, "Found reviews: 1\n\n"))
	reviews := res.Data.([]models.ExtractedReview)
	require.Len(t, reviews, 1)
	assert.Equal(t, "Очень удобные, ношу каждый день.", reviews[0].Text)
}

func TestGetReviews_NoLink(t *testing.T) {
	f := newFixture(t)

	res := f.engine.GetReviews(context.Background(), landingURL+"/product/2", 5)

	require.True(t, res.Failed())
	assert.Equal(t, models.KindElementNotFound, res.Kind)
	assert.Equal(t, "Reviews link not found on product page", res.Error)
}

func TestGetReviews_InferredSelectors(t *testing.T) {
	f := newFixture(t)
	f.engine.Cache().Put("shop.example", &models.SiteStructure{Reviews: &models.ReviewSelectors{
		ItemSelector:   ".review",
		AuthorSelector: ".who",
	}})
	f.page.Add(landingURL+"/product/3", `<html><body><h1>Шлёпанцы</h1>`+reviews1HTML[len("<html><body>"):])

	reviews, err := f.engine.Reviews(context.Background(), landingURL+"/product/3", 10)

	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "Анна", reviews[0].Author)
	assert.Equal(t, models.AnonymousAuthor, reviews[1].Author)
	assert.Zero(t, f.model.count("Analyze the product page HTML"))
}

func TestSelectorReviews_LengthBoundary(t *testing.T) {
	tests := []struct {
		name string
		item string
		want []string
	}{
		{"ten runes", `<p>Хорошо, да</p>`, []string{"Хорошо, да"}},
		{"ten runes padded", "<p>\n   Хорошо, да   \n</p>", []string{"Хорошо, да"}},
		{"ten runes own text", `Хорошо, да`, []string{"Хорошо, да"}},
		{"nine runes", `<p>Хорошо да</p>`, nil},
		{"nine runes own text", `Хорошо да`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			page := loadPage(t, landingURL+"/product/9/reviews", `<html><body><div class="review">`+tt.item+`</div></body></html>`)

			reviews := f.engine.selectorReviews(page, models.ReviewSelectors{}, 10)

			var texts []string
			for _, r := range reviews {
				texts = append(texts, r.Text)
				assert.Equal(t, models.AnonymousAuthor, r.Author)
			}
			assert.Equal(t, tt.want, texts)
		})
	}
}

func TestClampReviews(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 20, f.engine.clampReviews(0))
	assert.Equal(t, 7, f.engine.clampReviews(7))
	assert.Equal(t, 100, f.engine.clampReviews(500))
}

func TestGetProductInfo(t *testing.T) {
	f := newFixture(t)

	res := f.engine.GetProductInfo(context.Background(), landingURL+"/product/1")

	require.False(t, res.Failed(), res.Error)
	assert.Contains(t, res.Output, "PRODUCT: Кроссовки синие")
	assert.Contains(t, res.Output, "PRICE: 4 990 ₽")
}

func TestClose_Twice(t *testing.T) {
	f := newFixture(t)
	require.False(t, f.engine.AnalyzePage(context.Background(), landingURL).Failed())
	require.Equal(t, 1, f.engine.Cache().Len())

	first := f.engine.Close(context.Background())
	second := f.engine.Close(context.Background())

	assert.False(t, first.Failed())
	assert.False(t, second.Failed())
	assert.Equal(t, "Browser closed successfully", first.Output)
	assert.Equal(t, "Browser closed successfully", second.Output)
	assert.Zero(t, f.engine.Cache().Len())
	assert.False(t, f.session.Ready())
	assert.Equal(t, 1, f.session.Closes())
}

type failingSession struct{ dom.Session }

func (failingSession) Close() error { return errors.New("browser already gone") }

func TestClose_Error(t *testing.T) {
	f := newFixture(t)
	f.engine.session = failingSession{f.session}
	f.engine.Cache().Put("shop.example", &models.SiteStructure{})

	res := f.engine.Close(context.Background())

	require.True(t, res.Failed())
	assert.Equal(t, models.KindBrowser, res.Kind)
	assert.Equal(t, "Closing error: browser already gone", res.Error)
	assert.Zero(t, f.engine.Cache().Len())
}

func TestExecute_InputErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"analyze without url", Request{Action: ActionAnalyzePage}, "URL is required for page analysis"},
		{"search without query", Request{Action: ActionSearchProducts, URL: landingURL}, "URL and query are required for search"},
		{"product without url", Request{Action: ActionGetProductInfo}, "Product URL is required for information retrieval"},
		{"reviews without url", Request{Action: ActionGetReviews}, "Product URL is required for review retrieval"},
		{"filters without filters", Request{Action: ActionApplyFilters}, "Filters are required for application"},
		{"navigate without page number", Request{Action: ActionNavigatePage}, "Page number must be positive, got 0"},
		{"navigate to negative page", Request{Action: ActionNavigatePage, PageNumber: -5}, "Page number must be positive, got -5"},
		{"unknown action", Request{Action: "teleport"}, "Unknown action: teleport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			res := f.engine.Execute(context.Background(), tt.req)

			require.True(t, res.Failed())
			assert.Equal(t, models.KindInput, res.Kind)
			assert.Equal(t, tt.want, res.Error)
			assert.False(t, f.session.Ready())
			assert.Empty(t, f.page.Actions())
		})
	}
}

func TestExecute_RecordsRuns(t *testing.T) {
	f := newFixture(t)

	f.engine.Execute(context.Background(), Request{Action: ActionAnalyzePage, URL: landingURL})
	f.engine.Execute(context.Background(), Request{Action: ActionNavigatePage, PageNumber: 3})

	require.Len(t, f.recorder.runs, 2)
	assert.Equal(t, ActionAnalyzePage, f.recorder.runs[0].Action)
	assert.True(t, f.recorder.runs[0].Success)
	assert.Equal(t, "shop.example", f.recorder.runs[0].Domain)
	assert.Equal(t, 1, f.recorder.runs[0].Items)

	assert.Equal(t, ActionNavigatePage, f.recorder.runs[1].Action)
	assert.False(t, f.recorder.runs[1].Success)
	assert.Equal(t, models.KindUnsupportedNavigation, f.recorder.runs[1].ErrorKind)
}

func TestExecute_RecoversPanics(t *testing.T) {
	f := newFixture(t)
	f.engine = New(DefaultConfig(), Deps{
		Session: f.session,
		LLM:     llm.Func(func(context.Context, string) (string, error) { panic("model exploded") }),
		Sleep:   noSleep,
		Logger:  discardLogger(),
	})

	res := f.engine.Execute(context.Background(), Request{Action: ActionAnalyzePage, URL: landingURL})

	require.True(t, res.Failed())
	assert.Equal(t, models.KindInternal, res.Kind)
	assert.Contains(t, res.Error, "model exploded")
}

func TestWantsReviews(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"shoes reviews", true},
		{"Nike RATING", true},
		{"надёжный пылесос отзывы", true},
		{"Качество наушников", true},
		{"Bewertungen Kaffeemaschine", true},
		{"blue shoes", false},
		{"синие кроссовки", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, WantsReviews(tt.query))
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"typed", newError(models.KindElementNotFound, ErrElementNotFound, "x"), models.KindElementNotFound},
		{"wrapped sentinel", errors.Join(errors.New("ctx"), ErrUnsupportedNavigation), models.KindUnsupportedNavigation},
		{"timeout", dom.ErrTimeout, models.KindBrowser},
		{"cancelled", context.Canceled, models.KindBrowser},
		{"other", errors.New("boom"), models.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kindOf(tt.err))
		})
	}
}
