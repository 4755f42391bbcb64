package marketplace

import (
	"io"
	"log/slog"
	"testing"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadPage(t *testing.T, rawURL, html string) *dom.Snapshot {
	t.Helper()
	page := dom.NewSnapshot().Add(rawURL, html)
	require.NoError(t, page.Goto(rawURL, 0))
	return page
}

const cardGrid = `<html><body><div class="grid">
  <div class="product-card">
    <a href="/product/101"><span class="name">Кроссовки беговые</span></a>
    <span class="price">2` + "\u2009" + `499 ₽</span>
    <span class="stars">4.8</span>
  </div>
  <div class="product-card">
    <a href="/product/102"><span class="name">Кеды белые</span></a>
    <span class="price">1&thinsp;199 ₽</span>
  </div>
  <div class="product-card">
    <span class="price">999</span>
  </div>
</div></body></html>`

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"thin space", "1\u2009299 ₽", "1 299 ₽"},
		{"narrow no-break space", "12\u202f345\u00a0₽", "12 345 ₽"},
		{"thin space entity", "1&thinsp;299 ₽", "1 299 ₽"},
		{"nbsp entity", "3&nbsp;000&nbsp;руб.", "3 000 руб."},
		{"already plain", "  4 500  ₽ ", "4 500 ₽"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePrice(tt.in))
		})
	}
}

func TestListing_FallbackLadder(t *testing.T) {
	page := loadPage(t, "https://shop.example/search?q=shoes", cardGrid)
	s := &models.SiteStructure{
		BaseURL:        "https://shop.example",
		ProductListing: models.ListingSelectors{ContainerSelector: ".does-not-exist", RatingSelector: ".stars"},
	}

	products := newListingExtractor(page, s, SiteHints{}, discardLogger()).Extract(page, 10)

	require.Len(t, products, 3)
	assert.Equal(t, "Кроссовки беговые", products[0].Title)
	assert.Equal(t, "2 499 ₽", products[0].Price)
	assert.Equal(t, "https://shop.example/product/101", products[0].Link)
	assert.Equal(t, "4.8", products[0].Rating)
	assert.Equal(t, "1 199 ₽", products[1].Price)

	assert.Equal(t, models.TitleNotFound, products[2].Title)
	assert.Equal(t, "999", products[2].Price)
	assert.Empty(t, products[2].Link)
}

func TestListing_GenericCardFields(t *testing.T) {
	html := `<html><body>
	  <div class="product-card"><a href="/product/5">Кеды классические</a><span class="price">1 990 ₽</span>
	    <span class="rating">4.7</span><span class="discount">-15%</span><img src="/img/5.jpg"></div>
	  <div class="product-card"><a href="/product/6">Кеды высокие</a><span class="price">2 490 ₽</span>
	    <div class="card-rating-value">4.1</div><span class="badge-sale">-30%</span><img data-src="https://cdn.shop.example/6.jpg"></div>
	  <div class="product-card"><a href="/product/7">Кеды детские</a><span class="price">990 ₽</span></div>
	</body></html>`
	page := loadPage(t, "https://shop.example/search?q=keds", html)
	s := &models.SiteStructure{
		BaseURL:        "https://shop.example",
		ProductListing: models.ListingSelectors{ContainerSelector: ".product-card"},
	}

	products := newListingExtractor(page, s, SiteHints{}, discardLogger()).Extract(page, 10)

	require.Len(t, products, 3)
	tests := []struct {
		rating, discount, image string
	}{
		{"4.7", "-15%", "https://shop.example/img/5.jpg"},
		{"4.1", "-30%", "https://cdn.shop.example/6.jpg"},
		{"", "", ""},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.rating, products[i].Rating, "product %d rating", i)
		assert.Equal(t, tt.discount, products[i].Discount, "product %d discount", i)
		assert.Equal(t, tt.image, products[i].Image, "product %d image", i)
	}
}

func TestListing_RespectsLimit(t *testing.T) {
	page := loadPage(t, "https://shop.example/search", cardGrid)
	products := newListingExtractor(page, nil, SiteHints{}, discardLogger()).Extract(page, 1)
	require.Len(t, products, 1)
	assert.Equal(t, "https://shop.example/product/101", products[0].Link)
}

func TestListing_HintsBeforeGenericLadder(t *testing.T) {
	html := `<html><body>
	  <div class="tile"><a href="/product/7">Рюкзак городской</a><span class="tsHeadline500Medium">3` + "\u2009" + `100 ₽</span><span class="price">old 5 000</span></div>
	</body></html>`
	page := loadPage(t, "https://www.ozon.ru/search", html)
	hints := DefaultHints().For("www.ozon.ru")
	hints.ContainerSelectors = []string{".tile"}

	products := newListingExtractor(page, nil, hints, discardLogger()).Extract(page, 5)

	require.Len(t, products, 1)
	assert.Equal(t, "Рюкзак городской", products[0].Title)
	assert.Equal(t, "3 100 ₽", products[0].Price)
	assert.Equal(t, "https://www.ozon.ru/product/7", products[0].Link)
}

func TestListing_AlternativeExtraction(t *testing.T) {
	html := `<html><body><main>
	  <a href="/goods/55"><span>Чайник электрический</span><span class="price">1 990 ₽</span></a>
	  <a href="/goods/55"><span>Чайник электрический</span></a>
	  <a href="/goods/56"><span>42</span></a>
	  <a href="/goods/57"><span>Утюг паровой</span></a>
	</main></body></html>`
	page := loadPage(t, "https://market.example/catalog", html)

	products := newListingExtractor(page, nil, SiteHints{}, discardLogger()).Extract(page, 10)

	require.Len(t, products, 2)
	assert.Equal(t, "Чайник электрический", products[0].Title)
	assert.Equal(t, "1 990 ₽", products[0].Price)
	assert.Equal(t, "https://market.example/goods/55", products[0].Link)
	assert.Equal(t, "Утюг паровой", products[1].Title)
}

func TestListing_NothingMatches(t *testing.T) {
	page := loadPage(t, "https://shop.example/", `<html><body><h1>Welcome</h1><p>Nothing to buy here</p></body></html>`)
	products := newListingExtractor(page, &models.SiteStructure{}, SiteHints{}, discardLogger()).Extract(page, 10)
	assert.Empty(t, products)
}

func TestExtractDetails(t *testing.T) {
	long := ""
	for i := 0; i < 40; i++ {
		long += "description "
	}
	html := `<html><body>
	  <h1>Ноутбук 15"</h1>
	  <div class="cost">54&nbsp;990 ₽</div>
	  <div class="descr">` + long + `</div>
	  <div class="stock">В наличии</div>
	  <img class="main-img" src="/img/1.jpg">
	</body></html>`
	page := loadPage(t, "https://shop.example/product/9", html)
	s := &models.SiteStructure{ProductPage: models.ProductPageSelectors{
		DescriptionSelector:  ".descr",
		AvailabilitySelector: ".stock",
		ImagesSelector:       ".main-img",
	}}

	d := extractDetails(page, s, SiteHints{})

	assert.Equal(t, `Ноутбук 15"`, d.Title)
	assert.Equal(t, "54 990 ₽", d.Price)
	assert.Len(t, []rune(d.Description), descriptionLimit+3)
	assert.Equal(t, "В наличии", d.Availability)
	assert.Equal(t, "https://shop.example/img/1.jpg", d.Image)
}

func TestExtractDetails_Sentinels(t *testing.T) {
	page := loadPage(t, "https://shop.example/product/9", `<html><body><div>?</div></body></html>`)
	d := extractDetails(page, nil, SiteHints{})
	assert.Equal(t, models.TitleNotFound, d.Title)
	assert.Equal(t, models.PriceNotFound, d.Price)
}

func TestHints(t *testing.T) {
	hints := DefaultHints()

	assert.Equal(t, "ozon", hints.For("ozon.ru").Name)
	assert.Equal(t, "ozon", hints.For("www.ozon.ru").Name)
	assert.Equal(t, "ozon", hints.For("m.ozon.kz").Name)
	assert.Empty(t, hints.For("notozon.ru").Name)
	assert.Empty(t, hints.For("shop.example").Name)
	assert.Equal(t, []string{".message .loader"}, hints.ChallengeSelectors())
}
