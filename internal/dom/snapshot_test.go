package dom

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const home = `<html><body>
<form action="/search"><input type="search" name="text"><button type="submit">Find</button></form>
<a class="promo" href="/product/42">Promo item</a>
<div id="hidden" style="display: none">x</div>
<button class="more">Show more reviews</button>
</body></html>`

const results = `<html><body><div class="product-card"><a href="/product/1">Phone</a></div></body></html>`

func newSite() *Snapshot {
	s := NewSnapshot()
	s.Add("https://shop.example/", home)
	s.Add("https://shop.example/search?text=phone", results)
	s.Add("https://shop.example/product/42", `<html><body><h1>Promo</h1></body></html>`)
	s.SearchURL = func(q string) string {
		return "https://shop.example/search?text=" + url.QueryEscape(q)
	}
	return s
}

func TestSnapshot_GotoAndQuery(t *testing.T) {
	s := newSite()
	require.NoError(t, s.Goto("https://shop.example", 0))
	assert.Equal(t, "https://shop.example", s.URL())

	el, err := s.Query("a.promo")
	require.NoError(t, err)
	require.NotNil(t, el)
	text, _ := el.InnerText()
	assert.Equal(t, "Promo item", text)
	href, _ := el.Attribute("href")
	assert.Equal(t, "/product/42", href)

	missing, err := s.Query(".does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, s.Goto("https://other.example", 0), ErrNoPage)
}

func TestSnapshot_SearchSubmission(t *testing.T) {
	s := newSite()
	require.NoError(t, s.Goto("https://shop.example/", 0))

	input, _ := s.Query("input[type='search']")
	require.NotNil(t, input)
	require.NoError(t, input.Click())
	require.NoError(t, input.Fill(""))
	require.NoError(t, input.Type("phone", 0))
	require.NoError(t, input.Press("Enter"))

	assert.Equal(t, "https://shop.example/search?text=phone", s.URL())
	cards, _ := s.QueryAll(".product-card")
	assert.Len(t, cards, 1)
}

func TestSnapshot_SubmitButton(t *testing.T) {
	s := newSite()
	require.NoError(t, s.Goto("https://shop.example/", 0))

	input, _ := s.Query("input[type='search']")
	require.NoError(t, input.Type("phone", 0))
	button, _ := s.Query("button[type='submit']")
	require.NoError(t, button.Click())

	assert.Equal(t, "https://shop.example/search?text=phone", s.URL())
}

func TestSnapshot_LinkClickNavigates(t *testing.T) {
	s := newSite()
	require.NoError(t, s.Goto("https://shop.example/", 0))

	link, _ := s.Query("a.promo")
	require.NoError(t, link.Click())

	assert.Equal(t, "https://shop.example/product/42", s.URL())
	assert.Equal(t, []string{"https://shop.example/", "https://shop.example/product/42"}, s.Visited())
}

func TestSnapshot_HasTextAndVisibility(t *testing.T) {
	s := newSite()
	require.NoError(t, s.Goto("https://shop.example/", 0))

	more, _ := s.Query(`button:has-text("Show more")`)
	require.NotNil(t, more)

	hidden, _ := s.Query("#hidden")
	visible, _ := hidden.IsVisible()
	assert.False(t, visible)

	assert.NoError(t, s.WaitForSelector("#hidden", SelectorAttached, 0))
	assert.ErrorIs(t, s.WaitForSelector("#hidden", SelectorHidden, 0), ErrTimeout)
	assert.NoError(t, s.WaitForSelector(".absent", SelectorHidden, 0))
}

func TestSnapshot_Evaluate(t *testing.T) {
	s := newSite()
	s.Height = 2400
	require.NoError(t, s.Goto("https://shop.example/", 0))

	h, err := s.Evaluate(ScriptScrollHeight)
	require.NoError(t, err)
	n, ok := Number(h)
	assert.True(t, ok)
	assert.Equal(t, 2400.0, n)

	_, err = s.Evaluate("navigator.userAgent")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestStaticSession_CloseIsIdempotent(t *testing.T) {
	sess := NewStaticSession(newSite())
	require.NoError(t, sess.Close())

	_, err := sess.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.True(t, sess.Ready())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, 1, sess.Closes())
	assert.False(t, sess.Ready())
}
