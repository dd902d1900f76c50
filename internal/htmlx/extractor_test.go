package htmlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const listPageHTML = `
<html><body>
  <div class="result"><a class="result-link" href="/items/1">Item One</a><span class="price">$10</span></div>
  <div class="result"><a class="result-link" href="/items/2">Item Two</a><span class="price">$20</span></div>
  <div class="result"><a class="result-link" href="/items/1">Item One Again</a><span class="price">$10</span></div>
</body></html>`

func TestExtractRows_ContainerSubSelector_DropsIntraPageDuplicates(t *testing.T) {
	e := New(arbor.NewLogger())
	rows, err := e.ExtractRows(listPageHTML, "https://example.test/search", "div.result", "a.result-link", map[string]string{"price": "span.price"})
	require.NoError(t, err)
	require.Len(t, rows, 2) // the third row repeats URL 1 and is dropped

	assert.Equal(t, "https://example.test/items/1", rows[0].URL)
	assert.Equal(t, "$10", rows[0].Fields["price"])
	assert.Equal(t, "https://example.test/items/2", rows[1].URL)
}

func TestExtractAllLinks_SkipsNonHTTPAndFragmentHrefs(t *testing.T) {
	html := `<html><body>
		<a href="/page/2">next</a>
		<a href="#top">top</a>
		<a href="javascript:void(0)">js</a>
		<a href="mailto:a@example.test">mail</a>
		<a href="tel:+15551234">tel</a>
		<a href="/page/2">dup</a>
	</body></html>`
	e := New(arbor.NewLogger())
	links, err := e.ExtractAllLinks(html, "https://example.test/list")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.test/page/2"}, links)
}

func TestFindNextPageURL_ExplicitSelector(t *testing.T) {
	html := `<html><body><a class="next-page" href="/list?page=2">Next</a></body></html>`
	e := New(arbor.NewLogger())
	next, ok := e.FindNextPageURL(html, "https://example.test/list", "a.next-page")
	require.True(t, ok)
	assert.Equal(t, "https://example.test/list?page=2", next)
}

func TestFindNextPageURL_MissingSelector(t *testing.T) {
	html := `<html><body><p>no pagination here</p></body></html>`
	e := New(arbor.NewLogger())
	_, ok := e.FindNextPageURL(html, "https://example.test/list", "a.next-page")
	assert.False(t, ok)
}

func TestExtractFields_TitleFallbackChain(t *testing.T) {
	e := New(arbor.NewLogger())

	withTitle := `<html><head><title>Plain Title</title></head><body><h1>H1</h1></body></html>`
	fields, title, err := e.ExtractFields(withTitle, map[string]string{"heading": "h1"})
	require.NoError(t, err)
	assert.Equal(t, "Plain Title", title)
	assert.Equal(t, "H1", fields["heading"])

	ogOnly := `<html><head><meta property="og:title" content="OG Title"/></head><body></body></html>`
	_, title, err = e.ExtractFields(ogOnly, nil)
	require.NoError(t, err)
	assert.Equal(t, "OG Title", title)

	twitterOnly := `<html><head><meta name="twitter:title" content="Twitter Title"/></head><body></body></html>`
	_, title, err = e.ExtractFields(twitterOnly, nil)
	require.NoError(t, err)
	assert.Equal(t, "Twitter Title", title)
}

func TestNormalizedText_StripsScriptStyleAndBoilerplate(t *testing.T) {
	html := `<html><body>
		<nav class="site-nav">Home About Contact</nav>
		<script>var x = 1;</script>
		<style>.a{color:red}</style>
		<div class="content">  Hello    World  </div>
	</body></html>`
	e := New(arbor.NewLogger())
	text, err := e.NormalizedText(html, []string{"nav.site-nav"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", text)
}
