package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func paragraph(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func TestRankedPicksLongestQualifyingBlock(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<nav>Home Reviews About</nav>
<article><div class="teaser"><p>` + paragraph("short", 10) + `</p></div></article>
<div class="article-body"><p>` + paragraph("review", 80) + `</p></div>
<footer>Copyright</footer>
</body></html>`

	html, err := NewRanked(Config{MinBlockChars: 100}).ContentHTML([]byte(page))
	require.NoError(t, err)
	require.Contains(t, html, "review review")
	require.NotContains(t, html, "short short")
	require.NotContains(t, html, "Copyright")
}

func TestRankedFallsBackToBody(t *testing.T) {
	t.Parallel()

	html, err := NewRanked(Config{}).ContentHTML([]byte(`<html><body><p>Just a few words.</p></body></html>`))
	require.NoError(t, err)
	require.Contains(t, html, "Just a few words.")
}

func TestRankedEmptyPage(t *testing.T) {
	t.Parallel()

	_, err := NewRanked(Config{}).ContentHTML([]byte(`<html><body><script>var x = 1;</script></body></html>`))
	require.ErrorIs(t, err, ErrNoContent)
}

func TestStripOverlaysIsIdempotent(t *testing.T) {
	t.Parallel()

	page := `<html><body><div class="paywall-modal">Subscribe now</div><p>Body text</p><div id="cookie-bar">Accept</div></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)

	StripOverlays(doc.Selection, DefaultOverlaySelectors)
	once, err := doc.Html()
	require.NoError(t, err)
	StripOverlays(doc.Selection, DefaultOverlaySelectors)
	twice, err := doc.Html()
	require.NoError(t, err)

	require.Equal(t, once, twice)
	require.NotContains(t, once, "Subscribe now")
	require.NotContains(t, once, "Accept")
	require.Contains(t, once, "Body text")
}

func TestConverterTextDropsLinksAndMedia(t *testing.T) {
	t.Parallel()

	text, err := NewConverter().Text(`<h2>The Verdict</h2><p>A <a href="/x">bold</a> staging.</p><img src="a.png"><p>Second paragraph.</p>`, "https://example.com/review")
	require.NoError(t, err)
	require.Contains(t, text, "The Verdict")
	require.Contains(t, text, "A bold staging.")
	require.Contains(t, text, "Second paragraph.")
	require.NotContains(t, text, "/x")
	require.NotContains(t, text, "a.png")
}

func TestExtractorEndToEnd(t *testing.T) {
	t.Parallel()

	page := `<html><body><header>Site</header><article><p>` + paragraph("theatre", 60) + `</p><div class="newsletter">Sign up</div></article></body></html>`
	text, err := New(nil, nil).Extract([]byte(page), "https://example.com/a")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(text, "theatre theatre"))
	require.NotContains(t, text, "Sign up")
	require.NotContains(t, text, "Site")
}

func TestNormalizeCollapsesBlankLines(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a\n\nb", Normalize("  a  \r\n\n\n\nb"))
}

func TestExtractorEmptyPage(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil).Extract([]byte(`<html><body><img src="/cover.png"></body></html>`), "https://example.com/a")
	require.ErrorIs(t, err, ErrNoContent)
}
