package enrich

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
<title>Sample  Page</title>
<link rel="canonical" href="https://example.com/canonical">
<link rel="shortcut icon" href="/static/icon.png">
<meta name="description" content="General description">
<meta property="og:description" content="OG description">
<meta name="twitter:description" content="Twitter description">
<meta name="author" content="Jordan Writer">
<meta name="keywords" content="go, testing , , pipelines">
<meta property="og:title" content="OG Title">
<meta content="summary" name="twitter:card">
<script type="application/ld+json">{"@type":"Article","author":{"name":"Jordan Writer"}}</script>
<script type="application/ld+json">{this is not json</script>
<script type="application/ld+json">[{"@type":"WebSite","name":"Example"}]</script>
</head>
<body>
<header><p>This header paragraph should never show up in the snippet at all.</p></header>
<nav><p>Navigation paragraph that is long enough to pass the length filter.</p></nav>
<p>We use cookies to improve your experience on this site, please accept.</p>
<p>short</p>
<p>The first real paragraph of the article, with enough text to matter.</p>
<p>A second real paragraph continuing the thought with more detail for readers.</p>
<p>A third paragraph that should still make it into the snippet window.</p>
<p>A fourth paragraph that must be excluded because only three are taken.</p>
<footer><p>Copyright 2026 Example Industries. All rights reserved worldwide.</p></footer>
</body>
</html>`

func TestExtractMetadataBuckets(t *testing.T) {
	t.Parallel()

	meta := ExtractMetadata("https://example.com/page", []byte(samplePage))

	require.Equal(t, "Sample Page", meta.Title)
	require.Equal(t, "en", meta.Language)
	require.Equal(t, "https://example.com/canonical", meta.CanonicalURL)
	require.Equal(t, "Jordan Writer", meta.Author)

	require.Equal(t, "General description", meta.Meta["description"])
	require.Equal(t, "OG description", meta.OpenGraph["og:description"])
	require.Equal(t, "Twitter description", meta.Twitter["twitter:description"])
	// Attribute order must not matter.
	require.Equal(t, "summary", meta.Twitter["twitter:card"])
}

func TestExtractDescriptionPriority(t *testing.T) {
	t.Parallel()

	meta := ExtractMetadata("https://example.com", []byte(samplePage))
	require.Equal(t, "OG description", meta.Description)

	noOG := strings.Replace(samplePage, `property="og:description"`, `property="x:ignored"`, 1)
	meta = ExtractMetadata("https://example.com", []byte(noOG))
	require.Equal(t, "General description", meta.Description)

	noGeneral := strings.Replace(noOG, `name="description"`, `name="x-description"`, 1)
	meta = ExtractMetadata("https://example.com", []byte(noGeneral))
	require.Equal(t, "Twitter description", meta.Description)
}

func TestExtractKeywordsTrimmedAndCapped(t *testing.T) {
	t.Parallel()

	meta := ExtractMetadata("https://example.com", []byte(samplePage))
	require.Equal(t, []string{"go", "testing", "pipelines"}, meta.Keywords)

	many := `<meta name="keywords" content="a,b,c,d,e,f,g,h,i,j,k,l,m">`
	meta = ExtractMetadata("https://example.com", []byte(many))
	require.Len(t, meta.Keywords, 10)
}

func TestExtractJSONLDDropsMalformedBlockOnly(t *testing.T) {
	t.Parallel()

	meta := ExtractMetadata("https://example.com", []byte(samplePage))
	require.Len(t, meta.JSONLD, 2)
	require.Equal(t, "Article", meta.JSONLD[0]["@type"])
	require.Equal(t, "WebSite", meta.JSONLD[1]["@type"])
}

func TestExtractFaviconResolution(t *testing.T) {
	t.Parallel()

	meta := ExtractMetadata("https://example.com/deep/page.html", []byte(samplePage))
	require.Equal(t, "https://example.com/static/icon.png", meta.FaviconURL)

	// No icon link falls back to the conventional location.
	meta = ExtractMetadata("https://example.com/deep/page.html", []byte("<html></html>"))
	require.Equal(t, "https://example.com/favicon.ico", meta.FaviconURL)
}

func TestExtractSnippetSkipsBoilerplate(t *testing.T) {
	t.Parallel()

	meta := ExtractMetadata("https://example.com", []byte(samplePage))

	require.Contains(t, meta.ContentSnippet, "first real paragraph")
	require.Contains(t, meta.ContentSnippet, "second real paragraph")
	require.NotContains(t, meta.ContentSnippet, "cookies")
	require.NotContains(t, meta.ContentSnippet, "Copyright")
	require.NotContains(t, meta.ContentSnippet, "header paragraph")
	require.NotContains(t, meta.ContentSnippet, "Navigation")
	require.NotContains(t, meta.ContentSnippet, "fourth paragraph")
	require.LessOrEqual(t, len([]rune(meta.ContentSnippet)), 300)
}

func TestExtractSnippetCapped(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 100)
	page := "<p>" + long + "</p><p>" + long + "</p>"
	meta := ExtractMetadata("https://example.com", []byte(page))
	require.Equal(t, 300, len([]rune(meta.ContentSnippet)))
}

func TestExtractEmptyBodyIsEmpty(t *testing.T) {
	t.Parallel()

	meta := ExtractMetadata("https://example.com", nil)
	require.Empty(t, meta.Title)
	require.Empty(t, meta.Description)
	require.Nil(t, meta.Keywords)
	require.Nil(t, meta.JSONLD)
	require.Empty(t, meta.ContentSnippet)
}

func TestExtractNeverPanicsOnGarbage(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"<meta", "<<<<>>>", "<p>", "<title>unterminated",
		`<script type="application/ld+json">`,
		strings.Repeat("<meta name=\"a\" content=\"b\">", 1000),
	}
	for _, in := range inputs {
		_ = ExtractMetadata("https://example.com", []byte(in))
	}
}
