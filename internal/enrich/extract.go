package enrich

import (
	"encoding/json"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/kberan/marksmith/internal/bookmarks"
)

// Extraction is a bounded, single-pass, non-nesting-aware lexical scan of the
// raw response text. It is deliberately not a tokenizing HTML parser: the
// contract is best effort, never failing the fetch, and a malformed document
// degrades to fewer extracted fields rather than an error.

// maxScanBytes bounds how much of a response body the scan will look at.
const maxScanBytes = 512 * 1024

// snippetMaxChars caps the content snippet length.
const snippetMaxChars = 300

// snippetMinBlockChars filters out stub paragraphs (button labels, bylines).
const snippetMinBlockChars = 30

var (
	metaTagRe   = regexp.MustCompile(`(?is)<meta\s[^>]*?/?>`)
	linkTagRe   = regexp.MustCompile(`(?is)<link\s[^>]*?/?>`)
	attrRe      = regexp.MustCompile(`(?is)([a-zA-Z][a-zA-Z0-9:_-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	titleRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	htmlLangRe  = regexp.MustCompile(`(?is)<html[^>]*?\slang\s*=\s*["']([^"']+)["']`)
	jsonldRe    = regexp.MustCompile(`(?is)<script[^>]*type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)
	commentRe   = regexp.MustCompile(`(?s)<!--.*?-->`)
	paragraphRe = regexp.MustCompile(`(?is)<p\b[^>]*>(.*?)</p>`)
	anyTagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spacesRe    = regexp.MustCompile(`\s+`)
)

// stripRes removes whole regions that never contain article text. One
// pattern per tag name because RE2 has no backreferences; the scan stays
// non-nesting-aware on purpose.
var stripRes = func() []*regexp.Regexp {
	tags := []string{"script", "style", "nav", "header", "footer", "aside"}
	res := make([]*regexp.Regexp, 0, len(tags))
	for _, tag := range tags {
		res = append(res, regexp.MustCompile(`(?is)<`+tag+`\b.*?</`+tag+`\s*>`))
	}
	return res
}()

var boilerplateMarkers = []string{
	"cookie", "copyright", "©", "all rights reserved",
	"privacy policy", "terms of service", "terms of use", "subscribe to our",
}

// ExtractMetadata scans the raw response text for structured fields. baseURL
// is the fetched URL, used to resolve the favicon to an absolute address.
func ExtractMetadata(baseURL string, body []byte) bookmarks.PageMetadata {
	if len(body) > maxScanBytes {
		body = body[:maxScanBytes]
	}
	text := string(body)

	meta := bookmarks.PageMetadata{
		Meta:      map[string]string{},
		OpenGraph: map[string]string{},
		Twitter:   map[string]string{},
	}

	scanMetaTags(text, &meta)
	meta.JSONLD = scanJSONLD(text)

	if m := titleRe.FindStringSubmatch(text); m != nil {
		meta.Title = cleanInline(m[1])
	}
	if m := htmlLangRe.FindStringSubmatch(text); m != nil {
		meta.Language = strings.TrimSpace(m[1])
	}

	canonical, favicon := scanLinkTags(text)
	meta.CanonicalURL = canonical
	meta.FaviconURL = resolveFavicon(baseURL, favicon)

	// Derived, user-facing fields.
	meta.Description = firstNonEmpty(
		meta.OpenGraph["og:description"],
		meta.Meta["description"],
		meta.Twitter["twitter:description"],
	)
	meta.Author = meta.Meta["author"]
	meta.Keywords = splitKeywords(meta.Meta["keywords"])
	meta.ContentSnippet = extractSnippet(text)

	if len(meta.Meta) == 0 {
		meta.Meta = nil
	}
	if len(meta.OpenGraph) == 0 {
		meta.OpenGraph = nil
	}
	if len(meta.Twitter) == 0 {
		meta.Twitter = nil
	}
	return meta
}

// scanMetaTags buckets meta tags into general, og:-prefixed, and
// twitter:-prefixed maps. Both name= and property= are honored, in either
// attribute order; the first occurrence of a key wins.
func scanMetaTags(text string, meta *bookmarks.PageMetadata) {
	for _, tag := range metaTagRe.FindAllString(text, -1) {
		attrs := parseAttrs(tag)
		key := attrs["property"]
		if key == "" {
			key = attrs["name"]
		}
		content, hasContent := attrs["content"]
		if key == "" || !hasContent {
			continue
		}
		key = strings.ToLower(key)
		content = cleanInline(content)

		var bucket map[string]string
		switch {
		case strings.HasPrefix(key, "og:"):
			bucket = meta.OpenGraph
		case strings.HasPrefix(key, "twitter:"):
			bucket = meta.Twitter
		default:
			bucket = meta.Meta
		}
		if _, exists := bucket[key]; !exists {
			bucket[key] = content
		}
	}
}

// scanJSONLD parses each linked-data block independently; a malformed block
// is dropped without affecting the others.
func scanJSONLD(text string) []map[string]any {
	var out []map[string]any
	for _, m := range jsonldRe.FindAllStringSubmatch(text, -1) {
		var parsed any
		if err := json.Unmarshal([]byte(m[1]), &parsed); err != nil {
			continue
		}
		switch v := parsed.(type) {
		case map[string]any:
			out = append(out, v)
		case []any:
			for _, item := range v {
				if block, ok := item.(map[string]any); ok {
					out = append(out, block)
				}
			}
		}
	}
	return out
}

func scanLinkTags(text string) (canonical, favicon string) {
	for _, tag := range linkTagRe.FindAllString(text, -1) {
		attrs := parseAttrs(tag)
		rel := strings.ToLower(attrs["rel"])
		href := attrs["href"]
		if href == "" {
			continue
		}
		switch {
		case rel == "canonical" && canonical == "":
			canonical = href
		case strings.Contains(rel, "icon") && favicon == "":
			favicon = href
		}
	}
	return canonical, favicon
}

// resolveFavicon prefers the explicit icon link, resolved against the page
// URL; without one it falls back to the conventional /favicon.ico.
func resolveFavicon(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return href
	}
	if href == "" {
		return base.Scheme + "://" + base.Host + "/favicon.ico"
	}
	ref, err := url.Parse(href)
	if err != nil {
		return base.Scheme + "://" + base.Host + "/favicon.ico"
	}
	return base.ResolveReference(ref).String()
}

func splitKeywords(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == bookmarks.MaxKeywords {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// extractSnippet returns the first one to three non-boilerplate
// paragraph-like blocks, joined and capped. Script, style, navigation,
// header, footer, aside, and comment regions are removed first.
func extractSnippet(text string) string {
	content := commentRe.ReplaceAllString(text, " ")
	for _, re := range stripRes {
		content = re.ReplaceAllString(content, " ")
	}

	var blocks []string
	for _, m := range paragraphRe.FindAllStringSubmatch(content, -1) {
		block := cleanInline(m[1])
		if len(block) < snippetMinBlockChars || isBoilerplate(block) {
			continue
		}
		blocks = append(blocks, block)
		if len(blocks) == 3 {
			break
		}
	}
	joined := strings.Join(blocks, " ")
	return truncateRunes(joined, snippetMaxChars)
}

func isBoilerplate(block string) bool {
	lower := strings.ToLower(block)
	for _, marker := range boilerplateMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func parseAttrs(tag string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(tag, -1) {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		attrs[strings.ToLower(m[1])] = value
	}
	return attrs
}

func cleanInline(s string) string {
	s = anyTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
