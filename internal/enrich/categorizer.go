// Package enrich implements the enrichment pipeline: liveness probing,
// metadata fetching and extraction, categorization, and the worker pool that
// orchestrates batch runs.
package enrich

import (
	"net/url"
	"strings"

	"github.com/kberan/marksmith/internal/bookmarks"
)

// rule pairs a substring with the category it implies. Rules are evaluated in
// order; the first match wins.
type rule struct {
	substr   string
	category string
}

var domainRules = []rule{
	{"github.com", "code"},
	{"gitlab.com", "code"},
	{"bitbucket.org", "code"},
	{"stackoverflow.com", "code"},
	{"stackexchange.com", "code"},
	{"youtube.com", "video"},
	{"youtu.be", "video"},
	{"vimeo.com", "video"},
	{"twitch.tv", "video"},
	{"twitter.com", "social"},
	{"x.com", "social"},
	{"reddit.com", "social"},
	{"linkedin.com", "social"},
	{"mastodon", "social"},
	{"news.ycombinator.com", "news"},
	{"medium.com", "blog"},
	{"substack.com", "blog"},
	{"dev.to", "blog"},
	{"wikipedia.org", "reference"},
	{"arxiv.org", "academic"},
	{"scholar.google", "academic"},
	{"amazon.", "shopping"},
	{"ebay.", "shopping"},
	{"etsy.com", "shopping"},
	{"spotify.com", "music"},
	{"soundcloud.com", "music"},
	{"bandcamp.com", "music"},
	{"docs.google.com", "documents"},
	{"notion.so", "documents"},
}

var pathRules = []rule{
	{"/docs/", "documentation"},
	{"/documentation/", "documentation"},
	{"/api/", "documentation"},
	{"/reference/", "documentation"},
	{"/blog/", "blog"},
	{"/posts/", "blog"},
	{"/articles/", "blog"},
	{"/news/", "news"},
	{"/tutorial", "learning"},
	{"/course", "learning"},
	{"/learn/", "learning"},
	{"/shop/", "shopping"},
	{"/product/", "shopping"},
	{"/store/", "shopping"},
}

var keywordRules = []rule{
	{"tutorial", "learning"},
	{"course", "learning"},
	{"how to", "learning"},
	{"programming", "code"},
	{"developer", "code"},
	{"software", "code"},
	{"api", "code"},
	{"recipe", "cooking"},
	{"cooking", "cooking"},
	{"news", "news"},
	{"review", "reviews"},
	{"blog", "blog"},
	{"podcast", "audio"},
	{"music", "music"},
	{"video", "video"},
	{"research", "academic"},
	{"paper", "academic"},
	{"buy", "shopping"},
	{"price", "shopping"},
	{"game", "gaming"},
	{"gaming", "gaming"},
}

// Categorize classifies a bookmark with a deterministic first-match-wins
// chain: domain table, URL path table, keywords against title+description
// text, then keywords against the fetched keyword list. No scoring, no ties;
// an empty result means no rule matched.
func Categorize(b bookmarks.Bookmark, meta bookmarks.PageMetadata) string {
	host, path := splitURL(b.URL)

	for _, r := range domainRules {
		if strings.Contains(host, r.substr) {
			return r.category
		}
	}

	lowerPath := strings.ToLower(path)
	for _, r := range pathRules {
		if strings.Contains(lowerPath, r.substr) {
			return r.category
		}
	}

	text := strings.ToLower(b.Title + " " + firstNonEmpty(meta.Description, b.Description))
	for _, r := range keywordRules {
		if strings.Contains(text, r.substr) {
			return r.category
		}
	}

	for _, kw := range append(append([]string(nil), meta.Keywords...), b.Keywords...) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		for _, r := range keywordRules {
			if strings.Contains(kw, r.substr) {
				return r.category
			}
		}
	}

	return ""
}

func splitURL(raw string) (host, path string) {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw), ""
	}
	return strings.ToLower(u.Hostname()), u.Path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
