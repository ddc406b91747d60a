package platform

import (
	"strings"

	"github.com/kberan/marksmith/internal/bookmarks"
)

// Merge fills absent platform fields from fetched metadata. Present values
// are never overwritten, with one platform-specific exception: a video
// platform's bare @handle yields to a structured-data author name, which is
// the human-readable form. Unrecognized platforms pass through unchanged.
func Merge(pd *bookmarks.PlatformData, meta bookmarks.PageMetadata) *bookmarks.PlatformData {
	if pd == nil {
		return nil
	}
	out := clone(pd)

	switch out.Platform {
	case YouTube:
		mergeVideo(out, meta)
	case Medium, Substack, DevTo:
		mergeBlog(out, meta)
	case GitHub, Twitter, Reddit, StackOverflow, HackerNews:
		mergeGeneric(out, meta)
	default:
		return out
	}

	if out.ContentID == "" {
		if id := firstJSONLDString(meta, "identifier"); id != "" {
			out.ContentID = id
		}
	}
	return out
}

func mergeVideo(pd *bookmarks.PlatformData, meta bookmarks.PageMetadata) {
	structured := jsonldAuthorName(meta)
	if pd.Creator == "" {
		pd.Creator = firstNonEmpty(structured, meta.Author)
	} else if structured != "" && strings.HasPrefix(pd.Creator, "@") {
		pd.Creator = structured
	}
	if pd.ContentType == "" {
		pd.ContentType = "video"
	}
	addExtra(pd, "channel", meta.OpenGraph["og:video:tag"])
}

func mergeBlog(pd *bookmarks.PlatformData, meta bookmarks.PageMetadata) {
	if pd.Creator == "" {
		// JSON-LD author beats article:author beats the generic author meta.
		pd.Creator = firstNonEmpty(
			jsonldAuthorName(meta),
			meta.Meta["article:author"],
			meta.OpenGraph["og:article:author"],
			meta.Author,
		)
	}
	if pd.ContentType == "" {
		pd.ContentType = "article"
	}
	addExtra(pd, "published", meta.Meta["article:published_time"])
}

func mergeGeneric(pd *bookmarks.PlatformData, meta bookmarks.PageMetadata) {
	if pd.Creator == "" {
		pd.Creator = firstNonEmpty(jsonldAuthorName(meta), meta.Author)
	}
	if pd.ContentType == "" {
		if t := meta.OpenGraph["og:type"]; t != "" {
			pd.ContentType = t
		}
	}
}

// jsonldAuthorName extracts the first author name from the structured-data
// blocks. Author may be a string, an object with a name, or a list of either.
func jsonldAuthorName(meta bookmarks.PageMetadata) string {
	for _, block := range meta.JSONLD {
		if name := authorName(block["author"]); name != "" {
			return name
		}
	}
	return ""
}

func authorName(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case map[string]any:
		if name, ok := a["name"].(string); ok {
			return name
		}
	case []any:
		for _, item := range a {
			if name := authorName(item); name != "" {
				return name
			}
		}
	}
	return ""
}

func firstJSONLDString(meta bookmarks.PageMetadata, key string) string {
	for _, block := range meta.JSONLD {
		if s, ok := block[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func addExtra(pd *bookmarks.PlatformData, key, value string) {
	if value == "" {
		return
	}
	if pd.Extra == nil {
		pd.Extra = make(map[string]string)
	}
	if _, exists := pd.Extra[key]; exists {
		return
	}
	if len(pd.Extra) >= bookmarks.MaxPlatformExtras {
		return
	}
	pd.Extra[key] = value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func clone(pd *bookmarks.PlatformData) *bookmarks.PlatformData {
	out := *pd
	if pd.Extra != nil {
		out.Extra = make(map[string]string, len(pd.Extra))
		for k, v := range pd.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}
