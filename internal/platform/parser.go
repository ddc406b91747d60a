// Package platform recognizes well-known sites from URL structure alone and
// merges fetched metadata into the recognized facts. Parse is pure: no I/O,
// no network, deterministic for a given URL.
package platform

import (
	"net/url"
	"strings"

	"github.com/kberan/marksmith/internal/bookmarks"
)

// Platform identifiers produced by Parse.
const (
	YouTube       = "youtube"
	GitHub        = "github"
	Twitter       = "twitter"
	Reddit        = "reddit"
	StackOverflow = "stackoverflow"
	Medium        = "medium"
	Substack      = "substack"
	DevTo         = "devto"
	HackerNews    = "hackernews"
)

// Parse maps a URL's structure to platform facts. It returns nil when the
// host is not a recognized platform or the URL does not parse.
func Parse(rawURL string) *bookmarks.PlatformData {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	segs := pathSegments(u)

	switch {
	case host == "youtube.com" || host == "m.youtube.com" || host == "youtu.be":
		return parseYouTube(host, u, segs)
	case host == "github.com":
		return parseGitHub(segs)
	case host == "twitter.com" || host == "x.com":
		return parseTwitter(segs)
	case host == "reddit.com" || host == "old.reddit.com":
		return parseReddit(segs)
	case host == "stackoverflow.com":
		return parseStackOverflow(segs)
	case host == "medium.com":
		return parseMedium(segs)
	case strings.HasSuffix(host, ".substack.com"):
		return parseSubstack(host, segs)
	case host == "dev.to":
		return parseDevTo(segs)
	case host == "news.ycombinator.com":
		return &bookmarks.PlatformData{Platform: HackerNews, ContentType: "discussion"}
	default:
		return nil
	}
}

func pathSegments(u *url.URL) []string {
	raw := strings.Trim(u.Path, "/")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "/")
}

func parseYouTube(host string, u *url.URL, segs []string) *bookmarks.PlatformData {
	pd := &bookmarks.PlatformData{Platform: YouTube, ContentType: "video"}
	switch {
	case host == "youtu.be" && len(segs) > 0:
		pd.ContentID = segs[0]
	case len(segs) > 0 && segs[0] == "watch":
		pd.ContentID = u.Query().Get("v")
	case len(segs) > 1 && segs[0] == "shorts":
		pd.ContentID = segs[1]
		pd.ContentType = "short"
	case len(segs) > 0 && strings.HasPrefix(segs[0], "@"):
		pd.Creator = segs[0]
		pd.ContentType = "channel"
	case len(segs) > 1 && (segs[0] == "c" || segs[0] == "channel" || segs[0] == "user"):
		pd.Creator = segs[1]
		pd.ContentType = "channel"
	case len(segs) > 0 && segs[0] == "playlist":
		pd.ContentID = u.Query().Get("list")
		pd.ContentType = "playlist"
	}
	// A channel handle in the path names the creator for videos too.
	if pd.Creator == "" && len(segs) > 1 && strings.HasPrefix(segs[0], "@") {
		pd.Creator = segs[0]
	}
	return pd
}

func parseGitHub(segs []string) *bookmarks.PlatformData {
	pd := &bookmarks.PlatformData{Platform: GitHub}
	switch {
	case len(segs) == 0:
		pd.ContentType = "site"
	case len(segs) == 1:
		pd.Creator = segs[0]
		pd.ContentType = "profile"
	default:
		pd.Creator = segs[0]
		pd.ContentID = segs[0] + "/" + segs[1]
		pd.ContentType = "repository"
		if len(segs) >= 3 {
			switch segs[2] {
			case "issues":
				pd.ContentType = "issue"
			case "pull":
				pd.ContentType = "pull_request"
			case "releases":
				pd.ContentType = "release"
			case "wiki":
				pd.ContentType = "wiki"
			}
		}
		pd.Extra = map[string]string{"repo": segs[1]}
	}
	return pd
}

func parseTwitter(segs []string) *bookmarks.PlatformData {
	pd := &bookmarks.PlatformData{Platform: Twitter}
	if len(segs) == 0 {
		pd.ContentType = "site"
		return pd
	}
	pd.Creator = "@" + segs[0]
	pd.ContentType = "profile"
	if len(segs) >= 3 && segs[1] == "status" {
		pd.ContentID = segs[2]
		pd.ContentType = "post"
	}
	return pd
}

func parseReddit(segs []string) *bookmarks.PlatformData {
	pd := &bookmarks.PlatformData{Platform: Reddit, ContentType: "discussion"}
	if len(segs) >= 2 && segs[0] == "r" {
		pd.Extra = map[string]string{"subreddit": segs[1]}
		if len(segs) >= 4 && segs[2] == "comments" {
			pd.ContentID = segs[3]
			pd.ContentType = "post"
		} else {
			pd.ContentType = "community"
		}
	}
	if len(segs) >= 2 && (segs[0] == "u" || segs[0] == "user") {
		pd.Creator = "u/" + segs[1]
		pd.ContentType = "profile"
	}
	return pd
}

func parseStackOverflow(segs []string) *bookmarks.PlatformData {
	pd := &bookmarks.PlatformData{Platform: StackOverflow, ContentType: "question"}
	if len(segs) >= 2 && segs[0] == "questions" {
		pd.ContentID = segs[1]
	}
	if len(segs) >= 2 && segs[0] == "users" {
		pd.ContentID = segs[1]
		pd.ContentType = "profile"
		if len(segs) >= 3 {
			pd.Creator = segs[2]
		}
	}
	return pd
}

func parseMedium(segs []string) *bookmarks.PlatformData {
	pd := &bookmarks.PlatformData{Platform: Medium, ContentType: "article"}
	if len(segs) > 0 && strings.HasPrefix(segs[0], "@") {
		pd.Creator = segs[0]
		if len(segs) == 1 {
			pd.ContentType = "profile"
		}
	} else if len(segs) == 1 {
		// A bare single segment is a publication home.
		pd.ContentType = "publication"
		pd.Extra = map[string]string{"publication": segs[0]}
	}
	return pd
}

func parseSubstack(host string, segs []string) *bookmarks.PlatformData {
	pd := &bookmarks.PlatformData{
		Platform:    Substack,
		ContentType: "newsletter",
		Creator:     strings.TrimSuffix(host, ".substack.com"),
	}
	if len(segs) >= 2 && segs[0] == "p" {
		pd.ContentID = segs[1]
		pd.ContentType = "article"
	}
	return pd
}

func parseDevTo(segs []string) *bookmarks.PlatformData {
	pd := &bookmarks.PlatformData{Platform: DevTo, ContentType: "article"}
	if len(segs) >= 1 {
		pd.Creator = segs[0]
		if len(segs) == 1 {
			pd.ContentType = "profile"
		}
	}
	if len(segs) >= 2 {
		pd.ContentID = segs[1]
	}
	return pd
}
