package prompt

import "strings"

const (
	PlatformYouTube  = "youtube"
	PlatformTwitter  = "twitter"
	PlatformReddit   = "reddit"
	PlatformLinkedIn = "linkedin"
	PlatformGeneric  = "generic"
)

// DetectPlatform classifies a page URL by the site it belongs to
func DetectPlatform(url string) string {
	url = strings.ToLower(url)
	switch {
	case strings.Contains(url, "youtube.com"):
		return PlatformYouTube
	case strings.Contains(url, "twitter.com"), strings.Contains(url, "x.com"):
		return PlatformTwitter
	case strings.Contains(url, "reddit.com"):
		return PlatformReddit
	case strings.Contains(url, "linkedin.com"):
		return PlatformLinkedIn
	default:
		return PlatformGeneric
	}
}
