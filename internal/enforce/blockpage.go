package enforce

import (
	"net/url"
	"strings"

	"github.com/mtappler/focusgate/internal/limits"
)

// BlockPageURL builds the interstitial URL for a blocked navigation.
// The blocked URL and decision details travel as query parameters so
// the page can render them and offer the extension form.
func BlockPageURL(base, blockedURL string, decision limits.Decision) string {
	params := url.Values{}
	params.Set("blockedUrl", blockedURL)
	params.Set("siteId", decision.SiteID)
	params.Set("reason", decision.Reason)
	params.Set("limitType", string(decision.LimitType))
	return base + "?" + params.Encode()
}

// IsBlockPage reports whether a tab URL points at the interstitial.
func IsBlockPage(base, rawURL string) bool {
	return base != "" && strings.HasPrefix(rawURL, base)
}

// BlockedTarget extracts the originally blocked URL from an
// interstitial URL.
func BlockedTarget(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("blockedUrl")
}
