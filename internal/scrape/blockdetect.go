package scrape

import (
	"strings"
)

// BlockType describes the kind of anti-bot page detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockAccess     BlockType = "access_denied"
	BlockJSShell    BlockType = "js_shell"
)

// DetectBlock checks rendered HTML for signs that the browser was served an
// interstitial instead of the rate page.
func DetectBlock(html string) (bool, BlockType) {
	lower := strings.ToLower(html)

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-chl-") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "verify you are human") {
		return true, BlockCaptcha
	}

	if strings.Contains(lower, "<title>access denied</title>") ||
		strings.Contains(lower, "request unsuccessful. incapsula") {
		return true, BlockAccess
	}

	// Near-empty shell: the page never ran its scripts.
	if len(html) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, "meta http-equiv=\"refresh\"") {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
