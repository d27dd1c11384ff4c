package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone         BlockType = ""
	BlockAccessDenied BlockType = "access_denied"
	BlockCaptcha      BlockType = "captcha"
	BlockChallenge    BlockType = "challenge"
)

// BlockDetector classifies a rendered page as a defense-system block. Pages
// whose title contains one of ValidTitles are never treated as blocks, since
// legitimate pages embed the defense vendor's scripts.
type BlockDetector struct {
	ValidTitles []string
}

var accessDeniedMarkers = []string{
	"access denied",
	"you don't have permission",
	"edgesuite.net",
	"reference #",
	"akamai error",
	"403 forbidden",
}

var challengeMarkers = []string{
	"checking your browser",
	"just a moment",
	"attention required",
	"cf-browser-verification",
}

var captchaMarkers = []string{
	"g-recaptcha",
	"h-captcha",
	"hcaptcha",
	"captcha-delivery",
}

// Detect checks a page title and HTML body for block markers.
func (d BlockDetector) Detect(title, content string) (bool, BlockType) {
	lowerTitle := strings.ToLower(title)
	for _, valid := range d.ValidTitles {
		if valid != "" && strings.Contains(lowerTitle, strings.ToLower(valid)) {
			return false, BlockNone
		}
	}

	if strings.Contains(lowerTitle, "access denied") {
		return true, BlockAccessDenied
	}

	lower := strings.ToLower(content)
	for _, m := range accessDeniedMarkers {
		if strings.Contains(lower, m) {
			return true, BlockAccessDenied
		}
	}
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true, BlockChallenge
		}
	}
	for _, m := range captchaMarkers {
		if strings.Contains(lower, m) {
			return true, BlockCaptcha
		}
	}
	return false, BlockNone
}

var nonDigits = regexp.MustCompile(`\D`)

// ParseBalance keeps only the digits of a rendered balance ("1.234 pts").
// It reports false when no digits are present.
func ParseBalance(text string) (int64, bool) {
	clean := nonDigits.ReplaceAllString(text, "")
	if clean == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
