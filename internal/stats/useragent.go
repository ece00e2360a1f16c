package stats

import (
	"strings"

	"github.com/mssola/useragent"
)

// OSFamily buckets a user agent into a coarse operating system family.
func OSFamily(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return UnknownLabel
	}
	name := strings.ToLower(useragent.New(raw).OSInfo().Name)
	switch {
	case name == "":
		return UnknownLabel
	case strings.Contains(name, "windows"):
		return "Windows"
	case strings.Contains(name, "android"):
		return "Android"
	case strings.Contains(name, "iphone"), strings.Contains(name, "ipad"),
		strings.Contains(name, "ios"), strings.Contains(name, "cpu os"):
		return "iOS"
	case strings.Contains(name, "mac os"):
		return "Mac OS"
	case strings.Contains(name, "cros"), strings.Contains(name, "chrome os"):
		return "Chrome OS"
	case strings.Contains(name, "linux"), strings.Contains(name, "ubuntu"), strings.Contains(name, "fedora"):
		return "Linux"
	default:
		return OtherLabel
	}
}

var knownBrowsers = map[string]string{
	"Chrome":            "Chrome",
	"Safari":            "Safari",
	"Firefox":           "Firefox",
	"Edge":              "Edge",
	"Opera":             "Opera",
	"Internet Explorer": "Internet Explorer",
}

// BrowserFamily names the browser of a user agent.
func BrowserFamily(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return UnknownLabel
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "Bot"
	}
	name, _ := ua.Browser()
	if name == "" {
		return UnknownLabel
	}
	if known, ok := knownBrowsers[name]; ok {
		return known
	}
	return OtherLabel
}
