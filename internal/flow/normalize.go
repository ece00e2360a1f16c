package flow

import (
	"net/url"
	"strings"
)

const (
	HomeLabel    = "Home"
	UnknownLabel = "Unknown"

	idSegment = ":id"
	separator = " > "
	maxDepth  = 3
)

// pageRules maps a normalized path to a display category. Rules are checked
// in order; paths without a rule fall back to their own segments.
var pageRules = []struct {
	path  string
	label string
}{
	{"/", HomeLabel},
	{"/login", "Login"},
	{"/register", "Register"},
	{"/search", "Search"},
	{"/wifi-model", "WiFi model detail"},
	{"/wifi-model/" + idSegment, "WiFi model detail"},
	{"/submit", "Submit"},
}

// Category normalizes a page URL into a coarse navigation category. Query
// strings and fragments are dropped and numeric segments collapse to :id.
func Category(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UnknownLabel
	}
	u, err := url.Parse(raw)
	if err != nil {
		return UnknownLabel
	}

	var segs []string
	for _, s := range strings.Split(u.Path, "/") {
		if s == "" {
			continue
		}
		if isNumeric(s) {
			s = idSegment
		}
		segs = append(segs, s)
	}

	path := "/" + strings.Join(segs, "/")
	for _, r := range pageRules {
		if r.path == path {
			return r.label
		}
	}

	if len(segs) > maxDepth {
		segs = segs[:maxDepth]
	}
	return strings.Join(segs, separator)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
