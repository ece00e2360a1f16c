package db

import (
	"strings"

	"gorm.io/gorm"
)

// ExcludePages drops page view rows whose page_url matches any of the SQL
// LIKE patterns. Blank patterns are ignored.
func ExcludePages(patterns ...string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		for _, p := range patterns {
			if p = strings.TrimSpace(p); p != "" {
				db = db.Where("page_url NOT LIKE ?", p)
			}
		}
		return db
	}
}

// WithoutPages returns a reusable handle on db that applies ExcludePages
// to every query built from it.
func WithoutPages(db *gorm.DB, patterns ...string) *gorm.DB {
	if len(patterns) == 0 {
		return db
	}
	return db.Scopes(ExcludePages(patterns...)).Session(&gorm.Session{})
}

// MatchesAny reports whether url matches one of the LIKE patterns, with
// '%' standing for any run of characters and '_' for exactly one.
func MatchesAny(url string, patterns []string) bool {
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" && matchLike(p, url) {
			return true
		}
	}
	return false
}

func matchLike(pattern, s string) bool {
	p, t := []rune(pattern), []rune(s)
	pi, ti := 0, 0
	star, mark := -1, 0
	for ti < len(t) {
		switch {
		case pi < len(p) && (p[pi] == '_' || p[pi] == t[ti]):
			pi++
			ti++
		case pi < len(p) && p[pi] == '%':
			star, mark = pi, ti
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}
