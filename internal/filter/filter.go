// Package filter implements the require/exclude entry matching rules.
package filter

import (
	"strings"

	"feedbell/internal/model"
	"feedbell/internal/profile"
)

// Passes reports whether an entry survives the profile's pattern lists.
// Matching is case-insensitive substring over title, summary and author.
// A non-empty require list demands at least one match; a non-empty exclude
// list rejects on any match and wins over a require match. Empty lists
// impose nothing.
func Passes(entry model.Entry, p profile.Resolved) bool {
	text := strings.ToLower(entry.Title + " " + entry.Summary + " " + entry.Author)

	if len(p.RequirePatterns) > 0 && !matchesAny(text, p.RequirePatterns) {
		return false
	}
	if len(p.ExcludePatterns) > 0 && matchesAny(text, p.ExcludePatterns) {
		return false
	}
	return true
}

func matchesAny(text string, patterns []string) bool {
	for _, pat := range patterns {
		if pat == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}
