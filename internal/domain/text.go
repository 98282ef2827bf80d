package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// normalizeWhitespace lowercases, trims, and collapses runs of whitespace to
// a single space. Used for epic-alias normalisation (spec §3).
func normalizeWhitespace(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// TitleCase renders a string in title case, used when rendering epic titles
// into the extractor's epic snapshot (SPEC_FULL.md domain-stack wiring).
func TitleCase(s string) string {
	return titleCaser.String(s)
}

// SanitizeFTSQuery escapes a user-supplied search term for the FTS index:
// embedded quotes are doubled and a fixed set of delimiter characters is
// replaced with spaces (spec §4.A). Returns "" if nothing meaningful remains.
func SanitizeFTSQuery(q string) string {
	const delimiters = "[](){}:^*,./;!?@#$%&=+~`|\\-"
	var b strings.Builder
	for _, r := range q {
		switch {
		case r == '"':
			b.WriteString(`""`)
		case strings.ContainsRune(delimiters, r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	sanitized := strings.Join(strings.Fields(b.String()), " ")
	return sanitized
}
