package services

import (
	"strings"
)

// Slugify lowercases title and keeps only ASCII letters and digits. Runs of
// whitespace or hyphens become a single hyphen.
func Slugify(title string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '-':
			pendingDash = true
		}
	}
	return b.String()
}

// reportSlug returns the slug of a report title, falling back to an id-based
// slug for titles without ASCII letters or digits.
func reportSlug(title, workflowID string) string {
	if slug := Slugify(title); slug != "" {
		return slug
	}
	short := workflowID
	if len(short) > 8 {
		short = short[:8]
	}
	return "report-" + short
}
