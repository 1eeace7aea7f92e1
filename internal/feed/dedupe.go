package feed

import (
	"strings"
	"unicode"

	"mangafeed/pkg/models"
)

// DedupeByID keeps the first occurrence of each numeric ID, preserving
// merge order. Pure and idempotent.
func DedupeByID(records []models.Manga) []models.Manga {
	seen := make(map[int]struct{}, len(records))
	out := make([]models.Manga, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// DedupeByTitle keeps one representative per normalized title, first
// occurrence wins. Used across catalogs, where numeric IDs are not
// comparable.
func DedupeByTitle(records []models.Manga) []models.Manga {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.Manga, 0, len(records))
	for _, r := range records {
		key := normalizeTitle(r.Title)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// normalizeTitle converts a title to a canonical form: lowercase, strip
// non-letter/digit characters and compress runs of separators.
func normalizeTitle(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))

	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			prevSpace = false
			continue
		}
		if !prevSpace {
			b.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
