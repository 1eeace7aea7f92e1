package cachestore

import "fmt"

// Cache key scheme, stable across the process lifetime. Keys are
// deterministic functions of their semantic inputs so repeated calls with
// identical inputs land on the same entry.
const (
	KeyLibrary = "library"
	KeySources = "sources"

	prefixPopular  = "popular:"
	prefixCategory = "category:"
)

func PopularKey(sourceID string) string {
	return prefixPopular + sourceID
}

func CategoryKey(name, sourceID string) string {
	return fmt.Sprintf("%s%s:%s", prefixCategory, name, sourceID)
}

// PopularPrefix is used by the retry surface to drop all popular entries
// regardless of which catalog they came from.
func PopularPrefix() string { return prefixPopular }
