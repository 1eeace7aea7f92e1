package models

// Manga is the normalized record shape shared by the local store and every
// remote catalog source.
//
// Identity rule: two records with the same ID denote the same logical item,
// no matter which source or query produced them. Records with different IDs
// but matching normalized titles are merged by the feed deduplicator.
type Manga struct {
	ID          int      `json:"id"`                    // stable numeric ID
	Title       string   `json:"title"`                 // main title
	Author      string   `json:"author,omitempty"`      // primary author / mangaka
	Genres      []string `json:"genres"`                // normalized genre list
	Status      string   `json:"status,omitempty"`      // "ongoing", "completed", etc.
	Description string   `json:"description,omitempty"` // longest known description
	CoverURL    string   `json:"cover_url,omitempty"`   // cover image URL (if any)
	InLibrary   bool     `json:"in_library"`            // user has this in their library
	SourceID    string   `json:"source_id,omitempty"`   // catalog that produced this record, empty for local
}

// HasGenre reports whether the record carries the given genre.
func (m Manga) HasGenre(genre string) bool {
	for _, g := range m.Genres {
		if g == genre {
			return true
		}
	}
	return false
}
