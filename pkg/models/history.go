package models

import "time"

// HistoryEntry is one reading session. Entries for the same manga repeat
// (one per chapter/session); consumers only care about the most recent
// ReadAt and the total count per manga.
type HistoryEntry struct {
	MangaID     int       `json:"manga_id"`
	ChapterName string    `json:"chapter_name"`
	PageNumber  int       `json:"page_number"`
	ReadAt      time.Time `json:"read_at"`
}
