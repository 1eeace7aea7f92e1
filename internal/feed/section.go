package feed

import (
	"time"

	"mangafeed/pkg/models"
)

type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateEmpty   State = "empty"
	StateError   State = "error"
)

// Section keys for the fixed rows; category rows use CategorySectionKey.
const (
	SectionContinueReading = "continue-reading"
	SectionRecommended     = "recommended"
	SectionPopular         = "popular"
)

func CategorySectionKey(category string) string {
	return "category:" + category
}

// Caps applied when sections are published.
const (
	maxContinueReading = 12
	maxRecommended     = 20
	rowCap             = 25 // visible items per popular/category row
	popularSources     = 2  // catalogs queried for the popular row

	// Progress is pageNumber over this fixed denominator, capped at 1.
	progressDenominator = 20
)

// Entry is one displayable record inside a section.
type Entry struct {
	Manga    models.Manga `json:"manga"`
	Subtitle string       `json:"subtitle,omitempty"`
	Progress float64      `json:"progress,omitempty"`
}

// Section is one named row of the feed with its own lifecycle:
// loading -> ready | empty | error.
type Section struct {
	Key           string  `json:"key"`
	Title         string  `json:"title"`
	State         State   `json:"state"`
	Entries       []Entry `json:"entries"`
	MoreAvailable bool    `json:"more_available,omitempty"`
	Message       string  `json:"message,omitempty"`

	// pending counts outstanding fetches feeding this section; the row
	// settles to empty only once the last one has reported in.
	pending int
}

// Snapshot is the full feed state handed to the display layer.
type Snapshot struct {
	Global     State     `json:"global"`
	Message    string    `json:"message,omitempty"`
	Attempt    int       `json:"attempt"`
	Categories []string  `json:"categories"`
	Sections   []Section `json:"sections"`
}

// SectionEvent is broadcast over the push hub whenever a section changes.
// Batch carries the scope ID of the pipeline run that produced the update,
// so a client can tell events of consecutive refreshes apart.
type SectionEvent struct {
	Type    string    `json:"type"` // "section.update"
	Batch   string    `json:"batch,omitempty"`
	Attempt int       `json:"attempt"`
	Section Section   `json:"section"`
	At      time.Time `json:"at"`
}

// GlobalEvent is broadcast when the feed-wide state changes.
type GlobalEvent struct {
	Type    string    `json:"type"` // "feed.state"
	Batch   string    `json:"batch,omitempty"`
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

func (s *Section) clone() Section {
	out := *s
	out.Entries = append([]Entry(nil), s.Entries...)
	return out
}
