package frecency

import (
	"math"
	"sort"
	"time"

	"mangafeed/pkg/models"
)

// MaxCategories is how many interest categories the ranker yields.
const MaxCategories = 3

// foundational is the last-resort category list for a fresh install with
// no history and an empty library. Order matters: the first MaxCategories
// entries are used as-is.
var foundational = []string{"Action", "Adventure", "Fantasy", "Romance", "Comedy"}

// Rank derives the user's top interest categories from reading history
// and the loaded record set. Pure: identical inputs always yield the same
// ordered list, length <= MaxCategories.
//
// Per manga: score = count / ln(hoursSinceLastRead + 2). The +2 keeps the
// denominator at ln(2) or above, so several reads within the same hour
// don't divide by near-zero. Each manga's score is added to every genre
// it carries.
func Rank(history []models.HistoryEntry, records []models.Manga, now time.Time) []string {
	byID := make(map[int]models.Manga, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	weights := newWeightMap()

	count := make(map[int]int)
	lastRead := make(map[int]time.Time)
	ids := make([]int, 0, len(history))
	for _, h := range history {
		if count[h.MangaID] == 0 {
			ids = append(ids, h.MangaID)
		}
		count[h.MangaID]++
		if h.ReadAt.After(lastRead[h.MangaID]) {
			lastRead[h.MangaID] = h.ReadAt
		}
	}

	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		hours := now.Sub(lastRead[id]).Hours()
		if hours < 0 {
			hours = 0
		}
		score := float64(count[id]) / math.Log(hours+2)
		for _, g := range rec.Genres {
			weights.add(g, score)
		}
	}

	// Fallback 1: nothing history-derived — count genres over the library.
	if weights.empty() {
		for _, r := range records {
			if !r.InLibrary {
				continue
			}
			for _, g := range r.Genres {
				weights.add(g, 1)
			}
		}
	}

	// Fallback 2: fresh install — fixed foundational set.
	if weights.empty() {
		return append([]string(nil), foundational[:MaxCategories]...)
	}

	return weights.top(MaxCategories)
}

// weightMap accumulates category weights while remembering first-seen
// order, which breaks ties deterministically.
type weightMap struct {
	w     map[string]float64
	order []string
}

func newWeightMap() *weightMap {
	return &weightMap{w: make(map[string]float64)}
}

func (m *weightMap) add(category string, delta float64) {
	if category == "" || delta <= 0 {
		return
	}
	if _, ok := m.w[category]; !ok {
		m.order = append(m.order, category)
	}
	m.w[category] += delta
}

func (m *weightMap) empty() bool { return len(m.w) == 0 }

func (m *weightMap) top(n int) []string {
	ranked := append([]string(nil), m.order...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return m.w[ranked[i]] > m.w[ranked[j]]
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
