package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mangafeed/pkg/models"
)

func rec(id int, title string) models.Manga {
	return models.Manga{ID: id, Title: title}
}

func TestDedupeByID(t *testing.T) {
	in := []models.Manga{rec(1, "A"), rec(2, "B"), rec(1, "A again"), rec(3, "C"), rec(2, "B again")}

	got := DedupeByID(in)

	assert.Equal(t, []models.Manga{rec(1, "A"), rec(2, "B"), rec(3, "C")}, got)
}

func TestDedupeByID_Idempotent(t *testing.T) {
	in := []models.Manga{rec(5, "X"), rec(5, "X"), rec(7, "Y")}

	once := DedupeByID(in)
	twice := DedupeByID(once)

	assert.Equal(t, once, twice)
}

func TestDedupeByTitle(t *testing.T) {
	tests := []struct {
		name string
		in   []models.Manga
		want []string
	}{
		{
			name: "case fold",
			in:   []models.Manga{rec(1, "One Piece"), rec(2, "ONE PIECE")},
			want: []string{"One Piece"},
		},
		{
			name: "punctuation and spacing",
			in:   []models.Manga{rec(1, "Dr. Stone"), rec(2, "dr  stone!"), rec(3, "Dr.Stone")},
			want: []string{"Dr. Stone"},
		},
		{
			name: "distinct titles survive",
			in:   []models.Manga{rec(1, "Berserk"), rec(2, "Vinland Saga")},
			want: []string{"Berserk", "Vinland Saga"},
		},
		{
			name: "first occurrence wins",
			in:   []models.Manga{rec(9, "Naruto"), rec(3, "naruto")},
			want: []string{"Naruto"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DedupeByTitle(tt.in)
			titles := make([]string, 0, len(got))
			for _, m := range got {
				titles = append(titles, m.Title)
			}
			assert.Equal(t, tt.want, titles)

			assert.Equal(t, got, DedupeByTitle(got), "must be idempotent")
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "one punch man", normalizeTitle("  One-Punch Man!! "))
	assert.Equal(t, "fate stay night", normalizeTitle("Fate/stay night"))
	assert.Equal(t, "", normalizeTitle("---"))
}
