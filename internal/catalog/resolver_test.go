package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mangafeed/pkg/models"
)

func desc(id, name, lang string) models.SourceDescriptor {
	return models.SourceDescriptor{ID: id, Name: name, Lang: lang}
}

func TestResolvePreferred_PicksPreferredLanguage(t *testing.T) {
	in := []models.SourceDescriptor{
		desc("1", "MangaKatana", "en"),
		desc("2", "MangaKatana", "pt-BR"),
		desc("3", "MangaKatana", "de"),
	}

	got := ResolvePreferred(in, "pt-BR")

	assert.Equal(t, []models.SourceDescriptor{desc("2", "MangaKatana", "pt-BR")}, got)
}

func TestResolvePreferred_FallsBackToEnglish(t *testing.T) {
	in := []models.SourceDescriptor{
		desc("1", "Comick", "fr"),
		desc("2", "Comick", "en"),
	}

	got := ResolvePreferred(in, "ja")

	assert.Equal(t, "en", got[0].Lang)
}

func TestResolvePreferred_LexicographicLastResort(t *testing.T) {
	in := []models.SourceDescriptor{
		desc("1", "Toonily", "ru"),
		desc("2", "Toonily", "fr"),
		desc("3", "Toonily", "it"),
	}

	got := ResolvePreferred(in, "ja")

	assert.Equal(t, "fr", got[0].Lang)
}

func TestResolvePreferred_ExcludesLocalSource(t *testing.T) {
	in := []models.SourceDescriptor{
		desc(LocalSourceID, "Local source", "en"),
		desc("5", "WeebCentral", "en"),
	}

	got := ResolvePreferred(in, "en")

	assert.Len(t, got, 1)
	assert.Equal(t, "5", got[0].ID)
}

func TestResolvePreferred_OrderStableByFirstAppearance(t *testing.T) {
	in := []models.SourceDescriptor{
		desc("1", "Beta", "fr"),
		desc("2", "Alpha", "en"),
		desc("3", "Beta", "en"),
		desc("4", "Gamma", "en"),
	}

	got := ResolvePreferred(in, "en")

	names := make([]string, 0, len(got))
	for _, d := range got {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"Beta", "Alpha", "Gamma"}, names)
	assert.Equal(t, "3", got[0].ID, "Beta resolves to its English variant")
}

func TestResolvePreferred_Empty(t *testing.T) {
	assert.Empty(t, ResolvePreferred(nil, "en"))
}
