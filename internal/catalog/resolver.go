package catalog

import (
	"sort"

	"mangafeed/pkg/models"
)

// LocalSourceID is the virtual "local files" source the backend always
// reports. It is never a remote catalog and is excluded from resolution.
const LocalSourceID = "0"

// FallbackLang is used when no variant matches the preferred language.
const FallbackLang = "en"

// ResolvePreferred collapses the raw descriptor list to one descriptor
// per catalog family. Within a family the pick order is: exact preferred
// language match, then FallbackLang, then the lexicographically smallest
// remaining language code. Output order follows the first appearance of
// each family in the input.
func ResolvePreferred(descriptors []models.SourceDescriptor, preferredLang string) []models.SourceDescriptor {
	grouped := make(map[string][]models.SourceDescriptor)
	order := make([]string, 0, len(descriptors))

	for _, d := range descriptors {
		if d.ID == LocalSourceID {
			continue
		}
		if _, seen := grouped[d.Name]; !seen {
			order = append(order, d.Name)
		}
		grouped[d.Name] = append(grouped[d.Name], d)
	}

	out := make([]models.SourceDescriptor, 0, len(order))
	for _, name := range order {
		out = append(out, pickVariant(grouped[name], preferredLang))
	}
	return out
}

func pickVariant(variants []models.SourceDescriptor, preferredLang string) models.SourceDescriptor {
	for _, v := range variants {
		if v.Lang == preferredLang {
			return v
		}
	}
	for _, v := range variants {
		if v.Lang == FallbackLang {
			return v
		}
	}

	rest := append([]models.SourceDescriptor(nil), variants...)
	sort.Slice(rest, func(i, j int) bool { return rest[i].Lang < rest[j].Lang })
	return rest[0]
}
