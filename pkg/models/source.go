package models

// SourceDescriptor identifies one remote catalog variant.
//
// Catalogs come in families: the same catalog name published in several
// language variants. The resolver keeps at most one descriptor per family.
type SourceDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"` // family name, shared across language variants
	Lang        string `json:"lang"` // BCP-47-ish language code, e.g. "en", "pt-BR"
	DisplayName string `json:"display_name,omitempty"`
}
