package temporal

import (
	"strings"

	"github.com/iancoleman/strcase"
)

// Input is implemented by every workflow input.
type Input interface {
	Tenant() Tenant
}

// KindOf returns the workflow kind that accepts input.
func KindOf(input Input) (Kind, bool) {
	switch input.(type) {
	case ImageEmbedInput, *ImageEmbedInput:
		return KindImageEmbed, true
	case PdfEmbedInput, *PdfEmbedInput:
		return KindPdfEmbed, true
	case SearchInput, *SearchInput:
		return KindSearch, true
	case DeleteVectorsInput, *DeleteVectorsInput:
		return KindDeleteVectors, true
	}
	return "", false
}

// IDPrefix is the kebab-case prefix of workflow ids of this kind, e.g.
// "image-embed".
func (k Kind) IDPrefix() string {
	return strcase.ToKebab(strings.TrimSuffix(string(k), "Workflow"))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}
