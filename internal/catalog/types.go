package catalog

// ProductRef is a read-only snapshot of a catalog product attached to a turn.
// Rows from the product-search workflow and from the local catalog store both
// map into this shape.
type ProductRef struct {
	Code          string  `json:"product_code"`
	DisplayName   string  `json:"product_name"`
	AlternateName string  `json:"alternate_name,omitempty"`
	Description   string  `json:"description,omitempty"`
	URL           string  `json:"url,omitempty"`
	ImageURL      string  `json:"thumbnail,omitempty"`
	Price         float64 `json:"price,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Category      string  `json:"category,omitempty"`
}

// DedupeByCode returns refs with duplicate product codes removed, keeping the
// first occurrence. Order is preserved.
func DedupeByCode(refs []ProductRef) []ProductRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]ProductRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Code == "" {
			continue
		}
		if _, ok := seen[ref.Code]; ok {
			continue
		}
		seen[ref.Code] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// Codes returns the product codes of the given refs in order.
func Codes(refs []ProductRef) []string {
	codes := make([]string, 0, len(refs))
	for _, ref := range refs {
		codes = append(codes, ref.Code)
	}
	return codes
}
