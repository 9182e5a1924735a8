package advisor

import (
	"strings"

	"github.com/naturia/advisor/internal/catalog"
)

// Inline markers are opaque tokens embedded in annotated answer text. The
// rendering layer re-parses them into product chips. The 4-field arity is a
// wire contract: any field may be empty but all four are always present.
const (
	markerPrefix   = "<<<PRODUCT:"
	markerSuffix   = ">>>"
	markerFieldSep = "|||"
)

// Marker is the parsed form of one inline reference token.
type Marker struct {
	Code          string
	URL           string
	Name          string
	AlternateName string
}

// FormatMarker renders a product reference as an inline marker token.
func FormatMarker(ref catalog.ProductRef) string {
	return Marker{
		Code:          ref.Code,
		URL:           ref.URL,
		Name:          ref.DisplayName,
		AlternateName: ref.AlternateName,
	}.String()
}

func (m Marker) String() string {
	return markerPrefix + strings.Join([]string{m.Code, m.URL, m.Name, m.AlternateName}, markerFieldSep) + markerSuffix
}

// ParseMarker parses a single marker token. Returns false if the token is
// malformed or does not carry exactly four fields.
func ParseMarker(token string) (Marker, bool) {
	if !strings.HasPrefix(token, markerPrefix) || !strings.HasSuffix(token, markerSuffix) {
		return Marker{}, false
	}
	inner := token[len(markerPrefix) : len(token)-len(markerSuffix)]
	fields := strings.Split(inner, markerFieldSep)
	if len(fields) != 4 {
		return Marker{}, false
	}
	return Marker{
		Code:          fields[0],
		URL:           fields[1],
		Name:          fields[2],
		AlternateName: fields[3],
	}, true
}

// StripMarkers removes all marker tokens from text, leaving the surrounding
// prose untouched. Malformed opening sequences without a closer are kept
// as-is.
func StripMarkers(text string) string {
	var b strings.Builder
	for {
		start := strings.Index(text, markerPrefix)
		if start == -1 {
			b.WriteString(text)
			return b.String()
		}
		end := strings.Index(text[start:], markerSuffix)
		if end == -1 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:start])
		text = text[start+end+len(markerSuffix):]
	}
}
