package advisor

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/naturia/advisor/internal/catalog"
	"github.com/naturia/advisor/internal/textgen"
	"github.com/naturia/advisor/pkg/logging"
)

// catalogSearcher is the slice of the catalog store the resolver needs.
type catalogSearcher interface {
	SearchByName(ctx context.Context, name string, categories []string) ([]catalog.ProductRef, error)
}

// Resolver turns product mentions in generated answer text into inline
// markers the widget can render as product chips.
type Resolver struct {
	provider textgen.Provider
	catalog  catalogSearcher
	logger   logging.Logger
}

func NewResolver(provider textgen.Provider, searcher catalogSearcher, logger logging.Logger) *Resolver {
	return &Resolver{provider: provider, catalog: searcher, logger: logger}
}

// Annotation is the result of resolving one answer text.
type Annotation struct {
	Text     string
	Products []catalog.ProductRef
}

// mention pairs a catalog product with the surface form that referenced it.
type mention struct {
	ref     catalog.ProductRef
	surface string
}

// span is a planned marker insertion at a byte offset in the original text.
type span struct {
	start  int
	end    int
	insert int
	ref    catalog.ProductRef
}

// Annotate extracts product mentions from text, matches them against the
// catalog, and splices an inline marker after the first occurrence of each
// matched product. Resolution is strictly additive: on any failure the
// original text comes back unchanged.
func (r *Resolver) Annotate(ctx context.Context, text string, known []catalog.ProductRef, categories []string) Annotation {
	if strings.TrimSpace(text) == "" {
		return Annotation{Text: text}
	}

	mentions := r.collectMentions(ctx, text, known, categories)
	if len(mentions) == 0 {
		return Annotation{Text: text}
	}

	spans := planSpans(text, mentions)
	if len(spans) == 0 {
		return Annotation{Text: text}
	}

	annotated := text
	products := make([]catalog.ProductRef, 0, len(spans))
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		annotated = annotated[:sp.insert] + FormatMarker(sp.ref) + annotated[sp.insert:]
	}
	for _, sp := range spans {
		products = append(products, sp.ref)
	}
	markersInserted.Add(float64(len(spans)))
	return Annotation{Text: annotated, Products: products}
}

// collectMentions extracts surface forms from the text, matches each against
// the catalog, and merges products already known for the turn. Order is
// extraction order, known products last; duplicates by code keep the first.
func (r *Resolver) collectMentions(ctx context.Context, text string, known []catalog.ProductRef, categories []string) []mention {
	var mentions []mention
	seen := make(map[string]bool)

	for _, surface := range r.extractNames(ctx, text) {
		ref, ok := r.matchCatalog(ctx, surface, categories)
		if !ok || seen[ref.Code] {
			continue
		}
		seen[ref.Code] = true
		mentions = append(mentions, mention{ref: ref, surface: surface})
	}
	for _, ref := range known {
		if ref.Code == "" || seen[ref.Code] {
			continue
		}
		seen[ref.Code] = true
		mentions = append(mentions, mention{ref: ref, surface: ref.DisplayName})
	}
	return mentions
}

func (r *Resolver) extractNames(ctx context.Context, text string) []string {
	raw, err := r.provider.Complete(ctx, extractNamesPrompt, text)
	if err != nil {
		r.logger.WithError(err).Warn("Product name extraction failed, skipping annotation")
		return nil
	}
	return textgen.ParseStringArray(raw)
}

// matchCatalog resolves a surface form to at most one catalog product.
// An exact fold-equal hit on display or alternate name wins; otherwise the
// store's own ranking decides.
func (r *Resolver) matchCatalog(ctx context.Context, surface string, categories []string) (catalog.ProductRef, bool) {
	refs, err := r.catalog.SearchByName(ctx, surface, categories)
	if err != nil {
		r.logger.WithError(err).WithField("surface", surface).Warn("Catalog lookup failed for mention")
		return catalog.ProductRef{}, false
	}
	if len(refs) == 0 {
		return catalog.ProductRef{}, false
	}
	folded := foldString(surface)
	for _, ref := range refs {
		if foldString(ref.DisplayName) == folded || foldString(ref.AlternateName) == folded {
			return ref, true
		}
	}
	return refs[0], true
}

// planSpans locates the first occurrence of each mentioned product in the
// text and plans non-overlapping marker insertions, sorted by offset.
// Display name is tried first, then alternate name, then the surface form
// the extractor produced.
func planSpans(text string, mentions []mention) []span {
	var spans []span
	for _, m := range mentions {
		start, end := -1, -1
		for _, name := range []string{m.ref.DisplayName, m.ref.AlternateName, m.surface} {
			if strings.TrimSpace(name) == "" {
				continue
			}
			start, end = findWordSpan(text, name)
			if start >= 0 {
				break
			}
		}
		if start < 0 {
			continue
		}
		if overlapsAny(spans, start, end) {
			continue
		}
		spans = append(spans, span{
			start:  start,
			end:    end,
			insert: extendPastEmphasis(text, end),
			ref:    m.ref,
		})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].insert < spans[j].insert })
	return spans
}

func overlapsAny(spans []span, start, end int) bool {
	for _, sp := range spans {
		if start < sp.end && sp.start < end {
			return true
		}
	}
	return false
}

// extendPastEmphasis moves an insertion point past up to two trailing
// emphasis closers so a marker never lands inside "**name**" or "_name_".
func extendPastEmphasis(text string, offset int) int {
	for n := 0; n < 2 && offset < len(text); n++ {
		if text[offset] != '*' && text[offset] != '_' {
			break
		}
		offset++
	}
	return offset
}

// findWordSpan returns the byte range of the first occurrence of needle in
// text, comparing case-insensitively and diacritic-insensitively, with both
// ends on word boundaries. Returns -1, -1 when absent.
func findWordSpan(text, needle string) (int, int) {
	hay, offsets := foldForSearch(text)
	ndl, _ := foldForSearch(needle)
	if len(ndl) == 0 || len(ndl) > len(hay) {
		return -1, -1
	}
	for i := 0; i+len(ndl) <= len(hay); i++ {
		if !runesEqual(hay[i:i+len(ndl)], ndl) {
			continue
		}
		if i > 0 && isWordRune(hay[i-1]) {
			continue
		}
		if after := i + len(ndl); after < len(hay) && isWordRune(hay[after]) {
			continue
		}
		return offsets[i], offsets[i+len(ndl)]
	}
	return -1, -1
}

func runesEqual(a, b []rune) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// foldForSearch lowercases and strips diacritics one rune at a time so every
// folded rune still maps to a byte offset in the original string. offsets has
// one extra entry holding len(s).
func foldForSearch(s string) ([]rune, []int) {
	folded := make([]rune, 0, len(s))
	offsets := make([]int, 0, len(s)+1)
	for i, r := range s {
		offsets = append(offsets, i)
		folded = append(folded, foldRune(r))
	}
	offsets = append(offsets, len(s))
	return folded, offsets
}

func foldRune(r rune) rune {
	decomposed := norm.NFD.String(string(r))
	for _, base := range decomposed {
		return unicode.ToLower(base)
	}
	return unicode.ToLower(r)
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldString normalizes a whole name for equality comparison. Offsets are
// not preserved; use foldForSearch when positions matter.
func foldString(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
