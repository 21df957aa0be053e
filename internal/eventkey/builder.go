package eventkey

import (
	"regexp"
	"strings"

	"UnrestWatch/internal/domain"
)

const (
	separator   = "|"
	unknownPart = "-"
	dateLayout  = "2006-01-02"
)

var nonAlnum = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Builder derives the coarse grouping key from an article's attributes.
// The key only narrows candidate search for the clusterer; it never creates
// or destroys an event by itself.
type Builder struct {
	aliases map[string]string
}

// NewBuilder loads the synonym/alias table (e.g. union name variants).
// Alias keys are normalized once so lookups stay consistent.
func NewBuilder(aliases map[string]string) *Builder {
	normalized := make(map[string]string, len(aliases))
	for variant, canonical := range aliases {
		normalized[normalize(variant)] = normalize(canonical)
	}
	return &Builder{aliases: normalized}
}

// Key maps the attribute bundle to sector|actor|location|day. An unknown
// action date omits the date component entirely, widening recall so the
// clusterer leans on the remaining signals.
func (b *Builder) Key(attrs domain.AttributeBundle) string {
	parts := []string{
		orUnknown(b.Canonical(attrs.Sector)),
		orUnknown(b.Canonical(attrs.PrimaryActor())),
		orUnknown(b.Canonical(attrs.Location)),
	}
	if attrs.ActionDate != nil {
		parts = append(parts, attrs.ActionDate.UTC().Format(dateLayout))
	}
	return strings.Join(parts, separator)
}

// Shard buckets the record for per-shard serialization: sector|location.
func (b *Builder) Shard(attrs domain.AttributeBundle) string {
	return orUnknown(b.Canonical(attrs.Sector)) + separator + orUnknown(b.Canonical(attrs.Location))
}

// Canonical normalizes a value and resolves it through the alias table.
func (b *Builder) Canonical(value string) string {
	normalized := normalize(value)
	if canonical, ok := b.aliases[normalized]; ok {
		return canonical
	}
	return normalized
}

func normalize(value string) string {
	lowered := strings.ToLower(strings.TrimSpace(value))
	return strings.TrimSpace(nonAlnum.ReplaceAllString(lowered, " "))
}

func orUnknown(value string) string {
	if value == "" {
		return unknownPart
	}
	return value
}
