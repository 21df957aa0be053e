package domain

import (
	"strings"
	"time"
)

// Scope describes how wide a labour action reaches.
type Scope string

const (
	ScopeUnknown  Scope = ""
	ScopeCompany  Scope = "company"
	ScopeLocal    Scope = "local"
	ScopeRegional Scope = "regional"
	ScopeNational Scope = "national"
	ScopeGeneral  Scope = "general"
)

// Rank orders scopes from narrowest to widest; unknown ranks below company.
func (s Scope) Rank() int {
	switch s {
	case ScopeCompany:
		return 1
	case ScopeLocal:
		return 2
	case ScopeRegional:
		return 3
	case ScopeNational:
		return 4
	case ScopeGeneral:
		return 5
	default:
		return 0
	}
}

// ParseScope maps free-form extractor output onto the scope enum.
func ParseScope(value string) Scope {
	scope := Scope(strings.ToLower(strings.TrimSpace(value)))
	switch scope {
	case ScopeCompany, ScopeLocal, ScopeRegional, ScopeNational, ScopeGeneral:
		return scope
	default:
		return ScopeUnknown
	}
}

// AttributeBundle carries the confidence-scored attributes produced by the
// upstream extractor. Any field may be absent; zero values mean unknown.
type AttributeBundle struct {
	Sector       string
	SectorConf   float64
	Scope        Scope
	ScopeConf    float64
	Location     string
	LocationConf float64
	ActionDate   *time.Time
	DateConf     float64
	Actors       []string
	ActorsConf   float64
}

// PrimaryActor returns the first named actor, or empty when none were extracted.
func (b AttributeBundle) PrimaryActor() string {
	if len(b.Actors) == 0 {
		return ""
	}
	return b.Actors[0]
}

// Empty reports whether the extractor produced nothing usable.
func (b AttributeBundle) Empty() bool {
	return b.Sector == "" && b.Scope == ScopeUnknown && b.Location == "" &&
		b.ActionDate == nil && len(b.Actors) == 0
}

// BelowFloor reports whether every present attribute scored under the
// configured confidence floor.
func (b AttributeBundle) BelowFloor(floor float64) bool {
	highest := 0.0
	for _, conf := range []float64{b.SectorConf, b.ScopeConf, b.LocationConf, b.DateConf, b.ActorsConf} {
		if conf > highest {
			highest = conf
		}
	}
	return highest < floor
}

// ArticleRecord is one ingested news item. It is immutable after ingestion
// except for group/event assignment tracked in the stores.
type ArticleRecord struct {
	ID            string
	SourceURL     string
	CanonicalURL  string
	Title         string
	Summary       string
	Body          string
	ContentHash   string
	Fingerprint   uint64
	PublishedAt   time.Time
	IngestedAt    time.Time
	Attributes    AttributeBundle
	LowConfidence bool
}

// Text returns the comparable text of the record for similarity scoring.
func (a ArticleRecord) Text() string {
	if a.Summary == "" {
		return a.Title
	}
	return a.Title + " " + a.Summary
}
