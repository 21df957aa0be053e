package feeds

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"UnrestWatch/internal/domain"
)

// labeledArticle mirrors the JSON batches produced by the upstream
// labeling tools: the raw article alongside its label object.
type labeledArticle struct {
	URL         string   `json:"url"`
	Canonical   string   `json:"canonical_url"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Body        string   `json:"body"`
	PublishedAt string   `json:"published_at"`
	Tags        []string `json:"tags"`
	Label       *label   `json:"label"`
}

type label struct {
	StrikeOrUnrest string   `json:"strike_or_labour_unrest"`
	EventType      string   `json:"event_type"`
	Sector         string   `json:"sector"`
	Scope          string   `json:"scope"`
	Location       string   `json:"location"`
	Actors         []string `json:"actors"`
	ActionDate     string   `json:"action_date"`
	Confidence     float64  `json:"confidence"`
}

// decodeBatch parses one labeled batch. Articles labeled as not being
// labour unrest are dropped; articles without a label pass through with an
// empty bundle so the extractor fallback can fill it in later.
func decodeBatch(r io.Reader, now time.Time) ([]domain.ArticleRecord, error) {
	var batch []labeledArticle
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	records := make([]domain.ArticleRecord, 0, len(batch))
	for _, article := range batch {
		if article.URL == "" {
			continue
		}
		if article.Label != nil && strings.EqualFold(article.Label.StrikeOrUnrest, "no") {
			continue
		}

		record := domain.ArticleRecord{
			ID:           article.URL,
			SourceURL:    article.URL,
			CanonicalURL: article.Canonical,
			Title:        article.Title,
			Summary:      article.Summary,
			Body:         article.Body,
			IngestedAt:   now,
		}
		if record.CanonicalURL == "" {
			record.CanonicalURL = article.URL
		}
		if article.PublishedAt != "" {
			if published, err := dateparse.ParseAny(article.PublishedAt); err == nil {
				record.PublishedAt = published.UTC()
			}
		}
		if record.PublishedAt.IsZero() {
			record.PublishedAt = now
		}
		if article.Label != nil {
			record.Attributes = toBundle(*article.Label)
		}
		records = append(records, record)
	}
	return records, nil
}

func toBundle(l label) domain.AttributeBundle {
	bundle := domain.AttributeBundle{
		Sector:       l.Sector,
		SectorConf:   l.Confidence,
		Scope:        domain.ParseScope(l.Scope),
		ScopeConf:    l.Confidence,
		Location:     l.Location,
		LocationConf: l.Confidence,
		Actors:       append([]string(nil), l.Actors...),
	}
	if len(l.Actors) > 0 {
		bundle.ActorsConf = l.Confidence
	}
	if l.ActionDate != "" {
		// Unparseable dates stay unknown; clustering relies on the
		// remaining signals.
		if date, err := dateparse.ParseAny(l.ActionDate); err == nil {
			day := date.UTC().Truncate(24 * time.Hour)
			bundle.ActionDate = &day
			bundle.DateConf = l.Confidence
		}
	}
	return bundle
}
