package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/eventkey"
	"UnrestWatch/internal/ports"
	"UnrestWatch/internal/severity"
)

// Config tunes assignment and lifecycle behaviour. The activity window is
// the one lever for segmenting rolling/recurring actions; its value is
// domain policy supplied by configuration.
type Config struct {
	AcceptThreshold float64
	ActivityWindow  time.Duration
	DormantAfter    time.Duration
	CloseAfter      time.Duration
	MergeGrace      time.Duration
}

// DefaultConfig mirrors the documented defaults: 14 days of inactivity
// before dormancy, 45 before closure, 7 days of merge grace after closure.
func DefaultConfig() Config {
	return Config{
		AcceptThreshold: 0.35,
		ActivityWindow:  14 * 24 * time.Hour,
		DormantAfter:    14 * 24 * time.Hour,
		CloseAfter:      45 * 24 * time.Hour,
		MergeGrace:      7 * 24 * time.Hour,
	}
}

// Clusterer assigns each original (non-duplicate) article to an event:
// joining the best-scoring open or dormant candidate, or seeding a new one.
type Clusterer struct {
	store  ports.EventStore
	keys   *eventkey.Builder
	scorer *severity.Scorer
	cfg    Config
	logger *slog.Logger
}

// NewClusterer wires the store, key builder, and severity scorer. Each
// zero-valued Config field falls back to its default independently, so a
// partial override keeps the rest of the tuning intact.
func NewClusterer(store ports.EventStore, keys *eventkey.Builder, scorer *severity.Scorer, cfg Config, logger *slog.Logger) *Clusterer {
	defaults := DefaultConfig()
	if cfg.AcceptThreshold == 0 {
		cfg.AcceptThreshold = defaults.AcceptThreshold
	}
	if cfg.ActivityWindow == 0 {
		cfg.ActivityWindow = defaults.ActivityWindow
	}
	if cfg.DormantAfter == 0 {
		cfg.DormantAfter = defaults.DormantAfter
	}
	if cfg.CloseAfter == 0 {
		cfg.CloseAfter = defaults.CloseAfter
	}
	if cfg.MergeGrace == 0 {
		cfg.MergeGrace = defaults.MergeGrace
	}
	return &Clusterer{store: store, keys: keys, scorer: scorer, cfg: cfg, logger: logger}
}

// Assign places the record into an event and returns the event id plus
// whether a new event was created. Re-ingesting an already-assigned article
// returns its existing event untouched. Callers serialize per shard.
func (c *Clusterer) Assign(ctx context.Context, record domain.ArticleRecord, key string) (string, bool, error) {
	if existing, ok, err := c.store.MemberEvent(ctx, record.ID); err != nil {
		return "", false, fmt.Errorf("membership lookup %s: %w", record.ID, err)
	} else if ok {
		return existing, false, nil
	}

	candidates, err := c.store.Candidates(ctx, ports.CandidateQuery{
		Key:         key,
		Sector:      c.keys.Canonical(record.Attributes.Sector),
		Location:    c.keys.Canonical(record.Attributes.Location),
		ActiveAfter: record.PublishedAt.Add(-c.cfg.ActivityWindow),
		States:      []domain.EventState{domain.StateOpen, domain.StateDormant},
	})
	if err != nil {
		return "", false, fmt.Errorf("candidate lookup: %w", err)
	}

	best, score := c.pick(record, candidates)
	if best == nil || score < c.cfg.AcceptThreshold {
		event, err := c.create(ctx, record, key)
		if err != nil {
			return "", false, err
		}
		c.debug("event created", "event", event.ID, "key", key, "article", record.ID)
		return event.ID, true, nil
	}

	joined, err := c.join(ctx, *best, record)
	if err != nil {
		return "", false, err
	}
	c.debug("article joined event", "event", joined.ID, "article", record.ID, "score", score)
	return joined.ID, false, nil
}

// pick scores all candidates and returns the best one. Ties go to the event
// with the most recent activity, favouring the freshest thread.
func (c *Clusterer) pick(record domain.ArticleRecord, candidates []domain.Event) (*domain.Event, float64) {
	var best *domain.Event
	bestScore := -1.0

	for i := range candidates {
		candidate := candidates[i]
		score := c.similarity(record, candidate)
		if score > bestScore || (score == bestScore && best != nil && candidate.LastActivity.After(best.LastActivity)) {
			best = &candidates[i]
			bestScore = score
		}
	}
	return best, bestScore
}

// similarity combines token overlap between the article text and the
// event's representative text with attribute-agreement bonuses.
func (c *Clusterer) similarity(record domain.ArticleRecord, event domain.Event) float64 {
	score := jaccard(tokens(record.Text()), tokens(event.RepresentativeText))

	attrs := record.Attributes
	if attrs.Sector != "" && c.keys.Canonical(attrs.Sector) == event.Sector {
		score += 0.1
	}
	if attrs.Scope != domain.ScopeUnknown && attrs.Scope == event.Scope {
		score += 0.1
	}
	shared := 0
	for _, actor := range attrs.Actors {
		if event.HasActor(c.keys.Canonical(actor)) {
			shared++
		}
	}
	if shared > 2 {
		shared = 2
	}
	score += 0.15 * float64(shared)

	return score
}

func (c *Clusterer) create(ctx context.Context, record domain.ArticleRecord, key string) (domain.Event, error) {
	attrs := record.Attributes
	event := domain.Event{
		ID:                 uuid.NewString(),
		Key:                key,
		MemberIDs:          []string{record.ID},
		Sector:             c.keys.Canonical(attrs.Sector),
		Scope:              attrs.Scope,
		State:              domain.StateOpen,
		LastActivity:       record.PublishedAt,
		RepresentativeText: record.Text(),
	}
	if location := c.keys.Canonical(attrs.Location); location != "" {
		event.Locations = []string{location}
	}
	for _, actor := range attrs.Actors {
		if canonical := c.keys.Canonical(actor); canonical != "" && !event.HasActor(canonical) {
			event.Actors = append(event.Actors, canonical)
		}
	}
	if attrs.ActionDate != nil {
		day := attrs.ActionDate.UTC().Truncate(24 * time.Hour)
		event.StartDate = &day
		end := day
		event.EndDate = &end
	}
	event.Severity, event.Confidence = c.scorer.Score(event)

	saved, err := c.store.Save(ctx, event)
	if err != nil {
		return domain.Event{}, fmt.Errorf("save new event: %w", err)
	}
	return saved, nil
}

// join appends the record, widens the date span (undated members leave it
// untouched), unions actor/location sets, revives dormant events, and
// recomputes severity before saving.
func (c *Clusterer) join(ctx context.Context, event domain.Event, record domain.ArticleRecord) (domain.Event, error) {
	event.MemberIDs = append(event.MemberIDs, record.ID)

	attrs := record.Attributes
	if location := c.keys.Canonical(attrs.Location); location != "" && !event.HasLocation(location) {
		event.Locations = append(event.Locations, location)
	}
	for _, actor := range attrs.Actors {
		if canonical := c.keys.Canonical(actor); canonical != "" && !event.HasActor(canonical) {
			event.Actors = append(event.Actors, canonical)
		}
	}
	if event.Scope.Rank() < attrs.Scope.Rank() {
		event.Scope = attrs.Scope
	}
	if attrs.ActionDate != nil {
		day := attrs.ActionDate.UTC().Truncate(24 * time.Hour)
		if event.StartDate == nil || day.Before(*event.StartDate) {
			start := day
			event.StartDate = &start
		}
		if event.EndDate == nil || day.After(*event.EndDate) {
			end := day
			event.EndDate = &end
		}
	}
	if record.PublishedAt.After(event.LastActivity) {
		event.LastActivity = record.PublishedAt
	}
	if event.State == domain.StateDormant {
		event.State = domain.StateOpen
	}
	event.Severity, event.Confidence = c.scorer.Score(event)

	saved, err := c.store.Save(ctx, event)
	if err != nil {
		return domain.Event{}, fmt.Errorf("save joined event %s: %w", event.ID, err)
	}
	return saved, nil
}

func (c *Clusterer) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func tokens(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?'\"()[]«»")
		if len(token) > 2 {
			out[token] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
