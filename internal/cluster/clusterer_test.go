package cluster

import (
	"context"
	"testing"
	"time"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/eventkey"
	"UnrestWatch/internal/severity"
	"UnrestWatch/internal/store"
)

func newTestClusterer(mem *store.Memory) (*Clusterer, *eventkey.Builder) {
	keys := eventkey.NewBuilder(nil)
	scorer := severity.NewScorer(severity.Weights{})
	return NewClusterer(mem, keys, scorer, DefaultConfig(), nil), keys
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func transportRecord(id, title, summary string, published time.Time, actionDate *time.Time) domain.ArticleRecord {
	return domain.ArticleRecord{
		ID:          id,
		Title:       title,
		Summary:     summary,
		PublishedAt: published,
		Attributes: domain.AttributeBundle{
			Sector:     "transport",
			SectorConf: 0.9,
			Scope:      domain.ScopeNational,
			ScopeConf:  0.9,
			Location:   "Athens",
			Actors:     []string{"Transport Workers Union"},
			ActionDate: actionDate,
		},
	}
}

func TestParaphrasedArticlesShareOneEvent(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, keys := newTestClusterer(mem)
	ctx := context.Background()
	published := time.Date(2024, time.March, 5, 7, 0, 0, 0, time.UTC)

	first := transportRecord("a1",
		"24-hour national transport strike halts Athens",
		"Public transport workers stage a 24-hour national strike in Athens over wage cuts.",
		published, datePtr(2024, time.March, 5))
	second := transportRecord("a2",
		"Athens paralysed as transport workers walk out",
		"A nationwide 24-hour strike by transport workers stopped buses and metro in Athens over wage cuts.",
		published.Add(2*time.Hour), datePtr(2024, time.March, 5))

	firstEvent, created, err := clusterer.Assign(ctx, first, keys.Key(first.Attributes))
	if err != nil {
		t.Fatalf("assign a1: %v", err)
	}
	if !created {
		t.Fatalf("first article must seed a new event")
	}

	secondEvent, created, err := clusterer.Assign(ctx, second, keys.Key(second.Attributes))
	if err != nil {
		t.Fatalf("assign a2: %v", err)
	}
	if created || secondEvent != firstEvent {
		t.Fatalf("paraphrase split events: created=%v %s vs %s", created, secondEvent, firstEvent)
	}

	event, err := mem.Get(ctx, firstEvent)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if len(event.MemberIDs) != 2 {
		t.Fatalf("expected 2 members, got %d", len(event.MemberIDs))
	}
}

func TestUnrelatedArticleSeedsSecondEvent(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, keys := newTestClusterer(mem)
	ctx := context.Background()
	published := time.Date(2024, time.March, 5, 7, 0, 0, 0, time.UTC)

	first := transportRecord("a1",
		"24-hour national transport strike halts Athens", "",
		published, datePtr(2024, time.March, 5))
	if _, _, err := clusterer.Assign(ctx, first, keys.Key(first.Attributes)); err != nil {
		t.Fatalf("assign a1: %v", err)
	}

	hospital := domain.ArticleRecord{
		ID:          "b1",
		Title:       "Hospital staff in Thessaloniki begin work stoppage",
		PublishedAt: published.Add(time.Hour),
		Attributes: domain.AttributeBundle{
			Sector:   "health",
			Scope:    domain.ScopeLocal,
			Location: "Thessaloniki",
			Actors:   []string{"Hospital Workers Federation"},
		},
	}
	_, created, err := clusterer.Assign(ctx, hospital, keys.Key(hospital.Attributes))
	if err != nil {
		t.Fatalf("assign b1: %v", err)
	}
	if !created {
		t.Fatalf("unrelated article must create its own event")
	}

	events, err := mem.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestUndatedMemberLeavesSpanUntouched(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, keys := newTestClusterer(mem)
	ctx := context.Background()
	published := time.Date(2024, time.March, 5, 7, 0, 0, 0, time.UTC)

	dated := transportRecord("a1",
		"24-hour national transport strike halts Athens",
		"Public transport workers stage a 24-hour national strike in Athens over wage cuts.",
		published, datePtr(2024, time.March, 5))
	eventID, _, err := clusterer.Assign(ctx, dated, keys.Key(dated.Attributes))
	if err != nil {
		t.Fatalf("assign a1: %v", err)
	}

	undated := transportRecord("a2",
		"Transport union presses on with Athens strike",
		"The transport workers union said the national strike in Athens continues over wage cuts.",
		published.Add(26*time.Hour), nil)
	joinedID, created, err := clusterer.Assign(ctx, undated, keys.Key(undated.Attributes))
	if err != nil {
		t.Fatalf("assign a2: %v", err)
	}
	if created || joinedID != eventID {
		t.Fatalf("undated matching article must join the open event")
	}

	event, err := mem.Get(ctx, eventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	want := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	if event.StartDate == nil || !event.StartDate.Equal(want) {
		t.Fatalf("start date moved: %v", event.StartDate)
	}
	if event.EndDate == nil || !event.EndDate.Equal(want) {
		t.Fatalf("end date moved: %v", event.EndDate)
	}
}

func TestDateSpanWidensMonotonically(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, keys := newTestClusterer(mem)
	ctx := context.Background()
	published := time.Date(2024, time.March, 6, 7, 0, 0, 0, time.UTC)

	first := transportRecord("a1", "National transport strike enters second day",
		"Transport workers extend the national strike in Athens.",
		published, datePtr(2024, time.March, 6))
	eventID, _, err := clusterer.Assign(ctx, first, keys.Key(first.Attributes))
	if err != nil {
		t.Fatalf("assign a1: %v", err)
	}

	// Late report about the first day of the same action: undated key still
	// matches on sector/actor/location, earlier action date widens the span.
	earlier := transportRecord("a2", "How the Athens transport strike began",
		"Transport workers in Athens launched the national strike a day earlier over wage cuts.",
		published.Add(3*time.Hour), datePtr(2024, time.March, 5))
	earlier.Attributes.ActionDate = datePtr(2024, time.March, 5)
	if _, _, err := clusterer.Assign(ctx, earlier, keys.Key(domain.AttributeBundle{
		Sector:   "transport",
		Location: "Athens",
		Actors:   []string{"Transport Workers Union"},
	})); err != nil {
		t.Fatalf("assign a2: %v", err)
	}

	event, err := mem.Get(ctx, eventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.StartDate == nil || !event.StartDate.Equal(time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start date not widened: %v", event.StartDate)
	}
	if event.EndDate == nil || !event.EndDate.Equal(time.Date(2024, time.March, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end date narrowed: %v", event.EndDate)
	}
	if event.DurationDays() != 2 {
		t.Fatalf("expected 2-day span, got %d", event.DurationDays())
	}
}

func TestAssignIsIdempotentPerArticle(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, keys := newTestClusterer(mem)
	ctx := context.Background()
	published := time.Date(2024, time.March, 5, 7, 0, 0, 0, time.UTC)

	record := transportRecord("a1", "National transport strike halts Athens", "",
		published, datePtr(2024, time.March, 5))

	first, _, err := clusterer.Assign(ctx, record, keys.Key(record.Attributes))
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	second, created, err := clusterer.Assign(ctx, record, keys.Key(record.Attributes))
	if err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if created || second != first {
		t.Fatalf("re-ingestion changed assignment: created=%v %s vs %s", created, second, first)
	}

	event, err := mem.Get(ctx, first)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if len(event.MemberIDs) != 1 {
		t.Fatalf("re-ingestion duplicated membership: %v", event.MemberIDs)
	}
}

func TestDormantEventRevivesOnLateMatch(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, keys := newTestClusterer(mem)
	ctx := context.Background()
	published := time.Date(2024, time.March, 5, 7, 0, 0, 0, time.UTC)

	first := transportRecord("a1", "National transport strike halts Athens",
		"Transport workers stage a national strike in Athens over wage cuts.",
		published, datePtr(2024, time.March, 5))
	eventID, _, err := clusterer.Assign(ctx, first, keys.Key(first.Attributes))
	if err != nil {
		t.Fatalf("assign a1: %v", err)
	}

	// 20 idle days: past the 14-day dormancy window, before closure.
	if err := clusterer.SweepLifecycle(ctx, published.Add(20*24*time.Hour)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	event, err := mem.Get(ctx, eventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.State != domain.StateDormant {
		t.Fatalf("expected dormant, got %s", event.State)
	}

	late := transportRecord("a2", "Transport union announces strike continuation in Athens",
		"The transport workers union said the Athens strike resumes.",
		published.Add(21*24*time.Hour), datePtr(2024, time.March, 26))
	joinedID, created, err := clusterer.Assign(ctx, late, keys.Key(domain.AttributeBundle{
		Sector:   "transport",
		Location: "Athens",
		Actors:   []string{"Transport Workers Union"},
	}))
	if err != nil {
		t.Fatalf("assign a2: %v", err)
	}
	if created || joinedID != eventID {
		t.Fatalf("late match must revive the dormant event, created=%v", created)
	}

	event, err = mem.Get(ctx, eventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.State != domain.StateOpen {
		t.Fatalf("expected open after revival, got %s", event.State)
	}
	if event.EndDate == nil || !event.EndDate.Equal(time.Date(2024, time.March, 26, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("span not extended by late member: %v", event.EndDate)
	}
}

func TestSweepClosesLongDormantEvents(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, keys := newTestClusterer(mem)
	ctx := context.Background()
	published := time.Date(2024, time.March, 5, 7, 0, 0, 0, time.UTC)

	record := transportRecord("a1", "National transport strike halts Athens", "",
		published, datePtr(2024, time.March, 5))
	eventID, _, err := clusterer.Assign(ctx, record, keys.Key(record.Attributes))
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := clusterer.SweepLifecycle(ctx, published.Add(20*24*time.Hour)); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if err := clusterer.SweepLifecycle(ctx, published.Add(70*24*time.Hour)); err != nil {
		t.Fatalf("second sweep: %v", err)
	}

	event, err := mem.Get(ctx, eventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.State != domain.StateClosed {
		t.Fatalf("expected closed, got %s", event.State)
	}

	if err := clusterer.Reopen(ctx, eventID); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	event, err = mem.Get(ctx, eventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.State != domain.StateOpen {
		t.Fatalf("expected open after operator reopen, got %s", event.State)
	}
}

func TestPartialConfigKeepsExplicitWindows(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	keys := eventkey.NewBuilder(nil)
	scorer := severity.NewScorer(severity.Weights{})

	c := NewClusterer(mem, keys, scorer, Config{DormantAfter: 3 * 24 * time.Hour}, nil)

	if c.cfg.DormantAfter != 3*24*time.Hour {
		t.Fatalf("explicit dormancy window discarded: %v", c.cfg.DormantAfter)
	}
	defaults := DefaultConfig()
	if c.cfg.AcceptThreshold != defaults.AcceptThreshold ||
		c.cfg.ActivityWindow != defaults.ActivityWindow ||
		c.cfg.CloseAfter != defaults.CloseAfter ||
		c.cfg.MergeGrace != defaults.MergeGrace {
		t.Fatalf("unset fields did not default: %+v", c.cfg)
	}
}
