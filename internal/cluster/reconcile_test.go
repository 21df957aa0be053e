package cluster

import (
	"context"
	"testing"
	"time"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/store"
)

// seedSplitEvents ingests two reports of the same action that assignment
// cannot link: the second uses a different actor spelling (different key)
// and arrives after the activity window, so it seeds its own event.
func seedSplitEvents(t *testing.T, clusterer *Clusterer, mem *store.Memory) (string, string) {
	t.Helper()
	ctx := context.Background()
	keys := clusterer.keys
	published := time.Date(2024, time.March, 5, 7, 0, 0, 0, time.UTC)

	first := transportRecord("a1",
		"24-hour national transport strike halts Athens",
		"Transport workers stage a 24-hour national strike in Athens over wage cuts and stalled negotiations.",
		published, datePtr(2024, time.March, 5))
	second := transportRecord("a2",
		"National strike by transport workers paralyses Athens",
		"A 24-hour national strike by transport workers in Athens protests wage cuts and stalled negotiations.",
		published.Add(20*24*time.Hour), datePtr(2024, time.March, 5))
	second.Attributes.Actors = []string{"OSY Workers"}

	firstID, created, err := clusterer.Assign(ctx, first, keys.Key(first.Attributes))
	if err != nil || !created {
		t.Fatalf("assign a1: created=%v err=%v", created, err)
	}
	secondID, created, err := clusterer.Assign(ctx, second, keys.Key(second.Attributes))
	if err != nil {
		t.Fatalf("assign a2: %v", err)
	}
	if !created {
		t.Fatalf("late differently-keyed report must seed its own event")
	}
	return firstID, secondID
}

func TestReconcilerMergesLateLinkedEvents(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, _ := newTestClusterer(mem)
	reconciler := NewReconciler(mem, mem, clusterer, nil)
	ctx := context.Background()

	firstID, secondID := seedSplitEvents(t, clusterer, mem)

	if err := reconciler.Run(ctx, time.Date(2024, time.March, 26, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	first, err := mem.Get(ctx, firstID)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	second, err := mem.Get(ctx, secondID)
	if err != nil {
		t.Fatalf("get second: %v", err)
	}

	survivor, victim := first, second
	if survivor.MergedInto != "" {
		survivor, victim = second, first
	}
	if victim.MergedInto != survivor.ID || victim.State != domain.StateClosed {
		t.Fatalf("absorbed event not closed with pointer: state=%s mergedInto=%q", victim.State, victim.MergedInto)
	}
	if len(victim.MemberIDs) != 0 {
		t.Fatalf("absorbed event kept members: %v", victim.MemberIDs)
	}
	if len(survivor.MemberIDs) != 2 {
		t.Fatalf("survivor should hold both members, got %v", survivor.MemberIDs)
	}
	if survivor.Confidence <= first.Confidence/2 {
		t.Fatalf("merged severity/confidence not recomputed")
	}

	for _, articleID := range []string{"a1", "a2"} {
		owner, ok, err := mem.MemberEvent(ctx, articleID)
		if err != nil || !ok || owner != survivor.ID {
			t.Fatalf("article %s not owned by survivor: owner=%s ok=%v err=%v", articleID, owner, ok, err)
		}
	}
}

func TestReconcilerIsIdempotent(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, _ := newTestClusterer(mem)
	reconciler := NewReconciler(mem, mem, clusterer, nil)
	ctx := context.Background()

	seedSplitEvents(t, clusterer, mem)

	now := time.Date(2024, time.March, 26, 0, 0, 0, 0, time.UTC)
	if err := reconciler.Run(ctx, now); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, err := mem.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := reconciler.Run(ctx, now.Add(time.Hour)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	after, err := mem.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	versions := func(events []domain.Event) map[string]int64 {
		out := map[string]int64{}
		for _, e := range events {
			out[e.ID] = e.Version
		}
		return out
	}
	beforeVersions, afterVersions := versions(before), versions(after)
	if len(beforeVersions) != len(afterVersions) {
		t.Fatalf("second run changed event count")
	}
	for id, version := range beforeVersions {
		if afterVersions[id] != version {
			t.Fatalf("second run rewrote event %s: %d -> %d", id, version, afterVersions[id])
		}
	}
}

func TestMergedEventCannotReopen(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	clusterer, _ := newTestClusterer(mem)
	ctx := context.Background()

	absorbed := domain.Event{
		ID:         "victim",
		State:      domain.StateClosed,
		MergedInto: "survivor",
	}
	if _, err := mem.Save(ctx, absorbed); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := clusterer.Reopen(ctx, "victim"); err == nil {
		t.Fatalf("reopening an absorbed event must fail")
	}
}
