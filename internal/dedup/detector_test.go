package dedup

import (
	"context"
	"testing"
	"time"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/store"
)

const strikeText = `Workers of the national transport union walked off the job
on Tuesday morning, halting buses, trolleys and the metro across Athens for 24
hours. The union said the stoppage protests stalled wage negotiations and
demands the reinstatement of collective bargaining agreements.`

func record(id, text string, published time.Time) domain.ArticleRecord {
	return domain.ArticleRecord{
		ID:          id,
		Title:       "Transport strike halts Athens",
		Body:        text,
		ContentHash: ContentHash(text),
		Fingerprint: Fingerprint(text),
		PublishedAt: published,
	}
}

func TestFingerprintStability(t *testing.T) {
	t.Parallel()

	a := Fingerprint(strikeText)
	b := Fingerprint(strikeText)
	if a != b {
		t.Fatalf("fingerprint not deterministic: %x != %x", a, b)
	}
	if a == 0 {
		t.Fatalf("expected non-zero fingerprint")
	}
	if Fingerprint("   ") != 0 {
		t.Fatalf("expected zero fingerprint for blank text")
	}
}

func TestFingerprintNearDuplicate(t *testing.T) {
	t.Parallel()

	// Syndicated copy with an extra attribution line.
	copyText := strikeText + " Reporting by the national news desk."
	distance := HammingDistance(Fingerprint(strikeText), Fingerprint(copyText))
	if distance > 10 {
		t.Fatalf("near-identical texts too far apart: %d bits", distance)
	}

	other := `The city council approved the new stadium budget after a long
debate over transport links and parking capacity around the venue.`
	distance = HammingDistance(Fingerprint(strikeText), Fingerprint(other))
	if distance <= 10 {
		t.Fatalf("unrelated texts too close: %d bits", distance)
	}
}

func TestNormalizeStripsBoilerplate(t *testing.T) {
	t.Parallel()

	html := `<html><head><style>.x{}</style></head><body>
	<nav>Home | News</nav><p>Dock workers begin 48-hour stoppage.</p>
	<script>track();</script></body></html>`

	got := Normalize(html)
	want := "dock workers begin 48 hour stoppage"
	if got != want {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestDetectorMarksSyndicatedCopy(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	detector := NewDetector(mem, 10, 72*time.Hour, nil)
	ctx := context.Background()
	day := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)

	canonical, dup, err := detector.Check(ctx, record("a1", strikeText, day))
	if err != nil {
		t.Fatalf("check a1: %v", err)
	}
	if dup || canonical != "" {
		t.Fatalf("first article flagged duplicate of %q", canonical)
	}

	copyText := strikeText + " Reporting by the national news desk."
	canonical, dup, err = detector.Check(ctx, record("a2", copyText, day.Add(3*time.Hour)))
	if err != nil {
		t.Fatalf("check a2: %v", err)
	}
	if !dup || canonical != "a1" {
		t.Fatalf("expected duplicate of a1, got dup=%v canonical=%q", dup, canonical)
	}

	groups, err := mem.Groups(ctx)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) != 1 || groups[0].Size() != 2 {
		t.Fatalf("expected one group of two, got %+v", groups)
	}
}

func TestDetectorTransitiveResolution(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	detector := NewDetector(mem, 10, 72*time.Hour, nil)
	ctx := context.Background()
	day := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)

	texts := []string{
		strikeText,
		strikeText + " Reporting by the national news desk.",
		strikeText + " Photo: metro depot, Tuesday.",
	}
	ids := []string{"a1", "a2", "a3"}
	for i, text := range texts {
		if _, _, err := detector.Check(ctx, record(ids[i], text, day.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("check %s: %v", ids[i], err)
		}
	}

	for _, id := range ids {
		canonical, ok, err := mem.Resolve(ctx, id)
		if err != nil || !ok {
			t.Fatalf("resolve %s: ok=%v err=%v", id, ok, err)
		}
		if canonical != "a1" {
			t.Fatalf("article %s resolves to %s, want a1", id, canonical)
		}
	}
}

func TestDetectorTimeWindowGuard(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	detector := NewDetector(mem, 10, 72*time.Hour, nil)
	ctx := context.Background()
	day := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)

	if _, _, err := detector.Check(ctx, record("a1", strikeText, day)); err != nil {
		t.Fatalf("check a1: %v", err)
	}

	// Same wire copy republished months later belongs to a different action.
	_, dup, err := detector.Check(ctx, record("a2", strikeText, day.AddDate(0, 3, 0)))
	if err != nil {
		t.Fatalf("check a2: %v", err)
	}
	if dup {
		t.Fatalf("distant-in-time copy must not be marked duplicate")
	}
}

func TestDetectorEmptyTextPassesThrough(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	detector := NewDetector(mem, 10, 72*time.Hour, nil)
	ctx := context.Background()

	rec := domain.ArticleRecord{ID: "empty", PublishedAt: time.Now()}
	canonical, dup, err := detector.Check(ctx, rec)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dup || canonical != "" {
		t.Fatalf("empty article must pass through as original")
	}
}

func TestDetectorIdempotentReingestion(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	detector := NewDetector(mem, 10, 72*time.Hour, nil)
	ctx := context.Background()
	day := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)

	first := record("a1", strikeText, day)
	if _, _, err := detector.Check(ctx, first); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if _, dup, err := detector.Check(ctx, first); err != nil || dup {
		t.Fatalf("re-ingested original flagged duplicate: dup=%v err=%v", dup, err)
	}

	groups, err := mem.Groups(ctx)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) != 1 || groups[0].Size() != 1 {
		t.Fatalf("re-ingestion changed groups: %+v", groups)
	}
}

func TestDetectorRebuildCatchesCopiesAfterRestart(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	ctx := context.Background()
	day := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)

	before := NewDetector(mem, 10, 72*time.Hour, nil)
	if _, _, err := before.Check(ctx, record("a1", strikeText, day)); err != nil {
		t.Fatalf("check a1: %v", err)
	}

	// New process over the same store: the band index starts empty and is
	// recovered from persisted fingerprints.
	after := NewDetector(mem, 10, 72*time.Hour, nil)
	if err := after.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	copyText := strikeText + " Reporting by the national news desk."
	canonical, dup, err := after.Check(ctx, record("a2", copyText, day.Add(6*time.Hour)))
	if err != nil {
		t.Fatalf("check a2: %v", err)
	}
	if !dup || canonical != "a1" {
		t.Fatalf("copy after restart not folded: dup=%v canonical=%q", dup, canonical)
	}
}

func TestDetectorBatchReplayRepopulatesIndex(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	ctx := context.Background()
	day := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)

	before := NewDetector(mem, 10, 72*time.Hour, nil)
	if _, _, err := before.Check(ctx, record("a1", strikeText, day)); err != nil {
		t.Fatalf("check a1: %v", err)
	}

	// Replaying the batch through a fresh detector re-indexes the original
	// even without an explicit rebuild.
	after := NewDetector(mem, 10, 72*time.Hour, nil)
	if _, dup, err := after.Check(ctx, record("a1", strikeText, day)); err != nil || dup {
		t.Fatalf("replayed original: dup=%v err=%v", dup, err)
	}

	copyText := strikeText + " Reporting by the national news desk."
	canonical, dup, err := after.Check(ctx, record("a2", copyText, day.Add(6*time.Hour)))
	if err != nil {
		t.Fatalf("check a2: %v", err)
	}
	if !dup || canonical != "a1" {
		t.Fatalf("copy after replay not folded: dup=%v canonical=%q", dup, canonical)
	}
}
