package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/ports"
)

const (
	bandCount = 4
	bandBits  = 16
)

type indexEntry struct {
	articleID   string
	fingerprint uint64
	publishedAt time.Time
}

// Detector identifies copy/syndicated text across sources. Fingerprints are
// bucketed into LSH bands so candidate lookup stays sub-linear; a pair is a
// duplicate when its Hamming distance is under the threshold and both
// articles were published within the time window.
type Detector struct {
	groups    ports.GroupStore
	threshold int
	window    time.Duration
	logger    *slog.Logger

	indexed map[string]struct{}
	bands   [bandCount]map[uint16][]indexEntry
}

// NewDetector wires the duplicate-group store with tuning parameters.
// Callers recovering persisted state should Rebuild before the first Check.
func NewDetector(groups ports.GroupStore, threshold int, window time.Duration, logger *slog.Logger) *Detector {
	d := &Detector{
		groups:    groups,
		threshold: threshold,
		window:    window,
		logger:    logger,
		indexed:   map[string]struct{}{},
	}
	for i := range d.bands {
		d.bands[i] = map[uint16][]indexEntry{}
	}
	return d
}

// Rebuild repopulates the band index from persisted fingerprints so copies
// of pre-restart articles are still caught.
func (d *Detector) Rebuild(ctx context.Context) error {
	prints, err := d.groups.Fingerprints(ctx)
	if err != nil {
		return fmt.Errorf("load fingerprints: %w", err)
	}

	for _, fp := range prints {
		if fp.Fingerprint == 0 {
			continue
		}
		d.index(indexEntry{
			articleID:   fp.ArticleID,
			fingerprint: fp.Fingerprint,
			publishedAt: fp.PublishedAt,
		})
	}
	d.debug("band index rebuilt", "fingerprints", len(prints))
	return nil
}

// Check decides whether the record duplicates an already-seen article.
// It returns the canonical article id on a match. Either way the record is
// registered: duplicates join the canonical group, originals seed their own
// singleton group and enter the index. Unfingerprintable text is treated as
// original so the pipeline never blocks on this step.
func (d *Detector) Check(ctx context.Context, record domain.ArticleRecord) (string, bool, error) {
	if record.Fingerprint == 0 {
		d.debug("skip duplicate detection", "article", record.ID, "reason", "empty fingerprint")
		if err := d.groups.Seed(ctx, record.ID); err != nil {
			return "", false, fmt.Errorf("seed group %s: %w", record.ID, err)
		}
		return "", false, nil
	}

	if canonical, ok, err := d.groups.Resolve(ctx, record.ID); err != nil {
		return "", false, fmt.Errorf("resolve %s: %w", record.ID, err)
	} else if ok {
		// Re-ingestion: keep the existing verdict, but make sure the
		// record is indexed so a batch replay restores the index.
		if err := d.add(ctx, record); err != nil {
			return "", false, err
		}
		return canonical, canonical != record.ID, nil
	}

	best, found := d.nearest(record)
	if !found {
		if err := d.groups.Seed(ctx, record.ID); err != nil {
			return "", false, fmt.Errorf("seed group %s: %w", record.ID, err)
		}
		if err := d.add(ctx, record); err != nil {
			return "", false, err
		}
		return "", false, nil
	}

	canonical, ok, err := d.groups.Resolve(ctx, best.articleID)
	if err != nil {
		return "", false, fmt.Errorf("resolve canonical of %s: %w", best.articleID, err)
	}
	if !ok {
		canonical = best.articleID
		if err := d.groups.Seed(ctx, canonical); err != nil {
			return "", false, fmt.Errorf("seed group %s: %w", canonical, err)
		}
	}

	if err := d.groups.AddDuplicate(ctx, canonical, record.ID); err != nil {
		return "", false, fmt.Errorf("add duplicate %s: %w", record.ID, err)
	}
	if err := d.add(ctx, record); err != nil {
		return "", false, err
	}
	d.debug("duplicate detected", "article", record.ID, "canonical", canonical,
		"distance", HammingDistance(record.Fingerprint, best.fingerprint))
	return canonical, true, nil
}

func (d *Detector) nearest(record domain.ArticleRecord) (indexEntry, bool) {
	seen := map[string]struct{}{}
	var best indexEntry
	bestDistance := d.threshold + 1

	for band := 0; band < bandCount; band++ {
		key := bandKey(record.Fingerprint, band)
		for _, entry := range d.bands[band][key] {
			if _, dup := seen[entry.articleID]; dup {
				continue
			}
			seen[entry.articleID] = struct{}{}

			if !withinWindow(entry.publishedAt, record.PublishedAt, d.window) {
				continue
			}
			distance := HammingDistance(entry.fingerprint, record.Fingerprint)
			if distance < bestDistance {
				bestDistance = distance
				best = entry
			}
		}
	}

	return best, bestDistance <= d.threshold
}

// add persists the fingerprint and enters it into the band index. Already
// indexed articles are a no-op, which keeps batch replays idempotent.
func (d *Detector) add(ctx context.Context, record domain.ArticleRecord) error {
	if _, ok := d.indexed[record.ID]; ok {
		return nil
	}

	if err := d.groups.SaveFingerprint(ctx, domain.ArticleFingerprint{
		ArticleID:   record.ID,
		Fingerprint: record.Fingerprint,
		PublishedAt: record.PublishedAt,
	}); err != nil {
		return fmt.Errorf("persist fingerprint %s: %w", record.ID, err)
	}

	d.index(indexEntry{
		articleID:   record.ID,
		fingerprint: record.Fingerprint,
		publishedAt: record.PublishedAt,
	})
	return nil
}

func (d *Detector) index(entry indexEntry) {
	if _, ok := d.indexed[entry.articleID]; ok {
		return
	}
	d.indexed[entry.articleID] = struct{}{}
	for band := 0; band < bandCount; band++ {
		key := bandKey(entry.fingerprint, band)
		d.bands[band][key] = append(d.bands[band][key], entry)
	}
}

func bandKey(fingerprint uint64, band int) uint16 {
	return uint16(fingerprint >> (uint(band) * bandBits))
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

func (d *Detector) debug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
