package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"UnrestWatch/internal/analytics"
	"UnrestWatch/internal/cluster"
	"UnrestWatch/internal/dedup"
	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/eventkey"
	"UnrestWatch/internal/ports"
	"UnrestWatch/internal/store"
)

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Source          ports.RecordSource
	Detector        *dedup.Detector
	Clusterer       *cluster.Clusterer
	Reconciler      *cluster.Reconciler
	Keys            *eventkey.Builder
	Extractor       ports.Extractor
	Locker          ports.ShardLocker
	Aggregator      *analytics.Aggregator
	Notifier        ports.Notifier
	Logger          *slog.Logger
	ConfidenceFloor float64
}

// BatchReport summarizes one ingestion run.
type BatchReport struct {
	Fetched       int
	Duplicates    int
	Joined        int
	Created       int
	LowConfidence int
	Failed        int
}

// Pipeline implements the article-ingestion workflow: fetch, fingerprint,
// deduplicate, assign to events, advance lifecycles, and publish the digest.
type Pipeline struct {
	source          ports.RecordSource
	detector        *dedup.Detector
	clusterer       *cluster.Clusterer
	reconciler      *cluster.Reconciler
	keys            *eventkey.Builder
	extractor       ports.Extractor
	locker          ports.ShardLocker
	aggregator      *analytics.Aggregator
	notifier        ports.Notifier
	logger          *slog.Logger
	confidenceFloor float64
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		source:          deps.Source,
		detector:        deps.Detector,
		clusterer:       deps.Clusterer,
		reconciler:      deps.Reconciler,
		keys:            deps.Keys,
		extractor:       deps.Extractor,
		locker:          deps.Locker,
		aggregator:      deps.Aggregator,
		notifier:        deps.Notifier,
		logger:          deps.Logger,
		confidenceFloor: deps.ConfidenceFloor,
	}
}

// ProcessDay ingests one batch. Records are handled in publication order so
// reruns are deterministic. A failing article is logged and skipped; an
// integrity violation in the store aborts the batch because continuing would
// compound corrupted state.
func (p *Pipeline) ProcessDay(ctx context.Context, day time.Time) (BatchReport, error) {
	var report BatchReport
	if p.source == nil {
		return report, nil
	}

	records, err := p.source.FetchBatch(ctx, day)
	if err != nil {
		return report, fmt.Errorf("fetch batch: %w", err)
	}
	report.Fetched = len(records)

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].PublishedAt.Equal(records[j].PublishedAt) {
			return records[i].PublishedAt.Before(records[j].PublishedAt)
		}
		return records[i].ID < records[j].ID
	})

	for _, record := range records {
		if err := p.processRecord(ctx, record, &report); err != nil {
			if errors.Is(err, store.ErrIntegrity) {
				return report, fmt.Errorf("ingest article %s: %w", record.ID, err)
			}
			report.Failed++
			p.warn("article skipped", "article", record.ID, "err", err)
		}
	}

	if err := p.clusterer.SweepLifecycle(ctx, day); err != nil {
		return report, fmt.Errorf("lifecycle sweep: %w", err)
	}

	p.publishDigest(ctx)

	p.info("batch processed", "fetched", report.Fetched, "duplicates", report.Duplicates,
		"created", report.Created, "joined", report.Joined,
		"low_confidence", report.LowConfidence, "failed", report.Failed)
	return report, nil
}

func (p *Pipeline) processRecord(ctx context.Context, record domain.ArticleRecord, report *BatchReport) error {
	text := record.Body
	if text == "" {
		text = record.Text()
	}
	if record.ContentHash == "" {
		record.ContentHash = dedup.ContentHash(text)
	}
	if record.Fingerprint == 0 {
		record.Fingerprint = dedup.Fingerprint(text)
	}

	if record.Attributes.Empty() && p.extractor != nil {
		bundle, err := p.extractor.Extract(ctx, record)
		if err != nil {
			// Extraction is best effort: the record still enters the
			// pipeline, flagged for review.
			record.LowConfidence = true
			p.warn("attribute extraction failed", "article", record.ID, "err", err)
		} else {
			record.Attributes = bundle
		}
	}
	if record.Attributes.BelowFloor(p.confidenceFloor) {
		record.LowConfidence = true
	}
	if record.LowConfidence {
		report.LowConfidence++
	}

	canonical, isDup, err := p.detector.Check(ctx, record)
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if isDup {
		report.Duplicates++
		p.debug("duplicate folded", "article", record.ID, "canonical", canonical)
		return nil
	}

	key := p.keys.Key(record.Attributes)
	shard := p.keys.Shard(record.Attributes)

	var created bool
	err = p.locker.WithShard(shard, func() error {
		var assignErr error
		_, created, assignErr = p.clusterer.Assign(ctx, record, key)
		return assignErr
	})
	if err != nil {
		return fmt.Errorf("assign: %w", err)
	}

	if created {
		report.Created++
	} else {
		report.Joined++
	}
	return nil
}

// Reconcile runs the periodic merge pass over tracked events.
func (p *Pipeline) Reconcile(ctx context.Context, now time.Time) error {
	if p.reconciler == nil {
		return nil
	}
	if err := p.reconciler.Run(ctx, now); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	return nil
}

func (p *Pipeline) publishDigest(ctx context.Context) {
	if p.notifier == nil || p.aggregator == nil {
		return
	}

	snapshot, err := p.aggregator.Snapshot(ctx, analytics.ByWeek)
	if err != nil {
		p.warn("snapshot failed", "err", err)
		return
	}
	digest := analytics.FormatDigest(snapshot)
	if digest == "" {
		return
	}
	if err := p.notifier.PublishDigest(ctx, digest); err != nil {
		p.warn("digest publish failed", "err", err)
	}
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
