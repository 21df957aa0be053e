package usecase

import (
	"context"
	"time"

	"UnrestWatch/internal/ports"
)

// Scheduler drives the recurring ingestion and reconciliation jobs.
type Scheduler struct {
	ingest    ports.Scheduler
	reconcile ports.Scheduler
	pipeline  *Pipeline
}

// NewScheduler returns a helper to start/stop recurring jobs. Either driver
// may be nil to disable that job.
func NewScheduler(ingest, reconcile ports.Scheduler, pipeline *Pipeline) *Scheduler {
	return &Scheduler{ingest: ingest, reconcile: reconcile, pipeline: pipeline}
}

// Start registers the pipeline jobs with their drivers.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.pipeline == nil {
		return nil
	}

	if s.ingest != nil {
		job := func(trigger time.Time) {
			_, _ = s.pipeline.ProcessDay(ctx, trigger)
		}
		if err := s.ingest.Start(ctx, job); err != nil {
			return err
		}
	}

	if s.reconcile != nil {
		job := func(trigger time.Time) {
			_ = s.pipeline.Reconcile(ctx, trigger)
		}
		if err := s.reconcile.Start(ctx, job); err != nil {
			return err
		}
	}

	return nil
}

// Stop gracefully tears down the underlying drivers.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.ingest != nil {
		if err := s.ingest.Stop(ctx); err != nil {
			return err
		}
	}
	if s.reconcile != nil {
		return s.reconcile.Stop(ctx)
	}
	return nil
}
