package ports

import (
	"context"
	"time"

	"UnrestWatch/internal/domain"
)

// RecordSource pulls fresh attributed article records from upstream feeds.
type RecordSource interface {
	FetchBatch(ctx context.Context, day time.Time) ([]domain.ArticleRecord, error)
}

// CandidateQuery narrows the event search space for the clusterer. An event
// matches when its key equals Key exactly, or when its sector matches and it
// covers Location and was active after ActiveAfter.
type CandidateQuery struct {
	Key         string
	Sector      string
	Location    string
	ActiveAfter time.Time
	States      []domain.EventState
}

// EventStore is the versioned store of tracked events. Save enforces
// optimistic concurrency on Event.Version and the one-event-per-article
// invariant; violations abort with a store error, never a silent fix.
type EventStore interface {
	Get(ctx context.Context, id string) (domain.Event, error)
	Save(ctx context.Context, event domain.Event) (domain.Event, error)
	Candidates(ctx context.Context, q CandidateQuery) ([]domain.Event, error)
	List(ctx context.Context, states ...domain.EventState) ([]domain.Event, error)
	MemberEvent(ctx context.Context, articleID string) (string, bool, error)
}

// GroupStore tracks duplicate groups and the fingerprints backing the
// candidate index. Resolve follows merge chains so the returned id is
// always the canonical root.
type GroupStore interface {
	Seed(ctx context.Context, canonicalID string) error
	AddDuplicate(ctx context.Context, canonicalID, duplicateID string) error
	Resolve(ctx context.Context, articleID string) (string, bool, error)
	Groups(ctx context.Context) ([]domain.DuplicateGroup, error)
	SaveFingerprint(ctx context.Context, fp domain.ArticleFingerprint) error
	Fingerprints(ctx context.Context) ([]domain.ArticleFingerprint, error)
}

// ShardLocker serializes assignment per sector+location shard so concurrent
// ingestion cannot race to create twin events for the same action.
type ShardLocker interface {
	WithShard(shard string, fn func() error) error
}

// Extractor recovers an attribute bundle for records that arrived without
// one. Failures degrade to low-confidence ingestion, never a blocked batch.
type Extractor interface {
	Extract(ctx context.Context, record domain.ArticleRecord) (domain.AttributeBundle, error)
}

// Notifier streams analytics digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
