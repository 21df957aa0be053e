package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/ports"
	"UnrestWatch/internal/store"
)

// PostgresStore persists events, memberships, and duplicate groups. The
// event_members primary key enforces the one-event-per-article invariant at
// the database level; optimistic version checks guard concurrent writers.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var (
	_ ports.EventStore  = (*PostgresStore)(nil)
	_ ports.GroupStore  = (*PostgresStore)(nil)
	_ ports.ShardLocker = (*PostgresStore)(nil)
)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL DEFAULT '',
			sector TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT '',
			locations TEXT[] NOT NULL DEFAULT '{}',
			actors TEXT[] NOT NULL DEFAULT '{}',
			member_ids TEXT[] NOT NULL DEFAULT '{}',
			start_date DATE,
			end_date DATE,
			state TEXT NOT NULL,
			severity DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_activity TIMESTAMPTZ NOT NULL,
			merged_into TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL,
			representative_text TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS event_members (
			article_id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id)
		)`,
		`CREATE TABLE IF NOT EXISTS duplicate_groups (
			article_id TEXT PRIMARY KEY,
			canonical_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS article_fingerprints (
			article_id TEXT PRIMARY KEY,
			fingerprint BIGINT NOT NULL,
			published_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_key_idx ON events (key)`,
		`CREATE INDEX IF NOT EXISTS events_sector_activity_idx ON events (sector, last_activity)`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const eventColumns = "id, key, sector, scope, locations, actors, member_ids, " +
	"start_date, end_date, state, severity, confidence, last_activity, " +
	"merged_into, version, representative_text"

// Get returns the event or store.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Event, error) {
	query, args, err := s.builder.
		Select(eventColumns).
		From("events").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Event{}, fmt.Errorf("build get query: %w", err)
	}

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, fmt.Errorf("event %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("get event %s: %w", id, err)
	}
	return event, nil
}

// Save upserts the event and its memberships inside one transaction. A
// version mismatch or a membership claimed by a live foreign event aborts
// with the corresponding store error.
func (s *PostgresStore) Save(ctx context.Context, event domain.Event) (domain.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	saved := event.Clone()
	saved.Version++

	if event.Version == 0 {
		if err := s.insertEvent(ctx, tx, saved); err != nil {
			return domain.Event{}, err
		}
	} else {
		if err := s.updateEvent(ctx, tx, saved, event.Version); err != nil {
			return domain.Event{}, err
		}
	}

	for _, articleID := range saved.MemberIDs {
		if err := s.claimMembership(ctx, tx, articleID, saved.ID); err != nil {
			return domain.Event{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Event{}, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) insertEvent(ctx context.Context, tx *sql.Tx, event domain.Event) error {
	query, args, err := s.builder.
		Insert("events").
		Columns("id", "key", "sector", "scope", "locations", "actors", "member_ids",
			"start_date", "end_date", "state", "severity", "confidence",
			"last_activity", "merged_into", "version", "representative_text").
		Values(event.ID, event.Key, event.Sector, string(event.Scope),
			pq.StringArray(event.Locations), pq.StringArray(event.Actors),
			pq.StringArray(event.MemberIDs), nullDate(event.StartDate), nullDate(event.EndDate),
			string(event.State), event.Severity, event.Confidence,
			event.LastActivity, event.MergedInto, event.Version, event.RepresentativeText).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event %s: %w", event.ID, err)
	}
	return nil
}

func (s *PostgresStore) updateEvent(ctx context.Context, tx *sql.Tx, event domain.Event, expectedVersion int64) error {
	query, args, err := s.builder.
		Update("events").
		Set("key", event.Key).
		Set("sector", event.Sector).
		Set("scope", string(event.Scope)).
		Set("locations", pq.StringArray(event.Locations)).
		Set("actors", pq.StringArray(event.Actors)).
		Set("member_ids", pq.StringArray(event.MemberIDs)).
		Set("start_date", nullDate(event.StartDate)).
		Set("end_date", nullDate(event.EndDate)).
		Set("state", string(event.State)).
		Set("severity", event.Severity).
		Set("confidence", event.Confidence).
		Set("last_activity", event.LastActivity).
		Set("merged_into", event.MergedInto).
		Set("version", event.Version).
		Set("representative_text", event.RepresentativeText).
		Where(sq.Eq{"id": event.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update event %s: %w", event.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("event %s at version %d: %w", event.ID, expectedVersion, store.ErrVersionConflict)
	}
	return nil
}

// claimMembership inserts the membership row, or moves it when the previous
// owner was absorbed by a merge. A live foreign owner is an integrity error.
func (s *PostgresStore) claimMembership(ctx context.Context, tx *sql.Tx, articleID, eventID string) error {
	const insert = `INSERT INTO event_members (article_id, event_id)
		VALUES ($1, $2)
		ON CONFLICT (article_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insert, articleID, eventID); err != nil {
		return fmt.Errorf("claim member %s: %w", articleID, err)
	}

	var owner string
	if err := tx.QueryRowContext(ctx,
		`SELECT event_id FROM event_members WHERE article_id = $1`, articleID).Scan(&owner); err != nil {
		return fmt.Errorf("read member owner %s: %w", articleID, err)
	}
	if owner == eventID {
		return nil
	}

	var mergedInto string
	err := tx.QueryRowContext(ctx,
		`SELECT merged_into FROM events WHERE id = $1`, owner).Scan(&mergedInto)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read owner event %s: %w", owner, err)
	}
	if err == nil && mergedInto == "" {
		return fmt.Errorf("article %s already in event %s: %w", articleID, owner, store.ErrIntegrity)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE event_members SET event_id = $1 WHERE article_id = $2`, eventID, articleID); err != nil {
		return fmt.Errorf("move member %s: %w", articleID, err)
	}
	return nil
}

// Candidates mirrors the in-memory matching: exact or prefix key match, or
// sector+location overlap bounded by the activity cutoff.
func (s *PostgresStore) Candidates(ctx context.Context, q ports.CandidateQuery) ([]domain.Event, error) {
	conditions := sq.Or{}
	if q.Key != "" {
		conditions = append(conditions,
			sq.Eq{"key": q.Key},
			sq.Like{"key": q.Key + "|%"},
			sq.Expr("? LIKE key || '|%'", q.Key),
		)
	}
	if q.Sector != "" {
		overlap := sq.And{sq.Eq{"sector": q.Sector}}
		if q.Location != "" {
			overlap = append(overlap, sq.Expr("? = ANY(locations)", q.Location))
		}
		if !q.ActiveAfter.IsZero() {
			overlap = append(overlap, sq.GtOrEq{"last_activity": q.ActiveAfter})
		}
		conditions = append(conditions, overlap)
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	builder := s.builder.
		Select(eventColumns).
		From("events").
		Where(sq.Eq{"merged_into": ""}).
		Where(conditions)
	if len(q.States) > 0 {
		states := make([]string, 0, len(q.States))
		for _, state := range q.States {
			states = append(states, string(state))
		}
		builder = builder.Where(sq.Eq{"state": states})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidates query: %w", err)
	}
	return s.queryEvents(ctx, query, args...)
}

// List returns all events in the given states (all when empty).
func (s *PostgresStore) List(ctx context.Context, states ...domain.EventState) ([]domain.Event, error) {
	builder := s.builder.Select(eventColumns).From("events")
	if len(states) > 0 {
		values := make([]string, 0, len(states))
		for _, state := range states {
			values = append(values, string(state))
		}
		builder = builder.Where(sq.Eq{"state": values})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	return s.queryEvents(ctx, query, args...)
}

// MemberEvent reports which event an article belongs to, if any.
func (s *PostgresStore) MemberEvent(ctx context.Context, articleID string) (string, bool, error) {
	var eventID string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id FROM event_members WHERE article_id = $1`, articleID).Scan(&eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("member lookup %s: %w", articleID, err)
	}
	return eventID, true, nil
}

// Seed creates a singleton duplicate group for an original article.
func (s *PostgresStore) Seed(ctx context.Context, canonicalID string) error {
	const query = `INSERT INTO duplicate_groups (article_id, canonical_id)
		VALUES ($1, $1)
		ON CONFLICT (article_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, canonicalID); err != nil {
		return fmt.Errorf("seed group %s: %w", canonicalID, err)
	}
	return nil
}

// AddDuplicate attaches the duplicate to the canonical root of the given
// article's group.
func (s *PostgresStore) AddDuplicate(ctx context.Context, canonicalID, duplicateID string) error {
	root, ok, err := s.Resolve(ctx, canonicalID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("canonical article %s has no group: %w", canonicalID, store.ErrNotFound)
	}

	if existing, claimed, err := s.Resolve(ctx, duplicateID); err != nil {
		return err
	} else if claimed {
		if existing == root {
			return nil
		}
		return fmt.Errorf("article %s already duplicates %s: %w", duplicateID, existing, store.ErrIntegrity)
	}

	const query = `INSERT INTO duplicate_groups (article_id, canonical_id) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, duplicateID, root); err != nil {
		return fmt.Errorf("add duplicate %s: %w", duplicateID, err)
	}
	return nil
}

// Resolve maps any article id to its canonical representative.
func (s *PostgresStore) Resolve(ctx context.Context, articleID string) (string, bool, error) {
	var canonical string
	err := s.db.QueryRowContext(ctx,
		`SELECT canonical_id FROM duplicate_groups WHERE article_id = $1`, articleID).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve %s: %w", articleID, err)
	}
	return canonical, true, nil
}

// Groups returns all duplicate groups keyed by canonical article.
func (s *PostgresStore) Groups(ctx context.Context) ([]domain.DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT article_id, canonical_id FROM duplicate_groups ORDER BY canonical_id, article_id`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	byCanonical := map[string]*domain.DuplicateGroup{}
	var order []string
	for rows.Next() {
		var articleID, canonicalID string
		if err := rows.Scan(&articleID, &canonicalID); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		group, ok := byCanonical[canonicalID]
		if !ok {
			group = &domain.DuplicateGroup{CanonicalID: canonicalID}
			byCanonical[canonicalID] = group
			order = append(order, canonicalID)
		}
		group.MemberIDs = append(group.MemberIDs, articleID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	groups := make([]domain.DuplicateGroup, 0, len(order))
	for _, canonicalID := range order {
		groups = append(groups, *byCanonical[canonicalID])
	}
	return groups, nil
}

// SaveFingerprint upserts the article's simhash record.
func (s *PostgresStore) SaveFingerprint(ctx context.Context, fp domain.ArticleFingerprint) error {
	const query = `INSERT INTO article_fingerprints (article_id, fingerprint, published_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (article_id) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint, published_at = EXCLUDED.published_at`
	if _, err := s.db.ExecContext(ctx, query, fp.ArticleID, int64(fp.Fingerprint), fp.PublishedAt); err != nil {
		return fmt.Errorf("save fingerprint %s: %w", fp.ArticleID, err)
	}
	return nil
}

// Fingerprints returns all persisted simhash records.
func (s *PostgresStore) Fingerprints(ctx context.Context) ([]domain.ArticleFingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT article_id, fingerprint, published_at FROM article_fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var prints []domain.ArticleFingerprint
	for rows.Next() {
		var fp domain.ArticleFingerprint
		var raw int64
		if err := rows.Scan(&fp.ArticleID, &raw, &fp.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint row: %w", err)
		}
		fp.Fingerprint = uint64(raw)
		prints = append(prints, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return prints, nil
}

// WithShard serializes shard work through a Postgres advisory lock, giving
// live assignment and reconciliation the same mutual exclusion as the
// in-memory store. Advisory locks are session-scoped, so lock, work, and
// unlock all run on one pinned connection; unlocking through the pool
// could land on a different session and leak the lock.
func (s *PostgresStore) WithShard(shard string, fn func() error) error {
	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("shard lock conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, shard); err != nil {
		return fmt.Errorf("acquire shard lock %s: %w", shard, err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, shard)
	}()
	return fn()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var event domain.Event
	var scope, state string
	var locations, actors, members pq.StringArray
	var start, end sql.NullTime

	err := row.Scan(&event.ID, &event.Key, &event.Sector, &scope,
		&locations, &actors, &members, &start, &end, &state,
		&event.Severity, &event.Confidence, &event.LastActivity,
		&event.MergedInto, &event.Version, &event.RepresentativeText)
	if err != nil {
		return domain.Event{}, err
	}

	event.Scope = domain.Scope(scope)
	event.State = domain.EventState(state)
	event.Locations = locations
	event.Actors = actors
	event.MemberIDs = members
	if start.Valid {
		day := start.Time.UTC()
		event.StartDate = &day
	}
	if end.Valid {
		day := end.Time.UTC()
		event.EndDate = &day
	}
	return event, nil
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func nullDate(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}
