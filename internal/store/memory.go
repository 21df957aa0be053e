package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/ports"
)

var (
	// ErrNotFound signals a lookup for an unknown event id.
	ErrNotFound = errors.New("event not found")
	// ErrVersionConflict signals a lost optimistic-concurrency race.
	ErrVersionConflict = errors.New("event version conflict")
	// ErrIntegrity signals a data-integrity violation; the offending
	// transaction must abort rather than repair the state.
	ErrIntegrity = errors.New("store integrity violation")
)

// Memory is the explicit, versioned event and duplicate-group store. All
// reads return deep copies; all writes run under the store lock and reject
// stale versions and double memberships.
type Memory struct {
	mu          sync.RWMutex
	events       map[string]domain.Event
	memberEvent  map[string]string
	groups       map[string]*domain.DuplicateGroup
	canonical    map[string]string
	fingerprints map[string]domain.ArticleFingerprint

	shardMu sync.Mutex
	shards  map[string]*sync.Mutex
}

var (
	_ ports.EventStore  = (*Memory)(nil)
	_ ports.GroupStore  = (*Memory)(nil)
	_ ports.ShardLocker = (*Memory)(nil)
)

// NewMemory builds an empty store.
func NewMemory() *Memory {
	return &Memory{
		events:       map[string]domain.Event{},
		memberEvent:  map[string]string{},
		groups:       map[string]*domain.DuplicateGroup{},
		canonical:    map[string]string{},
		fingerprints: map[string]domain.ArticleFingerprint{},
		shards:       map[string]*sync.Mutex{},
	}
}

// Get returns a copy of the event or ErrNotFound.
func (m *Memory) Get(_ context.Context, id string) (domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	event, ok := m.events[id]
	if !ok {
		return domain.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return event.Clone(), nil
}

// Save writes the event back. The incoming Version must match the stored
// one (zero for a brand-new event); the returned copy carries the bumped
// version. Membership moves are validated against the one-event invariant.
func (m *Memory) Save(_ context.Context, event domain.Event) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.events[event.ID]
	if exists && current.Version != event.Version {
		return domain.Event{}, fmt.Errorf("event %s version %d != %d: %w",
			event.ID, event.Version, current.Version, ErrVersionConflict)
	}
	if !exists && event.Version != 0 {
		return domain.Event{}, fmt.Errorf("new event %s with version %d: %w",
			event.ID, event.Version, ErrVersionConflict)
	}

	if event.StartDate != nil && event.EndDate != nil && event.EndDate.Before(*event.StartDate) {
		return domain.Event{}, fmt.Errorf("event %s start after end: %w", event.ID, ErrIntegrity)
	}

	for _, articleID := range event.MemberIDs {
		owner, claimed := m.memberEvent[articleID]
		if claimed && owner != event.ID {
			if other, ok := m.events[owner]; ok && other.MergedInto == "" && other.HasMember(articleID) {
				return domain.Event{}, fmt.Errorf("article %s already in event %s: %w",
					articleID, owner, ErrIntegrity)
			}
		}
	}

	stored := event.Clone()
	stored.Version++
	m.events[stored.ID] = stored
	for _, articleID := range stored.MemberIDs {
		m.memberEvent[articleID] = stored.ID
	}

	return stored.Clone(), nil
}

// Candidates returns events matching the query: exact key match, or same
// sector covering the queried location with activity after the cutoff.
func (m *Memory) Candidates(_ context.Context, q ports.CandidateQuery) ([]domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := map[domain.EventState]bool{}
	for _, s := range q.States {
		states[s] = true
	}

	var out []domain.Event
	for _, event := range m.events {
		if event.MergedInto != "" {
			continue
		}
		if len(states) > 0 && !states[event.State] {
			continue
		}
		if matchesCandidate(event, q) {
			out = append(out, event.Clone())
		}
	}
	return out, nil
}

func matchesCandidate(event domain.Event, q ports.CandidateQuery) bool {
	if q.Key != "" && keysMatch(event.Key, q.Key) {
		return true
	}
	if q.Sector == "" || event.Sector != q.Sector {
		return false
	}
	if q.Location != "" && !event.HasLocation(q.Location) {
		return false
	}
	if !q.ActiveAfter.IsZero() && event.LastActivity.Before(q.ActiveAfter) {
		return false
	}
	return true
}

// keysMatch compares grouping keys. A key without a date-bucket component
// widens recall: it matches any key sharing its sector|actor|location
// prefix, in either direction.
func keysMatch(eventKey, queryKey string) bool {
	if eventKey == queryKey {
		return true
	}
	if strings.HasPrefix(eventKey, queryKey+"|") {
		return true
	}
	return strings.HasPrefix(queryKey, eventKey+"|")
}

// List returns copies of all events in the given states (all when empty).
func (m *Memory) List(_ context.Context, states ...domain.EventState) ([]domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := map[domain.EventState]bool{}
	for _, s := range states {
		wanted[s] = true
	}

	var out []domain.Event
	for _, event := range m.events {
		if len(wanted) > 0 && !wanted[event.State] {
			continue
		}
		out = append(out, event.Clone())
	}
	return out, nil
}

// MemberEvent reports which event an article belongs to, if any.
func (m *Memory) MemberEvent(_ context.Context, articleID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.memberEvent[articleID]
	return id, ok, nil
}

// Seed creates a singleton duplicate group for an original article. Seeding
// the same article twice is a no-op.
func (m *Memory) Seed(_ context.Context, canonicalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.canonical[canonicalID]; ok {
		return nil
	}
	m.groups[canonicalID] = &domain.DuplicateGroup{
		CanonicalID: canonicalID,
		MemberIDs:   []string{canonicalID},
	}
	m.canonical[canonicalID] = canonicalID
	return nil
}

// AddDuplicate appends the duplicate to the canonical article's group,
// following merge chains to the root so resolution stays transitive.
func (m *Memory) AddDuplicate(_ context.Context, canonicalID, duplicateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok := m.canonical[canonicalID]
	if !ok {
		return fmt.Errorf("canonical article %s has no group: %w", canonicalID, ErrNotFound)
	}

	if existing, claimed := m.canonical[duplicateID]; claimed {
		if existing == root {
			return nil
		}
		return fmt.Errorf("article %s already duplicates %s: %w", duplicateID, existing, ErrIntegrity)
	}

	group := m.groups[root]
	group.MemberIDs = append(group.MemberIDs, duplicateID)
	m.canonical[duplicateID] = root
	return nil
}

// Resolve maps any article id to its canonical representative.
func (m *Memory) Resolve(_ context.Context, articleID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	root, ok := m.canonical[articleID]
	return root, ok, nil
}

// Groups returns copies of all duplicate groups.
func (m *Memory) Groups(_ context.Context) ([]domain.DuplicateGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.DuplicateGroup, 0, len(m.groups))
	for _, group := range m.groups {
		out = append(out, domain.DuplicateGroup{
			CanonicalID: group.CanonicalID,
			MemberIDs:   append([]string(nil), group.MemberIDs...),
		})
	}
	return out, nil
}

// SaveFingerprint upserts the article's simhash record.
func (m *Memory) SaveFingerprint(_ context.Context, fp domain.ArticleFingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fingerprints[fp.ArticleID] = fp
	return nil
}

// Fingerprints returns all persisted simhash records.
func (m *Memory) Fingerprints(_ context.Context) ([]domain.ArticleFingerprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ArticleFingerprint, 0, len(m.fingerprints))
	for _, fp := range m.fingerprints {
		out = append(out, fp)
	}
	return out, nil
}

// WithShard runs fn while holding the named shard's lock. Live assignment
// and the reconciliation pass share these locks for mutual exclusion.
func (m *Memory) WithShard(shard string, fn func() error) error {
	m.shardMu.Lock()
	lock, ok := m.shards[shard]
	if !ok {
		lock = &sync.Mutex{}
		m.shards[shard] = lock
	}
	m.shardMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}
