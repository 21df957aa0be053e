package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/ports"
)

// Reconciler is the periodic pass that merges events which late-arriving
// evidence reveals to be the same action. It runs shard by shard under the
// same locks as live assignment, so the two never interleave on a shard.
type Reconciler struct {
	store  ports.EventStore
	locker ports.ShardLocker
	cl     *Clusterer
	logger *slog.Logger
}

// NewReconciler shares the clusterer's scoring and configuration.
func NewReconciler(store ports.EventStore, locker ports.ShardLocker, cl *Clusterer, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, locker: locker, cl: cl, logger: logger}
}

// Run examines pairs of distinct events and merges any whose aggregated
// similarity now clears the acceptance threshold. CLOSED events take part
// only within the merge grace period and only if not already absorbed.
// The pass is idempotent: a second run over the same store merges nothing.
func (r *Reconciler) Run(ctx context.Context, now time.Time) error {
	events, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	shards := map[string][]domain.Event{}
	for _, event := range events {
		if !r.eligible(event, now) {
			continue
		}
		shard := shardOf(event)
		shards[shard] = append(shards[shard], event)
	}

	shardNames := make([]string, 0, len(shards))
	for name := range shards {
		shardNames = append(shardNames, name)
	}
	sort.Strings(shardNames)

	for _, shard := range shardNames {
		group := shards[shard]
		if len(group) < 2 {
			continue
		}
		if err := r.locker.WithShard(shard, func() error {
			return r.reconcileShard(ctx, group)
		}); err != nil {
			return fmt.Errorf("reconcile shard %s: %w", shard, err)
		}
	}
	return nil
}

func (r *Reconciler) eligible(event domain.Event, now time.Time) bool {
	if event.MergedInto != "" {
		return false
	}
	if event.State == domain.StateClosed {
		return now.Sub(event.LastActivity) <= r.cl.cfg.CloseAfter+r.cl.cfg.MergeGrace
	}
	return true
}

func (r *Reconciler) reconcileShard(ctx context.Context, group []domain.Event) error {
	// Stable order so repeated runs visit pairs identically.
	sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

	absorbed := map[string]bool{}
	for i := 0; i < len(group); i++ {
		if absorbed[group[i].ID] {
			continue
		}
		for j := i + 1; j < len(group); j++ {
			if absorbed[group[j].ID] {
				continue
			}
			score := pairScore(group[i], group[j])
			if score < r.cl.cfg.AcceptThreshold {
				continue
			}

			survivor, victim := orderPair(group[i], group[j])
			merged, err := r.merge(ctx, survivor, victim)
			if err != nil {
				return err
			}
			absorbed[victim.ID] = true
			if merged.ID == group[i].ID {
				group[i] = merged
			} else {
				group[j] = merged
			}
			r.debug("events merged", "survivor", merged.ID, "absorbed", victim.ID, "score", score)
			if absorbed[group[i].ID] {
				break
			}
		}
	}
	return nil
}

// orderPair keeps the better-evidenced event: more members, then earlier
// start, then lexical id for determinism.
func orderPair(a, b domain.Event) (survivor, victim domain.Event) {
	switch {
	case len(a.MemberIDs) != len(b.MemberIDs):
		if len(a.MemberIDs) > len(b.MemberIDs) {
			return a, b
		}
		return b, a
	case a.StartDate != nil && b.StartDate != nil && !a.StartDate.Equal(*b.StartDate):
		if a.StartDate.Before(*b.StartDate) {
			return a, b
		}
		return b, a
	case a.ID < b.ID:
		return a, b
	default:
		return b, a
	}
}

// pairScore measures whether two tracked events describe one action: text
// overlap of their representatives plus attribute agreement.
func pairScore(a, b domain.Event) float64 {
	score := jaccard(tokens(a.RepresentativeText), tokens(b.RepresentativeText))
	if a.Sector != "" && a.Sector == b.Sector {
		score += 0.1
	}
	if a.Scope != domain.ScopeUnknown && a.Scope == b.Scope {
		score += 0.1
	}
	shared := 0
	for _, actor := range a.Actors {
		if b.HasActor(actor) {
			shared++
		}
	}
	if shared > 2 {
		shared = 2
	}
	score += 0.15 * float64(shared)
	return score
}

// merge moves the victim's members into the survivor, widens the span,
// unions attribute sets, and closes the victim with a pointer back. The
// victim is saved first so the membership hand-off stays consistent.
func (r *Reconciler) merge(ctx context.Context, survivor, victim domain.Event) (domain.Event, error) {
	movedMembers := victim.MemberIDs

	victim.MemberIDs = nil
	victim.State = domain.StateClosed
	victim.MergedInto = survivor.ID
	if _, err := r.store.Save(ctx, victim); err != nil {
		return domain.Event{}, fmt.Errorf("close absorbed event %s: %w", victim.ID, err)
	}

	for _, member := range movedMembers {
		if !survivor.HasMember(member) {
			survivor.MemberIDs = append(survivor.MemberIDs, member)
		}
	}
	for _, location := range victim.Locations {
		if !survivor.HasLocation(location) {
			survivor.Locations = append(survivor.Locations, location)
		}
	}
	for _, actor := range victim.Actors {
		if !survivor.HasActor(actor) {
			survivor.Actors = append(survivor.Actors, actor)
		}
	}
	if survivor.Scope.Rank() < victim.Scope.Rank() {
		survivor.Scope = victim.Scope
	}
	if victim.StartDate != nil && (survivor.StartDate == nil || victim.StartDate.Before(*survivor.StartDate)) {
		survivor.StartDate = victim.StartDate
	}
	if victim.EndDate != nil && (survivor.EndDate == nil || victim.EndDate.After(*survivor.EndDate)) {
		survivor.EndDate = victim.EndDate
	}
	if victim.LastActivity.After(survivor.LastActivity) {
		survivor.LastActivity = victim.LastActivity
	}
	survivor.Severity, survivor.Confidence = r.cl.scorer.Score(survivor)

	saved, err := r.store.Save(ctx, survivor)
	if err != nil {
		return domain.Event{}, fmt.Errorf("save surviving event %s: %w", survivor.ID, err)
	}
	return saved, nil
}

func shardOf(event domain.Event) string {
	location := ""
	if len(event.Locations) > 0 {
		location = event.Locations[0]
	}
	if event.Sector == "" && location == "" {
		return "-|-"
	}
	shard := event.Sector
	if shard == "" {
		shard = "-"
	}
	if location == "" {
		location = "-"
	}
	return shard + "|" + location
}

func (r *Reconciler) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
