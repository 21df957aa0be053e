package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/ports"
)

// Bucketing selects the time granularity of a snapshot.
type Bucketing string

const (
	ByWeek  Bucketing = "week"
	ByMonth Bucketing = "month"
)

// Aggregator derives read-only analytics from the event store. It counts
// deduplicated events, never raw articles, and skips absorbed events so a
// merged action is reported once. Snapshots are deterministic: the same
// store contents always produce identical rows in identical order.
type Aggregator struct {
	store ports.EventStore
}

// NewAggregator wires the event store.
func NewAggregator(store ports.EventStore) *Aggregator {
	return &Aggregator{store: store}
}

// Snapshot computes counts and the severity-weighted index per time bucket
// plus sector and scope breakdowns.
func (a *Aggregator) Snapshot(ctx context.Context, bucketing Bucketing) (domain.AnalyticsSnapshot, error) {
	events, err := a.store.List(ctx)
	if err != nil {
		return domain.AnalyticsSnapshot{}, fmt.Errorf("list events: %w", err)
	}

	buckets := map[string]*domain.BucketRow{}
	sectors := map[string]int{}
	scopes := map[string]int{}

	for _, event := range events {
		if event.MergedInto != "" {
			continue
		}

		bucket := bucketLabel(eventAnchor(event), bucketing)
		row, ok := buckets[bucket]
		if !ok {
			row = &domain.BucketRow{Bucket: bucket}
			buckets[bucket] = row
		}
		row.Events++
		row.SeverityIndex += event.Severity

		sector := event.Sector
		if sector == "" {
			sector = "unknown"
		}
		sectors[sector]++

		scope := string(event.Scope)
		if scope == "" {
			scope = "unknown"
		}
		scopes[scope]++
	}

	snapshot := domain.AnalyticsSnapshot{Bucketing: string(bucketing)}
	for _, row := range buckets {
		snapshot.Rows = append(snapshot.Rows, *row)
	}
	sort.Slice(snapshot.Rows, func(i, j int) bool {
		return snapshot.Rows[i].Bucket < snapshot.Rows[j].Bucket
	})
	snapshot.BySector = sortedBreakdown(sectors)
	snapshot.ByScope = sortedBreakdown(scopes)
	return snapshot, nil
}

// eventAnchor picks the date a dateless event is bucketed under: the action
// start when known, otherwise the last coverage activity.
func eventAnchor(event domain.Event) time.Time {
	if event.StartDate != nil {
		return *event.StartDate
	}
	return event.LastActivity
}

func bucketLabel(at time.Time, bucketing Bucketing) string {
	at = at.UTC()
	if bucketing == ByMonth {
		return at.Format("2006-01")
	}
	year, week := at.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func sortedBreakdown(counts map[string]int) []domain.BreakdownRow {
	rows := make([]domain.BreakdownRow, 0, len(counts))
	for label, count := range counts {
		rows = append(rows, domain.BreakdownRow{Label: label, Events: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Events != rows[j].Events {
			return rows[i].Events > rows[j].Events
		}
		return rows[i].Label < rows[j].Label
	})
	return rows
}

// FormatDigest renders a snapshot as the text pushed to notifiers.
func FormatDigest(snapshot domain.AnalyticsSnapshot) string {
	if len(snapshot.Rows) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Labour unrest (%s buckets)\n", snapshot.Bucketing)
	for _, row := range snapshot.Rows {
		fmt.Fprintf(&b, "%s: %d events, severity index %.1f\n", row.Bucket, row.Events, row.SeverityIndex)
	}
	if len(snapshot.BySector) > 0 {
		b.WriteString("Top sectors:")
		for i, row := range snapshot.BySector {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, " %s (%d)", row.Label, row.Events)
		}
		b.WriteString("\n")
	}
	return b.String()
}
