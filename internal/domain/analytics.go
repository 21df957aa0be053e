package domain

// BucketRow is one time bucket in an analytics snapshot.
type BucketRow struct {
	Bucket        string
	Events        int
	SeverityIndex float64
}

// BreakdownRow is one sector or scope slice of an analytics snapshot.
type BreakdownRow struct {
	Label  string
	Events int
}

// AnalyticsSnapshot is the exportable, deduplicated view over the event
// store. Recomputing it from the same store contents yields identical rows.
type AnalyticsSnapshot struct {
	Bucketing string
	Rows      []BucketRow
	BySector  []BreakdownRow
	ByScope   []BreakdownRow
}
