package domain

import "time"

// EventState tracks the lifecycle of a tracked labour action.
type EventState string

const (
	StateOpen    EventState = "open"
	StateDormant EventState = "dormant"
	StateClosed  EventState = "closed"
)

// Event is a canonical real-world labour action aggregated from its member
// articles. StartDate/EndDate are nil while no dated member has arrived,
// leaving that side of the span unbounded.
type Event struct {
	ID                 string
	Key                string
	MemberIDs          []string
	Sector             string
	Scope              Scope
	Locations          []string
	Actors             []string
	StartDate          *time.Time
	EndDate            *time.Time
	State              EventState
	Severity           float64
	Confidence         float64
	LastActivity       time.Time
	MergedInto         string
	Version            int64
	RepresentativeText string
}

// HasMember reports whether the article already belongs to this event.
func (e Event) HasMember(articleID string) bool {
	for _, id := range e.MemberIDs {
		if id == articleID {
			return true
		}
	}
	return false
}

// HasActor reports whether the actor is already aggregated into the event.
func (e Event) HasActor(actor string) bool {
	for _, a := range e.Actors {
		if a == actor {
			return true
		}
	}
	return false
}

// HasLocation reports whether the location is already aggregated into the event.
func (e Event) HasLocation(location string) bool {
	for _, l := range e.Locations {
		if l == location {
			return true
		}
	}
	return false
}

// DurationDays estimates the action length in whole days. Unknown or
// half-bounded spans default to a single day.
func (e Event) DurationDays() int {
	if e.StartDate == nil || e.EndDate == nil {
		return 1
	}
	days := int(e.EndDate.Sub(*e.StartDate).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// Clone returns a deep copy so store snapshots cannot be mutated by callers.
func (e Event) Clone() Event {
	out := e
	out.MemberIDs = append([]string(nil), e.MemberIDs...)
	out.Locations = append([]string(nil), e.Locations...)
	out.Actors = append([]string(nil), e.Actors...)
	if e.StartDate != nil {
		start := *e.StartDate
		out.StartDate = &start
	}
	if e.EndDate != nil {
		end := *e.EndDate
		out.EndDate = &end
	}
	return out
}
