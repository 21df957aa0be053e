package cluster

import (
	"context"
	"fmt"
	"time"

	"UnrestWatch/internal/domain"
)

// SweepLifecycle advances event states by inactivity: OPEN events with no
// qualifying match within the dormancy window become DORMANT, DORMANT
// events past the close window become CLOSED. It is safe to run after
// every batch; already-settled events are untouched.
func (c *Clusterer) SweepLifecycle(ctx context.Context, now time.Time) error {
	events, err := c.store.List(ctx, domain.StateOpen, domain.StateDormant)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	for _, event := range events {
		idle := now.Sub(event.LastActivity)

		var next domain.EventState
		switch {
		case event.State == domain.StateOpen && idle > c.cfg.DormantAfter:
			next = domain.StateDormant
		case event.State == domain.StateDormant && idle > c.cfg.CloseAfter:
			next = domain.StateClosed
		default:
			continue
		}

		event.State = next
		if _, err := c.store.Save(ctx, event); err != nil {
			return fmt.Errorf("sweep event %s to %s: %w", event.ID, next, err)
		}
		c.debug("lifecycle transition", "event", event.ID, "state", next, "idle", idle)
	}
	return nil
}

// Reopen is the operator action reverting a CLOSED event to OPEN. Events
// absorbed by a merge stay closed; the surviving event is the one to reopen.
func (c *Clusterer) Reopen(ctx context.Context, eventID string) error {
	event, err := c.store.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", eventID, err)
	}
	if event.MergedInto != "" {
		return fmt.Errorf("event %s was merged into %s and cannot reopen", eventID, event.MergedInto)
	}
	if event.State != domain.StateClosed {
		return nil
	}

	event.State = domain.StateOpen
	if _, err := c.store.Save(ctx, event); err != nil {
		return fmt.Errorf("save reopened event %s: %w", eventID, err)
	}
	return nil
}
