package review

import (
	"context"
	"fmt"

	"github.com/ppiankov/causalvault/internal/escalate"
	"github.com/ppiankov/causalvault/internal/model"
)

// Queue ties the review store to the escalation controller: enqueued
// items come from escalation records, and every resolution is appended
// back to the session's ledger before the caller sees it.
type Queue struct {
	store *Store
	esc   *escalate.Controller
}

// NewQueue creates a Queue over the given store and controller.
func NewQueue(store *Store, esc *escalate.Controller) *Queue {
	return &Queue{store: store, esc: esc}
}

// Enqueue adds a pending review item for an escalated step.
func (q *Queue) Enqueue(rec model.EscalationRecord) error {
	return q.store.Enqueue(rec)
}

// Pending lists unresolved items.
func (q *Queue) Pending() ([]Item, error) {
	return q.store.Pending()
}

// Resolve records the reviewer's verdict in the store, then appends the
// resolution to the ledger. If the ledger write fails the item stays
// resolved on disk but the error surfaces; the caller retries the ledger
// append, not the resolution.
func (q *Queue) Resolve(ctx context.Context, key string, approved bool, reviewer, note string) (*Item, error) {
	item, err := q.store.Resolve(key, approved, reviewer, note)
	if err != nil {
		return nil, err
	}

	resolution := "denied"
	if approved {
		resolution = "approved"
	}
	rec := model.EscalationRecord{
		Trigger:    item.Trigger,
		Level:      model.LevelHumanReview,
		SessionID:  item.SessionID,
		StepID:     item.StepID,
		Reason:     item.Reason,
		Resolution: fmt.Sprintf("%s by %s: %s", resolution, reviewer, note),
	}
	if err := q.esc.RecordResolution(ctx, rec); err != nil {
		return item, fmt.Errorf("resolution saved but not yet in ledger: %w", err)
	}
	return item, nil
}
