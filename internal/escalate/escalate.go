// Package escalate routes policy and confidence outcomes to their
// consequences: proceed, human review, or halt. Every decision other than
// a plain proceed is durably recorded before it is announced — there is no
// such thing as an unrecorded escalation.
package escalate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ppiankov/causalvault/internal/ledger"
	"github.com/ppiankov/causalvault/internal/model"
)

// Ledger is the durability dependency. Satisfied by *ledger.Store.
type Ledger interface {
	Append(ctx context.Context, sessionID string, event model.EventType, payload []byte) (*ledger.Entry, error)
}

// Controller decides escalation outcomes and records them.
type Controller struct {
	led Ledger
}

// New creates a Controller backed by the given ledger.
func New(led Ledger) *Controller {
	return &Controller{led: led}
}

// Decide maps a confidence class and a compliance record onto a decision:
//
//	High + Pass            -> proceed
//	High + Warn            -> proceed, warn escalation logged
//	Medium/Low + Pass/Warn -> human review required
//	blocking Fail          -> halt
//	Insufficient + any     -> halt
//
// A non-blocking Fail (below the blocking priority) is not a halt but is
// never waved through either: it goes to human review.
// Every non-proceed outcome is appended to the ledger before this returns.
func (c *Controller) Decide(ctx context.Context, class model.ConfidenceClass, record model.ComplianceRecord, sessionID string) (model.Decision, *model.EscalationRecord, error) {
	switch {
	case record.Blocking:
		return c.record(ctx, model.DecisionHalt, model.EscalationRecord{
			Trigger:   model.TriggerPolicyViolation,
			Level:     model.LevelHalt,
			SessionID: sessionID,
			StepID:    record.StepID,
			Reason:    failReason(record),
		})

	case class == model.ClassInsufficient:
		return c.record(ctx, model.DecisionHalt, model.EscalationRecord{
			Trigger:   model.TriggerLowConfidence,
			Level:     model.LevelHalt,
			SessionID: sessionID,
			StepID:    record.StepID,
			Reason:    "confidence insufficient",
		})

	case record.Overall == model.VerdictFail:
		return c.record(ctx, model.DecisionHumanReview, model.EscalationRecord{
			Trigger:   model.TriggerPolicyViolation,
			Level:     model.LevelHumanReview,
			SessionID: sessionID,
			StepID:    record.StepID,
			Reason:    failReason(record),
		})

	case class == model.ClassHigh:
		if record.Overall == model.VerdictWarn {
			decision, rec, err := c.record(ctx, model.DecisionProceed, model.EscalationRecord{
				Trigger:   model.TriggerPolicyViolation,
				Level:     model.LevelWarn,
				SessionID: sessionID,
				StepID:    record.StepID,
				Reason:    failReason(record),
			})
			return decision, rec, err
		}
		return model.DecisionProceed, nil, nil

	default: // Medium or Low, Pass or Warn
		return c.record(ctx, model.DecisionHumanReview, model.EscalationRecord{
			Trigger:   model.TriggerLowConfidence,
			Level:     model.LevelHumanReview,
			SessionID: sessionID,
			StepID:    record.StepID,
			Reason:    fmt.Sprintf("confidence class %s requires review", class),
		})
	}
}

// FlagBias records an externally-detected bias signal against a step.
// Bias detection itself is an external collaborator; the controller only
// routes the flag into the audit trail and to human review.
func (c *Controller) FlagBias(ctx context.Context, sessionID string, stepID model.NodeID, reason string) (*model.EscalationRecord, error) {
	_, rec, err := c.record(ctx, model.DecisionHumanReview, model.EscalationRecord{
		Trigger:   model.TriggerBiasFlag,
		Level:     model.LevelHumanReview,
		SessionID: sessionID,
		StepID:    stepID,
		Reason:    reason,
	})
	return rec, err
}

// RecordResolution appends the resolution of a previously-escalated step.
func (c *Controller) RecordResolution(ctx context.Context, rec model.EscalationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("escalate: marshal resolution: %w", err)
	}
	if _, err := c.led.Append(ctx, rec.SessionID, model.EventEscalated, data); err != nil {
		return fmt.Errorf("escalate: record resolution: %w", err)
	}
	return nil
}

func (c *Controller) record(ctx context.Context, decision model.Decision, rec model.EscalationRecord) (model.Decision, *model.EscalationRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", nil, fmt.Errorf("escalate: marshal record: %w", err)
	}
	if _, err := c.led.Append(ctx, rec.SessionID, model.EventEscalated, data); err != nil {
		return "", nil, fmt.Errorf("escalate: record decision: %w", err)
	}
	return decision, &rec, nil
}

func failReason(record model.ComplianceRecord) string {
	for _, v := range record.Verdicts {
		if v.Result != model.VerdictPass {
			return fmt.Sprintf("rule %s: %s", v.RuleName, v.Details)
		}
	}
	return "policy violation"
}
