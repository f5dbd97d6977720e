// Package killswitch is the terminal safety state machine:
//
//	Running -> Halted -> (Resuming -> Running | terminated)
//
// Only Running accepts graph mutations. Halting durably records the
// trigger and a digest of the full graph state before anything is
// announced; a session that never resumes stays Halted forever — there is
// no timeout-based recovery.
package killswitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/causalvault/internal/ledger"
	"github.com/ppiankov/causalvault/internal/model"
)

// Ledger is the durability dependency. Satisfied by *ledger.Store.
type Ledger interface {
	Append(ctx context.Context, sessionID string, event model.EventType, payload []byte) (*ledger.Entry, error)
}

// ErrNotHalted rejects a resume of a session that is not halted.
var ErrNotHalted = errors.New("session is not halted")

// ErrSnapshotMismatch rejects a resume token minted against a different
// graph snapshot than the one the session halted with.
var ErrSnapshotMismatch = errors.New("resume token snapshot digest does not match halt snapshot")

// ActivationPayload is the ledger payload for a kill_switch_activated
// entry: the triggering step, the reason, and the immutable snapshot.
type ActivationPayload struct {
	StepID         model.NodeID            `json:"step_id"`
	Trigger        model.EscalationTrigger `json:"trigger"`
	Reason         string                  `json:"reason"`
	SnapshotDigest string                  `json:"snapshot_digest"`
}

// ResumePayload is the ledger payload for a session_resumed entry.
type ResumePayload struct {
	TokenID        string `json:"token_id"`
	SnapshotDigest string `json:"snapshot_digest"`
}

// Activate transitions a session to Halted: it appends the
// kill_switch_activated entry and returns the activation the caller hands
// back to the submitting agent. The caller flips the session state only
// after this returns — a halt that was not recorded did not happen.
func Activate(ctx context.Context, led Ledger, sessionID string, stepID model.NodeID, trigger model.EscalationTrigger, reason, snapshotDigest string) (*model.KillSwitchActivation, error) {
	payload, err := json.Marshal(ActivationPayload{
		StepID:         stepID,
		Trigger:        trigger,
		Reason:         reason,
		SnapshotDigest: snapshotDigest,
	})
	if err != nil {
		return nil, fmt.Errorf("killswitch: marshal activation: %w", err)
	}
	if _, err := led.Append(ctx, sessionID, model.EventKillSwitchActivated, payload); err != nil {
		return nil, fmt.Errorf("killswitch: record activation: %w", err)
	}
	return &model.KillSwitchActivation{
		SessionID:      sessionID,
		StepID:         stepID,
		Trigger:        trigger,
		Reason:         reason,
		SnapshotDigest: snapshotDigest,
	}, nil
}

// Resume validates a halted session's resume authorization and appends the
// session_resumed entry. Authorization itself (who may mint a token) is an
// external identity concern; the core only verifies that the token
// references this session and the exact snapshot the session halted with,
// and that it has not been used. The token is consumed as a side effect.
func Resume(ctx context.Context, led Ledger, store *TokenStore, state model.SessionState, sessionID, haltSnapshotDigest string) (*ResumePayload, error) {
	if state != model.StateHalted {
		return nil, fmt.Errorf("%w: %s", ErrNotHalted, state)
	}

	token, err := store.FindActive(sessionID)
	if err != nil {
		return nil, err
	}
	if token.SnapshotDigest != haltSnapshotDigest {
		return nil, fmt.Errorf("%w: token %s", ErrSnapshotMismatch, token.ID)
	}
	if err := store.Consume(token.ID); err != nil {
		return nil, err
	}

	resume := ResumePayload{TokenID: token.ID, SnapshotDigest: haltSnapshotDigest}
	payload, err := json.Marshal(resume)
	if err != nil {
		return nil, fmt.Errorf("killswitch: marshal resume: %w", err)
	}
	if _, err := led.Append(ctx, sessionID, model.EventSessionResumed, payload); err != nil {
		return nil, fmt.Errorf("killswitch: record resume: %w", err)
	}
	return &resume, nil
}
