// Package session orchestrates one agent reasoning session across the
// ledger, graph, confidence, policy, escalation, and kill-switch layers.
// Each session holds its own mutex; that mutex is the only lock in the
// submit path, so concurrent sessions never contend with each other.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/causalvault/internal/alert"
	"github.com/ppiankov/causalvault/internal/graph"
	"github.com/ppiankov/causalvault/internal/killswitch"
	"github.com/ppiankov/causalvault/internal/model"
	"github.com/ppiankov/causalvault/internal/policy"
)

// SubmitResult is everything a submitting agent learns about its step:
// the assigned node, the computed confidence, the compliance verdicts,
// and the escalation outcome.
type SubmitResult struct {
	StepID     model.NodeID                `json:"step_id"`
	Confidence float64                     `json:"confidence"`
	Class      model.ConfidenceClass       `json:"class"`
	Record     model.ComplianceRecord      `json:"record"`
	Decision   model.Decision              `json:"decision"`
	Escalation *model.EscalationRecord     `json:"escalation,omitempty"`
	Activation *model.KillSwitchActivation `json:"activation,omitempty"`
}

// Session is one live reasoning session. All methods are safe for
// concurrent use; mutations serialize on the session's own mutex.
type Session struct {
	id    string
	mgr   *Manager
	graph *graph.Engine

	mu    sync.Mutex // held across ledger I/O; the only lock in the submit path
	state model.SessionState
}

func newSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sess-%x", time.Now().UnixNano())
	}
	return "sess-" + hex.EncodeToString(b)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current kill-switch lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SnapshotDigest returns the digest of the current graph state.
func (s *Session) SnapshotDigest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.SnapshotDigest()
}

// NodeCount returns the number of live graph nodes.
func (s *Session) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.NodeCount()
}

// EdgeCount returns the number of live graph edges.
func (s *Session) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.EdgeCount()
}

// Submit runs one reasoning step through the full pipeline: confidence
// scoring, ledger-backed graph insertion, policy evaluation, escalation,
// and — on a halt decision — kill-switch activation. The step is rejected
// outright when the session is not running.
func (s *Session) Submit(ctx context.Context, step model.ReasoningStep) (*SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.StateRunning {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionHalted, s.id)
	}

	// Evidence refs are a set. Normalizing here, before anything touches
	// the ledger, keeps a step with a repeated ref atomic: one node, one
	// edge per distinct cause, no partial mutation to roll back.
	step.EvidenceRefs = dedupeRefs(step.EvidenceRefs)

	conf, err := s.score(step)
	if err != nil {
		return nil, err
	}

	nodeID, err := s.graph.AddNode(ctx, step.Kind, step.Content, conf, step.AgentID, step.EvidenceRefs)
	if err != nil {
		return nil, err
	}
	for _, ref := range step.EvidenceRefs {
		refNode, _ := s.graph.Node(ref)
		edge := model.GraphEdge{
			From:           ref,
			To:             nodeID,
			Confidence:     refNode.Confidence,
			CausalStrength: 1.0,
		}
		if err := s.graph.AddEdge(ctx, edge); err != nil {
			return nil, err
		}
	}

	record := policy.Evaluate(policy.StepContext{
		SessionID:         s.id,
		StepID:            nodeID,
		AgentID:           step.AgentID,
		Kind:              step.Kind,
		Confidence:        conf,
		EvidenceCount:     len(step.EvidenceRefs),
		ClaimedConfidence: step.ClaimedConfidence,
	}, s.mgr.policy, s.mgr.policyHash)

	recordJSON, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("session: marshal compliance record: %w", err)
	}
	if _, err := s.mgr.led.Append(ctx, s.id, model.EventPolicyChecked, recordJSON); err != nil {
		return nil, fmt.Errorf("session: record compliance: %w", err)
	}

	class := s.mgr.conf.Classify(conf)
	decision, escRec, err := s.mgr.esc.Decide(ctx, class, record, s.id)
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{
		StepID:     nodeID,
		Confidence: conf,
		Class:      class,
		Record:     record,
		Decision:   decision,
		Escalation: escRec,
	}

	switch decision {
	case model.DecisionHalt:
		activation, err := killswitch.Activate(ctx, s.mgr.led, s.id, nodeID,
			escRec.Trigger, escRec.Reason, s.graph.SnapshotDigest())
		if err != nil {
			return nil, err
		}
		s.state = model.StateHalted
		result.Activation = activation
	case model.DecisionHumanReview:
		if s.mgr.reviews != nil {
			if err := s.mgr.reviews.Enqueue(*escRec); err != nil {
				return nil, fmt.Errorf("session: queue review: %w", err)
			}
		}
	}

	if s.mgr.alerts != nil && decision != model.DecisionProceed {
		s.mgr.alerts.Dispatch(alert.AlertEvent{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			SessionID:  s.id,
			StepID:     uint64(nodeID),
			Decision:   string(decision),
			Trigger:    string(escRec.Trigger),
			Class:      string(class),
			Confidence: conf,
			Reason:     escRec.Reason,
			PolicyHash: record.PolicyHash,
		})
	}

	return result, nil
}

// dedupeRefs drops repeated node IDs, keeping first-occurrence order.
func dedupeRefs(refs []model.NodeID) []model.NodeID {
	if len(refs) < 2 {
		return refs
	}
	seen := make(map[model.NodeID]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// score computes the step's confidence. Leaf steps take the claimed value
// or the configured default; derived steps are weakest-link over their
// evidence nodes' confidences plus the agent's own claim, decayed by the
// age of the oldest evidence.
func (s *Session) score(step model.ReasoningStep) (float64, error) {
	if step.Kind.IsLeaf() {
		return s.mgr.conf.ScoreLeaf(step.ClaimedConfidence), nil
	}

	if len(step.EvidenceRefs) == 0 {
		// No evidence: Aggregate scores it zero and policy takes it
		// from there.
		return s.mgr.conf.Aggregate(nil, time.Time{}, time.Now().UTC()), nil
	}

	var incoming []float64
	var oldest time.Time
	for _, ref := range step.EvidenceRefs {
		node, ok := s.graph.Node(ref)
		if !ok {
			return 0, fmt.Errorf("%w: evidence ref %d", model.ErrUnknownNode, ref)
		}
		incoming = append(incoming, node.Confidence)
		if oldest.IsZero() || node.CreatedAt.Before(oldest) {
			oldest = node.CreatedAt
		}
	}
	if step.ClaimedConfidence != nil {
		incoming = append(incoming, *step.ClaimedConfidence)
	}
	return s.mgr.conf.Aggregate(incoming, oldest, time.Now().UTC()), nil
}

// Link adds an explicit causal edge between two existing steps.
func (s *Session) Link(ctx context.Context, edge model.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.StateRunning {
		return fmt.Errorf("%w: %s", model.ErrSessionHalted, s.id)
	}
	return s.graph.AddEdge(ctx, edge)
}

// Prune removes low-confidence edges and orphaned non-conclusion nodes.
func (s *Session) Prune(ctx context.Context, minConfidence float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.StateRunning {
		return 0, fmt.Errorf("%w: %s", model.ErrSessionHalted, s.id)
	}
	return s.graph.Prune(ctx, minConfidence)
}

// Trail extracts the strongest causal chain ending at the given step.
func (s *Session) Trail(nodeID model.NodeID) (*graph.Trail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.ExtractTrail(nodeID)
}

// FlagBias routes an external bias signal for a step into the audit trail
// and the review queue.
func (s *Session) FlagBias(ctx context.Context, stepID model.NodeID, reason string) (*model.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.graph.Node(stepID); !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrUnknownNode, stepID)
	}
	rec, err := s.mgr.esc.FlagBias(ctx, s.id, stepID, reason)
	if err != nil {
		return nil, err
	}
	if s.mgr.reviews != nil {
		if err := s.mgr.reviews.Enqueue(*rec); err != nil {
			return nil, fmt.Errorf("session: queue review: %w", err)
		}
	}
	if s.mgr.alerts != nil {
		s.mgr.alerts.Dispatch(alert.AlertEvent{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			SessionID: s.id,
			StepID:    uint64(stepID),
			Decision:  string(model.DecisionHumanReview),
			Trigger:   string(rec.Trigger),
			Reason:    rec.Reason,
		})
	}
	return rec, nil
}

// Resume transitions a halted session back to running. It requires an
// active single-use token bound to this session and to the exact snapshot
// the session halted with; the resume is ledger-recorded before the state
// flips.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	haltDigest, err := s.haltSnapshotDigest(ctx)
	if err != nil {
		return err
	}

	s.state = model.StateResuming
	if _, err := killswitch.Resume(ctx, s.mgr.led, s.mgr.tokens, model.StateHalted, s.id, haltDigest); err != nil {
		s.state = model.StateHalted
		return err
	}
	s.state = model.StateRunning
	return nil
}

// haltSnapshotDigest reads the snapshot digest recorded in the most recent
// kill_switch_activated entry.
func (s *Session) haltSnapshotDigest(ctx context.Context) (string, error) {
	if s.state != model.StateHalted {
		return "", fmt.Errorf("%w: %s", killswitch.ErrNotHalted, s.state)
	}
	entries, err := s.mgr.led.ReadAll(ctx, s.id)
	if err != nil {
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].EventType != model.EventKillSwitchActivated {
			continue
		}
		var payload killswitch.ActivationPayload
		if err := json.Unmarshal(entries[i].Payload, &payload); err != nil {
			return "", fmt.Errorf("session: parse activation payload: %w", err)
		}
		return payload.SnapshotDigest, nil
	}
	return "", fmt.Errorf("session %s has no recorded activation", s.id)
}
