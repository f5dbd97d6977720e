package model

import "time"

// StepKind classifies a reasoning step submitted by an agent.
type StepKind string

const (
	KindInput      StepKind = "input"
	KindEvidence   StepKind = "evidence"
	KindInference  StepKind = "inference"
	KindConclusion StepKind = "conclusion"
)

// ValidKind reports whether k is one of the four step kinds.
func ValidKind(k StepKind) bool {
	switch k {
	case KindInput, KindEvidence, KindInference, KindConclusion:
		return true
	}
	return false
}

// IsLeaf reports whether a step of this kind carries its own confidence
// rather than aggregating over incoming edges.
func (k StepKind) IsLeaf() bool {
	return k == KindInput || k == KindEvidence
}

// EventType identifies what a ledger entry records.
type EventType string

const (
	EventNodeAdded           EventType = "node_added"
	EventEdgeAdded           EventType = "edge_added"
	EventPruned              EventType = "pruned"
	EventPolicyChecked       EventType = "policy_checked"
	EventEscalated           EventType = "escalated"
	EventKillSwitchActivated EventType = "kill_switch_activated"
	EventSessionResumed      EventType = "session_resumed"
)

// MutatesGraph reports whether entries of this type change graph state.
// Used to enforce read-only sessions after kill-switch activation.
func (e EventType) MutatesGraph() bool {
	return e == EventNodeAdded || e == EventEdgeAdded || e == EventPruned
}

// ConfidenceClass is the banded classification of a confidence score.
type ConfidenceClass string

const (
	ClassHigh         ConfidenceClass = "high"
	ClassMedium       ConfidenceClass = "medium"
	ClassLow          ConfidenceClass = "low"
	ClassInsufficient ConfidenceClass = "insufficient"
)

// VerdictResult is the outcome of evaluating a single policy rule.
type VerdictResult string

const (
	VerdictPass VerdictResult = "pass"
	VerdictWarn VerdictResult = "warn"
	VerdictFail VerdictResult = "fail"
)

// verdictRank orders verdicts for fail-closed merging (Fail > Warn > Pass).
var verdictRank = map[VerdictResult]int{
	VerdictPass: 0,
	VerdictWarn: 1,
	VerdictFail: 2,
}

// WorseOf returns the more severe of two verdicts.
func WorseOf(a, b VerdictResult) VerdictResult {
	if verdictRank[b] > verdictRank[a] {
		return b
	}
	return a
}

// Decision is the escalation outcome returned to the submitting agent.
type Decision string

const (
	DecisionProceed     Decision = "proceed"
	DecisionHumanReview Decision = "human_review_required"
	DecisionHalt        Decision = "halt"
)

// EscalationLevel is the severity attached to an escalation record.
type EscalationLevel string

const (
	LevelLog         EscalationLevel = "log"
	LevelWarn        EscalationLevel = "warn"
	LevelHumanReview EscalationLevel = "human_review_required"
	LevelHalt        EscalationLevel = "halt"
)

// EscalationTrigger identifies what caused an escalation.
type EscalationTrigger string

const (
	TriggerPolicyViolation EscalationTrigger = "policy_violation"
	TriggerLowConfidence   EscalationTrigger = "low_confidence"
	TriggerBiasFlag        EscalationTrigger = "bias_flag"
	TriggerIntegrity       EscalationTrigger = "integrity_failure"
)

// SessionState is the kill-switch lifecycle state of a session.
type SessionState string

const (
	StateRunning  SessionState = "running"
	StateHalted   SessionState = "halted"
	StateResuming SessionState = "resuming"
)

// NodeID identifies a graph node. IDs are monotonic per session, starting at 1.
type NodeID uint64

// ReasoningStep is the external input: one structured reasoning step
// produced by an agent. Immutable once created.
type ReasoningStep struct {
	AgentID           string    `json:"agent_id"`
	Kind              StepKind  `json:"kind"`
	Content           string    `json:"content"`
	EvidenceRefs      []NodeID  `json:"evidence_refs,omitempty"`
	ClaimedConfidence *float64  `json:"claimed_confidence,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// GraphNode is one node in a session's causal graph. Never mutated after
// creation, only superseded by new nodes.
type GraphNode struct {
	ID            NodeID    `json:"id"`
	Kind          StepKind  `json:"kind"`
	ContentDigest string    `json:"content_digest"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

// GraphEdge is a directed causal edge. Confidence is the certainty of the
// causal claim; CausalStrength is the asserted strength of the cause-effect
// relationship itself.
type GraphEdge struct {
	From           NodeID   `json:"from"`
	To             NodeID   `json:"to"`
	Confidence     float64  `json:"confidence"`
	CausalStrength float64  `json:"causal_strength"`
	EvidenceRefs   []NodeID `json:"evidence_refs,omitempty"`
}

// PolicyVerdict is the result of one rule against one step.
type PolicyVerdict struct {
	RuleName string        `json:"rule_name"`
	Priority int           `json:"priority"`
	Result   VerdictResult `json:"result"`
	Details  string        `json:"details,omitempty"`
}

// ComplianceRecord is the batch of verdicts for one step, persisted as a
// policy_checked ledger payload. A pass is audit evidence too.
type ComplianceRecord struct {
	StepID     NodeID          `json:"step_id"`
	PolicyHash string          `json:"policy_hash,omitempty"`
	Verdicts   []PolicyVerdict `json:"verdicts"`
	Overall    VerdictResult   `json:"overall"`
	Blocking   bool            `json:"blocking"`
}

// EscalationRecord is persisted as an escalated ledger payload before the
// decision is returned to the caller.
type EscalationRecord struct {
	Trigger    EscalationTrigger `json:"trigger"`
	Level      EscalationLevel   `json:"level"`
	SessionID  string            `json:"session_id"`
	StepID     NodeID            `json:"step_id"`
	Reason     string            `json:"reason,omitempty"`
	Resolution string            `json:"resolution,omitempty"`
}

// KillSwitchActivation is returned to the caller when a session halts.
// The snapshot digest covers the full graph state at halt time and is the
// anchor for external audit export and resume authorization.
type KillSwitchActivation struct {
	SessionID      string            `json:"session_id"`
	StepID         NodeID            `json:"step_id"`
	Trigger        EscalationTrigger `json:"trigger"`
	Reason         string            `json:"reason"`
	SnapshotDigest string            `json:"snapshot_digest"`
}
