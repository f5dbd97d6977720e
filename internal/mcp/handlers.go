package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/causalvault/internal/graph"
	"github.com/ppiankov/causalvault/internal/model"
)

// --- Input/Output types ---

// OpenInput is empty; sessions are created with generated IDs.
type OpenInput struct{}

// OpenOutput returns the new session's ID.
type OpenOutput struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// SubmitInput defines parameters for the causalvault_submit tool.
type SubmitInput struct {
	SessionID    string   `json:"session_id" jsonschema:"session to submit into"`
	AgentID      string   `json:"agent_id" jsonschema:"submitting agent identifier"`
	Kind         string   `json:"kind" jsonschema:"step kind (input/evidence/inference/conclusion)"`
	Content      string   `json:"content" jsonschema:"step content"`
	EvidenceRefs []uint64 `json:"evidence_refs,omitempty" jsonschema:"IDs of prior steps this step is derived from"`
	Confidence   *float64 `json:"confidence,omitempty" jsonschema:"claimed confidence in [0,1]"`
}

// SubmitOutput contains the scored, checked, and escalated result.
type SubmitOutput struct {
	StepID     uint64                `json:"step_id"`
	Confidence float64               `json:"confidence"`
	Class      string                `json:"class"`
	Decision   string                `json:"decision"`
	Overall    string                `json:"overall_verdict"`
	Reason     string                `json:"reason,omitempty"`
	Halted     bool                  `json:"halted,omitempty"`
	Verdicts   []model.PolicyVerdict `json:"verdicts,omitempty"`
}

// LinkInput defines parameters for the causalvault_link tool.
type LinkInput struct {
	SessionID      string  `json:"session_id" jsonschema:"session holding both steps"`
	From           uint64  `json:"from" jsonschema:"cause step ID"`
	To             uint64  `json:"to" jsonschema:"effect step ID"`
	Confidence     float64 `json:"confidence" jsonschema:"confidence in the causal claim"`
	CausalStrength float64 `json:"causal_strength" jsonschema:"asserted strength of the cause-effect relation"`
}

// LinkOutput confirms the edge or reports the rejection.
type LinkOutput struct {
	Linked bool   `json:"linked"`
	Reason string `json:"reason,omitempty"`
}

// TrailInput defines parameters for the causalvault_trail tool.
type TrailInput struct {
	SessionID string `json:"session_id" jsonschema:"session holding the step"`
	StepID    uint64 `json:"step_id" jsonschema:"target step of the trail"`
}

// TrailOutput holds the trail root-first plus a rendered form.
type TrailOutput struct {
	Trail    *graph.Trail `json:"trail"`
	Rendered string       `json:"rendered"`
}

// StatusInput defines parameters for the causalvault_status tool.
type StatusInput struct {
	SessionID string `json:"session_id" jsonschema:"session to inspect"`
}

// StatusOutput reports the lifecycle state and graph shape.
type StatusOutput struct {
	SessionID      string `json:"session_id"`
	State          string `json:"state"`
	Nodes          int    `json:"nodes"`
	Edges          int    `json:"edges"`
	SnapshotDigest string `json:"snapshot_digest"`
}

// VerifyInput defines parameters for the causalvault_verify tool.
type VerifyInput struct {
	SessionID string `json:"session_id" jsonschema:"session whose ledger to verify"`
}

// VerifyOutput reports chain integrity.
type VerifyOutput struct {
	Valid    bool   `json:"valid"`
	Detail   string `json:"detail,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"`
}

// ResumeInput defines parameters for the causalvault_resume tool.
type ResumeInput struct {
	SessionID string `json:"session_id" jsonschema:"halted session to resume"`
}

// ResumeOutput confirms the resume or reports why it was refused.
type ResumeOutput struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// FlagBiasInput defines parameters for the causalvault_flag_bias tool.
type FlagBiasInput struct {
	SessionID string `json:"session_id" jsonschema:"session holding the step"`
	StepID    uint64 `json:"step_id" jsonschema:"step the bias signal concerns"`
	Reason    string `json:"reason" jsonschema:"what the external detector found"`
}

// FlagBiasOutput confirms the flag was recorded and queued for review.
type FlagBiasOutput struct {
	SessionID string `json:"session_id"`
	StepID    uint64 `json:"step_id"`
	Trigger   string `json:"trigger"`
	Queued    bool   `json:"queued"`
}

// PendingInput is empty.
type PendingInput struct{}

// PendingOutput lists steps waiting for human review.
type PendingOutput struct {
	Items []PendingItem `json:"items"`
}

// PendingItem describes one queued review.
type PendingItem struct {
	Key       string `json:"key"`
	SessionID string `json:"session_id"`
	StepID    uint64 `json:"step_id"`
	Trigger   string `json:"trigger"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

// --- Handlers ---

func (s *Server) handleOpen(ctx context.Context, req *mcpsdk.CallToolRequest, input OpenInput) (*mcpsdk.CallToolResult, OpenOutput, error) {
	sess := s.mgr.Open()
	return nil, OpenOutput{SessionID: sess.ID(), State: string(sess.State())}, nil
}

func (s *Server) handleSubmit(ctx context.Context, req *mcpsdk.CallToolRequest, input SubmitInput) (*mcpsdk.CallToolResult, SubmitOutput, error) {
	sess, err := s.mgr.Get(ctx, input.SessionID)
	if err != nil {
		return nil, SubmitOutput{}, err
	}

	refs := make([]model.NodeID, len(input.EvidenceRefs))
	for i, r := range input.EvidenceRefs {
		refs[i] = model.NodeID(r)
	}
	res, err := sess.Submit(ctx, model.ReasoningStep{
		AgentID:           input.AgentID,
		Kind:              model.StepKind(input.Kind),
		Content:           input.Content,
		EvidenceRefs:      refs,
		ClaimedConfidence: input.Confidence,
		Timestamp:         time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, model.ErrSessionHalted) {
			out := SubmitOutput{Decision: string(model.DecisionHalt), Halted: true, Reason: err.Error()}
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		return nil, SubmitOutput{}, err
	}

	out := SubmitOutput{
		StepID:     uint64(res.StepID),
		Confidence: res.Confidence,
		Class:      string(res.Class),
		Decision:   string(res.Decision),
		Overall:    string(res.Record.Overall),
		Verdicts:   res.Record.Verdicts,
	}
	if res.Escalation != nil {
		out.Reason = res.Escalation.Reason
	}
	if res.Decision == model.DecisionHalt {
		out.Halted = true
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleLink(ctx context.Context, req *mcpsdk.CallToolRequest, input LinkInput) (*mcpsdk.CallToolResult, LinkOutput, error) {
	sess, err := s.mgr.Get(ctx, input.SessionID)
	if err != nil {
		return nil, LinkOutput{}, err
	}
	err = sess.Link(ctx, model.GraphEdge{
		From:           model.NodeID(input.From),
		To:             model.NodeID(input.To),
		Confidence:     input.Confidence,
		CausalStrength: input.CausalStrength,
	})
	if err != nil {
		if errors.Is(err, model.ErrCycleDetected) || errors.Is(err, graph.ErrDuplicateEdge) || errors.Is(err, model.ErrUnknownNode) {
			return &mcpsdk.CallToolResult{IsError: true}, LinkOutput{Reason: err.Error()}, nil
		}
		return nil, LinkOutput{}, err
	}
	return nil, LinkOutput{Linked: true}, nil
}

func (s *Server) handleTrail(ctx context.Context, req *mcpsdk.CallToolRequest, input TrailInput) (*mcpsdk.CallToolResult, TrailOutput, error) {
	sess, err := s.mgr.Get(ctx, input.SessionID)
	if err != nil {
		return nil, TrailOutput{}, err
	}
	trail, err := sess.Trail(model.NodeID(input.StepID))
	if err != nil {
		return nil, TrailOutput{}, err
	}
	return nil, TrailOutput{Trail: trail, Rendered: graph.FormatTrail(trail)}, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	sess, err := s.mgr.Get(ctx, input.SessionID)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{
		SessionID:      sess.ID(),
		State:          string(sess.State()),
		Nodes:          sess.NodeCount(),
		Edges:          sess.EdgeCount(),
		SnapshotDigest: sess.SnapshotDigest(),
	}, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifyInput) (*mcpsdk.CallToolResult, VerifyOutput, error) {
	err := s.led.Verify(ctx, input.SessionID)
	if err == nil {
		return nil, VerifyOutput{Valid: true}, nil
	}

	out := VerifyOutput{Detail: err.Error()}
	var mismatch *model.HashMismatchError
	var missing *model.MissingEntryError
	switch {
	case errors.As(err, &mismatch):
		out.Sequence = mismatch.Sequence
	case errors.As(err, &missing):
		out.Sequence = missing.Sequence
	default:
		return nil, VerifyOutput{}, err
	}
	return &mcpsdk.CallToolResult{IsError: true}, out, nil
}

func (s *Server) handleResume(ctx context.Context, req *mcpsdk.CallToolRequest, input ResumeInput) (*mcpsdk.CallToolResult, ResumeOutput, error) {
	sess, err := s.mgr.Get(ctx, input.SessionID)
	if err != nil {
		return nil, ResumeOutput{}, err
	}
	if err := sess.Resume(ctx); err != nil {
		return &mcpsdk.CallToolResult{IsError: true},
			ResumeOutput{SessionID: sess.ID(), State: string(sess.State()), Reason: err.Error()}, nil
	}
	return nil, ResumeOutput{SessionID: sess.ID(), State: string(sess.State())}, nil
}

func (s *Server) handleFlagBias(ctx context.Context, req *mcpsdk.CallToolRequest, input FlagBiasInput) (*mcpsdk.CallToolResult, FlagBiasOutput, error) {
	sess, err := s.mgr.Get(ctx, input.SessionID)
	if err != nil {
		return nil, FlagBiasOutput{}, err
	}
	rec, err := sess.FlagBias(ctx, model.NodeID(input.StepID), input.Reason)
	if err != nil {
		if errors.Is(err, model.ErrUnknownNode) {
			return &mcpsdk.CallToolResult{IsError: true}, FlagBiasOutput{SessionID: input.SessionID, StepID: input.StepID}, nil
		}
		return nil, FlagBiasOutput{}, err
	}
	return nil, FlagBiasOutput{
		SessionID: rec.SessionID,
		StepID:    uint64(rec.StepID),
		Trigger:   string(rec.Trigger),
		Queued:    true,
	}, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	items, err := s.reviews.Pending()
	if err != nil {
		return nil, PendingOutput{}, err
	}
	out := PendingOutput{}
	for _, item := range items {
		out.Items = append(out.Items, PendingItem{
			Key:       item.Key,
			SessionID: item.SessionID,
			StepID:    uint64(item.StepID),
			Trigger:   string(item.Trigger),
			Reason:    item.Reason,
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}
