package graph

import (
	"fmt"

	"github.com/ppiankov/causalvault/internal/model"
)

// TrailStep is one step of an extracted causal trail. IncomingEdge is nil
// for the root cause (a node with no incoming edges).
type TrailStep struct {
	NodeID        model.NodeID     `json:"node_id"`
	Kind          model.StepKind   `json:"kind"`
	ContentDigest string           `json:"content_digest"`
	Confidence    float64          `json:"confidence"`
	IncomingEdge  *model.GraphEdge `json:"incoming_edge,omitempty"`
}

// Trail is the exported causal trail for one target node, ordered from the
// root cause to the target. This is the schema consumed by the report layer.
type Trail struct {
	SessionID string      `json:"session_id"`
	TargetID  model.NodeID `json:"target_id"`
	Steps     []TrailStep `json:"steps"`
}

// ExtractTrail walks backward from a node along the strongest incoming
// edge at each step until it reaches a node with no incoming edges. Ties
// on causal strength go to the earliest-asserted cause. The DAG invariant
// bounds the walk; no visited set is needed, but one is kept anyway so a
// corrupted in-memory graph degrades to an error instead of a spin.
func (g *Engine) ExtractTrail(nodeID model.NodeID) (*Trail, error) {
	if _, ok := g.nodes[nodeID]; !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrUnknownNode, nodeID)
	}

	var reversed []TrailStep
	visited := make(map[model.NodeID]bool)
	cur := nodeID

	for {
		if visited[cur] {
			return nil, fmt.Errorf("%w: trail revisited node %d", model.ErrCycleDetected, cur)
		}
		visited[cur] = true

		node := g.nodes[cur]
		best := g.strongestIncoming(cur)
		reversed = append(reversed, TrailStep{
			NodeID:        node.ID,
			Kind:          node.Kind,
			ContentDigest: node.ContentDigest,
			Confidence:    node.Confidence,
			IncomingEdge:  best,
		})

		if best == nil {
			break
		}
		cur = best.From
	}

	// The walk collected target-first; the trail reads root-first. The
	// edge recorded on each step is the one leading into that step's node.
	steps := make([]TrailStep, len(reversed))
	for i := range reversed {
		steps[len(reversed)-1-i] = reversed[i]
	}

	return &Trail{
		SessionID: g.sessionID,
		TargetID:  nodeID,
		Steps:     steps,
	}, nil
}

// strongestIncoming picks the incoming edge with the highest causal
// strength. Insertion order breaks ties, so the earliest-asserted cause
// wins.
func (g *Engine) strongestIncoming(id model.NodeID) *model.GraphEdge {
	var best *model.GraphEdge
	for _, e := range g.in[id] {
		if best == nil || e.CausalStrength > best.CausalStrength {
			best = e
		}
	}
	return best
}

// ChainConfidences returns the edge confidences along a trail, root-first.
// Feeding these to the confidence engine yields the chain's aggregated
// confidence.
func (t *Trail) ChainConfidences() []float64 {
	var confs []float64
	for _, s := range t.Steps {
		if s.IncomingEdge != nil {
			confs = append(confs, s.IncomingEdge.Confidence)
		}
	}
	return confs
}
