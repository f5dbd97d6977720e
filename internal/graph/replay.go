package graph

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/causalvault/internal/ledger"
	"github.com/ppiankov/causalvault/internal/model"
)

// Replay reconstructs a session's graph from its ledger entries alone.
// Non-graph events (policy checks, escalations, kill switch) are skipped.
// Replaying the same entries twice yields an isomorphic graph.
func Replay(sessionID string, entries []ledger.Entry) (*Engine, error) {
	g := NewEngine(sessionID, nil)

	for _, e := range entries {
		switch e.EventType {
		case model.EventNodeAdded:
			var p NodeAddedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, fmt.Errorf("graph: replay seq %d: %w", e.Sequence, err)
			}
			g.insertNode(p.Node)

		case model.EventEdgeAdded:
			var p EdgeAddedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, fmt.Errorf("graph: replay seq %d: %w", e.Sequence, err)
			}
			g.insertEdge(p.Edge)

		case model.EventPruned:
			var p PrunedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, fmt.Errorf("graph: replay seq %d: %w", e.Sequence, err)
			}
			g.applyPrune(p.EdgesRemoved, p.NodesRemoved)
		}
	}
	return g, nil
}
