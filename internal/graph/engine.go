// Package graph maintains the directed acyclic reasoning graph for one
// session. Every mutation is appended to the ledger before it is applied,
// so graph state is always reconstructible from the ledger alone and the
// graph is never ahead of it.
//
// The engine itself is not locked: per-session serialization is owned by
// the session layer, which holds the only lock in the system.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/causalvault/internal/ledger"
	"github.com/ppiankov/causalvault/internal/model"
)

// ErrDuplicateEdge rejects a second edge between the same ordered pair.
// Edges are immutable; re-asserting a cause is a new node, not an update.
var ErrDuplicateEdge = errors.New("edge already exists")

// Ledger is the durability dependency: every successful append is a commit
// point. Satisfied by *ledger.Store.
type Ledger interface {
	Append(ctx context.Context, sessionID string, event model.EventType, payload []byte) (*ledger.Entry, error)
}

// NodeAddedPayload is the ledger payload for a node_added event.
type NodeAddedPayload struct {
	Node         model.GraphNode `json:"node"`
	AgentID      string          `json:"agent_id,omitempty"`
	EvidenceRefs []model.NodeID  `json:"evidence_refs,omitempty"`
}

// EdgeAddedPayload is the ledger payload for an edge_added event.
type EdgeAddedPayload struct {
	Edge model.GraphEdge `json:"edge"`
}

// PrunedPayload is the ledger payload for a pruned event. Pruning is a
// derived mutation and is never silently applied.
type PrunedPayload struct {
	MinConfidence float64           `json:"min_confidence"`
	EdgesRemoved  []model.GraphEdge `json:"edges_removed"`
	NodesRemoved  []model.NodeID    `json:"nodes_removed"`
}

// Engine owns one session's graph state.
type Engine struct {
	sessionID string
	led       Ledger

	nodes  map[model.NodeID]*model.GraphNode
	out    map[model.NodeID][]*model.GraphEdge
	in     map[model.NodeID][]*model.GraphEdge
	order  []model.NodeID
	nextID model.NodeID
}

// NewEngine creates an empty graph for a session. A nil ledger skips
// durability and is only meant for replay reconstruction.
func NewEngine(sessionID string, led Ledger) *Engine {
	return &Engine{
		sessionID: sessionID,
		led:       led,
		nodes:     make(map[model.NodeID]*model.GraphNode),
		out:       make(map[model.NodeID][]*model.GraphEdge),
		in:        make(map[model.NodeID][]*model.GraphEdge),
		nextID:    1,
	}
}

// AttachLedger makes a replayed graph durable again: subsequent mutations
// append to led.
func (g *Engine) AttachLedger(led Ledger) {
	g.led = led
}

// SessionID returns the owning session's ID.
func (g *Engine) SessionID() string { return g.sessionID }

// Node returns the node with the given ID, or found=false.
func (g *Engine) Node(id model.NodeID) (*model.GraphNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeCount and EdgeCount report graph size.
func (g *Engine) NodeCount() int { return len(g.nodes) }

func (g *Engine) EdgeCount() int {
	n := 0
	for _, edges := range g.out {
		n += len(edges)
	}
	return n
}

// Incoming returns the confidences of a node's incoming edges, in edge
// insertion order.
func (g *Engine) Incoming(id model.NodeID) []float64 {
	edges := g.in[id]
	confs := make([]float64, len(edges))
	for i, e := range edges {
		confs[i] = e.Confidence
	}
	return confs
}

// AddNode validates the step's evidence refs, appends a node_added ledger
// entry, and only then inserts the node. The node ID is monotonic per
// session, starting at 1.
func (g *Engine) AddNode(ctx context.Context, kind model.StepKind, content string, confidence float64, agentID string, evidenceRefs []model.NodeID) (model.NodeID, error) {
	if !model.ValidKind(kind) {
		return 0, fmt.Errorf("graph: invalid step kind %q", kind)
	}
	for _, ref := range evidenceRefs {
		if _, ok := g.nodes[ref]; !ok {
			return 0, fmt.Errorf("%w: evidence ref %d", model.ErrUnknownNode, ref)
		}
	}

	node := model.GraphNode{
		ID:            g.nextID,
		Kind:          kind,
		ContentDigest: model.DigestString(content),
		Confidence:    confidence,
		CreatedAt:     time.Now().UTC(),
	}

	if err := g.logMutation(ctx, model.EventNodeAdded, NodeAddedPayload{
		Node:         node,
		AgentID:      agentID,
		EvidenceRefs: evidenceRefs,
	}); err != nil {
		return 0, err
	}

	g.insertNode(node)
	return node.ID, nil
}

// AddEdge checks both endpoints and acyclicity, appends an edge_added
// ledger entry, and only then inserts the edge. The cycle check is a
// reachability walk from `to` back to `from`; sessions are bounded
// reasoning runs, so the O(nodes+edges) scan per insertion is fine.
func (g *Engine) AddEdge(ctx context.Context, edge model.GraphEdge) error {
	if _, ok := g.nodes[edge.From]; !ok {
		return fmt.Errorf("%w: from %d", model.ErrUnknownNode, edge.From)
	}
	if _, ok := g.nodes[edge.To]; !ok {
		return fmt.Errorf("%w: to %d", model.ErrUnknownNode, edge.To)
	}
	for _, e := range g.out[edge.From] {
		if e.To == edge.To {
			return fmt.Errorf("%w: %d -> %d", ErrDuplicateEdge, edge.From, edge.To)
		}
	}
	if edge.From == edge.To || g.reachable(edge.To, edge.From) {
		return fmt.Errorf("%w: %d -> %d", model.ErrCycleDetected, edge.From, edge.To)
	}

	if err := g.logMutation(ctx, model.EventEdgeAdded, EdgeAddedPayload{Edge: edge}); err != nil {
		return err
	}

	g.insertEdge(edge)
	return nil
}

// Prune removes edges below minConfidence and any node left with no edges
// as a result, except Conclusion nodes. The prune is ledger-logged before
// it is applied.
func (g *Engine) Prune(ctx context.Context, minConfidence float64) (int, error) {
	var removed []model.GraphEdge
	touched := make(map[model.NodeID]bool)
	// Creation-order walk keeps the pruned payload deterministic.
	for _, id := range g.order {
		for _, e := range g.out[id] {
			if e.Confidence < minConfidence {
				removed = append(removed, *e)
				touched[e.From] = true
				touched[e.To] = true
			}
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	// Apply to a scratch view first to learn which nodes disconnect.
	dropped := make(map[model.NodeID]map[model.NodeID]bool)
	for _, e := range removed {
		if dropped[e.From] == nil {
			dropped[e.From] = make(map[model.NodeID]bool)
		}
		dropped[e.From][e.To] = true
	}
	degree := func(id model.NodeID) int {
		d := 0
		for _, e := range g.out[id] {
			if !dropped[e.From][e.To] {
				d++
			}
		}
		for _, e := range g.in[id] {
			if !dropped[e.From][e.To] {
				d++
			}
		}
		return d
	}

	var nodesRemoved []model.NodeID
	for _, id := range g.order {
		if touched[id] && degree(id) == 0 && g.nodes[id].Kind != model.KindConclusion {
			nodesRemoved = append(nodesRemoved, id)
		}
	}

	if err := g.logMutation(ctx, model.EventPruned, PrunedPayload{
		MinConfidence: minConfidence,
		EdgesRemoved:  removed,
		NodesRemoved:  nodesRemoved,
	}); err != nil {
		return 0, err
	}

	g.applyPrune(removed, nodesRemoved)
	return len(removed), nil
}

// SnapshotDigest hashes the full current graph state. Nodes and edges are
// serialized in creation order, so equal graphs digest equally.
func (g *Engine) SnapshotDigest() string {
	type snapshot struct {
		SessionID string            `json:"session_id"`
		Nodes     []model.GraphNode `json:"nodes"`
		Edges     []model.GraphEdge `json:"edges"`
	}
	snap := snapshot{SessionID: g.sessionID}
	for _, id := range g.order {
		if n, ok := g.nodes[id]; ok {
			snap.Nodes = append(snap.Nodes, *n)
		}
	}
	for _, id := range g.order {
		for _, e := range g.out[id] {
			snap.Edges = append(snap.Edges, *e)
		}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		// Fixed-shape structs cannot fail to marshal.
		panic(fmt.Sprintf("graph: snapshot marshal: %v", err))
	}
	return model.Digest(data)
}

func (g *Engine) logMutation(ctx context.Context, event model.EventType, payload any) error {
	if g.led == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("graph: marshal %s payload: %w", event, err)
	}
	if _, err := g.led.Append(ctx, g.sessionID, event, data); err != nil {
		return fmt.Errorf("graph: ledger append for %s: %w", event, err)
	}
	return nil
}

func (g *Engine) insertNode(node model.GraphNode) {
	n := node
	g.nodes[n.ID] = &n
	g.order = append(g.order, n.ID)
	if n.ID >= g.nextID {
		g.nextID = n.ID + 1
	}
}

func (g *Engine) insertEdge(edge model.GraphEdge) {
	e := edge
	g.out[e.From] = append(g.out[e.From], &e)
	g.in[e.To] = append(g.in[e.To], &e)
}

func (g *Engine) applyPrune(edges []model.GraphEdge, nodes []model.NodeID) {
	drop := make(map[model.NodeID]map[model.NodeID]bool)
	for _, e := range edges {
		if drop[e.From] == nil {
			drop[e.From] = make(map[model.NodeID]bool)
		}
		drop[e.From][e.To] = true
	}
	filter := func(list []*model.GraphEdge) []*model.GraphEdge {
		var kept []*model.GraphEdge
		for _, e := range list {
			if !drop[e.From][e.To] {
				kept = append(kept, e)
			}
		}
		return kept
	}
	for id := range g.out {
		g.out[id] = filter(g.out[id])
	}
	for id := range g.in {
		g.in[id] = filter(g.in[id])
	}
	for _, id := range nodes {
		delete(g.nodes, id)
		delete(g.out, id)
		delete(g.in, id)
	}
	if len(nodes) > 0 {
		var order []model.NodeID
		for _, id := range g.order {
			if _, ok := g.nodes[id]; ok {
				order = append(order, id)
			}
		}
		g.order = order
	}
}

// reachable reports whether a directed path exists from src to dst.
func (g *Engine) reachable(src, dst model.NodeID) bool {
	if src == dst {
		return true
	}
	seen := map[model.NodeID]bool{src: true}
	stack := []model.NodeID{src}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.out[cur] {
			if e.To == dst {
				return true
			}
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}
