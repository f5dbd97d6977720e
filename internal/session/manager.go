package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ppiankov/causalvault/internal/alert"
	"github.com/ppiankov/causalvault/internal/confidence"
	"github.com/ppiankov/causalvault/internal/escalate"
	"github.com/ppiankov/causalvault/internal/graph"
	"github.com/ppiankov/causalvault/internal/killswitch"
	"github.com/ppiankov/causalvault/internal/ledger"
	"github.com/ppiankov/causalvault/internal/model"
	"github.com/ppiankov/causalvault/internal/policy"
	"github.com/ppiankov/causalvault/internal/review"
)

// Manager owns the shared dependencies and the set of live sessions.
// Session lookup takes the manager's lock; everything inside a session
// takes only that session's lock.
type Manager struct {
	led        *ledger.Store
	conf       *confidence.Engine
	policy     *policy.Config
	policyHash string
	esc        *escalate.Controller
	tokens     *killswitch.TokenStore
	reviews    *review.Queue
	alerts     *alert.Dispatcher

	mu       sync.Mutex
	sessions map[string]*Session
}

// Options carries the manager's dependencies. Ledger and Confidence are
// required; a nil Policy falls back to the built-in laws, and TokenStore
// and Reviews are optional (resume and review queueing disabled without
// them).
type Options struct {
	Ledger     *ledger.Store
	Confidence *confidence.Engine
	Policy     *policy.Config
	PolicyHash string
	Tokens     *killswitch.TokenStore
	Reviews    *review.Queue
}

// NewManager creates a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("session: ledger store is required")
	}
	if opts.Confidence == nil {
		return nil, fmt.Errorf("session: confidence engine is required")
	}
	cfg := opts.Policy
	if cfg == nil {
		cfg = policy.DefaultConfig()
	}
	return &Manager{
		led:        opts.Ledger,
		conf:       opts.Confidence,
		policy:     cfg,
		policyHash: opts.PolicyHash,
		esc:        escalate.New(opts.Ledger),
		tokens:     opts.Tokens,
		reviews:    opts.Reviews,
		alerts:     alert.NewDispatcher(cfg.Alerts),
		sessions:   make(map[string]*Session),
	}, nil
}

// SetPolicy swaps the active policy config. Sessions pick the new rules up
// on their next submit.
func (m *Manager) SetPolicy(cfg *policy.Config, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = cfg
	m.policyHash = hash
	m.alerts = alert.NewDispatcher(cfg.Alerts)
}

// SetConfidence swaps the active confidence engine. Sessions pick it up on
// their next submit.
func (m *Manager) SetConfidence(eng *confidence.Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conf = eng
}

// Open starts a fresh session with a generated sess-<hex> ID.
func (m *Manager) Open() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := newSessionID()
	for m.sessions[id] != nil {
		id = newSessionID()
	}
	s := &Session{
		id:    id,
		mgr:   m,
		graph: graph.NewEngine(id, m.led),
		state: model.StateRunning,
	}
	m.sessions[id] = s
	return s
}

// Get returns a live session, loading it from the ledger if it is not in
// memory yet.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have loaded it concurrently; keep the first.
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = s
	return s, nil
}

// load rebuilds a session from its ledger entries: graph state from the
// mutation events, lifecycle state from the kill-switch events. The ledger
// chain is verified first; a session whose ledger fails verification is
// not loaded.
func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	if err := m.led.Verify(ctx, id); err != nil {
		m.recordIntegrityHalt(ctx, id, err)
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	entries, err := m.led.ReadAll(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("session %s: no ledger entries", id)
	}

	g, err := graph.Replay(id, entries)
	if err != nil {
		return nil, err
	}
	g.AttachLedger(m.led)

	state := model.StateRunning
	for _, e := range entries {
		switch e.EventType {
		case model.EventKillSwitchActivated:
			state = model.StateHalted
		case model.EventSessionResumed:
			state = model.StateRunning
		}
	}

	return &Session{id: id, mgr: m, graph: g, state: state}, nil
}

// recordIntegrityHalt durably marks a session whose chain failed
// verification as compromised. A broken chain stays broken; the appended
// entry records that the compromise was seen, it does not repair anything.
// The halt is appended once; repeated loads of the same compromised
// session do not stack activations.
func (m *Manager) recordIntegrityHalt(ctx context.Context, id string, verifyErr error) {
	var mismatch *model.HashMismatchError
	var missing *model.MissingEntryError
	if !errors.As(verifyErr, &mismatch) && !errors.As(verifyErr, &missing) {
		return
	}
	if last, ok, err := m.led.Last(ctx, id); err != nil || (ok && last.EventType == model.EventKillSwitchActivated) {
		return
	}
	// No snapshot digest: a compromised ledger has no trustworthy graph
	// state to snapshot.
	_, _ = killswitch.Activate(ctx, m.led, id, 0, model.TriggerIntegrity, verifyErr.Error(), "")
}

// Sessions lists all session IDs known to the ledger.
func (m *Manager) Sessions(ctx context.Context) ([]string, error) {
	return m.led.Sessions(ctx)
}

// Replay rebuilds a read-only view of a session's trail without touching
// the live session map. Used by audit tooling.
func (m *Manager) Replay(ctx context.Context, id string, nodeID model.NodeID) (*graph.Trail, error) {
	entries, err := m.led.ReadAll(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := graph.Replay(id, entries)
	if err != nil {
		return nil, err
	}
	return g.ExtractTrail(nodeID)
}

// HaltedActivation returns the activation payload of a session's most
// recent halt, if any.
func (m *Manager) HaltedActivation(ctx context.Context, id string) (*killswitch.ActivationPayload, error) {
	entries, err := m.led.ReadAll(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].EventType != model.EventKillSwitchActivated {
			continue
		}
		var payload killswitch.ActivationPayload
		if err := json.Unmarshal(entries[i].Payload, &payload); err != nil {
			return nil, fmt.Errorf("session: parse activation payload: %w", err)
		}
		return &payload, nil
	}
	return nil, fmt.Errorf("session %s has no recorded activation", id)
}
