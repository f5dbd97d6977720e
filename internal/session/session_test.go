package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/causalvault/internal/confidence"
	"github.com/ppiankov/causalvault/internal/escalate"
	"github.com/ppiankov/causalvault/internal/killswitch"
	"github.com/ppiankov/causalvault/internal/ledger"
	"github.com/ppiankov/causalvault/internal/model"
	"github.com/ppiankov/causalvault/internal/review"
)

type testEnv struct {
	mgr    *Manager
	led    *ledger.Store
	tokens *killswitch.TokenStore
	store  *review.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	tokens, err := killswitch.NewTokenStore(t.TempDir())
	if err != nil {
		t.Fatalf("token store: %v", err)
	}
	reviews, err := review.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("review store: %v", err)
	}

	mgr, err := NewManager(Options{
		Ledger:     led,
		Confidence: confidence.New(confidence.DefaultConfig()),
		Tokens:     tokens,
		Reviews:    review.NewQueue(reviews, escalate.New(led)),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return &testEnv{mgr: mgr, led: led, tokens: tokens, store: reviews}
}

func ptr(f float64) *float64 { return &f }

func submit(t *testing.T, s *Session, kind model.StepKind, content string, claimed *float64, refs ...model.NodeID) *SubmitResult {
	t.Helper()
	res, err := s.Submit(context.Background(), model.ReasoningStep{
		AgentID:           "agent-1",
		Kind:              kind,
		Content:           content,
		EvidenceRefs:      refs,
		ClaimedConfidence: claimed,
	})
	if err != nil {
		t.Fatalf("submit %s: %v", content, err)
	}
	return res
}

func countEvents(t *testing.T, led *ledger.Store, session string, event model.EventType) int {
	t.Helper()
	entries, err := led.ReadAll(context.Background(), session)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.EventType == event {
			n++
		}
	}
	return n
}

func TestChainConfidenceIsWeakestLink(t *testing.T) {
	env := newTestEnv(t)
	s := env.mgr.Open()

	ev := submit(t, s, model.KindEvidence, "lab result", ptr(0.9))
	if ev.Confidence != 0.9 {
		t.Fatalf("leaf confidence = %v, want 0.9", ev.Confidence)
	}

	inf1 := submit(t, s, model.KindInference, "elevated marker", ptr(0.8), ev.StepID)
	if inf1.Confidence != 0.8 {
		t.Fatalf("first inference = %v, want 0.8", inf1.Confidence)
	}

	inf2 := submit(t, s, model.KindInference, "likely condition", ptr(0.7), inf1.StepID)
	if inf2.Confidence != 0.7 {
		t.Fatalf("second inference = %v, want 0.7", inf2.Confidence)
	}

	concl := submit(t, s, model.KindConclusion, "diagnosis", nil, inf2.StepID)
	if concl.Confidence != 0.7 {
		t.Fatalf("conclusion = %v, want weakest link 0.7", concl.Confidence)
	}
	if concl.Class != model.ClassMedium {
		t.Fatalf("class = %s, want medium", concl.Class)
	}
	if concl.Decision != model.DecisionHumanReview {
		t.Fatalf("decision = %s, want human_review_required", concl.Decision)
	}

	// The medium-class inferences and the conclusion all wait for review.
	pending, err := env.store.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending items = %d, want 3", len(pending))
	}
	found := false
	for _, item := range pending {
		if item.StepID == concl.StepID {
			found = true
		}
	}
	if !found {
		t.Fatal("conclusion step not in review queue")
	}
}

func TestBlockingPolicyFailureHaltsSession(t *testing.T) {
	env := newTestEnv(t)
	s := env.mgr.Open()

	submit(t, s, model.KindEvidence, "some evidence", ptr(0.9))

	// Conclusion with no evidence refs violates a priority-100 law.
	res, err := s.Submit(context.Background(), model.ReasoningStep{
		AgentID: "agent-1",
		Kind:    model.KindConclusion,
		Content: "unsupported conclusion",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Decision != model.DecisionHalt {
		t.Fatalf("decision = %s, want halt", res.Decision)
	}
	if res.Activation == nil {
		t.Fatal("halt must carry a kill-switch activation")
	}
	if res.Activation.SnapshotDigest == "" {
		t.Fatal("activation must carry the graph snapshot digest")
	}
	if s.State() != model.StateHalted {
		t.Fatalf("state = %s, want halted", s.State())
	}

	if n := countEvents(t, env.led, s.ID(), model.EventKillSwitchActivated); n != 1 {
		t.Fatalf("kill_switch_activated entries = %d, want 1", n)
	}

	_, err = s.Submit(context.Background(), model.ReasoningStep{
		AgentID: "agent-1",
		Kind:    model.KindEvidence,
		Content: "late evidence",
	})
	if !errors.Is(err, model.ErrSessionHalted) {
		t.Fatalf("submit after halt err = %v, want ErrSessionHalted", err)
	}
}

func TestConcurrentCycleRaceAdmitsExactlyOneEdge(t *testing.T) {
	env := newTestEnv(t)
	s := env.mgr.Open()

	a := submit(t, s, model.KindEvidence, "a", ptr(0.9))
	b := submit(t, s, model.KindEvidence, "b", ptr(0.9))

	baseline := countEvents(t, env.led, s.ID(), model.EventEdgeAdded)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	edges := []model.GraphEdge{
		{From: a.StepID, To: b.StepID, Confidence: 0.9, CausalStrength: 1},
		{From: b.StepID, To: a.StepID, Confidence: 0.9, CausalStrength: 1},
	}
	for i := range edges {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Link(context.Background(), edges[i])
		}(i)
	}
	wg.Wait()

	var cycleErrs int
	for _, err := range errs {
		if errors.Is(err, model.ErrCycleDetected) {
			cycleErrs++
		} else if err != nil {
			t.Fatalf("unexpected link error: %v", err)
		}
	}
	if cycleErrs != 1 {
		t.Fatalf("cycle rejections = %d, want exactly 1", cycleErrs)
	}
	if got := countEvents(t, env.led, s.ID(), model.EventEdgeAdded) - baseline; got != 1 {
		t.Fatalf("edge_added entries = %d, want exactly 1", got)
	}
}

func TestResumeRestoresRunningState(t *testing.T) {
	env := newTestEnv(t)
	s := env.mgr.Open()

	submit(t, s, model.KindEvidence, "evidence", ptr(0.9))
	res, err := s.Submit(context.Background(), model.ReasoningStep{
		AgentID: "agent-1",
		Kind:    model.KindConclusion,
		Content: "unsupported",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Decision != model.DecisionHalt {
		t.Fatalf("decision = %s, want halt", res.Decision)
	}

	// Resume without a token fails and leaves the session halted.
	if err := s.Resume(context.Background()); !errors.Is(err, killswitch.ErrNoResumeToken) {
		t.Fatalf("resume without token err = %v", err)
	}
	if s.State() != model.StateHalted {
		t.Fatalf("state = %s, want halted", s.State())
	}

	if _, err := env.tokens.Mint(s.ID(), res.Activation.SnapshotDigest, "reviewed", 0); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if s.State() != model.StateRunning {
		t.Fatalf("state = %s, want running", s.State())
	}

	submit(t, s, model.KindEvidence, "post-resume evidence", ptr(0.9))
	if n := countEvents(t, env.led, s.ID(), model.EventSessionResumed); n != 1 {
		t.Fatalf("session_resumed entries = %d, want 1", n)
	}
}

func TestGetReloadsSessionFromLedger(t *testing.T) {
	env := newTestEnv(t)
	s := env.mgr.Open()

	ev := submit(t, s, model.KindEvidence, "evidence", ptr(0.9))
	submit(t, s, model.KindInference, "inference", ptr(0.8), ev.StepID)
	wantDigest := s.SnapshotDigest()

	// Fresh manager over the same ledger simulates a process restart.
	mgr2, err := NewManager(Options{
		Ledger:     env.led,
		Confidence: confidence.New(confidence.DefaultConfig()),
		Tokens:     env.tokens,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	loaded, err := mgr2.Get(context.Background(), s.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.SnapshotDigest() != wantDigest {
		t.Fatal("replayed session digest differs from live session")
	}
	if loaded.State() != model.StateRunning {
		t.Fatalf("loaded state = %s, want running", loaded.State())
	}

	// The reloaded session accepts new steps and stays chained.
	submit(t, loaded, model.KindEvidence, "more evidence", ptr(0.9))
	if err := env.led.Verify(context.Background(), s.ID()); err != nil {
		t.Fatalf("ledger verify after reload: %v", err)
	}
}

func TestGetUnknownSessionFails(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.mgr.Get(context.Background(), "sess-missing"); err == nil {
		t.Fatal("loading an unknown session must fail")
	}
}

func TestFlagBiasQueuesReview(t *testing.T) {
	env := newTestEnv(t)
	s := env.mgr.Open()

	ev := submit(t, s, model.KindEvidence, "evidence", ptr(0.9))
	rec, err := s.FlagBias(context.Background(), ev.StepID, "pattern resembles known bias")
	if err != nil {
		t.Fatalf("flag bias: %v", err)
	}
	if rec.Trigger != model.TriggerBiasFlag {
		t.Fatalf("trigger = %s, want bias_flag", rec.Trigger)
	}

	pending, err := env.store.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Trigger != model.TriggerBiasFlag {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	sessions := make([]*Session, 4)
	for i := range sessions {
		sessions[i] = env.mgr.Open()
	}
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			ev, err := s.Submit(context.Background(), model.ReasoningStep{
				AgentID: "agent-1", Kind: model.KindEvidence,
				Content: "evidence", ClaimedConfidence: ptr(0.9),
			})
			if err != nil {
				t.Errorf("submit evidence: %v", err)
				return
			}
			if _, err := s.Submit(context.Background(), model.ReasoningStep{
				AgentID: "agent-1", Kind: model.KindInference,
				Content: "inference", ClaimedConfidence: ptr(0.9),
				EvidenceRefs: []model.NodeID{ev.StepID},
			}); err != nil {
				t.Errorf("submit inference: %v", err)
			}
		}(s)
	}
	wg.Wait()

	for _, s := range sessions {
		if err := env.led.Verify(context.Background(), s.ID()); err != nil {
			t.Errorf("session %s ledger verify: %v", s.ID(), err)
		}
		if n := countEvents(t, env.led, s.ID(), model.EventNodeAdded); n != 2 {
			t.Errorf("session %s node_added = %d, want 2", s.ID(), n)
		}
	}
}

func TestTamperedLedgerHaltsSessionOnReload(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")

	led, err := ledger.Open(dbPath)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	mgr, err := NewManager(Options{
		Ledger:     led,
		Confidence: confidence.New(confidence.DefaultConfig()),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	sess := mgr.Open()
	submit(t, sess, model.KindEvidence, "evidence", ptr(0.9))
	submit(t, sess, model.KindInference, "inference", ptr(0.9), 1)

	// Rewrite a committed payload the way an attacker with file access
	// would, bypassing the append-only API.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`UPDATE ledger SET payload = ? WHERE session_id = ? AND seq = ?`,
		`{"forged":true}`, sess.ID(), 0); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	// A fresh manager must refuse to load the session and durably record
	// the compromise.
	mgr2, err := NewManager(Options{
		Ledger:     led,
		Confidence: confidence.New(confidence.DefaultConfig()),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr2.Get(context.Background(), sess.ID()); err == nil {
		t.Fatal("expected load of tampered session to fail")
	}

	last, ok, err := led.Last(context.Background(), sess.ID())
	if err != nil || !ok {
		t.Fatalf("read last entry: ok=%v err=%v", ok, err)
	}
	if last.EventType != model.EventKillSwitchActivated {
		t.Fatalf("last event = %s, want kill_switch_activated", last.EventType)
	}
	var payload killswitch.ActivationPayload
	if err := json.Unmarshal(last.Payload, &payload); err != nil {
		t.Fatalf("parse activation payload: %v", err)
	}
	if payload.Trigger != model.TriggerIntegrity {
		t.Errorf("trigger = %s, want %s", payload.Trigger, model.TriggerIntegrity)
	}

	// A second load sees the activation already recorded and does not
	// stack another.
	if _, err := mgr2.Get(context.Background(), sess.ID()); err == nil {
		t.Fatal("expected second load to fail")
	}
	entries, err := led.ReadAll(context.Background(), sess.ID())
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	halts := 0
	for _, e := range entries {
		if e.EventType == model.EventKillSwitchActivated {
			halts++
		}
	}
	if halts != 1 {
		t.Errorf("kill_switch_activated count = %d, want 1", halts)
	}
}

func TestRepeatedEvidenceRefIsOneEdge(t *testing.T) {
	env := newTestEnv(t)
	sess := env.mgr.Open()

	ev := submit(t, sess, model.KindEvidence, "observation", ptr(0.9))

	res, err := sess.Submit(context.Background(), model.ReasoningStep{
		AgentID:           "agent-1",
		Kind:              model.KindInference,
		Content:           "derived twice from the same observation",
		ClaimedConfidence: ptr(0.9),
		EvidenceRefs:      []model.NodeID{ev.StepID, ev.StepID},
	})
	if err != nil {
		t.Fatalf("repeated ref must not reject the step: %v", err)
	}
	if res.Decision != model.DecisionProceed {
		t.Errorf("decision = %s, want proceed", res.Decision)
	}
	if n := countEvents(t, env.led, sess.ID(), model.EventEdgeAdded); n != 1 {
		t.Errorf("edge_added count = %d, want 1", n)
	}
	if err := env.led.Verify(context.Background(), sess.ID()); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestUnknownEvidenceRefLeavesLedgerUntouched(t *testing.T) {
	env := newTestEnv(t)
	sess := env.mgr.Open()

	ev := submit(t, sess, model.KindEvidence, "observation", ptr(0.9))
	before, err := env.led.ReadAll(context.Background(), sess.ID())
	if err != nil {
		t.Fatalf("read all: %v", err)
	}

	_, err = sess.Submit(context.Background(), model.ReasoningStep{
		AgentID:           "agent-1",
		Kind:              model.KindInference,
		Content:           "derived from nothing",
		ClaimedConfidence: ptr(0.9),
		EvidenceRefs:      []model.NodeID{ev.StepID, 99},
	})
	if !errors.Is(err, model.ErrUnknownNode) {
		t.Fatalf("err = %v, want ErrUnknownNode", err)
	}

	after, err := env.led.ReadAll(context.Background(), sess.ID())
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("ledger grew from %d to %d entries for a rejected step", len(before), len(after))
	}
}
