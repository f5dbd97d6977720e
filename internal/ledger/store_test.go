package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ppiankov/causalvault/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to open ledger store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAppend(t *testing.T, s *Store, session string, event model.EventType, payload string) *Entry {
	t.Helper()
	e, err := s.Append(context.Background(), session, event, []byte(payload))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return e
}

func TestFirstEntryLinksToGenesis(t *testing.T) {
	s := newTestStore(t)
	e := mustAppend(t, s, "sess-a", model.EventNodeAdded, `{"id":1}`)

	if e.Sequence != 0 {
		t.Errorf("first sequence = %d, want 0", e.Sequence)
	}
	if e.PrevHash != model.GenesisHash {
		t.Errorf("first prev_hash = %q, want genesis", e.PrevHash)
	}
	if e.EntryHash != ComputeEntryHash(e) {
		t.Error("stored entry_hash does not match recomputation")
	}
}

func TestSequentialAppendsChain(t *testing.T) {
	s := newTestStore(t)

	var prev *Entry
	for i := 0; i < 5; i++ {
		e := mustAppend(t, s, "sess-a", model.EventNodeAdded, `{"n":`+string(rune('0'+i))+`}`)
		if e.Sequence != uint64(i) {
			t.Fatalf("sequence = %d, want %d", e.Sequence, i)
		}
		if prev != nil && e.PrevHash != prev.EntryHash {
			t.Fatalf("entry %d prev_hash does not match predecessor entry_hash", i)
		}
		prev = e
	}

	if err := s.Verify(context.Background(), "sess-a"); err != nil {
		t.Fatalf("verify after sequential appends: %v", err)
	}
}

func TestSessionsChainIndependently(t *testing.T) {
	s := newTestStore(t)

	a0 := mustAppend(t, s, "sess-a", model.EventNodeAdded, "a0")
	b0 := mustAppend(t, s, "sess-b", model.EventNodeAdded, "b0")
	a1 := mustAppend(t, s, "sess-a", model.EventEdgeAdded, "a1")

	if b0.Sequence != 0 || b0.PrevHash != model.GenesisHash {
		t.Error("second session did not start a fresh chain")
	}
	if a1.PrevHash != a0.EntryHash {
		t.Error("interleaved append broke session chain")
	}

	for _, session := range []string{"sess-a", "sess-b"} {
		if err := s.Verify(context.Background(), session); err != nil {
			t.Errorf("verify %s: %v", session, err)
		}
	}

	ids, err := s.Sessions(context.Background())
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("sessions = %v, want 2", ids)
	}
}

func TestAppendAtIdempotentRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.AppendAt(ctx, "sess-a", model.EventNodeAdded, []byte("payload"), 0)
	if err != nil {
		t.Fatalf("initial append: %v", err)
	}

	// Retrying the same logical append returns the committed entry.
	retried, err := s.AppendAt(ctx, "sess-a", model.EventNodeAdded, []byte("payload"), 0)
	if err != nil {
		t.Fatalf("idempotent retry: %v", err)
	}
	if retried.EntryHash != first.EntryHash {
		t.Error("retry returned a different entry")
	}

	// A different payload at an already-committed sequence is a conflict.
	var conflict *model.SequenceConflictError
	if _, err := s.AppendAt(ctx, "sess-a", model.EventNodeAdded, []byte("other"), 0); !errors.As(err, &conflict) {
		t.Fatalf("expected SequenceConflictError, got %v", err)
	}

	// A stale expectation past the tail is a conflict too.
	if _, err := s.AppendAt(ctx, "sess-a", model.EventNodeAdded, []byte("x"), 5); !errors.As(err, &conflict) {
		t.Fatalf("expected SequenceConflictError for gap, got %v", err)
	}

	if err := s.Verify(ctx, "sess-a"); err != nil {
		t.Fatalf("verify after retries: %v", err)
	}
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, "sess-a", model.EventNodeAdded, []byte("concurrent"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	entries, err := s.ReadAll(ctx, "sess-a")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("got %d entries, want %d", len(entries), n)
	}
	if err := s.Verify(ctx, "sess-a"); err != nil {
		t.Fatalf("verify after concurrent appends: %v", err)
	}
}

func TestReadRangeIsRepeatable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		mustAppend(t, s, "sess-a", model.EventNodeAdded, "p")
	}

	first, err := s.ReadRange(ctx, "sess-a", 1, 4)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	second, err := s.ReadRange(ctx, "sess-a", 1, 4)
	if err != nil {
		t.Fatalf("read range again: %v", err)
	}

	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("range lengths = %d, %d, want 4", len(first), len(second))
	}
	for i := range first {
		if first[i].EntryHash != second[i].EntryHash {
			t.Fatalf("replayed entry %d differs", i)
		}
	}
}

func TestSummarize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, "sess-a", model.EventNodeAdded, "n")
	mustAppend(t, s, "sess-a", model.EventPolicyChecked, "p")
	mustAppend(t, s, "sess-a", model.EventEscalated, "e")
	mustAppend(t, s, "sess-a", model.EventKillSwitchActivated, "k")

	sum, err := s.Summarize(ctx, "sess-a")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.Total != 4 {
		t.Errorf("total = %d, want 4", sum.Total)
	}
	if !sum.Halted {
		t.Error("summary should report session halted")
	}

	mustAppend(t, s, "sess-a", model.EventSessionResumed, "r")
	sum, err = s.Summarize(ctx, "sess-a")
	if err != nil {
		t.Fatalf("summarize after resume: %v", err)
	}
	if sum.Halted || !sum.Resumed {
		t.Error("summary should report session resumed")
	}
}
