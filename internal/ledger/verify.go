package ledger

import (
	"context"
	"fmt"

	"github.com/ppiankov/causalvault/internal/model"
)

// Verify recomputes a session's hash chain from genesis.
//
// Three checks run per entry, in sequence order:
//
//  1. the stored payload must still hash to the stored payload digest, so
//     flipping a byte of a committed payload fails at exactly that sequence;
//  2. the entry's prev_hash must equal the recomputed entry hash of its
//     predecessor, so a tampered header surfaces at the first successor
//     whose link no longer matches;
//  3. once the link into entry n holds, the predecessor's stored
//     entry_hash must equal that same recomputed value, so a rewrite of a
//     stored entry_hash alone fails at the rewritten sequence. The check
//     lags one entry behind the link check: a tampered header still
//     surfaces at its successor, a tampered stored hash at itself.
//
// The chain tail's stored entry_hash is checked against its recomputation
// last, since no successor exists to vouch for it. A gap in sequence numbers
// is a MissingEntryError. Verification never repairs anything: an integrity
// failure means the session is compromised.
func (s *Store) Verify(ctx context.Context, sessionID string) error {
	entries, err := s.ReadAll(ctx, sessionID)
	if err != nil {
		return err
	}

	expectPrev := model.GenesisHash
	for i, e := range entries {
		if e.Sequence != uint64(i) {
			return &model.MissingEntryError{SessionID: sessionID, Sequence: uint64(i)}
		}
		if model.Digest(e.Payload) != e.PayloadDigest {
			return &model.HashMismatchError{
				SessionID: sessionID,
				Sequence:  e.Sequence,
				Detail:    "payload does not match stored payload digest",
			}
		}
		if e.PrevHash != expectPrev {
			return &model.HashMismatchError{
				SessionID: sessionID,
				Sequence:  e.Sequence,
				Detail:    fmt.Sprintf("prev_hash %s, expected %s", e.PrevHash, expectPrev),
			}
		}
		if i > 0 && entries[i-1].EntryHash != expectPrev {
			return &model.HashMismatchError{
				SessionID: sessionID,
				Sequence:  entries[i-1].Sequence,
				Detail:    "stored entry_hash does not match recomputed value",
			}
		}
		expectPrev = ComputeEntryHash(&e)
	}

	if n := len(entries); n > 0 {
		tail := entries[n-1]
		if tail.EntryHash != expectPrev {
			return &model.HashMismatchError{
				SessionID: sessionID,
				Sequence:  tail.Sequence,
				Detail:    "stored entry_hash does not match recomputed value",
			}
		}
	}
	return nil
}
