package ledger

import (
	"fmt"

	"github.com/ppiankov/causalvault/internal/model"
)

// TimestampFormat is the layout used in ledger entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one row in the hash-chained session ledger. All fields are
// fixed-shape (no map[string]any) to guarantee deterministic marshaling
// for reproducible hashing.
type Entry struct {
	SessionID     string          `json:"session_id"`
	Sequence      uint64          `json:"sequence"`
	Timestamp     string          `json:"timestamp"`
	EventType     model.EventType `json:"event_type"`
	Payload       []byte          `json:"payload"`
	PayloadDigest string          `json:"payload_digest"`
	PrevHash      string          `json:"prev_hash"`
	EntryHash     string          `json:"entry_hash"`
}

// canonical returns the byte string the entry hash is computed over.
// Field order is fixed and the payload participates via its digest only,
// so the chain stays verifiable from header fields alone.
func canonical(seq uint64, ts string, event model.EventType, payloadDigest, prevHash string) []byte {
	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s", seq, ts, event, payloadDigest, prevHash))
}

// ComputeEntryHash recomputes the chain hash for an entry's stored header
// fields. Used by append and by verification.
func ComputeEntryHash(e *Entry) string {
	return model.Digest(canonical(e.Sequence, e.Timestamp, e.EventType, e.PayloadDigest, e.PrevHash))
}
