// Package ledger is the integrity root: durable, append-only storage of
// hash-chained entries, one chain per session. Entries are never updated
// or deleted — the store issues only INSERT statements. Every successful
// append is a durability point; callers must treat it as committed before
// acting on it.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/causalvault/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger (
	session_id     TEXT    NOT NULL,
	seq            INTEGER NOT NULL,
	ts             TEXT    NOT NULL,
	event_type     TEXT    NOT NULL,
	payload        BLOB    NOT NULL,
	payload_digest TEXT    NOT NULL,
	prev_hash      TEXT    NOT NULL,
	entry_hash     TEXT    NOT NULL,
	PRIMARY KEY (session_id, seq)
);`

// Store is a SQLite-backed ledger. Sequence assignment and hash computation
// happen inside one transaction, so two concurrent appends can never observe
// the same prev_hash: the loser hits the primary key and gets a
// SequenceConflictError.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a ledger database at path. Use ":memory:" for
// an in-process store in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		// Busy timeout keeps concurrent readers from failing fast while
		// an append transaction holds the write lock.
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on the write path and keeps :memory: stores coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append computes the payload digest, links the new entry to the session's
// chain tail (or the genesis constant), persists it atomically, and returns
// the committed entry.
func (s *Store) Append(ctx context.Context, sessionID string, event model.EventType, payload []byte) (*Entry, error) {
	return s.append(ctx, sessionID, event, payload, nil)
}

// AppendAt is the idempotent retry form: expectSeq is the sequence number
// the caller believes comes next. If an entry already exists at expectSeq
// with the same event type and payload digest, the prior attempt committed
// and that entry is returned. If it exists but differs, or a different
// sequence comes next, the caller's view is stale and a
// SequenceConflictError is returned.
func (s *Store) AppendAt(ctx context.Context, sessionID string, event model.EventType, payload []byte, expectSeq uint64) (*Entry, error) {
	return s.append(ctx, sessionID, event, payload, &expectSeq)
}

func (s *Store) append(ctx context.Context, sessionID string, event model.EventType, payload []byte, expectSeq *uint64) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin append: %v", model.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	last, found, err := lastEntryTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	seq := uint64(0)
	prevHash := model.GenesisHash
	if found {
		seq = last.Sequence + 1
		prevHash = last.EntryHash
	}

	if expectSeq != nil && *expectSeq != seq {
		if found && last.Sequence >= *expectSeq {
			// A prior attempt may already have committed this entry.
			prior, ok, err := entryAtTx(ctx, tx, sessionID, *expectSeq)
			if err != nil {
				return nil, err
			}
			if ok && prior.EventType == event && prior.PayloadDigest == model.Digest(payload) {
				return prior, nil
			}
		}
		return nil, &model.SequenceConflictError{SessionID: sessionID, Sequence: *expectSeq}
	}

	e := &Entry{
		SessionID:     sessionID,
		Sequence:      seq,
		Timestamp:     time.Now().UTC().Format(TimestampFormat),
		EventType:     event,
		Payload:       payload,
		PayloadDigest: model.Digest(payload),
		PrevHash:      prevHash,
	}
	e.EntryHash = ComputeEntryHash(e)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger (session_id, seq, ts, event_type, payload, payload_digest, prev_hash, entry_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Sequence, e.Timestamp, string(e.EventType),
		e.Payload, e.PayloadDigest, e.PrevHash, e.EntryHash)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, &model.SequenceConflictError{SessionID: sessionID, Sequence: seq}
		}
		return nil, fmt.Errorf("%w: insert entry: %v", model.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit entry: %v", model.ErrStoreUnavailable, err)
	}
	return e, nil
}

// Last returns the chain tail for a session, or found=false for an empty
// chain.
func (s *Store) Last(ctx context.Context, sessionID string) (*Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, false, fmt.Errorf("%w: begin read: %v", model.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()
	return lastEntryTx(ctx, tx, sessionID)
}

// EntryAt returns the entry at the given sequence, or found=false.
func (s *Store) EntryAt(ctx context.Context, sessionID string, seq uint64) (*Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, false, fmt.Errorf("%w: begin read: %v", model.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()
	return entryAtTx(ctx, tx, sessionID, seq)
}

// Sessions returns the distinct session IDs present in the ledger.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM ledger ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", model.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ledger: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func lastEntryTx(ctx context.Context, tx *sql.Tx, sessionID string) (*Entry, bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT seq, ts, event_type, payload, payload_digest, prev_hash, entry_hash
		 FROM ledger WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, sessionID)
	return scanEntry(row, sessionID)
}

func entryAtTx(ctx context.Context, tx *sql.Tx, sessionID string, seq uint64) (*Entry, bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT seq, ts, event_type, payload, payload_digest, prev_hash, entry_hash
		 FROM ledger WHERE session_id = ? AND seq = ?`, sessionID, seq)
	return scanEntry(row, sessionID)
}

func scanEntry(row *sql.Row, sessionID string) (*Entry, bool, error) {
	var (
		e     Entry
		event string
	)
	e.SessionID = sessionID
	err := row.Scan(&e.Sequence, &e.Timestamp, &event, &e.Payload, &e.PayloadDigest, &e.PrevHash, &e.EntryHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read entry: %v", model.ErrStoreUnavailable, err)
	}
	e.EventType = model.EventType(event)
	return &e, true, nil
}

func isConstraintViolation(err error) bool {
	// modernc/sqlite reports SQLITE_CONSTRAINT_PRIMARYKEY in the message;
	// database/sql gives no portable error code for it.
	return err != nil && strings.Contains(err.Error(), "constraint")
}
