// Package review holds the human review queue. Steps that escalate to
// human_review_required wait here; a reviewer resolves each item and the
// resolution goes back into the session's ledger.
package review

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/causalvault/internal/model"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects keys that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Status represents the state of a review item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Item is a single step waiting for (or resolved by) human review.
type Item struct {
	Key        string                  `json:"key"`
	Status     Status                  `json:"status"`
	SessionID  string                  `json:"session_id"`
	StepID     model.NodeID            `json:"step_id"`
	Trigger    model.EscalationTrigger `json:"trigger"`
	Reason     string                  `json:"reason"`
	Reviewer   string                  `json:"reviewer,omitempty"`
	Note       string                  `json:"note,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	ResolvedAt *time.Time              `json:"resolved_at,omitempty"`
}

// Key builds the review key for a session step.
func Key(sessionID string, stepID model.NodeID) string {
	return fmt.Sprintf("%s.step-%d", sessionID, stepID)
}

// Store manages review item files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create review directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default review store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "causalvault-review")
	}
	return filepath.Join(home, ".causalvault", "review")
}

// Enqueue creates a pending review item from an escalation record.
// No-op if the step is already queued.
func (s *Store) Enqueue(rec model.EscalationRecord) error {
	key := Key(rec.SessionID, rec.StepID)
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid review key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if _, err := os.Stat(path); err == nil {
		return nil // already queued
	}

	item := Item{
		Key:       key,
		Status:    StatusPending,
		SessionID: rec.SessionID,
		StepID:    rec.StepID,
		Trigger:   rec.Trigger,
		Reason:    rec.Reason,
		CreatedAt: time.Now().UTC(),
	}
	return s.writeAtomic(path, item)
}

// Resolve marks a pending item approved or denied and returns the
// resolved item. Resolving an already-resolved item fails.
func (s *Store) Resolve(key string, approved bool, reviewer, note string) (*Item, error) {
	if err := validateKey(key); err != nil {
		return nil, fmt.Errorf("invalid review key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.read(key)
	if err != nil {
		return nil, fmt.Errorf("review item %q not found: %w", key, err)
	}
	if item.Status != StatusPending {
		return nil, fmt.Errorf("review item %q already resolved: %s", key, item.Status)
	}

	if approved {
		item.Status = StatusApproved
	} else {
		item.Status = StatusDenied
	}
	item.Reviewer = reviewer
	item.Note = note
	now := time.Now().UTC()
	item.ResolvedAt = &now

	if err := s.writeAtomic(s.path(key), *item); err != nil {
		return nil, err
	}
	return item, nil
}

// Get returns a single review item.
func (s *Store) Get(key string) (*Item, error) {
	if err := validateKey(key); err != nil {
		return nil, fmt.Errorf("invalid review key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.read(key)
	if err != nil {
		return nil, fmt.Errorf("review item %q not found", key)
	}
	return item, nil
}

// List returns all review items in the store.
func (s *Store) List() ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var items []Item
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		item, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		items = append(items, *item)
	}
	return items, nil
}

// Pending returns only unresolved review items.
func (s *Store) Pending() ([]Item, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var pending []Item
	for _, item := range all {
		if item.Status == StatusPending {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) read(key string) (*Item, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("parse review file: %w", err)
	}
	return &item, nil
}

func (s *Store) writeAtomic(path string, item Item) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
