package killswitch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTokenDuration is the default resume token validity period.
	DefaultTokenDuration = 1 * time.Hour
	// MaxTokenDuration is the longest a resume authorization may stay open.
	MaxTokenDuration = 24 * time.Hour
)

// ErrNoResumeToken means no active token exists for the session.
var ErrNoResumeToken = errors.New("no active resume token for session")

// Token is a single-use resume authorization, minted externally after a
// kill-switch halt has been reviewed. It binds to one session and to the
// exact graph snapshot recorded at halt time.
type Token struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	SnapshotDigest string     `json:"snapshot_digest"`
	Reason         string     `json:"reason"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// IsActive reports whether the token is not expired, not used, not revoked.
func (t *Token) IsActive() bool {
	if t.UsedAt != nil || t.RevokedAt != nil {
		return false
	}
	return time.Now().UTC().Before(t.ExpiresAt)
}

// TokenStore manages resume token files on disk.
type TokenStore struct {
	dir string
	mu  sync.Mutex
}

// NewTokenStore creates a TokenStore backed by the given directory.
func NewTokenStore(dir string) (*TokenStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create resume token directory: %w", err)
	}
	return &TokenStore{dir: dir}, nil
}

// DefaultTokenDir returns the default resume token store directory.
func DefaultTokenDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "causalvault-resume")
	}
	return filepath.Join(home, ".causalvault", "resume")
}

// Mint creates a resume token for a halted session. The caller supplies
// the snapshot digest from the kill-switch activation; a mandatory reason
// documents who authorized the resume and why.
func (s *TokenStore) Mint(sessionID, snapshotDigest, reason string, duration time.Duration) (*Token, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("resume reason is required")
	}
	if sessionID == "" || snapshotDigest == "" {
		return nil, fmt.Errorf("session id and snapshot digest are required")
	}
	if duration <= 0 {
		duration = DefaultTokenDuration
	}
	if duration > MaxTokenDuration {
		return nil, fmt.Errorf("resume duration %s exceeds maximum %s", duration, MaxTokenDuration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	token := &Token{
		ID:             "resume-" + uuid.NewString(),
		SessionID:      sessionID,
		SnapshotDigest: snapshotDigest,
		Reason:         reason,
		CreatedAt:      now,
		ExpiresAt:      now.Add(duration),
	}
	if err := s.writeAtomic(token); err != nil {
		return nil, fmt.Errorf("write resume token: %w", err)
	}
	return token, nil
}

// FindActive returns the first active token bound to the given session.
func (s *TokenStore) FindActive(sessionID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResumeToken, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		token, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		if token.SessionID == sessionID && token.IsActive() {
			return token, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoResumeToken, sessionID)
}

// Consume marks a token as used. Single-use: a consumed token never
// authorizes another resume.
func (s *TokenStore) Consume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read(id)
	if err != nil {
		return fmt.Errorf("token %q not found: %w", id, err)
	}
	if !token.IsActive() {
		return fmt.Errorf("token %q is not active", id)
	}
	now := time.Now().UTC()
	token.UsedAt = &now
	return s.writeAtomic(token)
}

// Revoke marks a token as revoked.
func (s *TokenStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read(id)
	if err != nil {
		return fmt.Errorf("token %q not found: %w", id, err)
	}
	now := time.Now().UTC()
	token.RevokedAt = &now
	return s.writeAtomic(token)
}

// List returns all tokens in the store.
func (s *TokenStore) List() ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tokens []Token
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		token, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		tokens = append(tokens, *token)
	}
	return tokens, nil
}

func (s *TokenStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *TokenStore) read(id string) (*Token, error) {
	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\") {
		return nil, fmt.Errorf("invalid token id")
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &token, nil
}

func (s *TokenStore) writeAtomic(token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(token.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(token.ID))
}
