// Package integrity verifies the running binary against an expected
// digest at startup. A mismatch is recorded as a tamper event before the
// process refuses to start; a build with no expected digest skips the
// check.
package integrity

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/causalvault/internal/model"
)

// ExpectedDigest is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/causalvault/internal/integrity.ExpectedDigest=sha256:<hex>"
//
// When empty (dev builds), verification falls back to the digest file.
var ExpectedDigest string

// TamperLogDir holds the tamper event log. Override for testing.
var TamperLogDir = "/var/log/causalvault"

// DigestPaths are checked in order for a digest file holding the expected
// binary digest, either bare hex or in the sha256:<hex> notation the rest
// of the system uses. Override for testing.
var DigestPaths = []string{
	"/etc/causalvault/binary.sha256",
	"$HOME/.causalvault/binary.sha256",
}

// TamperEvent is one line of the tamper log.
type TamperEvent struct {
	Timestamp string `json:"timestamp"`
	Binary    string `json:"binary"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Hostname  string `json:"hostname"`
}

// Verify compares the running binary's digest against ExpectedDigest, or
// against the first readable digest file when no digest was linked in.
// Nil when they match or when there is nothing to check against; on
// mismatch the tamper event is durably logged before the error returns.
func Verify() error {
	expected := ExpectedDigest
	if expected == "" {
		expected = digestFromFile()
	}
	if expected == "" {
		return nil
	}

	binary, actual, err := HashSelf()
	if err != nil {
		return err
	}
	if actual == expected {
		return nil
	}

	recordTamper(TamperEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Binary:    binary,
		Expected:  expected,
		Actual:    actual,
	})
	return fmt.Errorf("integrity: binary digest mismatch: expected %s, got %s", expected, actual)
}

// HashSelf returns the running binary's path and prefixed digest. Used
// after install to produce the digest file.
func HashSelf() (path, digest string, err error) {
	path, err = os.Executable()
	if err != nil {
		return "", "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("integrity: cannot open binary: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", "", fmt.Errorf("integrity: cannot hash binary: %w", err)
	}
	return path, fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

// digestFromFile returns the first well-formed digest found at
// DigestPaths, normalized to the prefixed notation. Garbage content is
// skipped, not trusted.
func digestFromFile() string {
	for _, p := range DigestPaths {
		raw, err := os.ReadFile(os.ExpandEnv(p))
		if err != nil {
			continue
		}
		d := strings.TrimSpace(string(raw))
		if !strings.HasPrefix(d, "sha256:") {
			d = "sha256:" + d
		}
		if model.ValidDigest(d) {
			return d
		}
	}
	return ""
}

func recordTamper(event TamperEvent) {
	event.Hostname, _ = os.Hostname()
	line, err := json.Marshal(event)
	if err != nil {
		return
	}

	if err := os.MkdirAll(TamperLogDir, 0700); err == nil {
		path := filepath.Join(TamperLogDir, "tamper.jsonl")
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600); err == nil {
			f.Write(append(line, '\n'))
			f.Sync()
			f.Close()
		}
	}

	fmt.Fprintf(os.Stderr, "TAMPER ALERT: %s\n", line)
}
