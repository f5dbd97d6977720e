package integrity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withDigest(t *testing.T, expected string) {
	t.Helper()
	oldDigest, oldPaths, oldDir := ExpectedDigest, DigestPaths, TamperLogDir
	ExpectedDigest = expected
	DigestPaths = []string{"/nonexistent/binary.sha256"}
	TamperLogDir = t.TempDir()
	t.Cleanup(func() {
		ExpectedDigest, DigestPaths, TamperLogDir = oldDigest, oldPaths, oldDir
	})
}

func TestVerifySkipsWithNothingToCheckAgainst(t *testing.T) {
	withDigest(t, "")
	if err := Verify(); err != nil {
		t.Fatalf("expected nil with no expected digest, got %v", err)
	}
}

func TestVerifyPassesAgainstOwnDigest(t *testing.T) {
	_, self, err := HashSelf()
	if err != nil {
		t.Fatalf("hash self: %v", err)
	}
	withDigest(t, self)
	if err := Verify(); err != nil {
		t.Fatalf("expected pass against own digest, got %v", err)
	}
}

func TestVerifyFailsOnMismatch(t *testing.T) {
	withDigest(t, "sha256:"+strings.Repeat("00", 32))
	if err := Verify(); err == nil {
		t.Fatal("expected error for mismatched digest")
	}
}

func TestTamperEventWrittenOnMismatch(t *testing.T) {
	withDigest(t, "sha256:"+strings.Repeat("00", 32))
	Verify()

	data, err := os.ReadFile(filepath.Join(TamperLogDir, "tamper.jsonl"))
	if err != nil {
		t.Fatalf("expected tamper log to exist: %v", err)
	}

	var event TamperEvent
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &event); err != nil {
		t.Fatalf("failed to parse tamper event: %v", err)
	}
	if event.Expected != ExpectedDigest {
		t.Errorf("expected %s, got %s", ExpectedDigest, event.Expected)
	}
	if !strings.HasPrefix(event.Actual, "sha256:") {
		t.Errorf("actual digest %q lacks notation prefix", event.Actual)
	}
	if event.Binary == "" || event.Timestamp == "" {
		t.Errorf("incomplete event: %+v", event)
	}
}

func TestTamperLogPermissions(t *testing.T) {
	withDigest(t, "sha256:"+strings.Repeat("00", 32))
	TamperLogDir = filepath.Join(t.TempDir(), "tamper-perms")
	Verify()

	dirInfo, err := os.Stat(TamperLogDir)
	if err != nil {
		t.Fatal(err)
	}
	if dirInfo.Mode().Perm() != 0700 {
		t.Errorf("dir perm = %04o, want 0700", dirInfo.Mode().Perm())
	}
	fileInfo, err := os.Stat(filepath.Join(TamperLogDir, "tamper.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if fileInfo.Mode().Perm() != 0600 {
		t.Errorf("file perm = %04o, want 0600", fileInfo.Mode().Perm())
	}
}

func TestDigestFileFallback(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"bare hex", strings.Repeat("ab", 32) + "\n", "sha256:" + strings.Repeat("ab", 32)},
		{"prefixed", "sha256:" + strings.Repeat("cd", 32), "sha256:" + strings.Repeat("cd", 32)},
		{"garbage", "not a digest", ""},
		{"truncated", "sha256:abcd", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "binary.sha256")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}
			oldPaths := DigestPaths
			DigestPaths = []string{path}
			defer func() { DigestPaths = oldPaths }()

			if got := digestFromFile(); got != tc.want {
				t.Errorf("digestFromFile = %q, want %q", got, tc.want)
			}
		})
	}
}
