package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// GenesisHash is the prev_hash for the first entry of a new session chain:
// 32 zero bytes in the repo's prefixed hex notation.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Digest returns "sha256:<hex>" of the given bytes. Every digest in the
// system uses this notation so stored hashes are self-describing.
func Digest(b []byte) string {
	h := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DigestString is Digest over a string payload.
func DigestString(s string) string {
	return Digest([]byte(s))
}

// ValidDigest reports whether s looks like a well-formed prefixed digest.
func ValidDigest(s string) bool {
	rest, ok := strings.CutPrefix(s, "sha256:")
	if !ok || len(rest) != 64 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
