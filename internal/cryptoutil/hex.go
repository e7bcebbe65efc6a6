// Package cryptoutil holds the digest helpers shared by the ledger and config.
package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestPrefix tags every content digest verity emits.
const DigestPrefix = "sha256:"

// SHA256Hex returns "sha256:" followed by the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// IsHexString reports whether s consists entirely of hexadecimal characters
// (0-9, a-f, A-F). It returns true for an empty string; callers should check
// length separately when a minimum size is required.
func IsHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
