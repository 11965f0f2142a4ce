// Package cryptoutil holds key-material helpers shared by the signing and
// sealing stores.
package cryptoutil

import (
	"encoding/hex"
	"fmt"
)

// IsHexString reports whether s consists entirely of hexadecimal characters.
// It returns true for an empty string.
func IsHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// ResolveKey interprets key as hex when it is an even-length hex string of at
// least 2*minLen characters, and as raw bytes otherwise. The result must be
// at least minLen bytes.
func ResolveKey(key string, minLen int) ([]byte, error) {
	if len(key) >= 2*minLen && len(key)%2 == 0 && IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("key hex decode: %w", err)
		}
		return decoded, nil
	}
	if len(key) < minLen {
		return nil, fmt.Errorf("key must be at least %d bytes (got %d)", minLen, len(key))
	}
	return []byte(key), nil
}

// Key32 resolves key and folds it to exactly 32 bytes, as required by
// secretbox. Longer keys are truncated.
func Key32(key string) (*[32]byte, error) {
	b, err := ResolveKey(key, 32)
	if err != nil {
		return nil, err
	}
	var out [32]byte
	copy(out[:], b)
	return &out, nil
}
