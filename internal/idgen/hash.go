// Package idgen generates short hash-based identifiers for stories and
// queue jobs.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// DefaultLength is the hash suffix length for generated IDs.
const DefaultLength = 7

// EncodeBase36 converts a byte slice to a base36 string of specified length.
// Base36 (0-9, a-z) gives better information density than hex while staying
// safe in URLs, branch names, and tracker identifiers.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	// Build the string in reverse
	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	// Truncate to exact length if needed (keep least significant digits)
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// hashBytes maps a desired base36 length to the number of hash bytes that
// carry at least that much entropy.
func hashBytes(length int) int {
	switch length {
	case 3:
		return 2 // 16 bits ≈ 3.09 base36 chars
	case 4:
		return 3 // 24 bits ≈ 4.63 base36 chars
	case 5, 6:
		return 4 // 32 bits ≈ 6.18 base36 chars
	case 7, 8:
		return 5 // 40 bits ≈ 7.73 base36 chars
	default:
		return 3
	}
}

// StoryID derives a stable story identifier from the story's content hash.
// The same finding always yields the same ID, which is what lets triage
// re-runs detect already-created stories instead of duplicating them.
// nonce is incremented by the caller on the rare ID collision between
// distinct content.
func StoryID(contentHash string, length, nonce int) string {
	content := fmt.Sprintf("%s|%d", contentHash, nonce)
	hash := sha256.Sum256([]byte(content))
	return "story-" + EncodeBase36(hash[:hashBytes(length)], length)
}

// JobID derives a queue job identifier. Jobs are transient so the ID folds
// in the enqueue timestamp: re-enqueueing a story after its previous job
// finished yields a distinct job ID.
func JobID(storyID string, enqueuedAt time.Time, nonce int) string {
	content := fmt.Sprintf("%s|%d|%d", storyID, enqueuedAt.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))
	return "job-" + EncodeBase36(hash[:hashBytes(DefaultLength)], DefaultLength)
}

// SessionID derives an agent session identifier from its parent linkage and
// start time.
func SessionID(storyID, parentID string, startedAt time.Time) string {
	content := fmt.Sprintf("%s|%s|%d", storyID, parentID, startedAt.UnixNano())
	hash := sha256.Sum256([]byte(content))
	return "sess-" + EncodeBase36(hash[:hashBytes(DefaultLength)], DefaultLength)
}
