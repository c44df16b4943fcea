package keys

import (
	"crypto/sha256"
	"encoding/hex"
)

// Mask returns an irreversibly truncated display form of a raw key:
// first four and last four characters with the middle elided. Short keys
// collapse to "***" so nothing useful can be recovered.
func Mask(raw string) string {
	r := []rune(raw)
	if len(r) <= 12 {
		return "***"
	}
	return string(r[:4]) + "..." + string(r[len(r)-4:])
}

// HashKey computes the deterministic digest of a sanitized raw key used
// for duplicate detection. The digest is one-way; it is never a
// substitute for encryption.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashIndexKey is the duplicate-index entry key for a given key hash.
func HashIndexKey(hash string) string {
	return "api_key_hash_" + hash
}
