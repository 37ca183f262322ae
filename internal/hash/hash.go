// Package hash computes content fingerprints for uploaded bytes.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex-encoded sha256 digest of data. The digest of
// the original upload bytes is the dedup key for the whole pipeline.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
