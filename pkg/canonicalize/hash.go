// Package canonicalize provides content fingerprints for ingested payloads and
// RFC 8785 (JSON Canonicalization Scheme) digests for structured values.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes computes the SHA-256 digest of raw bytes and returns it hex-encoded.
// It is the identity used by the ingestion ledger for a source object's content.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// PrefixedHash returns the digest in "sha256:<hex>" form.
func PrefixedHash(data []byte) string {
	return "sha256:" + HashBytes(data)
}
