package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Domain prefixes for structural hashes.
// Version suffix enables future algorithm migration.
const (
	DomainStrategy = "livedb/strategy/v1"
	DomainQuery    = "livedb/query/v1"
	DomainGroup    = "livedb/group/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StructuralHash returns a stable identity for v under the given domain.
// Two values with equal canonical encodings always hash alike.
func StructuralHash(domain string, v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("structural hash: %w", err)
	}
	return hashWithDomain(domain, data), nil
}

// MustStructuralHash is like StructuralHash but panics on error.
func MustStructuralHash(domain string, v any) string {
	h, err := StructuralHash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}

// Fingerprint returns a fast non-cryptographic hash of v's canonical
// encoding. Equal values (per Equal) have equal fingerprints; callers must
// still compare with Equal to resolve collisions.
func Fingerprint(v IRValue) uint64 {
	data, err := MarshalCanonical(v)
	if err != nil {
		// Non-finite floats are the only failure; bucket them together.
		return 0
	}
	return xxhash.Sum64(data)
}

// CanonicalString returns the canonical encoding of v as a string.
// Used as a map key for group keys where hashing collisions are not acceptable.
func CanonicalString(v IRValue) string {
	data, err := MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
