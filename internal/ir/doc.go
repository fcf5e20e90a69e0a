// Package ir provides the value model shared by every livedb package.
//
// This package contains the row value types, their ordering, canonical
// encoding and hashing. All other internal packages import ir; ir imports
// nothing internal. This keeps the value model the foundational layer with
// no circular dependencies.
//
// VALUES:
//
// IRValue is a sealed interface. Only IRNull, IRString, IRInt, IRFloat,
// IRBool, IRArray and IRObject implement it. A Go nil IRValue stands for an
// undefined (missing) field and is distinct from IRNull.
//
// Rows are IRObject values. Keys are IRString or IRInt values (see Key) and
// are used directly as Go map keys.
//
// ORDERING:
//
// Compare defines the total order used by indexes and ORDER BY:
//
//	undefined < null < bool < number < string < array < object
//
// Ints and floats compare numerically. Arrays compare element-wise, then by
// length. Objects compare by their canonical encoding.
//
// CANONICAL ENCODING:
//
// MarshalCanonical produces RFC 8785 style JSON (UTF-16 key order, NFC
// strings, no HTML escaping). It is the only encoding used for hashing:
//   - Fingerprint: xxhash over the canonical bytes, for hash buckets
//   - StructuralHash: SHA-256 with domain separation, for stable identities
package ir
