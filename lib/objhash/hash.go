// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package objhash defines the content identifiers and path types
// shared by every other package in mirrorfs: a 20-byte git-compatible
// hash, and the three path kinds (absolute, relative, component) that
// the inode layer and checkout engine navigate with.
package objhash

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// Size is the byte length of a Hash (SHA-1 digest size).
const Size = 20

// Hash is a 20-byte content identifier. It names blobs, trees, and
// commits interchangeably — the object model (package object)
// distinguishes what a given Hash refers to.
type Hash [Size]byte

// Zero is the all-zero Hash, used as a sentinel for "no parent
// commit" and similar absent-value cases.
var Zero Hash

// Sum computes the SHA-1 digest of data as a Hash. This is the
// derived "content SHA-1" used for modification checks; it is
// intentionally the same algorithm as the object identity hash,
// though the two may differ in value for a given blob (the object
// hash is whatever the backing store assigned it).
func Sum(data []byte) Hash {
	return Hash(sha1.Sum(data))
}

// Compare returns -1, 0, or 1 as a sorts before, equals, or sorts
// after b, using byte-exact ordering.
func (h Hash) Compare(b Hash) int {
	return bytes.Compare(h[:], b[:])
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Parse decodes a 40-character hex string into a Hash.
func Parse(hexString string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return h, fmt.Errorf("parsing hash %q: %w", hexString, err)
	}
	if len(decoded) != Size {
		return h, fmt.Errorf("hash %q is %d bytes, want %d", hexString, len(decoded), Size)
	}
	copy(h[:], decoded)
	return h, nil
}

// MustParse is like Parse but panics on error. Intended for literal
// hashes in tests and constants, never for external input.
func MustParse(hexString string) Hash {
	h, err := Parse(hexString)
	if err != nil {
		panic(err)
	}
	return h
}
