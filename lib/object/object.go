// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package object defines the immutable Blob and Tree entities and the
// git-compatible wire format that serializes a Tree's entries.
package object

import (
	"sort"

	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

// Blob is an immutable sequence of bytes identified by a source-control
// hash, which may differ from the SHA-1 of its own contents (that
// derived value is computed on demand via [Blob.ContentHash]).
type Blob struct {
	Hash     objhash.Hash
	Contents []byte
}

// ContentHash returns the SHA-1 digest of the blob's contents. This
// may differ from Hash: Hash is the backing store's object identity,
// while ContentHash is always a fresh digest of what is actually
// stored.
func (b Blob) ContentHash() objhash.Hash {
	return objhash.Sum(b.Contents)
}

// FileType classifies a tree entry's kind.
type FileType int

const (
	RegularFile FileType = iota
	Symlink
	Directory
)

// PermBits is a 3-bit {read, write, execute} field for the entry
// owner. Only the execute bit varies in practice (git tree modes
// encode directory/regular/symlink with a fixed perm pattern each),
// but all three bits are carried since inode mode bits need them.
type PermBits uint8

const (
	PermRead    PermBits = 1 << 2
	PermWrite   PermBits = 1 << 1
	PermExecute PermBits = 1 << 0
)

// Entry is one child of a Tree: a name mapped to a hash, file type,
// and owner permission bits.
type Entry struct {
	Name     objhash.PathComponent
	Hash     objhash.Hash
	Type     FileType
	PermBits PermBits
}

// Tree is an immutable, ordered directory listing. Entries are kept
// sorted by [treeOrderLess] at all times — [NewTree] sorts on
// construction and [Deserialize] trusts the wire format's order (it
// neither re-sorts nor checks it).
type Tree struct {
	Hash    objhash.Hash
	Entries []Entry
}

// NewTree builds a Tree from an unordered set of entries, sorting them
// into git tree order. Does not compute Hash — callers that need a
// real object hash persist the tree through the object store, which
// assigns Hash from the backing store's identity (mirrorfs never
// invents git hashes locally: it reads them from upstream).
func NewTree(entries []Entry) Tree {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return treeOrderLess(sorted[i], sorted[j])
	})
	return Tree{Entries: sorted}
}

// treeOrderLess implements git's tree entry ordering: entries compare
// as plain byte strings, except that directory names are compared as
// if they had a trailing separator. This means "foo" sorts after
// "foo.txt" when "foo" is a directory (since '/' > '.'... no: '.' is
// 0x2e and '/' is 0x2f, so a literal "foo/bar" sorts after "foo.txt"
// — appending the implicit separator reproduces that without
// requiring the entry to already contain one).
func treeOrderLess(a, b Entry) bool {
	return sortKey(a) < sortKey(b)
}

func sortKey(e Entry) string {
	if e.Type == Directory {
		return string(e.Name) + "/"
	}
	return string(e.Name)
}

// Lookup returns the entry named name, and whether it was found. Runs
// in O(log n): a name can be stored under one of two possible sort
// keys depending on whether it names a directory ("name/") or a file
// ("name"), so Lookup performs two exact-match binary searches rather
// than one — each is still O(log n), and since no two entries can
// share a key (names are unique per Tree), at most one of the two
// searches can hit.
func (t Tree) Lookup(name objhash.PathComponent) (Entry, bool) {
	if entry, ok := exactSearch(t.Entries, string(name)); ok {
		return entry, true
	}
	return exactSearch(t.Entries, string(name)+"/")
}

// exactSearch finds the entry whose sortKey equals key exactly.
func exactSearch(entries []Entry, key string) (Entry, bool) {
	low, high := 0, len(entries)
	for low < high {
		mid := (low + high) / 2
		switch {
		case sortKey(entries[mid]) < key:
			low = mid + 1
		case sortKey(entries[mid]) > key:
			high = mid
		default:
			return entries[mid], true
		}
	}
	return Entry{}, false
}
