// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package localstore is the on-disk write-through cache for objects
// fetched from a backing store: once an object is written here it is
// served from disk on every subsequent lookup, never re-fetched.
package localstore

import (
	"os"
	"path/filepath"

	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

// Namespace directory names under the store root. Blobs and trees are
// kept apart from derived blob metadata so a metadata-only write path
// never collides with object bytes sharing the same hash-sharded
// name.
const (
	treeDir     = "tree"
	blobDir     = "blob"
	blobMetaDir = "blobmeta"
	tmpDir      = "tmp"
)

// Store is a key-value cache keyed by [objhash.Hash], rooted at a
// directory on disk. Writes are atomic (temp file + rename); readers
// never observe a partially written entry.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating the namespace
// directories if they do not already exist.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{treeDir, blobDir, blobMetaDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errs.Wrap(errs.IO, err, "localstore: creating %s", sub)
		}
	}
	return &Store{root: dir}, nil
}

// HasBlob reports whether a blob is cached for hash.
func (s *Store) HasBlob(hash objhash.Hash) bool {
	return exists(s.shardPath(blobDir, hash))
}

// HasTree reports whether a tree is cached for hash.
func (s *Store) HasTree(hash objhash.Hash) bool {
	return exists(s.shardPath(treeDir, hash))
}

// ReadBlob returns the cached blob bytes for hash, or NotFound if
// absent.
func (s *Store) ReadBlob(hash objhash.Hash) ([]byte, error) {
	return s.read(blobDir, hash)
}

// WriteBlob stores blob bytes for hash, overwriting any prior entry.
func (s *Store) WriteBlob(hash objhash.Hash, content []byte) error {
	return s.write(blobDir, hash, content)
}

// ReadTree returns the cached serialized tree bytes for hash (the
// git wire format — package object deserializes it), or NotFound if
// absent.
func (s *Store) ReadTree(hash objhash.Hash) ([]byte, error) {
	return s.read(treeDir, hash)
}

// WriteTree stores serialized tree bytes for hash.
func (s *Store) WriteTree(hash objhash.Hash, serialized []byte) error {
	return s.write(treeDir, hash, serialized)
}

// ReadBlobMeta returns cached derived metadata (currently: the
// content SHA-1) for a blob hash, or NotFound if never computed.
func (s *Store) ReadBlobMeta(hash objhash.Hash) ([]byte, error) {
	return s.read(blobMetaDir, hash)
}

// WriteBlobMeta stores derived metadata for a blob hash.
func (s *Store) WriteBlobMeta(hash objhash.Hash, meta []byte) error {
	return s.write(blobMetaDir, hash, meta)
}

func (s *Store) read(namespace string, hash objhash.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.shardPath(namespace, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "localstore: %s/%s not cached", namespace, hash)
		}
		return nil, errs.Wrap(errs.IO, err, "localstore: reading %s/%s", namespace, hash)
	}
	return data, nil
}

// write stores data at namespace/hash via temp-file-then-rename, so a
// concurrent reader never observes a half-written file.
func (s *Store) write(namespace string, hash objhash.Hash, data []byte) error {
	finalPath := s.shardPath(namespace, hash)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return errs.Wrap(errs.IO, err, "localstore: creating shard directory for %s/%s", namespace, hash)
	}

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), namespace+"-*.tmp")
	if err != nil {
		return errs.Wrap(errs.IO, err, "localstore: creating temp file for %s/%s", namespace, hash)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return errs.Wrap(errs.IO, err, "localstore: writing %s/%s", namespace, hash)
	}
	if err := tmpFile.Close(); err != nil {
		return errs.Wrap(errs.IO, err, "localstore: closing temp file for %s/%s", namespace, hash)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return errs.Wrap(errs.IO, err, "localstore: renaming into place %s/%s", namespace, hash)
	}
	success = true
	return nil
}

// shardPath mirrors git's two-character sharding: namespace/<first 2
// hex chars>/<remaining 38 hex chars>.
func (s *Store) shardPath(namespace string, hash objhash.Hash) string {
	hex := hash.String()
	return filepath.Join(s.root, namespace, hex[:2], hex[2:])
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
