// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectstore is the façade the rest of mirrorfs talks to for
// blob and tree content: it coalesces concurrent fetches for the same
// hash into a single backing-store round trip and maintains the
// derived blob SHA-1 metadata the inode layer needs for getattr/sha1
// without re-hashing on every call.
package objectstore

import (
	"context"
	"sync"

	"github.com/mirrorfs/mirrorfs/lib/backingstore"
	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/localstore"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

// Store is the object store façade: local-cache-first reads that fall
// through to a backing-store Fetcher, with at most one in-flight
// fetch per hash no matter how many callers ask concurrently.
type Store struct {
	local   *localstore.Store
	fetcher backingstore.Fetcher

	mu       sync.Mutex
	inflight map[objhash.Hash]*call
}

// call represents one in-flight fetch (of either kind) that other
// callers asking for the same hash can wait on instead of issuing
// their own backing-store request.
type call struct {
	done    chan struct{}
	content []byte
	err     error
}

// New returns a Store backed by local (the on-disk cache) and fetcher
// (the upstream collaborator used on a cache miss).
func New(local *localstore.Store, fetcher backingstore.Fetcher) *Store {
	return &Store{
		local:    local,
		fetcher:  fetcher,
		inflight: make(map[objhash.Hash]*call),
	}
}

// GetBlob returns a blob's contents, checking the local cache first
// and falling through to the backing store on a miss. The fetched
// bytes are written to the local cache before being returned.
func (s *Store) GetBlob(ctx context.Context, hash objhash.Hash) ([]byte, error) {
	if content, err := s.local.ReadBlob(hash); err == nil {
		return content, nil
	} else if !errs.Is(err, errs.NotFound) {
		return nil, err
	}

	content, err := s.coalesced(hash, func() ([]byte, error) {
		return s.fetcher.FetchBlob(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	if err := s.local.WriteBlob(hash, content); err != nil {
		return nil, err
	}
	return content, nil
}

// GetTree returns a tree, checking the local cache first and falling
// through to the backing store on a miss.
func (s *Store) GetTree(ctx context.Context, hash objhash.Hash) (object.Tree, error) {
	if serialized, err := s.local.ReadTree(hash); err == nil {
		return object.Deserialize(serialized)
	} else if !errs.Is(err, errs.NotFound) {
		return object.Tree{}, err
	}

	var tree object.Tree
	fetchedHere := false
	serialized, err := s.coalesced(hash, func() ([]byte, error) {
		fetched, fetchErr := s.fetcher.FetchTree(ctx, hash)
		if fetchErr != nil {
			return nil, fetchErr
		}
		tree = fetched
		fetchedHere = true
		return object.Serialize(fetched.Entries)
	})
	if err != nil {
		return object.Tree{}, err
	}
	if err := s.local.WriteTree(hash, serialized); err != nil {
		return object.Tree{}, err
	}
	if !fetchedHere {
		// Another caller ran the fetch; rebuild the tree from its bytes.
		return object.Deserialize(serialized)
	}
	return tree, nil
}

// GetSha1ForBlob returns the SHA-1 of a blob's contents, computing and
// caching it on first request for a given hash. This is the "what is
// the content hash of this unmaterialized blob" query the inode layer
// needs for getattr/sha1 without reading the full blob on every call
// once the digest has been computed once.
func (s *Store) GetSha1ForBlob(ctx context.Context, hash objhash.Hash) (objhash.Hash, error) {
	if meta, err := s.local.ReadBlobMeta(hash); err == nil {
		if digest, parseErr := objhash.Parse(string(meta)); parseErr == nil {
			return digest, nil
		}
	}

	content, err := s.GetBlob(ctx, hash)
	if err != nil {
		return objhash.Hash{}, err
	}
	digest := objhash.Sum(content)
	if err := s.local.WriteBlobMeta(hash, []byte(digest.String())); err != nil {
		return objhash.Hash{}, err
	}
	return digest, nil
}

// coalesced runs fetch for hash, sharing the result among any callers
// that ask for the same hash while fetch is still running.
func (s *Store) coalesced(hash objhash.Hash, fetch func() ([]byte, error)) ([]byte, error) {
	s.mu.Lock()
	if c, ok := s.inflight[hash]; ok {
		s.mu.Unlock()
		<-c.done
		return c.content, c.err
	}
	c := &call{done: make(chan struct{})}
	s.inflight[hash] = c
	s.mu.Unlock()

	c.content, c.err = fetch()
	close(c.done)

	s.mu.Lock()
	delete(s.inflight, hash)
	s.mu.Unlock()

	return c.content, c.err
}
