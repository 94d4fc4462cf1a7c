// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backingstore defines the Fetcher collaborator: the thing
// that knows how to retrieve a Blob or Tree, by hash, from whatever
// repository mirrorfs is projecting. Every Fetcher implementation is
// read-only from mirrorfs's point of view — the source of truth lives
// upstream.
package backingstore

import (
	"context"

	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

// Fetcher retrieves objects from an upstream repository by hash.
// Implementations fail with [errs.NotFound] when the hash is absent
// upstream, [errs.MalformedObject] when upstream returns bytes that do
// not parse as the requested kind, and [errs.IO] for any transport
// failure.
type Fetcher interface {
	// FetchBlob returns the blob's raw contents.
	FetchBlob(ctx context.Context, hash objhash.Hash) ([]byte, error)

	// FetchTree returns the parsed tree.
	FetchTree(ctx context.Context, hash objhash.Hash) (object.Tree, error)

	// Close releases any held connections or file descriptors.
	Close() error
}

// wrongKindErr builds the MalformedObject error used when a caller
// asked for the wrong kind (e.g. FetchTree on a blob hash).
func wrongKindErr(wantKind, gotKind string, hash objhash.Hash) error {
	return errs.New(errs.MalformedObject, "backingstore: object %s is a %s, not a %s", hash, gotKind, wantKind)
}
