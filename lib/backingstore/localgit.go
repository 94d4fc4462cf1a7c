// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backingstore

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

// LocalGit fetches objects from a real .git/objects loose-object
// store on the local filesystem. It does not read packfiles: a
// checkout directory mirrorfs is attached to is expected to be kept
// unpacked (git gc disabled, or loose objects refreshed ahead of
// mirrorfs by the caller). That restriction is acceptable here since
// LocalGit exists for local development and testing against a real
// repository, not as mirrorfs's only backing store — see SshGit for
// the path that talks to an upstream that manages its own packing.
type LocalGit struct {
	gitDir string
}

// NewLocalGit returns a Fetcher rooted at gitDir (a repository's
// ".git" directory, or the repository root for a bare repository).
func NewLocalGit(gitDir string) *LocalGit {
	return &LocalGit{gitDir: gitDir}
}

var _ Fetcher = (*LocalGit)(nil)

func (l *LocalGit) Close() error { return nil }

// FetchBlob reads and inflates the loose object for hash and returns
// its content, failing with MalformedObject if it is not a blob.
func (l *LocalGit) FetchBlob(ctx context.Context, hash objhash.Hash) ([]byte, error) {
	kind, inflated, err := l.readLooseObject(hash)
	if err != nil {
		return nil, err
	}
	if kind != "blob" {
		return nil, wrongKindErr("blob", kind, hash)
	}
	_, body := splitEnvelope(inflated)
	nul := bytes.IndexByte(body, 0)
	if nul < 0 {
		return nil, errs.New(errs.MalformedObject, "backingstore: blob %s missing length terminator", hash)
	}
	return body[nul+1:], nil
}

// FetchTree reads and inflates the loose object for hash and parses
// it as a tree. A git tree loose object's envelope ("tree <len>\0" +
// entries) is byte-identical to mirrorfs's own wire format (package
// object), so the inflated bytes are handed to object.Deserialize
// directly rather than re-framed.
func (l *LocalGit) FetchTree(ctx context.Context, hash objhash.Hash) (object.Tree, error) {
	kind, inflated, err := l.readLooseObject(hash)
	if err != nil {
		return object.Tree{}, err
	}
	if kind != "tree" {
		return object.Tree{}, wrongKindErr("tree", kind, hash)
	}
	return object.Deserialize(inflated)
}

// readLooseObject inflates the loose object for hash and returns its
// type word together with the full inflated bytes (envelope and all —
// FetchTree needs the envelope intact; FetchBlob strips it itself).
func (l *LocalGit) readLooseObject(hash objhash.Hash) (kind string, inflated []byte, err error) {
	path := l.looseObjectPath(hash)
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return "", nil, errs.New(errs.NotFound, "backingstore: object %s not found in %s", hash, l.gitDir)
		}
		return "", nil, errs.Wrap(errs.IO, readErr, "backingstore: reading loose object %s", hash)
	}
	inflated, inflateErr := inflate(raw)
	if inflateErr != nil {
		return "", nil, errs.Wrap(errs.Corrupt, inflateErr, "backingstore: inflating loose object %s", hash)
	}
	kind, _ = splitEnvelope(inflated)
	if kind == "" {
		return "", nil, errs.New(errs.MalformedObject, "backingstore: loose object %s has no type header", hash)
	}
	return kind, inflated, nil
}

// looseObjectPath mirrors git's loose-object layout:
// .git/objects/<first 2 hex chars>/<remaining 38 hex chars>.
func (l *LocalGit) looseObjectPath(hash objhash.Hash) string {
	hex := hash.String()
	return filepath.Join(l.gitDir, "objects", hex[:2], hex[2:])
}

func inflate(raw []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// splitEnvelope splits a git loose object's "<type> <len>\0..."
// envelope, returning the type word and everything from the space
// onward (i.e. the length header plus content, unmodified — callers
// that need the raw content strip the length header themselves).
func splitEnvelope(data []byte) (kind string, rest []byte) {
	space := bytes.IndexByte(data, ' ')
	if space < 0 {
		return "", nil
	}
	nul := bytes.IndexByte(data, 0)
	if nul < 0 || nul < space {
		return "", nil
	}
	return string(data[:space]), data[space+1:]
}
