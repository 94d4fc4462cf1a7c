// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

func TestWriteThenReadBlob(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	hash := objhash.Sum([]byte("hello\n"))
	require.NoError(t, store.WriteBlob(hash, []byte("hello\n")))

	assert.True(t, store.HasBlob(hash))
	content, err := store.ReadBlob(hash)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))
}

func TestReadMissingBlobIsNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.ReadBlob(objhash.MustParse("000000000000000000000000000000000000000a"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestBlobAndTreeNamespacesDoNotCollide(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	hash := objhash.Sum([]byte("shared contents"))
	require.NoError(t, store.WriteBlob(hash, []byte("as a blob")))
	require.NoError(t, store.WriteTree(hash, []byte("as a tree")))

	blob, err := store.ReadBlob(hash)
	require.NoError(t, err)
	assert.Equal(t, "as a blob", string(blob))

	tree, err := store.ReadTree(hash)
	require.NoError(t, err)
	assert.Equal(t, "as a tree", string(tree))
}

func TestWriteBlobMetaRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	hash := objhash.Sum([]byte("data"))
	contentSHA1 := objhash.Sum([]byte("data"))
	require.NoError(t, store.WriteBlobMeta(hash, contentSHA1[:]))

	meta, err := store.ReadBlobMeta(hash)
	require.NoError(t, err)
	assert.Equal(t, contentSHA1[:], meta)
}
