// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/mirrorfs/lib/clock"
	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/inode"
	"github.com/mirrorfs/mirrorfs/lib/localstore"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objectstore"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
	"github.com/mirrorfs/mirrorfs/lib/overlay"
)

type memFetcher struct {
	blobs map[objhash.Hash][]byte
	trees map[objhash.Hash]object.Tree
}

func newMemFetcher() *memFetcher {
	return &memFetcher{blobs: make(map[objhash.Hash][]byte), trees: make(map[objhash.Hash]object.Tree)}
}

func (f *memFetcher) FetchBlob(_ context.Context, hash objhash.Hash) ([]byte, error) {
	if content, ok := f.blobs[hash]; ok {
		return content, nil
	}
	return nil, errs.New(errs.NotFound, "memFetcher: no blob %s", hash)
}

func (f *memFetcher) FetchTree(_ context.Context, hash objhash.Hash) (object.Tree, error) {
	if tree, ok := f.trees[hash]; ok {
		return tree, nil
	}
	return object.Tree{}, errs.New(errs.NotFound, "memFetcher: no tree %s", hash)
}

func (f *memFetcher) Close() error { return nil }

func (f *memFetcher) putBlob(content []byte) objhash.Hash {
	hash := objhash.Sum(content)
	f.blobs[hash] = content
	return hash
}

func (f *memFetcher) putTree(entries []object.Entry) objhash.Hash {
	tree := object.NewTree(entries)
	serialized, err := object.Serialize(tree.Entries)
	if err != nil {
		panic(err)
	}
	hash := objhash.Sum(serialized)
	f.trees[hash] = object.Tree{Hash: hash, Entries: tree.Entries}
	return hash
}

func mustPath(t *testing.T, s string) objhash.RelativePath {
	t.Helper()
	p, err := objhash.NewRelativePath(s)
	require.NoError(t, err)
	return p
}

func setup(t *testing.T) (*Dirstate, *inode.Manager, *memFetcher, *overlay.Overlay) {
	t.Helper()
	local, err := localstore.Open(t.TempDir())
	require.NoError(t, err)
	fetcher := newMemFetcher()
	store := objectstore.New(local, fetcher)
	ovl, err := overlay.Open(t.TempDir())
	require.NoError(t, err)

	b1 := fetcher.putBlob([]byte("clean\n"))
	rootHash := fetcher.putTree([]object.Entry{
		{Name: "tracked", Hash: b1, Type: object.RegularFile, PermBits: object.PermRead | object.PermWrite},
	})
	require.NoError(t, ovl.WriteSnapshot(rootHash))

	m := inode.New(store, ovl, clock.Fake(time.Unix(0, 0)), nil, rootHash)
	d, err := Load(m, store, ovl)
	require.NoError(t, err)
	return d, m, fetcher, ovl
}

func TestStatusCleanFile(t *testing.T) {
	d, _, _, _ := setup(t)
	status, err := d.Status(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, Clean, status[mustPath(t, "tracked")])
}

func TestStatusModifiedAfterWrite(t *testing.T) {
	d, m, _, _ := setup(t)
	ctx := context.Background()

	n, err := m.Resolve(ctx, mustPath(t, "tracked"))
	require.NoError(t, err)
	require.NoError(t, m.MaterializeForWrite(ctx, n))
	_, err = m.Write(ctx, n, 0, []byte("dirty\n"))
	require.NoError(t, err)

	status, err := d.Status(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Modified, status[mustPath(t, "tracked")])
}

func TestAddRequiresPathToResolve(t *testing.T) {
	d, _, _, _ := setup(t)
	ctx := context.Background()

	results := d.Add(ctx, []objhash.RelativePath{mustPath(t, "missing")})
	assert.Error(t, results[mustPath(t, "missing")])
}

func TestRemoveWithoutForceRejectsModifiedFile(t *testing.T) {
	d, m, _, _ := setup(t)
	ctx := context.Background()

	n, err := m.Resolve(ctx, mustPath(t, "tracked"))
	require.NoError(t, err)
	require.NoError(t, m.MaterializeForWrite(ctx, n))
	_, err = m.Write(ctx, n, 0, []byte("dirty\n"))
	require.NoError(t, err)

	results := d.Remove(ctx, []objhash.RelativePath{mustPath(t, "tracked")}, false)
	assert.Error(t, results[mustPath(t, "tracked")])

	results = d.Remove(ctx, []objhash.RelativePath{mustPath(t, "tracked")}, true)
	assert.NoError(t, results[mustPath(t, "tracked")])

	status, err := d.Status(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Removed, status[mustPath(t, "tracked")])
}

func TestStatusUntrackedFileReportedUnlessIgnored(t *testing.T) {
	d, m, _, _ := setup(t)
	ctx := context.Background()

	root := mustRoot(t, m)
	_, err := m.List(ctx, root)
	require.NoError(t, err)

	// Simulate a locally created file by adding it directly to the
	// arena the way materializeDirLocked would after a create.
	child := m.AddChild(root, object.Entry{
		Name:     mustComponent(t, "scratch"),
		Type:     object.RegularFile,
		PermBits: object.PermRead | object.PermWrite,
	})
	require.NotNil(t, child)

	status, err := d.Status(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, NotTracked, status[mustPath(t, "scratch")])
}

func TestAddMarksUntrackedFileAdded(t *testing.T) {
	d, m, _, _ := setup(t)
	ctx := context.Background()

	root := mustRoot(t, m)
	_, err := m.List(ctx, root)
	require.NoError(t, err)
	m.AddChild(root, object.Entry{
		Name:     mustComponent(t, "scratch"),
		Type:     object.RegularFile,
		PermBits: object.PermRead | object.PermWrite,
	})

	results := d.Add(ctx, []objhash.RelativePath{mustPath(t, "scratch")})
	require.NoError(t, results[mustPath(t, "scratch")])

	status, err := d.Status(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Added, status[mustPath(t, "scratch")])
}

func TestMarkCommittedClearsDirectives(t *testing.T) {
	d, m, fetcher, _ := setup(t)
	ctx := context.Background()

	n, err := m.Resolve(ctx, mustPath(t, "tracked"))
	require.NoError(t, err)
	require.NoError(t, m.MaterializeForWrite(ctx, n))
	_, err = m.Write(ctx, n, 0, []byte("dirty\n"))
	require.NoError(t, err)

	results := d.Remove(ctx, []objhash.RelativePath{mustPath(t, "tracked")}, true)
	require.NoError(t, results[mustPath(t, "tracked")])

	newHash := fetcher.putTree(nil)
	require.NoError(t, d.MarkCommitted(newHash, []objhash.RelativePath{mustPath(t, "tracked")}, nil))

	d.mu.Lock()
	_, stillPending := d.directives[mustPath(t, "tracked")]
	d.mu.Unlock()
	assert.False(t, stillPending)
}

func mustRoot(t *testing.T, m *inode.Manager) *inode.Inode {
	t.Helper()
	n, err := m.Get(inode.RootID)
	require.NoError(t, err)
	return n
}

func mustComponent(t *testing.T, s string) objhash.PathComponent {
	t.Helper()
	c, err := objhash.NewPathComponent(s)
	require.NoError(t, err)
	return c
}
