// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package inode is the inode arena and state machine: the layer that
// turns a checked-out commit (reachable only by hash through the
// object store) and a client directory's overlay into a live tree of
// inodes a filesystem adapter can resolve, read, and write.
//
// Every inode starts unmaterialized — it knows only the hash of the
// object it mirrors. The first write-intent open materializes it: its
// current content is copied into the overlay and its hash reference
// is cleared. From then on the overlay is authoritative for that
// inode until the next checkout discards or rebases it.
package inode

import (
	"context"
	"sync"
	"time"

	"github.com/mirrorfs/mirrorfs/lib/clock"
	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objectstore"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
	"github.com/mirrorfs/mirrorfs/lib/overlay"
)

// ID identifies an inode within one Manager's arena.
type ID uint64

// RootID is the inode id of the mount root. Its parent is itself.
const RootID ID = 1

// Journal receives a path every time an inode's observable state
// changes, so the journal can fold it into the current generation's
// delta. Defined here (rather than imported from lib/journal) to
// avoid a cyclic dependency — lib/journal's concrete type satisfies
// this trivially.
type Journal interface {
	RecordChange(path objhash.RelativePath)
}

// Attr is the subset of POSIX metadata mirrorfs tracks per inode.
type Attr struct {
	Type     object.FileType
	PermBits object.PermBits
	Size     int64
	Atime    time.Time
	Mtime    time.Time
	UID      uint32
	GID      uint32
}

// Inode is one node in the arena: either a file or a directory,
// either unmaterialized (mirrors a source-store object by hash) or
// materialized (backed by an overlay handle). Exactly one of those is
// true at any time.
type Inode struct {
	ID       ID
	ParentID ID
	Name     objhash.PathComponent
	Type     object.FileType
	perm     object.PermBits
	atime    time.Time
	mtime    time.Time
	uid      uint32
	gid      uint32

	mu sync.RWMutex

	// hash is set when the inode is unmaterialized: it names the
	// source-store object (blob or tree) this inode currently
	// mirrors. The zero Hash plus materialized=true means overlay
	// storage is authoritative instead.
	hash         objhash.Hash
	materialized bool

	// cachedSize memoizes an unmaterialized file's size once fetched,
	// so repeated getattr calls do not re-fetch the blob just to
	// measure it.
	cachedSize *int64

	// children caches a directory's name -> child ID mapping once
	// loaded (from the tree for unmaterialized directories, from the
	// overlay listing for materialized ones).
	children       map[objhash.PathComponent]ID
	childrenLoaded bool
}

func (n *Inode) isDir() bool { return n.Type == object.Directory }

// Manager owns the inode arena for one client directory: id
// allocation, the root inode, and the object-store/overlay
// collaborators every operation delegates to.
type Manager struct {
	store   *objectstore.Store
	overlay *overlay.Overlay
	clock   clock.Clock
	journal Journal

	mu      sync.Mutex
	nextID  ID
	inodes  map[ID]*Inode
	byPath  map[pathKey]ID // (parentID, name) -> ID, for fast resolve
}

type pathKey struct {
	parent ID
	name   objhash.PathComponent
}

// New returns a Manager with a fresh root directory inode mirroring
// rootTreeHash.
func New(store *objectstore.Store, ovl *overlay.Overlay, clk clock.Clock, journal Journal, rootTreeHash objhash.Hash) *Manager {
	m := &Manager{
		store:   store,
		overlay: ovl,
		clock:   clk,
		journal: journal,
		nextID:  RootID + 1,
		inodes:  make(map[ID]*Inode),
		byPath:  make(map[pathKey]ID),
	}
	root := &Inode{
		ID:       RootID,
		ParentID: RootID,
		Type:     object.Directory,
		perm:     object.PermRead | object.PermWrite | object.PermExecute,
		atime:    clk.Now(),
		mtime:    clk.Now(),
		hash:     rootTreeHash,
	}
	m.inodes[RootID] = root
	return m
}

func (m *Manager) allocID() ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	return id
}

// Get returns the inode for id, or NotFound.
func (m *Manager) Get(id ID) (*Inode, error) {
	m.mu.Lock()
	n, ok := m.inodes[id]
	m.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "inode: no such inode %d", id)
	}
	return n, nil
}

// Resolve walks path's components from the root, loading directory
// contents on demand, and returns the inode at the end of the path.
// Resolving the root path returns the root inode.
func (m *Manager) Resolve(ctx context.Context, path objhash.RelativePath) (*Inode, error) {
	current, err := m.Get(RootID)
	if err != nil {
		return nil, err
	}
	for _, component := range path.Components() {
		child, err := m.lookupChild(ctx, current, component)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// lookupChild returns parent's child named component, loading
// parent's children if not yet loaded.
func (m *Manager) lookupChild(ctx context.Context, parent *Inode, component objhash.PathComponent) (*Inode, error) {
	if !parent.isDir() {
		return nil, errs.New(errs.InvalidArgument, "inode: %q is not a directory", parent.Name)
	}
	if err := m.ensureChildrenLoaded(ctx, parent); err != nil {
		return nil, err
	}

	parent.mu.RLock()
	childID, ok := parent.children[component]
	parent.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "inode: %q has no child %q", parent.Name, component)
	}
	return m.Get(childID)
}

// ensureChildrenLoaded populates dir.children from the tree (if
// unmaterialized) or the overlay listing (if materialized), the first
// time any lookup or List call touches dir.
func (m *Manager) ensureChildrenLoaded(ctx context.Context, dir *Inode) error {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if dir.childrenLoaded {
		return nil
	}

	children := make(map[objhash.PathComponent]ID)
	if dir.materialized {
		entries, err := m.overlay.ReadDir(uint64(dir.ID))
		if err != nil {
			return err
		}
		for _, e := range entries {
			id := ID(e.InodeID)
			if _, exists := m.inodes[id]; !exists {
				m.registerFromOverlayEntry(id, dir.ID, e)
			}
			children[objhash.PathComponent(e.Name)] = id
		}
	} else {
		tree, err := m.store.GetTree(ctx, dir.hash)
		if err != nil {
			return err
		}
		for _, e := range tree.Entries {
			// A checkout that rebinds dir's hash may run before this
			// directory's children are reloaded: reuse the existing
			// inode (and its ID) for a name the arena already knows
			// about rather than allocating a duplicate that would
			// orphan any materialized state or cached callers hold.
			m.mu.Lock()
			existingID, known := m.byPath[pathKey{dir.ID, e.Name}]
			m.mu.Unlock()
			if known {
				if existing, err := m.Get(existingID); err == nil && !existing.IsMaterialized() {
					existing.mu.Lock()
					existing.Type = e.Type
					existing.perm = e.PermBits
					existing.hash = e.Hash
					existing.mu.Unlock()
					children[e.Name] = existingID
					continue
				}
				if existing, err := m.Get(existingID); err == nil {
					children[e.Name] = existing.ID
					continue
				}
			}

			id := m.allocID()
			child := &Inode{
				ID:       id,
				ParentID: dir.ID,
				Name:     e.Name,
				Type:     e.Type,
				perm:     e.PermBits,
				atime:    m.clock.Now(),
				mtime:    m.clock.Now(),
				hash:     e.Hash,
			}
			m.mu.Lock()
			m.inodes[id] = child
			m.byPath[pathKey{dir.ID, e.Name}] = id
			m.mu.Unlock()
			children[e.Name] = id
		}
	}

	dir.children = children
	dir.childrenLoaded = true
	return nil
}

// registerFromOverlayEntry creates the arena entry for a child whose
// identity the caller only just learned from an overlay directory
// listing (e.g. after a daemon restart where the arena was rebuilt
// from disk rather than kept warm in memory).
func (m *Manager) registerFromOverlayEntry(id, parentID ID, e overlay.DirEntry) {
	fileType := object.RegularFile
	permBits := object.PermBits(e.Mode & 0b111)
	if e.Mode&0o40000 != 0 {
		fileType = object.Directory
	} else if e.Mode&0o120000 == 0o120000 {
		fileType = object.Symlink
	}
	child := &Inode{
		ID:           id,
		ParentID:     parentID,
		Name:         objhash.PathComponent(e.Name),
		Type:         fileType,
		perm:         permBits,
		atime:        m.clock.Now(),
		mtime:        m.clock.Now(),
		materialized: e.Hash == nil,
	}
	if e.Hash != nil {
		child.hash = *e.Hash
	}
	m.mu.Lock()
	m.inodes[id] = child
	m.byPath[pathKey{parentID, objhash.PathComponent(e.Name)}] = id
	m.mu.Unlock()
}

// List returns the names of dir's children.
func (m *Manager) List(ctx context.Context, dir *Inode) ([]objhash.PathComponent, error) {
	if !dir.isDir() {
		return nil, errs.New(errs.InvalidArgument, "inode: %q is not a directory", dir.Name)
	}
	if err := m.ensureChildrenLoaded(ctx, dir); err != nil {
		return nil, err
	}
	dir.mu.RLock()
	defer dir.mu.RUnlock()
	names := make([]objhash.PathComponent, 0, len(dir.children))
	for name := range dir.children {
		names = append(names, name)
	}
	return names, nil
}
