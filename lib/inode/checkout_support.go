// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"context"

	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objectstore"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
	"github.com/mirrorfs/mirrorfs/lib/overlay"
)

// The methods in this file are the narrow surface lib/checkout needs
// to reconcile the live arena against a new commit tree: reading and
// mutating arena state that Resolve/Read/Write never need to touch
// directly. Kept separate from inode.go's read path so the ordinary
// FUSE-facing API surface stays easy to audit on its own.

// Store returns the object store backing this arena's unmaterialized
// reads.
func (m *Manager) Store() *objectstore.Store { return m.store }

// Overlay returns the overlay backing this arena's materialized
// state.
func (m *Manager) Overlay() *overlay.Overlay { return m.overlay }

// Root returns the arena's root directory inode.
func (m *Manager) Root() *Inode {
	n, _ := m.Get(RootID)
	return n
}

// IsMaterialized reports n's current materialization state.
func (n *Inode) IsMaterialized() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.materialized
}

// Hash returns n's source-store hash reference. Meaningless unless n
// is unmaterialized; callers check IsMaterialized first.
func (n *Inode) Hash() objhash.Hash {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hash
}

// Children returns dir's current name -> inode mapping, loading it
// on demand exactly as Resolve/List do.
func (m *Manager) Children(ctx context.Context, dir *Inode) (map[objhash.PathComponent]ID, error) {
	if err := m.ensureChildrenLoaded(ctx, dir); err != nil {
		return nil, err
	}
	dir.mu.RLock()
	defer dir.mu.RUnlock()
	out := make(map[objhash.PathComponent]ID, len(dir.children))
	for name, id := range dir.children {
		out[name] = id
	}
	return out, nil
}

// RebindUnmaterialized swaps an unmaterialized inode's hash/type/perm
// to entry's values without touching the overlay — the "cheap" path
// the checkout algorithm takes for an inode that was never modified
// locally.
func (n *Inode) RebindUnmaterialized(entry object.Entry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.materialized {
		return errs.New(errs.Internal, "inode: RebindUnmaterialized called on materialized inode %d", n.ID)
	}
	n.Type = entry.Type
	n.perm = entry.PermBits
	n.hash = entry.Hash
	n.cachedSize = nil
	n.childrenLoaded = false
	n.children = nil
	return nil
}

// DiscardMaterialization drops n's overlay-backed content and rebinds
// it to entry, as the checkout algorithm does when a materialized
// inode's content turns out to be unmodified relative to old_tree (so
// it is safe to replace with new_tree's entry) or when force
// discards a real local modification.
func (m *Manager) DiscardMaterialization(n *Inode, entry object.Entry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.materialized {
		if err := m.overlay.Remove(uint64(n.ID)); err != nil {
			return err
		}
	}
	n.Type = entry.Type
	n.perm = entry.PermBits
	n.hash = entry.Hash
	n.materialized = false
	n.cachedSize = nil
	n.childrenLoaded = false
	n.children = nil
	return nil
}

// AddChild creates a new unmaterialized child inode under parent for
// entry, the path the checkout algorithm takes for a name present in
// new_tree but absent from the live arena (a name newly added
// upstream, or a name the arena has not yet lazily loaded).
func (m *Manager) AddChild(parent *Inode, entry object.Entry) *Inode {
	id := m.allocID()
	child := &Inode{
		ID:       id,
		ParentID: parent.ID,
		Name:     entry.Name,
		Type:     entry.Type,
		perm:     entry.PermBits,
		atime:    m.clock.Now(),
		mtime:    m.clock.Now(),
		hash:     entry.Hash,
	}
	m.mu.Lock()
	m.inodes[id] = child
	m.byPath[pathKey{parent.ID, entry.Name}] = id
	m.mu.Unlock()

	parent.mu.Lock()
	if parent.children == nil {
		parent.children = make(map[objhash.PathComponent]ID)
	}
	parent.children[entry.Name] = id
	parent.mu.Unlock()
	return child
}

// RemoveChild deletes name from parent's arena bookkeeping and, if
// the child was materialized, its overlay storage. Used when a name
// present in old_tree is absent from new_tree and the checkout
// algorithm determines it is safe to delete (unmodified, or force).
func (m *Manager) RemoveChild(parent *Inode, name objhash.PathComponent) error {
	parent.mu.Lock()
	id, ok := parent.children[name]
	if ok {
		delete(parent.children, name)
	}
	parent.mu.Unlock()
	if !ok {
		return nil
	}

	child, err := m.Get(id)
	if err != nil {
		return nil
	}
	if child.IsMaterialized() {
		if err := m.overlay.Remove(uint64(id)); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.inodes, id)
	delete(m.byPath, pathKey{parent.ID, name})
	m.mu.Unlock()
	return nil
}

// RootHash returns the arena root's current source-store hash. Valid
// only while the root is unmaterialized, which it always is (the
// mount root is never itself materialized — only its children are).
func (m *Manager) RootHash() objhash.Hash {
	return m.Root().Hash()
}

// RebindRoot replaces the arena root's tree hash after a successful
// checkout.
func (m *Manager) RebindRoot(hash objhash.Hash) {
	root := m.Root()
	root.mu.Lock()
	root.hash = hash
	root.childrenLoaded = false
	root.children = nil
	root.mu.Unlock()
}
