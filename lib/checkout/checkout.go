// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package checkout reconciles a mount's live inode tree against a new
// commit: a recursive three-way merge over the previously checked-out
// tree, the target tree, and whatever the overlay currently holds.
// Conflicts are collected rather than raised, so one stubborn file
// never blocks an otherwise-clean checkout; the snapshot only moves
// once the whole tree has been walked.
package checkout

import (
	"context"
	"sync"

	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/inode"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
	"github.com/mirrorfs/mirrorfs/lib/overlay"
)

// ConflictType classifies why a path could not be reconciled cleanly.
type ConflictType int

const (
	// ModifiedBlocksCheckout: the path was locally modified and the
	// target tree's entry differs from what it was checked out from.
	ModifiedBlocksCheckout ConflictType = iota
	// DirectoryNotEmpty: the target tree removes a directory that
	// still has untracked children.
	DirectoryNotEmpty
	// Untracked: the path has no record in the prior tree, is
	// untracked locally, and the target tree wants to introduce an
	// entry there.
	Untracked
)

func (t ConflictType) String() string {
	switch t {
	case ModifiedBlocksCheckout:
		return "MODIFIED_BLOCKS_CHECKOUT"
	case DirectoryNotEmpty:
		return "DIRECTORY_NOT_EMPTY"
	case Untracked:
		return "UNTRACKED"
	default:
		return "UNKNOWN"
	}
}

// Conflict names one path that could not be reconciled without either
// force or manual resolution.
type Conflict struct {
	Path objhash.RelativePath
	Type ConflictType
}

// Journal records one delta for the whole checkout, naming every path
// whose observable content or presence changed.
type Journal interface {
	RecordCheckout(fromHash, toHash objhash.Hash, changedPaths []objhash.RelativePath)
}

// Engine performs checkouts against one mount's arena and overlay.
type Engine struct {
	manager *inode.Manager
	overlay *overlay.Overlay
	journal Journal

	// mu serializes checkouts against this mount, matching the spec's
	// "a single checkout is serialized by the mount lock" ordering
	// rule — concurrent Checkout calls queue rather than interleave.
	mu sync.Mutex
}

// New returns an Engine operating against manager's arena.
func New(manager *inode.Manager, ovl *overlay.Overlay, journal Journal) *Engine {
	return &Engine{manager: manager, overlay: ovl, journal: journal}
}

// Checkout reconciles the live tree against targetHash. force
// overwrites local modifications and untracked collisions instead of
// reporting them as blocking; the conflict is still returned for
// caller visibility. On success SNAPSHOT is updated atomically and
// exactly one journal delta is recorded. Partial failure (anything
// but a per-path conflict — in practice an IO error reading the
// snapshot or a tree) leaves SNAPSHOT unchanged.
func (e *Engine) Checkout(ctx context.Context, targetHash objhash.Hash, force bool) ([]Conflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.overlay.CloneSucceeded() {
		return nil, errs.New(errs.Internal, "checkout: mount not finished cloning")
	}

	fromHash, err := e.overlay.ReadSnapshot()
	if err != nil {
		return nil, err
	}

	oldTree, err := e.manager.Store().GetTree(ctx, fromHash)
	if err != nil {
		return nil, err
	}
	newTree, err := e.manager.Store().GetTree(ctx, targetHash)
	if err != nil {
		return nil, err
	}

	r := &run{
		ctx:     ctx,
		manager: e.manager,
		force:   force,
	}
	if err := r.reconcileDir(e.manager.Root(), oldTree, newTree, objhash.Root); err != nil {
		return nil, err
	}

	if !force && len(r.conflicts) > 0 {
		// Blocking conflicts without force: nothing was actually
		// changed on disk for those paths, so SNAPSHOT stays put and
		// no journal delta is recorded — only the conflict list is
		// reported back to the caller.
		return r.conflicts, nil
	}

	if err := e.overlay.WriteSnapshot(targetHash); err != nil {
		return nil, err
	}
	e.manager.RebindRoot(targetHash)

	if e.journal != nil {
		e.journal.RecordCheckout(fromHash, targetHash, r.changedPaths)
	}
	return r.conflicts, nil
}

// run carries the mutable state threaded through one recursive
// checkout walk.
type run struct {
	ctx     context.Context
	manager *inode.Manager
	force   bool

	conflicts    []Conflict
	changedPaths []objhash.RelativePath
}

func (r *run) markChanged(path objhash.RelativePath) {
	r.changedPaths = append(r.changedPaths, path)
}

func (r *run) conflict(path objhash.RelativePath, t ConflictType) {
	r.conflicts = append(r.conflicts, Conflict{Path: path, Type: t})
}

// reconcileDir walks every name present in oldTree, newTree, or the
// live directory listing under dirPath, applying the checkout
// algorithm to each.
func (r *run) reconcileDir(dir *inode.Inode, oldTree, newTree object.Tree, dirPath objhash.RelativePath) error {
	names := unionNames(oldTree, newTree)

	children, err := r.manager.Children(r.ctx, dir)
	if err != nil {
		return err
	}
	for name := range children {
		names[name] = struct{}{}
	}

	for name := range names {
		oldEntry, inOld := oldTree.Lookup(name)
		newEntry, inNew := newTree.Lookup(name)
		path := dirPath.Join(name)

		childID, liveExists := children[name]
		var child *inode.Inode
		if liveExists {
			child, err = r.manager.Get(childID)
			if err != nil {
				return err
			}
		}

		if err := r.reconcileEntry(dir, path, name, oldEntry, inOld, newEntry, inNew, child); err != nil {
			return err
		}
	}
	return nil
}

// reconcileEntry applies the per-name checkout algorithm from the
// spec's checkout engine section. child is nil when the arena has
// never lazily loaded this name.
func (r *run) reconcileEntry(
	dir *inode.Inode,
	path objhash.RelativePath,
	name objhash.PathComponent,
	oldEntry object.Entry, inOld bool,
	newEntry object.Entry, inNew bool,
	child *inode.Inode,
) error {
	switch {
	case inOld && inNew && child != nil:
		return r.reconcileExisting(dir, path, name, oldEntry, newEntry, child)

	case inOld && !inNew:
		// Removed upstream. Safe to drop if unmodified; a
		// non-empty untracked directory blocks unless forced.
		return r.reconcileRemoved(dir, path, name, oldEntry, child)

	case !inOld && inNew && child == nil:
		// Newly introduced upstream, nothing local at this name.
		r.manager.AddChild(dir, newEntry)
		r.markChanged(path)
		return nil

	case !inOld && inNew && child != nil:
		// Untracked locally, new tree wants to place an entry here.
		return r.reconcileUntrackedCollision(dir, path, name, newEntry, child)

	case !inOld && !inNew && child != nil:
		// Untracked locally and neither tree cares about this name;
		// nothing to reconcile.
		return nil

	default:
		return nil
	}
}

// reconcileExisting handles a name present in both trees and in the
// live arena: the "was this inode modified relative to old_tree"
// branch of the algorithm.
func (r *run) reconcileExisting(dir *inode.Inode, path objhash.RelativePath, name objhash.PathComponent, oldEntry, newEntry object.Entry, child *inode.Inode) error {
	if oldEntry.Type == object.Directory && newEntry.Type == object.Directory {
		oldSub, err := r.manager.Store().GetTree(r.ctx, oldEntry.Hash)
		if err != nil {
			return err
		}
		newSub, err := r.manager.Store().GetTree(r.ctx, newEntry.Hash)
		if err != nil {
			return err
		}
		return r.reconcileDir(child, oldSub, newSub, path)
	}

	unmodified, err := r.isUnmodified(child, oldEntry)
	if err != nil {
		return err
	}

	sameInBothTrees := entriesEqual(oldEntry, newEntry)

	switch {
	case unmodified:
		if sameInBothTrees {
			return nil
		}
		if err := r.manager.DiscardMaterialization(child, newEntry); err != nil {
			return err
		}
		r.markChanged(path)
		return nil

	case sameInBothTrees:
		// Modified locally, but the new tree didn't move this path:
		// keep the local modification untouched.
		return nil

	default:
		r.conflict(path, ModifiedBlocksCheckout)
		if r.force {
			if err := r.manager.DiscardMaterialization(child, newEntry); err != nil {
				return err
			}
			r.markChanged(path)
		}
		return nil
	}
}

// reconcileRemoved handles a name present in oldTree but absent from
// newTree.
func (r *run) reconcileRemoved(dir *inode.Inode, path objhash.RelativePath, name objhash.PathComponent, oldEntry object.Entry, child *inode.Inode) error {
	if child == nil {
		return nil
	}

	if oldEntry.Type == object.Directory {
		hasUntracked, err := r.directoryHasUntracked(child, oldEntry)
		if err != nil {
			return err
		}
		if hasUntracked && !r.force {
			r.conflict(path, DirectoryNotEmpty)
			return nil
		}
	} else {
		unmodified, err := r.isUnmodified(child, oldEntry)
		if err != nil {
			return err
		}
		if !unmodified && !r.force {
			r.conflict(path, ModifiedBlocksCheckout)
			return nil
		}
	}

	if err := r.manager.RemoveChild(dir, name); err != nil {
		return err
	}
	r.markChanged(path)
	return nil
}

// reconcileUntrackedCollision handles a name absent from oldTree,
// untracked locally, where newTree wants to introduce an entry.
func (r *run) reconcileUntrackedCollision(dir *inode.Inode, path objhash.RelativePath, name objhash.PathComponent, newEntry object.Entry, child *inode.Inode) error {
	r.conflict(path, Untracked)
	if !r.force {
		return nil
	}
	if err := r.manager.DiscardMaterialization(child, newEntry); err != nil {
		return err
	}
	r.markChanged(path)
	return nil
}

// isUnmodified reports whether child's current content matches
// oldEntry: cheap (hash comparison) if still unmaterialized, a
// content-SHA1 comparison against the recorded blob digest otherwise.
func (r *run) isUnmodified(child *inode.Inode, oldEntry object.Entry) (bool, error) {
	if !child.IsMaterialized() {
		return child.Hash() == oldEntry.Hash, nil
	}
	if oldEntry.Type != object.RegularFile {
		return false, nil
	}
	currentDigest, _, err := r.manager.Sha1(r.ctx, child)
	if err != nil {
		return false, err
	}
	oldDigest, err := r.manager.Store().GetSha1ForBlob(r.ctx, oldEntry.Hash)
	if err != nil {
		return false, err
	}
	return currentDigest == oldDigest, nil
}

// directoryHasUntracked reports whether dir (whose old tree entry is
// oldEntry) has any child not present in oldEntry's tree.
func (r *run) directoryHasUntracked(dir *inode.Inode, oldEntry object.Entry) (bool, error) {
	oldSub, err := r.manager.Store().GetTree(r.ctx, oldEntry.Hash)
	if err != nil {
		return false, err
	}
	children, err := r.manager.Children(r.ctx, dir)
	if err != nil {
		return false, err
	}
	for name := range children {
		if _, ok := oldSub.Lookup(name); !ok {
			return true, nil
		}
	}
	return false, nil
}

func entriesEqual(a, b object.Entry) bool {
	return a.Hash == b.Hash && a.Type == b.Type && a.PermBits == b.PermBits
}

func unionNames(a, b object.Tree) map[objhash.PathComponent]struct{} {
	names := make(map[objhash.PathComponent]struct{}, len(a.Entries)+len(b.Entries))
	for _, e := range a.Entries {
		names[e.Name] = struct{}{}
	}
	for _, e := range b.Entries {
		names[e.Name] = struct{}{}
	}
	return names
}
