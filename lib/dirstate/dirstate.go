// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dirstate tracks the user-visible status of a checked-out
// tree: which paths the user has explicitly staged for addition or
// removal, and the derived status code for every path under the
// mount, combining the committed tree, the live overlay, and
// .gitignore patterns.
package dirstate

import (
	"context"
	"sort"
	"sync"

	"github.com/mirrorfs/mirrorfs/lib/codec"
	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/inode"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objectstore"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
	"github.com/mirrorfs/mirrorfs/lib/overlay"
)

// Code classifies a path's status relative to the committed tree.
type Code int

const (
	Clean Code = iota
	Added
	Removed
	Modified
	Missing
	NotTracked
	Ignored
)

func (c Code) String() string {
	switch c {
	case Clean:
		return "CLEAN"
	case Added:
		return "ADDED"
	case Removed:
		return "REMOVED"
	case Modified:
		return "MODIFIED"
	case Missing:
		return "MISSING"
	case NotTracked:
		return "NOT_TRACKED"
	case Ignored:
		return "IGNORED"
	default:
		return "UNKNOWN"
	}
}

// directive is a user-recorded intent for a path, persisted across
// restarts until the next commit clears it.
type directive int

const (
	directiveAdd directive = iota
	directiveRemove
)

// persistedEntry is directive's CBOR-on-disk shape.
type persistedEntry struct {
	Path      string
	Directive directive
}

// Dirstate tracks pending add/remove directives for one mount and
// computes status by walking the committed tree against the live
// arena.
type Dirstate struct {
	manager *inode.Manager
	store   *objectstore.Store
	overlay *overlay.Overlay

	mu         sync.Mutex
	directives map[objhash.RelativePath]directive
}

// Load restores a Dirstate from its persisted directive set, if any.
func Load(manager *inode.Manager, store *objectstore.Store, ovl *overlay.Overlay) (*Dirstate, error) {
	d := &Dirstate{
		manager:    manager,
		store:      store,
		overlay:    ovl,
		directives: make(map[objhash.RelativePath]directive),
	}
	data, err := ovl.ReadDirstate()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return d, nil
	}
	var entries []persistedEntry
	if err := codec.Unmarshal(data, &entries); err != nil {
		return nil, errs.Wrap(errs.Corrupt, err, "dirstate: decoding persisted directives")
	}
	for _, e := range entries {
		path, err := objhash.NewRelativePath(e.Path)
		if err != nil {
			continue
		}
		d.directives[path] = e.Directive
	}
	return d, nil
}

// save persists the current directive set. Caller holds d.mu.
func (d *Dirstate) save() error {
	entries := make([]persistedEntry, 0, len(d.directives))
	for path, dir := range d.directives {
		entries = append(entries, persistedEntry{Path: string(path), Directive: dir})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	data, err := codec.Marshal(entries)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "dirstate: encoding directives")
	}
	return d.overlay.WriteDirstate(data)
}

// Add records an ADD directive for every path in paths, independently
// reporting each path's outcome. A path must currently resolve (in
// the tree or the overlay) to be addable.
func (d *Dirstate) Add(ctx context.Context, paths []objhash.RelativePath) map[objhash.RelativePath]error {
	d.mu.Lock()
	defer d.mu.Unlock()

	results := make(map[objhash.RelativePath]error, len(paths))
	for _, path := range paths {
		if _, err := d.manager.Resolve(ctx, path); err != nil {
			results[path] = err
			continue
		}
		d.directives[path] = directiveAdd
		results[path] = nil
	}
	if err := d.save(); err != nil {
		for path := range results {
			if results[path] == nil {
				results[path] = err
			}
		}
	}
	return results
}

// Remove records a REMOVE directive for every path in paths. Without
// force, a path whose live content differs from the committed tree's
// entry is rejected rather than staged for removal.
func (d *Dirstate) Remove(ctx context.Context, paths []objhash.RelativePath, force bool) map[objhash.RelativePath]error {
	d.mu.Lock()
	defer d.mu.Unlock()

	committedHash, err := d.overlay.ReadSnapshot()
	if err != nil {
		results := make(map[objhash.RelativePath]error, len(paths))
		for _, path := range paths {
			results[path] = err
		}
		return results
	}

	results := make(map[objhash.RelativePath]error, len(paths))
	for _, path := range paths {
		n, err := d.manager.Resolve(ctx, path)
		if err != nil {
			results[path] = err
			continue
		}
		if !force {
			entry, found, err := lookupInTree(ctx, d.store, committedHash, path)
			if err != nil {
				results[path] = err
				continue
			}
			if found {
				unmodified, err := d.isUnmodified(ctx, n, entry)
				if err != nil {
					results[path] = err
					continue
				}
				if !unmodified {
					results[path] = errs.New(errs.InvalidArgument, "dirstate: %q has local modifications, use force to remove", path)
					continue
				}
			}
		}
		d.directives[path] = directiveRemove
		results[path] = nil
	}
	if err := d.save(); err != nil {
		for path := range results {
			if results[path] == nil {
				results[path] = err
			}
		}
	}
	return results
}

// MarkCommitted records hash as the new committed snapshot and clears
// directives for paths that were just folded into the commit
// (paths_to_clean) or abandoned (paths_to_drop).
func (d *Dirstate) MarkCommitted(hash objhash.Hash, pathsToClean, pathsToDrop []objhash.RelativePath) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, path := range pathsToClean {
		delete(d.directives, path)
	}
	for _, path := range pathsToDrop {
		delete(d.directives, path)
	}
	if err := d.overlay.WriteSnapshot(hash); err != nil {
		return err
	}
	return d.save()
}

// isUnmodified reports whether n's live content still matches
// entry's recorded hash: trivially true for an unmaterialized inode
// (its hash reference IS the tree entry), or a SHA-1 comparison for a
// materialized one.
func (d *Dirstate) isUnmodified(ctx context.Context, n *inode.Inode, entry object.Entry) (bool, error) {
	if !n.IsMaterialized() {
		return n.Hash() == entry.Hash, nil
	}
	if entry.Type != object.RegularFile {
		return false, nil
	}
	liveSha1, _, err := d.manager.Sha1(ctx, n)
	if err != nil {
		return false, err
	}
	wantSha1, err := d.store.GetSha1ForBlob(ctx, entry.Hash)
	if err != nil {
		return false, err
	}
	return liveSha1 == wantSha1, nil
}

// lookupInTree walks rootHash's tree to find path's entry, fetching
// intermediate subtrees on demand. This is deliberately independent
// of the live inode arena: once an inode materializes, its own hash
// reference is discarded, so the only remaining source of truth for
// "what did the commit actually say" is the tree object itself.
func lookupInTree(ctx context.Context, store *objectstore.Store, rootHash objhash.Hash, path objhash.RelativePath) (object.Entry, bool, error) {
	components := path.Components()
	if len(components) == 0 {
		return object.Entry{}, false, nil
	}
	currentHash := rootHash
	for i, component := range components {
		tree, err := store.GetTree(ctx, currentHash)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				return object.Entry{}, false, nil
			}
			return object.Entry{}, false, err
		}
		entry, ok := tree.Lookup(component)
		if !ok {
			return object.Entry{}, false, nil
		}
		if i == len(components)-1 {
			return entry, true, nil
		}
		if entry.Type != object.Directory {
			return object.Entry{}, false, nil
		}
		currentHash = entry.Hash
	}
	return object.Entry{}, false, nil
}

// Status walks the committed tree and the live arena together,
// returning every path's status code. Ignored paths are omitted
// unless listIgnored is set.
func (d *Dirstate) Status(ctx context.Context, listIgnored bool) (map[objhash.RelativePath]Code, error) {
	d.mu.Lock()
	committedHash, err := d.overlay.ReadSnapshot()
	directives := make(map[objhash.RelativePath]directive, len(d.directives))
	for k, v := range d.directives {
		directives[k] = v
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	committedTree, err := d.store.GetTree(ctx, committedHash)
	if err != nil {
		return nil, err
	}

	result := make(map[objhash.RelativePath]Code)
	matcher := d.loadIgnoreMatcher(ctx, d.manager.Root())
	walker := &statusWalker{d: d, ctx: ctx, directives: directives, listIgnored: listIgnored, result: result}
	if err := walker.walkDir(d.manager.Root(), committedTree.Entries, objhash.Root, matcher); err != nil {
		return nil, err
	}
	return result, nil
}

type statusWalker struct {
	d           *Dirstate
	ctx         context.Context
	directives  map[objhash.RelativePath]directive
	listIgnored bool
	result      map[objhash.RelativePath]Code
}

// walkDir reconciles one directory level: committed names the
// commit's tree listed here, against liveChildren the arena currently
// knows about (loading it if not yet loaded).
func (w *statusWalker) walkDir(dir *inode.Inode, committed []object.Entry, dirPath objhash.RelativePath, parentMatcher *Matcher) error {
	liveChildren, err := w.d.manager.Children(w.ctx, dir)
	if err != nil {
		return err
	}
	matcher := w.d.loadIgnoreMatcher(w.ctx, dir)
	if matcher == nil {
		matcher = parentMatcher
	}

	committedByName := make(map[objhash.PathComponent]object.Entry, len(committed))
	for _, e := range committed {
		committedByName[e.Name] = e
	}

	names := make(map[objhash.PathComponent]bool)
	for name := range committedByName {
		names[name] = true
	}
	for name := range liveChildren {
		names[name] = true
	}

	for name := range names {
		path := dirPath.Join(name)
		committedEntry, inCommitted := committedByName[name]
		childID, inLive := liveChildren[name]

		directiveForPath, hasDirective := w.directives[path]

		switch {
		case inCommitted && inLive:
			child, err := w.d.manager.Get(childID)
			if err != nil {
				return err
			}
			if hasDirective && directiveForPath == directiveRemove {
				w.result[path] = Removed
				continue
			}
			if committedEntry.Type == object.Directory {
				subtree, err := w.d.childTree(w.ctx, committedEntry)
				if err != nil {
					return err
				}
				if err := w.walkDir(child, subtree, path, matcher); err != nil {
					return err
				}
				continue
			}
			unmodified, err := w.d.isUnmodified(w.ctx, child, committedEntry)
			if err != nil {
				return err
			}
			if unmodified {
				w.result[path] = Clean
			} else {
				w.result[path] = Modified
			}

		case inCommitted && !inLive:
			w.result[path] = Missing

		case !inCommitted && inLive:
			if hasDirective && directiveForPath == directiveAdd {
				w.result[path] = Added
				continue
			}
			child, err := w.d.manager.Get(childID)
			if err != nil {
				return err
			}
			basename := name.String()
			isDir := child.Type == object.Directory
			ignored := matcher != nil && matcher.Match(string(path), basename, isDir) == Exclude
			if ignored && !w.listIgnored {
				continue
			}
			if ignored {
				w.result[path] = Ignored
				continue
			}
			if isDir {
				if err := w.walkDir(child, nil, path, matcher); err != nil {
					return err
				}
				continue
			}
			w.result[path] = NotTracked
		}
	}
	return nil
}

// childTree fetches entry's subtree, or an empty listing if entry is
// not (or no longer) resolvable — a path that vanished between the
// commit read and this walk is treated as an empty directory rather
// than failing the whole status call.
func (d *Dirstate) childTree(ctx context.Context, entry object.Entry) ([]object.Entry, error) {
	tree, err := d.store.GetTree(ctx, entry.Hash)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return tree.Entries, nil
}

// loadIgnoreMatcher reads dir's .gitignore from the live tree, if
// present, returning nil if there is none (the caller then falls back
// to its parent's matcher).
func (d *Dirstate) loadIgnoreMatcher(ctx context.Context, dir *inode.Inode) *Matcher {
	children, err := d.manager.Children(ctx, dir)
	if err != nil {
		return nil
	}
	name, err := objhash.NewPathComponent(".gitignore")
	if err != nil {
		return nil
	}
	id, ok := children[name]
	if !ok {
		return nil
	}
	n, err := d.manager.Get(id)
	if err != nil {
		return nil
	}
	buf := make([]byte, 64*1024)
	count, err := d.manager.Read(ctx, n, 0, buf)
	if err != nil {
		return nil
	}
	return NewMatcher(string(buf[:count]))
}
