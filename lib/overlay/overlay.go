// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package overlay is the on-disk storage for a mirrorfs client
// directory: the SNAPSHOT file naming the checked-out commit,
// per-inode file contents under local/, compact-serialized directory
// listings, the clone-succeeded sentinel, and the bind-mounts scratch
// directory. Every write here is atomic and every failure is surfaced
// as [errs.IO] — callers never proceed past a failed overlay write,
// since partial materialization would leave an inode in an
// inconsistent state (see the inode lifecycle invariants).
package overlay

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mirrorfs/mirrorfs/lib/codec"
	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

const (
	localDir       = "local"
	bindMountsDir  = "bind-mounts"
	tmpDir         = "tmp"
	snapshotFile   = "SNAPSHOT"
	cloneSentinel  = "clone-succeeded"
	generationFile = "mount-generation"
	dirstateFile   = "dirstate"
	sha1XattrName  = "user.sha1"
	dirListingSuff = ".dir"
)

// Overlay manages the on-disk layout of one client directory.
type Overlay struct {
	root string
}

// Open returns an Overlay rooted at dir, creating the fixed
// subdirectories (local/, bind-mounts/, tmp/) if they do not already
// exist.
func Open(dir string) (*Overlay, error) {
	for _, sub := range []string{localDir, bindMountsDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errs.Wrap(errs.IO, err, "overlay: creating %s", sub)
		}
	}
	return &Overlay{root: dir}, nil
}

// BindMountsDir returns the scratch directory bind-mount sources are
// staged under.
func (o *Overlay) BindMountsDir() string {
	return filepath.Join(o.root, bindMountsDir)
}

// ReadSnapshot returns the commit hash the client directory is
// currently checked out to.
func (o *Overlay) ReadSnapshot() (objhash.Hash, error) {
	data, err := os.ReadFile(filepath.Join(o.root, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return objhash.Hash{}, errs.New(errs.NotFound, "overlay: no SNAPSHOT written yet")
		}
		return objhash.Hash{}, errs.Wrap(errs.IO, err, "overlay: reading SNAPSHOT")
	}
	hash, err := objhash.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return objhash.Hash{}, errs.Wrap(errs.Corrupt, err, "overlay: parsing SNAPSHOT")
	}
	return hash, nil
}

// WriteSnapshot atomically records hash as the checked-out commit.
func (o *Overlay) WriteSnapshot(hash objhash.Hash) error {
	return o.atomicWrite(snapshotFile, []byte(hash.String()+"\n"))
}

// MarkCloneSucceeded writes the clone-succeeded sentinel.
func (o *Overlay) MarkCloneSucceeded() error {
	return o.atomicWrite(cloneSentinel, []byte{})
}

// CloneSucceeded reports whether the clone-succeeded sentinel exists.
func (o *Overlay) CloneSucceeded() bool {
	_, err := os.Stat(filepath.Join(o.root, cloneSentinel))
	return err == nil
}

// NextMountGeneration reads the generation recorded by the previous
// mount (0 if this is the client directory's first mount), persists
// the incremented value, and returns it. A journal constructed with
// the returned generation rejects any cursor issued before this
// daemon restart, matching spec §3's "mount generation" bump.
func (o *Overlay) NextMountGeneration() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(o.root, generationFile))
	var prev uint64
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, errs.Wrap(errs.IO, err, "overlay: reading mount-generation")
		}
	} else {
		prev, err = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, errs.Wrap(errs.Corrupt, err, "overlay: parsing mount-generation")
		}
	}
	next := prev + 1
	if err := o.atomicWrite(generationFile, []byte(strconv.FormatUint(next, 10)+"\n")); err != nil {
		return 0, err
	}
	return next, nil
}

// ReadDirstate returns the raw compact-serialized dirstate blob, or
// nil if none has been written yet.
func (o *Overlay) ReadDirstate() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(o.root, dirstateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IO, err, "overlay: reading dirstate")
	}
	return data, nil
}

// WriteDirstate atomically persists the compact-serialized dirstate
// blob.
func (o *Overlay) WriteDirstate(data []byte) error {
	return o.atomicWrite(dirstateFile, data)
}

// localPath returns the on-disk path for inode's overlay file.
func (o *Overlay) localPath(inodeID uint64) string {
	return filepath.Join(o.root, localDir, strconv.FormatUint(inodeID, 10))
}

// OpenFile returns a handle to inode's overlay file, creating it
// (truncating if it already exists) when create is true — the path
// taken the first time an inode is materialized for write. When
// create is false, the file must already exist or OpenFile fails with
// NotFound.
func (o *Overlay) OpenFile(inodeID uint64, flags int, create bool) (*os.File, error) {
	path := o.localPath(inodeID)
	if create {
		flags |= os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, err, "overlay: inode %d has no overlay file", inodeID)
		}
		return nil, errs.Wrap(errs.IO, err, "overlay: opening inode %d", inodeID)
	}
	return f, nil
}

// Remove deletes inode's overlay file (and cached directory listing,
// if any). Removing an inode that has no overlay file is not an
// error.
func (o *Overlay) Remove(inodeID uint64) error {
	if err := os.Remove(o.localPath(inodeID)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IO, err, "overlay: removing inode %d", inodeID)
	}
	if err := os.Remove(o.dirListingPath(inodeID)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IO, err, "overlay: removing directory listing for inode %d", inodeID)
	}
	return nil
}

// SetSha1Xattr records the content SHA-1 of a materialized file's
// current contents as an extended attribute. Failure to store it is
// not itself an overlay error the caller must abort on — see
// lib/inode's sha1 operation, which treats this as best-effort and
// logs rather than fails.
func (o *Overlay) SetSha1Xattr(f *os.File, sha1 objhash.Hash) error {
	return unix.Fsetxattr(int(f.Fd()), sha1XattrName, []byte(sha1.String()), 0)
}

// GetSha1Xattr reads the cached content SHA-1 xattr, returning
// (hash, true) if present and valid, or (zero, false) otherwise.
func (o *Overlay) GetSha1Xattr(f *os.File) (objhash.Hash, bool) {
	buf := make([]byte, objhash.Size*2)
	n, err := unix.Fgetxattr(int(f.Fd()), sha1XattrName, buf)
	if err != nil {
		return objhash.Hash{}, false
	}
	hash, err := objhash.Parse(string(buf[:n]))
	if err != nil {
		return objhash.Hash{}, false
	}
	return hash, true
}

func (o *Overlay) dirListingPath(inodeID uint64) string {
	return filepath.Join(o.root, localDir, strconv.FormatUint(inodeID, 10)+dirListingSuff)
}

// DirEntry is one child in a materialized directory's compact
// listing: a name mapped to its inode id, an optional source-store
// hash (present when the child is still unmaterialized), and its
// mode.
type DirEntry struct {
	Name    string        `cbor:"name"`
	InodeID uint64        `cbor:"inode_id"`
	Hash    *objhash.Hash `cbor:"hash,omitempty"`
	Mode    uint32        `cbor:"mode"`
}

// ReadDir returns the compact-serialized listing for a materialized
// directory inode.
func (o *Overlay) ReadDir(inodeID uint64) ([]DirEntry, error) {
	data, err := os.ReadFile(o.dirListingPath(inodeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "overlay: no directory listing for inode %d", inodeID)
		}
		return nil, errs.Wrap(errs.IO, err, "overlay: reading directory listing for inode %d", inodeID)
	}
	var entries []DirEntry
	if err := codec.Unmarshal(data, &entries); err != nil {
		return nil, errs.Wrap(errs.Corrupt, err, "overlay: decoding directory listing for inode %d", inodeID)
	}
	return entries, nil
}

// WriteDir atomically persists a materialized directory's listing.
func (o *Overlay) WriteDir(inodeID uint64, entries []DirEntry) error {
	data, err := codec.Marshal(entries)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "overlay: encoding directory listing for inode %d", inodeID)
	}
	return o.atomicWriteAt(o.dirListingPath(inodeID), data)
}

// atomicWrite writes data to name (relative to the overlay root) via
// temp-file-then-rename.
func (o *Overlay) atomicWrite(name string, data []byte) error {
	return o.atomicWriteAt(filepath.Join(o.root, name), data)
}

func (o *Overlay) atomicWriteAt(finalPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return errs.Wrap(errs.IO, err, "overlay: creating parent directory for %s", finalPath)
	}
	tmpFile, err := os.CreateTemp(filepath.Join(o.root, tmpDir), "overlay-*.tmp")
	if err != nil {
		return errs.Wrap(errs.IO, err, "overlay: creating temp file for %s", finalPath)
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
		return errs.Wrap(errs.IO, err, "overlay: writing %s", finalPath)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return errs.Wrap(errs.IO, err, "overlay: syncing %s", finalPath)
	}
	if err := tmpFile.Close(); err != nil {
		return errs.Wrap(errs.IO, err, "overlay: closing temp file for %s", finalPath)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return errs.Wrap(errs.IO, err, "overlay: renaming into place %s", finalPath)
	}
	success = true
	return nil
}
