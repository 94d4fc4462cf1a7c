// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuseadapter is the thin go-fuse translation layer spec.md
// treats as an external collaborator: it turns kernel-protocol
// callbacks into calls against [lib/inode.Manager], and nothing more.
// No core logic lives here — every invariant-bearing decision
// (materialize-on-write, attribute translation, read/write semantics)
// happens in lib/inode. Checkout, dirstate, and journal operations are
// not reachable through the kernel surface at all; they are served by
// the request-surface translator (lib/requestsurface) that calls
// lib/checkout, lib/dirstate, and lib/journal directly.
package fuseadapter

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/inode"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

// Options configures the mount.
type Options struct {
	Mountpoint string
	Manager    *inode.Manager
	AllowOther bool
	Logger     *slog.Logger
}

// Mount mounts the mirrorfs FUSE filesystem at options.Mountpoint.
// The caller must call Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, err, "fuseadapter: creating mountpoint %s", options.Mountpoint)
	}

	rootInode, err := options.Manager.Get(inode.RootID)
	if err != nil {
		return nil, err
	}
	root := &mirrorNode{opts: &options, id: rootInode.ID}

	entryTimeout := time.Second
	attrTimeout := time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "mirrorfs",
			Name:       "mirrorfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "fuseadapter: mounting at %s", options.Mountpoint)
	}
	options.Logger.Info("mirrorfs mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// mirrorNode is both the file and directory node type: which
// operations are valid on it follows purely from the underlying
// inode's Type, just as inode.Inode itself is a tagged variant rather
// than two Go types.
type mirrorNode struct {
	gofuse.Inode
	opts *Options
	id   inode.ID
}

var (
	_ gofuse.InodeEmbedder = (*mirrorNode)(nil)
	_ gofuse.NodeLookuper  = (*mirrorNode)(nil)
	_ gofuse.NodeReaddirer = (*mirrorNode)(nil)
	_ gofuse.NodeGetattrer = (*mirrorNode)(nil)
	_ gofuse.NodeSetattrer = (*mirrorNode)(nil)
	_ gofuse.NodeOpener    = (*mirrorNode)(nil)
	_ gofuse.NodeReader    = (*mirrorNode)(nil)
	_ gofuse.NodeWriter    = (*mirrorNode)(nil)
	_ gofuse.NodeReadlinker = (*mirrorNode)(nil)
	_ gofuse.NodeGetxattrer = (*mirrorNode)(nil)
	_ gofuse.NodeListxattrer = (*mirrorNode)(nil)
)

func errnoFor(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch errs.KindOf(err) {
	case errs.NotFound:
		return syscall.ENOENT
	case errs.AlreadyExists:
		return syscall.EEXIST
	case errs.InvalidArgument:
		return syscall.EINVAL
	case errs.PermissionDenied:
		return syscall.EACCES
	case errs.OutOfRange:
		return syscall.ERANGE
	case errs.IO:
		return syscall.EIO
	case errs.Corrupt, errs.MalformedObject:
		return syscall.EIO
	case errs.Cancelled:
		return syscall.EINTR
	case errs.Unsupported:
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}

func toFuseAttr(a inode.Attr, out *fuse.Attr) {
	out.Size = uint64(a.Size)
	out.Mode = modeOf(a.Type, a.PermBits)
	out.Uid = a.UID
	out.Gid = a.GID
	out.SetTimes(&a.Atime, &a.Mtime, &a.Mtime)
}

func modeOf(t object.FileType, perm object.PermBits) uint32 {
	var base uint32
	switch t {
	case object.Directory:
		base = syscall.S_IFDIR
	case object.Symlink:
		base = syscall.S_IFLNK
	default:
		base = syscall.S_IFREG
	}
	return base | uint32(perm)<<6
}

// attrRequestFromSetAttrIn translates the raw FUSE SETATTR wire
// fields into an inode.AttrRequest. The Valid bitmask is read
// directly rather than through version-specific accessor helpers, so
// this only depends on the stable FUSE protocol field names.
func attrRequestFromSetAttrIn(in *fuse.SetAttrIn) inode.AttrRequest {
	var req inode.AttrRequest
	if in.Valid&fuse.FATTR_SIZE != 0 {
		size := int64(in.Size)
		req.Size = &size
	}
	if in.Valid&fuse.FATTR_MODE != 0 {
		perm := object.PermBits(in.Mode & 0o7)
		req.Mode = &perm
	}
	if in.Valid&fuse.FATTR_ATIME != 0 {
		t := time.Unix(int64(in.Atime), int64(in.Atimensec))
		req.Atime = &t
	}
	if in.Valid&fuse.FATTR_MTIME != 0 {
		t := time.Unix(int64(in.Mtime), int64(in.Mtimensec))
		req.Mtime = &t
	}
	if in.Valid&fuse.FATTR_UID != 0 {
		uid := in.Owner.Uid
		req.UID = &uid
	}
	if in.Valid&fuse.FATTR_GID != 0 {
		gid := in.Owner.Gid
		req.GID = &gid
	}
	return req
}

func (n *mirrorNode) self(ctx context.Context) (*inode.Inode, error) {
	return n.opts.Manager.Get(n.id)
}

func (n *mirrorNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	self, err := n.self(ctx)
	if err != nil {
		return nil, errnoFor(err)
	}
	path := n.opts.Manager.PathOf(self)
	component, err := objhash.NewPathComponent(name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	childPath := path.Join(component)

	child, err := n.opts.Manager.Resolve(ctx, childPath)
	if err != nil {
		return nil, errnoFor(err)
	}

	attr, err := n.opts.Manager.GetAttr(ctx, child)
	if err != nil {
		return nil, errnoFor(err)
	}
	toFuseAttr(attr, &out.Attr)

	stable := gofuse.StableAttr{Mode: modeOf(attr.Type, attr.PermBits) & syscall.S_IFMT, Ino: uint64(child.ID)}
	childNode := &mirrorNode{opts: n.opts, id: child.ID}
	return n.NewInode(ctx, childNode, stable), 0
}

func (n *mirrorNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	self, err := n.self(ctx)
	if err != nil {
		return nil, errnoFor(err)
	}
	names, err := n.opts.Manager.List(ctx, self)
	if err != nil {
		return nil, errnoFor(err)
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		path := n.opts.Manager.PathOf(self).Join(name)
		child, err := n.opts.Manager.Resolve(ctx, path)
		if err != nil {
			continue
		}
		attr, err := n.opts.Manager.GetAttr(ctx, child)
		if err != nil {
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: name.String(), Mode: modeOf(attr.Type, attr.PermBits), Ino: uint64(child.ID)})
	}
	return &sliceDirStream{entries: entries}, 0
}

// sliceDirStream implements gofuse.DirStream over a pre-built slice,
// the same small adapter the artifact FUSE mount uses.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool { return s.index < len(s.entries) }

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	e := s.entries[s.index]
	s.index++
	return e, 0
}

func (s *sliceDirStream) Close() {}

func (n *mirrorNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	self, err := n.self(ctx)
	if err != nil {
		return errnoFor(err)
	}
	attr, err := n.opts.Manager.GetAttr(ctx, self)
	if err != nil {
		return errnoFor(err)
	}
	toFuseAttr(attr, &out.Attr)
	return 0
}

func (n *mirrorNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	self, err := n.self(ctx)
	if err != nil {
		return errnoFor(err)
	}

	req := attrRequestFromSetAttrIn(in)

	attr, err := n.opts.Manager.SetAttr(ctx, self, req)
	if err != nil {
		return errnoFor(err)
	}
	toFuseAttr(attr, &out.Attr)
	return 0
}

func (n *mirrorNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		self, err := n.self(ctx)
		if err != nil {
			return nil, 0, errnoFor(err)
		}
		// Write intent materializes the inode here, at open time —
		// write() itself refuses to materialize implicitly.
		if err := n.opts.Manager.MaterializeForWrite(ctx, self); err != nil {
			return nil, 0, errnoFor(err)
		}
		if flags&syscall.O_TRUNC != 0 {
			zero := int64(0)
			if _, err := n.opts.Manager.SetAttr(ctx, self, inode.AttrRequest{Size: &zero}); err != nil {
				return nil, 0, errnoFor(err)
			}
		}
	}
	return nil, 0, 0
}

func (n *mirrorNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	self, err := n.self(ctx)
	if err != nil {
		return nil, errnoFor(err)
	}
	count, err := n.opts.Manager.Read(ctx, self, off, dest)
	if err != nil {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:count]), 0
}

func (n *mirrorNode) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	self, err := n.self(ctx)
	if err != nil {
		return 0, errnoFor(err)
	}
	count, err := n.opts.Manager.Write(ctx, self, off, data)
	if err != nil {
		return 0, errnoFor(err)
	}
	return uint32(count), 0
}

func (n *mirrorNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	self, err := n.self(ctx)
	if err != nil {
		return nil, errnoFor(err)
	}
	target, err := n.opts.Manager.ReadLink(ctx, self)
	if err != nil {
		return nil, errnoFor(err)
	}
	return []byte(target), 0
}

// Getxattr exposes the single user.sha1 attribute defined for regular
// files in spec §4.4.
func (n *mirrorNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	if attr != "user.sha1" {
		return 0, syscall.ENODATA
	}
	self, err := n.self(ctx)
	if err != nil {
		return 0, errnoFor(err)
	}
	if self.Type != object.RegularFile {
		return 0, syscall.ENODATA
	}
	digest, _, err := n.opts.Manager.Sha1(ctx, self)
	if err != nil {
		return 0, errnoFor(err)
	}
	text := digest.String()
	if len(dest) < len(text) {
		return uint32(len(text)), syscall.ERANGE
	}
	copy(dest, text)
	return uint32(len(text)), 0
}

func (n *mirrorNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	self, err := n.self(ctx)
	if err != nil {
		return 0, errnoFor(err)
	}
	if self.Type != object.RegularFile {
		return 0, 0
	}
	const name = "user.sha1\x00"
	if len(dest) < len(name) {
		return uint32(len(name)), syscall.ERANGE
	}
	copy(dest, name)
	return uint32(len(name)), 0
}
