// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package requestsurface is the thin request/response translator spec
// §6 names as an external-collaborator surface: it decodes one
// CBOR-encoded verb per connection over a Unix domain socket and
// calls straight through to lib/checkout, lib/dirstate, lib/journal,
// and lib/objectstore. It adds no reconciliation, status, or journal
// logic of its own. Every verb but subscribe answers with exactly one
// response and closes the connection; subscribe instead holds the
// connection open and streams one response per journal delta.
package requestsurface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/mirrorfs/mirrorfs/lib/checkout"
	"github.com/mirrorfs/mirrorfs/lib/codec"
	"github.com/mirrorfs/mirrorfs/lib/dirstate"
	"github.com/mirrorfs/mirrorfs/lib/inode"
	"github.com/mirrorfs/mirrorfs/lib/journal"
	"github.com/mirrorfs/mirrorfs/lib/mounthelper"
	"github.com/mirrorfs/mirrorfs/lib/object"
	"github.com/mirrorfs/mirrorfs/lib/objectstore"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
	"github.com/mirrorfs/mirrorfs/lib/overlay"
)

// Server answers request-surface verbs for a single mount.
type Server struct {
	Manager  *inode.Manager
	Checkout *checkout.Engine
	Dirstate *dirstate.Dirstate
	Journal  *journal.Journal
	Store    *objectstore.Store
	Overlay  *overlay.Overlay
	Helper   *mounthelper.Client // nil disables bind_mount/get_bind_mounts

	listener net.Listener

	bindMountsMu sync.Mutex
	bindMounts   map[string]string // clientPath -> mountPath
}

// Listen binds the Unix domain socket at socketPath, removing any
// stale socket file left behind by a prior crashed daemon.
func (s *Server) Listen(socketPath string) error {
	_ = os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("requestsurface: listening on %s: %w", socketPath, err)
	}
	s.listener = l
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection decodes one request and, for every verb but
// subscribe, replies once and closes.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			var netErr *net.OpError
			if errors.As(err, &netErr) {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := codec.NewDecoder(conn).Decode(&req); err != nil {
		return
	}
	if req.Verb == "subscribe" {
		s.streamSubscription(ctx, conn)
		return
	}
	resp := s.dispatch(ctx, req)
	_ = codec.NewEncoder(conn).Encode(resp)
}

// streamSubscription holds the connection open and writes one Response
// per journal delta as it is recorded, until ctx is cancelled or a
// write fails (the client disconnected). Unlike every other verb this
// is many-response-per-connection, so it bypasses dispatch entirely.
func (s *Server) streamSubscription(ctx context.Context, conn net.Conn) {
	deltas := make(chan journal.Delta, 16)
	id := s.Journal.Subscribe(func(d journal.Delta) {
		select {
		case deltas <- d:
		default:
			// Subscriber is falling behind; drop rather than block
			// the recorder under the journal's lock.
		}
	})
	defer s.Journal.Unsubscribe(id)

	enc := codec.NewEncoder(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-deltas:
			if err := enc.Encode(deltaResponse(d)); err != nil {
				return
			}
		}
	}
}

func deltaResponse(d journal.Delta) Response {
	paths := make([]string, len(d.ChangedPaths))
	for i, p := range d.ChangedPaths {
		paths[i] = p.String()
	}
	from, to := d.FromSequence, d.ToSequence
	return Response{ChangedPaths: paths, FromSequence: &from, ToSequence: &to, Hash: d.ToHash.String()}
}

// Request is the wire envelope for every verb. Only the fields a
// given Verb uses are populated.
type Request struct {
	Verb         string   `cbor:"verb"`
	Hash         string   `cbor:"hash,omitempty"`
	Force        bool     `cbor:"force,omitempty"`
	Paths        []string `cbor:"paths,omitempty"`
	ListIgnored  bool     `cbor:"list_ignored,omitempty"`
	Cursor       uint64   `cbor:"cursor,omitempty"`
	CursorGen    uint64   `cbor:"cursor_generation,omitempty"`
	PathsToClean []string `cbor:"paths_to_clean,omitempty"`
	PathsToDrop  []string `cbor:"paths_to_drop,omitempty"`
	ClientPath   string   `cbor:"client_path,omitempty"`
	MountPath    string   `cbor:"mount_path,omitempty"`
	Path         string   `cbor:"path,omitempty"`
}

// Response is the wire envelope for every reply.
type Response struct {
	Error        string            `cbor:"error,omitempty"`
	Hash         string            `cbor:"hash,omitempty"`
	Conflicts    []ConflictWire    `cbor:"conflicts,omitempty"`
	PathErrors   map[string]string `cbor:"path_errors,omitempty"`
	Status       map[string]string `cbor:"status,omitempty"`
	ChangedPaths []string          `cbor:"changed_paths,omitempty"`
	FromSequence *uint64           `cbor:"from_sequence,omitempty"`
	ToSequence   *uint64           `cbor:"to_sequence,omitempty"`
	Position     *uint64           `cbor:"position,omitempty"`
	Generation   *uint64           `cbor:"generation,omitempty"`
	BindMounts   map[string]string `cbor:"bind_mounts,omitempty"`
}

// ConflictWire is the wire shape of a checkout.Conflict.
type ConflictWire struct {
	Path string `cbor:"path"`
	Type string `cbor:"type"`
}

func errorResponse(err error) Response {
	return Response{Error: err.Error()}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Verb {
	case "get_current_snapshot":
		return s.getCurrentSnapshot()
	case "checkout":
		return s.doCheckout(ctx, req)
	case "reset_parent":
		return s.resetParent(req)
	case "scm_get_status":
		return s.scmGetStatus(ctx, req)
	case "scm_add":
		return s.scmAdd(ctx, req)
	case "scm_remove":
		return s.scmRemove(ctx, req)
	case "scm_mark_committed":
		return s.scmMarkCommitted(req)
	case "get_current_journal_position":
		return s.getJournalPosition()
	case "get_files_changed_since":
		return s.getFilesChangedSince(req)
	case "get_sha1":
		return s.getSha1(ctx, req)
	case "debug_get_scm_blob_metadata":
		return s.debugGetBlobMetadata(ctx, req)
	case "debug_get_scm_tree":
		return s.debugGetTree(ctx, req)
	case "debug_inode_status":
		return s.debugInodeStatus(ctx, req)
	case "bind_mount":
		return s.bindMount(req)
	case "get_bind_mounts":
		return s.getBindMounts()
	default:
		return errorResponse(fmt.Errorf("requestsurface: unknown verb %q", req.Verb))
	}
}

func (s *Server) getCurrentSnapshot() Response {
	hash, err := s.Overlay.ReadSnapshot()
	if err != nil {
		return errorResponse(err)
	}
	return Response{Hash: hash.String()}
}

func (s *Server) doCheckout(ctx context.Context, req Request) Response {
	hash, err := objhash.Parse(req.Hash)
	if err != nil {
		return errorResponse(err)
	}
	conflicts, err := s.Checkout.Checkout(ctx, hash, req.Force)
	if err != nil {
		return errorResponse(err)
	}
	wire := make([]ConflictWire, len(conflicts))
	for i, c := range conflicts {
		wire[i] = ConflictWire{Path: c.Path.String(), Type: c.Type.String()}
	}
	return Response{Conflicts: wire}
}

// resetParent moves SNAPSHOT to hash without reconciling the working
// tree against it — used after a commit whose tree already matches
// what's on disk.
func (s *Server) resetParent(req Request) Response {
	hash, err := objhash.Parse(req.Hash)
	if err != nil {
		return errorResponse(err)
	}
	if err := s.Overlay.WriteSnapshot(hash); err != nil {
		return errorResponse(err)
	}
	return Response{}
}

func (s *Server) scmGetStatus(ctx context.Context, req Request) Response {
	statuses, err := s.Dirstate.Status(ctx, req.ListIgnored)
	if err != nil {
		return errorResponse(err)
	}
	out := make(map[string]string, len(statuses))
	for path, code := range statuses {
		out[path.String()] = code.String()
	}
	return Response{Status: out}
}

func (s *Server) scmAdd(ctx context.Context, req Request) Response {
	paths, err := parsePaths(req.Paths)
	if err != nil {
		return errorResponse(err)
	}
	results := s.Dirstate.Add(ctx, paths)
	return pathErrorsResponse(results)
}

func (s *Server) scmRemove(ctx context.Context, req Request) Response {
	paths, err := parsePaths(req.Paths)
	if err != nil {
		return errorResponse(err)
	}
	results := s.Dirstate.Remove(ctx, paths, req.Force)
	return pathErrorsResponse(results)
}

func (s *Server) scmMarkCommitted(req Request) Response {
	hash, err := objhash.Parse(req.Hash)
	if err != nil {
		return errorResponse(err)
	}
	clean, err := parsePaths(req.PathsToClean)
	if err != nil {
		return errorResponse(err)
	}
	drop, err := parsePaths(req.PathsToDrop)
	if err != nil {
		return errorResponse(err)
	}
	if err := s.Dirstate.MarkCommitted(hash, clean, drop); err != nil {
		return errorResponse(err)
	}
	return Response{}
}

// getSha1 resolves each path to the content hash the FUSE layer
// exposes as the user.sha1 xattr, per spec §4.4, without requiring
// the caller to open and read the whole file. A symlink is rejected
// per path with InvalidArgument rather than failing the whole batch.
func (s *Server) getSha1(ctx context.Context, req Request) Response {
	paths, err := parsePaths(req.Paths)
	if err != nil {
		return errorResponse(err)
	}
	out := make(map[string]string, len(paths))
	for _, path := range paths {
		n, err := s.Manager.Resolve(ctx, path)
		if err != nil {
			out[path.String()] = err.Error()
			continue
		}
		if n.Type == object.Symlink {
			out[path.String()] = "InvalidArgument: get_sha1 refuses symlinks"
			continue
		}
		digest, _, err := s.Manager.Sha1(ctx, n)
		if err != nil {
			out[path.String()] = err.Error()
			continue
		}
		out[path.String()] = digest.String()
	}
	return Response{Status: out}
}

// debugGetBlobMetadata surfaces an object's size and content SHA-1
// without exposing its full bytes, for the debug_get_scm_blob_metadata
// verb.
func (s *Server) debugGetBlobMetadata(ctx context.Context, req Request) Response {
	hash, err := objhash.Parse(req.Hash)
	if err != nil {
		return errorResponse(err)
	}
	contents, err := s.Store.GetBlob(ctx, hash)
	if err != nil {
		return errorResponse(err)
	}
	sha1, err := s.Store.GetSha1ForBlob(ctx, hash)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Status: map[string]string{
		"size": fmt.Sprintf("%d", len(contents)),
		"sha1": sha1.String(),
	}}
}

// debugGetTree lists one tree object's entries, for the
// debug_get_scm_tree verb.
func (s *Server) debugGetTree(ctx context.Context, req Request) Response {
	hash, err := objhash.Parse(req.Hash)
	if err != nil {
		return errorResponse(err)
	}
	tree, err := s.Store.GetTree(ctx, hash)
	if err != nil {
		return errorResponse(err)
	}
	out := make(map[string]string, len(tree.Entries))
	for _, e := range tree.Entries {
		out[string(e.Name)] = e.Hash.String()
	}
	return Response{Status: out}
}

// debugInodeStatus reports whether the inode at req.Path is
// materialized and the hash backing it: its unmaterialized source hash
// if not, or its live content SHA-1 if so, for the debug_inode_status
// verb.
func (s *Server) debugInodeStatus(ctx context.Context, req Request) Response {
	path, err := objhash.NewRelativePath(req.Path)
	if err != nil {
		return errorResponse(err)
	}
	n, err := s.Manager.Resolve(ctx, path)
	if err != nil {
		return errorResponse(err)
	}

	out := map[string]string{
		"materialized": fmt.Sprintf("%t", n.IsMaterialized()),
		"type":         fileTypeName(n.Type),
	}
	if n.IsMaterialized() {
		if n.Type != object.Symlink && n.Type != object.Directory {
			if digest, _, err := s.Manager.Sha1(ctx, n); err == nil {
				out["sha1"] = digest.String()
			}
		}
	} else {
		out["hash"] = n.Hash().String()
	}
	return Response{Status: out}
}

func (s *Server) getJournalPosition() Response {
	cursor := s.Journal.CurrentPosition()
	pos, gen := cursor.Sequence, cursor.Generation
	return Response{Position: &pos, Generation: &gen}
}

// getFilesChangedSince aggregates every delta strictly after cursor
// into one changed-paths set plus the sequence range it spans, per
// spec scenario 6's from_sequence/to_sequence pair.
func (s *Server) getFilesChangedSince(req Request) Response {
	cursor := journal.Cursor{Sequence: req.Cursor, Generation: req.CursorGen}
	changed, err := s.Journal.ChangesSince(cursor)
	if err != nil {
		return errorResponse(err)
	}
	out := make([]string, len(changed))
	for i, p := range changed {
		out[i] = p.String()
	}
	from := req.Cursor
	to := s.Journal.CurrentPosition().Sequence
	return Response{ChangedPaths: out, FromSequence: &from, ToSequence: &to}
}

// bindMount asks the privileged helper to bind-mount clientPath onto
// mountPath and records the pair so a later get_bind_mounts reports
// it, per spec §6's bind-mount bookkeeping.
func (s *Server) bindMount(req Request) Response {
	if s.Helper == nil {
		return errorResponse(fmt.Errorf("requestsurface: bind mounts are not available on this mount"))
	}
	if err := s.Helper.BindMount(req.ClientPath, req.MountPath); err != nil {
		return errorResponse(err)
	}
	s.bindMountsMu.Lock()
	if s.bindMounts == nil {
		s.bindMounts = make(map[string]string)
	}
	s.bindMounts[req.ClientPath] = req.MountPath
	s.bindMountsMu.Unlock()
	return Response{}
}

// getBindMounts reports every bind mount established so far through
// the bind_mount verb.
func (s *Server) getBindMounts() Response {
	s.bindMountsMu.Lock()
	defer s.bindMountsMu.Unlock()
	out := make(map[string]string, len(s.bindMounts))
	for clientPath, mountPath := range s.bindMounts {
		out[clientPath] = mountPath
	}
	return Response{BindMounts: out}
}

func pathErrorsResponse(results map[objhash.RelativePath]error) Response {
	out := make(map[string]string, len(results))
	for path, err := range results {
		if err != nil {
			out[path.String()] = err.Error()
		}
	}
	return Response{PathErrors: out}
}

func fileTypeName(t object.FileType) string {
	switch t {
	case object.Directory:
		return "DIRECTORY"
	case object.Symlink:
		return "SYMLINK"
	default:
		return "REGULAR_FILE"
	}
}

func parsePaths(raw []string) ([]objhash.RelativePath, error) {
	paths := make([]objhash.RelativePath, len(raw))
	for i, s := range raw {
		p, err := objhash.NewRelativePath(s)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}
	return paths, nil
}
