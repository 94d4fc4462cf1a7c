// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mounthelper

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"
)

// maxStaleReplies bounds how many out-of-date xids the client will
// silently discard while waiting for the reply to its current
// request, per spec §4.8.
const maxStaleReplies = 5

// Client is the unprivileged side of the mount-helper protocol. It
// assigns monotonically increasing xids, allows only one in-flight
// request at a time, and tolerates a bounded run of stale replies
// from a previous, timed-out request.
type Client struct {
	mu      sync.Mutex
	conn    *os.File
	nextXid uint32
	cmd     *exec.Cmd // non-nil when the helper was started via StartHelper
}

// StartHelper executes the helper binary at helperPath (typically
// "mirrorfs-privhelper") with extraArgs and connects to it over an inherited
// SOCK_SEQPACKET socket pair. The helper subprocess runs with the
// caller's current privileges (normally root, before the caller drops
// them) and is responsible for performing mount/unmount/bind-mount
// syscalls on the client's behalf.
func StartHelper(helperPath string, extraArgs ...string) (*Client, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, fmt.Errorf("mounthelper: creating socket pair: %w", err)
	}
	clientFile := os.NewFile(uintptr(fds[0]), "mounthelper-client")
	serverFile := os.NewFile(uintptr(fds[1]), "mounthelper-server")
	defer serverFile.Close()

	cmd := exec.Command(helperPath, extraArgs...)
	cmd.ExtraFiles = []*os.File{serverFile}
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout
	if err := cmd.Start(); err != nil {
		clientFile.Close()
		return nil, fmt.Errorf("mounthelper: starting helper %s: %w", helperPath, err)
	}

	return &Client{conn: clientFile, nextXid: 1, cmd: cmd}, nil
}

// NewClient wraps an already-connected socket end as a Client,
// bypassing subprocess spawn. Used by tests and by callers that set
// up the socket pair and exec themselves.
func NewClient(conn *os.File) *Client {
	return &Client{conn: conn, nextXid: 1}
}

// sendAndRecv sends a request built from msgType/body, waits for the
// matching reply, and returns its decoded body along with any
// ancillary file descriptor that accompanied it. Only one call may be
// in flight at a time; the mutex enforces that directly rather than
// relying on the single-threaded server to reject overlap.
func (c *Client) sendAndRecv(msgType MsgType, body []byte) (Message, *os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	xid := c.nextXid
	c.nextXid++

	req := Message{Xid: xid, Type: msgType, Body: body}
	if err := c.send(req); err != nil {
		return Message{}, nil, err
	}

	retries := 0
	for {
		reply, fd, err := c.recv()
		if err != nil {
			return Message{}, nil, err
		}
		if reply.Xid == xid {
			return reply, fd, nil
		}
		if fd != nil {
			fd.Close()
		}
		// A reply to a previous, timed-out request may still arrive
		// before ours. Tolerate a small, recent run of these.
		if reply.Xid < xid && reply.Xid >= xid-maxStaleReplies && retries < maxStaleReplies {
			retries++
			continue
		}
		return Message{}, nil, fmt.Errorf("mounthelper: mismatched reply: sent xid %d, got xid %d", xid, reply.Xid)
	}
}

func (c *Client) send(m Message) error {
	buf, err := m.encode()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(buf)
	if err != nil {
		return fmt.Errorf("mounthelper: sending %s request: %w", m.Type, err)
	}
	return nil
}

// recv reads exactly one datagram, decoding both the message and any
// ancillary file descriptor (present only on a MOUNT reply).
func (c *Client) recv() (Message, *os.File, error) {
	raw := make([]byte, headerSize+MaxBodySize)
	oob := make([]byte, unix.CmsgSpace(4))

	var n, oobn int
	rawConn, err := c.conn.SyscallConn()
	if err != nil {
		return Message{}, nil, err
	}
	var recvErr error
	err = rawConn.Read(func(fd uintptr) bool {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(fd), raw, oob, 0)
		return recvErr != unix.EAGAIN
	})
	if err != nil {
		return Message{}, nil, err
	}
	if recvErr != nil {
		return Message{}, nil, fmt.Errorf("mounthelper: receiving reply: %w", recvErr)
	}

	msg, err := decodeMessage(raw[:n])
	if err != nil {
		return Message{}, nil, err
	}

	var fd *os.File
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil && len(cmsgs) > 0 {
			if rights, err := unix.ParseUnixRights(&cmsgs[0]); err == nil && len(rights) > 0 {
				fd = os.NewFile(uintptr(rights[0]), "fuse-device")
			}
		}
	}

	if msg.Type == MsgErrorResponse {
		var resp ErrorResponse
		if decErr := decodeBody(msg.Body, &resp); decErr == nil {
			return msg, fd, fmt.Errorf("mounthelper: helper returned errno %d: %s", resp.Errno, resp.Message)
		}
		return msg, fd, fmt.Errorf("mounthelper: helper returned an error response")
	}

	return msg, fd, nil
}

// Mount asks the helper to perform the kernel FUSE mount at path and
// returns the /dev/fuse file descriptor handed back with the reply.
func (c *Client) Mount(path string) (*os.File, error) {
	_, fd, err := c.sendAndRecv(MsgMount, encodeBody(MountRequest{Path: path}))
	if err != nil {
		return nil, err
	}
	if fd == nil {
		return nil, fmt.Errorf("mounthelper: mount reply carried no file descriptor")
	}
	return fd, nil
}

// Unmount asks the helper to unmount path.
func (c *Client) Unmount(path string) error {
	_, _, err := c.sendAndRecv(MsgUnmount, encodeBody(UnmountRequest{Path: path}))
	return err
}

// BindMount asks the helper to bind-mount clientPath onto mountPath.
func (c *Client) BindMount(clientPath, mountPath string) error {
	_, _, err := c.sendAndRecv(MsgBindMount, encodeBody(BindMountRequest{ClientPath: clientPath, MountPath: mountPath}))
	return err
}

// Shutdown closes the client's end of the socket, which signals the
// helper to exit, then waits for it to terminate and reports its exit
// status (or the terminating signal, as a negative number, matching
// the original's convention).
func (c *Client) Shutdown() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.Close(); err != nil {
		return 0, fmt.Errorf("mounthelper: closing client socket: %w", err)
	}
	if c.cmd == nil {
		return 0, nil
	}
	err := c.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(unix.WaitStatus); ok && status.Signaled() {
			return -int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("mounthelper: waiting for helper to exit: %w", err)
}
