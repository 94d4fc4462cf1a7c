// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mounthelper

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Mounter performs the privileged filesystem operations the server
// dispatches to. The real implementation (see [UnixMounter]) shells
// out to the kernel mount/umount/bind-mount syscalls; tests supply a
// fake to exercise the protocol state machine without root.
type Mounter interface {
	// Mount opens /dev/fuse and performs the kernel mount(2) at path,
	// returning the fuse device file descriptor to hand back to the
	// client.
	Mount(path string) (*os.File, error)
	Unmount(path string) error
	BindMount(clientPath, mountPath string) error
}

// Server is the privileged side: it owns the Mounter, serves exactly
// one request at a time (matching the client's single-in-flight
// contract), and exits its Serve loop when the peer closes its end of
// the socket.
type Server struct {
	conn    *os.File
	mounter Mounter
}

// NewServer builds a Server reading requests from conn and executing
// them against mounter.
func NewServer(conn *os.File, mounter Mounter) *Server {
	return &Server{conn: conn, mounter: mounter}
}

// Serve processes requests until the client closes its socket (io.EOF)
// or an unrecoverable transport error occurs. It returns nil on a
// clean shutdown.
func (s *Server) Serve() error {
	for {
		req, err := s.recvOne()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := s.handle(req); err != nil {
			return err
		}
	}
}

func (s *Server) recvOne() (Message, error) {
	raw := make([]byte, headerSize+MaxBodySize)
	n, err := s.conn.Read(raw)
	if err != nil {
		return Message{}, err
	}
	if n == 0 {
		return Message{}, io.EOF
	}
	return decodeMessage(raw[:n])
}

func (s *Server) handle(req Message) error {
	switch req.Type {
	case MsgMount:
		var body MountRequest
		if err := decodeBody(req.Body, &body); err != nil {
			return s.replyError(req.Xid, unix.EINVAL, err.Error())
		}
		fd, err := s.mounter.Mount(body.Path)
		if err != nil {
			return s.replyError(req.Xid, errnoOf(err), err.Error())
		}
		defer fd.Close()
		return s.replyEmptyWithFD(req.Xid, fd)

	case MsgUnmount:
		var body UnmountRequest
		if err := decodeBody(req.Body, &body); err != nil {
			return s.replyError(req.Xid, unix.EINVAL, err.Error())
		}
		if err := s.mounter.Unmount(body.Path); err != nil {
			return s.replyError(req.Xid, errnoOf(err), err.Error())
		}
		return s.replyEmpty(req.Xid)

	case MsgBindMount:
		var body BindMountRequest
		if err := decodeBody(req.Body, &body); err != nil {
			return s.replyError(req.Xid, unix.EINVAL, err.Error())
		}
		if err := s.mounter.BindMount(body.ClientPath, body.MountPath); err != nil {
			return s.replyError(req.Xid, errnoOf(err), err.Error())
		}
		return s.replyEmpty(req.Xid)

	default:
		return s.replyError(req.Xid, unix.EINVAL, fmt.Sprintf("unknown request type %s", req.Type))
	}
}

func (s *Server) replyEmpty(xid uint32) error {
	reply := Message{Xid: xid, Type: MsgEmptyResponse}
	buf, err := reply.encode()
	if err != nil {
		return err
	}
	_, err = s.conn.Write(buf)
	return err
}

func (s *Server) replyEmptyWithFD(xid uint32, fd *os.File) error {
	reply := Message{Xid: xid, Type: MsgEmptyResponse}
	buf, err := reply.encode()
	if err != nil {
		return err
	}
	oob := unix.UnixRights(int(fd.Fd()))

	rawConn, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}
	var sendErr error
	err = rawConn.Write(func(rfd uintptr) bool {
		sendErr = unix.Sendmsg(int(rfd), buf, oob, nil, 0)
		return sendErr != unix.EAGAIN
	})
	if err != nil {
		return err
	}
	return sendErr
}

func (s *Server) replyError(xid uint32, errno unix.Errno, message string) error {
	reply := Message{Xid: xid, Type: MsgErrorResponse, Body: encodeBody(ErrorResponse{Errno: int32(errno), Message: message})}
	buf, err := reply.encode()
	if err != nil {
		return err
	}
	_, err = s.conn.Write(buf)
	return err
}

func errnoOf(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}
