// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mounthelper

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeMounter records calls instead of touching the kernel.
type fakeMounter struct {
	mountPaths     []string
	unmountPaths   []string
	bindMounts     [][2]string
	mountErr       error
	fuseDeviceFile *os.File
}

func newFakeMounter(t *testing.T) *fakeMounter {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	w.Close()
	return &fakeMounter{fuseDeviceFile: r}
}

func (f *fakeMounter) Mount(path string) (*os.File, error) {
	if f.mountErr != nil {
		return nil, f.mountErr
	}
	f.mountPaths = append(f.mountPaths, path)
	return f.fuseDeviceFile, nil
}

func (f *fakeMounter) Unmount(path string) error {
	f.unmountPaths = append(f.unmountPaths, path)
	return nil
}

func (f *fakeMounter) BindMount(clientPath, mountPath string) error {
	f.bindMounts = append(f.bindMounts, [2]string{clientPath, mountPath})
	return nil
}

func socketPair(t *testing.T) (client, server *os.File) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	return os.NewFile(uintptr(fds[0]), "client"), os.NewFile(uintptr(fds[1]), "server")
}

func TestMountRoundTrip(t *testing.T) {
	clientConn, serverConn := socketPair(t)
	mounter := newFakeMounter(t)
	server := NewServer(serverConn, mounter)
	client := NewClient(clientConn)

	done := make(chan error, 1)
	go func() { done <- server.Serve() }()

	fd, err := client.Mount("/mnt/repo")
	require.NoError(t, err)
	require.NotNil(t, fd)
	fd.Close()

	assert.Equal(t, []string{"/mnt/repo"}, mounter.mountPaths)

	require.NoError(t, client.Unmount("/mnt/repo"))
	assert.Equal(t, []string{"/mnt/repo"}, mounter.unmountPaths)

	require.NoError(t, client.BindMount("/client/scratch", "/mnt/scratch"))
	assert.Equal(t, [][2]string{{"/client/scratch", "/mnt/scratch"}}, mounter.bindMounts)

	exitCode, err := client.Shutdown()
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not exit after client shutdown")
	}
}

func TestClientXidAssignmentIsMonotonic(t *testing.T) {
	clientConn, serverConn := socketPair(t)
	mounter := newFakeMounter(t)
	server := NewServer(serverConn, mounter)
	client := NewClient(clientConn)

	go server.Serve()

	require.NoError(t, client.Unmount("/a"))
	require.NoError(t, client.Unmount("/b"))
	require.NoError(t, client.Unmount("/c"))

	assert.Equal(t, uint32(4), client.nextXid, "three requests sent, xids 1..3 consumed")
	assert.Equal(t, []string{"/a", "/b", "/c"}, mounter.unmountPaths)
}

// TestStaleReplyRecoveryWithinWindow exercises the scenario from
// spec §8 item 5: the client sends xid=7, the peer first answers
// with a stale xid=6 reply and only then the real xid=7 reply. The
// client must discard the stale one and accept the second.
func TestStaleReplyRecoveryWithinWindow(t *testing.T) {
	clientConn, serverConn := socketPair(t)
	client := NewClient(clientConn)
	client.nextXid = 7

	// Manually drive the server side so we can inject a stale reply
	// ahead of the real one, rather than trusting Server's own
	// sequencing.
	reqDone := make(chan error, 1)
	go func() {
		_, _, err := client.sendAndRecv(MsgUnmount, encodeBody(UnmountRequest{Path: "/x"}))
		reqDone <- err
	}()

	// Drain the request the client sent.
	raw := make([]byte, headerSize+MaxBodySize)
	n, err := serverConn.Read(raw)
	require.NoError(t, err)
	req, err := decodeMessage(raw[:n])
	require.NoError(t, err)
	assert.Equal(t, uint32(7), req.Xid)

	stale := Message{Xid: 6, Type: MsgEmptyResponse}
	staleBuf, err := stale.encode()
	require.NoError(t, err)
	_, err = serverConn.Write(staleBuf)
	require.NoError(t, err)

	real := Message{Xid: 7, Type: MsgEmptyResponse}
	realBuf, err := real.encode()
	require.NoError(t, err)
	_, err = serverConn.Write(realBuf)
	require.NoError(t, err)

	select {
	case err := <-reqDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("client did not accept the real reply after the stale one")
	}
}

// TestStaleReplyTooOldIsFatal exercises the "xid=1, too old" branch
// of the same scenario: a reply outside the 5-xid recent window is
// treated as an unrecoverable protocol error.
func TestStaleReplyTooOldIsFatal(t *testing.T) {
	clientConn, serverConn := socketPair(t)
	client := NewClient(clientConn)
	client.nextXid = 20

	reqDone := make(chan error, 1)
	go func() {
		_, _, err := client.sendAndRecv(MsgUnmount, encodeBody(UnmountRequest{Path: "/x"}))
		reqDone <- err
	}()

	raw := make([]byte, headerSize+MaxBodySize)
	n, err := serverConn.Read(raw)
	require.NoError(t, err)
	_, err = decodeMessage(raw[:n])
	require.NoError(t, err)

	tooOld := Message{Xid: 1, Type: MsgEmptyResponse}
	buf, err := tooOld.encode()
	require.NoError(t, err)
	_, err = serverConn.Write(buf)
	require.NoError(t, err)

	select {
	case err := <-reqDone:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("client did not return an error for the out-of-window xid")
	}
}

func TestErrorResponseSurfacesErrno(t *testing.T) {
	clientConn, serverConn := socketPair(t)
	mounter := newFakeMounter(t)
	mounter.mountErr = unix.ENOENT
	server := NewServer(serverConn, mounter)
	client := NewClient(clientConn)

	go server.Serve()

	_, err := client.Mount("/does/not/exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "errno")
}
