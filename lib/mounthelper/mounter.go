// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mounthelper

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// UnixMounter is the production [Mounter]: it opens /dev/fuse
// directly and calls mount(2)/umount(2), mirroring the syscalls the
// original's PrivHelperServer performs.
type UnixMounter struct{}

var _ Mounter = UnixMounter{}

// Mount opens /dev/fuse and mounts it at path with options matching
// a standard unprivileged-mount FUSE filesystem (allow_other so the
// dropped-privilege client process, running as a different uid, can
// still access it).
func (UnixMounter) Mount(path string) (*os.File, error) {
	dev, err := os.OpenFile("/dev/fuse", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("mounthelper: opening /dev/fuse: %w", err)
	}

	opts := fmt.Sprintf("fd=%d,rootmode=40000,user_id=%d,group_id=%d,allow_other", dev.Fd(), os.Getuid(), os.Getgid())
	if err := unix.Mount("mirrorfs", path, "fuse", 0, opts); err != nil {
		dev.Close()
		return nil, fmt.Errorf("mounthelper: mount(%s): %w", path, err)
	}

	if err := waitForFuseReady(path); err != nil {
		unix.Unmount(path, 0)
		dev.Close()
		return nil, err
	}

	return dev, nil
}

// Unmount lazily unmounts path, retrying a plain unmount first and
// falling back to MNT_DETACH so a busy mount does not wedge shutdown.
func (UnixMounter) Unmount(path string) error {
	if err := unix.Unmount(path, 0); err != nil {
		if err := unix.Unmount(path, unix.MNT_DETACH); err != nil {
			return fmt.Errorf("mounthelper: unmount(%s): %w", path, err)
		}
	}
	return nil
}

// BindMount bind-mounts clientPath onto mountPath.
func (UnixMounter) BindMount(clientPath, mountPath string) error {
	if err := unix.Mount(clientPath, mountPath, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("mounthelper: bind mount %s -> %s: %w", clientPath, mountPath, err)
	}
	return nil
}

// waitForFuseReady polls statfs until path reports the FUSE magic
// number, matching the readiness wait the sandbox overlay manager
// uses before handing a merged directory back to its caller.
func waitForFuseReady(path string) error {
	const maxAttempts = 50
	const interval = 20 * time.Millisecond
	const fuseSuperMagic = 0x65735546

	for i := 0; i < maxAttempts; i++ {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(path, &stat); err == nil {
			if stat.Type == fuseSuperMagic {
				return nil
			}
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("mounthelper: timed out waiting for FUSE mount to become ready at %s", path)
}

// DropPrivileges sets the calling process's real and effective
// uid/gid to uid/gid, used by the unprivileged client after it has
// started the privileged helper.
func DropPrivileges(uid, gid int) error {
	if err := unix.Setregid(gid, gid); err != nil {
		return fmt.Errorf("mounthelper: dropping group privileges: %w", err)
	}
	if err := unix.Setreuid(uid, uid); err != nil {
		return fmt.Errorf("mounthelper: dropping user privileges: %w", err)
	}
	return nil
}
