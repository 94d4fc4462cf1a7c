// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command mirrorfs-privhelper is the privileged half of the mount
// protocol: mirrorfsd re-execs this binary, passing it the server end
// of a SOCK_SEQPACKET socket pair on fd 3, and this process keeps
// whatever privilege the pair was started with (normally root) to
// perform the mount(2)/umount(2) syscalls mirrorfsd itself is no
// longer allowed to.
package main

import (
	"fmt"
	"os"

	"github.com/mirrorfs/mirrorfs/lib/mounthelper"
)

// socketFD is the well-known descriptor StartHelper passes through
// exec.Cmd.ExtraFiles: fd 0-2 are stdio, so the first extra file
// lands at 3.
const socketFD = 3

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mirrorfs-privhelper:", err)
		os.Exit(1)
	}
}

func run() error {
	conn := os.NewFile(socketFD, "mirrorfsd-socket")
	if conn == nil {
		return fmt.Errorf("mirrorfs-privhelper: fd %d is not open", socketFD)
	}
	defer conn.Close()

	server := mounthelper.NewServer(conn, mounthelper.UnixMounter{})
	return server.Serve()
}
