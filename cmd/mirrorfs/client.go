// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net"
	"time"

	"github.com/mirrorfs/mirrorfs/lib/codec"
	"github.com/mirrorfs/mirrorfs/lib/requestsurface"
)

// callDaemon opens a single connection to the mirrorfsd request
// surface, sends req, and decodes the reply. Matches the daemon's
// one-request-per-connection protocol.
func callDaemon(socketPath string, req requestsurface.Request) (requestsurface.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return requestsurface.Response{}, fmt.Errorf("mirrorfs: connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return requestsurface.Response{}, fmt.Errorf("mirrorfs: sending request: %w", err)
	}

	var resp requestsurface.Response
	if err := codec.NewDecoder(conn).Decode(&resp); err != nil {
		return requestsurface.Response{}, fmt.Errorf("mirrorfs: reading response: %w", err)
	}
	if resp.Error != "" {
		return requestsurface.Response{}, fmt.Errorf("mirrorfsd: %s", resp.Error)
	}
	return resp, nil
}
