// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command mirrorfs is the user-facing client for a running mirrorfsd:
// it speaks the CBOR request surface over a Unix domain socket to
// report status, stage paths, and drive checkouts, without needing
// the privileges mirrorfsd itself requires.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mirrorfs/mirrorfs/cmd/mirrorfs/statusui"
	"github.com/mirrorfs/mirrorfs/lib/codec"
	"github.com/mirrorfs/mirrorfs/lib/requestsurface"
)

func newRootCmd() *cobra.Command {
	var socketPath string

	root := &cobra.Command{
		Use:           "mirrorfs",
		Short:         "client for a running mirrorfsd mount",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "mirrorfsd.sock", "path to the daemon's request-surface socket")

	root.AddCommand(
		newStatusCmd(&socketPath),
		newAddCmd(&socketPath),
		newRemoveCmd(&socketPath),
		newCheckoutCmd(&socketPath),
		newJournalCmd(&socketPath),
		newSha1Cmd(&socketPath),
		newBindMountCmd(&socketPath),
		newDebugCmd(&socketPath),
	)
	return root
}

func newStatusCmd(socketPath *string) *cobra.Command {
	var format string
	var listIgnored bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "show paths that differ from the checked-out tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "scm_get_status", ListIgnored: listIgnored})
			if err != nil {
				return err
			}
			snap, err := callDaemon(*socketPath, requestsurface.Request{Verb: "get_current_snapshot"})
			if err != nil {
				return err
			}

			switch format {
			case "yaml":
				return yaml.NewEncoder(os.Stdout).Encode(resp.Status)
			case "tui":
				entries := make([]statusui.Entry, 0, len(resp.Status))
				for path, status := range resp.Status {
					entries = append(entries, statusui.Entry{Path: path, Status: status})
				}
				_, err := tea.NewProgram(statusui.NewModel(snap.Hash, entries)).Run()
				return err
			default:
				for path, status := range resp.Status {
					fmt.Printf("%-11s %s\n", status, path)
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "output format: plain, yaml, or tui (default: tui on a terminal, plain otherwise)")
	cmd.Flags().BoolVar(&listIgnored, "ignored", false, "also list ignored paths")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if format != "" {
			return
		}
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = "tui"
		} else {
			format = "plain"
		}
	}
	return cmd
}

func newAddCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "stage paths for inclusion in the next commit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "scm_add", Paths: args})
			if err != nil {
				return err
			}
			return reportPathErrors(resp)
		},
	}
}

func newRemoveCmd(socketPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "remove <path>...",
		Short: "stage paths for removal from the next commit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "scm_remove", Paths: args, Force: force})
			if err != nil {
				return err
			}
			return reportPathErrors(resp)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove even if locally modified")
	return cmd
}

func newCheckoutCmd(socketPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "checkout <commit-hash>",
		Short: "reconcile the mounted tree against a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "checkout", Hash: args[0], Force: force})
			if err != nil {
				return err
			}
			if len(resp.Conflicts) == 0 {
				fmt.Println("checkout complete")
				return nil
			}
			for _, c := range resp.Conflicts {
				fmt.Printf("%-24s %s\n", c.Type, c.Path)
			}
			return fmt.Errorf("mirrorfs: checkout reported %d conflict(s)", len(resp.Conflicts))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite local modifications and untracked collisions")
	return cmd
}

func newJournalCmd(socketPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "inspect the change journal",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "position",
		Short: "print the current journal cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "get_current_journal_position"})
			if err != nil {
				return err
			}
			fmt.Printf("generation=%d sequence=%d\n", *resp.Generation, *resp.Position)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "tail",
		Short: "stream journal deltas as they are recorded",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.DialTimeout("unix", *socketPath, 5*time.Second)
			if err != nil {
				return fmt.Errorf("mirrorfs: connecting to %s: %w", *socketPath, err)
			}
			defer conn.Close()

			if err := codec.NewEncoder(conn).Encode(requestsurface.Request{Verb: "subscribe"}); err != nil {
				return fmt.Errorf("mirrorfs: sending request: %w", err)
			}
			dec := codec.NewDecoder(conn)
			for {
				var resp requestsurface.Response
				if err := dec.Decode(&resp); err != nil {
					return fmt.Errorf("mirrorfs: reading delta: %w", err)
				}
				if resp.Error != "" {
					return fmt.Errorf("mirrorfsd: %s", resp.Error)
				}
				fmt.Printf("from=%d to=%d hash=%s changed=%v\n", *resp.FromSequence, *resp.ToSequence, resp.Hash, resp.ChangedPaths)
			}
		},
	})
	return cmd
}

func newDebugCmd(socketPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "low-level inspection of store objects and inode state",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "tree <hash>",
		Short: "list a tree object's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "debug_get_scm_tree", Hash: args[0]})
			if err != nil {
				return err
			}
			for name, hash := range resp.Status {
				fmt.Printf("%s  %s\n", hash, name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "blob <hash>",
		Short: "print a blob object's size and content SHA-1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "debug_get_scm_blob_metadata", Hash: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("size=%s sha1=%s\n", resp.Status["size"], resp.Status["sha1"])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "inode <path>",
		Short: "print an inode's materialization state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "debug_inode_status", Path: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("type=%s materialized=%s\n", resp.Status["type"], resp.Status["materialized"])
			if hash, ok := resp.Status["sha1"]; ok {
				fmt.Printf("sha1=%s\n", hash)
			}
			if hash, ok := resp.Status["hash"]; ok {
				fmt.Printf("hash=%s\n", hash)
			}
			return nil
		},
	})
	return cmd
}

func newSha1Cmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get-sha1 <path>...",
		Short: "print the content SHA-1 of one or more paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "get_sha1", Paths: args})
			if err != nil {
				return err
			}
			for _, path := range args {
				fmt.Printf("%s  %s\n", resp.Status[path], path)
			}
			return nil
		},
	}
}

func newBindMountCmd(socketPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bind-mount",
		Short: "manage bind mounts layered on top of the mirrorfs mount",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <client-path> <mount-path>",
		Short: "bind-mount client-path onto mount-path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := callDaemon(*socketPath, requestsurface.Request{
				Verb:       "bind_mount",
				ClientPath: args[0],
				MountPath:  args[1],
			})
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list active bind mounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callDaemon(*socketPath, requestsurface.Request{Verb: "get_bind_mounts"})
			if err != nil {
				return err
			}
			for clientPath, mountPath := range resp.BindMounts {
				fmt.Printf("%s -> %s\n", clientPath, mountPath)
			}
			return nil
		},
	})
	return cmd
}

func reportPathErrors(resp requestsurface.Response) error {
	if len(resp.PathErrors) == 0 {
		return nil
	}
	for path, msg := range resp.PathErrors {
		fmt.Fprintf(os.Stderr, "%s: %s\n", path, msg)
	}
	return fmt.Errorf("mirrorfs: %d path(s) failed", len(resp.PathErrors))
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "mirrorfs:", err)
		os.Exit(1)
	}
}
