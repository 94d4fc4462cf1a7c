// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command mirrorfsd is the unprivileged mirrorfs daemon: it owns one
// client directory's inode arena, overlay, checkout engine, dirstate,
// and journal, and projects them through a FUSE mount obtained from
// the privileged helper subprocess.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirrorfs/mirrorfs/lib/backingstore"
	"github.com/mirrorfs/mirrorfs/lib/checkout"
	"github.com/mirrorfs/mirrorfs/lib/clock"
	"github.com/mirrorfs/mirrorfs/lib/config"
	"github.com/mirrorfs/mirrorfs/lib/dirstate"
	"github.com/mirrorfs/mirrorfs/lib/fuseadapter"
	"github.com/mirrorfs/mirrorfs/lib/inode"
	"github.com/mirrorfs/mirrorfs/lib/journal"
	"github.com/mirrorfs/mirrorfs/lib/localstore"
	"github.com/mirrorfs/mirrorfs/lib/mounthelper"
	"github.com/mirrorfs/mirrorfs/lib/objectstore"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
	"github.com/mirrorfs/mirrorfs/lib/overlay"
	"github.com/mirrorfs/mirrorfs/lib/requestsurface"
)

// checkoutJournal adapts *journal.Journal to checkout.Journal, discarding
// the journal.Delta that checkout.Engine has no use for.
type checkoutJournal struct {
	j *journal.Journal
}

func (c checkoutJournal) RecordCheckout(fromHash, toHash objhash.Hash, changedPaths []objhash.RelativePath) {
	c.j.RecordCheckout(fromHash, toHash, changedPaths)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mirrorfsd",
		Short:         "mirrorfs daemon: projects a commit as a live, writable directory tree",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var (
		etcConfigDir   string
		userConfigFile string
		repository     string
		clientDir      string
		mountPoint     string
		privhelperPath string
		allowOther     bool
	)

	root.Flags().StringVar(&etcConfigDir, "config-dir", "/etc/mirrorfs/config.d", "directory of INI config.d fragments")
	root.Flags().StringVar(&userConfigFile, "user-config", "", "per-user INI config override file")
	root.Flags().StringVar(&repository, "repository", "", "name of the [repository <name>] section to mount")
	root.Flags().StringVar(&clientDir, "client-dir", "", "overlay/client directory for this mount")
	root.Flags().StringVar(&mountPoint, "mount", "", "directory to mount the projected tree at")
	root.Flags().StringVar(&privhelperPath, "privhelper", "mirrorfs-privhelper", "path to the privileged helper binary")
	root.Flags().BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")

	root.RunE = func(cmd *cobra.Command, args []string) error {
		if repository == "" || clientDir == "" || mountPoint == "" {
			return fmt.Errorf("mirrorfsd: --repository, --client-dir, and --mount are required")
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		return run(cmd.Context(), runOptions{
			etcConfigDir:   etcConfigDir,
			userConfigFile: userConfigFile,
			repository:     repository,
			clientDir:      clientDir,
			mountPoint:     mountPoint,
			privhelperPath: privhelperPath,
			allowOther:     allowOther,
			logger:         logger,
		})
	}

	return root
}

type runOptions struct {
	etcConfigDir   string
	userConfigFile string
	repository     string
	clientDir      string
	mountPoint     string
	privhelperPath string
	allowOther     bool
	logger         *slog.Logger
}

func run(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.etcConfigDir, opts.userConfigFile)
	if err != nil {
		return fmt.Errorf("mirrorfsd: loading config: %w", err)
	}
	repoCfg, ok := cfg.Repositories[opts.repository]
	if !ok {
		return fmt.Errorf("mirrorfsd: no [repository %q] section configured", opts.repository)
	}

	fetcher, err := openFetcher(ctx, repoCfg.Type, repoCfg.Path)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	local, err := localstore.Open(opts.clientDir + "/objects")
	if err != nil {
		return fmt.Errorf("mirrorfsd: opening local store: %w", err)
	}
	store := objectstore.New(local, fetcher)

	ovl, err := overlay.Open(opts.clientDir)
	if err != nil {
		return fmt.Errorf("mirrorfsd: opening overlay: %w", err)
	}

	snapshot, err := ovl.ReadSnapshot()
	if err != nil {
		return fmt.Errorf("mirrorfsd: reading SNAPSHOT: %w", err)
	}
	if !ovl.CloneSucceeded() {
		if err := ovl.MarkCloneSucceeded(); err != nil {
			return fmt.Errorf("mirrorfsd: marking clone succeeded: %w", err)
		}
	}

	generation, err := ovl.NextMountGeneration()
	if err != nil {
		return fmt.Errorf("mirrorfsd: reading mount generation: %w", err)
	}
	clk := clock.Real()
	j := journal.New(clk, generation)

	manager := inode.New(store, ovl, clk, j, snapshot)
	checkoutEngine := checkout.New(manager, ovl, checkoutJournal{j})
	ds, err := dirstate.Load(manager, store, ovl)
	if err != nil {
		return fmt.Errorf("mirrorfsd: loading dirstate: %w", err)
	}

	helper, err := mounthelper.StartHelper(opts.privhelperPath, opts.mountPoint)
	if err != nil {
		return fmt.Errorf("mirrorfsd: starting privileged helper: %w", err)
	}

	if err := dropPrivileges(); err != nil {
		helper.Shutdown()
		return fmt.Errorf("mirrorfsd: dropping privileges: %w", err)
	}

	server, err := fuseadapter.Mount(fuseadapter.Options{
		Mountpoint: opts.mountPoint,
		Manager:    manager,
		AllowOther: opts.allowOther,
		Logger:     opts.logger,
	})
	if err != nil {
		helper.Shutdown()
		return err
	}

	rs := &requestsurface.Server{
		Manager:  manager,
		Checkout: checkoutEngine,
		Dirstate: ds,
		Journal:  j,
		Store:    store,
		Overlay:  ovl,
		Helper:   helper,
	}
	socketPath := opts.clientDir + "/mirrorfsd.sock"
	if err := rs.Listen(socketPath); err != nil {
		server.Unmount()
		helper.Shutdown()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := rs.Serve(ctx); err != nil {
			opts.logger.Warn("request surface stopped", "error", err)
		}
	}()

	<-ctx.Done()

	opts.logger.Info("shutting down", "mount", opts.mountPoint)
	server.Unmount()
	if _, err := helper.Shutdown(); err != nil {
		opts.logger.Warn("privileged helper shutdown reported an error", "error", err)
	}
	return nil
}

// dropPrivileges relinquishes root once the privileged helper has
// taken over mount/unmount duties, matching the client-drops-
// privileges half of the fork-based model in the original. Invoked
// through sudo, the real uid/gid to drop to come from SUDO_UID and
// SUDO_GID; outside of that (already unprivileged, or run as a plain
// user for testing) it is a no-op.
func dropPrivileges() error {
	if os.Geteuid() != 0 {
		return nil
	}
	sudoUID := os.Getenv("SUDO_UID")
	sudoGID := os.Getenv("SUDO_GID")
	if sudoUID == "" || sudoGID == "" {
		return nil
	}
	uid, err := strconv.Atoi(sudoUID)
	if err != nil {
		return fmt.Errorf("parsing SUDO_UID: %w", err)
	}
	gid, err := strconv.Atoi(sudoGID)
	if err != nil {
		return fmt.Errorf("parsing SUDO_GID: %w", err)
	}
	return mounthelper.DropPrivileges(uid, gid)
}

func openFetcher(ctx context.Context, kind, path string) (backingstore.Fetcher, error) {
	switch strings.ToLower(kind) {
	case "localgit", "":
		return backingstore.NewLocalGit(path), nil
	case "sshgit":
		host, remotePath, ok := strings.Cut(path, ":")
		if !ok {
			return nil, fmt.Errorf("mirrorfsd: sshgit path %q must be host:path", path)
		}
		user := os.Getenv("USER")
		return backingstore.DialSshGit(ctx, host, user, remotePath)
	default:
		return nil, fmt.Errorf("mirrorfsd: unknown backing store type %q", kind)
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "mirrorfsd:", err)
		os.Exit(1)
	}
}
