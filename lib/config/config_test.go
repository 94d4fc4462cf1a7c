// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_MissingDirAndFileAreNotErrors(t *testing.T) {
	tmp := t.TempDir()
	cfg, err := Load(filepath.Join(tmp, "nope"), filepath.Join(tmp, "nope.ini"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Repositories) != 0 || len(cfg.BindMounts) != 0 {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestLoad_FirstSectionWinsAcrossFiles(t *testing.T) {
	tmp := t.TempDir()
	etcDir := filepath.Join(tmp, "config.d")

	// Reverse directory order: "10-base" sorts before "20-override",
	// but merge order is reversed so "20-override" is read first and
	// wins on a collision.
	writeFile(t, filepath.Join(etcDir, "10-base.ini"), `
[repository main]
type = localgit
path = /var/repos/main
`)
	writeFile(t, filepath.Join(etcDir, "20-override.ini"), `
[repository main]
type = sshgit
path = git@host:main.git
`)

	cfg, err := Load(etcDir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	repo, ok := cfg.Repositories["main"]
	if !ok {
		t.Fatal("expected repository \"main\" to be present")
	}
	if repo.Type != "sshgit" || repo.Path != "git@host:main.git" {
		t.Fatalf("expected the higher-sorting file's section to win, got %+v", repo)
	}
}

func TestLoad_UserFileOverridesConfigD(t *testing.T) {
	tmp := t.TempDir()
	etcDir := filepath.Join(tmp, "config.d")
	userFile := filepath.Join(tmp, "user.ini")

	writeFile(t, filepath.Join(etcDir, "10-base.ini"), `
[repository main]
type = localgit
path = /var/repos/main
`)
	writeFile(t, userFile, `
[repository main]
type = sshgit
path = git@host:main.git

[bindmounts scratch]
client-path = ${HOME}/scratch
mount-path = /mnt/scratch
`)

	cfg, err := Load(etcDir, userFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Repositories["main"].Type != "sshgit" {
		t.Fatalf("expected user file to win, got %+v", cfg.Repositories["main"])
	}

	bm, ok := cfg.BindMounts["scratch"]
	if !ok {
		t.Fatal("expected bindmounts \"scratch\" to be present")
	}
	home, _ := os.UserHomeDir()
	if bm.Client != home+"/scratch" {
		t.Fatalf("expected ${HOME} interpolation, got %q", bm.Client)
	}
}

func TestLoad_HooksDefaultsToEtcHooks(t *testing.T) {
	tmp := t.TempDir()
	etcDir := filepath.Join(tmp, "config.d")
	writeFile(t, filepath.Join(etcDir, "10-base.ini"), `
[repository main]
type = localgit
path = /var/repos/main
`)

	cfg, err := Load(etcDir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Repositories["main"].Hooks != cfg.DefaultHooks {
		t.Fatalf("expected default hooks dir, got %q", cfg.Repositories["main"].Hooks)
	}
}
