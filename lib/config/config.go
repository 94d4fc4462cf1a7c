// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads mirrorfs's INI configuration. Files under
// <etc>/config.d/ and a single per-user file are merged in reverse
// directory order; within a file, [repository <name>] and
// [bindmounts <name>] sections are never merged across files — the
// first file to define a given section wins, matching the spec's
// "never merged across files" rule even though go-ini/ini would
// otherwise happily union same-named sections.
package config

import (
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
)

// RepositoryConfig is one `[repository <name>]` section.
type RepositoryConfig struct {
	Name string
	// Type names the backing-store kind ("localgit", "sshgit", ...).
	Type string
	// Path is the backing-store source (a filesystem path or an
	// ssh-style host:path, depending on Type).
	Path string
	// Hooks is the directory of post-clone/post-checkout hook
	// scripts. Defaults to "<etc>/hooks" if the section omits it.
	Hooks string
}

// BindMountConfig is one `[bindmounts <name>]` section.
type BindMountConfig struct {
	Name   string
	Client string
	Mount  string
}

// Config is the merged result of every config.d file plus the
// per-user override file.
type Config struct {
	Repositories map[string]RepositoryConfig
	BindMounts   map[string]BindMountConfig
	DefaultHooks string
}

var sectionNamePattern = regexp.MustCompile(`^(repository|bindmounts)\s+"?([^"]+)"?$`)

// Load reads userConfigFile and then every file under etcConfigDir
// (non-recursive, subdirectories skipped), in that order, applying
// the first-section-wins merge rule, so the per-user file overrides
// any config.d fragment. etcConfigDir or userConfigFile may not
// exist; a missing directory or file is skipped, not an error.
func Load(etcConfigDir, userConfigFile string) (*Config, error) {
	cfg := &Config{
		Repositories: map[string]RepositoryConfig{},
		BindMounts:   map[string]BindMountConfig{},
		DefaultHooks: filepath.Join(etcConfigDir, "..", "hooks"),
	}

	paths, err := configDFiles(etcConfigDir)
	if err != nil {
		return nil, err
	}
	// Reverse directory order: highest-sorting file name overrides
	// lower ones among config.d entries, so process descending and
	// let "first write wins" naturally prefer the reverse-sorted
	// front-runner.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	if userConfigFile != "" {
		paths = append([]string{userConfigFile}, paths...)
	}

	for _, path := range paths {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func configDFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading config.d directory %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func (cfg *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading config file %s", path)
	}

	file, err := ini.Load(data)
	if err != nil {
		return errors.Wrapf(err, "parsing config file %s", path)
	}

	interp := interpolator()

	for _, section := range file.Sections() {
		m := sectionNamePattern.FindStringSubmatch(section.Name())
		if m == nil {
			continue
		}
		kind, name := m[1], m[2]
		switch kind {
		case "repository":
			if _, exists := cfg.Repositories[name]; exists {
				continue
			}
			hooks := interp(section.Key("hooks").String())
			if hooks == "" {
				hooks = cfg.DefaultHooks
			}
			cfg.Repositories[name] = RepositoryConfig{
				Name:  name,
				Type:  interp(section.Key("type").String()),
				Path:  interp(section.Key("path").String()),
				Hooks: hooks,
			}
		case "bindmounts":
			if _, exists := cfg.BindMounts[name]; exists {
				continue
			}
			cfg.BindMounts[name] = BindMountConfig{
				Name:   name,
				Client: interp(section.Key("client-path").String()),
				Mount:  interp(section.Key("mount-path").String()),
			}
		}
	}
	return nil
}

// interpolator returns a function substituting ${HOME} and ${USER}
// in config values, per spec §6.
func interpolator() func(string) string {
	home, _ := os.UserHomeDir()
	username := os.Getenv("USER")
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	return func(s string) string {
		s = strings.ReplaceAll(s, "${HOME}", home)
		s = strings.ReplaceAll(s, "${USER}", username)
		return s
	}
}
