// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objhash

import (
	"fmt"
	"strings"
)

// separator is the path component delimiter. mirrorfs paths always
// use '/' regardless of host OS, matching the source-control object
// model rather than the local filesystem.
const separator = '/'

// PathComponent is a single non-empty path element: no separator, and
// never "." or "..".
type PathComponent string

// NewPathComponent validates and returns name as a PathComponent.
func NewPathComponent(name string) (PathComponent, error) {
	if name == "" {
		return "", fmt.Errorf("path component is empty")
	}
	if strings.ContainsRune(name, separator) {
		return "", fmt.Errorf("path component %q contains a separator", name)
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("path component %q is not allowed", name)
	}
	return PathComponent(name), nil
}

// Compare orders two components byte-exactly (case-sensitive).
func (c PathComponent) Compare(other PathComponent) int {
	return strings.Compare(string(c), string(other))
}

func (c PathComponent) String() string { return string(c) }

// RelativePath is zero or more non-empty components joined by '/',
// containing no "." or ".." component and no leading/trailing
// separator.
type RelativePath string

// Root is the empty RelativePath, denoting the mount root itself.
const Root RelativePath = ""

// NewRelativePath validates and returns s as a RelativePath. An empty
// string is valid and denotes the root.
func NewRelativePath(s string) (RelativePath, error) {
	if s == "" {
		return Root, nil
	}
	if s[0] == separator || s[len(s)-1] == separator {
		return "", fmt.Errorf("relative path %q has a leading or trailing separator", s)
	}
	for _, part := range strings.Split(s, string(separator)) {
		if _, err := NewPathComponent(part); err != nil {
			return "", fmt.Errorf("relative path %q: %w", s, err)
		}
	}
	return RelativePath(s), nil
}

// Components splits the path into its component parts. The root path
// yields an empty slice.
func (p RelativePath) Components() []PathComponent {
	if p == Root {
		return nil
	}
	parts := strings.Split(string(p), string(separator))
	components := make([]PathComponent, len(parts))
	for i, part := range parts {
		components[i] = PathComponent(part)
	}
	return components
}

// Split returns the path's parent and final component. Calling Split
// on the root path returns (Root, "").
func (p RelativePath) Split() (parent RelativePath, base PathComponent) {
	if p == Root {
		return Root, ""
	}
	idx := strings.LastIndexByte(string(p), separator)
	if idx < 0 {
		return Root, PathComponent(p)
	}
	return RelativePath(p[:idx]), PathComponent(p[idx+1:])
}

// Join appends a component to p and returns the resulting path.
func (p RelativePath) Join(component PathComponent) RelativePath {
	if p == Root {
		return RelativePath(component)
	}
	return RelativePath(string(p) + string(separator) + string(component))
}

// IsRoot reports whether p denotes the mount root.
func (p RelativePath) IsRoot() bool { return p == Root }

func (p RelativePath) String() string { return string(p) }

// AbsolutePath is a RelativePath rooted at a mount point: it always
// begins with the separator, and is otherwise canonical (no duplicate
// separators, no "." or "..").
type AbsolutePath string

// NewAbsolutePath validates and returns s as an AbsolutePath.
func NewAbsolutePath(s string) (AbsolutePath, error) {
	if len(s) == 0 || s[0] != separator {
		return "", fmt.Errorf("absolute path %q must start with %q", s, string(separator))
	}
	trimmed := strings.TrimPrefix(s, string(separator))
	if trimmed != "" {
		if _, err := NewRelativePath(trimmed); err != nil {
			return "", fmt.Errorf("absolute path %q: %w", s, err)
		}
	}
	return AbsolutePath(s), nil
}

// Relativize returns p expressed relative to base (which must be a
// prefix of p, component-wise). Returns an error if base is not a
// prefix.
func (p AbsolutePath) Relativize(base AbsolutePath) (RelativePath, error) {
	pStr, baseStr := string(p), string(base)
	if baseStr == "/" {
		return NewRelativePath(strings.TrimPrefix(pStr, "/"))
	}
	if pStr == baseStr {
		return Root, nil
	}
	prefix := baseStr + string(separator)
	if !strings.HasPrefix(pStr, prefix) {
		return "", fmt.Errorf("path %q is not under base %q", p, base)
	}
	return NewRelativePath(pStr[len(prefix):])
}

func (p AbsolutePath) String() string { return string(p) }
