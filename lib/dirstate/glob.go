// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirstate

import (
	"path"
	"strings"
)

// matchGlob reports whether target matches pattern using shell-style
// globbing (path.Match), extended with "**" as "match any number of
// path segments" since gitignore patterns rely on it and path.Match
// alone does not cross '/' boundaries.
func matchGlob(pattern, target string) (bool, error) {
	if !strings.Contains(pattern, "**") {
		return path.Match(pattern, target)
	}

	segments := strings.Split(pattern, "**")
	return matchGlobStar(segments, target)
}

// matchGlobStar matches target against a pattern already split on
// "**", trying every way of distributing target's components between
// segments.
func matchGlobStar(segments []string, target string) (bool, error) {
	if len(segments) == 1 {
		return path.Match(strings.Trim(segments[0], "/"), target)
	}

	head := strings.Trim(segments[0], "/")
	rest := segments[1:]
	parts := strings.Split(target, "/")
	for i := 0; i <= len(parts); i++ {
		prefix := strings.Join(parts[:i], "/")
		if head != "" {
			ok, err := path.Match(head, prefix)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
		}
		// The "**" absorbs parts[i:j], zero or more whole components.
		for j := i; j <= len(parts); j++ {
			ok, err := matchGlobStar(rest, strings.Join(parts[j:], "/"))
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}
