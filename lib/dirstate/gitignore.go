// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirstate

import "strings"

// MatchResult is the outcome of testing one path against a pattern.
type MatchResult int

const (
	NoMatch MatchResult = iota
	Include
	Exclude
)

// pattern is one parsed line of a gitignore-style file.
type pattern struct {
	text         string
	include      bool // leading '!'
	mustBeDir    bool // trailing '/'
	basenameOnly bool // no '/' inside the pattern body
}

// parsePattern parses one line, returning (pattern, true) or
// (zero, false) if the line carries no pattern (blank or whitespace
// only, or a comment whose first non-space character is '#').
func parsePattern(line string) (pattern, bool) {
	if trimmed := strings.TrimSpace(line); trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return pattern{}, false
	}

	p := pattern{}
	if strings.HasPrefix(line, "!") {
		p.include = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.mustBeDir = true
		line = strings.TrimSuffix(line, "/")
	}
	if line == "" {
		return pattern{}, false
	}
	p.basenameOnly = !strings.Contains(line, "/")
	p.text = strings.TrimPrefix(line, "/")
	return p, true
}

// matches reports whether p applies to path (slash-separated, relative
// to the ignore file's directory) with basename as its final
// component.
func (p pattern) matches(path, basename string, isDir bool) bool {
	if p.mustBeDir && !isDir {
		return false
	}
	target := path
	if p.basenameOnly {
		target = basename
	}
	ok, err := matchGlob(p.text, target)
	if err != nil {
		return false
	}
	return ok
}

// Matcher evaluates a set of gitignore-style patterns against paths.
// Patterns are stored in file order but evaluated in reverse — the
// first (i.e. last-defined) conclusive match wins, per gitignore
// semantics.
type Matcher struct {
	patterns []pattern
}

// NewMatcher parses the newline-separated contents of a gitignore
// file into a Matcher.
func NewMatcher(contents string) *Matcher {
	var patterns []pattern
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimRight(line, "\r")
		if p, ok := parsePattern(line); ok {
			patterns = append(patterns, p)
		}
	}
	return &Matcher{patterns: patterns}
}

// Match evaluates path (basename is its final component) against
// every pattern in reverse definition order, returning the first
// conclusive result, or NoMatch if nothing applies.
func (m *Matcher) Match(path, basename string, isDir bool) MatchResult {
	for i := len(m.patterns) - 1; i >= 0; i-- {
		p := m.patterns[i]
		if p.matches(path, basename, isDir) {
			if p.include {
				return Include
			}
			return Exclude
		}
	}
	return NoMatch
}
