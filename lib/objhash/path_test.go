// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathComponentRejectsDotAndDotDot(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "a/b"} {
		_, err := NewPathComponent(bad)
		assert.Errorf(t, err, "expected error for %q", bad)
	}
}

func TestRelativePathSplit(t *testing.T) {
	tests := []struct {
		path       string
		wantParent RelativePath
		wantBase   PathComponent
	}{
		{"", Root, ""},
		{"foo", Root, "foo"},
		{"foo/bar", "foo", "bar"},
		{"foo/bar/baz", "foo/bar", "baz"},
	}
	for _, tt := range tests {
		p, err := NewRelativePath(tt.path)
		require.NoError(t, err)
		parent, base := p.Split()
		assert.Equal(t, tt.wantParent, parent, "path %q", tt.path)
		assert.Equal(t, tt.wantBase, base, "path %q", tt.path)
	}
}

func TestRelativePathRejectsLeadingOrTrailingSeparator(t *testing.T) {
	for _, bad := range []string{"/foo", "foo/", "/foo/"} {
		_, err := NewRelativePath(bad)
		assert.Errorf(t, err, "expected error for %q", bad)
	}
}

func TestRelativePathRejectsDotDotComponent(t *testing.T) {
	_, err := NewRelativePath("foo/../bar")
	assert.Error(t, err)
}

func TestRelativePathJoinAndComponents(t *testing.T) {
	p := Root.Join("a").Join("b").Join("c")
	assert.Equal(t, RelativePath("a/b/c"), p)
	assert.Equal(t, []PathComponent{"a", "b", "c"}, p.Components())
}

func TestAbsolutePathRelativize(t *testing.T) {
	base, err := NewAbsolutePath("/mnt/repo")
	require.NoError(t, err)

	full, err := NewAbsolutePath("/mnt/repo/src/main.go")
	require.NoError(t, err)

	rel, err := full.Relativize(base)
	require.NoError(t, err)
	assert.Equal(t, RelativePath("src/main.go"), rel)

	selfRel, err := base.Relativize(base)
	require.NoError(t, err)
	assert.Equal(t, Root, selfRel)
}

func TestAbsolutePathRelativizeRejectsNonPrefix(t *testing.T) {
	base, err := NewAbsolutePath("/mnt/repo")
	require.NoError(t, err)
	other, err := NewAbsolutePath("/mnt/other/file")
	require.NoError(t, err)

	_, err = other.Relativize(base)
	assert.Error(t, err)
}

func TestNewAbsolutePathRequiresLeadingSeparator(t *testing.T) {
	_, err := NewAbsolutePath("mnt/repo")
	assert.Error(t, err)
}
