// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashParseFormatRoundTrip(t *testing.T) {
	const hex = "8e073e366ed82de6465d1209d3f07da7eebabb90"
	h, err := Parse(hex)
	require.NoError(t, err)
	assert.Equal(t, hex, h.String())
}

func TestHashParseRejectsWrongLength(t *testing.T) {
	_, err := Parse("abcd")
	assert.Error(t, err)
}

func TestHashParseRejectsNonHex(t *testing.T) {
	_, err := Parse("zz073e366ed82de6465d1209d3f07da7eebabb9")
	assert.Error(t, err)
}

func TestHashCompareOrdering(t *testing.T) {
	a := MustParse("000000000000000000000000000000000000000a")
	b := MustParse("000000000000000000000000000000000000000b")
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestHashIsZero(t *testing.T) {
	var h Hash
	assert.True(t, h.IsZero())
	h[0] = 1
	assert.False(t, h.IsZero())
}

func TestSumMatchesSHA1(t *testing.T) {
	h := Sum([]byte("hello\n"))
	assert.Equal(t, "f572d396fae9206628714fb2ce00f72e94f2258f", h.String())
}
