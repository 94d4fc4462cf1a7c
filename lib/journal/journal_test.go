// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/mirrorfs/lib/clock"
	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

func mustPath(t *testing.T, s string) objhash.RelativePath {
	t.Helper()
	p, err := objhash.NewRelativePath(s)
	require.NoError(t, err)
	return p
}

func TestRecordAssignsIncreasingSequence(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)

	d1 := j.RecordCheckout(objhash.Hash{}, objhash.Sum([]byte("a")), []objhash.RelativePath{mustPath(t, "x")})
	assert.Equal(t, uint64(1), d1.Sequence)

	d2 := j.RecordCheckout(d1.ToHash, objhash.Sum([]byte("b")), []objhash.RelativePath{mustPath(t, "y")})
	assert.Equal(t, uint64(2), d2.Sequence)

	latest, ok := j.Latest()
	require.True(t, ok)
	assert.Equal(t, d2, latest)
}

func TestRecordDerivesFromSequenceAndToSequence(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)

	d1 := j.RecordCheckout(objhash.Hash{}, objhash.Sum([]byte("a")), []objhash.RelativePath{mustPath(t, "x")})
	assert.Equal(t, uint64(0), d1.FromSequence)
	assert.Equal(t, uint64(1), d1.ToSequence)

	d2 := j.RecordCheckout(d1.ToHash, objhash.Sum([]byte("b")), []objhash.RelativePath{mustPath(t, "y")})
	assert.Equal(t, uint64(1), d2.FromSequence)
	assert.Equal(t, uint64(2), d2.ToSequence)

	for _, d := range []Delta{d1, d2} {
		assert.Equal(t, d.ToSequence, d.FromSequence+1)
	}
}

func TestLatestOnEmptyJournal(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)
	_, ok := j.Latest()
	assert.False(t, ok)
}

func TestSubscribeReceivesEveryRecord(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)
	var seen []Delta
	j.Subscribe(func(d Delta) { seen = append(seen, d) })

	j.RecordChange(mustPath(t, "a"))
	j.RecordChange(mustPath(t, "b"))

	require.Len(t, seen, 2)
	assert.Equal(t, uint64(1), seen[0].Sequence)
	assert.Equal(t, uint64(2), seen[1].Sequence)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)
	count := 0
	id := j.Subscribe(func(Delta) { count++ })
	j.RecordChange(mustPath(t, "a"))
	j.Unsubscribe(id)
	j.RecordChange(mustPath(t, "b"))
	assert.Equal(t, 1, count)
}

func TestPanickingSubscriberDoesNotCorruptRecord(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)
	j.Subscribe(func(Delta) { panic("boom") })
	assert.NotPanics(t, func() { j.RecordChange(mustPath(t, "a")) })

	latest, ok := j.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), latest.Sequence)
}

func TestChangesSinceAccumulatesInOrder(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)
	start := j.CurrentPosition()

	j.RecordChange(mustPath(t, "a"))
	j.RecordChange(mustPath(t, "b"))
	j.RecordChange(mustPath(t, "c"))

	paths, err := j.ChangesSince(start)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, []objhash.RelativePath{mustPath(t, "a"), mustPath(t, "b"), mustPath(t, "c")}, paths)
}

func TestChangesSinceMidCursorExcludesEarlierDeltas(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)
	j.RecordChange(mustPath(t, "a"))
	mid := j.CurrentPosition()
	j.RecordChange(mustPath(t, "b"))

	paths, err := j.ChangesSince(mid)
	require.NoError(t, err)
	assert.Equal(t, []objhash.RelativePath{mustPath(t, "b")}, paths)
}

func TestChangesSinceStaleGenerationIsOutOfRange(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)
	cursor := j.CurrentPosition()
	j.Reset()

	_, err := j.ChangesSince(cursor)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OutOfRange))
}

func TestResetClearsDeltasAndBumpsGeneration(t *testing.T) {
	j := New(clock.Fake(time.Unix(0, 0)), 1)
	j.RecordChange(mustPath(t, "a"))
	firstGen := j.CurrentPosition().Generation

	j.Reset()
	_, ok := j.Latest()
	assert.False(t, ok)
	assert.Equal(t, firstGen+1, j.CurrentPosition().Generation)
}
