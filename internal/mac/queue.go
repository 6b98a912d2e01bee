// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package mac

import (
	"errors"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/peer"
)

// DefaultQueueSize is TSCH_QUEUE_SIZE from spec.md §4.3.
const DefaultQueueSize = 10

// DefaultMaxRetries is TSCH_MAXTXRETRIES from spec.md §4.3.
const DefaultMaxRetries = 4

var (
	// ErrNoRoute is a ResourceExhaustion-class rejection: the frame has no
	// next-hop set.
	ErrNoRoute = errors.New("mac: frame has no next-hop")
	// ErrNoTxCells is a ResourceExhaustion-class rejection: the schedule
	// holds no TX or SHARED cell at all, to any peer.
	ErrNoTxCells = errors.New("mac: no tx or shared cell")
	// ErrQueueFull is a ResourceExhaustion-class rejection (spec.md §4.3 /
	// §8 boundary behavior).
	ErrQueueFull = errors.New("mac: queue full")
)

// queue is the bounded per-node TX queue (spec.md §3 "TX queue (bounded)").
type queue struct {
	size  int
	items []*frame.Frame
	// controlExtra tracks, per control-plane Type, whether the one
	// additional over-capacity copy (spec.md §4.3) has already been used.
	controlExtra map[frame.Type]bool
}

func newQueue(size int) *queue {
	return &queue{size: size, controlExtra: make(map[frame.Type]bool)}
}

// Len returns the number of frames currently queued.
func (q *queue) Len() int {
	return len(q.items)
}

// Enqueue appends fr, honoring the one-extra-copy-per-control-type
// exception to queue fullness described in spec.md §4.3.
func (q *queue) Enqueue(fr *frame.Frame) error {
	if len(q.items) < q.size {
		q.items = append(q.items, fr)
		return nil
	}
	if fr.Type.IsControlPlane() && !q.controlExtra[fr.Type] {
		q.controlExtra[fr.Type] = true
		q.items = append(q.items, fr)
		return nil
	}
	return ErrQueueFull
}

// firstMatching returns (without removing) the first queued frame whose
// NextHop equals p, or nil if none match (spec.md §4.3 active-cell TX
// dispatch).
func (q *queue) firstMatching(p peer.Peer) *frame.Frame {
	for _, fr := range q.items {
		if fr.NextHop.Equal(p) {
			return fr
		}
	}
	return nil
}

// Remove deletes fr from the queue (by identity), releasing its
// control-plane extra-copy slot if applicable.
func (q *queue) Remove(fr *frame.Frame) {
	for i, it := range q.items {
		if it == fr {
			q.items = append(q.items[:i], q.items[i+1:]...)
			if fr.Type.IsControlPlane() {
				delete(q.controlExtra, fr.Type)
			}
			return
		}
	}
}

// EmptyFor reports whether the queue has no frames addressed to p.
func (q *queue) EmptyFor(p peer.Peer) bool {
	return q.firstMatching(p) == nil
}
