// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package app

import (
	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

type reassemblyKey struct {
	source peer.NodeID
	tag    uint16
}

type reassemblyEntry struct {
	total        int
	received     map[int]bool
	data         frame.DataPayload
	lastActivity simtime.ASN
}

// ReassemblyQueue accumulates fragments of a datagram keyed by
// (source, tag) until every offset has arrived (spec.md §3 "Reassembly
// queue", §4.8).
type ReassemblyQueue struct {
	maxEntries int
	entries    map[reassemblyKey]*reassemblyEntry
}

// NewReassemblyQueue returns a queue bounded to maxEntries in-flight
// datagrams (numReassQueue).
func NewReassemblyQueue(maxEntries int) *ReassemblyQueue {
	return &ReassemblyQueue{maxEntries: maxEntries, entries: make(map[reassemblyKey]*reassemblyEntry)}
}

// Add records one fragment. Returns (complete, data, accepted): accepted
// is false if a new entry was needed but the queue is full (caller counts
// droppedFragReassQueueFull); complete is true once every offset of the
// datagram has been seen, with data holding the reconstructed payload.
func (q *ReassemblyQueue) Add(from peer.NodeID, p frame.FragPayload, now simtime.ASN) (complete bool, data frame.DataPayload, accepted bool) {
	key := reassemblyKey{source: from, tag: p.Tag}
	e, ok := q.entries[key]
	if !ok {
		if len(q.entries) >= q.maxEntries {
			return false, frame.DataPayload{}, false
		}
		e = &reassemblyEntry{total: p.Total, received: make(map[int]bool), data: p.Data}
		q.entries[key] = e
	}
	e.received[p.Offset] = true
	e.lastActivity = now
	if len(e.received) >= e.total {
		delete(q.entries, key)
		return true, e.data, true
	}
	return false, frame.DataPayload{}, true
}

// Prune evicts entries idle for more than expiryASN (spec.md §3:
// "Entries expire after 60 seconds of inactivity").
func (q *ReassemblyQueue) Prune(now simtime.ASN, expiryASN int64) {
	for k, e := range q.entries {
		if int64(now)-int64(e.lastActivity) > expiryASN {
			delete(q.entries, k)
		}
	}
}

// Len reports the number of in-flight datagrams.
func (q *ReassemblyQueue) Len() int { return len(q.entries) }
