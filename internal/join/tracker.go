// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package join

import (
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// Tracker counts per-node completions of some network-wide condition
// (join-protocol completion when with_join is set, RPL first-parent
// acquisition otherwise — internal/mote picks which) and, once every node
// has reported in, arms a single termination event `numCyclesPerRun`
// cycles later (spec.md §4.7: "When every node is joined, the simulation
// scheduler is informed to terminate after numCyclesPerRun additional
// cycles.").
type Tracker struct {
	expected    int
	joined      map[peer.NodeID]bool
	sched       *simtime.Scheduler
	cycleLen    int64 // slotframeLength * numCyclesPerRun, in ASNs
	onConverged func()
	onDone      func()
	fired       bool
}

// NewTracker returns a Tracker expecting `expected` nodes to report in.
// extraASN is the number of additional ASNs to run once the last node
// reports; onDone is invoked when that grace period elapses. onConverged,
// if non-nil, fires synchronously the instant the last node reports in
// (spec.md §6 convergeFirst/settlingTime: the moment statistics collection
// should begin, as distinct from the later moment the run should end).
func NewTracker(expected int, sched *simtime.Scheduler, extraASN int64, onConverged func(), onDone func()) *Tracker {
	return &Tracker{
		expected:    expected,
		joined:      make(map[peer.NodeID]bool, expected),
		sched:       sched,
		cycleLen:    extraASN,
		onConverged: onConverged,
		onDone:      onDone,
	}
}

// MarkJoined records that node id has completed the tracked condition.
// Safe to call more than once for the same node.
func (t *Tracker) MarkJoined(id peer.NodeID) {
	if t.fired || t.joined[id] {
		return
	}
	t.joined[id] = true
	if len(t.joined) < t.expected {
		return
	}
	t.fired = true
	if t.onConverged != nil {
		t.onConverged()
	}
	delay := t.cycleLen
	if delay <= 0 {
		delay = 1
	}
	_ = t.sched.ScheduleIn(uint64(delay), "join.tracker.terminate", simtime.PriorityAppJoin, func(simtime.ASN) {
		if t.onDone != nil {
			t.onDone()
		}
	})
}

// AllJoined reports whether every expected node has joined.
func (t *Tracker) AllJoined() bool {
	return len(t.joined) >= t.expected
}
