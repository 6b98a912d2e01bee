// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package msf

import (
	"fmt"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// Config holds MSF's tunables (spec.md §6).
type Config struct {
	NumCellsToAddOrRemove int   // msfNumCellsToAddOrRemove
	MaxNumCells           int   // msfMaxNumCells
	MinCells              int   // minCellsMSF
	MaxOldParentRemovals  int   // MSF_MAX_OLD_PARENT_REMOVAL
	BootstrapRetryASN     int64 // cadence while still draining the old parent, first attempt (25s)
	SteadyRetryASN        int64 // cadence thereafter (300s)
}

// DefaultConfig returns spec.md's documented defaults, as ASN counts
// derived by the caller from slotDuration.
func DefaultConfig(bootstrapRetryASN, steadyRetryASN int64) Config {
	return Config{
		NumCellsToAddOrRemove: 1,
		MaxNumCells:           100,
		MinCells:              1,
		MaxOldParentRemovals:  3,
		BootstrapRetryASN:     bootstrapRetryASN,
		SteadyRetryASN:        steadyRetryASN,
	}
}

// oldParentState tracks the in-progress drain of cells to a superseded
// preferred parent (spec.md §4.6 "Parent change choreography").
type oldParentState struct {
	id       peer.NodeID
	active   bool
	attempts int
}

// MSF is the default SchedulingFunction (spec.md §4.6).
type MSF struct {
	id       peer.NodeID
	cfg      Config
	sixtop   SixtopInitiator
	schedule CellSource
	sched    *simtime.Scheduler
	adjuster BandwidthAdjuster

	counters  map[peer.NodeID]*UsageCounters
	oldParent oldParentState
}

// New returns an MSF scheduling function for node id.
func New(id peer.NodeID, cfg Config, sixtop SixtopInitiator, schedule CellSource, sched *simtime.Scheduler, adjuster BandwidthAdjuster) *MSF {
	if adjuster == nil {
		adjuster = DisabledAdjuster
	}
	return &MSF{
		id:       id,
		cfg:      cfg,
		sixtop:   sixtop,
		schedule: schedule,
		sched:    sched,
		adjuster: adjuster,
		counters: make(map[peer.NodeID]*UsageCounters),
	}
}

func (m *MSF) counterFor(nbr peer.NodeID) *UsageCounters {
	c, ok := m.counters[nbr]
	if !ok {
		c = NewUsageCounters(m.cfg.MaxNumCells)
		m.counters[nbr] = c
	}
	return c
}

// HandleCellActivation implements SchedulingFunction (spec.md §4.6 "Cell-
// usage accounting").
func (m *MSF) HandleCellActivation(nbr peer.NodeID, success bool) {
	used, elapsed, reset := m.counterFor(nbr).OnActivation(success)
	if reset {
		m.adjuster.Decide(used, elapsed, m.cfg.MaxNumCells)
	}
}

// HandleParentChange implements SchedulingFunction (spec.md §4.6 "Parent
// change choreography").
func (m *MSF) HandleParentChange(old peer.NodeID, hadOld bool, newParent peer.NodeID) {
	if len(m.schedule.CellsTo(peer.ToNode(newParent))) == 0 {
		n := m.cfg.MinCells
		if hadOld {
			if toOld := len(m.schedule.CellsTo(peer.ToNode(old))); toOld > n {
				n = toOld
			}
		}
		_ = m.sixtop.InitiateAdd(newParent, n, frame.DirTX)
	}

	if hadOld {
		m.oldParent = oldParentState{id: old, active: true}
		m.armRetry(true)
	}
}

func (m *MSF) retryTag() string {
	return fmt.Sprintf("msf.parentchange.%d", m.id)
}

func (m *MSF) armRetry(bootstrap bool) {
	delay := m.cfg.SteadyRetryASN
	if bootstrap {
		delay = m.cfg.BootstrapRetryASN
	}
	if delay <= 0 {
		delay = 1
	}
	_ = m.sched.ScheduleIn(uint64(delay), m.retryTag(), simtime.PriorityMSF, func(simtime.ASN) {
		m.onRetryTimer()
	})
}

// onRetryTimer drives steps 2-4 of spec.md §4.6's parent-change
// choreography: attempt to delete cells to the old parent, up to
// MaxOldParentRemovals times, until none remain.
func (m *MSF) onRetryTimer() {
	if !m.oldParent.active {
		return
	}
	owned := m.schedule.CellsTo(peer.ToNode(m.oldParent.id))
	if len(owned) == 0 || m.oldParent.attempts >= m.cfg.MaxOldParentRemovals {
		m.oldParent.active = false
		m.sched.RemoveEvent(m.retryTag())
		return
	}
	if !m.sixtop.Busy(m.oldParent.id) {
		_ = m.sixtop.InitiateDelete(m.oldParent.id, len(owned))
		m.oldParent.attempts++
	}
	m.armRetry(false)
}
