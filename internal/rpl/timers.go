// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package rpl

import (
	"fmt"
	"math/rand"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// Enqueuer is the subset of *mac.Engine the RPL layer needs to transmit
// DIO/DAO frames.
type Enqueuer interface {
	Enqueue(fr *frame.Frame) error
}

// BroadcastConfig configures periodic DIO/DAO emission (spec.md §4.5 / §6
// dioPeriod/daoPeriod/bayesianBroadcast/dioProbability). A zero period
// disables that broadcast.
type BroadcastConfig struct {
	DIOPeriodSlots int
	DAOPeriodSlots int
	Bayesian       bool
	DIOProbability float64
}

// dioTag returns the unique scheduler tag for self's recurring DIO timer.
// Every node shares one simulation-wide Scheduler, so the tag must be
// namespaced by node id or two nodes' DIO timers would clobber each other.
func dioTag(self peer.NodeID) string {
	return fmt.Sprintf("rpl.dio.%d", self)
}

// ScheduleDIO arms the recurring DIO timer, mirroring mac.Engine.ScheduleEB's
// jittered-period-with-optional-Bayesian-gate shape (spec.md §4.3 EB
// emission, reused verbatim here for DIO per spec.md §6).
func ScheduleDIO(inst *Instance, self peer.NodeID, enq Enqueuer, sched *simtime.Scheduler, rng *rand.Rand, cfg BroadcastConfig, syncedNeighbors func() int, jitterFrac float64) {
	if cfg.DIOPeriodSlots <= 0 {
		return
	}
	armDIO(inst, self, enq, sched, rng, cfg, syncedNeighbors, jitterFrac)
}

func armDIO(inst *Instance, self peer.NodeID, enq Enqueuer, sched *simtime.Scheduler, rng *rand.Rand, cfg BroadcastConfig, syncedNeighbors func() int, jitterFrac float64) {
	delay := jitteredPeriod(rng, cfg.DIOPeriodSlots, jitterFrac)
	_ = sched.ScheduleIn(uint64(delay), dioTag(self), simtime.PriorityBroadcast, func(simtime.ASN) {
		onDIOTimer(inst, self, enq, sched, rng, cfg, syncedNeighbors, jitterFrac)
	})
}

func onDIOTimer(inst *Instance, self peer.NodeID, enq Enqueuer, sched *simtime.Scheduler, rng *rand.Rand, cfg BroadcastConfig, syncedNeighbors func() int, jitterFrac float64) {
	defer armDIO(inst, self, enq, sched, rng, cfg, syncedNeighbors, jitterFrac)
	if !inst.IsRoot() {
		if _, ok := inst.PreferredParent(); !ok {
			return // nothing useful to advertise before a parent is chosen
		}
	}
	if cfg.Bayesian {
		n := 1
		if syncedNeighbors != nil {
			if sn := syncedNeighbors(); sn > 0 {
				n = sn
			}
		}
		if rng.Float64() >= cfg.DIOProbability/float64(n) {
			return
		}
	}
	fr := frame.New(frame.TypeDIO, self, 0, inst.DIOPayload())
	fr.SetNextHop(peer.ToBroadcast())
	_ = enq.Enqueue(fr)
}

// ScheduleDAO arms the recurring DAO timer for a non-root node. Root nodes
// never emit DAOs (spec.md §4.5: "non-root nodes emit periodic DAO
// upstream").
func ScheduleDAO(inst *Instance, self peer.NodeID, enq Enqueuer, sched *simtime.Scheduler, rng *rand.Rand, cfg BroadcastConfig, jitterFrac float64) {
	if inst.IsRoot() || cfg.DAOPeriodSlots <= 0 {
		return
	}
	armDAO(inst, self, enq, sched, rng, cfg, jitterFrac)
}

func armDAO(inst *Instance, self peer.NodeID, enq Enqueuer, sched *simtime.Scheduler, rng *rand.Rand, cfg BroadcastConfig, jitterFrac float64) {
	delay := jitteredPeriod(rng, cfg.DAOPeriodSlots, jitterFrac)
	_ = sched.ScheduleIn(uint64(delay), daoTag(self), simtime.PriorityBroadcast, func(simtime.ASN) {
		onDAOTimer(inst, self, enq, sched, rng, cfg, jitterFrac)
	})
}

func onDAOTimer(inst *Instance, self peer.NodeID, enq Enqueuer, sched *simtime.Scheduler, rng *rand.Rand, cfg BroadcastConfig, jitterFrac float64) {
	defer armDAO(inst, self, enq, sched, rng, cfg, jitterFrac)
	parent, ok := inst.PreferredParent()
	if !ok {
		return
	}
	fr := frame.New(frame.TypeDAO, self, 0, frame.DAOPayload{Node: self, PreferredParent: parent})
	fr.SetNextHop(peer.ToBroadcast())
	_ = enq.Enqueue(fr)
}

func daoTag(self peer.NodeID) string {
	return fmt.Sprintf("rpl.dao.%d", self)
}

// jitteredPeriod returns period slots jittered by +-jitterFrac, the same
// shape as mac.jitteredPeriod.
func jitteredPeriod(rng *rand.Rand, period int, jitterFrac float64) int {
	if period <= 0 {
		return 1
	}
	spread := float64(period) * jitterFrac
	d := float64(period) + (rng.Float64()*2-1)*spread
	if d < 1 {
		d = 1
	}
	return int(d)
}
