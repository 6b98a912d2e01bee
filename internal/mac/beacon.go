// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package mac

import (
	"fmt"
	"math/rand"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// BeaconConfig configures EB emission (spec.md §4.3 / §6).
type BeaconConfig struct {
	PeriodSlots       int  // 0 disables EB emission
	Bayesian          bool
	BeaconProbability float64
}

// beaconEventTag returns the unique scheduler tag for node id's recurring
// EB timer. Every node's Engine shares one simulation-wide Scheduler, so
// the tag must be namespaced by node id or two nodes' EB timers would
// clobber each other.
func beaconEventTag(id peer.NodeID) string {
	return fmt.Sprintf("mac.eb.%d", id)
}

// ScheduleEB arms (or re-arms) the periodic Enhanced Beacon timer described
// in spec.md §4.3: roughly period ± 20%, optionally gated by a Bayesian
// coin weighted by beaconProbability / |synced neighbors|.
//
// syncedNeighbors is consulted each time the timer fires, matching the
// spec's "per-cycle coin" semantics (not fixed at schedule time).
func (e *Engine) ScheduleEB(cfg BeaconConfig, syncedNeighbors func() int, jitterFrac float64) {
	if cfg.PeriodSlots <= 0 {
		return
	}
	e.beaconCfg = cfg
	e.syncedNeighbors = syncedNeighbors
	e.armEB(jitterFrac)
}

func (e *Engine) armEB(jitterFrac float64) {
	delay := jitteredPeriod(e.rng, e.beaconCfg.PeriodSlots, jitterFrac)
	_ = e.sched.ScheduleIn(uint64(delay), beaconEventTag(e.id), simtime.PriorityBroadcast, func(simtime.ASN) {
		e.onEBTimer(jitterFrac)
	})
}

func (e *Engine) onEBTimer(jitterFrac float64) {
	defer e.armEB(jitterFrac)
	if e.beaconCfg.Bayesian {
		n := 1
		if e.syncedNeighbors != nil {
			if sn := e.syncedNeighbors(); sn > 0 {
				n = sn
			}
		}
		p := e.beaconCfg.BeaconProbability / float64(n)
		if e.rng.Float64() >= p {
			return
		}
	}
	fr := frame.New(frame.TypeEB, e.id, 0, frame.EBPayload{})
	fr.SetNextHop(peer.ToBroadcast())
	_ = e.Enqueue(fr)
}

// jitteredPeriod returns period slots jittered by +-jitterFrac (spec.md
// §4.3: "roughly beaconPeriod ± 20%").
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
