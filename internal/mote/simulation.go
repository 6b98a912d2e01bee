// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package mote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tsch-sim/tschsim/internal/config"
	"github.com/tsch-sim/tschsim/internal/join"
	"github.com/tsch-sim/tschsim/internal/modulation"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/promexport"
	"github.com/tsch-sim/tschsim/internal/radiomodel"
	"github.com/tsch-sim/tschsim/internal/rpl"
	"github.com/tsch-sim/tschsim/internal/simstats"
	"github.com/tsch-sim/tschsim/internal/simtime"
	"github.com/tsch-sim/tschsim/internal/topology"
)

// tickTag and resolveTag are the scheduler tags for the recurring
// per-ASN driver pair (dispatch then propagation resolve). They are
// reused every ASN rather than namespaced, since only one of each is ever
// pending at a time.
const (
	tickTag    = "sim.tick"
	resolveTag = "sim.resolve"
)

// Simulation owns every simulation-wide collaborator (spec.md §6's
// external collaborators: Topology, a propagation Coordinator, the shared
// modulation Table) and the full set of Motes, and drives the scheduler
// one ASN at a time, with the propagation coordinator resolving each
// ASN's slot activity between every mote's active-cell dispatch and any
// resulting RxDone upcall (simtime.PriorityActiveCell then
// simtime.PriorityPropagation).
//
// The drive loop is grounded on heistp-scim's Sim.Run (sim.go): a
// round-trip loop that checks a `done` flag set by an event handler and
// stops once it is true, generalized here from round-robin node
// scheduling to ASN-batch scheduler draining since MSF/EB/DIO/DAO/app
// timers keep rearming forever and the queue never empties on its own.
type Simulation struct {
	cfg *config.Config

	sched    *simtime.Scheduler
	coord    *radiomodel.Coordinator
	topo     topology.Topology
	mcsTable *modulation.Table
	log      *slog.Logger

	daoTable *rpl.DAOTable
	tracker  *join.Tracker

	prom       *promexport.Collector
	metricsSrv *metricsServer

	motes map[peer.NodeID]*Mote
	order []peer.NodeID

	done bool
}

type metricsServer struct {
	registry *prometheus.Registry
	cfg      promexport.Config
}

// New builds a Simulation for cfg: the shared modulation table and grid
// topology, the propagation coordinator, the optional Prometheus
// collaborator, the join/convergence tracker, and every node's Mote
// (spec.md §6).
func New(cfg *config.Config, log *slog.Logger) *Simulation {
	modCfg := modulation.ConfigSingleSlot
	if cfg.IndividualModulations {
		modCfg = modulation.ConfigOFDMMCS
	}
	mcsTable := modulation.NewTable(modCfg)

	sim := &Simulation{
		cfg:      cfg,
		sched:    simtime.New(),
		topo:     topology.NewGrid(cfg.NumMotes, cfg.SquareSide, mcsTable, cfg.Seed),
		mcsTable: mcsTable,
		log:      log,
		daoTable: rpl.NewDAOTable(),
		motes:    make(map[peer.NodeID]*Mote, cfg.NumMotes),
	}
	sim.coord = radiomodel.NewCoordinator(sim.topo, cfg.Seed)

	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		sim.prom = promexport.NewCollector(registry)
		sim.metricsSrv = &metricsServer{
			registry: registry,
			cfg:      promexport.Config{Enabled: true, Addr: cfg.Metrics.Addr, Path: cfg.Metrics.Path},
		}
	}

	extraASN := int64(cfg.SlotframeLength) * int64(cfg.NumCyclesPerRun)
	sim.tracker = join.NewTracker(cfg.NumMotes, sim.sched, extraASN, sim.onConverged, sim.onDone)

	for id := 0; id < cfg.NumMotes; id++ {
		nid := peer.NodeID(id)
		sim.motes[nid] = newMote(sim, nid)
		sim.order = append(sim.order, nid)
	}

	return sim
}

// moteByID looks up a Mote by node id, used by instantSixtop's
// direct-schedule-mutation shortcut.
func (sim *Simulation) moteByID(id peer.NodeID) *Mote {
	return sim.motes[id]
}

// onConverged fires the instant every expected node has joined (or, with
// with_join disabled, acquired its first RPL parent): if convergeFirst is
// set, every mote's statistics collector is reset after settlingTime has
// further elapsed, so steady-state counters are not polluted by bootstrap
// activity (spec.md §6 convergeFirst/settlingTime).
func (sim *Simulation) onConverged() {
	if !sim.cfg.ConvergeFirst {
		return
	}
	delay := asASN(sim.cfg.SettlingTime, sim.cfg.SlotDuration)
	if delay <= 0 {
		sim.resetAllStats()
		return
	}
	_ = sim.sched.ScheduleIn(uint64(delay), "sim.settling", simtime.PriorityAppJoin, func(simtime.ASN) {
		sim.resetAllStats()
	})
}

func (sim *Simulation) resetAllStats() {
	for _, id := range sim.order {
		sim.motes[id].stats.Reset()
	}
}

// onDone marks the simulation finished; the per-ASN driver checks this
// flag and stops rearming itself once true (spec.md §4.7 termination).
func (sim *Simulation) onDone() {
	sim.done = true
}

// armTick arms the dispatch-then-resolve pair for asn, which must be
// strictly greater than the scheduler's current ASN (both are armed
// together, ahead of time, since once "now" reaches asn the dispatch
// event itself cannot schedule its own same-ASN resolve companion).
func (sim *Simulation) armTick(asn simtime.ASN) {
	if sim.done {
		return
	}
	_ = sim.sched.ScheduleAtASN(asn, tickTag, simtime.PriorityActiveCell, func(simtime.ASN) {
		for _, id := range sim.order {
			sim.motes[id].engine.Dispatch(asn)
		}
	})
	_ = sim.sched.ScheduleAtASN(asn, resolveTag, simtime.PriorityPropagation, func(simtime.ASN) {
		sim.coord.Resolve(int64(asn))
		sim.armTick(asn + 1)
	})
}

// asnBatch bounds how far a single Scheduler.Run call advances before
// Simulation.Run rechecks sim.done; periodic timers (EB/DIO/DAO/MSF/app)
// rearm themselves forever, so the scheduler queue never drains on its
// own and Run must be driven in bounded batches rather than to
// exhaustion.
const asnBatch = simtime.ASN(10000)

// Run drives the simulation to completion: every node's stack is already
// armed by New (root motes start their schedule immediately, others once
// they join or acquire a parent), so Run only needs to start the per-ASN
// driver and pump the scheduler until the join tracker declares the
// network done.
func (sim *Simulation) Run(ctx context.Context) error {
	if sim.metricsSrv != nil && sim.cfg.Metrics.Enabled {
		srv := promexport.NewServer(sim.metricsSrv.cfg, sim.metricsSrv.registry)
		go func() {
			if err := promexport.ListenAndServe(ctx, srv); err != nil {
				sim.log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	sim.armTick(sim.sched.GetASN() + 1)

	for !sim.done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		target := sim.sched.GetASN() + asnBatch
		if err := sim.sched.Run(target); err != nil {
			return fmt.Errorf("mote: simulation run: %w", err)
		}
	}
	return nil
}

// Close releases every per-node diagnostic resource (currently just the
// optional rank xplot files); callers should defer it after New succeeds,
// whether or not Run ever gets called.
func (sim *Simulation) Close() {
	for _, id := range sim.order {
		sim.motes[id].close()
	}
}

// DAOTable exposes the root's accumulated downward routing state, e.g.
// for diagnostic reporting once a run completes.
func (sim *Simulation) DAOTable() *rpl.DAOTable {
	return sim.daoTable
}

// MoteStats returns the final accumulated statistics for node id, if it
// exists.
func (sim *Simulation) MoteStats(id peer.NodeID) (simstats.MoteStats, bool) {
	m, ok := sim.motes[id]
	if !ok {
		return simstats.MoteStats{}, false
	}
	return m.stats.GetMoteStats(), true
}

// NodeIDs returns every mote's id in construction order, for deterministic
// end-of-run reporting.
func (sim *Simulation) NodeIDs() []peer.NodeID {
	return sim.order
}
