// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package mote wires every per-node layer (TSCH MAC, 6top, RPL, MSF,
// Join, application) into one container per simulated node, the same way
// heistp-scim's main.go wires Sender/Iface/Delay/Receiver into one
// []Handler passed to NewSim. Simulation (simulation.go) owns the
// simulation-wide collaborators (scheduler, topology, propagation
// coordinator, modulation table) and builds one Mote per node.
package mote

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"

	"github.com/tsch-sim/tschsim/internal/app"
	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/join"
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/modulation"
	"github.com/tsch-sim/tschsim/internal/msf"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/promexport"
	"github.com/tsch-sim/tschsim/internal/rpl"
	"github.com/tsch-sim/tschsim/internal/simstats"
	"github.com/tsch-sim/tschsim/internal/simtime"
	"github.com/tsch-sim/tschsim/internal/sixtop"
	"github.com/tsch-sim/tschsim/internal/xplot"
)

// jitterFrac is the +-20% jitter applied to every periodic broadcast
// timer (EB/DIO/DAO), matching spec.md §4.3's "roughly period ± 20%"
// extended uniformly to DIO/DAO per spec.md §6.
const jitterFrac = 0.2

// defaultFragmentSize is the per-fragment byte size recorded in outgoing
// FragPayloads. The simulator models airtime purely through modulation
// slot counts, not payload bytes, so this value is never consulted by any
// scheduling decision; it exists only so FragPayload.Size is populated
// with something plausible for diagnostic output.
const defaultFragmentSize = 64

// Mote is one simulated node: the TSCH engine plus every upper layer
// wired to it, and the Demux the engine hands received frames to.
type Mote struct {
	id     peer.NodeID
	isRoot bool
	sim    *Simulation

	engine    *mac.Engine
	sixtopMgr *sixtop.Manager // nil when sixtopMessaging is disabled
	sf        *msf.MSF
	rpl       *rpl.Instance
	join      *join.Manager // nil unless with_join
	app       *app.Manager

	mcsTable *modulation.Table
	cnt      *counters
	stats    *simstats.Collector
	prom     *promexport.MoteView // nil when metrics are disabled
	rankPlot *xplot.Xplot         // nil unless cfg.XplotDir is set
	log      *slog.Logger
	rng      *rand.Rand
}

// newMote builds and wires every layer for node id, following the
// construct-the-shell-then-patch-the-back-reference technique used
// throughout this package: the engine needs its own Demux (this Mote)
// before the Mote is fully populated, and RPL's parent-change callbacks
// close over m.sf/m.startScheduling before those fields exist, reading
// them only once the scheduler actually starts running events.
func newMote(sim *Simulation, id peer.NodeID) *Mote {
	cfg := sim.cfg
	isRoot := id == 0
	rng := rand.New(rand.NewSource(cfg.Seed + int64(id)))

	stats := simstats.New(int(id), nil)
	var promView *promexport.MoteView
	if sim.prom != nil {
		promView = sim.prom.ForMote(strconv.Itoa(int(id)))
	}
	cnt := &counters{stats: stats, prom: promView}

	m := &Mote{
		id:       id,
		isRoot:   isRoot,
		sim:      sim,
		mcsTable: sim.mcsTable,
		cnt:      cnt,
		stats:    stats,
		prom:     promView,
		rng:      rng,
		log:      sim.log.With("mote", int(id)),
	}

	if cfg.XplotDir != "" {
		p := xplot.ForMetric(fmt.Sprintf("mote %d rank", id), "rank")
		name := filepath.Join(cfg.XplotDir, fmt.Sprintf("mote-%d-rank.xpl", id))
		if err := p.Open(name); err != nil {
			m.log.Warn("failed to open rank xplot file", "path", name, "error", err)
		} else {
			m.rankPlot = p
		}
	}

	engineCfg := mac.Config{
		SlotframeLength: cfg.SlotframeLength,
		NumChans:        cfg.NumChans,
		QueueSize:       mac.DefaultQueueSize,
		MaxRetries:      mac.DefaultMaxRetries,
		BackoffMinExp:   cfg.BackoffMinExp,
		BackoffMaxExp:   cfg.BackoffMaxExp,
	}
	engine := mac.New(id, engineCfg, sim.mcsTable, sim.sched, sim.coord, m, cnt, rng)
	m.engine = engine
	stats.SetSchedule(engine.Schedule())
	sim.coord.Register(id, engine)

	linkPDR := func(nbr peer.NodeID) float64 {
		return sim.topo.StaticPDR(id, nbr)
	}

	m.rpl = rpl.NewInstance(id, isRoot, engine.Schedule(), linkPDR)
	m.rpl.OnParentChange = func(old, newParent peer.NodeID, hadOld bool) {
		m.sf.HandleParentChange(old, hadOld, newParent)
		if m.rankPlot != nil {
			m.rankPlot.Dot(sim.sched.GetASN(), int(m.rpl.Rank()), xplot.ColorGreen)
		}
	}
	m.rpl.OnFirstParent = func() {
		if !cfg.WithJoin {
			m.startScheduling()
			sim.tracker.MarkJoined(m.id)
		}
	}

	var sixtopInit msf.SixtopInitiator
	if cfg.SixtopMessaging {
		sm := sixtop.New(id, sixtop.DefaultConfig(cfg.NumChans), engine, sim.sched, rng, m.sixtopTimeout, linkPDR)
		sm.SetCellChangeObservers(
			func(nbr peer.NodeID, dir frame.Direction, n int) {
				m.log.Debug("cells added", "neighbor", int(nbr), "direction", dir, "count", n)
			},
			func(nbr peer.NodeID, dir frame.Direction, n int) {
				m.log.Debug("cells freed", "neighbor", int(nbr), "direction", dir, "count", n)
			},
		)
		m.sixtopMgr = sm
		sixtopInit = sm
	} else {
		sixtopInit = &instantSixtop{
			id:       id,
			engine:   engine,
			mcsTable: sim.mcsTable,
			mcs:      sim.mcsTable.MinimalCellModulation(),
			numChans: cfg.NumChans,
			rng:      rng,
			lookup:   sim.moteByID,
		}
	}

	msfCfg := msf.DefaultConfig(asASN(25, cfg.SlotDuration), asASN(300, cfg.SlotDuration))
	msfCfg.NumCellsToAddOrRemove = cfg.MsfNumCellsToAddOrRemove
	msfCfg.MaxNumCells = cfg.MsfMaxNumCells
	msfCfg.MinCells = cfg.MinCellsMSF
	m.sf = msf.New(id, msfCfg, sixtopInit, engine.Schedule(), sim.sched, msf.DisabledAdjuster)

	engine.SetSendObserver(m.onFrameSent)

	if cfg.WithJoin {
		joinCfg := join.Config{
			RootID:           0,
			NumExchanges:     cfg.JoinNumExchanges,
			RetryDelayASN:    asASN(cfg.SlotDuration+cfg.JoinAttemptTimeout, cfg.SlotDuration),
			InitJitterMaxASN: int64(cfg.SlotframeLength),
		}
		jm := join.New(id, isRoot, joinCfg, engine, sim.sched, rng)
		jm.OnJoined = func(self peer.NodeID) {
			sim.tracker.MarkJoined(self)
			m.startScheduling()
		}
		m.join = jm
	}

	appCfg := app.Config{
		RootID:                   0,
		PeriodASN:                asASN(cfg.PkPeriod, cfg.SlotDuration),
		PeriodVar:                cfg.PkPeriodVar,
		NumFragments:             cfg.NumFragments,
		FragmentSize:             defaultFragmentSize,
		NumReassQueue:            cfg.NumReassQueue,
		MaxVRBEntryNum:           cfg.MaxVRBEntryNum,
		EnableFragmentForwarding: cfg.EnableFragmentForwarding,
		KillEntryByMissing:       cfg.OptFragmentForwarding,
		ExpiryASN:                asASN(60, cfg.SlotDuration),
		SkipCellCheck:            cfg.SF == "ilp",
	}
	m.app = app.New(id, isRoot, appCfg, engine, m.rpl, engine.Schedule(), cnt, cnt, sim.sched, rng)

	m.installMinimalCells(cfg.NrMinimalCells, cfg.NumChans)

	if isRoot {
		m.startScheduling()
		sim.tracker.MarkJoined(id)
	}

	return m
}

// HandleFrame implements mac.Demux, dispatching a received frame to the
// layer that owns its type (spec.md §2 data flow).
func (m *Mote) HandleFrame(from peer.NodeID, fr *frame.Frame) {
	switch fr.Type {
	case frame.TypeData, frame.TypeFrag:
		m.app.HandleFrame(from, fr)
	case frame.TypeJoin:
		if m.join != nil {
			m.join.HandleFrame(fr)
		}
	case frame.TypeDIO:
		m.rpl.HandleDIO(from, fr.Payload.(frame.DIOPayload))
	case frame.TypeDAO:
		m.handleDAO(fr)
	case frame.TypeEB:
		if m.join != nil {
			m.join.OnEBReceived(from)
		}
	case frame.TypeSixtopRequest:
		if m.sixtopMgr != nil {
			m.sixtopMgr.HandleRequest(from, fr.Payload.(frame.SixtopRequestPayload))
		}
	case frame.TypeSixtopResponse:
		if m.sixtopMgr != nil {
			m.sixtopMgr.HandleResponse(from, fr.Payload.(frame.SixtopResponsePayload))
		}
	}
}

// handleDAO records a DAO at the root, or relays it one hop further
// upstream toward this node's own preferred parent. DAOTable has no
// HandleDAO counterpart of its own: relay-vs-record lives here because it
// is demux-level routing, not RPL instance state (spec.md §4.5 "DAO").
func (m *Mote) handleDAO(fr *frame.Frame) {
	payload := fr.Payload.(frame.DAOPayload)
	if m.isRoot {
		m.sim.daoTable.Record(payload.Node, payload.PreferredParent)
		return
	}
	parent, ok := m.rpl.PreferredParent()
	if !ok {
		return
	}
	relay := frame.New(frame.TypeDAO, m.id, 0, payload)
	relay.SetNextHop(peer.ToNode(parent))
	_ = m.engine.Enqueue(relay)
}

// startScheduling arms EB/DIO/DAO emission and the application generator
// together, the moment this node is allowed to start acting as a full
// stack member: immediately for the root, on join completion when
// with_join is set, or on first RPL parent acquisition otherwise (spec.md
// §4.7 "starts the remaining stack").
func (m *Mote) startScheduling() {
	cfg := m.sim.cfg

	beaconCfg := mac.BeaconConfig{
		PeriodSlots:       asSlots(cfg.BeaconPeriod, cfg.SlotDuration),
		Bayesian:          cfg.BayesianBroadcast,
		BeaconProbability: cfg.BeaconProbability,
	}
	m.engine.ScheduleEB(beaconCfg, m.syncedNeighborCount, jitterFrac)

	bcCfg := rpl.BroadcastConfig{
		DIOPeriodSlots: asSlots(cfg.DioPeriod, cfg.SlotDuration),
		DAOPeriodSlots: asSlots(cfg.DaoPeriod, cfg.SlotDuration),
		Bayesian:       cfg.BayesianBroadcast,
		DIOProbability: cfg.DioProbability,
	}
	rpl.ScheduleDIO(m.rpl, m.id, m.engine, m.sim.sched, m.rng, bcCfg, m.syncedNeighborCount, jitterFrac)
	rpl.ScheduleDAO(m.rpl, m.id, m.engine, m.sim.sched, m.rng, bcCfg, jitterFrac)

	m.app.ScheduleGenerator()

	if n := asSlots(cfg.MsfHousekeepingPeriod, cfg.SlotDuration); n > 0 {
		m.armHousekeeping(n)
	}
}

// armHousekeeping drives the application layer's periodic reassembly/VRB
// expiry sweep (app.Manager.Prune, spec.md §3: "entries expire after 60
// seconds of inactivity") off the configured housekeeping cadence.
func (m *Mote) armHousekeeping(periodSlots int) {
	tag := fmt.Sprintf("mote.housekeeping.%d", m.id)
	_ = m.sim.sched.ScheduleIn(uint64(periodSlots), tag, simtime.PriorityMSF, func(simtime.ASN) {
		m.app.Prune()
		m.armHousekeeping(periodSlots)
	})
}

// syncedNeighborCount approximates the Bayesian broadcast gate's "synced
// neighbors" denominator with the whole network's node count, since no
// richer per-neighbor liveness table exists in this design: every other
// node is assumed eventually reachable.
func (m *Mote) syncedNeighborCount() int {
	if n := len(m.sim.motes); n > 1 {
		return n - 1
	}
	return 1
}

// onFrameSent is the engine's send-observer hook: it advances 6top's
// request/response state machine and approximates MSF's cell-usage
// accounting, which strictly applies only to a dedicated SHARED cell's
// activation but is approximated here as any unicast frame completion
// addressed to the current preferred parent (the engine has no "this was
// a SHARED cell" signal in its send-observer callback).
func (m *Mote) onFrameSent(fr *frame.Frame, acked bool) {
	if m.sixtopMgr != nil {
		m.sixtopMgr.FrameSent(fr, acked)
	}
	if fr.NextHop.IsBroadcast() {
		return
	}
	parent, ok := m.rpl.PreferredParent()
	if ok && fr.NextHop.Equal(peer.ToNode(parent)) {
		m.sf.HandleCellActivation(parent, acked)
	}
}

// sixtopTimeout implements sixtop.TimeoutFunc (spec.md §4.4 "Timeout
// computation"): ceil(slotframeLength / numTxCells * 1/meanCellPDR), the
// slotDuration factor on both sides of the formula cancelling out since
// the result is expressed directly in ASNs. Falls back to
// sixtop.DefaultTimeoutASN with no observed cells or PDR data yet.
func (m *Mote) sixtopTimeout(nbr peer.NodeID) int64 {
	cells := m.engine.Schedule().CellsTo(peer.ToNode(nbr))
	var tx []*mac.Cell
	for _, c := range cells {
		if c.Direction == frame.DirTX {
			tx = append(tx, c)
		}
	}
	if len(tx) == 0 {
		return sixtop.DefaultTimeoutASN
	}
	var sum float64
	var n int
	for _, c := range tx {
		if pdr, ok := c.PDR(); ok {
			sum += pdr
			n++
		}
	}
	if n == 0 {
		return sixtop.DefaultTimeoutASN
	}
	meanPDR := sum / float64(n)
	if meanPDR <= 0 {
		return sixtop.DefaultTimeoutASN
	}
	raw := float64(m.sim.cfg.SlotframeLength) / float64(len(tx)) / meanPDR
	return int64(math.Ceil(raw))
}

// installMinimalCells installs n SHARED broadcast cells across the first n
// timeslots, spread round-robin over numChans channels, at the most
// robust modulation (spec.md §3 "minimal cells" bootstrap invariant).
// Every node calls this with the same (n, numChans) inputs, so every
// node's bootstrap schedule matches without any cross-node coordination.
func (m *Mote) installMinimalCells(n, numChans int) {
	mcs := m.mcsTable.MinimalCellModulation()
	for i := 0; i < n; i++ {
		desc := []mac.CellDescriptor{{Timeslot: i, Channel: i % numChans, Direction: frame.DirShared}}
		if err := m.engine.Schedule().Add(peer.ToBroadcast(), desc, m.mcsTable, mcs); err != nil {
			m.log.Error("failed to install minimal cell", "timeslot", i, "error", err)
		}
	}
}

// close flushes and closes this node's rank xplot file, if one was
// opened.
func (m *Mote) close() {
	if m.rankPlot != nil {
		if err := m.rankPlot.Close(); err != nil {
			m.log.Warn("failed to close rank xplot file", "error", err)
		}
	}
}

// asSlots converts a duration in seconds to a slot count, rounding to the
// nearest slot.
func asSlots(seconds, slotDuration float64) int {
	if slotDuration <= 0 {
		return 0
	}
	return int(math.Round(seconds / slotDuration))
}

// asASN converts a duration in seconds to an ASN count, rounding to the
// nearest ASN (one ASN is one slotDuration-long slot).
func asASN(seconds, slotDuration float64) int64 {
	return int64(asSlots(seconds, slotDuration))
}
