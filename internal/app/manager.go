// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package app implements the periodic application traffic generator and
// fragmentation/reassembly layer (spec.md §4.8): data is generated at
// each node bound for the root, optionally split into fragments, relayed
// hop-by-hop with an incrementing hop count, and either reassembled or
// virtually forwarded according to configuration.
package app

import (
	"fmt"
	"math/rand"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// Enqueuer is the subset of *mac.Engine the application layer needs to
// send frames.
type Enqueuer interface {
	Enqueue(fr *frame.Frame) error
}

// ParentSource supplies the current preferred parent (spec.md §4.8: "if
// a preferred parent exists").
type ParentSource interface {
	PreferredParent() (peer.NodeID, bool)
}

// CellSource is consulted for the "at least one dedicated cell to
// [the parent]" precondition.
type CellSource interface {
	CellsTo(p peer.Peer) []*mac.Cell
}

// Counters receives the application-layer named drop events (spec.md
// §4.9).
type Counters interface {
	DropFragFailedEnqueue()
	DropFragVRBTableFull()
	DropFragReassQueueFull()
	DropFragMissingFrag()
}

// Recorder is the statistics collaborator's delivery hook (spec.md §6
// Statistics: per-cycle counters).
type Recorder interface {
	RecordDelivery(hopCount int, latency simtime.ASN)
}

// Config holds the application layer's tunables (spec.md §6).
type Config struct {
	RootID       peer.NodeID
	PeriodASN    int64   // mean pkPeriod, in ASNs
	PeriodVar    float64 // fractional jitter, e.g. 0.1 for pkPeriodVar
	NumFragments int     // 1 disables fragmentation
	FragmentSize int

	NumReassQueue            int
	MaxVRBEntryNum           int
	EnableFragmentForwarding bool
	KillEntryByMissing       bool
	ExpiryASN                int64 // 60s, in ASNs

	// SkipCellCheck is set when the ILP-offline scheduling function is in
	// use (spec.md §4.8: "unless the ILP-offline SF is in use").
	SkipCellCheck bool
}

// Manager drives one node's application traffic: generation, relay, and
// fragmentation/reassembly.
type Manager struct {
	id     peer.NodeID
	isRoot bool
	cfg    Config
	enq    Enqueuer
	parent ParentSource
	cells  CellSource
	counts Counters
	record Recorder
	sched  *simtime.Scheduler
	rng    *rand.Rand

	reassembly *ReassemblyQueue
	vrb        *VRBTable
	nextTag    uint16
}

// New returns an application-layer Manager for node id.
func New(id peer.NodeID, isRoot bool, cfg Config, enq Enqueuer, parent ParentSource, cells CellSource, counts Counters, record Recorder, sched *simtime.Scheduler, rng *rand.Rand) *Manager {
	return &Manager{
		id:         id,
		isRoot:     isRoot,
		cfg:        cfg,
		enq:        enq,
		parent:     parent,
		cells:      cells,
		counts:     counts,
		record:     record,
		sched:      sched,
		rng:        rng,
		reassembly: NewReassemblyQueue(cfg.NumReassQueue),
		vrb:        NewVRBTable(cfg.MaxVRBEntryNum),
	}
}

func (m *Manager) genTag() string { return fmt.Sprintf("app.gen.%d", m.id) }

// ScheduleGenerator arms the periodic data-generation timer. A root never
// generates its own upstream application traffic.
func (m *Manager) ScheduleGenerator() {
	if m.isRoot || m.cfg.PeriodASN <= 0 {
		return
	}
	m.armGenerate()
}

func (m *Manager) armGenerate() {
	delay := jitteredPeriod(m.rng, m.cfg.PeriodASN, m.cfg.PeriodVar)
	_ = m.sched.ScheduleIn(uint64(delay), m.genTag(), simtime.PriorityAppJoin, func(simtime.ASN) {
		defer m.armGenerate()
		m.generate()
	})
}

func jitteredPeriod(rng *rand.Rand, period int64, frac float64) int64 {
	if period <= 0 {
		return 1
	}
	spread := float64(period) * frac
	d := float64(period) + (rng.Float64()*2-1)*spread
	if d < 1 {
		d = 1
	}
	return int64(d)
}

// readyToSend reports whether a preferred parent exists and (unless the
// ILP-offline SF is in use) at least one dedicated cell to it.
func (m *Manager) readyToSend() (peer.NodeID, bool) {
	parent, ok := m.parent.PreferredParent()
	if !ok {
		return 0, false
	}
	if m.cfg.SkipCellCheck {
		return parent, true
	}
	if len(m.cells.CellsTo(peer.ToNode(parent))) == 0 {
		return 0, false
	}
	return parent, true
}

// generate creates one application datagram, fragmenting it if
// configured (spec.md §4.8).
func (m *Manager) generate() {
	parent, ok := m.readyToSend()
	if !ok {
		return
	}
	payload := frame.DataPayload{SourceID: m.id, EnqueueASN: m.sched.GetASN(), HopCount: 1}
	if m.cfg.NumFragments <= 1 {
		m.sendData(parent, payload)
		return
	}
	m.sendFragments(parent, payload)
}

func (m *Manager) sendData(nextHop peer.NodeID, payload frame.DataPayload) {
	fr := frame.New(frame.TypeData, m.id, m.cfg.RootID, payload)
	fr.SetNextHop(peer.ToNode(nextHop))
	_ = m.enq.Enqueue(fr)
}

func (m *Manager) sendFragments(nextHop peer.NodeID, payload frame.DataPayload) {
	tag := m.nextTag
	m.nextTag++
	total := m.cfg.NumFragments
	for i := 0; i < total; i++ {
		fr := frame.New(frame.TypeFrag, m.id, m.cfg.RootID, frame.FragPayload{
			Tag:    tag,
			Offset: i,
			Size:   m.cfg.FragmentSize,
			Total:  total,
			Last:   i == total-1,
			Data:   payload,
		})
		fr.SetNextHop(peer.ToNode(nextHop))
		if err := m.enq.Enqueue(fr); err != nil {
			m.counts.DropFragFailedEnqueue()
		}
	}
}

// HandleFrame processes an incoming DATA or FRAG frame: deliver (at the
// root), relay upstream (elsewhere), or reassemble/forward fragments
// (spec.md §4.8).
func (m *Manager) HandleFrame(from peer.NodeID, fr *frame.Frame) {
	switch fr.Type {
	case frame.TypeData:
		m.handleData(fr)
	case frame.TypeFrag:
		m.handleFragment(from, fr)
	}
}

func (m *Manager) handleData(fr *frame.Frame) {
	payload := fr.Payload.(frame.DataPayload)
	if m.isRoot {
		m.deliver(payload)
		return
	}
	parent, ok := m.readyToSend()
	if !ok {
		return
	}
	payload.HopCount++
	m.sendData(parent, payload)
}

func (m *Manager) deliver(payload frame.DataPayload) {
	if m.record != nil {
		m.record.RecordDelivery(payload.HopCount, m.sched.GetASN()-payload.EnqueueASN)
	}
}

func (m *Manager) handleFragment(from peer.NodeID, fr *frame.Frame) {
	payload := fr.Payload.(frame.FragPayload)
	now := m.sched.GetASN()

	if m.isRoot {
		complete, data, accepted := m.reassembly.Add(from, payload, now)
		if !accepted {
			m.counts.DropFragReassQueueFull()
			return
		}
		if complete {
			m.deliver(data)
		}
		return
	}

	if m.cfg.EnableFragmentForwarding {
		m.forwardViaVRB(from, payload, now)
		return
	}

	complete, data, accepted := m.reassembly.Add(from, payload, now)
	if !accepted {
		m.counts.DropFragReassQueueFull()
		return
	}
	if complete {
		parent, ok := m.readyToSend()
		if !ok {
			return
		}
		data.HopCount++
		m.sendFragments(parent, data)
	}
}

// forwardViaVRB streams one fragment onward hop-by-hop without
// reassembling, per spec.md §4.8's `enableFragmentForwarding` mode: an
// out-of-order offset triggers `droppedFragMissingFrag`, and with
// `kill_entry_by_missing` also deletes the VRB entry so no further
// fragment of that datagram is forwarded.
func (m *Manager) forwardViaVRB(from peer.NodeID, payload frame.FragPayload, now simtime.ASN) {
	entry, ok := m.vrb.GetOrCreate(from, payload.Tag, now)
	if !ok {
		m.counts.DropFragVRBTableFull()
		return
	}
	if payload.Offset != entry.nextOffset {
		if m.cfg.KillEntryByMissing {
			m.vrb.Delete(from, payload.Tag)
		}
		m.counts.DropFragMissingFrag()
		return
	}
	parent, ok := m.readyToSend()
	if !ok {
		return
	}
	entry.nextOffset++
	entry.lastActivity = now

	out := payload
	out.Data.HopCount++
	fr := frame.New(frame.TypeFrag, m.id, m.cfg.RootID, out)
	fr.SetNextHop(peer.ToNode(parent))
	if err := m.enq.Enqueue(fr); err != nil {
		m.counts.DropFragFailedEnqueue()
	}
	if payload.Last {
		m.vrb.Delete(from, payload.Tag)
	}
}

// Prune evicts expired reassembly and VRB entries (spec.md §3: "Entries
// expire after 60 seconds of inactivity"). Intended to be called from a
// periodic housekeeping tick.
func (m *Manager) Prune() {
	now := m.sched.GetASN()
	m.reassembly.Prune(now, m.cfg.ExpiryASN)
	m.vrb.Prune(now, m.cfg.ExpiryASN)
}
