// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package join implements the bootstrap token-exchange protocol described
// in spec.md §4.7: a non-root node, once synchronized by its first EB,
// relays a JOIN token upstream hop-by-hop to the root and back until the
// token reaches zero, at which point it starts the rest of its stack.
package join

import (
	"fmt"
	"math/rand"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// Enqueuer is the subset of *mac.Engine the join protocol needs to send
// frames.
type Enqueuer interface {
	Enqueue(fr *frame.Frame) error
}

// Config holds join's tunables (spec.md §6).
type Config struct {
	RootID            peer.NodeID
	NumExchanges      int   // joinNumExchanges: initial token value
	RetryDelayASN     int64 // slotDuration + joinAttemptTimeout, in ASNs
	InitJitterMaxASN  int64 // upper bound of the post-sync init jitter
}

// Manager drives one node's join state machine.
type Manager struct {
	id     peer.NodeID
	isRoot bool
	cfg    Config
	enq    Enqueuer
	sched  *simtime.Scheduler
	rng    *rand.Rand

	synced     bool
	syncParent peer.NodeID
	joined     bool
	pending    *frame.Frame // the in-flight upstream/request frame, for retry

	// OnJoined fires once this node completes the token exchange,
	// starting the rest of the stack (EB/DIO/DAO emission, MSF).
	OnJoined func(self peer.NodeID)
}

// New returns a join Manager for node id. Root nodes are considered
// joined from the start.
func New(id peer.NodeID, isRoot bool, cfg Config, enq Enqueuer, sched *simtime.Scheduler, rng *rand.Rand) *Manager {
	return &Manager{
		id:     id,
		isRoot: isRoot,
		cfg:    cfg,
		enq:    enq,
		sched:  sched,
		rng:    rng,
		joined: isRoot,
		synced: isRoot,
	}
}

// Joined reports whether this node has completed the join protocol.
func (m *Manager) Joined() bool { return m.joined }

func (m *Manager) initTag() string  { return fmt.Sprintf("join.init.%d", m.id) }
func (m *Manager) retryTag() string { return fmt.Sprintf("join.retry.%d", m.id) }

// OnEBReceived marks this node synchronized on its first EB reception and
// schedules the jittered join initiation (spec.md §4.7). The EB's sender
// becomes the upstream relay for this node's JOIN traffic. Minimal cells
// are installed unconditionally at bootstrap (spec.md §3 invariants) and
// are not re-installed here.
func (m *Manager) OnEBReceived(from peer.NodeID) {
	if m.isRoot || m.synced {
		return
	}
	m.synced = true
	m.syncParent = from
	delay := uint64(1)
	if m.cfg.InitJitterMaxASN > 0 {
		delay = uint64(1 + m.rng.Int63n(m.cfg.InitJitterMaxASN))
	}
	_ = m.sched.ScheduleIn(delay, m.initTag(), simtime.PriorityAppJoin, func(simtime.ASN) {
		m.beginExchange(m.cfg.NumExchanges)
	})
}

// beginExchange sends the first (or next) upstream JOIN carrying token,
// and arms the retry timer that resends it until a response is seen.
func (m *Manager) beginExchange(token int) {
	if m.joined || !m.synced {
		return
	}
	fr := frame.New(frame.TypeJoin, m.id, m.cfg.RootID, frame.JoinPayload{Token: token})
	fr.SourceRoute = []peer.NodeID{m.id}
	fr.SetNextHop(peer.ToNode(m.syncParent))
	m.pending = fr
	_ = m.enq.Enqueue(fr)
	m.armRetry()
}

func (m *Manager) armRetry() {
	delay := m.cfg.RetryDelayASN
	if delay <= 0 {
		delay = 1
	}
	_ = m.sched.ScheduleIn(uint64(delay), m.retryTag(), simtime.PriorityAppJoin, func(simtime.ASN) {
		m.onRetryTimer()
	})
}

func (m *Manager) onRetryTimer() {
	if m.joined || m.pending == nil {
		return
	}
	payload := m.pending.Payload.(frame.JoinPayload)
	m.beginExchange(payload.Token)
}

// HandleFrame processes a JOIN frame addressed to, or relayed through,
// this node — either an upstream request toward the root or a downstream
// response traveling the accumulated source-route stack back to the
// original initiator (spec.md §4.7, §4.5 "source route ... hop-by-hop
// stack").
func (m *Manager) HandleFrame(fr *frame.Frame) {
	payload := fr.Payload.(frame.JoinPayload)

	if m.isRoot && fr.Destination == m.id {
		m.respondAsRoot(fr, payload)
		return
	}

	if fr.Destination == m.id {
		m.handleResponse(payload)
		return
	}

	m.relay(fr)
}

// respondAsRoot answers an upstream JOIN request with token-1, source
// routed back down the accumulated hop list.
func (m *Manager) respondAsRoot(fr *frame.Frame, payload frame.JoinPayload) {
	route := reversed(fr.SourceRoute)
	resp := frame.New(frame.TypeJoin, m.id, fr.Source, frame.JoinPayload{Token: payload.Token - 1})
	if len(route) == 0 {
		return
	}
	resp.SourceRoute = route[1:]
	resp.SetNextHop(peer.ToNode(route[0]))
	_ = m.enq.Enqueue(resp)
}

// handleResponse is called when a JOIN response addressed to this node
// arrives: the retry timer is cancelled, and either the node is fully
// joined (token reached zero) or another round is started.
func (m *Manager) handleResponse(payload frame.JoinPayload) {
	m.sched.RemoveEvent(m.retryTag())
	m.pending = nil
	if payload.Token <= 0 {
		m.joined = true
		if m.OnJoined != nil {
			m.OnJoined(m.id)
		}
		return
	}
	m.beginExchange(payload.Token)
}

// relay forwards a JOIN frame not addressed to this node: an upstream
// request gets this node appended to its accumulated route, a downstream
// response pops its next hop off the route stack.
func (m *Manager) relay(fr *frame.Frame) {
	if fr.Destination == m.cfg.RootID {
		fr.SourceRoute = append(fr.SourceRoute, m.id)
		fr.SetNextHop(peer.ToNode(m.syncParent))
		_ = m.enq.Enqueue(fr)
		return
	}
	if len(fr.SourceRoute) == 0 {
		return
	}
	next := fr.SourceRoute[0]
	fr.SourceRoute = fr.SourceRoute[1:]
	fr.SetNextHop(peer.ToNode(next))
	_ = m.enq.Enqueue(fr)
}

func reversed(in []peer.NodeID) []peer.NodeID {
	out := make([]peer.NodeID, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
