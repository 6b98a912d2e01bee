// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package sixtop

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/modulation"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// DefaultTimeoutASN is MSF_DEFAULT_SIXTOP_TIMEOUT, used when a caller has
// no cells to a neighbor yet to compute an adaptive timeout (spec.md §4.4).
const DefaultTimeoutASN = 100

// DefaultCandidateMultiplier is MSF_MIN_NUM_CELLS: the initiator requests
// more candidate timeslots than it actually needs so the responder has
// room to avoid its own collisions (spec.md §4.4 step 1).
const DefaultCandidateMultiplier = 5

// CellEngine is the subset of *mac.Engine the 6top layer needs: the cell
// table, the modulation table, and the TX queue.
type CellEngine interface {
	Schedule() *mac.Schedule
	ModulationTable() *modulation.Table
	Enqueue(fr *frame.Frame) error
}

// TimeoutFunc computes the ASN delta to wait for a response from nbr,
// following MSF's formula over slotframe length, TX-cell count, and mean
// cell PDR (spec.md §4.4 "Timeout computation"). Implementations that have
// no cells yet to nbr should return DefaultTimeoutASN.
type TimeoutFunc func(nbr peer.NodeID) int64

// Config holds the 6top layer's tunables (spec.md §6).
type Config struct {
	CandidateMultiplier int  // MSF_MIN_NUM_CELLS
	NumChannels         int
	RemoveRandomCell    bool // sixtopRemoveRandomCell
}

// DefaultConfig returns spec.md defaults.
func DefaultConfig(numChannels int) Config {
	return Config{
		CandidateMultiplier: DefaultCandidateMultiplier,
		NumChannels:         numChannels,
		RemoveRandomCell:    false,
	}
}

// blockedCell is a reservation not yet installed in the schedule (spec.md
// §4.4 "Blocked cells").
type blockedCell struct {
	timeslot  int
	channel   int
	direction frame.Direction
}

// txContext is the initiator half-context for one neighbor (spec.md §3
// "6top transaction state").
type txContext struct {
	state    TxState
	seq      uint8
	opcode   frame.SixtopOpcode
	dir      frame.Direction
	blocked  []blockedCell
	pending  *frame.Frame // the in-flight request frame, for identity comparison in FrameSent
	toRemove []*mac.Cell  // DELETE candidates chosen for this transaction
}

// rxContext is the responder half-context for one neighbor.
type rxContext struct {
	state   RxState
	blocked []blockedCell
	pending *frame.Frame    // the in-flight response frame
	dir     frame.Direction // the direction requested by the initiator
}

// Manager owns every (local, remote) 6top transaction pair for one node
// (spec.md §4.4). It is grounded on dantte-lp-gobfd/internal/bfd/fsm.go's
// separation between the pure transition table (fsm.go) and the stateful
// session wrapper that executes the actions a transition calls for.
type Manager struct {
	id     peer.NodeID
	cfg    Config
	engine CellEngine
	sched  *simtime.Scheduler
	rng    *rand.Rand

	timeoutOf     TimeoutFunc
	linkPDR       func(nbr peer.NodeID) float64 // theoretical link PDR, for DELETE's worst-performer selection
	onCellsAdded  func(nbr peer.NodeID, dir frame.Direction, n int)
	onCellsFreed  func(nbr peer.NodeID, dir frame.Direction, n int)

	tx map[peer.NodeID]*txContext
	rx map[peer.NodeID]*rxContext

	// blocked is the union, across every in-flight transaction with any
	// neighbor, of reserved-but-not-installed timeslots (spec.md §4.4:
	// "available" cell selection must exclude the union of all blocked
	// sets).
	blocked map[int]peer.NodeID
}

// New returns a Manager for node id, wired to engine for cell-table access
// and sched for timeout scheduling.
func New(id peer.NodeID, cfg Config, engine CellEngine, sched *simtime.Scheduler, rng *rand.Rand, timeoutOf TimeoutFunc, linkPDR func(peer.NodeID) float64) *Manager {
	return &Manager{
		id:        id,
		cfg:       cfg,
		engine:    engine,
		sched:     sched,
		rng:       rng,
		timeoutOf: timeoutOf,
		linkPDR:   linkPDR,
		tx:        make(map[peer.NodeID]*txContext),
		rx:        make(map[peer.NodeID]*rxContext),
		blocked:   make(map[int]peer.NodeID),
	}
}

// SetCellChangeObservers registers callbacks invoked whenever this manager
// installs or frees cells to a neighbor, letting MSF's usage counters stay
// in sync without 6top importing the msf package.
func (m *Manager) SetCellChangeObservers(onAdded, onFreed func(nbr peer.NodeID, dir frame.Direction, n int)) {
	m.onCellsAdded = onAdded
	m.onCellsFreed = onFreed
}

func (m *Manager) txCtx(nbr peer.NodeID) *txContext {
	c, ok := m.tx[nbr]
	if !ok {
		c = &txContext{state: TxIdle}
		m.tx[nbr] = c
	}
	return c
}

func (m *Manager) rxCtx(nbr peer.NodeID) *rxContext {
	c, ok := m.rx[nbr]
	if !ok {
		c = &rxContext{state: RxIdle}
		m.rx[nbr] = c
	}
	return c
}

// Busy reports whether a tx transaction with nbr is already in flight, the
// precondition MSF checks before calling InitiateAdd/InitiateDelete (spec.md
// §4.4 "one outstanding transaction per direction per neighbor").
func (m *Manager) Busy(nbr peer.NodeID) bool {
	return m.txCtx(nbr).state != TxIdle
}

// ---- ADD flow (initiator) ----

// InitiateAdd starts an ADD transaction requesting numCells dedicated
// cells of direction dir with nbr (spec.md §4.4 "ADD flow (initiator tx)").
func (m *Manager) InitiateAdd(nbr peer.NodeID, numCells int, dir frame.Direction) error {
	ctx := m.txCtx(nbr)
	if ctx.state != TxIdle {
		return fmt.Errorf("sixtop: tx transaction with %s already in progress", nbr)
	}

	wanted := numCells * m.cfg.CandidateMultiplier
	candidates := m.pickFreeTimeslots(wanted)
	if len(candidates) == 0 {
		return fmt.Errorf("sixtop: no free timeslots available to offer %s", nbr)
	}

	cellList := make([]frame.CellDescriptor, len(candidates))
	blocked := make([]blockedCell, len(candidates))
	for i, ts := range candidates {
		ch := m.rng.Intn(m.cfg.NumChannels)
		cellList[i] = frame.CellDescriptor{Timeslot: ts, Channel: ch}
		blocked[i] = blockedCell{timeslot: ts, channel: ch, direction: dir}
	}
	m.block(nbr, blocked)
	ctx.blocked = blocked
	ctx.dir = dir
	ctx.opcode = frame.SixtopAdd

	payload := frame.SixtopRequestPayload{
		Opcode:    frame.SixtopAdd,
		SeqNum:    ctx.seq,
		NumCells:  numCells,
		Direction: dir,
		CellList:  cellList,
	}
	return m.sendRequest(nbr, ctx, payload)
}

// ---- DELETE flow (initiator) ----

// InitiateDelete starts a DELETE transaction removing numCellsToRemove
// cells to nbr, chosen per spec.md §4.4's selection policy.
func (m *Manager) InitiateDelete(nbr peer.NodeID, numCellsToRemove int) error {
	ctx := m.txCtx(nbr)
	if ctx.state != TxIdle {
		return fmt.Errorf("sixtop: tx transaction with %s already in progress", nbr)
	}

	owned := m.engine.Schedule().CellsTo(peer.ToNode(nbr))
	var dedicated []*mac.Cell
	for _, c := range owned {
		if c.Direction != frame.DirShared {
			dedicated = append(dedicated, c)
		}
	}
	if len(dedicated) == 0 {
		return fmt.Errorf("sixtop: no dedicated cells to %s to remove", nbr)
	}
	chosen := m.selectCellsToRemove(dedicated, numCellsToRemove, nbr)
	ctx.toRemove = chosen
	ctx.opcode = frame.SixtopDelete

	cellList := make([]frame.CellDescriptor, len(chosen))
	for i, c := range chosen {
		cellList[i] = frame.CellDescriptor{Timeslot: c.Timeslot, Channel: c.Channel}
	}
	payload := frame.SixtopRequestPayload{
		Opcode:   frame.SixtopDelete,
		SeqNum:   ctx.seq,
		NumCells: len(chosen),
		CellList: cellList,
	}
	return m.sendRequest(nbr, ctx, payload)
}

// selectCellsToRemove implements spec.md §4.4's DELETE selection policy:
// uniform random if configured, else prefer below-theoretical-PDR cells
// and, within a group, the worst performer (highest numTx).
func (m *Manager) selectCellsToRemove(candidates []*mac.Cell, n int, nbr peer.NodeID) []*mac.Cell {
	if n >= len(candidates) {
		return candidates
	}
	if m.cfg.RemoveRandomCell {
		shuffled := append([]*mac.Cell(nil), candidates...)
		m.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return shuffled[:n]
	}

	threshold := 1.0
	if m.linkPDR != nil {
		threshold = m.linkPDR(nbr)
	}
	var below, atOrAbove []*mac.Cell
	for _, c := range candidates {
		pdr, ok := c.PDR()
		if ok && pdr < threshold {
			below = append(below, c)
		} else {
			atOrAbove = append(atOrAbove, c)
		}
	}
	byWorst := func(cells []*mac.Cell) {
		sort.Slice(cells, func(i, j int) bool { return cells[i].NumTx > cells[j].NumTx })
	}
	byWorst(below)
	byWorst(atOrAbove)
	ordered := append(below, atOrAbove...)
	return ordered[:n]
}

func (m *Manager) sendRequest(nbr peer.NodeID, ctx *txContext, payload frame.SixtopRequestPayload) error {
	res := ApplyTx(ctx.state, TxEventSend)
	ctx.state = res.NewState

	fr := frame.New(frame.TypeSixtopRequest, m.id, nbr, payload)
	fr.SetNextHop(peer.ToNode(nbr))
	ctx.pending = fr

	if err := m.engine.Enqueue(fr); err != nil {
		m.freeBlocked(nbr, ctx)
		ctx.state = TxIdle
		return err
	}
	return nil
}

// FrameSent implements the mac.Engine send-observer contract, advancing the
// tx half-context once its request frame leaves the MAC queue.
func (m *Manager) FrameSent(fr *frame.Frame, acked bool) {
	switch fr.Type {
	case frame.TypeSixtopRequest:
		m.onRequestSent(fr, acked)
	case frame.TypeSixtopResponse:
		m.onResponseSent(fr, acked)
	}
}

func (m *Manager) onRequestSent(fr *frame.Frame, acked bool) {
	ctx, ok := m.tx[fr.Destination]
	if !ok || ctx.pending != fr {
		return
	}
	event := TxEventRequestSendDoneFail
	if acked {
		event = TxEventRequestSendDoneOK
	}
	res := ApplyTx(ctx.state, event)
	ctx.state = res.NewState
	for _, a := range res.Actions {
		switch a {
		case ActionArmTimeout:
			m.armTimeout(fr.Destination, ctx)
		case ActionFreeBlocked:
			m.freeBlocked(fr.Destination, ctx)
			ctx.pending = nil
		}
	}
}

func (m *Manager) armTimeout(nbr peer.NodeID, ctx *txContext) {
	delay := DefaultTimeoutASN
	if m.timeoutOf != nil {
		delay = int(m.timeoutOf(nbr))
	}
	if delay <= 0 {
		delay = DefaultTimeoutASN
	}
	tag := timeoutTag(nbr)
	_ = m.sched.ScheduleIn(uint64(delay), tag, simtime.PrioritySixtopTimeout, func(simtime.ASN) {
		m.onTimeout(nbr)
	})
}

func timeoutTag(nbr peer.NodeID) string {
	return fmt.Sprintf("sixtop.timeout.%d", nbr)
}

func (m *Manager) onTimeout(nbr peer.NodeID) {
	ctx := m.txCtx(nbr)
	if ctx.state != TxWaitResponse {
		return // response already arrived and raced the timer; nothing to do
	}
	res := ApplyTx(ctx.state, TxEventTimeout)
	ctx.state = res.NewState
	for _, a := range res.Actions {
		if a == ActionFreeBlocked {
			m.freeBlocked(nbr, ctx)
		}
	}
	ctx.pending = nil
}

// HandleResponse processes an inbound 6P response addressed to this node
// (spec.md §4.4 steps 4-6).
func (m *Manager) HandleResponse(from peer.NodeID, payload frame.SixtopResponsePayload) {
	ctx := m.txCtx(from)
	if ctx.state != TxWaitResponse {
		return // stray/duplicate response; nothing owns it
	}
	if payload.SeqNum != ctx.seq {
		m.sched.RemoveEvent(timeoutTag(from))
		res := ApplyTx(ctx.state, TxEventSeqMismatch)
		ctx.state = res.NewState
		m.runTxActions(from, ctx, res.Actions)
		return
	}

	m.sched.RemoveEvent(timeoutTag(from))
	if payload.ReturnCode != frame.RCSuccess {
		res := ApplyTx(ctx.state, TxEventResponseFailure)
		ctx.state = res.NewState
		m.runTxActions(from, ctx, res.Actions)
		return
	}

	res := ApplyTx(ctx.state, TxEventResponseSuccess)
	ctx.state = res.NewState
	if ctx.opcode == frame.SixtopAdd {
		m.installAccepted(from, ctx, payload.CellList)
	} else {
		m.commitDelete(from, ctx)
	}
	m.runTxActions(from, ctx, res.Actions)
}

func (m *Manager) runTxActions(nbr peer.NodeID, ctx *txContext, actions []Action) {
	for _, a := range actions {
		switch a {
		case ActionFreeBlocked:
			m.freeBlocked(nbr, ctx)
		case ActionIncrementSeq:
			ctx.seq++
		}
	}
	ctx.pending = nil
}

func (m *Manager) installAccepted(nbr peer.NodeID, ctx *txContext, accepted []frame.CellDescriptor) {
	if len(accepted) == 0 {
		return
	}
	list := make([]mac.CellDescriptor, len(accepted))
	for i, d := range accepted {
		list[i] = mac.CellDescriptor{Timeslot: d.Timeslot, Channel: d.Channel, Direction: ctx.dir}
	}
	if err := m.engine.Schedule().Add(peer.ToNode(nbr), list, m.engine.ModulationTable(), modulation.MCS(0)); err != nil {
		return // InvariantViolation class: collision despite blocking means a bug upstream; leave schedule untouched
	}
	if m.onCellsAdded != nil {
		m.onCellsAdded(nbr, ctx.dir, len(accepted))
	}
}

func (m *Manager) commitDelete(nbr peer.NodeID, ctx *txContext) {
	for _, c := range ctx.toRemove {
		m.engine.Schedule().Remove(c.Timeslot)
	}
	if m.onCellsFreed != nil && len(ctx.toRemove) > 0 {
		m.onCellsFreed(nbr, ctx.toRemove[0].Direction, len(ctx.toRemove))
	}
	ctx.toRemove = nil
}

// ---- responder (rx) ----

// HandleRequest processes an inbound 6P request from nbr (spec.md §4.4
// "ADD flow (responder rx)").
func (m *Manager) HandleRequest(nbr peer.NodeID, payload frame.SixtopRequestPayload) {
	ctx := m.rxCtx(nbr)
	if ctx.state != RxIdle {
		// Already negotiating with nbr: purge whatever response was pending
		// and answer this new request with RC_RESET instead of processing
		// it (spec.md §4.4 "purge any pending RESPONSE in the queue and
		// respond RC_RESET").
		res := ApplyRx(ctx.state, RxEventAlreadyActive)
		ctx.state = res.NewState
		m.runRxActions(nbr, ctx, res.Actions, payload.Opcode, payload.SeqNum)
		return
	}

	res := ApplyRx(ctx.state, RxEventRequestReceived)
	ctx.state = res.NewState

	var rc frame.SixtopReturnCode
	var grantedCells []frame.CellDescriptor
	switch payload.Opcode {
	case frame.SixtopAdd:
		grantedCells, rc = m.prepareAddResponse(nbr, ctx, payload)
	case frame.SixtopDelete:
		rc = frame.RCSuccess // DELETE is always honored per spec's flow; caller already owns the cells
	}

	respPayload := frame.SixtopResponsePayload{
		Opcode:     payload.Opcode,
		SeqNum:     payload.SeqNum,
		ReturnCode: rc,
		CellList:   grantedCells,
	}
	fr := frame.New(frame.TypeSixtopResponse, m.id, nbr, respPayload)
	fr.SetNextHop(peer.ToNode(nbr))
	ctx.pending = fr
	_ = m.engine.Enqueue(fr)

	m.runRxActions(nbr, ctx, res.Actions, payload.Opcode, payload.SeqNum)
}

func (m *Manager) prepareAddResponse(nbr peer.NodeID, ctx *rxContext, payload frame.SixtopRequestPayload) ([]frame.CellDescriptor, frame.SixtopReturnCode) {
	ctx.dir = payload.Direction
	var granted []frame.CellDescriptor
	var blocked []blockedCell
	for _, d := range payload.CellList {
		if len(granted) >= payload.NumCells {
			break
		}
		if !m.isFree(d.Timeslot) {
			continue
		}
		granted = append(granted, d)
		blocked = append(blocked, blockedCell{timeslot: d.Timeslot, channel: d.Channel, direction: payload.Direction})
	}
	m.block(nbr, blocked)
	ctx.blocked = blocked
	if len(granted) == 0 {
		return nil, frame.RCNoResources
	}
	return granted, frame.RCSuccess
}

func (m *Manager) runRxActions(nbr peer.NodeID, ctx *rxContext, actions []Action, opcode frame.SixtopOpcode, seq uint8) {
	for _, a := range actions {
		switch a {
		case ActionSendResetResponse:
			reset := frame.New(frame.TypeSixtopResponse, m.id, nbr, frame.SixtopResponsePayload{
				Opcode:     opcode,
				SeqNum:     seq,
				ReturnCode: frame.RCReset,
			})
			reset.SetNextHop(peer.ToNode(nbr))
			_ = m.engine.Enqueue(reset)
		case ActionFreeBlocked:
			m.unblockAll(nbr, ctx.blocked)
			ctx.blocked = nil
			ctx.pending = nil
		}
	}
}

// onResponseSent implements the other half of FrameSent for responder-side
// installs: on senddone, install the granted cells and go IDLE (spec.md
// §4.4: "Block the chosen cells until response TX senddone, then install
// and go IDLE").
func (m *Manager) onResponseSent(fr *frame.Frame, acked bool) {
	ctx, ok := m.rx[fr.Destination]
	if !ok || ctx.pending != fr {
		return
	}
	res := ApplyRx(ctx.state, RxEventResponseSendDone)
	ctx.state = res.NewState
	for _, a := range res.Actions {
		if a == ActionInstallCells {
			m.installGranted(fr.Destination, ctx, fr.Payload.(frame.SixtopResponsePayload))
		}
	}
	ctx.pending = nil
}

func (m *Manager) installGranted(nbr peer.NodeID, ctx *rxContext, payload frame.SixtopResponsePayload) {
	defer func() {
		m.unblockAll(nbr, ctx.blocked)
		ctx.blocked = nil
	}()
	if payload.ReturnCode != frame.RCSuccess || payload.Opcode != frame.SixtopAdd {
		return
	}
	localDir := oppositeDirection(ctx.dir)
	list := make([]mac.CellDescriptor, len(payload.CellList))
	for i, d := range payload.CellList {
		list[i] = mac.CellDescriptor{Timeslot: d.Timeslot, Channel: d.Channel, Direction: localDir}
	}
	if err := m.engine.Schedule().Add(peer.ToNode(nbr), list, m.engine.ModulationTable(), modulation.MCS(0)); err != nil {
		return
	}
	if m.onCellsAdded != nil {
		m.onCellsAdded(nbr, localDir, len(list))
	}
}

// oppositeDirection mirrors the initiator's requested direction onto the
// responder's own schedule: a TX cell requested by the initiator is
// installed as RX locally, and vice versa (SHARED cells are never
// negotiated by 6top).
func oppositeDirection(requested frame.Direction) frame.Direction {
	if requested == frame.DirRX {
		return frame.DirTX
	}
	return frame.DirRX
}

// ---- blocked-set bookkeeping ----

func (m *Manager) block(nbr peer.NodeID, cells []blockedCell) {
	for _, c := range cells {
		m.blocked[c.timeslot] = nbr
	}
}

func (m *Manager) unblockAll(nbr peer.NodeID, cells []blockedCell) {
	for _, c := range cells {
		if owner, ok := m.blocked[c.timeslot]; ok && owner == nbr {
			delete(m.blocked, c.timeslot)
		}
	}
}

func (m *Manager) freeBlocked(nbr peer.NodeID, ctx *txContext) {
	m.unblockAll(nbr, ctx.blocked)
	ctx.blocked = nil
	ctx.toRemove = nil
}

func (m *Manager) isFree(ts int) bool {
	if _, blocked := m.blocked[ts]; blocked {
		return false
	}
	return m.engine.Schedule().Free(ts)
}

// pickFreeTimeslots returns up to want distinct timeslots that are neither
// in the local schedule nor in any in-flight transaction's blocked set
// (spec.md §4.4 step 1), in randomized order.
func (m *Manager) pickFreeTimeslots(want int) []int {
	length := m.engine.Schedule().Length()
	order := m.rng.Perm(length)
	var out []int
	for _, ts := range order {
		if len(out) >= want {
			break
		}
		if m.isFree(ts) {
			out = append(out, ts)
		}
	}
	return out
}
