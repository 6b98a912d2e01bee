// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package sixtop implements the 6top reliable request/response sublayer
// (spec.md §4.4): per-neighbor ADD/DELETE cell negotiation with sequence
// numbers, timeouts, and abort semantics.
//
// The initiator (tx) and responder (rx) state machines are modeled as pure
// functions over a transition table, exactly the shape of
// dantte-lp-gobfd/internal/bfd/fsm.go's fsmTable: no side effects, no
// dependency on the surrounding Transaction/Neighbor state, so the legal
// state graph is independently testable against spec.md §3's lifecycle
// description.
package sixtop

import "fmt"

// TxState is the initiator half-context state (spec.md §3).
type TxState uint8

const (
	TxIdle TxState = iota
	TxSendingRequest
	TxWaitRequestSendDone
	TxWaitResponse
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "IDLE"
	case TxSendingRequest:
		return "SENDING_REQUEST"
	case TxWaitRequestSendDone:
		return "WAIT_REQUEST_SENDDONE"
	case TxWaitResponse:
		return "WAIT_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// RxState is the responder half-context state (spec.md §3).
type RxState uint8

const (
	RxIdle RxState = iota
	RxRequestReceived
	RxWaitResponseSendDone
)

func (s RxState) String() string {
	switch s {
	case RxIdle:
		return "IDLE"
	case RxRequestReceived:
		return "REQUEST_RECEIVED"
	case RxWaitResponseSendDone:
		return "WAIT_RESPONSE_SENDDONE"
	default:
		return "UNKNOWN"
	}
}

// TxEvent drives the initiator half-context.
type TxEvent uint8

const (
	TxEventSend TxEvent = iota
	TxEventRequestSendDoneOK
	TxEventRequestSendDoneFail
	TxEventResponseSuccess
	TxEventResponseFailure // RC_NORES / RC_BUSY / RC_RESET
	TxEventSeqMismatch
	TxEventTimeout
)

func (e TxEvent) String() string {
	switch e {
	case TxEventSend:
		return "Send"
	case TxEventRequestSendDoneOK:
		return "RequestSendDoneOK"
	case TxEventRequestSendDoneFail:
		return "RequestSendDoneFail"
	case TxEventResponseSuccess:
		return "ResponseSuccess"
	case TxEventResponseFailure:
		return "ResponseFailure"
	case TxEventSeqMismatch:
		return "SeqMismatch"
	case TxEventTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// RxEvent drives the responder half-context.
type RxEvent uint8

const (
	RxEventRequestReceived RxEvent = iota
	RxEventAlreadyActive           // a request arrives while non-IDLE: purge + RC_RESET
	RxEventResponseSendDone
)

func (e RxEvent) String() string {
	switch e {
	case RxEventRequestReceived:
		return "RequestReceived"
	case RxEventAlreadyActive:
		return "AlreadyActive"
	case RxEventResponseSendDone:
		return "ResponseSendDone"
	default:
		return "Unknown"
	}
}

// Action is a side-effect the caller must execute after a transition,
// exactly mirroring gobfd's FSMResult.Actions contract.
type Action uint8

const (
	ActionArmTimeout Action = iota + 1
	ActionInstallCells
	ActionFreeBlocked
	ActionIncrementSeq
	ActionSendResponse
	ActionSendResetResponse
	ActionReleaseTimer
)

func (a Action) String() string {
	switch a {
	case ActionArmTimeout:
		return "ArmTimeout"
	case ActionInstallCells:
		return "InstallCells"
	case ActionFreeBlocked:
		return "FreeBlocked"
	case ActionIncrementSeq:
		return "IncrementSeq"
	case ActionSendResponse:
		return "SendResponse"
	case ActionSendResetResponse:
		return "SendResetResponse"
	case ActionReleaseTimer:
		return "ReleaseTimer"
	default:
		return "Unknown"
	}
}

type txStateEvent struct {
	state TxState
	event TxEvent
}

type txTransition struct {
	newState TxState
	actions  []Action
}

//nolint:gochecknoglobals // transition table is intentionally package-level, mirroring fsmTable.
var txTable = map[txStateEvent]txTransition{
	{TxIdle, TxEventSend}: {TxSendingRequest, nil},
	{TxSendingRequest, TxEventRequestSendDoneOK}:   {TxWaitResponse, []Action{ActionArmTimeout}},
	{TxSendingRequest, TxEventRequestSendDoneFail}: {TxIdle, []Action{ActionFreeBlocked}},
	{TxWaitResponse, TxEventResponseSuccess}:       {TxIdle, []Action{ActionInstallCells, ActionIncrementSeq, ActionFreeBlocked, ActionReleaseTimer}},
	{TxWaitResponse, TxEventResponseFailure}:       {TxIdle, []Action{ActionFreeBlocked, ActionReleaseTimer}},
	{TxWaitResponse, TxEventSeqMismatch}:           {TxIdle, []Action{ActionFreeBlocked, ActionReleaseTimer}},
	{TxWaitResponse, TxEventTimeout}:               {TxIdle, []Action{ActionFreeBlocked}},
}

// TxResult is the outcome of applying a TxEvent, mirroring gobfd's
// FSMResult.
type TxResult struct {
	OldState TxState
	NewState TxState
	Actions  []Action
	Changed  bool
	Legal    bool
}

// ApplyTx applies event to state and returns the resulting transition.
// Illegal (state, event) pairs are reported with Legal=false and leave the
// state unchanged — the caller treats this as a ProtocolViolation
// (spec.md §7), never as an InvariantViolation.
func ApplyTx(state TxState, event TxEvent) TxResult {
	t, ok := txTable[txStateEvent{state, event}]
	if !ok {
		return TxResult{OldState: state, NewState: state, Legal: false}
	}
	return TxResult{
		OldState: state,
		NewState: t.newState,
		Actions:  t.actions,
		Changed:  t.newState != state,
		Legal:    true,
	}
}

type rxStateEvent struct {
	state RxState
	event RxEvent
}

type rxTransition struct {
	newState RxState
	actions  []Action
}

//nolint:gochecknoglobals // transition table is intentionally package-level.
var rxTable = map[rxStateEvent]rxTransition{
	{RxIdle, RxEventRequestReceived}:              {RxWaitResponseSendDone, []Action{ActionSendResponse}},
	{RxIdle, RxEventAlreadyActive}:                {RxIdle, nil}, // no-op: already idle, nothing to purge
	{RxRequestReceived, RxEventAlreadyActive}:     {RxIdle, []Action{ActionSendResetResponse, ActionFreeBlocked}},
	{RxWaitResponseSendDone, RxEventAlreadyActive}: {RxIdle, []Action{ActionSendResetResponse, ActionFreeBlocked}},
	{RxWaitResponseSendDone, RxEventResponseSendDone}: {RxIdle, []Action{ActionInstallCells}},
}

// RxResult is the outcome of applying an RxEvent.
type RxResult struct {
	OldState RxState
	NewState RxState
	Actions  []Action
	Changed  bool
	Legal    bool
}

// ApplyRx applies event to state and returns the resulting transition.
func ApplyRx(state RxState, event RxEvent) RxResult {
	t, ok := rxTable[rxStateEvent{state, event}]
	if !ok {
		return RxResult{OldState: state, NewState: state, Legal: false}
	}
	return RxResult{
		OldState: state,
		NewState: t.newState,
		Actions:  t.actions,
		Changed:  t.newState != state,
		Legal:    true,
	}
}

// ErrIllegalTransition is returned by callers that choose to treat an
// illegal (state, event) pair as an error rather than silently ignoring it.
var ErrIllegalTransition = fmt.Errorf("sixtop: illegal state/event combination")
