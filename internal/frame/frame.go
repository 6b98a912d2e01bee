// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package frame defines the wire-level unit exchanged between nodes: a
// typed frame with a per-type payload, replacing the original simulator's
// positional-list packet encoding (spec.md §9 "heterogeneous packet
// payload").
//
// The envelope shape (enqueue time, retries) is
// grounded on heistp-scim's Packet (packet.go) and pktTime (delay.go), with
// fields renamed and regrouped for the 6TiSCH frame model of spec.md §3.
package frame

import (
	"fmt"

	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// Type identifies the kind of frame, replacing positional-payload decoding
// with a per-type struct embedded in Payload.
type Type uint8

const (
	TypeData Type = iota
	TypeACK
	TypeJoin
	TypeFrag
	TypeDIO
	TypeDAO
	TypeEB
	TypeSixtopRequest
	TypeSixtopResponse
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeACK:
		return "ACK"
	case TypeJoin:
		return "JOIN"
	case TypeFrag:
		return "FRAG"
	case TypeDIO:
		return "DIO"
	case TypeDAO:
		return "DAO"
	case TypeEB:
		return "EB"
	case TypeSixtopRequest:
		return "6P-REQ"
	case TypeSixtopResponse:
		return "6P-RESP"
	default:
		return "UNKNOWN"
	}
}

// IsControlPlane reports whether frames of this type get the one extra
// queue slot described in spec.md §4.3 (JOIN, DAO, 6P).
func (t Type) IsControlPlane() bool {
	switch t {
	case TypeJoin, TypeDAO, TypeSixtopRequest, TypeSixtopResponse:
		return true
	default:
		return false
	}
}

// Frame is the unit exchanged between nodes (spec.md §3 "Packet").
type Frame struct {
	EnqueueASN    simtime.ASN
	Type          Type
	Opcode        uint8
	Payload       any
	RetriesLeft   int
	Source        peer.NodeID
	Destination   peer.NodeID
	SourceRoute   []peer.NodeID // explicit source route, possibly empty
	NextHop       peer.Peer     // filled in at TX time
	nextHopIsZero bool
}

// New returns a Frame with NextHop left unset (filled by the TSCH layer at
// transmission time).
func New(typ Type, src, dst peer.NodeID, payload any) *Frame {
	return &Frame{
		Type:          typ,
		Source:        src,
		Destination:   dst,
		Payload:       payload,
		nextHopIsZero: true,
	}
}

// SetNextHop records the peer this frame will be transmitted to.
func (f *Frame) SetNextHop(p peer.Peer) {
	f.NextHop = p
	f.nextHopIsZero = false
}

// HasNextHop reports whether SetNextHop has been called.
func (f *Frame) HasNextHop() bool {
	return !f.nextHopIsZero
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s(%d->%d)", f.Type, f.Source, f.Destination)
}

// DataPayload is the payload carried by a TypeData frame (spec.md §4.8).
type DataPayload struct {
	SourceID   peer.NodeID
	EnqueueASN simtime.ASN
	HopCount   int
}

// FragPayload is the payload carried by a TypeFrag frame (spec.md §4.8 /
// §3 VRB).
type FragPayload struct {
	Tag    uint16
	Offset int
	Size   int
	Total  int  // total number of fragments in the datagram
	Last   bool // true if this is the final fragment (offset == Total-1)
	Data   DataPayload
}

// JoinPayload is the payload carried by a TypeJoin frame (spec.md §4.7).
type JoinPayload struct {
	Token int
}

// DIOPayload is the payload carried by a TypeDIO frame (spec.md §4.5).
type DIOPayload struct {
	Rank             int
	PreferredParent  peer.NodeID
	HasParent        bool
}

// DAOPayload is the payload carried by a TypeDAO frame (spec.md §4.5).
type DAOPayload struct {
	Node            peer.NodeID
	PreferredParent peer.NodeID
}

// EBPayload is the payload carried by a TypeEB frame (spec.md §4.3).
type EBPayload struct {
	JoinPriority int
}

// CellDescriptor describes one negotiated cell (spec.md §3 "Schedule cell").
type CellDescriptor struct {
	Timeslot   int
	Channel    int
	Modulation int
}

// SixtopOpcode identifies a 6P request/response operation (spec.md §4.4).
type SixtopOpcode uint8

const (
	SixtopAdd SixtopOpcode = iota
	SixtopDelete
)

// SixtopReturnCode is the response code in a 6P response (spec.md §4.4).
type SixtopReturnCode uint8

const (
	RCSuccess SixtopReturnCode = iota
	RCNoResources
	RCBusy
	RCReset
)

func (rc SixtopReturnCode) String() string {
	switch rc {
	case RCSuccess:
		return "RC_SUCCESS"
	case RCNoResources:
		return "RC_NORES"
	case RCBusy:
		return "RC_BUSY"
	case RCReset:
		return "RC_RESET"
	default:
		return "RC_UNKNOWN"
	}
}

// SixtopRequestPayload is the payload carried by a TypeSixtopRequest frame.
type SixtopRequestPayload struct {
	Opcode     SixtopOpcode
	SeqNum     uint8
	NumCells   int
	Direction  Direction
	CellList   []CellDescriptor
	EnqueueASN simtime.ASN
}

// SixtopResponsePayload is the payload carried by a TypeSixtopResponse frame.
type SixtopResponsePayload struct {
	Opcode     SixtopOpcode
	SeqNum     uint8
	ReturnCode SixtopReturnCode
	CellList   []CellDescriptor
}

// Direction is a cell's direction (spec.md §3 "Schedule cell").
type Direction uint8

const (
	DirTX Direction = iota
	DirRX
	DirShared
)

func (d Direction) String() string {
	switch d {
	case DirTX:
		return "TX"
	case DirRX:
		return "RX"
	case DirShared:
		return "SHARED"
	default:
		return "?"
	}
}
