// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package rpl

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

type capturingEnqueuer struct {
	sent []*frame.Frame
}

func (c *capturingEnqueuer) Enqueue(fr *frame.Frame) error {
	c.sent = append(c.sent, fr)
	return nil
}

func TestScheduleDAO_EmitsOnceParentExists(t *testing.T) {
	sched := simtime.New()
	rng := rand.New(rand.NewSource(3))
	inst := NewInstance(peer.NodeID(2), false, mac.NewSchedule(11), staticPDR(0.9))
	enq := &capturingEnqueuer{}

	ScheduleDAO(inst, peer.NodeID(2), enq, sched, rng, BroadcastConfig{DAOPeriodSlots: 10}, 0.2)
	require.NoError(t, sched.Run(simtime.ASN(15)))
	assert.Empty(t, enq.sent, "no parent yet: DAO must not fire")

	inst.HandleDIO(peer.NodeID(1), frame.DIOPayload{Rank: 0, HasParent: false})
	require.NoError(t, sched.Run(simtime.ASN(40)))
	assert.NotEmpty(t, enq.sent)
	payload := enq.sent[0].Payload.(frame.DAOPayload)
	assert.Equal(t, peer.NodeID(2), payload.Node)
	assert.Equal(t, peer.NodeID(1), payload.PreferredParent)
}

func TestScheduleDIO_RootAlwaysAdvertises(t *testing.T) {
	sched := simtime.New()
	rng := rand.New(rand.NewSource(3))
	inst := NewInstance(peer.NodeID(0), true, mac.NewSchedule(11), nil)
	enq := &capturingEnqueuer{}

	ScheduleDIO(inst, peer.NodeID(0), enq, sched, rng, BroadcastConfig{DIOPeriodSlots: 10}, nil, 0.2)
	require.NoError(t, sched.Run(simtime.ASN(15)))
	assert.NotEmpty(t, enq.sent)
}

func TestScheduleDIO_NonRootWithoutParentStaysSilent(t *testing.T) {
	sched := simtime.New()
	rng := rand.New(rand.NewSource(3))
	inst := NewInstance(peer.NodeID(4), false, mac.NewSchedule(11), staticPDR(0.9))
	enq := &capturingEnqueuer{}

	ScheduleDIO(inst, peer.NodeID(4), enq, sched, rng, BroadcastConfig{DIOPeriodSlots: 10}, nil, 0.2)
	require.NoError(t, sched.Run(simtime.ASN(15)))
	assert.Empty(t, enq.sent)
}
