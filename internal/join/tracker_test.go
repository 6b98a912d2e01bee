// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package join

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

func TestTracker_FiresOnceAllExpectedHaveJoined(t *testing.T) {
	sched := simtime.New()
	fired := false
	tr := NewTracker(2, sched, 10, nil, func() { fired = true })

	tr.MarkJoined(peer.NodeID(1))
	assert.False(t, tr.AllJoined())
	require.NoError(t, sched.Run(simtime.ASN(5)))
	assert.False(t, fired)

	tr.MarkJoined(peer.NodeID(2))
	assert.True(t, tr.AllJoined())
	require.NoError(t, sched.Run(simtime.ASN(5)))
	assert.False(t, fired, "grace period has not elapsed yet")
	require.NoError(t, sched.Run(simtime.ASN(20)))
	assert.True(t, fired)
}

func TestTracker_OnConvergedFiresImmediatelyNotAfterGracePeriod(t *testing.T) {
	sched := simtime.New()
	converged := false
	done := false
	tr := NewTracker(1, sched, 10, func() { converged = true }, func() { done = true })

	tr.MarkJoined(peer.NodeID(1))
	assert.True(t, converged)
	assert.False(t, done)

	require.NoError(t, sched.Run(simtime.ASN(20)))
	assert.True(t, done)
}

func TestTracker_DuplicateMarkIsIgnored(t *testing.T) {
	sched := simtime.New()
	tr := NewTracker(2, sched, 5, nil, func() {})
	tr.MarkJoined(peer.NodeID(1))
	tr.MarkJoined(peer.NodeID(1))
	assert.False(t, tr.AllJoined())
}
