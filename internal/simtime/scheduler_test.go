// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_OrdersByASNThenPriority(t *testing.T) {
	s := New()
	var order []string

	require.NoError(t, s.ScheduleAtASN(10, "b", PriorityMSF, func(ASN) { order = append(order, "b") }))
	require.NoError(t, s.ScheduleAtASN(10, "a", PriorityActiveCell, func(ASN) { order = append(order, "a") }))
	require.NoError(t, s.ScheduleAtASN(5, "c", PriorityMSF, func(ASN) { order = append(order, "c") }))

	require.NoError(t, s.Run(^ASN(0)))
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestScheduler_SameASNSamePriorityPreservesInsertionOrder(t *testing.T) {
	s := New()
	var order []int
	for i := 0; i < 5; i++ {
		n := i
		require.NoError(t, s.ScheduleAtASN(1, "", PriorityAppJoin, func(ASN) { order = append(order, n) }))
	}
	require.NoError(t, s.Run(^ASN(0)))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestScheduler_RejectsPastOrCurrentASN(t *testing.T) {
	s := New()
	require.NoError(t, s.ScheduleAtASN(1, "x", PriorityAppJoin, func(ASN) {}))
	require.NoError(t, s.Run(^ASN(0)))
	assert.Equal(t, ASN(1), s.GetASN())

	err := s.ScheduleAtASN(1, "y", PriorityAppJoin, func(ASN) {})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	err = s.ScheduleAtASN(0, "z", PriorityAppJoin, func(ASN) {})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestScheduler_RescheduleSameTagSupersedesPrior(t *testing.T) {
	s := New()
	fired := 0
	require.NoError(t, s.ScheduleAtASN(5, "tag", PriorityMSF, func(ASN) { fired = 1 }))
	require.NoError(t, s.ScheduleAtASN(10, "tag", PriorityMSF, func(ASN) { fired = 2 }))
	require.NoError(t, s.Run(^ASN(0)))
	assert.Equal(t, 2, fired)
	assert.Equal(t, ASN(10), s.GetASN())
}

func TestScheduler_RemoveEventDetaches(t *testing.T) {
	s := New()
	fired := false
	require.NoError(t, s.ScheduleAtASN(5, "tag", PriorityMSF, func(ASN) { fired = true }))
	s.RemoveEvent("tag")
	require.NoError(t, s.Run(^ASN(0)))
	assert.False(t, fired)
	assert.False(t, s.Pending("tag"))
}

func TestScheduler_RunStopsAtTerminationASN(t *testing.T) {
	s := New()
	var order []ASN
	require.NoError(t, s.ScheduleAtASN(5, "a", PriorityAppJoin, func(asn ASN) { order = append(order, asn) }))
	require.NoError(t, s.ScheduleAtASN(15, "b", PriorityAppJoin, func(asn ASN) { order = append(order, asn) }))
	require.NoError(t, s.Run(10))
	assert.Equal(t, []ASN{5}, order)
	assert.Equal(t, ASN(10), s.GetASN())
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Run(^ASN(0)))
	assert.Equal(t, []ASN{5, 15}, order)
}

func TestScheduler_CallbackMayRescheduleItselfSafely(t *testing.T) {
	s := New()
	count := 0
	var tick Callback
	tick = func(asn ASN) {
		count++
		if count < 3 {
			require.NoError(t, s.ScheduleAtASN(asn+1, "tick", PriorityActiveCell, tick))
		}
	}
	require.NoError(t, s.ScheduleAtASN(1, "tick", PriorityActiveCell, tick))
	require.NoError(t, s.Run(^ASN(0)))
	assert.Equal(t, 3, count)
}
