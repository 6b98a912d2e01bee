// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package promexport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsch-sim/tschsim/internal/simtime"
)

func counterValue(t *testing.T, cv *prometheus.CounterVec, mote string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, cv.WithLabelValues(mote).Write(m))
	return m.GetCounter().GetValue()
}

func TestForMote_IncrementsOnlyItsOwnLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	a := c.ForMote("1")
	b := c.ForMote("2")

	a.DropNoRoute()
	a.DropNoRoute()
	b.DropNoRoute()

	assert.Equal(t, 2.0, counterValue(t, c.DroppedNoRoute, "1"))
	assert.Equal(t, 1.0, counterValue(t, c.DroppedNoRoute, "2"))
}

func TestForMote_AllDropMethodsIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	v := c.ForMote("1")

	v.DropNoRoute()
	v.DropNoTxCells()
	v.DropQueueFull()
	v.DropMacRetries()
	v.IdleListen()
	v.DropFragFailedEnqueue()
	v.DropFragVRBTableFull()
	v.DropFragReassQueueFull()
	v.DropFragMissingFrag()

	assert.Equal(t, 1.0, counterValue(t, c.DroppedNoRoute, "1"))
	assert.Equal(t, 1.0, counterValue(t, c.DroppedNoTxCells, "1"))
	assert.Equal(t, 1.0, counterValue(t, c.DroppedQueueFull, "1"))
	assert.Equal(t, 1.0, counterValue(t, c.DroppedMacRetries, "1"))
	assert.Equal(t, 1.0, counterValue(t, c.IdleListen, "1"))
	assert.Equal(t, 1.0, counterValue(t, c.DroppedFragFailedEnqueue, "1"))
	assert.Equal(t, 1.0, counterValue(t, c.DroppedFragVRBTableFull, "1"))
	assert.Equal(t, 1.0, counterValue(t, c.DroppedFragReassQueueFull, "1"))
	assert.Equal(t, 1.0, counterValue(t, c.DroppedFragMissingFrag, "1"))
}

func TestRecordDelivery_IncrementsCounterAndObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	v := c.ForMote("3")

	v.RecordDelivery(4, simtime.ASN(12))

	assert.Equal(t, 1.0, counterValue(t, c.Delivered, "3"))

	m := &dto.Metric{}
	require.NoError(t, c.DeliveryLatency.WithLabelValues("3").Write(m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}

func TestSetQueueDepth_UpdatesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	v := c.ForMote("1")

	v.SetQueueDepth(7)

	m := &dto.Metric{}
	require.NoError(t, c.QueueDepth.WithLabelValues("1").Write(m))
	assert.Equal(t, 7.0, m.GetGauge().GetValue())
}
