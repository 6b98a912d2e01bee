// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package promexport bridges the named drop counters and delivery events
// (spec.md §4.9, §6) to Prometheus, exposed over promhttp.HandlerFor on a
// configurable address (SPEC_FULL.md §1.4). This is optional ambient
// tooling: a simulation run never requires it.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tsch-sim/tschsim/internal/simtime"
)

const (
	namespace = "tschsim"
	subsystem = "sim"
)

const labelMoteID = "mote_id"

// Collector holds every tschsim Prometheus metric, grounded on
// dantte-lp-gobfd/internal/metrics/collector.go's Collector shape: one
// GaugeVec/CounterVec field per dimension, all labeled by mote_id.
type Collector struct {
	DroppedNoRoute            *prometheus.CounterVec
	DroppedNoTxCells          *prometheus.CounterVec
	DroppedQueueFull          *prometheus.CounterVec
	DroppedMacRetries         *prometheus.CounterVec
	IdleListen                *prometheus.CounterVec
	DroppedFragFailedEnqueue  *prometheus.CounterVec
	DroppedFragVRBTableFull   *prometheus.CounterVec
	DroppedFragReassQueueFull *prometheus.CounterVec
	DroppedFragMissingFrag    *prometheus.CounterVec

	Delivered       *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.DroppedNoRoute,
		c.DroppedNoTxCells,
		c.DroppedQueueFull,
		c.DroppedMacRetries,
		c.IdleListen,
		c.DroppedFragFailedEnqueue,
		c.DroppedFragVRBTableFull,
		c.DroppedFragReassQueueFull,
		c.DroppedFragMissingFrag,
		c.Delivered,
		c.DeliveryLatency,
		c.QueueDepth,
	)

	return c
}

func newMetrics() *Collector {
	moteLabels := []string{labelMoteID}

	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, moteLabels)
	}

	return &Collector{
		DroppedNoRoute:            counter("dropped_no_route_total", "Frames dropped for lacking a next hop."),
		DroppedNoTxCells:          counter("dropped_no_tx_cells_total", "Frames dropped for lacking any TX or SHARED cell."),
		DroppedQueueFull:          counter("dropped_queue_full_total", "Frames dropped because the TX queue was full."),
		DroppedMacRetries:         counter("dropped_mac_retries_total", "Frames dropped after exhausting MAC retries."),
		IdleListen:                counter("idle_listen_total", "Dedicated TX cell activations with nothing queued."),
		DroppedFragFailedEnqueue:  counter("dropped_frag_failed_enqueue_total", "Fragments dropped on enqueue failure."),
		DroppedFragVRBTableFull:   counter("dropped_frag_vrb_table_full_total", "Fragments dropped because the VRB table was full."),
		DroppedFragReassQueueFull: counter("dropped_frag_reass_queue_full_total", "Fragments dropped because the reassembly queue was full."),
		DroppedFragMissingFrag:    counter("dropped_frag_missing_frag_total", "Fragments dropped for arriving out of order."),

		Delivered: counter("delivered_total", "Application datagrams delivered to the root."),
		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_latency_asn",
			Help:      "Delivery latency in ASNs from generation to root delivery.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, moteLabels),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Current TX queue depth.",
		}, moteLabels),
	}
}

// ForMote returns a view of c bound to one mote's label, implementing
// mac.Counters, app.Counters and app.Recorder so it can be wired
// alongside (not instead of) a simstats.Collector for that mote.
func (c *Collector) ForMote(moteID string) *MoteView {
	return &MoteView{c: c, mote: moteID}
}

// MoteView is a per-mote accessor bound to a fixed mote_id label value.
type MoteView struct {
	c    *Collector
	mote string
}

func (v *MoteView) DropNoRoute()    { v.c.DroppedNoRoute.WithLabelValues(v.mote).Inc() }
func (v *MoteView) DropNoTxCells()  { v.c.DroppedNoTxCells.WithLabelValues(v.mote).Inc() }
func (v *MoteView) DropQueueFull()  { v.c.DroppedQueueFull.WithLabelValues(v.mote).Inc() }
func (v *MoteView) DropMacRetries() { v.c.DroppedMacRetries.WithLabelValues(v.mote).Inc() }
func (v *MoteView) IdleListen()     { v.c.IdleListen.WithLabelValues(v.mote).Inc() }

func (v *MoteView) DropFragFailedEnqueue() { v.c.DroppedFragFailedEnqueue.WithLabelValues(v.mote).Inc() }
func (v *MoteView) DropFragVRBTableFull() {
	v.c.DroppedFragVRBTableFull.WithLabelValues(v.mote).Inc()
}
func (v *MoteView) DropFragReassQueueFull() {
	v.c.DroppedFragReassQueueFull.WithLabelValues(v.mote).Inc()
}
func (v *MoteView) DropFragMissingFrag() {
	v.c.DroppedFragMissingFrag.WithLabelValues(v.mote).Inc()
}

func (v *MoteView) RecordDelivery(hopCount int, latency simtime.ASN) {
	v.c.Delivered.WithLabelValues(v.mote).Inc()
	v.c.DeliveryLatency.WithLabelValues(v.mote).Observe(float64(latency))
}

// SetQueueDepth sets the TX queue depth gauge for a mote. The mote
// container does not call it; the gauge changes only when a caller sets it.
func (v *MoteView) SetQueueDepth(depth int) {
	v.c.QueueDepth.WithLabelValues(v.mote).Set(float64(depth))
}
