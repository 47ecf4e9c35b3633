// Plotter metrics definitions
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// PlotterMetrics holds every metric the host exports.
type PlotterMetrics struct {
	// Board link
	LinkConnected *Gauge
	CommandsSent  *Counter
	BytesSent     *Counter
	BytesReceived *Counter
	LinkErrors    *Counter
	AckMismatches *Counter

	// Controller
	Mode          *Gauge
	SetupState    *Gauge
	PenPosition   *Gauge
	TickDuration  *Histogram
	SetupFailures *Counter

	// Queue and pacing
	QueueDepth      *Gauge
	QueueCapacity   *Gauge
	QueuePendingSec *Gauge
	PacketsPaced    *Counter

	// Drawing
	FeaturesEnqueued *Counter
	FeaturesRejected *Counter

	// Homing
	HomingCorrections *Counter
	HomingRuns        *Counter
	HomingTime        *Histogram

	// Process
	Uptime     *Gauge
	Goroutines *Gauge
	HeapBytes  *Gauge

	startTime time.Time
	registry  *Registry
}

// NewPlotterMetrics creates and registers all metrics in a fresh registry.
func NewPlotterMetrics() *PlotterMetrics {
	pm := &PlotterMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	pm.LinkConnected = NewGauge("plotbot_link_connected", "1 while the board link is open")
	pm.CommandsSent = NewCounter("plotbot_commands_sent_total", "Commands written to the board by command name")
	pm.BytesSent = NewCounter("plotbot_link_bytes_sent_total", "Bytes written to the board")
	pm.BytesReceived = NewCounter("plotbot_link_bytes_received_total", "Bytes read from the board")
	pm.LinkErrors = NewCounter("plotbot_link_errors_total", "Transport errors by operation")
	pm.AckMismatches = NewCounter("plotbot_ack_mismatches_total", "Replies that did not match the expected acknowledgement")

	pm.Mode = NewGauge("plotbot_mode", "1 for the current operation mode")
	pm.SetupState = NewGauge("plotbot_setup_state", "1 for the current setup state")
	pm.PenPosition = NewGauge("plotbot_pen_position_px", "Tracked pen position in canvas pixels")
	pm.TickDuration = NewHistogram("plotbot_tick_seconds", "Time spent in one controller tick",
		[]float64{.0001, .0005, .001, .005, .01, .05})
	pm.SetupFailures = NewCounter("plotbot_setup_failures_total", "Setup or homing failures by error code")

	pm.QueueDepth = NewGauge("plotbot_queue_depth", "Packets waiting in the command queue")
	pm.QueueCapacity = NewGauge("plotbot_queue_capacity", "Maximum packets in the command queue")
	pm.QueuePendingSec = NewGauge("plotbot_queue_pending_seconds", "Sum of queued packet durations")
	pm.PacketsPaced = NewCounter("plotbot_packets_paced_total", "Packets released to the board by the pacer")

	pm.FeaturesEnqueued = NewCounter("plotbot_features_enqueued_total", "Drawing features accepted by kind")
	pm.FeaturesRejected = NewCounter("plotbot_features_rejected_total", "Drawing features refused by error code")

	pm.HomingCorrections = NewCounter("plotbot_homing_corrections_total", "Corrective homing moves by axis")
	pm.HomingRuns = NewCounter("plotbot_homing_runs_total", "Completed homing runs")
	pm.HomingTime = NewHistogram("plotbot_homing_seconds", "Duration of a homing run",
		[]float64{1, 2.5, 5, 10, 20, 40, 80})

	pm.Uptime = NewGauge("plotbot_uptime_seconds", "Seconds since the host started")
	pm.Goroutines = NewGauge("plotbot_goroutines", "Number of goroutines")
	pm.HeapBytes = NewGauge("plotbot_heap_bytes", "Heap bytes allocated")

	pm.registry.MustRegister(
		pm.LinkConnected, pm.CommandsSent, pm.BytesSent, pm.BytesReceived, pm.LinkErrors, pm.AckMismatches,
		pm.Mode, pm.SetupState, pm.PenPosition, pm.TickDuration, pm.SetupFailures,
		pm.QueueDepth, pm.QueueCapacity, pm.QueuePendingSec, pm.PacketsPaced,
		pm.FeaturesEnqueued, pm.FeaturesRejected,
		pm.HomingCorrections, pm.HomingRuns, pm.HomingTime,
		pm.Uptime, pm.Goroutines, pm.HeapBytes,
	)
	return pm
}

// SetOneHot sets g to 1 for current and 0 for every other name, so that
// exactly one series of an enumeration is set.
func SetOneHot(g *Gauge, label, current string, all []string) {
	for _, name := range all {
		g.SetBool(Labels{label: name}, name == current)
	}
}

// RecordSend counts one command of n bytes.
func (pm *PlotterMetrics) RecordSend(command string, n int) {
	pm.CommandsSent.Inc(Labels{"command": command})
	pm.BytesSent.Add(nil, uint64(n))
}

// RecordReceive counts n bytes read from the board.
func (pm *PlotterMetrics) RecordReceive(n int) {
	if n > 0 {
		pm.BytesReceived.Add(nil, uint64(n))
	}
}

// RecordLinkError counts a failed link operation.
func (pm *PlotterMetrics) RecordLinkError(op string) {
	pm.LinkErrors.Inc(Labels{"op": op})
}

// SetQueue updates the queue gauges.
func (pm *PlotterMetrics) SetQueue(depth, capacity, pendingMillis int) {
	pm.QueueDepth.Set(nil, float64(depth))
	pm.QueueCapacity.Set(nil, float64(capacity))
	pm.QueuePendingSec.Set(nil, float64(pendingMillis)/1000)
}

// SetPenPosition updates the tracked pen position.
func (pm *PlotterMetrics) SetPenPosition(x, y int) {
	pm.PenPosition.Set(Labels{"axis": "x"}, float64(x))
	pm.PenPosition.Set(Labels{"axis": "y"}, float64(y))
}

// Gather refreshes the process gauges and renders everything.
func (pm *PlotterMetrics) Gather() string {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)
	pm.Goroutines.Set(nil, float64(goruntime.NumGoroutine()))
	pm.HeapBytes.Set(nil, float64(m.HeapAlloc))
	pm.Uptime.Set(nil, time.Since(pm.startTime).Seconds())
	return pm.registry.Gather()
}

// Registry returns the registry holding pm's metrics.
func (pm *PlotterMetrics) Registry() *Registry {
	return pm.registry
}

var (
	globalMetrics     *PlotterMetrics
	globalMetricsOnce sync.Once
)

// Global returns the process-wide metrics instance.
func Global() *PlotterMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewPlotterMetrics()
	})
	return globalMetrics
}
