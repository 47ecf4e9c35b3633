// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "A counter")
	c.Inc(Labels{"command": "SM"})
	c.Add(Labels{"command": "SM"}, 4)
	c.Inc(Labels{"command": "SP"})

	if got := c.Get(Labels{"command": "SM"}); got != 5 {
		t.Errorf("SM = %d, want 5", got)
	}
	if got := c.Get(Labels{"command": "PI"}); got != 0 {
		t.Errorf("unknown series = %d, want 0", got)
	}

	var sb strings.Builder
	c.Write(&sb)
	want := "# HELP test_total A counter\n# TYPE test_total counter\n" +
		"test_total{command=\"SM\"} 5\n" +
		"test_total{command=\"SP\"} 1\n"
	if sb.String() != want {
		t.Errorf("Write =\n%s\nwant\n%s", sb.String(), want)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "A gauge")
	g.Set(nil, 2.5)
	g.Add(nil, -1)
	if got := g.Get(nil); got != 1.5 {
		t.Errorf("Get = %v, want 1.5", got)
	}

	SetOneHot(g, "mode", "normal", []string{"setup", "normal", "homing"})
	if g.Get(Labels{"mode": "normal"}) != 1 || g.Get(Labels{"mode": "setup"}) != 0 {
		t.Error("SetOneHot should set only the current series")
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_seconds", "A histogram", []float64{1, 0.1, 10})
	for _, v := range []float64{0.05, 0.1, 0.5, 20} {
		h.Observe(nil, v)
	}
	snap := h.Snapshot(nil)
	if snap.Count != 4 {
		t.Errorf("Count = %d, want 4", snap.Count)
	}
	if snap.Buckets[0.1] != 2 || snap.Buckets[1] != 3 || snap.Buckets[10] != 3 {
		t.Errorf("Buckets = %v", snap.Buckets)
	}

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, line := range []string{
		`test_seconds_bucket{le="0.1"} 2`,
		`test_seconds_bucket{le="+Inf"} 4`,
		`test_seconds_sum 20.65`,
		`test_seconds_count 4`,
	} {
		if !strings.Contains(out, line) {
			t.Errorf("output missing %q:\n%s", line, out)
		}
	}
}

func TestLabelsEscaping(t *testing.T) {
	l := Labels{"b": "x\"y", "a": "1"}
	if got := l.String(); got != `{a="1",b="x\"y"}` {
		t.Errorf("String = %s", got)
	}
	if l.Key() != "a=1,b=x\"y" {
		t.Errorf("Key = %s", l.Key())
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("dup", "")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewGauge("dup", "")); err == nil {
		t.Error("duplicate name should be rejected")
	}
	if r.Get("dup").Type() != TypeCounter {
		t.Error("first registration should win")
	}
}

func TestPlotterMetricsGather(t *testing.T) {
	pm := NewPlotterMetrics()
	pm.RecordSend("SM", 14)
	pm.RecordReceive(4)
	pm.SetQueue(3, 4096, 1500)
	pm.SetPenPosition(100, 0)

	out := pm.Gather()
	for _, line := range []string{
		`plotbot_commands_sent_total{command="SM"} 1`,
		`plotbot_link_bytes_sent_total 14`,
		`plotbot_queue_depth 3`,
		`plotbot_queue_pending_seconds 1.5`,
		`plotbot_pen_position_px{axis="x"} 100`,
		`# TYPE plotbot_goroutines gauge`,
	} {
		if !strings.Contains(out, line) {
			t.Errorf("Gather missing %q", line)
		}
	}
}
