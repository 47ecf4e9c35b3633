package homing

import (
	"strings"
	"testing"
	"time"

	"plotbot-go/pkg/boardlink"
	"plotbot-go/pkg/config"
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/metrics"
)

var (
	pinX = config.Pin{Port: "A", Number: 2}
	pinY = config.Pin{Port: "A", Number: 1}
)

func testConfig() Config {
	return Config{
		XPin:            pinX,
		YPin:            pinY,
		StepMillis:      50,
		StepCount:       100,
		MaxCorrections:  400,
		ResponseTimeout: 2 * time.Second,
	}
}

const frame = 16 * time.Millisecond

// run steps h until it reports done or limit ticks pass.
func run(t *testing.T, h *Homer, limit int) (time.Duration, error) {
	t.Helper()
	now := time.Duration(0)
	h.Start(now)
	for i := 0; i < limit; i++ {
		now += frame
		done, err := h.Step(now)
		if err != nil {
			return now, err
		}
		if done {
			return now, nil
		}
	}
	t.Fatalf("homing not done after %d ticks (axis %s, phase %s)", limit, h.Axis(), h.Phase())
	return now, nil
}

func TestAlreadyHome(t *testing.T) {
	sim := boardlink.NewSimulator(pinX, pinY, 0, 0)
	rec := boardlink.NewRecorder(sim.Reply)
	h := New(rec, testConfig(), nil)

	if _, err := run(t, h, 10); err != nil {
		t.Fatal(err)
	}
	sent := rec.Sent()
	want := []string{"PI,A,1\r", "PI,A,2\r"}
	if strings.Join(sent, "|") != strings.Join(want, "|") {
		t.Errorf("sent %q, want %q", sent, want)
	}
	if sim.Moves() != 0 {
		t.Errorf("%d moves sent to a homed carriage", sim.Moves())
	}
}

func TestHomesBothAxes(t *testing.T) {
	sim := boardlink.NewSimulator(pinX, pinY, 250, 150)
	rec := boardlink.NewRecorder(sim.Reply)
	pm := metrics.NewPlotterMetrics()
	h := New(rec, testConfig(), pm)

	if _, err := run(t, h, 200); err != nil {
		t.Fatal(err)
	}
	if x, y := sim.Position(); x > 0 || y > 0 {
		t.Errorf("carriage at (%d, %d), want both switches tripped", x, y)
	}
	if h.Corrections(X) != 3 || h.Corrections(Y) != 2 {
		t.Errorf("corrections x=%d y=%d, want 3 and 2", h.Corrections(X), h.Corrections(Y))
	}
	if !h.IsHome(X) || !h.IsHome(Y) {
		t.Error("both axes should be flagged home")
	}

	// Y starts and the axes alternate while both are open.
	var moves []string
	for _, cmd := range rec.Sent() {
		if strings.HasPrefix(cmd, "SM") {
			moves = append(moves, cmd)
		}
	}
	want := []string{
		"SM,50,0,-100\r",
		"SM,50,-100,0\r",
		"SM,50,0,-100\r",
		"SM,50,-100,0\r",
		"SM,50,-100,0\r",
	}
	if strings.Join(moves, "|") != strings.Join(want, "|") {
		t.Errorf("moves %q, want %q", moves, want)
	}

	if got := pm.HomingCorrections.Get(metrics.Labels{"axis": "x"}); got != 3 {
		t.Errorf("x corrections metric = %d", got)
	}
	if pm.HomingRuns.Get(nil) != 1 {
		t.Error("homing run not counted")
	}
	if pm.HomingTime.Snapshot(nil).Count != 1 {
		t.Error("homing time not observed")
	}
}

func TestInvertedSwitch(t *testing.T) {
	x := pinX
	x.Invert = true
	sim := boardlink.NewSimulator(x, pinY, 100, 0)
	cfg := testConfig()
	cfg.XPin = x
	h := New(boardlink.NewRecorder(sim.Reply), cfg, nil)

	if _, err := run(t, h, 100); err != nil {
		t.Fatal(err)
	}
	if h.Corrections(X) != 1 {
		t.Errorf("x corrections = %d, want 1", h.Corrections(X))
	}
}

func TestStall(t *testing.T) {
	sim := boardlink.NewSimulator(pinX, pinY, 1e6, 1e6)
	cfg := testConfig()
	cfg.MaxCorrections = 3
	pm := metrics.NewPlotterMetrics()
	h := New(boardlink.NewRecorder(sim.Reply), cfg, pm)

	_, err := run(t, h, 200)
	if !errors.Is(err, errors.ErrHomingStall) {
		t.Fatalf("err = %v, want HOMING_STALL", err)
	}
	if h.Corrections(Y) != 3 {
		t.Errorf("y corrections = %d, want 3", h.Corrections(Y))
	}
	if sim.Moves() != 6 {
		t.Errorf("moves = %d, want 6", sim.Moves())
	}
	if got := pm.SetupFailures.Get(metrics.Labels{"code": "HOMING_STALL"}); got != 1 {
		t.Errorf("setup failures{HOMING_STALL} = %d, want 1", got)
	}
}

func TestResponseTimeoutRequeriesLimit(t *testing.T) {
	rec := boardlink.NewRecorder(nil)
	h := New(rec, testConfig(), nil)
	h.Start(0)

	h.Step(frame)
	if h.Phase() != CheckLimitResponse {
		t.Fatalf("phase = %s", h.Phase())
	}
	h.Step(time.Second)
	if len(rec.Sent()) != 1 {
		t.Fatalf("re-sent before the timeout: %q", rec.Sent())
	}
	h.Step(3 * time.Second)
	sent := rec.Sent()
	if len(sent) != 2 || sent[1] != "PI,A,1\r" {
		t.Errorf("sent %q, want a second PI on Y", sent)
	}
}

func TestMotorTimeoutDoesNotRepeatMove(t *testing.T) {
	rec := boardlink.NewRecorder(nil)
	h := New(rec, testConfig(), nil)
	h.Start(0)

	h.Step(frame) // PI
	rec.Inject([]byte("PI,1\r\n"))
	h.Step(2 * frame) // switch open, SM sent
	h.Step(3 * frame)
	if h.Phase() != CheckMotorResponse {
		t.Fatalf("phase = %s", h.Phase())
	}
	h.Step(3 * time.Second)
	sent := rec.Sent()
	if len(sent) != 3 || !strings.HasPrefix(sent[2], "PI,A,1") {
		t.Errorf("sent %q, want PI, SM, PI", sent)
	}
	if h.Corrections(Y) != 1 {
		t.Errorf("corrections = %d", h.Corrections(Y))
	}
}

func TestGarbageReplyRerequests(t *testing.T) {
	rec := boardlink.NewRecorder(nil)
	h := New(rec, testConfig(), nil)
	h.Start(0)
	h.Step(frame)
	rec.Inject([]byte(boardlink.ReplyUnknown))
	h.Step(2 * frame)
	if got := len(rec.Sent()); got != 2 {
		t.Errorf("sent %d commands, want the limit query repeated", got)
	}
	if h.Phase() != CheckLimitResponse {
		t.Errorf("phase = %s", h.Phase())
	}
}

func TestSendFailureRetries(t *testing.T) {
	rec := boardlink.NewRecorder(nil)
	rec.FailSends(errors.New(errors.ErrInternal, "unplugged"))
	h := New(rec, testConfig(), nil)
	h.Start(0)
	if _, err := h.Step(frame); !errors.Is(err, errors.ErrLinkIO) {
		t.Fatalf("err = %v, want LINK_IO", err)
	}
	if h.Phase() != RequestLimitState {
		t.Errorf("phase = %s after failed send", h.Phase())
	}
	rec.FailSends(nil)
	h.Step(2 * frame)
	if h.Phase() != CheckLimitResponse {
		t.Errorf("phase = %s after retry", h.Phase())
	}
}
