package setup

import (
	"reflect"
	"testing"
	"time"

	"plotbot-go/pkg/boardlink"
	"plotbot-go/pkg/config"
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/metrics"
	"plotbot-go/pkg/protocol"
)

func testConfig() Config {
	return ConfigFrom(config.DefaultPlotterConfig())
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestSetupSequence(t *testing.T) {
	cfg := testConfig()
	sim := boardlink.NewSimulator(cfg.XPin, cfg.YPin, 0, 0)
	rec := boardlink.NewRecorder(sim.Reply)
	m := New(rec, cfg, nil)

	if home, _ := m.Step(ms(500), 30); home || m.State() != Inactive {
		t.Fatalf("state at 0.5s = %s", m.State())
	}

	steps := []struct {
		now   int
		state State
	}{
		{1016, EstablishingConnection},
		{1032, EstablishingConnection}, // qc sent
		{1048, LimitSwitchSetup},
		{1064, LimitSwitchSetup}, // PD pair sent
		{1080, PenServoSetup},
		{1096, PenServoSetup}, // SC pair sent
		{1112, SetupComplete}, // pen raised
		{1128, SendHome},
	}
	for i, s := range steps {
		home, err := m.Step(ms(s.now), 61+i)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if home {
			t.Fatalf("step %d: homing requested early", i)
		}
		if m.State() != s.state {
			t.Fatalf("step %d at %dms: state = %s, want %s", i, s.now, m.State(), s.state)
		}
	}

	want := []string{
		"qc\r",
		"PD,A,2,1\r",
		"PD,A,1,1\r",
		"SC,4,14800\r",
		"SC,5,23000\r",
		protocol.PenUp,
	}
	if got := rec.Sent(); !reflect.DeepEqual(got, want) {
		t.Errorf("sent %q, want %q", got, want)
	}

	if home, _ := m.Step(ms(2000), 240); home {
		t.Error("homing must wait for more than 240 frames")
	}
	if home, _ := m.Step(ms(4000), 241); !home {
		t.Error("homing should start after 240 frames")
	}
}

func TestConnectionRetriedUntilAck(t *testing.T) {
	cfg := testConfig()
	rec := boardlink.NewRecorder(nil)
	m := New(rec, cfg, nil)
	m.Step(ms(1016), 61)

	// no reply: qc is re-sent every tick
	for i := 0; i < 3; i++ {
		m.Step(ms(1032+16*i), 62+i)
	}
	if got := len(rec.Sent()); got != 3 {
		t.Fatalf("qc sent %d times, want 3", got)
	}

	// a truncated reply is read, ignored and flushed
	rec.Inject([]byte("0394,0300\r\n"))
	m.Step(ms(1100), 70)
	if m.State() != EstablishingConnection {
		t.Fatalf("partial reply advanced to %s", m.State())
	}
	if n, _ := rec.Available(); n != 0 {
		t.Errorf("input not flushed, %d bytes left", n)
	}

	rec.Inject([]byte(boardlink.ReplyConnection))
	m.Step(ms(1116), 71)
	if m.State() != LimitSwitchSetup {
		t.Errorf("state = %s, want limit_switch_setup", m.State())
	}
}

func TestStateTimeoutFaults(t *testing.T) {
	cfg := testConfig()
	cfg.StateTimeout = 2 * time.Second
	pm := metrics.NewPlotterMetrics()
	m := New(boardlink.NewRecorder(nil), cfg, pm)

	m.Step(ms(1016), 61)
	if _, err := m.Step(ms(3000), 180); err != nil {
		t.Fatalf("faulted before the deadline: %v", err)
	}
	_, err := m.Step(ms(3100), 186)
	if !errors.Is(err, errors.ErrSetupTimeout) {
		t.Fatalf("err = %v, want SETUP_TIMEOUT", err)
	}
	if m.State() != Faulted {
		t.Errorf("state = %s, want faulted", m.State())
	}
	if !errors.IsFatal(m.Err()) {
		t.Error("setup timeout must be fatal")
	}
	// stays faulted
	if _, err := m.Step(ms(5000), 300); err != m.Err() {
		t.Errorf("later step = %v", err)
	}
	if pm.SetupState.Get(metrics.Labels{"state": "faulted"}) != 1 {
		t.Error("faulted state not reported")
	}
}

func TestNoTimeoutWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.StateTimeout = 0
	m := New(boardlink.NewRecorder(nil), cfg, nil)
	m.Step(ms(1016), 61)
	if _, err := m.Step(time.Hour, 216000); err != nil {
		t.Errorf("err = %v with the deadline disabled", err)
	}
	if m.State() != EstablishingConnection {
		t.Errorf("state = %s", m.State())
	}
}

func TestSendFailureKeepsState(t *testing.T) {
	cfg := testConfig()
	rec := boardlink.NewRecorder(nil)
	m := New(rec, cfg, nil)
	m.Step(ms(1016), 61)

	rec.FailSends(errors.New(errors.ErrInternal, "boom"))
	if _, err := m.Step(ms(1032), 62); !errors.Is(err, errors.ErrLinkIO) {
		t.Errorf("err = %v, want LINK_IO", err)
	}
	if m.State() != EstablishingConnection {
		t.Errorf("state = %s", m.State())
	}
}

func TestStateString(t *testing.T) {
	if SendHome.String() != "send_home" || State(42).String() != "unknown" {
		t.Error("State.String mismatch")
	}
	if len(StateNames()) != int(Faulted)+1 {
		t.Error("StateNames must cover every state")
	}
}
