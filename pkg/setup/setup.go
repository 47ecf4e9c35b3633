// Package setup brings the board from power-on to ready-to-home: wait for
// it to enumerate, confirm it answers, configure the limit switch inputs
// and the pen servo range, then hand over to homing.
package setup

import (
	"time"

	"plotbot-go/pkg/boardlink"
	"plotbot-go/pkg/config"
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/log"
	"plotbot-go/pkg/metrics"
	"plotbot-go/pkg/protocol"
)

// State is a setup stage.
type State int

const (
	Inactive State = iota
	EstablishingConnection
	LimitSwitchSetup
	PenServoSetup
	SetupComplete
	SendHome
	Faulted
)

var stateNames = []string{
	"inactive",
	"establishing_connection",
	"limit_switch_setup",
	"pen_servo_setup",
	"setup_complete",
	"send_home",
	"faulted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// StateNames lists every state name in order.
func StateNames() []string {
	return append([]string(nil), stateNames...)
}

// Config holds the setup parameters.
type Config struct {
	StartDelay   time.Duration // wait after start before the first query
	StateTimeout time.Duration // per state deadline, 0 = retry forever
	StartFrames  int           // ticks before homing may start
	XPin         config.Pin
	YPin         config.Pin
	ServoMin     int
	ServoMax     int
}

// ConfigFrom extracts the setup parameters from the plotter config.
func ConfigFrom(pc *config.PlotterConfig) Config {
	return Config{
		StartDelay:   pc.Setup.StartDelay,
		StateTimeout: pc.Setup.StateTimeout,
		StartFrames:  pc.Homing.StartFrames,
		XPin:         pc.Limits.XPin,
		YPin:         pc.Limits.YPin,
		ServoMin:     pc.Servo.Min,
		ServoMax:     pc.Servo.Max,
	}
}

// Machine is the setup state machine. It is driven by Step from the
// controller tick and is not safe for concurrent use.
type Machine struct {
	link    boardlink.Link
	cfg     Config
	log     *log.Logger
	metrics *metrics.PlotterMetrics

	state     State
	enteredAt time.Duration
	err       error
}

// New returns a machine in the Inactive state. m may be nil.
func New(link boardlink.Link, cfg Config, m *metrics.PlotterMetrics) *Machine {
	sm := &Machine{
		link:    link,
		cfg:     cfg,
		log:     log.GetLogger("setup"),
		metrics: m,
	}
	sm.report()
	return sm
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Err returns the error that faulted the machine, if any.
func (m *Machine) Err() error {
	return m.err
}

func (m *Machine) enter(s State, now time.Duration) {
	m.log.WithFields(log.Fields{"from": m.state.String(), "to": s.String()}).Info("setup state change")
	m.state = s
	m.enteredAt = now
	m.report()
}

func (m *Machine) report() {
	if m.metrics != nil {
		metrics.SetOneHot(m.metrics.SetupState, "state", m.state.String(), stateNames)
	}
}

// Step runs one tick. now is the time since the controller started and
// frames the number of ticks so far. It reports true once homing should
// begin. Link errors are returned and the state is kept, so the step is
// retried; a state deadline faults the machine with SETUP_TIMEOUT.
func (m *Machine) Step(now time.Duration, frames int) (bool, error) {
	if m.state == Faulted {
		return false, m.err
	}
	if m.waitingForBoard() && m.cfg.StateTimeout > 0 && now-m.enteredAt > m.cfg.StateTimeout {
		m.err = errors.SetupTimeoutError(m.state.String(), (now - m.enteredAt).Seconds())
		if m.metrics != nil {
			m.metrics.SetupFailures.Inc(metrics.Labels{"code": string(errors.ErrSetupTimeout)})
		}
		m.enter(Faulted, now)
		return false, m.err
	}

	switch m.state {
	case Inactive:
		if now > m.cfg.StartDelay {
			m.enter(EstablishingConnection, now)
		}
	case EstablishingConnection:
		return false, m.exchange(now, protocol.IsConnectionAck, LimitSwitchSetup, nil,
			protocol.QueryCurrent)
	case LimitSwitchSetup:
		return false, m.exchange(now, protocol.IsPairAck, PenServoSetup, nil,
			protocol.PinInput(m.cfg.XPin.Port, m.cfg.XPin.Number),
			protocol.PinInput(m.cfg.YPin.Port, m.cfg.YPin.Number))
	case PenServoSetup:
		raisePen := func() error { return m.link.Send(protocol.PenUp) }
		return false, m.exchange(now, protocol.IsPairAck, SetupComplete, raisePen,
			protocol.ServoConfig(protocol.ServoMinChannel, m.cfg.ServoMin),
			protocol.ServoConfig(protocol.ServoMaxChannel, m.cfg.ServoMax))
	case SetupComplete:
		m.enter(SendHome, now)
	case SendHome:
		return frames > m.cfg.StartFrames, nil
	}
	return false, nil
}

func (m *Machine) waitingForBoard() bool {
	switch m.state {
	case EstablishingConnection, LimitSwitchSetup, PenServoSetup:
		return true
	}
	return false
}

// exchange is the shape shared by the three query states: if a reply is
// waiting, read it, advance to next when it matches, and flush; otherwise
// send the queries and flush.
func (m *Machine) exchange(now time.Duration, match func([]byte) bool, next State, onMatch func() error, cmds ...string) error {
	n, err := m.link.Available()
	if err != nil {
		return err
	}
	if n > 0 {
		resp, err := m.link.ReadAvailable()
		if err != nil {
			return err
		}
		if match(resp) {
			if onMatch != nil {
				if err := onMatch(); err != nil {
					return err
				}
			}
			m.enter(next, now)
		} else {
			m.log.Debug("%s: unexpected reply %q", m.state, resp)
			if m.metrics != nil {
				m.metrics.AckMismatches.Inc(metrics.Labels{"state": m.state.String()})
			}
		}
		return m.link.Flush()
	}

	for _, cmd := range cmds {
		if err := m.link.Send(cmd); err != nil {
			return err
		}
	}
	return m.link.Flush()
}
