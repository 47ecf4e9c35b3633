// Package homing drives both carriages onto their limit switches.
//
// The board cannot home by itself, so the host alternates between the
// axes: it asks for a limit switch level, and while the switch is open it
// sends a short move toward the origin and waits for the board to accept
// it. Once both switches read tripped the carriage is at (0,0).
package homing

import (
	"time"

	"plotbot-go/pkg/boardlink"
	"plotbot-go/pkg/config"
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/log"
	"plotbot-go/pkg/metrics"
	"plotbot-go/pkg/protocol"
)

// Axis selects a carriage.
type Axis int

const (
	X Axis = iota
	Y
)

func (a Axis) String() string {
	if a == X {
		return "x"
	}
	return "y"
}

func (a Axis) other() Axis {
	return 1 - a
}

// Phase is the step of the per-axis exchange.
type Phase int

const (
	RequestLimitState Phase = iota
	CheckLimitResponse
	MoveMotor
	CheckMotorResponse
)

var phaseNames = [...]string{
	"request_limit_state",
	"check_limit_response",
	"move_motor",
	"check_motor_response",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// Config holds the homing parameters.
type Config struct {
	XPin            config.Pin
	YPin            config.Pin
	StepMillis      int           // duration of one corrective move
	StepCount       int           // microsteps per corrective move
	MaxCorrections  int           // per axis, 0 = unlimited
	ResponseTimeout time.Duration // 0 = wait forever
}

// ConfigFrom extracts the homing parameters from the plotter config.
func ConfigFrom(pc *config.PlotterConfig) Config {
	return Config{
		XPin:            pc.Limits.XPin,
		YPin:            pc.Limits.YPin,
		StepMillis:      pc.Homing.StepMillis,
		StepCount:       pc.Homing.StepCount,
		MaxCorrections:  pc.Homing.MaxCorrections,
		ResponseTimeout: pc.Homing.ResponseTimeout,
	}
}

// Homer runs one homing cycle at a time. It is driven by Step from the
// controller tick and is not safe for concurrent use.
type Homer struct {
	link    boardlink.Link
	cfg     Config
	log     *log.Logger
	metrics *metrics.PlotterMetrics

	axis        Axis
	phase       Phase
	home        [2]bool
	corrections [2]int
	sentAt      time.Duration
	startedAt   time.Duration
}

// New returns an idle Homer. m may be nil.
func New(link boardlink.Link, cfg Config, m *metrics.PlotterMetrics) *Homer {
	return &Homer{
		link:    link,
		cfg:     cfg,
		log:     log.GetLogger("homing"),
		metrics: m,
	}
}

// Start begins a new cycle with the Y axis, clearing the home flags.
func (h *Homer) Start(now time.Duration) {
	h.axis = Y
	h.phase = RequestLimitState
	h.home = [2]bool{}
	h.corrections = [2]int{}
	h.startedAt = now
	h.sentAt = now
	if h.metrics != nil {
		h.metrics.HomingRuns.Inc(nil)
	}
	h.log.Info("homing started")
}

// Axis returns the axis being worked on.
func (h *Homer) Axis() Axis { return h.axis }

// Phase returns the current phase.
func (h *Homer) Phase() Phase { return h.phase }

// IsHome reports whether a's limit switch has been seen tripped.
func (h *Homer) IsHome(a Axis) bool { return h.home[a] }

// Corrections returns the corrective moves sent on a in this cycle.
func (h *Homer) Corrections(a Axis) int { return h.corrections[a] }

func (h *Homer) pin(a Axis) config.Pin {
	if a == X {
		return h.cfg.XPin
	}
	return h.cfg.YPin
}

// Step runs one tick and reports true once both axes are home. Link
// errors are returned with the phase unchanged so the step is retried.
func (h *Homer) Step(now time.Duration) (bool, error) {
	if h.home[X] && h.home[Y] {
		elapsed := now - h.startedAt
		h.log.WithFields(log.Fields{
			"x_corrections": h.corrections[X],
			"y_corrections": h.corrections[Y],
			"elapsed":       elapsed.String(),
		}).Info("homing complete")
		if h.metrics != nil {
			h.metrics.HomingTime.ObserveDuration(nil, elapsed)
		}
		return true, nil
	}

	if err := h.readResponse(now); err != nil {
		return false, err
	}
	if h.home[h.axis] {
		return false, nil
	}

	switch h.phase {
	case RequestLimitState:
		p := h.pin(h.axis)
		if err := h.link.Send(protocol.PinRead(p.Port, p.Number)); err != nil {
			return false, err
		}
		h.sentAt = now
		h.phase = CheckLimitResponse
	case MoveMotor:
		if h.cfg.MaxCorrections > 0 && h.corrections[h.axis] >= h.cfg.MaxCorrections {
			if h.metrics != nil {
				h.metrics.SetupFailures.Inc(metrics.Labels{"code": string(errors.ErrHomingStall)})
			}
			return false, errors.HomingStallError(h.axis.String(), h.corrections[h.axis])
		}
		if err := h.link.Send(h.move(h.axis)); err != nil {
			return false, err
		}
		h.corrections[h.axis]++
		if h.metrics != nil {
			h.metrics.HomingCorrections.Inc(metrics.Labels{"axis": h.axis.String()})
		}
		h.sentAt = now
		h.phase = CheckMotorResponse
	}
	return false, nil
}

func (h *Homer) move(a Axis) string {
	if a == X {
		return protocol.StepperMove(h.cfg.StepMillis, -h.cfg.StepCount, 0)
	}
	return protocol.StepperMove(h.cfg.StepMillis, 0, -h.cfg.StepCount)
}

// readResponse consumes whatever the board sent since the last step.
// Replies outside the two check phases are discarded.
func (h *Homer) readResponse(now time.Duration) error {
	n, err := h.link.Available()
	if err != nil {
		return err
	}
	if n == 0 {
		if h.waiting() && h.cfg.ResponseTimeout > 0 && now-h.sentAt > h.cfg.ResponseTimeout {
			h.log.Warn("no reply to %s on %s after %s, re-reading limit switch", h.phase, h.axis, now-h.sentAt)
			h.phase = RequestLimitState
		}
		return nil
	}

	resp, err := h.link.ReadAvailable()
	if err != nil {
		return err
	}
	switch h.phase {
	case CheckLimitResponse:
		h.checkLimit(resp)
	case CheckMotorResponse:
		if protocol.IsMotorAck(resp) {
			if !h.home[h.axis.other()] {
				h.axis = h.axis.other()
			}
			h.phase = RequestLimitState
		} else {
			h.mismatch(resp)
		}
	}
	return h.link.Flush()
}

func (h *Homer) waiting() bool {
	return h.phase == CheckLimitResponse || h.phase == CheckMotorResponse
}

func (h *Homer) checkLimit(resp []byte) {
	level := protocol.ParsePinReply(resp)
	if level == protocol.PinUnknown {
		h.mismatch(resp)
		h.phase = RequestLimitState
		return
	}
	tripped := protocol.PinLow
	if h.pin(h.axis).Invert {
		tripped = protocol.PinHigh
	}
	if level != tripped {
		h.phase = MoveMotor
		return
	}
	h.log.Debug("%s axis home after %d corrections", h.axis, h.corrections[h.axis])
	h.home[h.axis] = true
	h.axis = h.axis.other()
	h.phase = RequestLimitState
}

func (h *Homer) mismatch(resp []byte) {
	h.log.Debug("%s: unexpected reply %q", h.phase, resp)
	if h.metrics != nil {
		h.metrics.AckMismatches.Inc(metrics.Labels{"state": "homing_" + h.phase.String()})
	}
}
