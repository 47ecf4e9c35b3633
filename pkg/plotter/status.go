package plotter

import (
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/geometry"
)

// Status is a point-in-time view of the controller.
type Status struct {
	Mode          string            `json:"mode"`
	SetupState    string            `json:"setup_state"`
	HomingAxis    string            `json:"homing_axis,omitempty"`
	HomingPhase   string            `json:"homing_phase,omitempty"`
	Pen           geometry.Position `json:"pen"`
	PenMM         [2]float64        `json:"pen_mm"`
	Paused        bool              `json:"paused"`
	Calibrating   bool              `json:"calibrating,omitempty"`
	StepMode      string            `json:"step_mode"`
	QueueDepth    int               `json:"queue_depth"`
	QueueCapacity int               `json:"queue_capacity"`
	PendingMillis int               `json:"pending_ms"`
	PacketsSent   uint64            `json:"packets_sent"`
	Frames        int               `json:"frames"`
	ErrorCode     string            `json:"error_code,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	x, y := c.ratio.ToMm(c.pen)
	s := Status{
		Mode:          c.mode.String(),
		SetupState:    c.setup.State().String(),
		Pen:           c.pen,
		PenMM:         [2]float64{x, y},
		Paused:        c.paused,
		Calibrating:   c.calibrating,
		StepMode:      c.encoder.Mode.String(),
		QueueDepth:    c.queue.Len(),
		QueueCapacity: c.queue.Cap(),
		PendingMillis: c.queue.Pending(),
		PacketsSent:   c.pacer.Sent(),
		Frames:        c.frames,
	}
	if c.mode == ModeHoming {
		s.HomingAxis = c.homer.Axis().String()
		s.HomingPhase = c.homer.Phase().String()
	}
	if c.err != nil {
		s.ErrorCode = string(errors.CodeOf(c.err))
		s.Error = c.err.Error()
	}
	return s
}

// Ready reports whether the controller has homed and is accepting work.
func (c *Controller) Ready() bool {
	return c.Mode() == ModeNormal
}
