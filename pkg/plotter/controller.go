// Package plotter ties the board link, setup, homing, the packet queue and
// the pacer into one controller driven by a periodic tick.
package plotter

import (
	"fmt"
	"sync"
	"time"

	"plotbot-go/pkg/boardlink"
	"plotbot-go/pkg/config"
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/feature"
	"plotbot-go/pkg/geometry"
	"plotbot-go/pkg/homing"
	"plotbot-go/pkg/log"
	"plotbot-go/pkg/metrics"
	"plotbot-go/pkg/pacer"
	"plotbot-go/pkg/protocol"
	"plotbot-go/pkg/queue"
	"plotbot-go/pkg/setup"
)

// Mode is the controller's operating mode.
type Mode int

const (
	ModeSetup Mode = iota
	ModeHoming
	ModeNormal
	ModeFaulted
)

var modeNames = []string{"setup", "homing", "normal", "faulted"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// Direction is a jog direction in canvas orientation; up is toward y=0.
type Direction string

const (
	Up        Direction = "up"
	Down      Direction = "down"
	Left      Direction = "left"
	Right     Direction = "right"
	UpLeft    Direction = "up_left"
	UpRight   Direction = "up_right"
	DownLeft  Direction = "down_left"
	DownRight Direction = "down_right"
)

var jogVectors = map[Direction]geometry.Position{
	Up:        {X: 0, Y: -1},
	Down:      {X: 0, Y: 1},
	Left:      {X: -1, Y: 0},
	Right:     {X: 1, Y: 0},
	UpLeft:    {X: -1, Y: -1},
	UpRight:   {X: 1, Y: -1},
	DownLeft:  {X: -1, Y: 1},
	DownRight: {X: 1, Y: 1},
}

// Controller is safe for concurrent use: Tick runs on the reactor while
// the API and the job loader enqueue from their own goroutines.
type Controller struct {
	mu sync.Mutex

	cfg     *config.PlotterConfig
	link    boardlink.Link
	log     *log.Logger
	metrics *metrics.PlotterMetrics

	ratio   geometry.Ratio
	encoder protocol.Encoder
	queue   *queue.Queue
	pacer   *pacer.Pacer
	setup   *setup.Machine
	homer   *homing.Homer

	mode   Mode
	pen    geometry.Position
	canvas Canvas
	paused bool
	// calibrating is set while the board has not yet acknowledged the
	// calibration servo minimum.
	calibrating bool
	calSent     time.Duration
	frames      int
	now         time.Duration
	err         error
	lastErr     string
}

// NewEncoder builds the move encoder for the configured stage and motors.
func NewEncoder(cfg *config.PlotterConfig) (protocol.Encoder, error) {
	ratio, err := geometry.NewRatio(cfg.Stage.CanvasWidth, cfg.Stage.StageWidth, cfg.Stage.CanvasHeight, cfg.Stage.StageHeight)
	if err != nil {
		return protocol.Encoder{}, err
	}
	mode, err := protocol.ParseStepMode(cfg.Motion.StepMode)
	if err != nil {
		return protocol.Encoder{}, errors.Wrap(err, errors.ErrConfigValidation, "invalid step mode").SetSection("motion").SetOption("step_mode")
	}
	return protocol.NewEncoder(ratio, cfg.Motion.Velocity,
		protocol.FullStepDistance(cfg.Motion.PulleyDiameter, cfg.Motion.StepsPerRev), mode)
}

// New builds a controller in setup mode. m may be nil.
func New(cfg *config.PlotterConfig, link boardlink.Link, m *metrics.PlotterMetrics) (*Controller, error) {
	enc, err := NewEncoder(cfg)
	if err != nil {
		return nil, err
	}
	ratio, mode := enc.Ratio, enc.Mode

	q := queue.New(cfg.Pacer.QueueSize)
	c := &Controller{
		cfg:     cfg,
		link:    link,
		log:     log.GetLogger("plotter"),
		metrics: m,
		ratio:   ratio,
		encoder: enc,
		queue:   q,
		pacer:   pacer.New(q, link, cfg.Pacer.Margin, m),
		setup:   setup.New(link, setup.ConfigFrom(cfg), m),
		homer:   homing.New(link, homing.ConfigFrom(cfg), m),
		canvas:  CanvasFrom(cfg),
	}
	c.report(0)
	c.log.WithFields(log.Fields{
		"link":      boardlink.Describe(link),
		"ratio":     fmt.Sprintf("%.3fx%.3f px/mm", ratio.X, ratio.Y),
		"step_mode": mode.String(),
	}).Info("controller ready")
	return c, nil
}

// Tick advances the controller to now, the time since start. It must be
// called periodically with a non-decreasing now. The returned error is
// non-nil only on the tick that faults the controller.
func (c *Controller) Tick(now time.Duration) error {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
	c.frames++
	var fault error

	switch c.mode {
	case ModeSetup:
		home, err := c.setup.Step(now, c.frames)
		switch {
		case err != nil && c.setup.State() == setup.Faulted:
			fault = c.fault(err)
		case err != nil:
			c.transient("setup", err)
		case home:
			c.startHoming(now)
		}
	case ModeHoming:
		done, err := c.homer.Step(now)
		switch {
		case errors.Is(err, errors.ErrHomingStall):
			fault = c.fault(err)
		case err != nil:
			c.transient("homing", err)
		case done:
			c.mode = ModeNormal
			c.pen = geometry.Origin
			c.pacer.Reset(now)
			c.log.Info("homed, pen at origin")
		}
	case ModeNormal:
		if c.calibrating {
			c.pacer.Advance(now)
			c.stepCalibration(now)
			break
		}
		c.drainInput()
		if c.paused {
			c.pacer.Advance(now)
			break
		}
		if _, err := c.pacer.Tick(now); err != nil {
			c.transient("pacer", err)
		} else {
			c.lastErr = ""
		}
	}

	c.report(time.Since(start))
	return fault
}

// drainInput discards the board's replies to paced commands.
func (c *Controller) drainInput() {
	n, err := c.link.Available()
	if err != nil || n == 0 {
		return
	}
	if _, err := c.link.ReadAvailable(); err != nil {
		c.transient("read", err)
	}
}

// stepCalibration waits for the single OK the board sends for the
// calibration SC,4, then raises the pen onto the new minimum. Any other
// reply, or none within the homing response timeout, re-sends SC,4.
func (c *Controller) stepCalibration(now time.Duration) {
	resp, err := c.link.ReadAvailable()
	if err != nil {
		c.transient("calibrate_pen", err)
		return
	}
	timeout := c.cfg.Homing.ResponseTimeout
	switch {
	case protocol.IsSingleAck(resp):
		if err := c.link.Send(protocol.PenUp); err != nil {
			c.transient("calibrate_pen", err)
			c.calSent = now
			return
		}
		c.calibrating = false
		c.log.WithField("servo_min", c.cfg.Servo.ConfigMin).Infof("pen raised to calibration height after %v", now-c.calSent)
	case len(resp) > 0 || (timeout > 0 && now-c.calSent > timeout):
		c.log.WithField("reply", fmt.Sprintf("%q", resp)).Debug("calibration not acknowledged, resending")
		if err := c.sendCalibration(now); err != nil {
			c.transient("calibrate_pen", err)
		}
	}
}

func (c *Controller) sendCalibration(now time.Duration) error {
	c.calSent = now
	return c.link.Send(protocol.ServoConfig(protocol.ServoMinChannel, c.cfg.Servo.ConfigMin))
}

func (c *Controller) startHoming(now time.Duration) {
	c.mode = ModeHoming
	c.homer.Start(now)
}

func (c *Controller) fault(err error) error {
	prev := c.mode
	c.mode = ModeFaulted
	c.err = err
	c.log.WithError(err).WithField("code", string(errors.CodeOf(err))).Errorf("controller faulted during %s", prev)
	return err
}

// transient logs a recoverable error once until a different one occurs.
func (c *Controller) transient(op string, err error) {
	msg := err.Error()
	if msg == c.lastErr {
		return
	}
	c.lastErr = msg
	c.log.WithError(err).WithField("op", op).Warnf("%s failed, retrying", op)
}

func (c *Controller) report(tick time.Duration) {
	if c.metrics == nil {
		return
	}
	metrics.SetOneHot(c.metrics.Mode, "mode", c.mode.String(), modeNames)
	c.metrics.SetQueue(c.queue.Len(), c.queue.Cap(), c.queue.Pending())
	c.metrics.SetPenPosition(c.pen.X, c.pen.Y)
	if tick > 0 {
		c.metrics.TickDuration.ObserveDuration(nil, tick)
	}
}

// CurrentPenPosition returns where the pen will be once every queued
// packet has run.
func (c *Controller) CurrentPenPosition() geometry.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pen
}

// Mode returns the operating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Err returns the error that faulted the controller.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// EnqueueFeature translates f and queues its packets. Either every packet
// is queued and the pen position advanced, or nothing changes and a
// QUEUE_FULL or INVALID_FEATURE error is returned.
func (c *Controller) EnqueueFeature(f feature.Feature) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(f)
}

func (c *Controller) enqueueLocked(f feature.Feature) error {
	kind := "unknown"
	if f != nil {
		kind = string(f.Kind())
	}
	if c.mode == ModeFaulted {
		return c.reject(kind, errors.BusyError("enqueue", c.mode.String()))
	}
	packets, pen, err := Translate(c.encoder, c.canvas, c.pen, f)
	if err != nil {
		return c.reject(kind, err)
	}
	if err := c.queue.PushAll(packets); err != nil {
		return c.reject(kind, err)
	}
	c.pen = pen
	if c.metrics != nil {
		c.metrics.FeaturesEnqueued.Inc(metrics.Labels{"kind": kind})
	}
	c.log.WithFields(log.Fields{"kind": kind, "packets": len(packets), "pen": pen.String()}).Debug("feature queued")
	return nil
}

func (c *Controller) reject(kind string, err error) error {
	if c.metrics != nil {
		c.metrics.FeaturesRejected.Inc(metrics.Labels{"code": string(errors.CodeOf(err))})
	}
	c.log.WithError(err).WithField("kind", kind).Warn("feature rejected")
	return err
}

// EnqueueJob queues the job's features in order and stops at the first
// one that is rejected. It returns how many were queued.
func (c *Controller) EnqueueJob(job *feature.Job) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range job.Features {
		if err := c.enqueueLocked(f); err != nil {
			if he, ok := err.(*errors.HostError); ok {
				he.SetContext("index", i)
			}
			return i, err
		}
	}
	c.log.WithField("features", len(job.Features)).Infof("job %q queued", job.Name)
	return len(job.Features), nil
}

// Pause stops releasing packets after the current one.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.log.Info("paused")
	}
}

// Resume continues releasing packets.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		c.log.Info("resumed")
	}
}

// Paused reports whether the pacer is held.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// RequestHome re-homes the carriage. Queued packets are dropped since
// they were planned from the old pen position, and the pen is taken to be
// at the origin for anything queued while homing runs. During setup it is
// a no-op because homing follows setup anyway.
func (c *Controller) RequestHome() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case ModeSetup:
		return nil
	case ModeHoming:
		return errors.BusyError("home", c.mode.String())
	case ModeFaulted:
		if c.setup.State() != setup.SendHome {
			return errors.BusyError("home", c.mode.String())
		}
		c.err = nil
	}
	if dropped := c.queue.Clear(); dropped > 0 {
		c.log.Warn("dropped %d queued packets for homing", dropped)
	}
	c.pen = geometry.Origin
	c.calibrating = false
	c.startHoming(c.now)
	return nil
}

// idleLocked refuses direct board commands unless the controller is in
// normal mode with nothing queued.
func (c *Controller) idleLocked(op string) error {
	if c.mode != ModeNormal {
		return errors.BusyError(op, c.mode.String())
	}
	if c.calibrating {
		return errors.BusyError(op, "calibrating")
	}
	if c.queue.Len() > 0 || c.pacer.Busy() {
		return errors.BusyError(op, "drawing")
	}
	return nil
}

// Jog moves the raised pen by the configured jog distance, bypassing the
// queue.
func (c *Controller) Jog(dir Direction) error {
	v, ok := jogVectors[dir]
	if !ok {
		return errors.New(errors.ErrInvalidFeature, fmt.Sprintf("unknown jog direction %q", dir))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked("jog"); err != nil {
		return err
	}
	d := c.cfg.Motion.JogDistance
	target := c.pen.Add(geometry.Pos(v.X*d, v.Y*d))
	if err := c.link.Send(c.encoder.Encode(c.pen, target).Text()); err != nil {
		return err
	}
	c.log.Debug("jog %s: %s -> %s", dir, c.pen, target)
	c.pen = target
	return nil
}

// PenUp raises the pen immediately.
func (c *Controller) PenUp() error {
	return c.direct("pen_up", protocol.PenUp)
}

// PenDown lowers the pen immediately.
func (c *Controller) PenDown() error {
	return c.direct("pen_down", protocol.PenDown)
}

// CalibratePen lowers the pen-up servo limit to the calibration height so
// a pen can be loaded resting on the paper. The pen is raised onto it once
// the board acknowledges the new limit; until then the controller is busy.
func (c *Controller) CalibratePen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked("calibrate_pen"); err != nil {
		return err
	}
	// earlier replies would hide the acknowledgement
	if _, err := c.link.ReadAvailable(); err != nil {
		return err
	}
	if err := c.sendCalibration(c.now); err != nil {
		return err
	}
	c.calibrating = true
	return nil
}

// ResetServo restores the configured servo range after calibration.
func (c *Controller) ResetServo() error {
	return c.direct("reset_servo",
		protocol.ServoConfig(protocol.ServoMinChannel, c.cfg.Servo.Min),
		protocol.ServoConfig(protocol.ServoMaxChannel, c.cfg.Servo.Max))
}

func (c *Controller) direct(op string, cmds ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked(op); err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := c.link.Send(cmd); err != nil {
			return err
		}
	}
	return nil
}

// StepMode returns the microstepping mode used for new moves.
func (c *Controller) StepMode() protocol.StepMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Mode
}

// SetStepMode switches the drivers to mode and encodes later moves with
// it. Refused while anything is queued.
func (c *Controller) SetStepMode(mode protocol.StepMode) error {
	if !mode.Valid() {
		return errors.New(errors.ErrInvalidFeature, "unsupported step mode "+mode.String())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked("step_mode"); err != nil {
		return err
	}
	if err := c.link.Send(protocol.EnableMotors(mode)); err != nil {
		return err
	}
	c.encoder = c.encoder.WithMode(mode)
	c.log.Info("step mode set to %s", mode)
	return nil
}
