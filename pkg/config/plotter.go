package config

import (
	stderrors "errors"
	"time"
)

// BoardConfig describes how to reach the controller board.
type BoardConfig struct {
	Port           string   // device path, "tcp:host:port", "unix:path" or "auto"
	BaudRate       int      // 9600 for the EBB CDC interface
	PortHints      []string // device name fragments tried when Port is "auto"
	VID            string   // USB vendor ID used for auto-detection, hex
	PID            string   // USB product ID used for auto-detection, hex
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// StageConfig maps the drawing canvas onto the physical stage.
type StageConfig struct {
	CanvasWidth  float64 // px
	CanvasHeight float64 // px
	StageWidth   float64 // mm
	StageHeight  float64 // mm
}

// MotionConfig holds the parameters of the move encoder.
type MotionConfig struct {
	Velocity       float64 // mm/s
	PulleyDiameter float64 // mm
	StepsPerRev    int     // full steps per motor revolution
	StepMode       string  // sixteenth, eighth, quarter, half, full
	JogDistance    int     // px
}

// ServoConfig holds pen-lift servo positions sent with SC,4 / SC,5.
type ServoConfig struct {
	Min       int // pen up position
	Max       int // pen down position
	ConfigMin int // raised position used while loading a pen
}

// LimitsConfig names the limit switch inputs.
type LimitsConfig struct {
	XPin Pin
	YPin Pin
}

// HomingConfig controls the homing sub-machine.
type HomingConfig struct {
	StepMillis      int           // duration of one corrective move
	StepCount       int           // microsteps per corrective move
	MaxCorrections  int           // corrective moves per axis before a stall is reported, 0 = unlimited
	ResponseTimeout time.Duration // wait for a reply before re-issuing the request, 0 = forever
	StartFrames     int           // ticks to wait before homing begins
}

// PacerConfig controls transmission pacing.
type PacerConfig struct {
	Margin    time.Duration // lead time before the previous move ends
	QueueSize int           // maximum queued packets
	FrameRate float64       // ticks per second
}

// SetupConfig controls the board setup sequence.
type SetupConfig struct {
	StartDelay   time.Duration // wait before the first connection query
	StateTimeout time.Duration // per state deadline, 0 = retry forever
}

// PlotterConfig is the complete typed configuration.
type PlotterConfig struct {
	Board   BoardConfig
	Stage   StageConfig
	Motion  MotionConfig
	Servo   ServoConfig
	Limits  LimitsConfig
	Homing  HomingConfig
	Pacer   PacerConfig
	Setup   SetupConfig
	API     string // websocket API listen address, empty disables
	Metrics string // metrics listen address, empty disables
}

// Sections lists the section names ParsePlotterConfig understands.
var Sections = []string{"board", "stage", "motion", "servo", "limits", "homing", "pacer", "setup", "api", "metrics"}

// StepModes lists the accepted step_mode values.
var StepModes = []string{"sixteenth", "eighth", "quarter", "half", "full"}

// DefaultPlotterConfig returns the settings for the reference 385x300mm
// stage with a 1155x900 canvas.
func DefaultPlotterConfig() *PlotterConfig {
	return &PlotterConfig{
		Board: BoardConfig{
			Port:           "auto",
			BaudRate:       9600,
			PortHints:      []string{"cu.usbmodem1411", "cu.usbmodem1451", "ttyACM"},
			VID:            "04D8",
			PID:            "FD92",
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    time.Second,
		},
		Stage: StageConfig{
			CanvasWidth:  1155,
			CanvasHeight: 900,
			StageWidth:   385,
			StageHeight:  300,
		},
		Motion: MotionConfig{
			Velocity:       40,
			PulleyDiameter: 16.1798,
			StepsPerRev:    200,
			StepMode:       "sixteenth",
			JogDistance:    60,
		},
		Servo: ServoConfig{
			Min:       14800,
			Max:       23000,
			ConfigMin: 15000,
		},
		Limits: LimitsConfig{
			XPin: Pin{Port: "A", Number: 2},
			YPin: Pin{Port: "A", Number: 1},
		},
		Homing: HomingConfig{
			StepMillis:      50,
			StepCount:       100,
			MaxCorrections:  400,
			ResponseTimeout: 2 * time.Second,
			StartFrames:     240,
		},
		Pacer: PacerConfig{
			Margin:    500 * time.Millisecond,
			QueueSize: 4096,
			FrameRate: 60,
		},
		Setup: SetupConfig{
			StartDelay:   time.Second,
			StateTimeout: 10 * time.Second,
		},
		API:     ":7125",
		Metrics: "",
	}
}

// LoadPlotterConfig reads path, or returns defaults when path is empty.
func LoadPlotterConfig(path string) (*PlotterConfig, error) {
	if path == "" {
		return DefaultPlotterConfig(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return ParsePlotterConfig(cfg)
}

// ParsePlotterConfig extracts the typed configuration, applying defaults
// for absent options and rejecting unknown sections or options.
func ParsePlotterConfig(cfg *Config) (*PlotterConfig, error) {
	pc := DefaultPlotterConfig()
	p := &parser{}

	zero, one := 0.0, 1.0
	minInt := func(v int) *int { return &v }

	board := cfg.Section("board")
	pc.Board.Port = p.str(board.Get("port", pc.Board.Port))
	pc.Board.BaudRate = p.int(board.GetIntWithBounds("baud", minInt(300), nil, pc.Board.BaudRate))
	pc.Board.PortHints = p.list(board.GetList("port_hints", ",", pc.Board.PortHints))
	pc.Board.VID = p.str(board.Get("vid", pc.Board.VID))
	pc.Board.PID = p.str(board.Get("pid", pc.Board.PID))
	pc.Board.ConnectTimeout = p.dur(board.GetDuration("connect_timeout", pc.Board.ConnectTimeout))
	pc.Board.ReadTimeout = p.dur(board.GetDuration("read_timeout", pc.Board.ReadTimeout))

	stage := cfg.Section("stage")
	above := FloatBounds{Above: &zero}
	pc.Stage.CanvasWidth = p.float(stage.GetFloatWithBounds("canvas_width", above, pc.Stage.CanvasWidth))
	pc.Stage.CanvasHeight = p.float(stage.GetFloatWithBounds("canvas_height", above, pc.Stage.CanvasHeight))
	pc.Stage.StageWidth = p.float(stage.GetFloatWithBounds("stage_width", above, pc.Stage.StageWidth))
	pc.Stage.StageHeight = p.float(stage.GetFloatWithBounds("stage_height", above, pc.Stage.StageHeight))

	motion := cfg.Section("motion")
	pc.Motion.Velocity = p.float(motion.GetFloatWithBounds("velocity", above, pc.Motion.Velocity))
	pc.Motion.PulleyDiameter = p.float(motion.GetFloatWithBounds("pulley_diameter", above, pc.Motion.PulleyDiameter))
	pc.Motion.StepsPerRev = p.int(motion.GetIntWithBounds("steps_per_rev", minInt(1), nil, pc.Motion.StepsPerRev))
	pc.Motion.StepMode = p.str(motion.GetChoice("step_mode", StepModes, pc.Motion.StepMode))
	pc.Motion.JogDistance = p.int(motion.GetIntWithBounds("jog_distance", minInt(1), nil, pc.Motion.JogDistance))

	servo := cfg.Section("servo")
	pc.Servo.Min = p.int(servo.GetIntWithBounds("min", minInt(1), minInt(65535), pc.Servo.Min))
	pc.Servo.Max = p.int(servo.GetIntWithBounds("max", minInt(1), minInt(65535), pc.Servo.Max))
	pc.Servo.ConfigMin = p.int(servo.GetIntWithBounds("config_min", minInt(1), minInt(65535), pc.Servo.ConfigMin))

	limits := cfg.Section("limits")
	pc.Limits.XPin = p.pin(limits.GetPin("x_pin", pc.Limits.XPin))
	pc.Limits.YPin = p.pin(limits.GetPin("y_pin", pc.Limits.YPin))

	homing := cfg.Section("homing")
	pc.Homing.StepMillis = p.int(homing.GetIntWithBounds("step_millis", minInt(1), nil, pc.Homing.StepMillis))
	pc.Homing.StepCount = p.int(homing.GetIntWithBounds("step_count", minInt(1), nil, pc.Homing.StepCount))
	pc.Homing.MaxCorrections = p.int(homing.GetIntWithBounds("max_corrections", minInt(0), nil, pc.Homing.MaxCorrections))
	pc.Homing.ResponseTimeout = p.dur(homing.GetDuration("response_timeout", pc.Homing.ResponseTimeout))
	pc.Homing.StartFrames = p.int(homing.GetIntWithBounds("start_frames", minInt(0), nil, pc.Homing.StartFrames))

	pacer := cfg.Section("pacer")
	margin := p.int(pacer.GetIntWithBounds("margin_ms", minInt(0), nil, int(pc.Pacer.Margin/time.Millisecond)))
	pc.Pacer.Margin = time.Duration(margin) * time.Millisecond
	pc.Pacer.QueueSize = p.int(pacer.GetIntWithBounds("queue_size", minInt(1), nil, pc.Pacer.QueueSize))
	pc.Pacer.FrameRate = p.float(pacer.GetFloatWithBounds("frame_rate", FloatBounds{MinVal: &one}, pc.Pacer.FrameRate))

	setup := cfg.Section("setup")
	pc.Setup.StartDelay = p.dur(setup.GetDuration("start_delay", pc.Setup.StartDelay))
	pc.Setup.StateTimeout = p.dur(setup.GetDuration("state_timeout", pc.Setup.StateTimeout))

	pc.API = p.str(cfg.Section("api").Get("address", pc.API))
	pc.Metrics = p.str(cfg.Section("metrics").Get("address", pc.Metrics))

	if p.err != nil {
		return nil, asHostError(p.err)
	}
	if pc.Limits.XPin == pc.Limits.YPin {
		return nil, NewConfigError("limits", "y_pin", "must differ from x_pin").HostError()
	}
	if err := cfg.CheckUnused(Sections); err != nil {
		return nil, asHostError(err)
	}
	return pc, nil
}

func asHostError(err error) error {
	var ce *ConfigError
	if stderrors.As(err, &ce) {
		return ce.HostError()
	}
	return err
}

// parser keeps the first error so the getters above read as a flat list.
type parser struct {
	err error
}

func (p *parser) keep(err error) bool {
	if err != nil && p.err == nil {
		p.err = err
	}
	return err == nil
}

func (p *parser) str(v string, err error) string {
	p.keep(err)
	return v
}

func (p *parser) int(v int, err error) int {
	p.keep(err)
	return v
}

func (p *parser) float(v float64, err error) float64 {
	p.keep(err)
	return v
}

func (p *parser) dur(v time.Duration, err error) time.Duration {
	p.keep(err)
	return v
}

func (p *parser) list(v []string, err error) []string {
	p.keep(err)
	return v
}

func (p *parser) pin(v Pin, err error) Pin {
	p.keep(err)
	return v
}
