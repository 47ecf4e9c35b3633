package protocol

import (
	"math"

	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/geometry"
)

// MoveCommand is one queued packet: command text and the time the board
// needs to execute it.
type MoveCommand struct {
	DurationMillis int    `json:"duration_ms"`
	Text           string `json:"text"`
}

// Packet pairs a command with its expected duration.
func Packet(durationMillis int, text string) MoveCommand {
	return MoveCommand{DurationMillis: durationMillis, Text: text}
}

// Move is an encoded stepper move.
type Move struct {
	DurationMillis int
	StepsX         int
	StepsY         int
}

// Text formats the move as an SM command.
func (m Move) Text() string {
	return StepperMove(m.DurationMillis, m.StepsX, m.StepsY)
}

// Command returns the move as a queue packet.
func (m Move) Command() MoveCommand {
	return MoveCommand{DurationMillis: m.DurationMillis, Text: m.Text()}
}

// FullStepDistance is the belt travel of one full motor step for a pulley
// of the given diameter.
func FullStepDistance(pulleyDiameterMM float64, stepsPerRev int) float64 {
	return math.Pi * pulleyDiameterMM / float64(stepsPerRev)
}

// Encoder turns pixel-space moves into SM commands.
type Encoder struct {
	Ratio    geometry.Ratio
	Velocity float64 // mm/s
	FullStep float64 // mm per full step
	Mode     StepMode
}

// NewEncoder validates the parameters that are used as divisors.
func NewEncoder(ratio geometry.Ratio, velocity, fullStep float64, mode StepMode) (Encoder, error) {
	switch {
	case !ratio.Valid():
		return Encoder{}, errors.ConfigValidationError("stage", "ratio", "canvas/stage ratio is not set")
	case !(velocity > 0):
		return Encoder{}, errors.ConfigValidationError("motion", "velocity", "must be above 0")
	case !(fullStep > 0):
		return Encoder{}, errors.ConfigValidationError("motion", "pulley_diameter", "full step distance must be above 0")
	case !mode.Valid():
		return Encoder{}, errors.ConfigValidationError("motion", "step_mode", "unsupported step mode "+mode.String())
	}
	return Encoder{Ratio: ratio, Velocity: velocity, FullStep: fullStep, Mode: mode}, nil
}

// WithMode returns a copy of e using a different step mode.
func (e Encoder) WithMode(mode StepMode) Encoder {
	e.Mode = mode
	return e
}

// Encode computes the move from start to end.
//
// The path length is truncated to whole millimeters before the duration is
// derived from it, and an axis that does not move gets direction -1. Both
// behaviours are relied on by existing drawings and must not change.
func (e Encoder) Encode(start, end geometry.Position) Move {
	dirX, dirY := -1.0, -1.0
	if start.X < end.X {
		dirX = 1
	}
	if start.Y < end.Y {
		dirY = 1
	}

	mmX := e.Ratio.PixelsToMmX(float64(absInt(end.X - start.X)))
	mmY := e.Ratio.PixelsToMmY(float64(absInt(end.Y - start.Y)))

	distance := math.Trunc(math.Sqrt(mmX*mmX + mmY*mmY))
	micro := float64(e.Mode.Multiplier())

	return Move{
		DurationMillis: int(distance / e.Velocity * 1000),
		StepsX:         int(mmX / e.FullStep * micro * dirX),
		StepsY:         int(mmY / e.FullStep * micro * dirY),
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
