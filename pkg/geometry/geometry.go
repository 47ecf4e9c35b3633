// Package geometry converts between canvas pixels and stage millimeters.
package geometry

import (
	"fmt"
	"math"

	"plotbot-go/pkg/errors"
)

// Position is a point on the drawing canvas in whole pixels.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Origin is the homed pen position.
var Origin = Position{}

// Pos is shorthand for Position{x, y}.
func Pos(x, y int) Position {
	return Position{X: x, Y: y}
}

// Add returns p shifted by d.
func (p Position) Add(d Position) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y}
}

// Distance is the Euclidean distance to q in pixels.
func (p Position) Distance(q Position) float64 {
	return math.Hypot(float64(q.X-p.X), float64(q.Y-p.Y))
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Ratio holds pixels-per-millimeter for each axis.
type Ratio struct {
	X float64
	Y float64
}

// NewRatio computes canvas/stage per axis. All dimensions must be positive.
func NewRatio(canvasWidth, stageWidth, canvasHeight, stageHeight float64) (Ratio, error) {
	dims := []struct {
		name string
		v    float64
	}{
		{"canvas_width", canvasWidth},
		{"stage_width", stageWidth},
		{"canvas_height", canvasHeight},
		{"stage_height", stageHeight},
	}
	for _, d := range dims {
		if !(d.v > 0) || math.IsInf(d.v, 0) {
			return Ratio{}, errors.ConfigValidationError("stage", d.name,
				fmt.Sprintf("must be a positive finite size, got %v", d.v))
		}
	}
	return Ratio{X: canvasWidth / stageWidth, Y: canvasHeight / stageHeight}, nil
}

// Valid reports whether both axis ratios are usable divisors.
func (r Ratio) Valid() bool {
	return r.X > 0 && r.Y > 0
}

// PixelsToMmX converts an X pixel distance to millimeters.
func (r Ratio) PixelsToMmX(px float64) float64 {
	return px / r.X
}

// PixelsToMmY converts a Y pixel distance to millimeters.
func (r Ratio) PixelsToMmY(px float64) float64 {
	return px / r.Y
}

// MmToPixelsX converts an X distance in millimeters to pixels.
func (r Ratio) MmToPixelsX(mm float64) float64 {
	return mm * r.X
}

// MmToPixelsY converts a Y distance in millimeters to pixels.
func (r Ratio) MmToPixelsY(mm float64) float64 {
	return mm * r.Y
}

// ToMm converts a canvas position to stage coordinates in millimeters.
func (r Ratio) ToMm(p Position) (x, y float64) {
	return r.PixelsToMmX(float64(p.X)), r.PixelsToMmY(float64(p.Y))
}
