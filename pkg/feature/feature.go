// Package feature defines the drawing features a job is made of.
package feature

import (
	"fmt"
	"math"

	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/geometry"
)

// Kind names a feature type in job files and API requests.
type Kind string

const (
	KindLine       Kind = "line"
	KindStroke     Kind = "stroke"
	KindCircle     Kind = "circle"
	KindDots       Kind = "dots"
	KindGenerative Kind = "generative"
)

// Kinds lists every feature kind.
var Kinds = []Kind{KindLine, KindStroke, KindCircle, KindDots, KindGenerative}

// Feature is one drawable element.
type Feature interface {
	Kind() Kind
	Validate() error
}

// CircleSegments is the number of vertices of a circle polygon.
const CircleSegments = 36

// MinStrokeSpacing is the distance below which consecutive stroke points
// are merged.
const MinStrokeSpacing = 3.0

// Generative pattern parameters.
const (
	GenerativeCircles = 24
	generativeOrbit   = 70.0
	generativeOffset  = 20.0
	generativeGrowth  = 5.0
	generativeInset   = 50
)

// Line is a straight pen-down move.
type Line struct {
	Start geometry.Position `json:"start"`
	End   geometry.Position `json:"end"`
}

func (Line) Kind() Kind { return KindLine }

func (l Line) Validate() error { return nil }

// Stroke is a freehand polyline.
type Stroke struct {
	Points []geometry.Position `json:"points"`
}

func (Stroke) Kind() Kind { return KindStroke }

func (s Stroke) Validate() error {
	if len(s.Points) < 2 {
		return errors.InvalidFeatureError(string(KindStroke), fmt.Sprintf("needs at least 2 points, got %d", len(s.Points)))
	}
	return nil
}

// Circle is drawn as a closed polygon of CircleSegments vertices.
type Circle struct {
	Center geometry.Position `json:"center"`
	Radius float64           `json:"radius"`
}

func (Circle) Kind() Kind { return KindCircle }

func (c Circle) Validate() error {
	if !(c.Radius > 0) || math.IsInf(c.Radius, 0) {
		return errors.InvalidFeatureError(string(KindCircle), fmt.Sprintf("radius must be positive and finite, got %v", c.Radius))
	}
	return nil
}

// Points returns the polygon vertices starting at angle 0. Coordinates
// are truncated toward zero.
func (c Circle) Points() []geometry.Position {
	pts := make([]geometry.Position, CircleSegments)
	step := 2 * math.Pi / CircleSegments
	theta := 0.0
	for i := range pts {
		pts[i] = geometry.Pos(
			int(float64(c.Center.X)+c.Radius*math.Cos(theta)),
			int(float64(c.Center.Y)+c.Radius*math.Sin(theta)),
		)
		theta += step
	}
	return pts
}

// Dots is a set of single pen touches.
type Dots struct {
	Points []geometry.Position `json:"points"`
}

func (Dots) Kind() Kind { return KindDots }

func (d Dots) Validate() error {
	if len(d.Points) == 0 {
		return errors.InvalidFeatureError(string(KindDots), "no points")
	}
	return nil
}

// Generative is a rosette of GenerativeCircles overlapping circles.
// A nil Center places it at the canvas centre less 50 px on each axis.
type Generative struct {
	Center *geometry.Position `json:"center,omitempty"`
}

func (Generative) Kind() Kind { return KindGenerative }

func (g Generative) Validate() error { return nil }

// GenerativeCenter is the default rosette centre for a canvas.
func GenerativeCenter(canvasWidth, canvasHeight float64) geometry.Position {
	return geometry.Pos(int(canvasWidth)/2-generativeInset, int(canvasHeight)/2-generativeInset)
}

// Circles expands the rosette around c. Circle i sits on a 70 px orbit at
// 15i degrees with radius 90+5i.
func (g Generative) Circles(c geometry.Position) []Circle {
	if g.Center != nil {
		c = *g.Center
	}
	out := make([]Circle, GenerativeCircles)
	step := 360 / GenerativeCircles
	for i := range out {
		theta := float64(i*step) * math.Pi / 180
		out[i] = Circle{
			Center: c.Add(geometry.Pos(
				int(generativeOrbit*math.Cos(theta)),
				int(generativeOrbit*math.Sin(theta)),
			)),
			Radius: generativeOrbit + generativeOffset + generativeGrowth*float64(i),
		}
	}
	return out
}

// Collapse drops points closer than minDist to the previously kept point.
// The first point is always kept.
func Collapse(points []geometry.Position, minDist float64) []geometry.Position {
	if len(points) == 0 {
		return nil
	}
	out := []geometry.Position{points[0]}
	for _, p := range points[1:] {
		if out[len(out)-1].Distance(p) < minDist {
			continue
		}
		out = append(out, p)
	}
	return out
}
