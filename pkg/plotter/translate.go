package plotter

import (
	"fmt"
	"math"

	"plotbot-go/pkg/config"
	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/feature"
	"plotbot-go/pkg/geometry"
	"plotbot-go/pkg/protocol"
)

// Pen settle times, in milliseconds, attached to the packets a feature
// produces.
const (
	liftMillis      = 500
	lineDownMillis  = 1000
	touchMillis     = 10
	travelThreshold = 5.0 // px; shorter travels are skipped
	joinThreshold   = 3.0 // px; a feature starting closer continues the last one
)

// Canvas is the drawable area in pixels. Every point a feature draws must
// lie in [0,Width]x[0,Height].
type Canvas struct {
	Width, Height float64
	// GenCenter is where a generative pattern without a centre is drawn.
	GenCenter geometry.Position
}

// CanvasFrom returns the configured canvas.
func CanvasFrom(cfg *config.PlotterConfig) Canvas {
	return Canvas{
		Width:     cfg.Stage.CanvasWidth,
		Height:    cfg.Stage.CanvasHeight,
		GenCenter: feature.GenerativeCenter(cfg.Stage.CanvasWidth, cfg.Stage.CanvasHeight),
	}
}

func (cv Canvas) outside(kind feature.Kind, pts ...geometry.Position) error {
	for _, p := range pts {
		if p.X < 0 || p.Y < 0 || float64(p.X) > cv.Width || float64(p.Y) > cv.Height {
			return errors.InvalidFeatureError(string(kind),
				fmt.Sprintf("point %s is outside the %gx%g canvas", p, cv.Width, cv.Height))
		}
	}
	return nil
}

func (cv Canvas) circle(c feature.Circle) error {
	// Points converts to int, so the radius is bounded first.
	if c.Radius > math.Hypot(cv.Width, cv.Height) {
		return errors.InvalidFeatureError(string(feature.KindCircle),
			fmt.Sprintf("radius %g does not fit the %gx%g canvas", c.Radius, cv.Width, cv.Height))
	}
	if err := cv.outside(feature.KindCircle, c.Center); err != nil {
		return err
	}
	return cv.outside(feature.KindCircle, c.Points()...)
}

// check rejects a valid feature that would leave the canvas.
func (cv Canvas) check(f feature.Feature) error {
	switch v := f.(type) {
	case feature.Line:
		return cv.outside(v.Kind(), v.Start, v.End)
	case feature.Stroke:
		return cv.outside(v.Kind(), v.Points...)
	case feature.Dots:
		return cv.outside(v.Kind(), v.Points...)
	case feature.Circle:
		return cv.circle(v)
	case feature.Generative:
		if v.Center != nil {
			if err := cv.outside(v.Kind(), *v.Center); err != nil {
				return err
			}
		}
		for _, c := range v.Circles(cv.GenCenter) {
			if err := cv.circle(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// translator turns features into packets starting from a pen position.
// It works on its own copy of the pen so a feature that does not fit in
// the queue leaves the controller untouched.
type translator struct {
	enc       protocol.Encoder
	pen       geometry.Position
	genCenter geometry.Position
	out       []protocol.MoveCommand
}

func (t *translator) penUp(ms int) {
	t.out = append(t.out, protocol.Packet(ms, protocol.PenUp))
}

func (t *translator) penDown(ms int) {
	t.out = append(t.out, protocol.Packet(ms, protocol.PenDown))
}

// travel moves the raised pen to p. Short hops are dropped and the pen
// stays where it is.
func (t *translator) travel(p geometry.Position) {
	if t.pen.Distance(p) <= travelThreshold {
		return
	}
	t.penUp(liftMillis)
	t.out = append(t.out, t.enc.Encode(t.pen, p).Command())
	t.pen = p
}

// draw appends the move a→b unless it takes no time.
func (t *translator) draw(a, b geometry.Position) {
	m := t.enc.Encode(a, b)
	if m.DurationMillis != 0 {
		t.out = append(t.out, m.Command())
	}
}

func (t *translator) add(f feature.Feature) error {
	switch v := f.(type) {
	case feature.Line:
		t.line(v)
	case feature.Stroke:
		t.stroke(v)
	case feature.Circle:
		t.circle(v)
	case feature.Dots:
		t.dots(v)
	case feature.Generative:
		for _, c := range v.Circles(t.genCenter) {
			t.circle(c)
		}
	default:
		return errors.InvalidFeatureError(fmt.Sprintf("%T", f), "unsupported feature")
	}
	return nil
}

func (t *translator) line(l feature.Line) {
	t.travel(l.Start)
	if l.Start.Distance(t.pen) > joinThreshold {
		t.penUp(liftMillis)
	}
	t.penDown(lineDownMillis)
	t.out = append(t.out, t.enc.Encode(l.Start, l.End).Command())
	t.pen = l.End
}

func (t *translator) stroke(s feature.Stroke) {
	start := s.Points[0]
	t.travel(start)
	t.penDown(touchMillis)

	pts := feature.Collapse(s.Points, feature.MinStrokeSpacing)
	for i := 1; i < len(pts); i++ {
		t.draw(pts[i-1], pts[i])
	}
	t.pen = pts[len(pts)-1]
	if start.Distance(t.pen) > joinThreshold {
		t.penUp(liftMillis)
	}
}

func (t *translator) circle(c feature.Circle) {
	pts := c.Points()
	t.travel(pts[0])
	t.penDown(touchMillis)
	for i := 1; i < len(pts); i++ {
		t.draw(pts[i-1], pts[i])
	}
	t.draw(pts[len(pts)-1], pts[0])
	t.pen = pts[0]
}

func (t *translator) dots(d feature.Dots) {
	for _, p := range d.Points {
		t.penUp(touchMillis)
		t.out = append(t.out, t.enc.Encode(t.pen, p).Command())
		t.pen = p
		t.penDown(touchMillis)
	}
}

// Translate returns the packets for f drawn from pen, and the pen
// position afterwards. Features reaching outside canvas are rejected with
// INVALID_FEATURE.
func Translate(enc protocol.Encoder, canvas Canvas, pen geometry.Position, f feature.Feature) ([]protocol.MoveCommand, geometry.Position, error) {
	if f == nil {
		return nil, pen, errors.InvalidFeatureError("", "nil feature")
	}
	if err := f.Validate(); err != nil {
		return nil, pen, err
	}
	if err := canvas.check(f); err != nil {
		return nil, pen, err
	}
	t := &translator{enc: enc, pen: pen, genCenter: canvas.GenCenter}
	if err := t.add(f); err != nil {
		return nil, pen, err
	}
	return t.out, t.pen, nil
}

// Plan translates every feature of job in order, starting from pen. It
// stops at the first invalid feature, reporting its index.
func Plan(enc protocol.Encoder, canvas Canvas, pen geometry.Position, job *feature.Job) ([]protocol.MoveCommand, geometry.Position, error) {
	var out []protocol.MoveCommand
	for i, f := range job.Features {
		cmds, next, err := Translate(enc, canvas, pen, f)
		if err != nil {
			if he, ok := err.(*errors.HostError); ok {
				he.SetContext("index", i)
			}
			return out, pen, err
		}
		out = append(out, cmds...)
		pen = next
	}
	return out, pen, nil
}
