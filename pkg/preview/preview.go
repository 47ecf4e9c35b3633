// Package preview replays board commands onto an image so a job can be
// checked before it is sent to the plotter.
package preview

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"plotbot-go/pkg/geometry"
	"plotbot-go/pkg/protocol"
)

// Options describes the canvas and the motion parameters needed to turn
// step counts back into pixels.
type Options struct {
	Width, Height int     // canvas size in px
	Scale         float64 // output pixels per canvas pixel, default 1
	Ratio         geometry.Ratio
	FullStep      float64 // mm per full step
	Mode          protocol.StepMode
	Start         geometry.Position
	PenWidth      float64 // in output pixels, default 2
	ShowTravel    bool    // draw pen-up moves faintly
	Title         string
}

var (
	inkColor    = color.RGBA{0x10, 0x10, 0x30, 0xff}
	travelColor = color.RGBA{0xd0, 0x40, 0x40, 0xff}
	titleColor  = color.RGBA{0x80, 0x80, 0x80, 0xff}
)

// Canvas accumulates pen strokes from a command stream.
type Canvas struct {
	opts   Options
	ink    []quad
	travel []quad
	mode   protocol.StepMode

	// stage position in mm
	x, y float64
	down bool

	segments int
	dots     int
	moves    int
	skipped  int // lines that were neither moves nor pen commands
}

// New creates an empty canvas with the pen raised at opts.Start.
func New(opts Options) *Canvas {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.PenWidth <= 0 {
		opts.PenWidth = 2
	}
	if !opts.Mode.Valid() {
		opts.Mode = protocol.Sixteenth
	}
	c := &Canvas{opts: opts, mode: opts.Mode}
	c.x, c.y = opts.Ratio.ToMm(opts.Start)
	return c
}

func (o Options) size() (int, int) {
	return int(math.Ceil(float64(o.Width) * o.Scale)), int(math.Ceil(float64(o.Height) * o.Scale))
}

// Apply interprets one command line. Commands that do not move the pen or
// change the step mode are ignored.
func (c *Canvas) Apply(line string) {
	switch {
	case protocol.IsPenUp(line):
		c.down = false
		return
	case protocol.IsPenDown(line):
		if !c.down {
			c.down = true
			c.dot()
		}
		return
	case strings.HasPrefix(strings.ToUpper(line), "EM,"):
		if m, err := protocol.ParseEnableMotors(line); err == nil {
			c.mode = m
		}
		return
	}

	m, err := protocol.ParseMove(line)
	if err != nil {
		c.skipped++
		return
	}
	c.moves++
	per := c.opts.FullStep / float64(c.mode.Multiplier())
	nx := c.x + float64(m.StepsX)*per
	ny := c.y + float64(m.StepsY)*per

	x0, y0 := c.project(c.x, c.y)
	x1, y1 := c.project(nx, ny)
	if q, ok := c.segment(x0, y0, x1, y1); ok {
		if c.down {
			c.ink = append(c.ink, q)
			c.segments++
		} else {
			c.travel = append(c.travel, q)
		}
	}
	c.x, c.y = nx, ny
}

// ApplyAll interprets each packet in order.
func (c *Canvas) ApplyAll(cmds []protocol.MoveCommand) {
	for _, cmd := range cmds {
		c.Apply(cmd.Text)
	}
}

// Position returns the replayed pen position rounded to canvas pixels.
func (c *Canvas) Position() geometry.Position {
	return geometry.Pos(
		int(math.Round(c.opts.Ratio.MmToPixelsX(c.x))),
		int(math.Round(c.opts.Ratio.MmToPixelsY(c.y))),
	)
}

// Stats counts what a replay contained.
type Stats struct {
	Moves    int `json:"moves"`
	Segments int `json:"segments"`
	Dots     int `json:"dots"`
	Skipped  int `json:"skipped"`
}

// Stats returns the replay counters.
func (c *Canvas) Stats() Stats {
	return Stats{Moves: c.moves, Segments: c.segments, Dots: c.dots, Skipped: c.skipped}
}

func (c *Canvas) project(xmm, ymm float64) (float32, float32) {
	s := c.opts.Scale
	return float32(c.opts.Ratio.MmToPixelsX(xmm) * s), float32(c.opts.Ratio.MmToPixelsY(ymm) * s)
}

// quad is a closed four-point outline in output pixels.
type quad [4][2]float32

// segment returns the outline of a stroke of PenWidth from (x0,y0) to (x1,y1).
func (c *Canvas) segment(x0, y0, x1, y1 float32) (quad, bool) {
	dx, dy := x1-x0, y1-y0
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return quad{}, false
	}
	half := float32(c.opts.PenWidth / 2)
	nx, ny := -dy/l*half, dx/l*half
	// extend the ends so joined segments leave no gaps
	ex, ey := dx/l*half, dy/l*half

	return quad{
		{x0 + nx - ex, y0 + ny - ey},
		{x1 + nx + ex, y1 + ny + ey},
		{x1 - nx + ex, y1 - ny + ey},
		{x0 - nx - ex, y0 - ny - ey},
	}, true
}

// dot marks the spot where the pen touched down.
func (c *Canvas) dot() {
	x, y := c.project(c.x, c.y)
	half := float32(c.opts.PenWidth / 2)
	c.ink = append(c.ink, quad{
		{x - half, y - half},
		{x + half, y - half},
		{x + half, y + half},
		{x - half, y + half},
	})
	c.dots++
}

// fill rasterizes quads onto img in col.
func fill(img *image.RGBA, quads []quad, col color.Color) {
	if len(quads) == 0 {
		return
	}
	b := img.Bounds()
	r := vector.NewRasterizer(b.Dx(), b.Dy())
	for _, q := range quads {
		r.MoveTo(q[0][0], q[0][1])
		for _, p := range q[1:] {
			r.LineTo(p[0], p[1])
		}
		r.ClosePath()
	}
	r.Draw(img, b, image.NewUniform(col), image.Point{})
}

// Image renders the accumulated strokes on a white background.
func (c *Canvas) Image() *image.RGBA {
	w, h := c.opts.size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	if c.opts.ShowTravel {
		fill(img, c.travel, travelColor)
	}
	fill(img, c.ink, inkColor)

	if c.opts.Title != "" {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(titleColor),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(4, h-4),
		}
		d.DrawString(c.opts.Title)
	}
	return img
}

// WritePNG encodes the rendered image.
func (c *Canvas) WritePNG(w io.Writer) error {
	return png.Encode(w, c.Image())
}

// SavePNG writes the rendered image to path.
func (c *Canvas) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.WritePNG(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
