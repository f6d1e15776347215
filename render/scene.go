package render

import (
	"fmt"
	"image"
	"math"
	"time"

	"pidisplay.dev/clock"
	"pidisplay.dev/display"
	"pidisplay.dev/gui"
)

// Scene draws frames into the back buffer of a surface.
type Scene interface {
	// Render draws frame n, counting from 1, at time now.
	Render(s *display.Surface, n int, now time.Time) error
}

// NewScene returns the scene called name for a display of geometry g.
func NewScene(name string, g display.Geometry) (Scene, error) {
	switch name {
	case "clock":
		return NewClockScene(g), nil
	case "bargraph":
		return NewBarScene(g), nil
	case "fill":
		return new(FillScene), nil
	}
	return nil, fmt.Errorf("render: unknown scene %q", name)
}

// ClockScene shows the wall clock time.
type ClockScene struct {
	Clock *clock.Clock
}

func NewClockScene(g display.Geometry) *ClockScene {
	c := clock.New(image.Pt(g.Width/2, g.Height/2), min(g.Width, g.Height)/2-1)
	return &ClockScene{Clock: c}
}

func (c *ClockScene) Render(s *display.Surface, n int, now time.Time) error {
	s.Fill(0)
	c.Clock.SetTime(now)
	c.Clock.Draw(s)
	return nil
}

// BarScene animates a row of bar graphs.
type BarScene struct {
	Bars []*gui.BarGraph
}

const (
	numBars = 5
	// Radians per frame.
	barSpeed = math.Pi / 30
)

func NewBarScene(g display.Geometry) *BarScene {
	margin := g.Width / (numBars*3 + 1)
	w := margin * 2
	sc := new(BarScene)
	for i := range numBars {
		x := margin + i*(w+margin)
		r := image.Rect(x, margin, x+w, g.Height-margin)
		sc.Bars = append(sc.Bars, gui.NewBarGraph(r))
	}
	return sc
}

func (b *BarScene) Render(s *display.Surface, n int, now time.Time) error {
	s.Fill(0)
	for i, bar := range b.Bars {
		phase := float64(i) * 2 * math.Pi / float64(len(b.Bars))
		bar.SetValue(.5 + .5*math.Sin(float64(n)*barSpeed+phase))
		bar.Draw(s)
	}
	return nil
}

// FillScene cycles the screen through a palette.
type FillScene struct{}

var palette = []display.Color{
	display.RGB(0xff, 0x00, 0x00),
	display.RGB(0x00, 0xff, 0x00),
	display.RGB(0x00, 0x00, 0xff),
	display.RGB(0xff, 0xff, 0xff),
}

func (FillScene) Render(s *display.Surface, n int, now time.Time) error {
	s.Fill(palette[(n-1)%len(palette)])
	return nil
}
