// Package clock draws an analogue clock face whose hands end in circle
// digits showing the hour, minute and second.
package clock

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/fogleman/gg"
	"pidisplay.dev/gui"
)

const (
	ticksPerSecond = 1
	ticksPerMinute = 1
	ticksPerHour   = 5
	degreesPerTick = 6
)

var ErrTime = errors.New("clock: time out of range")

type Clock struct {
	Center       image.Point
	Radius       int
	OutlineWidth int
	Outline      color.Color

	Hour   *gui.CircleDigit
	Minute *gui.CircleDigit
	Second *gui.CircleDigit

	overlay *image.RGBA
	ctx     *gg.Context
}

// New returns a clock showing 0:00:00.
func New(center image.Point, radius int) *Clock {
	c := &Clock{
		Center:       center,
		Radius:       radius,
		OutlineWidth: 4,
		Outline:      color.White,
		Hour:         gui.NewCircleDigit(26, color.RGBA{R: 0x1f, G: 0xaf, B: 0x0f, A: 0xff}),
		Minute:       gui.NewCircleDigit(22, color.RGBA{R: 0x1b, G: 0xf0, B: 0xb0, A: 0xff}),
		Second:       gui.NewCircleDigit(18, color.RGBA{R: 0x0f, G: 0xaf, B: 0xf0, A: 0xff}),
	}
	c.place(c.Hour, 0, 0)
	c.place(c.Minute, 0, 0)
	c.place(c.Second, 0, 0)
	return c
}

// Set moves the digits to the given time. Hours are on a 12 hour dial.
func (c *Clock) Set(hour, minute, sec int) error {
	if hour < 0 || hour > 12 || minute < 0 || minute >= 60 || sec < 0 || sec >= 60 {
		return fmt.Errorf("%w: %d:%02d:%02d", ErrTime, hour, minute, sec)
	}
	c.place(c.Hour, hour, hour*ticksPerHour)
	c.place(c.Minute, minute, minute*ticksPerMinute)
	c.place(c.Second, sec, sec*ticksPerSecond)
	return nil
}

// SetTime is like Set for the wall clock time of t.
func (c *Clock) SetTime(t time.Time) {
	h, m, s := t.Clock()
	h %= 12
	c.place(c.Hour, h, h*ticksPerHour)
	c.place(c.Minute, m, m*ticksPerMinute)
	c.place(c.Second, s, s*ticksPerSecond)
}

func (c *Clock) place(d *gui.CircleDigit, v, tick int) {
	r := c.Radius - d.Radius - d.StrokeWidth - c.OutlineWidth - 1
	d.Center = radial(c.Center, r, tick)
	d.SetValue(v)
}

// radial returns the point r pixels from center in the direction of
// the dial tick, counting clockwise from 12 o'clock.
func radial(center image.Point, r, tick int) image.Point {
	a := float64(tick*degreesPerTick) * math.Pi / 180
	x := math.Sin(a) * float64(r)
	y := -math.Cos(a) * float64(r)
	return center.Add(image.Pt(int(math.Round(x)), int(math.Round(y))))
}

// Bounds returns the area covered by the outline.
func (c *Clock) Bounds() image.Rectangle {
	r := c.Radius + (c.OutlineWidth+1)/2
	return image.Rectangle{
		Min: c.Center.Sub(image.Pt(r, r)),
		Max: c.Center.Add(image.Pt(r+1, r+1)),
	}
}

// overDrawer is implemented by surfaces with a faster path than
// draw.Draw for compositing.
type overDrawer interface {
	DrawOver(r image.Rectangle, src image.Image, sp image.Point)
}

// Draw draws the outline and hands, then the digits from the hour
// digit up.
func (c *Clock) Draw(dst draw.Image) {
	b := c.Bounds()
	if c.overlay == nil || c.overlay.Rect.Size() != b.Size() {
		c.overlay = image.NewRGBA(image.Rectangle{Max: b.Size()})
		c.ctx = gg.NewContextForRGBA(c.overlay)
	}
	clear(c.overlay.Pix)
	dc := c.ctx
	o := b.Min
	cx, cy := float64(c.Center.X-o.X), float64(c.Center.Y-o.Y)

	dc.SetColor(c.Outline)
	dc.SetLineWidth(float64(c.OutlineWidth))
	dc.DrawCircle(cx, cy, float64(c.Radius))
	dc.Stroke()

	dc.SetLineWidth(1)
	for _, d := range c.digits() {
		dc.SetColor(d.Background)
		// Pixel centers keep the 1 pixel hands crisp.
		dc.DrawLine(cx+.5, cy+.5, float64(d.Center.X-o.X)+.5, float64(d.Center.Y-o.Y)+.5)
		dc.Stroke()
	}

	if od, ok := dst.(overDrawer); ok {
		od.DrawOver(b, c.overlay, image.Point{})
	} else {
		draw.Draw(dst, b, c.overlay, image.Point{}, draw.Over)
	}
	for _, d := range c.digits() {
		d.Draw(dst)
	}
}

func (c *Clock) digits() []*gui.CircleDigit {
	return []*gui.CircleDigit{c.Hour, c.Minute, c.Second}
}
