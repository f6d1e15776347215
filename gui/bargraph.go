package gui

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
)

// BarGraph is a vertical bar filled from the bottom in proportion to its
// value, labelled with the value as a percentage.
type BarGraph struct {
	Rect        image.Rectangle
	Background  color.Color
	Fill        color.Color
	Text        color.Color
	Stroke      color.Color
	StrokeWidth int

	value float64
	label string
	fill  int
}

// Vertical space between the fill line and the label.
const labelPadding = 3

func NewBarGraph(r image.Rectangle) *BarGraph {
	b := &BarGraph{
		Rect:        r.Canon(),
		Background:  color.Black,
		Fill:        color.RGBA{R: 0x1b, G: 0xf0, B: 0xb0, A: 0xff},
		Text:        color.White,
		Stroke:      color.White,
		StrokeWidth: 2,
	}
	b.SetValue(0)
	return b
}

// SetValue sets the value, clamped to [0, 1].
func (b *BarGraph) SetValue(v float64) {
	switch {
	case v <= 0 || math.IsNaN(v):
		v = 0
	case v >= 1:
		v = 1
	}
	b.value = v
	b.fill = int(v * float64(b.Rect.Dy()))
	b.label = strconv.Itoa(int(100*v+.5)) + "%"
}

func (b *BarGraph) Value() float64 {
	return b.value
}

// Label returns the percentage text.
func (b *BarGraph) Label() string {
	return b.label
}

// FillLine returns the y coordinate of the top of the filled area.
func (b *BarGraph) FillLine() int {
	return b.Rect.Max.Y - b.fill
}

// Draw draws the graph into dst.
func (b *BarGraph) Draw(dst draw.Image) {
	r := b.Rect
	line := b.FillLine()
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, line), image.NewUniform(b.Background), image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, line, r.Max.X, r.Max.Y), image.NewUniform(b.Fill), image.Point{}, draw.Src)
	b.drawLabel(dst)
	if b.StrokeWidth > 0 {
		newPainter(dst).strokeRect(r, b.StrokeWidth, b.Stroke)
	}
}

// drawLabel puts the label above the fill line if it fits, otherwise
// just below it.
func (b *BarGraph) drawLabel(dst draw.Image) {
	h := Face.Metrics().Height.Ceil()
	cx := b.Rect.Min.X + b.Rect.Dx()/2
	line := b.FillLine()
	room := b.Rect.Dy() - h - 4*labelPadding
	if b.fill <= room {
		drawLabel(dst, b.label, image.Pt(cx, line-labelPadding-h+h/2), b.Text, b.Background)
	} else {
		drawLabel(dst, b.label, image.Pt(cx, line+labelPadding+h/2), b.Text, b.Fill)
	}
}
