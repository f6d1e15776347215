package gui

import (
	"image"
	"image/color"
	"image/draw"
	"strconv"
)

// CircleDigit is a number inside a circle.
type CircleDigit struct {
	Center      image.Point
	Radius      int
	Filled      bool
	Text        color.Color
	Background  color.Color
	Stroke      color.Color
	StrokeWidth int

	value int
	label string
}

func NewCircleDigit(radius int, background color.Color) *CircleDigit {
	return &CircleDigit{
		Radius:      radius,
		Filled:      true,
		Text:        color.White,
		Background:  background,
		Stroke:      color.White,
		StrokeWidth: 2,
		label:       "0",
	}
}

func (d *CircleDigit) SetValue(v int) {
	d.value = v
	d.label = strconv.Itoa(v)
}

func (d *CircleDigit) Value() int {
	return d.value
}

// Bounds returns the area covered by the digit, including its stroke.
func (d *CircleDigit) Bounds() image.Rectangle {
	r := d.Radius + (d.StrokeWidth+1)/2
	return image.Rectangle{
		Min: d.Center.Sub(image.Pt(r, r)),
		Max: d.Center.Add(image.Pt(r+1, r+1)),
	}
}

func (d *CircleDigit) Draw(dst draw.Image) {
	p := newPainter(dst)
	if d.Filled {
		p.fillCircle(d.Center, float64(d.Radius), d.Background)
	}
	if d.StrokeWidth > 0 {
		p.strokeCircle(d.Center, float64(d.Radius), d.StrokeWidth, d.Stroke)
	}
	var bg color.Color
	if d.Filled {
		bg = d.Background
	}
	drawLabel(dst, d.label, d.Center, d.Text, bg)
}
