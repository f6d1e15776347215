// package gui implements simple widgets for framebuffer dashboards.
package gui

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Face is the font used for widget labels.
var Face font.Face = basicfont.Face7x13

// painter rasterizes paths into an image.
type painter struct {
	filler *rasterx.Filler
	dasher *rasterx.Dasher
}

func newPainter(dst draw.Image) *painter {
	b := dst.Bounds()
	scanner := rasterx.NewScannerGV(b.Dx(), b.Dy(), dst, b)
	return &painter{
		filler: rasterx.NewFiller(b.Dx(), b.Dy(), scanner),
		dasher: rasterx.NewDasher(b.Dx(), b.Dy(), scanner),
	}
}

func (p *painter) fillCircle(c image.Point, r float64, col color.Color) {
	p.filler.Clear()
	p.filler.SetColor(col)
	rasterx.AddCircle(float64(c.X), float64(c.Y), r, p.filler)
	p.filler.Draw()
}

func (p *painter) strokeCircle(c image.Point, r float64, width int, col color.Color) {
	p.stroke(width, col)
	rasterx.AddCircle(float64(c.X), float64(c.Y), r, p.dasher)
	p.dasher.Draw()
}

// strokeRect strokes the inside of r.
func (p *painter) strokeRect(r image.Rectangle, width int, col color.Color) {
	p.stroke(width, col)
	inset := float64(width) / 2
	rasterx.AddRect(float64(r.Min.X)+inset, float64(r.Min.Y)+inset,
		float64(r.Max.X)-inset, float64(r.Max.Y)-inset, 0, p.dasher)
	p.dasher.Draw()
}

func (p *painter) stroke(width int, col color.Color) {
	p.dasher.Clear()
	p.dasher.SetStroke(fixed.I(width), fixed.I(4), rasterx.ButtCap, rasterx.ButtCap, rasterx.FlatGap, rasterx.Miter, nil, 0)
	p.dasher.SetColor(col)
}

// drawLabel draws s centered on c, over a box of bg unless bg is nil.
func drawLabel(dst draw.Image, s string, c image.Point, fg, bg color.Color) image.Rectangle {
	r := labelBounds(s, c)
	if bg != nil {
		draw.Draw(dst, r, image.NewUniform(bg), image.Point{}, draw.Src)
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(fg),
		Face: Face,
		Dot:  fixed.P(r.Min.X, r.Min.Y+Face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
	return r
}

// labelBounds returns the bounds of s centered on c.
func labelBounds(s string, c image.Point) image.Rectangle {
	m := Face.Metrics()
	w := font.MeasureString(Face, s).Ceil()
	h := m.Height.Ceil()
	o := c.Sub(image.Pt(w/2, h/2))
	return image.Rectangle{Min: o, Max: o.Add(image.Pt(w, h))}
}
