package display

import (
	"image/color"

	"pidisplay.dev/driver/mailbox"
)

// Color is a 32-bit pixel value with red in the lowest byte, followed
// by green and blue. The top byte is unused.
type Color uint32

// RGB returns the Color with the given components.
func RGB(r, g, b uint8) Color {
	return Color(r) | Color(g)<<8 | Color(b)<<16
}

func (c Color) Components() (r, g, b uint8) {
	return uint8(c), uint8(c >> 8), uint8(c >> 16)
}

// RGBA implements color.Color. Colors are always opaque.
func (c Color) RGBA() (r, g, b, a uint32) {
	r8, g8, b8 := c.Components()
	r = uint32(r8)
	r |= r << 8
	g = uint32(g8)
	g |= g << 8
	b = uint32(b8)
	b |= b << 8
	return r, g, b, 0xffff
}

// swapRB exchanges the red and blue components.
func (c Color) swapRB() Color {
	return c&0xff00ff00 | (c&0xff)<<16 | (c>>16)&0xff
}

// word returns the framebuffer word for c in pixel order o.
func (c Color) word(o mailbox.PixelOrder) uint32 {
	if o == mailbox.BGR {
		c = c.swapRB()
	}
	return uint32(c)
}

func fromWord(w uint32, o mailbox.PixelOrder) Color {
	c := Color(w) & 0xffffff
	if o == mailbox.BGR {
		c = c.swapRB()
	}
	return c
}

// ColorModel converts colors to Color, dropping alpha.
var ColorModel = color.ModelFunc(toColor)

func toColor(c color.Color) color.Color {
	return colorOf(c)
}

func colorOf(c color.Color) Color {
	if c, ok := c.(Color); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}
