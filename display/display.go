// Package display implements a double buffered framebuffer. Frames are
// drawn into a packed back buffer by the CPU and presented by copying
// them to the front buffer with a 2D DMA transfer.
package display

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	pdisplay "periph.io/x/conn/v3/display"
	"pidisplay.dev/driver/dma"
	"pidisplay.dev/driver/mailbox"
	"pidisplay.dev/pmem"
)

// Geometry describes the front buffer.
type Geometry struct {
	Width, Height int
	// Pitch is the number of bytes between front buffer rows. It may
	// exceed Width*4.
	Pitch int
	Order mailbox.PixelOrder
}

const (
	bytesPerPixel = 4
	scratchPage   = 4096
	// NumControlBlocks is the number of control block slots carved out
	// of the scratchpad. The rest of the page holds the fill words.
	NumControlBlocks = scratchPage/dma.ControlBlockSize - 1
	// Fill words cover one 128-bit read.
	numFillWords = 4

	// DMA burst length for frame transfers.
	burstLength = 4
)

var (
	ErrGeometry   = errors.New("display: invalid geometry")
	ErrBufferSize = errors.New("display: buffer too small")
	ErrScratchpad = errors.New("display: invalid scratchpad")
)

// Surface is a display session. It is not safe for concurrent use, and
// the back buffer must not be modified while Swap is in progress.
type Surface struct {
	ch   *dma.Channel
	geom Geometry

	front *pmem.Region
	back  *pmem.Region
	pix   []uint32

	cbRegion   *pmem.Region
	cbs        []dma.ControlBlock
	fillRegion *pmem.Region
	fill       []uint32

	// alias is the bus alias of every address handed to the engine.
	alias pmem.Alias
}

var _ pdisplay.Drawer = (*Surface)(nil)
var _ draw.Image = (*Surface)(nil)

// New creates a surface. The channel must support 2D transfers. The
// scratchpad must be at least one 4 KiB page starting at a 32-byte
// aligned address; the back buffer must hold at least Width*Height
// pixels and is truncated to exactly that size.
func New(ch *dma.Channel, front, back, scratch *pmem.Region, g Geometry) (*Surface, error) {
	if ch.Lite() {
		return nil, fmt.Errorf("display: %s: %w", ch, dma.ErrLiteChannel)
	}
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("display: %dx%d: %w", g.Width, g.Height, ErrGeometry)
	}
	rowBytes := g.Width * bytesPerPixel
	if g.Pitch < rowBytes {
		return nil, fmt.Errorf("display: pitch %d < %d: %w", g.Pitch, rowBytes, ErrGeometry)
	}
	// The transfer must fit a single 2D control block.
	if rowBytes > 0xffff || g.Height > 0x4000 || g.Pitch-rowBytes > 0x7fff {
		return nil, fmt.Errorf("display: %dx%d pitch %d: %w", g.Width, g.Height, g.Pitch, ErrGeometry)
	}
	if need := g.Pitch*(g.Height-1) + rowBytes; front.Size() < need {
		return nil, fmt.Errorf("display: front buffer %d bytes, need %d: %w", front.Size(), need, ErrBufferSize)
	}
	backSize := rowBytes * g.Height
	if back.Size() < backSize {
		return nil, fmt.Errorf("display: back buffer %d bytes, need %d: %w", back.Size(), backSize, ErrBufferSize)
	}
	if scratch.Size() < scratchPage {
		return nil, fmt.Errorf("display: scratchpad %d bytes, need %d: %w", scratch.Size(), scratchPage, ErrScratchpad)
	}
	if scratch.PhysAddr()%dma.ControlBlockAlign != 0 {
		return nil, fmt.Errorf("display: scratchpad at %#08x: %w", scratch.PhysAddr(), ErrScratchpad)
	}
	bb := *back
	if err := bb.Truncate(backSize); err != nil {
		return nil, err
	}
	pix, err := bb.Uint32s(g.Width * g.Height)
	if err != nil {
		return nil, fmt.Errorf("display: back buffer: %w", err)
	}
	sp := *scratch
	cbRegion, err := sp.Split(NumControlBlocks * dma.ControlBlockSize)
	if err != nil {
		return nil, fmt.Errorf("display: scratchpad: %w", err)
	}
	if err := sp.Truncate(numFillWords * 4); err != nil {
		return nil, fmt.Errorf("display: scratchpad: %w", err)
	}
	cbs, err := pmem.View[dma.ControlBlock](cbRegion, NumControlBlocks)
	if err != nil {
		return nil, fmt.Errorf("display: scratchpad: %w", err)
	}
	for i := range cbs {
		cbs[i].Reset()
	}
	fill, err := sp.Uint32s(numFillWords)
	if err != nil {
		return nil, fmt.Errorf("display: scratchpad: %w", err)
	}
	return &Surface{
		ch:         ch,
		geom:       g,
		front:      front,
		back:       &bb,
		pix:        pix,
		cbRegion:   cbRegion,
		cbs:        cbs,
		fillRegion: &sp,
		fill:       fill,
		alias:      scratch.Alias(),
	}, nil
}

func (s *Surface) Geometry() Geometry {
	return s.geom
}

// Channel returns the DMA channel presenting frames.
func (s *Surface) Channel() *dma.Channel {
	return s.ch
}

// Front returns the front buffer.
func (s *Surface) Front() *pmem.Region {
	return s.front
}

// Back returns the back buffer pixels as framebuffer words, row by row
// without padding.
func (s *Surface) Back() []uint32 {
	return s.pix
}

// SetPixel sets the back buffer pixel at (x, y). Pixels outside the
// surface are ignored.
func (s *Surface) SetPixel(x, y int, c Color) {
	if x < 0 || y < 0 || x >= s.geom.Width || y >= s.geom.Height {
		return
	}
	s.pix[y*s.geom.Width+x] = c.word(s.geom.Order)
}

// Pixel returns the back buffer pixel at (x, y).
func (s *Surface) Pixel(x, y int) Color {
	if x < 0 || y < 0 || x >= s.geom.Width || y >= s.geom.Height {
		return 0
	}
	return fromWord(s.pix[y*s.geom.Width+x], s.geom.Order)
}

// Fill sets every back buffer pixel to c.
func (s *Surface) Fill(c Color) {
	w := c.word(s.geom.Order)
	for i := range s.pix {
		s.pix[i] = w
	}
}

// FillFront fills the front buffer with c by DMA, bypassing the back
// buffer.
func (s *Surface) FillFront(c Color) error {
	w := c.word(s.geom.Order)
	for i := range s.fill {
		s.fill[i] = w
	}
	if err := s.transfer(s.fillRegion, false); err != nil {
		return fmt.Errorf("display: fill front: %w", err)
	}
	return nil
}

// Swap presents the back buffer by copying it to the front buffer. It
// blocks until the copy completes. A failed transfer leaves the front
// buffer contents undefined.
func (s *Surface) Swap() error {
	if err := s.transfer(s.back, true); err != nil {
		return fmt.Errorf("display: swap: %w", err)
	}
	return nil
}

// Clear clears the back buffer and presents it.
func (s *Surface) Clear() error {
	s.Fill(0)
	return s.Swap()
}

// transfer copies a frame from src to the front buffer. If srcInc is
// false, every row is read from the start of src.
func (s *Surface) transfer(src *pmem.Region, srcInc bool) error {
	g := s.geom
	rowBytes := g.Width * bytesPerPixel
	cb := &s.cbs[0]
	err := cb.Configure(dma.Transfer{
		Info: dma.TransferInfo{
			Mode2D:      true,
			WaitResp:    true,
			Src:         dma.Side{Inc: srcInc, Width128: true},
			Dest:        dma.Side{Inc: true, Width128: true},
			BurstLength: burstLength,
		},
		Length:    dma.Rect(uint32(rowBytes), uint32(g.Height)),
		Src:       src.PhysAddr(),
		Dst:       s.front.PhysAddr(),
		DstStride: int16(g.Pitch - rowBytes),
		Alias:     s.alias,
	})
	if err != nil {
		return err
	}
	// A previous transfer may still be draining.
	if err := s.ch.Wait(); err != nil {
		return err
	}
	if err := s.ch.Start(pmem.ToBus(s.cbRegion.PhysAddr(), s.alias)); err != nil {
		return err
	}
	if err := s.ch.Wait(); err != nil {
		return err
	}
	return s.ch.Err()
}

func (s *Surface) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.geom.Width, s.geom.Height)
}

func (s *Surface) ColorModel() color.Model {
	return ColorModel
}

func (s *Surface) At(x, y int) color.Color {
	return s.Pixel(x, y)
}

func (s *Surface) Set(x, y int, c color.Color) {
	s.SetPixel(x, y, colorOf(c))
}

// DrawOver draws src over the back buffer.
func (s *Surface) DrawOver(dr image.Rectangle, src image.Image, sp image.Point) {
	clipped := dr.Intersect(s.Bounds())
	sp = sp.Add(clipped.Min.Sub(dr.Min))
	dr = clipped
	// Optimize special cases.
	switch src := src.(type) {
	case *image.Uniform:
		if src.Opaque() {
			w := colorOf(src.C).word(s.geom.Order)
			for y := dr.Min.Y; y < dr.Max.Y; y++ {
				row := s.pix[y*s.geom.Width:]
				for x := dr.Min.X; x < dr.Max.X; x++ {
					row[x] = w
				}
			}
			return
		}
	case *image.RGBA:
		sr := image.Rectangle{Min: sp, Max: sp.Add(dr.Size())}
		if sr.In(src.Rect) && src.SubImage(sr).(*image.RGBA).Opaque() {
			for y := 0; y < dr.Dy(); y++ {
				row := s.pix[(dr.Min.Y+y)*s.geom.Width:]
				for x := 0; x < dr.Dx(); x++ {
					px := src.RGBAAt(sp.X+x, sp.Y+y)
					row[dr.Min.X+x] = RGB(px.R, px.G, px.B).word(s.geom.Order)
				}
			}
			return
		}
	}

	// General case.
	draw.Draw(s, dr, src, sp, draw.Over)
}

// Draw implements periph.io's display.Drawer: it draws src into the
// back buffer and presents it.
func (s *Surface) Draw(dr image.Rectangle, src image.Image, sp image.Point) error {
	s.DrawOver(dr, src, sp)
	return s.Swap()
}

// Halt clears the display.
func (s *Surface) Halt() error {
	return s.Clear()
}

func (s *Surface) String() string {
	return fmt.Sprintf("display %dx%d (pitch %d, %s) on %s", s.geom.Width, s.geom.Height, s.geom.Pitch, s.geom.Order, s.ch)
}
