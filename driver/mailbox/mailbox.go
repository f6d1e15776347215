// Package mailbox talks to the VideoCore firmware through the property
// mailbox interface.
package mailbox

import (
	"errors"
	"fmt"

	"pidisplay.dev/pmem"
)

// Conn carries a property buffer to the firmware and back. The
// firmware overwrites the buffer with its response.
type Conn interface {
	Call(buf []uint32) error
}

// Mailbox issues property requests over a Conn.
type Mailbox struct {
	conn Conn
}

// Property tags.
const (
	tagEnd            = 0x0000_0000
	tagSetCursorState = 0x0000_8011
	tagSerialNumber   = 0x0001_0004
	tagARMMemory      = 0x0001_0005
	tagVCMemory       = 0x0001_0006
	tagTemperature    = 0x0003_0006
	tagAllocBuffer    = 0x0004_0001
	tagBlankScreen    = 0x0004_0002
	tagPhysicalSize   = 0x0004_0003
	tagPitch          = 0x0004_0008
	tagSetPhysical    = 0x0004_8003
	tagSetVirtual     = 0x0004_8004
	tagSetDepth       = 0x0004_8005
	tagSetPixelOrder  = 0x0004_8006
	tagSetOffset      = 0x0004_8009
)

const (
	codeRequest    = 0x0000_0000
	codeSuccess    = 0x8000_0000
	codeBadRequest = 0x8000_0001
	tagResponse    = 0x8000_0000

	// Framebuffer allocation alignment.
	fbAlign = 4096
	// Only 32-bit pixels are supported.
	fbDepth = 32
)

var (
	ErrBadRequest = errors.New("mailbox: error parsing request buffer")
	ErrBadStatus  = errors.New("mailbox: unexpected response status")
	ErrNoBuffer   = errors.New("mailbox: no framebuffer allocated")
	ErrDepth      = errors.New("mailbox: unsupported pixel depth")
)

// PixelOrder is the order of the color channels in a pixel.
type PixelOrder uint32

const (
	BGR PixelOrder = 0
	RGB PixelOrder = 1
)

func (o PixelOrder) String() string {
	switch o {
	case BGR:
		return "bgr"
	case RGB:
		return "rgb"
	default:
		return fmt.Sprintf("PixelOrder(%d)", uint32(o))
	}
}

// New returns a mailbox that issues requests over conn.
func New(conn Conn) *Mailbox {
	return &Mailbox{conn: conn}
}

// Close closes the underlying connection if it implements io.Closer.
func (m *Mailbox) Close() error {
	if c, ok := m.conn.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// message builds a property buffer: a size word, a request code, a
// sequence of tags and an end tag.
type message struct {
	buf  []uint32
	tags []int
}

func newMessage() *message {
	return &message{buf: []uint32{0, codeRequest}}
}

// tag appends a tag with room for size bytes of value and returns the
// index of its first value word.
func (m *message) tag(id uint32, size int, vals ...uint32) int {
	words := (size + 3) / 4
	m.tags = append(m.tags, len(m.buf))
	m.buf = append(m.buf, id, uint32(words*4), codeRequest)
	idx := len(m.buf)
	m.buf = append(m.buf, make([]uint32, words)...)
	copy(m.buf[idx:], vals)
	return idx
}

func (m *message) finish() []uint32 {
	m.buf = append(m.buf, tagEnd)
	m.buf[0] = uint32(len(m.buf) * 4)
	return m.buf
}

func (m *Mailbox) call(msg *message) error {
	buf := msg.finish()
	if err := m.conn.Call(buf); err != nil {
		return fmt.Errorf("mailbox: %w", err)
	}
	switch code := buf[1]; code {
	case codeSuccess:
	case codeBadRequest:
		return ErrBadRequest
	default:
		return fmt.Errorf("%w: %#08x", ErrBadStatus, code)
	}
	for _, t := range msg.tags {
		if buf[t+2]&tagResponse == 0 {
			return fmt.Errorf("%w: tag %#05x not processed", ErrBadStatus, buf[t])
		}
	}
	return nil
}

// FramebufferRequest describes the framebuffer to negotiate.
type FramebufferRequest struct {
	Width, Height int
	// VirtualWidth and VirtualHeight default to Width and Height.
	VirtualWidth, VirtualHeight int
	OffsetX, OffsetY            int
	Order                       PixelOrder
}

// Framebuffer is the framebuffer allocated by the firmware.
type Framebuffer struct {
	Width, Height int
	// Pitch is the number of bytes between rows.
	Pitch int
	Order PixelOrder
	// BusAddr is the VideoCore bus address of the pixels.
	BusAddr uint32
	Size    int
}

// PhysAddr returns the ARM physical address of the pixels.
func (f Framebuffer) PhysAddr() uint32 {
	return pmem.ToPhys(f.BusAddr)
}

// Framebuffer negotiates a 32-bit framebuffer in a single request.
func (m *Mailbox) Framebuffer(req FramebufferRequest) (Framebuffer, error) {
	vw, vh := req.VirtualWidth, req.VirtualHeight
	if vw == 0 && vh == 0 {
		vw, vh = req.Width, req.Height
	}
	msg := newMessage()
	phys := msg.tag(tagSetPhysical, 8, uint32(req.Width), uint32(req.Height))
	msg.tag(tagSetVirtual, 8, uint32(vw), uint32(vh))
	msg.tag(tagSetOffset, 8, uint32(req.OffsetX), uint32(req.OffsetY))
	depth := msg.tag(tagSetDepth, 4, fbDepth)
	order := msg.tag(tagSetPixelOrder, 4, uint32(req.Order))
	alloc := msg.tag(tagAllocBuffer, 8, fbAlign)
	pitch := msg.tag(tagPitch, 4)
	if err := m.call(msg); err != nil {
		return Framebuffer{}, fmt.Errorf("mailbox: framebuffer: %w", err)
	}
	buf := msg.buf
	if d := buf[depth]; d != fbDepth {
		return Framebuffer{}, fmt.Errorf("mailbox: framebuffer: %d bits per pixel: %w", d, ErrDepth)
	}
	if buf[alloc] == 0 {
		return Framebuffer{}, fmt.Errorf("mailbox: framebuffer: %w", ErrNoBuffer)
	}
	return Framebuffer{
		Width:   int(buf[phys]),
		Height:  int(buf[phys+1]),
		Pitch:   int(buf[pitch]),
		Order:   PixelOrder(buf[order]),
		BusAddr: buf[alloc],
		Size:    int(buf[alloc+1]),
	}, nil
}

// BlankScreen blanks or unblanks the display and reports the resulting
// state.
func (m *Mailbox) BlankScreen(blank bool) (bool, error) {
	var state uint32
	if blank {
		state = 1
	}
	msg := newMessage()
	i := msg.tag(tagBlankScreen, 4, state)
	if err := m.call(msg); err != nil {
		return false, fmt.Errorf("mailbox: blank screen: %w", err)
	}
	return msg.buf[i]&1 != 0, nil
}

// PhysicalSize returns the physical display size.
func (m *Mailbox) PhysicalSize() (width, height int, err error) {
	msg := newMessage()
	i := msg.tag(tagPhysicalSize, 8)
	if err := m.call(msg); err != nil {
		return 0, 0, fmt.Errorf("mailbox: physical size: %w", err)
	}
	return int(msg.buf[i]), int(msg.buf[i+1]), nil
}

// SerialNumber returns the board serial number.
func (m *Mailbox) SerialNumber() (uint64, error) {
	msg := newMessage()
	i := msg.tag(tagSerialNumber, 8)
	if err := m.call(msg); err != nil {
		return 0, fmt.Errorf("mailbox: serial number: %w", err)
	}
	return uint64(msg.buf[i]) | uint64(msg.buf[i+1])<<32, nil
}

// MemorySplit is a range of memory assigned to the ARM or the
// VideoCore.
type MemorySplit struct {
	Base, Size uint32
}

// ARMMemory returns the memory assigned to the ARM.
func (m *Mailbox) ARMMemory() (MemorySplit, error) {
	return m.memory(tagARMMemory, "arm memory")
}

// VCMemory returns the memory assigned to the VideoCore.
func (m *Mailbox) VCMemory() (MemorySplit, error) {
	return m.memory(tagVCMemory, "vc memory")
}

func (m *Mailbox) memory(tag uint32, name string) (MemorySplit, error) {
	msg := newMessage()
	i := msg.tag(tag, 8)
	if err := m.call(msg); err != nil {
		return MemorySplit{}, fmt.Errorf("mailbox: %s: %w", name, err)
	}
	return MemorySplit{Base: msg.buf[i], Size: msg.buf[i+1]}, nil
}

// Temperature returns the temperature of sensor id in thousandths of a
// degree Celsius. Sensor 0 is the SoC.
func (m *Mailbox) Temperature(id uint32) (int, error) {
	msg := newMessage()
	i := msg.tag(tagTemperature, 8, id)
	if err := m.call(msg); err != nil {
		return 0, fmt.Errorf("mailbox: temperature: %w", err)
	}
	return int(msg.buf[i+1]), nil
}

// CursorCoords selects the coordinate space of the hardware cursor.
type CursorCoords uint32

const (
	CursorDisplay     CursorCoords = 0
	CursorFramebuffer CursorCoords = 1
)

// SetCursor shows or hides the hardware cursor at (x, y).
func (m *Mailbox) SetCursor(visible bool, x, y int, coords CursorCoords) error {
	var vis uint32
	if visible {
		vis = 1
	}
	msg := newMessage()
	i := msg.tag(tagSetCursorState, 16, vis, uint32(x), uint32(y), uint32(coords))
	if err := m.call(msg); err != nil {
		return fmt.Errorf("mailbox: cursor: %w", err)
	}
	if st := msg.buf[i]; st != 0 {
		return fmt.Errorf("mailbox: cursor: invalid state %d", st)
	}
	return nil
}
