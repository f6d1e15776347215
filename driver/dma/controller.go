package dma

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"sync"

	"periph.io/x/host/v3/bcm283x"
	ppmem "periph.io/x/host/v3/pmem"
)

const (
	// NumChannels is the number of DMA channels, including channel 15
	// which lives outside the main register page.
	NumChannels = 16

	dmaOffset   = 0x0000_7000
	dma15Offset = 0x00e0_5000

	// Peripheral base of the BCM2837 when the device tree can't be read.
	defaultPeriphBase = 0x3f00_0000
)

// Controller is the DMA controller: channels 0-14 and the global
// enable and interrupt status registers in one page, and channel 15
// on its own.
type Controller struct {
	page Registers
	ch15 Registers

	mu sync.Mutex
	// reserved tracks the bitset of reserved channels.
	reserved uint16
	closers  []io.Closer
}

// NewController returns a controller for the given register pages.
// ch15 may be nil, in which case channel 15 is unavailable.
func NewController(page, ch15 Registers) *Controller {
	return &Controller{page: page, ch15: ch15}
}

// Open maps the DMA controller registers through /dev/mem.
func Open() (*Controller, error) {
	if !bcm283x.Present() {
		return nil, errors.New("dma: no bcm283x DMA controller found")
	}
	base := PeripheralBase()
	v, err := ppmem.Map(base+dmaOffset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("dma: %w", err)
	}
	v15, err := ppmem.Map(base+dma15Offset, channelSize)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("dma: %w", err)
	}
	c := NewController(newMMIO(v.Bytes()), newMMIO(v15.Bytes()))
	c.closers = []io.Closer{v, v15}
	return c, nil
}

// PeripheralBase returns the physical base address of the peripherals,
// read from the device tree.
func PeripheralBase() uint64 {
	ranges, err := os.ReadFile("/proc/device-tree/soc/ranges")
	if err != nil {
		return defaultPeriphBase
	}
	return parseRanges(ranges)
}

func parseRanges(ranges []byte) uint64 {
	if len(ranges) < 12 {
		return defaultPeriphBase
	}
	// The parent address is one cell on the BCM2837 and two cells on
	// later SoCs, where the first cell is zero.
	if base := binary.BigEndian.Uint32(ranges[4:8]); base != 0 {
		return uint64(base)
	}
	return uint64(binary.BigEndian.Uint32(ranges[8:12]))
}

// Channel returns channel n.
func (c *Controller) Channel(n int) (*Channel, error) {
	switch {
	case n >= 0 && n < NumChannels-1:
		return NewChannel(window{c.page, uint32(n) * channelSize}, n), nil
	case n == NumChannels-1 && c.ch15 != nil:
		return NewChannel(c.ch15, n), nil
	default:
		return nil, fmt.Errorf("dma: no channel %d", n)
	}
}

// Enable enables channel n in the global enable register.
func (c *Controller) Enable(n int) error {
	if n < 0 || n >= NumChannels {
		return fmt.Errorf("dma: no channel %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page.Write(regENABLE, c.page.Read(regENABLE)|1<<n)
	return nil
}

// IntStatus returns the bitset of channels with a pending interrupt.
func (c *Controller) IntStatus() uint16 {
	return uint16(c.page.Read(regINT_STATUS))
}

// Reserve reserves the highest numbered free channel. Channels in use
// by the firmware or the kernel must be reserved with ReserveChannel
// before calling Reserve. If full is set, lite channels are skipped.
func (c *Controller) Reserve(full bool) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	free := ^c.reserved
	for free != 0 {
		n := 15 - bits.LeadingZeros16(free)
		free &^= 1 << n
		ch, err := c.Channel(n)
		if err != nil {
			continue
		}
		if full && ch.Lite() {
			continue
		}
		c.reserved |= 1 << n
		return ch, nil
	}
	return nil, errors.New("dma: no available DMA channel")
}

// ReserveChannel reserves channel n.
func (c *Controller) ReserveChannel(n int) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= 0 && n < NumChannels && c.reserved&(1<<n) != 0 {
		return nil, fmt.Errorf("dma: channel %d already reserved", n)
	}
	ch, err := c.Channel(n)
	if err != nil {
		return nil, err
	}
	c.reserved |= 1 << n
	return ch, nil
}

// Release returns channel n to the pool.
func (c *Controller) Release(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved &^= 1 << n
}

// Close unmaps the registers of a controller returned by Open.
func (c *Controller) Close() error {
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
