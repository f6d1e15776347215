// package dma implements a driver for the BCM2837 DMA controller.
package dma

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Channel is a single DMA engine. Whether the channel is idle or active
// is owned by the hardware and sampled on every query.
type Channel struct {
	regs Registers
	id   int

	// Timeout bounds Reset, Wait and Abort. A zero Timeout spins until
	// the hardware responds, which is forever for a stuck engine.
	Timeout time.Duration
}

var (
	ErrMisaligned  = errors.New("dma: control block not 32-byte aligned")
	ErrBusy        = errors.New("dma: channel active")
	ErrTimeout     = errors.New("dma: timeout waiting for channel")
	ErrLiteChannel = errors.New("dma: lite channel can't do 2D transfers")
	ErrTransfer    = errors.New("dma: transfer failed")
)

// NewChannel returns the channel with registers regs.
func NewChannel(regs Registers, id int) *Channel {
	return &Channel{regs: regs, id: id}
}

func (c *Channel) ID() int {
	return c.id
}

// Lite reports whether the channel is a reduced DMA engine without
// 2D support.
func (c *Channel) Lite() bool {
	return c.regs.Read(regDEBUG)&debugLite != 0
}

// Reset resets the channel and waits for the reset to complete.
func (c *Channel) Reset() error {
	c.regs.Write(regCS, csReset)
	if err := c.spin(func() bool { return c.regs.Read(regCS)&csReset != 0 }); err != nil {
		return fmt.Errorf("dma: channel %d: reset: %w", c.id, err)
	}
	return nil
}

// Start starts the transfer described by the control block at bus
// address cb. All writes to the control block and the memory it
// references are made visible to the engine before it starts.
func (c *Channel) Start(cb uint32) error {
	if cb%ControlBlockAlign != 0 {
		return fmt.Errorf("dma: channel %d: control block %#08x: %w", c.id, cb, ErrMisaligned)
	}
	if c.Busy() {
		return fmt.Errorf("dma: channel %d: %w", c.id, ErrBusy)
	}
	barrier()
	// Clear stale error flags and the END and INT bits, which are
	// write-1-to-clear.
	c.regs.Write(regDEBUG, debugErrors)
	c.regs.Write(regCONBLK_AD, cb)
	c.regs.Write(regCS, csWaitOutstandingWrites|csEnd|csInt|csActive)
	return nil
}

// Busy reports whether a transfer is active.
func (c *Channel) Busy() bool {
	return c.regs.Read(regCS)&csActive != 0
}

// Wait blocks until the channel is idle. Memory written by the
// engine is visible to the caller once Wait returns.
func (c *Channel) Wait() error {
	barrier()
	err := c.spin(c.Busy)
	barrier()
	if err != nil {
		return fmt.Errorf("dma: channel %d: wait: %w", c.id, err)
	}
	return nil
}

// Err returns a *TransferError if the channel reports errors from
// the last transfer.
func (c *Channel) Err() error {
	cs := c.regs.Read(regCS)
	dbg := c.regs.Read(regDEBUG)
	if cs&csError == 0 && dbg&(debugErrors|debugOutstandingWritesMask) == 0 {
		return nil
	}
	return &TransferError{Channel: c.id, CS: cs, Debug: dbg}
}

// Abort aborts the current control block and resets the channel.
func (c *Channel) Abort() error {
	c.regs.Write(regCS, csAbort)
	if err := c.spin(func() bool { return c.regs.Read(regCS)&csAbort != 0 }); err != nil {
		return fmt.Errorf("dma: channel %d: abort: %w", c.id, err)
	}
	return c.Reset()
}

func (c *Channel) spin(cond func() bool) error {
	if c.Timeout <= 0 {
		for cond() {
		}
		return nil
	}
	deadline := time.Now().Add(c.Timeout)
	for cond() {
		if time.Now().After(deadline) {
			return ErrTimeout
		}
	}
	return nil
}

func (c *Channel) String() string {
	return fmt.Sprintf("dma%d", c.id)
}

// TransferError describes the error conditions reported by a channel
// after a transfer.
type TransferError struct {
	Channel int
	// CS and Debug are the raw register values.
	CS, Debug uint32
}

func (e *TransferError) ReadLastNotSet() bool {
	return e.Debug&debugReadLastNotSet != 0
}

func (e *TransferError) FIFOError() bool {
	return e.Debug&debugFIFOError != 0
}

func (e *TransferError) ReadError() bool {
	return e.Debug&debugReadError != 0
}

// OutstandingWrites returns the number of writes the engine had not
// completed.
func (e *TransferError) OutstandingWrites() int {
	return int(e.Debug&debugOutstandingWritesMask) >> debugOutstandingWritesShift
}

// Conditions lists the triggering conditions.
func (e *TransferError) Conditions() []string {
	var conds []string
	if e.CS&csError != 0 {
		conds = append(conds, "error")
	}
	if e.ReadLastNotSet() {
		conds = append(conds, "read last not set")
	}
	if e.FIFOError() {
		conds = append(conds, "fifo error")
	}
	if e.ReadError() {
		conds = append(conds, "read error")
	}
	if n := e.OutstandingWrites(); n > 0 {
		conds = append(conds, fmt.Sprintf("%d outstanding writes", n))
	}
	return conds
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("dma: channel %d: transfer failed: %s (cs %#08x debug %#08x)",
		e.Channel, strings.Join(e.Conditions(), ", "), e.CS, e.Debug)
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransfer
}
