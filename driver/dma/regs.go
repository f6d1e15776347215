package dma

import (
	"sync/atomic"
	"unsafe"
)

// Registers is a window of 32-bit memory mapped registers,
// addressed by byte offset.
type Registers interface {
	Read(off uint32) uint32
	Write(off uint32, val uint32)
}

// Channel register offsets.
const (
	regCS        = 0x00
	regCONBLK_AD = 0x04
	regTI        = 0x08
	regSOURCE_AD = 0x0c
	regDEST_AD   = 0x10
	regTXFR_LEN  = 0x14
	regSTRIDE    = 0x18
	regNEXTCONBK = 0x1c
	regDEBUG     = 0x20

	channelSize = 0x100
)

// Global register offsets, relative to the channel 0 base.
const (
	regINT_STATUS = 0xfe0
	regENABLE     = 0xff0

	pageSize = 0x1000
)

// CS bits.
const (
	csActive                  = 1 << 0
	csEnd                     = 1 << 1
	csInt                     = 1 << 2
	csDREQ                    = 1 << 3
	csPaused                  = 1 << 4
	csDREQStopsDMA            = 1 << 5
	csWaitingOutstandingWrite = 1 << 6
	csError                   = 1 << 8
	csWaitOutstandingWrites   = 1 << 28
	csDisableDebug            = 1 << 29
	csAbort                   = 1 << 30
	csReset                   = 1 << 31
)

// DEBUG bits.
const (
	debugReadLastNotSet = 1 << 0
	debugFIFOError      = 1 << 1
	debugReadError      = 1 << 2
	debugErrors         = debugReadLastNotSet | debugFIFOError | debugReadError

	debugOutstandingWritesShift = 4
	debugOutstandingWritesMask  = 0xf << debugOutstandingWritesShift

	debugLite = 1 << 28
)

// Exported DEBUG bits for fault injection in the Simulator.
const (
	DebugReadLastNotSet = debugReadLastNotSet
	DebugFIFOError      = debugFIFOError
	DebugReadError      = debugReadError
)

// mmio accesses registers in mapped device memory. Every access is
// atomic, which also orders it against surrounding memory operations.
type mmio []uint32

func newMMIO(b []byte) mmio {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/4)
}

func (m mmio) Read(off uint32) uint32 {
	return atomic.LoadUint32(&m[off/4])
}

func (m mmio) Write(off uint32, val uint32) {
	atomic.StoreUint32(&m[off/4], val)
}

// window is a Registers view at a fixed offset into another.
type window struct {
	regs Registers
	base uint32
}

func (w window) Read(off uint32) uint32 {
	return w.regs.Read(w.base + off)
}

func (w window) Write(off uint32, val uint32) {
	w.regs.Write(w.base+off, val)
}

var fence atomic.Uint32

// barrier orders all prior memory accesses before all subsequent ones,
// including accesses by bus masters reading memory written by the CPU.
//
// The atomic only orders accesses between CPU cores; it is not a DMB SY.
// Buffers shared with the engine must be mapped through the direct
// (uncached) alias, as fbdemo does by default.
func barrier() {
	fence.Add(1)
}
