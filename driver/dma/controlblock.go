package dma

import (
	"errors"
	"fmt"

	"pidisplay.dev/pmem"
)

// ControlBlock describes a single transfer. The layout is defined by
// the hardware: eight words, starting at a 32-byte aligned address.
type ControlBlock struct {
	TI        uint32
	SourceAd  uint32
	DestAd    uint32
	TxfrLen   uint32
	Stride    uint32
	NextConBK uint32
	_         [2]uint32
}

const (
	// ControlBlockSize is the size of a ControlBlock in bytes.
	ControlBlockSize = 32
	// ControlBlockAlign is the required alignment of control block
	// bus addresses.
	ControlBlockAlign = 32
)

// TI bits.
const (
	tiIntEnable     = 1 << 0
	tiTDMode        = 1 << 1
	tiWaitResp      = 1 << 3
	tiDestInc       = 1 << 4
	tiDestWidth     = 1 << 5
	tiDestDREQ      = 1 << 6
	tiDestIgnore    = 1 << 7
	tiSrcInc        = 1 << 8
	tiSrcWidth      = 1 << 9
	tiSrcDREQ       = 1 << 10
	tiSrcIgnore     = 1 << 11
	tiNoWideBursts  = 1 << 26
	tiBurstShift    = 12
	tiBurstMask     = 0xf
	tiPermapShift   = 16
	tiPermapMask    = 0x1f
	tiWaitsShift    = 21
	tiWaitsMask     = 0x1f
	maxLinearLength = 1<<30 - 1
	maxRowBytes     = 0xffff
	maxRows         = 0x3fff + 1
	rowsShift       = 16
)

// Side describes how the engine accesses one side of a transfer.
type Side struct {
	// Inc increments the address after each access.
	Inc bool
	// Width128 selects 128-bit accesses instead of 32-bit.
	Width128 bool
	// DREQ gates accesses on the peripheral's data request signal.
	DREQ bool
	// Ignore skips accesses on this side altogether.
	Ignore bool
}

// TransferInfo is the decoded form of the TI word.
type TransferInfo struct {
	IntEnable bool
	// Mode2D selects 2D transfers. Not supported by lite channels.
	Mode2D   bool
	WaitResp bool
	Dest     Side
	Src      Side
	// BurstLength is the number of beats in a burst, minus one.
	BurstLength uint8
	// PeripheralMap selects the peripheral gating DREQ accesses.
	PeripheralMap uint8
	// Waits is the number of dummy cycles after each write.
	Waits        uint8
	NoWideBursts bool
}

var (
	ErrField      = errors.New("dma: field out of range")
	ErrLengthMode = errors.New("dma: length mode doesn't match transfer info")
)

// Encode returns the TI word for ti.
func (ti TransferInfo) Encode() (uint32, error) {
	if ti.BurstLength > tiBurstMask {
		return 0, fmt.Errorf("dma: burst length %d: %w", ti.BurstLength, ErrField)
	}
	if ti.PeripheralMap > tiPermapMask {
		return 0, fmt.Errorf("dma: peripheral map %d: %w", ti.PeripheralMap, ErrField)
	}
	if ti.Waits > tiWaitsMask {
		return 0, fmt.Errorf("dma: waits %d: %w", ti.Waits, ErrField)
	}
	var w uint32
	set := func(cond bool, bit uint32) {
		if cond {
			w |= bit
		}
	}
	set(ti.IntEnable, tiIntEnable)
	set(ti.Mode2D, tiTDMode)
	set(ti.WaitResp, tiWaitResp)
	set(ti.Dest.Inc, tiDestInc)
	set(ti.Dest.Width128, tiDestWidth)
	set(ti.Dest.DREQ, tiDestDREQ)
	set(ti.Dest.Ignore, tiDestIgnore)
	set(ti.Src.Inc, tiSrcInc)
	set(ti.Src.Width128, tiSrcWidth)
	set(ti.Src.DREQ, tiSrcDREQ)
	set(ti.Src.Ignore, tiSrcIgnore)
	set(ti.NoWideBursts, tiNoWideBursts)
	w |= uint32(ti.BurstLength) << tiBurstShift
	w |= uint32(ti.PeripheralMap) << tiPermapShift
	w |= uint32(ti.Waits) << tiWaitsShift
	return w, nil
}

// DecodeTransferInfo is the inverse of TransferInfo.Encode.
func DecodeTransferInfo(w uint32) TransferInfo {
	return TransferInfo{
		IntEnable: w&tiIntEnable != 0,
		Mode2D:    w&tiTDMode != 0,
		WaitResp:  w&tiWaitResp != 0,
		Dest: Side{
			Inc:      w&tiDestInc != 0,
			Width128: w&tiDestWidth != 0,
			DREQ:     w&tiDestDREQ != 0,
			Ignore:   w&tiDestIgnore != 0,
		},
		Src: Side{
			Inc:      w&tiSrcInc != 0,
			Width128: w&tiSrcWidth != 0,
			DREQ:     w&tiSrcDREQ != 0,
			Ignore:   w&tiSrcIgnore != 0,
		},
		BurstLength:   uint8(w >> tiBurstShift & tiBurstMask),
		PeripheralMap: uint8(w >> tiPermapShift & tiPermapMask),
		Waits:         uint8(w >> tiWaitsShift & tiWaitsMask),
		NoWideBursts:  w&tiNoWideBursts != 0,
	}
}

// Length is the transfer length: either a linear byte count or
// a 2D shape of rows.
type Length struct {
	Mode2D bool
	// Bytes is the linear byte count, or the bytes per row in 2D mode.
	Bytes uint32
	// Rows is the number of rows in 2D mode.
	Rows uint32
}

// Linear returns the length of an n byte linear transfer.
func Linear(n uint32) Length {
	return Length{Bytes: n}
}

// Rect returns the length of a 2D transfer of rows rows of rowBytes
// bytes each.
func Rect(rowBytes, rows uint32) Length {
	return Length{Mode2D: true, Bytes: rowBytes, Rows: rows}
}

// Encode returns the TXFR_LEN word for l. The hardware transfers one row
// more than the count stored in the word, so a 2D length stores rows-1.
func (l Length) Encode() (uint32, error) {
	if !l.Mode2D {
		if l.Bytes > maxLinearLength {
			return 0, fmt.Errorf("dma: length %d: %w", l.Bytes, ErrField)
		}
		return l.Bytes, nil
	}
	if l.Bytes > maxRowBytes {
		return 0, fmt.Errorf("dma: row length %d: %w", l.Bytes, ErrField)
	}
	if l.Rows < 1 || l.Rows > maxRows {
		return 0, fmt.Errorf("dma: row count %d: %w", l.Rows, ErrField)
	}
	return l.Bytes | (l.Rows-1)<<rowsShift, nil
}

// DecodeLength is the inverse of Length.Encode.
func DecodeLength(w uint32, mode2D bool) Length {
	if !mode2D {
		return Linear(w & maxLinearLength)
	}
	return Rect(w&maxRowBytes, (w>>rowsShift)&(maxRows-1)+1)
}

// encodeStride packs the signed per-row source and destination
// adjustments.
func encodeStride(src, dst int16) uint32 {
	return uint32(uint16(src)) | uint32(uint16(dst))<<16
}

// DecodeStride is the inverse of the STRIDE encoding.
func DecodeStride(w uint32) (src, dst int16) {
	return int16(uint16(w)), int16(uint16(w >> 16))
}

// Transfer is the description of a transfer that is written to a
// control block.
type Transfer struct {
	Info   TransferInfo
	Length Length
	// Src and Dst are physical or bus addresses. Alias is applied to both
	// before they are stored.
	Src, Dst uint32
	// SrcStride and DstStride are signed byte adjustments applied after
	// each row of a 2D transfer.
	SrcStride, DstStride int16
	// Next is the address of the next control block, or 0 to end the
	// chain.
	Next  uint32
	Alias pmem.Alias
}

// Reset zeroes the control block, including the next pointer.
func (cb *ControlBlock) Reset() {
	*cb = ControlBlock{}
}

// Configure overwrites the control block with t. The control block is
// left zeroed if t is invalid.
func (cb *ControlBlock) Configure(t Transfer) error {
	cb.Reset()
	if t.Info.Mode2D != t.Length.Mode2D {
		return ErrLengthMode
	}
	if t.Next%ControlBlockAlign != 0 {
		return fmt.Errorf("dma: next control block %#08x: %w", t.Next, ErrMisaligned)
	}
	ti, err := t.Info.Encode()
	if err != nil {
		return err
	}
	length, err := t.Length.Encode()
	if err != nil {
		return err
	}
	var next uint32
	if t.Next != 0 {
		next = pmem.ToBus(t.Next, t.Alias)
	}
	*cb = ControlBlock{
		TI:        ti,
		SourceAd:  pmem.ToBus(t.Src, t.Alias),
		DestAd:    pmem.ToBus(t.Dst, t.Alias),
		TxfrLen:   length,
		Stride:    encodeStride(t.SrcStride, t.DstStride),
		NextConBK: next,
	}
	return nil
}

// Transfer decodes the control block.
func (cb *ControlBlock) Transfer() Transfer {
	info := DecodeTransferInfo(cb.TI)
	src, dst := DecodeStride(cb.Stride)
	return Transfer{
		Info:      info,
		Length:    DecodeLength(cb.TxfrLen, info.Mode2D),
		Src:       cb.SourceAd,
		Dst:       cb.DestAd,
		SrcStride: src,
		DstStride: dst,
		Next:      cb.NextConBK,
	}
}

func (cb *ControlBlock) String() string {
	return fmt.Sprintf("cb{ti %#08x src %#08x dst %#08x len %#08x stride %#08x next %#08x}",
		cb.TI, cb.SourceAd, cb.DestAd, cb.TxfrLen, cb.Stride, cb.NextConBK)
}
