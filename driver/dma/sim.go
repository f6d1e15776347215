package dma

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"pidisplay.dev/pmem"
)

// Simulator is an in-process DMA controller operating on a simulated
// physical memory arena. Transfers run to completion synchronously when
// a channel is activated, unless the channel is stalled.
type Simulator struct {
	mu     sync.Mutex
	mem    []byte
	base   uint32
	next   int
	chans  [NumChannels]simChannel
	enable uint32
	writes int
}

type simChannel struct {
	regs [regDEBUG/4 + 1]uint32
	lite bool
	// fault is OR'ed into DEBUG after the next transfer.
	fault   uint32
	stalled bool
	// transfers counts completed control blocks.
	transfers int
}

const (
	simMemBase = 0x0800_0000
	simPage    = 4096
	// First and last lite channel on the BCM2837.
	firstLite = 7
	lastLite  = 14
)

var errSimFault = errors.New("dma: simulated address fault")

// NewSimulator returns a simulator with size bytes of memory.
func NewSimulator(size int) *Simulator {
	s := &Simulator{
		mem:  make([]byte, size),
		base: simMemBase,
	}
	for i := range s.chans {
		s.chans[i].lite = i >= firstLite && i <= lastLite
	}
	return s
}

// Controller returns a Controller backed by the simulator.
func (s *Simulator) Controller() *Controller {
	return NewController(simPage0{s}, simPage15{s})
}

// Alloc allocates a page aligned region of simulated memory.
func (s *Simulator) Alloc(size int, alias pmem.Alias) (*pmem.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size <= 0 || s.next+size > len(s.mem) {
		return nil, fmt.Errorf("dma: simulator: can't allocate %d bytes", size)
	}
	off := s.next
	s.next += (size + simPage - 1) &^ (simPage - 1)
	return pmem.New(s.mem[off:off+size:off+size], s.base+uint32(off), alias)
}

// InjectFault makes the next transfer on channel n report the given
// DEBUG error bits.
func (s *Simulator) InjectFault(n int, debug uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chans[n].fault |= debug
}

// Stall freezes channel n: activations, resets and aborts are accepted
// but never complete until the channel is released.
func (s *Simulator) Stall(n int, stalled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := &s.chans[n]
	ch.stalled = stalled
	if stalled {
		return
	}
	cs := ch.regs[regCS/4]
	if cs&csReset != 0 {
		s.reset(ch)
		return
	}
	if cs&csAbort != 0 {
		ch.regs[regCS/4] &^= csAbort | csActive
		return
	}
	if cs&csActive != 0 {
		s.run(n)
	}
}

// Transfers returns the number of control blocks executed by channel n.
func (s *Simulator) Transfers(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chans[n].transfers
}

// RegisterWrites returns the total number of register writes.
func (s *Simulator) RegisterWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type simPage0 struct{ s *Simulator }

func (p simPage0) Read(off uint32) uint32 {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	switch off {
	case regENABLE:
		return s.enable
	case regINT_STATUS:
		var st uint32
		for i := range s.chans {
			if s.chans[i].regs[regCS/4]&csInt != 0 {
				st |= 1 << i
			}
		}
		return st
	}
	return s.readChannel(int(off/channelSize), off%channelSize)
}

func (p simPage0) Write(off uint32, val uint32) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	switch off {
	case regENABLE:
		s.enable = val & 0xffff
		return
	case regINT_STATUS:
		return
	}
	s.writeChannel(int(off/channelSize), off%channelSize, val)
}

type simPage15 struct{ s *Simulator }

func (p simPage15) Read(off uint32) uint32 {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readChannel(NumChannels-1, off)
}

func (p simPage15) Write(off uint32, val uint32) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.writeChannel(NumChannels-1, off, val)
}

func (s *Simulator) readChannel(n int, reg uint32) uint32 {
	if reg > regDEBUG {
		return 0
	}
	ch := &s.chans[n]
	v := ch.regs[reg/4]
	if reg == regDEBUG && ch.lite {
		v |= debugLite
	}
	return v
}

func (s *Simulator) writeChannel(n int, reg uint32, val uint32) {
	if reg > regDEBUG {
		return
	}
	ch := &s.chans[n]
	switch reg {
	case regCS:
		cs := ch.regs[regCS/4]
		switch {
		case val&csReset != 0:
			ch.regs[regCS/4] = cs | csReset
			if !ch.stalled {
				s.reset(ch)
			}
			return
		case val&csAbort != 0:
			ch.regs[regCS/4] = cs | csAbort
			if !ch.stalled {
				ch.regs[regCS/4] &^= csAbort | csActive
			}
			return
		}
		// END and INT are write-1-to-clear.
		cs &^= val & (csEnd | csInt)
		const writable = csActive | 0xff<<16 | csWaitOutstandingWrites | csDisableDebug
		cs = cs&^writable | val&writable
		ch.regs[regCS/4] = cs
		if cs&csActive != 0 && !ch.stalled {
			s.run(n)
		}
	case regCONBLK_AD:
		ch.regs[regCONBLK_AD/4] = val
	case regDEBUG:
		ch.regs[regDEBUG/4] &^= val & debugErrors
		if ch.regs[regDEBUG/4]&debugErrors == 0 {
			ch.regs[regCS/4] &^= csError
		}
	}
}

func (s *Simulator) reset(ch *simChannel) {
	ch.regs = [len(ch.regs)]uint32{}
}

// run executes the control block chain of channel n.
func (s *Simulator) run(n int) {
	ch := &s.chans[n]
	regs := &ch.regs
	// Writes left over from an earlier transfer have drained.
	regs[regDEBUG/4] &^= debugOutstandingWritesMask
	addr := regs[regCONBLK_AD/4]
	intr := false
	for addr != 0 {
		var cb ControlBlock
		if err := s.loadControlBlock(addr, &cb); err != nil {
			regs[regDEBUG/4] |= debugReadError
			break
		}
		regs[regTI/4] = cb.TI
		regs[regSOURCE_AD/4] = cb.SourceAd
		regs[regDEST_AD/4] = cb.DestAd
		regs[regTXFR_LEN/4] = cb.TxfrLen
		regs[regSTRIDE/4] = cb.Stride
		regs[regNEXTCONBK/4] = cb.NextConBK
		if ch.lite {
			// Lite engines ignore TDMODE and have 16-bit lengths.
			cb.TI &^= tiTDMode
			cb.TxfrLen &= 0xffff
		}
		if err := s.execute(&cb); err != nil {
			regs[regDEBUG/4] |= debugReadError
			break
		}
		ch.transfers++
		if cb.TI&tiIntEnable != 0 {
			intr = true
		}
		addr = cb.NextConBK
		regs[regCONBLK_AD/4] = addr
	}
	regs[regDEBUG/4] |= ch.fault
	ch.fault = 0
	cs := regs[regCS/4]&^csActive | csEnd
	if intr {
		cs |= csInt
	}
	if regs[regDEBUG/4]&debugErrors != 0 {
		cs |= csError
	}
	regs[regCS/4] = cs
}

func (s *Simulator) loadControlBlock(addr uint32, cb *ControlBlock) error {
	if addr%ControlBlockAlign != 0 {
		return errSimFault
	}
	b, err := s.span(addr, ControlBlockSize)
	if err != nil {
		return err
	}
	*cb = ControlBlock{
		TI:        binary.LittleEndian.Uint32(b[0:]),
		SourceAd:  binary.LittleEndian.Uint32(b[4:]),
		DestAd:    binary.LittleEndian.Uint32(b[8:]),
		TxfrLen:   binary.LittleEndian.Uint32(b[12:]),
		Stride:    binary.LittleEndian.Uint32(b[16:]),
		NextConBK: binary.LittleEndian.Uint32(b[20:]),
	}
	return nil
}

// span returns the n bytes of memory at bus address addr.
func (s *Simulator) span(addr uint32, n int) ([]byte, error) {
	phys := pmem.ToPhys(addr)
	if phys < s.base {
		return nil, errSimFault
	}
	off := int(phys - s.base)
	if n < 0 || off+n > len(s.mem) {
		return nil, errSimFault
	}
	return s.mem[off : off+n], nil
}

func (s *Simulator) execute(cb *ControlBlock) error {
	t := cb.Transfer()
	info := t.Info
	rowBytes, rows := int(t.Length.Bytes), 1
	var srcStride, dstStride int
	if info.Mode2D {
		rows = int(t.Length.Rows)
		srcStride, dstStride = int(t.SrcStride), int(t.DstStride)
	}
	unit := func(sd Side) int {
		if sd.Width128 {
			return 16
		}
		return 4
	}
	extent := func(sd Side) int {
		if sd.Inc {
			return rowBytes
		}
		return min(rowBytes, unit(sd))
	}
	src, dst := int64(t.Src), int64(t.Dst)
	for range rows {
		var sb, db []byte
		var err error
		if !info.Src.Ignore {
			if sb, err = s.span(uint32(src), extent(info.Src)); err != nil {
				return err
			}
		}
		if !info.Dest.Ignore {
			if db, err = s.span(uint32(dst), extent(info.Dest)); err != nil {
				return err
			}
		}
		switch {
		case db == nil:
		case sb == nil:
			clear(db)
		case info.Src.Inc && info.Dest.Inc:
			copy(db, sb)
		default:
			for i := range rowBytes {
				si, di := i, i
				if !info.Src.Inc {
					si %= len(sb)
				}
				if !info.Dest.Inc {
					di %= len(db)
				}
				db[di] = sb[si]
			}
		}
		if info.Src.Inc {
			src += int64(rowBytes)
		}
		if info.Dest.Inc {
			dst += int64(rowBytes)
		}
		src += int64(srcStride)
		dst += int64(dstStride)
	}
	return nil
}
