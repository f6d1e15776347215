// Package pmem describes physically contiguous memory that is visible both
// to the CPU, through a process-local mapping, and to bus masters such as
// the DMA engine, through a bus address.
package pmem

import (
	"errors"
	"fmt"
	"unsafe"
)

// Alias selects the cache coherency domain a bus master uses
// when accessing memory. It occupies the top two bits of a bus address.
type Alias uint32

const (
	// AliasL1L2Cached routes accesses through the L1 and L2 caches.
	AliasL1L2Cached Alias = 0x0000_0000
	// AliasL2Coherent routes accesses through the coherent L2 cache.
	AliasL2Coherent Alias = 0x4000_0000
	// AliasL2Cached routes accesses through L2 only.
	AliasL2Cached Alias = 0x8000_0000
	// AliasDirect bypasses the caches. Memory allocated by the VideoCore
	// with the direct flag must be addressed through this alias.
	AliasDirect Alias = 0xC000_0000

	aliasMask = 0xC000_0000
)

// ToBus returns the bus address of addr through alias a. Any alias bits
// already present in addr are replaced, so ToBus is idempotent.
func ToBus(addr uint32, a Alias) uint32 {
	return addr&^aliasMask | uint32(a)
}

// ToPhys strips the alias bits from a bus address.
func ToPhys(bus uint32) uint32 {
	return bus &^ aliasMask
}

// Mem is an allocation of physical memory, such as a *videocore.Mem or a
// *pmem.View from periph.io.
type Mem interface {
	Bytes() []byte
	PhysAddr() uint64
}

// Region is a range of physically contiguous memory with both a local
// view and a bus address. Regions are never grown; they are only split
// or truncated.
type Region struct {
	buf   []byte
	phys  uint32
	alias Alias
}

var (
	ErrEmpty    = errors.New("pmem: empty region")
	ErrNoAddr   = errors.New("pmem: zero physical address")
	ErrRange    = errors.New("pmem: out of range")
	ErrAlign    = errors.New("pmem: misaligned view")
	errTooLarge = errors.New("pmem: physical address exceeds 32 bits")
)

// New returns a region for buf located at physical address phys.
// Any alias bits in phys are ignored in favour of alias.
func New(buf []byte, phys uint32, alias Alias) (*Region, error) {
	if len(buf) == 0 {
		return nil, ErrEmpty
	}
	if ToPhys(phys) == 0 {
		return nil, ErrNoAddr
	}
	return &Region{
		buf:   buf,
		phys:  ToPhys(phys),
		alias: alias,
	}, nil
}

// FromMem wraps an existing physical memory allocation.
func FromMem(m Mem, alias Alias) (*Region, error) {
	p := m.PhysAddr()
	if p > 0xffff_ffff {
		return nil, errTooLarge
	}
	return New(m.Bytes(), uint32(p), alias)
}

// Size returns the length of the region in bytes.
func (r *Region) Size() int {
	return len(r.buf)
}

// Bytes returns the local view of the region.
func (r *Region) Bytes() []byte {
	return r.buf
}

// PhysAddr returns the physical address of the start of the region.
func (r *Region) PhysAddr() uint32 {
	return r.phys
}

// BusAddr returns the address a bus master must use to reach the start
// of the region. Addresses handed to the DMA engine must always be bus
// addresses.
func (r *Region) BusAddr() uint32 {
	return ToBus(r.phys, r.alias)
}

// Alias returns the coherency alias of the region.
func (r *Region) Alias() Alias {
	return r.alias
}

// Split cuts the region at offset. The returned region covers [0, offset)
// and r is advanced to cover [offset, Size()).
func (r *Region) Split(offset int) (*Region, error) {
	if offset < 0 || offset >= len(r.buf) {
		return nil, fmt.Errorf("pmem: split at %d of %d bytes: %w", offset, len(r.buf), ErrRange)
	}
	front := &Region{
		buf:   r.buf[:offset:offset],
		phys:  r.phys,
		alias: r.alias,
	}
	r.buf = r.buf[offset:]
	r.phys += uint32(offset)
	return front, nil
}

// Truncate shrinks the region to n bytes without moving its start.
func (r *Region) Truncate(n int) error {
	if n < 0 || n > len(r.buf) {
		return fmt.Errorf("pmem: truncate to %d of %d bytes: %w", n, len(r.buf), ErrRange)
	}
	r.buf = r.buf[:n:n]
	return nil
}

// Uint32s returns the first count words of the region.
func (r *Region) Uint32s(count int) ([]uint32, error) {
	return View[uint32](r, count)
}

// View returns the first count elements of the region as a slice of T.
// It fails if the elements don't fit in the region or if the local view
// isn't suitably aligned for T.
func View[T any](r *Region, count int) ([]T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if count < 0 || size == 0 || count > len(r.buf)/size {
		return nil, fmt.Errorf("pmem: view of %d × %d bytes in %d bytes: %w", count, size, len(r.buf), ErrRange)
	}
	if count == 0 {
		return []T{}, nil
	}
	p := unsafe.Pointer(unsafe.SliceData(r.buf))
	if uintptr(p)%unsafe.Alignof(zero) != 0 {
		return nil, ErrAlign
	}
	return unsafe.Slice((*T)(p), count), nil
}

func (r *Region) String() string {
	return fmt.Sprintf("pmem[%#08x+%d bus %#08x]", r.phys, len(r.buf), r.BusAddr())
}
