package dma

import (
	"errors"
	"testing"
	"unsafe"

	"pidisplay.dev/pmem"
)

func TestControlBlockLayout(t *testing.T) {
	if got := unsafe.Sizeof(ControlBlock{}); got != ControlBlockSize {
		t.Errorf("sizeof(ControlBlock) = %d, want %d", got, ControlBlockSize)
	}
}

func TestTransferInfoRoundtrip(t *testing.T) {
	infos := []TransferInfo{
		{},
		{IntEnable: true, Mode2D: true, WaitResp: true},
		{
			Dest:         Side{Inc: true, Width128: true},
			Src:          Side{Inc: true, Width128: true},
			BurstLength:  4,
			NoWideBursts: true,
		},
		{
			Dest:          Side{DREQ: true, Ignore: true},
			Src:           Side{DREQ: true, Ignore: true},
			BurstLength:   15,
			PeripheralMap: 31,
			Waits:         31,
		},
	}
	for _, ti := range infos {
		w, err := ti.Encode()
		if err != nil {
			t.Fatalf("%+v: %v", ti, err)
		}
		if got := DecodeTransferInfo(w); got != ti {
			t.Errorf("%+v => %#08x => %+v", ti, w, got)
		}
	}
}

func TestTransferInfoBits(t *testing.T) {
	tests := []struct {
		ti   TransferInfo
		want uint32
	}{
		{TransferInfo{IntEnable: true}, 1 << 0},
		{TransferInfo{Mode2D: true}, 1 << 1},
		{TransferInfo{WaitResp: true}, 1 << 3},
		{TransferInfo{Dest: Side{Inc: true}}, 1 << 4},
		{TransferInfo{Dest: Side{Width128: true}}, 1 << 5},
		{TransferInfo{Dest: Side{DREQ: true}}, 1 << 6},
		{TransferInfo{Dest: Side{Ignore: true}}, 1 << 7},
		{TransferInfo{Src: Side{Inc: true}}, 1 << 8},
		{TransferInfo{Src: Side{Width128: true}}, 1 << 9},
		{TransferInfo{Src: Side{DREQ: true}}, 1 << 10},
		{TransferInfo{Src: Side{Ignore: true}}, 1 << 11},
		{TransferInfo{BurstLength: 4}, 4 << 12},
		{TransferInfo{PeripheralMap: 5}, 5 << 16},
		{TransferInfo{Waits: 2}, 2 << 21},
		{TransferInfo{NoWideBursts: true}, 1 << 26},
	}
	for _, test := range tests {
		got, err := test.ti.Encode()
		if err != nil {
			t.Fatal(err)
		}
		if got != test.want {
			t.Errorf("%+v encoded to %#08x, want %#08x", test.ti, got, test.want)
		}
	}
}

func TestTransferInfoRange(t *testing.T) {
	bad := []TransferInfo{
		{BurstLength: 16},
		{PeripheralMap: 32},
		{Waits: 32},
	}
	for _, ti := range bad {
		if _, err := ti.Encode(); !errors.Is(err, ErrField) {
			t.Errorf("%+v: got %v, want %v", ti, err, ErrField)
		}
	}
}

func TestLength(t *testing.T) {
	tests := []struct {
		l    Length
		want uint32
	}{
		{Linear(0), 0},
		{Linear(maxLinearLength), maxLinearLength},
		{Rect(3200, 1), 3200},
		{Rect(3200, 480), 3200 | 479<<16},
		{Rect(maxRowBytes, maxRows), maxRowBytes | 0x3fff<<16},
	}
	for _, test := range tests {
		got, err := test.l.Encode()
		if err != nil {
			t.Fatalf("%+v: %v", test.l, err)
		}
		if got != test.want {
			t.Errorf("%+v encoded to %#08x, want %#08x", test.l, got, test.want)
		}
		if dec := DecodeLength(got, test.l.Mode2D); dec != test.l {
			t.Errorf("%#08x decoded to %+v, want %+v", got, dec, test.l)
		}
	}
	bad := []Length{
		Linear(maxLinearLength + 1),
		Rect(maxRowBytes+1, 1),
		Rect(4, 0),
		Rect(4, maxRows+1),
	}
	for _, l := range bad {
		if _, err := l.Encode(); !errors.Is(err, ErrField) {
			t.Errorf("%+v: got %v, want %v", l, err, ErrField)
		}
	}
}

func TestStride(t *testing.T) {
	for _, s := range [][2]int16{{0, 0}, {-1, 1}, {0, 3200 - 800*4 + 64}, {-32768, 32767}} {
		w := encodeStride(s[0], s[1])
		src, dst := DecodeStride(w)
		if src != s[0] || dst != s[1] {
			t.Errorf("stride (%d, %d) => %#08x => (%d, %d)", s[0], s[1], w, src, dst)
		}
	}
	if got, want := encodeStride(-4, 64), uint32(0xfffc|64<<16); got != want {
		t.Errorf("encodeStride(-4, 64) = %#08x, want %#08x", got, want)
	}
}

func TestConfigure(t *testing.T) {
	var cb ControlBlock
	tr := Transfer{
		Info: TransferInfo{
			Mode2D:      true,
			WaitResp:    true,
			Dest:        Side{Inc: true, Width128: true},
			Src:         Side{Inc: true, Width128: true},
			BurstLength: 4,
		},
		Length:    Rect(800*4, 480),
		Src:       0x0100_0000,
		Dst:       0x3c10_0000,
		DstStride: 64,
		Next:      0x0200_0020,
		Alias:     pmem.AliasDirect,
	}
	if err := cb.Configure(tr); err != nil {
		t.Fatal(err)
	}
	if got, want := cb.SourceAd, uint32(0xc100_0000); got != want {
		t.Errorf("source %#08x, want %#08x", got, want)
	}
	if got, want := cb.DestAd, uint32(0xfc10_0000); got != want {
		t.Errorf("dest %#08x, want %#08x", got, want)
	}
	if got, want := cb.NextConBK, uint32(0xc200_0020); got != want {
		t.Errorf("next %#08x, want %#08x", got, want)
	}
	if got, want := cb.TxfrLen, uint32(3200|479<<16); got != want {
		t.Errorf("length %#08x, want %#08x", got, want)
	}
	dec := cb.Transfer()
	if dec.Info != tr.Info || dec.Length != tr.Length || dec.DstStride != 64 || dec.SrcStride != 0 {
		t.Errorf("decoded %+v, want %+v", dec, tr)
	}

	// Re-configuring already aliased addresses doesn't change them.
	tr.Src, tr.Dst, tr.Next = cb.SourceAd, cb.DestAd, cb.NextConBK
	var cb2 ControlBlock
	if err := cb2.Configure(tr); err != nil {
		t.Fatal(err)
	}
	if cb2 != cb {
		t.Errorf("configure isn't idempotent: %v != %v", cb2, cb)
	}

	// A zero next pointer ends the chain and is left unaliased.
	tr.Next = 0
	if err := cb.Configure(tr); err != nil {
		t.Fatal(err)
	}
	if cb.NextConBK != 0 {
		t.Errorf("next %#08x, want 0", cb.NextConBK)
	}
}

func TestConfigureInvalid(t *testing.T) {
	valid := Transfer{Length: Linear(16), Src: 0x1000, Dst: 0x2000}
	tests := []struct {
		name string
		mod  func(tr *Transfer)
		want error
	}{
		{"misaligned next", func(tr *Transfer) { tr.Next = 0x1010 }, ErrMisaligned},
		{"mode mismatch", func(tr *Transfer) { tr.Info.Mode2D = true }, ErrLengthMode},
		{"burst", func(tr *Transfer) { tr.Info.BurstLength = 16 }, ErrField},
		{"rows", func(tr *Transfer) { tr.Info.Mode2D = true; tr.Length = Rect(4, 0) }, ErrField},
	}
	for _, test := range tests {
		cb := ControlBlock{TI: 0xffff, NextConBK: 0x40}
		tr := valid
		test.mod(&tr)
		if err := cb.Configure(tr); !errors.Is(err, test.want) {
			t.Errorf("%s: got %v, want %v", test.name, err, test.want)
		}
		if cb != (ControlBlock{}) {
			t.Errorf("%s: control block not reset: %v", test.name, cb)
		}
	}
}
