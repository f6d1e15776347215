package dma

import (
	"testing"

	"pidisplay.dev/pmem"
)

func TestReserve(t *testing.T) {
	c := NewSimulator(4096).Controller()
	// Channels used by the firmware.
	for _, n := range []int{0, 2, 4, 6} {
		if _, err := c.ReserveChannel(n); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.ReserveChannel(4); err == nil {
		t.Error("reserved channel 4 twice")
	}
	var got []int
	for {
		ch, err := c.Reserve(true)
		if err != nil {
			break
		}
		if ch.Lite() {
			t.Errorf("Reserve(true) returned lite channel %d", ch.ID())
		}
		got = append(got, ch.ID())
	}
	want := []int{15, 5, 3, 1}
	if len(got) != len(want) {
		t.Fatalf("reserved %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("reserved %v, want %v", got, want)
		}
	}
	ch, err := c.Reserve(false)
	if err != nil {
		t.Fatal(err)
	}
	if ch.ID() != 14 || !ch.Lite() {
		t.Errorf("Reserve(false) = %d, want lite channel 14", ch.ID())
	}
	c.Release(5)
	ch, err = c.Reserve(true)
	if err != nil {
		t.Fatal(err)
	}
	if ch.ID() != 5 {
		t.Errorf("Reserve after Release(5) = %d, want 5", ch.ID())
	}
}

func TestChannelWindows(t *testing.T) {
	sim := NewSimulator(4096)
	c := sim.Controller()
	for n := range NumChannels {
		ch, err := c.Channel(n)
		if err != nil {
			t.Fatal(err)
		}
		ch.regs.Write(regCONBLK_AD, uint32(n+1)*ControlBlockAlign)
	}
	for n := range NumChannels {
		if got, want := sim.chans[n].regs[regCONBLK_AD/4], uint32(n+1)*ControlBlockAlign; got != want {
			t.Errorf("channel %d: CONBLK_AD %#x, want %#x", n, got, want)
		}
	}
	if _, err := c.Channel(NumChannels); err == nil {
		t.Errorf("Channel(%d) succeeded", NumChannels)
	}
	if _, err := NewController(sim.Controller().page, nil).Channel(15); err == nil {
		t.Error("Channel(15) succeeded without its register page")
	}
}

func TestEnableIntStatus(t *testing.T) {
	sim := NewSimulator(1 << 16)
	c := sim.Controller()
	for _, n := range []int{1, 15} {
		if err := c.Enable(n); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := c.page.Read(regENABLE), uint32(1<<1|1<<15); got != want {
		t.Errorf("ENABLE %#04x, want %#04x", got, want)
	}
	if err := c.Enable(16); err == nil {
		t.Error("Enable(16) succeeded")
	}

	ch, _ := c.Channel(1)
	page, _ := sim.Alloc(4096, pmem.AliasDirect)
	buf, _ := sim.Alloc(16, pmem.AliasDirect)
	cbs, _ := pmem.View[ControlBlock](page, 1)
	tr := copyTransfer(buf, buf, 16)
	tr.Info.IntEnable = true
	if err := cbs[0].Configure(tr); err != nil {
		t.Fatal(err)
	}
	if err := ch.Start(page.BusAddr()); err != nil {
		t.Fatal(err)
	}
	if err := ch.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := c.IntStatus(); got != 1<<1 {
		t.Errorf("INT_STATUS %#04x, want %#04x", got, 1<<1)
	}
}

func TestParseRanges(t *testing.T) {
	tests := []struct {
		ranges []byte
		want   uint64
	}{
		// BCM2837.
		{[]byte{0x7e, 0, 0, 0, 0x3f, 0, 0, 0, 0x01, 0, 0, 0}, 0x3f00_0000},
		// BCM2711, with a two cell parent address.
		{[]byte{0x7e, 0, 0, 0, 0, 0, 0, 0, 0xfe, 0, 0, 0, 0x01, 0x80, 0, 0}, 0xfe00_0000},
		{[]byte{1, 2, 3}, defaultPeriphBase},
	}
	for _, test := range tests {
		if got := parseRanges(test.ranges); got != test.want {
			t.Errorf("parseRanges(% x) = %#x, want %#x", test.ranges, got, test.want)
		}
	}
}
