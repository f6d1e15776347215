package display

import (
	"fmt"

	"pidisplay.dev/driver/dma"
	"pidisplay.dev/pmem"
)

// NewSimulated returns a surface whose buffers and DMA channel are
// provided by a dma.Simulator.
func NewSimulated(g Geometry, channel int) (*Surface, *dma.Simulator, error) {
	frontSize := g.Pitch * g.Height
	backSize := g.Width * g.Height * bytesPerPixel
	if frontSize <= 0 || backSize <= 0 {
		return nil, nil, fmt.Errorf("display: %dx%d pitch %d: %w", g.Width, g.Height, g.Pitch, ErrGeometry)
	}
	sim := dma.NewSimulator(frontSize + backSize + 3*scratchPage)
	front, err := sim.Alloc(frontSize, pmem.AliasDirect)
	if err != nil {
		return nil, nil, err
	}
	back, err := sim.Alloc(backSize, pmem.AliasDirect)
	if err != nil {
		return nil, nil, err
	}
	scratch, err := sim.Alloc(scratchPage, pmem.AliasDirect)
	if err != nil {
		return nil, nil, err
	}
	ctl := sim.Controller()
	ch, err := ctl.ReserveChannel(channel)
	if err != nil {
		return nil, nil, err
	}
	if err := ctl.Enable(channel); err != nil {
		return nil, nil, err
	}
	if err := ch.Reset(); err != nil {
		return nil, nil, err
	}
	s, err := New(ch, front, back, scratch, g)
	if err != nil {
		return nil, nil, err
	}
	return s, sim, nil
}
