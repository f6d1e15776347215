package main

import (
	"errors"
	"io"

	"pidisplay.dev/config"
	"pidisplay.dev/display"
)

// Platform is an open display and the resources backing it.
type Platform struct {
	Surface *display.Surface
	closers []io.Closer
}

func (p *Platform) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i].Close())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// OpenSim opens a display backed by the DMA simulator.
func OpenSim(cfg *config.Config) (*Platform, error) {
	order, err := cfg.Display.PixelOrder()
	if err != nil {
		return nil, err
	}
	g := display.Geometry{
		Width:  cfg.Display.Width,
		Height: cfg.Display.Height,
		Pitch:  cfg.Display.Width * 4,
		Order:  order,
	}
	ch := 0
	if cfg.DMA.Channel != nil {
		ch = *cfg.DMA.Channel
	}
	s, _, err := display.NewSimulated(g, ch)
	if err != nil {
		return nil, err
	}
	s.Channel().Timeout = cfg.DMA.WaitTimeout()
	return &Platform{Surface: s}, nil
}
