//go:build linux && (arm || arm64)

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"periph.io/x/host/v3"
	ppmem "periph.io/x/host/v3/pmem"
	"periph.io/x/host/v3/videocore"
	"pidisplay.dev/config"
	"pidisplay.dev/display"
	"pidisplay.dev/driver/dma"
	"pidisplay.dev/driver/mailbox"
	"pidisplay.dev/pmem"
)

const pageSize = 4096

// Open negotiates the framebuffer with the firmware and sets up a
// surface presenting frames through a reserved DMA channel.
func Open(cfg *config.Config, log logrus.FieldLogger) (p *Platform, err error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	alias, err := cfg.DMA.BusAlias()
	if err != nil {
		return nil, err
	}
	order, err := cfg.Display.PixelOrder()
	if err != nil {
		return nil, err
	}
	fb, err := negotiate(cfg.Display, order, log)
	if err != nil {
		return nil, err
	}

	p = new(Platform)
	defer func() {
		if err != nil {
			p.Close()
		}
	}()
	fv, err := ppmem.Map(uint64(fb.PhysAddr()), fb.Size)
	if err != nil {
		return nil, fmt.Errorf("framebuffer: %w", err)
	}
	p.closers = append(p.closers, fv)
	front, err := pmem.FromMem(fv, alias)
	if err != nil {
		return nil, fmt.Errorf("framebuffer: %w", err)
	}
	back, err := allocGPU(p, fb.Width*fb.Height*4, alias)
	if err != nil {
		return nil, fmt.Errorf("back buffer: %w", err)
	}
	scratch, err := allocGPU(p, pageSize, alias)
	if err != nil {
		return nil, fmt.Errorf("scratchpad: %w", err)
	}

	ctl, err := dma.Open()
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, ctl)
	for _, n := range cfg.DMA.Reserved {
		if _, err := ctl.ReserveChannel(n); err != nil {
			return nil, err
		}
	}
	var ch *dma.Channel
	if n := cfg.DMA.Channel; n != nil {
		ch, err = ctl.ReserveChannel(*n)
	} else {
		ch, err = ctl.Reserve(true)
	}
	if err != nil {
		return nil, err
	}
	ch.Timeout = cfg.DMA.WaitTimeout()
	if err := ctl.Enable(ch.ID()); err != nil {
		return nil, err
	}
	if err := ch.Reset(); err != nil {
		return nil, err
	}
	s, err := display.New(ch, front, back, scratch, display.Geometry{
		Width:  fb.Width,
		Height: fb.Height,
		Pitch:  fb.Pitch,
		Order:  fb.Order,
	})
	if err != nil {
		return nil, err
	}
	p.Surface = s
	return p, nil
}

func negotiate(d config.Display, order mailbox.PixelOrder, log logrus.FieldLogger) (mailbox.Framebuffer, error) {
	mb, err := mailbox.Open()
	if err != nil {
		return mailbox.Framebuffer{}, err
	}
	defer mb.Close()
	fields := logrus.Fields{}
	if sn, err := mb.SerialNumber(); err == nil {
		fields["serial"] = fmt.Sprintf("%016x", sn)
	}
	if t, err := mb.Temperature(0); err == nil {
		fields["temperature"] = float64(t) / 1000
	}
	if vc, err := mb.VCMemory(); err == nil {
		fields["vc_memory"] = fmt.Sprintf("%#08x+%#x", vc.Base, vc.Size)
	}
	log.WithFields(fields).Debug("VideoCore firmware")

	fb, err := mb.Framebuffer(mailbox.FramebufferRequest{
		Width:  d.Width,
		Height: d.Height,
		Order:  order,
	})
	if err != nil {
		return mailbox.Framebuffer{}, err
	}
	if fb.Order != order {
		log.WithField("order", fb.Order).Warn("Firmware chose a different pixel order")
	}
	log.WithFields(logrus.Fields{
		"width":  fb.Width,
		"height": fb.Height,
		"pitch":  fb.Pitch,
		"addr":   fmt.Sprintf("%#08x", fb.BusAddr),
		"size":   fb.Size,
	}).Info("Framebuffer allocated")
	return fb, nil
}

// allocGPU allocates uncached memory from the VideoCore, rounded up to
// whole pages.
func allocGPU(p *Platform, size int, alias pmem.Alias) (*pmem.Region, error) {
	m, err := videocore.Alloc((size + pageSize - 1) &^ (pageSize - 1))
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, m)
	return pmem.FromMem(m, alias)
}
