// Package render runs the frame loop: draw a scene into the back
// buffer, present it, repeat at a fixed rate.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"
	"pidisplay.dev/display"
	"pidisplay.dev/driver/dma"
)

type Loop struct {
	Surface *display.Surface
	Scene   Scene
	Rate    physic.Frequency
	// Frames is the number of frames to present, or zero to run until
	// the context is done.
	Frames  int
	Log     logrus.FieldLogger
	Metrics *Metrics
	// Presented, if set, is called after frame n has been presented.
	Presented func(n int) error

	now func() time.Time
}

// Run clears the display and presents frames until the frame count is
// reached or ctx is done. Failed transfers are logged and skipped;
// other errors stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	if l.Rate <= 0 {
		return fmt.Errorf("render: invalid frame rate %s", l.Rate)
	}
	log := l.logger()
	if err := l.Surface.Clear(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	log.WithFields(logrus.Fields{
		"surface": l.Surface.String(),
		"rate":    l.Rate.String(),
		"frames":  l.Frames,
	}).Info("Starting frame loop")

	t := time.NewTicker(l.Rate.Period())
	defer t.Stop()
	for n := 1; l.Frames == 0 || n <= l.Frames; n++ {
		if err := l.Frame(n); err != nil {
			if !errors.Is(err, dma.ErrTransfer) {
				return err
			}
			log.WithError(err).WithField("frame", n).Warn("Dropped frame")
		}
		if l.Frames != 0 && n == l.Frames {
			break
		}
		select {
		case <-ctx.Done():
			log.Info("Stopping frame loop")
			return nil
		case <-t.C:
		}
	}
	log.WithField("frames", l.Frames).Info("Frame loop done")
	return nil
}

// Frame renders and presents frame n.
func (l *Loop) Frame(n int) error {
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	if err := l.Scene.Render(l.Surface, n, now()); err != nil {
		return fmt.Errorf("render: frame %d: %w", n, err)
	}
	start := time.Now()
	err := l.Surface.Swap()
	if m := l.Metrics; m != nil {
		m.SwapLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			m.SwapErrors.Inc()
		} else {
			m.Frames.Inc()
		}
	}
	if err != nil {
		return fmt.Errorf("render: frame %d: %w", n, err)
	}
	if l.Presented != nil {
		if err := l.Presented(n); err != nil {
			return fmt.Errorf("render: frame %d: %w", n, err)
		}
	}
	return nil
}

func (l *Loop) logger() logrus.FieldLogger {
	if l.Log != nil {
		return l.Log
	}
	return logrus.StandardLogger()
}
