// command fbdemo draws demo scenes on the Raspberry Pi framebuffer,
// presenting each frame with a DMA transfer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"
	"pidisplay.dev/capture"
	"pidisplay.dev/config"
	"pidisplay.dev/render"
)

var (
	configFile = flag.String("config", "", "configuration file")
	simulate   = flag.Bool("sim", false, "use a simulated DMA controller and framebuffer")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fbdemo: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var p *Platform
	if *simulate {
		p, err = OpenSim(cfg)
	} else {
		p, err = Open(cfg, log)
	}
	if err != nil {
		return err
	}
	defer p.Close()
	log.WithField("surface", p.Surface.String()).Info("Display ready")

	loop, err := newLoop(cfg, p, log)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	loop.Metrics = render.NewMetrics(reg, p.Surface)
	return serve(ctx, cfg.Metrics, reg, loop, log)
}

func newLoop(cfg *config.Config, p *Platform, log logrus.FieldLogger) (*render.Loop, error) {
	scene, err := render.NewScene(cfg.App.Name, p.Surface.Geometry())
	if err != nil {
		return nil, err
	}
	rate, err := cfg.App.FrameRate()
	if err != nil {
		return nil, err
	}
	loop := &render.Loop{
		Surface: p.Surface,
		Scene:   scene,
		Rate:    rate,
		Frames:  cfg.App.Frames,
		Log:     log,
	}
	if path := cfg.Capture.Path; path != "" {
		loop.Presented = func(n int) error {
			if n != cfg.Capture.Frame {
				return nil
			}
			f := capture.Capture(p.Surface)
			if err := f.WriteFile(path); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"frame":  n,
				"path":   path,
				"digest": fmt.Sprintf("%x", f.Digest),
			}).Info("Captured frame")
			return nil
		}
	}
	return loop, nil
}

// serve runs the frame loop and, if configured, the metrics endpoint
// until the loop ends.
func serve(ctx context.Context, mc config.Metrics, reg *prometheus.Registry, loop *render.Loop, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if mc.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle(mc.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: log}))
		srv := &http.Server{Addr: mc.Listen, Handler: mux}
		g.Go(func() error {
			log.Infof("Prometheus metrics listening on %s at %s", mc.Listen, mc.Path)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}
	g.Go(func() error {
		defer cancel()
		return loop.Run(ctx)
	})
	return g.Wait()
}

// newLogger configures logging, mirroring the log to a serial console
// if one is configured.
func newLogger(c config.Logging) (*logrus.Logger, func() error, error) {
	l := logrus.New()
	lvl, err := c.LogLevel()
	if err != nil {
		return nil, nil, err
	}
	l.SetLevel(lvl)
	switch c.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if c.Serial == "" {
		return l, func() error { return nil }, nil
	}
	port, err := serial.OpenPort(&serial.Config{Name: c.Serial, Baud: c.Baud})
	if err != nil {
		return nil, nil, fmt.Errorf("log console: %w", err)
	}
	l.SetOutput(io.MultiWriter(os.Stderr, port))
	return l, port.Close, nil
}
