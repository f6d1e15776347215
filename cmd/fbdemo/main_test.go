package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"pidisplay.dev/capture"
	"pidisplay.dev/config"
	"pidisplay.dev/driver/mailbox"
	"pidisplay.dev/render"
)

func TestSimulatedRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.cbor")
	conf := fmt.Sprintf(`
display: {width: 64, height: 48, order: bgr}
dma: {channel: 3}
app: {name: bargraph, rate: 1kHz, frames: 3}
capture: {path: %q, frame: 2}
`, path)
	cfg, err := config.Parse([]byte(conf))
	if err != nil {
		t.Fatal(err)
	}
	p, err := OpenSim(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if id := p.Surface.Channel().ID(); id != 3 {
		t.Errorf("channel %d, want 3", id)
	}

	log, hook := test.NewNullLogger()
	loop, err := newLoop(cfg, p, log)
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	loop.Metrics = render.NewMetrics(reg, p.Surface)
	if err := serve(context.Background(), cfg.Metrics, reg, loop, log); err != nil {
		t.Fatal(err)
	}
	if n := testutil.ToFloat64(loop.Metrics.Frames); n != 3 {
		t.Errorf("%v frames presented, want 3", n)
	}

	f, err := capture.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Width != 64 || f.Height != 48 || f.Order != mailbox.BGR {
		t.Errorf("captured %dx%d %s, want 64x48 BGR", f.Width, f.Height, f.Order)
	}
	var captured bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Captured frame" && e.Data["frame"] == 2 {
			captured = true
		}
	}
	if !captured {
		t.Error("capture not logged")
	}
}

func TestUnknownScene(t *testing.T) {
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := OpenSim(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cfg.App.Name = "tetris"
	if _, err := newLoop(cfg, p, logrus.New()); err == nil {
		t.Error("unknown scene accepted")
	}
}

func TestNewLogger(t *testing.T) {
	l, closeLog, err := newLogger(config.Logging{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	defer closeLog()
	if l.GetLevel() != logrus.WarnLevel {
		t.Errorf("level %v, want warn", l.GetLevel())
	}
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter %T, want JSON", l.Formatter)
	}
	if _, _, err := newLogger(config.Logging{Level: "info", Serial: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("missing serial device opened")
	}
}
