package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"
	"pidisplay.dev/driver/mailbox"
	"pidisplay.dev/pmem"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Display.Width != 800 || c.Display.Height != 480 {
		t.Errorf("display %dx%d, want 800x480", c.Display.Width, c.Display.Height)
	}
	if c.DMA.Channel != nil {
		t.Errorf("channel %d, want automatic", *c.DMA.Channel)
	}
	if a, _ := c.DMA.BusAlias(); a != pmem.AliasDirect {
		t.Errorf("alias %#x, want direct", a)
	}
	if f, _ := c.App.FrameRate(); f != physic.Hertz {
		t.Errorf("frame rate %s, want 1Hz", f)
	}
	if c.Capture.Frame != 1 {
		t.Errorf("capture frame %d, want 1", c.Capture.Frame)
	}
}

func TestParse(t *testing.T) {
	const conf = `
display:
  width: 1024
  order: bgr
dma:
  channel: 0
  reserved: [2, 4]
  alias: coherent
  timeout: 250ms
app:
  name: bargraph
  rate: 30Hz
  frames: 90
logging:
  level: debug
  format: json
metrics:
  listen: ":9100"
capture:
  path: frame.png
  frame: 10
`
	c, err := Parse([]byte(conf))
	if err != nil {
		t.Fatal(err)
	}
	// Unset keys keep their defaults.
	if c.Display.Width != 1024 || c.Display.Height != 480 {
		t.Errorf("display %dx%d, want 1024x480", c.Display.Width, c.Display.Height)
	}
	if o, _ := c.Display.PixelOrder(); o != mailbox.BGR {
		t.Errorf("order %s, want BGR", o)
	}
	if c.DMA.Channel == nil || *c.DMA.Channel != 0 {
		t.Errorf("channel %v, want 0", c.DMA.Channel)
	}
	if len(c.DMA.Reserved) != 2 {
		t.Errorf("reserved %v, want [2 4]", c.DMA.Reserved)
	}
	if a, _ := c.DMA.BusAlias(); a != pmem.AliasL2Coherent {
		t.Errorf("alias %#x, want coherent", a)
	}
	if got := c.DMA.WaitTimeout(); got != 250*time.Millisecond {
		t.Errorf("timeout %v, want 250ms", got)
	}
	if f, _ := c.App.FrameRate(); f != 30*physic.Hertz {
		t.Errorf("frame rate %s, want 30Hz", f)
	}
	if c.App.Name != "bargraph" || c.App.Frames != 90 {
		t.Errorf("app %+v", c.App)
	}
	if lvl, _ := c.Logging.LogLevel(); lvl != logrus.DebugLevel {
		t.Errorf("level %v, want debug", lvl)
	}
	if c.Metrics.Listen != ":9100" || c.Metrics.Path != "/metrics" {
		t.Errorf("metrics %+v", c.Metrics)
	}
	if c.Capture.Path != "frame.png" || c.Capture.Frame != 10 {
		t.Errorf("capture %+v", c.Capture)
	}
}

func TestNoTimeout(t *testing.T) {
	c, err := Parse([]byte("dma:\n  timeout: -1s\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.DMA.WaitTimeout(); got != 0 {
		t.Errorf("timeout %v, want unbounded", got)
	}
}

func TestInvalid(t *testing.T) {
	tests := []string{
		"display:\n  width: -1\n",
		"display:\n  order: grb\n",
		"dma:\n  channel: 16\n",
		"dma:\n  reserved: [-1]\n",
		"dma:\n  alias: nowhere\n",
		"app:\n  name: tetris\n",
		"app:\n  rate: fast\n",
		"app:\n  frames: -2\n",
		"logging:\n  level: loud\n",
		"logging:\n  format: xml\n",
		"capture:\n  frame: -1\n",
	}
	for _, conf := range tests {
		if _, err := Parse([]byte(conf)); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q): got %v, want ErrInvalid", conf, err)
		}
	}
	if _, err := Parse([]byte("display: [")); err == nil {
		t.Error("malformed YAML parsed")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fbdemo.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: fill\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.App.Name != "fill" {
		t.Errorf("app %q, want fill", c.App.Name)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file loaded")
	}
}
