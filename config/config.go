// Package config loads the fbdemo configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
	"periph.io/x/conn/v3/physic"
	"pidisplay.dev/driver/mailbox"
	"pidisplay.dev/pmem"
)

type Config struct {
	Display Display `yaml:"display"`
	DMA     DMA     `yaml:"dma"`
	App     App     `yaml:"app"`
	Logging Logging `yaml:"logging"`
	Metrics Metrics `yaml:"metrics"`
	Capture Capture `yaml:"capture"`
}

type Display struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// Order is the requested pixel order, "rgb" or "bgr". The firmware
	// may choose otherwise.
	Order string `yaml:"order"`
}

type DMA struct {
	// Channel is the channel to use. If unset, the highest free
	// channel supporting 2D transfers is reserved.
	Channel *int `yaml:"channel"`
	// Reserved lists channels in use by the firmware.
	Reserved []int  `yaml:"reserved"`
	Alias    string `yaml:"alias"`
	// Timeout bounds busy waits on the channel. A negative timeout
	// waits forever.
	Timeout time.Duration `yaml:"timeout"`
}

type App struct {
	Name string `yaml:"name"`
	Rate string `yaml:"rate"`
	// Frames is the number of frames to present. Zero means run until
	// interrupted.
	Frames int `yaml:"frames"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Serial mirrors the log to a serial device if set.
	Serial string `yaml:"serial"`
	Baud   int    `yaml:"baud"`
}

type Metrics struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type Capture struct {
	Path string `yaml:"path"`
	// Frame is the frame number to capture, counting from 1.
	Frame int `yaml:"frame"`
}

var ErrInvalid = errors.New("config: invalid configuration")

var apps = []string{"clock", "bargraph", "fill"}

// Default returns the configuration used for unset keys.
func Default() Config {
	return Config{
		Display: Display{
			Width:  800,
			Height: 480,
			Order:  "rgb",
		},
		DMA: DMA{
			Alias:   "direct",
			Timeout: 100 * time.Millisecond,
		},
		App: App{
			Name: "clock",
			Rate: "1Hz",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			Baud:   115200,
		},
		Metrics: Metrics{
			Path: "/metrics",
		},
		Capture: Capture{
			Frame: 1,
		},
	}
}

// Load reads the configuration at path. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a YAML configuration, filling unset keys from Default.
func Parse(b []byte) (*Config, error) {
	c := new(Config)
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := mergo.Merge(c, Default()); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every value can be interpreted.
func (c *Config) Validate() error {
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("%w: display size %dx%d", ErrInvalid, c.Display.Width, c.Display.Height)
	}
	if _, err := c.Display.PixelOrder(); err != nil {
		return err
	}
	if ch := c.DMA.Channel; ch != nil && (*ch < 0 || *ch > 15) {
		return fmt.Errorf("%w: dma channel %d", ErrInvalid, *ch)
	}
	for _, ch := range c.DMA.Reserved {
		if ch < 0 || ch > 15 {
			return fmt.Errorf("%w: reserved dma channel %d", ErrInvalid, ch)
		}
	}
	if _, err := c.DMA.BusAlias(); err != nil {
		return err
	}
	if !validApp(c.App.Name) {
		return fmt.Errorf("%w: app %q, want one of %s", ErrInvalid, c.App.Name, strings.Join(apps, ", "))
	}
	if _, err := c.App.FrameRate(); err != nil {
		return err
	}
	if c.App.Frames < 0 {
		return fmt.Errorf("%w: frame count %d", ErrInvalid, c.App.Frames)
	}
	if _, err := c.Logging.LogLevel(); err != nil {
		return err
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("%w: log format %q", ErrInvalid, f)
	}
	if c.Capture.Frame < 1 {
		return fmt.Errorf("%w: capture frame %d", ErrInvalid, c.Capture.Frame)
	}
	return nil
}

func validApp(name string) bool {
	for _, a := range apps {
		if a == name {
			return true
		}
	}
	return false
}

func (d Display) PixelOrder() (mailbox.PixelOrder, error) {
	switch strings.ToLower(d.Order) {
	case "rgb":
		return mailbox.RGB, nil
	case "bgr":
		return mailbox.BGR, nil
	}
	return 0, fmt.Errorf("%w: pixel order %q", ErrInvalid, d.Order)
}

// BusAlias returns the alias DMA addresses are issued through.
func (d DMA) BusAlias() (pmem.Alias, error) {
	switch strings.ToLower(d.Alias) {
	case "l1l2", "cached":
		return pmem.AliasL1L2Cached, nil
	case "coherent":
		return pmem.AliasL2Coherent, nil
	case "l2":
		return pmem.AliasL2Cached, nil
	case "direct", "uncached":
		return pmem.AliasDirect, nil
	}
	return 0, fmt.Errorf("%w: bus alias %q", ErrInvalid, d.Alias)
}

// WaitTimeout returns the channel timeout, zero meaning unbounded.
func (d DMA) WaitTimeout() time.Duration {
	return max(d.Timeout, 0)
}

func (a App) FrameRate() (physic.Frequency, error) {
	var f physic.Frequency
	if err := f.Set(a.Rate); err != nil {
		return 0, fmt.Errorf("%w: frame rate: %v", ErrInvalid, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("%w: frame rate %s", ErrInvalid, f)
	}
	return f, nil
}

func (l Logging) LogLevel() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return lvl, nil
}
