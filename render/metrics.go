package render

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"pidisplay.dev/display"
)

// Metrics are the frame loop statistics.
type Metrics struct {
	Frames      prometheus.Counter
	SwapErrors  prometheus.Counter
	SwapLatency prometheus.Histogram
}

const namespace = "fbdemo"

// NewMetrics creates the loop metrics and registers them with reg,
// along with a constant gauge describing the display.
func NewMetrics(reg prometheus.Registerer, s *display.Surface) *Metrics {
	g := s.Geometry()
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "display_info",
		Help:      "Geometry of the framebuffer and the DMA channel presenting it.",
		ConstLabels: prometheus.Labels{
			"width":   strconv.Itoa(g.Width),
			"height":  strconv.Itoa(g.Height),
			"pitch":   strconv.Itoa(g.Pitch),
			"order":   g.Order.String(),
			"channel": strconv.Itoa(s.Channel().ID()),
		},
	})
	info.Set(1)
	m := &Metrics{
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames presented.",
		}),
		SwapErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swap_errors_total",
			Help:      "Buffer swaps that failed.",
		}),
		SwapLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swap_seconds",
			Help:      "Time spent presenting a frame.",
			Buckets:   prometheus.ExponentialBuckets(100e-6, 2, 12),
		}),
	}
	reg.MustRegister(info, m.Frames, m.SwapErrors, m.SwapLatency)
	return m
}
