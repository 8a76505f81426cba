package game

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus instruments.
type Metrics struct {
	RoomsOpen         prometheus.Gauge
	SessionsConnected prometheus.Gauge
	TicksTotal        prometheus.Counter
	TickDuration      prometheus.Histogram
	FramesBroadcast   prometheus.Counter
	InputsRejected    *prometheus.CounterVec
	WebhooksTotal     *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics registers the instrument set with the default registry. The
// set is process-global; repeated calls return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			RoomsOpen: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "arena_rooms_open",
				Help: "Number of live rooms",
			}),
			SessionsConnected: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "arena_sessions_connected",
				Help: "Number of connected sessions across all rooms",
			}),
			TicksTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arena_sim_ticks_total",
				Help: "Total simulation ticks processed",
			}),
			TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "arena_tick_duration_seconds",
				Help:    "Wall time spent inside one simulation tick",
				Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016},
			}),
			FramesBroadcast: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arena_frames_broadcast_total",
				Help: "Total outbound frames fanned out to sessions",
			}),
			InputsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arena_inputs_rejected_total",
				Help: "Inputs rejected at admission",
			}, []string{"reason"}),
			WebhooksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arena_result_webhooks_total",
				Help: "Match result webhook submissions by outcome",
			}, []string{"status"}),
		}
	})
	return metrics
}
