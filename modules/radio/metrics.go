package radio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "radiod"

type metrics struct {
	polls         *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	trackChanges  prometheus.Counter
	announcements *prometheus.CounterVec
	commands      *prometheus.CounterVec
	backendHealth prometheus.Gauge
	pollMode      prometheus.Gauge
	playing       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "metadata_polls_total",
			Help:      "Metadata poll attempts by result (ok, missed, error, stale).",
		}, []string{"result"}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "metadata_poll_duration_seconds",
			Help:      "Time spent reading now-playing metadata from the backend.",
			Buckets:   prometheus.DefBuckets,
		}),
		trackChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "track_changes_total",
			Help:      "Track changes accepted by the change detector.",
		}),
		announcements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "announcements_total",
			Help:      "Announcement deliveries by sink and result.",
		}, []string{"sink", "result"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Playback commands processed, by command and result.",
		}, []string{"command", "result"}),
		backendHealth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "backend_health",
			Help:      "Backend health at the last poll (0 ok, 1 stalled, 2 error).",
		}),
		pollMode: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "poll_mode",
			Help:      "Current poll mode (0 lazy, 1 active).",
		}),
		playing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "playing",
			Help:      "Whether a station is currently playing.",
		}),
	}
}
