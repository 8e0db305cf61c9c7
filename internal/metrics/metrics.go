package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/jeongseonghan/gam-linksim/internal/link"
)

const namespace = "linksim"

// Metrics holds the link simulator collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	transmissions     *prometheus.CounterVec // outcome: success|crc_failure|aborted
	preambleFallbacks prometheus.Counter
	retries           prometheus.Counter
	bursts            prometheus.Counter
	ber               prometheus.Histogram
	processing        prometheus.Histogram
	trackerFiltered   *prometheus.GaugeVec // tracker: cfo|cpe|sco
	detectionScore    prometheus.Gauge
	snr               prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transmissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transmissions_total",
				Help:      "Transmissions by outcome",
			},
			[]string{"outcome"},
		),
		preambleFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preamble_fallbacks_total",
			Help:      "Frames decoded at the nominal offset after a missed preamble",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Whole-transmission retries after a CRC failure",
		}),
		bursts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bursts_total",
			Help:      "Frames hit by a noise burst",
		}),
		ber: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bit_error_ratio",
			Help:      "Payload bit error ratio per transmission",
			Buckets:   []float64{0, 0.001, 0.01, 0.02, 0.05, 0.1, 0.2, 0.3, 0.5},
		}),
		processing: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_seconds",
			Help:      "Transmit, channel and receive time per transmission",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		trackerFiltered: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracker_filtered_radians",
				Help:      "Filtered synchronization estimate after the last frame",
			},
			[]string{"tracker"},
		),
		detectionScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detection_score",
			Help:      "Normalized preamble correlation of the last frame",
		}),
		snr: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_snr_db",
			Help:      "Configured channel SNR",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetSNR records the operating point.
func (m *Metrics) SetSNR(db float64) {
	m.snr.Set(db)
}

// Observe updates the collectors from one result.
func (m *Metrics) Observe(r link.Result) {
	switch {
	case r.Failed():
		m.transmissions.WithLabelValues("aborted").Inc()
	case r.CRCValid:
		m.transmissions.WithLabelValues("success").Inc()
	default:
		m.transmissions.WithLabelValues("crc_failure").Inc()
	}
	if r.Attempt > 0 {
		m.retries.Inc()
	}
	if r.Burst {
		m.bursts.Inc()
	}
	m.processing.Observe(r.Elapsed.Seconds())
	if r.Failed() {
		return
	}

	if !r.PreambleDetected {
		m.preambleFallbacks.Inc()
	}
	m.ber.Observe(r.BER)
	m.detectionScore.Set(r.DetectionScore)
	m.trackerFiltered.WithLabelValues("cfo").Set(r.Tracking.CFO.Filtered)
	m.trackerFiltered.WithLabelValues("cpe").Set(r.Tracking.CPE.Filtered)
	m.trackerFiltered.WithLabelValues("sco").Set(r.Tracking.SCO.Accumulated)
}

// Push sends the registry to a Pushgateway, grouped by run id.
func (m *Metrics) Push(url, job, runID string) error {
	pusher := push.New(url, job).
		Gatherer(m.registry).
		Grouping("run_id", runID)

	if err := pusher.Push(); err != nil {
		return fmt.Errorf("failed to push to gateway: %w", err)
	}
	return nil
}
