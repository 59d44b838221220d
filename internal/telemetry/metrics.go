// Package telemetry provides Prometheus metrics and OpenTelemetry tracing for mirror runs.
package telemetry

import (
	"errors"
	"sync"
	"time"

	"chanmirror/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RunsStarted         prometheus.Counter
	ChannelsProvisioned prometheus.Counter
	ProvisionFailures   prometheus.Counter
	HistoryPages        prometheus.Counter
	Messages            *prometheus.CounterVec // outcome
	MediaItems          *prometheus.CounterVec // result
	Deliveries          *prometheus.CounterVec // mode, result

	// Histograms (seconds)
	DownloadDuration prometheus.Observer
	DeliveryDuration prometheus.Observer
	RunDuration      prometheus.Observer

	// Gauges
	RunActive       prometheus.Gauge // 1 while a run is in progress
	ChannelsRunning prometheus.Gauge
	QueueRunning    prometheus.Gauge
	QueuePending    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RunsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "chanmirror_runs_started_total", Help: "Number of mirror runs started"})
		ChannelsProvisioned = promauto.NewCounter(prometheus.CounterOpts{Name: "chanmirror_channels_provisioned_total", Help: "Destination channels created with an endpoint"})
		ProvisionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chanmirror_provision_failures_total", Help: "Source channels skipped because provisioning failed"})
		HistoryPages = promauto.NewCounter(prometheus.CounterOpts{Name: "chanmirror_history_pages_total", Help: "History pages fetched"})
		Messages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chanmirror_messages_total", Help: "Messages processed by outcome"}, []string{"outcome"})
		MediaItems = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chanmirror_media_total", Help: "Media items by result"}, []string{"result"})
		Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chanmirror_deliveries_total", Help: "Delivery attempts by mode and result"}, []string{"mode", "result"})
		DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chanmirror_download_duration_seconds", Help: "Media download duration seconds", Buckets: prometheus.DefBuckets})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chanmirror_delivery_duration_seconds", Help: "Message delivery duration seconds", Buckets: prometheus.DefBuckets})
		RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chanmirror_run_duration_seconds", Help: "Whole run duration seconds", Buckets: prometheus.ExponentialBuckets(1, 4, 8)})
		RunActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "chanmirror_run_active", Help: "1 while a mirror run is in progress"})
		ChannelsRunning = promauto.NewGauge(prometheus.GaugeOpts{Name: "chanmirror_channels_running", Help: "Channel pipelines currently replicating"})
		QueueRunning = promauto.NewGauge(prometheus.GaugeOpts{Name: "chanmirror_queue_running", Help: "Media tasks executing"})
		QueuePending = promauto.NewGauge(prometheus.GaugeOpts{Name: "chanmirror_queue_pending", Help: "Media tasks waiting for a slot"})
	})
}

// CountMessage records a message outcome label.
func CountMessage(outcome string) {
	if Messages != nil {
		Messages.WithLabelValues(outcome).Inc()
	}
}

// ObserveDownload records a media download and classifies its result.
func ObserveDownload(d time.Duration, err error) {
	if MediaItems == nil {
		return
	}
	DownloadDuration.Observe(d.Seconds())
	MediaItems.WithLabelValues(mediaResult(err)).Inc()
}

// CountSkippedMedia records media skipped before download.
func CountSkippedMedia(n int) {
	if MediaItems != nil && n > 0 {
		MediaItems.WithLabelValues("skipped").Add(float64(n))
	}
}

// ObserveDelivery records one delivery attempt.
func ObserveDelivery(mode string, d time.Duration, err error) {
	if Deliveries == nil {
		return
	}
	DeliveryDuration.Observe(d.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	Deliveries.WithLabelValues(mode, result).Inc()
}

// Inc increments c when it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetGauge sets g when it has been registered.
func SetGauge(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}

// AddGauge adds delta to g when it has been registered.
func AddGauge(g prometheus.Gauge, delta float64) {
	if g != nil {
		g.Add(delta)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

func mediaResult(err error) string {
	if err == nil {
		return "ok"
	}
	var de *domain.DownloadError
	if errors.As(err, &de) {
		if de.Reason == domain.ReasonTooLarge {
			return "skipped"
		}
		return "failed_" + string(de.Reason)
	}
	return "failed"
}
