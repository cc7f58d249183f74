package headersync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "headersync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Whether or not the session is syncing. 1 if yes, 0 if no.
	Syncing metrics.Gauge

	// Number of outbound connection attempts.
	ConnectAttempts metrics.Counter

	// Number of failed download attempts that were retried.
	RetriedDownloads metrics.Counter

	// Current minimum acceptable download rate (headers per second).
	RateFloor metrics.Gauge

	// Number of headers fetched from peers.
	HeadersFetched metrics.Counter

	// Observed header download rate (headers per second).
	SyncRate metrics.Gauge
}

// PrometheusMetrics returns Metrics built using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Syncing: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "syncing",
			Help:      "Whether or not the session is syncing. 1 if yes, 0 if no.",
		}, labels).With(labelsAndValues...),
		ConnectAttempts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "connect_attempts",
			Help:      "Number of outbound connection attempts.",
		}, labels).With(labelsAndValues...),
		RetriedDownloads: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "retried_downloads",
			Help:      "Number of failed download attempts that were retried.",
		}, labels).With(labelsAndValues...),
		RateFloor: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rate_floor",
			Help:      "Current minimum acceptable download rate in headers per second.",
		}, labels).With(labelsAndValues...),
		HeadersFetched: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "headers_fetched",
			Help:      "Number of headers fetched from peers.",
		}, labels).With(labelsAndValues...),
		SyncRate: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sync_rate",
			Help:      "Observed header download rate in headers per second.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Syncing:          discard.NewGauge(),
		ConnectAttempts:  discard.NewCounter(),
		RetriedDownloads: discard.NewCounter(),
		RateFloor:        discard.NewGauge(),
		HeadersFetched:   discard.NewCounter(),
		SyncRate:         discard.NewGauge(),
	}
}
