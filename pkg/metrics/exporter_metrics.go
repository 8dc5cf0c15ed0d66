package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExporterMetrics holds Prometheus metrics for exporter internal monitoring
type ExporterMetrics struct {
	// Refresh duration histogram (in seconds)
	RefreshDurationSeconds prometheus.Histogram

	// Refresh error counter, labelled by error kind (auth, transient)
	RefreshErrorsTotal *prometheus.CounterVec

	// Build info gauge
	BuildInfo prometheus.Gauge

	// Authentication status gauge (1 = valid, 0 = rejected or not yet verified)
	AuthenticationValid prometheus.Gauge

	// Authentication error counter
	AuthenticationErrorsTotal prometheus.Counter

	// Last successful refresh timestamp (unix seconds)
	LastRefreshSuccessUnix prometheus.Gauge
}

// NewExporterMetrics creates exporter health metrics and registers them with reg
func NewExporterMetrics(reg prometheus.Registerer) (*ExporterMetrics, error) {
	em := NewExporterMetricsUnregistered()
	if err := em.RegisterWith(reg); err != nil {
		return nil, err
	}
	return em, nil
}

// NewExporterMetricsUnregistered creates exporter health metrics without registering them
func NewExporterMetricsUnregistered() *ExporterMetrics {
	em := &ExporterMetrics{
		// Portal round trips are slow; buckets 0.25s .. 32s
		RefreshDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jatekukko_exporter_refresh_duration_seconds",
			Help:    "Time taken to refresh data from the Jätekukko portal in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),

		RefreshErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jatekukko_exporter_refresh_errors_total",
			Help: "Total number of failed refreshes by error kind",
		}, []string{"kind"}),

		BuildInfo: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jatekukko_exporter_build_info",
			Help: "Build information for the exporter (value is always 1)",
		}),

		AuthenticationValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jatekukko_exporter_authentication_valid",
			Help: "Set to 1 if the portal accepted the credentials on the last refresh, 0 otherwise",
		}),

		AuthenticationErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jatekukko_exporter_authentication_errors_total",
			Help: "Total number of refreshes rejected by the portal as unauthorized",
		}),

		LastRefreshSuccessUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jatekukko_exporter_last_refresh_success_unix",
			Help: "Unix timestamp of the last successful refresh",
		}),
	}

	em.BuildInfo.Set(1)
	em.AuthenticationValid.Set(0)

	return em
}

// RegisterWith registers exporter metrics with the given registerer
func (em *ExporterMetrics) RegisterWith(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		em.RefreshDurationSeconds,
		em.RefreshErrorsTotal,
		em.BuildInfo,
		em.AuthenticationValid,
		em.AuthenticationErrorsTotal,
		em.LastRefreshSuccessUnix,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordRefreshDuration records the duration of a refresh attempt
func (em *ExporterMetrics) RecordRefreshDuration(duration time.Duration) {
	em.RefreshDurationSeconds.Observe(duration.Seconds())
}

// IncrementRefreshErrors increments the error counter for the given kind
func (em *ExporterMetrics) IncrementRefreshErrors(kind string) {
	em.RefreshErrorsTotal.WithLabelValues(kind).Inc()
}

// SetAuthenticationValid sets the authentication status gauge
func (em *ExporterMetrics) SetAuthenticationValid(valid bool) {
	if valid {
		em.AuthenticationValid.Set(1)
	} else {
		em.AuthenticationValid.Set(0)
	}
}

// IncrementAuthenticationErrors increments the authentication error counter
func (em *ExporterMetrics) IncrementAuthenticationErrors() {
	em.AuthenticationErrorsTotal.Inc()
}

// RecordRefreshSuccess records a successful refresh at t
func (em *ExporterMetrics) RecordRefreshSuccess(t time.Time) {
	em.LastRefreshSuccessUnix.Set(float64(t.Unix()))
}
