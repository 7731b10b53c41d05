package metrics

import (
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector of the service. A nil *Metrics is valid and
// records nothing, so packages and tests can run without a registry.
type Metrics struct {
    // Refresh scheduler cycles by provider and outcome (updated, skipped, failed)
    RefreshCycles *prometheus.CounterVec
    // Assets held in the cached snapshot of a provider
    CachedAssets *prometheus.GaugeVec

    // Provider fetch attempts made by the aggregation driver (ok, empty, error)
    FetchAttempts *prometheus.CounterVec

    // Upstream HTTP calls
    UpstreamDuration *prometheus.HistogramVec
    UpstreamErrors   *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
    f := promauto.With(reg)
    return &Metrics{
        RefreshCycles: f.NewCounterVec(
            prometheus.CounterOpts{
                Name: "fxprovider_refresh_cycles_total",
                Help: "Background refresh cycles per provider and outcome",
            },
            []string{"provider", "outcome"},
        ),
        CachedAssets: f.NewGaugeVec(
            prometheus.GaugeOpts{
                Name: "fxprovider_cached_assets",
                Help: "Number of assets in the cached snapshot of a provider",
            },
            []string{"provider"},
        ),
        FetchAttempts: f.NewCounterVec(
            prometheus.CounterOpts{
                Name: "fxprovider_fetch_attempts_total",
                Help: "Provider fetch attempts made while aggregating",
            },
            []string{"provider", "outcome"},
        ),
        UpstreamDuration: f.NewHistogramVec(
            prometheus.HistogramOpts{
                Name:    "fxprovider_upstream_request_duration_seconds",
                Help:    "Duration of upstream HTTP requests",
                Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
            },
            []string{"host"},
        ),
        UpstreamErrors: f.NewCounterVec(
            prometheus.CounterOpts{
                Name: "fxprovider_upstream_errors_total",
                Help: "Failed upstream HTTP requests",
            },
            []string{"host"},
        ),
    }
}

func (m *Metrics) RefreshCycle(provider, outcome string) {
    if m == nil { return }
    m.RefreshCycles.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) SetCachedAssets(provider string, n int) {
    if m == nil { return }
    m.CachedAssets.WithLabelValues(provider).Set(float64(n))
}

func (m *Metrics) FetchAttempt(provider, outcome string) {
    if m == nil { return }
    m.FetchAttempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveUpstream(host string, d time.Duration, err error) {
    if m == nil { return }
    m.UpstreamDuration.WithLabelValues(host).Observe(d.Seconds())
    if err != nil { m.UpstreamErrors.WithLabelValues(host).Inc() }
}
