// Package metrics holds the Prometheus metric vectors and bounded
// observability rings the pool controller emits, grounded on the teacher's
// metric/builds.go factory-function style.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the controller's Prometheus vectors plus the bounded
// rings spec.md names: vBrowserStartMS (lease latency), vBrowserStageRetries
// (retries at the moment a VM goes ready), and vBrowserStageFails (vmids
// that gave up staging).
type Metrics struct {
	Launches     *prometheus.CounterVec
	StagingFails *prometheus.CounterVec
	PoolSize     *prometheus.GaugeVec
	Available    *prometheus.GaugeVec
	Staging      *prometheus.GaugeVec
	Buffer       *prometheus.GaugeVec

	StartMS       *Ring
	StageRetries  *Ring
	StageFailVMID *Ring
}

// New constructs a Metrics bundle with its Prometheus vectors registered
// against registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		Launches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vbrowser_pool_launches_total",
				Help: "Total number of VM launches issued by the grow loop.",
			},
			[]string{"pool"},
		),
		StagingFails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vbrowser_pool_staging_fails_total",
				Help: "Total number of VMs that exhausted staging retries and were given up on.",
			},
			[]string{"pool"},
		),
		PoolSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vbrowser_pool_current_size",
				Help: "Current number of VM records tracked for the pool, across all states.",
			},
			[]string{"pool"},
		),
		Available: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vbrowser_pool_available",
				Help: "Current number of available VM records in the pool.",
			},
			[]string{"pool"},
		),
		Staging: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vbrowser_pool_staging",
				Help: "Current number of staging VM records in the pool.",
			},
			[]string{"pool"},
		),
		Buffer: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vbrowser_pool_buffer_low_watermark",
				Help: "Current low watermark the grow loop targets for the pool.",
			},
			[]string{"pool"},
		),
		StartMS:       NewRing(),
		StageRetries:  NewRing(),
		StageFailVMID: NewRing(),
	}

	registry.MustRegister(
		m.Launches, m.StagingFails, m.PoolSize, m.Available, m.Staging, m.Buffer,
	)
	return m
}
