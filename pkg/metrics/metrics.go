// Package metrics holds the Prometheus collectors of the simulator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	TickResultOK      = "ok"
	TickResultFailed  = "failed"
	TickResultSkipped = "skipped"

	ModeLive = "live"
	ModeSeed = "seed"
)

var (
	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pvsim",
		Name:      "simulation_ticks_total",
		Help:      "Live simulation ticks by result.",
	}, []string{"result"})

	ActiveSimulations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pvsim",
		Name:      "simulations_active",
		Help:      "Sites with a running live simulation.",
	})

	SamplesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pvsim",
		Name:      "samples_persisted_total",
		Help:      "Samples whose weather and telemetry were both stored.",
	}, []string{"mode"})

	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pvsim",
		Name:      "persistence_failures_total",
		Help:      "Failed storage operations by operation.",
	}, []string{"op"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pvsim",
		Name:      "publish_subscribers",
		Help:      "Currently connected real-time subscribers.",
	})

	PublishDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pvsim",
		Name:      "publish_dropped_total",
		Help:      "Messages dropped because a subscriber queue was full.",
	})
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
