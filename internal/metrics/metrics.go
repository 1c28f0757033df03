// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesync_mutations_total",
		Help: "Project mutations by operation and outcome",
	}, []string{"operation", "outcome"})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesync_broadcasts_total",
		Help: "Room broadcasts by event",
	}, []string{"event"})

	Deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_deliveries_total",
		Help: "Messages queued to connected sessions",
	})

	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_slow_client_evictions_total",
		Help: "Sessions disconnected because their outbound queue overflowed",
	})

	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codesync_sessions",
		Help: "Connected real-time sessions",
	})

	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codesync_rooms",
		Help: "Rooms with at least one member",
	})

	RelayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_relay_dropped_total",
		Help: "Room events not relayed because the relay queue was full",
	})
)

// Outcome labels an operation result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
