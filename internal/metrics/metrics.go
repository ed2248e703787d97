package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})

	LiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_streams",
		Help: "Live query streams currently running",
	})

	Snapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_snapshots_total",
		Help: "Snapshots produced by live query streams",
	})

	Actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_actions_total",
		Help: "Chat actions by name and result",
	}, []string{"action", "result"})

	once sync.Once
)

func Init() {
	once.Do(func() {
		prometheus.MustRegister(Connections, LiveStreams, Snapshots, Actions)
	})
}

// Observe counts one action outcome.
func Observe(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Actions.WithLabelValues(action, result).Inc()
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
