package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diary_ws_connections",
		Help: "Current number of active websocket connections",
	})
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diary_ws_events_total",
		Help: "Total number of inbound websocket events by type",
	}, []string{"event"})
	StrokesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "diary_strokes_total",
		Help: "Total number of strokes relayed",
	})
	ReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "diary_replays_total",
		Help: "Total number of stroke history replays delivered",
	})
)

func init() {
	prometheus.MustRegister(WsConnections, EventsTotal, StrokesTotal, ReplaysTotal)
}
