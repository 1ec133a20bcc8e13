package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var ConnectionStateGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "stream_connection_state",
		Help: "current state of the streaming channel (0=disconnected 1=connecting 2=connected 3=reconnecting)",
	},
)

var ReconnectAttemptsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "stream_reconnect_attempts_total",
		Help: "reconnect attempts scheduled for the streaming channel",
	},
)

var DroppedMessagesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "stream_dropped_messages_total",
		Help: "inbound stream messages dropped because they failed to parse",
	},
)

var AppliedUpdatesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cache_applied_updates_total",
		Help: "updates accepted by the reconciliation cache",
	},
)

var DiscardedUpdatesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cache_discarded_updates_total",
		Help: "updates discarded by the cache as stale or duplicate",
	},
)

func StartPromClientServer(addr string) {
	reg := prometheus.NewRegistry()
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	reg.MustRegister(ConnectionStateGauge)
	reg.MustRegister(ReconnectAttemptsTotal)
	reg.MustRegister(DroppedMessagesTotal)
	reg.MustRegister(AppliedUpdatesTotal)
	reg.MustRegister(DiscardedUpdatesTotal)
	reg.MustRegister(collectors.NewGoCollector())

	http.Handle("/metrics", promHandler)
	logrus.Infof("prometheus server listening at %s", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		logrus.Fatalf("failed to serve: %v", err)
	}
}
