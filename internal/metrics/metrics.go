// Package metrics provides Prometheus instrumentation for the Warden bot:
// counters for scanned and flagged messages, per-action cascade outcomes,
// and a histogram for rate-gate wait time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesScanned counts inbound group messages that passed the
	// self/non-group filter and entered classification.
	MessagesScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_messages_scanned_total",
		Help: "Inbound group messages considered for classification",
	})

	// SpamDetected counts messages the classifier flagged as spam.
	SpamDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_spam_detected_total",
		Help: "Messages flagged as spam",
	})

	// MessagesDeleted counts spam messages deleted from their group.
	MessagesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_messages_deleted_total",
		Help: "Spam messages deleted",
	})

	// CascadeOutcomes counts per-group cascade results, labeled by action:
	// "removed", "skipped_not_member", "skipped_privileged",
	// "skipped_no_permission", or "failed".
	CascadeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_cascade_outcomes_total",
		Help: "Per-group enforcement cascade outcomes",
	}, []string{"action"})

	// WarningsSent counts warning replies sent in groups where the bot
	// lacks admin rights.
	WarningsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_warnings_sent_total",
		Help: "Warning messages sent instead of enforcement",
	})

	// GateWaitSeconds records how long API calls waited on the rate gate.
	GateWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_gate_wait_seconds",
		Help:    "Time API calls spent waiting on the rate gate",
		Buckets: []float64{.1, .25, .5, 1, 1.5, 2, 5, 10},
	})

	// GatewayReconnects counts supervised reconnects of the gateway session.
	GatewayReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_gateway_reconnects_total",
		Help: "Gateway websocket reconnect attempts",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesScanned,
		SpamDetected,
		MessagesDeleted,
		CascadeOutcomes,
		WarningsSent,
		GateWaitSeconds,
		GatewayReconnects,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
