package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_messages_sent_total",
			Help: "Messages written to the store, by type.",
		},
		[]string{"type"},
	)

	SendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_send_failures_total",
			Help: "Message writes that failed.",
		},
	)

	PushFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_failures_total",
			Help: "Push dispatches that failed, by relay.",
		},
		[]string{"relay"},
	)

	SnapshotsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_snapshots_applied_total",
			Help: "Live snapshots applied to local state, by engine.",
		},
		[]string{"engine"},
	)

	SnapshotsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_snapshots_skipped_total",
			Help: "Live snapshots not applied because of an error or the empty-snapshot policy.",
		},
		[]string{"engine", "reason"},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_active_subscriptions",
			Help: "Live subscriptions currently attached.",
		},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		MessagesSent,
		SendFailures,
		PushFailures,
		SnapshotsApplied,
		SnapshotsSkipped,
		ActiveSubscriptions,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
