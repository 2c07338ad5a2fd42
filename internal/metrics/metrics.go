package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroom",
		Subsystem: "fanout",
		Name:      "notifications_created_total",
		Help:      "Notification rows written by the fan-out engine.",
	}, []string{"type"})

	NotificationsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroom",
		Subsystem: "fanout",
		Name:      "notifications_skipped_total",
		Help:      "Recipients skipped by preference or as duplicates.",
	}, []string{"type", "reason"})

	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroom",
		Subsystem: "fanout",
		Name:      "notifications_failed_total",
		Help:      "Per-recipient notification writes that failed.",
	}, []string{"type"})

	PushFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classroom",
		Subsystem: "fanout",
		Name:      "push_failed_total",
		Help:      "FCM sends that returned an error.",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classroom",
		Subsystem: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages persisted.",
	})

	TypingDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classroom",
		Subsystem: "chat",
		Name:      "typing_signals_dropped_total",
		Help:      "Typing signals discarded by the per-user throttle.",
	})

	LiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "classroom",
		Subsystem: "realtime",
		Name:      "live_streams",
		Help:      "Open conversation streams and badge watches.",
	}, []string{"kind"})

	Resubscriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroom",
		Subsystem: "realtime",
		Name:      "resubscriptions_total",
		Help:      "Feed subscriptions re-established after a drop.",
	}, []string{"kind"})
)
