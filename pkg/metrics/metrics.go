// Package metrics provides Prometheus metrics for the wingfox service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConversationRoundsTotal tracks rounds by outcome (committed, retried, duplicate, skipped)
	ConversationRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "conversation",
			Name:      "rounds_total",
			Help:      "Total number of conversation rounds by outcome",
		},
		[]string{"outcome"},
	)

	// ConversationsFinishedTotal tracks conversations reaching a terminal state
	ConversationsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "conversation",
			Name:      "finished_total",
			Help:      "Total number of conversations reaching a terminal status",
		},
		[]string{"status"},
	)

	// LLMCallsTotal tracks LLM calls by purpose and result
	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of LLM calls by purpose and result",
		},
		[]string{"purpose", "result"},
	)

	// LLMCallDuration tracks LLM call duration in seconds
	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wingfox",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of LLM calls in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"purpose"},
	)

	// QueueWakeupsProcessed tracks wake-ups processed from the stream
	QueueWakeupsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "queue",
			Name:      "wakeups_processed_total",
			Help:      "Total number of wake-ups processed from the stream",
		},
		[]string{"status"},
	)

	// QueueWakeupsInFlight tracks wake-ups currently being processed
	QueueWakeupsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wingfox",
			Subsystem: "queue",
			Name:      "wakeups_in_flight",
			Help:      "Number of wake-ups currently being processed",
		},
	)

	// DLQEntriesTotal tracks wake-ups sent to the dead letter queue
	DLQEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "dlq",
			Name:      "entries_total",
			Help:      "Total number of wake-ups sent to the dead letter queue",
		},
		[]string{"reason"},
	)

	// SchedulerWakeupsReleased tracks due timers moved to the stream
	SchedulerWakeupsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "scheduler",
			Name:      "wakeups_released_total",
			Help:      "Total number of due timers released to the wake-up stream",
		},
	)

	// SweeperConversationsFailed tracks stale conversations force-failed
	SweeperConversationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "sweeper",
			Name:      "conversations_failed_total",
			Help:      "Total number of stale conversations failed by the sweeper",
		},
	)

	// ObserversConnected tracks connected observer sessions
	ObserversConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wingfox",
			Subsystem: "observer",
			Name:      "sessions",
			Help:      "Number of connected observer sessions",
		},
	)

	// ObserverMessagesSent tracks messages pushed to observers
	ObserverMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "observer",
			Name:      "messages_sent_total",
			Help:      "Total number of messages pushed to observers",
		},
		[]string{"type"},
	)

	// MatchesAllocated tracks pairs created by batch allocation
	MatchesAllocated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "allocation",
			Name:      "matches_created_total",
			Help:      "Total number of matches created by batch allocation",
		},
	)

	// MatchFinalScore tracks the distribution of final scores
	MatchFinalScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wingfox",
			Subsystem: "scoring",
			Name:      "final_score",
			Help:      "Distribution of final match scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wingfox",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wingfox",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

// RecordRound records the outcome of one wake-up of a conversation actor
func RecordRound(outcome string) {
	ConversationRoundsTotal.WithLabelValues(outcome).Inc()
}

// RecordConversationFinished records a conversation reaching status
func RecordConversationFinished(status string) {
	ConversationsFinishedTotal.WithLabelValues(status).Inc()
}

// RecordLLMCall records an LLM call metric
func RecordLLMCall(purpose, result string, durationSeconds float64) {
	LLMCallsTotal.WithLabelValues(purpose, result).Inc()
	LLMCallDuration.WithLabelValues(purpose).Observe(durationSeconds)
}

// RecordQueueWakeup records a wake-up processing metric
func RecordQueueWakeup(status string) {
	QueueWakeupsProcessed.WithLabelValues(status).Inc()
}

// RecordDLQEntry records a dead letter queue entry
func RecordDLQEntry(reason string) {
	DLQEntriesTotal.WithLabelValues(reason).Inc()
}

// RecordObserverMessage records a message pushed to an observer
func RecordObserverMessage(messageType string) {
	ObserverMessagesSent.WithLabelValues(messageType).Inc()
}

// RecordFinalScore records a computed final score
func RecordFinalScore(score int) {
	MatchFinalScore.Observe(float64(score))
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
