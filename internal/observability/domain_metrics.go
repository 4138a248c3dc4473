package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resourcewise_chat_turns_total",
			Help: "Total number of chat turns by classified intent category.",
		},
		[]string{"category"},
	)
	chatTurnDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resourcewise_chat_turn_duration_seconds",
			Help:    "End-to-end chat turn latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	llmCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resourcewise_llm_call_duration_seconds",
			Help:    "Latency of language model calls by purpose.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"purpose"},
	)
	sqlRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resourcewise_sql_rejected_total",
			Help: "Total number of generated SQL statements refused by the safety gate.",
		},
	)
	sqlExecDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resourcewise_sql_exec_duration_seconds",
			Help:    "Database execution latency for validated queries.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 10, 30},
		},
	)
	sqlExecFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resourcewise_sql_exec_failures_total",
			Help: "Database execution failures by classified kind.",
		},
		[]string{"kind"},
	)
	streamDisconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resourcewise_stream_disconnects_total",
			Help: "Total number of chat streams abandoned by the client mid-turn.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		chatTurnsTotal,
		chatTurnDurationSeconds,
		llmCallDurationSeconds,
		sqlRejectedTotal,
		sqlExecDurationSeconds,
		sqlExecFailuresTotal,
		streamDisconnectsTotal,
	)
}

func ObserveChatTurn(category string, elapsed time.Duration) {
	chatTurnsTotal.WithLabelValues(category).Inc()
	chatTurnDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveLLMCall(purpose string, elapsed time.Duration) {
	llmCallDurationSeconds.WithLabelValues(purpose).Observe(elapsed.Seconds())
}

func IncrementSQLRejected() {
	sqlRejectedTotal.Inc()
}

func ObserveSQLExecution(elapsed time.Duration) {
	sqlExecDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementSQLFailure(kind string) {
	sqlExecFailuresTotal.WithLabelValues(kind).Inc()
}

func IncrementStreamDisconnect() {
	streamDisconnectsTotal.Inc()
}
