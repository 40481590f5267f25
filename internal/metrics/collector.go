// Package metrics provides internal metrics collection for the harness.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector tracks the harness's own operational metrics.
type Collector struct {
	conversationsTotal *prometheus.CounterVec
	turnsTotal         prometheus.Counter
	pollAttemptsTotal  *prometheus.CounterVec
	judgeCallsTotal    *prometheus.CounterVec
	evaluatorRunsTotal *prometheus.CounterVec
	conversationTime   prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a collector. Metrics register globally, so use a
// distinct namespace per process.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.conversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Total number of driven conversations",
		},
		[]string{"outcome"}, // outcome: success, failure
	)

	c.turnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns sent",
		},
	)

	c.pollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_poll_attempts_total",
			Help:      "Total number of trace store poll attempts",
		},
		[]string{"protocol"}, // protocol: session, completion
	)

	c.judgeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_calls_total",
			Help:      "Total number of LLM judge calls",
		},
		[]string{"kind", "status"},
	)

	c.evaluatorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluator_runs_total",
			Help:      "Total number of evaluator executions",
		},
		[]string{"evaluator"},
	)

	c.conversationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_duration_seconds",
			Help:      "Wall-clock duration of one driven conversation",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	return c
}

// RecordConversation counts one finished conversation.
func (c *Collector) RecordConversation(success bool, seconds float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.conversationsTotal.WithLabelValues(outcome).Inc()
	c.conversationTime.Observe(seconds)
}

// RecordTurn counts one sent turn.
func (c *Collector) RecordTurn() {
	c.turnsTotal.Inc()
}

// RecordPollAttempt counts one trace store poll.
func (c *Collector) RecordPollAttempt(protocol string) {
	c.pollAttemptsTotal.WithLabelValues(protocol).Inc()
}

// RecordJudgeCall counts one LLM judge call.
func (c *Collector) RecordJudgeCall(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.judgeCallsTotal.WithLabelValues(kind, status).Inc()
}

// RecordEvaluatorRun counts one evaluator execution.
func (c *Collector) RecordEvaluatorRun(evaluator string) {
	c.evaluatorRunsTotal.WithLabelValues(evaluator).Inc()
}
