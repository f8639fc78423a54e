// Package metrics provides Prometheus instrumentation for the orchestration
// engine: per-request outcomes, refinement-loop iteration counts, tool
// dispatch results, and approval latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uamm_requests_total",
			Help: "Total number of answer requests by terminal action",
		},
		[]string{"domain", "action"}, // action: accept, iterate, abstain
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uamm_request_duration_seconds",
			Help:    "End-to-end request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"domain"},
	)

	refinementIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uamm_refinement_iterations",
			Help:    "Number of refinement-loop iterations per request",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"domain"},
	)

	decisionScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uamm_decision_score",
			Help:    "Final decision score (s1/s2 blend) per terminal decision",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"domain", "action"},
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uamm_tool_calls_total",
			Help: "Total tool dispatches by tool and outcome",
		},
		[]string{"tool", "status"}, // status: ok, blocked, failed, denied, expired
	)

	approvalWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uamm_approval_wait_seconds",
			Help:    "Time spent waiting for a human approval decision",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900},
		},
		[]string{"tool", "outcome"}, // outcome: approved, denied, expired
	)

	stepsIncompleteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uamm_steps_incomplete_total",
			Help: "Requests that ended incomplete (latency budget or client disconnect)",
		},
		[]string{"domain", "reason"}, // reason: latency_budget, disconnect
	)
)

// RecordRequest records one request's terminal outcome and latency.
func RecordRequest(domain, action string, s float64, durationSeconds float64) {
	requestsTotal.WithLabelValues(domain, action).Inc()
	requestDurationSeconds.WithLabelValues(domain).Observe(durationSeconds)
	decisionScores.WithLabelValues(domain, action).Observe(s)
}

// RecordRefinementIterations records how many iterations a request took.
func RecordRefinementIterations(domain string, iterations int) {
	refinementIterations.WithLabelValues(domain).Observe(float64(iterations))
}

// RecordToolCall records one tool dispatch outcome.
func RecordToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordApprovalWait records how long an approval took to resolve.
func RecordApprovalWait(tool, outcome string, waitSeconds float64) {
	approvalWaitSeconds.WithLabelValues(tool, outcome).Observe(waitSeconds)
}

// RecordIncomplete records a request that ended incomplete rather than at a
// terminal decision.
func RecordIncomplete(domain, reason string) {
	stepsIncompleteTotal.WithLabelValues(domain, reason).Inc()
}
