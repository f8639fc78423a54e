package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest_IncrementsCounterAndObservesHistograms(t *testing.T) {
	before := testutil.ToFloat64(requestsTotal.WithLabelValues("default", "accept"))
	RecordRequest("default", "accept", 0.92, 1.5)
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("default", "accept"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordToolCall_IncrementsPerStatus(t *testing.T) {
	before := testutil.ToFloat64(toolCallsTotal.WithLabelValues("MATH_EVAL", "ok"))
	RecordToolCall("MATH_EVAL", "ok")
	after := testutil.ToFloat64(toolCallsTotal.WithLabelValues("MATH_EVAL", "ok"))
	if after != before+1 {
		t.Fatalf("expected tool call counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordIncomplete_IncrementsByReason(t *testing.T) {
	before := testutil.ToFloat64(stepsIncompleteTotal.WithLabelValues("default", "latency_budget"))
	RecordIncomplete("default", "latency_budget")
	after := testutil.ToFloat64(stepsIncompleteTotal.WithLabelValues("default", "latency_budget"))
	if after != before+1 {
		t.Fatalf("expected incomplete counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordRefinementIterationsAndApprovalWait_DoNotPanic(t *testing.T) {
	RecordRefinementIterations("default", 3)
	RecordApprovalWait("WEB_FETCH", "approved", 4.2)
}
