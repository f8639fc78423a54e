package refine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uamm-go/uamm/internal/approvals"
	"github.com/uamm-go/uamm/internal/compose"
	"github.com/uamm-go/uamm/internal/model"
	"github.com/uamm-go/uamm/internal/policy"
	"github.com/uamm-go/uamm/internal/security"
	"github.com/uamm-go/uamm/internal/store"
	"github.com/uamm-go/uamm/internal/stream"
	"github.com/uamm-go/uamm/internal/tools"
	"github.com/uamm-go/uamm/internal/uq"
	"github.com/uamm-go/uamm/internal/verification"
)

type stubGenerator struct {
	text string
}

func (g stubGenerator) Generate(ctx context.Context, question string, pack model.Pack, refinement *compose.RefinementContext) (string, []string, error) {
	return g.text, nil, nil
}

// stubEmbedder returns a vector derived from text length so identical
// paraphrases of the same draft land close together without a real model.
type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

func newLoop(genText string) *Loop {
	return &Loop{
		Composer:  compose.Composer{Generator: stubGenerator{text: genText}},
		Estimator: &uq.Estimator{Embed: stubEmbedder{}, Tau: 1.0, NumSamples: 3},
		Verifier:  verification.Verifier{},
		Gate:      policy.ConformalGate{},
		Tools:     tools.NewRegistry(),
		Approvals: approvals.NewStore(time.Minute),
		Arena:     model.NewRequestArena(),

		ApprovalTTL: time.Second,
	}
}

func TestRun_AcceptsCleanDraftOnFirstPass(t *testing.T) {
	l := newLoop("Paris is the capital of France. (source: https://example.com/paris)")
	defer l.Approvals.Close()

	pack := model.Pack{Items: []model.EvidenceItem{
		{ItemID: "1", Text: "Paris is the capital of France.", URL: "https://example.com/paris"},
	}}
	pol := policy.Defaults()
	req := model.Request{RequestID: "r1", Question: "What is the capital of France?", Domain: "default"}

	var events []stream.Event
	text, decision, traces, toolsUsed := l.Run(context.Background(), req, pack, pol, func(e stream.Event) {
		events = append(events, e)
	})

	assert.Contains(t, text, "Paris")
	assert.Equal(t, model.ActionAccept, decision.Action)
	require.Len(t, traces, 1)
	assert.Empty(t, toolsUsed)
	assert.NotEmpty(t, events)
}

func TestRun_AbstainsWhenBudgetExhaustedAndStillUnsupported(t *testing.T) {
	l := newLoop("I'm not sure about this one.")
	defer l.Approvals.Close()

	pol := policy.Defaults()
	pol.MaxRefinements = 0
	pol.AcceptThreshold = 0.99 // forces non-accept regardless of the exact confidence score
	req := model.Request{RequestID: "r2", Question: "unanswerable?", Domain: "default"}

	_, decision, traces, _ := l.Run(context.Background(), req, model.Pack{}, pol, func(stream.Event) {})
	assert.NotEqual(t, model.ActionAccept, decision.Action)
	require.Len(t, traces, 1)
}

func TestRun_BlockedToolEmitsBlockedEventWithoutBudgetCharge(t *testing.T) {
	l := newLoop("no evidence here at all")
	defer l.Approvals.Close()
	require.NoError(t, l.Tools.Register(tools.MathEvalTool()))

	pol := policy.Defaults()
	pol.ToolsAllowed = []string{"MATH_EVAL"} // WEB_SEARCH is not allowed
	pol.MaxRefinements = 1
	pol.AcceptThreshold = 0.99 // forces the borderline-iterate branch so the second iteration's dispatch runs
	pol.BorderlineDelta = 0.5
	req := model.Request{RequestID: "r3", Question: "what is true?", Domain: "default"}

	var blocked bool
	_, _, _, toolsUsed := l.Run(context.Background(), req, model.Pack{Items: []model.EvidenceItem{{ItemID: "1", Text: "something unrelated entirely"}}}, pol, func(e stream.Event) {
		if e.Kind == stream.KindTool && e.Tool != nil && e.Tool.Status == stream.ToolBlocked {
			blocked = true
		}
	})
	assert.True(t, blocked)
	assert.NotContains(t, toolsUsed, "WEB_SEARCH")
}

func TestRun_ResolvesCalcMarkerViaMathEval(t *testing.T) {
	l := newLoop("The result is {{calc:2+2|count}}.")
	defer l.Approvals.Close()
	require.NoError(t, l.Tools.Register(tools.MathEvalTool()))

	pol := policy.Defaults()
	pol.MaxRefinements = 1
	req := model.Request{RequestID: "r4", Question: "what is 2+2?", Domain: "default"}

	text, _, _, toolsUsed := l.Run(context.Background(), req, model.Pack{}, pol, func(stream.Event) {})
	assert.Contains(t, toolsUsed, "MATH_EVAL")
	assert.NotContains(t, text, "{{calc:")
}

func TestRun_ApprovalExpiryAppendsIssueAndSkipsTool(t *testing.T) {
	l := newLoop("see {{fetch:https://example.com/report}} for details.")
	l.ApprovalTTL = 20 * time.Millisecond
	defer l.Approvals.Close()
	require.NoError(t, l.Tools.Register(tools.WebFetchTool(security.DefaultEgressPolicy())))

	pol := policy.Defaults()
	pol.ToolsAllowed = []string{"WEB_FETCH"}
	pol.ToolsRequiringApproval = []string{"WEB_FETCH"}
	pol.MaxRefinements = 0
	req := model.Request{RequestID: "r6", Question: "what does the report say?", Domain: "default"}

	text, _, traces, toolsUsed := l.Run(context.Background(), req, model.Pack{}, pol, func(stream.Event) {})

	assert.NotContains(t, text, "{{fetch:")
	assert.NotContains(t, toolsUsed, "WEB_FETCH")
	require.NotEmpty(t, traces)
	assert.Contains(t, traces[len(traces)-1].Issues, "approval_expired")
}

func TestRun_ResolvesQueryMarkerViaTableQuery(t *testing.T) {
	wsdb, err := store.OpenWorkspaceDB(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	defer wsdb.Close()
	_, err = wsdb.PutMemory(context.Background(), store.MemoryRecord{Workspace: "ws", Domain: "finance", Key: "balance", Text: "1200"})
	require.NoError(t, err)

	l := newLoop("The balance on file is {{query:SELECT text FROM memory WHERE key = 'balance'}}.")
	defer l.Approvals.Close()
	require.NoError(t, l.Tools.Register(tools.TableQueryTool(wsdb.DB(), []string{"memory"}, tools.NewTableRateLimiter(5, 10))))

	pol := policy.Defaults()
	pol.MaxRefinements = 1
	req := model.Request{RequestID: "r5", Question: "what is the balance?", Domain: "default"}

	text, _, _, toolsUsed := l.Run(context.Background(), req, model.Pack{}, pol, func(stream.Event) {})
	assert.Contains(t, toolsUsed, "TABLE_QUERY")
	assert.NotContains(t, text, "{{query:")
	assert.Contains(t, text, "1200")
}
