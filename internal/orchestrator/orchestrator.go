// Package orchestrator implements the per-request driver of spec.md §5: it
// resolves the effective workspace policy, runs retrieval once, drives the
// refinement loop to a terminal decision, persists the step's audit record,
// and reports a typed AgentResult. One request is one call to Handle or
// HandleStream; concurrency across requests is the caller's concern.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/uamm-go/uamm/internal/approvals"
	"github.com/uamm-go/uamm/internal/compose"
	"github.com/uamm-go/uamm/internal/embedding"
	"github.com/uamm-go/uamm/internal/logging"
	"github.com/uamm-go/uamm/internal/metrics"
	"github.com/uamm-go/uamm/internal/model"
	"github.com/uamm-go/uamm/internal/policy"
	"github.com/uamm-go/uamm/internal/refine"
	"github.com/uamm-go/uamm/internal/retrieval"
	"github.com/uamm-go/uamm/internal/security"
	"github.com/uamm-go/uamm/internal/store"
	"github.com/uamm-go/uamm/internal/stream"
	"github.com/uamm-go/uamm/internal/tools"
	"github.com/uamm-go/uamm/internal/uq"
	"github.com/uamm-go/uamm/internal/verification"
)

// WorkspaceResolver opens (or returns a cached) *store.WorkspaceDB for a
// workspace slug. The httpapi/config layer owns the actual file layout.
type WorkspaceResolver func(workspace string) (*store.WorkspaceDB, error)

// Orchestrator wires every collaborator a request needs and drives one
// request end to end.
type Orchestrator struct {
	IndexDB        *store.IndexDB
	Workspaces     WorkspaceResolver
	EmbeddingModel embedding.EmbeddingEngine
	UQEmbed        uq.Embedder
	Calibrator     *uq.Calibrator
	Generator      compose.Generator // nil uses the deterministic fallback
	ModelVerifier  verification.ModelVerifier
	Tools          *tools.Registry
	Approvals      *approvals.Store

	RetrievalBudget int           // evidence items per pack, default 8
	ApprovalTTL     time.Duration // default approvals.DefaultTTL
	LatencyBudget   time.Duration // soft wall-clock budget; 0 disables it
}

// Handle drives one request to a terminal AgentResult without streaming.
func (o *Orchestrator) Handle(ctx context.Context, req model.Request) (model.AgentResult, error) {
	return o.run(ctx, req, time.Now(), func(stream.Event) {})
}

// HandleStream drives one request, publishing every event to w as it
// happens, then Close()s w after the terminal final/error event.
func (o *Orchestrator) HandleStream(ctx context.Context, req model.Request, w *stream.Writer) {
	start := time.Now()
	w.Send(stream.Event{Kind: stream.KindReady, RequestID: req.RequestID, Ready: &stream.ReadyPayload{RequestID: req.RequestID}})
	defer w.Close()
	_, _ = o.run(ctx, req, start, w.Send)
}

func (o *Orchestrator) run(ctx context.Context, req model.Request, start time.Time, emit func(stream.Event)) (model.AgentResult, error) {
	var wsdb *store.WorkspaceDB
	lastStep, lastAnswer := 0, ""
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryOrchestrator).Error("panic handling request %s: %v", req.RequestID, r)
			emit(stream.Event{Kind: stream.KindError, RequestID: req.RequestID, Error: &stream.ErrorPayload{Code: "server_error", Message: fmt.Sprintf("%v", r)}})
			o.persistStep(wsdb, req, lastStep, lastAnswer, model.Decision{Action: model.ActionAbstain}, nil, nil, nil, "error")
		}
	}()

	if o.LatencyBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.LatencyBudget)
		defer cancel()
	}

	pol, err := o.resolvePolicy(req)
	if err != nil {
		return o.fail(req, start, "policy_error", err, emit)
	}

	wsdb, err = o.Workspaces(req.Workspace)
	if err != nil {
		return o.fail(req, start, "workspace_error", err, emit)
	}

	retriever := &retrieval.Retriever{
		Source:         retrieval.StoreSource{DB: wsdb},
		EmbeddingModel: o.EmbeddingModel,
	}
	budget := o.RetrievalBudget
	if budget <= 0 {
		budget = 8
	}
	pack := retriever.Retrieve(ctx, req.Question, req.Workspace, req.Domain, budget, retrieval.Weights{
		Sparse: pol.SparseWeight, Dense: pol.DenseWeight, Entity: pol.EntityWeight,
	})

	loop := &refine.Loop{
		Composer:  compose.Composer{Generator: o.Generator},
		Estimator: &uq.Estimator{Embed: o.UQEmbed, Calibrator: o.Calibrator, Tau: 1.0, NumSamples: 5},
		Verifier:  verification.Verifier{Model: o.ModelVerifier},
		Gate:      policy.ConformalGate{Lookup: o.IndexDB},
		Tools:     o.Tools,
		Approvals: o.Approvals,
		Arena:     model.NewRequestArena(),

		ApprovalTTL: o.approvalTTL(),
	}
	loop.OnStep = func(step int, answer string, decision model.Decision, issues []model.Issue, toolsUsed []string) {
		o.persistStep(wsdb, req, step, answer, decision, issues, toolsUsed, pack.IDs(), "ok")
		lastStep, lastAnswer = step, answer
	}

	answer, decision, traces, toolsUsed := loop.Run(ctx, req, pack, pol, emit)

	status := "ok"
	if ctx.Err() != nil {
		status = "incomplete"
		if decision.Action == "" {
			decision.Action = model.ActionAbstain
		}
	}
	if ctx.Err() == context.DeadlineExceeded && o.LatencyBudget > 0 {
		decision.Action = model.ActionAbstain
		status = "incomplete"
	}

	result := model.AgentResult{
		RequestID: req.RequestID, Answer: answer, Action: decision.Action,
		S1: decision.S1, S2: decision.S2, FinalScore: decision.FinalScore,
		CPAccept: decision.CPAccept, CPTau: decision.CPTau,
		Issues: flattenIssues(traces), ToolsUsed: toolsUsed, PackIDs: pack.IDs(),
		Trace: traces, LatencyMs: time.Since(start).Milliseconds(),
	}

	emit(stream.Event{Kind: stream.KindFinal, RequestID: req.RequestID, Final: &result})

	metrics.RecordRequest(req.Domain, string(result.Action), result.FinalScore, time.Since(start).Seconds())
	metrics.RecordRefinementIterations(req.Domain, len(traces))
	if status == "incomplete" {
		reason := "latency_budget"
		if ctx.Err() == context.Canceled {
			reason = "disconnect"
		}
		metrics.RecordIncomplete(req.Domain, reason)
	}

	// loop.OnStep already persisted every decided step, including the last
	// one, with status "ok". Amend that same StepID (PutStep upserts by
	// step_id) only when the latency budget or client disconnect overrode
	// the terminal decision after Run returned.
	if status != "ok" {
		o.persistStep(wsdb, req, len(traces)-1, answer, decision, result.Issues, toolsUsed, pack.IDs(), status)
	}
	return result, nil
}

func (o *Orchestrator) resolvePolicy(req model.Request) (policy.WorkspacePolicy, error) {
	base := policy.Defaults()
	if o.IndexDB != nil {
		raw, ok, err := o.IndexDB.PolicyOverlay(req.Workspace)
		if err != nil {
			return base, err
		}
		if ok {
			var overlay policy.Overlay
			dec := json.NewDecoder(strings.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&overlay); err != nil {
				return base, fmt.Errorf("decode policy overlay for %q: %w", req.Workspace, err)
			}
			if err := overlay.Validate(); err != nil {
				return base, fmt.Errorf("invalid policy overlay for %q: %w", req.Workspace, err)
			}
			base = overlay.Apply(base)
		}
	}
	return applyRequestOverrides(base, req.Overrides), nil
}

func applyRequestOverrides(pol policy.WorkspacePolicy, o model.RequestOverrides) policy.WorkspacePolicy {
	if o.MaxRefinements != nil {
		pol.MaxRefinements = *o.MaxRefinements
	}
	if o.ToolBudgetPerTurn != nil {
		pol.ToolBudgetPerTurn = *o.ToolBudgetPerTurn
	}
	if o.ToolBudgetPerRefinement != nil {
		pol.ToolBudgetPerRefinement = *o.ToolBudgetPerRefinement
	}
	if o.BorderlineDelta != nil {
		pol.BorderlineDelta = *o.BorderlineDelta
	}
	if o.AcceptThreshold != nil {
		pol.AcceptThreshold = *o.AcceptThreshold
	}
	return pol
}

func (o *Orchestrator) approvalTTL() time.Duration {
	if o.ApprovalTTL > 0 {
		return o.ApprovalTTL
	}
	return approvals.DefaultTTL
}

func (o *Orchestrator) fail(req model.Request, start time.Time, code string, err error, emit func(stream.Event)) (model.AgentResult, error) {
	logging.Get(logging.CategoryOrchestrator).Error("request %s failed: code=%s err=%v", req.RequestID, code, err)
	emit(stream.Event{Kind: stream.KindError, RequestID: req.RequestID, Error: &stream.ErrorPayload{Code: code, Message: err.Error()}})
	return model.AgentResult{RequestID: req.RequestID, Action: model.ActionAbstain, LatencyMs: time.Since(start).Milliseconds()}, err
}

func flattenIssues(traces []model.TraceSummary) []model.Issue {
	var issues []model.Issue
	if len(traces) == 0 {
		return issues
	}
	last := traces[len(traces)-1]
	for _, kind := range last.Issues {
		issues = append(issues, model.Issue{Kind: model.IssueKind(kind)})
	}
	return issues
}

// persistStep writes one decided step's StepRecord. StepID is derived from
// RequestID+StepIndex rather than minted fresh, so a retried call for the
// same step (e.g. the latency-budget amend after loop.OnStep already ran)
// upserts the same row instead of duplicating it.
func (o *Orchestrator) persistStep(wsdb *store.WorkspaceDB, req model.Request, step int, answer string, decision model.Decision, issues []model.Issue, toolsUsed []string, packIDs []string, status string) {
	if wsdb == nil {
		return
	}
	issueKinds := make([]string, len(issues))
	for i, iss := range issues {
		issueKinds[i] = string(iss.Kind)
	}
	traceJSON, err := json.Marshal(model.TraceSummary{Step: step, IsRefinement: step > 0, Issues: issueKinds, ToolsUsed: toolsUsed})
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("marshal trace for request %s step %d: %v", req.RequestID, step, err)
		traceJSON = []byte("{}")
	}
	redactedQ, _ := security.Redact(req.Question)
	redactedA, _ := security.Redact(answer)

	rec := model.StepRecord{
		StepID: fmt.Sprintf("%s-%d", req.RequestID, step), RequestID: req.RequestID, StepIndex: step,
		RedactedQuestion: redactedQ, RedactedAnswer: redactedA,
		S1: decision.S1, S2: decision.S2, S: decision.FinalScore, CPAccept: decision.CPAccept,
		Action: decision.Action, ToolsUsed: toolsUsed, PackIDs: packIDs,
		Issues: issues, TraceJSON: string(traceJSON), Status: status,
		CreatedAt: time.Now(),
	}
	if err := wsdb.PutStep(context.Background(), rec); err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("persist step %d for request %s: %v", step, req.RequestID, err)
	}
}
