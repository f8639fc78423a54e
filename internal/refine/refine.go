// Package refine implements the refinement loop of spec.md §4.6: it drives
// Composer/SNNE/Verifier/Decision-Head iterations, dispatching tools on
// fixable issues within budget, minting and resolving PCN placeholders,
// until a terminal action is reached or budgets are exhausted.
package refine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uamm-go/uamm/internal/approvals"
	"github.com/uamm-go/uamm/internal/compose"
	"github.com/uamm-go/uamm/internal/gov"
	"github.com/uamm-go/uamm/internal/logging"
	"github.com/uamm-go/uamm/internal/metrics"
	"github.com/uamm-go/uamm/internal/model"
	"github.com/uamm-go/uamm/internal/pcn"
	"github.com/uamm-go/uamm/internal/policy"
	"github.com/uamm-go/uamm/internal/stream"
	"github.com/uamm-go/uamm/internal/tools"
	"github.com/uamm-go/uamm/internal/uq"
	"github.com/uamm-go/uamm/internal/verification"
)

// calcMarker and fetchMarker are the draft's way of requesting a tool
// resolve a value before final emission: the Composer (or a real
// generator) emits these instead of a bare number/fact when it needs a
// tool-verified result. MATH_EVAL and WEB_FETCH scan for them each
// iteration.
// queryMarker requests a TABLE_QUERY lookup, e.g. "{{query:SELECT balance
// FROM accounts WHERE id = 1}}". TABLE_QUERY's own SQL guard rejects
// anything but a single read-only SELECT, so no further escaping is
// attempted here.
var (
	calcMarker  = regexp.MustCompile(`\{\{calc:([^|}]+)(?:\|([^}]+))?\}\}`)
	fetchMarker = regexp.MustCompile(`\{\{fetch:([^}]+)\}\}`)
	queryMarker = regexp.MustCompile(`\{\{query:([^}]+)\}\}`)
	pcnMarker   = regexp.MustCompile(`\{\{pcn:[^}]+\}\}`)
)

// Loop wires every collaborator the refinement iteration needs.
type Loop struct {
	Composer  compose.Composer
	Estimator *uq.Estimator
	Verifier  verification.Verifier
	Gate      policy.ConformalGate
	Tools     *tools.Registry
	Approvals *approvals.Store
	Arena     *model.RequestArena

	ApprovalTTL time.Duration

	// OnStep, if set, is invoked once per iteration immediately after that
	// iteration's decision is reached — before the next iteration's Compose
	// call, or before Run returns on the terminal step — so the caller can
	// persist a StepRecord per decided step in order (spec.md §5).
	OnStep StepFunc
}

// Emitter publishes one stream event. The orchestrator supplies this bound
// to the request's stream.Writer.
type Emitter func(stream.Event)

// StepFunc receives one iteration's decided-step fields: the draft text as
// it stood at that decision, the decision itself, the issues the verifier
// raised for it, and the tools dispatched during that iteration.
type StepFunc func(step int, answer string, decision model.Decision, issues []model.Issue, toolsUsed []string)

// Run drives the loop to a terminal decision, returning the final draft
// text, decision, trace summaries, and tools used across all iterations.
func (l *Loop) Run(ctx context.Context, req model.Request, pack model.Pack, pol policy.WorkspacePolicy, emit Emitter) (string, model.Decision, []model.TraceSummary, []string) {
	var (
		traces       []model.TraceSummary
		allToolsUsed []string
		refinement   *compose.RefinementContext
		priorIssues  []model.Issue
	)

	budgetRemaining := pol.ToolBudgetPerTurn

	for step := 0; ; step++ {
		draft, _, err := l.Composer.Compose(ctx, step, req.Question, pack, refinement)
		if err != nil {
			logging.RefineDebug("compose failed at step=%d: %v", step, err)
		}

		isRefinement := step > 0
		perIterationBudget := pol.ToolBudgetPerRefinement
		if perIterationBudget > budgetRemaining {
			perIterationBudget = budgetRemaining
		}
		toolOutputs, toolsUsedThisStep, replacements, dispatchIssues := l.dispatchTools(ctx, req, draft, priorIssues, pol, perIterationBudget, emit)
		budgetRemaining -= len(toolsUsedThisStep)
		allToolsUsed = append(allToolsUsed, toolsUsedThisStep...)
		for marker, repl := range replacements {
			draft.Text = strings.ReplaceAll(draft.Text, marker, repl)
		}
		draft.Text = pcn.Resolve(draft.Text, l.Arena.AllPCNs())

		uqResult := l.Estimator.Estimate(ctx, step, req.Domain, draft.Text)

		var govGraph *gov.Graph
		if len(l.Arena.Edges()) > 0 {
			nodes := make(map[string]*model.GoVNode)
			for _, n := range l.Arena.AllNodes() {
				nodes[n.ID] = n
			}
			edges := l.Arena.Edges()
			govGraph = &gov.Graph{Nodes: nodes, Edges: edges}
		}

		verifierResult := l.Verifier.Verify(ctx, verification.Input{
			StepIndex: step, Question: req.Question, Draft: draft, Pack: pack, Arena: l.Arena, GoVGraph: govGraph,
		})
		verifierResult.Issues = append(verifierResult.Issues, dispatchIssues...)

		decision := policy.Decide(policy.DecideInput{
			StepIndex:       step,
			S1:              uqResult.S1,
			S2:              verifierResult.S2,
			Domain:          req.Domain,
			Policy:          pol,
			Issues:          verifierResult.Issues,
			RefinementIndex: step,
		}, l.Gate)

		emit(stream.Event{Kind: stream.KindScore, RequestID: req.RequestID, Score: &stream.ScorePayload{
			S1: decision.S1, S2: decision.S2, FinalScore: decision.FinalScore, CPAccept: decision.CPAccept, CPTau: decision.CPTau,
		}})

		issueStrings := make([]string, len(verifierResult.Issues))
		for i, iss := range verifierResult.Issues {
			issueStrings[i] = string(iss.Kind)
		}
		traces = append(traces, model.TraceSummary{
			Step: step, IsRefinement: isRefinement, Issues: issueStrings, ToolsUsed: toolsUsedThisStep,
		})
		emit(stream.Event{Kind: stream.KindTrace, RequestID: req.RequestID, Trace: &stream.TracePayload{
			Step: step, IsRefinement: isRefinement, Issues: issueStrings, ToolsUsed: toolsUsedThisStep,
		}})

		if decision.Action != model.ActionIterate || step >= pol.MaxRefinements {
			finalText := pcn.Resolve(draft.Text, l.Arena.AllPCNs())
			if pol.StrictPCNResolution {
				finalText = unresolveAll(finalText)
			}
			if l.OnStep != nil {
				l.OnStep(step, finalText, decision, verifierResult.Issues, toolsUsedThisStep)
			}
			return finalText, decision, traces, allToolsUsed
		}

		if l.OnStep != nil {
			l.OnStep(step, draft.Text, decision, verifierResult.Issues, toolsUsedThisStep)
		}

		priorIssues = verifierResult.Issues
		refinement = &compose.RefinementContext{Issues: verifierResult.Issues, PriorDraft: &draft, ToolOutputs: toolOutputs}
	}
}

// dispatchTools selects tools for the current iteration's fixable issues
// and draft markers, enforces the allowlist/approval/budget rules of
// §4.6, and runs allowed calls concurrently via errgroup, joining before
// the Composer re-runs (spec.md §5).
func (l *Loop) dispatchTools(ctx context.Context, req model.Request, draft model.Draft, issues []model.Issue, pol policy.WorkspacePolicy, budget int, emit Emitter) (map[string]string, []string, map[string]string, []model.Issue) {
	type call struct {
		name   tools.Name
		args   map[string]any
		marker string // full matched marker text to substitute in the draft, if any
	}
	var candidates []call

	for _, iss := range issues {
		switch iss.Kind {
		case model.IssueMissingEvidence, model.IssueMissingCitations:
			candidates = append(candidates, call{name: tools.WebSearch, args: map[string]any{"query": req.Question}})
		}
	}
	for _, m := range fetchMarker.FindAllStringSubmatch(draft.Text, -1) {
		candidates = append(candidates, call{name: tools.WebFetch, args: map[string]any{"url": m[1]}, marker: m[0]})
	}
	for _, m := range calcMarker.FindAllStringSubmatch(draft.Text, -1) {
		args := map[string]any{"expression": m[1]}
		if len(m) > 2 && m[2] != "" {
			args["unit"] = m[2]
		}
		candidates = append(candidates, call{name: tools.MathEval, args: args, marker: m[0]})
	}
	for _, m := range queryMarker.FindAllStringSubmatch(draft.Text, -1) {
		candidates = append(candidates, call{name: tools.TableQuery, args: map[string]any{"sql": m[1]}, marker: m[0]})
	}

	if budget <= 0 || len(candidates) == 0 {
		return nil, nil, nil, nil
	}
	if len(candidates) > budget {
		candidates = candidates[:budget]
	}

	type result struct {
		name        string
		output      string
		marker      string
		replacement string
		used        bool
	}
	results := make([]result, len(candidates))
	var dispatchIssues []model.Issue

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		i, c := i, c
		name := string(c.name)

		if !pol.ToolAllowed(name) {
			metrics.RecordToolCall(name, "blocked")
			emit(stream.Event{Kind: stream.KindTool, RequestID: req.RequestID, Tool: &stream.ToolPayload{Name: name, Status: stream.ToolBlocked}})
			continue
		}

		if pol.ToolRequiresApproval(name) {
			approvalID := l.Approvals.Register(req.RequestID, name, c.args, l.ApprovalTTL)
			emit(stream.Event{Kind: stream.KindTool, RequestID: req.RequestID, Tool: &stream.ToolPayload{Name: name, Status: stream.ToolWaitingApproval, ID: approvalID}})
			waitStart := time.Now()
			state := l.Approvals.Await(ctx, approvalID)
			metrics.RecordApprovalWait(name, string(state), time.Since(waitStart).Seconds())
			if state != model.ApprovalApproved {
				metrics.RecordToolCall(name, string(state))
				dispatchIssues = append(dispatchIssues, approvalIssue(name, state))
				continue
			}
		}

		g.Go(func() error {
			emit(stream.Event{Kind: stream.KindTool, RequestID: req.RequestID, Tool: &stream.ToolPayload{Name: name, Status: stream.ToolStart}})
			outcome, err := l.Tools.Dispatch(gctx, c.name, c.args)
			if err != nil || outcome.Status != tools.OutcomeOK {
				metrics.RecordToolCall(name, "failed")
				emit(stream.Event{Kind: stream.KindTool, RequestID: req.RequestID, Tool: &stream.ToolPayload{Name: name, Status: stream.ToolError}})
				return nil
			}
			metrics.RecordToolCall(name, "ok")
			emit(stream.Event{Kind: stream.KindTool, RequestID: req.RequestID, Tool: &stream.ToolPayload{Name: name, Status: stream.ToolStop}})
			r := result{name: name, output: renderOutcome(outcome), used: true, marker: c.marker}
			if c.marker != "" {
				r.replacement = l.resolveMarker(c.name, outcome, c.args)
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	outputs := make(map[string]string)
	replacements := make(map[string]string)
	var used []string
	for _, r := range results {
		if !r.used {
			continue
		}
		outputs[r.name] = r.output
		used = append(used, r.name)
		if r.marker != "" {
			replacements[r.marker] = r.replacement
		}
	}
	sort.Strings(used)
	return outputs, used, replacements, dispatchIssues
}

// approvalIssue maps a non-approved wait outcome to the issue kind the
// decision head tie-break and audit trail should see, per §4.6 step 3.
func approvalIssue(name string, state model.ApprovalState) model.Issue {
	if state == model.ApprovalExpired {
		return model.Issue{Kind: model.IssueApprovalExpired, Detail: name}
	}
	return model.Issue{Kind: model.IssueApprovalDenied, Detail: name}
}

// resolveMarker turns one tool outcome into the literal text that should
// replace its {{calc:...}}/{{fetch:...}}/{{query:...}} marker. MATH_EVAL
// results are minted as a PCN token first, so the substitution is its
// placeholder (resolved to a value or the unverified sentinel by
// pcn.Resolve); WEB_FETCH substitutes its fetched text directly, since it
// carries no numeric claim to verify; TABLE_QUERY's first row is rendered
// inline, since a row set carries no single numeric claim to mint a PCN for.
func (l *Loop) resolveMarker(name tools.Name, outcome *tools.Outcome, args map[string]any) string {
	switch name {
	case tools.MathEval:
		res, ok := outcome.Value.(tools.MathResult)
		if !ok {
			return model.UnverifiedSentinel
		}
		policyUnit := ""
		if u, ok := args["unit"].(string); ok {
			policyUnit = u
		}
		tok := pcn.Mint(res.Value, res.Unit, fmt.Sprintf("MATH_EVAL:%v", args["expression"]), model.PCNPolicy{Unit: policyUnit})
		pcn.Verify(tok)
		l.Arena.PutPCN(tok)
		return tok.Placeholder
	case tools.WebFetch:
		if res, ok := outcome.Value.(tools.FetchResult); ok {
			return res.Text
		}
		return ""
	case tools.TableQuery:
		if res, ok := outcome.Value.(tools.QueryResult); ok {
			return renderRow(res)
		}
		return model.UnverifiedSentinel
	default:
		return ""
	}
}

// renderRow formats a TABLE_QUERY result's first row as "col=value, ..." for
// inline substitution, or the unverified sentinel if the query returned no
// rows.
func renderRow(res tools.QueryResult) string {
	if len(res.Rows) == 0 {
		return model.UnverifiedSentinel
	}
	row := res.Rows[0]
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s=%v", col, row[col])
	}
	return strings.Join(parts, ", ")
}

func renderOutcome(outcome *tools.Outcome) string {
	switch v := outcome.Value.(type) {
	case tools.MathResult:
		if v.Unit != "" {
			return fmt.Sprintf("%v %s", v.Value, v.Unit)
		}
		return fmt.Sprintf("%v", v.Value)
	case tools.FetchResult:
		return v.Text
	case []tools.SearchHit:
		if len(v) > 0 {
			return v[0].Snippet
		}
		return ""
	case tools.QueryResult:
		return renderRow(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// unresolveAll replaces every remaining raw PCN placeholder pattern with
// the unverified sentinel, enforcing the strict resolution invariant.
func unresolveAll(text string) string {
	text = calcMarker.ReplaceAllString(text, model.UnverifiedSentinel)
	text = fetchMarker.ReplaceAllString(text, model.UnverifiedSentinel)
	text = queryMarker.ReplaceAllString(text, model.UnverifiedSentinel)
	text = pcnMarker.ReplaceAllString(text, model.UnverifiedSentinel)
	return text
}
