// Package verification implements the structured verifier of spec.md §4.4:
// a rule-engine producing s2, an ordered list of issues, and needs_fix,
// supplemented with claim-level faithfulness scoring ported from
// original_source/src/uamm/verification/faithfulness.py.
package verification

import (
	"context"
	"strings"

	"github.com/uamm-go/uamm/internal/gov"
	"github.com/uamm-go/uamm/internal/model"
	"github.com/uamm-go/uamm/internal/security"
)

// FaithfulnessThreshold is the default below which a claim is folded into
// unsupported_claim, matching the original's configurable threshold.
const FaithfulnessThreshold = 0.6

// ModelVerifier is an optional supplementary backend; malformed output
// (ok=false) is retried once by Verify before being treated as
// verifier_degenerate.
type ModelVerifier interface {
	Verify(ctx context.Context, draft model.Draft, pack model.Pack) (s2 float64, issues []model.Issue, ok bool, err error)
}

// Verifier runs the rule-engine and, if configured, a supplementary model
// backend.
type Verifier struct {
	Model ModelVerifier
}

// Input bundles everything the verifier rules need.
type Input struct {
	StepIndex int
	Question  string
	Draft     model.Draft
	Pack      model.Pack
	Arena     *model.RequestArena
	GoVGraph  *gov.Graph
}

// Verify runs the structured verifier per §4.4's algorithm.
func (v Verifier) Verify(ctx context.Context, in Input) model.VerifierResult {
	var issues []model.Issue

	citationScore := checkCitations(in.Draft.Text, in.Pack, &issues)
	pcnScore := checkPCNPlaceholders(in.Arena, &issues)
	govScore := checkGoV(in.Arena, in.GoVGraph, &issues)
	faithfulness := ComputeFaithfulness(in.Draft.Text, in.Pack)
	if faithfulness < FaithfulnessThreshold {
		issues = append(issues, model.Issue{Kind: model.IssueUnsupportedClaim, Detail: "draft faithfulness below threshold"})
	}
	if findings := security.DetectPromptInjection(in.Draft.Text); len(findings) > 0 {
		issues = append(issues, model.Issue{Kind: model.IssueInjectionSuspected, Detail: findings[0].Pattern})
	}

	s2 := average(citationScore, pcnScore, govScore, faithfulness)
	needsFix := len(issues) > 0

	if v.Model != nil {
		modelS2, modelIssues, ok, err := v.Model.Verify(ctx, in.Draft, in.Pack)
		if !ok {
			modelS2, modelIssues, ok, err = v.Model.Verify(ctx, in.Draft, in.Pack)
		}
		switch {
		case err != nil || !ok:
			issues = append(issues, model.Issue{Kind: model.IssueVerifierDegenerate, Detail: "model verifier produced malformed output twice"})
			needsFix = true
		default:
			issues = append(issues, modelIssues...)
			s2 = average(s2, modelS2)
			needsFix = needsFix || len(modelIssues) > 0
		}
	}

	return model.VerifierResult{StepIndex: in.StepIndex, S2: s2, Issues: issues, NeedsFix: needsFix}
}

// checkCitations reports the fraction of pack items cited (by URL, title or
// substantial text overlap) in the draft text. An empty pack appends
// missing_evidence rather than scoring as a pass, since there was nothing
// for retrieval to hand the composer in the first place; a non-empty pack
// with nothing cited appends missing_citations instead.
func checkCitations(draftText string, pack model.Pack, issues *[]model.Issue) float64 {
	if len(pack.Items) == 0 {
		*issues = append(*issues, model.Issue{Kind: model.IssueMissingEvidence, Detail: "retrieval returned no evidence"})
		return 0
	}
	lower := strings.ToLower(draftText)
	cited := 0
	for _, item := range pack.Items {
		if (item.URL != "" && strings.Contains(lower, strings.ToLower(item.URL))) ||
			(item.Title != "" && strings.Contains(lower, strings.ToLower(item.Title))) ||
			overlaps(lower, strings.ToLower(item.Text)) {
			cited++
		}
	}
	if cited == 0 {
		*issues = append(*issues, model.Issue{Kind: model.IssueMissingCitations, Detail: "no pack item referenced in draft"})
		return 0
	}
	return float64(cited) / float64(len(pack.Items))
}

// overlaps is a crude substring-based citation check: true when a
// meaningful chunk of the evidence text appears in the draft.
func overlaps(draftLower, evidenceLower string) bool {
	words := strings.Fields(evidenceLower)
	if len(words) == 0 {
		return false
	}
	matches := 0
	for _, w := range words {
		if len(w) > 3 && strings.Contains(draftLower, w) {
			matches++
		}
	}
	return matches > 0 && float64(matches)/float64(len(words)) > 0.3
}

// checkPCNPlaceholders scores 1.0 when every minted token is verified, and
// appends numeric_unverified for any pending/failed token.
func checkPCNPlaceholders(arena *model.RequestArena, issues *[]model.Issue) float64 {
	if arena == nil {
		return 1.0
	}
	tokens := arena.AllPCNs()
	if len(tokens) == 0 {
		return 1.0
	}
	verified := 0
	for _, t := range tokens {
		if t.Status == model.PCNVerified {
			verified++
		}
	}
	if verified < len(tokens) {
		*issues = append(*issues, model.Issue{Kind: model.IssueNumericUnverified, Detail: "one or more PCN tokens unresolved"})
	}
	return float64(verified) / float64(len(tokens))
}

// checkGoV scores 1.0 when the graph-of-verification DAG, if present,
// validates and every edge's premises are verified.
func checkGoV(arena *model.RequestArena, graph *gov.Graph, issues *[]model.Issue) float64 {
	if graph == nil {
		return 1.0
	}
	lookup := func(id string) (model.PCNStatus, bool) {
		if arena == nil {
			return "", false
		}
		tok := arena.PCN(id)
		if tok == nil {
			return "", false
		}
		return tok.Status, true
	}
	result := gov.Evaluate(*graph, lookup)
	if !result.OK {
		*issues = append(*issues, model.Issue{Kind: model.IssueGovernance, Detail: "graph-of-verification check failed"})
		return 0
	}
	return 1.0
}

// ComputeFaithfulness ports uamm/verification/faithfulness.py's claim-level
// scoring: the fraction of the draft's sentences that are substantially
// grounded in some pack item's text.
func ComputeFaithfulness(draftText string, pack model.Pack) float64 {
	sentences := splitSentences(draftText)
	if len(sentences) == 0 {
		return 1.0
	}
	if len(pack.Items) == 0 {
		return 0.0
	}
	grounded := 0
	for _, sentence := range sentences {
		for _, item := range pack.Items {
			if overlaps(strings.ToLower(sentence), strings.ToLower(item.Text)) {
				grounded++
				break
			}
		}
	}
	return float64(grounded) / float64(len(sentences))
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func average(values ...float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
