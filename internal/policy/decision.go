package policy

import (
	"github.com/uamm-go/uamm/internal/logging"
	"github.com/uamm-go/uamm/internal/model"
)

// FinalScore implements spec.md §4.5's literal formula S = w1*s1 + w2*s2.
// See DESIGN.md Open Question #1: the original Python reference computes
// S = w1*(1-snne_norm) + w2*s2, an artifact of that codebase's inverted SNNE
// sign convention; this repo follows the specification's polarity (s1 =
// higher is more confident) instead.
func FinalScore(s1, s2 float64, p WorkspacePolicy) float64 {
	return p.DecisionWeightS1*s1 + p.DecisionWeightS2*s2
}

// ThresholdLookup resolves a domain's conformal threshold, or ok=false when
// none has been calibrated yet.
type ThresholdLookup interface {
	Threshold(domain string) (model.ThresholdTable, bool, error)
}

// ConformalGate decides cp_accept for a score, porting policy/cp.py exactly:
// disabled (no threshold available) -> cp_accept=nil, static threshold
// decides; enabled -> cp_accept = (S >= tau).
type ConformalGate struct {
	Lookup ThresholdLookup
}

// Evaluate returns (cpAccept, tau) for domain and score S. cpAccept is nil
// when no threshold has been calibrated for domain.
func (g ConformalGate) Evaluate(domain string, s float64) (*bool, *float64) {
	if g.Lookup == nil {
		return nil, nil
	}
	table, ok, err := g.Lookup.Threshold(domain)
	if err != nil {
		logging.Get(logging.CategoryPolicy).Warn("conformal lookup failed for domain=%s: %v", domain, err)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	accept := s >= table.TauAccept
	tau := table.TauAccept
	return &accept, &tau
}

// DecideInput bundles everything the decision head needs for one step.
type DecideInput struct {
	StepIndex        int
	S1, S2           float64
	Domain           string
	Policy           WorkspacePolicy
	Issues           []model.Issue
	RefinementIndex  int
}

// Decide implements the §4.5 state machine: accept when S is at/above the
// effective threshold and the conformal gate (if calibrated) agrees; iterate
// in the borderline band only while refinement budget remains and at least
// one issue is fixable; abstain otherwise.
func Decide(in DecideInput, gate ConformalGate) model.Decision {
	s := FinalScore(in.S1, in.S2, in.Policy)
	cpAccept, tau := gate.Evaluate(in.Domain, s)

	threshold := in.Policy.AcceptThreshold
	if tau != nil {
		threshold = *tau
	}
	delta := in.Policy.BorderlineDelta

	decision := model.Decision{
		StepIndex:  in.StepIndex,
		S1:         in.S1,
		S2:         in.S2,
		FinalScore: s,
		CPAccept:   cpAccept,
		CPTau:      tau,
	}

	switch {
	case s >= threshold && (cpAccept == nil || *cpAccept):
		decision.Action = model.ActionAccept
		decision.Reason = "score at or above accept threshold"
	case s >= threshold-delta:
		if in.RefinementIndex < in.Policy.MaxRefinements && anyFixable(in.Issues) {
			decision.Action = model.ActionIterate
			decision.Reason = "borderline score with fixable issues and refinement budget remaining"
		} else {
			decision.Action = model.ActionAbstain
			decision.Reason = "borderline score but no refinement budget or fixable issue"
		}
	default:
		decision.Action = model.ActionAbstain
		decision.Reason = "score below borderline band"
	}
	return decision
}

func anyFixable(issues []model.Issue) bool {
	for _, iss := range issues {
		if iss.Fixable() {
			return true
		}
	}
	return false
}
