// Package planning implements the pre-Composer best-of-N optimizer
// supplemented from original_source/src/uamm/planning/strategies.py. Its
// Result is shaped for an additive planning event (DESIGN.md Open Question
// #3), but no request path calls it: the orchestrator emits no planning
// event.
package planning

import "context"

// Mode generalizes the Python reference's "tree-of-thought"/"beam" labels
// into a single enum.
type Mode string

const (
	ModeSingleShot Mode = "single_shot"
	ModeBestOfN    Mode = "best_of_n"
)

// Candidate is one generated draft text considered by PlanBestAnswer, scored
// by Scorer.
type Candidate struct {
	Text  string
	Score float64
}

// Generator produces n candidate answers for a question, given pack context
// already rendered by the caller as contextText.
type Generator func(ctx context.Context, question, contextText string, n int) ([]Candidate, error)

// Result reports which candidate PlanBestAnswer selected, for the planning
// event payload.
type Result struct {
	Mode       Mode
	Candidates int
	Selected   int
	Text       string
	Rationale  string
}

// PlanBestAnswer runs Generator for n candidates (n<=1 degrades to
// ModeSingleShot, which is the default when no model backend is
// configured) and returns the highest-scoring one.
func PlanBestAnswer(ctx context.Context, question, contextText string, n int, gen Generator) (Result, error) {
	if n <= 1 || gen == nil {
		return Result{Mode: ModeSingleShot, Candidates: 1, Selected: 0, Rationale: "no generator configured or n<=1"}, nil
	}

	candidates, err := gen(ctx, question, contextText, n)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{Mode: ModeSingleShot, Candidates: 0, Selected: -1, Rationale: "generator returned no candidates"}, nil
	}

	best := 0
	for i, c := range candidates {
		if c.Score > candidates[best].Score {
			best = i
		}
	}
	return Result{
		Mode:       ModeBestOfN,
		Candidates: len(candidates),
		Selected:   best,
		Text:       candidates[best].Text,
		Rationale:  "highest-scoring candidate among best-of-n samples",
	}, nil
}
