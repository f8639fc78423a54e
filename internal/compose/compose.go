// Package compose implements the Composer of spec.md §4.2: a deterministic
// grounded-extractive fallback, modeled on
// original_source/src/uamm/agents/main_agent.py's
// LLMGenerator._fallback_answer, plus an injectable Generator hook for a
// real model backend.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/uamm-go/uamm/internal/model"
)

// RefinementContext carries what changed since the prior draft.
type RefinementContext struct {
	Issues      []model.Issue
	PriorDraft  *model.Draft
	ToolOutputs map[string]string // tool name -> rendered output appended to context
}

// Generator is the hook for a real generative backend (e.g. Google GenAI).
// Absent configuration, Composer always uses the deterministic fallback.
type Generator interface {
	Generate(ctx context.Context, question string, pack model.Pack, refinement *RefinementContext) (text string, placeholders []string, err error)
}

// Composer produces a Draft for a given question and Pack.
type Composer struct {
	Generator Generator // nil uses the deterministic fallback
}

// FragmentFunc is a restartable-by-reinvocation, lazy finite sequence of
// text fragments for streaming to the client. Each call returns the next
// fragment and whether more remain.
type FragmentFunc func() (string, bool)

// Compose produces a draft and its fragment stream. With no Generator
// configured, it emits the grounded extractive fallback: the top-ranked
// pack item's snippet, prefixed by a short template restating the
// question's focus.
func (c Composer) Compose(ctx context.Context, stepIndex int, question string, pack model.Pack, refinement *RefinementContext) (model.Draft, FragmentFunc, error) {
	var text string
	var placeholders []string
	var err error

	if c.Generator != nil {
		text, placeholders, err = c.Generator.Generate(ctx, question, pack, refinement)
		if err != nil {
			return model.Draft{}, nil, fmt.Errorf("generator: %w", err)
		}
	} else {
		text = fallbackAnswer(question, pack, refinement)
	}

	draft := model.Draft{
		StepIndex:    stepIndex,
		Text:         text,
		Placeholders: placeholders,
	}
	return draft, fragmentStream(text), nil
}

// fallbackAnswer implements the deterministic baseline: restate the
// question's focus, then copy the top pack item's text verbatim, citing its
// source. Empty pack yields an explicit "no evidence" statement (the
// verifier attaches the missing_evidence issue separately).
func fallbackAnswer(question string, pack model.Pack, refinement *RefinementContext) string {
	focus := questionFocus(question)
	var b strings.Builder

	if len(pack.Items) == 0 {
		fmt.Fprintf(&b, "I don't have evidence to answer %q.", focus)
	} else {
		top := pack.Items[0]
		fmt.Fprintf(&b, "Regarding %q: %s", focus, strings.TrimSpace(top.Text))
		if top.URL != "" {
			fmt.Fprintf(&b, " (source: %s)", top.URL)
		} else if top.Title != "" {
			fmt.Fprintf(&b, " (source: %s)", top.Title)
		}
	}

	if refinement != nil {
		for name, output := range refinement.ToolOutputs {
			fmt.Fprintf(&b, " %s reports: %s.", name, strings.TrimSpace(output))
		}
	}
	return b.String()
}

// questionFocus trims a trailing question mark and surrounding whitespace,
// giving a short phrase to restate in the template.
func questionFocus(question string) string {
	return strings.TrimSuffix(strings.TrimSpace(question), "?")
}

// fragmentStream splits text into word-boundary fragments for token
// streaming. Calls to the returned FragmentFunc share one position, so each
// call yields the next word; once exhausted it stays exhausted, and a fresh
// FragmentFunc must be obtained by calling Compose again to restart.
func fragmentStream(text string) FragmentFunc {
	words := strings.Fields(text)
	i := 0
	return func() (string, bool) {
		if i >= len(words) {
			return "", false
		}
		w := words[i]
		i++
		if i < len(words) {
			w += " "
		}
		return w, true
	}
}
