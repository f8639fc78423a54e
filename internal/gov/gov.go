// Package gov implements the graph-of-verification DAG: premises support
// claims, edges carry a check outcome once evaluated, and the evaluator
// rejects cyclic graphs, then checks every edge, surfacing any failing one.
package gov

import (
	"fmt"

	"github.com/uamm-go/uamm/internal/model"
)

// Graph is a lightweight view over a RequestArena's nodes/edges for one
// verification pass.
type Graph struct {
	Nodes map[string]*model.GoVNode
	Edges []*model.GoVEdge
}

// Validate checks the graph is a DAG (no cycles) and every edge references
// known nodes. Returns the first violation found, or nil.
func (g Graph) Validate() error {
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			return fmt.Errorf("edge references unknown node %q", e.From)
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return fmt.Errorf("edge references unknown node %q", e.To)
		}
	}
	if _, err := topoOrder(g); err != nil {
		return err
	}
	return nil
}

// topoOrder runs Kahn's algorithm over g, returning an error if a cycle is
// detected.
func topoOrder(g Graph) ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	adjacency := make(map[string][]string, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}
	for _, e := range g.Edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
		indegree[e.To]++
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, next := range adjacency[n] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("graph-of-verification DAG contains a cycle")
	}
	return order, nil
}

// EvalResult is the outcome of Evaluate: whether the graph holds overall and
// which edges failed their check.
type EvalResult struct {
	OK      bool
	Failing []string // "from->to" pairs
}

// PCNStatusLookup resolves a PCN id to its current status, used to check
// whether an edge's supporting premises are verified.
type PCNStatusLookup func(pcnID string) (model.PCNStatus, bool)

// Evaluate validates the graph (a cycle or unknown node fails it), then, for
// every edge in the order of g.Edges, checks
// that every PCN id in SupportedBy is pcn_verified. An edge with no
// SupportedBy entries is trivially ok (it isn't a numeric claim). The edge's
// CheckOutcome is set to "ok" or the first unmet PCN id's failure reason.
func Evaluate(g Graph, lookup PCNStatusLookup) EvalResult {
	if err := g.Validate(); err != nil {
		return EvalResult{OK: false, Failing: []string{err.Error()}}
	}

	result := EvalResult{OK: true}
	for _, e := range g.Edges {
		e.CheckOutcome = "ok"
		for _, pcnID := range e.SupportedBy {
			status, known := lookup(pcnID)
			if !known || status != model.PCNVerified {
				e.CheckOutcome = fmt.Sprintf("unverified premise %q", pcnID)
				result.OK = false
				result.Failing = append(result.Failing, fmt.Sprintf("%s->%s", e.From, e.To))
				break
			}
		}
	}
	return result
}
