package gov

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uamm-go/uamm/internal/model"
)

func buildGraph() Graph {
	return Graph{
		Nodes: map[string]*model.GoVNode{
			"premise-1": {ID: "premise-1", Type: model.GoVPremise},
			"claim-1":   {ID: "claim-1", Type: model.GoVClaim},
		},
		Edges: []*model.GoVEdge{
			{From: "premise-1", To: "claim-1", SupportedBy: []string{"pcn-1"}},
		},
	}
}

func TestValidate_DetectsCycle(t *testing.T) {
	g := buildGraph()
	g.Edges = append(g.Edges, &model.GoVEdge{From: "claim-1", To: "premise-1"})
	require.Error(t, g.Validate())
}

func TestValidate_RejectsUnknownNode(t *testing.T) {
	g := buildGraph()
	g.Edges = append(g.Edges, &model.GoVEdge{From: "premise-1", To: "missing"})
	require.Error(t, g.Validate())
}

func TestEvaluate_AllVerifiedOK(t *testing.T) {
	g := buildGraph()
	result := Evaluate(g, func(id string) (model.PCNStatus, bool) {
		return model.PCNVerified, true
	})
	assert.True(t, result.OK)
	assert.Empty(t, result.Failing)
}

func TestEvaluate_UnverifiedPremiseFails(t *testing.T) {
	g := buildGraph()
	result := Evaluate(g, func(id string) (model.PCNStatus, bool) {
		return model.PCNFailed, true
	})
	assert.False(t, result.OK)
	require.Len(t, result.Failing, 1)
	assert.Equal(t, "premise-1->claim-1", result.Failing[0])
}
