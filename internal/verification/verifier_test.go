package verification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uamm-go/uamm/internal/model"
)

func TestVerify_CitedDraftHasNoMissingCitationsIssue(t *testing.T) {
	pack := model.Pack{Items: []model.EvidenceItem{
		{ItemID: "1", Text: "The Eiffel Tower is located in Paris, France.", URL: "https://example.com/eiffel"},
	}}
	draft := model.Draft{Text: "Regarding the Eiffel Tower: The Eiffel Tower is located in Paris, France. (source: https://example.com/eiffel)"}

	v := Verifier{}
	result := v.Verify(context.Background(), Input{Draft: draft, Pack: pack})
	for _, iss := range result.Issues {
		assert.NotEqual(t, model.IssueMissingCitations, iss.Kind)
	}
	assert.Greater(t, result.S2, 0.5)
}

func TestVerify_UncitedDraftFlagsMissingCitations(t *testing.T) {
	pack := model.Pack{Items: []model.EvidenceItem{
		{ItemID: "1", Text: "The Eiffel Tower is located in Paris, France."},
	}}
	draft := model.Draft{Text: "I think it's somewhere in Europe, not sure exactly."}

	v := Verifier{}
	result := v.Verify(context.Background(), Input{Draft: draft, Pack: pack})
	require.True(t, result.NeedsFix)
	found := false
	for _, iss := range result.Issues {
		if iss.Kind == model.IssueMissingCitations {
			found = true
		}
	}
	assert.True(t, found)
}

func TestVerify_UnresolvedPCNFlagsNumericUnverified(t *testing.T) {
	arena := model.NewRequestArena()
	arena.PutPCN(&model.PCNToken{PCNID: "p1", Status: model.PCNPending})

	v := Verifier{}
	result := v.Verify(context.Background(), Input{Draft: model.Draft{Text: "42 ms"}, Arena: arena})
	found := false
	for _, iss := range result.Issues {
		if iss.Kind == model.IssueNumericUnverified {
			found = true
		}
	}
	assert.True(t, found)
}

type degenerateModel struct{ calls int }

func (d *degenerateModel) Verify(ctx context.Context, draft model.Draft, pack model.Pack) (float64, []model.Issue, bool, error) {
	d.calls++
	return 0, nil, false, nil
}

func TestVerify_ModelDegenerateAfterRetry(t *testing.T) {
	m := &degenerateModel{}
	v := Verifier{Model: m}
	result := v.Verify(context.Background(), Input{Draft: model.Draft{Text: "answer"}})
	assert.Equal(t, 2, m.calls)
	assert.True(t, result.NeedsFix)
	found := false
	for _, iss := range result.Issues {
		if iss.Kind == model.IssueVerifierDegenerate {
			found = true
		}
	}
	assert.True(t, found)
}

func TestComputeFaithfulness_EmptyPackYieldsZero(t *testing.T) {
	score := ComputeFaithfulness("Some claim here.", model.Pack{})
	assert.Equal(t, 0.0, score)
}
