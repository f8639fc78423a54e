package compose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uamm-go/uamm/internal/model"
)

func TestCompose_DeterministicFallback(t *testing.T) {
	c := Composer{}
	pack := model.Pack{Items: []model.EvidenceItem{
		{ItemID: "1", Text: "X is Y.", URL: "https://example.com/x"},
	}}

	draft, frag, err := c.Compose(context.Background(), 0, "What is X?", pack, nil)
	require.NoError(t, err)
	assert.Contains(t, draft.Text, "X is Y.")
	assert.Contains(t, draft.Text, "https://example.com/x")

	var collected string
	for {
		s, ok := frag()
		if !ok {
			break
		}
		collected += s
	}
	assert.Equal(t, draft.Text, collected)
}

func TestCompose_EmptyPackYieldsNoEvidenceStatement(t *testing.T) {
	c := Composer{}
	draft, _, err := c.Compose(context.Background(), 0, "What is X?", model.Pack{}, nil)
	require.NoError(t, err)
	assert.Contains(t, draft.Text, "don't have evidence")
}

func TestCompose_UsesGeneratorWhenConfigured(t *testing.T) {
	c := Composer{Generator: stubGenerator{text: "generated answer"}}
	draft, _, err := c.Compose(context.Background(), 0, "What is X?", model.Pack{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "generated answer", draft.Text)
}

type stubGenerator struct{ text string }

func (s stubGenerator) Generate(ctx context.Context, question string, pack model.Pack, refinement *RefinementContext) (string, []string, error) {
	return s.text, nil, nil
}
