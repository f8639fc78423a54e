package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMathEval_Arithmetic(t *testing.T) {
	tool := MathEvalTool()
	outcome, err := tool.Execute(context.Background(), map[string]any{"expression": "(2+3)*4-1"})
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, outcome.Status)
	result := outcome.Value.(MathResult)
	assert.Equal(t, 19.0, result.Value)
}

func TestMathEval_Unit(t *testing.T) {
	tool := MathEvalTool()
	outcome, err := tool.Execute(context.Background(), map[string]any{"expression": "40+2", "unit": "ms"})
	require.NoError(t, err)
	result := outcome.Value.(MathResult)
	assert.Equal(t, 42.0, result.Value)
	assert.Equal(t, "ms", result.Unit)
}

func TestMathEval_DivByZero(t *testing.T) {
	tool := MathEvalTool()
	outcome, err := tool.Execute(context.Background(), map[string]any{"expression": "1/0"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "domain_error", outcome.FailureKind)
}

func TestMathEval_ParseError(t *testing.T) {
	tool := MathEvalTool()
	outcome, err := tool.Execute(context.Background(), map[string]any{"expression": "2+*3"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "parse_error", outcome.FailureKind)
}
