package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_ScoreRoundTrip(t *testing.T) {
	tau := 0.7
	accept := true
	e := Event{Kind: KindScore, Score: &ScorePayload{S1: 0.9, S2: 0.9, FinalScore: 0.9, CPAccept: &accept, CPTau: &tau}}

	name, data, err := Encode(e)
	require.NoError(t, err)
	assert.Equal(t, "score", name)

	var decoded ScorePayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *e.Score, decoded)
}

func TestEncode_ReadyPayload(t *testing.T) {
	e := Event{Kind: KindReady, Ready: &ReadyPayload{RequestID: "req-1"}}
	name, data, err := Encode(e)
	require.NoError(t, err)
	assert.Equal(t, "ready", name)
	assert.JSONEq(t, `{"request_id":"req-1"}`, string(data))
}
