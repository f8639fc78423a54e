package pcn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uamm-go/uamm/internal/model"
)

func TestMintAndVerify_Success(t *testing.T) {
	tok := Mint(42, "ms", "MATH_EVAL:1+41", model.PCNPolicy{Unit: "ms"})
	Verify(tok)
	assert.Equal(t, model.PCNVerified, tok.Status)
}

func TestVerify_UnitMismatchFails(t *testing.T) {
	tok := Mint(42, "usd", "MATH_EVAL:1+41", model.PCNPolicy{Unit: "ms"})
	Verify(tok)
	assert.Equal(t, model.PCNFailed, tok.Status)
	assert.Contains(t, tok.FailureReason, "unit mismatch")
}

func TestVerify_OutOfBoundsFails(t *testing.T) {
	min := 0.0
	max := 10.0
	tok := Mint(42, "", "MATH_EVAL:6*7", model.PCNPolicy{MinValue: &min, MaxValue: &max})
	Verify(tok)
	assert.Equal(t, model.PCNFailed, tok.Status)
}

func TestResolve_SubstitutesVerifiedAndUnverified(t *testing.T) {
	verified := Mint(42, "ms", "tool", model.PCNPolicy{})
	Verify(verified)
	failed := Mint(-1, "", "tool", model.PCNPolicy{})
	failed.Status = model.PCNFailed

	text := "Latency is " + verified.Placeholder + " and offset is " + failed.Placeholder + "."
	resolved := Resolve(text, []*model.PCNToken{verified, failed})

	assert.Contains(t, resolved, "42 ms")
	assert.Contains(t, resolved, model.UnverifiedSentinel)
	assert.False(t, HasUnresolvedPlaceholder(resolved))
}

func TestHasUnresolvedPlaceholder(t *testing.T) {
	require.True(t, HasUnresolvedPlaceholder("value is {{pcn:abc}}"))
	require.False(t, HasUnresolvedPlaceholder("value is 42"))
}
