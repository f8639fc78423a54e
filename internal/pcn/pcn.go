// Package pcn implements proof-carrying number placeholders: every numeric
// fact a tool produces is minted as a token, verified against a policy
// (unit, bounds, provenance) and resolved to either its verified value or
// the unverified sentinel before the draft is finalized.
package pcn

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/uamm-go/uamm/internal/model"
)

// Mint creates a pending PCN token for a numeric value produced by tool,
// with a placeholder string the composer's draft text references.
func Mint(value float64, unit, provenance string, policy model.PCNPolicy) *model.PCNToken {
	id := uuid.NewString()
	v := value
	return &model.PCNToken{
		PCNID:         id,
		Placeholder:   fmt.Sprintf("{{pcn:%s}}", id),
		Status:        model.PCNPending,
		VerifiedValue: &v,
		Unit:          unit,
		Provenance:    provenance,
		Policy:        policy,
	}
}

// Verify checks a pending token's value and unit against its policy,
// transitioning it to pcn_verified or pcn_failed.
func Verify(tok *model.PCNToken) {
	if tok.Status != model.PCNPending {
		return
	}
	if tok.Policy.Unit != "" && !unitsCompatible(tok.Unit, tok.Policy.Unit) {
		tok.Status = model.PCNFailed
		tok.FailureReason = fmt.Sprintf("unit mismatch: got %q, want %q", tok.Unit, tok.Policy.Unit)
		return
	}
	if tok.VerifiedValue == nil {
		tok.Status = model.PCNFailed
		tok.FailureReason = "no value to verify"
		return
	}
	v := *tok.VerifiedValue
	if tok.Policy.MinValue != nil && v < *tok.Policy.MinValue {
		tok.Status = model.PCNFailed
		tok.FailureReason = fmt.Sprintf("value %v below policy minimum %v", v, *tok.Policy.MinValue)
		return
	}
	if tok.Policy.MaxValue != nil && v > *tok.Policy.MaxValue {
		tok.Status = model.PCNFailed
		tok.FailureReason = fmt.Sprintf("value %v above policy maximum %v", v, *tok.Policy.MaxValue)
		return
	}
	if tok.Provenance == "" {
		tok.Status = model.PCNFailed
		tok.FailureReason = "no provenance recorded for value"
		return
	}
	tok.Status = model.PCNVerified
}

// unitsCompatible is the conservative unit-equality table ported from
// pcn/units.py's simple-unit comparison: no dimensional analysis, just a
// small synonym table (original_source carries a full `pint`-equivalent
// dimensional system; no such library exists in the retrieved pack, so the
// conservative fallback table is what's carried over).
var unitSynonyms = map[string][]string{
	"ms":      {"ms", "millisecond", "milliseconds"},
	"s":       {"s", "sec", "second", "seconds"},
	"usd":     {"usd", "dollar", "dollars", "$"},
	"percent": {"percent", "pct", "%"},
}

func unitsCompatible(got, want string) bool {
	got, want = strings.ToLower(strings.TrimSpace(got)), strings.ToLower(strings.TrimSpace(want))
	if got == want {
		return true
	}
	for _, group := range unitSynonyms {
		inGroup := func(u string) bool {
			for _, g := range group {
				if g == u {
					return true
				}
			}
			return false
		}
		if inGroup(got) && inGroup(want) {
			return true
		}
	}
	return false
}

// Resolve substitutes every PCN placeholder in text with its verified value
// (formatted with its unit) or the unverified sentinel, per the strict
// resolution invariant (policy.WorkspacePolicy.StrictPCNResolution).
func Resolve(text string, tokens []*model.PCNToken) string {
	out := text
	for _, tok := range tokens {
		replacement := model.UnverifiedSentinel
		if tok.Status == model.PCNVerified && tok.VerifiedValue != nil {
			if tok.Unit != "" {
				replacement = fmt.Sprintf("%v %s", *tok.VerifiedValue, tok.Unit)
			} else {
				replacement = fmt.Sprintf("%v", *tok.VerifiedValue)
			}
		}
		out = strings.ReplaceAll(out, tok.Placeholder, replacement)
	}
	return out
}

// HasUnresolvedPlaceholder reports whether text still contains a raw PCN
// placeholder pattern, used to enforce the strict invariant before final
// emission.
func HasUnresolvedPlaceholder(text string) bool {
	return strings.Contains(text, "{{pcn:")
}
