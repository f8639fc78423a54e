package tools

import "github.com/uamm-go/uamm/internal/security"

// Policy bundles the per-workspace configuration the built-in tools need at
// construction time.
type Policy struct {
	Egress         security.EgressPolicy
	DB             DBHandle
	TableAllowlist []string
	RateLimiter    *TableRateLimiter
}

// DefaultRegistry returns a registry with all four built-in tools
// registered against policy.
func DefaultRegistry(policy Policy) *Registry {
	r := NewRegistry()
	_ = r.Register(WebSearchTool())
	_ = r.Register(WebFetchTool(policy.Egress))
	_ = r.Register(MathEvalTool())
	_ = r.Register(TableQueryTool(policy.DB, policy.TableAllowlist, policy.RateLimiter))
	return r
}
