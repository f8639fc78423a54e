// Package policy implements the workspace policy overlay and the decision
// head that turns (s1, s2) into a terminal action.
package policy

import "fmt"

// WorkspacePolicy is the closed, validated key set of §6.5, merged over
// Defaults() per request after authentication.
type WorkspacePolicy struct {
	AcceptThreshold         float64
	BorderlineDelta         float64
	ToolBudgetPerTurn       int
	ToolBudgetPerRefinement int
	MaxRefinements          int
	ToolsRequiringApproval  []string
	ToolsAllowed            []string
	TableAllowed            []string

	SparseWeight float64
	DenseWeight  float64
	EntityWeight float64

	VectorBackend string // "flat" or "sqlite_vec"

	EgressEnforceTLS      bool
	EgressBlockPrivateIP  bool
	EgressAllowedHosts    []string
	EgressDeniedHosts     []string
	EgressMaxRedirects    int
	EgressMaxPayloadBytes int64

	// StrictPCNResolution, when true (the default), requires every minted PCN
	// placeholder be resolved or replaced with the unverified sentinel before
	// final emission. See DESIGN.md Open Question #2.
	StrictPCNResolution bool

	DecisionWeightS1 float64
	DecisionWeightS2 float64
}

// Defaults returns the spec's documented default policy.
func Defaults() WorkspacePolicy {
	return WorkspacePolicy{
		AcceptThreshold:         0.7,
		BorderlineDelta:         0.1,
		ToolBudgetPerTurn:       4,
		ToolBudgetPerRefinement: 2,
		MaxRefinements:          2,
		SparseWeight:            0.5,
		DenseWeight:             0.4,
		EntityWeight:            0.1,
		VectorBackend:           "flat",
		EgressEnforceTLS:        true,
		EgressBlockPrivateIP:    true,
		EgressMaxRedirects:      3,
		EgressMaxPayloadBytes:   5 << 20,
		StrictPCNResolution:     true,
		DecisionWeightS1:        0.5,
		DecisionWeightS2:        0.5,
	}
}

// Overlay is the wire/storage shape of a policy overlay: only the keys
// present are applied over Defaults(). Unknown keys are rejected at decode
// time, not by Validate(): the caller decodes into this struct with strict JSON/YAML
// unmarshaling (DisallowUnknownFields).
type Overlay struct {
	AcceptThreshold         *float64 `json:"accept_threshold,omitempty" yaml:"accept_threshold,omitempty"`
	BorderlineDelta         *float64 `json:"borderline_delta,omitempty" yaml:"borderline_delta,omitempty"`
	ToolBudgetPerTurn       *int     `json:"tool_budget_per_turn,omitempty" yaml:"tool_budget_per_turn,omitempty"`
	ToolBudgetPerRefinement *int     `json:"tool_budget_per_refinement,omitempty" yaml:"tool_budget_per_refinement,omitempty"`
	MaxRefinements          *int     `json:"max_refinements,omitempty" yaml:"max_refinements,omitempty"`
	ToolsRequiringApproval  []string `json:"tools_requiring_approval,omitempty" yaml:"tools_requiring_approval,omitempty"`
	ToolsAllowed            []string `json:"tools_allowed,omitempty" yaml:"tools_allowed,omitempty"`
	TableAllowed            []string `json:"table_allowed,omitempty" yaml:"table_allowed,omitempty"`
	SparseWeight            *float64 `json:"sparse_weight,omitempty" yaml:"sparse_weight,omitempty"`
	DenseWeight             *float64 `json:"dense_weight,omitempty" yaml:"dense_weight,omitempty"`
	EntityWeight            *float64 `json:"entity_weight,omitempty" yaml:"entity_weight,omitempty"`
	VectorBackend           *string  `json:"vector_backend,omitempty" yaml:"vector_backend,omitempty"`
	EgressEnforceTLS        *bool    `json:"egress_enforce_tls,omitempty" yaml:"egress_enforce_tls,omitempty"`
	EgressBlockPrivateIP    *bool    `json:"egress_block_private_ip,omitempty" yaml:"egress_block_private_ip,omitempty"`
	EgressAllowedHosts      []string `json:"egress_allowed_hosts,omitempty" yaml:"egress_allowed_hosts,omitempty"`
	EgressDeniedHosts       []string `json:"egress_denied_hosts,omitempty" yaml:"egress_denied_hosts,omitempty"`
	EgressMaxRedirects      *int     `json:"egress_max_redirects,omitempty" yaml:"egress_max_redirects,omitempty"`
	EgressMaxPayloadBytes   *int64   `json:"egress_max_payload_bytes,omitempty" yaml:"egress_max_payload_bytes,omitempty"`
	StrictPCNResolution     *bool    `json:"strict_pcn_resolution,omitempty" yaml:"strict_pcn_resolution,omitempty"`
}

// Validate rejects overlays with out-of-range values. The closed-key-set
// constraint is enforced by the decoder (strict unmarshal), not here.
func (o Overlay) Validate() error {
	if o.AcceptThreshold != nil && (*o.AcceptThreshold < 0 || *o.AcceptThreshold > 1) {
		return fmt.Errorf("accept_threshold must be in [0,1]")
	}
	if o.BorderlineDelta != nil && *o.BorderlineDelta < 0 {
		return fmt.Errorf("borderline_delta must be >= 0")
	}
	if o.ToolBudgetPerTurn != nil && *o.ToolBudgetPerTurn < 0 {
		return fmt.Errorf("tool_budget_per_turn must be >= 0")
	}
	if o.ToolBudgetPerRefinement != nil && *o.ToolBudgetPerRefinement < 0 {
		return fmt.Errorf("tool_budget_per_refinement must be >= 0")
	}
	if o.MaxRefinements != nil && *o.MaxRefinements < 0 {
		return fmt.Errorf("max_refinements must be >= 0")
	}
	if o.VectorBackend != nil && *o.VectorBackend != "flat" && *o.VectorBackend != "sqlite_vec" {
		return fmt.Errorf("vector_backend must be \"flat\" or \"sqlite_vec\"")
	}
	return nil
}

// Apply merges o over base, returning a new WorkspacePolicy. Nil overlay
// fields leave base's value untouched.
func (o Overlay) Apply(base WorkspacePolicy) WorkspacePolicy {
	p := base
	if o.AcceptThreshold != nil {
		p.AcceptThreshold = *o.AcceptThreshold
	}
	if o.BorderlineDelta != nil {
		p.BorderlineDelta = *o.BorderlineDelta
	}
	if o.ToolBudgetPerTurn != nil {
		p.ToolBudgetPerTurn = *o.ToolBudgetPerTurn
	}
	if o.ToolBudgetPerRefinement != nil {
		p.ToolBudgetPerRefinement = *o.ToolBudgetPerRefinement
	}
	if o.MaxRefinements != nil {
		p.MaxRefinements = *o.MaxRefinements
	}
	if o.ToolsRequiringApproval != nil {
		p.ToolsRequiringApproval = o.ToolsRequiringApproval
	}
	if o.ToolsAllowed != nil {
		p.ToolsAllowed = o.ToolsAllowed
	}
	if o.TableAllowed != nil {
		p.TableAllowed = o.TableAllowed
	}
	if o.SparseWeight != nil {
		p.SparseWeight = *o.SparseWeight
	}
	if o.DenseWeight != nil {
		p.DenseWeight = *o.DenseWeight
	}
	if o.EntityWeight != nil {
		p.EntityWeight = *o.EntityWeight
	}
	if o.VectorBackend != nil {
		p.VectorBackend = *o.VectorBackend
	}
	if o.EgressEnforceTLS != nil {
		p.EgressEnforceTLS = *o.EgressEnforceTLS
	}
	if o.EgressBlockPrivateIP != nil {
		p.EgressBlockPrivateIP = *o.EgressBlockPrivateIP
	}
	if o.EgressAllowedHosts != nil {
		p.EgressAllowedHosts = o.EgressAllowedHosts
	}
	if o.EgressDeniedHosts != nil {
		p.EgressDeniedHosts = o.EgressDeniedHosts
	}
	if o.EgressMaxRedirects != nil {
		p.EgressMaxRedirects = *o.EgressMaxRedirects
	}
	if o.EgressMaxPayloadBytes != nil {
		p.EgressMaxPayloadBytes = *o.EgressMaxPayloadBytes
	}
	if o.StrictPCNResolution != nil {
		p.StrictPCNResolution = *o.StrictPCNResolution
	}
	return p
}

// ToolAllowed reports whether tool is permitted: an empty allowlist permits
// everything (§8 invariant 7 only binds "if the allowlist is non-empty").
func (p WorkspacePolicy) ToolAllowed(tool string) bool {
	if len(p.ToolsAllowed) == 0 {
		return true
	}
	for _, t := range p.ToolsAllowed {
		if t == tool {
			return true
		}
	}
	return false
}

// ToolRequiresApproval reports whether tool must be gated behind an
// Approval before dispatch.
func (p WorkspacePolicy) ToolRequiresApproval(tool string) bool {
	for _, t := range p.ToolsRequiringApproval {
		if t == tool {
			return true
		}
	}
	return false
}
