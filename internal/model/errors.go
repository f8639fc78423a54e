package model

import "errors"

// Error kinds, not type names, per the taxonomy: each wraps a sentinel so
// callers can errors.Is/As against the kind without caring about the
// concrete message.
var (
	// ErrValidation covers bad input shape, unknown domain: 400-class.
	ErrValidation = errors.New("validation error")

	// ErrPolicy covers disallowed tool/table/egress: 403-class.
	ErrPolicy = errors.New("policy error")

	// ErrUpstreamTool covers tool timeout/network/guard violation: non-fatal.
	ErrUpstreamTool = errors.New("upstream tool failure")

	// ErrVerifierDegenerate marks two consecutive malformed verifier responses.
	ErrVerifierDegenerate = errors.New("verifier degenerate")

	// ErrResource covers DB-locked/embedding-unreachable after retry.
	ErrResource = errors.New("resource error")

	// ErrFatal marks an unhandled orchestrator panic, reported as server_error.
	ErrFatal = errors.New("server error")
)

// ValidationError wraps ErrValidation with a user-visible detail.
type ValidationError struct{ Detail string }

func (e *ValidationError) Error() string { return "validation: " + e.Detail }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// PolicyError wraps ErrPolicy with the tool/table/host it blocked.
type PolicyError struct {
	Subject string
	Detail  string
}

func (e *PolicyError) Error() string { return "policy: " + e.Subject + ": " + e.Detail }
func (e *PolicyError) Unwrap() error { return ErrPolicy }

// ToolError wraps ErrUpstreamTool with the failure kind the dispatch table
// names (network_error, parse_error, timeout, ...).
type ToolError struct {
	Tool string
	Kind string
	Detail string
}

func (e *ToolError) Error() string { return "tool " + e.Tool + " " + e.Kind + ": " + e.Detail }
func (e *ToolError) Unwrap() error { return ErrUpstreamTool }

// ResourceError wraps ErrResource for DB/embedding backend failures.
type ResourceError struct{ Detail string }

func (e *ResourceError) Error() string { return "resource: " + e.Detail }
func (e *ResourceError) Unwrap() error { return ErrResource }
