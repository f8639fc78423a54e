package security

import "errors"

var (
	ErrDisallowedScheme = errors.New("disallowed scheme")
	ErrTLSRequired      = errors.New("TLS required")
	ErrMissingHost      = errors.New("missing host")
	ErrHostDenied       = errors.New("host denied")
	ErrHostNotAllowed   = errors.New("host not in allowlist")
	ErrPrivateIPBlocked = errors.New("private IP blocked")
	ErrDNSResolution    = errors.New("DNS resolution failed")

	ErrNotSelectOnly     = errors.New("not a read-only SELECT")
	ErrForbiddenConstruct = errors.New("forbidden SQL construct")
	ErrTableNotAllowed   = errors.New("table not allowed")
)
