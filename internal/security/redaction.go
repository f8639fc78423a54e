// Package security implements the pre-persistence data protections the
// orchestrator applies before text leaves the process: PII redaction,
// WEB_FETCH egress policy, and the TABLE_QUERY SQL guard.
package security

import "regexp"

// Order matters: SSN before phone, so the phone pattern never swallows an
// already-redacted SSN's digit run.
var (
	ssnRE   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`(\+?\d[\d\s\-()]{7,}\d)`)
)

// Redact masks SSNs, emails, and phone numbers in text, returning the
// redacted text and whether anything was changed.
func Redact(text string) (string, bool) {
	if text == "" {
		return text, false
	}
	out := ssnRE.ReplaceAllString(text, "[REDACTED_SSN]")
	out = emailRE.ReplaceAllString(out, "[REDACTED_EMAIL]")
	out = phoneRE.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out, out != text
}
