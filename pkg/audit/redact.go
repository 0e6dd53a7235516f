// Package audit appends redacted, annotated records for every tool
// execution. Redaction happens before persistence; no secret value
// ever reaches a sink.
package audit

import (
	"regexp"
)

// Redaction markers. Fixed strings so downstream tooling can match
// them.
const (
	MarkerEmail  = "[EMAIL_REDACTED]"
	MarkerPhone  = "[PHONE_REDACTED]"
	MarkerSSN    = "[SSN_REDACTED]"
	MarkerCard   = "[CARD_REDACTED]"
	MarkerSecret = "[SECRET_REDACTED]"
)

// piiRule pairs a pattern with its replacement marker. Order matters:
// more specific patterns run before the looser ones that could
// partially match the same text.
type piiRule struct {
	pattern *regexp.Regexp
	marker  string
}

var piiRules = []piiRule{
	{regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|bearer)\b\s*[:=]?\s*[A-Za-z0-9\-._~+/]{4,}=*`), MarkerSecret},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), MarkerSSN},
	{regexp.MustCompile(`\b\d(?:[ -]?\d){14,15}\b`), MarkerCard},
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), MarkerEmail},
	{regexp.MustCompile(`(\+\d{1,2}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), MarkerPhone},
}

// sensitiveKeys name map entries whose whole value is replaced
// regardless of content.
var sensitiveKeys = regexp.MustCompile(`(?i)^(api[_-]?key|token|access[_-]?token|refresh[_-]?token|secret|password|authorization|bearer)$`)

// RedactString sweeps one string, returning the redacted text and
// whether anything matched.
func RedactString(s string) (string, bool) {
	redacted := false
	for _, rule := range piiRules {
		if rule.pattern.MatchString(s) {
			s = rule.pattern.ReplaceAllString(s, rule.marker)
			redacted = true
		}
	}
	return s, redacted
}

// RedactValue recursively sweeps maps, slices and strings. Non-string
// leaves pass through unchanged. Returns the redacted copy and whether
// anything was replaced; inputs are never mutated.
func RedactValue(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		return RedactString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		redacted := false
		for k, inner := range val {
			if sensitiveKeys.MatchString(k) {
				out[k] = MarkerSecret
				redacted = true
				continue
			}
			r, hit := RedactValue(inner)
			out[k] = r
			redacted = redacted || hit
		}
		return out, redacted
	case []any:
		out := make([]any, len(val))
		redacted := false
		for i, inner := range val {
			r, hit := RedactValue(inner)
			out[i] = r
			redacted = redacted || hit
		}
		return out, redacted
	case []string:
		out := make([]any, len(val))
		redacted := false
		for i, inner := range val {
			r, hit := RedactString(inner)
			out[i] = r
			redacted = redacted || hit
		}
		return out, redacted
	default:
		return v, false
	}
}

// RedactMap sweeps a map in the shape audit inputs and outputs use.
// Nil maps come back nil.
func RedactMap(m map[string]any) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	out, redacted := RedactValue(m)
	return out.(map[string]any), redacted
}
