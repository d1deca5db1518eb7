package queue

import "strings"

// classifyFailureCode maps a processing error to a stable code used for
// dead-letter/retry metrics labels. Mirrors the domain error taxonomy (spec
// §4.4, §7) so queue-level metrics line up with ERP/LLM error kinds.
func classifyFailureCode(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	if s == "" {
		return "INTERNAL"
	}
	switch {
	case strings.Contains(s, "not found"):
		return "NOT_FOUND"
	case strings.Contains(s, "rate limit"):
		return "UPSTREAM_RATE_LIMIT"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "UPSTREAM_TIMEOUT"
	case strings.Contains(s, "invalid argument"), strings.Contains(s, "required"):
		return "INVALID_ARGUMENT"
	case strings.Contains(s, "conflict"):
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}
