// Package redact masks secrets for log output.
package redact

import "strings"

// String keeps roughly the first and last quarter of s visible and masks the
// middle, so a leaked log still identifies which credential it was without
// exposing it.
func String(s string) string {
	l := len(s)
	head := l / 4
	tail := l - l/4

	return s[:head] + strings.Repeat("*", tail-head) + s[tail:]
}
