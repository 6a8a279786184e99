// Package redact strips credentials from values before they are logged.
//
// Hikari logs its effective configuration at startup; the Matrix access
// token and the provider API key must never appear in that output.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Mask hides a credential while keeping its last four characters so that
// operators can tell which key is in use. Empty input yields "".
func Mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return placeholder
	default:
		return placeholder + "…" + secret[len(secret)-4:]
	}
}

// Map returns a shallow copy of m with string values masked for every key
// whose name suggests it holds a secret.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok && str != "" && isSensitiveKey(k) {
			out[k] = Mask(str)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "api_key", "apikey", "credential"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
