package redact_test

import (
	"strings"
	"testing"

	"github.com/bdobrica/Hikari/common/redact"
)

func TestString_RedactsSensitiveValues(t *testing.T) {
	line := "Authorization: Bearer syt_abcdef123456 (sync)"
	got := redact.String(line, "syt_abcdef123456")
	const want = "Authorization: Bearer [REDACTED] (sync)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestString_SkipsShortValues(t *testing.T) {
	line := "abc token"
	if got := redact.String(line, "abc"); got != line {
		t.Fatalf("short value should not be redacted; got %q", got)
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "[REDACTED]"},
		{"sk-1234567890abcd", "[REDACTED]…abcd"},
	}
	for _, tt := range tests {
		if got := redact.Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMap_MasksSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"access_token": "syt_abcdef123456",
		"api_key":      "sk-1234567890abcd",
		"homeserver":   "https://matrix.example.com",
		"max_tokens":   512,
	}
	out := redact.Map(in)
	if strings.Contains(out["access_token"].(string), "abcdef") {
		t.Errorf("access_token not masked: %v", out["access_token"])
	}
	if out["api_key"] != "[REDACTED]…abcd" {
		t.Errorf("api_key = %v", out["api_key"])
	}
	if out["homeserver"] != "https://matrix.example.com" {
		t.Errorf("homeserver should be unchanged, got %v", out["homeserver"])
	}
	if out["max_tokens"] != 512 {
		t.Errorf("non-string values should pass through, got %v", out["max_tokens"])
	}
	if in["access_token"] != "syt_abcdef123456" {
		t.Error("input map must not be modified")
	}
}
