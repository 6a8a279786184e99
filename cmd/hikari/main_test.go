package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdobrica/Hikari/common/version"
	"github.com/bdobrica/Hikari/internal/hikari/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--env-file", "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version.Version) {
		t.Errorf("output %q does not contain version %q", out, version.Version)
	}
}

func TestConfigCheck_MasksSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hikari.yaml")
	yml := `
matrix:
  homeserver: https://matrix.example.com
  user_id: "@hikari:example.com"
  access_token: syt_very_secret_token
provider:
  api_key: sk-abcdefghijkl
store:
  backend: memory
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "check", "--config", path, "--env-file", "")
	if err != nil {
		t.Fatalf("config check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "configuration OK") {
		t.Errorf("missing OK line:\n%s", out)
	}
	if strings.Contains(out, "syt_very_secret_token") || strings.Contains(out, "sk-abcdefghijkl") {
		t.Errorf("secret leaked:\n%s", out)
	}
	if !strings.Contains(out, "store_backend: memory") {
		t.Errorf("missing store backend:\n%s", out)
	}
}

func TestConfigCheck_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hikari.yaml")
	if err := os.WriteFile(path, []byte("matrix:\n  homeserver: https://m.example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "config", "check", "--config", path, "--env-file", ""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestConfigCheck_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	env := strings.Join([]string{
		"HIKARI_MATRIX_HOMESERVER=https://matrix.example.com",
		"HIKARI_MATRIX_USER_ID=@hikari:example.com",
		"HIKARI_MATRIX_ACCESS_TOKEN=syt_from_dotenv",
		"HIKARI_PROVIDER_API_KEY=sk-from-dotenv",
		"HIKARI_STORE_BACKEND=memory",
	}, "\n")
	if err := os.WriteFile(envPath, []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, kv := range strings.Split(env, "\n") {
		name, _, _ := strings.Cut(kv, "=")
		// Setenv registers cleanup; Unsetenv lets godotenv fill the value.
		t.Setenv(name, "")
		os.Unsetenv(name)
	}

	out, err := execute(t, "config", "check", "--env-file", envPath)
	if err != nil {
		t.Fatalf("config check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "homeserver: https://matrix.example.com") {
		t.Errorf("dotenv values not applied:\n%s", out)
	}
}

func TestConfigCheck_ConfigPathFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hikari.yaml")
	yml := `
matrix:
  homeserver: https://dotenv.example.com
  user_id: "@hikari:example.com"
  access_token: syt_token
provider:
  api_key: sk-key
store:
  backend: memory
`
	if err := os.WriteFile(cfgPath, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("HIKARI_CONFIG="+cfgPath+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HIKARI_CONFIG", "")
	os.Unsetenv("HIKARI_CONFIG")

	out, err := execute(t, "config", "check", "--env-file", envPath)
	if err != nil {
		t.Fatalf("config check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "homeserver: https://dotenv.example.com") {
		t.Errorf("config file named in .env not loaded:\n%s", out)
	}
}

func TestLoadEnvFile_MissingIsFine(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("loadEnvFile() = %v, want nil", err)
	}
	if err := loadEnvFile(""); err != nil {
		t.Fatalf("loadEnvFile(\"\") = %v, want nil", err)
	}
}

func TestScrubError(t *testing.T) {
	cfg := config.Config{}
	cfg.Matrix.AccessToken = "syt_very_secret_token"
	cfg.Provider.APIKey = "sk-abcdefghijkl"

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"clean", errors.New("matrix: sync: connection refused"), "matrix: sync: connection refused"},
		{"token", errors.New("whoami with syt_very_secret_token: 401"), "whoami with [REDACTED]: 401"},
		{"api key", errors.New("Incorrect API key provided: sk-abcdefghijkl"), "Incorrect API key provided: [REDACTED]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scrubError(tt.err, cfg)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("scrubError(nil) = %v", got)
				}
				return
			}
			if got.Error() != tt.want {
				t.Errorf("got %q, want %q", got.Error(), tt.want)
			}
		})
	}
}

func TestScrubError_KeepsCleanErrorIdentity(t *testing.T) {
	sentinel := errors.New("boom")
	if got := scrubError(sentinel, config.Config{}); !errors.Is(got, sentinel) {
		t.Errorf("clean error should be returned unchanged, got %v", got)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		cfg       config.LogConfig
		debugOn   bool
		infoOn    bool
		jsonLines bool
	}{
		{config.LogConfig{Level: "debug", Format: "text"}, true, true, false},
		{config.LogConfig{Level: "info", Format: "json"}, false, true, true},
		{config.LogConfig{Level: "WARN", Format: "text"}, false, false, false},
		{config.LogConfig{Level: "bogus", Format: "text"}, false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Level+"/"+tt.cfg.Format, func(t *testing.T) {
			var buf bytes.Buffer
			l := newLogger(tt.cfg, &buf)
			ctx := context.Background()
			if got := l.Enabled(ctx, slog.LevelDebug); got != tt.debugOn {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugOn)
			}
			if got := l.Enabled(ctx, slog.LevelInfo); got != tt.infoOn {
				t.Errorf("info enabled = %v, want %v", got, tt.infoOn)
			}
			l.Error("format check", "k", "v")
			if isJSON := strings.HasPrefix(buf.String(), "{"); isJSON != tt.jsonLines {
				t.Errorf("json output = %v, want %v: %q", isJSON, tt.jsonLines, buf.String())
			}
		})
	}
}
