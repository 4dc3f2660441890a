package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "term-relay", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TERM_RELAY_ACCESS_TOKEN", "")
	t.Setenv("TERM_RELAY_ENDPOINT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "anthropic" || cfg.SDK != "anthropic" {
		t.Errorf("provider/sdk = %q/%q", cfg.Provider, cfg.SDK)
	}
	if !cfg.Sessions.Enabled || cfg.Sessions.Backend != "json" {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if cfg.AcceptAllToolCalls() {
		t.Error("accept all should default to false")
	}
	if cfg.Auth.TokenURL != "http://localhost:8080/auth/refresh" {
		t.Errorf("TokenURL = %q", cfg.Auth.TokenURL)
	}
}

func TestLoadFileAndEnvExpansion(t *testing.T) {
	writeConfig(t, `
endpoint: https://relay.example.test
auth:
  access_token: ${RELAY_TEST_TOKEN}
api_keys:
  openai: $RELAY_TEST_OPENAI
plan: pro
temperature: 0.2
`)
	t.Setenv("RELAY_TEST_TOKEN", "tok-123")
	t.Setenv("RELAY_TEST_OPENAI", "sk-abc")
	t.Setenv("TERM_RELAY_ENDPOINT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AccessToken() != "tok-123" {
		t.Errorf("AccessToken() = %q", cfg.AccessToken())
	}
	if cfg.APIKey("openai") != "sk-abc" {
		t.Errorf("APIKey(openai) = %q", cfg.APIKey("openai"))
	}
	if cfg.Plan != "pro" {
		t.Errorf("Plan = %q", cfg.Plan)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.2 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.Auth.TokenURL != "https://relay.example.test/auth/refresh" {
		t.Errorf("TokenURL = %q", cfg.Auth.TokenURL)
	}
}

func TestAPIKeyEnvFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	cfg := &Config{}
	if got := cfg.APIKey("anthropic"); got != "env-key" {
		t.Fatalf("APIKey() = %q, want env-key", got)
	}
	if got := cfg.APIKey("mystery"); got != "" {
		t.Fatalf("APIKey(mystery) = %q, want empty", got)
	}
}

func TestSetAcceptAllToolCallsPersists(t *testing.T) {
	path := writeConfig(t, "# my settings\nplan: pro\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.SetAcceptAllToolCalls(true); err != nil {
		t.Fatalf("SetAcceptAllToolCalls() error = %v", err)
	}
	if !cfg.AcceptAllToolCalls() {
		t.Fatal("in-memory value not updated")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "accept_all_tool_calls: true") {
		t.Errorf("config file missing preference:\n%s", data)
	}
	if !strings.Contains(string(data), "# my settings") {
		t.Errorf("comments were not preserved:\n%s", data)
	}

	reloaded, err := Load()
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if !reloaded.AcceptAllToolCalls() {
		t.Error("preference lost on reload")
	}
}

func TestSetAccessTokenNested(t *testing.T) {
	writeConfig(t, "auth:\n  refresh_token: r-1\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.SetAccessToken("new-token"); err != nil {
		t.Fatalf("SetAccessToken() error = %v", err)
	}
	got, err := GetValue("auth.access_token")
	if err != nil {
		t.Fatalf("GetValue() error = %v", err)
	}
	if got != "new-token" {
		t.Errorf("auth.access_token = %q", got)
	}
	if rt, _ := GetValue("auth.refresh_token"); rt != "r-1" {
		t.Errorf("refresh token clobbered: %q", rt)
	}
}

func TestSetValueCreatesFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := SetValue("sessions.backend", "sqlite"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	got, err := GetValue("sessions.backend")
	if err != nil || got != "sqlite" {
		t.Fatalf("GetValue() = %q, %v", got, err)
	}
	if _, err := GetValue("sessions.missing"); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{Provider: "anthropic", SDK: "anthropic", Model: "claude-sonnet-4-5"}

	cfg.ApplyOverrides("openai:gpt-5", "")
	if cfg.Provider != "openai" || cfg.SDK != "openai" {
		t.Fatalf("provider=%q sdk=%q", cfg.Provider, cfg.SDK)
	}
	if cfg.Model != "gpt-5" {
		t.Fatalf("model=%q, want gpt-5", cfg.Model)
	}

	cfg.ApplyOverrides("", "gpt-4o")
	if cfg.Provider != "openai" {
		t.Fatalf("provider changed unexpectedly: %q", cfg.Provider)
	}
	if cfg.Model != "gpt-4o" {
		t.Fatalf("model=%q, want gpt-4o", cfg.Model)
	}
}

func TestChatDefaults(t *testing.T) {
	temp := 0.5
	cfg := &Config{SDK: "openai", Provider: "openrouter", Model: "gpt-5", Plan: "pro", Temperature: &temp, MaxTokens: 512}
	req := cfg.ChatDefaults()
	if req.SDK != "openai" || req.Provider != "openrouter" || req.Model != "gpt-5" || req.Plan != "pro" {
		t.Errorf("ChatDefaults() = %+v", req)
	}
	if req.Temperature == nil || *req.Temperature != 0.5 || req.MaxTokens != 512 {
		t.Errorf("sampling params = %v / %d", req.Temperature, req.MaxTokens)
	}
	if req.Messages != nil || req.APIKey != "" {
		t.Errorf("template should not carry messages or keys: %+v", req)
	}
}
