package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/samsaffron/term-relay/internal/llm"
	"github.com/spf13/viper"
)

type Config struct {
	Endpoint    string            `mapstructure:"endpoint"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Plan        string            `mapstructure:"plan"`
	SDK         string            `mapstructure:"sdk"`
	Provider    string            `mapstructure:"provider"`
	Model       string            `mapstructure:"model"`
	BaseURL     string            `mapstructure:"base_url"`
	Temperature *float64          `mapstructure:"temperature"`
	MaxTokens   int               `mapstructure:"max_tokens"`
	AcceptAll   bool              `mapstructure:"accept_all_tool_calls"` // Run tool calls without confirmation
	APIKeys     map[string]string `mapstructure:"api_keys"`              // Per-provider keys forwarded to the relay
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Tools       ToolsConfig       `mapstructure:"tools"`
	DebugLog    bool              `mapstructure:"debug_log"` // Write JSONL request/event traces

	mu   sync.RWMutex
	path string // config file used for persisted preferences
}

// AuthConfig holds the relay credentials.
type AuthConfig struct {
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	TokenURL     string `mapstructure:"token_url"` // Defaults to {endpoint}/auth/refresh
	ClientID     string `mapstructure:"client_id"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // "json" (default) or "sqlite"
	Dir     string `mapstructure:"dir"`     // Override the data directory
}

// ToolsConfig configures the local tool executor.
type ToolsConfig struct {
	Workspace string   `mapstructure:"workspace"`  // Restrict file tools to this root (empty = unrestricted)
	ShellDeny []string `mapstructure:"shell_deny"` // Glob patterns of refused shell commands
}

// providerKeyEnv maps provider names to their conventional API key variables.
var providerKeyEnv = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"google":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetDefault("endpoint", "http://localhost:8080")
	v.SetDefault("plan", "free")
	v.SetDefault("sdk", "anthropic")
	v.SetDefault("provider", "anthropic")
	v.SetDefault("model", "claude-sonnet-4-5")
	v.SetDefault("max_tokens", 0)
	v.SetDefault("accept_all_tool_calls", false)
	v.SetDefault("sessions.enabled", true)
	v.SetDefault("sessions.backend", "json")
	v.SetDefault("tools.shell_deny", []string{})
	v.SetDefault("debug_log", false)

	// Read config file (optional - won't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.path, err = GetConfigPath()
	if err != nil {
		return nil, err
	}
	cfg.resolve()
	return &cfg, nil
}

// resolve expands environment references and applies env fallbacks.
func (c *Config) resolve() {
	c.Endpoint = expandEnv(c.Endpoint)
	if env := os.Getenv("TERM_RELAY_ENDPOINT"); env != "" {
		c.Endpoint = env
	}

	c.Auth.AccessToken = expandEnv(c.Auth.AccessToken)
	if c.Auth.AccessToken == "" {
		c.Auth.AccessToken = os.Getenv("TERM_RELAY_ACCESS_TOKEN")
	}
	c.Auth.RefreshToken = expandEnv(c.Auth.RefreshToken)
	if c.Auth.RefreshToken == "" {
		c.Auth.RefreshToken = os.Getenv("TERM_RELAY_REFRESH_TOKEN")
	}
	if c.Auth.TokenURL == "" && c.Endpoint != "" {
		c.Auth.TokenURL = strings.TrimSuffix(c.Endpoint, "/") + "/auth/refresh"
	}

	if c.APIKeys == nil {
		c.APIKeys = make(map[string]string)
	}
	for provider, key := range c.APIKeys {
		c.APIKeys[provider] = expandEnv(key)
	}
	c.BaseURL = expandEnv(c.BaseURL)
}

// ApplyOverrides applies provider and model overrides to the config.
// provider may carry a model as "provider:model".
func (c *Config) ApplyOverrides(provider, model string) {
	if name, m, ok := strings.Cut(provider, ":"); ok {
		provider = name
		if model == "" {
			model = m
		}
	}
	if provider != "" {
		c.Provider = provider
		c.SDK = provider
	}
	if model != "" {
		c.Model = model
	}
}

// AccessToken returns the relay access token.
func (c *Config) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Auth.AccessToken
}

// RefreshToken returns the relay refresh token.
func (c *Config) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Auth.RefreshToken
}

// APIKey returns the configured key for provider, falling back to its conventional env var.
func (c *Config) APIKey(provider string) string {
	c.mu.RLock()
	key := c.APIKeys[provider]
	c.mu.RUnlock()
	if key != "" {
		return key
	}
	if env, ok := providerKeyEnv[provider]; ok {
		return os.Getenv(env)
	}
	return ""
}

// SetAccessToken updates the token in memory and persists it.
func (c *Config) SetAccessToken(token string) error {
	c.mu.Lock()
	c.Auth.AccessToken = token
	path := c.path
	c.mu.Unlock()
	return setValueAt(path, "auth.access_token", token)
}

// AcceptAllToolCalls reports whether tool calls run without confirmation.
func (c *Config) AcceptAllToolCalls() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AcceptAll
}

// SetAcceptAllToolCalls updates the preference in memory and persists it.
func (c *Config) SetAcceptAllToolCalls(v bool) error {
	c.mu.Lock()
	c.AcceptAll = v
	path := c.path
	c.mu.Unlock()
	return setValueAt(path, "accept_all_tool_calls", strconv.FormatBool(v))
}

// ChatDefaults returns the request template for a turn. Messages are filled in per turn
// and the API key by the stream client.
func (c *Config) ChatDefaults() llm.ChatRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return llm.ChatRequest{
		SDK:         c.SDK,
		Provider:    c.Provider,
		Model:       c.Model,
		Plan:        c.Plan,
		BaseURL:     c.BaseURL,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for term-relay.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "term-relay"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "term-relay"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
