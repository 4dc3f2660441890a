package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samsaffron/term-relay/internal/config"
	"github.com/samsaffron/term-relay/internal/llm"
	"github.com/samsaffron/term-relay/internal/session"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Enabled: cfg.Sessions.Enabled,
		Backend: cfg.Sessions.Backend,
		Dir:     cfg.Sessions.Dir,
	}
}

// openStore opens the configured session store. Failures fall back to a
// no-op store so a broken data directory never blocks chatting.
func openStore(cfg *config.Config) session.Store {
	store, err := session.NewStore(sessionConfig(cfg))
	if err != nil {
		slog.Warn("session storage unavailable", "error", err)
		return &session.NoopStore{}
	}
	return session.NewLoggingStore(store, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
	})
}

// requireStore opens the store for the sessions subcommands, which need a real one.
func requireStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Sessions.Enabled {
		return nil, fmt.Errorf("session storage is disabled in config")
	}
	return session.NewStore(sessionConfig(cfg))
}

// openDebugLogger opens the JSONL trace for sessionID under the data directory.
func openDebugLogger(cfg *config.Config, sessionID string) (*llm.DebugLogger, error) {
	dir, err := traceDirFor(cfg)
	if err != nil {
		return nil, err
	}
	return llm.NewDebugLogger(dir, sessionID)
}

func traceDirFor(cfg *config.Config) (string, error) {
	dir := cfg.Sessions.Dir
	if dir == "" {
		var err error
		if dir, err = session.GetDataDir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "debug"), nil
}
