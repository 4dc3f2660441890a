package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samsaffron/term-relay/internal/llm"
)

// Store is the interface for session persistence.
// Save overwrites the whole log for id, so repeated saves are idempotent.
type Store interface {
	Save(ctx context.Context, messages []llm.Message, directory, id string) (string, error)
	// Load returns nil, nil when no session exists for id.
	Load(ctx context.Context, id string) (*Session, error)
	// List returns sessions newest first.
	List(ctx context.Context) ([]Session, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Close() error
}

// Backend names accepted by NewStore.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config holds session storage configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled"` // Master switch
	Backend string `mapstructure:"backend"` // "json" or "sqlite"
	Dir     string `mapstructure:"dir"`     // Data directory override
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{Enabled: true, Backend: BackendJSON}
}

// GetDataDir returns the XDG data directory for term-relay.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "term-relay"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "term-relay"), nil
}

func (c Config) dataDir() (string, error) {
	if c.Dir != "" {
		return c.Dir, nil
	}
	return GetDataDir()
}

// NewStore creates a Store for cfg. Disabled configs get a NoopStore.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	dir, err := cfg.dataDir()
	if err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "", BackendJSON:
		return NewFileStore(filepath.Join(dir, "sessions"))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(dir, "sessions.db"))
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
