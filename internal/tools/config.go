package tools

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gobwas/glob"
)

// ToolConfig holds configuration for the local tool executor.
type ToolConfig struct {
	Workspace string   `mapstructure:"workspace"`  // File tools are confined here when set
	ShellDeny []string `mapstructure:"shell_deny"` // Shell command patterns that are refused
	Limits    OutputLimits
}

// Validate checks the configuration for errors.
func (c *ToolConfig) Validate() []error {
	var errs []error

	for _, pattern := range c.ShellDeny {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid shell_deny pattern %q: %w", pattern, err))
		}
	}

	// Warn only; the directory may be mounted later
	if c.Workspace != "" {
		if _, err := os.Stat(c.Workspace); os.IsNotExist(err) {
			slog.Warn("tools workspace does not exist", "dir", c.Workspace)
		}
	}

	return errs
}

// OutputLimits defines limits for tool output.
type OutputLimits struct {
	MaxLines   int   // Max lines for read_file (default 2000)
	MaxBytes   int64 // Max bytes per output stream (default 50KB)
	MaxResults int   // Max results for glob (default 200)
}

// DefaultOutputLimits returns the default output limits.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxLines:   2000,
		MaxBytes:   50 * 1024, // 50KB
		MaxResults: 200,
	}
}

func (l OutputLimits) withDefaults() OutputLimits {
	d := DefaultOutputLimits()
	if l.MaxLines <= 0 {
		l.MaxLines = d.MaxLines
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = d.MaxBytes
	}
	if l.MaxResults <= 0 {
		l.MaxResults = d.MaxResults
	}
	return l
}
