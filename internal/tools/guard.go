package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// guard enforces the workspace root and the shell deny list.
type guard struct {
	root     string // absolute, symlinks resolved; empty means unrestricted
	denied   []glob.Glob
	patterns []string
}

func newGuard(cfg ToolConfig) (*guard, error) {
	g := &guard{}
	if cfg.Workspace != "" {
		root, err := filepath.Abs(cfg.Workspace)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace: %w", err)
		}
		if real, err := filepath.EvalSymlinks(root); err == nil {
			root = real
		}
		g.root = root
	}
	for _, pattern := range cfg.ShellDeny {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid shell_deny pattern %q: %w", pattern, err)
		}
		g.denied = append(g.denied, compiled)
		g.patterns = append(g.patterns, pattern)
	}
	return g, nil
}

// resolve returns the absolute form of path, rejecting anything outside the workspace.
// Relative paths are taken from the workspace root when one is set.
func (g *guard) resolve(path string) (string, error) {
	if path == "" {
		return "", NewToolError(ErrInvalidParams, "path is required")
	}
	if g.root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(g.root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "cannot resolve path: %v", err)
	}
	if g.root == "" {
		return abs, nil
	}
	if !within(g.root, abs) {
		return "", NewToolErrorf(ErrPathNotInWorkspace, "%s is outside %s", abs, g.root)
	}

	// Re-check containment through symlinks for the part of the path that exists
	existing := abs
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "resolve symlinks: %v", err)
	}
	if !within(g.root, real) {
		return "", NewToolErrorf(ErrSymlinkEscape, "%s resolves outside %s", abs, g.root)
	}
	return abs, nil
}

// workDir resolves an optional working directory, defaulting to the workspace or cwd.
func (g *guard) workDir(dir string) (string, error) {
	if dir != "" {
		return g.resolve(dir)
	}
	if g.root != "" {
		return g.root, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err)
	}
	return wd, nil
}

// checkCommand refuses commands matching a deny pattern.
func (g *guard) checkCommand(command string) error {
	command = strings.TrimSpace(command)
	for i, d := range g.denied {
		if d.Match(command) {
			return NewToolErrorf(ErrPermissionDenied, "command %q matches deny pattern %q", truncateCommand(command), g.patterns[i])
		}
	}
	return nil
}

func within(root, path string) bool {
	if strings.HasSuffix(root, string(filepath.Separator)) {
		return strings.HasPrefix(path, root)
	}
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
