package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"
)

const (
	defaultShellTimeout = 30
	maxShellTimeout     = 300
)

// ShellTool implements the shell tool. It is also registered as run_command.
type ShellTool struct {
	name   string
	guard  *guard
	limits OutputLimits
}

// ShellArgs are the arguments for the shell tool.
type ShellArgs struct {
	Command        string `json:"command"`
	WorkingDir     string `json:"working_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ShellResult contains the result of a shell command.
type ShellResult struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (t *ShellTool) Name() string { return t.name }

func (t *ShellTool) Preview(args json.RawMessage) string {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return ""
	}
	return truncateCommand(a.Command)
}

// Execute runs the command. A non-zero exit status is a result, not an error.
func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decodeArgs[ShellArgs](args)
	if err != nil {
		return nil, err
	}
	if a.Command == "" {
		return nil, NewToolError(ErrInvalidParams, "command is required")
	}
	if err := t.guard.checkCommand(a.Command); err != nil {
		return nil, err
	}

	timeout := defaultShellTimeout
	if a.TimeoutSeconds > 0 {
		timeout = a.TimeoutSeconds
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	workDir, err := t.guard.workDir(a.WorkingDir)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, detectShell(), "-c", a.Command)
	cmd.Dir = workDir
	// Background children can hold the output pipes open after the shell is killed
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	// The caller cancelled; report that rather than a partial result
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := ShellResult{}
	result.Stdout, result.Truncated = clip(stdout.String(), t.limits.MaxBytes)
	var clipped bool
	result.Stderr, clipped = clip(stderr.String(), t.limits.MaxBytes)
	result.Truncated = result.Truncated || clipped

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, NewToolErrorf(ErrExecutionFailed, "command error: %v", err)
		}
	}
	return result, nil
}

func clip(s string, max int64) (string, bool) {
	if int64(len(s)) <= max {
		return s, false
	}
	end := int(max)
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end], true
}

// detectShell returns the user's shell.
func detectShell() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		return "sh"
	}
	return shell
}
