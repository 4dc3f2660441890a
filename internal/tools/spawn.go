package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
)

// SpawnProcessTool starts a background command and returns without waiting.
type SpawnProcessTool struct {
	guard *guard
}

// SpawnArgs are the arguments for spawn_process.
type SpawnArgs struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
}

// SpawnResult identifies the started process.
type SpawnResult struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

func (t *SpawnProcessTool) Name() string { return SpawnProcessToolName }

func (t *SpawnProcessTool) Preview(args json.RawMessage) string {
	var a SpawnArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return ""
	}
	return "&" + truncateCommand(a.Command)
}

// Execute starts the command outside ctx so it outlives the turn.
func (t *SpawnProcessTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decodeArgs[SpawnArgs](args)
	if err != nil {
		return nil, err
	}
	if a.Command == "" {
		return nil, NewToolError(ErrInvalidParams, "command is required")
	}
	if err := t.guard.checkCommand(a.Command); err != nil {
		return nil, err
	}
	workDir, err := t.guard.workDir(a.WorkingDir)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(detectShell(), "-c", a.Command)
	cmd.Dir = workDir
	if err := cmd.Start(); err != nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "start failed: %v", err)
	}
	pid := cmd.Process.Pid

	go func() {
		err := cmd.Wait()
		slog.Debug("spawned process exited", "pid", pid, "command", truncateCommand(a.Command), "error", err)
	}()

	return SpawnResult{PID: pid, Command: a.Command}, nil
}
