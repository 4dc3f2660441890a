// Package tools runs model-requested tool calls on the local host.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolErrorType provides structured errors the model can react to.
type ToolErrorType string

const (
	ErrFileNotFound       ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams      ToolErrorType = "INVALID_PARAMS"
	ErrUnknownTool        ToolErrorType = "UNKNOWN_TOOL"
	ErrPathNotInWorkspace ToolErrorType = "PATH_NOT_IN_WORKSPACE"
	ErrExecutionFailed    ToolErrorType = "EXECUTION_FAILED"
	ErrPermissionDenied   ToolErrorType = "PERMISSION_DENIED"
	ErrBinaryFile         ToolErrorType = "BINARY_FILE"
	ErrSymlinkEscape      ToolErrorType = "SYMLINK_ESCAPE"
)

// ToolError provides structured error information.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...any) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Tool names
const (
	ShellToolName        = "shell"
	RunCommandToolName   = "run_command" // alias of shell
	ReadFileToolName     = "read_file"
	WriteFileToolName    = "write_file"
	GlobToolName         = "glob"
	SpawnProcessToolName = "spawn_process"
)

// Tool is a single host capability.
// Execute returns a JSON-encodable result; failures are *ToolError values.
type Tool interface {
	Name() string
	Preview(args json.RawMessage) string
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// decodeArgs unmarshals raw tool arguments into T.
func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var a T
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, NewToolError(ErrInvalidParams, err.Error())
	}
	return a, nil
}

// truncateCommand truncates a command for previews and error messages.
func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}
