package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileTool implements the write_file tool.
type WriteFileTool struct {
	guard *guard
}

// WriteFileArgs are the arguments for write_file.
type WriteFileArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// WriteFileResult reports what was written.
type WriteFileResult struct {
	FilePath string `json:"file_path"`
	Created  bool   `json:"created"`
	OldLines int    `json:"old_lines,omitempty"`
	Lines    int    `json:"lines"`
	Bytes    int    `json:"bytes"`
}

func (t *WriteFileTool) Name() string { return WriteFileToolName }

func (t *WriteFileTool) Preview(args json.RawMessage) string {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return a.FilePath
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	a, err := decodeArgs[WriteFileArgs](args)
	if err != nil {
		return nil, err
	}
	if a.FilePath == "" {
		return nil, NewToolError(ErrInvalidParams, "file_path is required")
	}
	absPath, err := t.guard.resolve(a.FilePath)
	if err != nil {
		return nil, err
	}

	result := WriteFileResult{FilePath: absPath, Created: true, Lines: countLines(a.Content), Bytes: len(a.Content)}
	mode := os.FileMode(0644)
	if info, err := os.Stat(absPath); err == nil {
		if info.IsDir() {
			return nil, NewToolErrorf(ErrInvalidParams, "%s is a directory", a.FilePath)
		}
		mode = info.Mode().Perm()
		if data, err := os.ReadFile(absPath); err == nil {
			result.Created = false
			result.OldLines = countLines(string(data))
		}
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "failed to create directory: %v", err)
	}

	// Write to a uniquely-named temp file, then rename over the target.
	tf, err := os.CreateTemp(dir, "."+filepath.Base(absPath)+".*.tmp")
	if err != nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "failed to create temp file: %v", err)
	}
	tempPath := tf.Name()
	defer os.Remove(tempPath)

	if _, err := tf.WriteString(a.Content); err != nil {
		tf.Close()
		return nil, NewToolErrorf(ErrExecutionFailed, "failed to write temp file: %v", err)
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		return nil, NewToolErrorf(ErrExecutionFailed, "failed to sync temp file: %v", err)
	}
	if err := tf.Close(); err != nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "failed to close temp file: %v", err)
	}
	// CreateTemp uses 0600
	if err := os.Chmod(tempPath, mode); err != nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "failed to set file permissions: %v", err)
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "failed to rename temp file: %v", err)
	}
	return result, nil
}

// countLines counts the number of lines in a string.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	count := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		count++
	}
	return count
}
