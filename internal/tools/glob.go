package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// GlobTool implements the glob tool.
type GlobTool struct {
	guard  *guard
	limits OutputLimits
}

// GlobArgs are the arguments for glob.
type GlobArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// FileEntry represents a file in glob results.
type FileEntry struct {
	FilePath  string    `json:"file_path"`
	IsDir     bool      `json:"is_dir"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// GlobResult lists matches, newest first.
type GlobResult struct {
	Files     []FileEntry `json:"files"`
	Truncated bool        `json:"truncated,omitempty"`
}

func (t *GlobTool) Name() string { return GlobToolName }

func (t *GlobTool) Preview(args json.RawMessage) string {
	var a GlobArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return ""
	}
	if a.Path != "" {
		return fmt.Sprintf("%s in %s", a.Pattern, a.Path)
	}
	return a.Pattern
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	a, err := decodeArgs[GlobArgs](args)
	if err != nil {
		return nil, err
	}
	if a.Pattern == "" {
		return nil, NewToolError(ErrInvalidParams, "pattern is required")
	}
	if !doublestar.ValidatePattern(a.Pattern) {
		return nil, NewToolErrorf(ErrInvalidParams, "invalid pattern %q", a.Pattern)
	}

	base, err := t.guard.workDir(a.Path)
	if err != nil {
		return nil, err
	}

	result := GlobResult{Files: []FileEntry{}}
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if path != base && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil || rel == "." {
			return nil
		}
		if matched, _ := doublestar.Match(a.Pattern, filepath.ToSlash(rel)); !matched {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		result.Files = append(result.Files, FileEntry{
			FilePath:  path,
			IsDir:     d.IsDir(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		if len(result.Files) >= t.limits.MaxResults {
			result.Truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "walk error: %v", err)
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].ModTime.After(result.Files[j].ModTime)
	})
	return result, nil
}
