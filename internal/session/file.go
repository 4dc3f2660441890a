package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/samsaffron/term-relay/internal/llm"
)

// FileStore keeps one JSON document per session in dir.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding session files.
func (s *FileStore) Dir() string { return s.dir }

// Close is a no-op; files are closed after each write.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Save writes the full log for id, replacing any previous document.
func (s *FileStore) Save(ctx context.Context, messages []llm.Message, directory, id string) (string, error) {
	if id == "" {
		id = NewID()
	}
	path, err := s.path(id)
	if err != nil {
		return "", err
	}
	if messages == nil {
		messages = []llm.Message{}
	}

	data, err := json.MarshalIndent(Session{ID: id, Messages: messages, Directory: directory}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+id+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("rename session file: %w", err)
	}
	return id, nil
}

// Load reads the session with id. Missing sessions return nil, nil.
func (s *FileStore) Load(ctx context.Context, id string) (*Session, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	sess, err := readSessionFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return sess, err
}

func readSessionFile(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if sess.ID == "" {
		sess.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return &sess, nil
}

// List returns every readable session, newest first. Corrupt files are skipped.
func (s *FileStore) List(ctx context.Context) ([]Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	var sessions []Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess, err := readSessionFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		sessions = append(sessions, *sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID > sessions[j].ID
	})
	return sessions, nil
}

// Delete removes the session file. Deleting a missing session is not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Search does a case-insensitive substring scan over visible message content.
func (s *FileStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit == 0 {
		limit = 20
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	sessions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var results []SearchResult
	for _, sess := range sessions {
		for _, m := range sess.Messages {
			if m.IgnoreInDisplay {
				continue
			}
			text := m.Content
			lower := strings.ToLower(text)
			idx := strings.Index(lower, needle)
			if idx < 0 {
				continue
			}
			if len(lower) != len(text) {
				text = lower
			}
			results = append(results, SearchResult{
				SessionID: sess.ID,
				Role:      m.Role,
				Snippet:   snippet(text, idx, len(needle)),
			})
			if len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// snippet marks the match with ** like the FTS5 snippet() output.
func snippet(content string, idx, n int) string {
	const context = 40
	start := max(0, idx-context)
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	end := min(len(content), idx+n+context)
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(content[start:idx])
	b.WriteString("**")
	b.WriteString(content[idx : idx+n])
	b.WriteString("**")
	b.WriteString(content[idx+n : end])
	if end < len(content) {
		b.WriteString("...")
	}
	return strings.ReplaceAll(b.String(), "\n", " ")
}
