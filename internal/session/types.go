package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samsaffron/term-relay/internal/llm"
)

// Session is the persisted form of a conversation.
// The id doubles as the creation date so that lexical order is chronological.
type Session struct {
	ID        string        `json:"date"`
	Messages  []llm.Message `json:"messages"`
	Directory string        `json:"directory"`
}

// SearchResult represents a search match.
type SearchResult struct {
	SessionID string   `json:"session_id"`
	Role      llm.Role `json:"role"`
	Snippet   string   `json:"snippet"` // Matched text snippet
}

// NewID returns a new session id such as "20261017-153012-ab12cd".
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return time.Now().Format("20060102-150405") + "-" + suffix
}

// Title returns the first line of the first visible user message, truncated for listings.
func (s *Session) Title() string {
	for _, m := range s.Messages {
		if m.Role == llm.RoleUser && !m.IgnoreInDisplay && strings.TrimSpace(m.Content) != "" {
			return TruncateSummary(m.Content)
		}
	}
	return ""
}

// VisibleCount returns the number of messages a user would see.
func (s *Session) VisibleCount() int {
	return len(llm.ForDisplay(s.Messages))
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if r := []rune(content); len(r) > 100 {
		content = string(r[:97]) + "..."
	}
	return content
}
