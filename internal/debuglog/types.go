// Package debuglog reads the JSONL request traces written when debug_log is enabled.
package debuglog

import (
	"encoding/json"
	"time"
)

// SessionSummary describes one trace file.
type SessionSummary struct {
	ID        string
	FilePath  string
	FileSize  int64
	StartTime time.Time
	Provider  string
	Model     string
	Requests  int // distinct request ids
	Attempts  int // request entries, retries included
	ToolCalls int
	Errors    int
}

// HasErrors reports whether any request in the session failed.
func (s SessionSummary) HasErrors() bool {
	return s.Errors > 0
}

// Session is a fully parsed trace, grouped by request.
type Session struct {
	SessionSummary
	Requests []Request
}

// Request is one turn: its attempts and every event the relay sent back.
type Request struct {
	ID        string
	StartTime time.Time
	Attempts  []Attempt
	Events    []Event
	Error     *ErrorEntry
}

// Attempt is one logged outbound request.
type Attempt struct {
	Timestamp time.Time
	Number    int
	Provider  string
	Model     string
	Plan      string
	Messages  []Message
}

// Message mirrors the reduced message form written to the trace.
type Message struct {
	Role          string   `json:"role"`
	Content       string   `json:"content"`
	ToolCalls     []string `json:"tool_calls,omitempty"`
	SignatureHash string   `json:"signature_hash,omitempty"`
	Hidden        bool     `json:"hidden,omitempty"`
}

// Event is one raw stream event.
type Event struct {
	Timestamp time.Time
	Type      string
	Data      json.RawMessage
}

// ErrorEntry is the terminal failure of a request.
type ErrorEntry struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// rawEntry is the union of every line shape.
type rawEntry struct {
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Attempt   int             `json:"attempt"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Plan      string          `json:"plan"`
	Messages  []Message       `json:"messages"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Kind      string          `json:"kind"`
	Message   string          `json:"message"`
}
