package llm

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger logs relay requests and stream events to JSONL files.
// Each session gets its own file. A nil *DebugLogger is a valid no-op logger.
type DebugLogger struct {
	sessionID string
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	closeOnce sync.Once
	closed    bool
}

type debugLogEntry struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"` // "request", "event" or "error"
	RequestID string `json:"request_id,omitempty"`
}

type debugRequestEntry struct {
	debugLogEntry
	Attempt  int            `json:"attempt"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Plan     string         `json:"plan,omitempty"`
	Messages []debugMessage `json:"messages"`
}

// debugMessage is a reduced message. Signatures are hashed rather than logged.
type debugMessage struct {
	Role          string   `json:"role"`
	Content       string   `json:"content"`
	ToolCalls     []string `json:"tool_calls,omitempty"`
	SignatureHash string   `json:"signature_hash,omitempty"`
	Hidden        bool     `json:"hidden,omitempty"`
}

type debugEventEntry struct {
	debugLogEntry
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type debugErrorEntry struct {
	debugLogEntry
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewDebugLogger creates a logger writing to baseDir/<sessionID>.jsonl.
// Files older than a week are removed.
func NewDebugLogger(baseDir, sessionID string) (*DebugLogger, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}

	_ = CleanupOldLogs(baseDir, 7*24*time.Hour)

	filename := filepath.Join(baseDir, sessionID+".jsonl")
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	return &DebugLogger{
		sessionID: sessionID,
		file:      file,
		writer:    bufio.NewWriter(file),
	}, nil
}

func (l *DebugLogger) header(kind, requestID string) debugLogEntry {
	return debugLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: l.sessionID,
		Type:      kind,
		RequestID: requestID,
	}
}

// LogRequest logs one outbound attempt.
func (l *DebugLogger) LogRequest(requestID string, attempt int, req ChatRequest) {
	if l == nil {
		return
	}

	entry := debugRequestEntry{
		debugLogEntry: l.header("request", requestID),
		Attempt:       attempt,
		Provider:      req.Provider,
		Model:         req.Model,
		Plan:          req.Plan,
		Messages:      convertMessages(req.Messages),
	}
	l.writeEntry(entry)
	l.Flush()
}

// LogEvent logs a raw stream event line.
func (l *DebugLogger) LogEvent(requestID, eventType string, raw []byte) {
	if l == nil {
		return
	}

	entry := debugEventEntry{
		debugLogEntry: l.header("event", requestID),
		EventType:     eventType,
	}
	if json.Valid(raw) {
		entry.Data = append(json.RawMessage(nil), raw...)
	}
	l.writeEntry(entry)
	if eventType == "done" || eventType == "final" {
		l.Flush()
	}
}

// LogError logs a terminal failure for a request.
func (l *DebugLogger) LogError(requestID string, err error) {
	if l == nil || err == nil {
		return
	}
	l.writeEntry(debugErrorEntry{
		debugLogEntry: l.header("error", requestID),
		Kind:          string(KindOf(err)),
		Message:       err.Error(),
	})
	l.Flush()
}

// Close flushes and closes the file. Safe to call more than once.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}

	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if l.file == nil {
			return
		}
		if err := l.writer.Flush(); err != nil {
			closeErr = err
		}
		if err := l.file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		l.closed = true
	})
	return closeErr
}

// writeEntry writes one JSON line without flushing.
func (l *DebugLogger) writeEntry(entry any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.writer.Write(data)
	l.writer.WriteString("\n")
}

// Flush flushes buffered entries to disk.
func (l *DebugLogger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.writer == nil {
		return
	}
	l.writer.Flush()
}

func convertMessages(messages []Message) []debugMessage {
	result := make([]debugMessage, len(messages))
	for i, m := range messages {
		dm := debugMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Hidden:  m.IgnoreInDisplay,
		}
		if m.Metadata != nil {
			for _, call := range m.Metadata.ToolCalls {
				dm.ToolCalls = append(dm.ToolCalls, call.Fingerprint())
			}
			if m.Metadata.ThinkingSignature != "" {
				dm.SignatureHash = shortContentHash(m.Metadata.ThinkingSignature)
			}
		}
		result[i] = dm
	}
	return result
}

func shortContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// CleanupOldLogs removes .jsonl files older than maxAge from baseDir.
func CleanupOldLogs(baseDir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(baseDir, entry.Name()))
		}
	}
	return nil
}
