package debuglog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ListSessions returns summaries of every trace in dir, most recent first.
func ListSessions(dir string) ([]SessionSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []SessionSummary
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		sess, err := ParseSession(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // Skip unreadable files
		}
		sessions = append(sessions, sess.SessionSummary)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	return sessions, nil
}

// ParseSession reads a whole trace file. Malformed lines are skipped.
func ParseSession(filePath string) (*Session, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	sess := &Session{SessionSummary: SessionSummary{
		ID:       strings.TrimSuffix(filepath.Base(filePath), ".jsonl"),
		FilePath: filePath,
		FileSize: info.Size(),
	}}
	byID := make(map[string]int)
	request := func(id string, ts time.Time) *Request {
		if i, ok := byID[id]; ok {
			return &sess.Requests[i]
		}
		byID[id] = len(sess.Requests)
		sess.Requests = append(sess.Requests, Request{ID: id, StartTime: ts})
		return &sess.Requests[len(sess.Requests)-1]
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry rawEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil {
			continue
		}
		if sess.StartTime.IsZero() || ts.Before(sess.StartTime) {
			sess.StartTime = ts
		}

		req := request(entry.RequestID, ts)
		switch entry.Type {
		case "request":
			if sess.Provider == "" {
				sess.Provider = entry.Provider
				sess.Model = entry.Model
			}
			sess.Attempts++
			req.Attempts = append(req.Attempts, Attempt{
				Timestamp: ts,
				Number:    entry.Attempt,
				Provider:  entry.Provider,
				Model:     entry.Model,
				Plan:      entry.Plan,
				Messages:  entry.Messages,
			})
		case "event":
			if entry.EventType == "tool_call" {
				sess.ToolCalls++
			}
			req.Events = append(req.Events, Event{Timestamp: ts, Type: entry.EventType, Data: entry.Data})
		case "error":
			sess.Errors++
			req.Error = &ErrorEntry{Timestamp: ts, Kind: entry.Kind, Message: entry.Message}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sess.SessionSummary.Requests = len(sess.Requests)
	return sess, nil
}

// ResolveSession finds a trace by list position (1 is the most recent) or by id.
func ResolveSession(dir, identifier string) (*SessionSummary, error) {
	sessions, err := ListSessions(dir)
	if err != nil {
		return nil, err
	}
	if num, err := strconv.Atoi(identifier); err == nil && num > 0 && !strings.Contains(identifier, "-") {
		if num > len(sessions) {
			return nil, fmt.Errorf("session %d not found (only %d sessions)", num, len(sessions))
		}
		return &sessions[num-1], nil
	}
	for i := range sessions {
		if sessions[i].ID == identifier || strings.HasPrefix(sessions[i].ID, identifier) {
			return &sessions[i], nil
		}
	}
	return nil, fmt.Errorf("session %q not found", identifier)
}
