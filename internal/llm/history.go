package llm

import "time"

// MaxToolHistory bounds the rolling tool-call status history.
const MaxToolHistory = 10

// ToolStatus is the lifecycle state of a tool call.
type ToolStatus string

const (
	ToolStatusPending ToolStatus = "pending"
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// ToolCallStatus is one entry in the tool-call history.
type ToolCallStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       ToolStatus `json:"status"`
	Timestamp    time.Time  `json:"timestamp"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// ToolCallHistory keeps the most recent tool call statuses keyed by fingerprint.
// It is a display aid and never gates execution. Not safe for concurrent use;
// the owner serializes access.
type ToolCallHistory struct {
	entries []ToolCallStatus
	now     func() time.Time
}

// NewToolCallHistory creates an empty history.
func NewToolCallHistory() *ToolCallHistory {
	return &ToolCallHistory{now: time.Now}
}

// RecordStatus upserts the status for call and returns its fingerprint.
// Updates keep the entry's position; inserts append. The history is
// truncated to the last MaxToolHistory entries afterwards.
func (h *ToolCallHistory) RecordStatus(call FunctionCall, status ToolStatus, errMsg string) string {
	id := call.Fingerprint()
	entry := ToolCallStatus{
		ID:           id,
		Name:         call.Name,
		Status:       status,
		Timestamp:    h.now(),
		ErrorMessage: errMsg,
	}

	next := make([]ToolCallStatus, 0, len(h.entries)+1)
	replaced := false
	for _, e := range h.entries {
		if e.ID == id {
			next = append(next, entry)
			replaced = true
			continue
		}
		next = append(next, e)
	}
	if !replaced {
		next = append(next, entry)
	}
	if len(next) > MaxToolHistory {
		next = next[len(next)-MaxToolHistory:]
	}
	h.entries = next
	return id
}

// Entries returns a copy of the history, oldest first.
func (h *ToolCallHistory) Entries() []ToolCallStatus {
	out := make([]ToolCallStatus, len(h.entries))
	copy(out, h.entries)
	return out
}

// Get returns the entry for a fingerprint.
func (h *ToolCallHistory) Get(id string) (ToolCallStatus, bool) {
	for _, e := range h.entries {
		if e.ID == id {
			return e, true
		}
	}
	return ToolCallStatus{}, false
}

// Reset clears the history.
func (h *ToolCallHistory) Reset() {
	h.entries = nil
}
