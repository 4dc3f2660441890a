package llm

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation log.
// Messages are never mutated after they are appended to a log.
type Message struct {
	Content         string           `json:"content"`
	Role            Role             `json:"role"`
	Metadata        *MessageMetadata `json:"metadata,omitempty"`
	IgnoreInDisplay bool             `json:"ignoreInDisplay,omitempty"`
	IgnoreInLLM     bool             `json:"ignoreInLLM,omitempty"`
}

// MessageMetadata is attached to assistant messages and synthetic tool result messages.
type MessageMetadata struct {
	ThinkingContent   string         `json:"thinkingContent,omitempty"`
	ThinkingSignature string         `json:"thinkingSignature,omitempty"` // threaded back verbatim on the next turn
	ToolCalls         []FunctionCall `json:"toolCalls,omitempty"`
	FinishReason      string         `json:"finishReason,omitempty"`
	UsageMetadata     *Usage         `json:"usageMetadata,omitempty"`
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// ChatRequest is the outbound body of a single turn.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	SDK         string    `json:"sdk"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Plan        string    `json:"plan"`
	APIKey      string    `json:"apiKey,omitempty"`
	BaseURL     string    `json:"base_url,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// chatEnvelope wraps the request as the relay expects it.
type chatEnvelope struct {
	Chat ChatRequest `json:"chat"`
}

// ForLLM returns the subset of messages that should be sent to the model.
func ForLLM(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.IgnoreInLLM {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ForDisplay returns the subset of messages that should be rendered.
func ForDisplay(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.IgnoreInDisplay {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Append returns a new log with msgs appended. The input slice is never written to.
func Append(log []Message, msgs ...Message) []Message {
	out := make([]Message, 0, len(log)+len(msgs))
	out = append(out, log...)
	return append(out, msgs...)
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func AssistantText(text string, meta *MessageMetadata) Message {
	return Message{Role: RoleAssistant, Content: text, Metadata: meta}
}

// SystemError builds a display-only error message the model never sees.
func SystemError(text string) Message {
	return Message{Role: RoleSystem, Content: text, IgnoreInLLM: true}
}

// ToolResultMessage builds the synthetic user message that carries a tool result back to the model.
func ToolResultMessage(call FunctionCall, content string, thinkingSignature string) Message {
	return Message{
		Role:            RoleUser,
		Content:         content,
		IgnoreInDisplay: true,
		Metadata: &MessageMetadata{
			ToolCalls:         []FunctionCall{call},
			ThinkingSignature: thinkingSignature,
		},
	}
}

// FirstToolCall returns the first tool call carried by meta, if any.
func (m *MessageMetadata) FirstToolCall() (FunctionCall, bool) {
	if m == nil || len(m.ToolCalls) == 0 {
		return FunctionCall{}, false
	}
	return m.ToolCalls[0], true
}

// MarshalArgs serializes tool arguments with sorted keys.
func MarshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
