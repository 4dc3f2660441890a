package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// UnknownToolName is used when a call carries no recognizable name.
const UnknownToolName = "unknown_tool"

// ProviderKind tags which provider wire shape a FunctionCall was decoded from.
type ProviderKind string

const (
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGemini    ProviderKind = "gemini"
	ProviderOpenAI    ProviderKind = "openai"
)

// FunctionCall is the canonical form of a model-requested tool invocation.
// Provider shapes are converted into it when the stream is parsed.
type FunctionCall struct {
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name"`
	Args             map[string]any `json:"args"`
	Provider         ProviderKind   `json:"provider,omitempty"`
	ThoughtSignature string         `json:"thoughtSignature,omitempty"`
}

// callProbe reads just enough of a payload to pick the provider variant.
type callProbe struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Input            json.RawMessage `json:"input"`
	Args             json.RawMessage `json:"args"`
	FunctionCall     json.RawMessage `json:"functionCall"`
	Function         json.RawMessage `json:"function"`
	Provider         ProviderKind    `json:"provider"`
	ThoughtSignature string          `json:"thoughtSignature"`
}

// UnmarshalJSON accepts any provider shape as well as the canonical one.
func (c *FunctionCall) UnmarshalJSON(data []byte) error {
	call, err := DecodeFunctionCall(data)
	if err != nil {
		return err
	}
	*c = call
	return nil
}

// DecodeFunctionCall converts a provider tool call payload into a FunctionCall.
func DecodeFunctionCall(data []byte) (FunctionCall, error) {
	var probe callProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return FunctionCall{}, fmt.Errorf("decode tool call: %w", err)
	}

	var (
		call FunctionCall
		err  error
	)
	switch {
	case present(probe.Function):
		call, err = decodeOpenAICall(data)
	case present(probe.FunctionCall):
		call, err = decodeGeminiCall(probe.FunctionCall, ProviderGemini)
		if call.ID == "" {
			call.ID = probe.ID
		}
	case present(probe.Input):
		call, err = decodeAnthropicCall(data)
	default:
		kind := probe.Provider
		if kind == "" {
			kind = ProviderGemini
		}
		call, err = decodeGeminiCall(data, kind)
	}
	if err != nil {
		return FunctionCall{}, err
	}

	// An explicit top-level name outranks any nested one.
	if probe.Name != "" {
		call.Name = probe.Name
	}
	if call.Name == "" {
		call.Name = UnknownToolName
	}
	if probe.Provider != "" {
		call.Provider = probe.Provider
	}
	if call.ThoughtSignature == "" {
		call.ThoughtSignature = probe.ThoughtSignature
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	return call, nil
}

func decodeAnthropicCall(data []byte) (FunctionCall, error) {
	var block anthropic.ToolUseBlock
	if err := json.Unmarshal(data, &block); err != nil {
		return FunctionCall{}, fmt.Errorf("decode anthropic tool call: %w", err)
	}
	return FunctionCall{
		ID:       block.ID,
		Name:     block.Name,
		Args:     parseArgs(block.Input),
		Provider: ProviderAnthropic,
	}, nil
}

func decodeGeminiCall(data []byte, kind ProviderKind) (FunctionCall, error) {
	var fc genai.FunctionCall
	if err := json.Unmarshal(data, &fc); err != nil {
		return FunctionCall{}, fmt.Errorf("decode gemini tool call: %w", err)
	}
	return FunctionCall{
		ID:       fc.ID,
		Name:     fc.Name,
		Args:     fc.Args,
		Provider: kind,
	}, nil
}

func decodeOpenAICall(data []byte) (FunctionCall, error) {
	var tc openai.ChatCompletionMessageToolCall
	if err := json.Unmarshal(data, &tc); err != nil {
		return FunctionCall{}, fmt.Errorf("decode openai tool call: %w", err)
	}
	return FunctionCall{
		ID:       tc.ID,
		Name:     tc.Function.Name,
		Args:     parseArgumentString(tc.Function.Arguments),
		Provider: ProviderOpenAI,
	}, nil
}

func present(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

// parseArgs turns a JSON value into an argument map. Non-object values are kept under "value".
func parseArgs(raw json.RawMessage) map[string]any {
	if !present(raw) {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	var value any
	if err := json.Unmarshal(raw, &value); err == nil {
		return map[string]any{"value": value}
	}
	return map[string]any{}
}

// parseArgumentString parses OpenAI's string-encoded arguments.
// Unparseable input is preserved verbatim so distinct calls keep distinct fingerprints.
func parseArgumentString(s string) map[string]any {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil || args == nil {
		return map[string]any{"arguments": s}
	}
	return args
}

// Fingerprint returns a stable identity for the call.
// A provider id is used as-is. Otherwise the id is derived from the name and
// the key-sorted argument JSON, so repeated identical calls share an id.
func (c FunctionCall) Fingerprint() string {
	if c.ID != "" {
		return c.ID
	}
	name := c.Name
	if name == "" {
		name = UnknownToolName
	}
	h := int64(rollingHash(name + "_" + MarshalArgs(c.Args)))
	if h < 0 {
		h = -h
	}
	return fmt.Sprintf("tool_%d_%s", h, name)
}

// rollingHash is the 31-multiplier string hash over UTF-16 code units, wrapping at 32 bits.
func rollingHash(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(unit)
	}
	return h
}

// DedupeCalls drops calls whose fingerprint was already seen, keeping first occurrences in order.
func DedupeCalls(calls []FunctionCall) []FunctionCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]bool, len(calls))
	out := make([]FunctionCall, 0, len(calls))
	for _, call := range calls {
		id := call.Fingerprint()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, call)
	}
	return out
}

// Summary renders a short "name(args)" label for status lines.
func (c FunctionCall) Summary() string {
	args := MarshalArgs(c.Args)
	if len(args) > 60 {
		args = args[:57] + "..."
	}
	return c.Name + " " + args
}
