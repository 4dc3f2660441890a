package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeFunctionCallShapes(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantName string
		wantID   string
		wantArgs map[string]any
		provider ProviderKind
	}{
		{
			name:     "anthropic",
			payload:  `{"id":"toolu_1","type":"tool_use","name":"read_file","input":{"file_path":"a.go"}}`,
			wantName: "read_file",
			wantID:   "toolu_1",
			wantArgs: map[string]any{"file_path": "a.go"},
			provider: ProviderAnthropic,
		},
		{
			name:     "gemini flat",
			payload:  `{"name":"shell","args":{"command":"ls"}}`,
			wantName: "shell",
			wantArgs: map[string]any{"command": "ls"},
			provider: ProviderGemini,
		},
		{
			name:     "gemini nested",
			payload:  `{"functionCall":{"name":"shell","args":{"command":"pwd"}},"thoughtSignature":"sig-1"}`,
			wantName: "shell",
			wantArgs: map[string]any{"command": "pwd"},
			provider: ProviderGemini,
		},
		{
			name:     "openai",
			payload:  `{"id":"call_9","type":"function","function":{"name":"glob","arguments":"{\"pattern\":\"**/*.go\"}"}}`,
			wantName: "glob",
			wantID:   "call_9",
			wantArgs: map[string]any{"pattern": "**/*.go"},
			provider: ProviderOpenAI,
		},
		{
			name:     "no name",
			payload:  `{"args":{"x":1}}`,
			wantName: UnknownToolName,
			wantArgs: map[string]any{"x": float64(1)},
			provider: ProviderGemini,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := DecodeFunctionCall([]byte(tt.payload))
			if err != nil {
				t.Fatalf("DecodeFunctionCall() error = %v", err)
			}
			if call.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", call.Name, tt.wantName)
			}
			if call.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", call.ID, tt.wantID)
			}
			if call.Provider != tt.provider {
				t.Errorf("Provider = %q, want %q", call.Provider, tt.provider)
			}
			if MarshalArgs(call.Args) != MarshalArgs(tt.wantArgs) {
				t.Errorf("Args = %s, want %s", MarshalArgs(call.Args), MarshalArgs(tt.wantArgs))
			}
		})
	}
}

func TestDecodeFunctionCallKeepsThoughtSignature(t *testing.T) {
	call, err := DecodeFunctionCall([]byte(`{"functionCall":{"name":"shell","args":{}},"thoughtSignature":"abc"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call.ThoughtSignature != "abc" {
		t.Fatalf("ThoughtSignature = %q, want abc", call.ThoughtSignature)
	}
}

func TestOpenAIInvalidArgumentsArePreserved(t *testing.T) {
	a, err := DecodeFunctionCall([]byte(`{"function":{"name":"shell","arguments":"not json"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := DecodeFunctionCall([]byte(`{"function":{"name":"shell","arguments":"also not json"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("distinct unparseable arguments should not collide")
	}
}

func TestFingerprintProviderIDWins(t *testing.T) {
	call := FunctionCall{ID: "toolu_abc", Name: "shell", Args: map[string]any{"command": "ls"}}
	if got := call.Fingerprint(); got != "toolu_abc" {
		t.Fatalf("Fingerprint() = %q, want toolu_abc", got)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := FunctionCall{Name: "shell", Args: map[string]any{"command": "ls", "timeout_seconds": 5}}
	b := FunctionCall{Name: "shell", Args: map[string]any{"timeout_seconds": 5, "command": "ls"}}

	idA := a.Fingerprint()
	if idA != a.Fingerprint() {
		t.Fatal("fingerprint changed between calls")
	}
	if idA != b.Fingerprint() {
		t.Fatalf("key order changed the fingerprint: %s vs %s", idA, b.Fingerprint())
	}
	if !strings.HasPrefix(idA, "tool_") || !strings.HasSuffix(idA, "_shell") {
		t.Fatalf("unexpected fingerprint format: %s", idA)
	}

	c := FunctionCall{Name: "shell", Args: map[string]any{"command": "pwd"}}
	if c.Fingerprint() == idA {
		t.Fatal("different arguments produced the same fingerprint")
	}
}

func TestFingerprintMatchesKnownHash(t *testing.T) {
	// "a_{}" hashes to 2984960 with the 31-multiplier string hash.
	call := FunctionCall{Name: "a"}
	if got := call.Fingerprint(); got != "tool_2984960_a" {
		t.Fatalf("Fingerprint() = %q, want tool_2984960_a", got)
	}
}

func TestRollingHashWrapsAndAbs(t *testing.T) {
	long := strings.Repeat("overflow", 50)
	call := FunctionCall{Name: long}
	id := call.Fingerprint()
	if strings.HasPrefix(id, "tool_-") {
		t.Fatalf("fingerprint should use the absolute hash: %s", id)
	}
}

func TestFunctionCallJSONRoundTrip(t *testing.T) {
	in := FunctionCall{ID: "call_1", Name: "write_file", Args: map[string]any{"file_path": "x"}, Provider: ProviderOpenAI, ThoughtSignature: "s"}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out FunctionCall
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != in.ID || out.Name != in.Name || out.Provider != in.Provider || out.ThoughtSignature != in.ThoughtSignature {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if out.Fingerprint() != in.Fingerprint() {
		t.Fatal("fingerprint changed across round trip")
	}
}

func TestDedupeCalls(t *testing.T) {
	calls := []FunctionCall{
		{Name: "shell", Args: map[string]any{"command": "ls"}},
		{Name: "shell", Args: map[string]any{"command": "ls"}},
		{Name: "shell", Args: map[string]any{"command": "pwd"}},
	}
	got := DedupeCalls(calls)
	if len(got) != 2 {
		t.Fatalf("expected 2 calls after dedupe, got %d", len(got))
	}
	if got[1].Args["command"] != "pwd" {
		t.Fatalf("dedupe did not preserve order: %+v", got)
	}
}
