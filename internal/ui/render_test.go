package ui

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/samsaffron/term-relay/internal/chat"
	"github.com/samsaffron/term-relay/internal/llm"
)

func plainRenderer() (*Renderer, *Styles) {
	styles := NewStyles(&bytes.Buffer{})
	return NewRenderer(styles, 80, false), styles
}

func TestRenderMessageHidesToolResults(t *testing.T) {
	r, _ := plainRenderer()
	call := llm.FunctionCall{Name: "read_file", Args: map[string]any{"file_path": "a.go"}}
	if got := r.RenderMessage(llm.ToolResultMessage(call, `{"content":"x"}`, "")); got != "" {
		t.Errorf("tool result rendered as %q", got)
	}
}

func TestRenderMessageRoles(t *testing.T) {
	r, _ := plainRenderer()

	if got := r.RenderMessage(llm.UserText("hello")); got != "> hello" {
		t.Errorf("user = %q", got)
	}
	if got := r.RenderMessage(llm.SystemError("Network error: reset")); got != "Network error: reset" {
		t.Errorf("system = %q", got)
	}

	assistant := llm.AssistantText("Here you go", &llm.MessageMetadata{
		ThinkingContent: "let me look",
		ToolCalls:       []llm.FunctionCall{{Name: "glob", Args: map[string]any{"pattern": "*.go"}}},
	})
	got := r.RenderMessage(assistant)
	for _, want := range []string{"let me look", "Here you go", ToolIcon + ` glob {"pattern":"*.go"}`} {
		if !strings.Contains(got, want) {
			t.Errorf("assistant render missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "let me look") > strings.Index(got, "Here you go") {
		t.Error("thinking should precede content")
	}
}

func TestRenderLogSkipsHidden(t *testing.T) {
	r, _ := plainRenderer()
	call := llm.FunctionCall{Name: "shell"}
	log := []llm.Message{
		llm.UserText("one"),
		llm.ToolResultMessage(call, "secret", ""),
		llm.AssistantText("two", nil),
	}
	got := r.RenderLog(log)
	if got != "> one\n\ntwo" {
		t.Errorf("RenderLog() = %q", got)
	}
}

func TestRenderMarkdownContent(t *testing.T) {
	styles := NewStyles(&bytes.Buffer{})
	r := NewRenderer(styles, 60, true)
	got := r.RenderContent("# Title\n\nsome **bold** text")
	if !strings.Contains(got, "Title") || !strings.Contains(got, "bold") {
		t.Errorf("markdown render = %q", got)
	}
	if strings.Contains(got, "**") {
		t.Errorf("markdown emphasis not rendered: %q", got)
	}
}

func TestRenderToolStatus(t *testing.T) {
	r, _ := plainRenderer()
	got := r.RenderToolStatus([]llm.ToolCallStatus{
		{Name: "shell", Status: llm.ToolStatusSuccess},
		{Name: "read_file", Status: llm.ToolStatusError, ErrorMessage: "rejected by user"},
		{Name: "glob", Status: llm.ToolStatusPending},
	})
	want := SuccessIcon + " shell\n" + FailIcon + " read_file: rejected by user\n" + PendingIcon + " glob\n"
	if got != want {
		t.Errorf("RenderToolStatus() = %q, want %q", got, want)
	}
}

func TestRenderToolStatusFitsWidth(t *testing.T) {
	styles := NewStyles(&bytes.Buffer{})
	r := NewRenderer(styles, 30, false)
	got := r.RenderToolStatus([]llm.ToolCallStatus{
		{Name: "shell", Status: llm.ToolStatusError, ErrorMessage: strings.Repeat("very long failure ", 10)},
	})
	line := strings.TrimSuffix(got, "\n")
	if w := ansi.StringWidth(line); w > 30 {
		t.Errorf("line width = %d, want <= 30: %q", w, line)
	}
	if !strings.HasSuffix(line, "...") {
		t.Errorf("truncated line should end with ellipsis: %q", line)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer sentence", 10, "a longe..."},
		{"héllo wörld", 8, "héllo..."},
		{"abcdef", 2, "ab"},
		{"日本語のテキスト", 7, "日本..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in      string
		want    chat.Decision
		wantErr bool
	}{
		{"y\n", chat.Accept, false},
		{"YES", chat.Accept, false},
		{"accept", chat.Accept, false},
		{"a", chat.AcceptAll, false},
		{"accept_all", chat.AcceptAll, false},
		{"n", chat.Reject, false},
		{"", chat.Reject, false},
		{"maybe", chat.Reject, true},
	}
	for _, tt := range tests {
		got, err := ParseDecision(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseDecision(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestPromptToolCall(t *testing.T) {
	var out bytes.Buffer
	call := llm.FunctionCall{Name: "shell", Args: map[string]any{"command": "ls"}}

	d, err := PromptToolCall(bufio.NewReader(strings.NewReader("a\n")), &out, call, "")
	if err != nil || d != chat.AcceptAll {
		t.Fatalf("PromptToolCall() = %v, %v", d, err)
	}
	if !strings.Contains(out.String(), `{"command":"ls"}`) {
		t.Errorf("prompt did not show arguments: %q", out.String())
	}

	d, err = PromptToolCall(bufio.NewReader(strings.NewReader("")), &out, call, "$ ls")
	if err == nil || d != chat.Reject {
		t.Errorf("PromptToolCall(EOF) = %v, %v", d, err)
	}
}
