package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/samsaffron/term-relay/internal/chat"
	"github.com/samsaffron/term-relay/internal/llm"
)

func newTestLiveView() (*LiveView, *bytes.Buffer) {
	var out bytes.Buffer
	styles := NewStyles(&bytes.Buffer{})
	return NewLiveView(&out, NewRenderer(styles, 80, false), styles, 0), &out
}

func TestLiveViewStreamsDeltas(t *testing.T) {
	v, out := newTestLiveView()
	user := llm.UserText("hi")

	v.Update(chat.State{Messages: []llm.Message{user}, Processing: true})
	v.Update(chat.State{Messages: []llm.Message{user}, Content: "Hel", Processing: true})
	v.Update(chat.State{Messages: []llm.Message{user}, Content: "Hello", Processing: true})
	v.Update(chat.State{Messages: []llm.Message{user, llm.AssistantText("Hello", nil)}})

	if got := out.String(); got != "Hello\n" {
		t.Errorf("output = %q, want %q", got, "Hello\n")
	}
}

func TestLiveViewRendersUnstreamedMessages(t *testing.T) {
	v, out := newTestLiveView()
	user := llm.UserText("hi")

	v.Update(chat.State{Messages: []llm.Message{user, llm.SystemError("Rate limit exceeded: slow down")}})

	if got := out.String(); got != "Rate limit exceeded: slow down\n" {
		t.Errorf("output = %q", got)
	}
}

func TestLiveViewToolCalls(t *testing.T) {
	v, out := newTestLiveView()
	call := llm.FunctionCall{Name: "shell", Args: map[string]any{"command": "ls"}}
	user := llm.UserText("list files")
	assistant := llm.AssistantText("Listing", &llm.MessageMetadata{ToolCalls: []llm.FunctionCall{call}})

	v.Update(chat.State{Messages: []llm.Message{user}, Content: "Listing"})
	v.Update(chat.State{Messages: []llm.Message{user, assistant}})
	v.Update(chat.State{Messages: []llm.Message{user, assistant}, RunningTool: &call, Processing: true})
	v.Update(chat.State{Messages: []llm.Message{user, assistant}, RunningTool: &call, Processing: true})

	got := out.String()
	if !strings.Contains(got, ToolIcon+` shell {"command":"ls"}`) {
		t.Errorf("tool call not shown: %q", got)
	}
	if strings.Count(got, "running shell") != 1 {
		t.Errorf("running line printed %d times: %q", strings.Count(got, "running shell"), got)
	}
}

func TestLiveViewThinkingNotRepeated(t *testing.T) {
	v, out := newTestLiveView()
	user := llm.UserText("why")
	assistant := llm.AssistantText("", &llm.MessageMetadata{ThinkingContent: "pondering"})

	v.Update(chat.State{Messages: []llm.Message{user}, Thinking: "ponder"})
	v.Update(chat.State{Messages: []llm.Message{user}, Thinking: "pondering"})
	v.Update(chat.State{Messages: []llm.Message{user, assistant}})

	if got := out.String(); strings.Count(got, "pondering") != 1 {
		t.Errorf("thinking repeated: %q", got)
	}
}

func TestLiveViewDropsStaleSnapshots(t *testing.T) {
	v, out := newTestLiveView()
	user := llm.UserText("hi")
	older := chat.State{Version: 1, Messages: []llm.Message{user}, Processing: true}
	newer := chat.State{Version: 2, Messages: []llm.Message{user, llm.SystemError("Rate limit exceeded: slow down")}}

	v.Update(newer)
	v.Update(older)
	v.Update(newer)

	if got := out.String(); got != "Rate limit exceeded: slow down\n" {
		t.Errorf("output = %q, want the error printed once", got)
	}
}
