package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samsaffron/term-relay/internal/chat"
	"github.com/samsaffron/term-relay/internal/llm"
)

// LiveView prints a conversation as it changes. Streaming text is written
// incrementally; completed messages that were not streamed are rendered whole.
type LiveView struct {
	out      io.Writer
	renderer *Renderer
	styles   *Styles

	mu              sync.Mutex
	version         uint64
	thinking        string
	content         string
	messages        int
	running         string
	midLine         bool
	streamedText    bool
	streamedThought bool
}

// NewLiveView creates a view that starts after the first skip messages of the log.
func NewLiveView(out io.Writer, renderer *Renderer, styles *Styles, skip int) *LiveView {
	return &LiveView{out: out, renderer: renderer, styles: styles, messages: skip}
}

// Skip marks the first n messages of the log as already shown.
func (v *LiveView) Skip(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = n
}

// Update is suitable as chat.Options.OnChange. Snapshots older than the
// last one seen are dropped.
func (v *LiveView) Update(s chat.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s.Version != 0 {
		if s.Version <= v.version {
			return
		}
		v.version = s.Version
	}

	if s.Thinking != "" && s.Thinking != v.thinking {
		v.writeDelta(v.thinking, s.Thinking, func(t string) string { return v.styles.Thinking.Render(t) })
		v.thinking = s.Thinking
		v.streamedThought = true
	}
	if s.Content != "" && s.Content != v.content {
		if v.thinking != "" && v.content == "" {
			v.newline()
		}
		v.writeDelta(v.content, s.Content, func(t string) string { return t })
		v.content = s.Content
		v.streamedText = true
	}

	if len(s.Messages) < v.messages {
		// log was replaced
		v.messages = len(s.Messages)
	}
	for _, m := range s.Messages[v.messages:] {
		v.printMessage(m)
	}
	v.messages = len(s.Messages)

	if s.Content == "" {
		v.content = ""
	}
	if s.Thinking == "" {
		v.thinking = ""
	}

	running := ""
	if s.RunningTool != nil {
		running = s.RunningTool.Fingerprint()
		if running != v.running {
			v.newline()
			fmt.Fprintln(v.out, v.styles.Muted.Render(PendingIcon+" running "+s.RunningTool.Summary()))
		}
	}
	v.running = running
}

func (v *LiveView) printMessage(m llm.Message) {
	switch m.Role {
	case llm.RoleUser:
		// typed by the user, or a hidden tool result
		return
	case llm.RoleAssistant:
		if v.streamedText {
			v.newline()
			v.streamedText = false
			v.streamedThought = false
			if m.Metadata != nil {
				for _, call := range m.Metadata.ToolCalls {
					fmt.Fprintln(v.out, v.styles.Tool.Render(ToolIcon+" "+call.Summary()))
				}
			}
			return
		}
		if v.streamedThought && m.Metadata != nil {
			meta := *m.Metadata
			meta.ThinkingContent = ""
			m.Metadata = &meta
		}
		v.streamedThought = false
	}
	if out := v.renderer.RenderMessage(m); out != "" {
		v.newline()
		fmt.Fprintln(v.out, out)
	}
}

func (v *LiveView) writeDelta(prev, next string, style func(string) string) {
	delta := next
	if strings.HasPrefix(next, prev) {
		delta = next[len(prev):]
	} else if prev != "" {
		v.newline()
	}
	if delta == "" {
		return
	}
	fmt.Fprint(v.out, style(delta))
	v.midLine = !strings.HasSuffix(delta, "\n")
}

func (v *LiveView) newline() {
	if v.midLine {
		fmt.Fprintln(v.out)
		v.midLine = false
	}
}
