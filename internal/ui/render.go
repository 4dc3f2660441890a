package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/samsaffron/term-relay/internal/llm"
)

// Renderer draws conversation messages for a terminal of a given width.
type Renderer struct {
	styles   *Styles
	width    int
	markdown bool
}

// NewRenderer creates a renderer. When markdown is false assistant text is printed as-is.
func NewRenderer(styles *Styles, width int, markdown bool) *Renderer {
	if width <= 0 {
		width = defaultWidth
	}
	return &Renderer{styles: styles, width: width, markdown: markdown}
}

// RenderMessage returns the display form of m, or "" for hidden messages.
func (r *Renderer) RenderMessage(m llm.Message) string {
	if m.IgnoreInDisplay {
		return ""
	}
	switch m.Role {
	case llm.RoleUser:
		return r.styles.User.Render("> " + m.Content)
	case llm.RoleSystem:
		return r.styles.Error.Render(m.Content)
	case llm.RoleAssistant:
		return r.renderAssistant(m)
	default:
		return m.Content
	}
}

func (r *Renderer) renderAssistant(m llm.Message) string {
	var parts []string
	if m.Metadata != nil && m.Metadata.ThinkingContent != "" {
		parts = append(parts, r.RenderThinking(m.Metadata.ThinkingContent))
	}
	if text := strings.TrimSpace(m.Content); text != "" {
		parts = append(parts, r.RenderContent(text))
	}
	if m.Metadata != nil {
		for _, call := range m.Metadata.ToolCalls {
			parts = append(parts, r.styles.Tool.Render(ToolIcon+" "+call.Summary()))
		}
	}
	return strings.Join(parts, "\n")
}

// RenderThinking styles reasoning text.
func (r *Renderer) RenderThinking(text string) string {
	return r.styles.Thinking.Render(strings.TrimSpace(text))
}

// RenderContent renders assistant text, as markdown when enabled.
func (r *Renderer) RenderContent(text string) string {
	if !r.markdown {
		return text
	}
	return RenderMarkdown(text, r.width)
}

// RenderLog renders every visible message separated by blank lines.
func (r *Renderer) RenderLog(messages []llm.Message) string {
	var parts []string
	for _, m := range messages {
		if out := r.RenderMessage(m); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n")
}

// RenderToolStatus formats the tool history, one line per entry.
func (r *Renderer) RenderToolStatus(entries []llm.ToolCallStatus) string {
	var b strings.Builder
	for _, e := range entries {
		var line strings.Builder
		switch e.Status {
		case llm.ToolStatusSuccess:
			line.WriteString(r.styles.Success.Render(SuccessIcon))
		case llm.ToolStatusError:
			line.WriteString(r.styles.Error.Render(FailIcon))
		default:
			line.WriteString(r.styles.Muted.Render(PendingIcon))
		}
		fmt.Fprintf(&line, " %s", e.Name)
		if e.ErrorMessage != "" {
			line.WriteString(r.styles.Muted.Render(": " + e.ErrorMessage))
		}
		// Styled text, so cut by visible width
		b.WriteString(ansi.Truncate(line.String(), r.width, "..."))
		b.WriteString("\n")
	}
	return b.String()
}
