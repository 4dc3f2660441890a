package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/samsaffron/term-relay/internal/chat"
	"github.com/samsaffron/term-relay/internal/llm"
)

// ConfirmToolCall asks whether a pending tool call may run.
// A cancelled or aborted form counts as a rejection.
func ConfirmToolCall(ctx context.Context, call llm.FunctionCall, preview string) (chat.Decision, error) {
	var choice string
	title := fmt.Sprintf("%s %s", ToolIcon, call.Name)
	if preview == "" {
		preview = llm.MarshalArgs(call.Args)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Description(preview).
				Options(
					huh.NewOption("Accept", chat.Accept.String()),
					huh.NewOption("Accept all (don't ask again)", chat.AcceptAll.String()),
					huh.NewOption("Reject", chat.Reject.String()),
				).
				Value(&choice),
		),
	).WithShowHelp(false)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return chat.Reject, nil
		}
		return chat.Reject, err
	}
	return ParseDecision(choice)
}

// PromptToolCall is the line-based fallback for non-interactive input.
// It reads one answer: y, a or n.
func PromptToolCall(in *bufio.Reader, out io.Writer, call llm.FunctionCall, preview string) (chat.Decision, error) {
	if preview == "" {
		preview = llm.MarshalArgs(call.Args)
	}
	fmt.Fprintf(out, "%s %s\n  %s\nRun it? [y]es / [a]ll / [n]o: ", ToolIcon, call.Name, preview)

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return chat.Reject, err
	}
	return ParseDecision(line)
}

// ParseDecision maps a typed or selected answer to a decision.
func ParseDecision(s string) (chat.Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "accept":
		return chat.Accept, nil
	case "a", "all", "accept_all":
		return chat.AcceptAll, nil
	case "n", "no", "reject", "":
		return chat.Reject, nil
	default:
		return chat.Reject, fmt.Errorf("unrecognized answer %q", strings.TrimSpace(s))
	}
}
