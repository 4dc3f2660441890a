package debuglog

import (
	"fmt"
	"io"
	"strings"

	"github.com/samsaffron/term-relay/internal/ui"
)

// FormatOptions controls how much of a session is printed.
type FormatOptions struct {
	ShowMessages bool // print the outbound messages of each attempt
	ShowEvents   bool // print every stream event instead of a count
}

// FormatSessionList prints one line per trace.
func FormatSessionList(w io.Writer, styles *ui.Styles, sessions []SessionSummary) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No debug sessions found.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Enable debug logging with: term-relay config set debug_log true")
		return
	}

	for i, s := range sessions {
		errMark := " "
		if s.HasErrors() {
			errMark = styles.Error.Render("!")
		}
		providerModel := s.Provider
		if s.Model != "" {
			providerModel = s.Provider + " / " + s.Model
		}
		fmt.Fprintf(w, "%s%2d. %s  %-23s  %-36s  %d req  %d tools\n",
			errMark,
			i+1,
			styles.Muted.Render(s.StartTime.Local().Format("Jan 02 15:04")),
			s.ID,
			ui.Truncate(providerModel, 36),
			s.Requests,
			s.ToolCalls,
		)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, styles.Muted.Render("Use `term-relay debug-log show 1` to view a session"))
}

// FormatSession prints a session request by request.
func FormatSession(w io.Writer, styles *ui.Styles, sess *Session, opts FormatOptions) {
	fmt.Fprintf(w, "%s %s\n", styles.Muted.Render("session"), styles.SessionID.Render(sess.ID))
	fmt.Fprintf(w, "%s %s\n\n", styles.Muted.Render("started"), sess.StartTime.Local().Format("2006-01-02 15:04:05"))

	for i, req := range sess.Requests {
		fmt.Fprintf(w, "%s %s\n", styles.Bold.Render(fmt.Sprintf("#%d", i+1)), styles.Muted.Render(req.ID))
		for _, a := range req.Attempts {
			fmt.Fprintf(w, "  attempt %d  %s / %s  %d messages\n", a.Number, a.Provider, a.Model, len(a.Messages))
			if opts.ShowMessages {
				for _, m := range a.Messages {
					formatMessage(w, styles, m)
				}
			}
		}

		if opts.ShowEvents {
			for _, ev := range req.Events {
				fmt.Fprintf(w, "  %s %s\n", styles.Tool.Render(ev.Type), ui.Truncate(string(ev.Data), 160))
			}
		} else if len(req.Events) > 0 {
			fmt.Fprintf(w, "  %s\n", styles.Muted.Render(eventCounts(req.Events)))
		}

		if req.Error != nil {
			fmt.Fprintf(w, "  %s\n", styles.Error.Render(ui.FailIcon+" "+req.Error.Message))
		}
		fmt.Fprintln(w)
	}
}

func formatMessage(w io.Writer, styles *ui.Styles, m Message) {
	content := strings.ReplaceAll(m.Content, "\n", " ")
	line := fmt.Sprintf("    %-9s %s", m.Role, ui.Truncate(content, 100))
	if m.Hidden {
		line = styles.Muted.Render(line)
	}
	fmt.Fprintln(w, line)
	for _, id := range m.ToolCalls {
		fmt.Fprintf(w, "              %s\n", styles.Tool.Render(ui.ToolIcon+" "+id))
	}
}

// eventCounts renders "3 content, 1 final, 1 done" in first-seen order.
func eventCounts(events []Event) string {
	counts := make(map[string]int)
	var order []string
	for _, ev := range events {
		if counts[ev.Type] == 0 {
			order = append(order, ev.Type)
		}
		counts[ev.Type]++
	}
	parts := make([]string, 0, len(order))
	for _, t := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[t], t))
	}
	return strings.Join(parts, ", ")
}
