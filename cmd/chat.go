package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/samsaffron/term-relay/internal/chat"
	"github.com/samsaffron/term-relay/internal/clipboard"
	"github.com/samsaffron/term-relay/internal/config"
	"github.com/samsaffron/term-relay/internal/credentials"
	"github.com/samsaffron/term-relay/internal/llm"
	"github.com/samsaffron/term-relay/internal/session"
	"github.com/samsaffron/term-relay/internal/signal"
	"github.com/samsaffron/term-relay/internal/tools"
	"github.com/samsaffron/term-relay/internal/ui"
	"github.com/spf13/cobra"
)

var (
	chatSession    string
	chatAttach     []string
	chatYolo       bool
	chatProvider   string
	chatModel      string
	chatNoMarkdown bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. Tool calls requested by the model are
shown for confirmation before they run.

Commands inside the conversation:
  /new      start a new session, keeping the conversation on screen
  /clear    clear the conversation and start a new session
  /history  reprint the conversation
  /tools    show recent tool calls
  /copy     copy the last reply to the clipboard
  /paste    send the clipboard contents as a message
  /quit     exit

Examples:
  term-relay chat
  term-relay chat "explain this repo" -a README.md
  term-relay chat --session 20260101-120000-ab12cd
  term-relay chat -p openai:gpt-4o`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Resume a saved session by id")
	chatCmd.Flags().StringArrayVarP(&chatAttach, "attach", "a", nil, "Attach a file path to the first message (repeatable)")
	chatCmd.Flags().BoolVar(&chatYolo, "yolo", false, "Run every tool call without confirmation for this run")
	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "Override provider, optionally with model (e.g., openai:gpt-4o)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Override model")
	chatCmd.Flags().BoolVar(&chatNoMarkdown, "no-markdown", false, "Print assistant replies without markdown rendering")
	rootCmd.AddCommand(chatCmd)
}

// yoloSettings accepts every tool call without touching the saved preference.
type yoloSettings struct {
	*config.Config
}

func (yoloSettings) AcceptAllToolCalls() bool { return true }

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(chatProvider, chatModel)

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	toolCfg := tools.ToolConfig{Workspace: cfg.Tools.Workspace, ShellDeny: cfg.Tools.ShellDeny}
	if errs := toolCfg.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	executor, err := tools.NewExecutor(toolCfg)
	if err != nil {
		return err
	}

	store := openStore(cfg)
	defer store.Close()

	var settings chat.Settings = cfg
	if chatYolo {
		settings = yoloSettings{cfg}
	}

	opts := []llm.ClientOption{
		llm.WithLogger(slog.Default()),
		llm.WithUserAgent("term-relay/" + Version),
	}
	if cfg.Auth.TokenURL != "" {
		opts = append(opts, llm.WithRefresher(credentials.NewRefresher(cfg.Auth.TokenURL, cfg.Auth.ClientID)))
	}

	styles := ui.DefaultStyles()
	renderer := ui.NewRenderer(styles, ui.TerminalWidth(), !chatNoMarkdown && ui.IsTerminal(os.Stdout))
	view := ui.NewLiveView(os.Stdout, renderer, styles, 0)

	sessionID := chatSession
	if sessionID == "" {
		sessionID = session.NewID()
	}
	if cfg.DebugLog {
		if dl, err := openDebugLogger(cfg, sessionID); err != nil {
			slog.Warn("debug log unavailable", "error", err)
		} else {
			defer dl.Close()
			opts = append(opts, llm.WithDebugLogger(dl))
		}
	}

	// The view starts after a resumed log has been printed.
	var live atomic.Bool
	conv := chat.New(chat.Options{
		Client:    llm.NewStreamClient(cfg.Endpoint, cfg, opts...),
		Executor:  executor,
		Store:     store,
		Settings:  settings,
		Directory: cwd,
		SessionID: sessionID,
		Logger:    slog.Default(),
		OnChange: func(s chat.State) {
			if live.Load() {
				view.Update(s)
			}
		},
	})
	defer conv.Close()

	if chatSession != "" {
		if err := conv.LoadSession(ctx, chatSession); err != nil {
			return err
		}
	}
	state := conv.State()
	view.Skip(len(state.Messages))
	live.Store(true)

	fmt.Fprintf(os.Stderr, "%s %s\n", styles.Muted.Render("session"), styles.SessionID.Render(state.SessionID))
	if len(state.Messages) > 0 {
		fmt.Println(renderer.RenderLog(state.Messages))
		fmt.Println()
	}

	r := &repl{
		conv:     conv,
		executor: executor,
		renderer: renderer,
		styles:   styles,
		in:       bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		tty:      ui.IsTerminal(os.Stdin),
	}

	interrupts, stopInterrupts := signal.Interrupts()
	defer stopInterrupts()

	attachments := chatAttach
	if len(args) > 0 {
		if err := r.submit(ctx, interrupts, strings.Join(args, " "), attachments); err != nil {
			return err
		}
		attachments = nil
		if !r.tty {
			return nil
		}
	}
	return r.loop(ctx, interrupts, attachments)
}

// repl reads lines and drives the conversation until /quit or EOF.
type repl struct {
	conv     *chat.Conversation
	executor *tools.Executor
	renderer *ui.Renderer
	styles   *ui.Styles
	in       *bufio.Reader
	out      io.Writer
	tty      bool
}

func (r *repl) loop(ctx context.Context, interrupts <-chan os.Signal, attachments []string) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	next := func() {
		go func() {
			line, err := r.in.ReadString('\n')
			if err != nil && line == "" {
				readErr <- err
				return
			}
			lines <- line
		}()
	}

	for {
		if r.tty {
			fmt.Fprint(r.out, r.styles.Bold.Render("> "))
		}
		next()

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(r.out)
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == chat.CommandSigil+"paste" {
			text, err := clipboard.ReadText()
			if err != nil {
				fmt.Fprintln(r.out, r.styles.Error.Render(err.Error()))
				continue
			}
			line = strings.TrimSpace(text)
			if line == "" {
				continue
			}
		} else if strings.HasPrefix(line, chat.CommandSigil) {
			if quit := r.command(line); quit {
				return nil
			}
			continue
		}
		if err := r.submit(ctx, interrupts, line, attachments); err != nil {
			return err
		}
		attachments = nil
	}
}

// command handles a slash command and reports whether the loop should stop.
func (r *repl) command(line string) bool {
	name, _, _ := strings.Cut(strings.TrimPrefix(line, chat.CommandSigil), " ")
	switch name {
	case "quit", "exit", "q":
		return true
	case "new":
		id := r.conv.StartNewSession()
		fmt.Fprintf(r.out, "%s %s\n", r.styles.Muted.Render("new session"), r.styles.SessionID.Render(id))
	case "clear":
		id := r.conv.Reset()
		fmt.Fprintf(r.out, "%s %s\n", r.styles.Muted.Render("cleared, session"), r.styles.SessionID.Render(id))
	case "history":
		fmt.Fprintln(r.out, r.renderer.RenderLog(r.conv.State().Messages))
	case "tools":
		entries := r.conv.State().ToolHistory
		if len(entries) == 0 {
			fmt.Fprintln(r.out, r.styles.Muted.Render("no tool calls yet"))
			break
		}
		fmt.Fprint(r.out, r.renderer.RenderToolStatus(entries))
	case "copy":
		text, ok := lastAssistantText(r.conv.State().Messages)
		if !ok {
			fmt.Fprintln(r.out, r.styles.Muted.Render("nothing to copy yet"))
			break
		}
		if err := clipboard.CopyText(text); err != nil {
			fmt.Fprintln(r.out, r.styles.Error.Render(err.Error()))
			break
		}
		fmt.Fprintln(r.out, r.styles.FormatResult(true, "copied last reply"))
	case "help":
		fmt.Fprintln(r.out, "/new /clear /history /tools /copy /paste /quit")
	default:
		fmt.Fprintln(r.out, r.styles.Error.Render("unknown command: "+line))
	}
	return false
}

// lastAssistantText returns the most recent visible assistant reply.
func lastAssistantText(messages []llm.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == llm.RoleAssistant && !m.IgnoreInDisplay && strings.TrimSpace(m.Content) != "" {
			return m.Content, true
		}
	}
	return "", false
}

// submit sends text and blocks until the turn settles, confirming tool calls on the way.
func (r *repl) submit(ctx context.Context, interrupts <-chan os.Signal, text string, attachments []string) error {
	if err := r.conv.SubmitUserMessage(text, attachments); err != nil {
		if errors.Is(err, chat.ErrCommand) {
			fmt.Fprintln(r.out, r.styles.Error.Render("unknown command: "+text))
			return nil
		}
		return err
	}
	for {
		if !r.wait(ctx, interrupts) {
			return nil
		}
		pending := r.conv.State().Pending
		if pending == nil {
			return nil
		}
		decision, err := r.confirm(ctx, pending.Call)
		if err != nil {
			slog.Debug("confirmation failed", "error", err)
		}
		if err := r.conv.ConfirmPending(decision); err != nil && !errors.Is(err, chat.ErrNoPendingToolCall) {
			return err
		}
	}
}

// wait blocks until the conversation is idle. It returns false when the turn was interrupted.
func (r *repl) wait(ctx context.Context, interrupts <-chan os.Signal) bool {
	done := make(chan struct{})
	go func() {
		r.conv.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-interrupts:
		r.conv.CancelTurn()
		<-done
		fmt.Fprintln(r.out, r.styles.Warning.Render("\ncancelled"))
		return false
	case <-ctx.Done():
		r.conv.CancelTurn()
		<-done
		return false
	}
}

func (r *repl) confirm(ctx context.Context, call llm.FunctionCall) (chat.Decision, error) {
	preview := r.executor.Preview(call)
	if r.tty {
		return ui.ConfirmToolCall(ctx, call, preview)
	}
	return ui.PromptToolCall(r.in, r.out, call, preview)
}
