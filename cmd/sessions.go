package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/samsaffron/term-relay/internal/session"
	"github.com/samsaffron/term-relay/internal/ui"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
	Long: `List, search, show and delete saved chat sessions.

Examples:
  term-relay sessions                       # List recent sessions
  term-relay sessions list --filter auth    # Fuzzy filter by title
  term-relay sessions search "kubernetes"
  term-relay sessions show <id>
  term-relay sessions delete <id>`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search message content",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsSearch,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

// Flags
var (
	sessionsLimit  int
	sessionsFilter string
	sessionsJSON   bool
)

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to list")
	sessionsListCmd.Flags().StringVar(&sessionsFilter, "filter", "", "Fuzzy filter on session title")
	sessionsSearchCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of results")
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsSearchCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// sessionTitles implements fuzzy.Source over session titles.
type sessionTitles []session.Session

func (s sessionTitles) String(i int) string { return s[i].Title() }
func (s sessionTitles) Len() int            { return len(s) }

// filterSessions keeps sessions whose title fuzzily matches query, best match first.
func filterSessions(sessions []session.Session, query string) []session.Session {
	if query == "" {
		return sessions
	}
	matches := fuzzy.FindFrom(query, sessionTitles(sessions))
	out := make([]session.Session, 0, len(matches))
	for _, m := range matches {
		out = append(out, sessions[m.Index])
	}
	return out
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions = filterSessions(sessions, sessionsFilter)
	if sessionsLimit > 0 && len(sessions) > sessionsLimit {
		sessions = sessions[:sessionsLimit]
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-23s %5s  %-30s %s\n", "ID", "MSGS", "DIRECTORY", "TITLE")
	fmt.Println(strings.Repeat("-", 100))
	for _, s := range sessions {
		fmt.Printf("%-23s %5d  %-30s %s\n", s.ID, s.VisibleCount(), ui.Truncate(s.Directory, 30), s.Title())
	}
	return nil
}

func runSessionsSearch(cmd *cobra.Command, args []string) error {
	store, err := requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(context.Background(), query, sessionsLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Printf("No matches for %q.\n", query)
		return nil
	}
	for _, r := range results {
		fmt.Printf("%s  [%s]  %s\n", r.SessionID, r.Role, strings.ReplaceAll(r.Snippet, "\n", " "))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Load(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", args[0])
	}

	if sessionsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	}

	styles := ui.DefaultStyles()
	renderer := ui.NewRenderer(styles, ui.TerminalWidth(), ui.IsTerminal(os.Stdout))
	fmt.Printf("%s %s\n", styles.Muted.Render("session"), styles.SessionID.Render(sess.ID))
	if sess.Directory != "" {
		fmt.Printf("%s %s\n", styles.Muted.Render("directory"), sess.Directory)
	}
	fmt.Println()
	fmt.Println(renderer.RenderLog(sess.Messages))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Deleted session %s\n", args[0])
	return nil
}
