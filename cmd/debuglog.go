package cmd

import (
	"fmt"
	"os"

	"github.com/samsaffron/term-relay/internal/debuglog"
	"github.com/samsaffron/term-relay/internal/ui"
	"github.com/spf13/cobra"
)

var debugLogCmd = &cobra.Command{
	Use:   "debug-log",
	Short: "Inspect relay request traces",
	Long: `Inspect the JSONL traces written when debug_log is enabled.

Examples:
  term-relay config set debug_log true
  term-relay debug-log                  # list traces
  term-relay debug-log show 1           # most recent trace
  term-relay debug-log show 1 --messages --events`,
	RunE: runDebugLogList,
}

var debugLogShowCmd = &cobra.Command{
	Use:   "show <number|session-id>",
	Short: "Show one trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runDebugLogShow,
}

var debugLogFormat debuglog.FormatOptions

func init() {
	debugLogShowCmd.Flags().BoolVar(&debugLogFormat.ShowMessages, "messages", false, "Print outbound messages")
	debugLogShowCmd.Flags().BoolVar(&debugLogFormat.ShowEvents, "events", false, "Print every stream event")
	debugLogCmd.AddCommand(debugLogShowCmd)
	rootCmd.AddCommand(debugLogCmd)
}

func traceDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return traceDirFor(cfg)
}

func runDebugLogList(cmd *cobra.Command, args []string) error {
	dir, err := traceDir()
	if err != nil {
		return err
	}
	sessions, err := debuglog.ListSessions(dir)
	if err != nil {
		return fmt.Errorf("failed to list traces: %w", err)
	}
	debuglog.FormatSessionList(os.Stdout, ui.DefaultStyles(), sessions)
	return nil
}

func runDebugLogShow(cmd *cobra.Command, args []string) error {
	dir, err := traceDir()
	if err != nil {
		return err
	}
	summary, err := debuglog.ResolveSession(dir, args[0])
	if err != nil {
		return err
	}
	sess, err := debuglog.ParseSession(summary.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}
	debuglog.FormatSession(os.Stdout, ui.DefaultStyles(), sess, debugLogFormat)
	return nil
}
