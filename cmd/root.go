package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "term-relay",
	Short: "Chat with a model through a relay, running its tool calls locally",
	Long: `term-relay streams conversations through a relay service and runs the
tool calls the model asks for on this machine, after you confirm them.

Examples:
  term-relay chat                           # start a conversation
  term-relay chat -s 20260101-120000-ab12cd # resume a session
  term-relay chat -a main.go "review this"  # attach files to the first message

  term-relay sessions                       # list saved sessions
  term-relay config                         # view configuration`,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(debug)
	},
}

var debug bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Log debug information to stderr")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging routes slog to stderr. Without --debug only warnings are shown.
func setupLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
