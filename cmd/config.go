package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/samsaffron/term-relay/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage term-relay configuration",
	Long: `View or edit your term-relay configuration.

Examples:
  term-relay config                                  # show current config
  term-relay config set auth.access_token <token>
  term-relay config set accept_all_tool_calls false
  term-relay config get model
  term-relay config edit                             # edit in $EDITOR`,
	RunE: configShow, // Default to show
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	RunE:  configPath,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a value from the config file",
	Args:  cobra.ExactArgs(1),
	RunE:  configGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the config file, keeping comments",
	Args:  cobra.ExactArgs(2),
	RunE:  configSet,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file in $EDITOR",
	RunE:  configEdit,
}

func init() {
	configCmd.AddCommand(configPathCmd, configGetCmd, configSetCmd, configEditCmd)
	rootCmd.AddCommand(configCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if config.Exists() {
		fmt.Printf("# %s\n\n", configPath)
	} else {
		fmt.Printf("# No config file (using defaults)\n")
		fmt.Printf("# Create one at: %s\n\n", configPath)
	}

	fmt.Printf("endpoint: %s\n", cfg.Endpoint)
	fmt.Printf("plan: %s\n", cfg.Plan)
	fmt.Printf("sdk: %s\n", cfg.SDK)
	fmt.Printf("provider: %s\n", cfg.Provider)
	fmt.Printf("model: %s\n", cfg.Model)
	if cfg.BaseURL != "" {
		fmt.Printf("base_url: %s\n", cfg.BaseURL)
	}
	if cfg.Temperature != nil {
		fmt.Printf("temperature: %g\n", *cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		fmt.Printf("max_tokens: %d\n", cfg.MaxTokens)
	}
	fmt.Printf("accept_all_tool_calls: %t\n", cfg.AcceptAllToolCalls())
	fmt.Printf("debug_log: %t\n", cfg.DebugLog)

	fmt.Printf("\nauth:\n")
	fmt.Printf("  access_token: %s\n", maskSecret(cfg.AccessToken()))
	fmt.Printf("  refresh_token: %s\n", maskSecret(cfg.RefreshToken()))
	if cfg.Auth.TokenURL != "" {
		fmt.Printf("  token_url: %s\n", cfg.Auth.TokenURL)
	}

	fmt.Printf("\nsessions:\n")
	fmt.Printf("  enabled: %t\n", cfg.Sessions.Enabled)
	fmt.Printf("  backend: %s\n", cfg.Sessions.Backend)
	if cfg.Sessions.Dir != "" {
		fmt.Printf("  dir: %s\n", cfg.Sessions.Dir)
	}

	fmt.Printf("\ntools:\n")
	if cfg.Tools.Workspace != "" {
		fmt.Printf("  workspace: %s\n", cfg.Tools.Workspace)
	}
	if len(cfg.Tools.ShellDeny) > 0 {
		fmt.Printf("  shell_deny: [%s]\n", strings.Join(cfg.Tools.ShellDeny, ", "))
	}
	return nil
}

// maskSecret shows only enough of a token to tell tokens apart.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "..." + s[len(s)-4:]
	}
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func configGet(cmd *cobra.Command, args []string) error {
	value, err := config.GetValue(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func configSet(cmd *cobra.Command, args []string) error {
	if err := config.SetValue(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s updated\n", args[0])
	return nil
}

func configEdit(cmd *cobra.Command, args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if !config.Exists() {
		if err := os.WriteFile(configPath, []byte(defaultConfigContent), 0600); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	return editorCmd.Run()
}

const defaultConfigContent = `# term-relay configuration

endpoint: http://localhost:8080
plan: free
sdk: anthropic
provider: anthropic
model: claude-sonnet-4-5

auth:
  access_token: ""
  refresh_token: ""

# Ask before every tool call unless true
accept_all_tool_calls: false

sessions:
  enabled: true
  backend: json   # json or sqlite

tools:
  # workspace: ~/src/project
  shell_deny:
    - "rm -rf /*"

# Per-provider keys forwarded to the relay; $VAR references are expanded
# api_keys:
#   openai: $OPENAI_API_KEY
`
