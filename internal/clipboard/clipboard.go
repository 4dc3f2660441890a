// Package clipboard moves text between the conversation and the system clipboard
// through the platform's command line utilities.
package clipboard

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// utility is one clipboard program invocation.
type utility struct {
	name string
	args []string
}

// copyUtilities returns the candidates for writing, in preference order.
func copyUtilities(goos string) []utility {
	switch goos {
	case "darwin":
		return []utility{{name: "pbcopy"}}
	case "linux", "freebsd", "openbsd":
		return []utility{
			{name: "wl-copy"},
			{name: "xclip", args: []string{"-selection", "clipboard"}},
			{name: "xsel", args: []string{"--clipboard", "--input"}},
		}
	default:
		return nil
	}
}

// pasteUtilities returns the candidates for reading, in preference order.
func pasteUtilities(goos string) []utility {
	switch goos {
	case "darwin":
		return []utility{{name: "pbpaste"}}
	case "linux", "freebsd", "openbsd":
		return []utility{
			{name: "wl-paste", args: []string{"--no-newline"}},
			{name: "xclip", args: []string{"-selection", "clipboard", "-o"}},
			{name: "xsel", args: []string{"--clipboard", "--output"}},
		}
	default:
		return nil
	}
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

func firstAvailable(candidates []utility) (utility, error) {
	if len(candidates) == 0 {
		return utility{}, fmt.Errorf("clipboard not supported on %s", runtime.GOOS)
	}
	names := make([]string, 0, len(candidates))
	for _, u := range candidates {
		if _, err := lookPath(u.name); err == nil {
			return u, nil
		}
		names = append(names, u.name)
	}
	return utility{}, fmt.Errorf("no clipboard utility found (install %s)", strings.Join(names, " or "))
}

// CopyText copies text to the system clipboard.
func CopyText(text string) error {
	u, err := firstAvailable(copyUtilities(runtime.GOOS))
	if err != nil {
		return err
	}
	cmd := exec.Command(u.name, u.args...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", u.name, err)
	}
	return nil
}

// ReadText reads text content from the system clipboard.
func ReadText() (string, error) {
	u, err := firstAvailable(pasteUtilities(runtime.GOOS))
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	cmd := exec.Command(u.name, u.args...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to read clipboard: %w", err)
	}
	return out.String(), nil
}
