package ui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
)

// rendererCache holds glamour renderers keyed by width.
var rendererCache sync.Map // map[int]*glamour.TermRenderer

// GlamourStyle returns the dark glamour style recolored with the current theme.
func GlamourStyle() ansi.StyleConfig {
	return glamourStyleFromTheme(currentTheme)
}

func glamourStyleFromTheme(theme *Theme) ansi.StyleConfig {
	style := styles.DarkStyleConfig

	text := string(theme.Text)
	primary := string(theme.Primary)
	secondary := string(theme.Secondary)
	warning := string(theme.Warning)

	margin := uint(0)
	style.Document.Color = &text
	style.Document.Margin = &margin
	style.Document.BlockPrefix = ""
	style.Document.BlockSuffix = ""
	style.CodeBlock.Margin = &margin
	style.Heading.Color = &secondary
	style.H1.Color = &primary
	style.H1.BackgroundColor = nil
	style.Link.Color = &secondary
	style.Code.Color = &warning
	style.Code.BackgroundColor = nil
	return style
}

func getRenderer(width int) (*glamour.TermRenderer, error) {
	if cached, ok := rendererCache.Load(width); ok {
		return cached.(*glamour.TermRenderer), nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}

	// Race-safe: a concurrent Store just replaces an equivalent renderer
	rendererCache.Store(width, renderer)
	return renderer, nil
}

// RenderMarkdown renders markdown content with glamour.
// On error, returns the original content unchanged.
func RenderMarkdown(content string, width int) string {
	if content == "" {
		return ""
	}

	renderer, err := getRenderer(width)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}
