package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders assistant messages as
// markdown, wrapped at width. Messages that fail to render come back as is.
func NewRenderer(width int) func(string) string {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)

	return func(markdown string) string {
		if err != nil {
			return markdown
		}
		out, rerr := r.Render(markdown)
		if rerr != nil {
			return markdown
		}
		return strings.TrimRight(out, "\n") + "\n"
	}
}
