package tui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Profile returns the color profile for f, plain ASCII when f is not a terminal.
func Profile(f *os.File) termenv.Profile {
	if !term.IsTerminal(int(f.Fd())) {
		return termenv.Ascii
	}
	return termenv.NewOutput(f).EnvColorProfile()
}

// Console prints status lines and assistant messages. It implements the
// orchestrator's status sink.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	profile termenv.Profile
	render  func(string) string
}

// NewConsole writes to w. render may be nil for plain output.
func NewConsole(w io.Writer, profile termenv.Profile, render func(string) string) *Console {
	if render == nil {
		render = func(s string) string { return s + "\n" }
	}
	return &Console{w: w, profile: profile, render: render}
}

// Status prints a dimmed status line.
func (c *Console) Status(message string) {
	c.line("#94a3b8", "• "+message)
}

// Error prints an error line.
func (c *Console) Error(message string) {
	c.line("#f87171", "✗ "+message)
}

// Success prints a success line.
func (c *Console) Success(message string) {
	c.line("#4ade80", "✓ "+message)
}

// Message renders an assistant message.
func (c *Console) Message(markdown string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.w, c.render(markdown))
}

// Banner prints the banner in the console's profile.
func (c *Console) Banner() {
	c.mu.Lock()
	defer c.mu.Unlock()
	PrintBanner(c.w, c.profile)
}

func (c *Console) line(color, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, termenv.String(text).Foreground(c.profile.Color(color)))
}
