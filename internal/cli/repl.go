package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/share"
)

// Editor is the part of the orchestrator the prompt drives.
type Editor interface {
	Submit(ctx context.Context, instruction string) (*domain.RoundResult, error)
	Reset(ctx context.Context) error
	RestoreSnapshot(ctx context.Context) (bool, error)
	Share(ctx context.Context, title, description string, expiresInDays *int) (*domain.ShareResult, error)
	ApplyShared(ctx context.Context, shareID string) (*domain.ShareRecord, error)
	SessionID(ctx context.Context) (string, error)
}

// Console is where the prompt writes.
type Console interface {
	Status(message string)
	Error(message string)
	Success(message string)
	Message(markdown string)
}

const helpText = `Type an instruction to edit the page. Commands:
  /reset           forget this page's conversation and cached copy
  /restore         put the cached copy of this page back
  /share [title]   publish the page and print its link
  /apply <id|url>  apply a shared edit to this page
  /session         show the current session id
  /quit            leave`

// REPL reads instructions and commands line by line.
type REPL struct {
	editor  Editor
	console Console
	prompt  io.Writer
	logger  *slog.Logger
}

// NewREPL creates a prompt over editor. prompt receives the "> " marker and may be nil.
func NewREPL(editor Editor, console Console, prompt io.Writer, logger *slog.Logger) *REPL {
	if logger == nil {
		logger = logging.NewNop()
	}
	if prompt == nil {
		prompt = io.Discard
	}
	return &REPL{editor: editor, console: console, prompt: prompt, logger: logger}
}

// Run reads in until it is exhausted, /quit is entered or ctx is done.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(r.prompt, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.prompt)
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := r.Handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// Handle runs one input line and reports whether the user asked to quit.
func (r *REPL) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.submit(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.console.Message("```\n" + helpText + "\n```")
	case "/reset":
		if err := r.editor.Reset(ctx); err != nil {
			r.console.Error(domain.StatusMessage(err))
		}
	case "/restore":
		r.restore(ctx)
	case "/share":
		r.share(ctx, arg)
	case "/apply":
		r.apply(ctx, arg)
	case "/session":
		id, err := r.editor.SessionID(ctx)
		switch {
		case err != nil:
			r.console.Error(domain.StatusMessage(err))
		case id == "":
			r.console.Status("no active session on this page")
		default:
			r.console.Status("session " + id)
		}
	default:
		r.console.Error("unknown command " + cmd + ", try /help")
	}
	return false
}

// submit sends an instruction. Failures are already reported through the
// orchestrator's status sink.
func (r *REPL) submit(ctx context.Context, instruction string) {
	res, err := r.editor.Submit(ctx, instruction)
	if err != nil {
		r.logger.Debug("Instruction failed", "err", err)
		return
	}
	if res.Message != "" {
		r.console.Message(res.Message)
	}
	if res.UpdatedHTML == nil {
		r.console.Status("no change to the page")
	}
}

func (r *REPL) restore(ctx context.Context) {
	ok, err := r.editor.RestoreSnapshot(ctx)
	switch {
	case err != nil:
		r.logger.Debug("Restore failed", "err", err)
	case ok:
		r.console.Success("restored the cached copy of this page")
	default:
		r.console.Status("nothing cached for this page")
	}
}

func (r *REPL) share(ctx context.Context, title string) {
	res, err := r.editor.Share(ctx, title, "", nil)
	if err != nil {
		r.logger.Debug("Share failed", "err", err)
		return
	}
	r.console.Success("shared: " + res.ShareableURL)
}

// apply accepts a bare share id or a link carrying one.
func (r *REPL) apply(ctx context.Context, arg string) {
	if arg == "" {
		r.console.Error("usage: /apply <share id or link>")
		return
	}
	id := arg
	if strings.Contains(arg, "://") {
		var ok bool
		if id, ok = share.IDFromLink(arg); !ok {
			r.console.Error("that link carries no share id")
			return
		}
	}
	rec, err := r.editor.ApplyShared(ctx, id)
	if err != nil {
		r.logger.Debug("Apply failed", "share_id", id, "err", err)
		return
	}
	title := rec.Title
	if title == "" {
		title = rec.ID
	}
	r.console.Success("applied shared edit " + title)
}
