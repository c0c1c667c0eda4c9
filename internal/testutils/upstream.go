package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/alexhamidi/anyheart/pkg/ports"
)

// EchoInterpreter answers every instruction with edits equal to the
// instruction, or with Err when set.
type EchoInterpreter struct {
	mu    sync.Mutex
	Err   error
	calls int
}

func (e *EchoInterpreter) Interpret(_ context.Context, req ports.InterpretRequest) (ports.Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.Err != nil {
		return ports.Decision{}, e.Err
	}
	return ports.Decision{Message: "done: " + req.Instruction, Edits: req.Instruction}, nil
}

// Fail sets the error returned by later calls.
func (e *EchoInterpreter) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}

func (e *EchoInterpreter) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// BodyMerger appends the edits as a paragraph at the end of the body.
type BodyMerger struct{}

func (BodyMerger) Merge(_ context.Context, markup, edits string) (string, error) {
	return strings.Replace(markup, "</body>", "<p>"+edits+"</p></body>", 1), nil
}
