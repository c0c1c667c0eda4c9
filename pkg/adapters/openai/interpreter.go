package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/ports"
	"github.com/openai/openai-go"
)

var _ ports.Interpreter = (*Interpreter)(nil)

// Interpreter asks a chat model what to change on the page.
type Interpreter struct {
	client    openai.Client
	model     string
	models    map[string]string
	maxTokens int64
	logger    *slog.Logger
}

// InterpreterOption configures the Interpreter.
type InterpreterOption func(*Interpreter)

// WithModel sets the default model.
func WithModel(model string) InterpreterOption {
	return func(i *Interpreter) {
		if model != "" {
			i.model = model
		}
	}
}

// WithModelMap maps request model types to model names.
func WithModelMap(models map[string]string) InterpreterOption {
	return func(i *Interpreter) {
		i.models = models
	}
}

// WithMaxTokens bounds the reply length.
func WithMaxTokens(n int) InterpreterOption {
	return func(i *Interpreter) {
		if n > 0 {
			i.maxTokens = int64(n)
		}
	}
}

// WithLogger configures a logger for the Interpreter.
func WithLogger(logger *slog.Logger) InterpreterOption {
	return func(i *Interpreter) {
		i.logger = logger
	}
}

// NewInterpreter creates an Interpreter for the endpoint in cfg.
func NewInterpreter(cfg Config, opts ...InterpreterOption) *Interpreter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultInterpreterURL
	}
	i := &Interpreter{
		client:    newClient(cfg),
		model:     DefaultInterpreterModel,
		maxTokens: DefaultMaxTokens,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Interpret sends the instruction, the processed markup and the optional
// screenshot, and parses the JSON decision.
func (i *Interpreter) Interpret(ctx context.Context, req ports.InterpretRequest) (ports.Decision, error) {
	prompt := BuildPrompt(req)

	var msg openai.ChatCompletionMessageParamUnion
	if req.Screenshot != "" {
		msg = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL(req.Screenshot)}),
		})
	} else {
		msg = openai.UserMessage(prompt)
	}

	model := i.resolve(req.ModelType)
	i.logger.Debug("Interpret request", "model", model, "follow_up", req.FollowUp, "screenshot", req.Screenshot != "")

	text, err := complete(ctx, i.client, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(model),
		Messages:  []openai.ChatCompletionMessageParamUnion{msg},
		MaxTokens: openai.Int(i.maxTokens),
	})
	if err != nil {
		return ports.Decision{}, err
	}

	d, err := ParseDecision(text)
	if err != nil {
		i.logger.Warn("Unparseable interpreter reply", "model", model, "reply", truncate(text, 500))
		return ports.Decision{}, err
	}
	return d, nil
}

func (i *Interpreter) resolve(modelType string) string {
	if m, ok := i.models[modelType]; ok && m != "" {
		return m
	}
	return i.model
}

// BuildPrompt renders the interpreter prompt for req.
func BuildPrompt(req ports.InterpretRequest) string {
	var ctxLines []string
	for _, t := range req.History {
		if t.Instruction != "" {
			ctxLines = append(ctxLines, "User: "+t.Instruction)
		}
		if t.Message != "" {
			ctxLines = append(ctxLines, "Assistant: "+t.Message)
		}
	}
	if req.FollowUp {
		ctxLines = append(ctxLines, "", "IMPORTANT: This is a follow-up request. Consider the previous conversation context when making your changes.")
	}
	history := "No previous iterations."
	if len(ctxLines) > 0 {
		history = strings.Join(ctxLines, "\n")
	}

	var image string
	switch {
	case req.Screenshot != "" && !req.FollowUp:
		image = imageInitial
	case req.Screenshot != "":
		image = imageFeedback
	}

	query := fmt.Sprintf("Original request: %s\n\nContext from previous iterations:\n%s", req.Instruction, history)
	r := strings.NewReplacer("{FILE}", req.Markup, "{QUERY}", query, "{IMAGE_CONTEXT}", image)
	return r.Replace(promptTemplate)
}

func dataURL(s string) string {
	if strings.HasPrefix(s, "data:") || strings.HasPrefix(s, "http") {
		return s
	}
	return "data:image/png;base64," + s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
