package openai

import (
	"context"
	"log/slog"
	"time"

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/ports"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var _ ports.Merger = (*Merger)(nil)

// Merger applies edit snippets with a fast-apply model.
type Merger struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// MergerOption configures the Merger.
type MergerOption func(*Merger)

// WithMergerModel overrides the apply model.
func WithMergerModel(model string) MergerOption {
	return func(m *Merger) {
		if model != "" {
			m.model = model
		}
	}
}

// WithMergerTimeout sets the per-request timeout.
func WithMergerTimeout(d time.Duration) MergerOption {
	return func(m *Merger) {
		m.timeout = d
	}
}

// WithMergerLogger configures a logger for the Merger.
func WithMergerLogger(logger *slog.Logger) MergerOption {
	return func(m *Merger) {
		m.logger = logger
	}
}

// NewMerger creates a Merger for the endpoint in cfg.
func NewMerger(cfg Config, opts ...MergerOption) *Merger {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMergerURL
	}
	m := &Merger{
		client:  newClient(cfg),
		model:   DefaultMergerModel,
		timeout: 30 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge returns markup with edits applied.
func (m *Merger) Merge(ctx context.Context, markup, edits string) (string, error) {
	content := "<code>" + markup + "</code>\n<update>" + edits + "</update>"

	var opts []option.RequestOption
	if m.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(m.timeout))
	}

	m.logger.Debug("Merge request", "markup_bytes", len(markup), "edit_bytes", len(edits))
	out, err := complete(ctx, m.client, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(content)},
	}, opts...)
	if err != nil {
		return "", err
	}
	return stripFences(out), nil
}
