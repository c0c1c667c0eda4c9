// Package openai adapts OpenAI-compatible chat completion endpoints to the
// interpreter and merger ports.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultInterpreterURL is the OpenRouter API.
	DefaultInterpreterURL   = "https://openrouter.ai/api/v1"
	DefaultInterpreterModel = "meta-llama/llama-4-maverick"
	DefaultMaxTokens        = 4000

	DefaultMergerURL   = "https://api.morphllm.com/v1"
	DefaultMergerModel = "morph-v3-fast"
)

// Config selects an endpoint.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func newClient(cfg Config) openai.Client {
	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/"),
		option.WithAPIKey(cfg.APIKey),
		// Upstream failures end the round; the user decides whether to retry.
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return openai.NewClient(opts...)
}

// complete runs one chat completion and returns the first choice.
func complete(ctx context.Context, client openai.Client, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (string, error) {
	resp, err := client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion has no choices", domain.ErrUpstreamError)
	}
	return resp.Choices[0].Message.Content, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusRequestEntityTooLarge {
			return fmt.Errorf("%w: %v", domain.ErrContentTooLarge, err)
		}
		return fmt.Errorf("%w: status %d", domain.ErrUpstreamError, apiErr.StatusCode)
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamError, err)
}
