package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/zen-systems/medorch/pkg/artifact"
)

// AnthropicAdapter implements the Adapter interface for Claude models.
type AnthropicAdapter struct {
	opts []option.RequestOption
}

// NewAnthropicAdapter creates a new Anthropic adapter. The credential is supplied per call.
func NewAnthropicAdapter(opts ...option.RequestOption) *AnthropicAdapter {
	return &AnthropicAdapter{opts: opts}
}

// Name returns the adapter identifier.
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// Generate sends a prompt to Claude and returns the response as an artifact.
func (a *AnthropicAdapter) Generate(ctx context.Context, call Call) (*Response, error) {
	if call.Credential == "" {
		return nil, &Error{Provider: a.Name(), Status: 401, Err: fmt.Errorf("anthropic API key is required")}
	}

	// Retries are owned by the orchestrator's policy, not the SDK.
	opts := append([]option.RequestOption{
		option.WithAPIKey(call.Credential),
		option.WithMaxRetries(0),
	}, a.opts...)
	client := anthropic.NewClient(opts...)

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(call.Model),
		MaxTokens: int64(call.maxTokens()),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(call.Prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, statusError(a.Name(), apiErr.StatusCode, fmt.Errorf("anthropic API error: %w", err))
		}
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}.Normalize()
	return &Response{Artifact: artifact.New(content, a.Name(), call.Model), Usage: &usage}, nil
}
