package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zen-systems/medorch/pkg/artifact"
)

// OpenAIAdapter implements the Adapter interface for OpenAI models.
type OpenAIAdapter struct {
	opts []option.RequestOption
}

// NewOpenAIAdapter creates a new OpenAI adapter. The credential is supplied per call.
func NewOpenAIAdapter(opts ...option.RequestOption) *OpenAIAdapter {
	return &OpenAIAdapter{opts: opts}
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Generate sends a prompt to OpenAI and returns the response as an artifact.
func (a *OpenAIAdapter) Generate(ctx context.Context, call Call) (*Response, error) {
	if call.Credential == "" {
		return nil, &Error{Provider: a.Name(), Status: 401, Err: fmt.Errorf("openai API key is required")}
	}

	opts := append([]option.RequestOption{
		option.WithAPIKey(call.Credential),
		option.WithMaxRetries(0),
	}, a.opts...)
	client := openai.NewClient(opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(call.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(call.Prompt),
		},
		MaxCompletionTokens: openai.Int(int64(call.maxTokens())),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, statusError(a.Name(), apiErr.StatusCode, fmt.Errorf("openai API error: %w", err))
		}
		return nil, fmt.Errorf("openai API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: a.Name(), Temporary: true, Err: fmt.Errorf("openai returned no choices")}
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}.Normalize()
	content := resp.Choices[0].Message.Content
	return &Response{Artifact: artifact.New(content, a.Name(), call.Model), Usage: &usage}, nil
}
