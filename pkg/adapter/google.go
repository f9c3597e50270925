package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zen-systems/medorch/pkg/artifact"
	"google.golang.org/genai"
)

// GoogleAdapter implements the Adapter interface for Gemini models.
// Clients are cached per credential because genai binds the key at construction.
type GoogleAdapter struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGoogleAdapter creates a new Google Gemini adapter.
func NewGoogleAdapter() *GoogleAdapter {
	return &GoogleAdapter{clients: make(map[string]*genai.Client)}
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() string {
	return "google"
}

func (a *GoogleAdapter) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	a.clients[apiKey] = c
	return c, nil
}

// Generate sends a prompt to Gemini and returns the response as an artifact.
func (a *GoogleAdapter) Generate(ctx context.Context, call Call) (*Response, error) {
	if call.Credential == "" {
		return nil, &Error{Provider: a.Name(), Status: 401, Err: fmt.Errorf("google API key is required")}
	}

	client, err := a.client(ctx, call.Credential)
	if err != nil {
		return nil, err
	}

	resp, err := client.Models.GenerateContent(ctx, call.Model, genai.Text(call.Prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: int32(call.maxTokens()),
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, statusError(a.Name(), apiErr.Code, fmt.Errorf("google API error: %w", err))
		}
		return nil, fmt.Errorf("google API error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &Error{Provider: a.Name(), Temporary: true, Err: fmt.Errorf("google returned no candidates")}
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	usage := Usage{}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	usage = usage.Normalize()
	return &Response{Artifact: artifact.New(content, a.Name(), call.Model), Usage: &usage}, nil
}
