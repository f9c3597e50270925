package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zen-systems/medorch/pkg/artifact"
)

const (
	// DeepSeekBaseURL is the OpenAI-compatible DeepSeek endpoint.
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	// PerplexityBaseURL is the OpenAI-compatible Perplexity endpoint.
	PerplexityBaseURL = "https://api.perplexity.ai"
)

// CompatAdapter implements the Adapter interface for providers that speak the
// OpenAI chat completions wire format (DeepSeek, Perplexity).
type CompatAdapter struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// compatRequest represents the OpenAI-compatible request format.
type compatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// compatResponse represents the OpenAI-compatible response format.
type compatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// NewCompatAdapter creates an adapter for an OpenAI-compatible endpoint.
func NewCompatAdapter(name, baseURL string, httpClient *http.Client) *CompatAdapter {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &CompatAdapter{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name returns the adapter identifier.
func (a *CompatAdapter) Name() string {
	return a.name
}

// Generate sends a prompt to the endpoint and returns the response as an artifact.
func (a *CompatAdapter) Generate(ctx context.Context, call Call) (*Response, error) {
	if call.Credential == "" {
		return nil, &Error{Provider: a.name, Status: http.StatusUnauthorized, Err: fmt.Errorf("%s API key is required", a.name)}
	}

	reqBody := compatRequest{
		Model: call.Model,
		Messages: []compatMessage{
			{Role: "user", Content: call.Prompt},
		},
		MaxTokens: call.maxTokens(),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+call.Credential)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s API request failed: %w", a.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(a.name, resp.StatusCode,
			fmt.Errorf("%s API returned status %d: %s", a.name, resp.StatusCode, truncate(string(body), 256)))
	}

	var parsed compatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("%s API error: %s (type: %s)", a.name, parsed.Error.Message, parsed.Error.Type)
	}

	if len(parsed.Choices) == 0 {
		return nil, &Error{Provider: a.name, Temporary: true, Err: fmt.Errorf("%s returned no choices", a.name)}
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}.Normalize()
	content := parsed.Choices[0].Message.Content
	return &Response{Artifact: artifact.New(content, a.name, call.Model), Usage: &usage}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
