package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/medorch/pkg/artifact"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	name            string
	defaultResponse string
	delay           time.Duration
	usage           *Usage

	mu     sync.Mutex
	script []MockStep
	calls  []Call
}

// MockStep scripts the result of one call. Steps are consumed in order; once the
// script is exhausted the adapter answers with its default response.
type MockStep struct {
	Content string
	Err     error
	Delay   time.Duration
}

// MockOption configures a MockAdapter.
type MockOption func(*MockAdapter)

// WithMockName overrides the adapter name (default "mock").
func WithMockName(name string) MockOption {
	return func(a *MockAdapter) {
		a.name = name
	}
}

// WithMockResponse sets the default response content.
func WithMockResponse(content string) MockOption {
	return func(a *MockAdapter) {
		a.defaultResponse = content
	}
}

// WithMockDelay makes every call wait before answering, honoring cancellation.
func WithMockDelay(d time.Duration) MockOption {
	return func(a *MockAdapter) {
		a.delay = d
	}
}

// WithMockUsage sets the usage reported with every successful response.
func WithMockUsage(u Usage) MockOption {
	return func(a *MockAdapter) {
		a.usage = &u
	}
}

// WithMockScript queues per-call results.
func WithMockScript(steps ...MockStep) MockOption {
	return func(a *MockAdapter) {
		a.script = append(a.script, steps...)
	}
}

// NewMockAdapter creates a mock adapter.
func NewMockAdapter(opts ...MockOption) *MockAdapter {
	a := &MockAdapter{
		name:            "mock",
		defaultResponse: "mock response:",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Calls returns a copy of every call received so far.
func (a *MockAdapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallCount returns how many calls were received.
func (a *MockAdapter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// Generate returns the next scripted result, or the default response.
func (a *MockAdapter) Generate(ctx context.Context, call Call) (*Response, error) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	step := MockStep{Content: fmt.Sprintf("%s\n%s", a.defaultResponse, call.Prompt), Delay: a.delay}
	if len(a.script) > 0 {
		step = a.script[0]
		a.script = a.script[1:]
	}
	a.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	model := call.Model
	if model == "" {
		model = "mock-1"
	}
	return &Response{Artifact: artifact.New(step.Content, a.name, model), Usage: a.usage}, nil
}
