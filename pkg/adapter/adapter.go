package adapter

import (
	"context"
)

// Adapter is the uniform call contract every provider transport implements.
// Routing never branches on adapter names; it only sees this interface.
type Adapter interface {
	// Generate sends one prompt with one credential and returns the provider's content.
	Generate(ctx context.Context, call Call) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string
}

// Call is one outbound request to a provider.
type Call struct {
	Credential string
	Model      string
	Prompt     string
	MaxTokens  int
}

func (c Call) maxTokens() int {
	if c.MaxTokens <= 0 {
		return 4096
	}
	return c.MaxTokens
}

// Registry maps adapter names to implementations.
type Registry map[string]Adapter

// Register adds an adapter under its own name.
func (r Registry) Register(a Adapter) {
	r[a.Name()] = a
}

// Get returns an adapter by name.
func (r Registry) Get(name string) (Adapter, bool) {
	a, ok := r[name]
	return a, ok
}
