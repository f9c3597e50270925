package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zen-systems/medorch/pkg/adapter"
	"github.com/zen-systems/medorch/pkg/config"
	"github.com/zen-systems/medorch/pkg/orchestrator"
)

const localConfig = `
providers:
  anthropic: {disabled: true}
  openai: {disabled: true}
  google: {disabled: true}
  perplexity: {disabled: true}
  deepseek: {disabled: true}
  local:
    adapter: mock
    model: local-model
    priority: 1
    capabilities: [general, summarize]
max_concurrent: 2
`

func TestBuildOrchestratorFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medorch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(localConfig), 0o600))

	cfg, err := config.LoadFiles(path)
	require.NoError(t, err)

	orch, err := buildOrchestrator(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, orch.Registry().IDs())

	out, err := orch.Generate(context.Background(), orchestrator.Request{Prompt: "summarize this abstract"})
	require.NoError(t, err)
	assert.Equal(t, "local", out.Provider)
	assert.Equal(t, "summarize", out.TaskTag)
	assert.Contains(t, out.Artifact.Content, "summarize this abstract")

	health := orch.ProviderHealth()
	require.Contains(t, health, "local")
	assert.Equal(t, 1, health["local"].Credentials.Total)
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := retryPolicy(config.RetryConfig{MaxRetries: 3, BaseBackoffMs: 100, MaxBackoffMs: 800})

	want := orchestrator.Backoff{MaxRetries: 3, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 800 * time.Millisecond}
	assert.Equal(t, want, p.For(adapter.KindTransient))
	assert.Equal(t, want, p.For(adapter.KindTimeout))
	assert.Zero(t, p.For(adapter.KindPermanent).MaxRetries)
	assert.Zero(t, p.For(adapter.KindAuth).MaxRetries)
}
