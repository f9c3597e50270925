package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zen-systems/medorch/pkg/adapter"
	"github.com/zen-systems/medorch/pkg/breaker"
	"github.com/zen-systems/medorch/pkg/credential"
	"github.com/zen-systems/medorch/pkg/orchestrator"
	"github.com/zen-systems/medorch/pkg/provider"
	"github.com/zen-systems/medorch/pkg/router"
)

const task = "evidence_synthesis"

func newTestHandler(t *testing.T, mocks ...*adapter.MockAdapter) *Handler {
	t.Helper()
	return newTestHandlerWith(t, nil, mocks...)
}

func newTestHandlerWith(t *testing.T, opts []orchestrator.Option, mocks ...*adapter.MockAdapter) *Handler {
	t.Helper()
	var descs []provider.Descriptor
	adapters := adapter.Registry{}
	for i, m := range mocks {
		descs = append(descs, provider.Descriptor{
			ID:           m.Name(),
			Model:        m.Name() + "-model",
			Capabilities: []string{task},
			Priority:     i + 1,
			Timeout:      time.Second,
		})
		adapters.Register(m)
	}
	reg, err := provider.NewRegistry(descs...)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	orch := orchestrator.New(reg, adapters, append([]orchestrator.Option{orchestrator.WithLogger(logger)}, opts...)...)
	return NewHandler(orch, logger)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func permanent(name string) adapter.MockStep {
	return adapter.MockStep{Err: &adapter.Error{Provider: name, Status: http.StatusBadRequest, Err: errors.New("bad prompt")}}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, adapter.NewMockAdapter(adapter.WithMockName("alpha")))

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestGenerateReturnsAnswer(t *testing.T) {
	h := newTestHandler(t,
		adapter.NewMockAdapter(adapter.WithMockName("alpha"), adapter.WithMockResponse("summary")),
		adapter.NewMockAdapter(adapter.WithMockName("beta")),
	)

	rec := do(t, h, http.MethodPost, "/api/ai/generate", `{"prompt":"review the trial","task_tag":"evidence_synthesis"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alpha", resp.Provider)
	assert.Equal(t, task, resp.TaskTag)
	assert.Contains(t, resp.Content, "summary")
	assert.Contains(t, resp.Content, "review the trial")
	assert.False(t, resp.Fallback)
	assert.Equal(t, 1, resp.Attempts)
	assert.NotEmpty(t, resp.RequestID)
	require.NotNil(t, resp.Decision)
	assert.Equal(t, []string{"alpha", "beta"}, resp.Decision.Candidates)
}

func TestGenerateFallsBack(t *testing.T) {
	h := newTestHandler(t,
		adapter.NewMockAdapter(adapter.WithMockName("alpha"), adapter.WithMockScript(permanent("alpha"))),
		adapter.NewMockAdapter(adapter.WithMockName("beta")),
	)

	rec := do(t, h, http.MethodPost, "/api/ai/generate", `{"prompt":"x","task_tag":"evidence_synthesis"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "beta", resp.Provider)
	assert.True(t, resp.Fallback)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	h := newTestHandler(t, adapter.NewMockAdapter(adapter.WithMockName("alpha")))

	cases := map[string]string{
		"empty prompt":   `{"prompt":"   "}`,
		"malformed":      `{"prompt":`,
		"unknown field":  `{"prompt":"x","model":"gpt"}`,
		"negative count": `{"prompt":"x","synthesize_count":-1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/ai/generate", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "bad_request", decodeBody(t, rec)["code"])
		})
	}
}

func TestGenerateAllFailedIs503(t *testing.T) {
	h := newTestHandler(t,
		adapter.NewMockAdapter(adapter.WithMockName("alpha"), adapter.WithMockScript(permanent("alpha"))),
	)

	rec := do(t, h, http.MethodPost, "/api/ai/generate", `{"prompt":"x","task_tag":"evidence_synthesis"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "all_providers_failed", resp.Code)
	assert.Equal(t, 1, resp.Attempted)
	assert.Equal(t, task, resp.TaskTag)
}

func TestGenerateUnavailableIs503(t *testing.T) {
	h := newTestHandler(t, adapter.NewMockAdapter(adapter.WithMockName("alpha")))

	rec := do(t, h, http.MethodPost, "/api/ai/generate", `{"prompt":"x","providers":["nope"]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "all_providers_unavailable", resp.Code)
	assert.Equal(t, 0, resp.Attempted)
	assert.Contains(t, resp.Skipped, router.Exclusion{Provider: "nope", Reason: router.ReasonUnknownProvider})
}

func TestGenerateWrongMethod(t *testing.T) {
	h := newTestHandler(t, adapter.NewMockAdapter(adapter.WithMockName("alpha")))

	rec := do(t, h, http.MethodGet, "/api/ai/generate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSynthesizeReturnsProvenance(t *testing.T) {
	h := newTestHandler(t,
		adapter.NewMockAdapter(adapter.WithMockName("alpha"), adapter.WithMockResponse("Tumor treating fields extend survival in newly diagnosed patients.")),
		adapter.NewMockAdapter(adapter.WithMockName("beta"), adapter.WithMockScript(permanent("beta"))),
		adapter.NewMockAdapter(adapter.WithMockName("gamma"), adapter.WithMockResponse("Temozolomide remains the standard adjuvant chemotherapy for this tumor.")),
	)

	rec := do(t, h, http.MethodPost, "/api/ai/synthesize", `{"prompt":"glioblastoma care","task_tag":"evidence_synthesis","synthesize_count":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["requested"])
	assert.Equal(t, float64(2), body["available"])
	assert.Equal(t, true, body["partial"])
	assert.Contains(t, body["markdown"], "# Multi-Provider Analysis")

	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)
	var providers []string
	for _, e := range entries {
		src := e.(map[string]any)["source"].(map[string]any)
		providers = append(providers, src["provider"].(string))
		assert.NotEmpty(t, src["artifact_id"])
	}
	assert.ElementsMatch(t, []string{"alpha", "gamma"}, providers)
}

func TestSynthesizeAllFailedIs503(t *testing.T) {
	h := newTestHandler(t,
		adapter.NewMockAdapter(adapter.WithMockName("alpha"), adapter.WithMockScript(permanent("alpha"))),
	)

	rec := do(t, h, http.MethodPost, "/api/ai/synthesize", `{"prompt":"x","task_tag":"evidence_synthesis"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "all_providers_failed", decodeBody(t, rec)["code"])
}

func TestProviderHealth(t *testing.T) {
	h := newTestHandler(t,
		adapter.NewMockAdapter(adapter.WithMockName("alpha")),
		adapter.NewMockAdapter(adapter.WithMockName("beta")),
	)

	rec := do(t, h, http.MethodGet, "/api/ai/providers/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Providers    map[string]orchestrator.ProviderHealth `json:"providers"`
		GlobalBudget map[string]any                         `json:"global_budget"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 2)
	assert.Equal(t, "closed", string(resp.Providers["alpha"].Circuit))
	assert.True(t, resp.Providers["beta"].Admissible)
	require.NotNil(t, resp.GlobalBudget)
	assert.Equal(t, true, resp.GlobalBudget["unlimited"])
}

func TestRotateCredentialRoute(t *testing.T) {
	pool := credential.NewPool()
	pool.Add("alpha", credential.Credential{ID: "k1", Secret: "s1"}, credential.Credential{ID: "k2", Secret: "s2"})
	h := newTestHandlerWith(t, []orchestrator.Option{orchestrator.WithCredentials(pool)},
		adapter.NewMockAdapter(adapter.WithMockName("alpha")),
		adapter.NewMockAdapter(adapter.WithMockName("beta")),
	)

	rec := do(t, h, http.MethodPost, "/api/ai/providers/alpha/rotate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alpha", decodeBody(t, rec)["provider"])

	cred, err := pool.Acquire("alpha")
	require.NoError(t, err)
	assert.Equal(t, "k2", cred.ID)

	rec = do(t, h, http.MethodPost, "/api/ai/providers/beta/rotate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_credentials", decodeBody(t, rec)["code"])

	rec = do(t, h, http.MethodPost, "/api/ai/providers/gamma/rotate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_provider", decodeBody(t, rec)["code"])

	rec = do(t, h, http.MethodGet, "/api/ai/providers/alpha/rotate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResetCircuitRoute(t *testing.T) {
	breakers := breaker.NewSet()
	h := newTestHandlerWith(t, []orchestrator.Option{orchestrator.WithBreakers(breakers)},
		adapter.NewMockAdapter(adapter.WithMockName("alpha")),
	)

	for i := uint32(0); i < breaker.DefaultSettings().FailureThreshold; i++ {
		done, err := breakers.Allow("alpha")
		require.NoError(t, err)
		done(false)
	}
	require.Equal(t, breaker.StateOpen, breakers.State("alpha"))

	rec := do(t, h, http.MethodPost, "/api/ai/providers/alpha/reset", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Provider string                      `json:"provider"`
		Health   orchestrator.ProviderHealth `json:"health"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alpha", resp.Provider)
	assert.Equal(t, breaker.StateClosed, resp.Health.Circuit)
	assert.True(t, resp.Health.Admissible)

	rec = do(t, h, http.MethodPost, "/api/ai/providers/gamma/reset", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
