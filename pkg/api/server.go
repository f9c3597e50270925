// Package api exposes the orchestrator over a small JSON HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/medorch/pkg/budget"
	"github.com/zen-systems/medorch/pkg/orchestrator"
	"github.com/zen-systems/medorch/pkg/router"
	"github.com/zen-systems/medorch/pkg/synth"
)

const maxBodyBytes = 1 << 20

// Service is the orchestration surface the API serves.
type Service interface {
	Generate(ctx context.Context, req orchestrator.Request) (*orchestrator.Outcome, error)
	Synthesize(ctx context.Context, req orchestrator.Request) (*synth.Result, error)
	ProviderHealth() map[string]orchestrator.ProviderHealth
	GlobalBudget() budget.Usage
	RotateCredential(id string) error
	ResetCircuit(id string) error
}

// GenerateRequest is the body of both generation endpoints.
type GenerateRequest struct {
	Prompt          string   `json:"prompt"`
	TaskTag         string   `json:"task_tag,omitempty"`
	Providers       []string `json:"providers,omitempty"`
	SynthesizeCount int      `json:"synthesize_count,omitempty"`
	TimeoutMs       int      `json:"timeout_ms,omitempty"`
}

// GenerateResponse is a single-provider answer.
type GenerateResponse struct {
	RequestID     string           `json:"request_id"`
	TaskTag       string           `json:"task_tag"`
	Provider      string           `json:"provider"`
	Model         string           `json:"model"`
	Content       string           `json:"content"`
	ArtifactID    string           `json:"artifact_id"`
	Hash          string           `json:"hash"`
	Cost          string           `json:"cost_usd"`
	CostEstimated bool             `json:"cost_estimated,omitempty"`
	Attempts      int              `json:"attempts"`
	Fallback      bool             `json:"fallback"`
	LatencyMs     int64            `json:"latency_ms"`
	Decision      *router.Decision `json:"decision,omitempty"`
}

// SynthesizeResponse is a merged multi-provider answer.
type SynthesizeResponse struct {
	*synth.Result
	Partial  bool   `json:"partial"`
	Markdown string `json:"markdown"`
}

// ErrorResponse is returned for every non-2xx status.
type ErrorResponse struct {
	Error     string             `json:"error"`
	Code      string             `json:"code"`
	RequestID string             `json:"request_id,omitempty"`
	TaskTag   string             `json:"task_tag,omitempty"`
	Attempted int                `json:"attempted,omitempty"`
	Skipped   []router.Exclusion `json:"skipped,omitempty"`
}

// Handler serves the API routes.
type Handler struct {
	svc    Service
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewHandler builds the route table.
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: svc, logger: logger.Named("api"), mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	h.mux.HandleFunc("POST /api/ai/generate", h.generate)
	h.mux.HandleFunc("POST /api/ai/synthesize", h.synthesize)
	h.mux.HandleFunc("GET /api/ai/providers/health", h.health)
	h.mux.HandleFunc("POST /api/ai/providers/{id}/rotate", h.admin(svc.RotateCredential))
	h.mux.HandleFunc("POST /api/ai/providers/{id}/reset", h.admin(svc.ResetCircuit))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.mux.ServeHTTP(w, r)
	h.logger.Debug("request served",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Duration("elapsed", time.Since(start)))
}

// NewServer returns an http.Server for the API.
func NewServer(addr string, svc Service, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := GenerateResponse{
		RequestID:     out.RequestID,
		TaskTag:       out.TaskTag,
		Provider:      out.Provider,
		Model:         out.Model,
		Cost:          out.Cost.StringFixed(6),
		CostEstimated: out.CostEstimated,
		Attempts:      out.Attempts,
		Fallback:      out.Fallback,
		LatencyMs:     out.Latency.Milliseconds(),
		Decision:      out.Decision,
	}
	if out.Artifact != nil {
		resp.Content = out.Artifact.Content
		resp.ArtifactID = out.Artifact.ID
		resp.Hash = out.Artifact.Hash
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) synthesize(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Synthesize(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SynthesizeResponse{
		Result:   res,
		Partial:  res.Partial(),
		Markdown: res.Markdown(),
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":     h.svc.ProviderHealth(),
		"global_budget": h.svc.GlobalBudget(),
	})
}

// admin wraps a per-provider operator action. The response carries the
// provider's health after the action.
func (h *Handler) admin(action func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := action(id); err != nil {
			status, code := http.StatusInternalServerError, "internal"
			switch {
			case errors.Is(err, orchestrator.ErrUnknownProvider):
				status, code = http.StatusNotFound, "unknown_provider"
			case errors.Is(err, orchestrator.ErrCredentialExhausted):
				status, code = http.StatusConflict, "no_credentials"
			}
			h.logger.Warn("provider action failed", zap.String("provider", id), zap.String("path", r.URL.Path), zap.Error(err))
			writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
			return
		}
		h.logger.Info("provider action applied", zap.String("provider", id), zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusOK, map[string]any{
			"provider": id,
			"health":   h.svc.ProviderHealth()[id],
		})
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (orchestrator.Request, bool) {
	var body GenerateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "bad_request"})
		return orchestrator.Request{}, false
	}
	body.Prompt = strings.TrimSpace(body.Prompt)
	if body.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "prompt is required", Code: "bad_request"})
		return orchestrator.Request{}, false
	}
	if body.SynthesizeCount < 0 || body.TimeoutMs < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "synthesize_count and timeout_ms must be non-negative", Code: "bad_request"})
		return orchestrator.Request{}, false
	}

	req := orchestrator.Request{
		TaskTag:         strings.TrimSpace(body.TaskTag),
		Prompt:          body.Prompt,
		Providers:       body.Providers,
		SynthesizeCount: body.SynthesizeCount,
	}
	if body.TimeoutMs > 0 {
		req.Deadline = time.Now().Add(time.Duration(body.TimeoutMs) * time.Millisecond)
	}
	return req, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var oe *orchestrator.Error
	if !errors.As(err, &oe) {
		h.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "internal"})
		return
	}

	code := "all_providers_failed"
	if errors.Is(oe.Terminal, orchestrator.ErrAllProvidersUnavailable) {
		code = "all_providers_unavailable"
	}
	h.logger.Warn("request exhausted providers",
		zap.String("request_id", oe.RequestID),
		zap.String("code", code),
		zap.Error(err))
	writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: oe.RequestID,
		TaskTag:   oe.TaskTag,
		Attempted: oe.Attempted,
		Skipped:   oe.Skipped,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
