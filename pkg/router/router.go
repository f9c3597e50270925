// Package router picks, filters and orders the providers eligible for a request.
package router

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zen-systems/medorch/pkg/provider"
)

// ErrAllProvidersUnavailable is returned when filtering leaves no candidate.
var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// CircuitView reports breaker admissibility without reserving a trial.
type CircuitView interface {
	IsAdmissible(provider string) bool
}

// CredentialView reports whether a provider has a usable credential.
type CredentialView interface {
	Available(provider string) bool
}

// BudgetView reports whether an estimate fits a provider's remaining budget.
type BudgetView interface {
	CanAdmit(provider string, estimate decimal.Decimal) bool
}

// RateView reports whether a provider can take another request now.
type RateView interface {
	Headroom(provider string) bool
}

// Query is what the router needs to know about a request.
type Query struct {
	TaskTag string
	Prompt  string
	// Pinned, when non-empty, replaces priority order; the same filters apply.
	Pinned []string
	// Limit caps the number of candidates; zero means no cap.
	Limit int
}

// Router selects candidate providers. Its checks are peeks: admission is
// reserved later, right before each call.
type Router struct {
	registry    *provider.Registry
	rules       *RuleSet
	circuits    CircuitView
	credentials CredentialView
	budget      BudgetView
	rates       RateView
	logger      *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRules sets the trigger rules used when a request has no task tag.
func WithRules(rules *RuleSet) RouterOption {
	return func(r *Router) {
		r.rules = rules
	}
}

// WithCircuits sets the breaker view.
func WithCircuits(v CircuitView) RouterOption {
	return func(r *Router) {
		r.circuits = v
	}
}

// WithCredentials sets the credential view.
func WithCredentials(v CredentialView) RouterOption {
	return func(r *Router) {
		r.credentials = v
	}
}

// WithBudget sets the budget view.
func WithBudget(v BudgetView) RouterOption {
	return func(r *Router) {
		r.budget = v
	}
}

// WithRates sets the rate-limit view.
func WithRates(v RateView) RouterOption {
	return func(r *Router) {
		r.rates = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates a router over the provider registry.
func NewRouter(registry *provider.Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		rules:    NewRuleSet(Rules{}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("router")
	return r
}

// SelectCandidates returns the ordered providers eligible for the query. When
// none survive, the decision is still returned together with
// ErrAllProvidersUnavailable so callers can report why each was skipped.
func (r *Router) SelectCandidates(q Query) (*Decision, error) {
	d := &Decision{TaskTag: q.TaskTag, Candidates: []string{}}
	if d.TaskTag == "" {
		d.TaskTag, d.Trigger = r.rules.Infer(q.Prompt)
		d.Inferred = true
	}

	order := r.registry.IDs()
	if len(q.Pinned) > 0 {
		order = dedupe(q.Pinned)
		d.Pinned = true
	}

	for _, id := range order {
		desc, ok := r.registry.Get(id)
		if !ok {
			d.Excluded = append(d.Excluded, Exclusion{Provider: id, Reason: ReasonUnknownProvider})
			continue
		}
		if reason, skip := r.check(desc, d.TaskTag, q.Prompt); skip {
			d.Excluded = append(d.Excluded, Exclusion{Provider: id, Reason: reason})
			continue
		}
		if q.Limit > 0 && len(d.Candidates) >= q.Limit {
			break
		}
		d.Candidates = append(d.Candidates, id)
	}

	r.logger.Debug("candidates selected",
		zap.String("task_tag", d.TaskTag),
		zap.Bool("inferred", d.Inferred),
		zap.Strings("candidates", d.Candidates),
		zap.Int("excluded", len(d.Excluded)))

	if d.Empty() {
		return d, fmt.Errorf("task %q: %w", d.TaskTag, ErrAllProvidersUnavailable)
	}
	return d, nil
}

func (r *Router) check(desc provider.Descriptor, taskTag, prompt string) (Reason, bool) {
	switch {
	case !desc.Supports(taskTag):
		return ReasonCapability, true
	case r.circuits != nil && !r.circuits.IsAdmissible(desc.ID):
		return ReasonCircuitOpen, true
	case r.credentials != nil && !r.credentials.Available(desc.ID):
		return ReasonCredentials, true
	case r.budget != nil && !r.budget.CanAdmit(desc.ID, desc.EstimateCost(prompt)):
		return ReasonBudget, true
	case r.rates != nil && !r.rates.Headroom(desc.ID):
		return ReasonRateLimited, true
	}
	return "", false
}

// Registry returns the provider registry the router selects from.
func (r *Router) Registry() *provider.Registry {
	return r.registry
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
