// Package orchestrator dispatches generation requests to providers: ordered
// fallback with bounded retries for single answers, bounded fan-out for
// multi-provider synthesis.
package orchestrator

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zen-systems/medorch/pkg/adapter"
	"github.com/zen-systems/medorch/pkg/breaker"
	"github.com/zen-systems/medorch/pkg/budget"
	"github.com/zen-systems/medorch/pkg/credential"
	"github.com/zen-systems/medorch/pkg/provider"
	"github.com/zen-systems/medorch/pkg/ratelimit"
	"github.com/zen-systems/medorch/pkg/router"
)

const tracerName = "github.com/zen-systems/medorch/pkg/orchestrator"

// Orchestrator owns the admission state of every provider. Only its outcome
// recording mutates breakers and ledgers.
type Orchestrator struct {
	registry    *provider.Registry
	adapters    adapter.Registry
	router      *router.Router
	breakers    *breaker.Set
	ledger      *budget.Ledger
	credentials *credential.Pool
	rates       *ratelimit.Set
	rules       *router.RuleSet
	retry       RetryPolicy

	maxConcurrent int
	tracer        trace.Tracer
	logger        *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithBreakers shares a breaker set.
func WithBreakers(s *breaker.Set) Option {
	return func(o *Orchestrator) {
		o.breakers = s
	}
}

// WithLedger shares a budget ledger.
func WithLedger(l *budget.Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

// WithCredentials sets the credential pool. Without one, calls carry no
// credential and auth failures are not retried.
func WithCredentials(p *credential.Pool) Option {
	return func(o *Orchestrator) {
		o.credentials = p
	}
}

// WithRateLimits shares a rate-limit set.
func WithRateLimits(s *ratelimit.Set) Option {
	return func(o *Orchestrator) {
		o.rates = s
	}
}

// WithRules sets the task-tag inference rules.
func WithRules(rs *router.RuleSet) Option {
	return func(o *Orchestrator) {
		o.rules = rs
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.retry = p
	}
}

// WithMaxConcurrent bounds the number of in-flight fan-out calls.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// New builds an orchestrator over the registry. Breaker settings, budget caps
// and rate limits of every descriptor are applied to the (possibly shared)
// breaker set, ledger and rate-limit set.
func New(registry *provider.Registry, adapters adapter.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:      registry,
		adapters:      adapters,
		retry:         DefaultRetryPolicy(),
		maxConcurrent: DefaultSynthesizeCount,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.breakers == nil {
		o.breakers = breaker.NewSet(breaker.WithLogger(o.logger))
	}
	if o.ledger == nil {
		o.ledger = budget.NewLedger(budget.WithLogger(o.logger))
	}
	if o.rates == nil {
		o.rates = ratelimit.NewSet()
	}
	if o.rules == nil {
		o.rules = router.NewRuleSet(router.Rules{})
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	for _, d := range registry.All() {
		o.breakers.Configure(d.ID, breaker.Settings{
			FailureThreshold: d.Breaker.FailureThreshold,
			CoolDown:         d.Breaker.CoolDown,
			HalfOpenTrials:   d.Breaker.HalfOpenTrials,
		})
		o.ledger.SetCaps(d.ID, budget.Caps{Daily: d.DailyCap, Monthly: d.MonthlyCap})
		o.rates.Configure(d.ID, d.RequestsPerMinute)
	}

	routerOpts := []router.RouterOption{
		router.WithRules(o.rules),
		router.WithCircuits(o.breakers),
		router.WithBudget(o.ledger),
		router.WithRates(o.rates),
		router.WithLogger(o.logger),
	}
	if o.credentials != nil {
		routerOpts = append(routerOpts, router.WithCredentials(o.credentials))
	}
	o.router = router.NewRouter(registry, routerOpts...)
	o.logger = o.logger.Named("orchestrator")
	return o
}

// Registry returns the provider registry.
func (o *Orchestrator) Registry() *provider.Registry {
	return o.registry
}

// ProviderHealth is the read-only view of one provider.
type ProviderHealth struct {
	Provider            string        `json:"provider" yaml:"provider"`
	Model               string        `json:"model" yaml:"model"`
	Priority            int           `json:"priority" yaml:"priority"`
	Circuit             breaker.State `json:"circuit" yaml:"circuit"`
	ConsecutiveFailures uint32        `json:"consecutive_failures" yaml:"consecutive_failures"`
	Budget              budget.Status `json:"budget" yaml:"budget"`
	DailyRemaining      string        `json:"daily_remaining" yaml:"daily_remaining"`
	MonthlyRemaining    string        `json:"monthly_remaining" yaml:"monthly_remaining"`
	// GlobalRemaining is what is left of the cap shared by all providers.
	GlobalRemaining string            `json:"global_monthly_remaining" yaml:"global_monthly_remaining"`
	LowBudget       bool              `json:"low_budget" yaml:"low_budget"`
	Credentials     credential.Status `json:"credentials" yaml:"credentials"`
	RateRemaining   int               `json:"rate_remaining" yaml:"rate_remaining"`
	Admissible      bool              `json:"admissible" yaml:"admissible"`
}

// ProviderHealth returns circuit, budget and credential status for every
// registered provider. It never mutates state.
func (o *Orchestrator) ProviderHealth() map[string]ProviderHealth {
	out := make(map[string]ProviderHealth, o.registry.Len())
	global := remainingString(o.ledger.Global())
	for _, d := range o.registry.All() {
		counts := o.breakers.Counts(d.ID)
		st := o.ledger.Remaining(d.ID)
		h := ProviderHealth{
			Provider:            d.ID,
			Model:               d.Model,
			Priority:            d.Priority,
			Circuit:             o.breakers.State(d.ID),
			ConsecutiveFailures: counts.ConsecutiveFailures,
			Budget:              st,
			DailyRemaining:      remainingString(st.Daily),
			MonthlyRemaining:    remainingString(st.Monthly),
			GlobalRemaining:     global,
			LowBudget:           st.Low,
			RateRemaining:       o.rates.Remaining(d.ID),
			Admissible:          o.breakers.IsAdmissible(d.ID),
		}
		if o.credentials != nil {
			h.Credentials = o.credentials.Status(d.ID)
		}
		out[d.ID] = h
	}
	return out
}

// GlobalBudget returns the month's spend against the cap shared by all
// providers.
func (o *Orchestrator) GlobalBudget() budget.Usage {
	return o.ledger.Global()
}

func remainingString(u budget.Usage) string {
	if u.Unlimited {
		return "unlimited"
	}
	return u.Remaining.StringFixed(2)
}

func since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
