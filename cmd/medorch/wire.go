package main

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zen-systems/medorch/pkg/adapter"
	"github.com/zen-systems/medorch/pkg/breaker"
	"github.com/zen-systems/medorch/pkg/budget"
	"github.com/zen-systems/medorch/pkg/config"
	"github.com/zen-systems/medorch/pkg/credential"
	"github.com/zen-systems/medorch/pkg/orchestrator"
	"github.com/zen-systems/medorch/pkg/router"
)

// buildOrchestrator turns the loaded config into a ready orchestrator.
func buildOrchestrator(cfg *config.Config, logger *zap.Logger) (*orchestrator.Orchestrator, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 5 * time.Minute}
	adapters := cfg.Adapters(httpClient)

	ledger := budget.NewLedger(
		budget.WithLogger(logger),
		budget.WithGlobalMonthlyCap(decimal.NewFromFloat(cfg.Budget.GlobalMonthlyUSD)),
		budget.WithLowWatermark(decimal.NewFromFloat(cfg.Budget.LowWatermarkUSD)),
	)
	breakers := breaker.NewSet(breaker.WithLogger(logger))
	pool := cfg.CredentialPool(credential.WithLogger(logger))

	for _, id := range cfg.EnabledProviders() {
		if !cfg.HasCredentials(id) {
			logger.Info("provider has no API keys", zap.String("provider", id), zap.String("env", cfg.EnvPrefix(id)+"_API_KEY"))
		}
	}

	rules := router.NewRuleSet(router.Rules{
		Default:  cfg.Routing.DefaultTaskTag,
		Triggers: cfg.Routing.Triggers,
	})

	return orchestrator.New(registry, adapters,
		orchestrator.WithLogger(logger),
		orchestrator.WithLedger(ledger),
		orchestrator.WithBreakers(breakers),
		orchestrator.WithCredentials(pool),
		orchestrator.WithRules(rules),
		orchestrator.WithRetryPolicy(retryPolicy(cfg.Retry)),
		orchestrator.WithMaxConcurrent(cfg.MaxConcurrent),
	), nil
}

// retryPolicy applies the configured backoff to transient errors and timeouts.
func retryPolicy(rc config.RetryConfig) orchestrator.RetryPolicy {
	b := orchestrator.Backoff{
		MaxRetries:  rc.MaxRetries,
		BaseBackoff: time.Duration(rc.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(rc.MaxBackoffMs) * time.Millisecond,
	}
	return orchestrator.RetryPolicy{
		adapter.KindTransient: b,
		adapter.KindTimeout:   b,
	}
}
