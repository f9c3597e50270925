// Package provider holds the static description of every generation provider:
// what it can do, how it is preferred, what it costs and how its breaker behaves.
package provider

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/zen-systems/medorch/pkg/adapter"
)

// charsPerToken is the rough prompt-length-to-token ratio used for estimates.
const charsPerToken = 4

// Pricing defines per-1k token pricing in USD.
type Pricing struct {
	PromptPer1K     decimal.Decimal
	CompletionPer1K decimal.Decimal
	// MinPerCall is charged when token pricing would come out lower.
	MinPerCall decimal.Decimal
}

// BreakerSettings configures a provider's circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint32
	CoolDown         time.Duration
	HalfOpenTrials   uint32
}

// Descriptor is immutable after registration.
type Descriptor struct {
	ID                string
	Adapter           string
	Model             string
	Capabilities      []string
	Priority          int
	Timeout           time.Duration
	MaxOutputTokens   int
	Pricing           Pricing
	DailyCap          decimal.Decimal
	MonthlyCap        decimal.Decimal
	Breaker           BreakerSettings
	RequestsPerMinute int
}

// AdapterName returns the adapter registry key, defaulting to the provider ID.
func (d Descriptor) AdapterName() string {
	if d.Adapter == "" {
		return d.ID
	}
	return d.Adapter
}

// Supports reports whether the provider declares the task tag.
func (d Descriptor) Supports(taskTag string) bool {
	for _, c := range d.Capabilities {
		if c == taskTag {
			return true
		}
	}
	return false
}

// EstimateCost prices a prompt before the call: prompt tokens from its length,
// completion tokens at the configured output ceiling.
func (d Descriptor) EstimateCost(prompt string) decimal.Decimal {
	promptTokens := (len(prompt) + charsPerToken - 1) / charsPerToken
	return d.price(adapter.Usage{PromptTokens: promptTokens, CompletionTokens: d.MaxOutputTokens})
}

// CostFromUsage prices a finished call from reported usage. It returns false
// when the provider reported no usage, in which case callers keep the estimate.
func (d Descriptor) CostFromUsage(usage *adapter.Usage) (decimal.Decimal, bool) {
	if usage == nil {
		return decimal.Zero, false
	}
	u := usage.Normalize()
	if u.TotalTokens == 0 {
		return decimal.Zero, false
	}
	return d.price(u), true
}

func (d Descriptor) price(u adapter.Usage) decimal.Decimal {
	thousand := decimal.NewFromInt(1000)
	promptCost := decimal.NewFromInt(int64(u.PromptTokens)).Div(thousand).Mul(d.Pricing.PromptPer1K)
	completionCost := decimal.NewFromInt(int64(u.CompletionTokens)).Div(thousand).Mul(d.Pricing.CompletionPer1K)
	total := promptCost.Add(completionCost)
	if total.LessThan(d.Pricing.MinPerCall) {
		return d.Pricing.MinPerCall
	}
	return total
}
