package config

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zen-systems/medorch/pkg/adapter"
	"github.com/zen-systems/medorch/pkg/provider"
)

// Adapter kinds.
const (
	AdapterAnthropic = "anthropic"
	AdapterOpenAI    = "openai"
	AdapterGoogle    = "google"
	AdapterCompat    = "openai-compatible"
	AdapterMock      = "mock"
)

func knownAdapter(kind string) bool {
	switch kind {
	case AdapterAnthropic, AdapterOpenAI, AdapterGoogle, AdapterCompat, AdapterMock:
		return true
	}
	return false
}

// ProviderConfig describes one provider in the registry file.
type ProviderConfig struct {
	Adapter      string   `koanf:"adapter" yaml:"adapter"`
	Model        string   `koanf:"model" yaml:"model"`
	BaseURL      string   `koanf:"base_url" yaml:"base_url,omitempty"`
	Capabilities []string `koanf:"capabilities" yaml:"capabilities"`
	Priority     int      `koanf:"priority" yaml:"priority"`
	Disabled     bool     `koanf:"disabled" yaml:"disabled,omitempty"`
	// KeyEnv is the environment variable prefix for credentials; defaults to
	// the upper-cased provider ID.
	KeyEnv string `koanf:"key_env" yaml:"key_env,omitempty"`

	Timeout         time.Duration `koanf:"timeout" yaml:"timeout"`
	MaxOutputTokens int           `koanf:"max_output_tokens" yaml:"max_output_tokens"`

	PromptPer1K     float64 `koanf:"prompt_per_1k" yaml:"prompt_per_1k"`
	CompletionPer1K float64 `koanf:"completion_per_1k" yaml:"completion_per_1k"`
	MinPerCall      float64 `koanf:"min_per_call" yaml:"min_per_call,omitempty"`
	DailyCapUSD     float64 `koanf:"daily_cap_usd" yaml:"daily_cap_usd"`
	MonthlyCapUSD   float64 `koanf:"monthly_cap_usd" yaml:"monthly_cap_usd,omitempty"`

	FailureThreshold  uint32        `koanf:"failure_threshold" yaml:"failure_threshold"`
	CoolDown          time.Duration `koanf:"cool_down" yaml:"cool_down"`
	HalfOpenTrials    uint32        `koanf:"half_open_trials" yaml:"half_open_trials"`
	RequestsPerMinute int           `koanf:"requests_per_minute" yaml:"requests_per_minute"`
}

func (p ProviderConfig) withDefaults(id string) ProviderConfig {
	if p.Adapter == "" {
		p.Adapter = id
	}
	if p.Timeout <= 0 {
		p.Timeout = 60 * time.Second
	}
	if p.MaxOutputTokens <= 0 {
		p.MaxOutputTokens = 4096
	}
	if p.DailyCapUSD == 0 {
		p.DailyCapUSD = 15
	}
	if p.FailureThreshold == 0 {
		p.FailureThreshold = 5
	}
	if p.CoolDown <= 0 {
		p.CoolDown = 60 * time.Second
	}
	if p.HalfOpenTrials == 0 {
		p.HalfOpenTrials = 1
	}
	if p.RequestsPerMinute == 0 {
		p.RequestsPerMinute = 60
	}
	return p
}

func usd(v float64) decimal.Decimal {
	if v <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// Descriptor converts a provider entry into an immutable descriptor.
func (c *Config) Descriptor(id string) (provider.Descriptor, error) {
	p, ok := c.Providers[id]
	if !ok {
		return provider.Descriptor{}, fmt.Errorf("unknown provider %q", id)
	}
	adapterName := p.Adapter
	if p.Adapter == AdapterCompat || p.Adapter == AdapterMock {
		// These adapters are instantiated per provider.
		adapterName = id
	}
	return provider.Descriptor{
		ID:              id,
		Adapter:         adapterName,
		Model:           c.Aliases.Resolve(p.Model),
		Capabilities:    append([]string(nil), p.Capabilities...),
		Priority:        p.Priority,
		Timeout:         p.Timeout,
		MaxOutputTokens: p.MaxOutputTokens,
		Pricing: provider.Pricing{
			PromptPer1K:     usd(p.PromptPer1K),
			CompletionPer1K: usd(p.CompletionPer1K),
			MinPerCall:      usd(p.MinPerCall),
		},
		DailyCap:   usd(p.DailyCapUSD),
		MonthlyCap: usd(p.MonthlyCapUSD),
		Breaker: provider.BreakerSettings{
			FailureThreshold: p.FailureThreshold,
			CoolDown:         p.CoolDown,
			HalfOpenTrials:   p.HalfOpenTrials,
		},
		RequestsPerMinute: p.RequestsPerMinute,
	}, nil
}

// EnabledProviders returns enabled provider IDs, sorted.
func (c *Config) EnabledProviders() []string {
	ids := make([]string, 0, len(c.Providers))
	for id, p := range c.Providers {
		if !p.Disabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Registry builds the provider registry from every enabled provider.
func (c *Config) Registry() (*provider.Registry, error) {
	var descs []provider.Descriptor
	for _, id := range c.EnabledProviders() {
		d, err := c.Descriptor(id)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return provider.NewRegistry(descs...)
}

// Adapters instantiates one adapter per distinct transport used by enabled
// providers. SDK adapters are shared; OpenAI-compatible and mock adapters are
// created per provider under the provider's ID.
func (c *Config) Adapters(httpClient *http.Client) adapter.Registry {
	reg := adapter.Registry{}
	for _, id := range c.EnabledProviders() {
		p := c.Providers[id]
		switch p.Adapter {
		case AdapterAnthropic:
			if _, ok := reg.Get(AdapterAnthropic); !ok {
				reg.Register(adapter.NewAnthropicAdapter())
			}
		case AdapterOpenAI:
			if _, ok := reg.Get(AdapterOpenAI); !ok {
				reg.Register(adapter.NewOpenAIAdapter())
			}
		case AdapterGoogle:
			if _, ok := reg.Get(AdapterGoogle); !ok {
				reg.Register(adapter.NewGoogleAdapter())
			}
		case AdapterCompat:
			reg.Register(adapter.NewCompatAdapter(id, p.BaseURL, httpClient))
		case AdapterMock:
			reg.Register(adapter.NewMockAdapter(adapter.WithMockName(id)))
		}
	}
	return reg
}

// DefaultConfig describes the five providers of the medical knowledge platform.
func DefaultConfig() *Config {
	research := []string{"research_analysis", "evidence_synthesis", "summarize", "general"}
	return &Config{
		Providers: map[string]ProviderConfig{
			"anthropic": {
				Adapter:         AdapterAnthropic,
				Model:           "quality",
				Capabilities:    []string{"text_refinement", "evidence_synthesis", "enhance", "summarize", "general"},
				Priority:        1,
				PromptPer1K:     0.003,
				CompletionPer1K: 0.015,
			},
			"google": {
				Adapter:         AdapterGoogle,
				Model:           "research",
				Capabilities:    append([]string{"visual_integration"}, research...),
				Priority:        2,
				PromptPer1K:     0.00125,
				CompletionPer1K: 0.005,
			},
			"openai": {
				Adapter:         AdapterOpenAI,
				Model:           "general",
				Capabilities:    []string{"text_refinement", "enhance", "summarize", "general"},
				Priority:        3,
				PromptPer1K:     0.0025,
				CompletionPer1K: 0.01,
			},
			"perplexity": {
				Adapter:         AdapterCompat,
				BaseURL:         adapter.PerplexityBaseURL,
				Model:           "online",
				Capabilities:    []string{"research_analysis", "visual_integration", "evidence_synthesis"},
				Priority:        4,
				PromptPer1K:     0.003,
				CompletionPer1K: 0.015,
				MinPerCall:      0.005,
			},
			"deepseek": {
				Adapter:         AdapterCompat,
				BaseURL:         adapter.DeepSeekBaseURL,
				Model:           "cheap",
				Capabilities:    []string{"research_analysis", "summarize", "general"},
				Priority:        5,
				PromptPer1K:     0.00027,
				CompletionPer1K: 0.0011,
			},
		},
		Aliases: DefaultAliases(),
		Routing: RoutingConfig{
			DefaultTaskTag: "general",
			Triggers: map[string][]string{
				"research_analysis":  {"research", "analyze", "analysis", "statistical", "outcomes"},
				"evidence_synthesis": {"evidence", "meta-analysis", "systematic review", "literature", "synthesize evidence"},
				"text_refinement":    {"refine", "polish", "rewrite", "proofread", "improve wording"},
				"summarize":          {"summarize", "summary", "tldr", "key points"},
				"enhance":            {"enhance", "expand", "elaborate"},
				"visual_integration": {"image", "anatomical", "diagram", "figure"},
			},
		},
		Budget: BudgetConfig{GlobalMonthlyUSD: 1800, LowWatermarkUSD: 2},
	}
}
