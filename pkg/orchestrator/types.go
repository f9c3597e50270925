package orchestrator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zen-systems/medorch/pkg/adapter"
	"github.com/zen-systems/medorch/pkg/artifact"
	"github.com/zen-systems/medorch/pkg/router"
)

// DefaultSynthesizeCount is the fan-out width when a request does not set one.
const DefaultSynthesizeCount = 3

// Request is one generation or synthesis request.
type Request struct {
	ID      string `json:"id,omitempty"`
	TaskTag string `json:"task_tag,omitempty"`
	Prompt  string `json:"prompt"`
	// Providers pins the candidate order; the usual filters still apply.
	Providers       []string  `json:"providers,omitempty"`
	SynthesizeCount int       `json:"synthesize_count,omitempty"`
	Deadline        time.Time `json:"deadline,omitempty"`
}

// Outcome is the result of the calls made to one provider.
type Outcome struct {
	RequestID string             `json:"request_id" yaml:"request_id"`
	TaskTag   string             `json:"task_tag" yaml:"task_tag"`
	Provider  string             `json:"provider" yaml:"provider"`
	Model     string             `json:"model" yaml:"model"`
	Artifact  *artifact.Artifact `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Usage     *adapter.Usage     `json:"usage,omitempty" yaml:"usage,omitempty"`
	Latency   time.Duration      `json:"latency" yaml:"latency"`
	Cost      decimal.Decimal    `json:"cost" yaml:"cost"`
	// CostEstimated is set when the provider reported no usage.
	CostEstimated bool   `json:"cost_estimated,omitempty" yaml:"cost_estimated,omitempty"`
	Attempts      int    `json:"attempts" yaml:"attempts"`
	Fallback      bool   `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Err           error  `json:"-" yaml:"-"`

	Decision *router.Decision `json:"decision,omitempty" yaml:"decision,omitempty"`
}

// Succeeded reports whether the outcome carries content.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Err == nil && o.Artifact != nil
}
