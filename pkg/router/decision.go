package router

// Reason explains why a provider was left out of a decision.
type Reason string

const (
	ReasonUnknownProvider Reason = "unknown_provider"
	ReasonCapability      Reason = "capability"
	ReasonCircuitOpen     Reason = "circuit_open"
	ReasonCredentials     Reason = "credentials_exhausted"
	ReasonBudget          Reason = "budget_exceeded"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonDeadline        Reason = "deadline_exceeded"
)

// Exclusion records one skipped provider.
type Exclusion struct {
	Provider string `json:"provider" yaml:"provider"`
	Reason   Reason `json:"reason" yaml:"reason"`
}

// Decision captures routing decision details.
type Decision struct {
	TaskTag    string      `json:"task_tag" yaml:"task_tag"`
	Inferred   bool        `json:"inferred,omitempty" yaml:"inferred,omitempty"`
	Trigger    string      `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Pinned     bool        `json:"pinned,omitempty" yaml:"pinned,omitempty"`
	Candidates []string    `json:"candidates" yaml:"candidates"`
	Excluded   []Exclusion `json:"excluded,omitempty" yaml:"excluded,omitempty"`
}

// Empty reports whether no provider survived filtering.
func (d *Decision) Empty() bool {
	return d == nil || len(d.Candidates) == 0
}

// ExcludedFor returns the reason a provider was skipped, if it was.
func (d *Decision) ExcludedFor(provider string) (Reason, bool) {
	if d == nil {
		return "", false
	}
	for _, e := range d.Excluded {
		if e.Provider == provider {
			return e.Reason, true
		}
	}
	return "", false
}
