package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zen-systems/medorch/pkg/breaker"
	"github.com/zen-systems/medorch/pkg/budget"
	"github.com/zen-systems/medorch/pkg/ratelimit"
	"github.com/zen-systems/medorch/pkg/router"
)

// Admission rejections. A provider rejected with one of these was skipped
// without a network call.
var (
	ErrCircuitOpen         = breaker.ErrCircuitOpen
	ErrBudgetExceeded      = budget.ErrBudgetExceeded
	ErrCredentialExhausted = errors.New("credentials exhausted")
	ErrRateLimited         = ratelimit.ErrRateLimited
)

// Terminal errors surfaced to callers.
var (
	// ErrAllProvidersUnavailable means no provider was even attempted.
	ErrAllProvidersUnavailable = router.ErrAllProvidersUnavailable
	// ErrAllProvidersFailed means every attempted provider failed.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// Error is the terminal failure of a request.
type Error struct {
	RequestID string
	TaskTag   string
	// Attempted counts providers that received at least one network call.
	Attempted int
	Skipped   []router.Exclusion
	// Terminal is ErrAllProvidersUnavailable or ErrAllProvidersFailed.
	Terminal error
	// Cause is the last provider error, if any call was made.
	Cause error
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "task %q: %v (attempted %d, skipped %d)", e.TaskTag, e.Terminal, e.Attempted, len(e.Skipped))
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Terminal}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func reasonFor(err error) router.Reason {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return router.ReasonCircuitOpen
	case errors.Is(err, ErrBudgetExceeded):
		return router.ReasonBudget
	case errors.Is(err, ErrCredentialExhausted):
		return router.ReasonCredentials
	case errors.Is(err, ErrRateLimited):
		return router.ReasonRateLimited
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return router.ReasonDeadline
	default:
		return router.ReasonUnknownProvider
	}
}
