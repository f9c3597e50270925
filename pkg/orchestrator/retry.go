package orchestrator

import (
	"context"
	"time"

	"github.com/zen-systems/medorch/pkg/adapter"
)

// Backoff bounds the retries of one error kind on the same provider.
type Backoff struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// RetryPolicy maps each error kind to its backoff. Kinds not listed are not retried.
type RetryPolicy map[adapter.Kind]Backoff

// DefaultRetryPolicy retries transient errors and timeouts twice with
// exponential backoff between 200ms and 2s.
func DefaultRetryPolicy() RetryPolicy {
	b := Backoff{MaxRetries: 2, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}
	return RetryPolicy{
		adapter.KindTransient: b,
		adapter.KindTimeout:   b,
	}
}

// For returns the backoff of a kind.
func (p RetryPolicy) For(kind adapter.Kind) Backoff {
	return p[kind]
}

func computeBackoff(b Backoff, attempt int) time.Duration {
	backoff := b.BaseBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if b.MaxBackoff > 0 && backoff >= b.MaxBackoff {
			return b.MaxBackoff
		}
	}
	if b.MaxBackoff > 0 && backoff > b.MaxBackoff {
		return b.MaxBackoff
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
