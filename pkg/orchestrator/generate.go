package orchestrator

import (
	"context"
	"errors"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/zen-systems/medorch/pkg/adapter"
	"github.com/zen-systems/medorch/pkg/provider"
	"github.com/zen-systems/medorch/pkg/router"
)

// prepare assigns a request ID and applies the request deadline.
func (o *Orchestrator) prepare(ctx context.Context, req *Request) (context.Context, context.CancelFunc) {
	if req.ID == "" {
		req.ID = xid.New().String()
	}
	if !req.Deadline.IsZero() {
		return context.WithDeadline(ctx, req.Deadline)
	}
	return context.WithCancel(ctx)
}

// Generate answers a request from a single provider. Candidates are tried in
// router order; each gets bounded retries per error kind, and auth failures
// rotate to the provider's next credential. Admission rejections skip to the
// next candidate without counting as attempts. Once the request deadline
// passes no further candidate is tried.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Outcome, error) {
	ctx, cancel := o.prepare(ctx, &req)
	defer cancel()

	decision, err := o.router.SelectCandidates(router.Query{
		TaskTag: req.TaskTag,
		Prompt:  req.Prompt,
		Pinned:  req.Providers,
	})
	req.TaskTag = decision.TaskTag
	if err != nil {
		o.logger.Warn("no provider available", zap.String("request_id", req.ID), zap.String("task_tag", req.TaskTag))
		return nil, &Error{
			RequestID: req.ID,
			TaskTag:   req.TaskTag,
			Skipped:   decision.Excluded,
			Terminal:  ErrAllProvidersUnavailable,
		}
	}

	terminal := &Error{RequestID: req.ID, TaskTag: req.TaskTag, Skipped: decision.Excluded}
	for idx, id := range decision.Candidates {
		if ctx.Err() != nil {
			break
		}
		d, _ := o.registry.Get(id)

		out, err := o.tryProvider(ctx, d, req)
		if err == nil {
			out.Fallback = idx > 0
			out.Decision = decision
			return out, nil
		}
		if out == nil {
			terminal.Skipped = append(terminal.Skipped, router.Exclusion{Provider: id, Reason: reasonFor(err)})
			o.logger.Debug("provider skipped at admission",
				zap.String("request_id", req.ID), zap.String("provider", id), zap.Error(err))
			continue
		}
		terminal.Attempted++
		terminal.Cause = err
	}

	terminal.Terminal = ErrAllProvidersFailed
	if terminal.Attempted == 0 {
		terminal.Terminal = ErrAllProvidersUnavailable
		if terminal.Cause == nil && ctx.Err() != nil {
			terminal.Cause = ctx.Err()
		}
	}
	return nil, terminal
}

// tryProvider runs the retry loop for one provider. The returned outcome is nil
// when no network call was made.
func (o *Orchestrator) tryProvider(ctx context.Context, d provider.Descriptor, req Request) (*Outcome, error) {
	var last *Outcome
	attempts := 0
	retries := make(map[adapter.Kind]int)

	for {
		out, err := o.dispatch(ctx, d, req)
		if out == nil {
			if last != nil {
				// Earlier calls happened; report the provider as failed with the
				// last call error rather than as skipped.
				return last, last.Err
			}
			return nil, err
		}
		attempts++
		out.Attempts = attempts
		if err == nil {
			return out, nil
		}
		last = out

		if ctx.Err() != nil {
			return last, err
		}

		kind := adapter.Classify(err)
		if kind == adapter.KindAuth && o.credentials != nil {
			// Rotation: the failed slot is cooling, so the next dispatch
			// acquires another one or reports the pool exhausted.
			continue
		}

		policy := o.retry.For(kind)
		if retries[kind] >= policy.MaxRetries {
			return last, err
		}
		backoff := computeBackoff(policy, retries[kind])
		retries[kind]++
		o.logger.Debug("retrying provider",
			zap.String("request_id", req.ID),
			zap.String("provider", d.ID),
			zap.String("kind", kind.String()),
			zap.Duration("backoff", backoff))
		if err := sleepWithContext(ctx, backoff); err != nil {
			return last, errors.Join(last.Err, err)
		}
	}
}
