package orchestrator

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/medorch/pkg/router"
	"github.com/zen-systems/medorch/pkg/synth"
)

// Synthesize fans the request out to up to SynthesizeCount providers at once,
// one attempt each, and merges whatever succeeded. Each call gets its own
// deadline (the provider timeout, capped by the request deadline); a call that
// runs over is recorded as a timeout without holding up the others. The result
// may come from fewer providers than requested; only zero successes is an error.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (*synth.Result, error) {
	ctx, cancel := o.prepare(ctx, &req)
	defer cancel()

	n := req.SynthesizeCount
	if n <= 0 {
		n = DefaultSynthesizeCount
	}

	decision, err := o.router.SelectCandidates(router.Query{
		TaskTag: req.TaskTag,
		Prompt:  req.Prompt,
		Pinned:  req.Providers,
		Limit:   n,
	})
	req.TaskTag = decision.TaskTag
	if err != nil {
		return nil, &Error{
			RequestID: req.ID,
			TaskTag:   req.TaskTag,
			Skipped:   decision.Excluded,
			Terminal:  ErrAllProvidersUnavailable,
		}
	}

	outcomes := make([]*Outcome, len(decision.Candidates))
	errs := make([]error, len(decision.Candidates))

	var g errgroup.Group
	g.SetLimit(o.maxConcurrent)
	for i, id := range decision.Candidates {
		d, _ := o.registry.Get(id)
		g.Go(func() error {
			// A candidate queued behind the concurrency limit may find the
			// deadline already gone; it is skipped, not failed.
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			outcomes[i], errs[i] = o.dispatch(ctx, d, req)
			return nil
		})
	}
	_ = g.Wait()

	terminal := &Error{RequestID: req.ID, TaskTag: req.TaskTag, Skipped: decision.Excluded}
	var inputs []synth.Input
	for i, out := range outcomes {
		switch {
		case out == nil:
			terminal.Skipped = append(terminal.Skipped, router.Exclusion{Provider: decision.Candidates[i], Reason: reasonFor(errs[i])})
		case out.Succeeded():
			inputs = append(inputs, synth.Input{Provider: out.Provider, Artifact: out.Artifact, Latency: out.Latency})
		default:
			terminal.Attempted++
			terminal.Cause = errs[i]
		}
	}

	if len(inputs) == 0 {
		terminal.Terminal = ErrAllProvidersFailed
		if terminal.Attempted == 0 {
			terminal.Terminal = ErrAllProvidersUnavailable
			if ctx.Err() != nil {
				terminal.Cause = ctx.Err()
			}
		}
		o.logger.Warn("synthesis produced no answers",
			zap.String("request_id", req.ID),
			zap.Int("attempted", terminal.Attempted),
			zap.Int("skipped", len(terminal.Skipped)))
		return nil, terminal
	}

	res := synth.Merge(inputs, decision.Candidates)
	res.RequestID = req.ID
	res.TaskTag = req.TaskTag
	res.Requested = n
	o.logger.Info("synthesis complete",
		zap.String("request_id", req.ID),
		zap.Int("requested", n),
		zap.Int("available", res.Available),
		zap.Int("entries", len(res.Entries)))
	return res, nil
}
