package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zen-systems/medorch/pkg/adapter"
	"github.com/zen-systems/medorch/pkg/credential"
	"github.com/zen-systems/medorch/pkg/provider"
)

// dispatch admits and makes exactly one call to a provider, then records the
// outcome. It returns a nil outcome only when admission rejected the call.
//
// Admission order is rate limit, budget reservation, credential, breaker. The
// breaker goes last because its trial slot cannot be handed back once taken;
// the earlier steps are undone when a later one rejects.
func (o *Orchestrator) dispatch(ctx context.Context, d provider.Descriptor, req Request) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := o.adapters.Get(d.AdapterName())
	if !ok {
		return nil, fmt.Errorf("%s: adapter %q not registered", d.ID, d.AdapterName())
	}

	cancelRate, err := o.rates.Reserve(d.ID)
	if err != nil {
		return nil, err
	}

	estimate := d.EstimateCost(req.Prompt)
	reservation, err := o.ledger.Admit(d.ID, estimate)
	if err != nil {
		cancelRate()
		return nil, err
	}

	var cred credential.Credential
	if o.credentials != nil {
		cred, err = o.credentials.Acquire(d.ID)
		if err != nil {
			reservation.Release()
			cancelRate()
			return nil, fmt.Errorf("%w: %w", ErrCredentialExhausted, err)
		}
	}

	done, err := o.breakers.Allow(d.ID)
	if err != nil {
		// A rejected call leaves no trace in the other admission state.
		reservation.Release()
		cancelRate()
		if o.credentials != nil {
			o.credentials.Return(d.ID, cred)
		}
		return nil, err
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.Timeout)
	}
	defer cancel()

	callCtx, span := o.tracer.Start(callCtx, "provider.generate",
		trace.WithAttributes(
			attribute.String("medorch.request_id", req.ID),
			attribute.String("medorch.task_tag", req.TaskTag),
			attribute.String("medorch.provider", d.ID),
			attribute.String("medorch.model", d.Model),
		))
	defer span.End()

	start := time.Now()
	resp, err := callAdapter(callCtx, a, adapter.Call{
		Credential: cred.Secret,
		Model:      d.Model,
		Prompt:     req.Prompt,
		MaxTokens:  d.MaxOutputTokens,
	})
	out := &Outcome{
		RequestID: req.ID,
		TaskTag:   req.TaskTag,
		Provider:  d.ID,
		Model:     d.Model,
		Latency:   since(start),
		Attempts:  1,
	}

	if err != nil {
		kind := adapter.Classify(err)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// The caller gave up; the call is recorded like a timeout.
			kind = adapter.KindTimeout
		}
		done(false)
		reservation.Release()
		if kind == adapter.KindAuth && o.credentials != nil {
			o.credentials.ReportAuthFailure(d.ID, cred)
		}

		out.Err = err
		out.ErrorKind = kind.String()
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		o.logger.Warn("provider call failed",
			zap.String("request_id", req.ID),
			zap.String("provider", d.ID),
			zap.String("kind", kind.String()),
			zap.Duration("latency", out.Latency),
			zap.Error(err))
		return out, err
	}

	done(true)
	if o.credentials != nil {
		o.credentials.ReportSuccess(d.ID, cred)
	}
	cost, known := d.CostFromUsage(resp.Usage)
	if !known {
		cost = estimate
		out.CostEstimated = true
	}
	reservation.Commit(cost)

	out.Artifact = resp.Artifact.WithMetadata("task_tag", req.TaskTag)
	out.Usage = resp.Usage
	out.Cost = cost
	span.SetAttributes(attribute.String("medorch.cost_usd", cost.StringFixed(4)))
	span.SetStatus(codes.Ok, "")
	o.logger.Info("provider call succeeded",
		zap.String("request_id", req.ID),
		zap.String("provider", d.ID),
		zap.Duration("latency", out.Latency),
		zap.String("cost_usd", cost.StringFixed(4)))
	return out, nil
}

type callResult struct {
	resp *adapter.Response
	err  error
}

// callAdapter races the adapter against ctx so an adapter that ignores
// cancellation cannot hold the caller past its deadline.
func callAdapter(ctx context.Context, a adapter.Adapter, call adapter.Call) (*adapter.Response, error) {
	ch := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- callResult{err: fmt.Errorf("adapter %s panicked: %v", a.Name(), r)}
			}
		}()
		resp, err := a.Generate(ctx, call)
		if err == nil && (resp == nil || resp.Artifact == nil || strings.TrimSpace(resp.Artifact.Content) == "") {
			err = &adapter.Error{Provider: a.Name(), Err: fmt.Errorf("%s: %w", a.Name(), adapter.ErrEmptyResponse)}
		}
		ch <- callResult{resp: resp, err: err}
	}()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
