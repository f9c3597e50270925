package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrEmptyResponse means the provider answered without any text, as when a
// safety filter blocks the answer or only non-text blocks come back.
var ErrEmptyResponse = errors.New("empty response")

// Kind classifies an adapter failure for retry and fallback decisions.
type Kind int

const (
	// KindPermanent failures are not retried on the same provider.
	KindPermanent Kind = iota
	// KindTransient failures (rate limits, 5xx) are retried with backoff.
	KindTransient
	// KindTimeout failures exceeded the call deadline.
	KindTimeout
	// KindAuth failures mean the credential was rejected.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	default:
		return "permanent"
	}
}

// Error wraps provider errors with status metadata.
type Error struct {
	Provider  string
	Status    int
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: adapter error (status=%d)", e.Provider, e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Classify maps an error returned by Generate to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var adapterErr *Error
	if errors.As(err, &adapterErr) {
		switch {
		case adapterErr.Status == http.StatusUnauthorized || adapterErr.Status == http.StatusForbidden:
			return KindAuth
		case adapterErr.Status == http.StatusRequestTimeout || adapterErr.Status == http.StatusGatewayTimeout:
			return KindTimeout
		case adapterErr.Temporary:
			return KindTransient
		case adapterErr.Status == http.StatusTooManyRequests || (adapterErr.Status >= 500 && adapterErr.Status <= 599):
			return KindTransient
		}
	}
	return KindPermanent
}

// IsTransient reports whether an error is safe to retry on the same provider.
func IsTransient(err error) bool {
	kind := Classify(err)
	return kind == KindTransient || kind == KindTimeout
}

func statusError(provider string, status int, err error) error {
	return &Error{Provider: provider, Status: status, Err: err}
}
