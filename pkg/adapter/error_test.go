package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: KindTimeout},
		{name: "canceled", err: context.Canceled, want: KindPermanent},
		{name: "net timeout", err: timeoutNetError{}, want: KindTimeout},
		{name: "unauthorized", err: &Error{Status: 401}, want: KindAuth},
		{name: "forbidden", err: fmt.Errorf("wrapped: %w", &Error{Status: 403}), want: KindAuth},
		{name: "rate limited", err: &Error{Status: 429}, want: KindTransient},
		{name: "server error", err: &Error{Status: 503}, want: KindTransient},
		{name: "gateway timeout", err: &Error{Status: 504}, want: KindTimeout},
		{name: "temporary flag", err: &Error{Temporary: true}, want: KindTransient},
		{name: "bad request", err: &Error{Status: 400}, want: KindPermanent},
		{name: "plain", err: errors.New("boom"), want: KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&Error{Status: 429}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(&Error{Status: 401}))
	assert.False(t, IsTransient(nil))
}
