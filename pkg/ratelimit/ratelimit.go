// Package ratelimit caps outbound requests per provider per minute.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a provider's request budget for the current
// minute is used up.
var ErrRateLimited = errors.New("rate limited")

// Set holds one token bucket per provider. Providers without a configured
// limit are never throttled.
type Set struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// Option configures a Set.
type Option func(*Set)

// WithClock overrides the time source used for token accounting.
func WithClock(now func() time.Time) Option {
	return func(s *Set) {
		s.now = now
	}
}

// NewSet creates an empty limiter set.
func NewSet(opts ...Option) *Set {
	s := &Set{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure sets a provider's limit. The bucket refills at perMinute/60 per
// second and holds at most perMinute tokens. perMinute <= 0 removes the limit.
func (s *Set) Configure(provider string, perMinute int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if perMinute <= 0 {
		delete(s.limiters, provider)
		return
	}
	s.limiters[provider] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func (s *Set) limiter(provider string) *rate.Limiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limiters[provider]
}

// Headroom reports whether a request could be sent now, without consuming a token.
func (s *Set) Headroom(provider string) bool {
	l := s.limiter(provider)
	if l == nil {
		return true
	}
	return l.TokensAt(s.now()) >= 1
}

// Reserve takes one token or returns ErrRateLimited. The returned cancel
// gives the token back when the call is abandoned before it is sent.
func (s *Set) Reserve(provider string) (cancel func(), err error) {
	l := s.limiter(provider)
	if l == nil {
		return func() {}, nil
	}
	now := s.now()
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return nil, fmt.Errorf("%s: %w", provider, ErrRateLimited)
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return nil, fmt.Errorf("%s: %w", provider, ErrRateLimited)
	}
	var once sync.Once
	return func() {
		// Cancelling at the reservation time restores the token in full.
		once.Do(func() { r.CancelAt(now) })
	}, nil
}

// Remaining returns the whole tokens currently available, or -1 when unlimited.
func (s *Set) Remaining(provider string) int {
	l := s.limiter(provider)
	if l == nil {
		return -1
	}
	tokens := l.TokensAt(s.now())
	if tokens < 0 {
		return 0
	}
	return int(tokens)
}
