// Package breaker keeps one circuit breaker per provider.
//
// Each breaker is a gobreaker two-step breaker: Allow reserves admission right
// before the network call and the returned Done records the outcome. The state
// machine is the classic one: CLOSED trips to OPEN after FailureThreshold
// consecutive failures, OPEN rejects everything until CoolDown elapses, then
// HALF_OPEN admits at most HalfOpenTrials calls; that many successes close the
// circuit and any failure reopens it.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a provider's breaker rejects a call, either
// because it is OPEN or because its HALF_OPEN trial budget is used up.
var ErrCircuitOpen = errors.New("circuit open")

// State represents circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Settings configures one provider's breaker.
type Settings struct {
	FailureThreshold uint32
	CoolDown         time.Duration
	HalfOpenTrials   uint32
}

// DefaultSettings mirrors the original platform's failure threshold.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		CoolDown:         60 * time.Second,
		HalfOpenTrials:   1,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.FailureThreshold == 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.CoolDown <= 0 {
		s.CoolDown = d.CoolDown
	}
	if s.HalfOpenTrials == 0 {
		s.HalfOpenTrials = d.HalfOpenTrials
	}
	return s
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32 `json:"requests" yaml:"requests"`
	TotalSuccesses       uint32 `json:"total_successes" yaml:"total_successes"`
	TotalFailures        uint32 `json:"total_failures" yaml:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes" yaml:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures" yaml:"consecutive_failures"`
}

// Done records the outcome of an admitted call. It must be called exactly once.
type Done func(success bool)

// StateChangeListener is notified when a provider's breaker changes state.
type StateChangeListener func(provider string, from, to State)

type entry struct {
	cb       *gobreaker.TwoStepCircuitBreaker
	settings Settings
}

// Set holds the breakers of all providers. Breakers are created lazily on first use.
type Set struct {
	mu        sync.RWMutex
	breakers  map[string]*entry
	settings  map[string]Settings
	defaults  Settings
	listeners []StateChangeListener
	logger    *zap.Logger
}

// Option configures a Set.
type Option func(*Set)

// WithDefaults sets the settings used for providers without explicit configuration.
func WithDefaults(s Settings) Option {
	return func(set *Set) {
		set.defaults = s.withDefaults()
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(set *Set) {
		set.logger = logger
	}
}

// WithStateChangeListener registers a listener for state changes.
func WithStateChangeListener(l StateChangeListener) Option {
	return func(set *Set) {
		if l != nil {
			set.listeners = append(set.listeners, l)
		}
	}
}

// NewSet creates an empty breaker set.
func NewSet(opts ...Option) *Set {
	s := &Set{
		breakers: make(map[string]*entry),
		settings: make(map[string]Settings),
		defaults: DefaultSettings(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("breaker")
	return s
}

// Configure sets a provider's settings. It only affects breakers created afterwards
// (or after Reset).
func (s *Set) Configure(provider string, settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[provider] = settings.withDefaults()
}

func (s *Set) get(provider string) *entry {
	s.mu.RLock()
	e, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok = s.breakers[provider]; ok {
		return e
	}
	e = s.newEntry(provider)
	s.breakers[provider] = e
	return e
}

// newEntry must be called with s.mu held.
func (s *Set) newEntry(provider string) *entry {
	settings, ok := s.settings[provider]
	if !ok {
		settings = s.defaults
	}
	threshold := settings.FailureThreshold
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: settings.HalfOpenTrials,
		Timeout:     settings.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.handleStateChange(name, from, to)
		},
	})
	return &entry{cb: cb, settings: settings}
}

// IsAdmissible reports whether a call to the provider would currently be
// admitted. It does not reserve a HALF_OPEN trial slot.
func (s *Set) IsAdmissible(provider string) bool {
	e := s.get(provider)
	switch e.cb.State() {
	case gobreaker.StateClosed:
		return true
	case gobreaker.StateHalfOpen:
		return e.cb.Counts().Requests < e.settings.HalfOpenTrials
	default:
		return false
	}
}

// Allow reserves admission for one call. On success the caller must invoke the
// returned Done with the call's outcome.
func (s *Set) Allow(provider string) (Done, error) {
	e := s.get(provider)
	done, err := e.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Debug("half-open trial budget exhausted", zap.String("provider", provider))
		}
		return nil, fmt.Errorf("%s: %w", provider, ErrCircuitOpen)
	}

	var once sync.Once
	return func(success bool) {
		once.Do(func() { done(success) })
	}, nil
}

// State returns the provider's current state.
func (s *Set) State(provider string) State {
	return convertState(s.get(provider).cb.State())
}

// Counts returns the provider's current counters.
func (s *Set) Counts(provider string) Counts {
	c := s.get(provider).cb.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Reset replaces the provider's breaker with a fresh CLOSED one.
func (s *Set) Reset(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.breakers[provider] = s.newEntry(provider)
	s.logger.Info("circuit breaker reset", zap.String("provider", provider))
}

func (s *Set) handleStateChange(provider string, from, to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		s.logger.Warn("circuit opened, provider calls will fail fast", zap.String("provider", provider), zap.String("from", from.String()))
	case gobreaker.StateHalfOpen:
		s.logger.Info("circuit half-open, probing provider", zap.String("provider", provider))
	case gobreaker.StateClosed:
		s.logger.Info("circuit closed, provider healthy", zap.String("provider", provider))
	}

	s.mu.RLock()
	listeners := make([]StateChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	// Listeners run outside gobreaker's lock so they may query the Set.
	for _, l := range listeners {
		go func(l StateChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("state change listener panic", zap.String("provider", provider), zap.Any("panic", r))
				}
			}()
			l(provider, convertState(from), convertState(to))
		}(l)
	}
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
