// Package credential rotates provider API keys and parks keys that fail
// authentication until their cooldown expires.
package credential

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is returned by Acquire when every slot of a provider is cooling down
// or the provider has no slots at all.
var ErrUnavailable = errors.New("no credential available")

// DefaultAuthCooldown is how long a rejected credential is skipped.
const DefaultAuthCooldown = 5 * time.Minute

// Credential is one API key for one provider. ID is safe to log; Secret is not.
type Credential struct {
	ID     string
	Secret string
}

func (c Credential) String() string {
	return c.ID
}

type slot struct {
	cred         Credential
	coolingUntil time.Time
	successes    int
	authFailures int
	lastUsed     time.Time
}

type providerSlots struct {
	slots  []*slot
	cursor int
}

// Pool holds the credential slots of every provider.
type Pool struct {
	mu           sync.Mutex
	providers    map[string]*providerSlots
	authCooldown time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithAuthCooldown sets how long a credential is skipped after an auth failure.
func WithAuthCooldown(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.authCooldown = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates an empty pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		providers:    make(map[string]*providerSlots),
		authCooldown: DefaultAuthCooldown,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("credential")
	return p
}

// Add appends credentials to a provider's rotation, in order.
func (p *Pool) Add(provider string, creds ...Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps := p.slotsFor(provider)
	for _, c := range creds {
		if c.ID == "" {
			c.ID = fmt.Sprintf("%s-%d", provider, len(ps.slots)+1)
		}
		ps.slots = append(ps.slots, &slot{cred: c})
	}
}

func (p *Pool) slotsFor(provider string) *providerSlots {
	ps, ok := p.providers[provider]
	if !ok {
		ps = &providerSlots{}
		p.providers[provider] = ps
	}
	return ps
}

// Acquire returns the first slot at or after the cursor whose cooldown has
// expired, and moves the cursor past it.
func (p *Pool) Acquire(provider string) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.providers[provider]
	if !ok || len(ps.slots) == 0 {
		return Credential{}, fmt.Errorf("%s: %w", provider, ErrUnavailable)
	}

	now := p.now()
	n := len(ps.slots)
	for i := 0; i < n; i++ {
		idx := (ps.cursor + i) % n
		s := ps.slots[idx]
		if now.Before(s.coolingUntil) {
			continue
		}
		ps.cursor = (idx + 1) % n
		s.lastUsed = now
		return s.cred, nil
	}
	return Credential{}, fmt.Errorf("%s: %w", provider, ErrUnavailable)
}

// Return hands back a credential that was acquired but never used, so the
// next Acquire picks it again. It is a no-op once another Acquire has moved
// the cursor.
func (p *Pool) Return(provider string, cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.providers[provider]
	if !ok || len(ps.slots) == 0 {
		return
	}
	n := len(ps.slots)
	for idx, s := range ps.slots {
		if s.cred.ID == cred.ID && ps.cursor == (idx+1)%n {
			ps.cursor = idx
			return
		}
	}
}

// Available reports whether Acquire would currently succeed, without moving the cursor.
func (p *Pool) Available(provider string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.providers[provider]
	if !ok {
		return false
	}
	now := p.now()
	for _, s := range ps.slots {
		if !now.Before(s.coolingUntil) {
			return true
		}
	}
	return false
}

// ReportAuthFailure parks the credential until now + auth cooldown and moves the
// cursor past it.
func (p *Pool) ReportAuthFailure(provider string, cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.providers[provider]
	if !ok {
		return
	}
	for idx, s := range ps.slots {
		if s.cred.ID != cred.ID {
			continue
		}
		s.coolingUntil = p.now().Add(p.authCooldown)
		s.authFailures++
		if ps.cursor == idx {
			ps.cursor = (idx + 1) % len(ps.slots)
		}
		p.logger.Warn("credential rejected, cooling down",
			zap.String("provider", provider),
			zap.String("credential", cred.ID),
			zap.Time("until", s.coolingUntil))
		return
	}
}

// ReportSuccess records a successful call with the credential.
func (p *Pool) ReportSuccess(provider string, cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.providers[provider]
	if !ok {
		return
	}
	for _, s := range ps.slots {
		if s.cred.ID == cred.ID {
			s.successes++
			return
		}
	}
}

// Rotate moves the cursor one slot forward, so the next Acquire skips the
// currently preferred credential.
func (p *Pool) Rotate(provider string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.providers[provider]
	if !ok || len(ps.slots) == 0 {
		return fmt.Errorf("%s: %w", provider, ErrUnavailable)
	}
	ps.cursor = (ps.cursor + 1) % len(ps.slots)
	p.logger.Info("credential rotated", zap.String("provider", provider), zap.Int("cursor", ps.cursor))
	return nil
}

// SlotStatus describes one credential slot.
type SlotStatus struct {
	ID           string    `json:"id" yaml:"id"`
	Cooling      bool      `json:"cooling" yaml:"cooling"`
	CoolingUntil time.Time `json:"cooling_until,omitempty" yaml:"cooling_until,omitempty"`
	Successes    int       `json:"successes" yaml:"successes"`
	AuthFailures int       `json:"auth_failures" yaml:"auth_failures"`
	LastUsed     time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
}

// Status summarizes a provider's credentials.
type Status struct {
	Total     int          `json:"total" yaml:"total"`
	Available int          `json:"available" yaml:"available"`
	Cooling   int          `json:"cooling" yaml:"cooling"`
	Slots     []SlotStatus `json:"slots,omitempty" yaml:"slots,omitempty"`
}

// Status returns a snapshot of a provider's slots.
func (p *Pool) Status(provider string) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	var st Status
	ps, ok := p.providers[provider]
	if !ok {
		return st
	}
	now := p.now()
	for _, s := range ps.slots {
		cooling := now.Before(s.coolingUntil)
		ss := SlotStatus{
			ID:           s.cred.ID,
			Cooling:      cooling,
			Successes:    s.successes,
			AuthFailures: s.authFailures,
			LastUsed:     s.lastUsed,
		}
		st.Total++
		if cooling {
			ss.CoolingUntil = s.coolingUntil
			st.Cooling++
		} else {
			st.Available++
		}
		st.Slots = append(st.Slots, ss)
	}
	return st
}
