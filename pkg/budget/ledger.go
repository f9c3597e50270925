// Package budget tracks provider spend per UTC day and per UTC calendar month
// and admits a call only when every applicable cap still has room for it.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrBudgetExceeded is returned by Admit when a cap would be exceeded.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Period identifies the kind of ledger window.
type Period string

const (
	Daily   Period = "daily"
	Monthly Period = "monthly"
)

// globalKey is the pseudo-provider under which the all-provider monthly total is kept.
const globalKey = "*"

// Caps are one provider's spend limits. A zero cap means unlimited.
type Caps struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

type entryKey struct {
	provider string
	period   Period
	start    time.Time
}

// entry is one provider's spend in one period. Spent never decreases within
// the period; Reserved is the sum of estimates admitted but not yet committed.
type entry struct {
	spent    decimal.Decimal
	reserved decimal.Decimal
	overage  decimal.Decimal
}

// Ledger is safe for concurrent use. Entries are created lazily per period, so
// no reset job exists: a lookup in a new period simply starts from zero.
type Ledger struct {
	mu            sync.Mutex
	caps          map[string]Caps
	globalMonthly decimal.Decimal
	entries       map[entryKey]*entry
	lowWatermark  decimal.Decimal
	now           func() time.Time
	logger        *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithGlobalMonthlyCap limits the combined monthly spend of all providers.
func WithGlobalMonthlyCap(c decimal.Decimal) Option {
	return func(l *Ledger) {
		l.globalMonthly = c
	}
}

// WithLowWatermark sets the remaining daily budget under which a provider is
// reported as running low.
func WithLowWatermark(c decimal.Decimal) Option {
	return func(l *Ledger) {
		l.lowWatermark = c
	}
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		caps:         make(map[string]Caps),
		entries:      make(map[entryKey]*entry),
		lowWatermark: decimal.NewFromInt(2),
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("budget")
	return l
}

// SetCaps configures a provider's caps.
func (l *Ledger) SetCaps(provider string, caps Caps) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.caps[provider] = caps
}

// PeriodStart returns the start of the period containing t, in UTC.
func PeriodStart(p Period, t time.Time) time.Time {
	t = t.UTC()
	if p == Monthly {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// lookup must be called with l.mu held.
func (l *Ledger) lookup(provider string, p Period, now time.Time) *entry {
	key := entryKey{provider: provider, period: p, start: PeriodStart(p, now)}
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	return e
}

type check struct {
	e   *entry
	cap decimal.Decimal
	tag string
}

// checks must be called with l.mu held.
func (l *Ledger) checks(provider string, now time.Time) []check {
	caps := l.caps[provider]
	return []check{
		{e: l.lookup(provider, Daily, now), cap: caps.Daily, tag: "daily"},
		{e: l.lookup(provider, Monthly, now), cap: caps.Monthly, tag: "monthly"},
		{e: l.lookup(globalKey, Monthly, now), cap: l.globalMonthly, tag: "global monthly"},
	}
}

func fits(c check, amount decimal.Decimal) bool {
	if !c.cap.IsPositive() {
		return true
	}
	return c.e.spent.Add(c.e.reserved).Add(amount).LessThanOrEqual(c.cap)
}

// Reservation is an admitted estimate awaiting the call's outcome.
type Reservation struct {
	ledger   *Ledger
	provider string
	estimate decimal.Decimal
	entries  []*entry
	once     sync.Once
}

// Admit reserves the estimated cost against every cap of the provider. It
// returns ErrBudgetExceeded, without changing any state, if any cap would be
// exceeded.
func (l *Ledger) Admit(provider string, estimated decimal.Decimal) (*Reservation, error) {
	if estimated.IsNegative() {
		estimated = decimal.Zero
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	checks := l.checks(provider, l.now())
	for _, c := range checks {
		if !fits(c, estimated) {
			return nil, fmt.Errorf("%s %s cap %s (spent %s, reserved %s, estimate %s): %w",
				provider, c.tag, c.cap.StringFixed(2), c.e.spent.StringFixed(2),
				c.e.reserved.StringFixed(2), estimated.StringFixed(2), ErrBudgetExceeded)
		}
	}

	r := &Reservation{ledger: l, provider: provider, estimate: estimated}
	for _, c := range checks {
		c.e.reserved = c.e.reserved.Add(estimated)
		r.entries = append(r.entries, c.e)
	}
	return r, nil
}

// CanAdmit reports whether Admit would currently succeed, without reserving.
func (l *Ledger) CanAdmit(provider string, estimated decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range l.checks(provider, l.now()) {
		if !fits(c, estimated) {
			return false
		}
	}
	return true
}

// Commit releases the reservation and adds the actual cost to the current
// period entries. Spend that would push an entry past its cap is clamped at the
// cap and recorded as overage, so spent never exceeds the cap.
func (r *Reservation) Commit(actual decimal.Decimal) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		l := r.ledger
		l.mu.Lock()
		defer l.mu.Unlock()

		r.release()
		if actual.IsNegative() {
			actual = decimal.Zero
		}
		for _, c := range l.checks(r.provider, l.now()) {
			c.e.spent = c.e.spent.Add(actual)
			if c.cap.IsPositive() && c.e.spent.GreaterThan(c.cap) {
				over := c.e.spent.Sub(c.cap)
				c.e.overage = c.e.overage.Add(over)
				c.e.spent = c.cap
				l.logger.Warn("actual cost exceeded remaining budget",
					zap.String("provider", r.provider),
					zap.String("ledger", c.tag),
					zap.String("overage", over.StringFixed(4)))
			}
		}
	})
}

// Release drops the reservation when no call was made.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.ledger.mu.Lock()
		defer r.ledger.mu.Unlock()
		r.release()
	})
}

// release must be called with the ledger lock held.
func (r *Reservation) release() {
	for _, e := range r.entries {
		e.reserved = e.reserved.Sub(r.estimate)
	}
}

// Usage is a snapshot of one ledger window.
type Usage struct {
	Cap       decimal.Decimal `json:"cap" yaml:"cap"`
	Spent     decimal.Decimal `json:"spent" yaml:"spent"`
	Reserved  decimal.Decimal `json:"reserved" yaml:"reserved"`
	Overage   decimal.Decimal `json:"overage" yaml:"overage"`
	Remaining decimal.Decimal `json:"remaining" yaml:"remaining"`
	Unlimited bool            `json:"unlimited" yaml:"unlimited"`
}

// Status is a provider's budget view for dashboards.
type Status struct {
	Daily   Usage `json:"daily" yaml:"daily"`
	Monthly Usage `json:"monthly" yaml:"monthly"`
	Low     bool  `json:"low" yaml:"low"`
}

func usageOf(e *entry, cap decimal.Decimal) Usage {
	u := Usage{Cap: cap, Spent: e.spent, Reserved: e.reserved, Overage: e.overage}
	if !cap.IsPositive() {
		u.Unlimited = true
		return u
	}
	u.Remaining = decimal.Max(decimal.Zero, cap.Sub(e.spent).Sub(e.reserved))
	return u
}

// Remaining returns the provider's current daily and monthly usage.
func (l *Ledger) Remaining(provider string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	caps := l.caps[provider]
	st := Status{
		Daily:   usageOf(l.lookup(provider, Daily, now), caps.Daily),
		Monthly: usageOf(l.lookup(provider, Monthly, now), caps.Monthly),
	}
	st.Low = !st.Daily.Unlimited && st.Daily.Remaining.LessThan(l.lowWatermark)
	return st
}

// Spent returns the provider's committed spend in the period containing now.
func (l *Ledger) Spent(provider string, p Period) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookup(provider, p, l.now()).spent
}

// Global returns the all-provider monthly usage against the global cap.
func (l *Ledger) Global() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return usageOf(l.lookup(globalKey, Monthly, l.now()), l.globalMonthly)
}
