package budget

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)}
	l := NewLedger(append([]Option{WithClock(clock.Now)}, opts...)...)
	return l, clock
}

func TestAdmitRespectsDailyCap(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetCaps("openai", Caps{Daily: usd("10")})

	r, err := l.Admit("openai", usd("9"))
	require.NoError(t, err)
	r.Commit(usd("9"))

	_, err = l.Admit("openai", usd("2"))
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.True(t, l.Spent("openai", Daily).Equal(usd("9")), "rejected admission must not change spend")

	r, err = l.Admit("openai", usd("1"))
	require.NoError(t, err)
	r.Commit(usd("1"))
	assert.True(t, l.Spent("openai", Daily).Equal(usd("10")))
}

func TestReservationBlocksConcurrentAdmit(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetCaps("openai", Caps{Daily: usd("10")})

	first, err := l.Admit("openai", usd("6"))
	require.NoError(t, err)

	_, err = l.Admit("openai", usd("6"))
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.False(t, l.CanAdmit("openai", usd("6")))

	first.Release()
	assert.True(t, l.CanAdmit("openai", usd("6")))
	assert.True(t, l.Spent("openai", Daily).IsZero())
}

func TestConcurrentAdmitsNeverOverbook(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetCaps("anthropic", Caps{Daily: usd("5")})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.Admit("anthropic", usd("1"))
			if err != nil {
				return
			}
			admitted.Add(1)
			r.Commit(usd("1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted.Load())
	assert.True(t, l.Spent("anthropic", Daily).Equal(usd("5")))
}

func TestCommitClampsOverageAtCap(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetCaps("google", Caps{Daily: usd("1")})

	r, err := l.Admit("google", usd("0.50"))
	require.NoError(t, err)
	r.Commit(usd("1.25"))

	st := l.Remaining("google")
	assert.True(t, st.Daily.Spent.Equal(usd("1")))
	assert.True(t, st.Daily.Overage.Equal(usd("0.25")))
	assert.True(t, st.Daily.Remaining.IsZero())
}

func TestCommitAndReleaseAreIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetCaps("openai", Caps{Daily: usd("10")})

	r, err := l.Admit("openai", usd("2"))
	require.NoError(t, err)
	r.Commit(usd("2"))
	r.Commit(usd("2"))
	r.Release()

	st := l.Remaining("openai")
	assert.True(t, st.Daily.Spent.Equal(usd("2")))
	assert.True(t, st.Daily.Reserved.IsZero())
}

func TestMonthlyCapAdmitsIndependently(t *testing.T) {
	l, clock := newTestLedger(t)
	l.SetCaps("perplexity", Caps{Daily: usd("10"), Monthly: usd("12")})

	r, err := l.Admit("perplexity", usd("8"))
	require.NoError(t, err)
	r.Commit(usd("8"))

	clock.Set(clock.Now().Add(24 * time.Hour))
	assert.True(t, l.Spent("perplexity", Daily).IsZero(), "new day starts from zero")

	_, err = l.Admit("perplexity", usd("5"))
	require.ErrorIs(t, err, ErrBudgetExceeded, "monthly cap still applies")

	_, err = l.Admit("perplexity", usd("4"))
	require.NoError(t, err)
}

func TestNewMonthResetsMonthlySpend(t *testing.T) {
	l, clock := newTestLedger(t)
	l.SetCaps("deepseek", Caps{Monthly: usd("3")})

	r, err := l.Admit("deepseek", usd("3"))
	require.NoError(t, err)
	r.Commit(usd("3"))
	assert.False(t, l.CanAdmit("deepseek", usd("0.01")))

	clock.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, l.CanAdmit("deepseek", usd("3")))
}

func TestGlobalMonthlyCapSpansProviders(t *testing.T) {
	l, _ := newTestLedger(t, WithGlobalMonthlyCap(usd("5")))
	l.SetCaps("openai", Caps{Daily: usd("10")})
	l.SetCaps("anthropic", Caps{Daily: usd("10")})

	r, err := l.Admit("openai", usd("4"))
	require.NoError(t, err)
	r.Commit(usd("4"))

	_, err = l.Admit("anthropic", usd("2"))
	require.True(t, errors.Is(err, ErrBudgetExceeded))
	assert.Contains(t, err.Error(), "global monthly")

	g := l.Global()
	assert.True(t, g.Spent.Equal(usd("4")))
	assert.True(t, g.Remaining.Equal(usd("1")))
	assert.False(t, g.Unlimited)
}

func TestGlobalWithoutCapIsUnlimited(t *testing.T) {
	l, _ := newTestLedger(t)
	l.SetCaps("openai", Caps{Daily: usd("10")})

	r, err := l.Admit("openai", usd("1"))
	require.NoError(t, err)
	r.Commit(usd("0.5"))

	g := l.Global()
	assert.True(t, g.Unlimited)
	assert.True(t, g.Spent.Equal(usd("0.5")))
}

func TestRemainingFlagsLowBudget(t *testing.T) {
	l, _ := newTestLedger(t, WithLowWatermark(usd("2")))
	l.SetCaps("openai", Caps{Daily: usd("5")})
	l.SetCaps("mock", Caps{})

	assert.False(t, l.Remaining("openai").Low)

	r, err := l.Admit("openai", usd("3.50"))
	require.NoError(t, err)
	r.Commit(usd("3.50"))

	st := l.Remaining("openai")
	assert.True(t, st.Low)
	assert.True(t, st.Daily.Remaining.Equal(usd("1.5")))

	unlimited := l.Remaining("mock")
	assert.True(t, unlimited.Daily.Unlimited)
	assert.False(t, unlimited.Low)
}

func TestPeriodStartUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	ts := time.Date(2025, 1, 31, 22, 0, 0, 0, loc)

	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), PeriodStart(Daily, ts))
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), PeriodStart(Monthly, ts))
}
