package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fail(t *testing.T, s *Set, provider string) {
	t.Helper()
	done, err := s.Allow(provider)
	require.NoError(t, err)
	done(false)
}

func succeed(t *testing.T, s *Set, provider string) {
	t.Helper()
	done, err := s.Allow(provider)
	require.NoError(t, err)
	done(true)
}

func TestOpensAfterThresholdAndRejectsWithinCoolDown(t *testing.T) {
	s := NewSet()
	s.Configure("p", Settings{FailureThreshold: 3, CoolDown: 60 * time.Second, HalfOpenTrials: 1})

	fail(t, s, "p")
	fail(t, s, "p")
	assert.Equal(t, StateClosed, s.State("p"))
	assert.True(t, s.IsAdmissible("p"))

	fail(t, s, "p")
	assert.Equal(t, StateOpen, s.State("p"))
	assert.False(t, s.IsAdmissible("p"))

	_, err := s.Allow("p")
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	s := NewSet(WithDefaults(Settings{FailureThreshold: 2, CoolDown: time.Minute}))

	fail(t, s, "p")
	succeed(t, s, "p")
	fail(t, s, "p")
	assert.Equal(t, StateClosed, s.State("p"))
	assert.Equal(t, uint32(1), s.Counts("p").ConsecutiveFailures)
}

func TestHalfOpenAdmitsBoundedTrialsThenCloses(t *testing.T) {
	s := NewSet()
	s.Configure("p", Settings{FailureThreshold: 1, CoolDown: 30 * time.Millisecond, HalfOpenTrials: 2})

	fail(t, s, "p")
	require.Equal(t, StateOpen, s.State("p"))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StateHalfOpen, s.State("p"))
	assert.True(t, s.IsAdmissible("p"))

	done1, err := s.Allow("p")
	require.NoError(t, err)
	done2, err := s.Allow("p")
	require.NoError(t, err)

	// Third concurrent trial is rejected as if OPEN.
	assert.False(t, s.IsAdmissible("p"))
	_, err = s.Allow("p")
	require.ErrorIs(t, err, ErrCircuitOpen)

	done1(true)
	assert.Equal(t, StateHalfOpen, s.State("p"))
	done2(true)
	assert.Equal(t, StateClosed, s.State("p"))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	tests := []struct {
		name     string
		outcomes [2]bool
	}{
		{"success then failure", [2]bool{true, false}},
		{"failure then success", [2]bool{false, true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSet()
			s.Configure("p", Settings{FailureThreshold: 1, CoolDown: 100 * time.Millisecond, HalfOpenTrials: 2})

			fail(t, s, "p")
			time.Sleep(150 * time.Millisecond)
			require.Equal(t, StateHalfOpen, s.State("p"))

			done1, err := s.Allow("p")
			require.NoError(t, err)
			done2, err := s.Allow("p")
			require.NoError(t, err)

			done1(tc.outcomes[0])
			done2(tc.outcomes[1])
			assert.Equal(t, StateOpen, s.State("p"))
			assert.False(t, s.IsAdmissible("p"))

			_, err = s.Allow("p")
			assert.ErrorIs(t, err, ErrCircuitOpen)
		})
	}
}

func TestHalfOpenConcurrentMixedOutcomesReopen(t *testing.T) {
	s := NewSet()
	s.Configure("p", Settings{FailureThreshold: 1, CoolDown: 100 * time.Millisecond, HalfOpenTrials: 2})

	fail(t, s, "p")
	time.Sleep(150 * time.Millisecond)

	done1, err := s.Allow("p")
	require.NoError(t, err)
	done2, err := s.Allow("p")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); done1(true) }()
	go func() { defer wg.Done(); done2(false) }()
	wg.Wait()

	assert.Equal(t, StateOpen, s.State("p"))
}

func TestDoneIsIdempotent(t *testing.T) {
	s := NewSet()
	s.Configure("p", Settings{FailureThreshold: 2, CoolDown: time.Minute})

	done, err := s.Allow("p")
	require.NoError(t, err)
	done(false)
	done(false)
	assert.Equal(t, StateClosed, s.State("p"))
	assert.Equal(t, uint32(1), s.Counts("p").ConsecutiveFailures)
}

func TestConcurrentOutcomes(t *testing.T) {
	s := NewSet()
	s.Configure("p", Settings{FailureThreshold: 50, CoolDown: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done, err := s.Allow("p")
			if err != nil {
				return
			}
			done(i%2 == 0)
		}(i)
	}
	wg.Wait()

	c := s.Counts("p")
	assert.Equal(t, uint32(100), c.TotalSuccesses+c.TotalFailures)
}

func TestResetAndListener(t *testing.T) {
	var opened atomic.Int32
	s := NewSet(WithStateChangeListener(func(provider string, from, to State) {
		if provider == "p" && to == StateOpen {
			opened.Add(1)
		}
	}))
	s.Configure("p", Settings{FailureThreshold: 1, CoolDown: time.Minute})

	fail(t, s, "p")
	require.Equal(t, StateOpen, s.State("p"))
	assert.Eventually(t, func() bool { return opened.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Reset("p")
	assert.Equal(t, StateClosed, s.State("p"))
	assert.True(t, s.IsAdmissible("p"))
}

func TestDefaultsApplied(t *testing.T) {
	s := Settings{}.withDefaults()
	assert.Equal(t, DefaultSettings(), s)
}
