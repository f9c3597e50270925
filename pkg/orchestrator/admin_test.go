package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/medorch/pkg/adapter"
	"github.com/zen-systems/medorch/pkg/breaker"
	"github.com/zen-systems/medorch/pkg/credential"
	"github.com/zen-systems/medorch/pkg/provider"
)

func TestRotateCredential(t *testing.T) {
	pool := credential.NewPool()
	pool.Add("a", credential.Credential{ID: "k1", Secret: "secret-1"}, credential.Credential{ID: "k2", Secret: "secret-2"})

	f := newFixture(t,
		[]provider.Descriptor{desc("a", 1), desc("b", 2)},
		[]*adapter.MockAdapter{mock("a"), mock("b")},
		WithCredentials(pool))

	require.NoError(t, f.orch.RotateCredential("a"))
	_, err := f.orch.Generate(context.Background(), Request{TaskTag: task, Prompt: "p", Providers: []string{"a"}})
	require.NoError(t, err)
	calls := f.mocks["a"].Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "secret-2", calls[0].Credential)

	require.ErrorIs(t, f.orch.RotateCredential("nope"), ErrUnknownProvider)
	require.ErrorIs(t, f.orch.RotateCredential("b"), ErrCredentialExhausted, "b has no credentials")
}

func TestRotateCredentialWithoutPool(t *testing.T) {
	f := newFixture(t, []provider.Descriptor{desc("a", 1)}, []*adapter.MockAdapter{mock("a")})
	require.ErrorIs(t, f.orch.RotateCredential("a"), ErrCredentialExhausted)
}

func TestResetCircuit(t *testing.T) {
	da := desc("a", 1)
	da.Breaker.FailureThreshold = 1
	f := newFixture(t,
		[]provider.Descriptor{da},
		[]*adapter.MockAdapter{mock("a", adapter.MockStep{Content: "back"})})

	done, err := f.breakers.Allow("a")
	require.NoError(t, err)
	done(false)
	require.Equal(t, breaker.StateOpen, f.breakers.State("a"))

	_, err = f.orch.Generate(context.Background(), Request{TaskTag: task, Prompt: "p"})
	require.ErrorIs(t, err, ErrAllProvidersUnavailable)

	require.NoError(t, f.orch.ResetCircuit("a"))
	assert.Equal(t, breaker.StateClosed, f.breakers.State("a"))

	out, err := f.orch.Generate(context.Background(), Request{TaskTag: task, Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "back", out.Artifact.Content)

	require.ErrorIs(t, f.orch.ResetCircuit("nope"), ErrUnknownProvider)
}
