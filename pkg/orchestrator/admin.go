package orchestrator

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrUnknownProvider is returned for provider IDs missing from the registry.
var ErrUnknownProvider = errors.New("unknown provider")

// RotateCredential moves the provider's credential cursor past the currently
// preferred key, for operators retiring a key by hand.
func (o *Orchestrator) RotateCredential(id string) error {
	if _, ok := o.registry.Get(id); !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownProvider)
	}
	if o.credentials == nil {
		return fmt.Errorf("%s: %w", id, ErrCredentialExhausted)
	}
	if err := o.credentials.Rotate(id); err != nil {
		return fmt.Errorf("%w: %w", ErrCredentialExhausted, err)
	}
	return nil
}

// ResetCircuit replaces the provider's breaker with a CLOSED one.
func (o *Orchestrator) ResetCircuit(id string) error {
	if _, ok := o.registry.Get(id); !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownProvider)
	}
	o.breakers.Reset(id)
	o.logger.Info("circuit reset by operator", zap.String("provider", id))
	return nil
}
