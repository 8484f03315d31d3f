// Package vrf defines the boundary to the external verifiable-randomness
// service. The engine submits a request and receives an opaque handle; the
// service later delivers (handle, values) through an asynchronous callback, or
// never does. Non-delivery is an expected condition, not an error; the
// engine's retry and stuck-cancel escape hatches cover that case.
package vrf

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidConfiguration is returned when a request's parameters fall outside
// what the external service accepts.
var ErrInvalidConfiguration = errors.New("vrf: invalid request configuration")

// Request parameter bounds imposed by the external service.
const (
	MinCallbackBudget = 100_000
	MinConfirmations  = 1
	MaxConfirmations  = 200
	RequiredWords     = 1
)

// RequestConfig carries the parameters submitted with each randomness request.
type RequestConfig struct {
	// CallbackBudget is the execution budget granted to the fulfilment
	// callback.
	CallbackBudget uint64

	// Confirmations is how many confirmations the service waits for before
	// sampling randomness.
	Confirmations int

	// Words is the number of random values requested. The engine consumes
	// exactly one.
	Words int
}

// Validate checks the parameters against the service's bounds.
func (c RequestConfig) Validate() error {
	if c.CallbackBudget < MinCallbackBudget {
		return fmt.Errorf("%w: callback budget %d below floor %d", ErrInvalidConfiguration, c.CallbackBudget, MinCallbackBudget)
	}
	if c.Confirmations < MinConfirmations || c.Confirmations > MaxConfirmations {
		return fmt.Errorf("%w: confirmations %d outside [%d, %d]", ErrInvalidConfiguration, c.Confirmations, MinConfirmations, MaxConfirmations)
	}
	if c.Words != RequiredWords {
		return fmt.Errorf("%w: requested %d words, service delivers exactly %d", ErrInvalidConfiguration, c.Words, RequiredWords)
	}
	return nil
}

// Port is the request side of the randomness service.
type Port interface {
	// Request submits a randomness request and returns the handle the
	// eventual fulfilment will carry. It fails only on invalid
	// configuration; delivery is never guaranteed.
	Request(ctx context.Context, cfg RequestConfig) (uuid.UUID, error)
}

// Consumer receives asynchronous fulfilments. Implementations must treat every
// delivery as untrusted: unknown, stale, or duplicate handles and empty
// payloads are all possible and must be absorbed without failing.
type Consumer interface {
	HandleFulfilled(handle uuid.UUID, values [][32]byte)
}
