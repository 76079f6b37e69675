// Package optim updates parameter buffers in place from matching gradient
// buffers. Every optimizer's state buffers share shape and lifetime with the
// parameters they accompany.
package optim

import "errors"

// ErrStateMismatch is returned when restored optimizer state does not match
// the parameter buffer it accompanies.
var ErrStateMismatch = errors.New("optim: state shape mismatch")

// Optimizer consumes one gradient buffer and applies one update to the
// matching parameter buffer. Implementations own any accumulator state and
// must size it from the first Step call.
type Optimizer interface {
	// Step applies one update. params and grads must be the same length on
	// every call for the optimizer's lifetime.
	Step(params, grads []float32) error

	// Reset clears accumulator state and the step counter.
	Reset()

	// State exposes accumulator buffers for checkpointing, keyed by a short
	// stable name.
	State() map[string][]float32

	// LoadState restores accumulators produced by State.
	LoadState(state map[string][]float32) error

	// Name identifies the optimizer kind.
	Name() string
}
