package optim

import (
	"fmt"
	"math"
)

// AdamConfig holds the Adam hyperparameters. Zero values select the
// defaults noted per field.
type AdamConfig struct {
	LearningRate float64 // default 1e-3
	Beta1        float64 // first moment decay, default 0.9
	Beta2        float64 // second moment decay, default 0.999
	Epsilon      float64 // denominator floor, default 1e-8

	// StepBound clamps the magnitude of every per-parameter update, guarding
	// against the extreme raw Adam steps early training can produce while the
	// second-moment estimate is still tiny. Default 1e-2; negative disables.
	StepBound float64
}

func (c AdamConfig) withDefaults() AdamConfig {
	if c.LearningRate == 0 {
		c.LearningRate = 1e-3
	}
	if c.Beta1 == 0 {
		c.Beta1 = 0.9
	}
	if c.Beta2 == 0 {
		c.Beta2 = 0.999
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-8
	}
	if c.StepBound == 0 {
		c.StepBound = 1e-2
	}
	return c
}

// Adam maintains bias-corrected first and second raw moment estimates per
// parameter and applies a bounded update.
type Adam struct {
	cfg AdamConfig
	m   []float32
	v   []float32
	t   int
}

// NewAdam creates an Adam optimizer; accumulators are sized on first Step.
func NewAdam(cfg AdamConfig) *Adam {
	return &Adam{cfg: cfg.withDefaults()}
}

// Config returns the effective hyperparameters after defaulting.
func (o *Adam) Config() AdamConfig { return o.cfg }

func (o *Adam) Name() string { return "adam" }

// Step applies one Adam update to params in place.
func (o *Adam) Step(params, grads []float32) error {
	if len(params) != len(grads) {
		return fmt.Errorf("optim: params/grads length mismatch %d vs %d", len(params), len(grads))
	}
	if o.m == nil {
		o.m = make([]float32, len(params))
		o.v = make([]float32, len(params))
	}
	if len(o.m) != len(params) {
		return fmt.Errorf("%w: optimizer sized for %d params, got %d", ErrStateMismatch, len(o.m), len(params))
	}

	o.t++
	b1 := o.cfg.Beta1
	b2 := o.cfg.Beta2
	corr1 := 1 / (1 - math.Pow(b1, float64(o.t)))
	corr2 := 1 / (1 - math.Pow(b2, float64(o.t)))
	lr := o.cfg.LearningRate
	eps := o.cfg.Epsilon
	bound := o.cfg.StepBound

	for i, g := range grads {
		gf := float64(g)
		m := b1*float64(o.m[i]) + (1-b1)*gf
		v := b2*float64(o.v[i]) + (1-b2)*gf*gf
		o.m[i] = float32(m)
		o.v[i] = float32(v)

		step := lr * (m * corr1) / (math.Sqrt(v*corr2) + eps)
		if bound > 0 {
			if step > bound {
				step = bound
			} else if step < -bound {
				step = -bound
			}
		}
		params[i] -= float32(step)
	}
	return nil
}

// Reset clears the moment accumulators and the bias-correction counter.
func (o *Adam) Reset() {
	clear(o.m)
	clear(o.v)
	o.t = 0
}

// State exposes the raw moment buffers plus the step counter (encoded as a
// single-element slice so the whole state stays flat typed arrays).
func (o *Adam) State() map[string][]float32 {
	return map[string][]float32{
		"m": o.m,
		"v": o.v,
		"t": {float32(o.t)},
	}
}

// LoadState restores moment buffers saved by State.
func (o *Adam) LoadState(state map[string][]float32) error {
	m, ok1 := state["m"]
	v, ok2 := state["v"]
	if !ok1 || !ok2 || len(m) != len(v) {
		return fmt.Errorf("%w: missing or inconsistent moment buffers", ErrStateMismatch)
	}
	if o.m != nil && len(o.m) != len(m) {
		return fmt.Errorf("%w: optimizer sized for %d params, state has %d", ErrStateMismatch, len(o.m), len(m))
	}
	o.m = append([]float32(nil), m...)
	o.v = append([]float32(nil), v...)
	o.t = 0
	if t, ok := state["t"]; ok && len(t) == 1 {
		o.t = int(t[0])
	}
	return nil
}
