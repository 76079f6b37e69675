package fused

import "math"

// Activation selects the nonlinearity applied after each hidden layer, or
// after the output layer when used as the output activation.
type Activation uint8

const (
	ActNone Activation = iota
	ActReLU
	ActLeakyReLU
	ActSigmoid
	ActTanh
)

const leakySlope = 0.01

func (a Activation) String() string {
	switch a {
	case ActNone:
		return "none"
	case ActReLU:
		return "relu"
	case ActLeakyReLU:
		return "leaky_relu"
	case ActSigmoid:
		return "sigmoid"
	case ActTanh:
		return "tanh"
	default:
		return "unknown"
	}
}

// ParseActivation maps a configuration string to an Activation.
func ParseActivation(s string) (Activation, bool) {
	switch s {
	case "", "none", "linear":
		return ActNone, true
	case "relu":
		return ActReLU, true
	case "leaky_relu", "leakyrelu":
		return ActLeakyReLU, true
	case "sigmoid":
		return ActSigmoid, true
	case "tanh":
		return ActTanh, true
	default:
		return ActNone, false
	}
}

// apply transforms a tile row in place.
func (a Activation) apply(row []float32) {
	switch a {
	case ActNone:
	case ActReLU:
		for i, v := range row {
			if v < 0 {
				row[i] = 0
			}
		}
	case ActLeakyReLU:
		for i, v := range row {
			if v < 0 {
				row[i] = v * leakySlope
			}
		}
	case ActSigmoid:
		for i, v := range row {
			row[i] = float32(1 / (1 + math.Exp(float64(-v))))
		}
	case ActTanh:
		for i, v := range row {
			row[i] = float32(math.Tanh(float64(v)))
		}
	}
}

// derivFromOutput multiplies grad (in place) by the activation derivative
// expressed in terms of the post-activation value y. Every supported
// activation admits this form, which is what lets the backward pass work from
// stashed activations without keeping pre-activation values around.
//
// ReLU's derivative at exactly zero is taken as zero; with leaky ReLU the
// negative branch is recovered from y < 0 since the slope preserves sign.
func (a Activation) derivFromOutput(grad, y []float32) {
	switch a {
	case ActNone:
	case ActReLU:
		for i := range grad {
			if y[i] <= 0 {
				grad[i] = 0
			}
		}
	case ActLeakyReLU:
		for i := range grad {
			if y[i] < 0 {
				grad[i] *= leakySlope
			}
		}
	case ActSigmoid:
		for i := range grad {
			grad[i] *= y[i] * (1 - y[i])
		}
	case ActTanh:
		for i := range grad {
			grad[i] *= 1 - y[i]*y[i]
		}
	}
}
