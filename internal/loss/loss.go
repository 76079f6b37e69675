// Package loss provides the elementwise losses the trainer drives the
// backward pass with. These are deliberately minimal: the engineering weight
// of the engine sits in the fused network and the encoder, and a loss only
// has to produce a scalar plus the gradient of the prediction.
package loss

import (
	"errors"
	"fmt"

	"github.com/neoharju/tiny-cuda-nn/internal/arena"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// ErrKind is returned for an unknown loss kind string.
var ErrKind = errors.New("loss: unknown kind")

// relativeEps floors the denominator of the relative L2 loss.
const relativeEps = 1e-2

// Loss evaluates a scalar objective and its gradient with respect to the
// prediction. The gradient matrix is arena-backed and valid until the arena
// resets. NaN or Inf from degenerate predictions propagates to the returned
// scalar untouched; recovery policy belongs to the caller.
type Loss interface {
	Evaluate(a *arena.Arena, pred, target *tensor.Mat) (float32, *tensor.Mat, error)
	Name() string
}

// New selects a loss by its configuration kind string.
func New(kind string) (Loss, error) {
	switch kind {
	case "", "l2":
		return l2{}, nil
	case "relative_l2":
		return relativeL2{}, nil
	case "l1":
		return l1{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrKind, kind)
	}
}

func checkShapes(pred, target *tensor.Mat) error {
	if pred.R != target.R || pred.C != target.C {
		return fmt.Errorf("loss: prediction is %dx%d, target %dx%d",
			pred.R, pred.C, target.R, target.C)
	}
	return nil
}

type l2 struct{}

func (l2) Name() string { return "l2" }

// Evaluate computes mean squared error over all elements.
func (l2) Evaluate(a *arena.Arena, pred, target *tensor.Mat) (float32, *tensor.Mat, error) {
	if err := checkShapes(pred, target); err != nil {
		return 0, nil, err
	}
	grad, err := a.Alloc(pred.R, pred.C)
	if err != nil {
		return 0, nil, err
	}
	norm := 1 / float32(pred.R*pred.C)
	var sum float64
	for i := 0; i < pred.R; i++ {
		for j := 0; j < pred.C; j++ {
			d := pred.At(i, j) - target.At(i, j)
			sum += float64(d) * float64(d)
			grad.Data[i*grad.Stride+j] = 2 * d * norm
		}
	}
	return float32(sum) * norm, grad, nil
}

type relativeL2 struct{}

func (relativeL2) Name() string { return "relative_l2" }

// Evaluate computes squared error scaled by the squared prediction magnitude,
// which evens out gradient scale across high dynamic range targets. The
// denominator is treated as a constant in the gradient.
func (relativeL2) Evaluate(a *arena.Arena, pred, target *tensor.Mat) (float32, *tensor.Mat, error) {
	if err := checkShapes(pred, target); err != nil {
		return 0, nil, err
	}
	grad, err := a.Alloc(pred.R, pred.C)
	if err != nil {
		return 0, nil, err
	}
	norm := 1 / float32(pred.R*pred.C)
	var sum float64
	for i := 0; i < pred.R; i++ {
		for j := 0; j < pred.C; j++ {
			p := pred.At(i, j)
			d := p - target.At(i, j)
			den := p*p + relativeEps
			sum += float64(d * d / den)
			grad.Data[i*grad.Stride+j] = 2 * d / den * norm
		}
	}
	return float32(sum) * norm, grad, nil
}

type l1 struct{}

func (l1) Name() string { return "l1" }

// Evaluate computes mean absolute error; the subgradient at zero is zero.
func (l1) Evaluate(a *arena.Arena, pred, target *tensor.Mat) (float32, *tensor.Mat, error) {
	if err := checkShapes(pred, target); err != nil {
		return 0, nil, err
	}
	grad, err := a.Alloc(pred.R, pred.C)
	if err != nil {
		return 0, nil, err
	}
	norm := 1 / float32(pred.R*pred.C)
	var sum float64
	for i := 0; i < pred.R; i++ {
		for j := 0; j < pred.C; j++ {
			d := pred.At(i, j) - target.At(i, j)
			switch {
			case d > 0:
				grad.Data[i*grad.Stride+j] = norm
				sum += float64(d)
			case d < 0:
				grad.Data[i*grad.Stride+j] = -norm
				sum -= float64(d)
			}
		}
	}
	return float32(sum) * norm, grad, nil
}
