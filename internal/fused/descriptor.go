package fused

import (
	"errors"
	"fmt"

	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// TileB is the batch tile width: the number of batch columns one worker
// processes cooperatively with all activations resident in its scratch.
// Dispatch granularity, scratch sizing and the budget check below all assume
// this constant; it is part of the kernel specialization, not a tunable.
const TileB = 128

// scratchBudget bounds the per-tile resident footprint in bytes: the
// ping-pong activation panels, the staging panel the backward pass loads
// stashed activations into, and the worker-local weight-gradient panel. A
// shape that does not fit must be rejected at construction; there is no
// silent fallback to a layer-by-layer path.
const scratchBudget = 384 << 10

// supportedWidths is the closed set of hidden widths the kernel registry is
// specialized for.
var supportedWidths = map[int]bool{16: true, 32: true, 64: true, 128: true}

// ErrShape marks a network shape the fused path cannot run: unsupported
// hidden width, or a per-tile footprint exceeding the scratch budget.
// Raised at construction only, never mid-training.
var ErrShape = errors.New("fused: unsupported network shape")

// Descriptor fixes a network's shape and precision. Immutable once the
// network is constructed; the kernel variant is selected from it exactly once.
type Descriptor struct {
	InputWidth       int
	OutputWidth      int
	HiddenWidth      int
	HiddenLayers     int
	Activation       Activation
	OutputActivation Activation

	// DType is the storage precision of the weights. Accumulation inside the
	// kernels is float32 regardless, to bound rounding error compounding
	// across layers.
	DType tensor.DType
}

// LayerCount returns the number of weight matrices.
func (d Descriptor) LayerCount() int {
	return d.HiddenLayers + 1
}

// layerShape returns (rows, cols) of layer l's weight matrix.
func (d Descriptor) layerShape(l int) (int, int) {
	rows := d.HiddenWidth
	cols := d.HiddenWidth
	if l == 0 {
		cols = d.InputWidth
	}
	if l == d.HiddenLayers {
		rows = d.OutputWidth
	}
	return rows, cols
}

// maxWidth returns the widest layer dimension, which sizes the tile panels.
func (d Descriptor) maxWidth() int {
	w := d.HiddenWidth
	if d.InputWidth > w {
		w = d.InputWidth
	}
	if d.OutputWidth > w {
		w = d.OutputWidth
	}
	return w
}

// footprint computes the per-tile resident bytes: three panels of
// maxWidth x TileB plus the local dW panel of maxWidth^2 and two bias rows.
func (d Descriptor) footprint() int {
	w := d.maxWidth()
	return (3*w*TileB + w*w + 2*w) * 4
}

// ParamCount returns the total number of trainable values (weights + biases).
func (d Descriptor) ParamCount() int {
	n := 0
	for l := 0; l < d.LayerCount(); l++ {
		rows, cols := d.layerShape(l)
		n += rows*cols + rows
	}
	return n
}

// Validate rejects shapes the fused kernel cannot be specialized for.
func (d Descriptor) Validate() error {
	if d.InputWidth <= 0 || d.OutputWidth <= 0 {
		return fmt.Errorf("%w: input/output widths must be positive (got %d, %d)",
			ErrShape, d.InputWidth, d.OutputWidth)
	}
	if d.HiddenLayers < 0 {
		return fmt.Errorf("%w: negative hidden layer count %d", ErrShape, d.HiddenLayers)
	}
	if d.HiddenLayers > 0 && !supportedWidths[d.HiddenWidth] {
		return fmt.Errorf("%w: hidden width %d not in {16, 32, 64, 128}",
			ErrShape, d.HiddenWidth)
	}
	if d.DType != tensor.F32 && d.DType != tensor.F16 {
		return fmt.Errorf("%w: unsupported weight dtype %s", ErrShape, d.DType)
	}
	if fp := d.footprint(); fp > scratchBudget {
		return fmt.Errorf("%w: per-tile footprint %d bytes exceeds budget %d",
			ErrShape, fp, scratchBudget)
	}
	return nil
}
