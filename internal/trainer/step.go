package trainer

import (
	"fmt"

	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// TrainingStep runs one optimization step over the batch and returns the
// loss value. inputs is [inDims x batch], targets [outDims x batch].
//
// A NaN or Inf loss is returned as-is: the step's parameter updates still
// happen with whatever gradients were produced, and recovery policy (reduce
// the learning rate, reload a checkpoint) belongs to the caller.
//
// The step swaps to the other arena of the double-buffered pair before
// allocating, so views returned by the previous step stay valid while this
// one is being assembled.
func (m *Model) TrainingStep(inputs, targets *tensor.Mat) (float32, error) {
	if inputs.R != m.inDims {
		return 0, fmt.Errorf("trainer: inputs have %d rows, model takes %d", inputs.R, m.inDims)
	}
	if targets.R != m.outDims || targets.C != inputs.C {
		return 0, fmt.Errorf("trainer: targets are %dx%d, want %dx%d",
			targets.R, targets.C, m.outDims, inputs.C)
	}

	a := m.arenas.Swap()

	features := inputs
	if m.enc != nil {
		var err error
		features, err = m.enc.Forward(a, inputs)
		if err != nil {
			return 0, fmt.Errorf("trainer: encode: %w", err)
		}
	}

	ctx, err := m.net.ForwardTraining(a, features)
	if err != nil {
		return 0, fmt.Errorf("trainer: forward: %w", err)
	}

	lossVal, gradOut, err := m.loss.Evaluate(a, ctx.Output(), targets)
	if err != nil {
		return 0, fmt.Errorf("trainer: loss: %w", err)
	}

	gradFeatures, err := m.net.Backward(a, ctx, gradOut)
	if err != nil {
		return 0, fmt.Errorf("trainer: backward: %w", err)
	}

	if m.enc != nil {
		if _, err := m.enc.Backward(a, gradFeatures, inputs, false); err != nil {
			return 0, fmt.Errorf("trainer: encoder backward: %w", err)
		}
	}

	if err := m.optNet.Step(m.net.Params(), m.net.Grads()); err != nil {
		return 0, fmt.Errorf("trainer: network update: %w", err)
	}
	m.net.SyncStorage()
	if m.enc != nil {
		if err := m.optEnc.Step(m.enc.Params(), m.enc.Grads()); err != nil {
			return 0, fmt.Errorf("trainer: encoder update: %w", err)
		}
	}

	m.step++
	return lossVal, nil
}

// Inference evaluates the model without touching gradients or optimizer
// state. The returned matrix is freshly allocated and safe to keep across
// later steps. With unchanged parameters, repeated calls over identical
// inputs produce identical outputs.
func (m *Model) Inference(inputs *tensor.Mat) (*tensor.Mat, error) {
	if inputs.R != m.inDims {
		return nil, fmt.Errorf("trainer: inputs have %d rows, model takes %d", inputs.R, m.inDims)
	}

	a := m.arenas.Swap()

	features := inputs
	if m.enc != nil {
		var err error
		features, err = m.enc.Forward(a, inputs)
		if err != nil {
			return nil, fmt.Errorf("trainer: encode: %w", err)
		}
	}
	out, err := m.net.Forward(a, features)
	if err != nil {
		return nil, fmt.Errorf("trainer: forward: %w", err)
	}

	result := tensor.NewMat(out.R, out.C)
	for i := 0; i < out.R; i++ {
		copy(result.Data[i*result.Stride:(i+1)*result.Stride], out.Data[i*out.Stride:i*out.Stride+out.C])
	}
	return result, nil
}
