package fused

import (
	"fmt"

	"github.com/neoharju/tiny-cuda-nn/internal/arena"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// Context carries the per-call state the backward pass needs: the input view
// and the stashed post-activation of every hidden layer. All matrices are
// arena-backed and share the forward call's arena generation; the context
// must not outlive an arena reset.
type Context struct {
	input  *tensor.Mat
	acts   []*tensor.Mat
	output *tensor.Mat
}

// Output returns the network output produced by the training forward pass.
func (c *Context) Output() *tensor.Mat { return c.output }

// Forward evaluates the network over the whole batch. Inference path: each
// tile's activations stay resident in worker scratch for the entire layer
// traversal and only the final output is written back.
func (n *Network) Forward(a *arena.Arena, input *tensor.Mat) (*tensor.Mat, error) {
	if input.R != n.desc.InputWidth {
		return nil, fmt.Errorf("%w: input has %d rows, network expects %d",
			ErrShape, input.R, n.desc.InputWidth)
	}
	out, err := a.Alloc(n.desc.OutputWidth, input.C)
	if err != nil {
		return nil, err
	}
	n.pool.Run(numTiles(input.C), func(worker, tile int) {
		n.forwardTile(worker, tile, input, out, nil)
	})
	return out, nil
}

// ForwardTraining evaluates the network and stashes every hidden layer's
// post-activation to arena memory so Backward can reuse them instead of
// recomputing. The returned context is valid until the arena resets.
func (n *Network) ForwardTraining(a *arena.Arena, input *tensor.Mat) (*Context, error) {
	if input.R != n.desc.InputWidth {
		return nil, fmt.Errorf("%w: input has %d rows, network expects %d",
			ErrShape, input.R, n.desc.InputWidth)
	}
	ctx := &Context{input: input, acts: make([]*tensor.Mat, n.desc.HiddenLayers)}
	var err error
	for l := range ctx.acts {
		ctx.acts[l], err = a.Alloc(n.desc.HiddenWidth, input.C)
		if err != nil {
			return nil, err
		}
	}
	ctx.output, err = a.Alloc(n.desc.OutputWidth, input.C)
	if err != nil {
		return nil, err
	}
	n.pool.Run(numTiles(input.C), func(worker, tile int) {
		n.forwardTile(worker, tile, input, ctx.output, ctx.acts)
	})
	return ctx, nil
}

// forwardTile runs all layers for one batch tile. When stash is non-nil the
// hidden activations are additionally written out for the backward pass.
func (n *Network) forwardTile(worker, tile int, input, out *tensor.Mat, stash []*tensor.Mat) {
	j0 := tile * TileB
	tb := input.C - j0
	if tb > TileB {
		tb = TileB
	}

	s := &n.scratch[worker]
	src, dst := s.panelA, s.panelB

	loadTile(src, input.ColRange(j0, j0+tb))

	for l := 0; l < n.desc.LayerCount(); l++ {
		rows, cols := n.desc.layerShape(l)
		w, b := n.layerParams(l)

		n.kern.mm(dst, w, src, rows, cols, tb)
		act := n.activationFor(l)
		for i := 0; i < rows; i++ {
			row := dst[i*TileB : i*TileB+tb]
			if bi := b[i]; bi != 0 {
				for j := range row {
					row[j] += bi
				}
			}
			act.apply(row)
		}
		if stash != nil && l < n.desc.HiddenLayers {
			storeTile(stash[l].ColRange(j0, j0+tb), dst, rows)
		}
		src, dst = dst, src
	}

	storeTile(out.ColRange(j0, j0+tb), src, n.desc.OutputWidth)
}

// loadTile copies a tile view (one ColRange of a batch matrix) into a
// feature-major panel with row stride TileB, decoding reduced-precision
// storage on the way in.
func loadTile(panel []float32, m *tensor.Mat) {
	for r := 0; r < m.R; r++ {
		dst := panel[r*TileB : r*TileB+m.C]
		base := r * m.Stride
		if m.DType == tensor.F32 {
			copy(dst, m.Data[base:base+m.C])
			continue
		}
		for j := 0; j < m.C; j++ {
			dst[j] = tensor.F16Decode(m.Raw[base+j])
		}
	}
}

// storeTile writes rows [0, rows) of a panel back into a tile view.
func storeTile(m *tensor.Mat, panel []float32, rows int) {
	for r := 0; r < rows; r++ {
		src := panel[r*TileB : r*TileB+m.C]
		base := r * m.Stride
		if m.DType == tensor.F32 {
			copy(m.Data[base:base+m.C], src)
			continue
		}
		for j := 0; j < m.C; j++ {
			m.Raw[base+j] = tensor.F16Encode(src[j])
		}
	}
}
