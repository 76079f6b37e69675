package fused

import (
	"fmt"

	"github.com/neoharju/tiny-cuda-nn/internal/arena"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// Backward propagates gradOut through every layer of the network in one tile
// dispatch, accumulating weight and bias gradients into the network's
// gradient buffer and returning the gradient with respect to the input.
//
// The gradient buffer is zeroed at the start of the call and then only
// accumulated into: tiles beyond the first add their contribution atomically,
// so the result is independent of tile completion order up to float32
// summation tolerance.
func (n *Network) Backward(a *arena.Arena, ctx *Context, gradOut *tensor.Mat) (*tensor.Mat, error) {
	if ctx == nil || ctx.output == nil {
		return nil, fmt.Errorf("fused: backward requires a training forward context")
	}
	if gradOut.R != n.desc.OutputWidth || gradOut.C != ctx.output.C {
		return nil, fmt.Errorf("%w: grad output is %dx%d, want %dx%d",
			ErrShape, gradOut.R, gradOut.C, n.desc.OutputWidth, ctx.output.C)
	}
	gradIn, err := a.Alloc(n.desc.InputWidth, gradOut.C)
	if err != nil {
		return nil, err
	}
	n.ZeroGrads()
	n.pool.Run(numTiles(gradOut.C), func(worker, tile int) {
		n.backwardTile(worker, tile, ctx, gradOut, gradIn)
	})
	return gradIn, nil
}

// backwardTile walks the layers from output to input for one batch tile,
// keeping the running activation gradient resident in the worker's ping-pong
// panels.
func (n *Network) backwardTile(worker, tile int, ctx *Context, gradOut, gradIn *tensor.Mat) {
	j0 := tile * TileB
	tb := gradOut.C - j0
	if tb > TileB {
		tb = TileB
	}

	s := &n.scratch[worker]
	g, d, p := s.panelA, s.panelB, s.panelP

	// Seed with dL/dPre of the output layer: the incoming gradient times the
	// output activation derivative, evaluated from the stashed output.
	loadTile(g, gradOut.ColRange(j0, j0+tb))
	loadTile(p, ctx.output.ColRange(j0, j0+tb))
	outAct := n.desc.OutputActivation
	for i := 0; i < n.desc.OutputWidth; i++ {
		outAct.derivFromOutput(g[i*TileB:i*TileB+tb], p[i*TileB:i*TileB+tb])
	}

	for l := n.desc.LayerCount() - 1; l >= 0; l-- {
		rows, cols := n.desc.layerShape(l)
		w, _ := n.layerParams(l)

		// Stage the layer input: the previous hidden activation, or the
		// network input for the first layer.
		if l > 0 {
			loadTile(p, ctx.acts[l-1].ColRange(j0, j0+tb))
		} else {
			loadTile(p, ctx.input.ColRange(j0, j0+tb))
		}

		// Local weight/bias gradient for this tile, then one atomic merge
		// per element into the shared buffer.
		dw := s.dw[:rows*cols]
		clear(dw)
		n.kern.dw(dw, g, p, rows, cols, tb)
		gw := n.grads[n.wOff[l]:]
		for i := range dw {
			if dw[i] != 0 {
				tensor.AtomicAdd(gw, i, dw[i])
			}
		}
		gb := n.grads[n.bOff[l]:]
		for i := 0; i < rows; i++ {
			row := g[i*TileB : i*TileB+tb]
			var sum float32
			for _, v := range row {
				sum += v
			}
			if sum != 0 {
				tensor.AtomicAdd(gb, i, sum)
			}
		}

		if l == 0 {
			n.kern.mmT(d, w, g, rows, cols, tb)
			storeTile(gradIn.ColRange(j0, j0+tb), d, cols)
			return
		}

		// Propagate: dA = Wt.dPre, then fold in the hidden activation
		// derivative using the staged post-activation values.
		n.kern.mmT(d, w, g, rows, cols, tb)
		hidAct := n.desc.Activation
		for i := 0; i < cols; i++ {
			hidAct.derivFromOutput(d[i*TileB:i*TileB+tb], p[i*TileB:i*TileB+tb])
		}
		g, d = d, g
	}
}
