// Package fused evaluates small fixed-width feedforward networks with every
// layer of the forward and backward pass performed inside a single tile
// dispatch: one worker owns one batch tile and keeps that tile's activations
// resident in its scratch panels for the entire layer traversal, so
// intermediate activations never round-trip through shared memory between
// layers.
//
// Kernels are specialized per (hidden width, depth, precision) tuple at
// construction via a registry of precompiled variants; a shape outside the
// supported set or over the scratch budget is a construction error, never a
// silent fallback.
package fused

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/neoharju/tiny-cuda-nn/internal/dispatch"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// Network owns the trainable parameters of one fused MLP.
//
// Parameters live in a flat f32 master buffer (weights then bias, layer by
// layer). When the storage dtype is f16, a rounded copy feeds the kernels so
// that compute reflects storage precision while the optimizer keeps full
// precision state; SyncStorage refreshes the copy after every update.
type Network struct {
	desc Descriptor
	kern *kernelVariant
	pool *dispatch.Pool

	params  []float32
	grads   []float32
	storage []uint16
	compute []float32

	wOff []int
	bOff []int

	scratch []workerScratch
}

// workerScratch is one worker's tile-resident state: two ping-pong activation
// panels, a staging panel for activations reloaded during backward, and the
// local weight-gradient accumulation panel.
type workerScratch struct {
	panelA []float32
	panelB []float32
	panelP []float32
	dw     []float32
	db     []float32
}

// NewNetwork validates the descriptor, selects the kernel variant and
// allocates parameter, gradient and scratch storage. Parameters are
// initialised with the standard uniform fan-in/fan-out scheme from seed.
func NewNetwork(desc Descriptor, pool *dispatch.Pool, seed int64) (*Network, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("fused: nil dispatch pool")
	}

	n := &Network{
		desc: desc,
		kern: variantFor(desc),
		pool: pool,
		wOff: make([]int, desc.LayerCount()),
		bOff: make([]int, desc.LayerCount()),
	}

	off := 0
	for l := 0; l < desc.LayerCount(); l++ {
		rows, cols := desc.layerShape(l)
		n.wOff[l] = off
		off += rows * cols
		n.bOff[l] = off
		off += rows
	}
	n.params = make([]float32, off)
	n.grads = make([]float32, off)
	if desc.DType == tensor.F16 {
		n.storage = make([]uint16, off)
		n.compute = make([]float32, off)
	} else {
		n.compute = n.params
	}

	w := desc.maxWidth()
	n.scratch = make([]workerScratch, pool.Size())
	for i := range n.scratch {
		n.scratch[i] = workerScratch{
			panelA: make([]float32, w*TileB),
			panelB: make([]float32, w*TileB),
			panelP: make([]float32, w*TileB),
			dw:     make([]float32, w*w),
			db:     make([]float32, w),
		}
	}

	n.initParams(seed)
	n.SyncStorage()
	return n, nil
}

// Desc returns the immutable shape descriptor.
func (n *Network) Desc() Descriptor { return n.desc }

// Params exposes the flat master parameter buffer for the optimizer and for
// serialization. Mutating it mid-dispatch is a caller error.
func (n *Network) Params() []float32 { return n.params }

// Grads exposes the flat gradient buffer matching Params element for element.
func (n *Network) Grads() []float32 { return n.grads }

// Layer returns the weight matrix and bias vector of layer l as slices into
// the master buffer, for serialization keyed by layer index.
func (n *Network) Layer(l int) (w, b []float32) {
	rows, cols := n.desc.layerShape(l)
	return n.params[n.wOff[l] : n.wOff[l]+rows*cols],
		n.params[n.bOff[l] : n.bOff[l]+rows]
}

// ZeroGrads clears the gradient buffer. Backward calls this itself; it is
// exported for callers that accumulate over multiple batches.
func (n *Network) ZeroGrads() {
	clear(n.grads)
}

// SyncStorage re-rounds the master parameters into the storage-precision
// compute copy. Must be called after every optimizer step when the storage
// dtype is f16; a no-op for f32 where compute aliases the master buffer.
func (n *Network) SyncStorage() {
	if n.desc.DType != tensor.F16 {
		return
	}
	for i, v := range n.params {
		n.storage[i] = tensor.F16Encode(v)
		n.compute[i] = tensor.F16Decode(n.storage[i])
	}
}

// initParams draws layer weights uniformly in ±sqrt(6/(fanIn+fanOut)) and
// zeroes biases.
func (n *Network) initParams(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for l := 0; l < n.desc.LayerCount(); l++ {
		rows, cols := n.desc.layerShape(l)
		bound := float32(math.Sqrt(6 / float64(rows+cols)))
		w := n.params[n.wOff[l] : n.wOff[l]+rows*cols]
		for i := range w {
			w[i] = (rng.Float32()*2 - 1) * bound
		}
		clear(n.params[n.bOff[l] : n.bOff[l]+rows])
	}
}

// layerParams returns kernel-visible weights and bias of layer l.
func (n *Network) layerParams(l int) (w, b []float32) {
	rows, cols := n.desc.layerShape(l)
	return n.compute[n.wOff[l] : n.wOff[l]+rows*cols],
		n.compute[n.bOff[l] : n.bOff[l]+rows]
}

// activationFor returns the nonlinearity applied after layer l.
func (n *Network) activationFor(l int) Activation {
	if l == n.desc.HiddenLayers {
		return n.desc.OutputActivation
	}
	return n.desc.Activation
}

func numTiles(batch int) int {
	return (batch + TileB - 1) / TileB
}
