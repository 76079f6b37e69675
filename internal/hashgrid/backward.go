package hashgrid

import (
	"fmt"

	"github.com/neoharju/tiny-cuda-nn/internal/arena"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// Backward scatter-adds the incoming feature gradients into the per-level
// gradient tables, weighted by the same multilinear factors the forward pass
// used. Corners hit by multiple batch elements, and corners that hash-collide
// from different grid cells, target the same slot; accumulation is atomic and
// order-independent up to float32 summation tolerance.
//
// When wantInputGrads is true the gradient with respect to the coordinates is
// also produced (arena-backed, [dims x batch]); otherwise the returned matrix
// is nil. Typical encoder-first training does not need it, but the encoding
// must stay usable as a differentiable module inside a larger graph.
//
// The encoder's gradient buffer is zeroed at the start of the call.
func (e *Encoder) Backward(a *arena.Arena, gradFeatures, coords *tensor.Mat, wantInputGrads bool) (*tensor.Mat, error) {
	if gradFeatures.R != e.OutputWidth() {
		return nil, fmt.Errorf("%w: feature grads have %d rows, encoder produces %d",
			ErrConfig, gradFeatures.R, e.OutputWidth())
	}
	if coords.R != e.cfg.Dims || coords.C != gradFeatures.C {
		return nil, fmt.Errorf("%w: coords are %dx%d, want %dx%d",
			ErrConfig, coords.R, coords.C, e.cfg.Dims, gradFeatures.C)
	}

	var gradCoords *tensor.Mat
	if wantInputGrads {
		var err error
		gradCoords, err = a.Alloc(e.cfg.Dims, coords.C)
		if err != nil {
			return nil, err
		}
	}

	clear(e.grads)
	nTiles := (coords.C + batchTile - 1) / batchTile
	e.pool.Run(nTiles, func(_, tile int) {
		b0 := tile * batchTile
		b1 := b0 + batchTile
		if b1 > coords.C {
			b1 = coords.C
		}
		e.backwardRange(gradFeatures, coords, gradCoords, b0, b1)
	})
	return gradCoords, nil
}

func (e *Encoder) backwardRange(gradFeatures, coords, gradCoords *tensor.Mat, b0, b1 int) {
	dims := e.cfg.Dims
	feat := e.cfg.FeaturesPerLevel
	corners := 1 << dims

	var c0 [maxDims]int
	var t [maxDims]float32
	var c [maxDims]int

	for b := b0; b < b1; b++ {
		for l := range e.levels {
			lv := &e.levels[l]
			for d := 0; d < dims; d++ {
				c0[d], t[d] = lv.cellOf(coords.At(d, b))
			}
			rowBase := l * feat
			for mask := 0; mask < corners; mask++ {
				w := float32(1)
				for d := 0; d < dims; d++ {
					if mask&(1<<d) != 0 {
						w *= t[d]
						c[d] = c0[d] + 1
					} else {
						w *= 1 - t[d]
						c[d] = c0[d]
					}
				}
				base := lv.offset + lv.entryIndex(c, dims)*feat

				if w != 0 {
					for f := 0; f < feat; f++ {
						g := gradFeatures.At(rowBase+f, b)
						if g != 0 {
							tensor.AtomicAdd(e.grads, base+f, w*g)
						}
					}
				}

				if gradCoords == nil {
					continue
				}
				// d(weight)/d(x_d) = res * (+-1) * product of the other
				// axes' factors; the sign follows the corner bit.
				for d := 0; d < dims; d++ {
					pw := float32(1)
					for o := 0; o < dims; o++ {
						if o == d {
							continue
						}
						if mask&(1<<o) != 0 {
							pw *= t[o]
						} else {
							pw *= 1 - t[o]
						}
					}
					if mask&(1<<d) == 0 {
						pw = -pw
					}
					if pw == 0 {
						continue
					}
					var dot float32
					for f := 0; f < feat; f++ {
						dot += e.params[base+f] * gradFeatures.At(rowBase+f, b)
					}
					idx := d*gradCoords.Stride + b
					gradCoords.Data[idx] += dot * pw * float32(lv.res)
				}
			}
		}
	}
}
