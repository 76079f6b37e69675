package hashgrid

import (
	"fmt"

	"github.com/neoharju/tiny-cuda-nn/internal/arena"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// Forward maps coords [dims x batch] to interpolated features [(L*F) x batch].
// Level l's features occupy rows l*F .. l*F+F-1 of the output. Each batch
// element reads the 2^dims surrounding corners of every level and blends them
// with multilinear weights.
func (e *Encoder) Forward(a *arena.Arena, coords *tensor.Mat) (*tensor.Mat, error) {
	if coords.R != e.cfg.Dims {
		return nil, fmt.Errorf("%w: coords have %d rows, encoder expects %d",
			ErrConfig, coords.R, e.cfg.Dims)
	}
	out, err := a.Alloc(e.OutputWidth(), coords.C)
	if err != nil {
		return nil, err
	}
	nTiles := (coords.C + batchTile - 1) / batchTile
	e.pool.Run(nTiles, func(_, tile int) {
		b0 := tile * batchTile
		b1 := b0 + batchTile
		if b1 > coords.C {
			b1 = coords.C
		}
		e.forwardRange(coords, out, b0, b1)
	})
	return out, nil
}

func (e *Encoder) forwardRange(coords, out *tensor.Mat, b0, b1 int) {
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
				if w == 0 {
					continue
				}
				base := lv.offset + lv.entryIndex(c, dims)*feat
				for f := 0; f < feat; f++ {
					out.Data[(rowBase+f)*out.Stride+b] += w * e.params[base+f]
				}
			}
		}
	}
}

// EncodeOne evaluates the encoding for a single coordinate without an arena,
// mainly for inspection and tests. x must have length dims.
func (e *Encoder) EncodeOne(x []float32) []float32 {
	if len(x) != e.cfg.Dims {
		panic("hashgrid: coordinate dimensionality mismatch")
	}
	coords := tensor.NewMatFromData(e.cfg.Dims, 1, append([]float32(nil), x...))
	out := tensor.NewMat(e.OutputWidth(), 1)
	e.forwardRange(coords, out, 0, 1)
	return out.Data
}
