// Package hashgrid implements a trainable multiresolution hashed feature
// grid: L independent per-level tables map a continuous coordinate to
// interpolated learnable feature vectors which are concatenated into the
// encoder output. Coarse levels whose full grid fits the table capacity are
// addressed densely (no collisions); finer levels fall back to a spatial hash
// reduced modulo the table size, where colliding corners share a slot both in
// forward lookup and in backward scatter.
package hashgrid

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/neoharju/tiny-cuda-nn/internal/dispatch"
)

// ErrConfig marks an invalid encoding parameter combination. Raised at
// construction only.
var ErrConfig = errors.New("hashgrid: invalid encoding configuration")

// Spatial hash primes, one per axis. The first axis is left unmultiplied so
// that 1-D inputs hash to their own coordinate.
var hashPrimes = [3]uint32{1, 2654435761, 805459861}

// maxDims bounds the supported input dimensionality.
const maxDims = 3

// batchTile is the number of batch elements one dispatch tile covers.
const batchTile = 128

// initScale bounds the uniform distribution the tables are initialised from.
// Small values keep the encoding near zero at the start of training.
const initScale = 1e-4

// DefaultGrowth is the per-level resolution growth factor when the
// configuration leaves it unset.
const DefaultGrowth = 1.5

// Config declares a multiresolution grid encoding. All values are fixed at
// construction.
type Config struct {
	Dims             int     // input dimensionality, 1 to 3
	Levels           int     // number of resolution levels L
	FeaturesPerLevel int     // feature width F per level
	Log2TableSize    int     // hashed capacity per level is 1<<Log2TableSize
	BaseResolution   int     // grid resolution of level 0
	Growth           float64 // per-level resolution multiplier
}

// Validate rejects parameter combinations the encoder cannot represent.
func (c Config) Validate() error {
	if c.Dims < 1 || c.Dims > maxDims {
		return fmt.Errorf("%w: dims %d outside [1, %d]", ErrConfig, c.Dims, maxDims)
	}
	if c.Levels < 1 {
		return fmt.Errorf("%w: need at least one level, got %d", ErrConfig, c.Levels)
	}
	if c.FeaturesPerLevel < 1 || c.FeaturesPerLevel > 8 {
		return fmt.Errorf("%w: features per level %d outside [1, 8]", ErrConfig, c.FeaturesPerLevel)
	}
	if c.Log2TableSize < 4 || c.Log2TableSize > 24 {
		return fmt.Errorf("%w: log2 table size %d outside [4, 24]", ErrConfig, c.Log2TableSize)
	}
	if c.BaseResolution < 1 {
		return fmt.Errorf("%w: base resolution %d must be at least 1", ErrConfig, c.BaseResolution)
	}
	if c.Growth != 0 && c.Growth < 1 {
		return fmt.Errorf("%w: growth %g must be >= 1", ErrConfig, c.Growth)
	}
	return nil
}

// growth returns the effective per-level scale factor.
func (c Config) growth() float64 {
	if c.Growth == 0 {
		return DefaultGrowth
	}
	return c.Growth
}

// level is one resolution's table geometry.
type level struct {
	res    int  // grid resolution: cells per axis, corners 0..res
	dense  bool // direct corner indexing, no hashing
	size   int  // number of table entries
	offset int  // element offset of this level's table in the flat buffers
}

// Encoder owns the trainable feature tables of every level plus the matching
// gradient buffer. Parameters are mutated only by initialisation and by the
// optimizer between steps.
type Encoder struct {
	cfg    Config
	levels []level
	params []float32
	grads  []float32
	pool   *dispatch.Pool
}

// NewEncoder validates cfg, derives the per-level geometry and initialises
// the tables uniformly in ±1e-4 from seed.
func NewEncoder(cfg Config, pool *dispatch.Pool, seed int64) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("hashgrid: nil dispatch pool")
	}

	e := &Encoder{cfg: cfg, pool: pool, levels: make([]level, cfg.Levels)}
	capacity := 1 << cfg.Log2TableSize
	off := 0
	for l := range e.levels {
		res := int(math.Floor(float64(cfg.BaseResolution) * math.Pow(cfg.growth(), float64(l))))
		if res < 1 {
			res = 1
		}
		lv := level{res: res, offset: off}

		// Corners run 0..res inclusive per axis. When the full corner grid
		// fits the capacity the level is dense and collision-free.
		corners := 1
		overflow := false
		for d := 0; d < cfg.Dims; d++ {
			corners *= res + 1
			if corners > capacity {
				overflow = true
				break
			}
		}
		if overflow {
			lv.size = capacity
		} else {
			lv.dense = true
			lv.size = corners
		}
		off += lv.size * cfg.FeaturesPerLevel
		e.levels[l] = lv
	}

	e.params = make([]float32, off)
	e.grads = make([]float32, off)
	rng := rand.New(rand.NewSource(seed))
	for i := range e.params {
		e.params[i] = (rng.Float32()*2 - 1) * initScale
	}
	return e, nil
}

// Config returns the immutable encoding configuration.
func (e *Encoder) Config() Config { return e.cfg }

// OutputWidth is the encoder's concatenated feature dimension L*F.
func (e *Encoder) OutputWidth() int {
	return e.cfg.Levels * e.cfg.FeaturesPerLevel
}

// Params exposes the flat parameter buffer for the optimizer and
// serialization.
func (e *Encoder) Params() []float32 { return e.params }

// Grads exposes the gradient buffer matching Params element for element.
func (e *Encoder) Grads() []float32 { return e.grads }

// LevelTable returns level l's table as a slice into the parameter buffer,
// for serialization keyed by level index.
func (e *Encoder) LevelTable(l int) []float32 {
	lv := e.levels[l]
	n := lv.size * e.cfg.FeaturesPerLevel
	return e.params[lv.offset : lv.offset+n]
}

// LevelResolution reports level l's grid resolution.
func (e *Encoder) LevelResolution(l int) int { return e.levels[l].res }

// LevelDense reports whether level l uses direct dense addressing.
func (e *Encoder) LevelDense(l int) bool { return e.levels[l].dense }

// entryIndex computes the table slot for a corner's integer coordinates.
func (lv *level) entryIndex(c [maxDims]int, dims int) int {
	if lv.dense {
		idx := 0
		stride := 1
		for d := 0; d < dims; d++ {
			idx += c[d] * stride
			stride *= lv.res + 1
		}
		return idx
	}
	var h uint32
	for d := 0; d < dims; d++ {
		h ^= uint32(c[d]) * hashPrimes[d]
	}
	return int(h & uint32(lv.size-1))
}

// cellOf maps one clamped coordinate to its base corner and interpolation
// fraction for a level. Coordinates outside [0,1] are clamped to the domain
// boundary; at the far edge the base corner is pulled back one cell so the
// fraction stays within [0,1].
func (lv *level) cellOf(x float32) (int, float32) {
	if x < 0 {
		x = 0
	} else if x > 1 {
		x = 1
	}
	pos := float64(x) * float64(lv.res)
	c := int(math.Floor(pos))
	if c > lv.res-1 {
		c = lv.res - 1
	}
	return c, float32(pos - float64(c))
}
