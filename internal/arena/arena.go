// Package arena provides bump allocation of per-step scratch matrices.
//
// A training step allocates activation and gradient workspaces from an Arena
// and the whole generation is released at once at the step boundary, so the
// hot loop never touches the Go allocator. Views handed out by an Arena are
// valid only until the next Reset; for pipelined steps use a double-buffered
// pair via Swap.
package arena

import (
	"errors"
	"fmt"

	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// ErrExhausted is returned when a requested allocation does not fit in the
// arena's remaining capacity. The current step must be reported as failed;
// the arena performs no implicit growth or truncation.
var ErrExhausted = errors.New("arena: allocation exceeds capacity")

// alignElems keeps every allocation 64-byte aligned so SIMD loads on carved
// views never straddle cache lines unnecessarily.
const alignElems = 16

// Arena is a generation-counted bump allocator over a flat float32 slab.
//
// Not safe for concurrent Alloc/Reset; a step's dispatches share the
// generation that was current when the step began. Workers may freely write
// into distinct allocations concurrently.
type Arena struct {
	slab []float32
	used int
	gen  uint64
}

// New creates an arena holding capacity float32 elements.
func New(capacity int) *Arena {
	if capacity <= 0 {
		panic("arena capacity must be positive")
	}
	return &Arena{slab: make([]float32, capacity)}
}

// Generation returns the current generation counter. It increments on every
// Reset; holders of stale views can use it to detect misuse in tests.
func (a *Arena) Generation() uint64 { return a.gen }

// Used reports how many elements of the slab are currently allocated.
func (a *Arena) Used() int { return a.used }

// Capacity reports the slab size in elements.
func (a *Arena) Capacity() int { return len(a.slab) }

// Alloc carves an r x c f32 matrix view out of the slab. The view is valid
// until the next Reset. The backing memory is zeroed: gradient buffers rely
// on starting from zero before accumulation.
func (a *Arena) Alloc(r, c int) (*tensor.Mat, error) {
	if r < 0 || c < 0 {
		return nil, fmt.Errorf("arena: negative dimensions %dx%d", r, c)
	}
	n := r * c
	n = (n + alignElems - 1) &^ (alignElems - 1)
	if a.used+n > len(a.slab) {
		return nil, fmt.Errorf("%w: need %d, free %d", ErrExhausted, n, len(a.slab)-a.used)
	}
	buf := a.slab[a.used : a.used+r*c]
	a.used += n
	clear(buf)
	return tensor.NewMatFromData(r, c, buf), nil
}

// AllocSlice carves a flat zeroed float32 scratch slice.
func (a *Arena) AllocSlice(n int) ([]float32, error) {
	if n < 0 {
		return nil, fmt.Errorf("arena: negative length %d", n)
	}
	padded := (n + alignElems - 1) &^ (alignElems - 1)
	if a.used+padded > len(a.slab) {
		return nil, fmt.Errorf("%w: need %d, free %d", ErrExhausted, padded, len(a.slab)-a.used)
	}
	buf := a.slab[a.used : a.used+n]
	a.used += padded
	clear(buf)
	return buf, nil
}

// Reset releases every allocation of the current generation in bulk. Views
// obtained before the call must not be used afterwards.
func (a *Arena) Reset() {
	a.used = 0
	a.gen++
}

// Pair is a double-buffered arena for callers that pipeline steps: dispatches
// of step N may still be draining while step N+1 allocates from the other
// half. Single-stream training uses one side only.
type Pair struct {
	arenas [2]*Arena
	active int
}

// NewPair creates two arenas of the given capacity each.
func NewPair(capacity int) *Pair {
	return &Pair{arenas: [2]*Arena{New(capacity), New(capacity)}}
}

// Active returns the arena for the step being built.
func (p *Pair) Active() *Arena { return p.arenas[p.active] }

// Swap resets the inactive arena and makes it active, leaving the previous
// generation's allocations untouched until the next Swap.
func (p *Pair) Swap() *Arena {
	p.active ^= 1
	a := p.arenas[p.active]
	a.Reset()
	return a
}
