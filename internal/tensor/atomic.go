package tensor

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// AtomicAdd adds v to buf[i] with compare-and-swap semantics.
//
// Gradient scatter paths (hash-grid corner scatter, cross-tile weight-gradient
// accumulation) have many concurrent writers targeting the same slot. The
// accumulated value depends only on the unordered multiset of contributions up
// to float32 summation error; callers must not rely on any particular
// summation order.
func AtomicAdd(buf []float32, i int, v float32) {
	addr := (*uint32)(unsafe.Pointer(&buf[i]))
	for {
		old := atomic.LoadUint32(addr)
		updated := math.Float32bits(math.Float32frombits(old) + v)
		if atomic.CompareAndSwapUint32(addr, old, updated) {
			return
		}
	}
}
