// Package dispatch runs tile-grained kernels on a persistent worker pool.
//
// A kernel dispatch covers a range of cooperative tiles; each tile is handed
// to exactly one worker and workers never share mutable per-tile state. Run
// returns once every tile has completed, which gives the same-stream ordering
// guarantee between consecutive dispatches: a later dispatch observes all
// writes of an earlier one.
package dispatch

import "runtime"

type task struct {
	fn   func(worker, tile int)
	tile int
	done chan struct{}
}

// Pool is a fixed set of long-lived workers consuming tile tasks from a
// shared channel. Worker indices are stable for the pool's lifetime so
// kernels can keep per-worker scratch (the software analogue of per-block
// shared memory) without locking.
type Pool struct {
	size      int
	tasks     chan task
	doneSlots chan chan struct{}
}

// NewPool creates a pool with n workers; n <= 0 selects GOMAXPROCS.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		size:      n,
		tasks:     make(chan task, n*2),
		doneSlots: make(chan chan struct{}, n),
	}
	for range n {
		p.doneSlots <- make(chan struct{}, n)
	}
	for w := range n {
		go func(worker int) {
			for t := range p.tasks {
				t.fn(worker, t.tile)
				t.done <- struct{}{}
			}
		}(w)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Run dispatches tiles [0, nTiles) across the pool and blocks until all have
// finished. fn receives the stable worker index alongside the tile index.
// Concurrent Run calls from different goroutines are safe; each borrows its
// own completion slot.
func (p *Pool) Run(nTiles int, fn func(worker, tile int)) {
	if nTiles <= 0 {
		return
	}
	if nTiles == 1 {
		fn(0, 0)
		return
	}
	done := <-p.doneSlots
	inFlight := 0
	for tile := 0; tile < nTiles; tile++ {
		t := task{fn: fn, tile: tile, done: done}
		// Drain completions while submitting so a small done buffer never
		// deadlocks against a full task queue.
		submitted := false
		for !submitted {
			select {
			case p.tasks <- t:
				inFlight++
				submitted = true
			case <-done:
				inFlight--
			}
		}
	}
	for inFlight > 0 {
		<-done
		inFlight--
	}
	p.doneSlots <- done
}

// Close stops the workers. Outstanding Run calls must have returned.
func (p *Pool) Close() {
	close(p.tasks)
}
