package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunCoversEveryTileOnce(t *testing.T) {
	t.Parallel()

	p := NewPool(4)
	defer p.Close()

	const nTiles = 97
	counts := make([]int32, nTiles)
	p.Run(nTiles, func(worker, tile int) {
		if worker < 0 || worker >= p.Size() {
			t.Errorf("worker index %d out of range", worker)
		}
		atomic.AddInt32(&counts[tile], 1)
	})
	for tile, c := range counts {
		if c != 1 {
			t.Fatalf("tile %d ran %d times", tile, c)
		}
	}
}

func TestRunManyMoreTilesThanWorkers(t *testing.T) {
	t.Parallel()

	p := NewPool(2)
	defer p.Close()

	var total int64
	p.Run(1000, func(worker, tile int) {
		atomic.AddInt64(&total, int64(tile))
	})
	if want := int64(1000 * 999 / 2); total != want {
		t.Fatalf("tile sum: got %d want %d", total, want)
	}
}

func TestRunBlocksUntilComplete(t *testing.T) {
	t.Parallel()

	p := NewPool(3)
	defer p.Close()

	// Writes from a dispatch must be visible as soon as Run returns.
	buf := make([]int, 64)
	p.Run(len(buf), func(worker, tile int) {
		buf[tile] = tile + 1
	})
	for i, v := range buf {
		if v != i+1 {
			t.Fatalf("buf[%d] = %d, write not visible after Run", i, v)
		}
	}
}

func TestConcurrentRuns(t *testing.T) {
	t.Parallel()

	p := NewPool(4)
	defer p.Close()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var n int64
			p.Run(50, func(worker, tile int) {
				atomic.AddInt64(&n, 1)
			})
			if n != 50 {
				t.Errorf("got %d tiles", n)
			}
		}()
	}
	wg.Wait()
}

func TestSingleTileRunsInline(t *testing.T) {
	t.Parallel()

	p := NewPool(2)
	defer p.Close()

	ran := false
	p.Run(1, func(worker, tile int) {
		if worker != 0 || tile != 0 {
			t.Errorf("inline run got worker=%d tile=%d", worker, tile)
		}
		ran = true
	})
	if !ran {
		t.Fatalf("single tile did not run")
	}
	p.Run(0, func(worker, tile int) {
		t.Errorf("zero tiles should not run")
	})
}

func TestDefaultSize(t *testing.T) {
	t.Parallel()

	p := NewPool(0)
	defer p.Close()
	if p.Size() <= 0 {
		t.Fatalf("default pool size %d", p.Size())
	}
}
