package arena

import (
	"errors"
	"testing"
)

func TestAllocAndReset(t *testing.T) {
	t.Parallel()

	a := New(256)
	m, err := a.Alloc(4, 8)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if m.R != 4 || m.C != 8 {
		t.Fatalf("shape: %dx%d", m.R, m.C)
	}
	if a.Used() == 0 {
		t.Fatalf("used not advanced")
	}

	m.Set(3, 7, 1)
	gen := a.Generation()
	a.Reset()
	if a.Used() != 0 {
		t.Fatalf("used after reset: %d", a.Used())
	}
	if a.Generation() != gen+1 {
		t.Fatalf("generation did not advance")
	}

	// The slab is recycled and the next allocation of the same shape must
	// come back zeroed even though the old view dirtied it.
	m2, err := a.Alloc(4, 8)
	if err != nil {
		t.Fatalf("alloc after reset: %v", err)
	}
	if got := m2.At(3, 7); got != 0 {
		t.Fatalf("recycled allocation not zeroed: %v", got)
	}
}

func TestAllocAligned(t *testing.T) {
	t.Parallel()

	a := New(256)
	if _, err := a.Alloc(1, 3); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if a.Used()%alignElems != 0 {
		t.Fatalf("allocation not aligned: used=%d", a.Used())
	}
}

func TestExhaustion(t *testing.T) {
	t.Parallel()

	a := New(64)
	if _, err := a.Alloc(4, 8); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	_, err := a.Alloc(8, 8)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	// Failure must not corrupt the arena: a fitting request still succeeds.
	if _, err := a.Alloc(2, 8); err != nil {
		t.Fatalf("alloc after failure: %v", err)
	}

	if _, err := a.AllocSlice(1024); !errors.Is(err, ErrExhausted) {
		t.Fatalf("slice exhaustion: got %v", err)
	}
}

func TestPairSwap(t *testing.T) {
	t.Parallel()

	p := NewPair(64)
	first := p.Active()
	m, err := first.Alloc(2, 2)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	m.Set(0, 0, 5)

	second := p.Swap()
	if second == first {
		t.Fatalf("swap returned the same arena")
	}
	// The previous generation's allocations survive one swap.
	if got := m.At(0, 0); got != 5 {
		t.Fatalf("previous generation clobbered: %v", got)
	}

	third := p.Swap()
	if third != first {
		t.Fatalf("swap did not alternate")
	}
	if third.Used() != 0 {
		t.Fatalf("swapped-in arena not reset: used=%d", third.Used())
	}
}
