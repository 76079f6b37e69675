package tensor

import (
	"math"
	"testing"
)

func TestMatIndexing(t *testing.T) {
	t.Parallel()

	m := NewMat(3, 4)
	m.Set(2, 1, 1.5)
	if got := m.At(2, 1); got != 1.5 {
		t.Fatalf("At(2,1): got %v", got)
	}
	if got := m.Data[2*m.Stride+1]; got != 1.5 {
		t.Fatalf("backing store: got %v", got)
	}
}

func TestColRangeSharesStorage(t *testing.T) {
	t.Parallel()

	m := NewMat(2, 8)
	v := m.ColRange(4, 8)
	if v.R != 2 || v.C != 4 || v.Stride != m.Stride {
		t.Fatalf("view shape: R=%d C=%d stride=%d", v.R, v.C, v.Stride)
	}
	v.Set(1, 0, 7)
	if got := m.At(1, 4); got != 7 {
		t.Fatalf("write through view not visible: got %v", got)
	}

	v.Zero()
	if got := m.At(1, 4); got != 0 {
		t.Fatalf("Zero on view leaked past bookkeeping: got %v", got)
	}
	m.Set(1, 3, 3)
	if got := m.At(1, 3); got != 3 {
		t.Fatalf("Zero on view clobbered column outside range")
	}
}

func TestColRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewMat(3, 2)
	m.SetCol(1, []float32{1, 2, 3})
	got := make([]float32, 3)
	m.Col(got, 1)
	for i, want := range []float32{1, 2, 3} {
		if got[i] != want {
			t.Fatalf("col[%d]: got %v want %v", i, got[i], want)
		}
	}
	m.Col(got, 0)
	for i, v := range got {
		if v != 0 {
			t.Fatalf("untouched column modified at %d: %v", i, v)
		}
	}
}

func TestF16MatRoundsOnStore(t *testing.T) {
	t.Parallel()

	m := NewMatF16(2, 2)
	const v = 0.1
	m.Set(0, 0, v)
	got := m.At(0, 0)
	if got == v {
		t.Fatalf("expected rounding, value survived exactly")
	}
	if math.Abs(float64(got-v)) > 1e-4 {
		t.Fatalf("rounding error too large: got %v", got)
	}
}

func TestRowViewAliasesF32(t *testing.T) {
	t.Parallel()

	m := NewMat(2, 3)
	row := m.Row(1)
	row[2] = 9
	if got := m.At(1, 2); got != 9 {
		t.Fatalf("row view not aliased: got %v", got)
	}
}

func TestFillRandDeterministic(t *testing.T) {
	t.Parallel()

	a := NewMat(4, 4)
	b := NewMat(4, 4)
	FillRand(a, 3)
	FillRand(b, 3)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("same seed diverged at %d: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
	FillRand(b, 4)
	same := true
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different seeds produced identical matrices")
	}
}
