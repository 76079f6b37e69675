package tensor

import "math/rand"

// Mat is a dense row-major matrix view over float values.
//
// The engine's interchange convention is feature-major: R is the feature
// dimension and C is the batch dimension, so one column holds one sample and
// one row holds one feature across the whole batch. Stride is the number of
// elements between the starts of two consecutive rows; for freshly allocated
// matrices it equals C, for views carved out of a larger buffer it may be
// larger.
//
// Mat does not own its memory. Data (f32) or Raw (f16) usually point into a
// parameter buffer or an arena slab whose lifetime bounds the view. Mat
// performs no memory safety beyond Go's slice checks; out-of-range indices
// panic.
type Mat struct {
	R, C   int
	Stride int

	// DType selects the backing store: Data for F32, Raw for F16. F16 values
	// are decoded inline on access to keep memory bandwidth low; arithmetic is
	// always carried out in float32.
	DType DType
	Data  []float32
	Raw   []uint16
}

// NewMat allocates a zero-initialised f32 matrix with stride == C.
func NewMat(r, c int) *Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return &Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  F32,
		Data:   make([]float32, r*c),
	}
}

// NewMatF16 allocates a zero-initialised half-precision matrix.
func NewMatF16(r, c int) *Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return &Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  F16,
		Raw:    make([]uint16, r*c),
	}
}

// NewMatFromData wraps existing f32 data. It checks that the data length
// matches r*c.
func NewMatFromData(r, c int, data []float32) *Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return &Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  F32,
		Data:   data,
	}
}

// At returns the element at row i, column j decoded to float32.
func (m *Mat) At(i, j int) float32 {
	if i < 0 || i >= m.R || j < 0 || j >= m.C {
		panic("matrix index out of range")
	}
	idx := i*m.Stride + j
	if m.DType == F16 {
		return F16Decode(m.Raw[idx])
	}
	return m.Data[idx]
}

// Set stores v at row i, column j, rounding to the storage dtype.
func (m *Mat) Set(i, j int, v float32) {
	if i < 0 || i >= m.R || j < 0 || j >= m.C {
		panic("matrix index out of range")
	}
	idx := i*m.Stride + j
	if m.DType == F16 {
		m.Raw[idx] = F16Encode(v)
		return
	}
	m.Data[idx] = v
}

// Row returns the i-th row as a float32 slice. For f32 matrices this is a
// direct view; modifications propagate to the underlying storage. For f16
// matrices a decoded copy is returned.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	if m.DType == F32 {
		return m.Data[start : start+m.C]
	}
	row := make([]float32, m.C)
	m.RowTo(row, i)
	return row
}

// RowTo decodes the i-th row into dst. dst must have length >= C.
func (m *Mat) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if len(dst) < m.C {
		panic("row buffer too small")
	}
	start := i * m.Stride
	if m.DType == F32 {
		copy(dst[:m.C], m.Data[start:start+m.C])
		return
	}
	for j := 0; j < m.C; j++ {
		dst[j] = F16Decode(m.Raw[start+j])
	}
}

// Col decodes the j-th column (one batch sample) into dst, which must have
// length >= R.
func (m *Mat) Col(dst []float32, j int) {
	if j < 0 || j >= m.C {
		panic("column index out of range")
	}
	if len(dst) < m.R {
		panic("column buffer too small")
	}
	if m.DType == F32 {
		for i := 0; i < m.R; i++ {
			dst[i] = m.Data[i*m.Stride+j]
		}
		return
	}
	for i := 0; i < m.R; i++ {
		dst[i] = F16Decode(m.Raw[i*m.Stride+j])
	}
}

// SetCol writes one batch sample into the j-th column.
func (m *Mat) SetCol(j int, src []float32) {
	if j < 0 || j >= m.C {
		panic("column index out of range")
	}
	if len(src) < m.R {
		panic("column buffer too small")
	}
	if m.DType == F32 {
		for i := 0; i < m.R; i++ {
			m.Data[i*m.Stride+j] = src[i]
		}
		return
	}
	for i := 0; i < m.R; i++ {
		m.Raw[i*m.Stride+j] = F16Encode(src[i])
	}
}

// ColRange returns a view over columns [j0, j1). The view shares storage with
// m; only the stride bookkeeping changes. Used to hand one batch tile to a
// kernel worker.
func (m *Mat) ColRange(j0, j1 int) *Mat {
	if j0 < 0 || j1 < j0 || j1 > m.C {
		panic("column range out of bounds")
	}
	v := &Mat{
		R:      m.R,
		C:      j1 - j0,
		Stride: m.Stride,
		DType:  m.DType,
	}
	if m.DType == F32 {
		if len(m.Data) > 0 {
			v.Data = m.Data[j0:]
		}
	} else {
		if len(m.Raw) > 0 {
			v.Raw = m.Raw[j0:]
		}
	}
	return v
}

// Zero clears every element of the view.
func (m *Mat) Zero() {
	for i := 0; i < m.R; i++ {
		base := i * m.Stride
		if m.DType == F32 {
			clear(m.Data[base : base+m.C])
		} else {
			clear(m.Raw[base : base+m.C])
		}
	}
}

// FillRand fills an f32 matrix with reproducible pseudo-random values in
// roughly (-0.01, 0.01). The seed controls the sequence; identical seeds
// produce identical matrices.
func FillRand(m *Mat, seed int64) {
	if m.DType != F32 {
		panic("FillRand only supports f32 mats")
	}
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < m.R; i++ {
		base := i * m.Stride
		for j := 0; j < m.C; j++ {
			m.Data[base+j] = (rng.Float32() - 0.5) * 0.02
		}
	}
}
