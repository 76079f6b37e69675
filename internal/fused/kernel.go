package fused

import "simd/archsimd"

// CPUFeatures holds detected CPU capabilities, checked once at init.
type CPUFeatures struct {
	HasAVX2 bool
}

var cpu CPUFeatures

func init() {
	cpu.HasAVX2 = archsimd.X86.AVX2()
	buildRegistry()
}

// matmulFunc computes one tile-resident layer multiply. W is rows x cols
// row-major. src and dst are feature-major panels with a fixed row stride of
// TileB; tb <= TileB is the live column count of a (possibly partial) tile.
//
// mm computes dst = W.src (dst has rows rows); mmT computes dst = Wt.src
// (dst has cols rows). Neither reads or writes beyond tb columns.
type matmulFunc func(dst, w, src []float32, rows, cols, tb int)

// kernelVariant is one precompiled specialization of the fused layer kernels.
// Variants are built once at package init and selected per descriptor at
// network construction; the hot path never re-dispatches on shape or CPU
// features.
type kernelVariant struct {
	width int
	mm    matmulFunc
	mmT   matmulFunc
	dw    func(dwLocal, dPre, aPrev []float32, rows, cols, tb int)
}

var registry = map[int]*kernelVariant{}

// buildRegistry instantiates one variant per supported hidden width plus the
// generic variant (key 0) used by networks with no hidden layers, wiring in
// the SIMD micro-kernels when the CPU qualifies.
func buildRegistry() {
	widths := []int{0, 16, 32, 64, 128}
	for _, w := range widths {
		v := &kernelVariant{width: w}
		if cpu.HasAVX2 {
			if w >= 64 {
				// Wide layers amortize register accumulation across the
				// whole k loop before touching the dst panel.
				v.mm = mmAccumSIMD
			} else {
				v.mm = mmDirectSIMD
			}
			v.mmT = mmTransSIMD
			v.dw = dwTileSIMD
		} else {
			v.mm = mmScalar
			v.mmT = mmTransScalar
			v.dw = dwTileScalar
		}
		registry[w] = v
	}
}

// variantFor selects the kernel specialization for a descriptor. Validate
// has already constrained the width, so a missing entry is a programmer
// error.
func variantFor(d Descriptor) *kernelVariant {
	key := 0
	if d.HiddenLayers > 0 {
		key = d.HiddenWidth
	}
	v, ok := registry[key]
	if !ok {
		panic("fused: no kernel variant for validated descriptor")
	}
	return v
}

func mmScalar(dst, w, src []float32, rows, cols, tb int) {
	for i := 0; i < rows; i++ {
		row := dst[i*TileB : i*TileB+tb]
		clear(row)
		wRow := w[i*cols : (i+1)*cols]
		for k := 0; k < cols; k++ {
			a := wRow[k]
			s := src[k*TileB : k*TileB+tb]
			for j := range row {
				row[j] += a * s[j]
			}
		}
	}
}

// mmDirectSIMD streams each k contribution straight through the dst panel.
// Cheapest for narrow layers where the panel stays in L1.
func mmDirectSIMD(dst, w, src []float32, rows, cols, tb int) {
	for i := 0; i < rows; i++ {
		row := dst[i*TileB : i*TileB+tb]
		clear(row)
		wRow := w[i*cols : (i+1)*cols]
		for k := 0; k < cols; k++ {
			va := archsimd.BroadcastFloat32x8(wRow[k])
			s := src[k*TileB : k*TileB+tb]
			j := 0
			for ; j+8 <= tb; j += 8 {
				vd := archsimd.LoadFloat32x8Slice(row[j:])
				vs := archsimd.LoadFloat32x8Slice(s[j:])
				vd = vd.Add(vs.Mul(va))
				vd.StoreSlice(row[j:])
			}
			for ; j < tb; j++ {
				row[j] += wRow[k] * s[j]
			}
		}
	}
}

// mmAccumSIMD processes dst in 32-column blocks, accumulating across the full
// k loop in four vector registers before storing once.
func mmAccumSIMD(dst, w, src []float32, rows, cols, tb int) {
	for i := 0; i < rows; i++ {
		row := dst[i*TileB : i*TileB+tb]
		wRow := w[i*cols : (i+1)*cols]
		j := 0
		for ; j+32 <= tb; j += 32 {
			var acc0, acc1, acc2, acc3 archsimd.Float32x8
			acc0 = archsimd.BroadcastFloat32x8(0)
			acc1 = acc0
			acc2 = acc0
			acc3 = acc0
			for k := 0; k < cols; k++ {
				va := archsimd.BroadcastFloat32x8(wRow[k])
				s := src[k*TileB+j : k*TileB+j+32]
				acc0 = acc0.Add(archsimd.LoadFloat32x8Slice(s[0:]).Mul(va))
				acc1 = acc1.Add(archsimd.LoadFloat32x8Slice(s[8:]).Mul(va))
				acc2 = acc2.Add(archsimd.LoadFloat32x8Slice(s[16:]).Mul(va))
				acc3 = acc3.Add(archsimd.LoadFloat32x8Slice(s[24:]).Mul(va))
			}
			acc0.StoreSlice(row[j:])
			acc1.StoreSlice(row[j+8:])
			acc2.StoreSlice(row[j+16:])
			acc3.StoreSlice(row[j+24:])
		}
		for ; j+8 <= tb; j += 8 {
			acc := archsimd.BroadcastFloat32x8(0)
			for k := 0; k < cols; k++ {
				va := archsimd.BroadcastFloat32x8(wRow[k])
				vs := archsimd.LoadFloat32x8Slice(src[k*TileB+j:])
				acc = acc.Add(vs.Mul(va))
			}
			acc.StoreSlice(row[j:])
		}
		for ; j < tb; j++ {
			var sum float32
			for k := 0; k < cols; k++ {
				sum += wRow[k] * src[k*TileB+j]
			}
			row[j] = sum
		}
	}
}

func mmTransScalar(dst, w, src []float32, rows, cols, tb int) {
	for k := 0; k < cols; k++ {
		row := dst[k*TileB : k*TileB+tb]
		clear(row)
		for i := 0; i < rows; i++ {
			a := w[i*cols+k]
			s := src[i*TileB : i*TileB+tb]
			for j := range row {
				row[j] += a * s[j]
			}
		}
	}
}

func mmTransSIMD(dst, w, src []float32, rows, cols, tb int) {
	for k := 0; k < cols; k++ {
		row := dst[k*TileB : k*TileB+tb]
		clear(row)
		for i := 0; i < rows; i++ {
			a := w[i*cols+k]
			va := archsimd.BroadcastFloat32x8(a)
			s := src[i*TileB : i*TileB+tb]
			j := 0
			for ; j+8 <= tb; j += 8 {
				vd := archsimd.LoadFloat32x8Slice(row[j:])
				vs := archsimd.LoadFloat32x8Slice(s[j:])
				vd = vd.Add(vs.Mul(va))
				vd.StoreSlice(row[j:])
			}
			for ; j < tb; j++ {
				row[j] += a * s[j]
			}
		}
	}
}

// dwTileScalar accumulates the tile's weight-gradient contribution into the
// worker-local panel: dwLocal[i,k] += dot(dPre row i, aPrev row k) over the
// live columns.
func dwTileScalar(dwLocal, dPre, aPrev []float32, rows, cols, tb int) {
	for i := 0; i < rows; i++ {
		g := dPre[i*TileB : i*TileB+tb]
		out := dwLocal[i*cols : (i+1)*cols]
		for k := 0; k < cols; k++ {
			a := aPrev[k*TileB : k*TileB+tb]
			var sum float32
			for j := 0; j < tb; j++ {
				sum += g[j] * a[j]
			}
			out[k] += sum
		}
	}
}

func dwTileSIMD(dwLocal, dPre, aPrev []float32, rows, cols, tb int) {
	var lanes [8]float32
	for i := 0; i < rows; i++ {
		g := dPre[i*TileB : i*TileB+tb]
		out := dwLocal[i*cols : (i+1)*cols]
		for k := 0; k < cols; k++ {
			a := aPrev[k*TileB : k*TileB+tb]
			acc := archsimd.BroadcastFloat32x8(0)
			j := 0
			for ; j+8 <= tb; j += 8 {
				vg := archsimd.LoadFloat32x8Slice(g[j:])
				va := archsimd.LoadFloat32x8Slice(a[j:])
				acc = acc.Add(vg.Mul(va))
			}
			acc.StoreSlice(lanes[:])
			sum := lanes[0] + lanes[1] + lanes[2] + lanes[3] +
				lanes[4] + lanes[5] + lanes[6] + lanes[7]
			for ; j < tb; j++ {
				sum += g[j] * a[j]
			}
			out[k] += sum
		}
	}
}
