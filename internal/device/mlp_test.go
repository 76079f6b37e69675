package device

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/neoharju/tiny-cuda-nn/internal/arena"
	"github.com/neoharju/tiny-cuda-nn/internal/dispatch"
	"github.com/neoharju/tiny-cuda-nn/internal/fused"
	"github.com/neoharju/tiny-cuda-nn/internal/logger"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

func TestGenerateWGSLConstants(t *testing.T) {
	t.Parallel()

	desc := fused.Descriptor{
		InputWidth:       3,
		OutputWidth:      2,
		HiddenWidth:      64,
		HiddenLayers:     2,
		Activation:       fused.ActReLU,
		OutputActivation: fused.ActNone,
		DType:            tensor.F32,
	}
	src := generateWGSL(desc)

	// Shared arrays sized to the widest layer, one barrier per hidden layer
	// boundary plus the input load.
	if !strings.Contains(src, "array<f32, 64>") {
		t.Fatalf("shared arrays not sized to max width:\n%s", src)
	}
	if !strings.Contains(src, "@workgroup_size(64)") {
		t.Fatalf("workgroup size not max width:\n%s", src)
	}
	if got, want := strings.Count(src, "workgroupBarrier()"), 3; got != want {
		t.Fatalf("barrier count: got %d want %d", got, want)
	}

	// Layer 1 weights start after layer 0 (64x3 weights + 64 biases).
	wOff1 := 64*3 + 64
	if !strings.Contains(src, fmt.Sprintf("params[%du + t * 64u + k]", wOff1)) {
		t.Fatalf("layer 1 weight offset missing:\n%s", src)
	}
	if !strings.Contains(src, "max(x, 0.0)") {
		t.Fatalf("relu body missing:\n%s", src)
	}
}

func TestGenerateWGSLNoHidden(t *testing.T) {
	t.Parallel()

	desc := fused.Descriptor{
		InputWidth:       4,
		OutputWidth:      2,
		Activation:       fused.ActNone,
		OutputActivation: fused.ActSigmoid,
		DType:            tensor.F32,
	}
	src := generateWGSL(desc)
	if !strings.Contains(src, "@workgroup_size(4)") {
		t.Fatalf("single layer workgroup size:\n%s", src)
	}
	if got := strings.Count(src, "workgroupBarrier()"); got != 1 {
		t.Fatalf("single layer should only barrier after input load, got %d", got)
	}
}

// TestMLPMatchesCPU needs a real adapter and is skipped where none exists.
func TestMLPMatchesCPU(t *testing.T) {
	dev, err := Open(logger.Discard())
	if err != nil {
		t.Skipf("no webgpu adapter: %v", err)
	}
	defer dev.Close()

	desc := fused.Descriptor{
		InputWidth:       2,
		OutputWidth:      3,
		HiddenWidth:      16,
		HiddenLayers:     2,
		Activation:       fused.ActReLU,
		OutputActivation: fused.ActNone,
		DType:            tensor.F32,
	}
	pool := dispatch.NewPool(2)
	defer pool.Close()
	net, err := fused.NewNetwork(desc, pool, 7)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}

	const batch = 33
	mlp, err := CompileMLP(dev, desc, batch)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mlp.Cleanup()
	mlp.UploadParams(net)

	input := tensor.NewMat(desc.InputWidth, batch)
	tensor.FillRand(input, 11)

	a := arena.New(1 << 16)
	want, err := net.Forward(a, input)
	if err != nil {
		t.Fatalf("cpu forward: %v", err)
	}
	got, err := mlp.Forward(input)
	if err != nil {
		t.Fatalf("gpu forward: %v", err)
	}

	for j := 0; j < batch; j++ {
		for i := 0; i < desc.OutputWidth; i++ {
			w, g := want.At(i, j), got.At(i, j)
			if math.Abs(float64(w-g)) > 1e-4 {
				t.Fatalf("output[%d][%d]: cpu=%v gpu=%v", i, j, w, g)
			}
		}
	}
}
