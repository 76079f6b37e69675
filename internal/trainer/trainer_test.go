package trainer

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/neoharju/tiny-cuda-nn/internal/config"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// smallConfig keeps parameter tables tiny so tests stay fast.
func smallConfig() *config.Model {
	cfg := config.Default()
	cfg.Encoding.Levels = 4
	cfg.Encoding.Log2TableSize = 10
	cfg.Encoding.BaseResolution = 4
	cfg.Encoding.Growth = 2
	cfg.Network.HiddenWidth = 32
	cfg.Network.HiddenLayers = 2
	cfg.Optimizer.LearningRate = 1e-2
	return cfg
}

func identityConfig() *config.Model {
	cfg := smallConfig()
	cfg.Encoding.Kind = "identity"
	cfg.Network.HiddenWidth = 64
	return cfg
}

// sampleBatch fills inputs with uniform coordinates and targets with
// (x, y, x*y) per column.
func sampleBatch(rng *rand.Rand, inputs, targets *tensor.Mat) {
	for j := 0; j < inputs.C; j++ {
		x := rng.Float32()
		y := rng.Float32()
		inputs.SetCol(j, []float32{x, y})
		targets.SetCol(j, []float32{x, y, x * y})
	}
}

// TestTrainingReducesLoss fits (x, y) -> (x, y, x*y) with a 64-wide,
// two-hidden-layer ReLU network at Adam lr 1e-3 and batch 256, and
// requires the loss to fall by two orders of magnitude within 10000
// steps. The window average smooths per-batch noise.
func TestTrainingReducesLoss(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping convergence test in short mode")
	}

	cfg := identityConfig()
	cfg.Optimizer.LearningRate = 1e-3

	m, err := New(2, 3, cfg, WithSeed(3), WithMaxBatch(256))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	defer m.Close()

	rng := rand.New(rand.NewSource(99))
	inputs := tensor.NewMat(2, 256)
	targets := tensor.NewMat(3, 256)

	const (
		maxSteps = 10000
		window   = 20
	)
	var first float32
	recent := make([]float32, 0, window)
	tail := float32(math.Inf(1))
	steps := 0
	for step := 0; step < maxSteps; step++ {
		sampleBatch(rng, inputs, targets)
		lossVal, err := m.TrainingStep(inputs, targets)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if math.IsNaN(float64(lossVal)) {
			t.Fatalf("step %d: loss is NaN", step)
		}
		if step == 0 {
			first = lossVal
		}
		recent = append(recent, lossVal)
		if len(recent) > window {
			recent = recent[1:]
		}
		steps = step + 1
		if len(recent) == window {
			var sum float32
			for _, v := range recent {
				sum += v
			}
			tail = sum / window
			if tail <= first/100 {
				break
			}
		}
	}

	if tail > first/100 {
		t.Fatalf("loss fell only %.1fx over %d steps: first %v, tail average %v",
			first/tail, steps, first, tail)
	}
	if m.Step() != uint64(steps) {
		t.Fatalf("step counter: got %d want %d", m.Step(), steps)
	}
}

func TestTrainingDeterministic(t *testing.T) {
	run := func() ([]float32, *tensor.Mat) {
		m, err := New(2, 3, smallConfig(), WithSeed(7), WithMaxBatch(64))
		if err != nil {
			t.Fatalf("new model: %v", err)
		}
		defer m.Close()

		rng := rand.New(rand.NewSource(5))
		inputs := tensor.NewMat(2, 64)
		targets := tensor.NewMat(3, 64)

		losses := make([]float32, 20)
		for step := range losses {
			sampleBatch(rng, inputs, targets)
			losses[step], err = m.TrainingStep(inputs, targets)
			if err != nil {
				t.Fatalf("step %d: %v", step, err)
			}
		}
		sampleBatch(rng, inputs, targets)
		out, err := m.Inference(inputs)
		if err != nil {
			t.Fatalf("inference: %v", err)
		}
		return losses, out
	}

	lossesA, outA := run()
	lossesB, outB := run()
	for i := range lossesA {
		if lossesA[i] != lossesB[i] {
			t.Fatalf("step %d loss diverged: %v vs %v", i, lossesA[i], lossesB[i])
		}
	}
	for i := range outA.Data {
		if outA.Data[i] != outB.Data[i] {
			t.Fatalf("inference output %d diverged: %v vs %v", i, outA.Data[i], outB.Data[i])
		}
	}
}

func TestInferenceRepeatable(t *testing.T) {
	m, err := New(2, 3, smallConfig(), WithSeed(11), WithMaxBatch(32))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	defer m.Close()

	inputs := tensor.NewMat(2, 32)
	tensor.FillRand(inputs, 21)
	for i := range inputs.Data {
		inputs.Data[i] = float32(math.Abs(float64(inputs.Data[i]))) * 40
	}

	a, err := m.Inference(inputs)
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	b, err := m.Inference(inputs)
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("output %d changed between calls: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ncf")

	m, err := New(2, 3, smallConfig(), WithSeed(17), WithMaxBatch(64))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	defer m.Close()

	rng := rand.New(rand.NewSource(31))
	inputs := tensor.NewMat(2, 64)
	targets := tensor.NewMat(3, 64)
	for step := 0; step < 5; step++ {
		sampleBatch(rng, inputs, targets)
		if _, err := m.TrainingStep(inputs, targets); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
	}
	if err := m.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, WithMaxBatch(64))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer loaded.Close()

	if loaded.ID() != m.ID() {
		t.Fatalf("id: got %v want %v", loaded.ID(), m.ID())
	}
	if loaded.Step() != m.Step() {
		t.Fatalf("step: got %d want %d", loaded.Step(), m.Step())
	}
	if loaded.InputDims() != 2 || loaded.OutputDims() != 3 {
		t.Fatalf("dims: got %d -> %d", loaded.InputDims(), loaded.OutputDims())
	}

	sampleBatch(rng, inputs, targets)
	wantOut, err := m.Inference(inputs)
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	gotOut, err := loaded.Inference(inputs)
	if err != nil {
		t.Fatalf("loaded inference: %v", err)
	}
	for i := range wantOut.Data {
		if wantOut.Data[i] != gotOut.Data[i] {
			t.Fatalf("output %d differs after reload: %v vs %v", i, wantOut.Data[i], gotOut.Data[i])
		}
	}

	// Optimizer accumulators travel with the checkpoint, so the next step
	// matches exactly too.
	wantLoss, err := m.TrainingStep(inputs, targets)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	gotLoss, err := loaded.TrainingStep(inputs, targets)
	if err != nil {
		t.Fatalf("loaded step: %v", err)
	}
	if wantLoss != gotLoss {
		t.Fatalf("post-reload step loss: got %v want %v", gotLoss, wantLoss)
	}
}

func TestTrainingStepNaNLossSurfaces(t *testing.T) {
	m, err := New(2, 3, identityConfig(), WithSeed(1), WithMaxBatch(8))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	defer m.Close()

	inputs := tensor.NewMat(2, 8)
	targets := tensor.NewMat(3, 8)
	inputs.Set(0, 0, float32(math.NaN()))

	lossVal, err := m.TrainingStep(inputs, targets)
	if err != nil {
		t.Fatalf("step returned error, want NaN loss: %v", err)
	}
	if !math.IsNaN(float64(lossVal)) {
		t.Fatalf("loss: got %v want NaN", lossVal)
	}
}

func TestShapeErrors(t *testing.T) {
	m, err := New(2, 3, smallConfig(), WithMaxBatch(8))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	defer m.Close()

	if _, err := m.TrainingStep(tensor.NewMat(5, 8), tensor.NewMat(3, 8)); err == nil {
		t.Fatalf("expected error for wrong input rows")
	}
	if _, err := m.TrainingStep(tensor.NewMat(2, 8), tensor.NewMat(2, 8)); err == nil {
		t.Fatalf("expected error for wrong target rows")
	}
	if _, err := m.TrainingStep(tensor.NewMat(2, 8), tensor.NewMat(3, 4)); err == nil {
		t.Fatalf("expected error for batch mismatch")
	}
	if _, err := m.Inference(tensor.NewMat(4, 8)); err == nil {
		t.Fatalf("expected error for wrong inference rows")
	}
}

func TestNewRejectsBadConstruction(t *testing.T) {
	cfg := smallConfig()
	cfg.Loss.Kind = "huber"
	if _, err := New(2, 3, cfg, WithMaxBatch(8)); err == nil {
		t.Fatalf("expected error for unknown loss kind")
	}
	if _, err := New(0, 3, smallConfig()); err == nil {
		t.Fatalf("expected error for zero input dims")
	}
	if _, err := New(2, 0, smallConfig()); err == nil {
		t.Fatalf("expected error for zero output dims")
	}
}
