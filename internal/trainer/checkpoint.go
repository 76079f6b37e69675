package trainer

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/neoharju/tiny-cuda-nn/internal/config"
	"github.com/neoharju/tiny-cuda-nn/pkg/ncf"
)

// checkpointMeta is the JSON metadata blob stored alongside the flat tensors.
type checkpointMeta struct {
	ID         string        `json:"id"`
	Step       uint64        `json:"step"`
	InputDims  int           `json:"input_dims"`
	OutputDims int           `json:"output_dims"`
	Config     *config.Model `json:"config"`
}

// Save writes the model's persisted state: parameter buffers keyed by
// layer/level index plus the optimizer accumulators, all as flat typed
// arrays in an NCF container.
func (m *Model) Save(path string) error {
	w := ncf.NewWriter()

	meta, err := json.Marshal(checkpointMeta{
		ID:         m.id.String(),
		Step:       m.step,
		InputDims:  m.inDims,
		OutputDims: m.outDims,
		Config:     m.cfg,
	})
	if err != nil {
		return fmt.Errorf("trainer: encode metadata: %w", err)
	}
	w.SetMetadata(meta)

	desc := m.net.Desc()
	for l := 0; l < desc.LayerCount(); l++ {
		weights, bias := m.net.Layer(l)
		if err := w.AddFloat32(fmt.Sprintf("network.layer.%d.weight", l), []int{len(weights)}, weights); err != nil {
			return err
		}
		if err := w.AddFloat32(fmt.Sprintf("network.layer.%d.bias", l), []int{len(bias)}, bias); err != nil {
			return err
		}
	}
	if m.enc != nil {
		for l := 0; l < m.enc.Config().Levels; l++ {
			table := m.enc.LevelTable(l)
			if err := w.AddFloat32(fmt.Sprintf("encoding.level.%d.table", l), []int{len(table)}, table); err != nil {
				return err
			}
		}
	}
	if err := addOptimizerState(w, "optimizer.network", m.optNet.State()); err != nil {
		return err
	}
	if m.optEnc != nil {
		if err := addOptimizerState(w, "optimizer.encoding", m.optEnc.State()); err != nil {
			return err
		}
	}

	return w.WriteFile(path)
}

func addOptimizerState(w *ncf.Writer, prefix string, state map[string][]float32) error {
	// An optimizer that has not stepped yet has no accumulators worth
	// persisting; writing only its counters would fail restoration.
	if state["m"] == nil {
		return nil
	}
	for key, buf := range state {
		if buf == nil {
			continue
		}
		if err := w.AddFloat32(prefix+"."+key, []int{len(buf)}, buf); err != nil {
			return err
		}
	}
	return nil
}

// Load reconstructs a model from a checkpoint: the stored description drives
// construction, then every parameter and accumulator buffer is restored.
func Load(path string, opts ...Option) (*Model, error) {
	f, err := ncf.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var meta checkpointMeta
	if err := json.Unmarshal(f.Metadata(), &meta); err != nil {
		return nil, fmt.Errorf("trainer: decode metadata: %w", err)
	}

	m, err := New(meta.InputDims, meta.OutputDims, meta.Config, opts...)
	if err != nil {
		return nil, err
	}
	if id, err := uuid.Parse(meta.ID); err == nil {
		m.id = id
	}
	m.step = meta.Step

	desc := m.net.Desc()
	for l := 0; l < desc.LayerCount(); l++ {
		weights, bias := m.net.Layer(l)
		if err := restore(f, fmt.Sprintf("network.layer.%d.weight", l), weights); err != nil {
			return nil, err
		}
		if err := restore(f, fmt.Sprintf("network.layer.%d.bias", l), bias); err != nil {
			return nil, err
		}
	}
	m.net.SyncStorage()

	if m.enc != nil {
		for l := 0; l < m.enc.Config().Levels; l++ {
			if err := restore(f, fmt.Sprintf("encoding.level.%d.table", l), m.enc.LevelTable(l)); err != nil {
				return nil, err
			}
		}
	}

	if err := loadOptimizerState(f, "optimizer.network", m.optNet); err != nil {
		return nil, err
	}
	if m.optEnc != nil {
		if err := loadOptimizerState(f, "optimizer.encoding", m.optEnc); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func restore(f *ncf.File, name string, dst []float32) error {
	data, err := f.Float32(name)
	if err != nil {
		return err
	}
	if len(data) != len(dst) {
		return fmt.Errorf("trainer: %s has %d elements, model expects %d", name, len(data), len(dst))
	}
	copy(dst, data)
	return nil
}

func loadOptimizerState(f *ncf.File, prefix string, opt interface {
	State() map[string][]float32
	LoadState(map[string][]float32) error
}) error {
	state := map[string][]float32{}
	for _, name := range f.Tensors() {
		if len(name) > len(prefix)+1 && name[:len(prefix)+1] == prefix+"." {
			buf, err := f.Float32(name)
			if err != nil {
				return err
			}
			state[name[len(prefix)+1:]] = buf
		}
	}
	if len(state) == 0 {
		// Checkpoint without optimizer state still loads; training resumes
		// with fresh accumulators.
		return nil
	}
	return opt.LoadState(state)
}
