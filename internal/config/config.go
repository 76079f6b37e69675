// Package config declares the model description a collaborator hands to the
// construction entry point: encoding, network, loss and optimizer kinds with
// their parameters. Descriptions load from JSON or YAML and are validated
// fully at construction; nothing here is consulted again mid-training.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/neoharju/tiny-cuda-nn/internal/fused"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// ErrInvalid marks an invalid model description. It wraps every validation
// failure raised from this package.
var ErrInvalid = errors.New("config: invalid model description")

// Model is the declarative description of one trainable model.
type Model struct {
	Encoding  Encoding  `json:"encoding" yaml:"encoding"`
	Network   Network   `json:"network" yaml:"network"`
	Loss      Loss      `json:"loss" yaml:"loss"`
	Optimizer Optimizer `json:"optimizer" yaml:"optimizer"`
}

// Encoding selects and parameterizes the input encoding.
type Encoding struct {
	Kind             string  `json:"kind" yaml:"kind"` // "hashgrid" or "identity"
	Levels           int     `json:"n_levels" yaml:"n_levels"`
	FeaturesPerLevel int     `json:"n_features_per_level" yaml:"n_features_per_level"`
	Log2TableSize    int     `json:"log2_hashmap_size" yaml:"log2_hashmap_size"`
	BaseResolution   int     `json:"base_resolution" yaml:"base_resolution"`
	Growth           float64 `json:"per_level_scale" yaml:"per_level_scale"`
}

// Network selects the network implementation and shape.
type Network struct {
	Kind             string `json:"kind" yaml:"kind"` // "fully_fused_mlp"
	HiddenWidth      int    `json:"n_neurons" yaml:"n_neurons"`
	HiddenLayers     int    `json:"n_hidden_layers" yaml:"n_hidden_layers"`
	Activation       string `json:"activation" yaml:"activation"`
	OutputActivation string `json:"output_activation" yaml:"output_activation"`
	Precision        string `json:"precision" yaml:"precision"` // "f32" or "f16"
}

// Loss selects the training objective.
type Loss struct {
	Kind string `json:"kind" yaml:"kind"` // "l2", "relative_l2", "l1"
}

// Optimizer selects the optimizer kind and hyperparameters.
type Optimizer struct {
	Kind         string  `json:"kind" yaml:"kind"` // "adam"
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Beta1        float64 `json:"beta1" yaml:"beta1"`
	Beta2        float64 `json:"beta2" yaml:"beta2"`
	Epsilon      float64 `json:"epsilon" yaml:"epsilon"`
	StepBound    float64 `json:"step_bound" yaml:"step_bound"`
}

// Default returns a description that trains out of the box: a 16-level
// hash grid feeding a 64-wide, 2-hidden-layer ReLU network under Adam/L2.
func Default() *Model {
	return &Model{
		Encoding: Encoding{
			Kind:             "hashgrid",
			Levels:           16,
			FeaturesPerLevel: 2,
			Log2TableSize:    19,
			BaseResolution:   16,
			Growth:           1.5,
		},
		Network: Network{
			Kind:         "fully_fused_mlp",
			HiddenWidth:  64,
			HiddenLayers: 2,
			Activation:   "relu",
		},
		Loss:      Loss{Kind: "l2"},
		Optimizer: Optimizer{Kind: "adam", LearningRate: 1e-3},
	}
}

// ParseJSON decodes a model description from JSON.
func ParseJSON(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &m, nil
}

// ParseYAML decodes a model description from YAML.
func ParseYAML(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &m, nil
}

// Load reads a description file, selecting the decoder by extension.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// Dump renders the description back to JSON for checkpoint metadata.
func (m *Model) Dump() ([]byte, error) {
	return json.Marshal(m)
}

// Validate checks every kind string and parameter range. Shape-level checks
// that need the input/output dimensionality (scratch budget, width set)
// happen in the constructors this description feeds.
func (m *Model) Validate() error {
	switch m.Encoding.Kind {
	case "hashgrid", "identity":
	case "":
		return fmt.Errorf("%w: encoding kind missing", ErrInvalid)
	default:
		return fmt.Errorf("%w: unknown encoding kind %q", ErrInvalid, m.Encoding.Kind)
	}
	switch m.Network.Kind {
	case "fully_fused_mlp", "":
	default:
		return fmt.Errorf("%w: unknown network kind %q", ErrInvalid, m.Network.Kind)
	}
	if _, ok := fused.ParseActivation(m.Network.Activation); !ok {
		return fmt.Errorf("%w: unknown activation %q", ErrInvalid, m.Network.Activation)
	}
	if _, ok := fused.ParseActivation(m.Network.OutputActivation); !ok {
		return fmt.Errorf("%w: unknown output activation %q", ErrInvalid, m.Network.OutputActivation)
	}
	if _, ok := tensor.ParseDType(m.Network.Precision); !ok {
		return fmt.Errorf("%w: unknown precision %q", ErrInvalid, m.Network.Precision)
	}
	switch m.Loss.Kind {
	case "", "l2", "relative_l2", "l1":
	default:
		return fmt.Errorf("%w: unknown loss kind %q", ErrInvalid, m.Loss.Kind)
	}
	switch m.Optimizer.Kind {
	case "", "adam":
	default:
		return fmt.Errorf("%w: unknown optimizer kind %q", ErrInvalid, m.Optimizer.Kind)
	}
	if m.Optimizer.LearningRate < 0 {
		return fmt.Errorf("%w: negative learning rate %g", ErrInvalid, m.Optimizer.LearningRate)
	}
	return nil
}
