package config

import (
	"errors"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"encoding": {"kind": "hashgrid", "n_levels": 8, "n_features_per_level": 4,
			"log2_hashmap_size": 15, "base_resolution": 8, "per_level_scale": 2.0},
		"network": {"kind": "fully_fused_mlp", "n_neurons": 128, "n_hidden_layers": 3,
			"activation": "relu", "output_activation": "sigmoid", "precision": "f16"},
		"loss": {"kind": "relative_l2"},
		"optimizer": {"kind": "adam", "learning_rate": 0.01, "step_bound": 0.001}
	}`)
	m, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Encoding.Levels != 8 || m.Encoding.Growth != 2.0 {
		t.Fatalf("encoding: %+v", m.Encoding)
	}
	if m.Network.HiddenWidth != 128 || m.Network.Precision != "f16" {
		t.Fatalf("network: %+v", m.Network)
	}
	if m.Optimizer.StepBound != 0.001 {
		t.Fatalf("optimizer: %+v", m.Optimizer)
	}

	if _, err := ParseJSON([]byte(`{broken`)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for malformed JSON, got %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	data := []byte(`
encoding:
  kind: hashgrid
  n_levels: 4
  n_features_per_level: 2
  log2_hashmap_size: 12
  base_resolution: 4
network:
  kind: fully_fused_mlp
  n_neurons: 32
  n_hidden_layers: 1
  activation: tanh
loss:
  kind: l1
optimizer:
  kind: adam
  learning_rate: 0.005
`)
	m, err := ParseYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Network.Activation != "tanh" || m.Loss.Kind != "l1" {
		t.Fatalf("parsed: %+v", m)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Model){
		"missing encoding kind": func(m *Model) { m.Encoding.Kind = "" },
		"unknown encoding":      func(m *Model) { m.Encoding.Kind = "spherical" },
		"unknown network":       func(m *Model) { m.Network.Kind = "cutlass_mlp" },
		"unknown activation":    func(m *Model) { m.Network.Activation = "swish" },
		"unknown out act":       func(m *Model) { m.Network.OutputActivation = "gelu" },
		"unknown precision":     func(m *Model) { m.Network.Precision = "bf16" },
		"unknown loss":          func(m *Model) { m.Loss.Kind = "huber" },
		"unknown optimizer":     func(m *Model) { m.Optimizer.Kind = "sgd" },
		"negative lr":           func(m *Model) { m.Optimizer.LearningRate = -1 },
	}
	for name, mutate := range cases {
		m := Default()
		mutate(m)
		if err := m.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestDumpRoundTrip(t *testing.T) {
	t.Parallel()

	m := Default()
	m.Network.Precision = "f16"
	data, err := m.Dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	back, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if *back != *m {
		t.Fatalf("round trip changed config:\n%+v\n%+v", m, back)
	}
}
