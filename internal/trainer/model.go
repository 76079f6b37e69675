// Package trainer wires an encoding, a fused network, a loss and per-buffer
// optimizers into an opaque trainable model handle and drives the training
// step: encode, fused forward, loss, fused backward, encoder backward, one
// optimizer step per parameter buffer. The trainer owns the step-scoped
// memory arenas but no other long-lived device state.
package trainer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/neoharju/tiny-cuda-nn/internal/arena"
	"github.com/neoharju/tiny-cuda-nn/internal/config"
	"github.com/neoharju/tiny-cuda-nn/internal/dispatch"
	"github.com/neoharju/tiny-cuda-nn/internal/fused"
	"github.com/neoharju/tiny-cuda-nn/internal/hashgrid"
	"github.com/neoharju/tiny-cuda-nn/internal/logger"
	"github.com/neoharju/tiny-cuda-nn/internal/loss"
	"github.com/neoharju/tiny-cuda-nn/internal/optim"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// DefaultMaxBatch bounds the batch size the step arenas are provisioned for.
const DefaultMaxBatch = 1 << 14

// Model is a trainable model handle. Concurrent training steps over the same
// handle are unsupported; the handle assumes one driving goroutine.
type Model struct {
	id      uuid.UUID
	cfg     *config.Model
	inDims  int
	outDims int

	enc  *hashgrid.Encoder // nil when the encoding kind is identity
	net  *fused.Network
	loss loss.Loss

	optNet optim.Optimizer
	optEnc optim.Optimizer

	arenas   *arena.Pair
	pool     *dispatch.Pool
	ownsPool bool
	log      logger.Logger

	maxBatch int
	step     uint64
}

type options struct {
	pool     *dispatch.Pool
	log      logger.Logger
	seed     int64
	maxBatch int
}

// Option configures model construction.
type Option func(*options)

// WithPool shares an existing dispatch pool instead of creating one.
func WithPool(p *dispatch.Pool) Option { return func(o *options) { o.pool = p } }

// WithLogger sets the model's logger.
func WithLogger(l logger.Logger) Option { return func(o *options) { o.log = l } }

// WithSeed fixes the parameter initialisation seed.
func WithSeed(seed int64) Option { return func(o *options) { o.seed = seed } }

// WithMaxBatch provisions the step arenas for batches up to n columns.
func WithMaxBatch(n int) Option { return func(o *options) { o.maxBatch = n } }

// New is the construction entry point: it builds the encoder/network/loss/
// optimizer quadruple from the declarative description and returns the
// trained handle. Every configuration problem surfaces here; a model that
// constructs successfully does not fail on shape grounds mid-training.
func New(inDims, outDims int, cfg *config.Model, opts ...Option) (*Model, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if inDims < 1 || outDims < 1 {
		return nil, fmt.Errorf("%w: dimensionality %d -> %d", config.ErrInvalid, inDims, outDims)
	}

	o := options{seed: 1337, maxBatch: DefaultMaxBatch}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Default()
	}

	m := &Model{
		id:       uuid.New(),
		cfg:      cfg,
		inDims:   inDims,
		outDims:  outDims,
		log:      o.log,
		maxBatch: o.maxBatch,
		pool:     o.pool,
	}
	if m.pool == nil {
		m.pool = dispatch.NewPool(0)
		m.ownsPool = true
	}

	var err error
	netInput := inDims
	if cfg.Encoding.Kind == "hashgrid" {
		m.enc, err = hashgrid.NewEncoder(hashgrid.Config{
			Dims:             inDims,
			Levels:           cfg.Encoding.Levels,
			FeaturesPerLevel: cfg.Encoding.FeaturesPerLevel,
			Log2TableSize:    cfg.Encoding.Log2TableSize,
			BaseResolution:   cfg.Encoding.BaseResolution,
			Growth:           cfg.Encoding.Growth,
		}, m.pool, o.seed)
		if err != nil {
			return nil, err
		}
		netInput = m.enc.OutputWidth()
	}

	act, _ := fused.ParseActivation(cfg.Network.Activation)
	outAct, _ := fused.ParseActivation(cfg.Network.OutputActivation)
	dtype, _ := tensor.ParseDType(cfg.Network.Precision)
	m.net, err = fused.NewNetwork(fused.Descriptor{
		InputWidth:       netInput,
		OutputWidth:      outDims,
		HiddenWidth:      cfg.Network.HiddenWidth,
		HiddenLayers:     cfg.Network.HiddenLayers,
		Activation:       act,
		OutputActivation: outAct,
		DType:            dtype,
	}, m.pool, o.seed+1)
	if err != nil {
		return nil, err
	}

	m.loss, err = loss.New(cfg.Loss.Kind)
	if err != nil {
		return nil, err
	}

	m.optNet = optim.NewAdam(adamConfig(cfg.Optimizer))
	if m.enc != nil {
		m.optEnc = optim.NewAdam(adamConfig(cfg.Optimizer))
	}

	m.arenas = arena.NewPair(m.arenaCapacity())

	m.log.Debug("model constructed",
		"id", m.id.String(),
		"net_input", netInput,
		"hidden_width", cfg.Network.HiddenWidth,
		"hidden_layers", cfg.Network.HiddenLayers,
		"params", len(m.net.Params())+m.encoderParamCount(),
	)
	return m, nil
}

func adamConfig(o config.Optimizer) optim.AdamConfig {
	return optim.AdamConfig{
		LearningRate: o.LearningRate,
		Beta1:        o.Beta1,
		Beta2:        o.Beta2,
		Epsilon:      o.Epsilon,
		StepBound:    o.StepBound,
	}
}

// arenaCapacity sizes one step arena for the worst-case allocations of a
// full training step at the provisioned batch bound.
func (m *Model) arenaCapacity() int {
	d := m.net.Desc()
	perCol := d.InputWidth + // encoded features
		d.HiddenLayers*d.HiddenWidth + // stashed activations
		2*d.OutputWidth + // network output + loss gradient
		d.InputWidth + // feature gradient
		m.inDims + // coordinate gradient, if requested
		d.OutputWidth // inference output copy headroom
	n := perCol * m.maxBatch
	// Alignment padding across many small allocations.
	return n + n/8 + 4096
}

func (m *Model) encoderParamCount() int {
	if m.enc == nil {
		return 0
	}
	return len(m.enc.Params())
}

// ID returns the handle's unique id.
func (m *Model) ID() uuid.UUID { return m.id }

// Step returns the number of completed training steps.
func (m *Model) Step() uint64 { return m.step }

// Config returns the declarative description the model was built from.
func (m *Model) Config() *config.Model { return m.cfg }

// InputDims returns the coordinate dimensionality the model consumes.
func (m *Model) InputDims() int { return m.inDims }

// OutputDims returns the model's output dimensionality.
func (m *Model) OutputDims() int { return m.outDims }

// Encoder exposes the hash grid encoder, or nil for identity encoding.
func (m *Model) Encoder() *hashgrid.Encoder { return m.enc }

// Network exposes the fused network.
func (m *Model) Network() *fused.Network { return m.net }

// Close releases the dispatch pool if the model owns it.
func (m *Model) Close() {
	if m.ownsPool {
		m.pool.Close()
	}
}
