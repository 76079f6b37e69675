package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/urfave/cli/v3"

	"github.com/neoharju/tiny-cuda-nn/internal/config"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
	"github.com/neoharju/tiny-cuda-nn/internal/trainer"
)

// syntheticTarget is a closed-form field the demo fits. The trained model is
// checkpointed so infer/serve have something real to load.
type syntheticTarget struct {
	outDims int
	eval    func(coord, out []float32)
}

func targetFor(name string, dims int) (syntheticTarget, error) {
	switch name {
	case "sine":
		// Product of per-axis sinusoids, one output channel.
		return syntheticTarget{
			outDims: 1,
			eval: func(coord, out []float32) {
				v := 1.0
				for _, x := range coord {
					v *= math.Sin(2 * math.Pi * float64(x))
				}
				out[0] = float32(v)
			},
		}, nil
	case "product":
		// Passes the coordinates through and appends their product.
		return syntheticTarget{
			outDims: dims + 1,
			eval: func(coord, out []float32) {
				p := float32(1)
				for i, x := range coord {
					out[i] = x
					p *= x
				}
				out[dims] = p
			},
		}, nil
	default:
		return syntheticTarget{}, fmt.Errorf("unknown target %q (want sine or product)", name)
	}
}

func trainCmd() *cli.Command {
	var (
		configPath string
		checkpoint string
		target     string
		dims       int64
		steps      int64
		batch      int64
		seed       int64
		logEvery   int64
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Fit a model to a synthetic target and write a checkpoint",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to model description (json or yaml); built-in default when omitted",
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"o"},
				Usage:       "output checkpoint path (.ncf)",
				Value:       "model.ncf",
				Destination: &checkpoint,
			},
			&cli.StringFlag{
				Name:        "target",
				Usage:       "synthetic target to fit (sine, product)",
				Value:       "sine",
				Destination: &target,
			},
			&cli.Int64Flag{
				Name:        "dims",
				Usage:       "input dimensionality",
				Value:       2,
				Destination: &dims,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Aliases:     []string{"n"},
				Usage:       "number of training steps",
				Value:       1000,
				Destination: &steps,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Aliases:     []string{"b"},
				Usage:       "samples per training step",
				Value:       256,
				Destination: &batch,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "seed for parameters and sampling",
				Value:       1,
				Destination: &seed,
			},
			&cli.Int64Flag{
				Name:        "log-every",
				Usage:       "steps between loss log lines",
				Value:       100,
				Destination: &logEvery,
			},
		}, loggingFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyTrainConfig(c, loadUserConfig(), &steps, &batch, &seed)
			log := buildLogger()

			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}

			tgt, err := targetFor(target, int(dims))
			if err != nil {
				return err
			}

			model, err := trainer.New(int(dims), tgt.outDims, cfg,
				trainer.WithLogger(log),
				trainer.WithSeed(seed),
				trainer.WithMaxBatch(int(batch)),
			)
			if err != nil {
				return err
			}
			defer model.Close()

			log.Info("training",
				"target", target,
				"dims", dims,
				"steps", steps,
				"batch", batch,
				"encoding", cfg.Encoding.Kind,
				"loss", cfg.Loss.Kind,
			)

			rng := rand.New(rand.NewSource(seed))
			inputs := tensor.NewMat(int(dims), int(batch))
			targets := tensor.NewMat(tgt.outDims, int(batch))
			coord := make([]float32, dims)
			out := make([]float32, tgt.outDims)

			for step := int64(0); step < steps; step++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				for j := 0; j < int(batch); j++ {
					for d := range coord {
						coord[d] = rng.Float32()
					}
					tgt.eval(coord, out)
					inputs.SetCol(j, coord)
					targets.SetCol(j, out)
				}
				loss, err := model.TrainingStep(inputs, targets)
				if err != nil {
					return err
				}
				if math.IsNaN(float64(loss)) {
					log.Warn("loss is NaN, stopping", "step", step)
					break
				}
				if logEvery > 0 && (step%logEvery == 0 || step == steps-1) {
					log.Info("step", "n", step, "loss", loss)
				}
			}

			if err := model.Save(checkpoint); err != nil {
				return err
			}
			log.Info("checkpoint written", "path", checkpoint, "step", model.Step())
			return nil
		},
	}
}
