package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/neoharju/tiny-cuda-nn/internal/arena"
	"github.com/neoharju/tiny-cuda-nn/internal/device"
	"github.com/neoharju/tiny-cuda-nn/internal/logger"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
	"github.com/neoharju/tiny-cuda-nn/internal/trainer"
)

func inferCmd() *cli.Command {
	var (
		checkpoint string
		useGPU     bool
	)

	return &cli.Command{
		Name:      "infer",
		Usage:     "Evaluate a checkpoint at the given coordinates",
		ArgsUsage: "x,y[,z] [x,y[,z] ...]",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"m"},
				Usage:       "path to .ncf checkpoint",
				Required:    true,
				Destination: &checkpoint,
			},
			&cli.BoolFlag{
				Name:        "gpu",
				Usage:       "run the network forward pass on the WebGPU backend",
				Destination: &useGPU,
			},
		}, loggingFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			args := c.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("no coordinates given")
			}

			log := buildLogger()
			model, err := trainer.Load(checkpoint, trainer.WithLogger(log))
			if err != nil {
				return err
			}
			defer model.Close()

			inputs := tensor.NewMat(model.InputDims(), len(args))
			for j, arg := range args {
				coord, err := parseCoord(arg, model.InputDims())
				if err != nil {
					return err
				}
				inputs.SetCol(j, coord)
			}

			var outputs *tensor.Mat
			if useGPU {
				outputs, err = inferGPU(model, inputs, log)
			} else {
				outputs, err = model.Inference(inputs)
			}
			if err != nil {
				return err
			}

			col := make([]float32, outputs.R)
			for j := 0; j < outputs.C; j++ {
				outputs.Col(col, j)
				parts := make([]string, len(col))
				for i, v := range col {
					parts[i] = strconv.FormatFloat(float64(v), 'g', 6, 32)
				}
				fmt.Printf("%s -> %s\n", args[j], strings.Join(parts, ","))
			}
			return nil
		},
	}
}

// inferGPU runs the encoding on the CPU and the fused network forward on the
// WebGPU backend.
func inferGPU(model *trainer.Model, inputs *tensor.Mat, log logger.Logger) (*tensor.Mat, error) {
	dev, err := device.Open(log)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	name, vendor := dev.AdapterInfo()
	log.Info("using gpu", "adapter", name, "vendor", vendor)

	mlp, err := device.CompileMLP(dev, model.Network().Desc(), inputs.C)
	if err != nil {
		return nil, err
	}
	defer mlp.Cleanup()
	mlp.UploadParams(model.Network())

	features := inputs
	if enc := model.Encoder(); enc != nil {
		a := arena.New(enc.OutputWidth()*inputs.C + 64)
		features, err = enc.Forward(a, inputs)
		if err != nil {
			return nil, err
		}
	}
	return mlp.Forward(features)
}

func parseCoord(s string, dims int) ([]float32, error) {
	fields := strings.Split(s, ",")
	if len(fields) != dims {
		return nil, fmt.Errorf("coordinate %q has %d components, model expects %d", s, len(fields), dims)
	}
	coord := make([]float32, dims)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", s, err)
		}
		coord[i] = float32(v)
	}
	return coord, nil
}
