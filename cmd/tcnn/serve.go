package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/neoharju/tiny-cuda-nn/internal/api"
	"github.com/neoharju/tiny-cuda-nn/internal/trainer"
)

func serveCmd() *cli.Command {
	var (
		checkpoint  string
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a checkpoint over the inference REST API",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"m"},
				Usage:       "path to .ncf checkpoint",
				Required:    true,
				Destination: &checkpoint,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		}, loggingFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyServeConfig(c, loadUserConfig(), &addr)
			log := buildLogger()

			model, err := trainer.Load(checkpoint, trainer.WithLogger(log))
			if err != nil {
				return err
			}
			defer model.Close()

			server := api.NewServer(model, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "model", model.ID(), "step", model.Step())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
