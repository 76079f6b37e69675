package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/neoharju/tiny-cuda-nn/pkg/ncf"
)

func inspectCmd() *cli.Command {
	var (
		checkpoint   string
		showMeta     bool
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of an .ncf checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"m"},
				Usage:       "path to .ncf file",
				Required:    true,
				Destination: &checkpoint,
			},
			&cli.BoolFlag{Name: "meta", Usage: "print raw metadata JSON", Destination: &showMeta},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			stat, err := os.Stat(checkpoint)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat %q: %v", checkpoint, err), 1)
			}

			f, err := ncf.Open(checkpoint)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open ncf: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			fmt.Printf("NCF Inspect: %s (%s)\n", checkpoint, formatBytes(uint64(stat.Size())))

			if showMeta {
				fmt.Printf("\nMetadata:\n%s\n", f.Metadata())
			}

			fmt.Println("\nTensors:")
			var total uint64
			for _, name := range f.Tensors() {
				if tensorFilter != "" && !strings.Contains(name, tensorFilter) {
					continue
				}
				dims, err := f.Dims(name)
				if err != nil {
					continue
				}
				n := 1
				for _, d := range dims {
					n *= d
				}
				size := uint64(n) * 4
				total += size
				fmt.Printf("%-40s shape=%s size=%s\n", name, formatShape(dims), formatBytes(size))
			}
			fmt.Printf("\nTotal tensor data: %s\n", formatBytes(total))
			return nil
		},
	}
}

func formatShape(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
