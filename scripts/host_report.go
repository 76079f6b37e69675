// Host capability report for sizing training runs: CPU worker budget for the
// tile dispatcher and WebGPU adapter availability for the fused GPU path.
//
// Usage: go run ./scripts/host_report.go
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/goccy/go-json"

	"github.com/neoharju/tiny-cuda-nn/internal/device"
	"github.com/neoharju/tiny-cuda-nn/internal/dispatch"
	"github.com/neoharju/tiny-cuda-nn/internal/logger"
)

type output struct {
	GoVersion  string `json:"go_version"`
	GoOS       string `json:"go_os"`
	GoArch     string `json:"go_arch"`
	CPUs       int    `json:"cpus"`
	GoMaxProcs int    `json:"gomaxprocs"`
	Workers    int    `json:"dispatch_workers"`
	GPU        bool   `json:"gpu"`
	GPUName    string `json:"gpu_name,omitempty"`
	GPUVendor  string `json:"gpu_vendor,omitempty"`
}

func main() {
	pool := dispatch.NewPool(0)
	out := output{
		GoVersion:  runtime.Version(),
		GoOS:       runtime.GOOS,
		GoArch:     runtime.GOARCH,
		CPUs:       runtime.NumCPU(),
		GoMaxProcs: runtime.GOMAXPROCS(0),
		Workers:    pool.Size(),
	}
	pool.Close()

	if dev, err := device.Open(logger.Default()); err == nil {
		out.GPU = true
		out.GPUName, out.GPUVendor = dev.AdapterInfo()
		dev.Close()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
