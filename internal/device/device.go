// Package device runs fused MLP inference on a WebGPU adapter. It is an
// optional backend: callers try Open and fall back to the CPU kernels
// when no adapter is present.
package device

import (
	"errors"
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/neoharju/tiny-cuda-nn/internal/logger"
)

// ErrNoAdapter reports that no usable WebGPU adapter could be acquired.
var ErrNoAdapter = errors.New("device: no webgpu adapter available")

// Device owns one WebGPU instance, adapter, device and queue. Unlike a
// process-wide singleton, each Device is independently opened and closed so
// tests and multiple models do not share GPU state.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	log      logger.Logger
}

// Open acquires a WebGPU device, preferring a high performance adapter and
// falling back to low power and then the platform default.
func Open(log logger.Logger) (*Device, error) {
	if log == nil {
		log = logger.Default()
	}

	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, ErrNoAdapter
	}

	var adapter *wgpu.Adapter
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		a, err := instance.RequestAdapter(opts)
		if err == nil && a != nil {
			adapter = a
			break
		}
	}
	if adapter == nil {
		instance.Release()
		return nil, ErrNoAdapter
	}

	info := adapter.GetInfo()
	log.Debug("webgpu adapter acquired", "name", info.Name, "vendor", info.VendorName)

	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("device: request device: %w", err)
	}

	return &Device{
		instance: instance,
		adapter:  adapter,
		device:   dev,
		queue:    dev.GetQueue(),
		log:      log,
	}, nil
}

// AdapterInfo reports the acquired adapter's name and vendor.
func (d *Device) AdapterInfo() (name, vendor string) {
	info := d.adapter.GetInfo()
	return info.Name, info.VendorName
}

// Close releases the device and instance. The Device must not be used after.
func (d *Device) Close() {
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

func (d *Device) newStorageBuffer(label string, size int) (*wgpu.Buffer, error) {
	return d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(size),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
}

func (d *Device) newStagingBuffer(label string, size int) (*wgpu.Buffer, error) {
	return d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(size),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
}

// readBuffer maps a staging buffer and copies n float32 values out of it.
func (d *Device) readBuffer(buf *wgpu.Buffer, n int) ([]float32, error) {
	done := make(chan struct{})
	var mapErr error
	buf.MapAsync(wgpu.MapModeRead, 0, buf.GetSize(), func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("device: buffer map status %d", status)
		}
		close(done)
	})
	for {
		d.device.Poll(true, nil)
		select {
		case <-done:
			if mapErr != nil {
				return nil, mapErr
			}
			data := buf.GetMappedRange(0, uint(buf.GetSize()))
			if data == nil {
				buf.Unmap()
				return nil, errors.New("device: mapped range is nil")
			}
			out := make([]float32, n)
			copy(out, wgpu.FromBytes[float32](data))
			buf.Unmap()
			return out, nil
		default:
		}
	}
}
