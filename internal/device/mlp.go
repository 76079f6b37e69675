package device

import (
	"fmt"
	"strings"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/neoharju/tiny-cuda-nn/internal/fused"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// MLP is a compiled fused forward pipeline for one network shape. The whole
// layer stack runs in a single compute dispatch: one workgroup per sample,
// activations ping-ponging between two workgroup-shared arrays with a barrier
// between layers, so nothing round-trips through device memory mid-network.
type MLP struct {
	dev      *Device
	desc     fused.Descriptor
	maxBatch int

	pipeline *wgpu.ComputePipeline
	layout   *wgpu.BindGroupLayout
	bind     *wgpu.BindGroup

	paramBuf   *wgpu.Buffer
	inputBuf   *wgpu.Buffer
	outputBuf  *wgpu.Buffer
	stagingBuf *wgpu.Buffer
}

// CompileMLP builds buffers, shader and pipeline for the given shape. The
// shader source is generated per shape so layer widths and offsets are
// constants to the compiler, mirroring the per-shape CPU kernel variants.
func CompileMLP(dev *Device, desc fused.Descriptor, maxBatch int) (*MLP, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if maxBatch <= 0 {
		return nil, fmt.Errorf("device: maxBatch must be positive, got %d", maxBatch)
	}

	m := &MLP{dev: dev, desc: desc, maxBatch: maxBatch}

	var err error
	if m.paramBuf, err = dev.newStorageBuffer("mlp_params", desc.ParamCount()*4); err != nil {
		return nil, fmt.Errorf("device: param buffer: %w", err)
	}
	if m.inputBuf, err = dev.newStorageBuffer("mlp_input", desc.InputWidth*maxBatch*4); err != nil {
		return nil, fmt.Errorf("device: input buffer: %w", err)
	}
	if m.outputBuf, err = dev.newStorageBuffer("mlp_output", desc.OutputWidth*maxBatch*4); err != nil {
		return nil, fmt.Errorf("device: output buffer: %w", err)
	}
	if m.stagingBuf, err = dev.newStagingBuffer("mlp_staging", desc.OutputWidth*maxBatch*4); err != nil {
		return nil, fmt.Errorf("device: staging buffer: %w", err)
	}

	module, err := dev.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "mlp_fused",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: generateWGSL(desc)},
	})
	if err != nil {
		return nil, fmt.Errorf("device: shader compile: %w", err)
	}
	defer module.Release()

	m.layout, err = dev.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "mlp_bgl",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("device: bind group layout: %w", err)
	}

	pipelineLayout, err := dev.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "mlp_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{m.layout},
	})
	if err != nil {
		return nil, fmt.Errorf("device: pipeline layout: %w", err)
	}

	m.pipeline, err = dev.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "mlp_pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("device: pipeline create: %w", err)
	}

	m.bind, err = dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "mlp_bind",
		Layout: m.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: m.paramBuf, Size: m.paramBuf.GetSize()},
			{Binding: 1, Buffer: m.inputBuf, Size: m.inputBuf.GetSize()},
			{Binding: 2, Buffer: m.outputBuf, Size: m.outputBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("device: bind group: %w", err)
	}
	return m, nil
}

// UploadParams copies the network's flat parameter buffer to the device.
// Call after every host-side optimizer step that should be visible on GPU.
func (m *MLP) UploadParams(net *fused.Network) {
	m.dev.queue.WriteBuffer(m.paramBuf, 0, wgpu.ToBytes(net.Params()))
}

// Forward evaluates the network for a batch of input columns and returns the
// outputs as a fresh matrix with the same column order.
func (m *MLP) Forward(input *tensor.Mat) (*tensor.Mat, error) {
	if input.R != m.desc.InputWidth {
		return nil, fmt.Errorf("device: input has %d rows, network expects %d", input.R, m.desc.InputWidth)
	}
	batch := input.C
	if batch > m.maxBatch {
		return nil, fmt.Errorf("device: batch %d exceeds compiled capacity %d", batch, m.maxBatch)
	}

	// The shader addresses samples contiguously, so columns are flattened
	// sample-major before upload and restored after readback.
	flat := make([]float32, m.desc.InputWidth*batch)
	col := make([]float32, m.desc.InputWidth)
	for j := 0; j < batch; j++ {
		input.Col(col, j)
		copy(flat[j*m.desc.InputWidth:], col)
	}
	m.dev.queue.WriteBuffer(m.inputBuf, 0, wgpu.ToBytes(flat))

	enc, err := m.dev.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("device: command encoder: %w", err)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(m.pipeline)
	pass.SetBindGroup(0, m.bind, nil)
	pass.DispatchWorkgroups(uint32(batch), 1, 1)
	pass.End()
	enc.CopyBufferToBuffer(m.outputBuf, 0, m.stagingBuf, 0, uint64(m.desc.OutputWidth*batch*4))

	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("device: encoder finish: %w", err)
	}
	m.dev.queue.Submit(cmd)

	raw, err := m.dev.readBuffer(m.stagingBuf, m.desc.OutputWidth*batch)
	if err != nil {
		return nil, err
	}
	out := tensor.NewMat(m.desc.OutputWidth, batch)
	for j := 0; j < batch; j++ {
		out.SetCol(j, raw[j*m.desc.OutputWidth:(j+1)*m.desc.OutputWidth])
	}
	return out, nil
}

// Cleanup releases the pipeline and buffers.
func (m *MLP) Cleanup() {
	for _, b := range []*wgpu.Buffer{m.paramBuf, m.inputBuf, m.outputBuf, m.stagingBuf} {
		if b != nil {
			b.Destroy()
		}
	}
	if m.bind != nil {
		m.bind.Release()
	}
	if m.pipeline != nil {
		m.pipeline.Release()
	}
}

func wgslActivation(act fused.Activation) string {
	switch act {
	case fused.ActReLU:
		return "return max(x, 0.0);"
	case fused.ActLeakyReLU:
		return "return select(0.01 * x, x, x > 0.0);"
	case fused.ActSigmoid:
		return "return 1.0 / (1.0 + exp(-x));"
	case fused.ActTanh:
		return "return tanh(x);"
	default:
		return "return x;"
	}
}

// generateWGSL emits the per-shape fused shader. Every layer's dimensions and
// parameter offsets are literal constants; the activations of layer l live in
// one of two shared arrays and the next layer reads them after a barrier.
func generateWGSL(desc fused.Descriptor) string {
	maxW := desc.InputWidth
	if desc.OutputWidth > maxW {
		maxW = desc.OutputWidth
	}
	if desc.HiddenLayers > 0 && desc.HiddenWidth > maxW {
		maxW = desc.HiddenWidth
	}

	var b strings.Builder
	fmt.Fprintf(&b, `@group(0) @binding(0) var<storage, read> params : array<f32>;
@group(0) @binding(1) var<storage, read> input : array<f32>;
@group(0) @binding(2) var<storage, read_write> output : array<f32>;

var<workgroup> act_a : array<f32, %d>;
var<workgroup> act_b : array<f32, %d>;

fn act_hidden(x: f32) -> f32 { %s }
fn act_out(x: f32) -> f32 { %s }

@compute @workgroup_size(%d)
fn main(@builtin(workgroup_id) wid: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>) {
	let sample = wid.x;
	let t = lid.x;
	if (t < %du) {
		act_a[t] = input[sample * %du + t];
	}
	workgroupBarrier();
`, maxW, maxW, wgslActivation(desc.Activation), wgslActivation(desc.OutputActivation), maxW,
		desc.InputWidth, desc.InputWidth)

	src, dst := "act_a", "act_b"
	off := 0
	layers := desc.LayerCount()
	for l := 0; l < layers; l++ {
		rows, cols := desc.OutputWidth, desc.HiddenWidth
		if l < layers-1 {
			rows = desc.HiddenWidth
		}
		if l == 0 {
			cols = desc.InputWidth
		}
		wOff := off
		bOff := off + rows*cols
		off = bOff + rows

		actFn := "act_hidden"
		if l == layers-1 {
			actFn = "act_out"
		}
		fmt.Fprintf(&b, `	if (t < %du) {
		var sum: f32 = params[%du + t];
		for (var k: u32 = 0u; k < %du; k++) {
			sum = sum + params[%du + t * %du + k] * %s[k];
		}
`, rows, bOff, cols, wOff, cols, src)
		if l == layers-1 {
			fmt.Fprintf(&b, "\t\toutput[sample * %du + t] = %s(sum);\n\t}\n", rows, actFn)
		} else {
			fmt.Fprintf(&b, "\t\t%s[t] = %s(sum);\n\t}\n\tworkgroupBarrier();\n", dst, actFn)
		}
		src, dst = dst, src
	}
	b.WriteString("}\n")
	return b.String()
}
