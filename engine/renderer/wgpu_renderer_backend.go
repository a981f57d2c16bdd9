package renderer

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuRendererBackendImpl implements RendererBackend on wgpu-native.
// mu guards the device, queue and compute encoder. frameMu guards the render frame and the surface,
// so a render loop blocked on swapchain acquire never delays compute submission.
type wgpuRendererBackendImpl struct {
	mu      sync.Mutex
	frameMu sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface
	device   *wgpu.Device
	queue    *wgpu.Queue

	// limits are the limits requested for the device and therefore guaranteed by it.
	limits         wgpu.Limits
	executionWidth uint32

	presentMode          wgpu.PresentMode
	surfaceFormat        *wgpu.TextureFormat
	renderPassDescriptor *wgpu.RenderPassDescriptor
	// pendingSize is a surface size waiting for the in-flight frame to be presented.
	pendingSize [2]uint32

	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView

	computeFrameEncoder *wgpu.CommandEncoder
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

// newWGPURendererBackend requests an adapter compatible with the window surface and a device with
// the WebGPU default limits.
func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, executionWidth uint32) (*wgpuRendererBackendImpl, error) {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		instance:       wgpu.CreateInstance(nil),
		presentMode:    wgpu.PresentModeFifo,
		executionWidth: executionWidth,
	}
	if w.instance == nil {
		return nil, ErrNoInstance
	}
	w.surface = w.instance.CreateSurface(surfaceDescriptor)
	if w.surface == nil {
		w.instance.Release()
		return nil, ErrNoSurface
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		w.surface.Release()
		w.instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	w.adapter = a

	// ComputeLimits reports these, so dispatch geometry never exceeds what the device was created with.
	w.limits = wgpu.DefaultLimits()

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Overlay Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: w.limits,
		},
	})
	if err != nil {
		w.adapter.Release()
		w.surface.Release()
		w.instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	w.device = d
	w.queue = d.GetQueue()

	return w, nil
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	b.frameMu.Lock()
	defer b.frameMu.Unlock()

	b.pendingSize = [2]uint32{uint32(width), uint32(height)}
	if b.frameSurface == nil {
		b.applySurfaceSize()
	}
}

// applySurfaceSize configures the surface to pendingSize. Requires b.frameMu and no acquired texture.
func (b *wgpuRendererBackendImpl) applySurfaceSize() {
	if b.pendingSize == [2]uint32{} {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	capabilities := b.surface.GetCapabilities(b.adapter)
	format := pickSurfaceFormat(capabilities.Formats)
	b.surfaceFormat = &format
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       b.pendingSize[0],
		Height:      b.pendingSize[1],
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	b.pendingSize = [2]uint32{}

	// The view is filled in per frame with the acquired swapchain texture.
	b.renderPassDescriptor = &wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{A: 1},
		}},
	}
}

// pickSurfaceFormat prefers a non-sRGB 8-bit format. The capture texture already holds
// display-encoded values, and an sRGB target would encode them a second time.
func pickSurfaceFormat(formats []wgpu.TextureFormat) wgpu.TextureFormat {
	for _, f := range formats {
		if f == wgpu.TextureFormatBGRA8Unorm || f == wgpu.TextureFormatRGBA8Unorm {
			return f
		}
	}
	return formats[0]
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeUncapped:
		b.presentMode = wgpu.PresentModeImmediate
	case PresentModeVSync:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeFifo
	}
}

func (b *wgpuRendererBackendImpl) ComputeLimits() common.ComputeLimits {
	maxX := b.limits.MaxComputeWorkgroupSizeX
	maxThreads := b.limits.MaxComputeInvocationsPerWorkgroup
	width := min(b.executionWidth, maxX, maxThreads)
	if width == 0 {
		width = 1
	}
	return common.ComputeLimits{
		ExecutionWidth:     width,
		MaxThreadsPerGroup: maxThreads,
		MaxWorkgroupSizeX:  maxX,
		MaxWorkgroupSizeY:  b.limits.MaxComputeWorkgroupSizeY,
	}
}

func (b *wgpuRendererBackendImpl) BeginComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	b.computeFrameEncoder = encoder
	return nil
}

func (b *wgpuRendererBackendImpl) EndComputeFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return
	}

	commandBuffer, err := b.computeFrameEncoder.Finish(nil)
	if err != nil {
		b.computeFrameEncoder.Release()
		b.computeFrameEncoder = nil
		return
	}

	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	b.computeFrameEncoder.Release()
	b.computeFrameEncoder = nil
}

func (b *wgpuRendererBackendImpl) DispatchCompute(
	p pipeline.Pipeline,
	computeProvider bind_group_provider.BindGroupProvider,
	workGroupCount [3]uint32,
) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return ErrNoComputeFrame
	}

	computePipeline, ok := p.Pipeline().(*wgpu.ComputePipeline)
	if !ok || computePipeline == nil {
		return fmt.Errorf("%s: %w", p.PipelineKey(), ErrPipelineNotFound)
	}
	bindGroup := computeProvider.BindGroup()
	if bindGroup == nil {
		return fmt.Errorf("%s: %s: %w", p.PipelineKey(), computeProvider.Label(), ErrUnboundResource)
	}

	pass := b.computeFrameEncoder.BeginComputePass(nil)
	pass.SetPipeline(computePipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(workGroupCount[0], workGroupCount[1], workGroupCount[2])
	pass.End()
	pass.Release()
	return nil
}

// createPipelineLayout creates one bind group layout per group index and the pipeline layout over them.
// The returned release func frees the layouts once the pipeline holds its own references.
func (b *wgpuRendererBackendImpl) createPipelineLayout(label string, descriptors map[int]wgpu.BindGroupLayoutDescriptor) (*wgpu.PipelineLayout, func(), error) {
	groups := 0
	for g := range descriptors {
		groups = max(groups, g+1)
	}
	bindGroupLayouts := make([]*wgpu.BindGroupLayout, 0, groups)
	release := func() {
		for _, l := range bindGroupLayouts {
			l.Release()
		}
	}
	for g := range groups {
		desc := descriptors[g]
		layout, err := b.device.CreateBindGroupLayout(&desc)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("%s: bind group layout %d: %w", label, g, err)
		}
		bindGroupLayouts = append(bindGroupLayouts, layout)
	}

	pipelineLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	return pipelineLayout, func() {
		pipelineLayout.Release()
		release()
	}, nil
}

func (b *wgpuRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	vertexShader := p.Shader(shader.ShaderTypeVertex)
	fragmentShader := p.Shader(shader.ShaderTypeFragment)
	if vertexShader == nil || fragmentShader == nil {
		return fmt.Errorf("%s: %w", p.PipelineKey(), ErrMissingShader)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surfaceFormat == nil {
		return ErrSurfaceUnconfigured
	}

	vs, err := b.device.CreateShaderModule(vertexShader.Module())
	if err != nil {
		return fmt.Errorf("%s: vertex module: %w", p.PipelineKey(), err)
	}
	defer vs.Release()
	fs, err := b.device.CreateShaderModule(fragmentShader.Module())
	if err != nil {
		return fmt.Errorf("%s: fragment module: %w", p.PipelineKey(), err)
	}
	defer fs.Release()

	layout, releaseLayout, err := b.createPipelineLayout(p.PipelineKey(), p.BindGroupLayoutDescriptors())
	if err != nil {
		return err
	}
	defer releaseLayout()

	state := p.RenderState()
	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShader.EntryPoint(),
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShader.EntryPoint(),
			Targets: []wgpu.ColorTargetState{{
				Format:    *b.surfaceFormat,
				Blend:     state.Blend,
				WriteMask: state.WriteMask,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  state.Topology,
			FrontFace: state.FrontFace,
			CullMode:  state.CullMode,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", p.PipelineKey(), err)
	}
	p.SetRenderPipeline(created)
	return nil
}

func (b *wgpuRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	computeShader := p.Shader(shader.ShaderTypeCompute)
	if computeShader == nil {
		return fmt.Errorf("%s: %w", p.PipelineKey(), ErrMissingShader)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	module, err := b.device.CreateShaderModule(computeShader.Module())
	if err != nil {
		return fmt.Errorf("%s: compute module: %w", p.PipelineKey(), err)
	}
	defer module.Release()

	layout, releaseLayout, err := b.createPipelineLayout(p.PipelineKey(), p.BindGroupLayoutDescriptors())
	if err != nil {
		return err
	}
	defer releaseLayout()

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", p.PipelineKey(), err)
	}
	p.SetComputePipeline(created)
	return nil
}

func (b *wgpuRendererBackendImpl) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	if len(descriptor.Entries) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if provider.BindGroupLayout() == nil {
		layout, err := b.device.CreateBindGroupLayout(&descriptor)
		if err != nil {
			return fmt.Errorf("%s: layout: %w", provider.Label(), err)
		}
		provider.SetBindGroupLayout(layout)
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(descriptor.Entries))
	for _, layoutEntry := range descriptor.Entries {
		entry, err := b.bindGroupEntry(provider, layoutEntry, bufferUsageOverrides, bufferSizeOverrides)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   provider.Label() + " Bind Group",
		Layout:  provider.BindGroupLayout(),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("%s: bind group: %w", provider.Label(), err)
	}
	provider.SetBindGroup(group)
	return nil
}

// bindGroupEntry resolves one layout entry against the provider. Textures and samplers must already be
// on the provider; a missing buffer is created. Requires b.mu.
func (b *wgpuRendererBackendImpl) bindGroupEntry(provider bind_group_provider.BindGroupProvider, layoutEntry wgpu.BindGroupLayoutEntry, usageOverrides map[int]wgpu.BufferUsage, sizeOverrides map[int]uint64) (wgpu.BindGroupEntry, error) {
	binding := int(layoutEntry.Binding)
	entry := wgpu.BindGroupEntry{Binding: layoutEntry.Binding}

	if layoutEntry.Texture.SampleType != wgpu.TextureSampleTypeUndefined ||
		layoutEntry.StorageTexture.Access != wgpu.StorageTextureAccessUndefined {
		if entry.TextureView = provider.TextureView(binding); entry.TextureView == nil {
			return entry, fmt.Errorf("%w: %s texture view %d", ErrUnboundResource, provider.Label(), binding)
		}
		return entry, nil
	}
	if layoutEntry.Sampler.Type != wgpu.SamplerBindingTypeUndefined {
		if entry.Sampler = provider.Sampler(binding); entry.Sampler == nil {
			return entry, fmt.Errorf("%w: %s sampler %d", ErrUnboundResource, provider.Label(), binding)
		}
		return entry, nil
	}

	entry.Buffer = provider.Buffer(binding)
	entry.Size = wgpu.WholeSize
	if entry.Buffer != nil {
		return entry, nil
	}
	size, ok := sizeOverrides[binding]
	if !ok {
		size = layoutEntry.Buffer.MinBindingSize
	}
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: fmt.Sprintf("%s Buffer %d", provider.Label(), binding),
		Size:  size,
		Usage: bufferUsage(layoutEntry.Buffer.Type) | usageOverrides[binding],
	})
	if err != nil {
		return entry, fmt.Errorf("%s: buffer %d: %w", provider.Label(), binding, err)
	}
	provider.SetBuffer(binding, buf)
	entry.Buffer = buf
	return entry, nil
}

func bufferUsage(t wgpu.BufferBindingType) wgpu.BufferUsage {
	if t == wgpu.BufferBindingTypeUniform {
		return wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	}
	return wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
}

func (b *wgpuRendererBackendImpl) InitTexture(stagingData common.TextureStagingData) (*wgpu.Texture, *wgpu.TextureView, error) {
	if stagingData.Width == 0 || stagingData.Height == 0 {
		return nil, nil, fmt.Errorf("%s: texture size %dx%d is empty", stagingData.Label, stagingData.Width, stagingData.Height)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	format := common.Coalesce(stagingData.Format, wgpu.TextureFormatBGRA8Unorm)
	usage := common.Coalesce(stagingData.Usage, wgpu.TextureUsageTextureBinding|wgpu.TextureUsageCopyDst)

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     stagingData.Label,
		Usage:     usage,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              stagingData.Width,
			Height:             stagingData.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, nil, err
	}

	if len(stagingData.Pixels) > 0 {
		b.writeTexture(tex, stagingData.Pixels, stagingData.Width*4, stagingData.Width, stagingData.Height)
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, nil, err
	}

	return tex, view, nil
}

func (b *wgpuRendererBackendImpl) WriteTexture(tex *wgpu.Texture, pixels []byte, bytesPerRow, width, height uint32) {
	if tex == nil || len(pixels) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.writeTexture(tex, pixels, bytesPerRow, width, height)
}

// writeTexture requires b.mu to be held.
func (b *wgpuRendererBackendImpl) writeTexture(tex *wgpu.Texture, pixels []byte, bytesPerRow, width, height uint32) {
	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  bytesPerRow,
			RowsPerImage: height,
		},
		&wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
	)
}

func (b *wgpuRendererBackendImpl) InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	samp, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         provider.Label() + " Sampler",
		AddressModeU:  common.Coalesce(samplerStagingData.AddressModeU, wgpu.AddressModeClampToEdge),
		AddressModeV:  common.Coalesce(samplerStagingData.AddressModeV, wgpu.AddressModeClampToEdge),
		AddressModeW:  common.Coalesce(samplerStagingData.AddressModeW, wgpu.AddressModeClampToEdge),
		MagFilter:     common.Coalesce(samplerStagingData.MagFilter, wgpu.FilterModeLinear),
		MinFilter:     common.Coalesce(samplerStagingData.MinFilter, wgpu.FilterModeLinear),
		MipmapFilter:  common.Coalesce(samplerStagingData.MipmapFilter, wgpu.MipmapFilterModeNearest),
		LodMinClamp:   common.Coalesce(samplerStagingData.LodMinClamp, 0.0),
		LodMaxClamp:   common.Coalesce(samplerStagingData.LodMaxClamp, 32.0),
		MaxAnisotropy: common.Coalesce(samplerStagingData.MaxAnisotropy, 1),
		Compare:       samplerStagingData.Compare,
	})
	if err != nil {
		return err
	}
	provider.SetSampler(bindingKey, samp)

	return nil
}

func (b *wgpuRendererBackendImpl) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, w := range writes {
		buf := w.Provider.Buffer(w.Binding)
		if buf == nil {
			continue
		}
		b.queue.WriteBuffer(buf, w.Offset, w.Data)
	}
}

func (b *wgpuRendererBackendImpl) BeginFrame() error {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()

	if b.renderPassDescriptor == nil {
		return ErrSurfaceUnconfigured
	}
	// wgpu-native rejects a second acquire while the previous texture is unpresented.
	if b.frameSurface != nil {
		return ErrFrameInProgress
	}

	// Blocks under FIFO until a swapchain image frees up. Compute submission does not wait on it.
	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("acquire surface texture: %w", err)
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}
	encoder, err := b.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "Overlay Frame"})
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return err
	}

	b.renderPassDescriptor.ColorAttachments[0].View = view
	b.frameEncoder = encoder
	b.framePass = encoder.BeginRenderPass(b.renderPassDescriptor)
	b.frameSurface = surfaceTexture
	b.frameView = view
	return nil
}

func (b *wgpuRendererBackendImpl) DrawCall(p pipeline.Pipeline, vertexCount, instanceCount uint32, bindGroups []bind_group_provider.BindGroupProvider) error {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()

	if b.framePass == nil {
		return ErrNoFrame
	}
	renderPipeline, ok := p.Pipeline().(*wgpu.RenderPipeline)
	if !ok || renderPipeline == nil {
		return fmt.Errorf("%s: %w", p.PipelineKey(), ErrPipelineNotFound)
	}

	b.framePass.SetPipeline(renderPipeline)
	for i, bg := range bindGroups {
		b.framePass.SetBindGroup(uint32(i), bg.BindGroup(), nil)
	}
	b.framePass.Draw(vertexCount, instanceCount, 0, 0)
	return nil
}

func (b *wgpuRendererBackendImpl) EndFrame() {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()

	if b.framePass == nil {
		return
	}
	b.framePass.End()
	b.framePass.Release()
	b.framePass = nil

	commandBuffer, err := b.frameEncoder.Finish(nil)
	b.frameEncoder.Release()
	b.frameEncoder = nil
	if err != nil {
		// Nothing to present; drop the acquired texture so the next BeginFrame can acquire.
		b.releaseFrameTexture()
		b.applySurfaceSize()
		return
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
}

func (b *wgpuRendererBackendImpl) Present() {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()

	if b.frameSurface == nil {
		return
	}
	b.surface.Present()
	b.releaseFrameTexture()
	b.applySurfaceSize()
}

// releaseFrameTexture requires b.frameMu to be held.
func (b *wgpuRendererBackendImpl) releaseFrameTexture() {
	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	if b.frameSurface != nil {
		b.frameSurface.Release()
		b.frameSurface = nil
	}
}

func (b *wgpuRendererBackendImpl) Release() {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass != nil {
		b.framePass.End()
		b.framePass.Release()
		b.framePass = nil
	}
	if b.frameEncoder != nil {
		b.frameEncoder.Release()
		b.frameEncoder = nil
	}
	b.releaseFrameTexture()
	if b.computeFrameEncoder != nil {
		b.computeFrameEncoder.Release()
		b.computeFrameEncoder = nil
	}

	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.surface != nil {
		b.surface.Release()
		b.surface = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}
