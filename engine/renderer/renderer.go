package renderer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/drizzle/engine/window"
	"github.com/cogentcore/webgpu/wgpu"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType RendererBackendType
	backend     RendererBackend
	logger      *slog.Logger

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	presentMode          PresentMode
	executionWidth       uint32
}

// Renderer owns the GPU device and the overlay window's surface.
//
// Two goroutines drive it at once: the ripple simulator records compute work through
// BeginComputeFrame/DispatchCompute/EndComputeFrame, and the render loop draws through
// BeginFrame/DrawCall/EndFrame/Present. Capture delivery uploads textures from a third.
// Pipelines are created once, cached by key and addressed by that key afterwards.
type Renderer interface {
	// Pipeline returns the registered pipeline for key, or nil.
	Pipeline(key string) pipeline.Pipeline

	// RegisterPipelines creates the GPU objects for each pipeline and caches it by key.
	// Keys already registered are skipped, so components can register unconditionally.
	//
	// Parameters:
	//   - pipelines: compute or render pipelines with their shaders set
	//
	// Returns:
	//   - error: the first creation failure; later pipelines are not registered
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// Resize reconfigures the surface. A frame in flight keeps the old size until it is presented.
	Resize(width, height int)

	// SetPresentMode applies on the next Resize.
	SetPresentMode(mode PresentMode)

	// ComputeLimits reports the execution width and workgroup limits kernels are sized against.
	ComputeLimits() common.ComputeLimits

	// InitTexture creates a 2D texture and a view over it. The caller owns both and hands them
	// back to ReleaseTexture.
	//
	// Parameters:
	//   - stagingData: label, size, format, usage and optional initial pixels
	//
	// Returns:
	//   - *wgpu.Texture: the texture
	//   - *wgpu.TextureView: a view over the whole texture
	//   - error: an empty size or a device error
	InitTexture(stagingData common.TextureStagingData) (*wgpu.Texture, *wgpu.TextureView, error)

	// WriteTexture queues rows of pixels into the top-left width x height region of tex.
	WriteTexture(tex *wgpu.Texture, pixels []byte, bytesPerRow, width, height uint32)

	// ReleaseTexture releases what InitTexture returned. Nil values are ignored.
	ReleaseTexture(tex *wgpu.Texture, view *wgpu.TextureView)

	// InitBindGroup creates the provider's layout, any buffers it lacks and its bind group.
	// Views and samplers must already be on the provider. Buffers are sized from the layout's
	// MinBindingSize unless overridden.
	//
	// Parameters:
	//   - provider: receives the created resources
	//   - descriptor: usually a pipeline's BindGroupLayoutDescriptor for the group
	//   - bufferUsageOverrides: extra usage flags per binding (nil safe)
	//   - bufferSizeOverrides: buffer sizes per binding (nil safe)
	//
	// Returns:
	//   - error: a missing view or sampler, or a device error
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// InitSampler creates a sampler on the provider at bindingKey. Zero fields in the staging data
	// take clamp-to-edge, linear defaults.
	InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error

	// WriteBuffers queues buffer writes. Writes to bindings without a buffer are skipped.
	WriteBuffers(writes []bind_group_provider.BufferWrite)

	// BeginComputeFrame opens a compute encoder. Dispatches until EndComputeFrame go out in one
	// submission, in the order they were recorded.
	BeginComputeFrame() error

	// EndComputeFrame submits the recorded dispatches.
	EndComputeFrame()

	// DispatchCompute records one compute pass with computeProvider at group 0.
	// Nothing is recorded when it returns an error.
	//
	// Returns:
	//   - error: ErrPipelineNotFound, ErrNoComputeFrame or ErrUnboundResource
	DispatchCompute(pipelineKey string, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error

	// BeginFrame acquires the next swapchain texture and opens a render pass that clears it.
	// Under VSync this is where the render loop waits for the display.
	BeginFrame() error

	// DrawCall records a non-indexed draw. Vertices come from the vertex index; no vertex buffer is bound.
	//
	// Parameters:
	//   - pipelineKey: a registered render pipeline
	//   - vertexCount: vertices per instance
	//   - instanceCount: instances
	//   - bindGroups: providers set at groups 0..n-1
	//
	// Returns:
	//   - error: ErrPipelineNotFound or ErrNoFrame
	DrawCall(pipelineKey string, vertexCount, instanceCount uint32, bindGroups []bind_group_provider.BindGroupProvider) error

	// EndFrame closes the render pass and submits it.
	EndFrame()

	// Present shows the frame and applies a pending Resize.
	Present()

	// Release releases the cached pipelines, then the device, surface and instance.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a Renderer drawing into w. The surface starts at the window's framebuffer
// size in the configured present mode.
//
// Parameters:
//   - backendType: the type of rendering backend to use (e.g., WGPU)
//   - w: the window providing the surface descriptor and initial size
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: a new instance of Renderer configured with the specified backend and options
//   - error: an error if no adapter, device or surface could be created
func NewRenderer(backendType RendererBackendType, w window.Window, options ...RendererBuilderOption) (Renderer, error) {
	r := newRenderer(backendType, options...)

	switch backendType {
	case BackendTypeWGPU:
		fallthrough
	default:
		backend, err := newWGPURendererBackend(w.SurfaceDescriptor(), r.forceFallbackAdapter, r.executionWidth)
		if err != nil {
			return nil, fmt.Errorf("renderer: %w", err)
		}
		r.attach(backend, w.Width(), w.Height())
	}
	return r, nil
}

// newRenderer applies options before any backend exists, so flags such as the fallback adapter
// are known when the adapter is requested.
func newRenderer(backendType RendererBackendType, options ...RendererBuilderOption) *renderer {
	r := &renderer{
		pipelineCache:  make(map[string]pipeline.Pipeline),
		backendType:    backendType,
		logger:         slog.Default(),
		presentMode:    PresentModeVSync,
		executionWidth: DefaultExecutionWidth,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// attach configures the backend's surface for the window size.
func (r *renderer) attach(backend RendererBackend, width, height int) {
	r.backend = backend
	r.backend.SetPresentMode(r.presentMode)
	r.backend.ConfigureSurface(width, height)

	limits := r.backend.ComputeLimits()
	r.logger.Debug("renderer ready",
		"width", width,
		"height", height,
		"present_mode", r.presentMode,
		"execution_width", limits.ExecutionWidth,
		"max_threads_per_group", limits.MaxThreadsPerGroup,
	)
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.mu.Lock()
	r.presentMode = mode
	r.mu.Unlock()
	r.backend.SetPresentMode(mode)
}

func (r *renderer) ComputeLimits() common.ComputeLimits {
	return r.backend.ComputeLimits()
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		switch p.Type() {
		case pipeline.PipelineTypeCompute:
			if err := r.backend.RegisterComputePipeline(p); err != nil {
				return fmt.Errorf("compute pipeline %q: %w", key, err)
			}
		case pipeline.PipelineTypeRender:
			if err := r.backend.RegisterRenderPipeline(p); err != nil {
				return fmt.Errorf("render pipeline %q: %w", key, err)
			}
		}
		r.pipelineCache[key] = p
	}
	return nil
}

func (r *renderer) InitTexture(stagingData common.TextureStagingData) (*wgpu.Texture, *wgpu.TextureView, error) {
	return r.backend.InitTexture(stagingData)
}

func (r *renderer) WriteTexture(tex *wgpu.Texture, pixels []byte, bytesPerRow, width, height uint32) {
	r.backend.WriteTexture(tex, pixels, bytesPerRow, width, height)
}

func (r *renderer) ReleaseTexture(tex *wgpu.Texture, view *wgpu.TextureView) {
	if view != nil {
		view.Release()
	}
	if tex != nil {
		tex.Release()
	}
}

func (r *renderer) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	return r.backend.InitBindGroup(provider, descriptor, bufferUsageOverrides, bufferSizeOverrides)
}

func (r *renderer) InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error {
	return r.backend.InitSampler(provider, bindingKey, samplerStagingData)
}

func (r *renderer) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend.WriteBuffers(writes)
}

func (r *renderer) BeginComputeFrame() error {
	return r.backend.BeginComputeFrame()
}

func (r *renderer) EndComputeFrame() {
	r.backend.EndComputeFrame()
}

func (r *renderer) DispatchCompute(pipelineKey string, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pipelineCache[pipelineKey]
	if !exists {
		return fmt.Errorf("%w: %q", ErrPipelineNotFound, pipelineKey)
	}

	return r.backend.DispatchCompute(p, computeProvider, workGroupCount)
}

func (r *renderer) BeginFrame() error {
	return r.backend.BeginFrame()
}

func (r *renderer) DrawCall(pipelineKey string, vertexCount, instanceCount uint32, bindGroups []bind_group_provider.BindGroupProvider) error {
	r.mu.Lock()
	p, exists := r.pipelineCache[pipelineKey]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %q", ErrPipelineNotFound, pipelineKey)
	}

	return r.backend.DrawCall(p, vertexCount, instanceCount, bindGroups)
}

func (r *renderer) EndFrame() {
	r.backend.EndFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) Release() {
	r.mu.Lock()
	for key, p := range r.pipelineCache {
		p.Release()
		delete(r.pipelineCache, key)
	}
	r.mu.Unlock()

	r.backend.Release()
}
