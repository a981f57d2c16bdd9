package renderer

import (
	"errors"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// RendererBackendType identifies the GPU backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota
)

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync queues frames first-in first-out behind the vertical blank, so Present
	// blocks once the queue is full. The render loop is paced by it. This is the default.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents immediately. May tear; pair it with a render frame limit.
	PresentModeUncapped
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeVSync:
		return "vsync"
	case PresentModeUncapped:
		return "uncapped"
	}
	return "unknown"
}

// DefaultExecutionWidth is the workgroup X size used when none is configured. WebGPU exposes no
// SIMD width query; 32 matches the wave size of most desktop GPUs.
const DefaultExecutionWidth uint32 = 32

var (
	// ErrNoFrame is returned when a draw is issued outside BeginFrame/EndFrame.
	ErrNoFrame = errors.New("renderer: no frame in progress")
	// ErrNoComputeFrame is returned when a dispatch is issued outside BeginComputeFrame/EndComputeFrame.
	ErrNoComputeFrame = errors.New("renderer: no compute frame in progress")
	// ErrSurfaceUnconfigured is returned when a frame or render pipeline needs the surface before it has a size.
	ErrSurfaceUnconfigured = errors.New("renderer: surface not configured")
	// ErrMissingShader is returned when a pipeline lacks a stage its type requires.
	ErrMissingShader = errors.New("renderer: pipeline is missing a shader stage")
	// ErrPipelineNotFound is returned by DrawCall and DispatchCompute for an unregistered pipeline key.
	ErrPipelineNotFound = errors.New("renderer: pipeline not registered")
	// ErrNoInstance is returned when the WebGPU instance cannot be created.
	ErrNoInstance = errors.New("renderer: no webgpu instance")
	// ErrNoSurface is returned when the window surface cannot be created.
	ErrNoSurface = errors.New("renderer: no surface for window")
	// ErrFrameInProgress is returned by BeginFrame while the previous frame is unpresented.
	ErrFrameInProgress = errors.New("renderer: previous frame not presented")
	// ErrUnboundResource is returned by InitBindGroup when the provider lacks a texture view or sampler the layout needs,
	// and by DispatchCompute for a provider without a bind group.
	ErrUnboundResource = errors.New("renderer: bind group resource not set")
)

// RendererBackend is what the Renderer needs from a GPU API. The Renderer adds the pipeline cache
// on top; backends work on pipeline objects directly.
type RendererBackend interface {
	// ConfigureSurface (re)configures the swapchain. Zero sizes are ignored.
	ConfigureSurface(width, height int)

	// SetPresentMode takes effect on the next ConfigureSurface.
	SetPresentMode(mode PresentMode)

	ComputeLimits() common.ComputeLimits

	RegisterRenderPipeline(p pipeline.Pipeline) error
	RegisterComputePipeline(p pipeline.Pipeline) error

	InitTexture(stagingData common.TextureStagingData) (*wgpu.Texture, *wgpu.TextureView, error)
	WriteTexture(tex *wgpu.Texture, pixels []byte, bytesPerRow, width, height uint32)

	// InitBindGroup creates the layout and any missing buffers, then the bind group, and stores them on provider.
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error
	InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error
	WriteBuffers(writes []bind_group_provider.BufferWrite)

	// BeginComputeFrame opens the encoder DispatchCompute records into; EndComputeFrame submits it.
	BeginComputeFrame() error
	DispatchCompute(p pipeline.Pipeline, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error
	EndComputeFrame()

	// BeginFrame acquires the swapchain texture and opens the render pass DrawCall records into.
	BeginFrame() error
	DrawCall(p pipeline.Pipeline, vertexCount, instanceCount uint32, bindGroups []bind_group_provider.BindGroupProvider) error
	// EndFrame closes the pass and submits. Present then shows the texture.
	EndFrame()
	Present()

	// Release releases the device, adapter, surface and instance.
	Release()
}
