package compositor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine/capture"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

const (
	// PipelineKey is the render pipeline the compositor registers.
	PipelineKey = "compositor.ripple"

	// DefaultRefraction scales how many pixels the mirror shifts per unit of height gradient.
	DefaultRefraction float32 = 0.5
	// DefaultShading scales how much slopes brighten or darken the mirror.
	DefaultShading float32 = 0.02
)

var (
	// ErrShaderLayout is returned when the composite shader does not declare a binding the compositor needs.
	ErrShaderLayout = errors.New("compositor: shader is missing a required binding")
	// ErrClosed is returned by DrawFrame after Close.
	ErrClosed = errors.New("compositor: closed")
)

// Renderer is the subset of the renderer the compositor draws through.
type Renderer interface {
	RegisterPipelines(pipelines ...pipeline.Pipeline) error
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error
	InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error
	WriteBuffers(writes []bind_group_provider.BufferWrite)
	BeginFrame() error
	DrawCall(pipelineKey string, vertexCount, instanceCount uint32, bindGroups []bind_group_provider.BindGroupProvider) error
	EndFrame()
	Present()
}

// HeightSource is the part of the ripple simulator the compositor reads.
type HeightSource interface {
	ActiveIndex() int
	HeightFieldView(i int) *wgpu.TextureView
	Generation() uint64
}

// Stats counts compositor activity since construction.
type Stats struct {
	Draws           uint64
	Skipped         uint64
	BindGroupBuilds uint64
}

type bindings struct {
	mirror   int
	height   int
	viewport int
	sampler  int
}

type groupKey struct {
	generation uint64
	index      int
}

// compositor implements the Compositor interface.
type compositor struct {
	mu sync.Mutex

	renderer Renderer
	frames   *common.Latest[capture.Frame]
	heights  HeightSource
	logger   *slog.Logger

	refraction float32
	shading    float32

	pipeline pipeline.Pipeline
	bindings bindings

	viewport      bind_group_provider.BindGroupProvider
	width, height int
	dirty         bool

	mirrorGeneration uint64
	mirrorGroups     map[groupKey]bind_group_provider.BindGroupProvider
	heightGeneration uint64
	heightGroups     map[groupKey]bind_group_provider.BindGroupProvider

	closed bool

	draws   atomic.Uint64
	skipped atomic.Uint64
	builds  atomic.Uint64
}

// Compositor draws the latest capture frame refracted through the ripple height field, once per call.
//
// The capture slot and the height field are written by other goroutines. DrawFrame reads each of
// them once and holds on to what it read for the rest of the draw.
type Compositor interface {
	// DrawFrame draws one full-screen quad and presents it.
	//
	// Returns:
	//   - bool: false when there was nothing to draw (no frame or no height field yet)
	//   - error: a bind group or frame error; nothing was presented
	DrawFrame() (bool, error)

	// Resize records a new surface size. The viewport uniform is written before the next draw.
	//
	// Parameters:
	//   - width: the surface width in pixels
	//   - height: the surface height in pixels
	Resize(width, height int)

	// Release drops the cached bind groups. The borrowed texture views are left alone and the
	// groups are rebuilt on the next draw.
	Release()

	// Close releases the cached bind groups, the viewport uniform and the sampler.
	// DrawFrame fails with ErrClosed afterwards.
	Close()

	// Stats returns activity counters.
	Stats() Stats
}

var _ Compositor = &compositor{}

// NewCompositor compiles the composite shaders, registers the render pipeline and creates the
// viewport uniform group. The renderer's surface must already be configured.
//
// Parameters:
//   - r: the renderer owning the surface
//   - frames: the slot the engine publishes capture frames into
//   - heights: the ripple simulator
//   - width: the initial surface width in pixels
//   - height: the initial surface height in pixels
//   - options: refraction, shading and logger options
//
// Returns:
//   - Compositor: the compositor
//   - error: a shader, pipeline or bind group error
func NewCompositor(r Renderer, frames *common.Latest[capture.Frame], heights HeightSource, width, height int, options ...CompositorBuilderOption) (Compositor, error) {
	c := &compositor{
		renderer:     r,
		frames:       frames,
		heights:      heights,
		logger:       slog.Default(),
		refraction:   DefaultRefraction,
		shading:      DefaultShading,
		width:        width,
		height:       height,
		dirty:        true,
		mirrorGroups: make(map[groupKey]bind_group_provider.BindGroupProvider),
		heightGroups: make(map[groupKey]bind_group_provider.BindGroupProvider),
	}
	for _, opt := range options {
		opt(c)
	}

	vs, err := shader.NewShader(PipelineKey+".vs", shader.ShaderTypeVertex, fullscreenVertexSource)
	if err != nil {
		return nil, fmt.Errorf("compositor: vertex shader: %w", err)
	}
	fs, err := shader.NewShader(PipelineKey+".fs", shader.ShaderTypeFragment, compositeFragmentSource,
		shader.WithStruct("viewport_params", GPUViewportParamsSource, "ViewportParams"))
	if err != nil {
		return nil, fmt.Errorf("compositor: fragment shader: %w", err)
	}
	if c.bindings, err = resolveBindings(fs); err != nil {
		return nil, err
	}

	c.pipeline = pipeline.NewPipeline(PipelineKey, pipeline.PipelineTypeRender,
		pipeline.WithVertexShader(vs),
		pipeline.WithFragmentShader(fs),
		pipeline.WithTopology(wgpu.PrimitiveTopologyTriangleStrip),
		pipeline.WithCullMode(wgpu.CullModeNone),
	)
	if err := r.RegisterPipelines(c.pipeline); err != nil {
		return nil, fmt.Errorf("compositor: register pipeline: %w", err)
	}

	c.viewport = bind_group_provider.NewBindGroupProvider("Compositor Viewport")
	if err := r.InitSampler(c.viewport, c.bindings.sampler, common.SamplerStagingData{}); err != nil {
		return nil, fmt.Errorf("compositor: sampler: %w", err)
	}
	if err := r.InitBindGroup(c.viewport, c.pipeline.BindGroupLayoutDescriptor(2), nil, nil); err != nil {
		c.viewport.Release()
		return nil, fmt.Errorf("compositor: viewport bind group: %w", err)
	}
	c.builds.Add(1)
	return c, nil
}

func resolveBindings(fs shader.Shader) (bindings, error) {
	var b bindings
	var ok bool
	if _, b.mirror, ok = fs.ProviderBinding(shader.AnnotationArgCapture, shader.AnnotationArgMirror); !ok {
		return b, fmt.Errorf("%w: capture mirror", ErrShaderLayout)
	}
	if _, b.sampler, ok = fs.ProviderBinding(shader.AnnotationArgCapture, shader.AnnotationArgSampler); !ok {
		return b, fmt.Errorf("%w: capture sampler", ErrShaderLayout)
	}
	if _, b.height, ok = fs.ProviderBinding(shader.AnnotationArgHeightField, shader.AnnotationArgCurrent); !ok {
		return b, fmt.Errorf("%w: height field", ErrShaderLayout)
	}
	if _, b.viewport, ok = fs.ProviderBinding(shader.AnnotationArgViewport, ""); !ok {
		return b, fmt.Errorf("%w: viewport", ErrShaderLayout)
	}
	return b, nil
}

func (c *compositor) DrawFrame() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}

	frame := c.frames.Load()
	if frame == nil || frame.View == nil {
		c.skipped.Add(1)
		return false, nil
	}
	generation := c.heights.Generation()
	index := c.heights.ActiveIndex()
	heightView := c.heights.HeightFieldView(index)
	if heightView == nil {
		c.skipped.Add(1)
		return false, nil
	}

	mirror, err := c.mirrorGroup(frame)
	if err != nil {
		return false, err
	}
	height, err := c.heightGroup(generation, index, heightView)
	if err != nil {
		return false, err
	}

	if c.dirty {
		params := newViewportParams(c.width, c.height, c.refraction, c.shading)
		c.renderer.WriteBuffers([]bind_group_provider.BufferWrite{
			{Provider: c.viewport, Binding: c.bindings.viewport, Data: params.Marshal()},
		})
		c.dirty = false
	}

	if err := c.renderer.BeginFrame(); err != nil {
		return false, err
	}
	drawErr := c.renderer.DrawCall(PipelineKey, 4, 1, []bind_group_provider.BindGroupProvider{mirror, height, c.viewport})
	c.renderer.EndFrame()
	c.renderer.Present()
	if drawErr != nil {
		return false, drawErr
	}

	c.draws.Add(1)
	return true, nil
}

// mirrorGroup returns the cached bind group of the frame's cache slot.
// A new cache generation drops every group built for the previous one.
func (c *compositor) mirrorGroup(frame *capture.Frame) (bind_group_provider.BindGroupProvider, error) {
	if frame.Generation != c.mirrorGeneration {
		releaseGroups(c.mirrorGroups)
		c.mirrorGeneration = frame.Generation
	}
	key := groupKey{generation: frame.Generation, index: frame.Slot}
	if g, ok := c.mirrorGroups[key]; ok {
		return g, nil
	}

	g := bind_group_provider.NewBindGroupProvider(fmt.Sprintf("Compositor Mirror %d/%d", frame.Generation, frame.Slot),
		bind_group_provider.WithTextureView(c.bindings.mirror, frame.View))
	if err := c.renderer.InitBindGroup(g, c.pipeline.BindGroupLayoutDescriptor(0), nil, nil); err != nil {
		return nil, fmt.Errorf("compositor: mirror bind group: %w", err)
	}
	c.builds.Add(1)
	c.mirrorGroups[key] = g
	return g, nil
}

func (c *compositor) heightGroup(generation uint64, index int, view *wgpu.TextureView) (bind_group_provider.BindGroupProvider, error) {
	if generation != c.heightGeneration {
		releaseGroups(c.heightGroups)
		c.heightGeneration = generation
	}
	key := groupKey{generation: generation, index: index}
	if g, ok := c.heightGroups[key]; ok {
		return g, nil
	}

	g := bind_group_provider.NewBindGroupProvider(fmt.Sprintf("Compositor Height %d/%d", generation, index),
		bind_group_provider.WithTextureView(c.bindings.height, view))
	if err := c.renderer.InitBindGroup(g, c.pipeline.BindGroupLayoutDescriptor(1), nil, nil); err != nil {
		return nil, fmt.Errorf("compositor: height bind group: %w", err)
	}
	c.builds.Add(1)
	c.heightGroups[key] = g
	return g, nil
}

// releaseGroups frees the bind groups only. The texture views belong to the capture cache and the simulator.
func releaseGroups(groups map[groupKey]bind_group_provider.BindGroupProvider) {
	for k, g := range groups {
		g.ReleaseBindGroup()
		delete(groups, k)
	}
}

func (c *compositor) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if width == c.width && height == c.height {
		return
	}
	c.width, c.height = width, height
	c.dirty = true
}

func (c *compositor) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	releaseGroups(c.mirrorGroups)
	releaseGroups(c.heightGroups)
	c.mirrorGeneration, c.heightGeneration = 0, 0
}

func (c *compositor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	releaseGroups(c.mirrorGroups)
	releaseGroups(c.heightGroups)
	c.viewport.Release()
	c.logger.Debug("compositor closed", "draws", c.draws.Load(), "skipped", c.skipped.Load())
}

func (c *compositor) Stats() Stats {
	return Stats{
		Draws:           c.draws.Load(),
		Skipped:         c.skipped.Load(),
		BindGroupBuilds: c.builds.Load(),
	}
}
