package ripple

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine/clock"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

const (
	// DefaultDropRate is the number of droplets injected per second.
	DefaultDropRate = 20.0
	// DefaultPropagateRate is the number of propagation steps per second.
	DefaultPropagateRate = 120.0
	// DefaultDamping is the per-step energy multiplier.
	DefaultDamping float32 = 0.985
	// DefaultLimit is the absolute height clamp.
	DefaultLimit float32 = 64
	// DefaultQueueDepth bounds the ticks waiting for GPU submission.
	DefaultQueueDepth = 8
)

var (
	// ErrAlreadyRunning is returned by Start on a running simulator.
	ErrAlreadyRunning = errors.New("ripple: simulator already running")
	// ErrInvalidSize is returned by Start when the field has no area.
	ErrInvalidSize = errors.New("ripple: field size must be non-zero")
	// ErrKernelLayout is returned when a kernel does not declare a binding the simulator needs.
	ErrKernelLayout = errors.New("ripple: kernel is missing a required binding")
)

// Device is the subset of the renderer the simulator submits work through.
type Device interface {
	ComputeLimits() common.ComputeLimits
	RegisterPipelines(pipelines ...pipeline.Pipeline) error
	InitTexture(stagingData common.TextureStagingData) (*wgpu.Texture, *wgpu.TextureView, error)
	ReleaseTexture(tex *wgpu.Texture, view *wgpu.TextureView)
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error
	WriteBuffers(writes []bind_group_provider.BufferWrite)
	BeginComputeFrame() error
	DispatchCompute(pipelineKey string, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error
	EndComputeFrame()
}

// Stats counts simulator activity since construction.
type Stats struct {
	Drops        uint64
	Propagations uint64
	DroppedTicks uint64

	// FailedDispatches counts drops and propagations the device refused. A failed propagation does not flip.
	FailedDispatches uint64
	Generation       uint64
}

// kernelBindings are the binding indices the kernels declare in group 0.
type kernelBindings struct {
	dropField   int
	dropDroplet int
	dropParams  int
	propCurrent int
	propNext    int
	propParams  int
}

// field holds the GPU resources of one Start/Stop cycle.
type field struct {
	textures [2]*wgpu.Texture
	views    [2]*wgpu.TextureView

	// drops[i] writes into buffer i. props[i] reads buffer i and writes buffer 1-i.
	drops [2]bind_group_provider.BindGroupProvider
	props [2]bind_group_provider.BindGroupProvider

	dropKey  string
	propKey  string
	bindings kernelBindings
	config   ThreadDispatchConfig
}

// simulator implements the Simulator interface.
type simulator struct {
	// lifecycle serializes Start and Stop. Tick paths never take it.
	lifecycle sync.Mutex
	// mu guards the running state and the current field.
	mu sync.RWMutex

	device Device
	logger *slog.Logger

	width, height uint32
	dropHz        float64
	propagateHz   float64
	damping       float32
	limit         float32
	queueDepth    int
	manualTicks   bool

	rngMu sync.Mutex
	rng   *rand.Rand

	running    bool
	field      *field
	queue      *commandQueue
	dropClock  clock.Clock
	propClock  clock.Clock
	active     atomic.Int32
	generation atomic.Uint64

	drops        atomic.Uint64
	propagations atomic.Uint64
	droppedTicks atomic.Uint64
	failed       atomic.Uint64
}

// Simulator advances a GPU-resident height field with two independently clocked kernels.
// Drops add raised-cosine bumps to the active buffer; propagation steps the damped wave
// equation from the active buffer into the inactive one and then flips the active index.
// Every GPU submission runs on one ordered queue, so a drop issued before a propagation is
// visible to it.
type Simulator interface {
	// Start allocates the height field, compiles the kernels and starts the clocks.
	//
	// Returns:
	//   - error: ErrAlreadyRunning, ErrInvalidSize, or a wrapped GPU setup error
	Start() error

	// Stop stops the clocks, drains the queue and releases every GPU resource of the field.
	// Safe to call more than once.
	Stop()

	// Running reports whether the simulator is between Start and Stop.
	Running() bool

	// InjectDrop enqueues one random droplet into the active buffer.
	//
	// Returns:
	//   - bool: false if the simulator is stopped or the queue is full
	InjectDrop() bool

	// Propagate enqueues one propagation step followed by a flip of the active index.
	//
	// Returns:
	//   - bool: false if the simulator is stopped or the queue is full
	Propagate() bool

	// Sync waits until every tick enqueued before the call has been submitted.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//
	// Returns:
	//   - error: ErrQueueClosed when stopped, or the context error
	Sync(ctx context.Context) error

	// ActiveIndex returns the buffer holding the newest wave state.
	ActiveIndex() int

	// HeightFieldView returns the view of buffer i, or nil while stopped.
	HeightFieldView(i int) *wgpu.TextureView

	// Generation increments on every Start. Views from an older generation are released.
	Generation() uint64

	// Size returns the field size in texels.
	Size() (width, height uint32)

	// DispatchConfig returns the geometry of the running field, or the zero value while stopped.
	DispatchConfig() ThreadDispatchConfig

	// Stats returns activity counters.
	Stats() Stats
}

var _ Simulator = &simulator{}

// NewSimulator creates a stopped Simulator for a width x height field on device.
//
// Parameters:
//   - device: the GPU device to submit through
//   - width: field width in texels, normally the native screen width
//   - height: field height in texels, normally the native screen height
//   - options: rates, damping, queue depth, logger and random source
//
// Returns:
//   - Simulator: the simulator
func NewSimulator(device Device, width, height uint32, options ...SimulatorBuilderOption) Simulator {
	s := &simulator{
		device:      device,
		logger:      slog.Default(),
		width:       width,
		height:      height,
		dropHz:      DefaultDropRate,
		propagateHz: DefaultPropagateRate,
		damping:     DefaultDamping,
		limit:       DefaultLimit,
		queueDepth:  DefaultQueueDepth,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *simulator) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Running() {
		return ErrAlreadyRunning
	}
	if s.width == 0 || s.height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, s.width, s.height)
	}

	config, err := NewThreadDispatchConfig(s.device.ComputeLimits(), s.width, s.height)
	if err != nil {
		return err
	}

	f, err := s.buildField(config)
	if err != nil {
		return err
	}

	q := newCommandQueue(s.queueDepth)

	s.mu.Lock()
	s.field = f
	s.queue = q
	s.active.Store(0)
	s.running = true
	gen := s.generation.Add(1)
	s.mu.Unlock()

	if !s.manualTicks {
		s.dropClock = clock.NewClock("ripple.drop", clock.IntervalFromHz(s.dropHz, DefaultDropRate), func(float32) { s.InjectDrop() })
		s.propClock = clock.NewClock("ripple.propagate", clock.IntervalFromHz(s.propagateHz, DefaultPropagateRate), func(float32) { s.Propagate() })
		s.dropClock.Start()
		s.propClock.Start()
	}

	s.logger.Debug("ripple simulator started",
		"width", s.width,
		"height", s.height,
		"generation", gen,
		"threads_per_group", config.ThreadsPerGroup,
		"groups_per_grid", config.GroupsPerGrid,
	)
	return nil
}

// buildField compiles the kernels for config and allocates the field resources.
// On error everything allocated so far is released.
func (s *simulator) buildField(config ThreadDispatchConfig) (*field, error) {
	f := &field{config: config}

	options := []shader.PreProcessorOption{
		shader.WithStruct("droplet", GPUDropletSource, "Droplet"),
		shader.WithStruct("sim_params", GPUSimParamsSource, "SimParams"),
		shader.WithWorkgroupSize(config.ThreadsPerGroup),
	}
	f.dropKey = "ripple.drop." + config.keySuffix()
	f.propKey = "ripple.propagate." + config.keySuffix()

	dropShader, err := shader.NewShader(f.dropKey, shader.ShaderTypeCompute, dropKernelSource, options...)
	if err != nil {
		return nil, err
	}
	propShader, err := shader.NewShader(f.propKey, shader.ShaderTypeCompute, propagateKernelSource, options...)
	if err != nil {
		return nil, err
	}
	if f.bindings, err = resolveBindings(dropShader, propShader); err != nil {
		return nil, err
	}

	dropPipeline := pipeline.NewPipeline(f.dropKey, pipeline.PipelineTypeCompute, pipeline.WithComputeShader(dropShader))
	propPipeline := pipeline.NewPipeline(f.propKey, pipeline.PipelineTypeCompute, pipeline.WithComputeShader(propShader))
	if err := s.device.RegisterPipelines(dropPipeline, propPipeline); err != nil {
		return nil, fmt.Errorf("ripple: register kernels: %w", err)
	}

	for i := range 2 {
		tex, view, err := s.device.InitTexture(common.TextureStagingData{
			Label:  fmt.Sprintf("Height Field %d", i),
			Width:  s.width,
			Height: s.height,
			Format: wgpu.TextureFormatR32Float,
			Usage:  wgpu.TextureUsageStorageBinding | wgpu.TextureUsageTextureBinding,
		})
		if err != nil {
			s.releaseField(f)
			return nil, fmt.Errorf("ripple: height field %d: %w", i, err)
		}
		f.textures[i], f.views[i] = tex, view
	}

	params := GPUSimParams{Width: s.width, Height: s.height, Damping: s.damping, Limit: s.limit}
	paramBytes := params.Marshal()
	writes := make([]bind_group_provider.BufferWrite, 0, 4)

	for i := range 2 {
		f.drops[i] = bind_group_provider.NewBindGroupProvider(fmt.Sprintf("Ripple Drop %d", i),
			bind_group_provider.WithTextureView(f.bindings.dropField, f.views[i]))
		if err := s.device.InitBindGroup(f.drops[i], dropPipeline.BindGroupLayoutDescriptor(0), nil, nil); err != nil {
			s.releaseField(f)
			return nil, fmt.Errorf("ripple: drop bind group %d: %w", i, err)
		}

		f.props[i] = bind_group_provider.NewBindGroupProvider(fmt.Sprintf("Ripple Propagate %d->%d", i, 1-i),
			bind_group_provider.WithTextureView(f.bindings.propCurrent, f.views[i]),
			bind_group_provider.WithTextureView(f.bindings.propNext, f.views[1-i]))
		if err := s.device.InitBindGroup(f.props[i], propPipeline.BindGroupLayoutDescriptor(0), nil, nil); err != nil {
			s.releaseField(f)
			return nil, fmt.Errorf("ripple: propagate bind group %d: %w", i, err)
		}

		writes = append(writes,
			bind_group_provider.BufferWrite{Provider: f.drops[i], Binding: f.bindings.dropParams, Data: paramBytes},
			bind_group_provider.BufferWrite{Provider: f.props[i], Binding: f.bindings.propParams, Data: paramBytes},
		)
	}
	s.device.WriteBuffers(writes)

	return f, nil
}

// resolveBindings reads the binding indices of the height field, droplet and parameter
// bindings from the kernel declarations.
func resolveBindings(dropShader, propShader shader.Shader) (kernelBindings, error) {
	var b kernelBindings
	var ok bool
	if _, b.dropField, ok = dropShader.ProviderBinding(shader.AnnotationArgHeightField, shader.AnnotationArgCurrent); !ok {
		return b, fmt.Errorf("%w: drop height field", ErrKernelLayout)
	}
	if b.dropDroplet, ok = dropShader.BindGroupFromVarName(0, "droplet"); !ok {
		return b, fmt.Errorf("%w: drop droplet", ErrKernelLayout)
	}
	if b.dropParams, ok = dropShader.BindGroupFromVarName(0, "params"); !ok {
		return b, fmt.Errorf("%w: drop params", ErrKernelLayout)
	}
	if _, b.propCurrent, ok = propShader.ProviderBinding(shader.AnnotationArgHeightField, shader.AnnotationArgCurrent); !ok {
		return b, fmt.Errorf("%w: propagate current", ErrKernelLayout)
	}
	if _, b.propNext, ok = propShader.ProviderBinding(shader.AnnotationArgHeightField, shader.AnnotationArgNext); !ok {
		return b, fmt.Errorf("%w: propagate next", ErrKernelLayout)
	}
	if b.propParams, ok = propShader.BindGroupFromVarName(0, "params"); !ok {
		return b, fmt.Errorf("%w: propagate params", ErrKernelLayout)
	}
	return b, nil
}

// releaseField frees bind groups before the textures their views belong to.
func (s *simulator) releaseField(f *field) {
	for i := range 2 {
		if f.drops[i] != nil {
			f.drops[i].Release()
		}
		if f.props[i] != nil {
			f.props[i].Release()
		}
	}
	for i := range 2 {
		if f.textures[i] != nil || f.views[i] != nil {
			s.device.ReleaseTexture(f.textures[i], f.views[i])
		}
	}
}

func (s *simulator) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	f, q := s.field, s.queue
	s.mu.Unlock()

	// Clock callbacks take mu, so the clocks are stopped without holding it.
	if s.dropClock != nil {
		s.dropClock.Stop()
		s.dropClock = nil
	}
	if s.propClock != nil {
		s.propClock.Stop()
		s.propClock = nil
	}

	q.Close()

	s.mu.Lock()
	s.droppedTicks.Add(q.Dropped())
	s.field = nil
	s.queue = nil
	s.mu.Unlock()

	s.releaseField(f)
	s.logger.Debug("ripple simulator stopped", "generation", s.generation.Load())
}

func (s *simulator) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *simulator) InjectDrop() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return false
	}

	s.rngMu.Lock()
	d := NewDroplet(s.rng, s.width, s.height)
	s.rngMu.Unlock()

	f := s.field
	return s.queue.Submit(func() { s.runDrop(f, d) })
}

func (s *simulator) Propagate() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return false
	}

	f := s.field
	return s.queue.Submit(func() { s.runPropagate(f) })
}

// runDrop runs on the queue worker.
func (s *simulator) runDrop(f *field, d Droplet) {
	idx := s.active.Load()
	provider := f.drops[idx]

	g := d.GPU()
	s.device.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: provider, Binding: f.bindings.dropDroplet, Data: g.Marshal()},
	})
	if err := s.device.BeginComputeFrame(); err != nil {
		s.logger.Debug("ripple drop skipped", "error", err)
		return
	}
	err := s.device.DispatchCompute(f.dropKey, provider, f.config.GroupsPerGrid)
	s.device.EndComputeFrame()
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("ripple drop dispatch failed", "error", err)
		return
	}
	s.drops.Add(1)
}

// runPropagate runs on the queue worker. The flip follows the submission, so any later
// drop or draw targets the buffer the step wrote. A step that was not recorded does not flip.
func (s *simulator) runPropagate(f *field) {
	idx := s.active.Load()
	if err := s.device.BeginComputeFrame(); err != nil {
		s.logger.Debug("ripple propagation skipped", "error", err)
		return
	}
	err := s.device.DispatchCompute(f.propKey, f.props[idx], f.config.GroupsPerGrid)
	s.device.EndComputeFrame()
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("ripple propagation dispatch failed", "error", err)
		return
	}
	s.active.Store(1 - idx)
	s.propagations.Add(1)
}

func (s *simulator) Sync(ctx context.Context) error {
	s.mu.RLock()
	q := s.queue
	s.mu.RUnlock()
	if q == nil {
		return ErrQueueClosed
	}
	return q.Sync(ctx)
}

func (s *simulator) ActiveIndex() int {
	return int(s.active.Load())
}

func (s *simulator) HeightFieldView(i int) *wgpu.TextureView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.field == nil || i < 0 || i > 1 {
		return nil
	}
	return s.field.views[i]
}

func (s *simulator) Generation() uint64 {
	return s.generation.Load()
}

func (s *simulator) Size() (uint32, uint32) {
	return s.width, s.height
}

func (s *simulator) DispatchConfig() ThreadDispatchConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.field == nil {
		return ThreadDispatchConfig{}
	}
	return s.field.config
}

func (s *simulator) Stats() Stats {
	dropped := s.droppedTicks.Load()
	s.mu.RLock()
	if s.queue != nil {
		dropped += s.queue.Dropped()
	}
	s.mu.RUnlock()
	return Stats{
		Drops:            s.drops.Load(),
		Propagations:     s.propagations.Load(),
		DroppedTicks:     dropped,
		FailedDispatches: s.failed.Load(),
		Generation:       s.generation.Load(),
	}
}
