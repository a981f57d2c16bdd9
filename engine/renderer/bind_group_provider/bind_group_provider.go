package bind_group_provider

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// BufferWrite is one queued write into a provider's buffer at a byte offset.
type BufferWrite struct {
	Provider BindGroupProvider
	Binding  int
	Offset   uint64
	Data     []byte
}

// BindGroupProvider holds the GPU resources behind one bind group.
// The ripple simulator and the compositor describe their bindings with providers; the renderer
// fills in what it owns.
//
// Lifecycle:
//  1. The owner creates a provider with a label and the texture views it borrows
//  2. Renderer.InitSampler creates samplers the layout needs
//  3. Renderer.InitBindGroup creates the layout, missing buffers and the bind group
//  4. Renderer.WriteBuffers updates uniforms
//  5. The provider is passed to DispatchCompute or DrawCall
//  6. Release frees everything but the borrowed views. ReleaseBindGroup frees only the group
//     and layout, for groups that own nothing else.
type BindGroupProvider interface {
	// Label returns the debug label. The renderer derives resource labels from it.
	Label() string

	// BindGroup returns the bind group, or nil before InitBindGroup.
	BindGroup() *wgpu.BindGroup

	// BindGroupLayout returns the layout, or nil before InitBindGroup.
	BindGroupLayout() *wgpu.BindGroupLayout

	// Buffer returns the buffer at binding, or nil.
	Buffer(binding int) *wgpu.Buffer

	// TextureView returns the borrowed view at binding, or nil.
	TextureView(binding int) *wgpu.TextureView

	// Sampler returns the sampler at binding, or nil.
	Sampler(binding int) *wgpu.Sampler

	// SetBindGroup stores the bind group created by the renderer.
	SetBindGroup(bg *wgpu.BindGroup)

	// SetBindGroupLayout stores the layout created by the renderer.
	SetBindGroupLayout(bgl *wgpu.BindGroupLayout)

	// SetBuffer stores a buffer created by the renderer. The provider owns it from then on.
	SetBuffer(binding int, buf *wgpu.Buffer)

	// SetSampler stores a sampler created by the renderer. The provider owns it from then on.
	SetSampler(binding int, s *wgpu.Sampler)

	// ReleaseBindGroup frees the bind group and layout. Buffers, samplers and views stay, so
	// InitBindGroup can rebuild the group from them.
	ReleaseBindGroup()

	// Release frees the owned buffers, samplers, bind group and layout and forgets the borrowed views.
	// The provider can be initialized again afterwards.
	Release()
}

// bindGroupProvider implements BindGroupProvider.
type bindGroupProvider struct {
	label string

	bindGroup       *wgpu.BindGroup
	bindGroupLayout *wgpu.BindGroupLayout

	buffers  map[int]*wgpu.Buffer
	samplers map[int]*wgpu.Sampler
	// views are borrowed from the texture's owner and never released here.
	views map[int]*wgpu.TextureView
}

var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a provider with no GPU resources yet.
//
// Parameters:
//   - label: debug label used for the bind group and every resource the renderer creates for it
//   - options: borrowed texture views
//
// Returns:
//   - BindGroupProvider: the new provider
func NewBindGroupProvider(label string, options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:    label,
		buffers:  make(map[int]*wgpu.Buffer),
		samplers: make(map[int]*wgpu.Sampler),
		views:    make(map[int]*wgpu.TextureView),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Label() string { return p.label }

func (p *bindGroupProvider) BindGroup() *wgpu.BindGroup { return p.bindGroup }

func (p *bindGroupProvider) BindGroupLayout() *wgpu.BindGroupLayout { return p.bindGroupLayout }

func (p *bindGroupProvider) Buffer(binding int) *wgpu.Buffer { return p.buffers[binding] }

func (p *bindGroupProvider) TextureView(binding int) *wgpu.TextureView { return p.views[binding] }

func (p *bindGroupProvider) Sampler(binding int) *wgpu.Sampler { return p.samplers[binding] }

func (p *bindGroupProvider) SetBindGroup(bg *wgpu.BindGroup) { p.bindGroup = bg }

func (p *bindGroupProvider) SetBindGroupLayout(bgl *wgpu.BindGroupLayout) { p.bindGroupLayout = bgl }

func (p *bindGroupProvider) SetBuffer(binding int, buf *wgpu.Buffer) {
	if p.buffers == nil {
		p.buffers = make(map[int]*wgpu.Buffer)
	}
	p.buffers[binding] = buf
}

func (p *bindGroupProvider) SetSampler(binding int, s *wgpu.Sampler) {
	if p.samplers == nil {
		p.samplers = make(map[int]*wgpu.Sampler)
	}
	p.samplers[binding] = s
}

func (p *bindGroupProvider) ReleaseBindGroup() {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	if p.bindGroupLayout != nil {
		p.bindGroupLayout.Release()
		p.bindGroupLayout = nil
	}
}

func (p *bindGroupProvider) Release() {
	p.ReleaseBindGroup()
	for binding, s := range p.samplers {
		if s != nil {
			s.Release()
		}
		delete(p.samplers, binding)
	}
	for binding, buf := range p.buffers {
		if buf != nil {
			buf.Release()
		}
		delete(p.buffers, binding)
	}
	clear(p.views)
}
