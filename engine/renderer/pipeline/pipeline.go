package pipeline

import (
	"slices"

	"github.com/Carmen-Shannon/drizzle/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineType identifies whether a pipeline is a compute pipeline or a render pipeline.
type PipelineType int

const (
	// PipelineTypeCompute is a single compute entry point.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender is a vertex and a fragment entry point drawing into the surface.
	PipelineTypeRender
)

// RenderState is the fixed-function state of a render pipeline. The overlay draws without depth
// or multisampling, so only the rasterizer and the color target are configurable.
type RenderState struct {
	Topology  wgpu.PrimitiveTopology
	CullMode  wgpu.CullMode
	FrontFace wgpu.FrontFace
	WriteMask wgpu.ColorWriteMask
	// Blend is nil for an opaque target.
	Blend *wgpu.BlendState
}

// AlphaBlending is straight alpha over the existing target contents.
var AlphaBlending = &wgpu.BlendState{
	Color: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorSrcAlpha,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	},
	Alpha: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	},
}

// Pipeline is a compute or render pipeline description plus the GPU object the renderer creates from it.
// Pipelines are registered once with the renderer and looked up by key at dispatch or draw time.
type Pipeline interface {
	// Type returns whether this is a compute or a render pipeline.
	Type() PipelineType

	// PipelineKey returns the key the renderer caches this pipeline under.
	PipelineKey() string

	// Shader returns the shader for a stage, or nil if the stage is not set.
	//
	// Parameters:
	//   - shaderType: the stage to look up
	//
	// Returns:
	//   - shader.Shader: the stage's shader or nil
	Shader(shaderType shader.ShaderType) shader.Shader

	// Pipeline returns the *wgpu.RenderPipeline or *wgpu.ComputePipeline, typed nil before registration.
	Pipeline() any

	// RenderState returns the fixed-function state used when the render pipeline is created.
	RenderState() RenderState

	// SetRenderPipeline stores the created render pipeline.
	SetRenderPipeline(p *wgpu.RenderPipeline)

	// SetComputePipeline stores the created compute pipeline.
	SetComputePipeline(p *wgpu.ComputePipeline)

	// BindGroupLayoutDescriptors returns the bind group layouts keyed by group index.
	// Render pipelines merge the vertex and fragment layouts.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: descriptors keyed by group index
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// BindGroupLayoutDescriptor returns one group's layout. Bind groups created against it are
	// compatible with the pipeline layout.
	//
	// Parameters:
	//   - group: the bind group index
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: the descriptor, empty if the group is unused
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// Release releases the GPU pipeline object, if one was created.
	Release()
}

type pipeline struct {
	pipelineType PipelineType
	pipelineKey  string

	vertexShader, fragmentShader, computeShader shader.Shader

	state RenderState

	renderPipeline  *wgpu.RenderPipeline
	computePipeline *wgpu.ComputePipeline
}

var _ Pipeline = &pipeline{}

// NewPipeline creates an unregistered pipeline description.
// Render pipelines default to an opaque triangle strip with no culling, which is what a full-screen quad needs.
//
// Parameters:
//   - pipelineKey: the unique key for this pipeline
//   - pipelineType: compute or render
//   - opts: shaders and render state
//
// Returns:
//   - Pipeline: the new pipeline
func NewPipeline(pipelineKey string, pipelineType PipelineType, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:  pipelineKey,
		pipelineType: pipelineType,
		state: RenderState{
			Topology:  wgpu.PrimitiveTopologyTriangleStrip,
			CullMode:  wgpu.CullModeNone,
			FrontFace: wgpu.FrontFaceCCW,
			WriteMask: wgpu.ColorWriteMaskAll,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) Type() PipelineType { return p.pipelineType }

func (p *pipeline) PipelineKey() string { return p.pipelineKey }

func (p *pipeline) RenderState() RenderState { return p.state }

func (p *pipeline) Pipeline() any {
	if p.pipelineType == PipelineTypeRender {
		return p.renderPipeline
	}
	return p.computePipeline
}

func (p *pipeline) Shader(shaderType shader.ShaderType) shader.Shader {
	switch shaderType {
	case shader.ShaderTypeVertex:
		return p.vertexShader
	case shader.ShaderTypeFragment:
		return p.fragmentShader
	case shader.ShaderTypeCompute:
		return p.computeShader
	}
	return nil
}

func (p *pipeline) SetRenderPipeline(rp *wgpu.RenderPipeline) { p.renderPipeline = rp }

func (p *pipeline) SetComputePipeline(cp *wgpu.ComputePipeline) { p.computePipeline = cp }

func (p *pipeline) Release() {
	if p.renderPipeline != nil {
		p.renderPipeline.Release()
		p.renderPipeline = nil
	}
	if p.computePipeline != nil {
		p.computePipeline.Release()
		p.computePipeline = nil
	}
}

func (p *pipeline) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	if p.pipelineType == PipelineTypeCompute {
		if p.computeShader == nil {
			return nil
		}
		return p.computeShader.BindGroupLayoutDescriptors()
	}
	var stages []map[int]wgpu.BindGroupLayoutDescriptor
	for _, s := range []shader.Shader{p.vertexShader, p.fragmentShader} {
		if s != nil {
			stages = append(stages, s.BindGroupLayoutDescriptors())
		}
	}
	return mergeBindGroupLayouts(stages...)
}

func (p *pipeline) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	return p.BindGroupLayoutDescriptors()[group]
}

// mergeBindGroupLayouts unions per-stage layouts. A binding declared by several stages keeps the
// first stage's entry with the visibility of all of them.
func mergeBindGroupLayouts(stages ...map[int]wgpu.BindGroupLayoutDescriptor) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)
	for _, layouts := range stages {
		for group, desc := range layouts {
			out := merged[group]
			if out.Label == "" {
				out.Label = desc.Label
			}
			for _, e := range desc.Entries {
				i := slices.IndexFunc(out.Entries, func(x wgpu.BindGroupLayoutEntry) bool { return x.Binding == e.Binding })
				if i < 0 {
					out.Entries = append(out.Entries, e)
					continue
				}
				out.Entries[i].Visibility |= e.Visibility
			}
			merged[group] = out
		}
	}
	for group, desc := range merged {
		slices.SortFunc(desc.Entries, func(a, b wgpu.BindGroupLayoutEntry) int {
			return int(a.Binding) - int(b.Binding)
		})
		merged[group] = desc
	}
	return merged
}
