package pipeline

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
)

func TestNewPipelineDefaults(t *testing.T) {
	p := NewPipeline("compositor.ripple", PipelineTypeRender)

	want := RenderState{
		Topology:  wgpu.PrimitiveTopologyTriangleStrip,
		CullMode:  wgpu.CullModeNone,
		FrontFace: wgpu.FrontFaceCCW,
		WriteMask: wgpu.ColorWriteMaskAll,
	}
	if got := p.RenderState(); got != want {
		t.Errorf("RenderState = %+v, want %+v", got, want)
	}
	if p.Pipeline().(*wgpu.RenderPipeline) != nil {
		t.Error("unregistered pipeline should have no GPU object")
	}
	if p.BindGroupLayoutDescriptors() == nil || len(p.BindGroupLayoutDescriptors()) != 0 {
		t.Error("a render pipeline without shaders should have no groups")
	}
}

func TestPipelineOptions(t *testing.T) {
	p := NewPipeline("overlay.tint", PipelineTypeRender,
		WithTopology(wgpu.PrimitiveTopologyTriangleList),
		WithCullMode(wgpu.CullModeBack),
		WithBlend(AlphaBlending),
		WithWriteMask(wgpu.ColorWriteMaskRed),
	)
	s := p.RenderState()
	if s.Topology != wgpu.PrimitiveTopologyTriangleList || s.CullMode != wgpu.CullModeBack {
		t.Error("rasterizer options were not applied")
	}
	if s.Blend != AlphaBlending || s.WriteMask != wgpu.ColorWriteMaskRed {
		t.Error("target options were not applied")
	}
	if p.Shader(0) != nil {
		t.Error("no shader was set")
	}
	p.Release()
}

func TestComputePipelineIdentity(t *testing.T) {
	p := NewPipeline("ripple.propagate", PipelineTypeCompute)
	if p.Type() != PipelineTypeCompute || p.PipelineKey() != "ripple.propagate" {
		t.Fatalf("unexpected identity %v %q", p.Type(), p.PipelineKey())
	}
	if p.Pipeline().(*wgpu.ComputePipeline) != nil {
		t.Error("unregistered pipeline should have no GPU object")
	}
	if p.BindGroupLayoutDescriptors() != nil {
		t.Error("a compute pipeline without a shader has no layout")
	}
}

func TestMergeBindGroupLayouts(t *testing.T) {
	vertex := map[int]wgpu.BindGroupLayoutDescriptor{
		0: {Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageVertex},
		}},
	}
	fragment := map[int]wgpu.BindGroupLayoutDescriptor{
		0: {Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 1, Visibility: wgpu.ShaderStageFragment},
			{Binding: 0, Visibility: wgpu.ShaderStageFragment},
		}},
		2: {Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageFragment},
		}},
	}

	merged := mergeBindGroupLayouts(vertex, fragment)
	if len(merged) != 2 {
		t.Fatalf("got %d groups, want 2", len(merged))
	}
	g0 := merged[0].Entries
	if len(g0) != 2 || g0[0].Binding != 0 || g0[1].Binding != 1 {
		t.Fatalf("group 0 entries not merged and sorted: %+v", g0)
	}
	if g0[0].Visibility != wgpu.ShaderStageVertex|wgpu.ShaderStageFragment {
		t.Errorf("shared binding visibility = %v, want vertex|fragment", g0[0].Visibility)
	}
	if merged[2].Entries[0].Visibility != wgpu.ShaderStageFragment {
		t.Error("fragment-only group should keep its visibility")
	}
	if vertex[0].Entries[0].Visibility != wgpu.ShaderStageVertex {
		t.Error("merge mutated its input")
	}
}
