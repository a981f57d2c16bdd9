package bind_group_provider

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
)

func TestNewBindGroupProviderKeepsLabel(t *testing.T) {
	p := NewBindGroupProvider("Ripple Drop 0")
	if p.Label() != "Ripple Drop 0" {
		t.Fatalf("Label = %q", p.Label())
	}
	if p.BindGroup() != nil || p.BindGroupLayout() != nil || p.Buffer(0) != nil || p.Sampler(0) != nil {
		t.Fatal("new provider should hold no GPU resources")
	}
}

func TestReleaseForgetsBorrowedViews(t *testing.T) {
	current, next := &wgpu.TextureView{}, &wgpu.TextureView{}
	p := NewBindGroupProvider("Ripple Propagate 0->1", WithTextureView(0, current), WithTextureView(1, next))
	if p.TextureView(0) != current || p.TextureView(1) != next {
		t.Fatal("texture view options were not applied")
	}

	p.Release()

	if p.TextureView(0) != nil || p.TextureView(1) != nil {
		t.Fatal("Release should forget borrowed views")
	}
	if p.BindGroup() != nil || p.BindGroupLayout() != nil {
		t.Fatal("Release should clear the bind group")
	}
}

func TestSettersOnZeroProvider(t *testing.T) {
	p := &bindGroupProvider{}
	p.SetBuffer(0, nil)
	p.SetSampler(1, nil)
	if len(p.buffers) != 1 || len(p.samplers) != 1 {
		t.Fatal("setters should allocate their maps lazily")
	}
	p.Release()
	if len(p.buffers) != 0 || len(p.samplers) != 0 {
		t.Fatal("Release should drop nil entries too")
	}
}

func TestReleaseBindGroupKeepsResources(t *testing.T) {
	view := &wgpu.TextureView{}
	p := NewBindGroupProvider("Compositor Mirror 1/0", WithTextureView(0, view))
	p.SetBuffer(2, nil)

	p.ReleaseBindGroup()
	p.ReleaseBindGroup()

	if p.TextureView(0) != view {
		t.Fatal("ReleaseBindGroup dropped a borrowed view")
	}
	if len(p.(*bindGroupProvider).buffers) != 1 {
		t.Fatal("ReleaseBindGroup dropped a buffer")
	}
}
