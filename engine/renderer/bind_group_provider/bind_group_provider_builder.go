package bind_group_provider

import "github.com/cogentcore/webgpu/wgpu"

// BindGroupProviderOption configures a BindGroupProvider at construction.
type BindGroupProviderOption func(*bindGroupProvider)

// WithTextureView binds a borrowed texture view at binding. The provider never releases it.
//
// Parameters:
//   - binding: the binding index the view fills
//   - tv: the texture view
//
// Returns:
//   - BindGroupProviderOption: option function to apply
func WithTextureView(binding int, tv *wgpu.TextureView) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.views[binding] = tv
	}
}
