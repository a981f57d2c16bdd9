package compositor

import "log/slog"

// CompositorBuilderOption is a functional option for configuring a Compositor.
type CompositorBuilderOption func(*compositor)

// WithRefraction sets how far the mirror shifts per unit of height gradient, in pixels.
//
// Parameters:
//   - refraction: the refraction scale (default 0.5)
//
// Returns:
//   - CompositorBuilderOption: option function to apply
func WithRefraction(refraction float32) CompositorBuilderOption {
	return func(c *compositor) {
		c.refraction = refraction
	}
}

// WithShading sets how strongly slopes brighten or darken the mirror. 0 disables shading.
//
// Parameters:
//   - shading: the shading scale (default 0.02)
//
// Returns:
//   - CompositorBuilderOption: option function to apply
func WithShading(shading float32) CompositorBuilderOption {
	return func(c *compositor) {
		c.shading = shading
	}
}

// WithLogger sets the logger for compositor diagnostics.
func WithLogger(logger *slog.Logger) CompositorBuilderOption {
	return func(c *compositor) {
		if logger != nil {
			c.logger = logger
		}
	}
}
