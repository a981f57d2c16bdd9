package engine

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine/capture"
	"github.com/Carmen-Shannon/drizzle/engine/profiler"
	"github.com/Carmen-Shannon/drizzle/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(enabled)
	}
}

// WithProfiler replaces the default profiler, e.g. to change its interval.
//
// Parameters:
//   - p: the profiler the render loop ticks
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithWindow sets the overlay window. Run blocks on its message loop and resize events are
// forwarded to the renderer and the compositor. Without a window Run blocks until Quit.
//
// Parameters:
//   - w: the overlay window
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithResizer sets the component that reconfigures the surface on window resize.
//
// Parameters:
//   - r: normally the renderer
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithResizer(r Resizer) EngineBuilderOption {
	return func(e *engine) {
		e.resizer = r
	}
}

// WithCapture sets the capture source. Required.
func WithCapture(c CaptureSource) EngineBuilderOption {
	return func(e *engine) {
		e.capture = c
	}
}

// WithSimulator sets the ripple simulator. Required.
func WithSimulator(s Simulator) EngineBuilderOption {
	return func(e *engine) {
		e.simulator = s
	}
}

// WithCompositor sets the compositor. Required.
func WithCompositor(c Compositor) EngineBuilderOption {
	return func(e *engine) {
		e.compositor = c
	}
}

// WithFrameSlot sets the slot capture frames are published into. It must be the slot the compositor reads. Required.
func WithFrameSlot(slot *common.Latest[capture.Frame]) EngineBuilderOption {
	return func(e *engine) {
		e.frames = slot
	}
}

// WithCaptureErrorHandler sets a callback for a capture stream that ended with an error.
// It runs on the pump goroutine; the compositor keeps drawing the last frame.
//
// Parameters:
//   - handler: function receiving the stream error
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCaptureErrorHandler(handler func(error)) EngineBuilderOption {
	return func(e *engine) {
		e.onCaptureError = handler
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to let present pacing alone limit the loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.renderFrameLimit.Store(int64(frameLimit(fps)))
	}
}

// WithIdleInterval sets how long the render loop sleeps when there is nothing to draw.
// Defaults to one refresh interval of the window's monitor, or 1/60 s without a window.
func WithIdleInterval(d time.Duration) EngineBuilderOption {
	return func(e *engine) {
		e.idleInterval = d
	}
}

// WithLogger sets the logger for engine lifecycle and loop diagnostics.
func WithLogger(logger *slog.Logger) EngineBuilderOption {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}
