package ripple

import (
	"log/slog"
	"math/rand/v2"
)

// SimulatorBuilderOption is a functional option for configuring a Simulator.
type SimulatorBuilderOption func(*simulator)

// WithDropRate sets how many droplets are injected per second. Values <= 0 keep the default (20).
//
// Parameters:
//   - hz: drop ticks per second
//
// Returns:
//   - SimulatorBuilderOption: option function to apply
func WithDropRate(hz float64) SimulatorBuilderOption {
	return func(s *simulator) {
		if hz > 0 {
			s.dropHz = hz
		}
	}
}

// WithPropagateRate sets how many propagation steps run per second. Values <= 0 keep the default (120).
//
// Parameters:
//   - hz: propagation ticks per second
//
// Returns:
//   - SimulatorBuilderOption: option function to apply
func WithPropagateRate(hz float64) SimulatorBuilderOption {
	return func(s *simulator) {
		if hz > 0 {
			s.propagateHz = hz
		}
	}
}

// WithDamping sets the per-step energy multiplier. Values outside (0, 1) keep the default (0.985).
//
// Parameters:
//   - damping: the multiplier applied to every propagated height
//
// Returns:
//   - SimulatorBuilderOption: option function to apply
func WithDamping(damping float32) SimulatorBuilderOption {
	return func(s *simulator) {
		if damping > 0 && damping < 1 {
			s.damping = damping
		}
	}
}

// WithLimit sets the absolute height clamp. Values <= 0 keep the default (64).
//
// Parameters:
//   - limit: the largest magnitude a height can reach
//
// Returns:
//   - SimulatorBuilderOption: option function to apply
func WithLimit(limit float32) SimulatorBuilderOption {
	return func(s *simulator) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithQueueDepth bounds the number of ticks waiting for GPU submission.
// Ticks issued while the queue is full are dropped.
//
// Parameters:
//   - depth: the pending tick bound (default 8)
//
// Returns:
//   - SimulatorBuilderOption: option function to apply
func WithQueueDepth(depth int) SimulatorBuilderOption {
	return func(s *simulator) {
		if depth > 0 {
			s.queueDepth = depth
		}
	}
}

// WithManualTicks disables the drop and propagate clocks. Ticks then only run through
// InjectDrop and Propagate.
//
// Returns:
//   - SimulatorBuilderOption: option function to apply
func WithManualTicks() SimulatorBuilderOption {
	return func(s *simulator) {
		s.manualTicks = true
	}
}

// WithRand sets the random source for droplets.
//
// Parameters:
//   - rng: the generator to draw droplets from
//
// Returns:
//   - SimulatorBuilderOption: option function to apply
func WithRand(rng *rand.Rand) SimulatorBuilderOption {
	return func(s *simulator) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithLogger sets the logger used for lifecycle and per-tick diagnostics.
//
// Parameters:
//   - logger: the structured logger
//
// Returns:
//   - SimulatorBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) SimulatorBuilderOption {
	return func(s *simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}
