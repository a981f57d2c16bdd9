package capture

import "log/slog"

// SourceBuilderOption is a functional option for configuring a Source.
type SourceBuilderOption func(*source)

// WithOverlayTitle sets the title of the window excluded from capture.
//
// Parameters:
//   - title: the overlay window title (default "OverlayWindow")
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithOverlayTitle(title string) SourceBuilderOption {
	return func(s *source) {
		if title != "" {
			s.overlayTitle = title
		}
	}
}

// WithQueueDepth sets how many results are buffered before the oldest is dropped.
// The texture cache holds two more textures than this.
//
// Parameters:
//   - depth: the result buffer size (default 3)
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithQueueDepth(depth int) SourceBuilderOption {
	return func(s *source) {
		if depth > 0 {
			s.queueDepth = depth
		}
	}
}

// WithCursor includes the mouse cursor in the captured image.
//
// Parameters:
//   - shows: true to draw the cursor
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithCursor(shows bool) SourceBuilderOption {
	return func(s *source) {
		s.showsCursor = shows
	}
}

// WithProcessID overrides the process whose windows are excluded from capture.
//
// Parameters:
//   - pid: the owner process id (default os.Getpid())
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithProcessID(pid int) SourceBuilderOption {
	return func(s *source) {
		s.pid = pid
	}
}

// WithLogger sets the logger for stream lifecycle and upload diagnostics.
//
// Parameters:
//   - logger: the structured logger
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) SourceBuilderOption {
	return func(s *source) {
		if logger != nil {
			s.logger = logger
		}
	}
}
