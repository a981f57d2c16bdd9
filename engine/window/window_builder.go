package window

import "log/slog"

// WindowBuilderOption is a functional option for configuring an engineWindow.
// Use the With* functions to create options.
type WindowBuilderOption func(w *engineWindow)

// WithTitle sets the window title. Screen capture excludes windows by this title.
//
// Parameters:
//   - title: the window title text (default "OverlayWindow")
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTitle(title string) WindowBuilderOption {
	return func(w *engineWindow) {
		if title != "" {
			w.title = title
		}
	}
}

// WithWidth sets the initial window width instead of the monitor width.
//
// Parameters:
//   - width: initial width in screen coordinates (0 = monitor width)
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithWidth(width int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.requestedWidth = width
	}
}

// WithHeight sets the initial window height instead of the monitor height.
//
// Parameters:
//   - height: initial height in screen coordinates (0 = monitor height)
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithHeight(height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.requestedHeight = height
	}
}

// WithDecorated shows the title bar and borders.
//
// Parameters:
//   - decorated: true for a regular framed window (default false)
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithDecorated(decorated bool) WindowBuilderOption {
	return func(w *engineWindow) {
		w.decorated = decorated
	}
}

// WithFloating keeps the window above other windows.
//
// Parameters:
//   - floating: true to float (default true)
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithFloating(floating bool) WindowBuilderOption {
	return func(w *engineWindow) {
		w.floating = floating
	}
}

// WithTransparent requests a transparent framebuffer.
//
// Parameters:
//   - transparent: true for a transparent framebuffer (default true)
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTransparent(transparent bool) WindowBuilderOption {
	return func(w *engineWindow) {
		w.transparent = transparent
	}
}

// WithEscapeToClose closes the window when Escape is pressed.
//
// Parameters:
//   - enabled: true to close on Escape (default true)
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithEscapeToClose(enabled bool) WindowBuilderOption {
	return func(w *engineWindow) {
		w.escCloses = enabled
	}
}

// WithClickThrough lets mouse input pass through the overlay to the windows below.
// Only applied on Windows.
//
// Parameters:
//   - enabled: true for a click-through overlay (default true)
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithClickThrough(enabled bool) WindowBuilderOption {
	return func(w *engineWindow) {
		w.clickThrough = enabled
	}
}

// WithLogger sets the logger for window diagnostics.
func WithLogger(logger *slog.Logger) WindowBuilderOption {
	return func(w *engineWindow) {
		if logger != nil {
			w.logger = logger
		}
	}
}
