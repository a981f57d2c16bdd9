package window

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"
)

// DefaultTitle is the overlay window title. Screen capture excludes windows with this title.
const DefaultTitle = "OverlayWindow"

// Monitor describes the display a window is placed on.
type Monitor struct {
	// X and Y are the monitor position on the virtual desktop in screen coordinates.
	X, Y int
	// Width and Height are the logical size of the current video mode.
	Width, Height int
	// ScaleX and ScaleY are the content scale (backing pixels per logical unit).
	ScaleX, ScaleY float32
	// RefreshRate is the refresh rate of the current video mode in Hz.
	RefreshRate int
}

// Window provides the overlay window and its message loop.
// Wraps platform-specific window implementations with a common interface.
type Window interface {
	// SetResizeCallback sets the function called when the framebuffer is resized.
	// It runs on the message loop thread.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetCloseCallback sets the function called once the user or RequestClose asks the window to close.
	// It runs on the message loop thread.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetCloseCallback(callback func())

	// SurfaceDescriptor returns a wgpu.SurfaceDescriptor suitable for creating a WebGPU surface.
	// The descriptor is platform-appropriate (Windows HWND, X11 Xlib, Wayland, macOS Metal, etc.)
	// and is created by the wgpuglfw bridge from the underlying GLFW window.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the platform-specific surface descriptor, or nil if window is not initialized
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// Monitor returns the monitor the window was placed on.
	//
	// Returns:
	//   - Monitor: position, logical size, content scale and refresh rate
	Monitor() Monitor

	// Title returns the window title.
	Title() string

	// ExcludedFromCapture reports whether the system leaves the window out of screen captures.
	// Screen capture of a display the window covers would otherwise mirror the window into itself.
	ExcludedFromCapture() bool

	// IsRunning returns true if the window is still active.
	//
	// Returns:
	//   - bool: true if window is running, false if closed or asked to close
	IsRunning() bool

	// RequestClose asks the message loop to exit. Safe to call from any goroutine.
	RequestClose()

	// Close destroys the window and releases platform resources. Call it on the thread that created the window.
	//
	// Returns:
	//   - error: error if the window was never created
	Close() error

	// ProcessMessages runs the window message loop on the calling thread.
	// Blocks until the window is asked to close.
	ProcessMessages()

	// Width returns the current framebuffer width in pixels.
	Width() int

	// Height returns the current framebuffer height in pixels.
	Height() int
}

// engineWindow is the implementation of the Window interface.
type engineWindow struct {
	title  string
	logger *slog.Logger

	// requestedWidth and requestedHeight override the monitor size when non-zero.
	requestedWidth  int
	requestedHeight int

	decorated   bool
	floating    bool
	transparent bool
	escCloses   bool

	// clickThrough lets mouse input pass to the windows below.
	clickThrough bool

	// excludedFromCapture is set once before the window is shown.
	excludedFromCapture bool

	monitor Monitor

	// width and height are the framebuffer size in pixels, read by the render goroutine.
	width  atomic.Int64
	height atomic.Int64

	closeRequested atomic.Bool

	// mu guards platform calls that may come from other goroutines against Close.
	mu        sync.Mutex
	destroyed bool

	// internalWindow holds the platform-specific window data (glfwWindow).
	internalWindow any

	onResize func(width, height int)
	onClose  func()
	// closeOnce ensures onClose runs once per window.
	closeOnce sync.Once
}

var _ Window = &engineWindow{}

// NewWindow creates the overlay window with the specified options.
// By default the window covers the primary monitor, has no decorations, floats above other
// windows, has a transparent framebuffer, passes mouse input through and closes on Escape.
// It must be called on the main thread.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the created window
//   - error: error if the platform could not create the window
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := newEngineWindow(options...)
	if err := newPlatformWindow(w); err != nil {
		return nil, err
	}
	w.logger.Debug("window created",
		"title", w.title,
		"width", w.Width(),
		"height", w.Height(),
		"monitor_refresh", w.monitor.RefreshRate,
	)
	return w, nil
}

// newEngineWindow applies options over the overlay defaults without creating a platform window.
func newEngineWindow(options ...WindowBuilderOption) *engineWindow {
	w := &engineWindow{
		title:        DefaultTitle,
		logger:       slog.Default(),
		floating:     true,
		transparent:  true,
		escCloses:    true,
		clickThrough: true,
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// overlayGeometry places a window of the requested size on m. Zero sizes take the monitor size.
// The window is centered when smaller than the monitor.
func overlayGeometry(m Monitor, requestedWidth, requestedHeight int) (x, y, width, height int) {
	width, height = m.Width, m.Height
	if requestedWidth > 0 {
		width = requestedWidth
	}
	if requestedHeight > 0 {
		height = requestedHeight
	}
	width, height = max(width, 1), max(height, 1)
	x = m.X + max(m.Width-width, 0)/2
	y = m.Y + max(m.Height-height, 0)/2
	return x, y, width, height
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SetCloseCallback(callback func()) {
	w.onClose = callback
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *engineWindow) Monitor() Monitor {
	return w.monitor
}

func (w *engineWindow) Title() string {
	return w.title
}

func (w *engineWindow) ExcludedFromCapture() bool {
	return w.excludedFromCapture
}

func (w *engineWindow) IsRunning() bool {
	return !w.closeRequested.Load() && platformIsRunningCheck(w)
}

func (w *engineWindow) RequestClose() {
	if w.closeRequested.Swap(true) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.destroyed {
		platformWake(w)
	}
}

func (w *engineWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return nil
	}
	if err := platformCloseWindow(w); err != nil {
		return err
	}
	w.destroyed = true
	return nil
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		platformWaitMessages(w)
	}
	w.notifyClose()
}

// notifyClose runs the close callback once.
func (w *engineWindow) notifyClose() {
	w.closeOnce.Do(func() {
		if w.onClose != nil {
			w.onClose()
		}
	})
}

// setFramebufferSize records a new framebuffer size and reports it to the resize callback.
func (w *engineWindow) setFramebufferSize(width, height int) {
	w.width.Store(int64(width))
	w.height.Store(int64(height))
	if w.onResize != nil {
		w.onResize(width, height)
	}
}

func (w *engineWindow) Width() int {
	return int(w.width.Load())
}

func (w *engineWindow) Height() int {
	return int(w.height.Load())
}
