package window

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// ErrNoMonitor is returned when GLFW reports no primary monitor.
var ErrNoMonitor = errors.New("window: no primary monitor")

// glfwWindow holds the GLFW-specific window state.
type glfwWindow struct {
	parent *engineWindow
	window *glfw.Window
}

func glfwBool(b bool) int {
	if b {
		return glfw.True
	}
	return glfw.False
}

// primaryMonitor reads the placement and video mode of the primary monitor.
//
// Reference: https://www.glfw.org/docs/3.3/monitor_guide.html
func primaryMonitor() (Monitor, error) {
	m := glfw.GetPrimaryMonitor()
	if m == nil {
		return Monitor{}, ErrNoMonitor
	}
	mode := m.GetVideoMode()
	if mode == nil {
		return Monitor{}, fmt.Errorf("%w: no video mode", ErrNoMonitor)
	}
	x, y := m.GetPos()
	sx, sy := m.GetContentScale()
	return Monitor{
		X:           x,
		Y:           y,
		Width:       mode.Width,
		Height:      mode.Height,
		ScaleX:      sx,
		ScaleY:      sy,
		RefreshRate: mode.RefreshRate,
	}, nil
}

// newPlatformWindow creates the GLFW overlay window with its callbacks and stores it as the internal window.
//
// GLFW reference: https://www.glfw.org/docs/latest/window_guide.html
// go-gl/glfw: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw
func newPlatformWindow(w *engineWindow) error {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return fmt.Errorf("window: initialize GLFW: %w", err)
	}

	monitor, err := primaryMonitor()
	if err != nil {
		glfw.Terminate()
		return err
	}
	w.monitor = monitor
	x, y, width, height := overlayGeometry(monitor, w.requestedWidth, w.requestedHeight)

	// WebGPU provides its own graphics API, so disable OpenGL context creation.
	// Reference: https://www.glfw.org/docs/latest/window_guide.html#window_hints_ctx
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Decorated, glfwBool(w.decorated))
	glfw.WindowHint(glfw.Floating, glfwBool(w.floating))
	glfw.WindowHint(glfw.TransparentFramebuffer, glfwBool(w.transparent))
	glfw.WindowHint(glfw.Resizable, glfw.False)
	glfw.WindowHint(glfw.FocusOnShow, glfw.False)
	glfw.WindowHint(glfw.Visible, glfw.False)

	win, err := glfw.CreateWindow(width, height, w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("window: create GLFW window: %w", err)
	}
	win.SetPos(x, y)

	gw := &glfwWindow{
		parent: w,
		window: win,
	}
	w.internalWindow = gw

	// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Window.SetKeyCallback
	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if w.escCloses && key == glfw.KeyEscape && action == glfw.Press {
			win.SetShouldClose(true)
		}
	})

	win.SetCloseCallback(func(_ *glfw.Window) {
		w.closeRequested.Store(true)
	})

	// Use framebuffer size callback for pixel-accurate resize events.
	// On high-DPI displays (e.g., macOS Retina), framebuffer size differs from window size.
	// The renderer requires pixel dimensions for correct surface configuration.
	// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Window.SetFramebufferSizeCallback
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.setFramebufferSize(width, height)
	})

	excluded, err := platformOverlayStyles(gw, w.clickThrough)
	w.excludedFromCapture = excluded
	if err != nil {
		w.logger.Warn("overlay window styles not applied", "error", err)
	}
	w.logger.Debug("overlay window styles", "excluded_from_capture", excluded, "click_through", w.clickThrough)

	fbWidth, fbHeight := win.GetFramebufferSize()
	w.width.Store(int64(fbWidth))
	w.height.Store(int64(fbHeight))

	win.Show()
	return nil
}

// platformGetSurfaceDescriptor creates a platform-appropriate wgpu.SurfaceDescriptor from the GLFW window.
// Uses the wgpuglfw bridge package which has per-platform implementations (Windows, X11, Wayland, macOS).
//
// Reference: https://pkg.go.dev/github.com/cogentcore/webgpu/wgpuglfw#GetSurfaceDescriptor
func platformGetSurfaceDescriptor(w *engineWindow) *wgpu.SurfaceDescriptor {
	if w.internalWindow == nil {
		return nil
	}
	gw := w.internalWindow.(*glfwWindow)
	return wgpuglfw.GetSurfaceDescriptor(gw.window)
}

// platformIsRunningCheck returns whether the GLFW window is still active.
// Returns false if the internal window is nil, the window was destroyed, or GLFW reports ShouldClose.
func platformIsRunningCheck(w *engineWindow) bool {
	if w.internalWindow == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return false
	}
	gw := w.internalWindow.(*glfwWindow)
	return !gw.window.ShouldClose()
}

// platformCloseWindow destroys the GLFW window and terminates the GLFW library.
// Requires w.mu to be held.
func platformCloseWindow(w *engineWindow) error {
	if w.internalWindow == nil {
		return fmt.Errorf("window is not initialized")
	}
	gw := w.internalWindow.(*glfwWindow)
	gw.window.SetShouldClose(true)
	gw.window.Destroy()
	glfw.Terminate()
	return nil
}

// platformWaitMessages blocks until GLFW has an event and dispatches it.
// RequestClose wakes it with an empty event.
//
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#WaitEvents
func platformWaitMessages(_ *engineWindow) {
	glfw.WaitEvents()
}

// platformWake posts an empty event so a blocked platformWaitMessages returns. Requires w.mu to be held.
//
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#PostEmptyEvent
func platformWake(_ *engineWindow) {
	glfw.PostEmptyEvent()
}
