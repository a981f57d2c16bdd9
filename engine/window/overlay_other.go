//go:build !windows

package window

import "errors"

// errNoOverlayStyles is reported where the platform has no capture exclusion or click-through API in GLFW 3.3.
var errNoOverlayStyles = errors.New("window: capture exclusion and click-through are only available on Windows")

func platformOverlayStyles(_ *glfwWindow, _ bool) (bool, error) {
	return false, errNoOverlayStyles
}
