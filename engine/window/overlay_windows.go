//go:build windows

package window

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Reference: https://learn.microsoft.com/en-us/windows/win32/api/winuser/nf-winuser-setwindowdisplayaffinity
const (
	wdaExcludeFromCapture = 0x00000011

	wsExLayered     = 0x00080000
	wsExTransparent = 0x00000020
	lwaAlpha        = 0x00000002
)

// gwlExStyle is GWL_EXSTYLE. A variable so the negative index converts to uintptr.
var gwlExStyle = -20

var (
	user32                         = windows.NewLazySystemDLL("user32.dll")
	procSetWindowDisplayAffinity   = user32.NewProc("SetWindowDisplayAffinity")
	procGetWindowLongPtrW          = user32.NewProc("GetWindowLongPtrW")
	procSetWindowLongPtrW          = user32.NewProc("SetWindowLongPtrW")
	procSetLayeredWindowAttributes = user32.NewProc("SetLayeredWindowAttributes")
)

// platformOverlayStyles keeps the window out of screen captures and, if clickThrough is set,
// lets mouse input fall through to the windows below. Call it before the window is shown.
//
// Returns:
//   - bool: true if the system now excludes the window from screen captures
//   - error: the calls that failed
func platformOverlayStyles(gw *glfwWindow, clickThrough bool) (bool, error) {
	hwnd := uintptr(unsafe.Pointer(gw.window.GetWin32Window()))
	if hwnd == 0 {
		return false, errors.New("window: no native window handle")
	}

	var errs []error
	excluded := true
	// WDA_EXCLUDEFROMCAPTURE needs Windows 10 2004 or later.
	if r, _, err := procSetWindowDisplayAffinity.Call(hwnd, wdaExcludeFromCapture); r == 0 {
		excluded = false
		errs = append(errs, fmt.Errorf("window: exclude from capture: %w", err))
	}

	if clickThrough {
		if err := setClickThrough(hwnd); err != nil {
			errs = append(errs, err)
		}
	}
	return excluded, errors.Join(errs...)
}

// setClickThrough adds WS_EX_LAYERED and WS_EX_TRANSPARENT so hit testing skips the window.
// A layered window draws nothing until its attributes are set, so alpha is set to opaque.
func setClickThrough(hwnd uintptr) error {
	style, _, err := procGetWindowLongPtrW.Call(hwnd, uintptr(gwlExStyle))
	if style == 0 && err != windows.ERROR_SUCCESS {
		return fmt.Errorf("window: read extended style: %w", err)
	}
	style |= wsExLayered | wsExTransparent
	if r, _, err := procSetWindowLongPtrW.Call(hwnd, uintptr(gwlExStyle), style); r == 0 && err != windows.ERROR_SUCCESS {
		return fmt.Errorf("window: set click-through style: %w", err)
	}
	if r, _, err := procSetLayeredWindowAttributes.Call(hwnd, 0, 255, lwaAlpha); r == 0 {
		return fmt.Errorf("window: set layered attributes: %w", err)
	}
	return nil
}
