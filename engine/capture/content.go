package capture

import (
	"context"
	"time"
)

// DefaultOverlayTitle is the window title excluded from capture by default.
const DefaultOverlayTitle = "OverlayWindow"

// Display describes one capturable display.
type Display struct {
	// ID identifies the display within the Content it was listed in.
	ID          int
	X, Y        int32
	Width       int
	Height      int
	Scale       float32
	RefreshRate float32
	Primary     bool
}

// NativeSize returns the display size in pixels, which is the logical size times the scale.
func (d Display) NativeSize() (uint32, uint32) {
	scale := d.Scale
	if scale <= 0 {
		scale = 1
	}
	return uint32(float32(d.Width) * scale), uint32(float32(d.Height) * scale)
}

// Window describes one on-screen window.
type Window struct {
	ID       int
	Title    string
	OwnerPID int
}

// Content is the set of displays and windows a Platform can capture.
type Content struct {
	Displays []Display
	Windows  []Window
}

// PrimaryDisplay returns the primary display, falling back to the first one listed.
//
// Returns:
//   - Display: the chosen display
//   - bool: false if the content lists no displays
func (c Content) PrimaryDisplay() (Display, bool) {
	if len(c.Displays) == 0 {
		return Display{}, false
	}
	for _, d := range c.Displays {
		if d.Primary {
			return d, true
		}
	}
	return c.Displays[0], true
}

// Filter selects one display and the windows left out of its image.
type Filter struct {
	Display         Display
	ExcludedWindows []Window
}

// NewExclusionFilter builds a filter on d that excludes every window titled title or owned by pid.
//
// Parameters:
//   - content: the shareable content to pick windows from
//   - d: the display to capture
//   - title: the overlay window title
//   - pid: the current process id
//
// Returns:
//   - Filter: the filter
func NewExclusionFilter(content Content, d Display, title string, pid int) Filter {
	f := Filter{Display: d}
	for _, w := range content.Windows {
		if w.Title == title || w.OwnerPID == pid {
			f.ExcludedWindows = append(f.ExcludedWindows, w)
		}
	}
	return f
}

// PixelFormat is the layout of sample pixels.
type PixelFormat int

const (
	// PixelFormatBGRA8 is 8 bits per channel in blue, green, red, alpha order.
	PixelFormatBGRA8 PixelFormat = iota
)

// StreamConfig configures a capture stream.
type StreamConfig struct {
	Width, Height    uint32
	PixelFormat      PixelFormat
	ShowsCursor      bool
	CapturesAudio    bool
	MinFrameInterval time.Duration
	QueueDepth       int
}

// SampleStatus reports whether a sample carries a usable image.
type SampleStatus int

const (
	// SampleStatusComplete marks a sample with a full new image.
	SampleStatusComplete SampleStatus = iota
	// SampleStatusIdle marks a sample sent while the screen did not change.
	SampleStatusIdle
	// SampleStatusInvalid marks a sample that could not be produced.
	SampleStatusInvalid
)

// Sample is one image delivered by a stream.
type Sample struct {
	Status      SampleStatus
	Pixels      []byte
	Width       uint32
	Height      uint32
	BytesPerRow uint32
	CapturedAt  time.Time
}

// StreamHandler receives stream callbacks on the stream's own goroutine.
type StreamHandler interface {
	// HandleSample is called for every sample, complete or not.
	HandleSample(sample Sample)
	// HandleStop is called once when the stream ends on its own. err is nil for a clean end.
	HandleStop(err error)
}

// Stream is a running capture of one display.
type Stream interface {
	Start(ctx context.Context) error
	// Stop ends the stream. No handler callback starts after Stop returns.
	Stop() error
}

// Platform is the OS screen-capture boundary.
type Platform interface {
	// ShareableContent lists the displays and windows available to capture.
	ShareableContent(ctx context.Context) (Content, error)
	// NewStream creates a stopped stream for filter that reports to handler.
	NewStream(filter Filter, config StreamConfig, handler StreamHandler) (Stream, error)
}
