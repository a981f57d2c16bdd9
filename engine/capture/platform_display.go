package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/device/display"
)

// DefaultMaxCaptureFailures is the number of consecutive failed grabs that end a display stream.
const DefaultMaxCaptureFailures = 30

// ErrCaptureFailing ends a display stream whose grabs keep failing.
var ErrCaptureFailing = errors.New("capture: display capture keeps failing")

// ErrExclusionUnsupported is returned when a stream would capture a window its filter excludes.
// Streaming anyway would mirror the overlay into itself.
var ErrExclusionUnsupported = errors.New("capture: window exclusion unsupported")

// overlayWindowID is the window id the registered overlay is listed under.
const overlayWindowID = 1

// OverlayWindow is the window a DisplayPlatform keeps out of its grabs.
// The window itself asks the compositor to leave it out of screen captures.
type OverlayWindow interface {
	Title() string
	// ExcludedFromCapture reports whether the system leaves the window out of screen captures.
	ExcludedFromCapture() bool
}

// ScreenGrabber is the part of display.VirtualScreen the platform uses.
type ScreenGrabber interface {
	DetectDisplays() ([]display.Display, error)
	CaptureBmp(options ...display.DisplayCaptureOption) ([]display.BMP, error)
}

// DisplayPlatform captures displays by polling bitmap grabs from the automation display package.
// Bitmap grabs see every window, so the only window it lists and can exclude is the registered overlay,
// and only while the overlay is excluded from capture by the system.
type DisplayPlatform struct {
	mu          sync.Mutex
	screen      ScreenGrabber
	overlay     OverlayWindow
	displays    []display.Display
	logger      *slog.Logger
	maxFailures int
}

var _ Platform = &DisplayPlatform{}

// DisplayPlatformOption is a functional option for configuring a DisplayPlatform.
type DisplayPlatformOption func(*DisplayPlatform)

// WithScreen replaces the virtual screen the platform grabs from.
func WithScreen(screen ScreenGrabber) DisplayPlatformOption {
	return func(p *DisplayPlatform) {
		p.screen = screen
	}
}

// WithOverlayWindow registers the overlay window so filters can exclude it.
func WithOverlayWindow(w OverlayWindow) DisplayPlatformOption {
	return func(p *DisplayPlatform) {
		p.overlay = w
	}
}

// WithMaxFailures sets how many consecutive failed grabs end a stream.
func WithMaxFailures(n int) DisplayPlatformOption {
	return func(p *DisplayPlatform) {
		if n > 0 {
			p.maxFailures = n
		}
	}
}

// WithPlatformLogger sets the logger for platform warnings.
func WithPlatformLogger(logger *slog.Logger) DisplayPlatformOption {
	return func(p *DisplayPlatform) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewDisplayPlatform creates a DisplayPlatform. Without WithScreen the system virtual screen is used.
//
// Parameters:
//   - options: screen, overlay, failure limit and logger options
//
// Returns:
//   - *DisplayPlatform: the platform
func NewDisplayPlatform(options ...DisplayPlatformOption) *DisplayPlatform {
	p := &DisplayPlatform{
		logger:      slog.Default(),
		maxFailures: DefaultMaxCaptureFailures,
	}
	for _, opt := range options {
		opt(p)
	}
	if p.screen == nil {
		p.screen = display.NewVirtualScreen()
	}
	return p
}

func (p *DisplayPlatform) ShareableContent(ctx context.Context) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	found, err := p.screen.DetectDisplays()
	if err != nil {
		return Content{}, err
	}

	p.mu.Lock()
	p.displays = found
	p.mu.Unlock()

	content := Content{Displays: make([]Display, len(found))}
	for i, d := range found {
		content.Displays[i] = Display{
			ID:          i,
			X:           d.X,
			Y:           d.Y,
			Width:       d.Width,
			Height:      d.Height,
			Scale:       1,
			RefreshRate: d.RefreshRate,
			Primary:     d.Primary,
		}
	}
	if p.overlay != nil {
		content.Windows = append(content.Windows, Window{ID: overlayWindowID, Title: p.overlay.Title(), OwnerPID: os.Getpid()})
	}
	return content, nil
}

func (p *DisplayPlatform) NewStream(filter Filter, config StreamConfig, handler StreamHandler) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if filter.Display.ID < 0 || filter.Display.ID >= len(p.displays) {
		return nil, fmt.Errorf("capture: unknown display %d", filter.Display.ID)
	}
	if config.PixelFormat != PixelFormatBGRA8 {
		return nil, fmt.Errorf("capture: unsupported pixel format %d", config.PixelFormat)
	}
	if err := p.checkExclusion(filter); err != nil {
		return nil, err
	}
	if config.ShowsCursor {
		p.logger.Debug("display capture ignores the cursor setting")
	}

	interval := config.MinFrameInterval
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &displayStream{
		screen:      p.screen,
		target:      p.displays[filter.Display.ID],
		config:      config,
		interval:    interval,
		handler:     handler,
		maxFailures: p.maxFailures,
	}, nil
}

// checkExclusion fails unless every window the filter excludes is kept out of grabs.
// An unregistered overlay counts as unexcluded: bitmap grabs would capture it.
func (p *DisplayPlatform) checkExclusion(filter Filter) error {
	if p.overlay == nil {
		return fmt.Errorf("%w: no overlay window registered", ErrExclusionUnsupported)
	}
	for _, w := range filter.ExcludedWindows {
		if w.ID != overlayWindowID {
			return fmt.Errorf("%w: cannot exclude window %q", ErrExclusionUnsupported, w.Title)
		}
	}
	if !p.overlay.ExcludedFromCapture() {
		return fmt.Errorf("%w: overlay %q is visible to screen capture", ErrExclusionUnsupported, p.overlay.Title())
	}
	return nil
}

// displayStream polls one display on a ticker.
type displayStream struct {
	screen      ScreenGrabber
	target      display.Display
	config      StreamConfig
	interval    time.Duration
	handler     StreamHandler
	maxFailures int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *displayStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("capture: stream already started")
	}
	// The stream outlives the start context; only Stop ends it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	return nil
}

func (s *displayStream) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *displayStream) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sample, err := s.grab()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			if failures >= s.maxFailures {
				s.handler.HandleStop(fmt.Errorf("%w: %d in a row, last: %w", ErrCaptureFailing, failures, err))
				return
			}
			s.handler.HandleSample(Sample{Status: SampleStatusInvalid, CapturedAt: time.Now()})
			continue
		}
		failures = 0
		s.handler.HandleSample(sample)
	}
}

// grab captures the target display and converts it to the configured size.
func (s *displayStream) grab() (Sample, error) {
	bmps, err := s.screen.CaptureBmp(display.DisplaysOpt([]display.Display{s.target}))
	if err != nil {
		return Sample{}, err
	}
	if len(bmps) == 0 {
		return Sample{}, errors.New("capture: empty grab")
	}
	now := time.Now()

	pixels, w, h, err := bmpToBGRA(&bmps[0])
	if err != nil {
		return Sample{}, err
	}
	dstW, dstH := s.config.Width, s.config.Height
	if dstW == 0 || dstH == 0 {
		dstW, dstH = w, h
	}
	pixels = scaleBGRA(pixels, w, h, dstW, dstH)

	return Sample{
		Status:      SampleStatusComplete,
		Pixels:      pixels,
		Width:       dstW,
		Height:      dstH,
		BytesPerRow: dstW * 4,
		CapturedAt:  now,
	}, nil
}
