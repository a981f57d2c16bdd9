package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueDepth is the number of results buffered between the stream and the consumer.
const DefaultQueueDepth = 3

var (
	// ErrContentUnavailable is returned when the platform cannot list shareable content.
	ErrContentUnavailable = errors.New("capture: shareable content unavailable")
	// ErrNoDisplay is returned when the platform lists no display.
	ErrNoDisplay = errors.New("capture: no display available")
	// ErrAlreadyRunning is returned by Start on a running source.
	ErrAlreadyRunning = errors.New("capture: source already running")
)

// Result is one item of the capture channel: a frame, or the error that ended the stream.
type Result struct {
	Frame Frame
	Err   error
}

// Stats counts source activity since construction.
type Stats struct {
	Captured       uint64
	Skipped        uint64
	DroppedResults uint64
}

// session is the delivery side of one Start. It outlives Stop so a late callback has
// somewhere harmless to land.
type session struct {
	mu      sync.Mutex
	results chan Result
	closed  bool
}

// deliver sends r, dropping the oldest pending result when the channel is full.
// It reports whether an older result was dropped.
func (s *session) deliver(r Result) (sent, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	for {
		select {
		case s.results <- r:
			return true, dropped
		default:
		}
		select {
		case <-s.results:
			dropped = true
		default:
		}
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.results)
}

// source implements the Source interface.
type source struct {
	mu sync.Mutex

	platform Platform
	alloc    TextureAllocator
	logger   *slog.Logger

	overlayTitle string
	pid          int
	queueDepth   int
	showsCursor  bool

	running bool
	display Display
	stream  Stream
	session *session
	cache   *textureCache

	sequence   atomic.Uint64
	generation atomic.Uint64

	captured       atomic.Uint64
	skipped        atomic.Uint64
	droppedResults atomic.Uint64
}

// Source streams the primary display into GPU textures.
// Frames are produced on the stream's goroutine and handed over through a bounded channel
// that drops its oldest result when the consumer falls behind.
type Source interface {
	// Start lists the shareable content, picks the primary display and opens a stream that
	// excludes the overlay window.
	//
	// Parameters:
	//   - ctx: bounds content enumeration and stream start
	//
	// Returns:
	//   - <-chan Result: frames, then an optional final error, then close
	//   - error: ErrContentUnavailable, ErrNoDisplay, ErrAlreadyRunning or a stream error
	Start(ctx context.Context) (<-chan Result, error)

	// Stop ends the stream and closes the result channel. In-flight uploads are discarded.
	// A stream that ended on its own still needs Stop before the next Start.
	// Safe to call more than once.
	Stop()

	// Release frees the texture cache. Call it only once no frame is drawn anymore.
	Release()

	// Running reports whether a stream is open.
	Running() bool

	// Display returns the display captured by the current or last stream.
	Display() Display

	// Stats returns activity counters.
	Stats() Stats
}

var _ Source = &source{}

// NewSource creates a stopped Source.
//
// Parameters:
//   - platform: the OS capture boundary
//   - alloc: allocates the cache textures, normally the renderer
//   - options: title, queue depth, cursor and logger options
//
// Returns:
//   - Source: the source
func NewSource(platform Platform, alloc TextureAllocator, options ...SourceBuilderOption) Source {
	s := &source{
		platform:     platform,
		alloc:        alloc,
		logger:       slog.Default(),
		overlayTitle: DefaultOverlayTitle,
		pid:          os.Getpid(),
		queueDepth:   DefaultQueueDepth,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *source) Start(ctx context.Context) (<-chan Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrAlreadyRunning
	}

	content, err := s.platform.ShareableContent(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}
	d, ok := content.PrimaryDisplay()
	if !ok {
		return nil, ErrNoDisplay
	}

	filter := NewExclusionFilter(content, d, s.overlayTitle, s.pid)
	config := s.streamConfig(d)

	if s.cache == nil {
		s.cache = newTextureCache(s.alloc, s.queueDepth+2, func() uint64 { return s.generation.Add(1) })
	}

	sess := &session{results: make(chan Result, s.queueDepth)}
	stream, err := s.platform.NewStream(filter, config, &streamHandler{source: s, session: sess, cache: s.cache})
	if err != nil {
		return nil, fmt.Errorf("capture: create stream: %w", err)
	}
	if err := stream.Start(ctx); err != nil {
		return nil, fmt.Errorf("capture: start stream: %w", err)
	}

	s.stream = stream
	s.session = sess
	s.running = true
	s.display = d

	s.logger.Debug("capture started",
		"display", d.ID,
		"width", config.Width,
		"height", config.Height,
		"min_frame_interval", config.MinFrameInterval,
		"excluded_windows", len(filter.ExcludedWindows),
	)
	return sess.results, nil
}

// streamConfig captures d at native resolution, at most once per refresh.
func (s *source) streamConfig(d Display) StreamConfig {
	w, h := d.NativeSize()
	refresh := d.RefreshRate
	if refresh <= 0 {
		refresh = 60
	}
	return StreamConfig{
		Width:            w,
		Height:           h,
		PixelFormat:      PixelFormatBGRA8,
		ShowsCursor:      s.showsCursor,
		CapturesAudio:    false,
		MinFrameInterval: time.Duration(float64(time.Second) / float64(refresh)),
		QueueDepth:       s.queueDepth,
	}
}

func (s *source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	// Close first so an upload finishing during Stop is discarded instead of delivered.
	s.session.close()
	if err := s.stream.Stop(); err != nil {
		s.logger.Debug("capture stream stop", "error", err)
	}
	s.stream = nil
	s.logger.Debug("capture stopped", "captured", s.captured.Load())
}

func (s *source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		s.cache.Release()
		s.cache = nil
	}
}

func (s *source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *source) Display() Display {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

func (s *source) Stats() Stats {
	return Stats{
		Captured:       s.captured.Load(),
		Skipped:        s.skipped.Load(),
		DroppedResults: s.droppedResults.Load(),
	}
}

// streamHandler adapts stream callbacks of one session to the source.
type streamHandler struct {
	source  *source
	session *session
	cache   *textureCache
}

func (h *streamHandler) HandleSample(sample Sample) {
	if sample.Status != SampleStatusComplete || !sample.valid() {
		h.source.skipped.Add(1)
		return
	}

	frame, err := h.cache.Upload(sample, h.source.sequence.Add(1))
	if err != nil {
		h.source.skipped.Add(1)
		h.source.logger.Debug("capture upload failed", "error", err)
		return
	}

	sent, dropped := h.session.deliver(Result{Frame: frame})
	if dropped {
		h.source.droppedResults.Add(1)
	}
	if sent {
		h.source.captured.Add(1)
	}
}

func (h *streamHandler) HandleStop(err error) {
	if err != nil {
		h.source.logger.Warn("capture stream ended", "error", err)
		h.session.deliver(Result{Err: err})
	}
	h.session.close()
}

// valid reports whether the pixel buffer holds the full image.
func (s Sample) valid() bool {
	if s.Width == 0 || s.Height == 0 || s.BytesPerRow < s.Width*4 {
		return false
	}
	need := uint64(s.BytesPerRow)*uint64(s.Height-1) + uint64(s.Width)*4
	return uint64(len(s.Pixels)) >= need
}
