package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine/capture"
	"github.com/Carmen-Shannon/drizzle/engine/compositor"
	"github.com/Carmen-Shannon/drizzle/engine/profiler"
	"github.com/Carmen-Shannon/drizzle/engine/ripple"
	"github.com/Carmen-Shannon/drizzle/engine/window"
)

var (
	// ErrMissingComponent is returned by NewEngine when a required component was not given.
	ErrMissingComponent = errors.New("engine: missing component")
	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine: already running")
)

// CaptureSource is the part of capture.Source the engine drives.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan capture.Result, error)
	Stop()
	Release()
	Stats() capture.Stats
}

// Simulator is the part of ripple.Simulator the engine drives.
type Simulator interface {
	Start() error
	Stop()
	Stats() ripple.Stats
}

// Compositor is the part of compositor.Compositor the engine drives.
type Compositor interface {
	DrawFrame() (bool, error)
	Resize(width, height int)
	Release()
	Stats() compositor.Stats
}

// Resizer reconfigures the render surface, normally the renderer.
type Resizer interface {
	Resize(width, height int)
}

// Stats counts engine activity since construction.
type Stats struct {
	Frames       uint64
	SkippedDraws uint64
	DrawErrors   uint64
	CaptureErrs  uint64
}

// engine implements the Engine interface.
// Coordinates the capture pump, the simulator clocks, the render loop and the window thread.
type engine struct {
	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	running   atomic.Bool

	renderWG sync.WaitGroup
	pumpWG   sync.WaitGroup

	quitMu      sync.Mutex
	quitChannel chan struct{}
	quitOnce    *sync.Once // Ensures quitChannel is only closed once per Start

	window     window.Window
	resizer    Resizer
	capture    CaptureSource
	simulator  Simulator
	compositor Compositor
	frames     *common.Latest[capture.Frame]
	logger     *slog.Logger

	profiler         *profiler.Profiler
	profilingEnabled atomic.Bool

	renderFrameLimit atomic.Int64 // minimum frame duration in ns; 0 = vsync only
	idleInterval     time.Duration

	onCaptureError func(error)

	drawnFrames  atomic.Uint64
	skippedDraws atomic.Uint64
	drawErrors   atomic.Uint64
	captureErrs  atomic.Uint64
}

// Engine owns the overlay lifecycle.
// It pumps capture results into the latest-frame slot, runs the ripple simulator and drives the
// compositor from a render loop paced by the surface's present mode.
type Engine interface {
	// Start starts capture, the frame pump, the simulator and the render loop, in that order.
	// A component that fails to start stops the ones started before it.
	//
	// Parameters:
	//   - ctx: bounds capture start
	//
	// Returns:
	//   - error: ErrAlreadyRunning or the failing component's error
	Start(ctx context.Context) error

	// Stop stops the render loop, then the simulator, then capture (draining the pump), then
	// releases the compositor bind groups and the capture textures, and clears the frame slot.
	// Safe to call multiple times; the engine can be started again afterwards.
	Stop()

	// Run starts the engine, blocks on the window message loop until the window closes, then stops.
	//
	// Parameters:
	//   - ctx: bounds capture start
	//
	// Returns:
	//   - error: the Start error, if any
	Run(ctx context.Context) error

	// Quit stops the render loop and asks the window to close. It does not wait; Run performs the
	// full Stop once the message loop returns. Safe to call from any goroutine, including callbacks.
	Quit()

	// Running reports whether the engine is started.
	Running() bool

	// Window returns the overlay window, or nil when the engine runs headless.
	Window() window.Window

	// EnableProfiler enables periodic performance logging.
	EnableProfiler()

	// DisableProfiler disables periodic performance logging.
	DisableProfiler()

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to let present pacing alone limit the loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// Stats returns activity counters.
	Stats() Stats
}

var _ Engine = &engine{}

// NewEngine creates a new Engine with the provided options.
// WithCapture, WithSimulator, WithCompositor and WithFrameSlot are required.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
//   - error: ErrMissingComponent when a required option is missing
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		logger:   slog.Default(),
		quitOnce: &sync.Once{},
	}
	for _, opt := range options {
		opt(e)
	}

	switch {
	case e.capture == nil:
		return nil, fmt.Errorf("%w: capture source", ErrMissingComponent)
	case e.simulator == nil:
		return nil, fmt.Errorf("%w: simulator", ErrMissingComponent)
	case e.compositor == nil:
		return nil, fmt.Errorf("%w: compositor", ErrMissingComponent)
	case e.frames == nil:
		return nil, fmt.Errorf("%w: frame slot", ErrMissingComponent)
	}

	if e.idleInterval <= 0 {
		refresh := 60
		if e.window != nil && e.window.Monitor().RefreshRate > 0 {
			refresh = e.window.Monitor().RefreshRate
		}
		e.idleInterval = time.Second / time.Duration(refresh)
	}

	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(profiler.WithLogger(e.logger))
	}
	e.profiler.Track("captured", func() uint64 { return e.capture.Stats().Captured })
	e.profiler.Track("drops", func() uint64 { return e.simulator.Stats().Drops })
	e.profiler.Track("propagations", func() uint64 { return e.simulator.Stats().Propagations })
	e.profiler.Track("failed_dispatches", func() uint64 { return e.simulator.Stats().FailedDispatches })
	e.profiler.Track("dropped_ticks", func() uint64 { return e.simulator.Stats().DroppedTicks })
	e.profiler.Track("skipped_draws", e.skippedDraws.Load)

	if e.window != nil {
		e.window.SetResizeCallback(func(width, height int) {
			if e.resizer != nil {
				e.resizer.Resize(width, height)
			}
			e.compositor.Resize(width, height)
		})
	}

	return e, nil
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Running() bool {
	return e.running.Load()
}

func (e *engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.running.Load() {
		return ErrAlreadyRunning
	}

	results, err := e.capture.Start(ctx)
	if err != nil {
		return fmt.Errorf("engine: start capture: %w", err)
	}
	e.pumpWG.Add(1)
	go e.handleCapture(results)

	if err := e.simulator.Start(); err != nil {
		e.capture.Stop()
		e.pumpWG.Wait()
		e.capture.Release()
		e.frames.Clear()
		return fmt.Errorf("engine: start simulator: %w", err)
	}

	quit := make(chan struct{})
	e.quitMu.Lock()
	e.quitChannel, e.quitOnce = quit, &sync.Once{}
	e.quitMu.Unlock()
	e.renderWG.Add(1)
	go e.handleRender(quit)

	e.running.Store(true)
	e.logger.Debug("engine started", "idle_interval", e.idleInterval)
	return nil
}

func (e *engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if !e.running.Load() {
		return
	}
	e.running.Store(false)

	// The render loop reads every resource released below, so it goes first.
	e.signalQuit()
	e.renderWG.Wait()

	e.simulator.Stop()

	e.capture.Stop()
	e.pumpWG.Wait()

	e.compositor.Release()
	e.capture.Release()
	e.frames.Clear()

	e.logger.Debug("engine stopped",
		"frames", e.drawnFrames.Load(),
		"skipped_draws", e.skippedDraws.Load(),
	)
}

func (e *engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Stop()
	if e.window == nil {
		e.quitMu.Lock()
		quit := e.quitChannel
		e.quitMu.Unlock()
		<-quit
		return nil
	}
	e.window.ProcessMessages()
	return nil
}

// Quit signals the render loop to exit and asks the window to close.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
	if e.window != nil {
		e.window.RequestClose()
	}
}

// signalQuit closes the current quit channel to signal the render loop to exit.
func (e *engine) signalQuit() {
	e.quitMu.Lock()
	once, quit := e.quitOnce, e.quitChannel
	e.quitMu.Unlock()
	if quit == nil {
		return
	}
	once.Do(func() {
		close(quit)
	})
}

// handleCapture moves capture results into the frame slot until the channel closes.
// It runs on its own goroutine so the stream's goroutine never waits on the render loop.
func (e *engine) handleCapture(results <-chan capture.Result) {
	defer e.pumpWG.Done()
	for r := range results {
		if r.Err != nil {
			e.captureErrs.Add(1)
			e.logger.Warn("capture stream ended", "error", r.Err)
			if e.onCaptureError != nil {
				e.onCaptureError(r.Err)
			}
			continue
		}
		frame := r.Frame
		e.frames.Store(&frame)
	}
}

// handleRender draws one frame per iteration until quit is closed.
// Present pacing blocks inside DrawFrame; with nothing to draw the loop sleeps one refresh interval.
// Recovers from panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleRender(quit chan struct{}) {
	defer e.renderWG.Done()
	// Recover from panics inside the render goroutine to avoid crashing the whole process.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("render goroutine recovered from panic", "panic", r)
			e.Quit()
		}
	}()

	idle := time.NewTimer(0)
	<-idle.C
	defer idle.Stop()

	for {
		select {
		case <-quit:
			return
		default:
		}

		frameStart := time.Now()
		drawn, err := e.compositor.DrawFrame()
		if err != nil {
			e.drawErrors.Add(1)
			e.logger.Debug("draw failed", "error", err)
		}
		if !drawn {
			e.skippedDraws.Add(1)
			idle.Reset(e.idleInterval)
			select {
			case <-quit:
				return
			case <-idle.C:
			}
			continue
		}
		e.drawnFrames.Add(1)

		if e.profilingEnabled.Load() {
			e.profiler.Tick()
		}

		// Frame rate limiting
		if limit := time.Duration(e.renderFrameLimit.Load()); limit > 0 {
			if remaining := limit - time.Since(frameStart); remaining > 0 {
				idle.Reset(remaining)
				select {
				case <-quit:
					return
				case <-idle.C:
				}
			}
		}
	}
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	e.renderFrameLimit.Store(int64(frameLimit(fps)))
}

// frameLimit converts a frame rate cap to a minimum frame duration. fps <= 0 means no cap.
func frameLimit(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

func (e *engine) Stats() Stats {
	return Stats{
		Frames:       e.drawnFrames.Load(),
		SkippedDraws: e.skippedDraws.Load(),
		DrawErrors:   e.drawErrors.Load(),
		CaptureErrs:  e.captureErrs.Load(),
	}
}
