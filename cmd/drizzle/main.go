// Command drizzle shows a full-screen overlay that mirrors the primary display with rain ripples on top.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine"
	"github.com/Carmen-Shannon/drizzle/engine/capture"
	"github.com/Carmen-Shannon/drizzle/engine/compositor"
	"github.com/Carmen-Shannon/drizzle/engine/profiler"
	"github.com/Carmen-Shannon/drizzle/engine/renderer"
	"github.com/Carmen-Shannon/drizzle/engine/ripple"
	"github.com/Carmen-Shannon/drizzle/engine/window"
)

// GLFW must run on the main thread.
func init() {
	runtime.LockOSThread()
}

// config holds the command line settings.
type config struct {
	dropHz         float64
	propagateHz    float64
	damping        float64
	limit          float64
	queueDepth     int
	maxFPS         float64
	executionWidth uint
	software       bool
	profile        bool
	logLevel       slog.Level
	title          string
}

// parseFlags parses and validates args. Usage and parse errors go to output.
func parseFlags(args []string, output io.Writer) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("drizzle", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.Float64Var(&cfg.dropHz, "drop-hz", ripple.DefaultDropRate, "droplets injected per second")
	fs.Float64Var(&cfg.propagateHz, "propagate-hz", ripple.DefaultPropagateRate, "wave propagation steps per second")
	fs.Float64Var(&cfg.damping, "damping", float64(ripple.DefaultDamping), "per-step wave energy multiplier, in (0,1)")
	fs.Float64Var(&cfg.limit, "limit", float64(ripple.DefaultLimit), "absolute wave height clamp")
	fs.IntVar(&cfg.queueDepth, "queue-depth", capture.DefaultQueueDepth, "capture frames buffered before the oldest is dropped")
	fs.Float64Var(&cfg.maxFPS, "max-fps", 0, "render frame rate cap (0 = vsync only)")
	fs.UintVar(&cfg.executionWidth, "execution-width", uint(renderer.DefaultExecutionWidth), "compute threads per workgroup row")
	fs.BoolVar(&cfg.software, "software", false, "force the fallback (software) adapter")
	fs.BoolVar(&cfg.profile, "profile", false, "log frame rate, memory and simulation rates every second")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&cfg.title, "title", window.DefaultTitle, "overlay window title, excluded from capture")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if err := cfg.logLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return cfg, fmt.Errorf("-log-level: %w", err)
	}
	if cfg.damping <= 0 || cfg.damping >= 1 {
		return cfg, fmt.Errorf("-damping must be in (0,1), got %v", cfg.damping)
	}
	if cfg.limit <= 0 {
		return cfg, fmt.Errorf("-limit must be positive, got %v", cfg.limit)
	}
	if cfg.queueDepth <= 0 {
		return cfg, fmt.Errorf("-queue-depth must be positive, got %d", cfg.queueDepth)
	}
	return cfg, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "drizzle: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	w, err := window.NewWindow(window.WithTitle(cfg.title), window.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	presentMode := renderer.PresentModeVSync
	if cfg.maxFPS > 0 {
		presentMode = renderer.PresentModeUncapped
	}
	r, err := renderer.NewRenderer(renderer.BackendTypeWGPU, w,
		renderer.WithPresentMode(presentMode),
		renderer.WithForceSoftwareRenderer(cfg.software),
		renderer.WithExecutionWidth(uint32(cfg.executionWidth)),
		renderer.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer r.Release()

	source := capture.NewSource(
		capture.NewDisplayPlatform(capture.WithOverlayWindow(w), capture.WithPlatformLogger(logger)),
		r,
		capture.WithOverlayTitle(cfg.title),
		capture.WithQueueDepth(cfg.queueDepth),
		capture.WithLogger(logger),
	)

	sim := ripple.NewSimulator(r, uint32(w.Width()), uint32(w.Height()),
		ripple.WithDropRate(cfg.dropHz),
		ripple.WithPropagateRate(cfg.propagateHz),
		ripple.WithDamping(float32(cfg.damping)),
		ripple.WithLimit(float32(cfg.limit)),
		ripple.WithLogger(logger),
	)

	frames := &common.Latest[capture.Frame]{}
	comp, err := compositor.NewCompositor(r, frames, sim, w.Width(), w.Height(), compositor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer comp.Close()

	var eng engine.Engine
	eng, err = engine.NewEngine(
		engine.WithWindow(w),
		engine.WithResizer(r),
		engine.WithCapture(source),
		engine.WithSimulator(sim),
		engine.WithCompositor(comp),
		engine.WithFrameSlot(frames),
		engine.WithProfiler(profiler.NewProfiler(profiler.WithLogger(logger))),
		engine.WithProfiling(cfg.profile),
		engine.WithRenderFrameLimit(cfg.maxFPS),
		engine.WithLogger(logger),
		// A dead capture stream leaves a frozen mirror, so the overlay goes away.
		engine.WithCaptureErrorHandler(func(error) { eng.Quit() }),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		eng.Quit()
	}()

	return eng.Run(ctx)
}
