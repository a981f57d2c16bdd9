package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine/capture"
	"github.com/Carmen-Shannon/drizzle/engine/compositor"
	"github.com/Carmen-Shannon/drizzle/engine/ripple"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

type fakeCapture struct {
	log      *eventLog
	startErr error

	mu     sync.Mutex
	ch     chan capture.Result
	closed bool
}

func (c *fakeCapture) Start(context.Context) (<-chan capture.Result, error) {
	c.log.add("capture.start")
	if c.startErr != nil {
		return nil, c.startErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch = make(chan capture.Result, 4)
	c.closed = false
	return c.ch, nil
}

func (c *fakeCapture) send(r capture.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.ch <- r
	}
}

func (c *fakeCapture) Stop() {
	c.log.add("capture.stop")
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

func (c *fakeCapture) Release() { c.log.add("capture.release") }

func (c *fakeCapture) Stats() capture.Stats { return capture.Stats{} }

type fakeSimulator struct {
	log      *eventLog
	startErr error
}

func (s *fakeSimulator) Start() error {
	s.log.add("sim.start")
	return s.startErr
}

func (s *fakeSimulator) Stop() { s.log.add("sim.stop") }

func (s *fakeSimulator) Stats() ripple.Stats { return ripple.Stats{} }

type fakeCompositor struct {
	log    *eventLog
	frames *common.Latest[capture.Frame]

	draws            atomic.Int64
	released         atomic.Bool
	drawAfterRelease atomic.Bool
	panicOnDraw      atomic.Bool
}

func (c *fakeCompositor) DrawFrame() (bool, error) {
	if c.panicOnDraw.Load() {
		panic("device lost")
	}
	if c.released.Load() {
		c.drawAfterRelease.Store(true)
	}
	if c.frames.Load() == nil {
		return false, nil
	}
	c.draws.Add(1)
	time.Sleep(time.Millisecond)
	return true, nil
}

func (c *fakeCompositor) Resize(int, int) {}

func (c *fakeCompositor) Release() {
	c.log.add("compositor.release")
	c.released.Store(true)
}

func (c *fakeCompositor) Stats() compositor.Stats { return compositor.Stats{} }

type harness struct {
	log    *eventLog
	cap    *fakeCapture
	sim    *fakeSimulator
	comp   *fakeCompositor
	frames *common.Latest[capture.Frame]
	engine Engine
}

func newHarness(t *testing.T, options ...EngineBuilderOption) *harness {
	t.Helper()
	h := &harness{log: &eventLog{}, frames: &common.Latest[capture.Frame]{}}
	h.cap = &fakeCapture{log: h.log}
	h.sim = &fakeSimulator{log: h.log}
	h.comp = &fakeCompositor{log: h.log, frames: h.frames}

	base := []EngineBuilderOption{
		WithCapture(h.cap),
		WithSimulator(h.sim),
		WithCompositor(h.comp),
		WithFrameSlot(h.frames),
		WithIdleInterval(2 * time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	e, err := NewEngine(append(base, options...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h.engine = e
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewEngineRequiresComponents(t *testing.T) {
	_, err := NewEngine(WithCapture(&fakeCapture{log: &eventLog{}}))
	if !errors.Is(err, ErrMissingComponent) {
		t.Fatalf("err = %v, want ErrMissingComponent", err)
	}
}

func TestStartStopOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.engine.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v", err)
	}

	h.cap.send(capture.Result{Frame: capture.Frame{Sequence: 1}})
	waitFor(t, "a draw", func() bool { return h.comp.draws.Load() > 0 })

	h.engine.Stop()
	h.engine.Stop()

	want := []string{"capture.start", "sim.start", "sim.stop", "capture.stop", "compositor.release", "capture.release"}
	if got := h.log.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if h.frames.Load() != nil {
		t.Fatal("frame slot not cleared")
	}
	if h.comp.drawAfterRelease.Load() {
		t.Fatal("render loop drew after the compositor was released")
	}
	if h.engine.Running() {
		t.Fatal("still running after Stop")
	}
	if h.engine.Stats().Frames == 0 {
		t.Fatal("frames not counted")
	}
}

func TestRestart(t *testing.T) {
	h := newHarness(t)
	for i := range 2 {
		if err := h.engine.Start(context.Background()); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		h.cap.send(capture.Result{Frame: capture.Frame{Sequence: uint64(i + 1)}})
		waitFor(t, "the frame to reach the slot", func() bool { return h.frames.Load() != nil })
		h.engine.Stop()
	}
	starts := 0
	for _, e := range h.log.snapshot() {
		if e == "sim.start" {
			starts++
		}
	}
	if starts != 2 {
		t.Fatalf("simulator started %d times", starts)
	}
}

func TestCaptureErrorReachesHandler(t *testing.T) {
	got := make(chan error, 1)
	h := newHarness(t, WithCaptureErrorHandler(func(err error) { got <- err }))
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.engine.Stop()

	boom := errors.New("stream died")
	h.cap.send(capture.Result{Frame: capture.Frame{Sequence: 1}})
	h.cap.send(capture.Result{Err: boom})

	select {
	case err := <-got:
		if !errors.Is(err, boom) {
			t.Fatalf("handler got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	if !h.engine.Running() || h.engine.Stats().CaptureErrs != 1 {
		t.Fatal("engine did not keep running after a capture error")
	}
	waitFor(t, "drawing the last frame", func() bool { return h.comp.draws.Load() > 0 })
}

func TestSimulatorFailureUnwindsCapture(t *testing.T) {
	h := newHarness(t)
	h.sim.startErr = errors.New("no device")

	if err := h.engine.Start(context.Background()); !errors.Is(err, h.sim.startErr) {
		t.Fatalf("Start err = %v", err)
	}
	want := []string{"capture.start", "sim.start", "capture.stop", "capture.release"}
	if got := h.log.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if h.engine.Running() {
		t.Fatal("running after a failed Start")
	}
}

func TestIdleLoopSleeps(t *testing.T) {
	h := newHarness(t, WithIdleInterval(10*time.Millisecond))
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	h.engine.Stop()

	skipped := h.engine.Stats().SkippedDraws
	if skipped == 0 || skipped > 20 {
		t.Fatalf("%d skipped draws in 100ms at a 10ms idle interval", skipped)
	}
	if h.comp.draws.Load() != 0 {
		t.Fatal("drew without a frame")
	}
}

func TestFrameLimitPacesLoop(t *testing.T) {
	h := newHarness(t, WithRenderFrameLimit(50))
	h.frames.Store(&capture.Frame{})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	h.engine.Stop()

	if n := h.comp.draws.Load(); n == 0 || n > 8 {
		t.Fatalf("%d draws in 100ms at 50 fps", n)
	}
}

func TestRunHeadlessReturnsAfterQuit(t *testing.T) {
	h := newHarness(t)
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background()) }()

	waitFor(t, "start", h.engine.Running)
	h.engine.Quit()
	h.engine.Quit()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
	if h.engine.Running() {
		t.Fatal("running after Run returned")
	}
}

func TestRenderPanicQuits(t *testing.T) {
	h := newHarness(t)
	h.comp.panicOnDraw.Store(true)

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background()) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a render panic did not end Run")
	}
	if !slices.Contains(h.log.snapshot(), "sim.stop") {
		t.Fatal("simulator not stopped after a render panic")
	}
}

func TestFrameLimit(t *testing.T) {
	if frameLimit(0) != 0 || frameLimit(-5) != 0 {
		t.Fatal("non-positive fps should disable the cap")
	}
	if got := frameLimit(50); got != 20*time.Millisecond {
		t.Fatalf("frameLimit(50) = %v", got)
	}
}
