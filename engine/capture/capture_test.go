package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/cogentcore/webgpu/wgpu"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeAlloc struct {
	mu       sync.Mutex
	live     map[*wgpu.Texture]bool
	created  int
	released int
	writes   int
}

func newFakeAlloc() *fakeAlloc {
	return &fakeAlloc{live: make(map[*wgpu.Texture]bool)}
}

func (a *fakeAlloc) InitTexture(sd common.TextureStagingData) (*wgpu.Texture, *wgpu.TextureView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sd.Format != wgpu.TextureFormatBGRA8Unorm {
		return nil, nil, errors.New("capture textures must be BGRA")
	}
	tex := &wgpu.Texture{}
	a.live[tex] = true
	a.created++
	return tex, &wgpu.TextureView{}, nil
}

func (a *fakeAlloc) WriteTexture(tex *wgpu.Texture, _ []byte, _, _, _ uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live[tex] {
		panic("write into a released texture")
	}
	a.writes++
}

func (a *fakeAlloc) ReleaseTexture(tex *wgpu.Texture, _ *wgpu.TextureView) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, tex)
	a.released++
}

func (a *fakeAlloc) isLive(tex *wgpu.Texture) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live[tex]
}

func (a *fakeAlloc) liveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

type fakeStream struct {
	mu      sync.Mutex
	started bool
	stops   int
}

func (s *fakeStream) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

type fakePlatform struct {
	content    Content
	contentErr error

	filter  Filter
	config  StreamConfig
	handler StreamHandler
	stream  *fakeStream
}

func (p *fakePlatform) ShareableContent(context.Context) (Content, error) {
	return p.content, p.contentErr
}

func (p *fakePlatform) NewStream(filter Filter, config StreamConfig, handler StreamHandler) (Stream, error) {
	p.filter, p.config, p.handler = filter, config, handler
	p.stream = &fakeStream{}
	return p.stream, nil
}

func testContent() Content {
	return Content{
		Displays: []Display{
			{ID: 0, Width: 800, Height: 600, Scale: 1, RefreshRate: 60},
			{ID: 1, Width: 1440, Height: 900, Scale: 2, RefreshRate: 120, Primary: true},
		},
		Windows: []Window{
			{ID: 1, Title: "Terminal", OwnerPID: 10},
			{ID: 2, Title: DefaultOverlayTitle, OwnerPID: 20},
			{ID: 3, Title: "Settings", OwnerPID: 99},
		},
	}
}

func sample(w, h uint32) Sample {
	return Sample{
		Status:      SampleStatusComplete,
		Pixels:      make([]byte, w*h*4),
		Width:       w,
		Height:      h,
		BytesPerRow: w * 4,
		CapturedAt:  time.Now(),
	}
}

func startSource(t *testing.T, options ...SourceBuilderOption) (*fakePlatform, *fakeAlloc, Source, <-chan Result) {
	t.Helper()
	p := &fakePlatform{content: testContent()}
	a := newFakeAlloc()
	src := NewSource(p, a, append([]SourceBuilderOption{WithLogger(discardLogger), WithProcessID(99)}, options...)...)
	results, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p, a, src, results
}

func TestStartConfiguresPrimaryDisplayStream(t *testing.T) {
	p, _, src, _ := startSource(t)
	defer src.Stop()

	if p.filter.Display.ID != 1 {
		t.Fatalf("captured display %d, want the primary (1)", p.filter.Display.ID)
	}
	if len(p.filter.ExcludedWindows) != 2 {
		t.Fatalf("excluded %v, want the overlay and own-process windows", p.filter.ExcludedWindows)
	}
	for _, w := range p.filter.ExcludedWindows {
		if w.ID == 1 {
			t.Fatal("unrelated window excluded")
		}
	}

	c := p.config
	if c.Width != 2880 || c.Height != 1800 {
		t.Errorf("output size %dx%d, want native 2880x1800", c.Width, c.Height)
	}
	if c.PixelFormat != PixelFormatBGRA8 || c.ShowsCursor || c.CapturesAudio {
		t.Errorf("unexpected config %+v", c)
	}
	if c.MinFrameInterval != time.Second/120 {
		t.Errorf("MinFrameInterval = %v, want 1/120 s", c.MinFrameInterval)
	}
	if c.QueueDepth != DefaultQueueDepth {
		t.Errorf("QueueDepth = %d", c.QueueDepth)
	}
	if !p.stream.started || !src.Running() || src.Display().ID != 1 {
		t.Fatal("stream not started")
	}
}

func TestStartErrors(t *testing.T) {
	a := newFakeAlloc()

	src := NewSource(&fakePlatform{contentErr: errors.New("denied")}, a, WithLogger(discardLogger))
	if _, err := src.Start(context.Background()); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("err = %v, want ErrContentUnavailable", err)
	}

	src = NewSource(&fakePlatform{}, a, WithLogger(discardLogger))
	if _, err := src.Start(context.Background()); !errors.Is(err, ErrNoDisplay) {
		t.Fatalf("err = %v, want ErrNoDisplay", err)
	}

	_, _, running, _ := startSource(t)
	defer running.Stop()
	if _, err := running.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestIncompleteSamplesAreSkipped(t *testing.T) {
	p, a, src, results := startSource(t)
	defer src.Stop()

	idle := sample(4, 4)
	idle.Status = SampleStatusIdle
	short := sample(4, 4)
	short.Pixels = short.Pixels[:10]
	empty := sample(4, 4)
	empty.Pixels = nil

	for _, s := range []Sample{idle, short, empty, {Status: SampleStatusInvalid}} {
		p.handler.HandleSample(s)
	}
	select {
	case r := <-results:
		t.Fatalf("unexpected result %+v", r)
	default:
	}
	if st := src.Stats(); st.Skipped != 4 || st.Captured != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if a.created != 0 {
		t.Fatal("texture allocated for a skipped sample")
	}

	p.handler.HandleSample(sample(4, 4))
	r := <-results
	if r.Err != nil || r.Frame.View == nil || r.Frame.Width != 4 || r.Frame.Sequence == 0 {
		t.Fatalf("bad result %+v", r)
	}
}

func TestFullChannelDropsOldest(t *testing.T) {
	p, _, src, results := startSource(t)
	defer src.Stop()

	for range 5 {
		p.handler.HandleSample(sample(8, 8))
	}

	var seqs []uint64
	for range DefaultQueueDepth {
		seqs = append(seqs, (<-results).Frame.Sequence)
	}
	if seqs[0] != 3 || seqs[2] != 5 {
		t.Fatalf("sequences = %v, want [3 4 5]", seqs)
	}
	if st := src.Stats(); st.DroppedResults != 2 {
		t.Fatalf("DroppedResults = %d, want 2", st.DroppedResults)
	}
}

func TestTextureRingIsBounded(t *testing.T) {
	p, a, src, results := startSource(t)
	defer src.Stop()

	var slots []int
	for range 8 {
		p.handler.HandleSample(sample(8, 8))
		slots = append(slots, (<-results).Frame.Slot)
	}
	if a.created != DefaultQueueDepth+2 {
		t.Fatalf("created %d textures, want %d", a.created, DefaultQueueDepth+2)
	}
	want := []int{0, 1, 2, 3, 4, 0, 1, 2}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("slots = %v, want %v", slots, want)
		}
	}
}

func TestResizeStartsNewGeneration(t *testing.T) {
	p, a, src, results := startSource(t)
	defer src.Stop()

	p.handler.HandleSample(sample(8, 8))
	first := (<-results).Frame
	p.handler.HandleSample(sample(16, 8))
	second := (<-results).Frame

	if second.Generation == first.Generation {
		t.Fatal("size change kept the cache generation")
	}
	if a.released != 0 || !a.isLive(first.Texture) {
		t.Fatalf("released %d textures on resize, first frame live %v", a.released, a.isLive(first.Texture))
	}

	// The retired ring lives for one full ring of uploads, like a reused slot.
	ring := DefaultQueueDepth + 2
	for range ring - 1 {
		p.handler.HandleSample(sample(16, 8))
		<-results
	}
	if !a.isLive(first.Texture) {
		t.Fatal("retired texture released before a full ring of uploads")
	}
	p.handler.HandleSample(sample(16, 8))
	<-results
	if a.isLive(first.Texture) || a.released != 1 {
		t.Fatalf("retired ring not released: released %d", a.released)
	}

	src.Stop()
	src.Release()
	if a.liveCount() != 0 {
		t.Fatalf("%d textures live after Release", a.liveCount())
	}
}

func TestPublishedFrameSurvivesResize(t *testing.T) {
	p, a, src, results := startSource(t)
	defer src.Stop()

	var slot common.Latest[Frame]
	p.handler.HandleSample(sample(8, 8))
	published := (<-results).Frame
	slot.Store(&published)

	// The compositor may still sample the published frame while the next size arrives.
	p.handler.HandleSample(sample(32, 32))
	<-results

	if f := slot.Load(); f == nil || !a.isLive(f.Texture) {
		t.Fatal("frame held by the latest slot was released by a resize upload")
	}
}

func TestStreamErrorIsDeliveredLast(t *testing.T) {
	p, _, src, results := startSource(t)
	defer src.Stop()

	boom := errors.New("stream died")
	p.handler.HandleSample(sample(4, 4))
	p.handler.HandleStop(boom)

	if r := <-results; r.Err != nil {
		t.Fatalf("first result is an error: %v", r.Err)
	}
	if r := <-results; !errors.Is(r.Err, boom) {
		t.Fatalf("last result err = %v, want %v", r.Err, boom)
	}
	if _, ok := <-results; ok {
		t.Fatal("channel still open after the stream ended")
	}
}

func TestStopClosesChannelAndDiscardsLateSamples(t *testing.T) {
	p, a, src, results := startSource(t)
	handler := p.handler

	src.Stop()
	src.Stop()

	if _, ok := <-results; ok {
		t.Fatal("channel open after Stop")
	}
	if p.stream.stops != 1 {
		t.Fatalf("stream stopped %d times", p.stream.stops)
	}

	handler.HandleSample(sample(4, 4))
	handler.HandleStop(errors.New("late"))
	if src.Stats().Captured != 0 {
		t.Fatal("late sample delivered")
	}

	src.Release()
	if a.liveCount() != 0 {
		t.Fatalf("%d textures live after Release", a.liveCount())
	}
	handler.HandleSample(sample(4, 4))
	if a.liveCount() != 0 {
		t.Fatal("upload after Release allocated a texture")
	}
}

func TestRestartReusesCache(t *testing.T) {
	p, a, src, results := startSource(t)
	p.handler.HandleSample(sample(4, 4))
	first := (<-results).Frame
	src.Stop()

	results, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer src.Stop()
	p.handler.HandleSample(sample(4, 4))
	second := (<-results).Frame

	if second.Generation != first.Generation {
		t.Fatal("restart at the same size changed the cache generation")
	}
	if second.Sequence <= first.Sequence {
		t.Fatal("sequence went backwards across restart")
	}
	if a.created != 2 {
		t.Fatalf("created %d textures, want 2", a.created)
	}
}

func TestStartRefusesCaptureThatWouldMirrorOverlay(t *testing.T) {
	screen := &fakeScreen{displays: twoDisplays()}
	overlay := &fakeOverlay{title: DefaultOverlayTitle}
	p := NewDisplayPlatform(WithScreen(screen), WithOverlayWindow(overlay), WithPlatformLogger(discardLogger))
	a := newFakeAlloc()
	src := NewSource(p, a, WithLogger(discardLogger))

	results, err := src.Start(context.Background())
	if !errors.Is(err, ErrExclusionUnsupported) {
		t.Fatalf("Start err = %v, want ErrExclusionUnsupported", err)
	}
	if results != nil || src.Running() {
		t.Fatal("source streams although the overlay is not excluded")
	}

	overlay.excluded = true
	results, err = src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start with an excluded overlay: %v", err)
	}
	src.Stop()
	for range results {
	}
}

func TestPrimaryDisplayFallsBackToFirst(t *testing.T) {
	c := Content{Displays: []Display{{ID: 4}, {ID: 5}}}
	d, ok := c.PrimaryDisplay()
	if !ok || d.ID != 4 {
		t.Fatalf("PrimaryDisplay = %+v, %v", d, ok)
	}
	if _, ok := (Content{}).PrimaryDisplay(); ok {
		t.Fatal("empty content yielded a display")
	}
}
