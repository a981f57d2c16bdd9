package ripple

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/drizzle/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// fakeDevice emulates both kernels on CPU grids, one per allocated texture.
type fakeDevice struct {
	mu sync.Mutex

	limits common.ComputeLimits

	width, height int
	grids         map[*wgpu.TextureView][]float32
	droplets      map[bind_group_provider.BindGroupProvider]GPUDroplet
	params        map[bind_group_provider.BindGroupProvider]GPUSimParams

	registered  []string
	created     int
	released    int
	submissions int
	inFrame     bool
	dispatchErr error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		limits: common.ComputeLimits{
			ExecutionWidth:     32,
			MaxThreadsPerGroup: 256,
			MaxWorkgroupSizeX:  256,
			MaxWorkgroupSizeY:  256,
		},
		grids:    make(map[*wgpu.TextureView][]float32),
		droplets: make(map[bind_group_provider.BindGroupProvider]GPUDroplet),
		params:   make(map[bind_group_provider.BindGroupProvider]GPUSimParams),
	}
}

func (d *fakeDevice) ComputeLimits() common.ComputeLimits { return d.limits }

func (d *fakeDevice) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range pipelines {
		d.registered = append(d.registered, p.PipelineKey())
	}
	return nil
}

func (d *fakeDevice) InitTexture(sd common.TextureStagingData) (*wgpu.Texture, *wgpu.TextureView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sd.Format != wgpu.TextureFormatR32Float {
		return nil, nil, fmt.Errorf("unexpected format %v", sd.Format)
	}
	d.width, d.height = int(sd.Width), int(sd.Height)
	view := &wgpu.TextureView{}
	d.grids[view] = make([]float32, d.width*d.height)
	d.created++
	return &wgpu.Texture{}, view, nil
}

func (d *fakeDevice) ReleaseTexture(_ *wgpu.Texture, view *wgpu.TextureView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.grids, view)
	d.released++
}

func (d *fakeDevice) InitBindGroup(provider bind_group_provider.BindGroupProvider, desc wgpu.BindGroupLayoutDescriptor, _ map[int]wgpu.BufferUsage, _ map[int]uint64) error {
	if len(desc.Entries) == 0 {
		return errors.New("empty layout")
	}
	for _, e := range desc.Entries {
		isTexture := e.Texture.SampleType != wgpu.TextureSampleTypeUndefined ||
			e.StorageTexture.Access != wgpu.StorageTextureAccessUndefined
		if isTexture && provider.TextureView(int(e.Binding)) == nil {
			return fmt.Errorf("%s: binding %d has no view", provider.Label(), e.Binding)
		}
	}
	return nil
}

func (d *fakeDevice) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		u := func(i int) uint32 { return binary.LittleEndian.Uint32(w.Data[i*4:]) }
		switch {
		case w.Binding == 2:
			d.params[w.Provider] = GPUSimParams{
				Width:   u(0),
				Height:  u(1),
				Damping: math.Float32frombits(u(2)),
				Limit:   math.Float32frombits(u(3)),
			}
		case w.Binding == 1 && strings.HasPrefix(w.Provider.Label(), "Ripple Drop"):
			d.droplets[w.Provider] = GPUDroplet{X: u(0), Y: u(1), Radius: u(2), Strength: u(3)}
		}
	}
}

func (d *fakeDevice) BeginComputeFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFrame {
		return errors.New("compute frame already open")
	}
	d.inFrame = true
	return nil
}

func (d *fakeDevice) EndComputeFrame() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFrame = false
	d.submissions++
}

func (d *fakeDevice) DispatchCompute(key string, provider bind_group_provider.BindGroupProvider, _ [3]uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dispatchErr != nil {
		return d.dispatchErr
	}
	p := d.params[provider]
	switch {
	case strings.HasPrefix(key, "ripple.drop."):
		applyDrop(d.grids[provider.TextureView(0)], d.width, d.height, d.droplets[provider], p.Limit)
	case strings.HasPrefix(key, "ripple.propagate."):
		applyPropagate(d.grids[provider.TextureView(0)], d.grids[provider.TextureView(1)], d.width, d.height, p.Damping, p.Limit)
	}
	return nil
}

func (d *fakeDevice) failDispatches(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatchErr = err
}

func (d *fakeDevice) grid(view *wgpu.TextureView) []float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float32(nil), d.grids[view]...)
}

func (d *fakeDevice) counts() (created, released, submissions int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created, d.released, d.submissions
}

// applyDrop is the CPU reference of the drop kernel.
func applyDrop(g []float32, w, h int, drop GPUDroplet, limit float32) {
	r := float64(drop.Radius)
	for y := range h {
		for x := range w {
			dist := math.Hypot(float64(x)-float64(drop.X), float64(y)-float64(drop.Y))
			if dist >= r {
				continue
			}
			bump := float64(drop.Strength) * 0.5 * (1 + math.Cos(math.Pi*dist/r))
			g[y*w+x] = clampf(g[y*w+x]+float32(bump), limit)
		}
	}
}

// applyPropagate is the CPU reference of the propagate kernel.
func applyPropagate(cur, next []float32, w, h int, damping, limit float32) {
	at := func(x, y int) float32 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return cur[y*w+x]
	}
	for y := range h {
		for x := range w {
			sum := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)
			next[y*w+x] = clampf((sum*0.5-next[y*w+x])*damping, limit)
		}
	}
}

func clampf(v, limit float32) float32 {
	return min(max(v, -limit), limit)
}

func nonZero(g []float32) int {
	n := 0
	for _, v := range g {
		if v != 0 {
			n++
		}
	}
	return n
}

func newTestSimulator(d *fakeDevice, options ...SimulatorBuilderOption) Simulator {
	base := []SimulatorBuilderOption{
		WithManualTicks(),
		WithQueueDepth(64),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewSimulator(d, 64, 48, append(base, options...)...)
}

func syncSim(t *testing.T, s Simulator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestDropletBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	const w, h = 3840, 2160
	sawMaxRadius := false
	for range 20000 {
		d := NewDroplet(rng, w, h)
		if d.X > w || d.Y > h {
			t.Fatalf("droplet outside field: %+v", d)
		}
		if d.Radius < 1 || d.Radius > 30 {
			t.Fatalf("radius out of range: %d", d.Radius)
		}
		if d.Strength < 8 || d.Strength > 12 {
			t.Fatalf("strength out of range: %d", d.Strength)
		}
		sawMaxRadius = sawMaxRadius || d.Radius == 30
	}
	if !sawMaxRadius {
		t.Error("radius upper bound never drawn")
	}
}

func TestThreadDispatchConfig(t *testing.T) {
	cases := []struct {
		name     string
		limits   common.ComputeLimits
		w, h     uint32
		wantTPG  [3]uint32
		wantGrid [3]uint32
	}{
		{
			name:     "4k with 1024 threads",
			limits:   common.ComputeLimits{ExecutionWidth: 32, MaxThreadsPerGroup: 1024},
			w:        3840,
			h:        2160,
			wantTPG:  [3]uint32{32, 32, 1},
			wantGrid: [3]uint32{120, 68, 1},
		},
		{
			name:     "webgpu default limits",
			limits:   common.ComputeLimits{ExecutionWidth: 32, MaxThreadsPerGroup: 256, MaxWorkgroupSizeX: 256, MaxWorkgroupSizeY: 256},
			w:        2560,
			h:        1600,
			wantTPG:  [3]uint32{32, 8, 1},
			wantGrid: [3]uint32{80, 200, 1},
		},
		{
			name:     "execution width clamped to x limit",
			limits:   common.ComputeLimits{ExecutionWidth: 64, MaxThreadsPerGroup: 256, MaxWorkgroupSizeX: 16, MaxWorkgroupSizeY: 4},
			w:        100,
			h:        10,
			wantTPG:  [3]uint32{16, 4, 1},
			wantGrid: [3]uint32{7, 3, 1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewThreadDispatchConfig(tc.limits, tc.w, tc.h)
			if err != nil {
				t.Fatalf("NewThreadDispatchConfig: %v", err)
			}
			if cfg.ThreadsPerGroup != tc.wantTPG {
				t.Errorf("ThreadsPerGroup = %v, want %v", cfg.ThreadsPerGroup, tc.wantTPG)
			}
			if cfg.GroupsPerGrid != tc.wantGrid {
				t.Errorf("GroupsPerGrid = %v, want %v", cfg.GroupsPerGrid, tc.wantGrid)
			}
			if !cfg.Covers(tc.w, tc.h) {
				t.Error("grid does not cover the field")
			}
		})
	}

	if _, err := NewThreadDispatchConfig(common.ComputeLimits{}, 10, 10); !errors.Is(err, ErrInvalidLimits) {
		t.Fatalf("zero limits: err = %v, want ErrInvalidLimits", err)
	}
}

func TestDispatchConfigCoversOddSizes(t *testing.T) {
	limits := common.ComputeLimits{ExecutionWidth: 32, MaxThreadsPerGroup: 256}
	for _, size := range [][2]uint32{{1, 1}, {33, 9}, {1366, 768}, {1920, 1080}, {5120, 2880}} {
		cfg, err := NewThreadDispatchConfig(limits, size[0], size[1])
		if err != nil {
			t.Fatal(err)
		}
		if !cfg.Covers(size[0], size[1]) {
			t.Errorf("%v not covered by %+v", size, cfg)
		}
		// One group fewer in either axis must leave texels uncovered.
		if (cfg.GroupsPerGrid[0]-1)*cfg.ThreadsPerGroup[0] >= size[0] || (cfg.GroupsPerGrid[1]-1)*cfg.ThreadsPerGroup[1] >= size[1] {
			t.Errorf("%v over-dispatched by %+v", size, cfg)
		}
	}
}

func TestStartRegistersKernelsForGeometry(t *testing.T) {
	d := newFakeDevice()
	s := newTestSimulator(d)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	want := []string{"ripple.drop.32x8", "ripple.propagate.32x8"}
	if len(d.registered) != 2 || d.registered[0] != want[0] || d.registered[1] != want[1] {
		t.Fatalf("registered = %v, want %v", d.registered, want)
	}
	if got := s.DispatchConfig().GroupsPerGrid; got != [3]uint32{2, 6, 1} {
		t.Fatalf("GroupsPerGrid = %v", got)
	}
	if s.HeightFieldView(0) == nil || s.HeightFieldView(1) == nil || s.HeightFieldView(2) != nil {
		t.Fatal("unexpected height field views")
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start: err = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartRejectsEmptyField(t *testing.T) {
	d := newFakeDevice()
	s := NewSimulator(d, 0, 100, WithManualTicks())
	if err := s.Start(); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("err = %v, want ErrInvalidSize", err)
	}
	if created, _, _ := d.counts(); created != 0 {
		t.Fatalf("textures created for an invalid field: %d", created)
	}
}

func TestActiveIndexParity(t *testing.T) {
	d := newFakeDevice()
	s := newTestSimulator(d)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for n := 1; n <= 7; n++ {
		if !s.Propagate() {
			t.Fatalf("propagation %d not enqueued", n)
		}
		syncSim(t, s)
		if got := s.ActiveIndex(); got != n%2 {
			t.Fatalf("after %d propagations ActiveIndex = %d, want %d", n, got, n%2)
		}
	}
	if got := s.Stats().Propagations; got != 7 {
		t.Fatalf("Propagations = %d, want 7", got)
	}
}

func TestRefusedPropagationDoesNotFlip(t *testing.T) {
	d := newFakeDevice()
	s := newTestSimulator(d)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.Propagate()
	syncSim(t, s)
	if s.ActiveIndex() != 1 {
		t.Fatal("first propagation did not flip")
	}

	d.failDispatches(errors.New("bind group missing"))
	s.Propagate()
	s.InjectDrop()
	syncSim(t, s)

	if got := s.ActiveIndex(); got != 1 {
		t.Fatalf("ActiveIndex = %d after a refused dispatch, want 1", got)
	}
	st := s.Stats()
	if st.Propagations != 1 || st.Drops != 0 || st.FailedDispatches != 2 {
		t.Fatalf("stats = %+v, want 1 propagation, 0 drops, 2 failed dispatches", st)
	}

	d.failDispatches(nil)
	s.Propagate()
	syncSim(t, s)
	if s.ActiveIndex() != 0 || s.Stats().Propagations != 2 {
		t.Fatalf("propagation after recovery: active %d, stats %+v", s.ActiveIndex(), s.Stats())
	}
}

func TestDropVisibleToNextPropagation(t *testing.T) {
	d := newFakeDevice()
	s := newTestSimulator(d)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	active := s.ActiveIndex()
	var dropped []float32
	// A droplet centred on the far edge can miss the field entirely, so retry a few times.
	for range 5 {
		if !s.InjectDrop() {
			t.Fatal("drop not enqueued")
		}
		syncSim(t, s)
		if dropped = d.grid(s.HeightFieldView(active)); nonZero(dropped) > 0 {
			break
		}
	}
	if nonZero(dropped) == 0 {
		t.Fatal("drops left the active buffer untouched")
	}
	if n := nonZero(d.grid(s.HeightFieldView(1 - active))); n != 0 {
		t.Fatalf("drop touched the inactive buffer: %d texels", n)
	}

	want := make([]float32, len(dropped))
	applyPropagate(dropped, want, 64, 48, DefaultDamping, DefaultLimit)

	s.Propagate()
	syncSim(t, s)

	if s.ActiveIndex() != 1-active {
		t.Fatal("propagation did not flip the active index")
	}
	got := d.grid(s.HeightFieldView(s.ActiveIndex()))
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("texel %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSimulationStaysBounded(t *testing.T) {
	d := newFakeDevice()
	s := newTestSimulator(d)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for i := range 1200 {
		if i%6 == 0 {
			s.InjectDrop()
		}
		s.Propagate()
		if i%50 == 0 {
			syncSim(t, s)
		}
	}
	syncSim(t, s)

	for idx := range 2 {
		for i, v := range d.grid(s.HeightFieldView(idx)) {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) || v > DefaultLimit || v < -DefaultLimit {
				t.Fatalf("buffer %d texel %d = %v", idx, i, v)
			}
		}
	}
}

func TestStopLeavesNoFurtherSubmissions(t *testing.T) {
	d := newFakeDevice()
	s := newTestSimulator(d)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	for range 5 {
		s.InjectDrop()
	}
	for range 30 {
		s.Propagate()
	}
	syncSim(t, s)
	s.Stop()

	_, _, submitted := d.counts()
	if submitted != 35 {
		t.Fatalf("submissions = %d, want 35", submitted)
	}
	if s.InjectDrop() || s.Propagate() {
		t.Fatal("ticks accepted after Stop")
	}
	if err := s.Sync(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Sync after Stop: err = %v, want ErrQueueClosed", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, _, after := d.counts(); after != submitted {
		t.Fatalf("submissions grew after Stop: %d -> %d", submitted, after)
	}
}

func TestStartStopTwiceLeaksNothing(t *testing.T) {
	d := newFakeDevice()
	s := NewSimulator(d, 64, 48,
		WithDropRate(500),
		WithPropagateRate(1000),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	for round := 1; round <= 2; round++ {
		if err := s.Start(); err != nil {
			t.Fatalf("round %d Start: %v", round, err)
		}
		if got := s.Generation(); got != uint64(round) {
			t.Fatalf("Generation = %d, want %d", got, round)
		}
		time.Sleep(20 * time.Millisecond)
		s.Stop()
		s.Stop()

		created, released, _ := d.counts()
		if created != 2*round || released != created {
			t.Fatalf("round %d: created %d textures, released %d", round, created, released)
		}
		if s.HeightFieldView(0) != nil {
			t.Fatal("view still exposed after Stop")
		}
	}

	_, _, submitted := d.counts()
	time.Sleep(20 * time.Millisecond)
	if _, _, after := d.counts(); after != submitted {
		t.Fatalf("clock ticked after Stop: %d -> %d", submitted, after)
	}
	if st := s.Stats(); st.Drops == 0 || st.Propagations == 0 {
		t.Fatalf("clocks never ticked: %+v", st)
	}
}

func TestCommandQueueDropsWhenSaturated(t *testing.T) {
	q := newCommandQueue(2)
	release := make(chan struct{})
	started := make(chan struct{})

	var order []int
	var mu sync.Mutex
	record := func(i int) func() {
		return func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}
	}

	if !q.Submit(func() { close(started); <-release }) {
		t.Fatal("first submit rejected")
	}
	<-started
	if !q.Submit(record(1)) {
		t.Fatal("second submit rejected")
	}
	if q.Submit(record(2)) {
		t.Fatal("submit over the limit accepted")
	}
	if q.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", q.Dropped())
	}

	close(release)
	if err := q.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !q.Submit(record(3)) {
		t.Fatal("submit after drain rejected")
	}
	if err := q.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("order = %v, want [1 3]", order)
	}
	mu.Unlock()

	q.Close()
	q.Close()
	if q.Submit(record(4)) {
		t.Fatal("submit after Close accepted")
	}
	if err := q.Sync(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Sync after Close: %v", err)
	}
}

func TestCommandQueueSkipsPendingOnClose(t *testing.T) {
	q := newCommandQueue(4)
	release := make(chan struct{})
	started := make(chan struct{})
	ran := false

	q.Submit(func() { close(started); <-release })
	<-started
	q.Submit(func() { ran = true })

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	q.Close()

	if ran {
		t.Fatal("pending task ran after Close")
	}
	if q.Pending() != 0 {
		t.Fatalf("Pending = %d after Close", q.Pending())
	}
}

func TestGPUTypesMarshal(t *testing.T) {
	g := Droplet{X: 10, Y: 20, Radius: 5, Strength: 9}.GPU()
	buf := g.Marshal()
	if len(buf) != 16 || binary.LittleEndian.Uint32(buf[8:]) != 5 {
		t.Fatalf("droplet bytes = %v", buf)
	}

	p := GPUSimParams{Width: 3, Height: 4, Damping: 0.5, Limit: 2}
	buf = p.Marshal()
	if len(buf) != 16 || math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])) != 0.5 {
		t.Fatalf("params bytes = %v", buf)
	}
}
