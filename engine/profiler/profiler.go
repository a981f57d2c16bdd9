package profiler

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// counter is a named cumulative source sampled once per interval.
type counter struct {
	name   string
	source func() uint64
	last   uint64
}

// Profiler tracks frame rate, memory statistics and the rates of named counters.
// Outputs stats to the logger at a configurable interval.
type Profiler struct {
	mu sync.Mutex

	logger         *slog.Logger
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	counters []*counter
	rates    map[string]float64
	fps      float64
}

// ProfilerOption is a functional option for configuring a Profiler.
type ProfilerOption func(*Profiler)

// WithInterval sets how often stats are logged. Values <= 0 keep the default (1s).
//
// Parameters:
//   - interval: the report interval
//
// Returns:
//   - ProfilerOption: option function to apply
func WithInterval(interval time.Duration) ProfilerOption {
	return func(p *Profiler) {
		if interval > 0 {
			p.updateInterval = interval
		}
	}
}

// WithLogger sets the logger reports are written to.
func WithLogger(logger *slog.Logger) ProfilerOption {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProfiler creates a new Profiler.
// Update interval defaults to 1 second.
//
// Parameters:
//   - options: interval and logger options
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerOption) *Profiler {
	p := &Profiler{
		logger:         slog.Default(),
		lastTime:       time.Now(),
		updateInterval: time.Second,
		rates:          make(map[string]float64),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Track registers a cumulative counter. Each report logs its per-second rate since the previous report.
// Registering a name twice replaces the source.
//
// Parameters:
//   - name: the log attribute name, e.g. "drops"
//   - source: returns the counter's running total
func (p *Profiler) Track(name string, source func() uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.counters {
		if c.name == name {
			c.source, c.last = source, source()
			return
		}
	}
	p.counters = append(p.counters, &counter{name: name, source: source, last: source()})
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, heap usage, allocation rate, GC count/pause times, total memory
// and the rate of every tracked counter.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}
	seconds := elapsed.Seconds()
	p.fps = float64(p.frameCount) / seconds

	runtime.ReadMemStats(&p.memStats)
	// Alloc: Bytes of allocated heap objects (live memory)
	// TotalAlloc: Cumulative bytes allocated for heap objects (increases forever, tracks churn)
	// Sys: Total bytes of memory obtained from the OS (actual process footprint)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024
	allocRateMB := float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / seconds

	// PauseNs is a circular buffer of the last 256 GC pauses.
	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	attrs := []any{
		slog.Float64("fps", p.fps),
		slog.Float64("heap_mb", allocMB),
		slog.Float64("alloc_mb_per_sec", allocRateMB),
		slog.Uint64("gc", uint64(gcCount)),
		slog.Uint64("gc_last_us", lastPauseUs),
		slog.Uint64("gc_max_us", maxPauseUs),
		slog.Float64("sys_mb", sysMB),
	}
	for _, c := range p.counters {
		total := c.source()
		rate := float64(total-c.last) / seconds
		c.last = total
		p.rates[c.name] = rate
		attrs = append(attrs, slog.Float64(c.name+"_per_sec", rate))
	}
	p.logger.Info("profile", attrs...)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// FPS returns the frame rate of the last report.
func (p *Profiler) FPS() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fps
}

// Rate returns the per-second rate of a tracked counter in the last report.
//
// Parameters:
//   - name: the counter name given to Track
//
// Returns:
//   - float64: the rate, or 0 before the first report
func (p *Profiler) Rate(name string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rates[name]
}
