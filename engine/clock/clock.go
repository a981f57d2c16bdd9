package clock

import (
	"sync"
	"time"
)

// clock implements the Clock interface.
type clock struct {
	mu sync.Mutex

	name     string
	interval time.Duration
	fn       func(deltaTime float32)

	rateChannel chan time.Duration
	quitChannel chan struct{}
	wg          sync.WaitGroup
	running     bool
	ticks       uint64
}

// Clock runs a function periodically on its own goroutine.
// A Clock can be started again after it has been stopped.
type Clock interface {
	// Name returns the label given to the clock at construction.
	//
	// Returns:
	//   - string: the clock name
	Name() string

	// Interval returns the current tick interval.
	//
	// Returns:
	//   - time.Duration: the duration between ticks
	Interval() time.Duration

	// SetInterval changes the tick interval. A running clock picks the new interval up on its next loop iteration.
	// Values <= 0 are ignored.
	//
	// Parameters:
	//   - interval: the new duration between ticks
	SetInterval(interval time.Duration)

	// Start launches the tick goroutine. Calling Start on a running clock is a no-op.
	Start()

	// Stop signals the tick goroutine to exit and waits for it, so no tick runs after Stop returns.
	// Safe to call more than once.
	Stop()

	// Running reports whether the tick goroutine is active.
	//
	// Returns:
	//   - bool: true between Start and Stop
	Running() bool

	// Ticks returns the number of ticks fired since the clock was created.
	//
	// Returns:
	//   - uint64: the tick count
	Ticks() uint64
}

var _ Clock = &clock{}

// NewClock creates a stopped Clock.
//
// Parameters:
//   - name: a label used in logs and profiling
//   - interval: the duration between ticks
//   - fn: the function to run each tick, receiving the elapsed seconds since the previous tick
//
// Returns:
//   - Clock: the new clock
func NewClock(name string, interval time.Duration, fn func(deltaTime float32)) Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &clock{
		name:        name,
		interval:    interval,
		fn:          fn,
		rateChannel: make(chan time.Duration, 1),
	}
}

// IntervalFromHz converts a rate in ticks per second to a tick interval.
// Rates <= 0 fall back to the given default rate.
func IntervalFromHz(hz, fallback float64) time.Duration {
	if hz <= 0 {
		hz = fallback
	}
	return time.Duration(float64(time.Second) / hz)
}

func (c *clock) Name() string {
	return c.name
}

func (c *clock) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

func (c *clock) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = interval
	if !c.running {
		return
	}
	// Replace any pending update so the newest interval wins.
	select {
	case c.rateChannel <- interval:
	default:
		select {
		case <-c.rateChannel:
		default:
		}
		c.rateChannel <- interval
	}
}

func (c *clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.quitChannel = make(chan struct{})
	c.wg.Add(1)
	go c.handle(c.interval, c.quitChannel)
}

func (c *clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.quitChannel)
	c.mu.Unlock()

	c.wg.Wait()

	select {
	case <-c.rateChannel:
	default:
	}
}

func (c *clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *clock) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// handle runs the ticker loop until quit is closed.
func (c *clock) handle(interval time.Duration, quit <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			// A tick and quit can be ready together; quit wins.
			select {
			case <-quit:
				return
			default:
			}

			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			c.mu.Lock()
			c.ticks++
			c.mu.Unlock()

			if c.fn != nil {
				c.fn(dt)
			}
		case newRate := <-c.rateChannel:
			ticker.Reset(newRate)
		}
	}
}
