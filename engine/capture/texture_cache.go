package capture

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/drizzle/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// ErrCacheReleased is returned by an upload that races with Release.
var ErrCacheReleased = errors.New("capture: texture cache released")

// TextureAllocator is the subset of the renderer the texture cache allocates through.
type TextureAllocator interface {
	InitTexture(stagingData common.TextureStagingData) (*wgpu.Texture, *wgpu.TextureView, error)
	WriteTexture(tex *wgpu.Texture, pixels []byte, bytesPerRow, width, height uint32)
	ReleaseTexture(tex *wgpu.Texture, view *wgpu.TextureView)
}

// Frame is one capture image held in a texture of the cache.
// The texture is reused once the ring wraps, so a Frame is only valid for the draw it was loaded for.
// It stays allocated for at least a full ring of further uploads, also across a size change.
type Frame struct {
	Texture    *wgpu.Texture
	View       *wgpu.TextureView
	Width      uint32
	Height     uint32
	Sequence   uint64
	Slot       int
	Generation uint64
	CapturedAt time.Time
}

type cacheSlot struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

// retiredRing is a ring replaced by a size change, kept until frames published from it are stale.
type retiredRing struct {
	slots []cacheSlot
	// uploads left before the ring is released.
	uploads int
}

// textureCache is a fixed ring of BGRA textures reused round robin.
// All textures share one size; a sample of another size starts a new ring under a new generation.
// The old ring is retired, not freed: the latest-frame slot may still hold one of its frames.
type textureCache struct {
	mu sync.Mutex

	alloc      TextureAllocator
	slots      []cacheSlot
	retired    []retiredRing
	next       int
	width      uint32
	height     uint32
	generation uint64
	released   bool

	// nextGeneration hands out generations unique across reallocations.
	nextGeneration func() uint64
}

func newTextureCache(alloc TextureAllocator, size int, nextGeneration func() uint64) *textureCache {
	return &textureCache{
		alloc:          alloc,
		slots:          make([]cacheSlot, size),
		nextGeneration: nextGeneration,
	}
}

// Upload writes sample into the next slot and returns the frame that references it.
func (c *textureCache) Upload(sample Sample, sequence uint64) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return Frame{}, ErrCacheReleased
	}
	c.ageRetired()
	if sample.Width != c.width || sample.Height != c.height {
		c.retire()
		c.width, c.height = sample.Width, sample.Height
		c.generation = c.nextGeneration()
	}

	i := c.next
	c.next = (c.next + 1) % len(c.slots)

	slot := &c.slots[i]
	if slot.texture == nil {
		tex, view, err := c.alloc.InitTexture(common.TextureStagingData{
			Label:  fmt.Sprintf("Capture Frame %d", i),
			Width:  c.width,
			Height: c.height,
			Format: wgpu.TextureFormatBGRA8Unorm,
			Usage:  wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		})
		if err != nil {
			return Frame{}, err
		}
		slot.texture, slot.view = tex, view
	}

	c.alloc.WriteTexture(slot.texture, sample.Pixels, sample.BytesPerRow, sample.Width, sample.Height)

	return Frame{
		Texture:    slot.texture,
		View:       slot.view,
		Width:      sample.Width,
		Height:     sample.Height,
		Sequence:   sequence,
		Slot:       i,
		Generation: c.generation,
		CapturedAt: sample.CapturedAt,
	}, nil
}

// Release frees every texture, retired rings included. Later uploads fail with ErrCacheReleased.
func (c *textureCache) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.retired {
		c.releaseRing(r.slots)
	}
	c.retired = nil
	c.releaseRing(c.slots)
	c.next = 0
	c.released = true
}

// Allocated returns the number of slots of the current ring holding a texture.
func (c *textureCache) Allocated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.slots {
		if s.texture != nil {
			n++
		}
	}
	return n
}

// retire moves the current ring to the retired list and starts an empty one. Requires c.mu.
func (c *textureCache) retire() {
	if slices.ContainsFunc(c.slots, func(s cacheSlot) bool { return s.texture != nil || s.view != nil }) {
		c.retired = append(c.retired, retiredRing{slots: c.slots, uploads: len(c.slots)})
	}
	c.slots = make([]cacheSlot, len(c.slots))
	c.next = 0
}

// ageRetired counts one upload against every retired ring and frees those that are due. Requires c.mu.
func (c *textureCache) ageRetired() {
	kept := c.retired[:0]
	for _, r := range c.retired {
		if r.uploads--; r.uploads > 0 {
			kept = append(kept, r)
			continue
		}
		c.releaseRing(r.slots)
	}
	clear(c.retired[len(kept):])
	c.retired = kept
}

// releaseRing requires c.mu to be held.
func (c *textureCache) releaseRing(slots []cacheSlot) {
	for i := range slots {
		if slots[i].texture != nil || slots[i].view != nil {
			c.alloc.ReleaseTexture(slots[i].texture, slots[i].view)
		}
		slots[i] = cacheSlot{}
	}
}
