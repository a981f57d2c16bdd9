package ripple

import "math/rand/v2"

const (
	minDropRadius   = 1
	maxDropRadius   = 30
	minDropStrength = 8
	maxDropStrength = 12
)

// Droplet is a single rain drop injected into the height field.
// Coordinates are in height field texels.
type Droplet struct {
	X, Y     uint32
	Radius   uint32
	Strength uint32
}

// NewDroplet draws a droplet uniformly from rng. X lies in [0, width], Y in [0, height],
// Radius in [1, 30] and Strength in [8, 12], all inclusive.
func NewDroplet(rng *rand.Rand, width, height uint32) Droplet {
	return Droplet{
		X:        uint32(rng.Uint64N(uint64(width) + 1)),
		Y:        uint32(rng.Uint64N(uint64(height) + 1)),
		Radius:   minDropRadius + uint32(rng.Uint64N(maxDropRadius-minDropRadius+1)),
		Strength: minDropStrength + uint32(rng.Uint64N(maxDropStrength-minDropStrength+1)),
	}
}

// GPU converts the droplet to its uniform layout.
func (d Droplet) GPU() GPUDroplet {
	return GPUDroplet{X: d.X, Y: d.Y, Radius: d.Radius, Strength: d.Strength}
}
