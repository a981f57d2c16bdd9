package ripple

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUDropletSource is the canonical WGSL definition of the Droplet struct.
// Matches GPUDroplet layout exactly (16 bytes).
//
//go:embed assets/droplet.wgsl
var GPUDropletSource string

// GPUSimParamsSource is the canonical WGSL definition of the SimParams struct.
// Matches GPUSimParams layout exactly (16 bytes).
//
//go:embed assets/sim_params.wgsl
var GPUSimParamsSource string

//go:embed assets/drop.wgsl
var dropKernelSource string

//go:embed assets/propagate.wgsl
var propagateKernelSource string

// GPUDroplet is the GPU-aligned representation of a Droplet uniform.
// Size: 16 bytes.
type GPUDroplet struct {
	X        uint32 // offset  0
	Y        uint32 // offset  4
	Radius   uint32 // offset  8
	Strength uint32 // offset 12
}

// Size returns the size of the GPUDroplet struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUDroplet) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUDroplet struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUDroplet) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], g.X)
	binary.LittleEndian.PutUint32(buf[4:], g.Y)
	binary.LittleEndian.PutUint32(buf[8:], g.Radius)
	binary.LittleEndian.PutUint32(buf[12:], g.Strength)
	return buf
}

// GPUSimParams is the GPU-aligned representation of the simulation parameters uniform.
// Size: 16 bytes.
type GPUSimParams struct {
	Width   uint32  // offset  0: size.x
	Height  uint32  // offset  4: size.y
	Damping float32 // offset  8
	Limit   float32 // offset 12
}

// Size returns the size of the GPUSimParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUSimParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSimParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUSimParams) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], g.Width)
	binary.LittleEndian.PutUint32(buf[4:], g.Height)
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(g.Damping))
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(g.Limit))
	return buf
}
