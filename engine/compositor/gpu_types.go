package compositor

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUViewportParamsSource is the canonical WGSL definition of the ViewportParams struct.
// Matches GPUViewportParams layout exactly (32 bytes).
//
//go:embed assets/viewport_params.wgsl
var GPUViewportParamsSource string

//go:embed assets/fullscreen.wgsl
var fullscreenVertexSource string

//go:embed assets/composite.wgsl
var compositeFragmentSource string

// GPUViewportParams is the GPU-aligned representation of the viewport uniform.
// Size: 32 bytes.
type GPUViewportParams struct {
	SurfaceWidth  float32 // offset  0: surface.x
	SurfaceHeight float32 // offset  4: surface.y
	TexelWidth    float32 // offset  8: texel.x
	TexelHeight   float32 // offset 12: texel.y
	Refraction    float32 // offset 16
	Shading       float32 // offset 20
	_             [2]float32
}

// newViewportParams derives the uniform for a surface of w by h pixels.
func newViewportParams(w, h int, refraction, shading float32) GPUViewportParams {
	w, h = max(w, 1), max(h, 1)
	return GPUViewportParams{
		SurfaceWidth:  float32(w),
		SurfaceHeight: float32(h),
		TexelWidth:    1 / float32(w),
		TexelHeight:   1 / float32(h),
		Refraction:    refraction,
		Shading:       shading,
	}
}

// Size returns the size of the GPUViewportParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (32)
func (g *GPUViewportParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUViewportParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUViewportParams) Marshal() []byte {
	buf := make([]byte, g.Size())
	for i, v := range []float32{g.SurfaceWidth, g.SurfaceHeight, g.TexelWidth, g.TexelHeight, g.Refraction, g.Shading} {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
