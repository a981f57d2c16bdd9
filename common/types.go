// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// TextureStagingData holds the description of a 2D texture pending GPU creation.
// Capture textures, height fields and any other engine-owned texture are created from one of these.
type TextureStagingData struct {
	// Label is the debug label attached to the GPU texture and its view.
	Label string
	// Pixels is optional initial pixel data. When nil the texture is created zero-filled.
	Pixels []byte
	// Width is the width of the texture in pixels.
	Width uint32
	// Height is the height of the texture in pixels.
	Height uint32
	// Format is the texel format. Defaults to BGRA8Unorm when zero.
	Format wgpu.TextureFormat
	// Usage is the usage flag set for the texture. Defaults to TextureBinding | CopyDst when zero.
	Usage wgpu.TextureUsage
}

// SamplerStagingData holds the configuration for a sampler binding pending GPU creation.
// This is primarily used in the BindGroupProvider to stage sampler data before creating the GPU sampler and bind group.
type SamplerStagingData struct {
	// AddressModeU, AddressModeV, AddressModeW specify the addressing mode for texture coordinates outside the [0, 1] range in each dimension (U, V, W).
	AddressModeU, AddressModeV, AddressModeW wgpu.AddressMode
	// MagFilter and MinFilter specify the filtering mode for magnification and minification.
	MagFilter, MinFilter wgpu.FilterMode
	// MipmapFilter specifies the filtering mode for mipmap level selection.
	MipmapFilter wgpu.MipmapFilterMode
	// LodMinClamp and LodMaxClamp specify the minimum and maximum level of detail (LOD) for mipmapping.
	LodMinClamp, LodMaxClamp float32
	// Compare specifies the comparison function for comparison samplers.
	Compare wgpu.CompareFunction
	// MaxAnisotropy specifies the maximum anisotropy level for anisotropic filtering.
	MaxAnisotropy uint16
}

// ComputeLimits describes the compute dispatch limits of the active GPU device.
type ComputeLimits struct {
	// ExecutionWidth is the preferred number of threads along X in one workgroup.
	// WebGPU does not report a SIMD width so this is a configured value.
	ExecutionWidth uint32
	// MaxThreadsPerGroup is the maximum number of invocations in one workgroup.
	MaxThreadsPerGroup uint32
	// MaxWorkgroupSizeX is the maximum workgroup size along X.
	MaxWorkgroupSizeX uint32
	// MaxWorkgroupSizeY is the maximum workgroup size along Y.
	MaxWorkgroupSizeY uint32
}
