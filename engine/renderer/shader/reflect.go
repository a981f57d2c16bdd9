package shader

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// reflection is what the renderer learns from a processed WGSL module.
type reflection struct {
	entryPoint    string
	workgroupSize [3]uint32
	layouts       map[int]wgpu.BindGroupLayoutDescriptor
	varNames      map[int]map[int]string
}

var (
	entryPointRegex    = regexp.MustCompile(`@(vertex|fragment|compute)\b[^{]*?\bfn\s+(\w+)`)
	workgroupSizeRegex = regexp.MustCompile(`@workgroup_size\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?(?:,\s*(\d+)\s*)?\)`)
	structRegex        = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)
	resourceRegex      = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
)

var stageNames = map[ShaderType]string{
	ShaderTypeVertex:   "vertex",
	ShaderTypeFragment: "fragment",
	ShaderTypeCompute:  "compute",
}

var stageVisibility = map[ShaderType]wgpu.ShaderStage{
	ShaderTypeVertex:   wgpu.ShaderStageVertex,
	ShaderTypeFragment: wgpu.ShaderStageFragment,
	ShaderTypeCompute:  wgpu.ShaderStageCompute,
}

// reflectModule scans processed WGSL for the stage's entry point, the compute workgroup size and
// every @group/@binding resource. Buffer entries get a MinBindingSize from the bound struct layout.
//
// Parameters:
//   - source: WGSL after pre-processing
//   - shaderType: the stage whose entry point is wanted; it is also the visibility of every entry
//
// Returns:
//   - reflection: the extracted data; entryPoint is empty when the stage has none
func reflectModule(source string, shaderType ShaderType) reflection {
	code := stripComments(source)
	r := reflection{
		entryPoint: findEntryPoint(code, shaderType),
		layouts:    make(map[int]wgpu.BindGroupLayoutDescriptor),
		varNames:   make(map[int]map[int]string),
	}
	if shaderType == ShaderTypeCompute {
		r.workgroupSize = findWorkgroupSize(code)
	}

	layouts := newLayoutResolver(code)
	visibility := stageVisibility[shaderType]
	for _, m := range resourceRegex.FindAllStringSubmatch(code, -1) {
		group, _ := strconv.Atoi(m[1])
		binding, _ := strconv.Atoi(m[2])
		addressSpace, name, typeName := strings.TrimSpace(m[3]), m[4], strings.TrimSpace(m[5])

		entry := resourceEntry(uint32(binding), visibility, addressSpace, typeName)
		if entry.Buffer.Type != wgpu.BufferBindingTypeUndefined {
			if l, ok := layouts.resolve(typeName); ok {
				entry.Buffer.MinBindingSize = l.size
			}
		}

		desc := r.layouts[group]
		desc.Entries = append(desc.Entries, entry)
		r.layouts[group] = desc
		if r.varNames[group] == nil {
			r.varNames[group] = make(map[int]string)
		}
		r.varNames[group][binding] = name
	}
	for group, desc := range r.layouts {
		slices.SortFunc(desc.Entries, func(a, b wgpu.BindGroupLayoutEntry) int {
			return int(a.Binding) - int(b.Binding)
		})
		r.layouts[group] = desc
	}
	return r
}

func findEntryPoint(code string, shaderType ShaderType) string {
	stage, ok := stageNames[shaderType]
	if !ok {
		return ""
	}
	for _, m := range entryPointRegex.FindAllStringSubmatch(code, -1) {
		if m[1] == stage {
			return m[2]
		}
	}
	return ""
}

// findWorkgroupSize returns the @workgroup_size dimensions. Omitted dimensions are 1.
func findWorkgroupSize(code string) [3]uint32 {
	size := [3]uint32{1, 1, 1}
	m := workgroupSizeRegex.FindStringSubmatch(code)
	if m == nil {
		return size
	}
	for i := range 3 {
		if v, err := strconv.ParseUint(m[i+1], 10, 32); err == nil {
			size[i] = uint32(v)
		}
	}
	return size
}

// resourceEntry builds the layout entry for one declared resource. Float textures come out
// filterable; the shader downgrades height field bindings from their provider declarations.
func resourceEntry(binding uint32, visibility wgpu.ShaderStage, addressSpace, typeName string) wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{Binding: binding, Visibility: visibility}

	switch {
	case addressSpace == "uniform":
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
	case strings.HasPrefix(addressSpace, "storage"):
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		if strings.Contains(addressSpace, "read_write") {
			entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		}
	case typeName == "sampler":
		entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
	case typeName == "sampler_comparison":
		entry.Sampler.Type = wgpu.SamplerBindingTypeComparison
	case strings.HasPrefix(typeName, "texture_storage_"):
		base, params := splitTypeParams(typeName)
		entry.StorageTexture.ViewDimension = viewDimension(strings.TrimPrefix(base, "texture_storage_"))
		format, access, _ := strings.Cut(params, ",")
		entry.StorageTexture.Format = texelFormats[strings.TrimSpace(format)]
		entry.StorageTexture.Access = storageAccess[strings.TrimSpace(access)]
	case strings.HasPrefix(typeName, "texture_depth_"):
		dim := strings.TrimPrefix(typeName, "texture_depth_")
		entry.Texture.SampleType = wgpu.TextureSampleTypeDepth
		entry.Texture.Multisampled = strings.HasPrefix(dim, "multisampled_")
		entry.Texture.ViewDimension = viewDimension(strings.TrimPrefix(dim, "multisampled_"))
	case strings.HasPrefix(typeName, "texture_"):
		base, param := splitTypeParams(typeName)
		dim := strings.TrimPrefix(base, "texture_")
		entry.Texture.Multisampled = strings.HasPrefix(dim, "multisampled_")
		entry.Texture.ViewDimension = viewDimension(strings.TrimPrefix(dim, "multisampled_"))
		entry.Texture.SampleType = sampleTypes[param]
	}
	return entry
}

func viewDimension(dim string) wgpu.TextureViewDimension {
	switch dim {
	case "1d":
		return wgpu.TextureViewDimension1D
	case "2d":
		return wgpu.TextureViewDimension2D
	case "2d_array":
		return wgpu.TextureViewDimension2DArray
	case "3d":
		return wgpu.TextureViewDimension3D
	case "cube":
		return wgpu.TextureViewDimensionCube
	case "cube_array":
		return wgpu.TextureViewDimensionCubeArray
	}
	return 0
}

var sampleTypes = map[string]wgpu.TextureSampleType{
	"f32": wgpu.TextureSampleTypeFloat,
	"i32": wgpu.TextureSampleTypeSint,
	"u32": wgpu.TextureSampleTypeUint,
}

var storageAccess = map[string]wgpu.StorageTextureAccess{
	"read":       wgpu.StorageTextureAccessReadOnly,
	"write":      wgpu.StorageTextureAccessWriteOnly,
	"read_write": wgpu.StorageTextureAccessReadWrite,
}

// texelFormats lists the storage texel formats the kernels use or could reasonably switch to.
var texelFormats = map[string]wgpu.TextureFormat{
	"r32float":    wgpu.TextureFormatR32Float,
	"r32uint":     wgpu.TextureFormatR32Uint,
	"r32sint":     wgpu.TextureFormatR32Sint,
	"rg32float":   wgpu.TextureFormatRG32Float,
	"rgba8unorm":  wgpu.TextureFormatRGBA8Unorm,
	"bgra8unorm":  wgpu.TextureFormatBGRA8Unorm,
	"rgba16float": wgpu.TextureFormatRGBA16Float,
	"rgba32float": wgpu.TextureFormatRGBA32Float,
}

// splitTypeParams splits "texture_2d<f32>" into ("texture_2d", "f32").
func splitTypeParams(typeName string) (string, string) {
	base, params, ok := strings.Cut(typeName, "<")
	if !ok {
		return typeName, ""
	}
	return base, strings.TrimSpace(strings.TrimSuffix(params, ">"))
}

// typeLayout is the host-shareable size and alignment of a WGSL type.
type typeLayout struct {
	size  uint64
	align uint64
}

// layoutResolver computes WGSL type layouts, resolving struct members on demand.
type layoutResolver struct {
	bodies   map[string]string
	resolved map[string]typeLayout
	visiting map[string]bool
}

func newLayoutResolver(code string) *layoutResolver {
	r := &layoutResolver{
		bodies:   make(map[string]string),
		resolved: make(map[string]typeLayout),
		visiting: make(map[string]bool),
	}
	for _, m := range structRegex.FindAllStringSubmatch(code, -1) {
		r.bodies[m[1]] = m[2]
	}
	return r
}

// resolve returns the layout of typeName. A runtime-sized array reports one element stride,
// the smallest useful binding.
func (r *layoutResolver) resolve(typeName string) (typeLayout, bool) {
	typeName = strings.TrimSpace(typeName)
	if l, ok := scalarLayout(typeName); ok {
		return l, true
	}
	if l, ok := r.resolved[typeName]; ok {
		return l, true
	}

	base, params := splitTypeParams(typeName)
	switch {
	case base == "atomic":
		return scalarLayout(params)
	case len(base) == 4 && strings.HasPrefix(base, "vec"):
		return vectorLayout(base[3], params)
	case len(base) == 5 && strings.HasPrefix(base, "vec"):
		// vec2f, vec4u, vec3h shorthands.
		return vectorLayout(base[3], map[byte]string{'f': "f32", 'i': "i32", 'u': "u32", 'h': "f16"}[base[4]])
	case strings.HasPrefix(base, "mat") && len(base) == 6:
		cols, rows := uint64(base[3]-'0'), base[5]
		column, ok := vectorLayout(rows, params)
		if !ok || cols < 2 || cols > 4 {
			return typeLayout{}, false
		}
		return typeLayout{cols * alignUp(column.size, column.align), column.align}, true
	case base == "array":
		elemType, count, sized := splitArrayParams(params)
		elem, ok := r.resolve(elemType)
		if !ok {
			return typeLayout{}, false
		}
		stride := alignUp(elem.size, elem.align)
		if !sized {
			return typeLayout{stride, elem.align}, true
		}
		return typeLayout{count * stride, elem.align}, true
	}

	body, ok := r.bodies[typeName]
	if !ok || r.visiting[typeName] {
		return typeLayout{}, false
	}
	r.visiting[typeName] = true
	defer delete(r.visiting, typeName)

	var offset, align uint64 = 0, 1
	for _, member := range splitMembers(body) {
		_, memberType, ok := strings.Cut(member, ":")
		if !ok || strings.Contains(member, "@builtin") {
			continue
		}
		l, ok := r.resolve(memberType)
		if !ok {
			return typeLayout{}, false
		}
		offset = alignUp(offset, l.align) + l.size
		align = max(align, l.align)
	}
	l := typeLayout{alignUp(offset, align), align}
	r.resolved[typeName] = l
	return l, true
}

func scalarLayout(name string) (typeLayout, bool) {
	switch name {
	case "f32", "i32", "u32", "bool":
		return typeLayout{4, 4}, true
	case "f16":
		return typeLayout{2, 2}, true
	}
	return typeLayout{}, false
}

// vectorLayout lays out vecN<scalar>. vec3 aligns like vec4.
func vectorLayout(n byte, scalar string) (typeLayout, bool) {
	s, ok := scalarLayout(scalar)
	if !ok || n < '2' || n > '4' {
		return typeLayout{}, false
	}
	count := uint64(n - '0')
	alignCount := count
	if count == 3 {
		alignCount = 4
	}
	return typeLayout{count * s.size, alignCount * s.align}, true
}

// splitArrayParams splits "vec4<f32>, 4" into the element type and count.
func splitArrayParams(params string) (string, uint64, bool) {
	parts := splitMembers(params)
	if len(parts) < 2 {
		return strings.TrimSpace(params), 0, false
	}
	count, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return strings.TrimSpace(parts[0]), 0, false
	}
	return strings.TrimSpace(parts[0]), count, true
}

// splitMembers splits at commas outside angle brackets and drops empty parts.
func splitMembers(s string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) {
			switch s[i] {
			case '<':
				depth++
				continue
			case '>':
				depth = max(depth-1, 0)
				continue
			case ',':
				if depth > 0 {
					continue
				}
			default:
				continue
			}
		}
		if part := strings.TrimSpace(s[start:i]); part != "" {
			out = append(out, part)
		}
		start = i + 1
	}
	return out
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

// stripComments removes line comments and nested block comments.
func stripComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		switch {
		case strings.HasPrefix(source[i:], "/*"):
			depth++
			i++
		case depth > 0 && strings.HasPrefix(source[i:], "*/"):
			depth--
			i++
		case depth > 0:
		case strings.HasPrefix(source[i:], "//"):
			end := strings.IndexByte(source[i:], '\n')
			if end < 0 {
				return sb.String()
			}
			i += end - 1
		default:
			sb.WriteByte(source[i])
		}
	}
	return sb.String()
}
