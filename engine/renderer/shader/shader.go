package shader

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderType is the pipeline stage a shader's entry point belongs to.
type ShaderType int

const (
	ShaderTypeCompute ShaderType = iota
	ShaderTypeVertex
	ShaderTypeFragment
)

// ErrNoEntryPoint is returned when a shader source has no entry point for its declared type.
var ErrNoEntryPoint = errors.New("shader: no entry point for shader type")

// Shader is pre-processed WGSL plus what pipeline creation needs from it: the entry point,
// the bind group layouts and, for kernels, the workgroup size.
type Shader interface {
	// Key names the shader in labels and errors.
	Key() string

	// Source returns the WGSL after annotation expansion.
	Source() string

	// BindGroupLayoutDescriptor returns the reflected layout of group, or an empty descriptor.
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// BindGroupLayoutDescriptors returns every reflected layout keyed by group.
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// BindGroupFromVarName returns the binding of the resource variable varName in group.
	BindGroupFromVarName(group int, varName string) (int, bool)

	EntryPoint() string

	// WorkgroupSize is zero for render stages. Dimensions left out of @workgroup_size are 1.
	WorkgroupSize() [3]uint32

	// Module returns the descriptor CreateShaderModule takes.
	Module() *wgpu.ShaderModuleDescriptor

	ShaderType() ShaderType

	// Declarations returns the group and provider annotations in source order.
	Declarations() []Annotation

	// ProviderBinding finds the binding annotated for a provider identity and role.
	//
	// Parameters:
	//   - identity: the provider identity (e.g. AnnotationArgHeightField)
	//   - role: the binding role, or empty to match a declaration without a role
	//
	// Returns:
	//   - group: the group index of the declaration
	//   - binding: the binding index of the declaration
	//   - ok: false if no declaration matched
	ProviderBinding(identity, role AnnotationArg) (group, binding int, ok bool)
}

type shader struct {
	key        string
	stage      ShaderType
	source     string
	entryPoint string
	workgroup  [3]uint32
	module     *wgpu.ShaderModuleDescriptor

	// layouts and varNames are keyed by group.
	layouts  map[int]wgpu.BindGroupLayoutDescriptor
	varNames map[int]map[int]string

	preprocessor PreProcessor
}

var _ Shader = &shader{}

// NewShader pre-processes and parses WGSL source into a Shader.
//
// Parameters:
//   - key: a unique identifier for the shader, used for caching and lookups
//   - shaderType: the type of shader (vertex, fragment or compute)
//   - source: the raw WGSL source, usually embedded from an assets directory
//   - options: pre-processor options such as struct registrations and workgroup size
//
// Returns:
//   - Shader: the parsed shader
//   - error: an error if pre-processing fails or the entry point is missing
func NewShader(key string, shaderType ShaderType, source string, options ...PreProcessorOption) (Shader, error) {
	if source == "" {
		return nil, fmt.Errorf("shader %s: empty source", key)
	}
	s := &shader{
		key:          key,
		stage:        shaderType,
		preprocessor: NewPreProcessor(options...),
	}
	if err := s.parseSource(source); err != nil {
		return nil, fmt.Errorf("shader %s: %w", key, err)
	}
	return s, nil
}

func (s *shader) Key() string { return s.key }
func (s *shader) Source() string { return s.source }
func (s *shader) EntryPoint() string { return s.entryPoint }
func (s *shader) WorkgroupSize() [3]uint32 { return s.workgroup }
func (s *shader) Module() *wgpu.ShaderModuleDescriptor { return s.module }
func (s *shader) ShaderType() ShaderType { return s.stage }
func (s *shader) Declarations() []Annotation { return s.preprocessor.Declarations() }

func (s *shader) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	return s.layouts[group]
}

func (s *shader) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	return s.layouts
}

func (s *shader) BindGroupFromVarName(group int, varName string) (int, bool) {
	for binding, name := range s.varNames[group] {
		if name == varName {
			return binding, true
		}
	}
	return -1, false
}

func (s *shader) ProviderBinding(identity, role AnnotationArg) (int, int, bool) {
	for _, d := range s.preprocessor.Declarations() {
		if d.Type != AnnotationTypeProvider || d.Args[0] != identity {
			continue
		}
		var declRole AnnotationArg
		if len(d.Args) > 1 {
			declRole = d.Args[1]
		}
		if declRole == role {
			return *d.Group, *d.Binding, true
		}
	}
	return -1, -1, false
}

// parseSource runs the pre-processor, builds the shader module descriptor, and extracts the
// entry point, workgroup size and bind group layouts.
func (s *shader) parseSource(raw string) error {
	source, err := s.preprocessor.Process(raw)
	if err != nil {
		return err
	}
	r := reflectModule(source, s.stage)
	if r.entryPoint == "" {
		return ErrNoEntryPoint
	}
	applyUnfilterableHeightFields(r.layouts, s.preprocessor.Declarations())

	s.source = source
	s.entryPoint, s.workgroup = r.entryPoint, r.workgroupSize
	s.layouts, s.varNames = r.layouts, r.varNames
	s.module = &wgpu.ShaderModuleDescriptor{
		Label:          s.key,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	}
	return nil
}

// applyUnfilterableHeightFields switches sampled height field bindings to an unfilterable
// float sample type. WGSL cannot express filterability in the texture type itself.
func applyUnfilterableHeightFields(descriptors map[int]wgpu.BindGroupLayoutDescriptor, declarations []Annotation) {
	for _, d := range declarations {
		if d.Type != AnnotationTypeProvider || d.Args[0] != AnnotationArgHeightField {
			continue
		}
		desc, ok := descriptors[*d.Group]
		if !ok {
			continue
		}
		for i := range desc.Entries {
			entry := &desc.Entries[i]
			if int(entry.Binding) == *d.Binding && entry.Texture.SampleType == wgpu.TextureSampleTypeFloat {
				entry.Texture.SampleType = wgpu.TextureSampleTypeUnfilterableFloat
			}
		}
	}
}
