// pre_processor.go implements the drizzle WGSL shader pre-processor. It scans shader
// source code for @drizzle: annotations, replaces them with generated WGSL declarations,
// injected struct source or workgroup attributes, and collects a declarations list used
// to wire GPU resources to bind groups.
//
// The pre-processor maintains two registries:
//   - structRegistry: maps struct keys to WGSL struct sources and their type names. It is
//     filled by the packages that own each GPU type through WithStruct, so the shader
//     package never imports them.
//   - addressSpaceRegistry: maps address space argument keys to WGSL var<> syntax strings.
package shader

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoWorkgroupSize is returned when a shader uses the workgroup annotation but no size was configured.
var ErrNoWorkgroupSize = errors.New("shader: workgroup annotation used without a configured workgroup size")

// registryEntry pairs a WGSL struct source string with the WGSL type name used in
// generated @group/@binding declarations.
type registryEntry struct {
	// Source is the raw WGSL struct definition text injected by @drizzle:include.
	Source string

	// Type is the WGSL type name emitted in @drizzle:group declarations (e.g. "SimParams").
	Type string
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	// structRegistry maps struct type argument keys to their WGSL source and type name.
	structRegistry map[AnnotationArg]registryEntry

	// addressSpaceRegistry maps address space argument keys to WGSL var<> syntax strings.
	addressSpaceRegistry map[AnnotationArg]string

	// workgroupSize is emitted for @drizzle:workgroup. Zero means unset.
	workgroupSize [3]uint32

	// declarations accumulates group and provider annotations during a Process call.
	declarations []Annotation
}

// PreProcessor processes raw WGSL shader source code containing @drizzle: annotations,
// replacing them with generated WGSL while collecting a declarations list for resource wiring.
type PreProcessor interface {
	// Process takes raw WGSL shader source code and replaces @drizzle: annotations with their
	// corresponding WGSL output. The declarations list is reset at the start of each call.
	//
	// Parameters:
	//   - source: the raw WGSL shader source code containing annotations to be processed
	//
	// Returns:
	//   - string: the processed WGSL shader source code with annotations replaced
	//   - error: an error if any annotation is malformed or references an unknown struct
	Process(source string) (string, error)

	// Declarations returns the group and provider annotations collected during the most
	// recent call to Process, in source order.
	//
	// Returns:
	//   - []Annotation: the declarations collected during the last Process call
	Declarations() []Annotation
}

var _ PreProcessor = &preProcessor{}

// PreProcessorOption configures a PreProcessor.
type PreProcessorOption func(*preProcessor)

// WithStruct registers a WGSL struct under key so it can be used by include and group annotations.
//
// Parameters:
//   - key: the annotation argument that names the struct (e.g. "droplet")
//   - source: the WGSL struct definition
//   - typeName: the WGSL type name declared by source
//
// Returns:
//   - PreProcessorOption: a function that registers the struct
func WithStruct(key AnnotationArg, source, typeName string) PreProcessorOption {
	return func(p *preProcessor) {
		p.structRegistry[key] = registryEntry{Source: source, Type: typeName}
	}
}

// WithWorkgroupSize sets the dimensions emitted for @drizzle:workgroup.
//
// Parameters:
//   - size: workgroup size as [x, y, z]
//
// Returns:
//   - PreProcessorOption: a function that sets the workgroup size
func WithWorkgroupSize(size [3]uint32) PreProcessorOption {
	return func(p *preProcessor) {
		p.workgroupSize = size
	}
}

// NewPreProcessor creates a new PreProcessor with the address space mappings populated
// and the given options applied.
//
// Parameters:
//   - options: struct registrations and the workgroup size
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(options ...PreProcessorOption) PreProcessor {
	p := &preProcessor{
		structRegistry: make(map[AnnotationArg]registryEntry),
		addressSpaceRegistry: map[AnnotationArg]string{
			annotationArgStorageTypeUniform:   "var<uniform>",
			annotationArgStorageTypeRead:      "var<storage, read>",
			annotationArgStorageTypeReadWrite: "var<storage, read_write>",
		},
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case annotationTypeInclude:
			entry, ok := p.structRegistry[a.Args[0]]
			if !ok {
				return "", fmt.Errorf("line %d: unknown struct type %q in @drizzle:include", i+1, a.Args[0])
			}
			out = append(out, entry.Source)
		case AnnotationTypeBindingGroup:
			wgslType, err := p.resolveType(a.Args[2])
			if err != nil {
				return "", fmt.Errorf("line %d: %w", i+1, err)
			}
			addrSpace := p.addressSpaceRegistry[a.Args[0]]
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;", *a.Group, *a.Binding, addrSpace, a.Args[1], wgslType))
			p.declarations = append(p.declarations, *a)
		case AnnotationTypeProvider:
			p.declarations = append(p.declarations, *a)
		case annotationTypeWorkgroup:
			if p.workgroupSize[0] == 0 {
				return "", fmt.Errorf("line %d: %w", i+1, ErrNoWorkgroupSize)
			}
			z := max(p.workgroupSize[2], 1)
			y := max(p.workgroupSize[1], 1)
			out = append(out, fmt.Sprintf("@workgroup_size(%d, %d, %d)", p.workgroupSize[0], y, z))
		default:
			return "", fmt.Errorf("line %d: unknown annotation type %q", i+1, a.Type)
		}
	}
	return strings.Join(out, "\n"), nil
}

// resolveType maps a struct key, optionally wrapped in array<>, to its WGSL type name.
func (p *preProcessor) resolveType(arg AnnotationArg) (string, error) {
	if inner, ok := strings.CutPrefix(string(arg), "array<"); ok {
		inner = strings.TrimSuffix(inner, ">")
		entry, ok := p.structRegistry[AnnotationArg(inner)]
		if !ok {
			return "", fmt.Errorf("unknown array element type %q in @drizzle:group", inner)
		}
		return fmt.Sprintf("array<%s>", entry.Type), nil
	}
	entry, ok := p.structRegistry[arg]
	if !ok {
		return "", fmt.Errorf("unknown struct type %q in @drizzle:group", arg)
	}
	return entry.Type, nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}
