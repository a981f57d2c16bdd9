package shader

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// annotationPrefix starts every annotation, written as a line comment: //@drizzle:<type> <args>
const annotationPrefix = "@drizzle:"

// AnnotationType is the word after the prefix.
type AnnotationType string

const (
	// annotationTypeInclude injects the WGSL source of a registered struct definition
	// into the shader at the annotation site. Struct sources are registered by the
	// package that owns the matching Go GPU type, via WithStruct.
	//
	// Syntax: //@drizzle:include <struct_type>
	//
	// Example: //@drizzle:include sim_params
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a WGSL @group/@binding variable declaration
	// for a registered struct type and records it in the declarations list.
	//
	// Syntax: //@drizzle:group <group> <binding> <address_space> <var_name> <type>
	//
	// Example: //@drizzle:group 0 2 storage_uniform params sim_params
	AnnotationTypeBindingGroup AnnotationType = "group"

	// AnnotationTypeProvider registers a resource provider identity for a group and binding
	// without generating any WGSL output. The binding declaration stays hand-written directly
	// below the annotation. Used for textures and samplers, which have no registered struct.
	//
	// Syntax:
	//   //@drizzle:provider <group> <binding> <provider_identity>
	//   //@drizzle:provider <group> <binding> <provider_identity> <binding_role>
	//
	// Examples:
	//   //@drizzle:provider 1 0 height_field current
	//   //@drizzle:provider 0 0 capture mirror
	AnnotationTypeProvider AnnotationType = "provider"

	// annotationTypeWorkgroup is replaced with an @workgroup_size(x, y, z) attribute built
	// from the workgroup size passed to the PreProcessor. It must sit on the line directly
	// above the @compute entry point.
	//
	// Syntax: //@drizzle:workgroup
	annotationTypeWorkgroup AnnotationType = "workgroup"
)

// Annotation is one parsed annotation line.
type Annotation struct {
	Type AnnotationType

	// Args after the group and binding numbers:
	//   - include:   struct key
	//   - group:     address space, var name, struct key
	//   - provider:  identity, optional role
	//   - workgroup: none
	Args []AnnotationArg

	// Line is 1-based.
	Line int

	// Group and Binding are set for group and provider annotations only.
	Group   *int
	Binding *int
}

// AnnotationArg is one annotation argument. Address spaces, provider identities and binding
// roles come from the fixed sets below; struct keys are whatever WithStruct registered.
type AnnotationArg string

const (
	annotationArgStorageTypeUniform   AnnotationArg = "storage_uniform"    // var<uniform>
	annotationArgStorageTypeRead      AnnotationArg = "storage_read"       // var<storage, read>
	annotationArgStorageTypeReadWrite AnnotationArg = "storage_read_write" // var<storage, read_write>
)

const (
	// AnnotationArgHeightField identifies a binding of one of the ripple height field textures.
	// Sampled bindings with this identity are laid out as unfilterable float, since r32float
	// cannot be filtered without an optional device feature.
	AnnotationArgHeightField AnnotationArg = "height_field"

	// AnnotationArgCapture identifies the mirrored screen capture texture and its sampler.
	AnnotationArgCapture AnnotationArg = "capture"

	// AnnotationArgViewport identifies the compositor's viewport uniform group.
	AnnotationArgViewport AnnotationArg = "viewport"
)

const (
	// AnnotationArgCurrent is the height buffer read as the current wave state.
	AnnotationArgCurrent AnnotationArg = "current"

	// AnnotationArgNext is the height buffer written with the next wave state.
	AnnotationArgNext AnnotationArg = "next"

	// AnnotationArgMirror is the captured screen texture.
	AnnotationArgMirror AnnotationArg = "mirror"

	// AnnotationArgSampler is a filtering sampler paired with a texture in the same group.
	AnnotationArgSampler AnnotationArg = "sampler"
)

// ErrBadAnnotation is wrapped by every annotation syntax error.
var ErrBadAnnotation = errors.New("shader: malformed @drizzle annotation")

var (
	addressSpaces      = []AnnotationArg{annotationArgStorageTypeUniform, annotationArgStorageTypeRead, annotationArgStorageTypeReadWrite}
	providerIdentities = []AnnotationArg{AnnotationArgHeightField, AnnotationArgCapture, AnnotationArgViewport}
	bindingRoles       = []AnnotationArg{AnnotationArgCurrent, AnnotationArgNext, AnnotationArgMirror, AnnotationArgSampler}
)

// annotationArity is the accepted argument count range per annotation type, excluding the type itself.
var annotationArity = map[AnnotationType][2]int{
	annotationTypeInclude:      {1, 1},
	AnnotationTypeBindingGroup: {5, 5},
	AnnotationTypeProvider:     {3, 4},
	annotationTypeWorkgroup:    {0, 0},
}

// parseAnnotation parses one WGSL line. Lines without the prefix return nil, nil.
// Struct keys are not checked here; the PreProcessor resolves them against its registry.
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	_, after, ok := strings.Cut(strings.TrimSpace(line), annotationPrefix)
	if !ok {
		return nil, nil
	}
	bad := func(format string, v ...any) error {
		return fmt.Errorf("line %d: %w: %s", lineNum, ErrBadAnnotation, fmt.Sprintf(format, v...))
	}

	fields := strings.Fields(after)
	if len(fields) == 0 {
		return nil, bad("no annotation type")
	}
	kind, args := AnnotationType(fields[0]), fields[1:]
	arity, known := annotationArity[kind]
	if !known {
		return nil, bad("unknown type %q", kind)
	}
	if len(args) < arity[0] || len(args) > arity[1] {
		return nil, bad("%s takes %d to %d arguments, got %d", kind, arity[0], arity[1], len(args))
	}

	a := &Annotation{Type: kind, Line: lineNum}
	for _, arg := range args {
		a.Args = append(a.Args, AnnotationArg(arg))
	}
	if kind != AnnotationTypeBindingGroup && kind != AnnotationTypeProvider {
		return a, nil
	}

	group, err := strconv.Atoi(args[0])
	if err != nil || group < 0 {
		return nil, bad("group %q is not a non-negative integer", args[0])
	}
	binding, err := strconv.Atoi(args[1])
	if err != nil || binding < 0 {
		return nil, bad("binding %q is not a non-negative integer", args[1])
	}
	a.Group, a.Binding = &group, &binding
	a.Args = a.Args[2:]

	if kind == AnnotationTypeBindingGroup {
		if !slices.Contains(addressSpaces, a.Args[0]) {
			return nil, bad("unknown address space %q", a.Args[0])
		}
		return a, nil
	}
	if !slices.Contains(providerIdentities, a.Args[0]) {
		return nil, bad("unknown provider identity %q", a.Args[0])
	}
	if len(a.Args) == 2 && !slices.Contains(bindingRoles, a.Args[1]) {
		return nil, bad("unknown binding role %q", a.Args[1])
	}
	return a, nil
}
