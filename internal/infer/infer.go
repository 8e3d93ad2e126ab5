// Package infer derives a virtual array's output shape and element type
// from its resolved descriptor and the container metadata of its inputs.
//
// The rule is deliberately narrow: every input must share one shape and one
// element type, and the output takes both. There is no broadcasting and no
// type promotion; anything else fails explicitly rather than guessing.
package infer

import (
	"errors"
	"fmt"

	"virtualds/internal/array"
	"virtualds/internal/resolver"
)

var (
	// ErrIncompatibleShapes means the referenced inputs do not share one shape.
	ErrIncompatibleShapes = errors.New("input shapes are incompatible")

	// ErrIncompatibleTypes means the referenced inputs do not share one
	// element type.
	ErrIncompatibleTypes = errors.New("input element types are incompatible")

	// ErrTypeShapeMismatch means an explicit declaration disagrees with the
	// metadata already registered for the virtual array.
	ErrTypeShapeMismatch = errors.New("declared shape/type mismatches registration")

	// ErrMissingMetadata means an input name has no metadata entry.
	ErrMissingMetadata = errors.New("missing input metadata")
)

// Metadata is the shape and element type of one stored array.
type Metadata struct {
	Shape array.Shape
	Type  array.ElementType
}

// Registered carries the container's own declared metadata for the virtual
// array, when any; inference validates explicit declarations against it.
type Registered struct {
	Shape array.Shape
	Type  array.ElementType
}

// Infer resolves the output shape and element type for a descriptor given
// the metadata of its input arrays. Declared shape/type are used verbatim
// (validated against reg when present); otherwise both are derived from the
// inputs under the same-shape same-type rule.
func Infer(d *resolver.Descriptor, inputs map[string]Metadata, reg *Registered) (array.Shape, array.ElementType, error) {
	shape := d.DeclaredShape.Clone()
	typ := d.DeclaredType

	if shape == nil || !typ.Valid() {
		common, commonType, err := commonInputMetadata(d, inputs)
		if err != nil {
			return nil, array.TypeInvalid, err
		}
		if shape == nil {
			shape = common
		}
		if !typ.Valid() {
			typ = commonType
		}
	}

	if reg != nil {
		if reg.Shape != nil && !reg.Shape.Equal(shape) {
			return nil, array.TypeInvalid, fmt.Errorf("%w: %s declared %s, registered %s",
				ErrTypeShapeMismatch, d.OutputName, shape, reg.Shape)
		}
		if reg.Type.Valid() && reg.Type != typ {
			return nil, array.TypeInvalid, fmt.Errorf("%w: %s declared %s, registered %s",
				ErrTypeShapeMismatch, d.OutputName, typ, reg.Type)
		}
	}

	if err := shape.Validate(); err != nil {
		return nil, array.TypeInvalid, err
	}
	return shape, typ, nil
}

func commonInputMetadata(d *resolver.Descriptor, inputs map[string]Metadata) (array.Shape, array.ElementType, error) {
	var (
		shape array.Shape
		typ   array.ElementType
		first string
	)

	for _, name := range d.InputNames {
		meta, ok := inputs[name]
		if !ok {
			return nil, array.TypeInvalid, fmt.Errorf("%w: %s", ErrMissingMetadata, name)
		}
		if shape == nil {
			shape, typ, first = meta.Shape.Clone(), meta.Type, name
			continue
		}
		if !shape.Equal(meta.Shape) {
			return nil, array.TypeInvalid, fmt.Errorf("%w: %s is %s, %s is %s",
				ErrIncompatibleShapes, first, shape, name, meta.Shape)
		}
		if typ != meta.Type {
			return nil, array.TypeInvalid, fmt.Errorf("%w: %s is %s, %s is %s",
				ErrIncompatibleTypes, first, typ, name, meta.Type)
		}
	}

	if shape == nil {
		// No inputs: resolution guarantees a declared shape and type, so
		// reaching here is a programmer error.
		return nil, array.TypeInvalid, fmt.Errorf("%w: descriptor has no inputs", ErrMissingMetadata)
	}
	return shape, typ, nil
}
