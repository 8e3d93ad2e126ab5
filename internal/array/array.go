// Package array defines the core array model shared by every stage of the
// virtual-dataset pipeline: element types, shapes, and handles over
// contiguous row-major buffers.
package array

import (
	"fmt"
	"strconv"
	"strings"
)

// ElementType identifies the numeric cell type of an array.
type ElementType int

const (
	TypeInvalid ElementType = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
)

var typeNames = map[ElementType]string{
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
}

func (t ElementType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ElementType(%d)", int(t))
}

// Size returns the width of one cell in bytes.
func (t ElementType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether t is one of the supported element types.
func (t ElementType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseElementType parses a type name such as "float64".
func ParseElementType(s string) (ElementType, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeInvalid, fmt.Errorf("unsupported element type %q", s)
}

// Shape is an ordered sequence of positive dimension extents.
type Shape []int

// Validate checks that the shape is non-empty with positive extents.
func (s Shape) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("empty shape")
	}
	for i, d := range s {
		if d <= 0 {
			return fmt.Errorf("shape dimension %d is %d, want > 0", i, d)
		}
	}
	return nil
}

// Elems returns the total cell count, the product of all extents.
func (s Shape) Elems() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether two shapes have identical rank and extents.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, "x")
}

// ParseShape parses a shape literal such as "500x500".
func ParseShape(s string) (Shape, error) {
	parts := strings.Split(s, "x")
	shape := make(Shape, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid shape %q: %w", s, err)
		}
		shape = append(shape, d)
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape %q: %w", s, err)
	}
	return shape, nil
}

// Handle is a named, typed, shaped array over a contiguous little-endian
// row-major buffer. Stored arrays are owned by the store; an in-flight
// output handle is owned by the buffer broker until committed.
type Handle struct {
	Name   string
	Shape  Shape
	Type   ElementType
	Buffer []byte
}

// Validate enforces the handle invariant: the buffer holds exactly
// Shape.Elems() cells of Type.
func (h *Handle) Validate() error {
	if err := h.Shape.Validate(); err != nil {
		return fmt.Errorf("array %q: %w", h.Name, err)
	}
	if !h.Type.Valid() {
		return fmt.Errorf("array %q: invalid element type", h.Name)
	}
	if want := h.Shape.Elems() * h.Type.Size(); len(h.Buffer) != want {
		return fmt.Errorf("array %q: buffer is %d bytes, want %d", h.Name, len(h.Buffer), want)
	}
	return nil
}

// Clone returns a deep copy of the handle.
func (h *Handle) Clone() *Handle {
	buf := make([]byte, len(h.Buffer))
	copy(buf, h.Buffer)
	return &Handle{Name: h.Name, Shape: h.Shape.Clone(), Type: h.Type, Buffer: buf}
}
