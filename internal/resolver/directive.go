package resolver

import (
	"fmt"
	"strings"

	"virtualds/internal/array"
)

// declaration is the parsed form of the optional "udf:" directive comments.
// The directive lets a callback declare what resolution and inference would
// otherwise derive, mirroring the explicit name:shape:type registration the
// original tooling accepts:
//
//	// udf: output VirtualDataset shape=500x500 type=float64
//
// Any subset of the fields may appear, across one or several directives.
type declaration struct {
	output string
	shape  array.Shape
	typ    array.ElementType
}

func parseDirectives(directives []string) (declaration, error) {
	var decl declaration
	for _, raw := range directives {
		fields := strings.Fields(raw)
		for i := 0; i < len(fields); i++ {
			f := fields[i]
			switch {
			case f == "output":
				if i+1 >= len(fields) {
					return decl, fmt.Errorf("%w: %q: output needs a name", ErrBadDirective, raw)
				}
				i++
				decl.output = fields[i]
			case strings.HasPrefix(f, "shape="):
				shape, err := array.ParseShape(strings.TrimPrefix(f, "shape="))
				if err != nil {
					return decl, fmt.Errorf("%w: %q: %v", ErrBadDirective, raw, err)
				}
				decl.shape = shape
			case strings.HasPrefix(f, "type="):
				t, err := array.ParseElementType(strings.TrimPrefix(f, "type="))
				if err != nil {
					return decl, fmt.Errorf("%w: %q: %v", ErrBadDirective, raw, err)
				}
				decl.typ = t
			default:
				return decl, fmt.Errorf("%w: %q: unknown field %q", ErrBadDirective, raw, f)
			}
		}
	}
	return decl, nil
}

// directivePayload extracts the payload from one comment line if it is a
// udf directive, shared by all frontends.
func directivePayload(comment string) (string, bool) {
	trimmed := strings.TrimSpace(comment)
	if !strings.HasPrefix(trimmed, "udf:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "udf:")), true
}
