// Package resolver performs the static analysis pass over callback source:
// it extracts every accessor call site, classifies referenced array names
// into inputs and the single output, and captures explicit shape/type
// declarations. No callback code is executed during resolution.
//
// The work is split in two phases so the classifier is independent of any
// source language: a Frontend turns source text into accessor call sites,
// and Resolve applies the language-neutral classification policy to them.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"virtualds/internal/array"
)

// Accessor identifies which of the two recognized accessor forms a call
// site used.
type Accessor int

const (
	// AccessData is a getData-style call: the array's flat cell buffer.
	AccessData Accessor = iota
	// AccessDims is a getDims-style call: the array's shape.
	AccessDims
)

func (a Accessor) String() string {
	if a == AccessDims {
		return "dims"
	}
	return "data"
}

// Call is one accessor call site found in callback source.
type Call struct {
	Accessor Accessor
	Name     string // literal name argument; empty when Dynamic
	Dynamic  bool   // name argument was not a literal
	Line     int
}

// Scan is a frontend's raw view of one callback source.
type Scan struct {
	Calls      []Call
	EntryPoint string   // name of the callback's entry function
	Directives []string // payloads of "udf:" declaration comments
}

// Frontend parses one source language into accessor call sites.
type Frontend interface {
	// Language is the identifier used to select this frontend, e.g. "go".
	Language() string
	// Extensions lists source file extensions this frontend handles.
	Extensions() []string
	// Scan statically extracts accessor call sites, the entry point and
	// declaration directives from source text.
	Scan(source string) (*Scan, error)
}

// Descriptor is the immutable result of resolving one callback source.
type Descriptor struct {
	SourceText    string
	Language      string
	EntryPoint    string
	InputNames    []string // sorted, without the output
	OutputName    string
	DeclaredShape array.Shape       // nil when not declared
	DeclaredType  array.ElementType // TypeInvalid when not declared
}

// ShapeDeclared reports whether the callback declared its output shape.
func (d *Descriptor) ShapeDeclared() bool { return d.DeclaredShape != nil }

// TypeDeclared reports whether the callback declared its output type.
func (d *Descriptor) TypeDeclared() bool { return d.DeclaredType.Valid() }

// Resolver holds the registered frontends.
type Resolver struct {
	frontends map[string]Frontend
}

// New returns a resolver with the given frontends registered.
func New(frontends ...Frontend) *Resolver {
	r := &Resolver{frontends: map[string]Frontend{}}
	for _, f := range frontends {
		r.frontends[f.Language()] = f
	}
	return r
}

// Default returns a resolver with every built-in frontend registered.
func Default() *Resolver {
	return New(NewGoFrontend(), NewPythonFrontend())
}

// Languages lists the registered frontend languages, sorted.
func (r *Resolver) Languages() []string {
	out := make([]string, 0, len(r.frontends))
	for lang := range r.frontends {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// ForExtension returns the frontend handling a source file extension.
func (r *Resolver) ForExtension(ext string) (Frontend, bool) {
	for _, f := range r.frontends {
		for _, e := range f.Extensions() {
			if e == ext {
				return f, true
			}
		}
	}
	return nil, false
}

// Resolve scans source text in the given language and classifies every
// referenced array name.
//
// Classification policy: a name queried through both accessor forms (its
// data buffer and its shape) is the output; names read only for data are
// pure inputs. Zero dual-accessed names is ErrNoOutputFound, more than one
// is ErrAmbiguousOutput, and any non-literal name argument is
// ErrDynamicName. A declaration directive may pin the output name, shape
// and element type explicitly, in which case the pinned name wins over the
// dual-accessor rule.
func (r *Resolver) Resolve(source, language string) (*Descriptor, error) {
	frontend, ok := r.frontends[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnsupportedLanguage, language, strings.Join(r.Languages(), ", "))
	}

	scan, err := frontend.Scan(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	return classify(scan, source, language)
}

func classify(scan *Scan, source, language string) (*Descriptor, error) {
	data := map[string]struct{}{}
	dims := map[string]struct{}{}
	referenced := map[string]struct{}{}

	for _, c := range scan.Calls {
		if c.Dynamic {
			return nil, fmt.Errorf("%w: %s accessor at line %d takes a computed name", ErrDynamicName, c.Accessor, c.Line)
		}
		referenced[c.Name] = struct{}{}
		switch c.Accessor {
		case AccessData:
			data[c.Name] = struct{}{}
		case AccessDims:
			dims[c.Name] = struct{}{}
		}
	}

	decl, err := parseDirectives(scan.Directives)
	if err != nil {
		return nil, err
	}

	output := decl.output
	if output == "" {
		var candidates []string
		for name := range data {
			if _, ok := dims[name]; ok {
				candidates = append(candidates, name)
			}
		}
		sort.Strings(candidates)

		switch len(candidates) {
		case 0:
			return nil, fmt.Errorf("%w: no name is queried for both data and dims", ErrNoOutputFound)
		case 1:
			output = candidates[0]
		default:
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousOutput, strings.Join(candidates, ", "))
		}
	}

	inputs := make([]string, 0, len(referenced))
	for name := range referenced {
		if name != output {
			inputs = append(inputs, name)
		}
	}
	sort.Strings(inputs)

	if len(inputs) == 0 {
		// A callback reading nothing has no inputs to infer from; it must
		// declare shape and type explicitly.
		if decl.shape == nil || !decl.typ.Valid() {
			return nil, fmt.Errorf("%w: %s needs a declared shape and type", ErrNoInputs, output)
		}
	}

	return &Descriptor{
		SourceText:    source,
		Language:      language,
		EntryPoint:    scan.EntryPoint,
		InputNames:    inputs,
		OutputName:    output,
		DeclaredShape: decl.shape,
		DeclaredType:  decl.typ,
	}, nil
}
