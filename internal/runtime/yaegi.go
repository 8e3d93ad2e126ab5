package runtime

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"virtualds/internal/broker"
	"virtualds/internal/resolver"
)

// libImportPath is the import path under which the accessor package is
// exposed to callbacks, so user code reads lib.GetData("Dataset1") just as
// the classic callback contract spells it.
const libImportPath = "lib"

// DefaultAllowedImports is the stdlib allow-list for interpreted callbacks.
// Filesystem, network, process and unsafe packages are deliberately absent.
var DefaultAllowedImports = []string{
	"errors",
	"fmt",
	"math",
	"math/bits",
	"math/cmplx",
	"sort",
	"strconv",
	"strings",
}

// GoRuntime executes Go callbacks in a fresh yaegi interpreter per
// invocation. Each invocation gets its own interpreter with the accessor
// package closed over that materialization's execution context, so there is
// no ambient global state shared between runs.
type GoRuntime struct {
	allowed map[string]bool
}

var _ Runtime = (*GoRuntime)(nil)

// NewGoRuntime returns a Go callback runtime with the given import
// allow-list (DefaultAllowedImports when empty).
func NewGoRuntime(allowedImports []string) *GoRuntime {
	if len(allowedImports) == 0 {
		allowedImports = DefaultAllowedImports
	}
	allowed := make(map[string]bool, len(allowedImports)+1)
	for _, pkg := range allowedImports {
		allowed[pkg] = true
	}
	allowed[libImportPath] = true
	return &GoRuntime{allowed: allowed}
}

func (r *GoRuntime) Language() string { return "go" }

// Invoke validates the callback's imports, evaluates the source, and calls
// the entry function. Callback panics are recovered and reported as the
// failure cause. The entry function runs in its own goroutine; if ctx
// expires first the goroutine is left to finish on its own.
func (r *GoRuntime) Invoke(ctx context.Context, d *resolver.Descriptor, binding *broker.ExecutionContext) error {
	source := wrapSource(d.SourceText)
	if err := r.validateImports(source); err != nil {
		return err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	if err := i.Use(interp.Exports{
		libImportPath + "/" + libImportPath: {
			"GetData": reflect.ValueOf(binding.GetData),
			"GetDims": reflect.ValueOf(binding.GetDims),
		},
	}); err != nil {
		return fmt.Errorf("failed to export accessor package: %w", err)
	}

	if _, err := i.Eval(source); err != nil {
		return fmt.Errorf("callback evaluation failed: %w", err)
	}

	entryVal, err := i.Eval("main." + d.EntryPoint)
	if err != nil {
		return fmt.Errorf("entry function %s not found: %w", d.EntryPoint, err)
	}
	entry, ok := entryVal.Interface().(func())
	if !ok {
		return fmt.Errorf("entry function %s has signature %T, want func()", d.EntryPoint, entryVal.Interface())
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				if p, ok := rec.(interp.Panic); ok {
					rec = p.Value
				}
				if uaErr, ok := rec.(broker.UnknownArrayError); ok {
					done <- uaErr
					return
				}
				done <- fmt.Errorf("callback panicked: %v", rec)
			}
		}()
		entry()
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validateImports parses the import set and rejects anything outside the
// allow-list before a single callback statement runs.
func (r *GoRuntime) validateImports(source string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "udf.go", source, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("callback source does not parse: %w", err)
	}

	var forbidden []string
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || !r.allowed[path] {
			forbidden = append(forbidden, imp.Path.Value)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("%w: %s", ErrForbiddenImport, strings.Join(forbidden, ", "))
	}
	return nil
}

func wrapSource(source string) string {
	if strings.Contains(source, "package ") {
		return source
	}
	return "package main\n\n" + source
}
