package resolver

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// GoFrontend extracts accessor call sites from Go callback source using the
// standard parser. It recognizes calls of the form lib.GetData("Name") and
// lib.GetDims("Name") regardless of the package identifier on the left, as
// well as bare GetData/GetDims calls.
type GoFrontend struct{}

// NewGoFrontend returns the Go source frontend.
func NewGoFrontend() *GoFrontend { return &GoFrontend{} }

func (f *GoFrontend) Language() string { return "go" }

func (f *GoFrontend) Extensions() []string { return []string{".go"} }

// Scan parses the source (wrapping it in a package clause when the author
// omitted one) and walks every call expression.
func (f *GoFrontend) Scan(source string) (*Scan, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "udf.go", source, parser.ParseComments)
	if err != nil && !strings.Contains(source, "package ") {
		wrapped := "package main\n\n" + source
		fset = token.NewFileSet()
		file, err = parser.ParseFile(fset, "udf.go", wrapped, parser.ParseComments)
	}
	if err != nil {
		return nil, err
	}

	scan := &Scan{}

	for _, group := range file.Comments {
		for _, c := range group.List {
			text := strings.TrimPrefix(strings.TrimPrefix(c.Text, "//"), "/*")
			text = strings.TrimSuffix(text, "*/")
			if payload, ok := directivePayload(text); ok {
				scan.Directives = append(scan.Directives, payload)
			}
		}
	}

	for _, d := range file.Decls {
		fn, ok := d.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || fn.Name.Name == "init" {
			continue
		}
		if fn.Type.Params.NumFields() == 0 && scan.EntryPoint == "" {
			scan.EntryPoint = fn.Name.Name
		}
	}
	if scan.EntryPoint == "" {
		return nil, fmt.Errorf("%w: want a top-level niladic function", ErrNoEntryPoint)
	}

	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		accessor, ok := accessorForCallee(call.Fun)
		if !ok {
			return true
		}

		c := Call{Accessor: accessor, Line: fset.Position(call.Pos()).Line}
		if len(call.Args) != 1 {
			c.Dynamic = true
		} else if lit, ok := call.Args[0].(*ast.BasicLit); ok && lit.Kind == token.STRING {
			name, err := strconv.Unquote(lit.Value)
			if err != nil {
				c.Dynamic = true
			} else {
				c.Name = name
			}
		} else {
			c.Dynamic = true
		}
		scan.Calls = append(scan.Calls, c)
		return true
	})

	return scan, nil
}

func accessorForCallee(fun ast.Expr) (Accessor, bool) {
	var name string
	switch fn := fun.(type) {
	case *ast.SelectorExpr:
		name = fn.Sel.Name
	case *ast.Ident:
		name = fn.Name
	default:
		return 0, false
	}

	switch name {
	case "GetData", "getData":
		return AccessData, true
	case "GetDims", "getDims":
		return AccessDims, true
	default:
		return 0, false
	}
}
