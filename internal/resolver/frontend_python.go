package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonFrontend extracts accessor call sites from Python callback source
// using Tree-sitter. The canonical callbacks for the original container
// tooling are Python, calling lib.getData("Name") and lib.getDims("Name");
// resolution works on them even when execution is delegated to an external
// runtime.
//
// A sitter.Parser holds mutable parse state, so Scan serializes on mu.
type PythonFrontend struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewPythonFrontend returns the Python source frontend.
func NewPythonFrontend() *PythonFrontend {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &PythonFrontend{parser: parser}
}

func (f *PythonFrontend) Language() string { return "python" }

func (f *PythonFrontend) Extensions() []string { return []string{".py"} }

func (f *PythonFrontend) Scan(source string) (*Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content := []byte(source)
	tree, err := f.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("python source has syntax errors")
	}

	scan := &Scan{Directives: pythonDirectives(source)}
	f.walk(root, content, scan)
	if scan.EntryPoint == "" {
		return nil, fmt.Errorf("%w: want a def at module level", ErrNoEntryPoint)
	}
	return scan, nil
}

func (f *PythonFrontend) walk(node *sitter.Node, content []byte, scan *Scan) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)

		switch child.Type() {
		case "function_definition":
			if scan.EntryPoint == "" {
				if nameNode := child.ChildByFieldName("name"); nameNode != nil {
					scan.EntryPoint = string(content[nameNode.StartByte():nameNode.EndByte()])
				}
			}
		case "call":
			if c, ok := f.parseCall(child, content); ok {
				scan.Calls = append(scan.Calls, c)
			}
		}

		f.walk(child, content, scan)
	}
}

func (f *PythonFrontend) parseCall(node *sitter.Node, content []byte) (Call, bool) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return Call{}, false
	}

	var callee string
	switch fn.Type() {
	case "attribute":
		attr := fn.ChildByFieldName("attribute")
		if attr == nil {
			return Call{}, false
		}
		callee = string(content[attr.StartByte():attr.EndByte()])
	case "identifier":
		callee = string(content[fn.StartByte():fn.EndByte()])
	default:
		return Call{}, false
	}

	var accessor Accessor
	switch callee {
	case "getData":
		accessor = AccessData
	case "getDims":
		accessor = AccessDims
	default:
		return Call{}, false
	}

	c := Call{Accessor: accessor, Line: int(node.StartPoint().Row) + 1}
	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() != 1 {
		c.Dynamic = true
		return c, true
	}

	arg := args.NamedChild(0)
	name, ok := pythonStringLiteral(arg, content)
	if !ok {
		c.Dynamic = true
		return c, true
	}
	c.Name = name
	return c, true
}

// pythonStringLiteral returns the contents of a plain string literal node.
// f-strings and anything interpolated count as dynamic.
func pythonStringLiteral(node *sitter.Node, content []byte) (string, bool) {
	if node.Type() != "string" {
		return "", false
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if node.NamedChild(i).Type() == "interpolation" {
			return "", false
		}
	}

	text := string(content[node.StartByte():node.EndByte()])
	quote := strings.IndexAny(text, `"'`)
	if quote < 0 {
		return "", false
	}
	prefix := strings.ToLower(text[:quote])
	if strings.Contains(prefix, "f") {
		return "", false
	}

	text = text[quote:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(text, q) && strings.HasSuffix(text, q) && len(text) >= 2*len(q) {
			return text[len(q) : len(text)-len(q)], true
		}
	}
	return "", false
}

func pythonDirectives(source string) []string {
	var out []string
	for _, line := range strings.Split(source, "\n") {
		idx := strings.Index(line, "#")
		if idx < 0 {
			continue
		}
		if payload, ok := directivePayload(line[idx+1:]); ok {
			out = append(out, payload)
		}
	}
	return out
}
