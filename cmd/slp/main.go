// Command slp is a minimal host for the execution core: it wires a
// hand-built AST (standing in for a real lexer/parser, which stay out of
// scope per the module's own collaborators) through the compiler and the
// VM, and prints whatever the program's final expression evaluates to.
//
// With -modules, it also demonstrates module loading by pointing the VM
// at a txtar archive on disk: each archive file is treated as a module
// whose body is a single decimal integer literal, enough to exercise
// path resolution and the loader without a real parser.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/txtar"

	"github.com/Clinery1/simle-lisp/ast"
	"github.com/Clinery1/simle-lisp/compiler"
	"github.com/Clinery1/simle-lisp/ident"
	"github.com/Clinery1/simle-lisp/vm"
)

func main() {
	modules := flag.String("modules", "", "path to a txtar archive of fixture modules to demonstrate module loading")
	flag.Parse()

	var loader vm.SourceLoader
	moduleDir := ""
	if *modules != "" {
		var err error
		loader, moduleDir, err = loadFixtureModules(*modules)
		if err != nil {
			fmt.Fprintf(os.Stderr, "slp: %v\n", err)
			os.Exit(1)
		}
	}

	prog, err := compiler.Compile(demoProgram(*modules != ""), ident.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "slp: compile: %v\n", err)
		os.Exit(1)
	}

	in := vm.NewInterpreter(prog, prog.Interner, loader, moduleDir, os.Stdout)
	val, err := in.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "slp: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("=> %s\n", val.String())
}

// demoProgram builds the AST for
//
//	(begin
//	  (def square (fn [x] (* x x)))
//	  (square 7))
//
// or, with withModules, a version that also pulls in one fixture module
// instead of the final call.
func demoProgram(withModules bool) []ast.Node {
	square := ast.Fn{
		Sig: ast.SingleSig{
			Params: ast.Params{Positional: []string{"x"}},
			Body: []ast.Node{
				ast.List{Exprs: []ast.Node{ast.Ident{Name: "*"}, ast.Ident{Name: "x"}, ast.Ident{Name: "x"}}},
			},
		},
	}
	tail := ast.Node(ast.List{Exprs: []ast.Node{ast.Ident{Name: "square"}, ast.Number{Value: 7}}})
	if withModules {
		tail = ast.Module{Name: "answer"}
	}
	return []ast.Node{
		ast.Begin{Exprs: []ast.Node{
			ast.Def{Name: "square", Expr: square},
			tail,
		}},
	}
}

// fixtureLoader serves each txtar file's body, pre-decoded into a canned
// AST, keyed by the filesystem path it was extracted to.
type fixtureLoader struct {
	bodies map[string][]ast.Node
}

func (l *fixtureLoader) Load(path string) ([]ast.Node, error) {
	body, ok := l.bodies[path]
	if !ok {
		return nil, fmt.Errorf("no fixture module at %s", path)
	}
	return body, nil
}

// loadFixtureModules extracts a txtar archive to a temp directory and
// parses each file's trimmed body as a single decimal integer literal,
// the same stand-in convention the module-loading tests use in place of
// a real lexer/parser.
func loadFixtureModules(archivePath string) (vm.SourceLoader, string, error) {
	raw, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, "", fmt.Errorf("read archive: %w", err)
	}
	dir, err := os.MkdirTemp("", "slp-modules-")
	if err != nil {
		return nil, "", fmt.Errorf("create module dir: %w", err)
	}

	arc := txtar.Parse(raw)
	l := &fixtureLoader{bodies: make(map[string][]ast.Node, len(arc.Files))}
	for _, f := range arc.Files {
		path := filepath.Join(dir, f.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, "", err
		}
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return nil, "", err
		}
		n, err := decodeIntLiteral(f.Data)
		if err != nil {
			return nil, "", fmt.Errorf("fixture %s: %w", f.Name, err)
		}
		l.bodies[path] = []ast.Node{ast.Number{Value: n}}
	}
	return l, dir, nil
}

func decodeIntLiteral(data []byte) (int64, error) {
	s := strings.TrimSpace(string(data))
	var n int64
	if s == "" {
		return 0, fmt.Errorf("empty fixture body")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("fixture body %q is not a decimal integer literal", s)
		}
		n = n*10 + int64(r-'0')
	}
	return n, nil
}
