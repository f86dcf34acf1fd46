package vm

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/Clinery1/simle-lisp/ast"
	"github.com/Clinery1/simle-lisp/compiler"
	"github.com/Clinery1/simle-lisp/gc"
	"github.com/Clinery1/simle-lisp/ident"
)

func runProgram(t *testing.T, exprs []ast.Node) (gc.Primitive, *Interpreter) {
	t.Helper()
	interner := ident.New()
	prog, err := compiler.Compile(exprs, interner)
	require.NoError(t, err)

	in := NewInterpreter(prog, interner, nil, "", &bytes.Buffer{})
	val, err := in.Run()
	require.NoError(t, err)
	return val, in
}

func listOf(items ...ast.Node) ast.Node { return ast.List{Exprs: items} }
func ident_(name string) ast.Node       { return ast.Ident{Name: name} }
func num(v int64) ast.Node              { return ast.Number{Value: v} }

func TestArithmeticAndLetStyleScoping(t *testing.T) {
	// (begin (def x 40) (+ x 2))
	val, _ := runProgram(t, []ast.Node{
		ast.Begin{Exprs: []ast.Node{
			ast.Def{Name: "x", Expr: num(40)},
			listOf(ident_("+"), ident_("x"), num(2)),
		}},
	})
	assert.Equal(t, int64(42), val.Int())
}

func TestMultiArityDispatch(t *testing.T) {
	// (begin
	//   (def f (fn ( ([x] 1) ([x y] 2) ([x y & rest] (length rest)) )))
	//   (list (f 7) (f 7 8) (f 7 8 9 10 11)))
	f := ast.Fn{
		Sig: ast.MultiSig{Variants: []ast.Variant{
			{Params: ast.Params{Positional: []string{"x"}}, Body: []ast.Node{num(1)}},
			{Params: ast.Params{Positional: []string{"x", "y"}}, Body: []ast.Node{num(2)}},
			{
				Params: ast.Params{Positional: []string{"x", "y"}, Rest: strPtr("rest")},
				Body:   []ast.Node{listOf(ident_("length"), ident_("rest"))},
			},
		}},
	}
	val, _ := runProgram(t, []ast.Node{
		ast.Begin{Exprs: []ast.Node{
			ast.Def{Name: "f", Expr: f},
			listOf(ident_("list"),
				listOf(ident_("f"), num(7)),
				listOf(ident_("f"), num(7), num(8)),
				listOf(ident_("f"), num(7), num(8), num(9), num(10), num(11)),
			),
		}},
	})

	list := val.Deref().RefVal().Data().List
	require.Len(t, list, 3)
	assert.Equal(t, int64(1), list[0].Int())
	assert.Equal(t, int64(2), list[1].Int())
	assert.Equal(t, int64(3), list[2].Int())
}

func strPtr(s string) *string { return &s }

func TestTailRecursionDoesNotGrowCallStack(t *testing.T) {
	// (begin
	//   (def loop (fn [n acc] (cond ((= n 0) acc) (else (recur (- n 1) (+ acc 1))))))
	//   (loop 100000 0))
	loopFn := ast.Fn{
		Sig: ast.SingleSig{
			Params: ast.Params{Positional: []string{"n", "acc"}},
			Body: []ast.Node{
				ast.Cond{
					Branches: []ast.CondBranch{
						{Cond: listOf(ident_("="), ident_("n"), num(0)), Body: []ast.Node{ident_("acc")}},
					},
					Default: []ast.Node{
						listOf(ident_("recur"),
							listOf(ident_("-"), ident_("n"), num(1)),
							listOf(ident_("+"), ident_("acc"), num(1)),
						),
					},
				},
			},
		},
	}
	val, in := runProgram(t, []ast.Node{
		ast.Begin{Exprs: []ast.Node{
			ast.Def{Name: "loop", Expr: loopFn},
			listOf(ident_("loop"), num(100000), num(0)),
		}},
	})
	assert.Equal(t, int64(100000), val.Int())
	assert.LessOrEqual(t, in.Metrics.MaxCallStackDepth, 1,
		"tail calls must reuse the current frame instead of growing the call stack")
}

func TestClosuresCaptureEnclosingBinding(t *testing.T) {
	// (begin
	//   (def make-adder (fn [n] (fn {n} [x] (+ x n))))
	//   (def add3 (make-adder 3))
	//   (add3 4))
	makeAdder := ast.Fn{
		Sig: ast.SingleSig{
			Params: ast.Params{Positional: []string{"n"}},
			Body: []ast.Node{
				ast.Fn{
					Captures: []string{"n"},
					Sig: ast.SingleSig{
						Params: ast.Params{Positional: []string{"x"}},
						Body:   []ast.Node{listOf(ident_("+"), ident_("x"), ident_("n"))},
					},
				},
			},
		},
	}
	val, _ := runProgram(t, []ast.Node{
		ast.Begin{Exprs: []ast.Node{
			ast.Def{Name: "make-adder", Expr: makeAdder},
			ast.Def{Name: "add3", Expr: listOf(ident_("make-adder"), num(3))},
			listOf(ident_("add3"), num(4)),
		}},
	})
	assert.Equal(t, int64(7), val.Int())
}

func TestObjectsAndMethodDispatch(t *testing.T) {
	// (begin
	//   (def p (object (.x 1) (.y 2)))
	//   (set p (object (.x 1) (.y 2) (.sum (+ (index p .x) (index p .y)))))
	//   (index p .sum))
	val, _ := runProgram(t, []ast.Node{
		ast.Begin{Exprs: []ast.Node{
			ast.Def{Name: "p", Expr: ast.Object{Fields: []ast.Field{
				{Name: "x", Value: num(1)},
				{Name: "y", Value: num(2)},
			}}},
			ast.Set{Name: "p", Expr: ast.Object{Fields: []ast.Field{
				{Name: "x", Value: num(1)},
				{Name: "y", Value: num(2)},
				{Name: "sum", Value: listOf(ident_("+"),
					listOf(ident_("index"), ident_("p"), ast.DotIdent{Name: "x"}),
					listOf(ident_("index"), ident_("p"), ast.DotIdent{Name: "y"}),
				)},
			}}},
			listOf(ident_("index"), ident_("p"), ast.DotIdent{Name: "sum"}),
		}},
	})
	assert.Equal(t, int64(3), val.Int())
}

func TestGcSurvivesLiveBindingsAndReclaimsDiscardedAllocations(t *testing.T) {
	// (begin
	//   (def churn (fn [n]
	//     (cond ((= n 0) 0)
	//           (else (begin (list 1 2 3) (recur (- n 1)))))))
	//   (churn 2000)
	//   (gcCollect))
	churn := ast.Fn{
		Sig: ast.SingleSig{
			Params: ast.Params{Positional: []string{"n"}},
			Body: []ast.Node{
				ast.Cond{
					Branches: []ast.CondBranch{
						{Cond: listOf(ident_("="), ident_("n"), num(0)), Body: []ast.Node{num(0)}},
					},
					Default: []ast.Node{
						ast.Begin{Exprs: []ast.Node{
							listOf(ident_("list"), num(1), num(2), num(3)),
							listOf(ident_("recur"), listOf(ident_("-"), ident_("n"), num(1))),
						}},
					},
				},
			},
		},
	}
	val, _ := runProgram(t, []ast.Node{
		ast.Begin{Exprs: []ast.Node{
			ast.Def{Name: "churn", Expr: churn},
			listOf(ident_("churn"), num(2000)),
			listOf(ident_("gcCollect")),
		}},
	})
	assert.Greater(t, val.Int(), int64(0), "churning 2000 short-lived lists should free at least one on collection")
}

// fakeTxtarLoader resolves a module's path against files extracted from a
// txtar archive, each file's body pre-compiled into a tiny canned AST (in
// lieu of a real lexer/parser collaborator, out of scope here).
type fakeTxtarLoader struct {
	bodies map[string][]ast.Node
	dir    string
}

func newFakeTxtarLoader(t *testing.T, archive string) *fakeTxtarLoader {
	t.Helper()
	dir := t.TempDir()
	arc := txtar.Parse([]byte(archive))

	l := &fakeTxtarLoader{bodies: make(map[string][]ast.Node), dir: dir}
	for _, f := range arc.Files {
		path := filepath.Join(dir, f.Name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, f.Data, 0o644))

		body := strings.TrimSpace(string(f.Data))
		// Each fixture file's body is a single decimal integer literal,
		// enough to prove the loader ran and the compiler accepted its
		// result; a real SourceLoader implementation hands back whatever a
		// full parser produced.
		var n int64
		for _, r := range body {
			n = n*10 + int64(r-'0')
		}
		l.bodies[path] = []ast.Node{ast.Number{Value: n}}
	}
	return l
}

func (l *fakeTxtarLoader) Load(path string) ([]ast.Node, error) {
	body, ok := l.bodies[path]
	if !ok {
		return nil, errNoSuchFixture(path)
	}
	return body, nil
}

type errNoSuchFixture string

func (e errNoSuchFixture) Error() string { return "no fixture body for " + string(e) }

func TestModuleLoadingResolvesPathAndCachesResult(t *testing.T) {
	loader := newFakeTxtarLoader(t, `
-- greeter.slp --
41
`)

	// Referencing the module twice should resolve its path and invoke the
	// loader only once -- the second Module opcode must be served from
	// pathCache (§4.8).
	prog, err := compiler.Compile([]ast.Node{
		ast.List{Exprs: []ast.Node{ident_("list"), ast.Module{Name: "greeter"}, ast.Module{Name: "greeter"}}},
	}, ident.New())
	require.NoError(t, err)

	in := NewInterpreter(prog, prog.Interner, loader, loader.dir, &bytes.Buffer{})
	val, err := in.Run()
	require.NoError(t, err)

	items := val.Deref().RefVal().Data().List
	require.Len(t, items, 2)
	first := items[0].Deref().RefVal().Data().Obj
	second := items[1].Deref().RefVal().Data().Obj
	require.NotNil(t, first)
	assert.Same(t, first, second, "the second reference to the same module must be served from the path cache")
}
