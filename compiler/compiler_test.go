package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clinery1/simle-lisp/ast"
	"github.com/Clinery1/simle-lisp/ident"
	"github.com/Clinery1/simle-lisp/instr"
)

func compile(t *testing.T, exprs []ast.Node) (*Program, *ident.Interner) {
	t.Helper()
	interner := ident.New()
	prog, err := Compile(exprs, interner)
	require.NoError(t, err)
	return prog, interner
}

func kinds(prog *Program) []string {
	var out []string
	it := prog.Store.Iter()
	for {
		_, ins, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, instrKind(ins))
	}
	return out
}

func instrKind(ins instr.Instruction) string {
	switch ins.(type) {
	case instr.Nop:
		return "Nop"
	case instr.Exit:
		return "Exit"
	case instr.PushN:
		return "PushN"
	case instr.PushF:
		return "PushF"
	case instr.PushS:
		return "PushS"
	case instr.PushC:
		return "PushC"
	case instr.PushBool:
		return "PushBool"
	case instr.PushIdent:
		return "PushIdent"
	case instr.PushNone:
		return "PushNone"
	case instr.LoadVar:
		return "LoadVar"
	case instr.PathLoad:
		return "PathLoad"
	case instr.Define:
		return "Define"
	case instr.Set:
		return "Set"
	case instr.MakeFnOrClosure:
		return "MakeFnOrClosure"
	case instr.MakeObject:
		return "MakeObject"
	case instr.Splat:
		return "Splat"
	case instr.Call:
		return "Call"
	case instr.TailCall:
		return "TailCall"
	case instr.Return:
		return "Return"
	case instr.StartScope:
		return "StartScope"
	case instr.StartReturnScope:
		return "StartReturnScope"
	case instr.EndScope:
		return "EndScope"
	case instr.JumpIfTrue:
		return "JumpIfTrue"
	case instr.JumpIfFalse:
		return "JumpIfFalse"
	case instr.Jump:
		return "Jump"
	case instr.Module:
		return "Module"
	case instr.ReturnModule:
		return "ReturnModule"
	default:
		return "?"
	}
}

func TestCompileEmptyProgramJustExits(t *testing.T) {
	prog, _ := compile(t, nil)
	assert.Equal(t, []string{"Exit"}, kinds(prog))
}

func TestCompileListEmitsCallNotTail(t *testing.T) {
	prog, _ := compile(t, []ast.Node{
		ast.List{Exprs: []ast.Node{ast.Ident{Name: "f"}, ast.Number{Value: 1}}},
	})
	assert.Equal(t, []string{"StartScope", "LoadVar", "PushN", "Call", "Exit"}, kinds(prog))
}

func TestCompileDefThenSet(t *testing.T) {
	prog, interner := compile(t, []ast.Node{
		ast.Def{Name: "x", Expr: ast.Number{Value: 1}},
		ast.Set{Name: "x", Expr: ast.Number{Value: 2}},
	})
	assert.Equal(t, []string{"PushN", "Define", "PushN", "Set", "Exit"}, kinds(prog))

	it := prog.Store.Iter()
	it.Next()
	id, ins, _ := it.Next()
	_ = id
	def := ins.(instr.Define)
	assert.Equal(t, "x", interner.Get(def.Name))
}

func TestCompileFnQueuesAndDrainsBody(t *testing.T) {
	prog, _ := compile(t, []ast.Node{
		ast.Fn{
			Sig: ast.SingleSig{
				Params: ast.Params{Positional: []string{"a"}},
				Body:   []ast.Node{ast.Ident{Name: "a"}},
			},
		},
	})
	require.Len(t, prog.Functions, 1)
	var fn *Function
	for _, f := range prog.Functions {
		fn = f
	}
	sig, ok := fn.Sig.(SingleSig)
	require.True(t, ok)
	assert.Equal(t, instr.Id(2), sig.Branch.BodyPtr, "body is drained after the top-level MakeFnOrClosure and Exit opcodes")
}

func TestMultiSigMatchPrefersExactThenFirstDeclaredAtLeastThenAny(t *testing.T) {
	any := ArityBranch{}
	m := MultiSig{
		Exact:    map[int]ArityBranch{0: {}, 1: {}},
		MaxExact: 1,
		AtLeast: []AtLeastBranch{
			{Min: 5, Branch: ArityBranch{BodyPtr: 50}},
			{Min: 2, Branch: ArityBranch{BodyPtr: 10}},
		},
		Any: &any,
	}

	_, ok := m.Match(0)
	assert.True(t, ok)

	// n=7 satisfies both the Min=5 and Min=2 branches; match_arg_count
	// takes the first one declared, not the numerically closest.
	b, ok := m.Match(7)
	require.True(t, ok)
	assert.Equal(t, instr.Id(50), b.BodyPtr, "7 args should match the first-declared at_least branch (min=5), not min=2")

	// n=4 only satisfies Min=2, regardless of declaration order.
	b, ok = m.Match(4)
	require.True(t, ok)
	assert.Equal(t, instr.Id(10), b.BodyPtr)
}

func TestCondNonTailEmitsJoinJumps(t *testing.T) {
	prog, _ := compile(t, []ast.Node{
		ast.List{Exprs: []ast.Node{ast.Ident{Name: "use"}, ast.Cond{
			Branches: []ast.CondBranch{
				{Cond: ast.Bool{Value: true}, Body: []ast.Node{ast.Number{Value: 1}}},
			},
			Default: []ast.Node{ast.Number{Value: 2}},
		}}},
	})
	ks := kinds(prog)
	// StartScope LoadVar StartReturnScope PushBool JumpIfFalse PushN Jump PushN EndScope Call Exit
	assert.Contains(t, ks, "JumpIfFalse")
	assert.Contains(t, ks, "Jump")
	assert.Contains(t, ks, "StartReturnScope")
}

func TestNestedModuleReservesPlaceholderAndLinksParent(t *testing.T) {
	prog, _ := compile(t, []ast.Node{ast.Module{Name: "child"}})
	require.Len(t, prog.Modules, 2) // root + child

	var childId instr.ModId
	for id, m := range prog.Modules {
		if id != instr.Root {
			childId = id
			_ = m
		}
	}
	child := prog.Modules[childId]
	assert.False(t, child.Loaded)
	assert.Equal(t, instr.Invalid, child.StartIns)
	assert.True(t, child.HasParent)
	assert.Equal(t, instr.Root, child.Parent)
	assert.Contains(t, prog.Modules[instr.Root].Children, childId)
}

func TestCompileModuleBodyAppendsIntoSharedStore(t *testing.T) {
	prog, _ := compile(t, []ast.Node{ast.Module{Name: "child"}})
	var childId instr.ModId
	for id := range prog.Modules {
		if id != instr.Root {
			childId = id
		}
	}

	before := prog.Store.NextId()
	err := CompileModuleBody(prog, childId, []ast.Node{ast.Number{Value: 7}})
	require.NoError(t, err)

	child := prog.Modules[childId]
	assert.True(t, child.Loaded)
	assert.Equal(t, before, child.StartIns)

	it := prog.Store.Iter()
	it.Jump(child.StartIns)
	_, ins, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, int64(7), ins.(instr.PushN).Value)
}

func TestQuoteProducesFreshListEachEvaluation(t *testing.T) {
	prog, _ := compile(t, []ast.Node{
		ast.Quote{Expr: ast.List{Exprs: []ast.Node{ast.Number{Value: 1}, ast.Number{Value: 2}}}},
	})
	ks := kinds(prog)
	assert.Equal(t, []string{"StartScope", "PushN", "PushN", "EndScope", "Exit"}, ks,
		"quoting a list lowers to literal-construction opcodes, not a call")
}
