// Package compiler lowers a surface AST (§6.1) into the linear bytecode
// the VM executes, producing a Program that bundles the instruction
// store, function table, module tree, interner and compile-time warnings
// (§2, §4.3).
package compiler

import (
	"fmt"

	"github.com/Clinery1/simle-lisp/ast"
	"github.com/Clinery1/simle-lisp/ident"
	"github.com/Clinery1/simle-lisp/instr"
)

// Params is a resolved, interned parameter vector: positional names plus
// an optional rest-parameter name (§3.3).
type Params struct {
	Positional []ident.Ident
	Rest       *ident.Ident
}

// ArityBranch is one compiled signature branch: its parameter vector and
// the InstructionId its body starts at.
type ArityBranch struct {
	Params  Params
	BodyPtr instr.Id
}

// FnSignature is implemented by SingleSig and MultiSig.
type FnSignature interface {
	fnSignature()
}

// SingleSig is a function with exactly one parameter list.
type SingleSig struct {
	Branch ArityBranch
}

func (SingleSig) fnSignature() {}

// AtLeastBranch pairs a "rest parameter" branch with the minimum argument
// count it accepts, kept in declaration order so Match can prefer the
// first qualifying one (§3.3/match_arg_count).
type AtLeastBranch struct {
	Min    int
	Branch ArityBranch
}

// MultiSig is an arity-overloaded function (§3.3). Match implements
// match_arg_count: prefer an exact match when n <= MaxExact, else the
// first at_least branch (in declaration order) whose minimum is <= n,
// else Any.
type MultiSig struct {
	Exact    map[int]ArityBranch
	MaxExact int
	AtLeast  []AtLeastBranch
	Any      *ArityBranch
}

func (MultiSig) fnSignature() {}

// Match resolves which branch handles a call with n arguments.
func (m MultiSig) Match(n int) (ArityBranch, bool) {
	if n <= m.MaxExact {
		if b, ok := m.Exact[n]; ok {
			return b, true
		}
	}
	for _, ab := range m.AtLeast {
		if ab.Min <= n {
			return ab.Branch, true
		}
	}
	if m.Any != nil {
		return *m.Any, true
	}
	return ArityBranch{}, false
}

// Function is a compiled function: its optional name, its ordered list of
// captured variable names, and its (possibly multi-arity) signature
// (§3.3).
type Function struct {
	Name     ident.Ident
	HasName  bool
	Captures []ident.Ident
	Sig      FnSignature
}

// Module is a compiled module: its name, optional parent, the
// InstructionId its body starts at (valid only once loaded -- see
// vm.SourceLoader), and its child module ids (§3.4).
type Module struct {
	Name      ident.Ident
	Parent    instr.ModId
	HasParent bool
	StartIns  instr.Id
	Loaded    bool
	Children  []instr.ModId
}

// Program is the compiler's output: everything the VM needs to run
// (§2, §4.3).
type Program struct {
	Store      *instr.Store
	Interner   *ident.Interner
	Functions  map[instr.FnId]*Function
	Modules    map[instr.ModId]*Module
	RootModule instr.ModId
	Warnings   []string

	nextFnId  instr.FnId
	nextModId instr.ModId
}

func newProgram(interner *ident.Interner) *Program {
	p := &Program{
		Store:      instr.New(),
		Interner:   interner,
		Functions:  make(map[instr.FnId]*Function),
		Modules:    make(map[instr.ModId]*Module),
		RootModule: instr.Root,
		nextModId:  instr.Root + 1,
	}
	return p
}

func (p *Program) reserveFnId() instr.FnId {
	id := p.nextFnId
	p.nextFnId++
	return id
}

func (p *Program) reserveModId() instr.ModId {
	id := p.nextModId
	p.nextModId++
	return id
}

func (p *Program) warn(format string, args ...interface{}) {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
}

// pendingFn is a queued function body awaiting compilation, drained after
// its enclosing scope's own instructions are emitted so that forward
// references to sibling functions resolve (§4.3: "After the top-level
// instruction sequence emits Exit, the compiler drains its queue of
// pending functions").
type pendingFn struct {
	id  instr.FnId
	ast ast.Fn
}

// state carries everything the recursive lowering needs: the shared
// interner and instruction store (via Program), plus the queue of
// functions discovered mid-lowering.
type state struct {
	prog     *Program
	pending  []pendingFn
	moduleId instr.ModId
}

func (s *state) queueFn(id instr.FnId, f ast.Fn) {
	s.pending = append(s.pending, pendingFn{id: id, ast: f})
}

// Compile lowers the top-level module (module 0, the root) from a
// sequence of surface AST nodes into a Program. Nested modules discovered
// via ast.Module nodes are registered as unloaded placeholders; their
// bodies are compiled later, on demand, via CompileModuleBody -- loading
// the module's source is a VM-time concern (§4.8), not a compile-time one,
// since it requires a parser collaborator that is out of scope here.
func Compile(exprs []ast.Node, interner *ident.Interner) (*Program, error) {
	prog := newProgram(interner)
	s := &state{prog: prog, moduleId: instr.Root}

	prog.Modules[instr.Root] = &Module{
		Name:     interner.Intern(""),
		StartIns: prog.Store.NextId(),
	}

	if err := s.convertExprs(exprs, false); err != nil {
		return nil, err
	}
	prog.Store.Push(instr.Exit{})

	if err := s.drainFns(); err != nil {
		return nil, err
	}

	return prog, nil
}

// CompileModuleBody compiles a module's already-parsed body into prog's
// shared instruction store, recording its start id and draining any
// functions the body queues. The caller (the VM's module loader) is
// responsible for having resolved id's filesystem path and obtained
// exprs from the out-of-scope parser collaborator.
func CompileModuleBody(prog *Program, id instr.ModId, exprs []ast.Node) error {
	m := prog.Modules[id]
	m.StartIns = prog.Store.NextId()

	s := &state{prog: prog, moduleId: id}
	if err := s.convertExprs(exprs, false); err != nil {
		return err
	}
	prog.Store.Push(instr.ReturnModule{})
	m.Loaded = true

	return s.drainFns()
}

func (s *state) drainFns() error {
	for len(s.pending) > 0 {
		n := len(s.pending) - 1
		next := s.pending[n]
		s.pending = s.pending[:n]
		if err := s.convertFn(next.id, next.ast); err != nil {
			return err
		}
	}
	return nil
}

// convertExprs compiles a sequence of expressions; only the final one is
// tail, and only if the sequence itself is compiled in tail position
// (§4.3).
func (s *state) convertExprs(exprs []ast.Node, isTail bool) error {
	for i, e := range exprs {
		last := i == len(exprs)-1
		if err := s.convertExpr(e, last && isTail); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) intern(name string) ident.Ident {
	return s.prog.Interner.Intern(name)
}

func (s *state) internAll(names []string) []ident.Ident {
	out := make([]ident.Ident, len(names))
	for i, n := range names {
		out[i] = s.intern(n)
	}
	return out
}

func (s *state) convertParams(p ast.Params) Params {
	out := Params{Positional: s.internAll(p.Positional)}
	if p.Rest != nil {
		r := s.intern(*p.Rest)
		out.Rest = &r
	}
	return out
}

// convertExpr is the per-node-type recursive lowering switch (§4.3).
func (s *state) convertExpr(n ast.Node, isTail bool) error {
	store := s.prog.Store

	switch e := n.(type) {
	case ast.Comment:
		// ignored (§6.1)
		return nil

	case ast.ReplDirective:
		return fmt.Errorf("ReplDirective is only valid from the REPL collaborator")

	case ast.Number:
		store.Push(instr.PushN{Value: e.Value})
	case ast.Float:
		store.Push(instr.PushF{Value: e.Value})
	case ast.String:
		store.Push(instr.PushS{Value: e.Value})
	case ast.Char:
		store.Push(instr.PushC{Value: e.Value})
	case ast.Bool:
		store.Push(instr.PushBool{Value: e.Value})
	case ast.None:
		store.Push(instr.PushNone{})

	case ast.Ident:
		store.Push(instr.LoadVar{Name: s.intern(e.Name)})

	case ast.DotIdent:
		store.Push(instr.PushIdent{Value: s.intern(e.Name)})

	case ast.Quote:
		return s.convertQuote(e.Expr)

	case ast.Splat:
		if err := s.convertExpr(e.Expr, false); err != nil {
			return err
		}
		store.Push(instr.Splat{})

	case ast.Begin:
		store.Push(instr.StartReturnScope{})
		if err := s.convertExprs(e.Exprs, isTail); err != nil {
			return err
		}
		store.Push(instr.EndScope{})

	case ast.List:
		store.Push(instr.StartScope{})
		if err := s.convertExprs(e.Exprs, false); err != nil {
			return err
		}
		if isTail {
			store.Push(instr.TailCall{})
		} else {
			store.Push(instr.Call{})
		}

	case ast.Vector:
		return s.convertVectorLiteral(e)

	case ast.Squiggle:
		idents := s.internAll(e.Idents)
		store.Push(instr.StartScope{})
		for _, id := range idents {
			store.Push(instr.PushIdent{Value: id})
		}
		store.Push(instr.EndScope{})

	case ast.Object:
		store.Push(instr.StartScope{})
		names := make([]ident.Ident, 0, len(e.Fields))
		for _, f := range e.Fields {
			valueExpr := f.Value
			if valueExpr == nil {
				valueExpr = ast.Ident{Name: f.Name}
			}
			if err := s.convertExpr(valueExpr, false); err != nil {
				return err
			}
			names = append(names, s.intern(f.Name))
		}
		store.Push(instr.MakeObject{Fields: names})
		store.Push(instr.EndScope{})

	case ast.Path:
		idents := s.internAll(e.Idents)
		store.Push(instr.PathLoad{Idents: idents})

	case ast.Module:
		id := s.prog.reserveModId()
		name := s.intern(e.Name)
		s.prog.Modules[id] = &Module{
			Name:      name,
			Parent:    s.moduleId,
			HasParent: true,
			StartIns:  instr.Invalid,
		}
		parent := s.prog.Modules[s.moduleId]
		parent.Children = append(parent.Children, id)
		store.Push(instr.Module{Id: id})

	case ast.Def:
		if err := s.convertExpr(e.Expr, false); err != nil {
			return err
		}
		store.Push(instr.Define{Name: s.intern(e.Name)})

	case ast.Set:
		if err := s.convertExpr(e.Expr, false); err != nil {
			return err
		}
		store.Push(instr.Set{Name: s.intern(e.Name)})

	case ast.Fn:
		id := s.prog.reserveFnId()
		store.Push(instr.MakeFnOrClosure{Fn: id})
		s.queueFn(id, e)

	case ast.Cond:
		return s.convertCond(e, isTail)

	default:
		return fmt.Errorf("compiler: unhandled AST node %T", n)
	}
	return nil
}

// convertVectorLiteral lowers a Vector used as a plain structured-data
// literal (as opposed to a function parameter vector, which convertParams
// handles directly from the AST without going through the instruction
// stream). Items are pushed in order and collected with StartScope/
// MakeObject-free list construction: a List whose Call is never emitted,
// reusing the ScopeItem::List accumulation described in §3.7.
func (s *state) convertVectorLiteral(v ast.Vector) error {
	store := s.prog.Store
	store.Push(instr.StartScope{})
	for _, item := range v.Items {
		if err := s.convertExpr(item, false); err != nil {
			return err
		}
	}
	if v.Rest != nil {
		store.Push(instr.PushIdent{Value: s.intern(*v.Rest)})
	}
	store.Push(instr.EndScope{})
	return nil
}

// convertQuote realizes a quoted expression as an immutable data literal.
// Per the chosen resolution of the corpus's open question (SPEC_FULL.md
// §3/DESIGN.md), each evaluation produces an independent copy: quoting
// compiles to ordinary literal-construction opcodes (the same ones a
// non-quoted literal would use), so every time the surrounding code runs,
// a fresh List/primitive is built rather than aliasing a single compiled
// constant.
func (s *state) convertQuote(n ast.Node) error {
	store := s.prog.Store
	switch e := n.(type) {
	case ast.List:
		store.Push(instr.StartScope{})
		for _, item := range e.Exprs {
			if err := s.convertQuote(item); err != nil {
				return err
			}
		}
		store.Push(instr.EndScope{})
		return nil
	default:
		return s.convertExpr(n, false)
	}
}

// convertCond lowers a Cond form (§4.3): each branch's condition is
// compiled, followed by a placeholder JumpIfFalse to the next branch
// (backpatched once that branch's start id is known), then the branch
// body. In tail position every branch independently ends with Return, so
// no join-point Jump is needed; in non-tail position every branch (except
// one that already ends in Return) needs a placeholder Jump to a shared
// join point emitted once, after the default arm.
func (s *state) convertCond(c ast.Cond, isTail bool) error {
	store := s.prog.Store
	store.Push(instr.StartReturnScope{})

	var joinJumps []instr.Id

	for _, branch := range c.Branches {
		if err := s.convertExpr(branch.Cond, false); err != nil {
			return err
		}
		jf := store.Reserve() // JumpIfFalse placeholder, target unknown yet

		if err := s.convertExprs(branch.Body, isTail); err != nil {
			return err
		}
		if isTail {
			store.Push(instr.Return{})
		} else {
			j := store.Reserve() // Jump to the join point
			joinJumps = append(joinJumps, j)
		}

		nextBranchStart := store.NextId()
		store.Set(jf, instr.JumpIfFalse{Target: nextBranchStart})
	}

	if c.Default != nil {
		if err := s.convertExprs(c.Default, isTail); err != nil {
			return err
		}
	} else if !isTail {
		store.Push(instr.PushNone{})
	}

	join := store.NextId()
	for _, j := range joinJumps {
		store.Set(j, instr.Jump{Target: join})
	}

	store.Push(instr.EndScope{})
	return nil
}

// convertFn compiles one queued function's signature and body (§4.3,
// §3.3).
func (s *state) convertFn(id instr.FnId, f ast.Fn) error {
	fn := &Function{Captures: s.internAll(f.Captures)}
	if f.Name != "" {
		fn.Name = s.intern(f.Name)
		fn.HasName = true
	}

	switch sig := f.Sig.(type) {
	case ast.SingleSig:
		branch, err := s.convertVariant(ast.Variant{Params: sig.Params, Body: sig.Body})
		if err != nil {
			return err
		}
		fn.Sig = SingleSig{Branch: branch}

	case ast.MultiSig:
		multi := MultiSig{
			Exact: make(map[int]ArityBranch),
		}
		for _, v := range sig.Variants {
			branch, err := s.convertVariant(v)
			if err != nil {
				return err
			}
			n := len(v.Params.Positional)
			if v.Params.Rest != nil {
				multi.AtLeast = append(multi.AtLeast, AtLeastBranch{Min: n, Branch: branch})
			} else {
				multi.Exact[n] = branch
				if n > multi.MaxExact {
					multi.MaxExact = n
				}
			}
		}
		fn.Sig = multi

	default:
		return fmt.Errorf("compiler: unknown function signature type %T", f.Sig)
	}

	s.prog.Functions[id] = fn
	return nil
}

// convertVariant records the body's start id before compiling it (so the
// signature can reference the entry point immediately), compiles the body
// in tail position, and terminates it with Return (§4.3: "A function body
// ends with a Return opcode").
func (s *state) convertVariant(v ast.Variant) (ArityBranch, error) {
	store := s.prog.Store
	bodyPtr := store.NextId()
	if err := s.convertExprs(v.Body, true); err != nil {
		return ArityBranch{}, err
	}
	store.Push(instr.Return{})
	return ArityBranch{Params: s.convertParams(v.Params), BodyPtr: bodyPtr}, nil
}
