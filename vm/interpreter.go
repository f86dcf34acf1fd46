// Package vm implements the stack-based bytecode interpreter: Env/
// ScopeItem (§3.6, §3.7), Call/TailCall/Return dispatch and object-vtable
// calling convention (§4.5), and on-demand module loading (§4.8). It is the
// one package that wires the compiler's Program, the gc collector, and the
// standard builtins together into something runnable.
package vm

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/Clinery1/simle-lisp/builtins"
	"github.com/Clinery1/simle-lisp/compiler"
	"github.com/Clinery1/simle-lisp/gc"
	"github.com/Clinery1/simle-lisp/ident"
	"github.com/Clinery1/simle-lisp/instr"
)

// callFrame is what Call/Module save and Return/ReturnModule restore.
// modulePath is non-empty only for frames opened by a Module opcode, and
// tells the matching ReturnModule where to cache the packaged result.
type callFrame struct {
	returnAddr instr.Id
	scopeItems []ScopeItem
	env        *Env
	modulePath string
}

// Interpreter runs a compiled Program to completion, or until re-entered
// via CallValue by a native builtin or an Object method.
type Interpreter struct {
	ctx      *gc.Context
	interner *ident.Interner
	program  *compiler.Program
	it       *instr.Iterator

	env        *Env
	rootEnv    *Env
	scopeItems []ScopeItem
	callStack  []callFrame

	loader    SourceLoader
	moduleDir string
	pathCache map[string]gc.Primitive
	loading   map[string]bool

	out        io.Writer
	recurIdent ident.Ident

	Metrics Metrics
}

// NewInterpreter builds an interpreter for program, binding every standard
// builtin (§6.3) into a fresh root environment. moduleDir is the base
// directory module name resolution is rooted at (§4.8, §6.2); loader may be
// nil if the program never references a nested module.
func NewInterpreter(program *compiler.Program, interner *ident.Interner, loader SourceLoader, moduleDir string, out io.Writer) *Interpreter {
	ctx := gc.NewContext(gc.DefaultParams())
	in := &Interpreter{
		ctx:        ctx,
		interner:   interner,
		program:    program,
		rootEnv:    NewEnv(),
		loader:     loader,
		moduleDir:  moduleDir,
		pathCache:  make(map[string]gc.Primitive),
		loading:    make(map[string]bool),
		out:        out,
		recurIdent: interner.Intern("recur"),
	}

	for name, val := range builtins.Install(ctx) {
		_ = in.rootEnv.Define(interner.Intern(name), val)
	}
	paramsRef := ctx.AllocPermanent(gc.ObjectData(gc.NewParamsObject(ctx)))
	_ = in.rootEnv.Define(interner.Intern("gcParams"), gc.Ref(paramsRef))

	return in
}

// GC exposes the collector, for hosts that want to inspect Stats between runs.
func (vm *Interpreter) GC() *gc.Context { return vm.ctx }

func (vm *Interpreter) params() *gc.Params {
	return &gc.Params{VM: vm, Interner: vm.interner, GC: vm.ctx, Out: vm.out}
}

// Run executes the program's root module from the start, returning the
// value of its final top-level expression (or None, if it had none) once
// Exit is reached.
func (vm *Interpreter) Run() (gc.Primitive, error) {
	start := time.Now()
	vm.it = vm.program.Store.Iter()
	vm.env = vm.rootEnv
	vm.scopeItems = []ScopeItem{&ReturnItem{}}
	vm.callStack = nil

	val, err := vm.runLoop(-1)

	elapsed := time.Since(start)
	vm.Metrics.TotalRunTime += elapsed
	vm.Metrics.LastRunTime = elapsed
	if err != nil {
		return gc.Primitive{}, err
	}
	return val, nil
}

// runLoop pulls instructions from the shared iterator until either Exit
// fires (only legal at call depth 0) or a Return/ReturnModule brings the
// call stack back down to exactly targetDepth. CallValue's re-entrant
// loops pass the depth captured before the call; Run passes -1, which no
// Return can reach, so its loop ends only at Exit.
func (vm *Interpreter) runLoop(targetDepth int) (gc.Primitive, error) {
	for {
		id, ins, ok := vm.it.Next()
		if !ok {
			return gc.Primitive{}, fmt.Errorf("vm: instruction stream exhausted without Exit")
		}
		vm.Metrics.InstructionsExecuted++

		switch op := ins.(type) {
		case instr.Exit:
			if len(vm.callStack) != 0 {
				return gc.Primitive{}, fmt.Errorf("vm: unexpected Exit at call depth %d", len(vm.callStack))
			}
			val, _ := vm.currentPeek()
			return val, nil

		case instr.Return:
			val, err := vm.execReturn()
			if err != nil {
				return gc.Primitive{}, wrapFrame(err, fmt.Sprintf("return at instruction %d", id))
			}
			if len(vm.callStack) == targetDepth {
				return val, nil
			}

		case instr.ReturnModule:
			val, err := vm.execReturnModule()
			if err != nil {
				return gc.Primitive{}, wrapFrame(err, fmt.Sprintf("module return at instruction %d", id))
			}
			if len(vm.callStack) == targetDepth {
				return val, nil
			}

		default:
			if err := vm.step(id, ins); err != nil {
				return gc.Primitive{}, wrapFrame(err, fmt.Sprintf("instruction %d (%T)", id, op))
			}
		}
	}
}

func (vm *Interpreter) push(v gc.Primitive) {
	vm.scopeItems[len(vm.scopeItems)-1].push(v)
}

func (vm *Interpreter) currentPeek() (gc.Primitive, bool) {
	return vm.scopeItems[len(vm.scopeItems)-1].peek()
}

func (vm *Interpreter) currentPop() (gc.Primitive, bool) {
	return vm.scopeItems[len(vm.scopeItems)-1].pop()
}

func (vm *Interpreter) lookup(name ident.Ident) (gc.Primitive, bool) {
	if v, ok := vm.env.Get(name); ok {
		return v, true
	}
	if vm.env == vm.rootEnv {
		return gc.Primitive{}, false
	}
	return vm.rootEnv.Get(name)
}

func (vm *Interpreter) objectOf(v gc.Primitive) (gc.Object, error) {
	v = v.Deref()
	if v.Kind != gc.KRef || v.RefVal().Data().Kind != gc.DObject {
		return nil, fmt.Errorf("value is not an object")
	}
	return v.RefVal().Data().Obj, nil
}

// step dispatches every opcode except Return/ReturnModule/Exit, which
// runLoop handles directly so it can observe the call-stack depth.
func (vm *Interpreter) step(id instr.Id, ins instr.Instruction) error {
	switch op := ins.(type) {
	case instr.Nop:
		// does nothing

	case instr.PushN:
		vm.push(gc.Int(op.Value))
	case instr.PushF:
		vm.push(gc.Float(op.Value))
	case instr.PushS:
		vm.push(gc.Str(op.Value))
	case instr.PushC:
		vm.push(gc.Char(op.Value))
	case instr.PushBool:
		vm.push(gc.Bool(op.Value))
	case instr.PushIdent:
		vm.push(gc.IdentVal(op.Value))
	case instr.PushNone:
		vm.push(gc.None())

	case instr.LoadVar:
		v, ok := vm.lookup(op.Name)
		if !ok {
			return fmt.Errorf("undefined variable %q", vm.interner.Get(op.Name))
		}
		vm.push(v)

	case instr.PathLoad:
		if len(op.Idents) == 0 {
			return fmt.Errorf("empty path")
		}
		v, ok := vm.lookup(op.Idents[0])
		if !ok {
			return fmt.Errorf("undefined variable %q", vm.interner.Get(op.Idents[0]))
		}
		for _, name := range op.Idents[1:] {
			obj, err := vm.objectOf(v)
			if err != nil {
				return err
			}
			v, err = obj.GetField(name, vm.params())
			if err != nil {
				return err
			}
		}
		vm.push(v)

	case instr.Define:
		v, ok := vm.currentPeek()
		if !ok {
			return fmt.Errorf("define has no value to bind")
		}
		if err := vm.env.Define(op.Name, v); err != nil {
			return fmt.Errorf("%s: %w", vm.interner.Get(op.Name), err)
		}

	case instr.Set:
		v, ok := vm.currentPeek()
		if !ok {
			return fmt.Errorf("set has no value to assign")
		}
		if err := vm.env.Set(op.Name, v); err != nil {
			return fmt.Errorf("%s: %w", vm.interner.Get(op.Name), err)
		}

	case instr.MakeFnOrClosure:
		return vm.execMakeFn(op.Fn)

	case instr.MakeObject:
		return vm.execMakeObject(op.Fields)

	case instr.Splat:
		return vm.execSplat()

	case instr.Call:
		return vm.execCall(false)
	case instr.TailCall:
		return vm.execCall(true)

	case instr.StartScope:
		vm.scopeItems = append(vm.scopeItems, &ListItem{})
		vm.env.PushScope()
	case instr.StartReturnScope:
		vm.scopeItems = append(vm.scopeItems, &ReturnItem{})
		vm.env.PushScope()
	case instr.EndScope:
		return vm.execEndScope()

	case instr.JumpIfTrue:
		v, ok := vm.currentPop()
		if !ok {
			return fmt.Errorf("JumpIfTrue has no condition value")
		}
		if v.Truthy() {
			vm.it.Jump(op.Target)
		}
	case instr.JumpIfFalse:
		v, ok := vm.currentPop()
		if !ok {
			return fmt.Errorf("JumpIfFalse has no condition value")
		}
		if !v.Truthy() {
			vm.it.Jump(op.Target)
		}
	case instr.Jump:
		vm.it.Jump(op.Target)

	case instr.Module:
		return vm.execModule(op.Id)

	default:
		return fmt.Errorf("vm: unhandled opcode %T", ins)
	}
	return nil
}

func (vm *Interpreter) execEndScope() error {
	n := len(vm.scopeItems)
	if n <= 1 {
		return fmt.Errorf("EndScope with no matching StartScope")
	}
	item := vm.scopeItems[n-1]
	vm.scopeItems = vm.scopeItems[:n-1]
	vm.env.PopScope()
	val, ok := item.peek()
	if !ok {
		val = gc.None()
	}
	vm.push(val)
	return nil
}

func (vm *Interpreter) execSplat() error {
	top, ok := vm.scopeItems[len(vm.scopeItems)-1].(*ListItem)
	if !ok {
		return fmt.Errorf("Splat outside a list-building scope")
	}
	v, ok := top.pop()
	if !ok {
		return fmt.Errorf("Splat has no value to spread")
	}
	v = v.Deref()
	if v.Kind != gc.KRef || v.RefVal().Data().Kind != gc.DList {
		return fmt.Errorf("Splat requires a List")
	}
	top.Values = append(top.Values, v.RefVal().Data().List...)
	return nil
}

func (vm *Interpreter) execMakeFn(id instr.FnId) error {
	fn, ok := vm.program.Functions[id]
	if !ok {
		return fmt.Errorf("vm: unknown function id %d", id)
	}
	if len(fn.Captures) == 0 {
		vm.push(gc.Fn(id))
		return nil
	}
	captures := make(map[ident.Ident]gc.Primitive, len(fn.Captures))
	for _, name := range fn.Captures {
		v, ok := vm.lookup(name)
		if !ok {
			return fmt.Errorf("cannot capture undefined variable %q", vm.interner.Get(name))
		}
		captures[name] = v
	}
	ref := vm.ctx.Alloc(gc.ClosureData(gc.Closure{Fn: id, Captures: captures}))
	vm.push(gc.Ref(ref))
	return nil
}

func (vm *Interpreter) execMakeObject(fields []ident.Ident) error {
	top, ok := vm.scopeItems[len(vm.scopeItems)-1].(*ListItem)
	if !ok {
		return fmt.Errorf("MakeObject outside a list-building scope")
	}
	if len(top.Values) != len(fields) {
		return fmt.Errorf("MakeObject: expected %d field values, got %d", len(fields), len(top.Values))
	}
	obj := gc.NewBasicObject()
	for i, name := range fields {
		obj.Fields[name] = top.Values[i]
	}
	top.Values = nil
	ref := vm.ctx.Alloc(gc.ObjectData(obj))
	top.push(gc.Ref(ref))
	return nil
}

func arityDesc(a gc.Arity) string {
	if a.Any {
		return "any number of arguments"
	}
	return fmt.Sprintf("%d arguments", a.Exact)
}

func matchArity(sig compiler.FnSignature, n int) (compiler.ArityBranch, bool) {
	switch s := sig.(type) {
	case compiler.SingleSig:
		np := len(s.Branch.Params.Positional)
		if s.Branch.Params.Rest != nil {
			if n >= np {
				return s.Branch, true
			}
			return compiler.ArityBranch{}, false
		}
		if n == np {
			return s.Branch, true
		}
		return compiler.ArityBranch{}, false
	case compiler.MultiSig:
		return s.Match(n)
	default:
		return compiler.ArityBranch{}, false
	}
}

// execCall pops the argument list under construction and dispatches on the
// callee's kind (§4.5): an Object goes through method/field dispatch using
// the next argument as an Ident selector, a NativeFn is arity-checked and
// invoked directly, a Fn/closure resolves an arity branch and enters a new
// frame (or, if tail, reuses the current one), and anything else falls back
// to treating the whole argument list as a literal List.
func (vm *Interpreter) execCall(tail bool) error {
	top, ok := vm.scopeItems[len(vm.scopeItems)-1].(*ListItem)
	if !ok {
		return fmt.Errorf("Call outside a list-building scope")
	}
	args := top.Values
	vm.scopeItems = vm.scopeItems[:len(vm.scopeItems)-1]

	if len(args) == 0 {
		return fmt.Errorf("call with no callee")
	}
	callee := args[0].Deref()
	rest := args[1:]

	switch {
	case callee.Kind == gc.KRef && callee.RefVal().Data().Kind == gc.DObject:
		return vm.execObjectCall(callee.RefVal().Data().Obj, rest)

	case callee.Kind == gc.KNativeFn:
		return vm.execNativeCall(callee.NativeVal(), rest)

	case callee.Kind == gc.KFn:
		return vm.execUserCall(callee.FnVal(), nil, callee, rest, tail)

	case callee.Kind == gc.KRef && callee.RefVal().Data().Kind == gc.DClosure:
		cl := callee.RefVal().Data().Closure
		return vm.execUserCall(cl.Fn, cl.Captures, callee, rest, tail)

	default:
		items := make([]gc.Primitive, len(args))
		copy(items, args)
		ref := vm.ctx.Alloc(gc.ListData(items))
		vm.push(gc.Ref(ref))
		return nil
	}
}

func (vm *Interpreter) execObjectCall(obj gc.Object, rest []gc.Primitive) error {
	if len(rest) == 0 {
		return fmt.Errorf("calling an object requires a method/field selector argument")
	}
	selector := rest[0].Deref()
	if selector.Kind != gc.KIdent {
		return fmt.Errorf("object selector must be an Ident")
	}
	name := selector.IdentVal()
	callArgs := rest[1:]
	p := vm.params()

	result, err := obj.CallMethod(name, callArgs, p)
	if err == gc.ErrNoSuchMethod {
		switch len(callArgs) {
		case 0:
			result, err = obj.GetField(name, p)
		case 1:
			err = obj.SetField(name, callArgs[0], p)
			result = callArgs[0]
		default:
			return fmt.Errorf("too many arguments for field access on %q", vm.interner.Get(name))
		}
	}
	if err != nil {
		return err
	}
	vm.push(result)
	return nil
}

func (vm *Interpreter) execNativeCall(nf gc.NativeFunc, args []gc.Primitive) error {
	if !nf.Arity.Matches(len(args)) {
		return fmt.Errorf("%s: expected %s, got %d", nf.Name, arityDesc(nf.Arity), len(args))
	}
	result, err := nf.Fn(args, vm.params())
	if err != nil {
		return fmt.Errorf("%s: %w", nf.Name, err)
	}
	vm.push(result)
	if vm.ctx.ParamsValue().GcOnFuncCall {
		vm.ctx.IncCollect(1)
	}
	return nil
}

// execUserCall resolves an arity branch and either reuses the current
// frame (tail position, §4.5 "TailCall... reuses the current call frame")
// or pushes a new one; self is the callee value itself, bound to `recur`
// so a function body can call itself without re-resolving its own name.
func (vm *Interpreter) execUserCall(fnId instr.FnId, captures map[ident.Ident]gc.Primitive, self gc.Primitive, args []gc.Primitive, tail bool) error {
	fn, ok := vm.program.Functions[fnId]
	if !ok {
		return fmt.Errorf("vm: unknown function id %d", fnId)
	}
	branch, ok := matchArity(fn.Sig, len(args))
	if !ok {
		return fmt.Errorf("no matching arity for %d argument(s)", len(args))
	}
	newEnv, err := vm.buildFrameEnv(captures, branch.Params, args, self)
	if err != nil {
		return err
	}

	if tail {
		vm.env = newEnv
		vm.scopeItems = []ScopeItem{&ReturnItem{}}
		vm.it.Jump(branch.BodyPtr)
		if vm.ctx.ParamsValue().GcOnFuncCall {
			vm.ctx.IncCollect(1)
		}
		return nil
	}

	retAddr, ok := vm.it.CurInsId()
	if !ok {
		return fmt.Errorf("vm: cannot determine return address")
	}
	vm.callStack = append(vm.callStack, callFrame{returnAddr: retAddr, scopeItems: vm.scopeItems, env: vm.env})
	if len(vm.callStack) > vm.Metrics.MaxCallStackDepth {
		vm.Metrics.MaxCallStackDepth = len(vm.callStack)
	}
	vm.env = newEnv
	vm.scopeItems = []ScopeItem{&ReturnItem{}}
	vm.it.Jump(branch.BodyPtr)
	if vm.ctx.ParamsValue().GcOnFuncCall {
		vm.ctx.IncCollect(1)
	}
	return nil
}

func (vm *Interpreter) buildFrameEnv(captures map[ident.Ident]gc.Primitive, params compiler.Params, args []gc.Primitive, self gc.Primitive) (*Env, error) {
	env := NewEnv()
	for name, v := range captures {
		if err := env.Define(name, v); err != nil {
			return nil, err
		}
	}

	np := len(params.Positional)
	if params.Rest != nil {
		if len(args) < np {
			return nil, fmt.Errorf("arity mismatch: expected at least %d argument(s), got %d", np, len(args))
		}
	} else if len(args) != np {
		return nil, fmt.Errorf("arity mismatch: expected %d argument(s), got %d", np, len(args))
	}

	for i, name := range params.Positional {
		if err := env.Define(name, args[i]); err != nil {
			return nil, err
		}
	}
	if params.Rest != nil {
		restItems := make([]gc.Primitive, len(args)-np)
		copy(restItems, args[np:])
		ref := vm.ctx.Alloc(gc.ListData(restItems))
		if err := env.Define(*params.Rest, gc.Ref(ref)); err != nil {
			return nil, err
		}
	}
	if err := env.Define(vm.recurIdent, self); err != nil {
		return nil, err
	}
	return env, nil
}

// execReturn pops the enclosing call frame, restores its scope-item stack
// and environment, and pushes the body's result value into it. An empty
// body (no value ever pushed into its ReturnItem) produces an empty List,
// per §4.5.
func (vm *Interpreter) execReturn() (gc.Primitive, error) {
	if len(vm.callStack) == 0 {
		return gc.Primitive{}, fmt.Errorf("Return with no active call")
	}
	val, ok := vm.currentPeek()
	if !ok {
		ref := vm.ctx.Alloc(gc.ListData(nil))
		val = gc.Ref(ref)
	}

	n := len(vm.callStack) - 1
	frame := vm.callStack[n]
	vm.callStack = vm.callStack[:n]
	vm.scopeItems = frame.scopeItems
	vm.env = frame.env
	vm.it.Jump(frame.returnAddr)
	vm.push(val)

	if vm.ctx.ParamsValue().GcOnFuncRet {
		vm.ctx.IncCollect(1)
	}
	return val, nil
}

// execReturnModule packages the module's top-level bindings into a plain
// Object and returns it like execReturn, additionally caching the result
// against the frame's resolved path if it was opened by a Module opcode
// (§4.8, §9 "a cache keyed by absolute path").
func (vm *Interpreter) execReturnModule() (gc.Primitive, error) {
	if len(vm.callStack) == 0 {
		return gc.Primitive{}, fmt.Errorf("ReturnModule with no active module frame")
	}
	obj := gc.NewBasicObject()
	for name, v := range vm.env.Fields() {
		obj.Fields[name] = v
	}
	ref := vm.ctx.Alloc(gc.ObjectData(obj))
	val := gc.Ref(ref)

	n := len(vm.callStack) - 1
	frame := vm.callStack[n]
	vm.callStack = vm.callStack[:n]
	vm.scopeItems = frame.scopeItems
	vm.env = frame.env
	vm.it.Jump(frame.returnAddr)

	if frame.modulePath != "" {
		vm.pathCache[frame.modulePath] = val
		delete(vm.loading, frame.modulePath)
	}
	vm.push(val)
	return val, nil
}

// execModule resolves the target module's source path, serves it from the
// path cache if already loaded, otherwise compiles it on demand (§4.8) and
// opens a frame for its body -- execution continues inline in whichever
// runLoop is already active, exactly like a user-function Call, so no
// nested loop is needed here.
func (vm *Interpreter) execModule(id instr.ModId) error {
	mod, ok := vm.program.Modules[id]
	if !ok {
		return fmt.Errorf("vm: unknown module id %d", id)
	}
	path, err := vm.resolveModulePathFor(id)
	if err != nil {
		return err
	}

	if cached, ok := vm.pathCache[path]; ok {
		vm.push(cached)
		return nil
	}
	if vm.loading[path] {
		return fmt.Errorf("module %q: circular import via %s", vm.interner.Get(mod.Name), path)
	}

	if !mod.Loaded {
		if vm.loader == nil {
			return fmt.Errorf("module %q: no source loader configured", vm.interner.Get(mod.Name))
		}
		exprs, err := vm.loader.Load(path)
		if err != nil {
			return fmt.Errorf("module %q: %w", vm.interner.Get(mod.Name), err)
		}
		if err := compiler.CompileModuleBody(vm.program, id, exprs); err != nil {
			return fmt.Errorf("module %q: %w", vm.interner.Get(mod.Name), err)
		}
	}

	retAddr, ok := vm.it.CurInsId()
	if !ok {
		return fmt.Errorf("vm: cannot determine module return address")
	}
	vm.loading[path] = true
	vm.callStack = append(vm.callStack, callFrame{returnAddr: retAddr, scopeItems: vm.scopeItems, env: vm.env, modulePath: path})
	if len(vm.callStack) > vm.Metrics.MaxCallStackDepth {
		vm.Metrics.MaxCallStackDepth = len(vm.callStack)
	}
	vm.env = NewEnv()
	vm.scopeItems = []ScopeItem{&ReturnItem{}}
	vm.it.Jump(mod.StartIns)
	return nil
}

// resolveModulePathFor walks id's parent chain back to the root module,
// building the nested directory path (§6.2) the same way a filesystem
// layout mirrors nested module declarations.
func (vm *Interpreter) resolveModulePathFor(id instr.ModId) (string, error) {
	mod := vm.program.Modules[id]
	var chain []string
	cur := mod
	for cur.HasParent {
		chain = append([]string{vm.interner.Get(cur.Name)}, chain...)
		cur = vm.program.Modules[cur.Parent]
	}
	if len(chain) == 0 {
		return "", fmt.Errorf("vm: cannot resolve a path for the root module")
	}
	dir := filepath.Join(append([]string{vm.moduleDir}, chain[:len(chain)-1]...)...)
	return resolveModulePath(dir, chain[len(chain)-1])
}

// CallValue implements gc.VMContext: a synchronous, re-entrant invocation
// used by Object methods and native builtins that need to call back into
// the interpreter (§4.6, §9 "Re-entrancy through the protocol"). Unlike
// execCall it cannot rely on an enclosing runLoop to keep pulling
// instructions after it returns -- its caller is Go code expecting the
// result value immediately -- so a user-function callee runs a nested
// runLoop to completion here, with its Return routed into a throwaway
// scope-item stack so the caller's real value stack is left untouched.
func (vm *Interpreter) CallValue(callee gc.Primitive, args []gc.Primitive) (gc.Primitive, error) {
	callee = callee.Deref()
	switch {
	case callee.Kind == gc.KNativeFn:
		nf := callee.NativeVal()
		if !nf.Arity.Matches(len(args)) {
			return gc.Primitive{}, fmt.Errorf("%s: expected %s, got %d", nf.Name, arityDesc(nf.Arity), len(args))
		}
		return nf.Fn(args, vm.params())

	case callee.Kind == gc.KRef && callee.RefVal().Data().Kind == gc.DObject:
		return callee.RefVal().Data().Obj.Call(args, vm.params())

	case callee.Kind == gc.KFn:
		return vm.callUserValue(callee.FnVal(), nil, callee, args)

	case callee.Kind == gc.KRef && callee.RefVal().Data().Kind == gc.DClosure:
		cl := callee.RefVal().Data().Closure
		return vm.callUserValue(cl.Fn, cl.Captures, callee, args)

	default:
		return gc.Primitive{}, fmt.Errorf("value is not callable")
	}
}

func (vm *Interpreter) callUserValue(fnId instr.FnId, captures map[ident.Ident]gc.Primitive, self gc.Primitive, args []gc.Primitive) (gc.Primitive, error) {
	fn, ok := vm.program.Functions[fnId]
	if !ok {
		return gc.Primitive{}, fmt.Errorf("vm: unknown function id %d", fnId)
	}
	branch, ok := matchArity(fn.Sig, len(args))
	if !ok {
		return gc.Primitive{}, fmt.Errorf("no matching arity for %d argument(s)", len(args))
	}
	newEnv, err := vm.buildFrameEnv(captures, branch.Params, args, self)
	if err != nil {
		return gc.Primitive{}, err
	}

	savedItems := vm.scopeItems
	targetDepth := len(vm.callStack)
	retAddr, ok := vm.it.CurInsId()
	if !ok {
		return gc.Primitive{}, fmt.Errorf("vm: cannot determine return address")
	}
	vm.callStack = append(vm.callStack, callFrame{returnAddr: retAddr, scopeItems: []ScopeItem{&ReturnItem{}}, env: vm.env})
	if len(vm.callStack) > vm.Metrics.MaxCallStackDepth {
		vm.Metrics.MaxCallStackDepth = len(vm.callStack)
	}
	vm.env = newEnv
	vm.scopeItems = []ScopeItem{&ReturnItem{}}
	vm.it.Jump(branch.BodyPtr)

	val, err := vm.runLoop(targetDepth)
	vm.scopeItems = savedItems
	if err != nil {
		return gc.Primitive{}, err
	}
	return val, nil
}
