// Package builtins implements the standard bindings injected into the
// interpreter's root_env (§6.3): arithmetic/comparison operators, and the
// gcCollect/and/or/index/list/length/listPop/clone/debug/intern/fields/
// isIdent/format/split/chars/splitList/open/readLine/read/write builtins.
// It imports only gc and ident, never vm, so that builtins can be called
// re-entrantly (an Object method or a native function invoking back into
// the interpreter) without an import cycle; the VM is reached only through
// the gc.VMContext the caller threads through gc.Params (§4.6, §9
// "Re-entrancy through the protocol").
package builtins

import "github.com/Clinery1/simle-lisp/gc"

// entry is one builtin binding: its root_env name, implementation and
// declared arity, mirroring the retrieved source's `(name, func,
// ArgCount)` BUILTINS table.
type entry struct {
	name  string
	fn    gc.NativeFn
	arity gc.Arity
}

// Install allocates every builtin (and the permanent stdin/stdout native
// objects) and returns the flat name -> Primitive bindings the VM defines
// into root_env at startup. The bindings are flat, not namespaced under
// `core`/`std.*` Objects: the retrieved source's BUILTINS table binds
// every one of them directly into root_env, and §6.3's `core:`/`std.*:`
// headings are a documentation grouping, not a runtime nesting (see
// DESIGN.md).
func Install(ctx *gc.Context) map[string]gc.Primitive {
	out := make(map[string]gc.Primitive)

	install := func(entries []entry) {
		for _, e := range entries {
			out[e.name] = gc.Native(gc.NativeFunc{Name: e.name, Fn: e.fn, Arity: e.arity})
		}
	}
	install(arithmeticEntries())
	install(coreEntries())
	install(stringEntries())
	install(miscEntries())
	install(ioEntries())

	out["stdin"] = gc.Ref(ctx.AllocPermanent(gc.ObjectData(newStdHandle(stdinHandle))))
	out["stdout"] = gc.Ref(ctx.AllocPermanent(gc.ObjectData(newStdHandle(stdoutHandle))))

	return out
}
