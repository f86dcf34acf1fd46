package vm

import (
	"fmt"

	"github.com/Clinery1/simle-lisp/gc"
	"github.com/Clinery1/simle-lisp/ident"
)

// Env is a stack of scopes over a shared Ident -> value-stack mapping
// (§3.6). Pushing a scope opens a new frame for Define to register names
// into; popping it retires exactly those names, uncovering whatever
// binding (if any) was shadowed.
type Env struct {
	scopes []map[ident.Ident]bool
	values map[ident.Ident][]gc.Primitive
}

// NewEnv returns an Env with one open scope, ready for top-level Defines.
func NewEnv() *Env {
	e := &Env{values: make(map[ident.Ident][]gc.Primitive)}
	e.PushScope()
	return e
}

// PushScope opens a new scope on top of the stack.
func (e *Env) PushScope() {
	e.scopes = append(e.scopes, make(map[ident.Ident]bool))
}

// PopScope retires the current scope, popping one binding for every Ident
// it introduced and unrooting it if it held a heap reference (§4.7: a
// binding protects its value only for as long as its name stays in scope).
func (e *Env) PopScope() {
	n := len(e.scopes) - 1
	top := e.scopes[n]
	e.scopes = e.scopes[:n]
	for name := range top {
		stack := e.values[name]
		unroot(stack[len(stack)-1])
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			delete(e.values, name)
		} else {
			e.values[name] = stack
		}
	}
}

// rootBinding wraps a heap reference in a RootedRef before it enters a
// binding slot, so the value survives GC cycles for as long as the name
// stays bound, independent of whether anything else still points to it.
func rootBinding(value gc.Primitive) gc.Primitive {
	if value.Kind != gc.KRef {
		return value
	}
	return gc.Root(gc.NewRoot(value.RefVal()))
}

// unroot releases the RootedRef a binding slot held, if any.
func unroot(value gc.Primitive) {
	if value.Kind == gc.KRoot {
		value.RootVal().Unroot()
	}
}

// Define introduces name in the current scope. It is an error to define
// the same name twice in the same scope (§3.6).
func (e *Env) Define(name ident.Ident, value gc.Primitive) error {
	top := e.scopes[len(e.scopes)-1]
	if top[name] {
		return fmt.Errorf("duplicate definition in the same scope")
	}
	top[name] = true
	e.values[name] = append(e.values[name], rootBinding(value))
	return nil
}

// Set overwrites the nearest existing binding for name, erroring if none
// exists in any enclosing scope (§3.6, resolving the corpus's open
// question in favor of "update nearest existing binding").
func (e *Env) Set(name ident.Ident, value gc.Primitive) error {
	stack := e.values[name]
	if len(stack) == 0 {
		return fmt.Errorf("set of undefined variable")
	}
	unroot(stack[len(stack)-1])
	stack[len(stack)-1] = rootBinding(value)
	return nil
}

// Get resolves the currently visible binding for name, if any, unwrapping
// its RootedRef so callers only ever see plain Refs (§3.5).
func (e *Env) Get(name ident.Ident) (gc.Primitive, bool) {
	stack := e.values[name]
	if len(stack) == 0 {
		return gc.Primitive{}, false
	}
	return stack[len(stack)-1].Deref(), true
}

// Fields snapshots every currently-visible top-level binding into a
// name->value map, used by ReturnModule to package a module's top-level
// env as an Object (§4.4, §4.8). Values are unwrapped to plain Refs, since
// a rooted binding must never leak into heap-traced payload data.
func (e *Env) Fields() map[ident.Ident]gc.Primitive {
	out := make(map[ident.Ident]gc.Primitive, len(e.values))
	for name, stack := range e.values {
		if len(stack) > 0 {
			out[name] = stack[len(stack)-1].Deref()
		}
	}
	return out
}
