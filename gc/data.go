package gc

import (
	"errors"
	"fmt"
	"io"

	"github.com/Clinery1/simle-lisp/ident"
	"github.com/Clinery1/simle-lisp/instr"
)

// DataKind discriminates the variants of heap-boxed Data.
type DataKind uint8

const (
	DList DataKind = iota
	DClosure
	DObject
	// DNone is the sentinel payload of a dead or not-yet-initialized box.
	// It must never be observable through a live DataRef (§3.5 invariant).
	DNone
)

// Closure pairs a compiled function with the captured variables it closed
// over at the point its MakeFnOrClosure opcode ran.
type Closure struct {
	Fn       instr.FnId
	Captures map[ident.Ident]Primitive
}

// Data is the payload of a DataBox: everything the collector manages.
type Data struct {
	Kind    DataKind
	List    []Primitive
	Closure Closure
	Obj     Object
}

func ListData(items []Primitive) Data   { return Data{Kind: DList, List: items} }
func ClosureData(c Closure) Data        { return Data{Kind: DClosure, Closure: c} }
func ObjectData(o Object) Data          { return Data{Kind: DObject, Obj: o} }
func noneData() Data                    { return Data{Kind: DNone} }

// Trace calls visit for every DataRef directly reachable from d, the
// collector's sole means of discovering edges in the object graph.
func (d *Data) Trace(visit func(DataRef)) {
	switch d.Kind {
	case DList:
		for _, p := range d.List {
			traceIfRef(p, visit)
		}
	case DClosure:
		for _, p := range d.Closure.Captures {
			traceIfRef(p, visit)
		}
	case DObject:
		if d.Obj != nil {
			d.Obj.Trace(visit)
		}
	}
}

// traceIfRef visits p's underlying DataRef if it holds one, looking through
// a Root wrapper first; heap payloads are expected to hold plain Refs
// (Env.Get/Fields always unwrap before a value leaves the environment), but
// tracing tolerates a Root leaking in rather than silently losing an edge.
func traceIfRef(p Primitive, visit func(DataRef)) {
	p = p.Deref()
	if p.Kind == KRef {
		visit(p.ref)
	}
}

// Finalize runs just before a box holding d is reclaimed. Native resources
// (open files) release themselves here.
func (d *Data) Finalize() {
	if d.Kind == DObject && d.Obj != nil {
		d.Obj.Finalize()
	}
}

// ErrNoSuchMethod is returned by an Object's CallMethod when name does not
// resolve to anything callable, signaling the VM to retry the selector as
// a plain field get/set instead (§4.5).
var ErrNoSuchMethod = errors.New("gc: no such method")

// Object is the open dispatch protocol every heap object implements,
// whether it is a language-level object literal (BasicObject) or a native
// resource (a file handle, the GC tuning object). The VM never inspects an
// Object's internals; it only ever goes through these six operations.
type Object interface {
	// Call treats the object itself as the callee, with no method
	// selector. Most objects are not directly callable this way; only
	// objects that expose a vtable ("$") implement it meaningfully.
	Call(args []Primitive, p *Params) (Primitive, error)
	// CallMethod dispatches args to the method bound to name. Returns
	// ErrNoSuchMethod if name is not a callable member, so the caller can
	// fall back to field access.
	CallMethod(name ident.Ident, args []Primitive, p *Params) (Primitive, error)
	GetField(name ident.Ident, p *Params) (Primitive, error)
	SetField(name ident.Ident, value Primitive, p *Params) error
	Trace(visit func(DataRef))
	Finalize()
}

// VMContext is the re-entrant surface Object methods receive through
// Params: enough of the interpreter for a method body to invoke other
// callables (closures, other objects) without the gc package importing
// the vm package.
type VMContext interface {
	CallValue(callee Primitive, args []Primitive) (Primitive, error)
}

// Params bundles everything a native builtin or an Object method needs:
// a way to call back into the VM, the interner, the collector (for
// allocating new Data), and the output stream builtins like debug/any and
// std.io.stdout write to.
type Params struct {
	VM       VMContext
	Interner *ident.Interner
	GC       *Context
	Out      io.Writer
}

// VtableFieldName is the conventional field name consulted for method
// dispatch before falling back to plain field access (§4.6, GLOSSARY).
const VtableFieldName = "$"

// BasicObject is the object representation the language's own `(object
// ...)` literal compiles to: a plain Ident -> Primitive map.
type BasicObject struct {
	Fields map[ident.Ident]Primitive
}

func NewBasicObject() *BasicObject {
	return &BasicObject{Fields: make(map[ident.Ident]Primitive)}
}

func (o *BasicObject) GetField(name ident.Ident, p *Params) (Primitive, error) {
	v, ok := o.Fields[name]
	if !ok {
		return Primitive{}, fmt.Errorf("object has no field %q", p.Interner.Get(name))
	}
	return v, nil
}

func (o *BasicObject) SetField(name ident.Ident, value Primitive, p *Params) error {
	o.Fields[name] = value
	return nil
}

func (o *BasicObject) CallMethod(name ident.Ident, args []Primitive, p *Params) (Primitive, error) {
	v, ok := o.Fields[name]
	if !ok {
		return Primitive{}, ErrNoSuchMethod
	}
	switch v.Kind {
	case KFn, KNativeFn, KRef:
		return p.VM.CallValue(v, args)
	default:
		return Primitive{}, ErrNoSuchMethod
	}
}

func (o *BasicObject) Call(args []Primitive, p *Params) (Primitive, error) {
	vt, ok := o.Fields[p.Interner.Intern(VtableFieldName)]
	if !ok || vt.Kind != KRef {
		return Primitive{}, fmt.Errorf("object is not callable")
	}
	vtObj := vt.ref.Data().Obj
	if vtObj == nil {
		return Primitive{}, fmt.Errorf("object is not callable")
	}
	return vtObj.Call(args, p)
}

func (o *BasicObject) Trace(visit func(DataRef)) {
	for _, v := range o.Fields {
		traceIfRef(v, visit)
	}
}

func (o *BasicObject) Finalize() {}
