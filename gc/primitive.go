// Package gc implements the value representation (Primitive/Data), the
// open object protocol, and the incremental tri-color treadmill collector
// that owns every heap-allocated Data. Primitive, Data and the collector
// live in one package, mirroring how the reference implementation keeps
// its value representation and its collector in the same module: the two
// are inseparable, since liveness of a Primitive's Ref variant is exactly
// what the collector tracks.
package gc

import (
	"fmt"

	"github.com/Clinery1/simle-lisp/ident"
	"github.com/Clinery1/simle-lisp/instr"
)

// Kind discriminates the variant currently held by a Primitive.
type Kind uint8

const (
	KInt Kind = iota
	KFloat
	KChar
	KByte
	KBool
	KIdent
	KNone
	KString
	KRef
	KRoot
	KFn
	KNativeFn
)

func (k Kind) String() string {
	switch k {
	case KInt:
		return "Int"
	case KFloat:
		return "Float"
	case KChar:
		return "Char"
	case KByte:
		return "Byte"
	case KBool:
		return "Bool"
	case KIdent:
		return "Ident"
	case KNone:
		return "None"
	case KString:
		return "String"
	case KRef:
		return "Ref"
	case KRoot:
		return "Root"
	case KFn:
		return "Fn"
	case KNativeFn:
		return "NativeFn"
	default:
		return "Unknown"
	}
}

// Arity describes how many arguments a native function accepts: either
// exactly N, or any number.
type Arity struct {
	Any   bool
	Exact int
}

// ExactArity builds an Arity requiring exactly n arguments.
func ExactArity(n int) Arity { return Arity{Exact: n} }

// AnyArity builds an Arity accepting any argument count.
func AnyArity() Arity { return Arity{Any: true} }

// Matches reports whether n arguments satisfy the arity.
func (a Arity) Matches(n int) bool {
	return a.Any || a.Exact == n
}

// NativeFn is a builtin implemented in Go. It receives the already
// evaluated arguments and a Params bundle for re-entrant allocation/calls.
type NativeFn func(args []Primitive, p *Params) (Primitive, error)

// NativeFunc pairs a NativeFn with the arity the VM must validate before
// invoking it (§4.5).
type NativeFunc struct {
	Name  string
	Fn    NativeFn
	Arity Arity
}

// Primitive is the value that lives on the VM's value stack and in
// variable slots: everything that is cheap to copy. It is a tagged union
// expressed as a flat struct rather than an interface, trading a few spare
// bytes for the branch-free, allocation-free copies the design calls for.
type Primitive struct {
	Kind Kind

	i      int64
	f      float64
	c      rune
	b      byte
	bl     bool
	id     ident.Ident
	s      string
	ref    DataRef
	root   RootedRef
	fn     instr.FnId
	native NativeFunc
}

func Int(v int64) Primitive      { return Primitive{Kind: KInt, i: v} }
func Float(v float64) Primitive  { return Primitive{Kind: KFloat, f: v} }
func Char(v rune) Primitive      { return Primitive{Kind: KChar, c: v} }
func Byte(v byte) Primitive      { return Primitive{Kind: KByte, b: v} }
func Bool(v bool) Primitive      { return Primitive{Kind: KBool, bl: v} }
func IdentVal(v ident.Ident) Primitive { return Primitive{Kind: KIdent, id: v} }
func None() Primitive            { return Primitive{Kind: KNone} }
func Str(v string) Primitive     { return Primitive{Kind: KString, s: v} }
func Ref(r DataRef) Primitive    { return Primitive{Kind: KRef, ref: r} }
func Root(r RootedRef) Primitive { return Primitive{Kind: KRoot, root: r} }
func Fn(id instr.FnId) Primitive { return Primitive{Kind: KFn, fn: id} }
func Native(nf NativeFunc) Primitive { return Primitive{Kind: KNativeFn, native: nf} }

func (p Primitive) IsNone() bool { return p.Kind == KNone }

func (p Primitive) Int() int64           { return p.i }
func (p Primitive) FloatVal() float64    { return p.f }
func (p Primitive) CharVal() rune        { return p.c }
func (p Primitive) ByteVal() byte        { return p.b }
func (p Primitive) BoolVal() bool        { return p.bl }
func (p Primitive) IdentVal() ident.Ident { return p.id }
func (p Primitive) StringVal() string    { return p.s }
func (p Primitive) RefVal() DataRef      { return p.ref }
func (p Primitive) RootVal() RootedRef   { return p.root }
func (p Primitive) FnVal() instr.FnId    { return p.fn }
func (p Primitive) NativeVal() NativeFunc { return p.native }

// Deref resolves Root primitives down to the underlying Ref, leaving every
// other kind untouched. Most call sites that only care about "is this a
// Ref" should call Deref first.
func (p Primitive) Deref() Primitive {
	if p.Kind == KRoot {
		return Ref(p.root.Ref())
	}
	return p
}

// Truthy implements the boolean coercion used by and/or and by
// JumpIfTrue/JumpIfFalse: only Bool(true) is true, everything else is
// false. The language has no separate "truthy" notion of numbers/strings.
func (p Primitive) Truthy() bool {
	return p.Kind == KBool && p.bl
}

// Equal implements the "loose at root" equality used by `=`/`!=`: same
// kind and same scalar payload; Refs compare by pointer identity of the
// underlying DataBox, not structurally (structural equality on lists is a
// builtin concern, not Primitive's).
func (p Primitive) Equal(other Primitive) bool {
	a, b := p.Deref(), other.Deref()
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KInt:
		return a.i == b.i
	case KFloat:
		return a.f == b.f
	case KChar:
		return a.c == b.c
	case KByte:
		return a.b == b.b
	case KBool:
		return a.bl == b.bl
	case KIdent:
		return a.id == b.id
	case KNone:
		return true
	case KString:
		return a.s == b.s
	case KRef:
		return a.ref.box == b.ref.box
	case KFn:
		return a.fn == b.fn
	default:
		return false
	}
}

func (p Primitive) String() string {
	switch p.Kind {
	case KInt:
		return fmt.Sprintf("%d", p.i)
	case KFloat:
		return fmt.Sprintf("%g", p.f)
	case KChar:
		return fmt.Sprintf("%c", p.c)
	case KByte:
		return fmt.Sprintf("%d", p.b)
	case KBool:
		return fmt.Sprintf("%t", p.bl)
	case KIdent:
		return fmt.Sprintf("<ident %d>", p.id)
	case KNone:
		return "None"
	case KString:
		return p.s
	case KRef, KRoot:
		return "<ref>"
	case KFn:
		return "<fn>"
	case KNativeFn:
		return fmt.Sprintf("<nativeFn: %s>", p.native.Name)
	default:
		return "<unknown>"
	}
}
