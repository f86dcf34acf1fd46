package builtins

import (
	"fmt"
	"math"

	"github.com/Clinery1/simle-lisp/gc"
)

// arithmeticEntries ports builtins/arithmetic.rs: + - * / % fold over
// their arguments starting from (a copy of) the first; the *Assign
// variants are identical in this value-typed reimplementation, since
// Primitives have no interior mutability to distinguish "assign in place"
// from "return a new value" (§DESIGN.md).
func arithmeticEntries() []entry {
	return []entry{
		{"+", add, gc.AnyArity()},
		{"-", arithFold("-", subStep), gc.AnyArity()},
		{"*", arithFold("*", mulStep), gc.AnyArity()},
		{"/", arithFold("/", divStep), gc.AnyArity()},
		{"%", arithFold("%", modStep), gc.AnyArity()},

		{"+=", add, gc.AnyArity()},
		{"-=", arithFold("-=", subStep), gc.AnyArity()},
		{"*=", arithFold("*=", mulStep), gc.AnyArity()},
		{"/=", arithFold("/=", divStep), gc.AnyArity()},
		{"%=", arithFold("%=", modStep), gc.AnyArity()},

		{"=", equalFn, gc.AnyArity()},
		{"!=", notEqualFn, gc.AnyArity()},
		{"<", compareFn("<", func(l, r float64) bool { return l < r }, func(l, r int64) bool { return l < r }), gc.AnyArity()},
		{"<=", compareFn("<=", func(l, r float64) bool { return l <= r }, func(l, r int64) bool { return l <= r }), gc.AnyArity()},
		{">", compareFn(">", func(l, r float64) bool { return l > r }, func(l, r int64) bool { return l > r }), gc.AnyArity()},
		{">=", compareFn(">=", func(l, r float64) bool { return l >= r }, func(l, r int64) bool { return l >= r }), gc.AnyArity()},
	}
}

func add(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	if len(args) == 0 {
		return gc.Int(0), nil
	}
	first := args[0]
	for _, arg := range args[1:] {
		var err error
		first, err = addStep(first, arg, p)
		if err != nil {
			return gc.Primitive{}, err
		}
	}
	return first, nil
}

func addStep(a, b gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	switch a.Kind {
	case gc.KInt:
		if b.Kind != gc.KInt {
			return gc.Primitive{}, fmt.Errorf("type error: expected number")
		}
		return gc.Int(a.Int() + b.Int()), nil
	case gc.KFloat:
		if b.Kind != gc.KFloat {
			return gc.Primitive{}, fmt.Errorf("type error: expected float")
		}
		return gc.Float(a.FloatVal() + b.FloatVal()), nil
	case gc.KString:
		switch b.Kind {
		case gc.KString:
			return gc.Str(a.StringVal() + b.StringVal()), nil
		case gc.KChar:
			return gc.Str(a.StringVal() + string(b.CharVal())), nil
		default:
			return gc.Primitive{}, fmt.Errorf("type error: expected string or char")
		}
	case gc.KChar:
		switch b.Kind {
		case gc.KString:
			return gc.Str(string(a.CharVal()) + b.StringVal()), nil
		case gc.KChar:
			return gc.Str(string(a.CharVal()) + string(b.CharVal())), nil
		default:
			return gc.Primitive{}, fmt.Errorf("type error: expected string or char")
		}
	case gc.KRef:
		aData := a.RefVal().Data()
		if aData.Kind != gc.DObject {
			return gc.Primitive{}, fmt.Errorf("type error: + can only accept number, float, string or char")
		}
		return addObjects(aData, b, p)
	default:
		return gc.Primitive{}, fmt.Errorf("type error: + can only accept number, float, string or char")
	}
}

// addObjects merges two object literals field-by-field (the original's
// Data::Object case, fields1.extend(fields2)): every field of b overrides
// the same-named field of a, and a's other fields carry over unchanged.
// The merge produces a new object rather than mutating either operand,
// since Primitives here have no interior mutability to extend in place.
func addObjects(aData *gc.Data, b gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	b = b.Deref()
	if b.Kind != gc.KRef || b.RefVal().Data().Kind != gc.DObject {
		return gc.Primitive{}, fmt.Errorf("type error: expected object")
	}
	aObj, ok := aData.Obj.(*gc.BasicObject)
	if !ok {
		return gc.Primitive{}, fmt.Errorf("type error: expected object")
	}
	bObj, ok := b.RefVal().Data().Obj.(*gc.BasicObject)
	if !ok {
		return gc.Primitive{}, fmt.Errorf("type error: expected object")
	}

	merged := gc.NewBasicObject()
	for k, v := range aObj.Fields {
		merged.Fields[k] = v
	}
	for k, v := range bObj.Fields {
		merged.Fields[k] = v
	}
	return gc.Ref(p.GC.Alloc(gc.ObjectData(merged))), nil
}

type numStep func(a, b gc.Primitive) (gc.Primitive, error)

func arithFold(name string, step numStep) gc.NativeFn {
	return func(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
		if len(args) == 0 {
			return gc.Int(0), nil
		}
		first := args[0]
		for _, arg := range args[1:] {
			var err error
			first, err = step(first, arg)
			if err != nil {
				return gc.Primitive{}, fmt.Errorf("%s: %w", name, err)
			}
		}
		return first, nil
	}
}

func subStep(a, b gc.Primitive) (gc.Primitive, error) { return numOp(a, b, func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y }) }
func mulStep(a, b gc.Primitive) (gc.Primitive, error) { return numOp(a, b, func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y }) }
func divStep(a, b gc.Primitive) (gc.Primitive, error) {
	return numOp(a, b, func(x, y int64) int64 {
		if y == 0 {
			return 0
		}
		return x / y
	}, func(x, y float64) float64 { return x / y })
}
func modStep(a, b gc.Primitive) (gc.Primitive, error) {
	return numOp(a, b, func(x, y int64) int64 {
		if y == 0 {
			return 0
		}
		return x % y
	}, math.Mod)
}

func numOp(a, b gc.Primitive, intOp func(int64, int64) int64, floatOp func(float64, float64) float64) (gc.Primitive, error) {
	switch a.Kind {
	case gc.KInt:
		if b.Kind != gc.KInt {
			return gc.Primitive{}, fmt.Errorf("type error: expected number")
		}
		return gc.Int(intOp(a.Int(), b.Int())), nil
	case gc.KFloat:
		if b.Kind != gc.KFloat {
			return gc.Primitive{}, fmt.Errorf("type error: expected float")
		}
		return gc.Float(floatOp(a.FloatVal(), b.FloatVal())), nil
	default:
		return gc.Primitive{}, fmt.Errorf("type error: can only accept number or float")
	}
}

func equalFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	if len(args) == 0 {
		return gc.Bool(true), nil
	}
	first := args[len(args)-1]
	for _, arg := range args[:len(args)-1] {
		if !arg.Equal(first) {
			return gc.Bool(false), nil
		}
	}
	return gc.Bool(true), nil
}

func notEqualFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	if len(args) == 0 {
		return gc.Bool(true), nil
	}
	first := args[len(args)-1]
	for _, arg := range args[:len(args)-1] {
		if arg.Equal(first) {
			return gc.Bool(false), nil
		}
	}
	return gc.Bool(true), nil
}

// compareFn reproduces the corpus's pairwise-against-last-arg comparison
// chain (§6.3): every earlier argument is compared against the final one.
func compareFn(name string, floatOk func(l, r float64) bool, intOk func(l, r int64) bool) gc.NativeFn {
	return func(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
		if len(args) == 0 {
			return gc.Bool(true), nil
		}
		last := args[len(args)-1]
		for _, arg := range args[:len(args)-1] {
			switch {
			case arg.Kind == gc.KInt && last.Kind == gc.KInt:
				if !intOk(arg.Int(), last.Int()) {
					return gc.Bool(false), nil
				}
			case arg.Kind == gc.KFloat && last.Kind == gc.KFloat:
				if !floatOk(arg.FloatVal(), last.FloatVal()) {
					return gc.Bool(false), nil
				}
			default:
				return gc.Bool(false), nil
			}
		}
		return gc.Bool(true), nil
	}
}
