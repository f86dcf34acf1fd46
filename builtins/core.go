package builtins

import (
	"fmt"

	"github.com/Clinery1/simle-lisp/gc"
)

// coreEntries ports builtins/core.rs, plus the §SPEC_FULL supplement
// fields/1 and isIdent/1 (named in §6.3 but not walked through in the
// retrieved source).
func coreEntries() []entry {
	return []entry{
		{"gcCollect", gcCollectFn, gc.ExactArity(0)},
		{"and", andFn, gc.AnyArity()},
		{"or", orFn, gc.AnyArity()},
		{"index", indexFn, gc.ExactArity(2)},
		{"list", listFn, gc.AnyArity()},
		{"length", lengthFn, gc.ExactArity(1)},
		{"listPop", listPopFn, gc.ExactArity(1)},
		{"clone", cloneFn, gc.ExactArity(1)},
		{"debug", debugFn, gc.AnyArity()},
		{"intern", internFn, gc.ExactArity(1)},
		{"fields", fieldsFn, gc.ExactArity(1)},
		{"isIdent", isIdentFn, gc.ExactArity(1)},
	}
}

func gcCollectFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	return gc.Int(int64(p.GC.Collect())), nil
}

func andFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	for _, a := range args {
		if !a.Truthy() {
			return gc.Bool(false), nil
		}
	}
	return gc.Bool(true), nil
}

func orFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	for _, a := range args {
		if a.Truthy() {
			return gc.Bool(true), nil
		}
	}
	return gc.Bool(false), nil
}

func indexFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	target, idxArg := args[0].Deref(), args[1]

	if target.Kind == gc.KRef && target.RefVal().Data().Kind == gc.DObject {
		if idxArg.Kind != gc.KIdent {
			return gc.Primitive{}, fmt.Errorf("`index` on an object requires an Ident selector")
		}
		return target.RefVal().Data().Obj.GetField(idxArg.IdentVal(), p)
	}

	if idxArg.Kind != gc.KInt {
		return gc.Primitive{}, fmt.Errorf("`index` can only index with a number")
	}
	i := idxArg.Int()

	if target.Kind == gc.KRef {
		data := target.RefVal().Data()
		if data.Kind == gc.DList {
			if i < 0 || i >= int64(len(data.List)) {
				return gc.Primitive{}, fmt.Errorf("index out of bounds")
			}
			return data.List[i], nil
		}
	}
	return gc.Primitive{}, fmt.Errorf("`index` can only index a list with a number")
}

func listFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	items := make([]gc.Primitive, len(args))
	copy(items, args)
	return gc.Ref(p.GC.Alloc(gc.ListData(items))), nil
}

func lengthFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	v := args[0].Deref()
	switch v.Kind {
	case gc.KString:
		return gc.Int(int64(len(v.StringVal()))), nil
	case gc.KRef:
		data := v.RefVal().Data()
		if data.Kind == gc.DList {
			return gc.Int(int64(len(data.List))), nil
		}
	}
	return gc.Int(0), nil
}

func listPopFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	v := args[0].Deref()
	if v.Kind != gc.KRef {
		return gc.Primitive{}, fmt.Errorf("type error: `listPop` only accepts Lists")
	}
	data := v.RefVal().Data()
	if data.Kind != gc.DList {
		return gc.Primitive{}, fmt.Errorf("type error: `listPop` only accepts Lists")
	}
	if len(data.List) == 0 {
		return gc.None(), nil
	}
	last := data.List[len(data.List)-1]
	data.List = data.List[:len(data.List)-1]
	return last, nil
}

func cloneFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	v := args[0].Deref()
	if v.Kind != gc.KRef {
		return v, nil
	}
	data := *v.RefVal().Data()
	switch data.Kind {
	case gc.DList:
		items := make([]gc.Primitive, len(data.List))
		copy(items, data.List)
		return gc.Ref(p.GC.Alloc(gc.ListData(items))), nil
	case gc.DObject:
		if bo, ok := data.Obj.(*gc.BasicObject); ok {
			clone := gc.NewBasicObject()
			for k, val := range bo.Fields {
				clone.Fields[k] = val
			}
			return gc.Ref(p.GC.Alloc(gc.ObjectData(clone))), nil
		}
		return v, nil
	default:
		return gc.Ref(p.GC.Alloc(data)), nil
	}
}

func debugFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	for i, a := range args {
		if i > 0 {
			fmt.Fprint(p.Out, " ")
		}
		fmt.Fprintf(p.Out, "%s", a.String())
	}
	fmt.Fprintln(p.Out)
	return gc.None(), nil
}

func internFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	v := args[0]
	switch v.Kind {
	case gc.KString:
		return gc.IdentVal(p.Interner.Intern(v.StringVal())), nil
	case gc.KIdent:
		return gc.Str(p.Interner.Get(v.IdentVal())), nil
	default:
		return gc.Primitive{}, fmt.Errorf("type error: `intern` can only accept String or Ident")
	}
}

func fieldsFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	v := args[0].Deref()
	if v.Kind != gc.KRef {
		return gc.Primitive{}, fmt.Errorf("type error: `fields` can only accept an Object")
	}
	data := v.RefVal().Data()
	bo, ok := data.Obj.(*gc.BasicObject)
	if !ok {
		return gc.Primitive{}, fmt.Errorf("type error: `fields` can only accept an Object")
	}
	items := make([]gc.Primitive, 0, len(bo.Fields))
	for name := range bo.Fields {
		items = append(items, gc.IdentVal(name))
	}
	return gc.Ref(p.GC.Alloc(gc.ListData(items))), nil
}

func isIdentFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	return gc.Bool(args[0].Kind == gc.KIdent), nil
}
