package builtins

import (
	"fmt"

	"github.com/Clinery1/simle-lisp/gc"
)

// miscEntries ports builtins/misc.rs's splitList.
func miscEntries() []entry {
	return []entry{
		{"splitList", splitListFn, gc.ExactArity(2)},
	}
}

func splitListFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	v := args[0].Deref()
	if v.Kind != gc.KRef {
		return gc.Primitive{}, fmt.Errorf("`splitList` can only accept Lists")
	}
	data := v.RefVal().Data()
	if data.Kind != gc.DList {
		return gc.Primitive{}, fmt.Errorf("`splitList` can only accept Lists")
	}

	idxArg := args[1]
	if idxArg.Kind != gc.KInt {
		return gc.Primitive{}, fmt.Errorf("`splitList` split index can only be a Number")
	}
	idx := idxArg.Int()
	if idx < 0 || idx > int64(len(data.List)) {
		return gc.Primitive{}, fmt.Errorf("split index is out of range for list")
	}

	firstItems := make([]gc.Primitive, idx)
	copy(firstItems, data.List[:idx])
	secondItems := make([]gc.Primitive, int64(len(data.List))-idx)
	copy(secondItems, data.List[idx:])

	firstRef := gc.Ref(p.GC.Alloc(gc.ListData(firstItems)))
	secondRef := gc.Ref(p.GC.Alloc(gc.ListData(secondItems)))
	return gc.Ref(p.GC.Alloc(gc.ListData([]gc.Primitive{firstRef, secondRef}))), nil
}
