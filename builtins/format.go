package builtins

import (
	"fmt"
	"strings"

	"github.com/Clinery1/simle-lisp/gc"
)

// stringEntries ports builtins/string.rs's format/split/chars.
func stringEntries() []entry {
	return []entry{
		{"format", formatFn, gc.AnyArity()},
		{"split", splitFn, gc.ExactArity(2)},
		{"chars", charsFn, gc.ExactArity(1)},
	}
}

func formatFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	var b strings.Builder
	for _, a := range args {
		formatPrimitive(&b, a)
	}
	return gc.Str(b.String()), nil
}

func formatPrimitive(b *strings.Builder, v gc.Primitive) {
	v = v.Deref()
	switch v.Kind {
	case gc.KChar:
		b.WriteRune(v.CharVal())
	case gc.KRef:
		data := v.RefVal().Data()
		if data.Kind == gc.DList {
			b.WriteByte('(')
			for i, item := range data.List {
				if i > 0 {
					b.WriteByte(' ')
				}
				formatPrimitive(b, item)
			}
			b.WriteByte(')')
			return
		}
		b.WriteString("<object>")
	case gc.KString:
		b.WriteString(v.StringVal())
	case gc.KInt:
		fmt.Fprintf(b, "%d", v.Int())
	case gc.KFloat:
		fmt.Fprintf(b, "%g", v.FloatVal())
	case gc.KBool:
		fmt.Fprintf(b, "%t", v.BoolVal())
	case gc.KFn:
		b.WriteString("<fn>")
	case gc.KNativeFn:
		fmt.Fprintf(b, "<nativeFn: %s>", v.NativeVal().Name)
	case gc.KNone:
		b.WriteString("None")
	case gc.KIdent:
		b.WriteString("<ident>")
	default:
		b.WriteString("<unknown>")
	}
}

func splitFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	s, ok := args[0].Deref(), true
	if s.Kind != gc.KString {
		ok = false
	}
	if !ok {
		return gc.Primitive{}, fmt.Errorf("`split` can only accept Strings")
	}

	var sep string
	switch args[1].Kind {
	case gc.KString:
		sep = args[1].StringVal()
	case gc.KChar:
		sep = string(args[1].CharVal())
	default:
		return gc.Primitive{}, fmt.Errorf("`split` can only accept String or Char as the second argument")
	}

	parts := strings.Split(s.StringVal(), sep)
	items := make([]gc.Primitive, len(parts))
	for i, part := range parts {
		items[i] = gc.Str(part)
	}
	return gc.Ref(p.GC.Alloc(gc.ListData(items))), nil
}

func charsFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	v := args[0].Deref()
	if v.Kind != gc.KString {
		return gc.Primitive{}, fmt.Errorf("`chars` can only accept Strings")
	}
	var items []gc.Primitive
	for _, r := range v.StringVal() {
		items = append(items, gc.Char(r))
	}
	return gc.Ref(p.GC.Alloc(gc.ListData(items))), nil
}
