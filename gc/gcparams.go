package gc

import (
	"fmt"

	"github.com/Clinery1/simle-lisp/ident"
)

// ParamsObject is the native Object that exposes the collector's GcParams
// as live, settable fields to the language (§4.7 "Tunables... exposed to
// the language as a live Object so programs can self-tune"). The
// interpreter allocates it once, permanently, at startup and binds it as
// `gcParams` in the root environment.
type ParamsObject struct {
	ctx *Context
}

// NewParamsObject wraps ctx's tunables as a language-facing Object.
func NewParamsObject(ctx *Context) *ParamsObject {
	return &ParamsObject{ctx: ctx}
}

var gcParamsFields = []string{
	"initialItems", "minFreeCount", "allocCount", "incrementalMin",
	"incrementalDivisor", "markGreyCount", "markDeadCount",
	"gcOnFuncRet", "gcOnFuncCall",
}

func (o *ParamsObject) GetField(name ident.Ident, p *Params) (Primitive, error) {
	field := p.Interner.Get(name)
	params := o.ctx.ParamsValue()
	switch field {
	case "initialItems":
		return Int(int64(params.InitialItems)), nil
	case "minFreeCount":
		return Int(int64(params.MinFreeCount)), nil
	case "allocCount":
		return Int(int64(params.AllocCount)), nil
	case "incrementalMin":
		return Int(int64(params.IncrementalMin)), nil
	case "incrementalDivisor":
		return Int(int64(params.IncrementalDivisor)), nil
	case "markGreyCount":
		return Int(int64(params.MarkGreyCount)), nil
	case "markDeadCount":
		return Int(int64(params.MarkDeadCount)), nil
	case "gcOnFuncRet":
		return Bool(params.GcOnFuncRet), nil
	case "gcOnFuncCall":
		return Bool(params.GcOnFuncCall), nil
	default:
		return Primitive{}, fmt.Errorf("gc params object has no field %q", field)
	}
}

func (o *ParamsObject) SetField(name ident.Ident, value Primitive, p *Params) error {
	field := p.Interner.Get(name)
	params := o.ctx.ParamsValue()
	switch field {
	case "initialItems":
		params.InitialItems = int(value.Int())
	case "minFreeCount":
		params.MinFreeCount = int(value.Int())
	case "allocCount":
		params.AllocCount = int(value.Int())
	case "incrementalMin":
		params.IncrementalMin = int(value.Int())
	case "incrementalDivisor":
		params.IncrementalDivisor = int(value.Int())
	case "markGreyCount":
		params.MarkGreyCount = int(value.Int())
	case "markDeadCount":
		params.MarkDeadCount = int(value.Int())
	case "gcOnFuncRet":
		params.GcOnFuncRet = value.BoolVal()
	case "gcOnFuncCall":
		params.GcOnFuncCall = value.BoolVal()
	default:
		return fmt.Errorf("gc params object has no field %q", field)
	}
	o.ctx.SetParamsValue(params)
	return nil
}

func (o *ParamsObject) Call(args []Primitive, p *Params) (Primitive, error) {
	return Primitive{}, fmt.Errorf("gc params object is not callable")
}

func (o *ParamsObject) CallMethod(name ident.Ident, args []Primitive, p *Params) (Primitive, error) {
	return Primitive{}, ErrNoSuchMethod
}

func (o *ParamsObject) Trace(visit func(DataRef)) {}

func (o *ParamsObject) Finalize() {}
