package builtins

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clinery1/simle-lisp/gc"
	"github.com/Clinery1/simle-lisp/ident"
)

type fakeVM struct{}

func (fakeVM) CallValue(callee gc.Primitive, args []gc.Primitive) (gc.Primitive, error) {
	return gc.None(), nil
}

func newParams(t *testing.T) (*gc.Params, *gc.Context) {
	t.Helper()
	ctx := gc.NewContext(gc.DefaultParams())
	return &gc.Params{
		VM:       fakeVM{},
		Interner: ident.New(),
		GC:       ctx,
		Out:      &bytes.Buffer{},
	}, ctx
}

func call(t *testing.T, fn gc.NativeFn, p *gc.Params, args ...gc.Primitive) gc.Primitive {
	t.Helper()
	v, err := fn(args, p)
	require.NoError(t, err)
	return v
}

func TestAddFoldsNumbers(t *testing.T) {
	p, _ := newParams(t)
	v := call(t, add, p, gc.Int(1), gc.Int(2), gc.Int(3))
	assert.Equal(t, int64(6), v.Int())
}

func TestAddConcatenatesStrings(t *testing.T) {
	p, _ := newParams(t)
	v := call(t, add, p, gc.Str("foo"), gc.Str("bar"))
	assert.Equal(t, "foobar", v.StringVal())
}

func TestModFloatMatchesMathMod(t *testing.T) {
	p, _ := newParams(t)
	v := call(t, arithFold("%", modStep), p, gc.Float(5.0), gc.Float(3.0))
	assert.Equal(t, 2.0, v.FloatVal())
}

func TestModFloatNegativeDivisorTerminates(t *testing.T) {
	p, _ := newParams(t)
	v := call(t, arithFold("%", modStep), p, gc.Float(5.0), gc.Float(-2.0))
	assert.Equal(t, 1.0, v.FloatVal())
}

func TestModFloatZeroDivisorTerminates(t *testing.T) {
	p, _ := newParams(t)
	v := call(t, arithFold("%", modStep), p, gc.Float(5.0), gc.Float(0.0))
	assert.True(t, math.IsNaN(v.FloatVal()))
}

func TestIndexOutOfBoundsErrors(t *testing.T) {
	p, ctx := newParams(t)
	list := gc.Ref(ctx.Alloc(gc.ListData([]gc.Primitive{gc.Int(1), gc.Int(2)})))
	_, err := indexFn([]gc.Primitive{list, gc.Int(2)}, p)
	assert.Error(t, err)

	v, err := indexFn([]gc.Primitive{list, gc.Int(1)}, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int())
}

func TestListPopReturnsLastElement(t *testing.T) {
	p, ctx := newParams(t)
	list := gc.Ref(ctx.Alloc(gc.ListData([]gc.Primitive{gc.Int(1), gc.Int(2)})))
	v := call(t, listPopFn, p, list)
	assert.Equal(t, int64(2), v.Int())
	assert.Equal(t, 1, len(list.RefVal().Data().List))
}

func TestInternRoundTrips(t *testing.T) {
	p, _ := newParams(t)
	id := call(t, internFn, p, gc.Str("hello"))
	require.Equal(t, gc.KIdent, id.Kind)
	back := call(t, internFn, p, id)
	assert.Equal(t, "hello", back.StringVal())
}

func TestCharsThenFormatRoundTrips(t *testing.T) {
	p, ctx := newParams(t)
	chars := call(t, charsFn, p, gc.Str("hi"))
	_ = ctx
	joined := call(t, formatFn, p, chars.RefVal().Data().List[0], chars.RefVal().Data().List[1])
	assert.Equal(t, "hi", joined.StringVal())
}

func TestSplitListAtBoundary(t *testing.T) {
	p, ctx := newParams(t)
	list := gc.Ref(ctx.Alloc(gc.ListData([]gc.Primitive{gc.Int(1), gc.Int(2), gc.Int(3)})))
	out := call(t, splitListFn, p, list, gc.Int(3))
	halves := out.RefVal().Data().List
	require.Len(t, halves, 2)
	assert.Equal(t, 3, len(halves[0].RefVal().Data().List))
	assert.Equal(t, 0, len(halves[1].RefVal().Data().List))
}

func TestGcCollectReturnsFreedCount(t *testing.T) {
	p, ctx := newParams(t)
	root := ctx.Alloc(gc.ListData(nil))
	root.SetRoot()
	defer root.ClearRoot()
	for i := 0; i < 5; i++ {
		ctx.Alloc(gc.ListData(nil))
	}
	v := call(t, gcCollectFn, p)
	assert.GreaterOrEqual(t, v.Int(), int64(0))
}

func TestCompareChainsAgainstLastArg(t *testing.T) {
	p, _ := newParams(t)
	lt := compareFn("<", func(l, r float64) bool { return l < r }, func(l, r int64) bool { return l < r })
	v := call(t, lt, p, gc.Int(1), gc.Int(2), gc.Int(3))
	assert.True(t, v.Truthy())

	v = call(t, lt, p, gc.Int(5), gc.Int(2), gc.Int(3))
	assert.False(t, v.Truthy())
}
