package instr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAppendsInOrder(t *testing.T) {
	s := New()
	a := s.Push(PushN{Value: 1})
	b := s.Push(PushN{Value: 2})
	c := s.Push(Exit{})

	it := s.Iter()
	var ids []Id
	for {
		id, _, ok := it.Next()
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	assert.Equal(t, []Id{a, b, c}, ids)
}

func TestInsertAfterDoesNotRenumberExistingIds(t *testing.T) {
	s := New()
	a := s.Push(PushN{Value: 1})
	b := s.Push(PushN{Value: 2})

	// Insert a new opcode between a and b; a and b's ids must not change.
	mid := s.InsertAfter(a, PushN{Value: 99})

	require.NotEqual(t, a, mid)
	require.NotEqual(t, b, mid)

	it := s.Iter()
	var vals []int64
	for {
		_, ins, ok := it.Next()
		if !ok {
			break
		}
		vals = append(vals, ins.(PushN).Value)
	}
	assert.Equal(t, []int64{1, 99, 2}, vals, "execution order must reflect the insertion")
	assert.Equal(t, int64(1), s.Get(a).(PushN).Value, "a's payload and id must be unchanged")
	assert.Equal(t, int64(2), s.Get(b).(PushN).Value, "b's payload and id must be unchanged")
}

func TestInsertBeforeSplicesAtHead(t *testing.T) {
	s := New()
	a := s.Push(PushN{Value: 1})
	pre := s.InsertBefore(a, PushN{Value: 0})

	it := s.Iter()
	id, ins, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, pre, id)
	assert.Equal(t, int64(0), ins.(PushN).Value)
}

func TestReserveThenSetBackpatchesPayload(t *testing.T) {
	s := New()
	placeholder := s.Reserve()
	s.Push(PushN{Value: 1})

	// Backpatch the placeholder into a real jump once its target is known.
	target := s.NextId()
	s.Set(placeholder, Jump{Target: target})

	assert.Equal(t, Jump{Target: target}, s.Get(placeholder))
}

func TestJumpRelocatesIterator(t *testing.T) {
	s := New()
	a := s.Push(PushN{Value: 1})
	_ = a
	b := s.Push(PushN{Value: 2})
	c := s.Push(PushN{Value: 3})

	it := s.Iter()
	it.Jump(c)
	id, ins, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, c, id)
	assert.Equal(t, int64(3), ins.(PushN).Value)

	it.Jump(b)
	id, ins, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, b, id)
	assert.Equal(t, int64(2), ins.(PushN).Value)
}

func TestNextInsIdPeeksWithoutConsuming(t *testing.T) {
	s := New()
	a := s.Push(PushN{Value: 1})
	b := s.Push(PushN{Value: 2})

	it := s.Iter()
	it.Jump(a)
	next, ok := it.NextInsId()
	require.True(t, ok)
	assert.Equal(t, b, next)

	// Peeking must not have advanced the iterator.
	id, _, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, a, id)
}
