package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternIsStable(t *testing.T) {
	in := New()

	a := in.Intern("foo")
	b := in.Intern("foo")
	assert.Equal(t, a, b, "interning the same string twice must yield the same Ident")

	c := in.Intern("bar")
	assert.NotEqual(t, a, c)
}

func TestGetRoundTrips(t *testing.T) {
	in := New()

	tests := []string{"x", "recur", "std.io.stdin", ""}
	for _, s := range tests {
		id := in.Intern(s)
		require.Equal(t, s, in.Get(id))
	}
}

func TestLookupMissing(t *testing.T) {
	in := New()
	in.Intern("known")

	_, ok := in.Lookup("unknown")
	assert.False(t, ok)

	id, ok := in.Lookup("known")
	require.True(t, ok)
	assert.Equal(t, "known", in.Get(id))
}

func TestLenCountsDistinctIdents(t *testing.T) {
	in := New()
	in.Intern("a")
	in.Intern("b")
	in.Intern("a")

	assert.Equal(t, 2, in.Len())
}
