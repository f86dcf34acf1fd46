package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallParams() GcParams {
	p := DefaultParams()
	p.InitialItems = 8
	p.AllocCount = 4
	p.MinFreeCount = 2
	p.MarkGreyCount = 4
	p.MarkDeadCount = 4
	p.IncrementalMin = 4
	p.IncrementalDivisor = 2
	return p
}

// ringIsConsistent walks every region and asserts the x.next.prev == x /
// x.prev.next == x invariant from §8.
func ringIsConsistent(t *testing.T, c *Context) {
	t.Helper()
	regions := []region{c.dead, c.white, c.grey, c.black}
	seen := 0
	for _, r := range regions {
		if r.len == 0 {
			continue
		}
		n := r.head
		for i := 0; i < r.len; i++ {
			require.Equal(t, n, n.next.prev, "next.prev must equal self")
			require.Equal(t, n, n.prev.next, "prev.next must equal self")
			n = n.next
			seen++
		}
	}
	assert.Equal(t, c.itemCount, seen, "sum of region lengths must equal total allocated boxes")
}

func TestAllocProducesGreyNode(t *testing.T) {
	c := NewContext(smallParams())
	ref := c.Alloc(ListData(nil))

	assert.NotEqual(t, flags(0), ref.box.flags&flagGrey, "freshly allocated nodes must be grey")
	ringIsConsistent(t, c)
}

func TestRegionLengthsSumToTotal(t *testing.T) {
	c := NewContext(smallParams())
	for i := 0; i < 20; i++ {
		c.Alloc(ListData(nil))
	}
	stats := c.Stats()
	assert.Equal(t, stats.Total, stats.Dead+stats.White+stats.Grey+stats.Black)
	ringIsConsistent(t, c)
}

func TestUnreachableNodeIsCollected(t *testing.T) {
	c := NewContext(smallParams())

	root := c.Alloc(ListData(nil))
	root.SetRoot()
	defer root.ClearRoot()

	for i := 0; i < 5; i++ {
		c.Alloc(ListData(nil)) // garbage, nothing roots these
	}

	freed := c.FullCollection()
	assert.Greater(t, freed, 0, "unreferenced nodes must eventually be reclaimed")
	ringIsConsistent(t, c)

	assert.Equal(t, DList, root.Data().Kind, "rooted data must survive collection")
}

func TestTracedReferenceSurvives(t *testing.T) {
	c := NewContext(smallParams())

	leaf := c.Alloc(ListData([]Primitive{Int(42)}))
	parent := c.Alloc(ListData([]Primitive{Ref(leaf)}))
	parent.SetRoot()
	defer parent.ClearRoot()

	c.FullCollection()

	assert.NotEqual(t, DNone, leaf.Data().Kind, "a value reachable through a rooted parent must survive")
}

func TestSecondCollectFreesNothingMoreWithoutNewGarbage(t *testing.T) {
	c := NewContext(smallParams())
	root := c.Alloc(ListData(nil))
	root.SetRoot()
	defer root.ClearRoot()

	for i := 0; i < 5; i++ {
		c.Alloc(ListData(nil))
	}
	c.FullCollection()
	freedAgain := c.FullCollection()
	assert.Equal(t, 0, freedAgain, "gcCollect called twice in a row frees zero additional objects")
}

func TestPermanentSurvivesWithoutExplicitRoot(t *testing.T) {
	c := NewContext(smallParams())
	perm := c.AllocPermanent(ListData(nil))

	for i := 0; i < 10; i++ {
		c.Alloc(ListData(nil))
	}
	c.FullCollection()
	c.FullCollection()

	assert.NotEqual(t, DNone, perm.Data().Kind, "permanent objects must never be collected")
}
