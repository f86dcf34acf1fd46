package gc

// flags packs the per-box state bits described in §4.7: DEAD, the A/B
// color bits (whichever currently means "white" vs "black" per
// Context.whiteFlag/blackFlag), GREY, ROOT and PERMANENT.
type flags uint8

const (
	flagDead flags = 1 << iota
	flagA
	flagGrey
	flagB
	flagRoot
	flagPermanent
)

func (f flags) isAutoGrey() bool {
	return f&(flagRoot|flagPermanent) != 0
}

// DataBox is the fixed-size node every allocation lives in. All DataBoxes
// ever allocated form one ring via prev/next; which of the four regions a
// box is "in" is tracked by the Context's region lists, not by the box
// itself (the box only remembers its color/root/permanent bits).
type DataBox struct {
	prev, next *DataBox
	flags      flags
	data       Data
}

// DataRef is a non-owning handle into the GC heap (§3.8). It is safe to
// copy and compare.
type DataRef struct {
	box *DataBox
}

// Data returns the live payload. Callers must not retain the pointer past
// a point where the collector could finalize the box.
func (r DataRef) Data() *Data {
	return &r.box.data
}

// IsRooted reports whether the referenced box currently carries the ROOT
// flag.
func (r DataRef) IsRooted() bool {
	return r.box.flags&flagRoot != 0
}

// SetRoot marks the box as rooted, protecting it (and, by tracing,
// everything it reaches) from collection until ClearRoot is called.
func (r DataRef) SetRoot() {
	r.box.flags |= flagRoot
}

// ClearRoot removes the ROOT flag.
func (r DataRef) ClearRoot() {
	r.box.flags &^= flagRoot
}

// SetPermanent marks the box as permanent (interned builtins, the GC
// tuning object): automatically re-greyed at the start of every cycle, for
// the lifetime of the process.
func (r DataRef) SetPermanent() {
	r.box.flags |= flagPermanent
}

// RootedRef is a scoped strong reference (§3.8). Go has no destructors, so
// callers must call Unroot explicitly, typically via `defer`, when the
// scope that required rooting ends.
type RootedRef struct {
	ref DataRef
}

// NewRoot marks ref as rooted and returns the scoped handle protecting it.
// Used by Env bindings (§3.6) to keep a value alive across GC cycles for as
// long as its name stays in scope, independent of whether anything else
// currently references it.
func NewRoot(ref DataRef) RootedRef {
	ref.SetRoot()
	return RootedRef{ref: ref}
}

// Ref returns the underlying non-owning reference.
func (r RootedRef) Ref() DataRef { return r.ref }

// Unroot clears the root flag this RootedRef established. Exactly one
// RootedRef should be outstanding per target at a time (§3.8).
func (r RootedRef) Unroot() { r.ref.ClearRoot() }

// region is a contiguous run of the ring, identified by its first node and
// length; region.head.prev is the tail of the region that precedes it in
// cyclic order (Dead -> White -> Grey -> Black -> Dead), and symmetrically
// for the node that follows the region's last member.
type region struct {
	head *DataBox
	len  int
}

// unlink removes n from wherever it currently sits in the ring, without
// touching any region bookkeeping; callers adjust head/len themselves.
func unlink(n *DataBox) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

// insertBefore splices n into the ring immediately before anchor.
func insertBefore(anchor, n *DataBox) {
	if anchor == nil {
		n.prev, n.next = n, n
		return
	}
	p := anchor.prev
	p.next = n
	n.prev = p
	n.next = anchor
	anchor.prev = n
}

// IncrementalState names the three phases of one collection cycle (§4.7).
type IncrementalState int

const (
	GreyRoots IncrementalState = iota
	Trace
	MarkDead
)

// GcParams holds the tunable knobs for the incremental collector (§4.7
// "Tunables"), exposed to the language as a live object (see gcparams.go).
type GcParams struct {
	InitialItems      int
	MinFreeCount      int
	AllocCount        int
	IncrementalMin    int
	IncrementalDivisor int
	MarkGreyCount     int
	MarkDeadCount     int
	GcOnFuncRet       bool
	GcOnFuncCall      bool
}

// DefaultParams returns the knob values the interpreter starts with.
func DefaultParams() GcParams {
	return GcParams{
		InitialItems:       64,
		MinFreeCount:       2,
		AllocCount:         4,
		IncrementalMin:     16,
		IncrementalDivisor: 16,
		MarkGreyCount:      256,
		MarkDeadCount:      64,
		GcOnFuncRet:        true,
		GcOnFuncCall:       true,
	}
}

// Context is the treadmill collector: the ring of every DataBox ever
// allocated, partitioned into Dead/White/Grey/Black regions, plus the
// incremental state machine that advances a little on every allocation
// and (configurably) function call/return.
type Context struct {
	dead, white, grey, black region

	whiteFlag, blackFlag flags
	state                IncrementalState

	params GcParams

	itemCount int
}

// NewContext builds a collector with an initial slab of dead boxes ready
// to be allocated into.
func NewContext(params GcParams) *Context {
	c := &Context{
		whiteFlag: flagA,
		blackFlag: flagB,
		state:     GreyRoots,
		params:    params,
	}
	c.growDead(max(params.InitialItems, 1))
	return c
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// growDead allocates n fresh, empty DataBoxes and splices them into the
// Dead region.
func (c *Context) growDead(n int) {
	for i := 0; i < n; i++ {
		box := &DataBox{flags: flagDead, data: noneData()}
		if c.dead.len == 0 {
			box.prev, box.next = box, box
			c.dead.head = box
		} else {
			insertBefore(c.dead.head, box)
		}
		c.dead.len++
		c.itemCount++
	}
}

// regionByIndex returns the region at idx, taken modulo 4 (0=dead,
// 1=white, 2=grey, 3=black).
func (c *Context) regionByIndex(idx int) *region {
	switch idx % 4 {
	case 0:
		return &c.dead
	case 1:
		return &c.white
	case 2:
		return &c.grey
	default:
		return &c.black
	}
}

// insertionAnchor finds the node a freshly-arriving member of region idx
// should be spliced in front of: the head of the first nonempty region
// among idx+1, idx+2, idx+3 (mod 4), or nil if every other region is
// empty (the ring would consist solely of this node).
func (c *Context) insertionAnchor(idx int) *DataBox {
	for off := 1; off <= 3; off++ {
		r := c.regionByIndex(idx + off)
		if r.len > 0 {
			return r.head
		}
	}
	return nil
}

// popDead removes and returns the head of the Dead region.
func (c *Context) popDead() *DataBox {
	n := c.dead.head
	if c.dead.len == 1 {
		c.dead.head = nil
	} else {
		c.dead.head = n.next
	}
	c.dead.len--
	unlink(n)
	return n
}

// popGrey removes and returns the head of the Grey region.
func (c *Context) popGrey() *DataBox {
	n := c.grey.head
	if c.grey.len == 1 {
		c.grey.head = nil
	} else {
		c.grey.head = n.next
	}
	c.grey.len--
	unlink(n)
	return n
}

// popWhite removes and returns the head of the White region.
func (c *Context) popWhite() *DataBox {
	n := c.white.head
	if c.white.len == 1 {
		c.white.head = nil
	} else {
		c.white.head = n.next
	}
	c.white.len--
	unlink(n)
	return n
}

func (c *Context) pushGrey(n *DataBox) {
	anchor := c.insertionAnchor(2)
	insertBefore(anchor, n)
	c.grey.head = n
	c.grey.len++
	n.flags &^= (flagA | flagB | flagDead)
	n.flags |= flagGrey
}

func (c *Context) pushBlack(n *DataBox) {
	anchor := c.insertionAnchor(3)
	insertBefore(anchor, n)
	c.black.head = n
	c.black.len++
	n.flags &^= (flagGrey | flagA | flagB)
	n.flags |= c.blackFlag
}

func (c *Context) pushDead(n *DataBox) {
	anchor := c.insertionAnchor(0)
	insertBefore(anchor, n)
	c.dead.head = n
	c.dead.len++
	n.flags = flagDead
}

func (c *Context) pushWhite(n *DataBox) {
	anchor := c.insertionAnchor(1)
	insertBefore(anchor, n)
	c.white.head = n
	c.white.len++
	n.flags &^= (flagGrey | flagA | flagB)
	n.flags |= c.whiteFlag
}

// Alloc moves a node out of Dead into Grey, writes data into it, and
// performs one increment of collection work. Newly allocated nodes are
// Grey, so they always survive the cycle in progress even if nothing
// roots them yet (§4.7 invariant).
func (c *Context) Alloc(data Data) DataRef {
	if c.dead.len < 1 {
		c.growDead(max(c.params.AllocCount, 1))
	}
	n := c.popDead()
	n.data = data
	c.pushGrey(n)

	if c.dead.len < c.params.MinFreeCount {
		c.growDead(c.params.AllocCount)
	}

	c.IncCollect(1)
	return DataRef{box: n}
}

// AllocPermanent allocates data and marks it permanent: automatically
// re-greyed at the start of every cycle, effectively immortal.
func (c *Context) AllocPermanent(data Data) DataRef {
	r := c.Alloc(data)
	r.SetPermanent()
	return r
}

// IncCollect advances the incremental state machine by n ticks (roughly
// "n units of workload"), dispatching to whichever phase is active.
func (c *Context) IncCollect(n int) {
	for i := 0; i < n; i++ {
		switch c.state {
		case GreyRoots:
			c.greyRootsStep()
		case Trace:
			c.traceStep()
		case MarkDead:
			c.markDeadStep()
		}
	}
}

// greyRootsStep scans up to MarkGreyCount White nodes for the auto-grey
// bits (ROOT/PERMANENT) and promotes any it finds to Grey. Nodes that are
// not auto-grey are rotated to the back of White so the scan makes
// progress without losing them.
func (c *Context) greyRootsStep() {
	budget := c.params.MarkGreyCount
	if budget <= 0 {
		budget = 1
	}
	// Bound rotation by the region's own size: once we've looked at every
	// White node once without promoting it, there is nothing left to grey
	// this cycle and we can move on to Trace.
	scanned := 0
	limit := c.white.len
	for i := 0; i < budget; i++ {
		if c.white.len == 0 {
			c.state = Trace
			return
		}
		n := c.popWhite()
		if n.flags.isAutoGrey() {
			c.pushGrey(n)
			limit = c.white.len
			scanned = 0
			continue
		}
		c.pushWhiteTail(n)
		scanned++
		if scanned >= limit {
			c.state = Trace
			return
		}
	}
}

// pushWhiteTail re-inserts n as the new tail of White (rather than the
// head pushWhite would use), so a rotating scan does not immediately
// re-visit the same node.
func (c *Context) pushWhiteTail(n *DataBox) {
	// The tail of White is the node immediately before Grey's head (or,
	// if Grey is empty, before whatever region follows it).
	anchor := c.insertionAnchor(2)
	insertBefore(anchor, n)
	if c.white.len == 0 {
		c.white.head = n
	}
	c.white.len++
	n.flags &^= (flagGrey | flagA | flagB)
	n.flags |= c.whiteFlag
}

// traceStep pops Grey nodes, traces their payload, greys any White
// neighbors it discovers, and moves the traced node to Black.
func (c *Context) traceStep() {
	budget := c.params.IncrementalMin
	if c.grey.len/max(c.params.IncrementalDivisor, 1) > budget {
		budget = c.grey.len / max(c.params.IncrementalDivisor, 1)
	}
	for i := 0; i < budget; i++ {
		if c.grey.len == 0 {
			c.state = MarkDead
			return
		}
		n := c.popGrey()
		n.data.Trace(func(ref DataRef) {
			c.greyRef(ref)
		})
		c.pushBlack(n)
	}
}

// greyRef promotes ref's box to Grey if it is currently White. Used by
// traceStep (via the Trace visitor).
func (c *Context) greyRef(ref DataRef) {
	n := ref.box
	if n.flags&flagDead != 0 || n.flags&flagGrey != 0 {
		return
	}
	if n.flags&c.whiteFlag == 0 {
		return // already black (or otherwise not white)
	}
	n = c.popWhiteNode(n)
	c.pushGrey(n)
}

// popWhiteNode removes an arbitrary node from the White region (not
// necessarily the head), used when greying a node discovered via Trace.
func (c *Context) popWhiteNode(n *DataBox) *DataBox {
	if c.white.head == n {
		return c.popWhite()
	}
	unlink(n)
	c.white.len--
	return n
}

// markDeadStep reclaims up to MarkDeadCount nodes still White after
// tracing completed: they are unreachable. It finalizes their payload,
// clears it, and moves them to Dead. When White empties, the cycle is
// complete and the A/B meaning swaps.
func (c *Context) markDeadStep() {
	budget := c.params.MarkDeadCount
	if budget <= 0 {
		budget = 1
	}
	for i := 0; i < budget; i++ {
		if c.white.len == 0 {
			c.cycleDone()
			return
		}
		n := c.popWhite()
		n.data.Finalize()
		n.data = noneData()
		c.pushDead(n)
	}
}

// cycleDone swaps the meaning of the A/B flags (old Black becomes the new
// White without moving a single node) and resets the state machine.
func (c *Context) cycleDone() {
	c.whiteFlag, c.blackFlag = c.blackFlag, c.whiteFlag
	c.white, c.black = c.black, region{}
	c.state = GreyRoots
}

// FullCollection runs increments until an entire cycle (GreyRoots->Trace->
// MarkDead->swap) completes, regardless of where in the cycle it starts.
func (c *Context) FullCollection() int {
	before := c.dead.len

	sawTrace, sawMarkDead := false, false
	for {
		prev := c.state
		c.IncCollect(1)
		if c.state == Trace {
			sawTrace = true
		}
		if c.state == MarkDead {
			sawMarkDead = true
		}
		if prev == MarkDead && c.state == GreyRoots {
			// cycleDone just fired.
			if sawTrace && sawMarkDead {
				break
			}
			sawTrace, sawMarkDead = false, false
		}
	}

	after := c.dead.len
	if after > before {
		return after - before
	}
	return 0
}

// Collect runs a full collection and reports how many boxes were freed,
// matching the language-level `gcCollect` builtin (§6.3).
func (c *Context) Collect() int {
	return c.FullCollection()
}

// Stats reports region sizes, used by invariant tests (§8: "sum of region
// lengths equals total allocated DataBoxes").
type Stats struct {
	Dead, White, Grey, Black, Total int
}

func (c *Context) Stats() Stats {
	return Stats{
		Dead:  c.dead.len,
		White: c.white.len,
		Grey:  c.grey.len,
		Black: c.black.len,
		Total: c.itemCount,
	}
}

// ParamsValue exposes the live tunables for the language-facing GcParams
// object.
func (c *Context) ParamsValue() GcParams { return c.params }

// SetParamsValue overwrites the tunables (used by the language-facing
// GcParams object's SetField).
func (c *Context) SetParamsValue(p GcParams) { c.params = p }
