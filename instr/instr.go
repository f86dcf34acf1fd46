// Package instr implements the bytecode instruction store described in the
// design's "split identity from ordering" device: instructions are
// appended to a monotone, never-renumbered array, while a separate doubly
// linked execution order lets the compiler insert backpatched opcodes
// between existing ones without disturbing any previously recorded id.
package instr

import (
	"fmt"

	"github.com/Clinery1/simle-lisp/ident"
)

// Id identifies an instruction. Ids are assigned in allocation order and
// are never reused or renumbered, even when the instruction is later
// inserted elsewhere in the execution order.
type Id int

// Invalid is never produced by the store; it is useful as a zero-ish
// sentinel in structs that record an id lazily.
const Invalid Id = -1

// FnId identifies a compiled function.
type FnId int

// ModId identifies a module. Module 0 is always the root module.
type ModId int

// Root is the id of the root module.
const Root ModId = 0

// Instruction is implemented by every opcode payload type. The interface is
// intentionally empty: dispatch happens via a type switch in the VM, the
// same closed-enum style the teacher's object.Object started from before
// this module generalized it into the open object protocol (see the gc
// package) for user-facing values.
type Instruction interface {
	isInstruction()
}

type (
	// Nop does nothing.
	Nop struct{}
	// Exit halts interpretation. Also used as the placeholder payload for
	// reserved instruction ids awaiting a real opcode via Set.
	Exit struct{}

	PushN    struct{ Value int64 }
	PushF    struct{ Value float64 }
	PushS    struct{ Value string }
	PushC    struct{ Value rune }
	PushBool struct{ Value bool }
	PushIdent struct{ Value ident.Ident }
	PushNone struct{}

	LoadVar  struct{ Name ident.Ident }
	PathLoad struct{ Idents []ident.Ident }

	Define struct{ Name ident.Ident }
	Set    struct{ Name ident.Ident }

	MakeFnOrClosure struct{ Fn FnId }
	MakeObject      struct{ Fields []ident.Ident }

	Splat struct{}

	Call     struct{}
	TailCall struct{}
	Return   struct{}

	StartScope       struct{}
	StartReturnScope struct{}
	EndScope         struct{}

	JumpIfTrue  struct{ Target Id }
	JumpIfFalse struct{ Target Id }
	Jump        struct{ Target Id }

	Module       struct{ Id ModId }
	ReturnModule struct{}
)

func (Nop) isInstruction()              {}
func (Exit) isInstruction()             {}
func (PushN) isInstruction()            {}
func (PushF) isInstruction()            {}
func (PushS) isInstruction()            {}
func (PushC) isInstruction()            {}
func (PushBool) isInstruction()         {}
func (PushIdent) isInstruction()        {}
func (PushNone) isInstruction()         {}
func (LoadVar) isInstruction()          {}
func (PathLoad) isInstruction()         {}
func (Define) isInstruction()           {}
func (Set) isInstruction()              {}
func (MakeFnOrClosure) isInstruction()  {}
func (MakeObject) isInstruction()       {}
func (Splat) isInstruction()            {}
func (Call) isInstruction()             {}
func (TailCall) isInstruction()         {}
func (Return) isInstruction()           {}
func (StartScope) isInstruction()       {}
func (StartReturnScope) isInstruction() {}
func (EndScope) isInstruction()         {}
func (JumpIfTrue) isInstruction()       {}
func (JumpIfFalse) isInstruction()      {}
func (Jump) isInstruction()             {}
func (Module) isInstruction()           {}
func (ReturnModule) isInstruction()     {}

// node is a slot in the execution-order linked list.
type node struct {
	prev, next Id
	hasPrev    bool
	hasNext    bool
}

// Store is the instruction store: a monotone array of instructions indexed
// by Id, plus a mutable doubly linked order over those ids.
type Store struct {
	instructions []Instruction
	order        map[Id]*node
	head, tail   Id
	hasHead      bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		order: make(map[Id]*node),
	}
}

// Len returns the number of instructions ever allocated (identity space),
// not the length of the execution order (which is always the same count,
// since every id is linked exactly once).
func (s *Store) Len() int {
	return len(s.instructions)
}

// Get returns the instruction payload stored at id.
func (s *Store) Get(id Id) Instruction {
	return s.instructions[int(id)]
}

// Set overwrites the payload at id without touching its position in the
// execution order. Used to backpatch jump targets and to fill in
// previously reserved placeholder ids.
func (s *Store) Set(id Id, ins Instruction) {
	s.instructions[int(id)] = ins
}

// NextId returns the id that the next Push call would assign, without
// allocating it. The compiler uses this to record a function's body_ptr
// before compiling the body.
func (s *Store) NextId() Id {
	return Id(len(s.instructions))
}

// alloc appends ins to the identity array and returns its fresh id. It does
// not touch the execution order.
func (s *Store) alloc(ins Instruction) Id {
	id := Id(len(s.instructions))
	s.instructions = append(s.instructions, ins)
	s.order[id] = &node{}
	return id
}

// Push appends ins both to the identity array and to the end of the
// execution order.
func (s *Store) Push(ins Instruction) Id {
	id := s.alloc(ins)
	s.linkAtTail(id)
	return id
}

// Reserve allocates an id with an Exit placeholder payload and links it at
// the end of the execution order, for later Set once the real opcode (e.g.
// a function's entry point) is known.
func (s *Store) Reserve() Id {
	return s.Push(Exit{})
}

// InsertAfter allocates a fresh id for ins and splices it into the
// execution order immediately after after, without renumbering after or
// any other previously allocated id.
func (s *Store) InsertAfter(after Id, ins Instruction) Id {
	id := s.alloc(ins)
	afterNode := s.order[after]
	nextId, hasNext := afterNode.next, afterNode.hasNext

	newNode := s.order[id]
	newNode.prev, newNode.hasPrev = after, true
	afterNode.next, afterNode.hasNext = id, true

	if hasNext {
		newNode.next, newNode.hasNext = nextId, true
		s.order[nextId].prev = id
	} else {
		s.tail = id
	}
	return id
}

// InsertBefore allocates a fresh id for ins and splices it into the
// execution order immediately before before.
func (s *Store) InsertBefore(before Id, ins Instruction) Id {
	id := s.alloc(ins)
	beforeNode := s.order[before]
	prevId, hasPrev := beforeNode.prev, beforeNode.hasPrev

	newNode := s.order[id]
	newNode.next, newNode.hasNext = before, true
	beforeNode.prev, beforeNode.hasPrev = id, true

	if hasPrev {
		newNode.prev, newNode.hasPrev = prevId, true
		s.order[prevId].next = id
	} else {
		s.head, s.hasHead = id, true
	}
	return id
}

func (s *Store) linkAtTail(id Id) {
	if !s.hasHead {
		s.head, s.tail, s.hasHead = id, id, true
		return
	}
	tailNode := s.order[s.tail]
	tailNode.next, tailNode.hasNext = id, true
	s.order[id].prev, s.order[id].hasPrev = s.tail, true
	s.tail = id
}

// Iter returns an iterator positioned at the first instruction in
// execution order.
func (s *Store) Iter() *Iterator {
	it := &Iterator{store: s}
	if s.hasHead {
		it.cur = s.head
		it.has = true
	}
	return it
}

// Iterator walks the execution order and can be relocated with Jump, which
// is how Call/TailCall/Jump/JumpIfTrue/JumpIfFalse work: the VM repositions
// the single iterator it holds rather than maintaining its own index.
type Iterator struct {
	store *Store
	cur   Id
	has   bool
}

// Jump repositions the iterator so that the next call to Next returns the
// instruction at id.
func (it *Iterator) Jump(id Id) {
	it.cur = id
	it.has = true
}

// CurInsId returns the id the iterator is currently positioned at. Valid
// only after at least one successful Next or a Jump.
func (it *Iterator) CurInsId() (Id, bool) {
	return it.cur, it.has
}

// NextInsId returns the id that follows the iterator's current position in
// execution order (the one after the instruction the next call to Next
// will yield), without moving the iterator.
func (it *Iterator) NextInsId() (Id, bool) {
	if !it.has {
		return Invalid, false
	}
	n, ok := it.store.order[it.cur]
	if !ok || !n.hasNext {
		return Invalid, false
	}
	return n.next, true
}

// Next returns the instruction at the iterator's current position and
// advances it to the next instruction in execution order. The second
// return value is false once execution order is exhausted.
func (it *Iterator) Next() (Id, Instruction, bool) {
	if !it.has {
		return Invalid, nil, false
	}
	id := it.cur
	ins := it.store.instructions[int(id)]

	n := it.store.order[id]
	if n.hasNext {
		it.cur = n.next
		it.has = true
	} else {
		it.has = false
	}
	return id, ins, true
}

// String renders an instruction for diagnostics; it is not used by the VM
// itself, only by debug/any and test failures.
func String(ins Instruction) string {
	return fmt.Sprintf("%#v", ins)
}
