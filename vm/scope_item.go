package vm

import "github.com/Clinery1/simle-lisp/gc"

// ScopeItem is the value-stack entry StartScope/StartReturnScope push and
// EndScope pops (§3.7). ListItem accumulates every value pushed into it (an
// argument list under construction); ReturnItem retains only the most
// recent value (an expression block's result).
type ScopeItem interface {
	push(v gc.Primitive)
	// peek returns the most recently pushed value without removing it,
	// used by Define/Set (§4.4: "reads top, non-destructive").
	peek() (gc.Primitive, bool)
	// pop removes and returns the most recently pushed value, used by
	// JumpIfTrue/JumpIfFalse/Splat.
	pop() (gc.Primitive, bool)
}

// ListItem backs StartScope: List, Object, Vector and Call/TailCall
// argument-list construction.
type ListItem struct {
	Values []gc.Primitive
}

func (s *ListItem) push(v gc.Primitive) { s.Values = append(s.Values, v) }

func (s *ListItem) peek() (gc.Primitive, bool) {
	if len(s.Values) == 0 {
		return gc.Primitive{}, false
	}
	return s.Values[len(s.Values)-1], true
}

func (s *ListItem) pop() (gc.Primitive, bool) {
	v, ok := s.peek()
	if ok {
		s.Values = s.Values[:len(s.Values)-1]
	}
	return v, ok
}

// ReturnItem backs StartReturnScope: Begin blocks and function bodies,
// where only the final value matters.
type ReturnItem struct {
	value gc.Primitive
	has   bool
}

func (s *ReturnItem) push(v gc.Primitive) { s.value, s.has = v, true }

func (s *ReturnItem) peek() (gc.Primitive, bool) { return s.value, s.has }

func (s *ReturnItem) pop() (gc.Primitive, bool) {
	v, ok := s.value, s.has
	s.has = false
	return v, ok
}
