// Package ident implements the interner: the mapping from source identifier
// strings to small dense integer ids that the rest of the execution core
// passes around by value.
package ident

// Ident is an opaque interned identifier. Intern hands out ids from 0
// upward, so the zero value is the first interned string; only Invalid
// (-1) is never a real identifier.
type Ident int

// Invalid is the sentinel returned by lookups that found nothing.
const Invalid Ident = -1

// Interner assigns dense, stable ids to strings. Equal strings always map
// to the same Ident, and ids are never reused or renumbered for the
// lifetime of the process.
type Interner struct {
	strings []string
	ids     map[string]Ident
}

// New returns an empty Interner.
func New() *Interner {
	return &Interner{
		ids: make(map[string]Ident),
	}
}

// Intern returns the Ident for s, assigning a fresh one the first time s is
// seen. intern(s) == intern(s) holds for any number of calls.
func (in *Interner) Intern(s string) Ident {
	if id, ok := in.ids[s]; ok {
		return id
	}
	id := Ident(len(in.strings))
	in.strings = append(in.strings, s)
	in.ids[s] = id
	return id
}

// Get returns the source string for id. It panics if id was never produced
// by Intern on this Interner, since that indicates a compiler or VM bug
// rather than a recoverable condition.
func (in *Interner) Get(id Ident) string {
	return in.strings[int(id)]
}

// Lookup returns the Ident already assigned to s, without interning it.
// The second return value is false if s has never been interned.
func (in *Interner) Lookup(s string) (Ident, bool) {
	id, ok := in.ids[s]
	return id, ok
}

// Len reports how many distinct identifiers have been interned.
func (in *Interner) Len() int {
	return len(in.strings)
}
