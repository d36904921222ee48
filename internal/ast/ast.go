// Package ast holds the identity types shared by every other package in
// this module: module ids, the variable indices that the name registry
// hands out, and a compact nullable-index representation so maps of
// optional references don't need pointers.
package ast

import "fmt"

// ModuleId is the opaque identity of a module inside a build. It carries
// enough of the resolved specifier to produce a stable rendered string
// (e.g. "./x.js?v=2") without needing to go back to the resolver, which is
// out of scope for this module.
type ModuleId struct {
	Path  string
	Query string
}

func (m ModuleId) String() string {
	if m.Query == "" {
		return m.Path
	}
	return m.Path + "?" + m.Query
}

// Less orders module ids deterministically. Used wherever the spec
// requires a fixed iteration order (collision resolution, group sorting).
func (m ModuleId) Less(other ModuleId) bool {
	if m.Path != other.Path {
		return m.Path < other.Path
	}
	return m.Query < other.Query
}

// Index32 stores a 32-bit index where the zero value is invalid. Flipping
// the bits means a freshly zeroed Index32 reads as invalid without an
// explicit "valid" flag taking up another word.
type Index32 struct {
	flippedBits uint32
}

func MakeIndex32(index uint32) Index32 { return Index32{flippedBits: ^index} }

func (i Index32) IsValid() bool    { return i.flippedBits != 0 }
func (i Index32) GetIndex() uint32 { return ^i.flippedBits }

// VarRef is a handle into the per-bundle NameRegistry: the "idx" that
// spec.md's data model threads through ImportSpecifier/ExportSpecifier.
// It is a (module, sequence-within-module) pair so refs remain stable and
// comparable without a global counter shared across concurrent analyzers.
type VarRef struct {
	Module ModuleId
	Seq    uint32
}

func (r VarRef) String() string {
	return fmt.Sprintf("%s#%d", r.Module, r.Seq)
}

var InvalidVarRef = VarRef{}

func (r VarRef) IsValid() bool { return r != InvalidVarRef }
