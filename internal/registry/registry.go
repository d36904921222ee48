// Package registry implements the NameRegistry (spec.md §4.A): a
// global, per-bundle unique-name allocator. Every local declaration and
// every synthesized name (default slots, namespace slots, CommonJS wrapper
// names) is interned here once and gets a stable rendered identifier.
//
// Collision resolution iterates in a fixed order (by ModuleId, then
// insertion index) so the same input graph always renames to the same
// identifiers — this is what makes a rebuild of unchanged input
// byte-identical (spec.md §8, testable property 7), ported from the
// teacher's NumberRenamer discipline of walking module scopes in a stable
// order before assigning suffixes.
package registry

import (
	"sort"
	"strconv"

	"github.com/scopehoist/bundlecore/internal/ast"
)

// reservedWords is the process-wide set of JS keywords and runtime-exposed
// globals that can never be used as a rendered identifier.
var reservedWords = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true, "do": true,
	"else": true, "export": true, "extends": true, "finally": true, "for": true,
	"function": true, "if": true, "import": true, "in": true, "instanceof": true,
	"new": true, "return": true, "super": true, "switch": true, "this": true,
	"throw": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "let": true, "static": true,
	"enum": true, "await": true, "implements": true, "package": true,
	"protected": true, "interface": true, "private": true, "public": true,
	"null": true, "true": true, "false": true, "arguments": true, "eval": true,
	// runtime-exposed globals this module's own polyfills/runtime rely on
	"exports": true, "module": true, "require": true, "globalThis": true,
}

// entry is the per-index bookkeeping the registry maintains.
type entry struct {
	module       ast.ModuleId
	original     string
	rendered     string
	root         ast.VarRef
	reserved     bool
	insertOrder  int
}

// Registry is the per-bundle NameRegistry. It outlives a whole bundle
// build and is recreated per rebuild (spec.md §3 "Lifecycle").
type Registry struct {
	entries map[ast.VarRef]*entry
	order   []ast.VarRef // insertion order, for deterministic iteration
	byName  map[string]map[ast.VarRef]bool
	nextSeq map[ast.ModuleId]uint32
	reservedExtra map[string]bool
}

func New() *Registry {
	return &Registry{
		entries:       make(map[ast.VarRef]*entry),
		byName:        make(map[string]map[ast.VarRef]bool),
		nextSeq:       make(map[ast.ModuleId]uint32),
		reservedExtra: make(map[string]bool),
	}
}

// ReserveGlobalName adds a name to the process-wide reserved set (e.g. a
// name exposed by the runtime bootstrap, like FARM_GLOBAL_THIS).
func (r *Registry) ReserveGlobalName(name string) { r.reservedExtra[name] = true }

func (r *Registry) isReservedName(name string) bool {
	return reservedWords[name] || r.reservedExtra[name]
}

// Intern registers a declaration (or synthetic name) and returns its
// stable VarRef. Calling Intern twice for the same module with the same
// original name allocates two distinct indices — callers that want
// idempotence track their own index -> name maps (as BundleReference
// does for import_map).
func (r *Registry) Intern(module ast.ModuleId, originalName string) ast.VarRef {
	seq := r.nextSeq[module]
	r.nextSeq[module] = seq + 1
	ref := ast.VarRef{Module: module, Seq: seq}
	e := &entry{
		module:      module,
		original:    originalName,
		rendered:    originalName,
		root:        ref,
		insertOrder: len(r.order),
	}
	r.entries[ref] = e
	r.order = append(r.order, ref)
	r.addByName(originalName, ref)
	return ref
}

func (r *Registry) addByName(name string, ref ast.VarRef) {
	set, ok := r.byName[name]
	if !ok {
		set = make(map[ast.VarRef]bool)
		r.byName[name] = set
	}
	set[ref] = true
}

func (r *Registry) removeByName(name string, ref ast.VarRef) {
	if set, ok := r.byName[name]; ok {
		delete(set, ref)
	}
}

// Reserve marks an index as non-renameable: it keeps its original/current
// rendered name forever, even if that collides (the caller is responsible
// for having picked a name that won't collide, e.g. an external import).
func (r *Registry) Reserve(ref ast.VarRef) {
	if e, ok := r.entries[ref]; ok {
		e.reserved = true
	}
}

// Root returns the canonical owner of ref's rendered name (union-find
// "find", without path compression so iteration order stays predictable).
func (r *Registry) Root(ref ast.VarRef) ast.VarRef {
	seen := map[ast.VarRef]bool{}
	for {
		e, ok := r.entries[ref]
		if !ok || e.root == ref || seen[ref] {
			return ref
		}
		seen[ref] = true
		ref = e.root
	}
}

// SetRoot makes child's root the same as parent's — required whenever a
// re-export changes the canonical owner of a name (invariant R1: two
// indices with the same rendered name reachable in the same emitted scope
// share a root).
func (r *Registry) SetRoot(child, parent ast.VarRef) {
	c, ok := r.entries[child]
	if !ok {
		return
	}
	c.root = r.Root(parent)
}

// RenderedName returns an index's current rendered name, following its
// root.
func (r *Registry) RenderedName(ref ast.VarRef) string {
	root := r.Root(ref)
	if e, ok := r.entries[root]; ok {
		return e.rendered
	}
	if e, ok := r.entries[ref]; ok {
		return e.rendered
	}
	return ""
}

// OriginalName returns the name the declaration was written with.
func (r *Registry) OriginalName(ref ast.VarRef) string {
	if e, ok := r.entries[ref]; ok {
		return e.original
	}
	return ""
}

// SetRenameFromOther aliases a's rendered name to b's current rendered
// name without changing a's root — used when a local binding is simply an
// alias for an imported one and should print identically, but the two
// remain logically distinct declarations (e.g. a CJS-wrapper-declared
// local that merely forwards an imported binding's current name).
func (r *Registry) SetRenameFromOther(a, b ast.VarRef) {
	ea, ok := r.entries[a]
	if !ok {
		return
	}
	bName := r.RenderedName(b)
	r.removeByName(ea.rendered, a)
	ea.rendered = bName
	r.addByName(bName, a)
}

// RenameUniq renames ref when its rendered name is in the global reserved
// set or is also the rendered name of an index with a different root:
// ref then takes the lowest-numbered suffix (_1, _2, ...) that is free of
// both, deterministically. CJS modules only need to call
// this for indices colliding with the global reserved set, since the rest
// live inside a private wrapper closure (spec.md §4.E pass 1); that
// distinction is the caller's (Linker's) responsibility, not this
// package's.
func (r *Registry) RenameUniq(ref ast.VarRef) { r.renameUniq(ref, nil) }

// renameUniq is RenameUniq; a non-nil settled limits the indices ref can
// collide with to those in settled.
func (r *Registry) renameUniq(ref ast.VarRef, settled map[ast.VarRef]bool) {
	e, ok := r.entries[ref]
	if !ok || e.reserved {
		return
	}
	root := r.Root(ref)
	name := e.rendered
	if !r.collides(name, root, ref, settled) {
		return
	}
	base := name
	for n := 1; ; n++ {
		candidate := base + "_" + strconv.Itoa(n)
		if !r.collides(candidate, root, ref, settled) {
			r.removeByName(e.rendered, ref)
			e.rendered = candidate
			r.addByName(candidate, ref)
			return
		}
	}
}

func (r *Registry) collides(name string, root ast.VarRef, self ast.VarRef, settled map[ast.VarRef]bool) bool {
	if r.isReservedName(name) {
		return true
	}
	for other := range r.byName[name] {
		if other == self || (settled != nil && !settled[other]) {
			continue
		}
		if r.Root(other) != root {
			return true
		}
	}
	return false
}

// RenameAllUniq walks every interned index in a fixed, deterministic order
// (by ModuleId, then insertion index) and renames each one only against
// the indices visited before it, so the first index to hold a name keeps
// it and later colliding ones take the suffixes. This is the Linker's
// pass 1 driver.
func (r *Registry) RenameAllUniq() {
	refs := append([]ast.VarRef(nil), r.order...)
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Module != b.Module {
			return a.Module.Less(b.Module)
		}
		return r.entries[a].insertOrder < r.entries[b].insertOrder
	})
	settled := make(map[ast.VarRef]bool, len(refs))
	for _, ref := range refs {
		r.renameUniq(ref, settled)
		settled[ref] = true
	}
}

// ModuleOf reports which module an index was interned for (its point of
// origin, not necessarily the module that currently references it).
func (r *Registry) ModuleOf(ref ast.VarRef) (ast.ModuleId, bool) {
	e, ok := r.entries[ref]
	if !ok {
		return ast.ModuleId{}, false
	}
	return e.module, true
}
