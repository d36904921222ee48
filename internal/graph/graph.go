// Package graph exposes the read-only module graph surface the core
// consumes. Resolution (path -> ModuleId) and loading/parsing happen
// upstream and are out of scope; by the time a Graph reaches this module,
// every module is already parsed and execution-ordered.
package graph

import (
	"sort"

	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/jsast"
)

// ModuleSystem is one of the four module kinds spec.md's data model names.
type ModuleSystem uint8

const (
	EsModule ModuleSystem = iota
	CommonJs
	Hybrid
	Custom
)

// Merge yields the stronger of two module systems: CJS dominates ESM for
// wrapping purposes (a module with even one CJS-shaped statement must be
// wrapped like a CJS module), Custom is opaque and always wins since its
// semantics aren't ours to reason about.
func (m ModuleSystem) Merge(other ModuleSystem) ModuleSystem {
	if m == Custom || other == Custom {
		return Custom
	}
	if m == other {
		return m
	}
	return Hybrid
}

func (m ModuleSystem) String() string {
	switch m {
	case EsModule:
		return "esm"
	case CommonJs:
		return "commonjs"
	case Hybrid:
		return "hybrid"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// Module is the set of facts the graph carries about a single module that
// the core needs: its statements (already parsed), its declared system,
// its position in execution order, and enough provenance to collapse
// source maps through upstream transforms.
type Module struct {
	ID              ast.ModuleId
	Stmts           []jsast.Stmt
	System          ModuleSystem
	IsEntry         bool
	ExecutionOrder  int // larger means "more of an importer"; assigned by a prior DFS
	ContentHash     string
	SourceMapChain  []string // raw encoded source maps from upstream transforms, innermost first
	HasDynamicEdges map[ast.ModuleId]bool
}

// Graph is the read-only view the linker, grouper and assembler operate
// over. Multiple bundle builds may hold concurrent readers (spec.md §5);
// mutation is the resolver's and the UpdateEngine's job, serialized
// elsewhere.
type Graph interface {
	Module(id ast.ModuleId) (*Module, bool)
	DependentIDs(id ast.ModuleId) []ast.ModuleId
	DependencyIDs(id ast.ModuleId) []ast.ModuleId
}

// MapGraph is the simplest concrete Graph: an in-memory map, built once by
// the (out-of-scope) resolver/scanner and handed to the core read-only.
type MapGraph struct {
	modules    map[ast.ModuleId]*Module
	dependents map[ast.ModuleId][]ast.ModuleId
	deps       map[ast.ModuleId][]ast.ModuleId
}

func NewMapGraph() *MapGraph {
	return &MapGraph{
		modules:    make(map[ast.ModuleId]*Module),
		dependents: make(map[ast.ModuleId][]ast.ModuleId),
		deps:       make(map[ast.ModuleId][]ast.ModuleId),
	}
}

func (g *MapGraph) AddModule(m *Module) { g.modules[m.ID] = m }

// AddEdge records that "from" imports "to" (to is a dependency of from, and
// from is a dependent of to).
func (g *MapGraph) AddEdge(from, to ast.ModuleId) {
	for _, d := range g.deps[from] {
		if d == to {
			return
		}
	}
	g.deps[from] = append(g.deps[from], to)
	g.dependents[to] = append(g.dependents[to], from)
}

func (g *MapGraph) Module(id ast.ModuleId) (*Module, bool) {
	m, ok := g.modules[id]
	return m, ok
}

func (g *MapGraph) DependentIDs(id ast.ModuleId) []ast.ModuleId {
	out := append([]ast.ModuleId(nil), g.dependents[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (g *MapGraph) DependencyIDs(id ast.ModuleId) []ast.ModuleId {
	out := append([]ast.ModuleId(nil), g.deps[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
