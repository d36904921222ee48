// Package hoist implements the ScopeHoistGrouper (spec.md §4.C): it
// partitions a bundle's modules into maximal groups that may be
// concatenated into a single function scope. Ported near verbatim from
// the Farm compiler's build_scope_hoisted_module_groups (original_source/
// crates/plugin_runtime/src/render_resource_pot/scope_hoisting.rs), which
// spec.md's prose directly distills.
package hoist

import (
	"sort"

	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/graph"
)

// Group is a ScopeHoistedModuleGroup: a maximal set of modules destined
// for one concatenated function scope.
type Group struct {
	Root    ast.ModuleId
	Members map[ast.ModuleId]bool
}

func newGroup(root ast.ModuleId) *Group {
	return &Group{Root: root, Members: map[ast.ModuleId]bool{root: true}}
}

func (g *Group) extend(others map[ast.ModuleId]bool) {
	for id := range others {
		g.Members[id] = true
	}
}

// BundlePot is the minimal view of a resource pot this package needs:
// which module ids it contains.
type BundlePot interface {
	Modules() []ast.ModuleId
	HasModule(id ast.ModuleId) bool
}

// BuildGroups computes the ordered list of ScopeHoistedGroups covering
// every module of pot. If concatenate is false (config.concatenate_modules
// disabled), every module is its own singleton group.
func BuildGroups(pot BundlePot, g graph.Graph, concatenate bool) []*Group {
	groupOf := make(map[ast.ModuleId]*Group)
	rootOf := make(map[ast.ModuleId]ast.ModuleId) // reverse_module_hoisted_group_map

	members := pot.Modules()
	for _, id := range members {
		groupOf[id] = newGroup(id)
		rootOf[id] = id
	}

	if concatenate {
		// Walk groups in descending execution order (leaf-importers first).
		ordered := append([]ast.ModuleId(nil), members...)
		sort.Slice(ordered, func(i, j int) bool {
			mi, _ := g.Module(ordered[i])
			mj, _ := g.Module(ordered[j])
			oi, oj := 0, 0
			if mi != nil {
				oi = mi.ExecutionOrder
			}
			if mj != nil {
				oj = mj.ExecutionOrder
			}
			if oi != oj {
				return oi > oj
			}
			return ordered[i].Less(ordered[j])
		})

		// merged[targetID] accumulates the set of group-root ids folded into it
		merged := make(map[ast.ModuleId]map[ast.ModuleId]bool)

		for _, target := range ordered {
			dependents := g.DependentIDs(target)

			// Dependents outside the bundle: exported interface is
			// observable, can't merge (spec.md §4.C edge case).
			allInBundle := true
			for _, d := range dependents {
				if !pot.HasModule(d) {
					allInBundle = false
					break
				}
			}
			if !allInBundle {
				continue
			}
			if len(dependents) == 0 {
				continue
			}

			dependentGroupIDs := map[ast.ModuleId]bool{}
			for _, d := range dependents {
				dependentGroupIDs[rootOf[d]] = true
			}
			if len(dependentGroupIDs) != 1 {
				continue // dependents span more than one group, can't merge
			}

			var dependentRoot ast.ModuleId
			for id := range dependentGroupIDs {
				dependentRoot = id
			}

			// A back-edge of a cycle: the dependent group's root has a
			// lower (or equal) execution order than this module, so
			// merging would fold an importer into what it imports.
			targetModule, _ := g.Module(target)
			depModule, _ := g.Module(dependentRoot)
			targetOrder, depOrder := 0, 0
			if targetModule != nil {
				targetOrder = targetModule.ExecutionOrder
			}
			if depModule != nil {
				depOrder = depModule.ExecutionOrder
			}
			if depOrder <= targetOrder {
				continue
			}

			// A module with a dynamic import edge into it is never merged
			// into its importer.
			dynamic := false
			for _, d := range dependents {
				if hasDynamicEdge(g, d, target) {
					dynamic = true
					break
				}
			}
			if dynamic {
				continue
			}

			// A direct two-module cycle (target and dependentRoot import
			// each other) is a back-edge the execution-order check alone
			// can't always catch, since DFS numbering only guarantees one
			// direction looks like a forward edge. Concatenating two
			// modules that mutually import each other into one scope can
			// read an uninitialized binding depending on declaration
			// order, so this direct case is refused in both directions
			// regardless of which one has the larger execution number
			// (spec.md §8 S4: a cycle's modules keep their own scopes).
			if isMutualEdge(g, target, dependentRoot) {
				continue
			}

			set := merged[dependentRoot]
			if set == nil {
				set = make(map[ast.ModuleId]bool)
				merged[dependentRoot] = set
			}
			set[target] = true

			for member := range groupOf[target].Members {
				rootOf[member] = dependentRoot
			}
		}

		for targetRoot, foldedRoots := range merged {
			all := map[ast.ModuleId]bool{}
			for foldedRoot := range foldedRoots {
				folded := groupOf[foldedRoot]
				delete(groupOf, foldedRoot)
				for m := range folded.Members {
					all[m] = true
				}
			}
			groupOf[targetRoot].extend(all)
		}
	}

	out := make([]*Group, 0, len(groupOf))
	for _, grp := range groupOf {
		out = append(out, grp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root.Less(out[j].Root) })
	return out
}

func hasDynamicEdge(g graph.Graph, importer, dependency ast.ModuleId) bool {
	m, ok := g.Module(importer)
	if !ok || m.HasDynamicEdges == nil {
		return false
	}
	return m.HasDynamicEdges[dependency]
}

// isMutualEdge reports whether a and b import each other directly.
func isMutualEdge(g graph.Graph, a, b ast.ModuleId) bool {
	aImportsB := false
	for _, dep := range g.DependencyIDs(a) {
		if dep == b {
			aImportsB = true
			break
		}
	}
	if !aImportsB {
		return false
	}
	for _, dep := range g.DependencyIDs(b) {
		if dep == a {
			return true
		}
	}
	return false
}
