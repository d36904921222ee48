// Package update implements the UpdateEngine (spec.md §4.I): turns one
// HMR edit into (1) an update payload for the subset of modules that
// changed and (2) the set of already-built resource pots that must be
// regenerated because the edit shifted module-group membership.
//
// This package only orchestrates *when* components B-H run again; it
// never re-implements linking or codegen itself (those stay the driver's
// wiring, supplied here as the Render callback), mirroring how
// regenerate_resources.rs calls back into the generate/render pipeline
// rather than duplicating it.
package update

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/config"
	"github.com/scopehoist/bundlecore/internal/resource"
)

// DiffResult is what the upstream module-graph patch step reports after
// applying one edit to the in-memory graph: modules that didn't exist in
// the graph before this edit, and modules removed by it. Reparsing and
// graph mutation themselves are out of scope (spec.md §1); the engine
// only needs the result.
type DiffResult struct {
	AddedModules   []ast.ModuleId
	RemovedModules []ast.ModuleId
}

// RenderPot renders one ResourcePot to its output resource. Supplied by
// whatever owns a build's Registry/ReferenceManager/Linker/Patcher/
// Assembler wiring (pkg/bundlecore), since the engine itself holds none
// of that — it only decides which pots need it invoked again.
type RenderPot func(pot *resource.ResourcePot) (resource.Resource, error)

// Engine drives update regeneration across a build's pot/resource maps.
// Render renders an ordinary bundle pot (used by RegenerateAffected);
// RenderUpdate renders the synthetic update pot as the HMR payload object
// literal (used by RenderUpdatePayload) — they are different pipelines,
// not the same one run against two different pots, since an update
// payload is never itself assembled as a standalone bundle (spec.md
// §4.I, testable property S6).
type Engine struct {
	Pots         *resource.ResourcePotMap
	Resources    *resource.ResourcesMap
	Options      *config.Options
	Render       RenderPot
	RenderUpdate RenderPot
}

func New(pots *resource.ResourcePotMap, resources *resource.ResourcesMap, opts *config.Options, render RenderPot, renderUpdate RenderPot) *Engine {
	return &Engine{Pots: pots, Resources: resources, Options: opts, Render: render, RenderUpdate: renderUpdate}
}

// RenderUpdatePayload builds a synthetic "update resource pot" out of
// every added and updated module and renders it through RenderUpdate,
// returning the HMR payload text the dev client applies (spec.md §4.I
// "render_and_generate_update_resource") — a bare JS object-literal
// expression statement keyed by module id, not a standalone bundle.
func (e *Engine) RenderUpdatePayload(updatedIDs []ast.ModuleId, diff DiffResult) (string, error) {
	pot := resource.NewResourcePot("__update_resource_pot__", resource.Runtime, "__update_module_group__")
	for _, id := range diff.AddedModules {
		pot.AddModule(id)
	}
	for _, id := range updatedIDs {
		pot.AddModule(id)
	}

	r, err := e.RenderUpdate(pot)
	if err != nil {
		return "", fmt.Errorf("update: render update payload: %w", err)
	}
	return string(r.Bytes), nil
}

// RegenerateAffected recomputes pot membership for every affected module
// group (via the configured PartialBundlingHook), drops resources for
// pots that no longer exist in a group's recomputed set, always
// invalidates each updated module's own current pot (its content
// changed even if its group membership didn't), and re-renders every pot
// left affected (spec.md §4.I
// "regenerate_resources_for_affected_module_groups").
func (e *Engine) RegenerateAffected(affectedGroups []resource.ModuleGroupID, updatedIDs []ast.ModuleId) error {
	affected := make(map[string]bool)

	for _, groupID := range affectedGroups {
		ids, err := e.diffGroup(groupID)
		if err != nil {
			return fmt.Errorf("update: regenerate group %s: %w", groupID, err)
		}
		for _, id := range ids {
			affected[id] = true
		}
	}

	for _, modID := range updatedIDs {
		pot := e.potForModule(modID)
		if pot == nil {
			continue
		}
		affected[pot.ID] = true
		e.clearPotResources(pot)
	}

	return e.renderAffected(affected)
}

// diffGroup recomputes one module group's resource pot set and drops the
// resources of any pot that fell out of it. It returns the hook's full
// result (mirroring the teacher's "always rerender the updated module's
// resource pot" plus newly-added pots) for the caller to fold into the
// overall affected set.
func (e *Engine) diffGroup(groupID resource.ModuleGroupID) ([]string, error) {
	if e.Options.PartialBundling == nil {
		return nil, fmt.Errorf("no partial bundling hook configured")
	}

	previous := e.potsForGroup(groupID)

	newIDs, err := e.Options.PartialBundling(string(groupID))
	if err != nil {
		return nil, err
	}
	newSet := make(map[string]bool, len(newIDs))
	for _, id := range newIDs {
		newSet[id] = true
	}

	for _, pot := range previous {
		if newSet[pot.ID] {
			continue
		}
		if removed := e.Pots.Remove(pot.ID); removed != nil {
			for _, name := range removed.Resources() {
				e.Resources.Remove(name)
			}
		}
	}

	return newIDs, nil
}

func (e *Engine) potsForGroup(groupID resource.ModuleGroupID) []*resource.ResourcePot {
	var out []*resource.ResourcePot
	for _, pot := range e.Pots.All() {
		if pot.ModuleGroupID == string(groupID) {
			out = append(out, pot)
		}
	}
	return out
}

// potForModule finds the pot currently holding id. Update scope is always
// small (a handful of edited files), so a linear scan over the build's
// pots costs nothing a reverse index would meaningfully save.
func (e *Engine) potForModule(id ast.ModuleId) *resource.ResourcePot {
	for _, pot := range e.Pots.All() {
		if pot.HasModule(id) {
			return pot
		}
	}
	return nil
}

func (e *Engine) clearPotResources(pot *resource.ResourcePot) {
	for _, name := range pot.Resources() {
		e.Resources.Remove(name)
	}
	pot.ClearResources()
}

// renderAffected re-renders every pot id in potIDs concurrently — the
// independent pots an update touches don't share mutable state with each
// other, the same property that lets the Assembler fan its per-module
// render out across an errgroup.
func (e *Engine) renderAffected(potIDs map[string]bool) error {
	ids := make([]string, 0, len(potIDs))
	for id := range potIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			pot, ok := e.Pots.Get(id)
			if !ok {
				return nil
			}
			r, err := e.Render(pot)
			if err != nil {
				return fmt.Errorf("render pot %s: %w", id, err)
			}
			e.Resources.Set(r)
			pot.SetResources([]string{r.Name})
			return nil
		})
	}
	return g.Wait()
}
