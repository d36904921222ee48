// Package bundlecore is the public entry point: it wires the Registry,
// Analyzer, ScopeHoistGrouper, ReferenceManager, Linker, AstPatcher and
// Assembler together into one Build call, and wraps the UpdateEngine for
// incremental recompiles. Resolution, parsing and bundle partitioning
// (which module lands in which ResourcePot) happen upstream and are
// handed in already decided, mirroring esbuild's pkg/api trimmed of its
// CLI flag parsing, plugin host and serve/watch surface.
package bundlecore

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/scopehoist/bundlecore/internal/analyzer"
	"github.com/scopehoist/bundlecore/internal/assembler"
	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/config"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/hoist"
	"github.com/scopehoist/bundlecore/internal/linker"
	"github.com/scopehoist/bundlecore/internal/logger"
	"github.com/scopehoist/bundlecore/internal/patcher"
	"github.com/scopehoist/bundlecore/internal/polyfill"
	"github.com/scopehoist/bundlecore/internal/reference"
	"github.com/scopehoist/bundlecore/internal/registry"
	"github.com/scopehoist/bundlecore/internal/resource"
	"github.com/scopehoist/bundlecore/internal/update"
)

// Result is the output of a full Build: every emitted Resource, the
// ResourcePot bookkeeping an UpdateEngine needs for later edits, and any
// recoverable diagnostics collected along the way.
type Result struct {
	Pots      *resource.ResourcePotMap
	Resources *resource.ResourcesMap
	Log       *logger.Log
}

// Builder owns the state a build shares across every ResourcePot it
// renders: one Registry so names stay globally unique and stable across
// rebuilds (spec.md §8 testable property 7), the graph all pots draw
// modules from, and the config governing every pot's output shape.
type Builder struct {
	Graph   graph.Graph
	Options *config.Options

	registry  *registry.Registry
	analyzers map[ast.ModuleId]*analyzer.Analyzer
	exports   *exportIndex
}

func New(g graph.Graph, opts *config.Options) *Builder {
	return NewWithRegistry(g, opts, registry.New())
}

// NewWithRegistry builds against a Registry the caller already holds a
// reference to — used when module declarations were interned ahead of
// the Build call (the resolver/scanner owns the registry across the
// whole process lifetime in a real driver, not just one Build).
func NewWithRegistry(g graph.Graph, opts *config.Options, reg *registry.Registry) *Builder {
	return &Builder{
		Graph:     g,
		Options:   opts,
		registry:  reg,
		analyzers: make(map[ast.ModuleId]*analyzer.Analyzer),
		exports:   newExportIndex(),
	}
}

// Build links and renders every pot. Pots are linked in dependency order
// (a pot that imports another pot's export links after that pot), so a
// cross-bundle lookup always finds its target's export record already
// populated; a cycle between pots falls back to declaration order and
// degrades to the ExportLookup's documented "ok=false" behavior for
// whichever side links first (see DESIGN.md). Rendering itself has no
// such ordering constraint, so it fans out across an errgroup once every
// pot has linked.
func (b *Builder) Build(pots []*resource.ResourcePot) (*Result, error) {
	potMap := resource.NewResourcePotMap()
	moduleToPot := make(map[ast.ModuleId]string, len(pots))
	for _, pot := range pots {
		potMap.Add(pot)
		for _, id := range pot.Modules() {
			moduleToPot[id] = pot.ID
		}
	}

	log := logger.NewLog()
	ordered := orderPotsByDependency(pots, b.Graph, moduleToPot)

	type linked struct {
		pot       *resource.ResourcePot
		modules   []ast.ModuleId
		refMgr    *reference.ReferenceManager
		polyfills *polyfill.Set
	}
	results := make([]linked, 0, len(pots))

	for _, pot := range ordered {
		modules, refMgr, polyfills, err := b.linkPot(pot, moduleToPot)
		if err != nil {
			return nil, fmt.Errorf("bundlecore: link %s: %w", pot.ID, err)
		}
		results = append(results, linked{pot: pot, modules: modules, refMgr: refMgr, polyfills: polyfills})
	}

	resourcesMap := resource.NewResourcesMap()
	var g errgroup.Group
	for _, r := range results {
		r := r
		g.Go(func() error {
			res, err := b.renderPot(r.pot, r.modules, r.refMgr, r.polyfills)
			if err != nil {
				return fmt.Errorf("bundlecore: render %s: %w", r.pot.ID, err)
			}
			resourcesMap.Set(res)
			r.pot.SetResources([]string{res.Name})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{Pots: potMap, Resources: resourcesMap, Log: log}, nil
}

// linkPot runs the Analyzer/ScopeHoistGrouper/Linker stages for one pot
// and returns its modules in link order plus the per-pot bookkeeping the
// render stage needs.
func (b *Builder) linkPot(pot *resource.ResourcePot, moduleToPot map[ast.ModuleId]string) ([]ast.ModuleId, *reference.ReferenceManager, *polyfill.Set, error) {
	modules := linker.SortedModules(b.Graph, pot.Modules())

	for _, id := range modules {
		if _, ok := b.analyzers[id]; ok {
			continue
		}
		m, ok := b.Graph.Module(id)
		if !ok {
			continue
		}
		b.analyzers[id] = analyzer.New(m, b.registry, m.IsEntry)
	}
	for _, id := range modules {
		a, ok := b.analyzers[id]
		if !ok || a.IsReferencedByAnother() {
			continue
		}
		for _, importer := range b.Graph.DependentIDs(id) {
			if moduleToPot[importer] != pot.ID {
				a.MarkReferencedFromOtherBundle()
				break
			}
		}
	}

	groups := hoist.BuildGroups(pot, b.Graph, b.Options.ConcatenateModules)
	groupOf := make(map[ast.ModuleId]ast.ModuleId, len(pot.Modules()))
	for _, grp := range groups {
		for member := range grp.Members {
			groupOf[member] = grp.Root
		}
	}

	refMgr := reference.NewReferenceManager()
	resolver := &potResolver{selfID: pot.ID, moduleToPot: moduleToPot, options: b.Options}
	l := linker.New(b.Graph, b.registry, refMgr, b.analyzers, resolver)
	l.External = b.exports.lookup

	if err := l.Link(modules, groupOf); err != nil {
		return nil, nil, nil, err
	}

	for _, id := range modules {
		b.exports.record(id, refMgr.For(id).Export())
	}

	return modules, refMgr, b.detectPolyfills(modules), nil
}

// detectPolyfills decides which runtime helpers this pot's patched output
// will call, following esbuild's own trigger conditions for each helper
// (internal/runtime's callers of __commonJS/__toESM/__toCommonJS/__export):
// a CommonJS-shaped module needs the lazy wrapper; a CommonJS-format
// output compiled from ESM sources needs the __esModule interop flag any
// other bundler's default-import interop checks for.
func (b *Builder) detectPolyfills(modules []ast.ModuleId) *polyfill.Set {
	set := polyfill.New()
	sawEsm := false
	for _, id := range modules {
		a, ok := b.analyzers[id]
		if !ok {
			continue
		}
		if a.IsCommonJS() {
			set.Add(polyfill.CommonJSWrapper)
		} else {
			sawEsm = true
		}
	}
	if sawEsm && b.Options.OutputFormat == config.FormatCommonJS {
		set.Add(polyfill.EsmFlag)
	}
	return set
}

// renderPot patches and assembles one already-linked pot into a Resource.
func (b *Builder) renderPot(pot *resource.ResourcePot, modules []ast.ModuleId, refMgr *reference.ReferenceManager, polyfills *polyfill.Set) (resource.Resource, error) {
	p := patcher.New(b.registry, refMgr, b.analyzers, b.Graph)
	patched := p.Patch(modules, polyfills, pot.IsRuntime())

	asm := assembler.New(b.registry, b.analyzers, b.Options)
	out, err := asm.Assemble(patched, polyfills, pot.IsRuntime(), nil)
	if err != nil {
		return resource.Resource{}, err
	}

	return resource.Resource{
		Name:          pot.ID + extensionFor(pot.Type),
		Bytes:         []byte(out.Code),
		Type:          resourceTypeFor(pot.Type),
		ResourcePotID: pot.ID,
	}, nil
}

func extensionFor(t resource.ResourcePotType) string {
	switch t {
	case resource.Css:
		return ".css"
	case resource.Html:
		return ".html"
	default:
		return ".js"
	}
}

func resourceTypeFor(t resource.ResourcePotType) resource.ResourceType {
	switch t {
	case resource.Css:
		return resource.ResourceCss
	case resource.Html:
		return resource.ResourceHtml
	case resource.Runtime:
		return resource.ResourceRuntime
	case resource.Asset:
		return resource.ResourceAsset
	default:
		return resource.ResourceJs
	}
}

// UpdateEngine wires component I against this Builder's two render paths:
// RegenerateAffected's re-renders go through renderPot, the exact same
// link/patch/assemble pipeline a full Build uses; RenderUpdatePayload's
// synthetic pot goes through renderUpdatePayload instead, since an update
// payload is never itself assembled as a standalone bundle (spec.md §4.I,
// testable property S6).
func (b *Builder) UpdateEngine(pots *resource.ResourcePotMap, resources *resource.ResourcesMap) *update.Engine {
	return update.New(pots, resources, b.Options, func(pot *resource.ResourcePot) (resource.Resource, error) {
		modules, refMgr, polyfills, err := b.linkPot(pot, potMembership(pots))
		if err != nil {
			return resource.Resource{}, err
		}
		return b.renderPot(pot, modules, refMgr, polyfills)
	}, func(pot *resource.ResourcePot) (resource.Resource, error) {
		return b.renderUpdatePayload(pot, potMembership(pots))
	})
}

// renderUpdatePayload links the synthetic update pot exactly as any other
// pot (so renamed identifiers and cross-module bindings stay consistent
// with the already-emitted build), then patches and renders it as a bare
// object literal of per-module factory functions instead of routing it
// through Assemble's concatenation path: the update payload patches
// individual modules into an already-running bundle rather than becoming
// a bundle of its own (spec.md §4.I render_and_generate_update_resource,
// testable property S6). Synthesized top-level exports are skipped (the
// isRuntime=true Patch call) the same way a runtime pot skips them, since
// neither ever has an importer expecting one.
func (b *Builder) renderUpdatePayload(pot *resource.ResourcePot, moduleToPot map[ast.ModuleId]string) (resource.Resource, error) {
	modules, refMgr, _, err := b.linkPot(pot, moduleToPot)
	if err != nil {
		return resource.Resource{}, err
	}

	p := patcher.New(b.registry, refMgr, b.analyzers, b.Graph)
	patched := p.Patch(modules, nil, true)

	asm := assembler.New(b.registry, b.analyzers, b.Options)
	code, err := asm.RenderUpdateObject(patched)
	if err != nil {
		return resource.Resource{}, err
	}

	return resource.Resource{
		Name:          pot.ID + ".js",
		Bytes:         []byte(code),
		Type:          resource.ResourceJs,
		ResourcePotID: pot.ID,
	}, nil
}

func potMembership(pots *resource.ResourcePotMap) map[ast.ModuleId]string {
	out := make(map[ast.ModuleId]string)
	for _, pot := range pots.All() {
		for _, id := range pot.Modules() {
			out[id] = pot.ID
		}
	}
	return out
}

// potResolver implements linker.Resolver over a flat module -> pot id map
// computed once per Build; bundle partitioning itself belongs upstream.
type potResolver struct {
	selfID      string
	moduleToPot map[ast.ModuleId]string
	options     *config.Options
}

func (r *potResolver) Locate(source ast.ModuleId) linker.Location {
	if r.options.IsExternal(source.String()) {
		return linker.Location{Kind: linker.LocExternal, Package: source.String()}
	}
	potID, ok := r.moduleToPot[source]
	if !ok {
		return linker.Location{Kind: linker.LocExternal, Package: source.String()}
	}
	if potID == r.selfID {
		return linker.Location{Kind: linker.LocSameBundle, PotID: potID}
	}
	return linker.Location{Kind: linker.LocOtherBundle, PotID: potID}
}

// orderPotsByDependency runs Kahn's algorithm over the pot-level edges
// induced by cross-pot module imports, so a pot's exports are always
// populated before a dependent pot's Link() needs them through
// ExportLookup. A cycle between pots (mutual cross-bundle imports) can't
// be fully ordered; the unorderable remainder is appended in its given
// order and leans on ExportLookup's documented ok=false fallback.
func orderPotsByDependency(pots []*resource.ResourcePot, g graph.Graph, moduleToPot map[ast.ModuleId]string) []*resource.ResourcePot {
	indexOf := make(map[string]int, len(pots))
	for i, p := range pots {
		indexOf[p.ID] = i
	}
	edges := make(map[string]map[string]bool) // dependency -> set of dependents
	indegree := make(map[string]int, len(pots))
	for _, p := range pots {
		indegree[p.ID] = 0
	}
	for _, p := range pots {
		for _, id := range p.Modules() {
			for _, dep := range g.DependencyIDs(id) {
				depPot, ok := moduleToPot[dep]
				if !ok || depPot == p.ID {
					continue
				}
				if edges[depPot] == nil {
					edges[depPot] = make(map[string]bool)
				}
				if !edges[depPot][p.ID] {
					edges[depPot][p.ID] = true
					indegree[p.ID]++
				}
			}
		}
	}

	var ready []string
	for _, p := range pots {
		if indegree[p.ID] == 0 {
			ready = append(ready, p.ID)
		}
	}
	sort.Strings(ready)

	var order []string
	seen := make(map[string]bool)
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)

		var next []string
		for dependent := range edges[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
		sort.Strings(ready)
	}

	out := make([]*resource.ResourcePot, 0, len(pots))
	for _, id := range order {
		out = append(out, pots[indexOf[id]])
	}
	for _, p := range pots {
		if !seen[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// exportIndex accumulates every pot's local exports as they link, keyed
// by module id, so a later-linking pot's cross-bundle lookups can resolve
// an already-linked target (linker.ExportLookup).
type exportIndex struct {
	byModule map[ast.ModuleId]map[string]exportedRef
}

type exportedRef struct {
	idx    ast.VarRef
	system graph.ModuleSystem
}

func newExportIndex() *exportIndex {
	return &exportIndex{byModule: make(map[ast.ModuleId]map[string]exportedRef)}
}

func (e *exportIndex) record(id ast.ModuleId, export *reference.LocalExport) {
	if export == nil {
		return
	}
	bucket := e.byModule[id]
	if bucket == nil {
		bucket = make(map[string]exportedRef)
		e.byModule[id] = bucket
	}
	for name, idx := range export.Names {
		bucket[name] = exportedRef{idx: idx, system: export.System}
	}
}

func (e *exportIndex) lookup(target ast.ModuleId, name string) (ast.VarRef, graph.ModuleSystem, bool) {
	bucket, ok := e.byModule[target]
	if !ok {
		return ast.VarRef{}, 0, false
	}
	ref, ok := bucket[name]
	return ref.idx, ref.system, ok
}
