// Package linker implements the Linker (spec.md §4.E): three passes over
// a bundle's modules that rename every declared identifier uniquely,
// plan what the AstPatcher must strip or rewrite, and resolve every
// specifier across the Local / Bundle(same) / Bundle(other) / External
// axis described in spec.md's resolution table.
package linker

import (
	"fmt"
	"sort"

	"github.com/scopehoist/bundlecore/internal/analyzer"
	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/jsast"
	"github.com/scopehoist/bundlecore/internal/logger"
	"github.com/scopehoist/bundlecore/internal/reference"
	"github.com/scopehoist/bundlecore/internal/registry"
)

// LocationKind is where a resolved specifier's target lives, relative to
// the bundle currently being linked. Local (same scope-hoisted group) is
// derived by the Linker itself from the group map; a Resolver only needs
// to tell SameBundle from OtherBundle from External.
type LocationKind uint8

const (
	LocSameBundle LocationKind = iota
	LocOtherBundle
	LocExternal
)

// Location is what a Resolver reports for an import/export source.
type Location struct {
	Kind    LocationKind
	PotID   string // meaningful when Kind == LocOtherBundle
	Package string // meaningful when Kind == LocExternal
}

// Resolver tells the Linker which bundle (if any) owns a module id. Bundle
// partitioning is owned by the driver (pkg/bundlecore), not this package.
type Resolver interface {
	Locate(source ast.ModuleId) Location
}

// ExportLookup resolves the export of a module the current Link() call
// doesn't itself cover (i.e. a module belonging to a different bundle,
// already linked). Returning ok=false degrades the reference to an
// ordinary cross-bundle import without an upstream local-export record.
type ExportLookup func(target ast.ModuleId, name string) (idx ast.VarRef, system graph.ModuleSystem, ok bool)

// Linker runs the three passes of spec.md §4.E over one bundle's worth of
// modules at a time. It is stateless across bundles beyond the shared
// Registry/RefMgr/Analyzers it's constructed with. pkg/bundlecore
// constructs one Linker per pot with a fresh ReferenceManager, but hands
// every pot the same Registry and Analyzer map and links the pots one
// after another, not in parallel.
type Linker struct {
	Graph     graph.Graph
	Registry  *registry.Registry
	RefMgr    *reference.ReferenceManager
	Analyzers map[ast.ModuleId]*analyzer.Analyzer
	Resolver  Resolver
	External  ExportLookup // optional

	declIndex map[ast.ModuleId]map[string]ast.VarRef
}

func New(g graph.Graph, reg *registry.Registry, refMgr *reference.ReferenceManager, analyzers map[ast.ModuleId]*analyzer.Analyzer, resolver Resolver) *Linker {
	return &Linker{
		Graph:     g,
		Registry:  reg,
		RefMgr:    refMgr,
		Analyzers: analyzers,
		Resolver:  resolver,
	}
}

// Link runs all three passes over modules (every module belonging to the
// bundle being linked, in topological order) given groupOf, the module ->
// scope-hoisted-group-root map the ScopeHoistGrouper produced for this
// bundle.
func (l *Linker) Link(modules []ast.ModuleId, groupOf map[ast.ModuleId]ast.ModuleId) error {
	l.renameUnique()
	l.buildDeclIndex(modules)

	// Pass 2 first covers every module's own exports, so that pass 3's
	// cross-module Local/SameBundle lookups always find a populated
	// export record regardless of iteration order between modules.
	for _, id := range modules {
		if err := l.planExports(id); err != nil {
			return err
		}
	}
	for _, id := range modules {
		if err := l.planImports(id, groupOf); err != nil {
			return err
		}
	}
	return nil
}

// renameUnique is pass 1. This implementation renames every declared
// index bundle-wide rather than scoping a CJS module's private locals'
// collision check to only the global reserved-word set (spec.md §4.E's
// literal "CJS modules only rename indices that collide with the global
// reserved set" optimization). A bundle-wide unique name is still unique
// within any narrower private closure, so this is strictly safe; it may
// rename a few more CJS-internal locals than the minimal algorithm would.
// See DESIGN.md.
func (l *Linker) renameUnique() {
	l.Registry.RenameAllUniq()
}

func (l *Linker) buildDeclIndex(modules []ast.ModuleId) {
	l.declIndex = make(map[ast.ModuleId]map[string]ast.VarRef)
	for _, id := range modules {
		m, ok := l.Graph.Module(id)
		if !ok {
			continue
		}
		names := make(map[string]ast.VarRef)
		for _, stmt := range m.Stmts {
			if local, ok := stmt.Data.(*jsast.SLocal); ok {
				for _, ref := range local.Decls {
					names[l.Registry.OriginalName(ref)] = ref
				}
			}
		}
		if a, ok := l.Analyzers[id]; ok && a.HasDefault() {
			names["default"] = a.DefaultSlot
		}
		l.declIndex[id] = names
	}
}

// planExports is pass 2's export half: produces StmtActions for export
// statements and records their payload into the ReferenceManager.
func (l *Linker) planExports(id ast.ModuleId) error {
	m, ok := l.Graph.Module(id)
	if !ok {
		return nil
	}
	a := l.Analyzers[id]
	br := l.RefMgr.For(id)

	for _, stmt := range m.Stmts {
		switch s := stmt.Data.(type) {
		case *jsast.SExportClause:
			a.RecordAction(analyzer.StmtAction{Kind: analyzer.StripExport, Pos: stmt.Pos})
			for _, item := range s.Items {
				if item.Kind != jsast.ExportNamed {
					continue
				}
				name := item.ExportAs
				if name == "" {
					name = l.Registry.OriginalName(item.Local)
				}
				if err := br.AddLocalExport(name, item.Local, m.System); err != nil {
					return err
				}
				if a.IsCommonJS() {
					if _, err := br.AddDeclareCommonJSImport(jsast.ImportNamed, name, reference.ModuleTarget(id), m.System, l.Registry); err != nil {
						return err
					}
				}
			}

		case *jsast.SExportFrom:
			a.RecordAction(analyzer.StmtAction{Kind: analyzer.StripExport, Pos: stmt.Pos, Source: s.Source})
			for _, item := range s.Items {
				if err := l.linkReexportNamed(id, m.System, s.Source, item); err != nil {
					return err
				}
			}

		case *jsast.SExportStar:
			a.RecordAction(analyzer.StmtAction{Kind: analyzer.StripExport, Pos: stmt.Pos, Source: s.Source})
			if err := l.linkReexportAll(id, m.System, s.Source, s.Alias); err != nil {
				return err
			}

		case *jsast.SExportDefault:
			if s.LocalName == "" {
				a.RecordAction(analyzer.StmtAction{Kind: analyzer.DeclDefaultExpr, Pos: stmt.Pos, DefaultSlot: a.DefaultSlot})
			} else {
				a.RecordAction(analyzer.StmtAction{Kind: analyzer.StripDefaultExport, Pos: stmt.Pos, DefaultSlot: a.DefaultSlot})
			}
			if a.IsReferencedByAnother() {
				if err := br.AddLocalExport("default", a.DefaultSlot, m.System); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// linkReexportAll implements the three `export * from src` behaviors
// spec.md §4.E describes: external stays a raw wildcard forward; internal
// same-bundle is expanded name-by-name via the registry; internal
// other-bundle is forwarded as a named re-export of the target's
// namespace.
func (l *Linker) linkReexportAll(consumer ast.ModuleId, system graph.ModuleSystem, src ast.ModuleId, alias string) error {
	br := l.RefMgr.For(consumer)
	loc := l.Resolver.Locate(src)

	switch loc.Kind {
	case LocExternal:
		return br.AddReexportAll(reference.ExternalTarget(loc.Package), ast.VarRef{}, system)
	case LocSameBundle:
		if names, ok := l.declIndex[src]; ok {
			for name, ref := range names {
				if alias != "" {
					name = alias
				}
				if err := br.AddLocalExport(name, ref, system); err != nil {
					return err
				}
			}
			return nil
		}
		fallthrough
	default:
		targetAnalyzer := l.Analyzers[src]
		var nsIdx ast.VarRef
		if targetAnalyzer != nil {
			nsIdx = targetAnalyzer.NamespaceSlot
		}
		name := alias
		if name == "" {
			name = "*"
		}
		return br.AddReexportNamed(reference.ModuleTarget(src), name, nsIdx, system)
	}
}

func (l *Linker) linkReexportNamed(consumer ast.ModuleId, system graph.ModuleSystem, src ast.ModuleId, item jsast.ExportSpecifier) error {
	br := l.RefMgr.For(consumer)
	name := item.ExportAs
	if name == "" {
		name = l.Registry.OriginalName(item.Local)
	}
	loc := l.Resolver.Locate(src)

	switch loc.Kind {
	case LocExternal:
		return br.AddReexportNamed(reference.ExternalTarget(loc.Package), name, item.Local, system)
	case LocSameBundle:
		if ref, ok := l.lookupExport(src, l.Registry.OriginalName(item.Local)); ok {
			return br.AddLocalExport(name, ref, system)
		}
		return br.AddReexportNamed(reference.ModuleTarget(src), name, item.Local, system)
	default:
		return br.AddReexportNamed(reference.ModuleTarget(src), name, item.Local, system)
	}
}

// planImports is pass 2/3's import half: produces StmtActions and
// resolves every specifier per spec.md §4.E's table.
func (l *Linker) planImports(id ast.ModuleId, groupOf map[ast.ModuleId]ast.ModuleId) error {
	m, ok := l.Graph.Module(id)
	if !ok {
		return nil
	}
	a := l.Analyzers[id]

	for _, stmt := range m.Stmts {
		imp, ok := stmt.Data.(*jsast.SImport)
		if !ok {
			continue
		}
		targetSystem := l.systemOf(imp.Source)
		isCJSTarget := targetSystem == graph.CommonJs || targetSystem == graph.Hybrid

		if len(imp.Specifiers) == 0 {
			if isCJSTarget {
				a.RecordAction(analyzer.StmtAction{Kind: analyzer.StripCjsImport, Pos: stmt.Pos, Source: imp.Source})
				l.RefMgr.For(id).ExecuteModuleForCJS(l.targetKind(imp.Source))
			} else {
				a.RecordAction(analyzer.StmtAction{Kind: analyzer.RemoveImport, Pos: stmt.Pos, Source: imp.Source})
				l.RefMgr.For(id).AddExecuteModule(l.targetKind(imp.Source))
			}
			continue
		}

		a.RecordAction(analyzer.StmtAction{Kind: analyzer.RemoveImport, Pos: stmt.Pos, Source: imp.Source})
		for _, spec := range imp.Specifiers {
			if err := l.linkImportSpecifier(id, imp.Source, spec, targetSystem, isCJSTarget, groupOf); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Linker) linkImportSpecifier(consumer, src ast.ModuleId, spec jsast.ImportSpecifier, targetSystem graph.ModuleSystem, isCJSTarget bool, groupOf map[ast.ModuleId]ast.ModuleId) error {
	loc := l.Resolver.Locate(src)
	local := spec.Local
	if spec.Kind == jsast.ImportNamed && spec.Imported == "" {
		spec.Imported = l.Registry.OriginalName(local)
	}

	switch loc.Kind {
	case LocExternal:
		return l.linkExternalImport(consumer, src, local, spec, targetSystem, loc.Package)
	default:
		consumerRoot, consumerHasGroup := groupOf[consumer]
		srcRoot, srcHasGroup := groupOf[src]
		sameGroup := consumerHasGroup && srcHasGroup && consumerRoot == srcRoot
		if loc.Kind == LocSameBundle && sameGroup {
			return l.linkLocalImport(consumer, src, local, spec, targetSystem, isCJSTarget)
		}
		if loc.Kind == LocSameBundle {
			return l.linkSameBundleOtherGroupImport(consumer, src, local, spec, targetSystem, isCJSTarget)
		}
		return l.linkOtherBundleImport(consumer, src, local, spec, targetSystem, isCJSTarget, loc.PotID)
	}
}

// linkLocalImport handles the same scope-hoisted group case: the
// consumer's index is simply aliased onto the target's slot via the
// registry's union-find root, so references print as a raw identifier
// with no indirection (testable property 5).
func (l *Linker) linkLocalImport(consumer, src ast.ModuleId, local ast.VarRef, spec jsast.ImportSpecifier, targetSystem graph.ModuleSystem, isCJSTarget bool) error {
	a := l.Analyzers[src]
	if a == nil {
		return fmt.Errorf("linker: missing analyzer for local import target %s", src)
	}

	switch spec.Kind {
	case jsast.ImportNamespace:
		if !a.NamespaceSlot.IsValid() {
			return logger.Msg{Kind: logger.NamespaceNameMissing, Module: src.String(), Text: "namespace slot missing"}
		}
		l.Registry.SetRoot(local, a.NamespaceSlot)
	case jsast.ImportDefault:
		l.Registry.SetRoot(local, a.DefaultSlot)
	default:
		ref, ok := l.lookupExport(src, spec.Imported)
		if !ok {
			return logger.Msg{Kind: logger.MissingExport, Module: src.String(), Text: spec.Imported}
		}
		l.Registry.SetRoot(local, ref)
	}

	if isCJSTarget {
		_, err := l.RefMgr.For(consumer).AddDeclareCommonJSImport(spec.Kind, spec.Imported, reference.ModuleTarget(src), targetSystem, l.Registry)
		return err
	}
	return nil
}

// linkSameBundleOtherGroupImport handles the "Bundle (same-bundle-by-
// root)" row: naming resolves identically to the local case (alias+root),
// but the reference is also recorded through the normal import_map so the
// Assembler can see a scope-hoisted-group boundary needs an explicit
// wrapper call there (testable property 5 requires that crossing not be a
// bare identifier reference).
func (l *Linker) linkSameBundleOtherGroupImport(consumer, src ast.ModuleId, local ast.VarRef, spec jsast.ImportSpecifier, targetSystem graph.ModuleSystem, isCJSTarget bool) error {
	a := l.Analyzers[src]
	br := l.RefMgr.For(consumer)

	switch spec.Kind {
	case jsast.ImportNamespace:
		if a == nil || !a.NamespaceSlot.IsValid() {
			return logger.Msg{Kind: logger.NamespaceNameMissing, Module: src.String(), Text: "namespace slot missing"}
		}
		idx, err := br.AddImport(spec.Kind, spec.Imported, reference.ModuleTarget(src), targetSystem, ast.VarRef{}, l.Registry)
		if err != nil {
			return err
		}
		l.Registry.SetRoot(local, a.NamespaceSlot)
		l.Registry.SetRenameFromOther(local, idx)
	case jsast.ImportDefault:
		var defSlot ast.VarRef
		if a != nil {
			defSlot = a.DefaultSlot
		}
		idx, err := br.AddImport(spec.Kind, spec.Imported, reference.ModuleTarget(src), targetSystem, defSlot, l.Registry)
		if err != nil {
			return err
		}
		l.Registry.SetRoot(local, idx)
	default:
		ref, ok := l.lookupExport(src, spec.Imported)
		if !ok {
			return logger.Msg{Kind: logger.MissingExport, Module: src.String(), Text: spec.Imported}
		}
		l.Registry.SetRoot(local, ref)
		if _, err := br.AddImport(spec.Kind, spec.Imported, reference.ModuleTarget(src), targetSystem, ast.VarRef{}, l.Registry); err != nil {
			return err
		}
	}

	if isCJSTarget {
		_, err := br.AddDeclareCommonJSImport(spec.Kind, spec.Imported, reference.ModuleTarget(src), targetSystem, l.Registry)
		return err
	}
	return nil
}

// linkOtherBundleImport handles specifiers whose target lives in a
// different ResourcePot: a genuine cross-bundle import, which also
// guarantees the target publishes that name (spec.md: "register local
// export on target").
func (l *Linker) linkOtherBundleImport(consumer, src ast.ModuleId, local ast.VarRef, spec jsast.ImportSpecifier, targetSystem graph.ModuleSystem, isCJSTarget bool, potID string) error {
	br := l.RefMgr.For(consumer)
	a := l.Analyzers[src]

	var slotForDefault ast.VarRef
	if isCJSTarget && a != nil {
		slotForDefault = a.CommonJSSlot
	} else if a != nil {
		slotForDefault = a.DefaultSlot
	}

	idx, err := br.AddImport(spec.Kind, spec.Imported, reference.ModuleTarget(src), targetSystem, slotForDefault, l.Registry)
	if err != nil {
		return err
	}
	l.Registry.SetRenameFromOther(local, idx)

	if a != nil {
		targetBr := l.RefMgr.For(src)
		name := spec.Imported
		switch spec.Kind {
		case jsast.ImportNamespace:
			name = "*"
			if err := targetBr.AddLocalExport(name, a.NamespaceSlot, targetSystem); err != nil && !isDuplicateExport(err) {
				return err
			}
		case jsast.ImportDefault:
			if err := targetBr.AddLocalExport("default", a.DefaultSlot, targetSystem); err != nil && !isDuplicateExport(err) {
				return err
			}
		default:
			if ref, ok := l.lookupExport(src, name); ok {
				if err := targetBr.AddLocalExport(name, ref, targetSystem); err != nil && !isDuplicateExport(err) {
					return err
				}
			}
		}
	}
	return nil
}

func (l *Linker) linkExternalImport(consumer, src ast.ModuleId, local ast.VarRef, spec jsast.ImportSpecifier, targetSystem graph.ModuleSystem, pkg string) error {
	br := l.RefMgr.For(consumer)
	idx, err := br.AddImport(spec.Kind, spec.Imported, reference.ExternalTarget(pkg), targetSystem, ast.VarRef{}, l.Registry)
	if err != nil {
		return err
	}
	l.Registry.SetRenameFromOther(local, idx)
	return nil
}

// lookupExport resolves an exported name to its VarRef, preferring an
// already-recorded local export (populated by planExports earlier in the
// same Link() call, or by a prior bundle's link via the External hook),
// falling back to the raw declaration index for names that are declared
// but not (yet) wrapped in an export record.
func (l *Linker) lookupExport(target ast.ModuleId, name string) (ast.VarRef, bool) {
	if br, ok := l.exportedRef(target, name); ok {
		return br, true
	}
	if names, ok := l.declIndex[target]; ok {
		if ref, ok := names[name]; ok {
			return ref, true
		}
	}
	if l.External != nil {
		if idx, _, ok := l.External(target, name); ok {
			return idx, true
		}
	}
	return ast.VarRef{}, false
}

func (l *Linker) exportedRef(target ast.ModuleId, name string) (ast.VarRef, bool) {
	br := l.RefMgr.For(target)
	exp := br.Export()
	if exp == nil {
		return ast.VarRef{}, false
	}
	ref, ok := exp.Names[name]
	return ref, ok
}

func (l *Linker) systemOf(id ast.ModuleId) graph.ModuleSystem {
	if m, ok := l.Graph.Module(id); ok {
		return m.System
	}
	return graph.EsModule
}

func (l *Linker) targetKind(id ast.ModuleId) reference.ReferenceKind {
	loc := l.Resolver.Locate(id)
	if loc.Kind == LocExternal {
		return reference.ExternalTarget(loc.Package)
	}
	return reference.ModuleTarget(id)
}

func isDuplicateExport(err error) bool {
	msg, ok := err.(logger.Msg)
	return ok && msg.Kind == logger.DuplicateExport
}

// sortedModules is a small helper the driver can use to feed Link a
// deterministic module order (execution order, ties broken by id).
func sortedModules(g graph.Graph, ids []ast.ModuleId) []ast.ModuleId {
	out := append([]ast.ModuleId(nil), ids...)
	sort.Slice(out, func(i, j int) bool {
		mi, _ := g.Module(out[i])
		mj, _ := g.Module(out[j])
		oi, oj := 0, 0
		if mi != nil {
			oi = mi.ExecutionOrder
		}
		if mj != nil {
			oj = mj.ExecutionOrder
		}
		if oi != oj {
			return oi < oj
		}
		return out[i].Less(out[j])
	})
	return out
}

// SortedModules exposes sortedModules for callers assembling the module
// list Link expects.
func SortedModules(g graph.Graph, ids []ast.ModuleId) []ast.ModuleId { return sortedModules(g, ids) }
