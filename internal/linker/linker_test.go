package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopehoist/bundlecore/internal/analyzer"
	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/jsast"
	"github.com/scopehoist/bundlecore/internal/reference"
	"github.com/scopehoist/bundlecore/internal/registry"
)

func modID(path string) ast.ModuleId { return ast.ModuleId{Path: path} }

// fixedResolver reports every source as living in the given location,
// except ids explicitly overridden.
type fixedResolver struct {
	overrides map[ast.ModuleId]Location
	otherwise Location
}

func (r *fixedResolver) Locate(source ast.ModuleId) Location {
	if loc, ok := r.overrides[source]; ok {
		return loc
	}
	return r.otherwise
}

func setup(t *testing.T) (*registry.Registry, graph.Graph, *reference.ReferenceManager, map[ast.ModuleId]*analyzer.Analyzer, *graph.MapGraph) {
	t.Helper()
	reg := registry.New()
	g := graph.NewMapGraph()
	refMgr := reference.NewReferenceManager()
	analyzers := make(map[ast.ModuleId]*analyzer.Analyzer)
	return reg, g, refMgr, analyzers, g
}

// A named import resolved to a module in the same scope-hoisted group
// aliases directly onto the target's declaration: no import_map entry is
// recorded, and the two refs share a rendered name (property 5: no raw
// identifier reference escapes the group, because there is no boundary).
func TestLink_LocalNamedImportAliasesDirectly(t *testing.T) {
	reg, g, refMgr, analyzers, mg := setup(t)

	target := modID("target.js")
	consumer := modID("consumer.js")

	fooRef := reg.Intern(target, "foo")
	mg.AddModule(&graph.Module{
		ID:     target,
		System: graph.EsModule,
		Stmts:  []jsast.Stmt{{Pos: 0, Data: &jsast.SLocal{Decls: []ast.VarRef{fooRef}, Code: "1"}}},
	})
	analyzers[target] = analyzer.New(mustModule(g, target), reg, false)

	localRef := reg.Intern(consumer, "foo")
	mg.AddModule(&graph.Module{
		ID:     consumer,
		System: graph.EsModule,
		Stmts: []jsast.Stmt{{Pos: 0, Data: &jsast.SImport{
			Source:     target,
			Specifiers: []jsast.ImportSpecifier{{Kind: jsast.ImportNamed, Local: localRef, Imported: "foo"}},
		}}},
	})
	analyzers[consumer] = analyzer.New(mustModule(g, consumer), reg, true)

	resolver := &fixedResolver{otherwise: Location{Kind: LocSameBundle, PotID: "main"}}
	l := New(g, reg, refMgr, analyzers, resolver)

	groupOf := map[ast.ModuleId]ast.ModuleId{target: consumer, consumer: consumer}
	require.NoError(t, l.Link([]ast.ModuleId{target, consumer}, groupOf))

	assert.Equal(t, reg.Root(fooRef), reg.Root(localRef))
	assert.Equal(t, reg.RenderedName(fooRef), reg.RenderedName(localRef))
	assert.Empty(t, refMgr.For(consumer).ImportTargets(), "local same-group import needs no import_map entry")

	actions := analyzers[consumer].Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, analyzer.RemoveImport, actions[0].Kind)
}

// An import from a genuinely external package records an import_map
// entry under an External reference kind, and the local binding renders
// under that entry's name.
func TestLink_ExternalImportRecordsReference(t *testing.T) {
	reg, g, refMgr, analyzers, mg := setup(t)

	consumer := modID("consumer.js")
	localRef := reg.Intern(consumer, "useState")
	mg.AddModule(&graph.Module{
		ID:     consumer,
		System: graph.EsModule,
		Stmts: []jsast.Stmt{{Pos: 0, Data: &jsast.SImport{
			Source:     modID("react"),
			Specifiers: []jsast.ImportSpecifier{{Kind: jsast.ImportNamed, Local: localRef, Imported: "useState"}},
		}}},
	})
	analyzers[consumer] = analyzer.New(mustModule(g, consumer), reg, true)

	resolver := &fixedResolver{otherwise: Location{Kind: LocExternal, Package: "react"}}
	l := New(g, reg, refMgr, analyzers, resolver)

	require.NoError(t, l.Link([]ast.ModuleId{consumer}, map[ast.ModuleId]ast.ModuleId{consumer: consumer}))

	targets := refMgr.For(consumer).ImportTargets()
	require.Len(t, targets, 1)
	assert.True(t, targets[0].IsExternal())
	assert.Equal(t, "react", targets[0].Package())

	idx, ok := refMgr.For(consumer).ImportedIdx(reference.ExternalTarget("react"), jsast.ImportNamed, "useState")
	require.True(t, ok)
	assert.Equal(t, reg.RenderedName(idx), reg.RenderedName(localRef))
}

// A local export of a name already exported fails with DuplicateExport
// (D2), surfaced as an error from Link.
func TestLink_DuplicateLocalExportFails(t *testing.T) {
	reg, g, refMgr, analyzers, mg := setup(t)

	m := modID("dup.js")
	fooRef := reg.Intern(m, "foo")
	mg.AddModule(&graph.Module{
		ID:     m,
		System: graph.EsModule,
		Stmts: []jsast.Stmt{
			{Pos: 0, Data: &jsast.SLocal{Decls: []ast.VarRef{fooRef}, Code: "1"}},
			{Pos: 1, Data: &jsast.SExportClause{Items: []jsast.ExportSpecifier{
				{Kind: jsast.ExportNamed, Local: fooRef},
			}}},
			{Pos: 2, Data: &jsast.SExportClause{Items: []jsast.ExportSpecifier{
				{Kind: jsast.ExportNamed, Local: fooRef, ExportAs: "foo"},
			}}},
		},
	})
	analyzers[m] = analyzer.New(mustModule(g, m), reg, true)

	resolver := &fixedResolver{otherwise: Location{Kind: LocSameBundle, PotID: "main"}}
	l := New(g, reg, refMgr, analyzers, resolver)

	err := l.Link([]ast.ModuleId{m}, map[ast.ModuleId]ast.ModuleId{m: m})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate export")
}

func mustModule(g graph.Graph, id ast.ModuleId) *graph.Module {
	m, ok := g.Module(id)
	if !ok {
		panic("module not found: " + id.String())
	}
	return m
}
