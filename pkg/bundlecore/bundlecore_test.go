package bundlecore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/config"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/jsast"
	"github.com/scopehoist/bundlecore/internal/registry"
	"github.com/scopehoist/bundlecore/internal/resource"
	"github.com/scopehoist/bundlecore/internal/update"
)

func modID(path string) ast.ModuleId { return ast.ModuleId{Path: path} }

// Build links and renders a single pot with a local import: the consumer
// ends up with no import_map entry (aliased directly onto the target's
// declaration, same scope-hoisted group) and the pot's one emitted
// Resource contains both modules' declarations concatenated.
func TestBuild_SinglePotLocalImport(t *testing.T) {
	g := graph.NewMapGraph()
	reg := registry.New()

	target := modID("lib.js")
	consumer := modID("main.js")

	fooRef := reg.Intern(target, "foo")
	g.AddModule(&graph.Module{
		ID:             target,
		System:         graph.EsModule,
		ExecutionOrder: 0,
		Stmts:          []jsast.Stmt{{Pos: 0, Data: &jsast.SLocal{Decls: []ast.VarRef{fooRef}, Code: "1"}}},
	})

	localRef := reg.Intern(consumer, "foo")
	g.AddModule(&graph.Module{
		ID:             consumer,
		System:         graph.EsModule,
		IsEntry:        true,
		ExecutionOrder: 1,
		Stmts: []jsast.Stmt{
			{Pos: 0, Data: &jsast.SImport{
				Source:     target,
				Specifiers: []jsast.ImportSpecifier{{Kind: jsast.ImportNamed, Local: localRef, Imported: "foo"}},
			}},
			{Pos: 1, Data: &jsast.SLocal{Decls: []ast.VarRef{reg.Intern(consumer, "result")}, Code: localRef.String()}},
		},
	})
	g.AddEdge(consumer, target)

	pot := resource.NewResourcePot("main", resource.Js, "group-1")
	pot.AddModule(target)
	pot.AddModule(consumer)

	opts := &config.Options{OutputFormat: config.FormatEsModule, ConcatenateModules: true}
	b := NewWithRegistry(g, opts, reg)

	result, err := b.Build([]*resource.ResourcePot{pot})
	require.NoError(t, err)

	res, ok := result.Resources.Get("main.js")
	require.True(t, ok)
	assert.Contains(t, string(res.Bytes), "const foo = 1;")
	assert.NotContains(t, string(res.Bytes), "require_")
}

// A CommonJS-system module in the pot gets wrapped in a __commonJS
// factory, and the polyfill detection records the need for it.
func TestBuild_CommonJSModuleGetsWrapped(t *testing.T) {
	g := graph.NewMapGraph()
	reg := registry.New()

	id := modID("lib.js")
	g.AddModule(&graph.Module{
		ID:      id,
		System:  graph.CommonJs,
		IsEntry: true,
		Stmts:   []jsast.Stmt{{Pos: 0, Data: &jsast.SRaw{Code: "module.exports = 1;"}}},
	})

	pot := resource.NewResourcePot("main", resource.Js, "group-1")
	pot.AddModule(id)

	opts := &config.Options{OutputFormat: config.FormatEsModule}
	b := NewWithRegistry(g, opts, reg)

	result, err := b.Build([]*resource.ResourcePot{pot})
	require.NoError(t, err)

	res, ok := result.Resources.Get("main.js")
	require.True(t, ok)
	assert.Contains(t, string(res.Bytes), "__commonJS")
}

// An import from a module not present in any pot and not declared
// external still degrades gracefully to an external-style reference
// rather than panicking.
func TestBuild_UnknownImportTargetDegradesToExternal(t *testing.T) {
	g := graph.NewMapGraph()
	reg := registry.New()

	consumer := modID("main.js")
	missing := modID("react")
	localRef := reg.Intern(consumer, "React")
	g.AddModule(&graph.Module{
		ID:      consumer,
		System:  graph.EsModule,
		IsEntry: true,
		Stmts: []jsast.Stmt{
			{Pos: 0, Data: &jsast.SImport{
				Source:     missing,
				Specifiers: []jsast.ImportSpecifier{{Kind: jsast.ImportDefault, Local: localRef}},
			}},
		},
	})

	pot := resource.NewResourcePot("main", resource.Js, "group-1")
	pot.AddModule(consumer)

	opts := &config.Options{OutputFormat: config.FormatEsModule}
	b := NewWithRegistry(g, opts, reg)

	_, err := b.Build([]*resource.ResourcePot{pot})
	require.NoError(t, err)
}

// Two pots where one imports the other's default export: Build orders the
// dependency pot first, and both pots link and render to a resource.
func TestBuild_CrossPotExportResolvesInDependencyOrder(t *testing.T) {
	g := graph.NewMapGraph()
	reg := registry.New()

	lib := modID("lib.js")
	app := modID("app.js")

	reg.Intern(lib, "lib_default")
	g.AddModule(&graph.Module{
		ID:      lib,
		System:  graph.EsModule,
		IsEntry: false,
		Stmts:   []jsast.Stmt{{Pos: 0, Data: &jsast.SExportDefault{Value: "42"}}},
	})

	localRef := reg.Intern(app, "Lib")
	g.AddModule(&graph.Module{
		ID:      app,
		System:  graph.EsModule,
		IsEntry: true,
		Stmts: []jsast.Stmt{
			{Pos: 0, Data: &jsast.SImport{
				Source:     lib,
				Specifiers: []jsast.ImportSpecifier{{Kind: jsast.ImportDefault, Local: localRef}},
			}},
		},
	})
	g.AddEdge(app, lib)

	libPot := resource.NewResourcePot("lib-pot", resource.Js, "group-lib")
	libPot.AddModule(lib)
	appPot := resource.NewResourcePot("app-pot", resource.Js, "group-app")
	appPot.AddModule(app)

	opts := &config.Options{OutputFormat: config.FormatEsModule}
	b := NewWithRegistry(g, opts, reg)

	result, err := b.Build([]*resource.ResourcePot{appPot, libPot})
	require.NoError(t, err)

	_, ok := result.Resources.Get("app-pot.js")
	require.True(t, ok)
	_, ok = result.Resources.Get("lib-pot.js")
	require.True(t, ok)
}

// RenderUpdatePayload emits a bare object-literal expression statement
// keyed by module id, each value a factory function — never a
// concatenated, IIFE-wrapped or __esModule-flagged standalone bundle
// (spec.md §4.I render_and_generate_update_resource, testable property
// S6). Only the updated module's id appears as a key; its unchanged
// dependency is not re-rendered into the payload.
func TestRenderUpdatePayload_EmitsObjectLiteralOfFactories(t *testing.T) {
	g := graph.NewMapGraph()
	reg := registry.New()

	lib := modID("lib.js")
	app := modID("app.js")

	fooRef := reg.Intern(lib, "foo")
	g.AddModule(&graph.Module{
		ID:             lib,
		System:         graph.EsModule,
		ExecutionOrder: 0,
		Stmts:          []jsast.Stmt{{Pos: 0, Data: &jsast.SLocal{Decls: []ast.VarRef{fooRef}, Code: "1"}}},
	})

	localRef := reg.Intern(app, "foo")
	g.AddModule(&graph.Module{
		ID:             app,
		System:         graph.EsModule,
		IsEntry:        true,
		ExecutionOrder: 1,
		Stmts: []jsast.Stmt{
			{Pos: 0, Data: &jsast.SImport{
				Source:     lib,
				Specifiers: []jsast.ImportSpecifier{{Kind: jsast.ImportNamed, Local: localRef, Imported: "foo"}},
			}},
			{Pos: 1, Data: &jsast.SLocal{Decls: []ast.VarRef{reg.Intern(app, "result")}, Code: localRef.String()}},
		},
	})
	g.AddEdge(app, lib)

	pot := resource.NewResourcePot("main", resource.Js, "group-1")
	pot.AddModule(lib)
	pot.AddModule(app)

	opts := &config.Options{OutputFormat: config.FormatEsModule, ConcatenateModules: true}
	b := NewWithRegistry(g, opts, reg)

	result, err := b.Build([]*resource.ResourcePot{pot})
	require.NoError(t, err)

	engine := b.UpdateEngine(result.Pots, result.Resources)
	payload, err := engine.RenderUpdatePayload([]ast.ModuleId{app}, update.DiffResult{})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(payload, "({\n"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(payload), "});"))
	assert.Contains(t, payload, `"app.js": function(module, exports, require) {`)
	assert.NotContains(t, payload, `"lib.js":`)
	assert.NotContains(t, payload, "__esModule")
	assert.NotContains(t, payload, "(function() {")
}
