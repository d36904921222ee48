package assembler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopehoist/bundlecore/internal/analyzer"
	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/config"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/jsast"
	"github.com/scopehoist/bundlecore/internal/patcher"
	"github.com/scopehoist/bundlecore/internal/polyfill"
	"github.com/scopehoist/bundlecore/internal/registry"
)

func modID(path string) ast.ModuleId { return ast.ModuleId{Path: path} }

func baseOptions() *config.Options {
	return &config.Options{
		OutputFormat: config.FormatEsModule,
		TargetEnv:    config.TargetNode,
		Mode:         config.ModeProduction,
	}
}

// An ESM-system module's statements are concatenated as-is, with no
// wrapper.
func TestAssemble_EsmModuleConcatenatesPlainly(t *testing.T) {
	reg := registry.New()
	ref := reg.Intern(modID("a.js"), "x")
	analyzers := map[ast.ModuleId]*analyzer.Analyzer{
		modID("a.js"): analyzer.New(&graph.Module{ID: modID("a.js"), System: graph.EsModule}, reg, true),
	}
	a := New(reg, analyzers, baseOptions())

	modules := []patcher.PatchedModule{
		{ID: modID("a.js"), Stmts: []jsast.Stmt{{Data: &jsast.SLocal{Decls: []ast.VarRef{ref}, Code: "1"}}}},
	}

	out, err := a.Assemble(modules, nil, false, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Code, "const "+reg.RenderedName(ref)+" = 1;")
	assert.NotContains(t, out.Code, "__commonJS")
}

// A CommonJS-system module's body is wrapped in a __commonJS factory
// named after the patcher's require_<id> convention.
func TestAssemble_CommonJSModuleGetsWrapperFactory(t *testing.T) {
	reg := registry.New()
	id := modID("lib.js")
	analyzers := map[ast.ModuleId]*analyzer.Analyzer{
		id: analyzer.New(&graph.Module{ID: id, System: graph.CommonJs}, reg, false),
	}
	a := New(reg, analyzers, baseOptions())

	modules := []patcher.PatchedModule{
		{ID: id, Stmts: []jsast.Stmt{{Data: &jsast.SRaw{Code: "module.exports = 1;"}}}},
	}

	out, err := a.Assemble(modules, nil, false, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Code, "var "+patcher.RequireCallee(id)+" = __commonJS({")
	assert.Contains(t, out.Code, "module.exports = 1;")
}

// Browser-targeted CommonJS-format output gets IIFE-wrapped; runtime
// bundles never do, regardless of target.
func TestAssemble_IIFEWrapsOnlyNonRuntimeBrowserCommonJS(t *testing.T) {
	reg := registry.New()
	id := modID("a.js")
	analyzers := map[ast.ModuleId]*analyzer.Analyzer{
		id: analyzer.New(&graph.Module{ID: id, System: graph.EsModule}, reg, true),
	}
	opts := &config.Options{OutputFormat: config.FormatCommonJS, TargetEnv: config.TargetBrowser}
	a := New(reg, analyzers, opts)
	modules := []patcher.PatchedModule{{ID: id, Stmts: []jsast.Stmt{{Data: &jsast.SRaw{Code: "1;"}}}}}

	out, err := a.Assemble(modules, nil, false, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Code, "(function() {"))

	runtimeOut, err := a.Assemble(modules, nil, true, nil)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(runtimeOut.Code, "(function() {"))
}

// Development mode prepends a module_id marker ahead of each module's
// statements.
func TestAssemble_DevModePrependsModuleIdMarker(t *testing.T) {
	reg := registry.New()
	id := modID("a.js")
	analyzers := map[ast.ModuleId]*analyzer.Analyzer{
		id: analyzer.New(&graph.Module{ID: id, System: graph.EsModule}, reg, true),
	}
	opts := baseOptions()
	opts.Mode = config.ModeDevelopment
	a := New(reg, analyzers, opts)
	modules := []patcher.PatchedModule{{ID: id, Stmts: []jsast.Stmt{{Data: &jsast.SRaw{Code: "1;"}}}}}

	out, err := a.Assemble(modules, nil, false, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Code, "// module_id: a.js")
}

// A CommonJS-format output whose polyfill set needed the esm flag helper
// gets an __esModule interop marker; an ESM-format output never does.
func TestAssemble_EsModuleFlagOnlyForCommonJSFormat(t *testing.T) {
	reg := registry.New()
	id := modID("a.js")
	analyzers := map[ast.ModuleId]*analyzer.Analyzer{
		id: analyzer.New(&graph.Module{ID: id, System: graph.EsModule}, reg, true),
	}
	modules := []patcher.PatchedModule{{ID: id, Stmts: []jsast.Stmt{{Data: &jsast.SRaw{Code: "1;"}}}}}

	set := polyfill.New()
	set.Add(polyfill.EsmFlag)

	cjsOpts := baseOptions()
	cjsOpts.OutputFormat = config.FormatCommonJS
	a := New(reg, analyzers, cjsOpts)
	out, err := a.Assemble(modules, set, false, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Code, "__esModule")

	a2 := New(reg, analyzers, baseOptions())
	out2, err := a2.Assemble(modules, set, false, nil)
	require.NoError(t, err)
	assert.NotContains(t, out2.Code, "__esModule")
}

func TestSortByExecutionOrder(t *testing.T) {
	g := graph.NewMapGraph()
	g.AddModule(&graph.Module{ID: modID("b.js"), ExecutionOrder: 2})
	g.AddModule(&graph.Module{ID: modID("a.js"), ExecutionOrder: 1})

	out := SortByExecutionOrder(g, []ast.ModuleId{modID("b.js"), modID("a.js")})
	require.Len(t, out, 2)
	assert.Equal(t, modID("a.js"), out[0])
	assert.Equal(t, modID("b.js"), out[1])
}
