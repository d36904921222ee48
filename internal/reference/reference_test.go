package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/jsast"
	"github.com/scopehoist/bundlecore/internal/registry"
)

func modID(path string) ast.ModuleId { return ast.ModuleId{Path: path} }

// D1: two imports of the same name from the same target merge into one
// index instead of allocating twice.
func TestAddImport_SameNameMerges(t *testing.T) {
	reg := registry.New()
	rm := NewReferenceManager()
	consumer := modID("a.js")
	target := ModuleTarget(modID("b.js"))

	br := rm.For(consumer)
	idx1, err := br.AddImport(jsast.ImportNamed, "foo", target, graph.EsModule, ast.VarRef{}, reg)
	require.NoError(t, err)
	idx2, err := br.AddImport(jsast.ImportNamed, "foo", target, graph.EsModule, ast.VarRef{}, reg)
	require.NoError(t, err)

	assert.Equal(t, idx1, idx2)
}

// Default imports of an internal target reuse the target's own default
// slot rather than interning a fresh name per consumer.
func TestAddImport_DefaultReusesTargetSlot(t *testing.T) {
	reg := registry.New()
	rm := NewReferenceManager()
	target := ModuleTarget(modID("b.js"))
	defaultSlot := reg.Intern(modID("b.js"), "b_default")

	brA := rm.For(modID("a.js"))
	idxA, err := brA.AddImport(jsast.ImportDefault, "default", target, graph.EsModule, defaultSlot, reg)
	require.NoError(t, err)

	brC := rm.For(modID("c.js"))
	idxC, err := brC.AddImport(jsast.ImportDefault, "default", target, graph.EsModule, defaultSlot, reg)
	require.NoError(t, err)

	assert.Equal(t, defaultSlot, idxA)
	assert.Equal(t, defaultSlot, idxC)
}

// D2: adding the same exported name twice fails with DuplicateExport.
func TestAddLocalExport_DuplicateFails(t *testing.T) {
	reg := registry.New()
	consumer := modID("a.js")
	rm := NewReferenceManager()
	br := rm.For(consumer)

	idx := reg.Intern(consumer, "x")
	require.NoError(t, br.AddLocalExport("x", idx, graph.EsModule))

	err := br.AddLocalExport("x", idx, graph.EsModule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate export")
}

// D3: a reference kind's recorded module system can't silently change.
func TestAddImport_SystemChangeRejected(t *testing.T) {
	reg := registry.New()
	rm := NewReferenceManager()
	target := ModuleTarget(modID("b.js"))
	br := rm.For(modID("a.js"))

	_, err := br.AddImport(jsast.ImportNamed, "foo", target, graph.EsModule, ast.VarRef{}, reg)
	require.NoError(t, err)

	_, err = br.AddImport(jsast.ImportNamed, "bar", target, graph.CommonJs, ast.VarRef{}, reg)
	require.Error(t, err)
}

// A LocalExport's system merges ESM/CJS entries into Hybrid rather than
// rejecting them outright.
func TestAddLocalExport_SystemMerges(t *testing.T) {
	reg := registry.New()
	consumer := modID("a.js")
	rm := NewReferenceManager()
	br := rm.For(consumer)

	idx1 := reg.Intern(consumer, "x")
	idx2 := reg.Intern(consumer, "y")
	require.NoError(t, br.AddLocalExport("x", idx1, graph.EsModule))
	require.NoError(t, br.AddLocalExport("y", idx2, graph.CommonJs))

	assert.Equal(t, graph.Hybrid, br.Export().System)
	assert.ElementsMatch(t, []string{"x", "y"}, br.Export().OrderedNames())
}

// Side-effect-only imports accumulate into a sorted, deduplicated set.
func TestExecuteModuleSet_Dedup(t *testing.T) {
	rm := NewReferenceManager()
	br := rm.For(modID("a.js"))

	targetB := ModuleTarget(modID("b.js"))
	targetC := ModuleTarget(modID("c.js"))
	br.ExecuteModuleForCJS(targetB)
	br.AddExecuteModule(targetC)
	br.ExecuteModuleForCJS(targetB)

	set := br.ExecuteModuleSet()
	require.Len(t, set, 2)
	assert.Equal(t, targetB, set[0])
	assert.Equal(t, targetC, set[1])
}

// ReferenceManager hands back the same BundleReference for repeated
// lookups of the same consumer, and lists consumers in sorted order.
func TestReferenceManager_ForIsStable(t *testing.T) {
	rm := NewReferenceManager()
	a := rm.For(modID("z.js"))
	b := rm.For(modID("a.js"))
	again := rm.For(modID("z.js"))

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, []ast.ModuleId{modID("a.js"), modID("z.js")}, rm.Consumers())
}
