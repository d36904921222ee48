package update

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/config"
	"github.com/scopehoist/bundlecore/internal/resource"
)

func modID(path string) ast.ModuleId { return ast.ModuleId{Path: path} }

func recordingRender() (RenderPot, func() []string) {
	var mu sync.Mutex
	var calls []string
	render := func(pot *resource.ResourcePot) (resource.Resource, error) {
		mu.Lock()
		calls = append(calls, pot.ID)
		mu.Unlock()
		return resource.Resource{Name: pot.ID + ".out.js", Bytes: []byte(pot.ID)}, nil
	}
	return render, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), calls...)
	}
}

// RenderUpdatePayload bundles added and updated modules into one
// synthetic pot and renders it through RenderUpdate (not Render) —
// they are distinct pipelines, so only RenderUpdate should see the call.
func TestRenderUpdatePayload_BundlesAddedAndUpdated(t *testing.T) {
	pots := resource.NewResourcePotMap()
	resources := resource.NewResourcesMap()
	render, calls := recordingRender()
	renderUpdate, updateCalls := recordingRender()
	e := New(pots, resources, &config.Options{}, render, renderUpdate)

	payload, err := e.RenderUpdatePayload(
		[]ast.ModuleId{modID("b.js")},
		DiffResult{AddedModules: []ast.ModuleId{modID("a.js")}},
	)
	require.NoError(t, err)
	assert.Equal(t, "__update_resource_pot__", payload)
	assert.Equal(t, []string{"__update_resource_pot__"}, updateCalls())
	assert.Empty(t, calls())
}

// RegenerateAffected always re-renders an updated module's existing pot,
// even when that pot's module group produced no new pot set.
func TestRegenerateAffected_AlwaysRerendersUpdatedModulesOwnPot(t *testing.T) {
	pots := resource.NewResourcePotMap()
	resources := resource.NewResourcesMap()
	pot := resource.NewResourcePot("pot-a", resource.Js, "group-1")
	pot.AddModule(modID("a.js"))
	pot.SetResources([]string{"pot-a.out.js"})
	resources.Set(resource.Resource{Name: "pot-a.out.js", Bytes: []byte("stale")})
	pots.Add(pot)

	render, calls := recordingRender()
	e := New(pots, resources, &config.Options{}, render, nil)

	err := e.RegenerateAffected(nil, []ast.ModuleId{modID("a.js")})
	require.NoError(t, err)
	assert.Equal(t, []string{"pot-a"}, calls())

	r, ok := resources.Get("pot-a.out.js")
	require.True(t, ok)
	assert.Equal(t, "pot-a", string(r.Bytes))
}

// A module group whose recomputed pot set drops a stale pot id causes
// that pot's resources to be removed and the pot itself dropped from the
// map; it is not re-rendered since it no longer exists.
func TestRegenerateAffected_DropsStalePots(t *testing.T) {
	pots := resource.NewResourcePotMap()
	resources := resource.NewResourcesMap()
	stale := resource.NewResourcePot("stale-pot", resource.Js, "group-1")
	stale.SetResources([]string{"stale.out.js"})
	resources.Set(resource.Resource{Name: "stale.out.js", Bytes: []byte("x")})
	pots.Add(stale)

	fresh := resource.NewResourcePot("fresh-pot", resource.Js, "group-1")
	pots.Add(fresh)

	render, calls := recordingRender()
	opts := &config.Options{
		PartialBundling: func(groupID string) ([]string, error) {
			return []string{"fresh-pot"}, nil
		},
	}
	e := New(pots, resources, opts, render, nil)

	err := e.RegenerateAffected([]resource.ModuleGroupID{"group-1"}, nil)
	require.NoError(t, err)

	_, stillThere := pots.Get("stale-pot")
	assert.False(t, stillThere)
	_, resourceStillThere := resources.Get("stale.out.js")
	assert.False(t, resourceStillThere)
	assert.Equal(t, []string{"fresh-pot"}, calls())
}

// A render failure for one pot surfaces as an error from
// RegenerateAffected.
func TestRegenerateAffected_PropagatesRenderError(t *testing.T) {
	pots := resource.NewResourcePotMap()
	resources := resource.NewResourcesMap()
	pot := resource.NewResourcePot("broken", resource.Js, "group-1")
	pot.AddModule(modID("a.js"))
	pots.Add(pot)

	opts := &config.Options{}
	e := New(pots, resources, opts, func(pot *resource.ResourcePot) (resource.Resource, error) {
		return resource.Resource{}, fmt.Errorf("boom")
	}, nil)

	err := e.RegenerateAffected(nil, []ast.ModuleId{modID("a.js")})
	assert.Error(t, err)
}
