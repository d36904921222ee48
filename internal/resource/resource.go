// Package resource models the planned outputs of a build: ModuleGroups
// (partial-bundling policy, opaque to this module), ResourcePots (the
// bundle-sized unit the linker/assembler operate on) and the Resources
// they emit.
package resource

import (
	"sort"
	"sync"

	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/graph"
)

type ResourcePotType uint8

const (
	Js ResourcePotType = iota
	Css
	Html
	Runtime
	Asset
	Custom
)

type ResourceType uint8

const (
	ResourceJs ResourceType = iota
	ResourceCss
	ResourceHtml
	ResourceMap
	ResourceRuntime
	ResourceAsset
)

// Resource is one emitted artifact.
type Resource struct {
	Name         string
	Bytes        []byte
	Emitted      bool
	Type         ResourceType
	ResourcePotID string
}

// ResourcePot is a planned output file: a named, ordered set of module ids
// destined for one output.
type ResourcePot struct {
	ID             string
	Type           ResourcePotType
	ModuleGroupID  string
	modules        []ast.ModuleId
	moduleSet      map[ast.ModuleId]bool
	System         graph.ModuleSystem
	resources      []string // resource names currently emitted for this pot
}

func NewResourcePot(id string, typ ResourcePotType, moduleGroupID string) *ResourcePot {
	return &ResourcePot{
		ID:            id,
		Type:          typ,
		ModuleGroupID: moduleGroupID,
		moduleSet:     make(map[ast.ModuleId]bool),
	}
}

func (p *ResourcePot) AddModule(id ast.ModuleId) {
	if p.moduleSet[id] {
		return
	}
	p.moduleSet[id] = true
	p.modules = append(p.modules, id)
}

func (p *ResourcePot) HasModule(id ast.ModuleId) bool { return p.moduleSet[id] }

// Modules returns this pot's modules in the order they were added; it does
// not sort them by execution order.
// The runtime pot is special: it must appear before all others, but that
// ordering is a property of the ResourcePotMap, not of a single pot.
func (p *ResourcePot) Modules() []ast.ModuleId { return p.modules }

func (p *ResourcePot) SetResources(names []string) { p.resources = names }
func (p *ResourcePot) ClearResources()              { p.resources = nil }
func (p *ResourcePot) Resources() []string          { return p.resources }

// IsRuntime reports whether this pot must execute before all others and
// therefore cannot declare top-level exports (spec.md §3).
func (p *ResourcePot) IsRuntime() bool { return p.Type == Runtime }

// ModuleGroupID identifies a partial-bundling unit. Its internal policy is
// opaque to this module (spec.md §9).
type ModuleGroupID string

// ResourcePotMap is a mutex-guarded id -> pot map (spec.md §5: "one mutex
// protects the mapping of id to pot; pot mutation uses per-pot interior
// mutability once borrowed").
type ResourcePotMap struct {
	mu   sync.Mutex
	pots map[string]*ResourcePot
}

func NewResourcePotMap() *ResourcePotMap {
	return &ResourcePotMap{pots: make(map[string]*ResourcePot)}
}

func (m *ResourcePotMap) Add(pot *ResourcePot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pots[pot.ID] = pot
}

func (m *ResourcePotMap) Remove(id string) *ResourcePot {
	m.mu.Lock()
	defer m.mu.Unlock()
	pot := m.pots[id]
	delete(m.pots, id)
	return pot
}

func (m *ResourcePotMap) Get(id string) (*ResourcePot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pot, ok := m.pots[id]
	return pot, ok
}

// All returns every pot, sorted by ID for deterministic iteration.
func (m *ResourcePotMap) All() []*ResourcePot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ResourcePot, 0, len(m.pots))
	for _, p := range m.pots {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResourcesMap is a mutex-guarded name -> Resource map; entries are
// replaced wholesale, never mutated in place (spec.md §5).
type ResourcesMap struct {
	mu        sync.Mutex
	resources map[string]Resource
}

func NewResourcesMap() *ResourcesMap {
	return &ResourcesMap{resources: make(map[string]Resource)}
}

func (m *ResourcesMap) Set(r Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.Name] = r
}

func (m *ResourcesMap) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, name)
}

func (m *ResourcesMap) Get(name string) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[name]
	return r, ok
}
