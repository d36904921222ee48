// Package reference implements BundleReference and ReferenceManager
// (spec.md §4.D): per-consumer-module records of what must be imported,
// re-exported, or declared, keyed by reference target (another module in
// the build, or an external package).
package reference

import (
	"fmt"
	"sort"

	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/jsast"
	"github.com/scopehoist/bundlecore/internal/logger"
	"github.com/scopehoist/bundlecore/internal/registry"
)

// ReferenceKind is Module(ModuleId) or External(String). Comparable, so it
// can key a plain map.
type ReferenceKind struct {
	external bool
	module   ast.ModuleId
	pkg      string
}

func ModuleTarget(id ast.ModuleId) ReferenceKind  { return ReferenceKind{module: id} }
func ExternalTarget(pkg string) ReferenceKind     { return ReferenceKind{external: true, pkg: pkg} }
func (k ReferenceKind) IsExternal() bool          { return k.external }
func (k ReferenceKind) Module() ast.ModuleId      { return k.module }
func (k ReferenceKind) Package() string           { return k.pkg }

func (k ReferenceKind) String() string {
	if k.external {
		return "external:" + k.pkg
	}
	return "module:" + k.module.String()
}

func (k ReferenceKind) less(other ReferenceKind) bool {
	if k.external != other.external {
		return !k.external // module targets sort before external ones
	}
	if k.external {
		return k.pkg < other.pkg
	}
	return k.module.Less(other.module)
}

func importKey(kind jsast.ImportSpecifierKind, importedName string) string {
	switch kind {
	case jsast.ImportNamespace:
		return "*"
	case jsast.ImportDefault:
		return "default"
	default:
		return importedName
	}
}

// LocalExport is a module's own published export surface (spec.md's
// `export: Option<ExternalReferenceExport>`).
type LocalExport struct {
	System graph.ModuleSystem
	Names  map[string]ast.VarRef // exported name -> idx
	order  []string              // insertion order, for deterministic emission
}

func newLocalExport() *LocalExport {
	return &LocalExport{Names: make(map[string]ast.VarRef)}
}

// OrderedNames returns exported names in the order they were added.
func (e *LocalExport) OrderedNames() []string {
	return append([]string(nil), e.order...)
}

// BundleReference is the per-consumer-module record the Linker populates
// during pass 3 and the AstPatcher reads during assembly.
type BundleReference struct {
	Consumer ast.ModuleId

	importMap map[ReferenceKind]map[string]ast.VarRef
	extExport map[ReferenceKind]map[string]ast.VarRef // forwarded re-exports, keyed by target -> exported-name -> idx
	export    *LocalExport
	redeclare map[ReferenceKind]map[string]ast.VarRef
	execute   map[ReferenceKind]bool

	targetSystem map[ReferenceKind]graph.ModuleSystem // D3: locked once a target's system is recorded
}

func newBundleReference(consumer ast.ModuleId) *BundleReference {
	return &BundleReference{
		Consumer:     consumer,
		importMap:    make(map[ReferenceKind]map[string]ast.VarRef),
		extExport:    make(map[ReferenceKind]map[string]ast.VarRef),
		redeclare:    make(map[ReferenceKind]map[string]ast.VarRef),
		execute:      make(map[ReferenceKind]bool),
		targetSystem: make(map[ReferenceKind]graph.ModuleSystem),
	}
}

func (br *BundleReference) lockSystem(target ReferenceKind, system graph.ModuleSystem) error {
	if existing, ok := br.targetSystem[target]; ok {
		if existing != system {
			return fmt.Errorf("reference: module system for %s changed from %s to %s (D3 violation)",
				target, existing, system)
		}
		return nil
	}
	br.targetSystem[target] = system
	return nil
}

// AddImport adds specifier to import_map[target], returning the index the
// imported binding is available under in the consumer. For Default
// imports of an internal target, targetDefaultSlot (if valid) is reused
// directly so every consumer shares the target's own default-export slot
// instead of fighting over a fresh "default" name (spec.md §4.D).
func (br *BundleReference) AddImport(
	kind jsast.ImportSpecifierKind,
	importedName string,
	target ReferenceKind,
	targetSystem graph.ModuleSystem,
	targetDefaultSlot ast.VarRef,
	reg *registry.Registry,
) (ast.VarRef, error) {
	if err := br.lockSystem(target, targetSystem); err != nil {
		return ast.VarRef{}, err
	}
	key := importKey(kind, importedName)
	bucket := br.importMap[target]
	if bucket == nil {
		bucket = make(map[string]ast.VarRef)
		br.importMap[target] = bucket
	}
	if existing, ok := bucket[key]; ok {
		return existing, nil // D1: later calls merge with earlier
	}

	var idx ast.VarRef
	if kind == jsast.ImportDefault && targetDefaultSlot.IsValid() {
		idx = targetDefaultSlot
	} else {
		name := importedName
		switch kind {
		case jsast.ImportNamespace:
			name = "ns"
		case jsast.ImportDefault:
			name = "default"
		}
		idx = reg.Intern(br.Consumer, name)
	}
	bucket[key] = idx
	return idx, nil
}

// AddLocalExport adds name -> idx to this module's own export record,
// merging system into the record's system (ESM and CJS together become
// Hybrid; a differing system never fails here).
// Duplicate exported names fail with DuplicateExport (D2).
func (br *BundleReference) AddLocalExport(name string, idx ast.VarRef, system graph.ModuleSystem) error {
	if br.export == nil {
		br.export = newLocalExport()
		br.export.System = system
	} else {
		br.export.System = br.export.System.Merge(system)
	}
	if _, exists := br.export.Names[name]; exists {
		return logger.Msg{
			Kind:   logger.DuplicateExport,
			Text:   fmt.Sprintf("duplicate export %q", name),
			Module: br.Consumer.String(),
		}
	}
	br.export.Names[name] = idx
	br.export.order = append(br.export.order, name)
	return nil
}

// Export returns this consumer's locally owned export record, or nil if
// it exports nothing of its own.
func (br *BundleReference) Export() *LocalExport { return br.export }

// AddReexportAll records `export * from src` when src stays as a raw
// wildcard forward. The Linker calls it only for an external src; a src
// owned by a different bundle is recorded through AddReexportNamed under
// the name "*", and an internal, same-bundle `export *` is expanded by
// calling AddLocalExport per name.
func (br *BundleReference) AddReexportAll(src ReferenceKind, namespaceIdx ast.VarRef, system graph.ModuleSystem) error {
	if err := br.lockSystem(src, system); err != nil {
		return err
	}
	bucket := br.extExport[src]
	if bucket == nil {
		bucket = make(map[string]ast.VarRef)
		br.extExport[src] = bucket
	}
	bucket["*"] = namespaceIdx
	return nil
}

// AddReexportNamed records a forwarded named re-export (`export { X as Y }
// from src` where src lives in another bundle): name is the exported-as
// name, idx is the binding forwarded.
func (br *BundleReference) AddReexportNamed(src ReferenceKind, name string, idx ast.VarRef, system graph.ModuleSystem) error {
	if err := br.lockSystem(src, system); err != nil {
		return err
	}
	bucket := br.extExport[src]
	if bucket == nil {
		bucket = make(map[string]ast.VarRef)
		br.extExport[src] = bucket
	}
	if existing, ok := bucket[name]; ok && existing != idx {
		return logger.Msg{
			Kind:   logger.DuplicateExport,
			Text:   fmt.Sprintf("duplicate forwarded export %q", name),
			Module: br.Consumer.String(),
		}
	}
	bucket[name] = idx
	return nil
}

// ExternalExports returns the forwarded re-export table, target by target.
func (br *BundleReference) ExternalExports() map[ReferenceKind]map[string]ast.VarRef {
	return br.extExport
}

// AddDeclareCommonJSImport records that, at the consumer's use site, a
// call to target's CJS wrapper must be emitted and specifier destructured
// from its result. Idempotent per (consumer, target, specifier).
func (br *BundleReference) AddDeclareCommonJSImport(
	kind jsast.ImportSpecifierKind,
	importedName string,
	target ReferenceKind,
	targetSystem graph.ModuleSystem,
	reg *registry.Registry,
) (ast.VarRef, error) {
	if err := br.lockSystem(target, targetSystem); err != nil {
		return ast.VarRef{}, err
	}
	key := importKey(kind, importedName)
	bucket := br.redeclare[target]
	if bucket == nil {
		bucket = make(map[string]ast.VarRef)
		br.redeclare[target] = bucket
	}
	if existing, ok := bucket[key]; ok {
		return existing, nil
	}
	name := importedName
	switch kind {
	case jsast.ImportNamespace:
		name = "ns"
	case jsast.ImportDefault:
		name = "default"
	}
	idx := reg.Intern(br.Consumer, name)
	bucket[key] = idx
	return idx, nil
}

// RedeclareCommonJSImports returns the table of required wrapper-call
// declarations, target by target.
func (br *BundleReference) RedeclareCommonJSImports() map[ReferenceKind]map[string]ast.VarRef {
	return br.redeclare
}

// ExecuteModuleForCJS and AddExecuteModule both record side-effect-only
// imports (no names bound); spec.md §4.D names them as two call sites for
// the same underlying set.
func (br *BundleReference) ExecuteModuleForCJS(target ReferenceKind) { br.execute[target] = true }
func (br *BundleReference) AddExecuteModule(target ReferenceKind)    { br.execute[target] = true }

// ExecuteModuleSet returns every side-effect-only target, sorted for
// deterministic emission.
func (br *BundleReference) ExecuteModuleSet() []ReferenceKind {
	out := make([]ReferenceKind, 0, len(br.execute))
	for k := range br.execute {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// ImportedIdx looks up what AddImport already recorded for (target, key),
// without allocating a new one.
func (br *BundleReference) ImportedIdx(target ReferenceKind, kind jsast.ImportSpecifierKind, importedName string) (ast.VarRef, bool) {
	bucket, ok := br.importMap[target]
	if !ok {
		return ast.VarRef{}, false
	}
	idx, ok := bucket[importKey(kind, importedName)]
	return idx, ok
}

// ImportTargets returns every target this consumer imports from, sorted.
func (br *BundleReference) ImportTargets() []ReferenceKind {
	out := make([]ReferenceKind, 0, len(br.importMap))
	for k := range br.importMap {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// ReferenceManager owns one BundleReference per consumer module id
// (spec.md §4.D). BundleReferences exist only for the duration of a
// single bundle assembly; the manager is recreated per build.
type ReferenceManager struct {
	refs map[ast.ModuleId]*BundleReference
}

func NewReferenceManager() *ReferenceManager {
	return &ReferenceManager{refs: make(map[ast.ModuleId]*BundleReference)}
}

// For returns the consumer's BundleReference, creating it on first use.
func (rm *ReferenceManager) For(consumer ast.ModuleId) *BundleReference {
	br, ok := rm.refs[consumer]
	if !ok {
		br = newBundleReference(consumer)
		rm.refs[consumer] = br
	}
	return br
}

// Consumers returns every consumer module id with a recorded reference,
// sorted for deterministic iteration.
func (rm *ReferenceManager) Consumers() []ast.ModuleId {
	out := make([]ast.ModuleId, 0, len(rm.refs))
	for id := range rm.refs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
