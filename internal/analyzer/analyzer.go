// Package analyzer implements the ModuleAnalyzer (spec.md §4.B): the
// per-module facts the Linker reads and the StmtAction channel it writes
// back through, for the AstPatcher to apply later.
package analyzer

import (
	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/jsast"
	"github.com/scopehoist/bundlecore/internal/registry"
)

// StmtActionKind enumerates the actions the Linker can record against a
// statement for the AstPatcher to carry out later (spec.md §4.B / §4.E
// pass 2).
type StmtActionKind uint8

const (
	RemoveImport StmtActionKind = iota
	StripCjsImport
	StripExport
	StripDefaultExport
	DeclDefaultExpr
)

// StmtAction is recorded against a statement's position within the
// module. Source is only meaningful for StripCjsImport (it names the
// target whose side-effecting wrapper call must remain as a bare
// statement). DefaultSlot is only meaningful for StripDefaultExport and
// DeclDefaultExpr.
type StmtAction struct {
	Kind        StmtActionKind
	Pos         int
	Source      ast.ModuleId
	DefaultSlot ast.VarRef
}

// Analyzer holds the per-module facts the Linker/Patcher need.
// pkg/bundlecore.Builder constructs one per module the first time a pot
// containing it is linked and reuses it for every later pot, Build and
// update render of that Builder.
type Analyzer struct {
	Module *graph.Module

	// DefaultSlot is the synthetic "M_default" index representing this
	// module's default export, interned once and reused for every
	// reference to it (invariant R2).
	DefaultSlot ast.VarRef
	hasDefault  bool

	// NamespaceSlot is the synthetic index naming this module's namespace
	// object (invariant R3, needed for every module, not just CJS ones,
	// since any module can be the target of `import * as ns`).
	NamespaceSlot ast.VarRef

	// CommonJSSlot names this module's wrapped export object; only set
	// when the module is (or becomes, via Hybrid) CommonJS-shaped.
	CommonJSSlot ast.VarRef

	actions map[int]StmtAction

	referencedFromOtherBundle bool
	memoizedIsReferenced      *bool
}

// New classifies a module's top-level statements and seeds the synthetic
// slots every module may need. The registry is mutated to intern those
// slots, per spec.md §4.A.
func New(m *graph.Module, reg *registry.Registry, isEntry bool) *Analyzer {
	a := &Analyzer{
		Module:  m,
		actions: make(map[int]StmtAction),
	}
	a.NamespaceSlot = reg.Intern(m.ID, syntheticName(m.ID, "ns"))
	reg.Reserve(a.NamespaceSlot)

	if m.System == graph.CommonJs || m.System == graph.Hybrid {
		a.CommonJSSlot = reg.Intern(m.ID, syntheticName(m.ID, "cjs"))
		reg.Reserve(a.CommonJSSlot)
	}

	for _, stmt := range m.Stmts {
		if ed, ok := stmt.Data.(*jsast.SExportDefault); ok {
			name := ed.LocalName
			if name == "" {
				name = syntheticName(m.ID, "default")
			}
			a.DefaultSlot = reg.Intern(m.ID, name)
			a.hasDefault = true
		}
	}
	return a
}

func syntheticName(id ast.ModuleId, suffix string) string {
	return sanitizeModuleIdent(id) + "_" + suffix
}

// sanitizeModuleIdent turns a module path into a valid-looking JS
// identifier fragment for synthetic names (the registry's collision
// resolution guarantees the final rendered name is unique regardless).
func sanitizeModuleIdent(id ast.ModuleId) string {
	out := make([]byte, 0, len(id.Path))
	for i := 0; i < len(id.Path); i++ {
		c := id.Path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			if len(out) > 0 && out[len(out)-1] != '_' {
				out = append(out, '_')
			}
		}
	}
	if len(out) == 0 {
		return "mod"
	}
	return string(out)
}

func (a *Analyzer) HasDefault() bool { return a.hasDefault }

func (a *Analyzer) IsCommonJS() bool {
	return a.Module.System == graph.CommonJs || a.Module.System == graph.Hybrid
}

func (a *Analyzer) IsEntry() bool { return a.Module.IsEntry }

func (a *Analyzer) ModuleSystem() graph.ModuleSystem { return a.Module.System }

// MarkReferencedFromOtherBundle is called by the build driver (which knows
// the bundle partitioning) whenever an importer of this module lives in a
// different bundle.
func (a *Analyzer) MarkReferencedFromOtherBundle() {
	a.referencedFromOtherBundle = true
	a.memoizedIsReferenced = nil
}

// IsReferencedByAnother is true when (1) any importer lives in a different
// bundle, or (2) the module is an entry point. Memoized since it's queried
// repeatedly during linking.
func (a *Analyzer) IsReferencedByAnother() bool {
	if a.memoizedIsReferenced != nil {
		return *a.memoizedIsReferenced
	}
	result := a.referencedFromOtherBundle || a.Module.IsEntry
	a.memoizedIsReferenced = &result
	return result
}

// RecordAction channels a StmtAction the Linker decided on for later
// application by the AstPatcher.
func (a *Analyzer) RecordAction(action StmtAction) {
	a.actions[action.Pos] = action
}

// Action returns the recorded action for a statement position, if any.
func (a *Analyzer) Action(pos int) (StmtAction, bool) {
	act, ok := a.actions[pos]
	return act, ok
}

// Actions returns every recorded action, in statement order, for the
// Patcher to apply in original order (so source-mapped positions stay
// stable).
func (a *Analyzer) Actions() []StmtAction {
	out := make([]StmtAction, 0, len(a.actions))
	for pos := 0; pos < len(a.Module.Stmts); pos++ {
		if act, ok := a.actions[pos]; ok {
			out = append(out, act)
		}
	}
	return out
}
