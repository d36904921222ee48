// Package jsast is a deliberately small statement/expression model. Full
// JS/TS/JSX parsing is out of scope (spec.md §1 delegates it to external
// plugins) — by the time a module reaches this module's core, every
// statement that isn't an import or export is already-rendered source
// text. This package only needs to model enough structure for the Linker
// to rewrite import/export statements and for the AstPatcher/
// BundleAssembler to strip, splice and re-print them.
//
// The tagged-union shape (Stmt{Data S}, `type S interface{ isStmt() }`)
// mirrors how the teacher's own AST package dispatches over statement
// kinds: adding a new specifier shape is a compile-time exhaustiveness
// check at every switch, not a new virtual method.
package jsast

import "github.com/scopehoist/bundlecore/internal/ast"

// Stmt is a single statement in a module, in source order.
type Stmt struct {
	Data S
	Pos  int // 0-based statement index within the module, for stable ordering
}

// S is the marker interface every concrete statement kind implements.
type S interface{ isStmt() }

func (*SImport) isStmt()        {}
func (*SExportClause) isStmt()  {}
func (*SExportFrom) isStmt()    {}
func (*SExportDefault) isStmt() {}
func (*SExportStar) isStmt()    {}
func (*SLocal) isStmt()         {}
func (*SRaw) isStmt()           {}

// ImportSpecifier mirrors spec.md's data model exactly.
type ImportSpecifierKind uint8

const (
	ImportNamespace ImportSpecifierKind = iota
	ImportNamed
	ImportDefault
)

type ImportSpecifier struct {
	Kind     ImportSpecifierKind
	Local    ast.VarRef
	Imported string // only meaningful for ImportNamed; "" means same as local's original name
}

// SImport is "import ... from 'source'" in any of its shapes, including
// the bare `import 'source'` (Specifiers empty, side-effect only).
type SImport struct {
	Source      ast.ModuleId
	Specifiers  []ImportSpecifier
	IsSideEffectOnly bool
}

// ExportSpecifierKind mirrors spec.md's ExportSpecifier variants.
type ExportSpecifierKind uint8

const (
	ExportAll ExportSpecifierKind = iota
	ExportNamed
	ExportDefault
	ExportNamespace
)

type ExportSpecifier struct {
	Kind     ExportSpecifierKind
	Local    ast.VarRef
	ExportAs string // "" means same as local's original name
	Source   ast.ModuleId
	HasSource bool
}

// SExportClause is `export { a, b as c }` (no source).
type SExportClause struct {
	Items []ExportSpecifier
}

// SExportFrom is `export { a, b as c } from 'source'`.
type SExportFrom struct {
	Source ast.ModuleId
	Items  []ExportSpecifier
}

// SExportDefault is `export default <expr-or-decl>`. Value holds the
// already-rendered expression/declaration text; LocalName is set only
// when the default export is a named declaration (`export default
// function foo(){}`) so the linker can tell whether the local name is
// literally "default" (anonymous) or an identifier.
type SExportDefault struct {
	Value     string
	LocalName string // "" if the default export has no local name (anonymous)
}

// SExportStar is `export * from 'source'` or `export * as ns from 'source'`.
type SExportStar struct {
	Source ast.ModuleId
	Alias  string // "" unless this is `export * as alias from ...`
}

// SLocal is a top-level declaration this module owns: `const/let/var x = ...`
// or a function/class declaration. Code holds the already-rendered
// right-hand side (or full declaration for functions/classes); Decls names
// every top-level binding it introduces.
type SLocal struct {
	Decls []ast.VarRef
	Code  string
}

// SRaw is an opaque, already-rendered statement passed through verbatim.
type SRaw struct {
	Code string
}
