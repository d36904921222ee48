// Package patcher implements the AstPatcher (spec.md §4.F): applies the
// StmtActions the Linker recorded, stitches in the synthesized
// import/export statements and CJS wrapper-call declarations the
// ReferenceManager accumulated, and prepends polyfill helper text.
package patcher

import (
	"sort"
	"strings"

	"github.com/scopehoist/bundlecore/internal/analyzer"
	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/jsast"
	"github.com/scopehoist/bundlecore/internal/polyfill"
	"github.com/scopehoist/bundlecore/internal/reference"
	"github.com/scopehoist/bundlecore/internal/registry"
)

// PatchedModule is one module's statements after stripping and
// rewriting, ready for the Assembler to print.
type PatchedModule struct {
	ID    ast.ModuleId
	Stmts []jsast.Stmt
}

// Patcher applies a bundle's recorded actions across all its modules in
// one pass.
type Patcher struct {
	Registry  *registry.Registry
	RefMgr    *reference.ReferenceManager
	Analyzers map[ast.ModuleId]*analyzer.Analyzer
	Graph     graph.Graph
}

func New(reg *registry.Registry, refMgr *reference.ReferenceManager, analyzers map[ast.ModuleId]*analyzer.Analyzer, g graph.Graph) *Patcher {
	return &Patcher{Registry: reg, RefMgr: refMgr, Analyzers: analyzers, Graph: g}
}

// Patch runs the full per-bundle AstPatcher algorithm over modules (in
// topological order). isRuntime suppresses synthesized export generation
// (spec.md §4.F step 3: "Runtime bundles skip export generation").
func (p *Patcher) Patch(modules []ast.ModuleId, polyfills *polyfill.Set, isRuntime bool) []PatchedModule {
	out := make([]PatchedModule, 0, len(modules))
	for _, id := range modules {
		out = append(out, PatchedModule{ID: id, Stmts: p.patchModule(id)})
	}

	if len(out) > 0 {
		p.prependCommonJSWrapperDecls(out, modules)
		out[0].Stmts = append(p.synthesizedImports(modules), out[0].Stmts...)
		if !isRuntime {
			last := len(out) - 1
			out[last].Stmts = append(out[last].Stmts, p.synthesizedExports(modules)...)
		}
	}

	if polyfills != nil && !polyfills.IsEmpty() {
		out = p.prependPolyfillText(out, polyfills)
	}

	return out
}

// patchModule applies one module's recorded StmtActions in original
// statement order so source-mapped positions stay stable.
func (p *Patcher) patchModule(id ast.ModuleId) []jsast.Stmt {
	m, ok := p.Graph.Module(id)
	if !ok {
		return nil
	}
	a := p.Analyzers[id]

	out := make([]jsast.Stmt, 0, len(m.Stmts))
	for _, stmt := range m.Stmts {
		action, has := a.Action(stmt.Pos)
		if !has {
			out = append(out, stmt)
			continue
		}
		switch action.Kind {
		case analyzer.RemoveImport, analyzer.StripExport:
			// dropped entirely; payload already recorded elsewhere
		case analyzer.StripCjsImport:
			// the wrapper-call side effect remains as a bare statement
			out = append(out, jsast.Stmt{Pos: stmt.Pos, Data: &jsast.SRaw{
				Code: RequireCallee(action.Source) + "();",
			}})
		case analyzer.StripDefaultExport:
			out = append(out, jsast.Stmt{Pos: stmt.Pos, Data: rawDeclWithoutExport(stmt.Data)})
		case analyzer.DeclDefaultExpr:
			expr, _ := stmt.Data.(*jsast.SExportDefault)
			name := p.Registry.RenderedName(action.DefaultSlot)
			out = append(out, jsast.Stmt{Pos: stmt.Pos, Data: &jsast.SRaw{
				Code: "const " + name + " = " + valueOf(expr) + ";",
			}})
		default:
			out = append(out, stmt)
		}
	}
	return out
}

func valueOf(s *jsast.SExportDefault) string {
	if s == nil {
		return "undefined"
	}
	return s.Value
}

// rawDeclWithoutExport renders an `export default <decl>` statement
// keeping only the declaration text (dropping the "export default"
// keywords); the declaration's own name was already interned as the
// module's default slot by the analyzer, so no further rename is needed
// here (the declaration text and the slot's rendered name coincide by
// construction since both came from the same statement).
func rawDeclWithoutExport(data jsast.S) jsast.S {
	s, ok := data.(*jsast.SExportDefault)
	if !ok {
		return data
	}
	return &jsast.SRaw{Code: s.Value}
}

// RequireCallee names the call site for a CJS target's lazily-initialized
// wrapper, following esbuild's "require_<module>" convention for the
// function `__commonJS` produces. The wrapper's own function definition
// (the module's body closed over exports/module, the thing `__commonJS`
// actually wraps) is synthesized by the Assembler when it renders a
// CommonJS-system module, not by this package — this package only emits
// call sites and destructuring declarations against it. Exported so the
// Assembler uses the exact same name when it defines the wrapper this
// package only calls.
func RequireCallee(target ast.ModuleId) string {
	return "require_" + sanitize(target.String())
}

func sanitize(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// prependCommonJSWrapperDecls groups every RedeclareCommonJSImport entry
// across the bundle by the first consumer (in the given topological
// order) that references each target, and prepends the wrapper-call
// declaration statement immediately before that consumer's statements
// (spec.md §4.F step 1). Names requested by later consumers of the same
// target join that one declaration; a name requested more than once keeps
// the binding of the first consumer that asked for it.
func (p *Patcher) prependCommonJSWrapperDecls(out []PatchedModule, modules []ast.ModuleId) {
	order := make(map[ast.ModuleId]int, len(modules))
	for i, id := range modules {
		order[id] = i
	}

	type firstUse struct {
		consumerIdx int
		target      reference.ReferenceKind
		names       map[string]ast.VarRef
	}
	firstByTarget := make(map[reference.ReferenceKind]*firstUse)

	for _, id := range modules {
		br := p.RefMgr.For(id)
		for target, names := range br.RedeclareCommonJSImports() {
			idx, ok := order[id]
			if !ok {
				continue
			}
			fu, exists := firstByTarget[target]
			if !exists {
				fu = &firstUse{consumerIdx: idx, target: target, names: make(map[string]ast.VarRef, len(names))}
				firstByTarget[target] = fu
			}
			for k, v := range names {
				if _, dup := fu.names[k]; !dup {
					fu.names[k] = v
				}
			}
		}
	}

	byConsumer := make(map[int][]*firstUse)
	for _, fu := range firstByTarget {
		byConsumer[fu.consumerIdx] = append(byConsumer[fu.consumerIdx], fu)
	}

	for idx, fus := range byConsumer {
		sort.Slice(fus, func(i, j int) bool { return fus[i].target.String() < fus[j].target.String() })
		var decls []jsast.Stmt
		for _, fu := range fus {
			decls = append(decls, jsast.Stmt{Data: &jsast.SRaw{Code: wrapperDeclStmt(fu.target, fu.names, p.Registry)}})
		}
		out[idx].Stmts = append(decls, out[idx].Stmts...)
	}
}

func wrapperDeclStmt(target reference.ReferenceKind, names map[string]ast.VarRef, reg *registry.Registry) string {
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, reg.RenderedName(names[k]))
	}
	callee := RequireCallee(target.Module())
	return "const { " + strings.Join(parts, ", ") + " } = " + callee + "();"
}

// synthesizedImports renders the bundle's accumulated import_map as
// prepend statements at the first module. Only external targets are
// rendered, each as a `// import from <pkg>` comment line; module targets
// (same-bundle group boundaries and modules in other bundles alike)
// produce no statement here.
func (p *Patcher) synthesizedImports(modules []ast.ModuleId) []jsast.Stmt {
	var stmts []jsast.Stmt
	for _, id := range modules {
		br := p.RefMgr.For(id)
		for _, target := range br.ImportTargets() {
			if !target.IsExternal() {
				continue // module targets are not rendered as import statements
			}
			stmts = append(stmts, jsast.Stmt{Data: &jsast.SRaw{Code: "// import from " + target.Package()}})
		}
	}
	return stmts
}

// synthesizedExports renders entry_exports — the accumulated local
// exports of every module in the bundle that has a recorded local export,
// sorted by exported name — as append statements at the last module
// (spec.md §4.F step 3).
func (p *Patcher) synthesizedExports(modules []ast.ModuleId) []jsast.Stmt {
	type entry struct {
		exportedAs string
		idx        ast.VarRef
	}
	var entries []entry
	for _, id := range modules {
		exp := p.RefMgr.For(id).Export()
		if exp == nil {
			continue
		}
		for _, name := range exp.OrderedNames() {
			entries = append(entries, entry{exportedAs: name, idx: exp.Names[name]})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].exportedAs < entries[j].exportedAs })

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.exportedAs+": "+p.Registry.RenderedName(e.idx))
	}
	return []jsast.Stmt{{Data: &jsast.SRaw{Code: "export { " + strings.Join(parts, ", ") + " };"}}}
}

// prependPolyfillText prepends the polyfill set's materialized helper
// source ahead of the first patched module's statements.
func (p *Patcher) prependPolyfillText(modules []PatchedModule, polyfills *polyfill.Set) []PatchedModule {
	if len(modules) == 0 {
		return modules
	}
	helperStmt := jsast.Stmt{Data: &jsast.SRaw{Code: polyfills.ToSource()}}
	modules[0].Stmts = append([]jsast.Stmt{helperStmt}, modules[0].Stmts...)
	return modules
}
