// Package assembler implements the BundleAssembler (spec.md §4.H): the
// final stage that turns a ResourcePot's patched modules into one output
// file. Per-module rendering fans out through golang.org/x/sync/errgroup
// (one goroutine per module, each writing its own result slot),
// then modules are concatenated in execution order, wrapped for the
// target environment, and their source maps merged.
package assembler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/scopehoist/bundlecore/internal/analyzer"
	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/config"
	"github.com/scopehoist/bundlecore/internal/graph"
	"github.com/scopehoist/bundlecore/internal/jsast"
	"github.com/scopehoist/bundlecore/internal/patcher"
	"github.com/scopehoist/bundlecore/internal/polyfill"
	"github.com/scopehoist/bundlecore/internal/registry"
	"github.com/scopehoist/bundlecore/internal/sourcemap"
)

// Assembler renders a bundle's patched modules into a single output.
type Assembler struct {
	Registry  *registry.Registry
	Analyzers map[ast.ModuleId]*analyzer.Analyzer
	Options   *config.Options
}

func New(reg *registry.Registry, analyzers map[ast.ModuleId]*analyzer.Analyzer, opts *config.Options) *Assembler {
	return &Assembler{Registry: reg, Analyzers: analyzers, Options: opts}
}

// Output is one assembled bundle.
type Output struct {
	Code      string
	SourceMap *sourcemap.SourceMap
}

// SourceInput is what the upstream resolver/loader attaches per module for
// source-map collapsing; the assembler only needs the piece it merges.
type SourceInput struct {
	Path     string
	Content  string
	Mappings []sourcemap.Mapping
	Chain    []*sourcemap.SourceMap
}

// Assemble renders modules (a bundle's patched output, already in
// execution order) into one Output. isRuntime controls IIFE wrapping:
// a runtime bundle always executes eagerly on load and is never itself
// the target of a `require`/`import`, so it gets no named wrapper.
// polyfills, if present, had their helper text already prepended by the
// Patcher; the Assembler's own remaining concern over the set is whether
// the EsmFlag kind is in use, which means some consumer expects
// `__esModule` on this output for default-interop (spec.md §4.H).
func (a *Assembler) Assemble(modules []patcher.PatchedModule, polyfills *polyfill.Set, isRuntime bool, sources map[ast.ModuleId]SourceInput) (Output, error) {
	rendered := make([]string, len(modules))
	lineCounts := make([]int32, len(modules))

	var g errgroup.Group
	for i, m := range modules {
		i, m := i, m
		g.Go(func() error {
			code, err := a.renderModule(m)
			if err != nil {
				return fmt.Errorf("assembler: module %s: %w", m.ID, err)
			}
			rendered[i] = code
			lineCounts[i] = int32(strings.Count(code, "\n"))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Output{}, err
	}

	body := strings.Join(rendered, "\n")
	if !isRuntime && a.Options.OutputFormat == config.FormatCommonJS && polyfills != nil && polyfills.Has(polyfill.EsmFlag) {
		body = "Object.defineProperty(exports, \"__esModule\", { value: true });\n" + body
	}
	if a.shouldWrapIIFE(isRuntime) {
		body = wrapIIFE(body)
	}

	sm := a.mergeSourceMaps(modules, lineCounts, sources)

	return Output{Code: body, SourceMap: sm}, nil
}

// RenderUpdateObject renders a set of already-linked, already-patched
// modules as the bare JS object-literal expression statement
// render_and_generate_update_resource emits for one HMR payload (spec.md
// §4.I, testable property S6): `({ "modId": function(module, exports,
// require) { ... }, ... });`. Unlike Assemble, this never concatenates
// modules into one shared scope, never IIFE-wraps and never adds an
// __esModule interop marker or synthesized top-level exports — an update
// payload patches individual modules into an already-running bundle, it
// never becomes a bundle itself.
func (a *Assembler) RenderUpdateObject(modules []patcher.PatchedModule) (string, error) {
	entries := make([]string, len(modules))
	for i, m := range modules {
		body, err := a.printStmts(m.Stmts)
		if err != nil {
			return "", fmt.Errorf("assembler: update payload module %s: %w", m.ID, err)
		}
		entries[i] = fmt.Sprintf("  %s: function(module, exports, require) {\n%s\n  }",
			strconv.Quote(m.ID.String()), indent(body, "    "))
	}
	return "({\n" + strings.Join(entries, ",\n") + "\n});\n", nil
}

// shouldWrapIIFE matches esbuild's FormatIIFE gate: only browser-targeted,
// non-runtime, non-ESM-format outputs get the closure wrapper. A runtime
// bundle is loaded before anything else and must declare its globals in
// the shared scope, not hide them in a closure.
func (a *Assembler) shouldWrapIIFE(isRuntime bool) bool {
	if isRuntime {
		return false
	}
	return a.Options.TargetEnv == config.TargetBrowser && a.Options.OutputFormat == config.FormatCommonJS
}

func wrapIIFE(body string) string {
	var b strings.Builder
	b.WriteString("(function() {\n")
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("})();\n")
	return b.String()
}

// renderModule prints one module's statements. CommonJS/Hybrid-system
// modules are wrapped in a `__commonJS` factory assigned to their
// `require_<id>` name (esbuild's lazy-initialization convention) instead
// of executing eagerly, since any importer may only need them later
// (spec.md §4.H / §4.G CommonJSWrapper). Development mode prepends a
// `module_id:` marker so stack traces stay legible across the
// concatenation (spec.md §6 Mode).
func (a *Assembler) renderModule(m patcher.PatchedModule) (string, error) {
	var out strings.Builder
	if a.Options.Mode == config.ModeDevelopment {
		fmt.Fprintf(&out, "// module_id: %s\n", m.ID.String())
	}

	body, err := a.printStmts(m.Stmts)
	if err != nil {
		return "", err
	}

	an := a.Analyzers[m.ID]
	if an != nil && an.IsCommonJS() {
		fmt.Fprintf(&out, "var %s = __commonJS({\n  %q(exports, module) {\n%s\n  }\n});\n",
			patcher.RequireCallee(m.ID), m.ID.String(), indent(body, "    "))
		return out.String(), nil
	}

	out.WriteString(body)
	return out.String(), nil
}

func indent(body, prefix string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// printStmts renders a module's statement list to source text, one
// statement per line. SImport/SExportClause/SExportFrom/SExportStar/
// SExportDefault statements should never reach here unaltered — the
// Linker's planExports/planImports passes record a StmtAction for every
// one of them, and the Patcher either drops or rewrites that action into
// an SRaw/SLocal before handing the module off. A survivor of one of
// those kinds means an earlier pass missed it; render it as a comment
// rather than silently dropping content a reader could otherwise debug.
func (a *Assembler) printStmts(stmts []jsast.Stmt) (string, error) {
	var out strings.Builder
	for _, stmt := range stmts {
		line, err := a.printStmt(stmt)
		if err != nil {
			return "", err
		}
		if line == "" {
			continue
		}
		out.WriteString(line)
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

func (a *Assembler) printStmt(stmt jsast.Stmt) (string, error) {
	switch s := stmt.Data.(type) {
	case *jsast.SRaw:
		return s.Code, nil
	case *jsast.SLocal:
		return a.printLocal(s), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprintf("/* unresolved statement kind %T left unpatched */", s), nil
	}
}

// printLocal renders a top-level declaration. Function/class declarations
// carry their full statement text in Code already (jsast's doc comment on
// SLocal); anything else is an expression assigned to the declared
// binding(s). Multiple Decls from one RHS (destructuring) fall back to an
// array-binding pattern rather than modeling the original pattern shape,
// since this module's lightweight jsast has no destructuring-pattern node
// — a real printer would carry the original pattern text through instead.
func (a *Assembler) printLocal(s *jsast.SLocal) string {
	trimmed := strings.TrimSpace(s.Code)
	if strings.HasPrefix(trimmed, "function") || strings.HasPrefix(trimmed, "async function") || strings.HasPrefix(trimmed, "class") {
		return s.Code
	}
	names := make([]string, len(s.Decls))
	for i, d := range s.Decls {
		names[i] = a.Registry.RenderedName(d)
	}
	if len(names) == 1 {
		return "const " + names[0] + " = " + s.Code + ";"
	}
	return "const [" + strings.Join(names, ", ") + "] = " + s.Code + ";"
}

// mergeSourceMaps builds one SourceMap by appending each module's
// mappings at the line offset it ends up at in the concatenated output,
// then collapsing each module's own upstream chain so positions trace
// back to the original (pre-transform) source (spec.md §4.H).
func (a *Assembler) mergeSourceMaps(modules []patcher.PatchedModule, lineCounts []int32, sources map[ast.ModuleId]SourceInput) *sourcemap.SourceMap {
	if !a.Options.SourceMap || sources == nil {
		return nil
	}
	sm := &sourcemap.SourceMap{}
	var lineOffset int32
	for i, m := range modules {
		src, ok := sources[m.ID]
		if ok {
			mappings := sourcemap.CollapseChain(src.Mappings, src.Chain)
			sm.Append(src.Path, src.Content, mappings, lineOffset, 0)
		}
		lineOffset += lineCounts[i] + 1
	}
	return sm
}

// SortByExecutionOrder orders a graph's modules for deterministic
// concatenation (spec.md §8 testable property 7: rebuilding unchanged
// input produces byte-identical output).
func SortByExecutionOrder(g graph.Graph, ids []ast.ModuleId) []ast.ModuleId {
	out := append([]ast.ModuleId(nil), ids...)
	sort.Slice(out, func(i, j int) bool {
		mi, _ := g.Module(out[i])
		mj, _ := g.Module(out[j])
		if mi == nil || mj == nil {
			return out[i].Less(out[j])
		}
		if mi.ExecutionOrder != mj.ExecutionOrder {
			return mi.ExecutionOrder < mj.ExecutionOrder
		}
		return out[i].Less(out[j])
	})
	return out
}
