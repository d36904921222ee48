// Package polyfill implements the Polyfill (spec.md §4.G): a multiset of
// runtime helper kinds a bundle needs, materializable as source text to
// prepend ahead of the concatenated bundle. __commonJS and __export are
// ported from esbuild's internal/runtime helper source; the
// interop_require_default/interop_require_wildcard kinds are the
// `@swc/helpers` shapes (`_interop_require_default.js`/
// `_interop_require_wildcard.js`) original_source/crates/plugin_runtime/
// src/lib.rs actually wires in for this same job, since esbuild's pinned
// snapshot has no vendored __toESM/__toCommonJS definition of its own
// (only a single combined __toModule helper). See DESIGN.md.
package polyfill

import (
	"sort"
	"strings"

	"github.com/scopehoist/bundlecore/internal/jsast"
)

// Kind enumerates the helper kinds a bundle can need.
type Kind uint8

const (
	InteropRequireDefault Kind = iota
	InteropRequireWildcard
	ExportStar
	EsmFlag
	CommonJSWrapper
)

func (k Kind) String() string {
	switch k {
	case InteropRequireDefault:
		return "interop_require_default"
	case InteropRequireWildcard:
		return "interop_require_wildcard"
	case ExportStar:
		return "export_star"
	case EsmFlag:
		return "esm_flag"
	case CommonJSWrapper:
		return "commonjs_wrapper"
	default:
		return "unknown"
	}
}

// helperName is the identifier the polyfill's helper function is emitted
// under. __commonJS/__export mirror esbuild's internal/runtime names;
// __toCommonJS/__toESM name the interop shapes original_source pulls in
// from @swc/helpers (see the package doc above).
var helperName = map[Kind]string{
	InteropRequireDefault:  "__toCommonJS",
	InteropRequireWildcard: "__toESM",
	ExportStar:             "__export",
	EsmFlag:                "__esm",
	CommonJSWrapper:        "__commonJS",
}

// helperSource is the helper's emitted function body, keyed by Kind.
// InteropRequireWildcard/InteropRequireDefault reproduce the
// @swc/helpers `_interop_require_wildcard.js`/`_interop_require_default.js`
// shapes (original_source/crates/plugin_runtime/src/lib.rs), not an
// esbuild runtime helper.
var helperSource = map[Kind]string{
	InteropRequireWildcard: `var __toESM = (mod, isNodeMode) => {
  var target = {};
  if (mod && typeof mod === "object") {
    for (var key in mod) target[key] = mod[key];
  }
  target.default = mod;
  return target;
};`,
	InteropRequireDefault: `var __toCommonJS = (mod) => {
  return mod && mod.__esModule ? mod : { default: mod };
};`,
	ExportStar: `var __export = (target, all) => {
  for (var name in all) {
    Object.defineProperty(target, name, { get: all[name], enumerable: true });
  }
};`,
	EsmFlag: `var __esm = (fn, res) => function () {
  return fn && (res = (0, fn[Object.keys(fn)[0]])(fn = 0)), res;
};`,
	CommonJSWrapper: `var __commonJS = (cb, mod) => function () {
  return mod || (0, cb[Object.keys(cb)[0]])((mod = { exports: {} }).exports, mod), mod.exports;
};`,
}

// Set is the multiset itself: a bundle's need for a helper kind (from one
// module or many) collapses to "present once".
type Set struct {
	kinds map[Kind]bool
}

func New() *Set { return &Set{kinds: make(map[Kind]bool)} }

// Add records a need for kind.
func (s *Set) Add(kind Kind) { s.kinds[kind] = true }

// Merge folds other's kinds into s (used when combining per-module
// polyfill needs into a per-bundle set).
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for k := range other.kinds {
		s.kinds[k] = true
	}
}

func (s *Set) IsEmpty() bool { return len(s.kinds) == 0 }

func (s *Set) Has(kind Kind) bool { return s.kinds[kind] }

// sortedKinds returns every present kind in a fixed, deterministic order.
func (s *Set) sortedKinds() []Kind {
	out := make([]Kind, 0, len(s.kinds))
	for k := range s.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ToExport names the identifiers this polyfill set publishes, for the
// Patcher to register as local exports of the polyfill slot module.
func (s *Set) ToExport() []string {
	kinds := s.sortedKinds()
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, helperName[k])
	}
	return out
}

// ToSource materializes every present helper's source text, in
// deterministic order, joined by blank lines — the raw text the Patcher
// prepends ahead of the concatenated bundle.
func (s *Set) ToSource() string {
	kinds := s.sortedKinds()
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, helperSource[k])
	}
	return strings.Join(parts, "\n\n")
}

// HelperName returns the identifier a given kind's helper is emitted
// under, for call sites the AstPatcher synthesizes.
func HelperName(kind Kind) string { return helperName[kind] }

// ToAST materializes every present helper as a statement, for in-bundle
// injection (e.g. when the polyfill slot is itself a module in the
// output, as opposed to pre-pended raw text ahead of a library bundle).
func (s *Set) ToAST() []jsast.Stmt {
	kinds := s.sortedKinds()
	out := make([]jsast.Stmt, 0, len(kinds))
	for i, k := range kinds {
		out = append(out, jsast.Stmt{Pos: i, Data: &jsast.SRaw{Code: helperSource[k]}})
	}
	return out
}
