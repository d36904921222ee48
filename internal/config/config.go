// Package config holds the subset of build options spec.md §6 says are
// recognized by the core. Everything else (loader configuration, JSX
// factories, TS compiler options, plugin wiring) belongs to the scan/parse
// phase and is out of scope here.
package config

// Format selects the wrapper shape for the final bundle.
type Format uint8

const (
	FormatEsModule Format = iota
	FormatCommonJS
)

// TargetEnv controls IIFE wrapping and polyfill injection.
type TargetEnv uint8

const (
	TargetBrowser TargetEnv = iota
	TargetNode
	TargetLibrary
)

// Mode toggles development-only affordances like debug markers.
type Mode uint8

const (
	ModeDevelopment Mode = iota
	ModeProduction
)

// Comments is the preservation policy for emitted comments.
type Comments uint8

const (
	CommentsPreserve Comments = iota
	CommentsNone
	CommentsLegalOnly
)

// MinifyFunc is a pass-through hook: minification itself is out of scope
// (spec.md §1), but the assembler still needs somewhere to call it if the
// surrounding system supplies one.
type MinifyFunc func(code string) (string, error)

// PartialBundlingHook recomputes resource pots for a module group. Its
// internal algorithm is entirely opaque to this module (spec.md §9); the
// core only diffs its result against the previous set.
type PartialBundlingHook func(moduleGroupID string) ([]string, error)

type Options struct {
	OutputFormat       Format
	TargetEnv          TargetEnv
	Mode               Mode
	ConcatenateModules bool
	Minify             MinifyFunc
	SourceMap          bool
	External           []string
	RuntimePath        string
	SwcHelpersPath     string
	Comments           Comments
	PartialBundling    PartialBundlingHook
}

// IsExternal reports whether a raw import source string matches one of the
// configured external patterns. A pattern matches only the identical
// source string (no prefix matching); glob
// matching belongs to the resolver and is out of scope.
func (o *Options) IsExternal(source string) bool {
	for _, pattern := range o.External {
		if pattern == source {
			return true
		}
	}
	return false
}
