// Package logger implements the error taxonomy this module reports
// failures through. Every error the core can produce is one of a fixed
// set of Kinds, each carrying the module id/path responsible and never a
// stack of internal call frames.
package logger

import (
	"fmt"
	"sort"
	"sync"
)

// Kind enumerates the error taxonomy.
type Kind uint8

const (
	ParseError Kind = iota
	RenderError
	DuplicateExport
	MissingExport
	NamespaceNameMissing
	CacheWriteFailure
	Utf8Error
	UpdateResolutionFailure
)

func (k Kind) String() string {
	switch k {
	case ParseError:
		return "parse-error"
	case RenderError:
		return "render-error"
	case DuplicateExport:
		return "duplicate-export"
	case MissingExport:
		return "missing-export"
	case NamespaceNameMissing:
		return "namespace-name-missing"
	case CacheWriteFailure:
		return "cache-write-failure"
	case Utf8Error:
		return "utf8-error"
	case UpdateResolutionFailure:
		return "update-resolution-failure"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a diagnostic of this kind lets the build
// continue (per spec.md §7's propagation policy): only CacheWriteFailure
// is logged-and-ignored, everything else is fatal to its scope.
func (k Kind) Recoverable() bool { return k == CacheWriteFailure }

// Msg is a single diagnostic: what went wrong, and where.
type Msg struct {
	Kind    Kind
	Text    string
	Module  string // module id/path responsible, empty if not module-scoped
	Detail  interface{}
}

func (m Msg) String() string {
	if m.Module == "" {
		return fmt.Sprintf("%s: %s", m.Kind, m.Text)
	}
	return fmt.Sprintf("%s: %s: %s", m.Kind, m.Module, m.Text)
}

// Error implements the error interface so a Msg can be returned directly
// from operations that fail with a single diagnostic.
func (m Msg) Error() string { return m.String() }

// Log accumulates diagnostics from a single build or update. It is safe
// for concurrent use by the parallel stages described in spec.md §5.
type Log struct {
	mu   sync.Mutex
	msgs []Msg
}

func NewLog() *Log { return &Log{} }

func (l *Log) Add(msg Msg) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *Log) AddError(kind Kind, module string, text string) {
	l.Add(Msg{Kind: kind, Module: module, Text: text})
}

// HasErrors reports whether any accumulated message is of a non-recoverable
// kind.
func (l *Log) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if !m.Kind.Recoverable() {
			return true
		}
	}
	return false
}

// Done returns all accumulated messages sorted for deterministic output:
// by module id, then by kind, then by text.
func (l *Log) Done() []Msg {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Msg, len(l.msgs))
	copy(out, l.msgs)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Text < b.Text
	})
	return out
}
