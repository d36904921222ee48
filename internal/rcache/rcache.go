// Package rcache implements the optional persisted-cache layer for
// rendered modules (spec.md §6 "Persisted state layout"): a content-
// addressed key over (content hash, module id, used exports) guarding a
// cached copy of a module's already-rendered output, so an unchanged
// module can skip re-rendering on the next compile.
//
// The core must be runnable with this disabled (spec.md §1 Non-goals);
// every exported operation here is a pure function or a Store method, and
// nothing elsewhere in this module calls into rcache unless a driver
// wires it in.
package rcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/scopehoist/bundlecore/internal/ast"
	"github.com/scopehoist/bundlecore/internal/sourcemap"
)

// Key derives the cache key for one module's rendered output: the
// hex-encoded SHA-256 of "{content_hash}_{module_id}_{used_exports}", with
// used_exports joined by commas (spec.md §6).
func Key(contentHash string, moduleID ast.ModuleId, usedExports []string) string {
	h := sha256.New()
	h.Write([]byte(contentHash))
	h.Write([]byte{'_'})
	h.Write([]byte(moduleID.String()))
	h.Write([]byte{'_'})
	h.Write([]byte(strings.Join(usedExports, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is one cached rendered module, matching the fields the original
// serializes into its custom cache store (RenderedModule/ExternalModules/
// SourceMapChain survive a render; Code is the module's own printed text
// before it's concatenated into a pot).
type Entry struct {
	ID              ast.ModuleId
	Code            string
	RenderedModule  string
	ExternalModules []string
	SourceMapChain  []*sourcemap.SourceMap
}

// Store is an in-memory keyed cache. A real deployment backs this with a
// file-system or remote store; this module only defines the key scheme
// and the entry shape a backing store persists — spec.md leaves the
// storage medium to the surrounding system.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Get returns the cached entry for key, and whether it was found. A
// caller still must check the key was derived from the module's current
// content hash — Get never revalidates staleness itself (spec.md §6: the
// key already encodes what would invalidate it, so a present key is
// inherently fresh for that exact content/used-exports pair).
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

func (s *Store) Set(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}
