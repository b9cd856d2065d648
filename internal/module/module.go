// Package module defines the loaded-module abstraction: an invokable unit
// that has been loaded into the running process, with operations to find
// and invoke its entry function. Backends are a closed set: script modules
// decoded from in-memory images, and native Go modules registered by the
// host.
package module

import (
	"context"
	"io"
	"sort"
	"sync"
)

// Module is a loaded, invokable unit.
type Module interface {
	// Name identifies the module within the loaded-module set.
	Name() string

	// FindEntry locates the entry function with the given name. The
	// boolean is false when the module defines no such function.
	FindEntry(name string) (EntryPoint, bool)
}

// EntryPoint is an invokable entry function. Invoke blocks until the
// entry completes, including entries that finish asynchronously, and
// returns the entry's exit code.
type EntryPoint interface {
	Invoke(ctx context.Context, args []string) (int, error)
}

// Backend turns an emitted image into a loaded Module. The debug reader
// may be nil when debug emission was skipped.
type Backend interface {
	Load(ctx context.Context, img io.Reader, dbg io.Reader, deps []Module) (Module, error)
}

// Set is the process's loaded-module set. Modules join the set on load
// and stay for the remainder of the run; there is no unload path.
type Set struct {
	mu     sync.RWMutex
	byName map[string]Module
}

// NewSet creates an empty loaded-module set.
func NewSet() *Set {
	return &Set{byName: make(map[string]Module)}
}

// Register adds m to the set. Registering a name twice keeps the first
// module, mirroring the identity guarantee of the compilation cache.
func (s *Set) Register(m Module) Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byName[m.Name()]; ok {
		return existing
	}
	s.byName[m.Name()] = m
	return m
}

// Lookup returns the module registered under name.
func (s *Set) Lookup(name string) (Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byName[name]
	return m, ok
}

// Remove drops name from the set. Watch mode uses this together with
// cache invalidation before re-entering the compile step.
func (s *Set) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byName, name)
}

// Names returns the sorted names of all loaded modules.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
