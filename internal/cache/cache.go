// Package cache memoizes compiler results by module name so each project
// compiles at most once per host run. The table is owned by the host,
// constructed at run start and discarded at run end.
package cache

import (
	"context"
	"sync"

	"github.com/kilnproject/kiln/internal/compile"
	"github.com/kilnproject/kiln/internal/ctxlog"
)

// Cache memoizes compilation contexts by project name. It is safe for
// concurrent use. Concurrent misses on the same name may each run the
// compiler, but only the first stored context survives, so every caller
// observes the same instance.
type Cache struct {
	mu       sync.Mutex
	table    map[string]*compile.Context
	compiler compile.Compiler
}

// New creates an empty cache backed by the given compiler. The cache wires
// itself as the compiler's dependency source when the compiler supports
// it, so transitive compiles flow back through the table.
func New(compiler compile.Compiler) *Cache {
	c := &Cache{
		table:    make(map[string]*compile.Context),
		compiler: compiler,
	}
	if sc, ok := compiler.(*compile.ScriptCompiler); ok && sc.Deps == nil {
		sc.Deps = c
	}
	return c
}

// GetOrCompile returns the cached context for name, compiling on a miss.
// A hit returns the stored instance unchanged. On a miss the new context
// is stored under its own project name (which may differ from the
// requested name) before its project references are cached recursively,
// so later lookups for dependency projects are guaranteed hits. A nil
// context with a nil error means the project was not found.
func (c *Cache) GetOrCompile(ctx context.Context, name, target string) (*compile.Context, error) {
	c.mu.Lock()
	if cc, ok := c.table[name]; ok {
		c.mu.Unlock()
		return cc, nil
	}
	c.mu.Unlock()

	// Compile outside the lock: the compiler re-enters the cache for
	// dependencies.
	cc, err := c.compiler.CompileProject(ctx, name, target)
	if err != nil || cc == nil {
		return nil, err
	}

	stored := c.store(cc)
	if stored != cc {
		ctxlog.FromContext(ctx).Debug("Discarding duplicate compilation.", "name", name)
	}
	return stored, nil
}

// Lookup returns the cached context for name without compiling.
func (c *Cache) Lookup(name string) (*compile.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cc, ok := c.table[name]
	return cc, ok
}

// Entries returns the cached contexts in no particular order.
func (c *Cache) Entries() []*compile.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]*compile.Context, 0, len(c.table))
	for _, cc := range c.table {
		entries = append(entries, cc)
	}
	return entries
}

// Invalidate drops the entry for name, forcing recompilation on the next
// request. Watch mode uses this when a source change affects a module.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.table, name)
}

// store inserts cc under its project name unless an entry already exists,
// then walks its project references so every dependency context in the
// closure becomes cache-resident. The first stored instance always wins,
// preserving identity for earlier callers.
func (c *Cache) store(cc *compile.Context) *compile.Context {
	name := cc.Project.Name

	c.mu.Lock()
	existing, ok := c.table[name]
	if ok {
		c.mu.Unlock()
		return existing
	}
	c.table[name] = cc
	c.mu.Unlock()

	for _, ref := range cc.ProjectReferences() {
		c.store(ref.Context)
	}
	return cc
}
