package module

import (
	"context"
	"fmt"
)

// Entry function shapes accepted by native modules. SyncFunc returns its
// exit code directly; AsyncFunc hands back a channel that delivers the
// exit code when the deferred work completes.
type (
	SyncFunc  func(ctx context.Context, args []string) (int, error)
	AsyncFunc func(ctx context.Context, args []string) <-chan int
)

// Native is a host-registered Go module. It participates in the
// loaded-module set exactly like a script module, so the pipeline never
// depends on a specific loading mechanism.
type Native struct {
	ModName string
	Entries map[string]any
}

var _ Module = (*Native)(nil)

func (n *Native) Name() string { return n.ModName }

// FindEntry returns the named entry, false when the module does not
// define it. Entries with an unsupported shape fail at invoke time rather
// than lookup time, matching the script backend's behavior of deferring
// execution faults.
func (n *Native) FindEntry(name string) (EntryPoint, bool) {
	fn, ok := n.Entries[name]
	if !ok {
		return nil, false
	}
	return &nativeEntry{mod: n.ModName, fn: fn}, true
}

type nativeEntry struct {
	mod string
	fn  any
}

// Invoke dispatches on the entry shape. Asynchronous entries are awaited:
// the exit code surfaces when the channel delivers, or the context's
// cancellation wins.
func (e *nativeEntry) Invoke(ctx context.Context, args []string) (int, error) {
	switch fn := e.fn.(type) {
	case SyncFunc:
		return fn(ctx, args)
	case func(ctx context.Context, args []string) (int, error):
		return fn(ctx, args)
	case AsyncFunc:
		return e.await(ctx, fn(ctx, args))
	case func(ctx context.Context, args []string) <-chan int:
		return e.await(ctx, fn(ctx, args))
	default:
		return 1, fmt.Errorf("module %q: entry has unsupported type %T", e.mod, e.fn)
	}
}

func (e *nativeEntry) await(ctx context.Context, done <-chan int) (int, error) {
	select {
	case code := <-done:
		return code, nil
	case <-ctx.Done():
		return 1, fmt.Errorf("module %q: %w", e.mod, ctx.Err())
	}
}
