// Package exec locates and invokes the conventional entry function of a
// loaded module.
package exec

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilnproject/kiln/internal/ctxlog"
	"github.com/kilnproject/kiln/internal/module"
)

// EntryName is the well-known entry function every invokable module must
// define. The compile backends agree on this name.
const EntryName = "main"

// ErrEntryPointMissing reports a module that loaded but exposes no entry
// function.
var ErrEntryPointMissing = errors.New("no entry function found")

// Execute invokes m's entry function with args and returns its exit code.
// Asynchronous entries are awaited; the call does not return until the
// entry has completed.
func Execute(ctx context.Context, m module.Module, args []string) (int, error) {
	logger := ctxlog.FromContext(ctx)

	entry, ok := m.FindEntry(EntryName)
	if !ok {
		return 1, fmt.Errorf("module %q defines no %q function: %w", m.Name(), EntryName, ErrEntryPointMissing)
	}

	logger.Debug("Invoking entry function.", "module", m.Name(), "entry", EntryName, "args", len(args))
	code, err := entry.Invoke(ctx, args)
	logger.Debug("Entry function returned.", "module", m.Name(), "code", code)
	return code, err
}
