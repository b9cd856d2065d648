// Package loader turns cached compilations into loaded modules. It owns
// the error policy of the pipeline: emission failures and error-severity
// diagnostics become CompilationFailed, failures while materializing a
// module carry the offending module's name so callers can tell a failure
// of the requested module from a transitive dependency failure.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kilnproject/kiln/internal/cache"
	"github.com/kilnproject/kiln/internal/compile"
	"github.com/kilnproject/kiln/internal/ctxlog"
	"github.com/kilnproject/kiln/internal/image"
	"github.com/kilnproject/kiln/internal/module"
	"github.com/kilnproject/kiln/internal/resource"
)

// Outcome discriminates the variants of a Result.
type Outcome int

const (
	// NotFound: no project with the requested name exists.
	NotFound Outcome = iota
	// CompilationFailed: the requested module's diagnostics or emission
	// contained errors. The Result carries the formatted diagnostics.
	CompilationFailed
	// Loaded: the module is part of the loaded-module set and invokable.
	Loaded
)

// Result is the tagged outcome of a load request. Exactly one of Module
// or Diagnostics is populated, depending on Outcome.
type Result struct {
	Outcome     Outcome
	Module      module.Module
	Diagnostics []string
}

// CompileError carries the ordered, formatted diagnostics of a failed
// compilation.
type CompileError struct {
	Diagnostics []string
}

func (e *CompileError) Error() string {
	return strings.Join(e.Diagnostics, "\n")
}

// LoadError reports a failure to materialize a specific module. Name is
// the offending identifier; callers compare it against the name they
// requested to distinguish transitive failures.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("unable to load module %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader drives compile results through emission into the loaded-module
// set.
type Loader struct {
	Cache   *cache.Cache
	Backend module.Backend
	Modules *module.Set

	// OmitDebug skips the debug-symbol buffer during emission; the module
	// is then loaded without symbol information.
	OmitDebug bool
}

// Load resolves name through the cache and materializes the module.
// Failures of the requested module surface in the Result (NotFound,
// CompilationFailed); failures of anything else come back as an error
// carrying the offending identifier.
func (l *Loader) Load(ctx context.Context, name, target string, extra []resource.Descriptor) (Result, error) {
	// Already-loaded modules, native ones included, win over compilation.
	if m, ok := l.Modules.Lookup(name); ok {
		return Result{Outcome: Loaded, Module: m}, nil
	}

	cc, err := l.Cache.GetOrCompile(ctx, name, target)
	if err != nil {
		return Result{}, err
	}
	if cc == nil {
		return Result{Outcome: NotFound}, nil
	}

	m, failed, err := l.loadContext(ctx, cc, extra)
	if err != nil {
		return Result{}, err
	}
	if failed != nil {
		return Result{Outcome: CompilationFailed, Diagnostics: failed}, nil
	}
	return Result{Outcome: Loaded, Module: m}, nil
}

// loadContext loads cc and everything it references. The middle return
// value is the formatted diagnostics when cc itself failed to compile or
// emit; dependency failures come back as *LoadError.
func (l *Loader) loadContext(ctx context.Context, cc *compile.Context, extra []resource.Descriptor) (module.Module, []string, error) {
	logger := ctxlog.FromContext(ctx)
	name := cc.Project.Name

	if m, ok := l.Modules.Lookup(name); ok {
		return m, nil, nil
	}

	deps, err := l.loadReferences(ctx, cc)
	if err != nil {
		return nil, nil, err
	}

	img, dbg, emitDiags, err := image.Emit(cc, extra, l.OmitDebug)
	if err != nil {
		return nil, nil, &LoadError{Name: name, Err: err}
	}
	// The emission buffers are scoped to this load; drop their backing
	// storage on every exit path once the backend has consumed them.
	defer func() {
		if img != nil {
			img.Reset()
		}
		if dbg != nil {
			dbg.Reset()
		}
	}()

	preExisting := compile.Render(cc.ErrorDiagnostics())

	// Error policy, in order: emission failure first (union of both diag
	// sets), then pre-existing error diagnostics even though emission
	// succeeded.
	if compile.HasErrors(emitDiags, false) {
		return nil, append(preExisting, compile.Render(emitDiags)...), nil
	}
	if len(preExisting) > 0 {
		return nil, preExisting, nil
	}

	var dbgReader *bytes.Reader
	if dbg != nil {
		dbgReader = bytes.NewReader(dbg.Bytes())
	}
	m, err := l.loadImage(ctx, bytes.NewReader(img.Bytes()), dbgReader, deps)
	if err != nil {
		return nil, nil, &LoadError{Name: name, Err: err}
	}

	m = l.Modules.Register(m)
	logger.Debug("Module loaded.", "name", name, "dependencies", len(deps))
	return m, nil, nil
}

// loadReferences materializes every reference of cc: project references
// load recursively, native-module references resolve against the
// loaded-module set when present. A dependency failure is reported under
// the dependency's own name and never reinterpreted.
func (l *Loader) loadReferences(ctx context.Context, cc *compile.Context) ([]module.Module, error) {
	var deps []module.Module
	for _, ref := range cc.References {
		switch r := ref.(type) {
		case *compile.ProjectReference:
			depName := r.Context.Project.Name
			dep, failed, err := l.loadContext(ctx, r.Context, nil)
			if err != nil {
				// Already carries the innermost offending identifier.
				var le *LoadError
				if errors.As(err, &le) {
					return nil, err
				}
				return nil, &LoadError{Name: depName, Err: err}
			}
			if failed != nil {
				return nil, &LoadError{Name: depName, Err: &CompileError{Diagnostics: failed}}
			}
			deps = append(deps, dep)
		case *compile.ModuleReference:
			if native, ok := l.Modules.Lookup(r.Module); ok {
				deps = append(deps, native)
			}
		}
	}
	return deps, nil
}

// loadImage hands the rewound buffers to the backend.
func (l *Loader) loadImage(ctx context.Context, img *bytes.Reader, dbg *bytes.Reader, deps []module.Module) (module.Module, error) {
	if dbg == nil {
		return l.Backend.Load(ctx, img, nil, deps)
	}
	return l.Backend.Load(ctx, img, dbg, deps)
}
