// Package host implements the top-level orchestrator: it resolves the
// effective application name, drives the compile-cache-load pipeline, and
// maps failure shapes into user-facing errors and exit codes.
package host

import (
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kilnproject/kiln/internal/cache"
	"github.com/kilnproject/kiln/internal/compile"
	"github.com/kilnproject/kiln/internal/loader"
	"github.com/kilnproject/kiln/internal/module"
	"github.com/kilnproject/kiln/internal/project"
	"github.com/kilnproject/kiln/internal/resource"
)

// Host owns the pipeline state for a single run: the resolver, the
// compilation cache, the loaded-module set, and the loader. All of it is
// constructed at run start and discarded at run end; nothing is ambient.
type Host struct {
	opts   *Options
	outW   io.Writer
	errW   io.Writer
	logger *slog.Logger
	runID  string

	resolver *project.ManifestResolver
	cache    *cache.Cache
	modules  *module.Set
	loader   *loader.Loader
}

// New assembles a host from options. Native modules are registered into
// the loaded-module set up front and recorded as metadata references on
// every compilation.
func New(outW, errW io.Writer, opts *Options, natives ...*module.Native) *Host {
	logger := newLogger(opts.LogLevel, opts.LogFormat, errW)
	runID := uuid.NewString()

	resolver := project.NewManifestResolver(opts.BaseDir, opts.PackagesDir)

	nativeNames := make([]string, 0, len(natives))
	modules := module.NewSet()
	for _, n := range natives {
		modules.Register(n)
		nativeNames = append(nativeNames, n.Name())
	}

	compiler := &compile.ScriptCompiler{
		Resolver:         resolver,
		Resources:        resource.ManifestProvider{},
		WarningsAsErrors: opts.WarningsAsErrors(),
		NativeModules:    nativeNames,
	}
	table := cache.New(compiler)

	return &Host{
		opts:   opts,
		outW:   outW,
		errW:   errW,
		logger: logger.With("run_id", runID),
		runID:  runID,

		resolver: resolver,
		cache:    table,
		modules:  modules,
		loader: &loader.Loader{
			Cache:     table,
			Backend:   &module.ScriptBackend{Stdout: outW, Stderr: errW},
			Modules:   modules,
			OmitDebug: opts.OmitDebug,
		},
	}
}

// Cache exposes the run's compilation cache. This is primarily for
// testing.
func (h *Host) Cache() *cache.Cache { return h.cache }

// Modules exposes the run's loaded-module set. This is primarily for
// testing.
func (h *Host) Modules() *module.Set { return h.modules }
