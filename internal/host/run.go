package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kilnproject/kiln/internal/ctxlog"
	"github.com/kilnproject/kiln/internal/exec"
	"github.com/kilnproject/kiln/internal/grammar"
	"github.com/kilnproject/kiln/internal/loader"
	"github.com/kilnproject/kiln/internal/project"
)

// defaultCommandAlias is looked up when the user supplies no explicit
// application name.
const defaultCommandAlias = "run"

// Run executes the host pipeline and returns the process exit code: -1
// when no project resolves at the base directory, otherwise the entry
// function's result or 1 on any fatal error.
func (h *Host) Run(ctx context.Context) int {
	ctx = ctxlog.WithLogger(ctx, h.logger)
	if h.opts.Watch {
		return h.runWatch(ctx)
	}
	return h.runOnce(ctx)
}

// runOnce drives Start → ProjectResolved → NameResolved → Loaded →
// Executed with early exits at every state.
func (h *Host) runOnce(ctx context.Context) int {
	logger := ctxlog.FromContext(ctx)

	p, err := h.resolver.Resolve(ctx, h.opts.BaseDir)
	if err != nil {
		fmt.Fprintln(h.errW, err)
		return 1
	}
	if p == nil {
		fmt.Fprintf(h.errW, "Unable to resolve project from %s\n", h.opts.BaseDir)
		return -1
	}
	logger.Debug("Project resolved.", "name", p.Name, "dir", p.Dir)

	if err := h.resolveName(p); err != nil {
		fmt.Fprintln(h.errW, err)
		return 1
	}
	logger.Debug("Application name resolved.", "name", h.opts.AppName, "args", h.opts.Args)

	res, err := h.loader.Load(ctx, h.opts.AppName, h.opts.Target, nil)
	if err != nil {
		return h.reportLoadFailure(p, err)
	}
	switch res.Outcome {
	case loader.NotFound:
		return h.reportEntryPointNotFound(p, nil)
	case loader.CompilationFailed:
		fmt.Fprintln(h.errW, strings.Join(res.Diagnostics, "\n"))
		return 1
	}

	code, err := exec.Execute(ctx, res.Module, h.opts.Args)
	if err != nil {
		fmt.Fprintln(h.errW, err)
		return code
	}
	return code
}

// resolveName determines the effective application name. A command
// declared under the lookup key (the explicit name, or "run") is expanded
// through the grammar: its first token replaces the application name and
// the rest are prepended to the program arguments. An unresolved name
// falls back to the project name, then the base directory's leaf folder.
func (h *Host) resolveName(p *project.Project) error {
	key := h.opts.AppName
	if key == "" {
		key = defaultCommandAlias
	}

	if template, ok := p.Commands[key]; ok {
		tokens, err := grammar.Process(template, h.reserved())
		if err != nil {
			return fmt.Errorf("command %q: %w", key, err)
		}
		if len(tokens) > 0 {
			h.opts.AppName = tokens[0]
			h.opts.Args = append(append([]string{}, tokens[1:]...), h.opts.Args...)
		}
	}

	if h.opts.AppName == "" || h.opts.AppName == defaultCommandAlias {
		h.opts.AppName = p.Name
		if h.opts.AppName == "" {
			h.opts.AppName = project.LeafName(h.opts.BaseDir)
		}
	}
	return nil
}

// reserved binds the four reserved template variables to the current host
// environment. Anything else falls through to the process environment.
func (h *Host) reserved() grammar.Resolver {
	return func(name string) (string, bool) {
		switch name {
		case "env:ApplicationBasePath":
			return h.opts.BaseDir, true
		case "env:ApplicationName":
			return h.opts.AppName, true
		case "env:Version":
			return h.opts.Version, true
		case "env:TargetFramework":
			return h.opts.Target, true
		}
		return "", false
	}
}

// reportLoadFailure distinguishes a failure of the requested module from
// a transitive dependency failure. Only a failure whose offending
// identifier equals the resolved application name is rewritten; anything
// else propagates unchanged.
func (h *Host) reportLoadFailure(p *project.Project, err error) int {
	var le *loader.LoadError
	if errors.As(err, &le) && le.Name == h.opts.AppName {
		return h.reportEntryPointNotFound(p, le.Err)
	}
	fmt.Fprintln(h.errW, err)
	return 1
}

// reportEntryPointNotFound prints the user-facing message for a module
// that could not be resolved or executed under the requested name,
// enumerating the project's declared commands when it has any. The
// underlying cause is included unless terse mode suppresses it.
func (h *Host) reportEntryPointNotFound(p *project.Project, cause error) int {
	msg := fmt.Sprintf("Unable to load application or execute command '%s'.", h.opts.AppName)
	if len(p.Commands) > 0 {
		names := make([]string, 0, len(p.Commands))
		for name := range p.Commands {
			names = append(names, name)
		}
		sort.Strings(names)
		msg += fmt.Sprintf(" Available commands: %s.", strings.Join(names, ", "))
	}
	if cause != nil && !h.opts.TerseLoadErrors {
		msg += fmt.Sprintf("\n%v", cause)
	}
	fmt.Fprintln(h.errW, msg)
	return 1
}
