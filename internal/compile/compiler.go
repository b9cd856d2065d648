package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mvdan.cc/sh/v3/syntax"

	"github.com/kilnproject/kiln/internal/ctxlog"
	"github.com/kilnproject/kiln/internal/fsutil"
	"github.com/kilnproject/kiln/internal/project"
	"github.com/kilnproject/kiln/internal/resource"
)

// Compiler produces a compilation for a named project. A (nil, nil) return
// means no project with that name could be resolved; callers must
// distinguish it from a compilation that was found but failed.
type Compiler interface {
	CompileProject(ctx context.Context, name, target string) (*Context, error)
}

// DependencyCompiler supplies compilations for dependency projects. The
// host wires the compilation cache here so a dependency shared by several
// projects is compiled once per run.
type DependencyCompiler interface {
	GetOrCompile(ctx context.Context, name, target string) (*Context, error)
}

// ScriptCompiler compiles shell-script projects. Sources are parsed with
// the dialect selected by the target, syntax failures become error
// diagnostics, and a lint pass adds warnings. Dependency projects are
// compiled transitively and wrapped as project references.
type ScriptCompiler struct {
	Resolver  *project.ManifestResolver
	Resources resource.Provider

	// Deps, when set, resolves dependency compilations (normally the
	// cache). When nil the compiler recurses directly.
	Deps DependencyCompiler

	// WarningsAsErrors is the host-level escalation policy; a project
	// manifest can also opt in for itself.
	WarningsAsErrors bool

	// NativeModules lists host-provided module names recorded as metadata
	// references on every context.
	NativeModules []string
}

var _ Compiler = (*ScriptCompiler)(nil)

// CompileProject resolves name, validates its dependency closure, parses
// and lints its sources, and compiles its dependencies transitively.
func (c *ScriptCompiler) CompileProject(ctx context.Context, name, target string) (*Context, error) {
	logger := ctxlog.FromContext(ctx)

	p, err := c.Resolver.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		logger.Debug("No project found for name.", "name", name)
		return nil, nil
	}

	if _, err := project.Closure(ctx, c.Resolver, p); err != nil {
		return nil, err
	}

	return c.compile(ctx, p, target)
}

func (c *ScriptCompiler) compile(ctx context.Context, p *project.Project, target string) (*Context, error) {
	logger := ctxlog.FromContext(ctx)

	effectiveTarget := target
	if p.Target != "" {
		effectiveTarget = p.Target
	}
	lang, err := Dialect(effectiveTarget)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", p.Name, err)
	}

	cc := &Context{
		Project:          p,
		Target:           effectiveTarget,
		WarningsAsErrors: c.WarningsAsErrors || p.WarningsAsErrors,
	}

	if err := c.parseSources(p, lang, cc); err != nil {
		return nil, err
	}

	// Dependencies wrap into project references; native modules become
	// plain metadata references.
	for _, ref := range p.Dependencies {
		dep, err := c.Resolver.ResolveDependency(ctx, p, ref)
		if err != nil {
			return nil, err
		}
		depCtx, err := c.compileDependency(ctx, dep, target)
		if err != nil {
			return nil, err
		}
		cc.References = append(cc.References, &ProjectReference{Context: depCtx})
	}
	for _, mod := range c.NativeModules {
		cc.References = append(cc.References, &ModuleReference{Module: mod})
	}

	if c.Resources != nil {
		descriptors, err := c.Resources.Resources(p)
		if err != nil {
			return nil, err
		}
		cc.Resources = descriptors
	}

	lint(cc)

	logger.Debug("Project compiled.",
		"name", p.Name,
		"target", effectiveTarget,
		"units", len(cc.Units),
		"diagnostics", len(cc.Diagnostics),
	)
	return cc, nil
}

func (c *ScriptCompiler) compileDependency(ctx context.Context, dep *project.Project, target string) (*Context, error) {
	if c.Deps != nil {
		depCtx, err := c.Deps.GetOrCompile(ctx, dep.Name, target)
		if err != nil {
			return nil, err
		}
		if depCtx == nil {
			return nil, fmt.Errorf("dependency %q resolved but did not compile", dep.Name)
		}
		return depCtx, nil
	}
	return c.compile(ctx, dep, target)
}

// parseSources reads and parses every source file selected by the
// project's patterns. Parse failures become error diagnostics rather than
// aborting compilation, so a single pass reports everything it can.
func (c *ScriptCompiler) parseSources(p *project.Project, lang syntax.LangVariant, cc *Context) error {
	parser := syntax.NewParser(syntax.Variant(lang))

	var paths []string
	for _, pattern := range p.Sources {
		matches, err := fsutil.Glob(p.Dir, pattern)
		if err != nil {
			return fmt.Errorf("project %q sources: %w", p.Name, err)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		cc.Diagnostics = append(cc.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  fmt.Sprintf("project %q has no source files", p.Name),
		})
		return nil
	}

	for _, rel := range paths {
		full := filepath.Join(p.Dir, filepath.FromSlash(rel))
		src, err := os.ReadFile(full)
		if err != nil {
			return fmt.Errorf("read source %s: %w", full, err)
		}

		unit := Unit{Path: rel, Source: src}
		prog, err := parser.Parse(bytes.NewReader(src), rel)
		if err != nil {
			cc.Diagnostics = append(cc.Diagnostics, parseDiagnostic(rel, err))
		} else {
			unit.Prog = prog
		}
		cc.Units = append(cc.Units, unit)
	}
	return nil
}

// parseDiagnostic converts a parser error into a positioned diagnostic.
func parseDiagnostic(path string, err error) Diagnostic {
	d := Diagnostic{
		Severity: SeverityError,
		File:     path,
		Message:  err.Error(),
	}
	var pe syntax.ParseError
	if errors.As(err, &pe) {
		d.Line = int(pe.Pos.Line())
		d.Col = int(pe.Pos.Col())
		d.Message = pe.Text
	}
	return d
}

// Dialect maps a target identifier to its shell language variant.
func Dialect(target string) (syntax.LangVariant, error) {
	switch target {
	case "bash", "":
		return syntax.LangBash, nil
	case "posix", "sh":
		return syntax.LangPOSIX, nil
	case "mksh":
		return syntax.LangMirBSDKorn, nil
	default:
		return 0, fmt.Errorf("unknown target dialect %q", target)
	}
}
