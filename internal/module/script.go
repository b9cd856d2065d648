package module

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/kilnproject/kiln/internal/compile"
	"github.com/kilnproject/kiln/internal/ctxlog"
	"github.com/kilnproject/kiln/internal/image"
)

// ScriptBackend loads script modules from emitted image buffers and runs
// them in-process through the shell interpreter.
type ScriptBackend struct {
	// Stdin, Stdout, Stderr are the entry function's standard streams.
	// Nil values default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var _ Backend = (*ScriptBackend)(nil)

// Load decodes the image, re-parses its canonical units, and indexes the
// declared functions. The module joins the process only through the
// caller's Set; Load itself has no side effects.
func (b *ScriptBackend) Load(ctx context.Context, imgR io.Reader, dbgR io.Reader, deps []Module) (Module, error) {
	logger := ctxlog.FromContext(ctx)

	img, err := image.Decode(imgR)
	if err != nil {
		return nil, err
	}

	lang, err := compile.Dialect(img.Target)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", img.Name, err)
	}

	parser := syntax.NewParser(syntax.Variant(lang))
	m := &scriptModule{
		backend:   b,
		name:      img.Name,
		dir:       img.Dir,
		lang:      lang,
		funcs:     make(map[string]bool),
		resources: make(map[string][]byte),
		deps:      deps,
	}

	for _, unit := range img.Units {
		prog, err := parser.Parse(bytes.NewReader(unit.Code), unit.Path)
		if err != nil {
			return nil, fmt.Errorf("image %q: corrupt unit %s: %w", img.Name, unit.Path, err)
		}
		m.progs = append(m.progs, prog)
		syntax.Walk(prog, func(node syntax.Node) bool {
			if fd, ok := node.(*syntax.FuncDecl); ok {
				m.funcs[fd.Name.Value] = true
			}
			return true
		})
	}

	for _, blob := range img.Blobs {
		m.resources[blob.Name] = blob.Data
	}

	if dbgR != nil {
		info, err := image.DecodeDebug(dbgR)
		if err != nil {
			return nil, fmt.Errorf("image %q: %w", img.Name, err)
		}
		m.debug = info
	}

	logger.Debug("Script module loaded.",
		"name", m.name,
		"units", len(m.progs),
		"functions", len(m.funcs),
		"with_debug", m.debug != nil,
	)
	return m, nil
}

// scriptModule is a loaded script image. Each Invoke builds a fresh
// interpreter, defines the dependency closure and the module's own units,
// then calls the entry function.
type scriptModule struct {
	backend   *ScriptBackend
	name      string
	dir       string
	lang      syntax.LangVariant
	progs     []*syntax.File
	funcs     map[string]bool
	resources map[string][]byte
	deps      []Module
	debug     *image.DebugInfo
}

func (m *scriptModule) Name() string { return m.name }

func (m *scriptModule) FindEntry(name string) (EntryPoint, bool) {
	if !m.funcs[name] {
		return nil, false
	}
	return &scriptEntry{mod: m, fn: name}, true
}

type scriptEntry struct {
	mod *scriptModule
	fn  string
}

// Invoke runs the module's dependency closure, its own units, and finally
// the entry function with args as positional parameters.
func (e *scriptEntry) Invoke(ctx context.Context, args []string) (int, error) {
	m := e.mod

	stdin := m.backend.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := m.backend.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := m.backend.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	environ := append(os.Environ(), "KILN_MODULE="+m.name)
	opts := []interp.RunnerOption{
		interp.Dir(m.dir),
		interp.Env(expand.ListEnviron(environ...)),
		interp.StdIO(stdin, stdout, stderr),
		interp.ExecHandlers(m.execHandler),
	}
	// "--" stops args like "-v" from being read as shell options.
	params := append([]string{"--"}, args...)
	opts = append(opts, interp.Params(params...))

	runner, err := interp.New(opts...)
	if err != nil {
		return 1, fmt.Errorf("module %q: create interpreter: %w", m.name, err)
	}

	if err := m.define(ctx, runner, make(map[string]bool)); err != nil {
		return exitStatus(err, m.name)
	}

	call, err := syntax.NewParser(syntax.Variant(m.lang)).
		Parse(strings.NewReader(e.fn+` "$@"`+"\n"), "<entry>")
	if err != nil {
		return 1, fmt.Errorf("module %q: build entry call: %w", m.name, err)
	}

	if err := runner.Run(ctx, call); err != nil {
		return exitStatus(err, m.name)
	}
	return 0, nil
}

// define runs the module's dependency units and then its own, so every
// function in the closure is available before the entry call. Diamond
// dependencies define once.
func (m *scriptModule) define(ctx context.Context, runner *interp.Runner, visited map[string]bool) error {
	if visited[m.name] {
		return nil
	}
	visited[m.name] = true

	for _, dep := range m.deps {
		if sm, ok := dep.(*scriptModule); ok {
			if err := sm.define(ctx, runner, visited); err != nil {
				return err
			}
		}
	}
	for _, prog := range m.progs {
		if err := runner.Run(ctx, prog); err != nil {
			return err
		}
	}
	return nil
}

// execHandler serves the kiln-resource virtual command from the module's
// embedded blobs; everything else falls through to the default handler.
func (m *scriptModule) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 || args[0] != compile.ResourceCommand {
			return next(ctx, args)
		}
		hc := interp.HandlerCtx(ctx)
		if len(args) != 2 {
			fmt.Fprintf(hc.Stderr, "usage: %s <name>\n", compile.ResourceCommand)
			return interp.ExitStatus(2)
		}
		data, ok := m.resources[args[1]]
		if !ok {
			fmt.Fprintf(hc.Stderr, "%s: no resource %q in module %q\n", compile.ResourceCommand, args[1], m.name)
			return interp.ExitStatus(1)
		}
		if _, err := hc.Stdout.Write(data); err != nil {
			return err
		}
		return nil
	}
}

// exitStatus unwraps the interpreter's exit status from err, treating any
// other error as fatal with code 1.
func exitStatus(err error, name string) (int, error) {
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return int(status), nil
	}
	return 1, fmt.Errorf("module %q: %w", name, err)
}
