package loader

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnproject/kiln/internal/cache"
	"github.com/kilnproject/kiln/internal/compile"
	"github.com/kilnproject/kiln/internal/module"
	"github.com/kilnproject/kiln/internal/project"
)

// scaffold writes a project directory with a manifest and source files.
func scaffold(t *testing.T, dir, manifest string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, project.ManifestName), []byte(manifest), 0o644))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

// newLoader wires a loader over a real compiler rooted at baseDir, with the
// backend's output captured.
func newLoader(t *testing.T, baseDir string, out io.Writer) (*Loader, *module.Set) {
	t.Helper()
	if out == nil {
		out = io.Discard
	}
	modules := module.NewSet()
	compiler := &compile.ScriptCompiler{Resolver: project.NewManifestResolver(baseDir, "")}
	return &Loader{
		Cache:   cache.New(compiler),
		Backend: &module.ScriptBackend{Stdout: out, Stderr: io.Discard},
		Modules: modules,
	}, modules
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("loads and registers a clean project", func(t *testing.T) {
		dir := t.TempDir()
		scaffold(t, dir, "project {\n  name = \"app\"\n}\n", map[string]string{
			"main.sh": "main() {\n\techo running\n}\n",
		})

		var out bytes.Buffer
		l, modules := newLoader(t, dir, &out)
		res, err := l.Load(ctx, "app", "", nil)
		require.NoError(t, err)
		require.Equal(t, Loaded, res.Outcome)
		require.NotNil(t, res.Module)

		_, ok := modules.Lookup("app")
		assert.True(t, ok)

		entry, ok := res.Module.FindEntry("main")
		require.True(t, ok)
		code, err := entry.Invoke(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, code)
		assert.Equal(t, "running\n", out.String())
	})

	t.Run("unknown name is NotFound", func(t *testing.T) {
		dir := t.TempDir()
		scaffold(t, dir, "project {\n  name = \"app\"\n}\n", map[string]string{
			"main.sh": "main() { :; }\n",
		})

		l, _ := newLoader(t, dir, nil)
		res, err := l.Load(ctx, "ghost", "", nil)
		require.NoError(t, err)
		assert.Equal(t, NotFound, res.Outcome)
		assert.Nil(t, res.Module)
	})

	t.Run("warnings alone still load", func(t *testing.T) {
		dir := t.TempDir()
		scaffold(t, dir, "project {\n  name = \"app\"\n}\n", map[string]string{
			"main.sh": "main() {\n\teval \"$1\"\n}\n",
		})

		l, _ := newLoader(t, dir, nil)
		res, err := l.Load(ctx, "app", "", nil)
		require.NoError(t, err)
		assert.Equal(t, Loaded, res.Outcome)
	})

	t.Run("error diagnostics fail compilation", func(t *testing.T) {
		dir := t.TempDir()
		scaffold(t, dir, "project {\n  name = \"app\"\n}\n", map[string]string{
			"main.sh": "main() {\n  if then\n",
		})

		l, modules := newLoader(t, dir, nil)
		res, err := l.Load(ctx, "app", "", nil)
		require.NoError(t, err)
		assert.Equal(t, CompilationFailed, res.Outcome)
		assert.NotEmpty(t, res.Diagnostics)
		assert.Contains(t, res.Diagnostics[0], "main.sh")

		_, ok := modules.Lookup("app")
		assert.False(t, ok, "a failed module must not join the set")
	})

	t.Run("escalated warnings fail compilation", func(t *testing.T) {
		dir := t.TempDir()
		scaffold(t, dir, "project {\n  name = \"app\"\n  warnings_as_errors = true\n}\n", map[string]string{
			"main.sh": "main() {\n\teval \"$1\"\n}\n",
		})

		l, _ := newLoader(t, dir, nil)
		res, err := l.Load(ctx, "app", "", nil)
		require.NoError(t, err)
		assert.Equal(t, CompilationFailed, res.Outcome)
	})

	t.Run("dependency failure names the dependency", func(t *testing.T) {
		parent := t.TempDir()
		appDir := filepath.Join(parent, "app")
		scaffold(t, appDir, "project {\n  name = \"app\"\n  dependencies = [\"../lib\"]\n}\n", map[string]string{
			"main.sh": "main() { :; }\n",
		})
		scaffold(t, filepath.Join(parent, "lib"), "project {\n  name = \"lib\"\n}\n", map[string]string{
			"lib.sh": "broken() {\n  if then\n",
		})

		l, _ := newLoader(t, appDir, nil)
		_, err := l.Load(ctx, "app", "", nil)
		require.Error(t, err)

		var le *LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, "lib", le.Name)

		var ce *CompileError
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("loaded modules are reused", func(t *testing.T) {
		dir := t.TempDir()
		scaffold(t, dir, "project {\n  name = \"app\"\n}\n", map[string]string{
			"main.sh": "main() { :; }\n",
		})

		l, _ := newLoader(t, dir, nil)
		first, err := l.Load(ctx, "app", "", nil)
		require.NoError(t, err)
		second, err := l.Load(ctx, "app", "", nil)
		require.NoError(t, err)
		assert.Same(t, first.Module, second.Module)
	})

	t.Run("omit debug still loads", func(t *testing.T) {
		dir := t.TempDir()
		scaffold(t, dir, "project {\n  name = \"app\"\n}\n", map[string]string{
			"main.sh": "main() { :; }\n",
		})

		l, _ := newLoader(t, dir, nil)
		l.OmitDebug = true
		res, err := l.Load(ctx, "app", "", nil)
		require.NoError(t, err)
		assert.Equal(t, Loaded, res.Outcome)
	})

	t.Run("registered native modules load by name", func(t *testing.T) {
		dir := t.TempDir()
		scaffold(t, dir, "project {\n  name = \"app\"\n}\n", map[string]string{
			"main.sh": "main() { :; }\n",
		})

		l, modules := newLoader(t, dir, nil)
		native := &module.Native{ModName: "kiln.host", Entries: map[string]any{}}
		modules.Register(native)

		res, err := l.Load(ctx, "kiln.host", "", nil)
		require.NoError(t, err)
		assert.Equal(t, Loaded, res.Outcome)
		assert.Same(t, module.Module(native), res.Module)
	})

	t.Run("dependency modules are shared", func(t *testing.T) {
		parent := t.TempDir()
		appDir := filepath.Join(parent, "app")
		scaffold(t, appDir, "project {\n  name = \"app\"\n  dependencies = [\"../lib\"]\n}\n", map[string]string{
			"main.sh": "main() {\n\tgreet\n}\n",
		})
		scaffold(t, filepath.Join(parent, "lib"), "project {\n  name = \"lib\"\n}\n", map[string]string{
			"lib.sh": "greet() {\n\techo hi\n}\n",
		})

		var out bytes.Buffer
		l, modules := newLoader(t, appDir, &out)
		res, err := l.Load(ctx, "app", "", nil)
		require.NoError(t, err)
		require.Equal(t, Loaded, res.Outcome)

		_, ok := modules.Lookup("lib")
		assert.True(t, ok, "the dependency joins the set too")

		entry, _ := res.Module.FindEntry("main")
		code, err := entry.Invoke(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, code)
		assert.Equal(t, "hi\n", out.String())
	})
}
