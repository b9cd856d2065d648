package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeManifest drops a project.hcl into dir, creating dir if needed.
func writeManifest(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(body), 0o644))
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("reads a full manifest", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `
project {
  name = "mytool"
  commands = {
    run = "mytool --verbose"
  }
  dependencies = ["../lib"]
  sources      = ["src/**/*.sh"]
  resources    = ["assets/**"]
  target       = "posix"
  warnings_as_errors = true
}
`)
		r := NewManifestResolver(dir, "")
		p, err := r.Resolve(ctx, dir)
		require.NoError(t, err)
		require.NotNil(t, p)

		assert.Equal(t, "mytool", p.Name)
		assert.Equal(t, map[string]string{"run": "mytool --verbose"}, p.Commands)
		assert.Equal(t, []string{"../lib"}, p.Dependencies)
		assert.Equal(t, []string{"src/**/*.sh"}, p.Sources)
		assert.Equal(t, []string{"assets/**"}, p.Resources)
		assert.Equal(t, "posix", p.Target)
		assert.True(t, p.WarningsAsErrors)
	})

	t.Run("missing manifest is nil without error", func(t *testing.T) {
		dir := t.TempDir()
		r := NewManifestResolver(dir, "")

		p, err := r.Resolve(ctx, dir)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("name defaults to the leaf directory", func(t *testing.T) {
		parent := t.TempDir()
		dir := filepath.Join(parent, "toolbox")
		writeManifest(t, dir, `project {}`)

		r := NewManifestResolver(dir, "")
		p, err := r.Resolve(ctx, dir)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "toolbox", p.Name)
		assert.Equal(t, []string{DefaultSourcePattern}, p.Sources)
	})

	t.Run("resolution is memoized by directory", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `project { name = "memo" }`)

		r := NewManifestResolver(dir, "")
		first, err := r.Resolve(ctx, dir)
		require.NoError(t, err)
		second, err := r.Resolve(ctx, dir)
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("manifest expressions see basedir and env", func(t *testing.T) {
		t.Setenv("KILN_TEST_SUFFIX", "prod")
		dir := t.TempDir()
		writeManifest(t, dir, `
project {
  name = "svc-${env("KILN_TEST_SUFFIX")}"
  commands = {
    run = "svc --root ${basedir}"
  }
}
`)
		r := NewManifestResolver(dir, "")
		p, err := r.Resolve(ctx, dir)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "svc-prod", p.Name)
		assert.Contains(t, p.Commands["run"], dir)
	})

	t.Run("malformed manifest errors", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `project { name = `)

		r := NewManifestResolver(dir, "")
		_, err := r.Resolve(ctx, dir)
		assert.Error(t, err)
	})
}

func TestFindByName(t *testing.T) {
	ctx := context.Background()

	t.Run("finds the base project", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `project { name = "app" }`)

		r := NewManifestResolver(dir, "")
		p, err := r.FindByName(ctx, "app")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, dir, p.Dir)
	})

	t.Run("finds a sibling project", func(t *testing.T) {
		parent := t.TempDir()
		base := filepath.Join(parent, "app")
		sibling := filepath.Join(parent, "lib")
		writeManifest(t, base, `project { name = "app" }`)
		writeManifest(t, sibling, `project { name = "lib" }`)

		r := NewManifestResolver(base, "")
		p, err := r.FindByName(ctx, "lib")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "lib", p.Name)
	})

	t.Run("finds a packaged project", func(t *testing.T) {
		base := t.TempDir()
		packages := t.TempDir()
		writeManifest(t, base, `project { name = "app" }`)
		writeManifest(t, filepath.Join(packages, "shared"), `project { name = "shared" }`)

		r := NewManifestResolver(base, packages)
		p, err := r.FindByName(ctx, "shared")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "shared", p.Name)
	})

	t.Run("finds a project resolved earlier by path", func(t *testing.T) {
		base := t.TempDir()
		writeManifest(t, base, `project { name = "app" }`)
		libDir := filepath.Join(base, "lib")
		writeManifest(t, libDir, `project { name = "lib" }`)

		r := NewManifestResolver(base, "")
		resolved, err := r.Resolve(ctx, libDir)
		require.NoError(t, err)
		require.NotNil(t, resolved)

		// A subdirectory is neither a sibling nor a package, so the name
		// lookup must serve it from the resolved set.
		found, err := r.FindByName(ctx, "lib")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Same(t, resolved, found)
	})

	t.Run("unknown name is nil without error", func(t *testing.T) {
		base := t.TempDir()
		writeManifest(t, base, `project { name = "app" }`)

		r := NewManifestResolver(base, "")
		p, err := r.FindByName(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestResolveDependency(t *testing.T) {
	ctx := context.Background()

	t.Run("path reference", func(t *testing.T) {
		parent := t.TempDir()
		appDir := filepath.Join(parent, "app")
		libDir := filepath.Join(parent, "lib")
		writeManifest(t, appDir, `project { name = "app" }`)
		writeManifest(t, libDir, `project { name = "lib" }`)

		r := NewManifestResolver(appDir, "")
		app, err := r.Resolve(ctx, appDir)
		require.NoError(t, err)

		dep, err := r.ResolveDependency(ctx, app, "../lib")
		require.NoError(t, err)
		assert.Equal(t, "lib", dep.Name)
	})

	t.Run("path reference without manifest errors", func(t *testing.T) {
		parent := t.TempDir()
		appDir := filepath.Join(parent, "app")
		require.NoError(t, os.MkdirAll(filepath.Join(parent, "empty"), 0o755))
		writeManifest(t, appDir, `project { name = "app" }`)

		r := NewManifestResolver(appDir, "")
		app, err := r.Resolve(ctx, appDir)
		require.NoError(t, err)

		_, err = r.ResolveDependency(ctx, app, "../empty")
		assert.ErrorContains(t, err, "has no manifest")
	})

	t.Run("name reference not found errors", func(t *testing.T) {
		appDir := t.TempDir()
		writeManifest(t, appDir, `project { name = "app" }`)

		r := NewManifestResolver(appDir, "")
		app, err := r.Resolve(ctx, appDir)
		require.NoError(t, err)

		_, err = r.ResolveDependency(ctx, app, "ghost")
		assert.ErrorContains(t, err, "not found")
	})
}

func TestClosure(t *testing.T) {
	ctx := context.Background()

	t.Run("walks the chain root first", func(t *testing.T) {
		parent := t.TempDir()
		writeManifest(t, filepath.Join(parent, "app"), "project {\n  name = \"app\"\n  dependencies = [\"../lib\"]\n}\n")
		writeManifest(t, filepath.Join(parent, "lib"), "project {\n  name = \"lib\"\n  dependencies = [\"../util\"]\n}\n")
		writeManifest(t, filepath.Join(parent, "util"), "project {\n  name = \"util\"\n}\n")

		r := NewManifestResolver(filepath.Join(parent, "app"), "")
		root, err := r.Resolve(ctx, filepath.Join(parent, "app"))
		require.NoError(t, err)

		closure, err := Closure(ctx, r, root)
		require.NoError(t, err)
		require.Len(t, closure, 3)
		assert.Equal(t, "app", closure[0].Name)
	})

	t.Run("cycle is rejected", func(t *testing.T) {
		parent := t.TempDir()
		writeManifest(t, filepath.Join(parent, "a"), "project {\n  name = \"a\"\n  dependencies = [\"../b\"]\n}\n")
		writeManifest(t, filepath.Join(parent, "b"), "project {\n  name = \"b\"\n  dependencies = [\"../a\"]\n}\n")

		r := NewManifestResolver(filepath.Join(parent, "a"), "")
		root, err := r.Resolve(ctx, filepath.Join(parent, "a"))
		require.NoError(t, err)

		_, err = Closure(ctx, r, root)
		assert.ErrorContains(t, err, "cycle")
	})

	t.Run("diamond resolves each project once", func(t *testing.T) {
		parent := t.TempDir()
		writeManifest(t, filepath.Join(parent, "app"), "project {\n  name = \"app\"\n  dependencies = [\"../left\", \"../right\"]\n}\n")
		writeManifest(t, filepath.Join(parent, "left"), "project {\n  name = \"left\"\n  dependencies = [\"../base\"]\n}\n")
		writeManifest(t, filepath.Join(parent, "right"), "project {\n  name = \"right\"\n  dependencies = [\"../base\"]\n}\n")
		writeManifest(t, filepath.Join(parent, "base"), "project {\n  name = \"base\"\n}\n")

		r := NewManifestResolver(filepath.Join(parent, "app"), "")
		root, err := r.Resolve(ctx, filepath.Join(parent, "app"))
		require.NoError(t, err)

		closure, err := Closure(ctx, r, root)
		require.NoError(t, err)
		assert.Len(t, closure, 4)
	})
}
