package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/kilnproject/kiln/internal/ctxlog"
)

// Resolver locates projects on disk. A nil *Project with a nil error means
// "no project here", which callers must treat as a valid outcome.
type Resolver interface {
	// Resolve returns the project rooted at dir, or nil if dir has no
	// manifest.
	Resolve(ctx context.Context, dir string) (*Project, error)

	// FindByName returns the project with the given name, searching the
	// base directory, already-resolved projects, base-directory siblings,
	// and the packages directory. Returns nil when no project with that
	// name exists.
	FindByName(ctx context.Context, name string) (*Project, error)
}

// ManifestResolver resolves projects from project.hcl manifests. Resolved
// projects are memoized by directory so each directory yields a single
// *Project identity per resolver lifetime.
type ManifestResolver struct {
	// BaseDir is the application base directory; sibling project search is
	// anchored here.
	BaseDir string

	// PackagesDir is where bare-name dependencies are searched. May be
	// empty.
	PackagesDir string

	byDir map[string]*Project
}

// NewManifestResolver creates a resolver anchored at baseDir.
func NewManifestResolver(baseDir, packagesDir string) *ManifestResolver {
	return &ManifestResolver{
		BaseDir:     baseDir,
		PackagesDir: packagesDir,
		byDir:       make(map[string]*Project),
	}
}

// manifestFile is the top-level structure of a project.hcl for decoding.
type manifestFile struct {
	Project *manifestProject `hcl:"project,block"`
}

// manifestProject mirrors the attributes of the `project` block.
type manifestProject struct {
	Name             string            `hcl:"name,optional"`
	Target           string            `hcl:"target,optional"`
	Commands         map[string]string `hcl:"commands,optional"`
	Dependencies     []string          `hcl:"dependencies,optional"`
	Sources          []string          `hcl:"sources,optional"`
	Resources        []string          `hcl:"resources,optional"`
	WarningsAsErrors bool              `hcl:"warnings_as_errors,optional"`
}

// Resolve parses the manifest in dir, if any. The result is memoized by
// absolute directory path.
func (r *ManifestResolver) Resolve(ctx context.Context, dir string) (*Project, error) {
	logger := ctxlog.FromContext(ctx)

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory %q: %w", dir, err)
	}

	if p, ok := r.byDir[absDir]; ok {
		return p, nil
	}

	manifestPath := filepath.Join(absDir, ManifestName)
	if _, err := os.Stat(manifestPath); err != nil {
		if os.IsNotExist(err) {
			logger.Debug("No manifest in directory.", "dir", absDir)
			return nil, nil
		}
		return nil, fmt.Errorf("stat manifest %s: %w", manifestPath, err)
	}

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(manifestPath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", manifestPath, diags)
	}

	var parsed manifestFile
	diags = gohcl.DecodeBody(hclFile.Body, evalContext(absDir), &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", manifestPath, diags)
	}
	if parsed.Project == nil {
		return nil, fmt.Errorf("manifest %s has no project block", manifestPath)
	}

	p := newProject(absDir, parsed.Project)
	r.byDir[absDir] = p
	logger.Debug("Project resolved.", "name", p.Name, "dir", p.Dir)
	return p, nil
}

// Forget drops the memoized project for dir so the next Resolve re-reads
// the manifest. Watch mode uses this when a manifest changes.
func (r *ManifestResolver) Forget(dir string) {
	if absDir, err := filepath.Abs(dir); err == nil {
		delete(r.byDir, absDir)
	}
}

// FindByName searches for a project named name. Search order: the base
// directory itself, any already-resolved project, sibling directories of
// the base directory, then the packages directory.
func (r *ManifestResolver) FindByName(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		return nil, nil
	}

	base, err := r.Resolve(ctx, r.BaseDir)
	if err != nil {
		return nil, err
	}
	if base != nil && base.Name == name {
		return base, nil
	}

	// Projects already resolved by path, such as subdirectory
	// dependencies, are findable by name too. Without this a dependency
	// compile could not round-trip through the cache's name lookup.
	for _, p := range r.byDir {
		if p.Name == name {
			return p, nil
		}
	}

	parent := filepath.Dir(filepath.Clean(r.BaseDir))
	candidates := []string{filepath.Join(parent, name)}
	if r.PackagesDir != "" {
		candidates = append(candidates, filepath.Join(r.PackagesDir, name))
	}

	for _, dir := range candidates {
		p, err := r.Resolve(ctx, dir)
		if err != nil {
			return nil, err
		}
		if p != nil && p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

// ResolveDependency resolves a dependency reference declared by owner.
// Path-style references (containing a separator or starting with a dot)
// resolve relative to the owner's directory; bare names go through
// FindByName.
func (r *ManifestResolver) ResolveDependency(ctx context.Context, owner *Project, ref string) (*Project, error) {
	if isPathRef(ref) {
		dir := ref
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(owner.Dir, dir)
		}
		p, err := r.Resolve(ctx, dir)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("project %q: dependency path %q has no manifest", owner.Name, ref)
		}
		return p, nil
	}

	p, err := r.FindByName(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project %q: dependency %q not found", owner.Name, ref)
	}
	return p, nil
}

func isPathRef(ref string) bool {
	return len(ref) > 0 && (ref[0] == '.' || filepath.IsAbs(ref)) ||
		filepath.Base(ref) != ref
}

func newProject(dir string, m *manifestProject) *Project {
	name := m.Name
	if name == "" {
		name = LeafName(dir)
	}
	sources := m.Sources
	if len(sources) == 0 {
		sources = []string{DefaultSourcePattern}
	}
	return &Project{
		Name:             name,
		Dir:              dir,
		Commands:         m.Commands,
		Dependencies:     m.Dependencies,
		Sources:          sources,
		Resources:        m.Resources,
		Target:           m.Target,
		WarningsAsErrors: m.WarningsAsErrors,
	}
}

// evalContext builds the HCL evaluation context available to manifest
// expressions: a `basedir` string variable and an `env(name)` function.
func evalContext(dir string) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"basedir": cty.StringVal(dir),
		},
		Functions: map[string]function.Function{
			"env": function.New(&function.Spec{
				Params: []function.Parameter{
					{Name: "name", Type: cty.String},
				},
				Type: function.StaticReturnType(cty.String),
				Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
					return cty.StringVal(os.Getenv(args[0].AsString())), nil
				},
			}),
		},
	}
}
