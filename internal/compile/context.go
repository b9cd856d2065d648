package compile

import (
	"mvdan.cc/sh/v3/syntax"

	"github.com/kilnproject/kiln/internal/project"
	"github.com/kilnproject/kiln/internal/resource"
)

// Unit is one compiled source file: the original text plus its parsed
// program. Units are the compilation artifact consumed by the emitter.
type Unit struct {
	// Path is the source path relative to the project directory.
	Path string

	// Source is the raw file content, kept for debug information.
	Source []byte

	// Prog is the parsed program. Nil when the file failed to parse; the
	// failure is recorded as an error diagnostic on the owning Context.
	Prog *syntax.File
}

// Reference is an entry in a context's metadata-reference list.
type Reference interface {
	// RefName identifies the referenced module.
	RefName() string
}

// ProjectReference wraps another project's compilation, enabling
// cross-project single-pass builds. The cache walks these eagerly.
type ProjectReference struct {
	Context *Context
}

// RefName returns the referenced project's name.
func (r *ProjectReference) RefName() string { return r.Context.Project.Name }

// ModuleReference names a host-provided native module the project's
// scripts may call. It carries no compilation of its own.
type ModuleReference struct {
	Module string
}

// RefName returns the native module name.
func (r *ModuleReference) RefName() string { return r.Module }

// Context is the result of compiling one project. It is created by a
// Compiler, owned by the cache for the remainder of the run, and never
// mutated after creation.
type Context struct {
	Project     *project.Project
	Target      string
	Units       []Unit
	Diagnostics []Diagnostic
	References  []Reference
	Resources   []resource.Descriptor

	// WarningsAsErrors records the escalation policy the context was
	// compiled under; the loader consults it when validating diagnostics.
	WarningsAsErrors bool
}

// ProjectReferences returns just the project-to-project references, in
// declaration order.
func (c *Context) ProjectReferences() []*ProjectReference {
	var refs []*ProjectReference
	for _, ref := range c.References {
		if pr, ok := ref.(*ProjectReference); ok {
			refs = append(refs, pr)
		}
	}
	return refs
}

// ErrorDiagnostics returns the context's diagnostics that block loading
// under its own escalation policy.
func (c *Context) ErrorDiagnostics() []Diagnostic {
	var out []Diagnostic
	for _, d := range c.Diagnostics {
		if d.IsError(c.WarningsAsErrors) {
			out = append(out, d)
		}
	}
	return out
}
