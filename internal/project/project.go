// Package project defines the read-only view of a resolved project and the
// manifest resolver that produces it. A project is a directory containing a
// project.hcl manifest describing its name, command aliases, script
// sources, embedded resources, and dependency projects.
package project

import "path/filepath"

// ManifestName is the file the resolver looks for in a project directory.
const ManifestName = "project.hcl"

// DefaultSourcePattern selects a project's script sources when the manifest
// does not list any.
const DefaultSourcePattern = "**/*.sh"

// Project is the immutable view of a resolved project. One instance exists
// per resolved directory for the lifetime of a resolver.
type Project struct {
	// Name is the manifest-declared name, or the directory's leaf folder
	// name when the manifest declares none.
	Name string

	// Dir is the absolute project directory.
	Dir string

	// Commands maps a command alias to its command template.
	Commands map[string]string

	// Dependencies lists dependency references as written in the manifest:
	// either relative paths or bare names resolved against the packages
	// directory and sibling directories.
	Dependencies []string

	// Sources and Resources are doublestar patterns relative to Dir.
	Sources   []string
	Resources []string

	// Target optionally overrides the host's target dialect for this
	// project's sources.
	Target string

	// WarningsAsErrors escalates warning diagnostics to errors when the
	// project is compiled.
	WarningsAsErrors bool
}

// LeafName returns the last path element of a directory, used as the
// fallback application and project name.
func LeafName(dir string) string {
	return filepath.Base(filepath.Clean(dir))
}
