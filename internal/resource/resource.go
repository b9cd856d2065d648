// Package resource defines the resource-provider contract: given a
// project, a provider enumerates named byte streams to embed into the
// project's emitted image.
package resource

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kilnproject/kiln/internal/fsutil"
	"github.com/kilnproject/kiln/internal/project"
)

// Descriptor names a single embeddable resource. The stream is opened
// lazily at emission time.
type Descriptor struct {
	// Name is the resource's path inside the image, slash-separated.
	Name string

	// Public controls whether the loaded module exposes the resource to
	// other modules.
	Public bool

	// Open returns a fresh reader over the resource bytes.
	Open func() (io.ReadCloser, error)
}

// Provider enumerates the resources a project embeds.
type Provider interface {
	Resources(p *project.Project) ([]Descriptor, error)
}

// ManifestProvider serves the `resources` glob patterns declared in a
// project manifest. All manifest-declared resources are public.
type ManifestProvider struct{}

// Resources expands the project's resource patterns against its directory.
func (ManifestProvider) Resources(p *project.Project) ([]Descriptor, error) {
	var descriptors []Descriptor
	for _, pattern := range p.Resources {
		matches, err := fsutil.Glob(p.Dir, pattern)
		if err != nil {
			return nil, fmt.Errorf("project %q resources: %w", p.Name, err)
		}
		for _, rel := range matches {
			full := filepath.Join(p.Dir, filepath.FromSlash(rel))
			descriptors = append(descriptors, Descriptor{
				Name:   filepath.ToSlash(rel),
				Public: true,
				Open: func() (io.ReadCloser, error) {
					return os.Open(full)
				},
			})
		}
	}
	return descriptors, nil
}
