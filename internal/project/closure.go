package project

import (
	"context"
	"fmt"

	"github.com/kilnproject/kiln/internal/dag"
)

// Closure walks root's dependency graph breadth-first, resolving every
// reference, and validates it is acyclic. It returns all projects in the
// closure, root first. A cycle or an unresolvable reference is an error.
func Closure(ctx context.Context, r *ManifestResolver, root *Project) ([]*Project, error) {
	graph := dag.New()
	graph.AddNode(root.Name)

	seen := map[string]*Project{root.Name: root}
	order := []*Project{root}
	queue := []*Project{root}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, ref := range current.Dependencies {
			dep, err := r.ResolveDependency(ctx, current, ref)
			if err != nil {
				return nil, err
			}
			if _, ok := seen[dep.Name]; !ok {
				seen[dep.Name] = dep
				order = append(order, dep)
				queue = append(queue, dep)
			} else if seen[dep.Name].Dir != dep.Dir {
				return nil, fmt.Errorf("project name %q resolves to both %s and %s",
					dep.Name, seen[dep.Name].Dir, dep.Dir)
			}
			graph.AddNode(dep.Name)
			if err := graph.AddEdge(dep.Name, current.Name); err != nil {
				return nil, err
			}
		}
	}

	if err := graph.DetectCycles(); err != nil {
		return nil, err
	}
	return order, nil
}
