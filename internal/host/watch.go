package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kilnproject/kiln/internal/ctxlog"
	"github.com/kilnproject/kiln/internal/project"
	"github.com/kilnproject/kiln/internal/watch"
)

// runWatch runs one pipeline cycle, then re-enters the compile step for
// affected modules whenever watched files change. Cycles never overlap;
// the watcher delivers change sets sequentially.
func (h *Host) runWatch(ctx context.Context) int {
	logger := ctxlog.FromContext(ctx)

	// Name resolution mutates AppName and Args; every cycle starts from
	// the values the user supplied.
	origName := h.opts.AppName
	origArgs := append([]string{}, h.opts.Args...)
	cycle := func(ctx context.Context) int {
		h.opts.AppName = origName
		h.opts.Args = append([]string{}, origArgs...)
		return h.runOnce(ctx)
	}

	code := cycle(ctx)

	w, err := watch.New(watch.Config{
		BaseDir: h.opts.BaseDir,
		OnChange: func(ctx context.Context, changed []string) error {
			h.invalidate(ctx, changed)
			code = cycle(ctx)
			fmt.Fprintln(h.errW, "Watching for file changes...")
			return nil
		},
	})
	if err != nil {
		fmt.Fprintln(h.errW, err)
		return 1
	}

	fmt.Fprintln(h.errW, "Watching for file changes...")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(h.errW, err)
		return 1
	}
	logger.Debug("Watch loop finished.", "last_code", code)
	return code
}

// invalidate drops cache entries and loaded modules owned by any project
// whose directory contains a changed path. A manifest change also resets
// the resolver's memo for that directory.
func (h *Host) invalidate(ctx context.Context, changed []string) {
	logger := ctxlog.FromContext(ctx)

	for _, cc := range h.cache.Entries() {
		dir := cc.Project.Dir
		for _, rel := range changed {
			abs := filepath.Join(h.opts.BaseDir, filepath.FromSlash(rel))
			if abs != dir && !strings.HasPrefix(abs, dir+string(filepath.Separator)) {
				continue
			}
			name := cc.Project.Name
			logger.Debug("Invalidating module.", "name", name, "changed", rel)
			h.cache.Invalidate(name)
			h.modules.Remove(name)
			if filepath.Base(abs) == project.ManifestName {
				h.resolver.Forget(dir)
			}
			break
		}
	}
}
