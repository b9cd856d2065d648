// Package watch provides debounced file watching for watch mode. It
// monitors a directory tree, coalesces rapid event bursts (an editor
// writing then renaming a temp file), and reports the changed paths in a
// single callback. The watcher is an invalidation signal only; it carries
// no data beyond the paths.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kilnproject/kiln/internal/ctxlog"
	"github.com/kilnproject/kiln/internal/fsutil"
)

// defaultDebounce is the quiet period after the last filesystem event
// before the callback fires.
const defaultDebounce = 500 * time.Millisecond

// defaultIgnores are always excluded: VCS metadata, editor swap files and
// OS noise.
var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// Config parameterizes a Watcher.
type Config struct {
	// BaseDir is the root of the watched tree.
	BaseDir string

	// Patterns select which files trigger the callback, relative to
	// BaseDir. Empty watches every non-ignored file.
	Patterns []string

	// Debounce overrides the default quiet period when positive.
	Debounce time.Duration

	// OnChange receives the deduplicated changed paths, relative to
	// BaseDir, after each quiet period.
	OnChange func(ctx context.Context, changed []string) error
}

// Watcher monitors a directory tree and fires a debounced callback.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	baseDir  string
	debounce time.Duration
}

// New creates a Watcher and registers every directory under BaseDir.
func New(cfg Config) (*Watcher, error) {
	absBase, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}

	if err := fsutil.ValidatePatterns(cfg.Patterns, "watch"); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	w := &Watcher{cfg: cfg, fsw: fsw, baseDir: absBase, debounce: debounce}
	if err := w.addDirs(absBase); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run blocks, dispatching debounced change sets to OnChange until the
// context is canceled. Callbacks never overlap: the next change set is
// collected while the previous callback runs but is not delivered until
// it returns.
func (w *Watcher) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	defer w.fsw.Close()

	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories join the watch set as they appear.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addDirs(event.Name); err != nil {
						logger.Warn("Failed to watch new directory.", "dir", event.Name, "error", err)
					}
				}
			}
			rel, err := filepath.Rel(w.baseDir, event.Name)
			if err != nil || !w.matches(rel) {
				continue
			}
			pending[filepath.ToSlash(rel)] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error.", "error", err)

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)

			logger.Debug("Change set ready.", "files", changed)
			if w.cfg.OnChange != nil {
				if err := w.cfg.OnChange(ctx, changed); err != nil {
					return err
				}
			}
		}
	}
}

// matches applies ignore patterns first, then the configured include
// patterns. With no include patterns, every non-ignored path matches.
func (w *Watcher) matches(relPath string) bool {
	if fsutil.Match(defaultIgnores, relPath) {
		return false
	}
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	return fsutil.Match(w.cfg.Patterns, relPath)
}

// addDirs registers root and all non-ignored directories beneath it.
func (w *Watcher) addDirs(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.baseDir, path)
		if err == nil && rel != "." && fsutil.Match(defaultIgnores, rel+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
}
