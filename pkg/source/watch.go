package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aquaponics/pondwatch/pkg/utils"
)

// Watch invalidates cached ponds when their CSV files change and rescans the
// directory when files appear or disappear. It blocks until ctx is done.
func Watch(ctx context.Context, log *zap.SugaredLogger, c *CSV, inv Invalidator) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer w.Close()

	dirs := map[string]bool{}
	if c.Dir() != "" {
		dirs[c.Dir()] = true
	} else {
		ponds, _ := c.Ponds(ctx)
		for _, p := range ponds {
			path, _ := c.Path(p)
			dirs[filepath.Dir(path)] = true
		}
	}
	// parent directories, so files replaced by rename stay observed
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}
	log.Infow("watching pond files", "dirs", len(dirs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnw("file watcher error", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".csv") || ev.Has(fsnotify.Chmod) {
				continue
			}
			handleEvent(ctx, log, c, inv, ev)
		}
	}
}

func handleEvent(ctx context.Context, log *zap.SugaredLogger, c *CSV, inv Invalidator, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if err := c.Rescan(); err != nil {
			log.Warnw("failed to rescan pond directory", "error", err)
		}
	}

	pond := utils.FileStem(ev.Name)
	if c.Dir() == "" {
		// ponds-file sources may name ponds differently from their files
		ponds, _ := c.Ponds(ctx)
		for _, p := range ponds {
			if path, _ := c.Path(p); filepath.Clean(path) == filepath.Clean(ev.Name) {
				pond = p
				break
			}
		}
	}
	if err := inv.Invalidate(ctx, pond); err != nil {
		log.Warnw("failed to invalidate pond", "pond", pond, "error", err)
		return
	}
	log.Debugw("pond data changed", "pond", pond, "op", ev.Op.String())
}
