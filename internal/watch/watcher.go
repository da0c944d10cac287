// Package watch turns bursts of local file changes into upload batches.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rjeczalik/notify"

	"mpy-sync/internal/config"
)

// Matcher decides whether a changed path is ignored.
type Matcher interface {
	Match(path string, isDir bool) bool
}

// DefaultDebounce is the quiet period that closes a batch.
const DefaultDebounce = 300 * time.Millisecond

// Watcher watches a project tree recursively.
type Watcher struct {
	Root     string
	Ignore   Matcher
	Debounce time.Duration
	// OnChange receives each batch of changed paths, sorted and deduplicated.
	// It runs on the watcher goroutine; events arriving meanwhile are
	// buffered.
	OnChange func(ctx context.Context, paths []string)
}

// New returns a Watcher for root.
func New(root string, ignore Matcher, onChange func(context.Context, []string)) *Watcher {
	return &Watcher{Root: root, Ignore: ignore, Debounce: DefaultDebounce, OnChange: onChange}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	abs, err := filepath.Abs(w.Root)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %v", w.Root, err)
	}
	w.Root = abs

	ch := make(chan notify.EventInfo, 100)
	if err := notify.Watch(filepath.Join(abs, "..."), ch, notify.All); err != nil {
		return fmt.Errorf("failed to setup file watcher: %v", err)
	}
	defer notify.Stop(ch)

	log.Printf("[watch] watching %s", abs)
	w.loop(ctx, ch)
	return nil
}

func (w *Watcher) loop(ctx context.Context, in <-chan notify.EventInfo) {
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	pending := map[string]struct{}{}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			path := ev.Path()
			if filepath.Base(path) == config.IgnoreFileName {
				if c, ok := w.Ignore.(interface{ ClearCache() }); ok {
					c.ClearCache()
				}
			}
			if w.ignored(path) {
				continue
			}
			pending[path] = struct{}{}
			timer.Reset(debounce)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = map[string]struct{}{}
			log.Printf("[watch] %d path(s) changed", len(batch))
			if w.OnChange != nil {
				w.OnChange(ctx, batch)
			}
		}
	}
}

// ignored drops paths outside Root, dot-prefixed segments and matches of
// the ignore rules.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.Root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	if w.Ignore == nil {
		return false
	}
	info, err := os.Stat(path)
	return w.Ignore.Match(path, err == nil && info.IsDir())
}
