package watch

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rjeczalik/notify"
)

type fakeEvent struct {
	path string
}

func (e fakeEvent) Event() notify.Event { return notify.Write }
func (e fakeEvent) Path() string        { return e.path }
func (e fakeEvent) Sys() interface{}    { return nil }

type suffixMatcher string

func (s suffixMatcher) Match(path string, isDir bool) bool {
	return filepath.Ext(path) == string(s)
}

func TestWatcherCoalescesBursts(t *testing.T) {
	root := t.TempDir()
	batches := make(chan []string, 4)
	w := &Watcher{
		Root:     root,
		Ignore:   suffixMatcher(".log"),
		Debounce: 50 * time.Millisecond,
		OnChange: func(ctx context.Context, paths []string) { batches <- paths },
	}

	in := make(chan notify.EventInfo, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.loop(ctx, in)

	in <- fakeEvent{filepath.Join(root, "b.py")}
	in <- fakeEvent{filepath.Join(root, "a.py")}
	in <- fakeEvent{filepath.Join(root, "b.py")}
	in <- fakeEvent{filepath.Join(root, "debug.log")}
	in <- fakeEvent{filepath.Join(root, ".git", "index")}
	in <- fakeEvent{filepath.Join(filepath.Dir(root), "elsewhere.py")}

	select {
	case got := <-batches:
		want := []string{filepath.Join(root, "a.py"), filepath.Join(root, "b.py")}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no batch delivered")
	}

	select {
	case got := <-batches:
		t.Fatalf("unexpected second batch %v", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	w := &Watcher{Root: t.TempDir()}
	in := make(chan notify.EventInfo)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.loop(ctx, in)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop")
	}
}
