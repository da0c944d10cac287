package remotefs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"mpy-sync/internal/metrics"
	"mpy-sync/internal/protocol"
	"mpy-sync/internal/transport"
)

// FS is the cached view of one device. Every operation holds the same lock
// for its whole duration, so device commands and tree changes never
// interleave.
type FS struct {
	mu        sync.Mutex
	ch        transport.Channel
	tree      *Tree
	observers observerList

	now func() time.Time
}

// New returns an FS with an empty tree. Call Refresh to load the device.
func New(ch transport.Channel) *FS {
	return &FS{ch: ch, tree: NewTree(), now: time.Now}
}

// Subscribe registers o and returns a function that unregisters it.
func (fs *FS) Subscribe(o Observer) func() {
	return fs.observers.add(o)
}

// Tree returns the current tree. It is replaced, not updated, by Refresh.
func (fs *FS) Tree() *Tree {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.tree
}

// Find resolves path in the current tree.
func (fs *FS) Find(path string) *Node {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.tree.Find(path)
}

func (fs *FS) stamp() int64 {
	return fs.now().UnixMilli()
}

// Refresh lists the whole device and replaces the tree. On failure the
// previous tree is kept.
func (fs *FS) Refresh(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.refreshLocked(ctx)
}

func (fs *FS) refreshLocked(ctx context.Context) error {
	start := time.Now()
	out, err := fs.ch.Exec(ctx, transport.Long, protocol.ScanScript)
	if err != nil {
		metrics.RecordRefresh(0, err)
		return fmt.Errorf("refresh: %w", err)
	}
	records, err := protocol.ParseListing(string(out))
	if err != nil {
		metrics.RecordRefresh(0, err)
		return fmt.Errorf("refresh: %w", err)
	}

	events := []Event{{Kind: EventRefresh, IsDir: true, NewTimestamp: fs.stamp()}}
	fs.observers.before(events)
	fs.tree = BuildTree(records, fs.stamp())
	metrics.RecordRefresh(fs.tree.Len(), nil)
	log.Printf("[remotefs] refreshed %d nodes in %s", fs.tree.Len(), time.Since(start).Round(time.Millisecond))
	fs.observers.after(events)
	return nil
}

// cleanup runs after a failed or cancelled operation. A cancelled context
// still gets its refresh, detached from the cancellation, before ctx.Err()
// is returned.
func (fs *FS) cleanup(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if rerr := fs.refreshLocked(context.WithoutCancel(ctx)); rerr != nil {
		log.Printf("[remotefs] refresh after cancellation failed: %v", rerr)
	}
	return ctx.Err()
}

func notFound(path string) error {
	return fmt.Errorf("%s: %w", displayPath(path), transport.ErrNotFound)
}

func displayPath(path string) string {
	if p := Clean(path); p != "" {
		return p
	}
	return "/"
}

func (fs *FS) findDir(path string) (*Node, error) {
	n := fs.tree.Find(path)
	if n == nil {
		return nil, notFound(path)
	}
	if !n.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", displayPath(path))
	}
	return n, nil
}

// ReadFile returns the content of the file at path, fetching it from the
// device on first use or when force is set.
func (fs *FS) ReadFile(ctx context.Context, path string, force bool) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := fs.tree.Find(path)
	if n == nil {
		return nil, notFound(path)
	}
	if n.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", displayPath(path))
	}
	if n.loaded && !force {
		return append([]byte(nil), n.content...), nil
	}

	out, err := fs.ch.Exec(ctx, transport.Long, protocol.ReadScript(n.Path()))
	if err != nil {
		if transport.IsNotFound(err) {
			n.exists = false
		}
		return nil, fs.cleanup(ctx, fmt.Errorf("read %s: %w", n.Path(), err))
	}
	data, err := protocol.DecodeRead(out)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", n.Path(), err)
	}
	n.content = data
	n.loaded = true
	n.exists = true
	return append([]byte(nil), data...), nil
}

// WriteFile replaces the whole content of the file at path, creating it and
// any missing parent directories.
func (fs *FS) WriteFile(ctx context.Context, path string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	segs := SplitPath(path)
	if len(segs) == 0 {
		return errors.New("write: empty path")
	}
	path = Clean(path)
	stamp := fs.stamp()

	var events []Event
	var missing []string
	dir := fs.tree.root
	for i, seg := range segs[:len(segs)-1] {
		if dir != nil {
			dir = dir.Child(seg)
		}
		p := "/" + strings.Join(segs[:i+1], "/")
		if dir == nil {
			missing = append(missing, p)
			events = append(events, Event{Kind: EventCreate, Path: p, IsDir: true, NewTimestamp: stamp})
			continue
		}
		if !dir.IsDir() {
			return fmt.Errorf("write %s: %s is a file", path, p)
		}
	}

	n := fs.tree.Find(path)
	switch {
	case n == nil:
		events = append(events, Event{Kind: EventCreate, Path: path, Size: int64(len(data)), NewTimestamp: stamp})
	case n.IsDir():
		return fmt.Errorf("write %s: is a directory", path)
	default:
		events = append(events, Event{Kind: EventContentChange, Path: path, Size: int64(len(data)), OldTimestamp: n.timestamp, NewTimestamp: stamp})
	}

	fs.observers.before(events)
	for i, script := range protocol.WriteScripts(path, data, missing) {
		if _, err := fs.ch.Exec(ctx, transport.Long, script); err != nil {
			err = fmt.Errorf("write %s: %w", path, err)
			if ctx.Err() != nil {
				return fs.cleanup(ctx, err)
			}
			if n != nil {
				// The truncating open may have run before the failure.
				n.content = nil
				n.loaded = false
			}
			if i > 0 || len(missing) > 0 {
				// Earlier chunks or parent directories reached the device.
				if rerr := fs.refreshLocked(context.WithoutCancel(ctx)); rerr != nil {
					log.Printf("[remotefs] refresh after failed write: %v", rerr)
				}
			}
			return err
		}
	}

	parent := fs.tree.ensureDirs(segs[:len(segs)-1], stamp)
	if n == nil {
		n = newFile(segs[len(segs)-1], 0, stamp)
		parent.addChild(n)
	}
	n.content = append([]byte(nil), data...)
	n.loaded = true
	n.exists = true
	n.declaredSize = int64(len(data))
	n.timestamp = stamp
	fs.observers.after(events)
	return nil
}

func (fs *FS) create(ctx context.Context, dirPath, name string, kind Kind) (*Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !validName(name) {
		return nil, fmt.Errorf("invalid name %q", name)
	}
	dir, err := fs.findDir(dirPath)
	if err != nil {
		return nil, err
	}
	path := Join(dirPath, name)
	if dir.Child(name) != nil {
		return nil, fmt.Errorf("%s: %w", path, os.ErrExist)
	}

	stamp := fs.stamp()
	events := []Event{{Kind: EventCreate, Path: path, IsDir: kind == KindDir, NewTimestamp: stamp}}
	script := protocol.TouchScript(path)
	if kind == KindDir {
		script = protocol.MkdirScript(path)
	}

	fs.observers.before(events)
	if _, err := fs.ch.Exec(ctx, transport.Short, script); err != nil {
		return nil, fs.cleanup(ctx, fmt.Errorf("create %s: %w", path, err))
	}

	var n *Node
	if kind == KindDir {
		n = newDir(name, stamp)
	} else {
		n = newFile(name, 0, stamp)
		n.loaded = true
	}
	dir.addChild(n)
	fs.observers.after(events)
	return n, nil
}

// CreateFile creates an empty file called name inside dirPath.
func (fs *FS) CreateFile(ctx context.Context, dirPath, name string) (*Node, error) {
	return fs.create(ctx, dirPath, name, KindFile)
}

// CreateDir creates a directory called name inside dirPath.
func (fs *FS) CreateDir(ctx context.Context, dirPath, name string) (*Node, error) {
	return fs.create(ctx, dirPath, name, KindDir)
}

// Delete removes every path in the selection, directories bottom-up. The
// selection is resolved before anything is removed, so a child selected
// together with its parent is attempted again and its not-found reply is
// ignored. Any other failure stops the remaining batches and resyncs the
// tree.
func (fs *FS) Delete(ctx context.Context, paths ...string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var selected []*Node
	for _, p := range paths {
		n := fs.tree.Find(p)
		switch {
		case n == nil && len(paths) > 1:
			log.Printf("[remotefs] delete: %s is not in the tree, skipping", displayPath(p))
			continue
		case n == nil:
			return notFound(p)
		case n.IsRoot():
			return errors.New("delete: refusing to remove the root directory")
		}
		selected = append(selected, n)
	}

	resync := false
	for _, n := range selected {
		if err := ctx.Err(); err != nil {
			return fs.cleanup(ctx, err)
		}

		order := postOrder(n)
		targets := make([]protocol.Target, len(order))
		for i, x := range order {
			targets[i] = protocol.Target{Path: x.Path(), Dir: x.IsDir()}
		}
		events := []Event{{Kind: EventDelete, Path: n.Path(), IsDir: n.IsDir(), Size: n.Len(), OldTimestamp: n.timestamp}}

		fs.observers.before(events)
		_, err := fs.ch.Exec(ctx, transport.Long, protocol.RemoveScript(targets))
		switch {
		case err == nil:
			n.detach()
			fs.observers.after(events)
		case ctx.Err() != nil:
			return fs.cleanup(ctx, err)
		case transport.IsNotFound(err):
			log.Printf("[remotefs] delete %s: already gone", n.Path())
			if fs.tree.Find(n.Path()) == n {
				// Part of the subtree may still be on the device.
				resync = true
			}
		default:
			if rerr := fs.refreshLocked(ctx); rerr != nil {
				log.Printf("[remotefs] refresh after failed delete: %v", rerr)
			}
			return fmt.Errorf("delete %s: %w", n.Path(), err)
		}
	}

	if resync {
		return fs.refreshLocked(ctx)
	}
	return nil
}

// Rename gives the node at path a new name in the same directory.
func (fs *FS) Rename(ctx context.Context, path, newName string) (*Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !validName(newName) {
		return nil, fmt.Errorf("invalid name %q", newName)
	}
	n := fs.tree.Find(path)
	if n == nil {
		return nil, notFound(path)
	}
	if n.IsRoot() {
		return nil, errors.New("rename: cannot rename the root directory")
	}
	if newName == n.name {
		return n, nil
	}
	if n.parent.Child(newName) != nil {
		return nil, fmt.Errorf("%s: %w", Join(n.parent.Path(), newName), os.ErrExist)
	}

	oldPath := n.Path()
	newPath := Join(n.parent.Path(), newName)
	events := []Event{{Kind: EventRename, Path: newPath, OldPath: oldPath, IsDir: n.IsDir(), OldTimestamp: n.timestamp, NewTimestamp: n.timestamp}}

	fs.observers.before(events)
	if _, err := fs.ch.Exec(ctx, transport.Short, protocol.RenameScript(oldPath, newPath)); err != nil {
		return nil, fs.cleanup(ctx, fmt.Errorf("rename %s: %w", oldPath, err))
	}
	n.name = newName
	fs.observers.after(events)
	return n, nil
}

// Move re-parents the node at path under the directory newParent.
func (fs *FS) Move(ctx context.Context, path, newParent string) (*Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := fs.tree.Find(path)
	if n == nil {
		return nil, notFound(path)
	}
	if n.IsRoot() {
		return nil, errors.New("move: cannot move the root directory")
	}
	dest, err := fs.findDir(newParent)
	if err != nil {
		return nil, err
	}
	if dest == n || n.IsAncestorOf(dest) {
		return nil, fmt.Errorf("move: %s cannot be moved into itself", n.Path())
	}
	if dest == n.parent {
		return n, nil
	}
	if dest.Child(n.name) != nil {
		return nil, fmt.Errorf("%s: %w", Join(dest.Path(), n.name), os.ErrExist)
	}

	oldPath := n.Path()
	newPath := Join(dest.Path(), n.name)
	events := []Event{{Kind: EventMove, Path: newPath, OldPath: oldPath, IsDir: n.IsDir(), OldTimestamp: n.timestamp, NewTimestamp: n.timestamp}}

	fs.observers.before(events)
	if _, err := fs.ch.Exec(ctx, transport.Short, protocol.RenameScript(oldPath, newPath)); err != nil {
		return nil, fs.cleanup(ctx, fmt.Errorf("move %s: %w", oldPath, err))
	}
	n.detach()
	dest.addChild(n)
	fs.observers.after(events)
	return n, nil
}

// Copy duplicates the node at path (recursively for directories) into
// newParent under copyName, or under its own name when copyName is empty.
func (fs *FS) Copy(ctx context.Context, path, newParent, copyName string) (*Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := fs.tree.Find(path)
	if n == nil {
		return nil, notFound(path)
	}
	if n.IsRoot() {
		return nil, errors.New("copy: cannot copy the root directory")
	}
	if copyName == "" {
		copyName = n.name
	}
	if !validName(copyName) {
		return nil, fmt.Errorf("invalid name %q", copyName)
	}
	dest, err := fs.findDir(newParent)
	if err != nil {
		return nil, err
	}
	if dest == n || n.IsAncestorOf(dest) {
		return nil, fmt.Errorf("copy: %s cannot be copied into itself", n.Path())
	}
	if dest.Child(copyName) != nil {
		return nil, fmt.Errorf("%s: %w", Join(dest.Path(), copyName), os.ErrExist)
	}

	srcRoot := n.Path()
	dstRoot := Join(dest.Path(), copyName)
	var steps []protocol.CopyStep
	for _, x := range preOrder(n) {
		to := dstRoot + x.Path()[len(srcRoot):]
		steps = append(steps, protocol.CopyStep{From: x.Path(), To: to, Dir: x.IsDir()})
	}

	stamp := fs.stamp()
	events := []Event{{Kind: EventCopy, Path: dstRoot, OldPath: srcRoot, IsDir: n.IsDir(), Size: n.Len(), OldTimestamp: n.timestamp, NewTimestamp: stamp}}

	fs.observers.before(events)
	if _, err := fs.ch.Exec(ctx, transport.Long, protocol.CopyScript(steps)); err != nil {
		return nil, fs.cleanup(ctx, fmt.Errorf("copy %s: %w", srcRoot, err))
	}
	c := n.clone(stamp)
	c.name = copyName
	dest.addChild(c)
	fs.observers.after(events)
	return c, nil
}

// Reset soft-resets the board. The tree is left as is.
func (fs *FS) Reset(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.ch.Reset(ctx)
}

// Exec runs arbitrary code on the board and returns what it printed.
func (fs *FS) Exec(ctx context.Context, code string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.ch.Exec(ctx, transport.Long, code)
}
