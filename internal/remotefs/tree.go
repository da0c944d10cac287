package remotefs

import "mpy-sync/internal/protocol"

// Tree is a snapshot of the device filesystem built from one listing.
type Tree struct {
	root *Node
}

// NewTree returns a tree holding only the root directory.
func NewTree() *Tree {
	return &Tree{root: newDir("", 0)}
}

// BuildTree builds a tree from listing records. Listed nodes get timestamp
// stamp; directories only implied by a deeper path get 0.
func BuildTree(records []protocol.Record, stamp int64) *Tree {
	t := NewTree()
	for _, rec := range records {
		t.insert(rec, stamp)
	}
	return t
}

func (t *Tree) Root() *Node { return t.root }

// Find resolves path by successive name lookups. It returns nil on any miss.
func (t *Tree) Find(path string) *Node {
	n := t.root
	for _, seg := range SplitPath(path) {
		if !n.IsDir() {
			return nil
		}
		if n = n.Child(seg); n == nil {
			return nil
		}
	}
	return n
}

// Walk visits every node pre-order, the root included.
func (t *Tree) Walk(fn func(*Node)) {
	for _, n := range preOrder(t.root) {
		fn(n)
	}
}

// Len counts every node except the root.
func (t *Tree) Len() int {
	return len(preOrder(t.root)) - 1
}

func (t *Tree) insert(rec protocol.Record, stamp int64) {
	segs := SplitPath(rec.Path)
	if len(segs) == 0 {
		return
	}
	parent := t.ensureDirs(segs[:len(segs)-1], 0)
	name := segs[len(segs)-1]
	existing := parent.Child(name)

	if rec.IsDir() {
		switch {
		case existing == nil:
			parent.addChild(newDir(name, stamp))
		case existing.IsDir():
			existing.timestamp = stamp
		default:
			parent.replaceChild(existing, newDir(name, stamp))
		}
		return
	}

	switch {
	case existing == nil:
		parent.addChild(newFile(name, rec.Size, stamp))
	case !existing.IsDir():
		existing.declaredSize = max(rec.Size, 0)
		existing.timestamp = stamp
	case len(existing.children) == 0:
		parent.replaceChild(existing, newFile(name, rec.Size, stamp))
	}
	// A directory that already has content keeps winning over a file record.
}

// ensureDirs walks segs from the root, creating missing directories with
// timestamp stamp. A file found where a directory is needed is promoted.
func (t *Tree) ensureDirs(segs []string, stamp int64) *Node {
	n := t.root
	for _, seg := range segs {
		child := n.Child(seg)
		switch {
		case child == nil:
			child = newDir(seg, stamp)
			n.addChild(child)
		case !child.IsDir():
			dir := newDir(seg, child.timestamp)
			n.replaceChild(child, dir)
			child = dir
		}
		n = child
	}
	return n
}
