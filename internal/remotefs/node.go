// Package remotefs keeps an in-memory model of the board's filesystem and
// mirrors every mutation on the device.
package remotefs

import "strings"

// Kind tags a Node as a directory or a file.
type Kind int

const (
	KindDir Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Node is either a directory (children) or a file (cached content). The
// parent pointer is only used to rebuild paths; a directory owns its
// children.
type Node struct {
	name      string
	parent    *Node
	kind      Kind
	timestamp int64
	exists    bool

	// KindDir
	children []*Node

	// KindFile
	content      []byte
	loaded       bool
	declaredSize int64
}

func newDir(name string, stamp int64) *Node {
	return &Node{name: name, kind: KindDir, timestamp: stamp, exists: true}
}

func newFile(name string, size, stamp int64) *Node {
	if size < 0 {
		size = 0
	}
	return &Node{name: name, kind: KindFile, timestamp: stamp, exists: true, declaredSize: size}
}

func (n *Node) Name() string     { return n.name }
func (n *Node) Parent() *Node    { return n.parent }
func (n *Node) Kind() Kind       { return n.kind }
func (n *Node) IsDir() bool      { return n.kind == KindDir }
func (n *Node) IsRoot() bool     { return n.parent == nil }
func (n *Node) Timestamp() int64 { return n.timestamp }

// Exists is false for a node whose content fetch found it missing on the
// device.
func (n *Node) Exists() bool { return n.exists }

// Loaded reports whether the file content is cached.
func (n *Node) Loaded() bool { return n.loaded }

// Path returns the absolute device path. The root's path is "".
func (n *Node) Path() string {
	if n.parent == nil {
		return ""
	}
	return n.parent.Path() + "/" + n.name
}

// DisplayPath is Path with the root shown as "/".
func (n *Node) DisplayPath() string {
	if p := n.Path(); p != "" {
		return p
	}
	return "/"
}

// Len is the cached content length once loaded, the listed size before.
// Directories report 0.
func (n *Node) Len() int64 {
	switch {
	case n.kind == KindDir:
		return 0
	case n.loaded:
		return int64(len(n.content))
	default:
		return n.declaredSize
	}
}

// Children returns a copy of the directory's children in listing order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Child returns the direct child called name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// IsAncestorOf reports whether n is a strict ancestor of other.
func (n *Node) IsAncestorOf(other *Node) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

func (n *Node) addChild(c *Node) {
	c.parent = n
	n.children = append(n.children, c)
}

func (n *Node) replaceChild(old, c *Node) {
	for i, x := range n.children {
		if x == old {
			c.parent = n
			n.children[i] = c
			old.parent = nil
			return
		}
	}
}

// detach removes n from its parent. The parent pointer is kept so paths of
// a detached subtree still resolve for late callers.
func (n *Node) detach() {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

// clone deep-copies n, giving every copied node the timestamp stamp.
func (n *Node) clone(stamp int64) *Node {
	c := &Node{
		name:         n.name,
		kind:         n.kind,
		timestamp:    stamp,
		exists:       true,
		loaded:       n.loaded,
		declaredSize: n.Len(),
	}
	if n.loaded {
		c.content = append([]byte(nil), n.content...)
	}
	for _, child := range n.children {
		c.addChild(child.clone(stamp))
	}
	return c
}

// postOrder lists n's subtree with every directory after its content.
func postOrder(n *Node) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(x *Node) {
		for _, c := range x.children {
			walk(c)
		}
		out = append(out, x)
	}
	walk(n)
	return out
}

// preOrder lists n's subtree with every directory before its content.
func preOrder(n *Node) []*Node {
	out := []*Node{n}
	for _, c := range n.children {
		out = append(out, preOrder(c)...)
	}
	return out
}

// SplitPath splits a device path into its non-empty segments.
func SplitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// Clean returns the canonical absolute form of path ("" for the root).
func Clean(path string) string {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return ""
	}
	return "/" + strings.Join(segs, "/")
}

// Join builds a child path from parent + name.
func Join(parent, name string) string {
	return Clean(parent) + "/" + name
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}
