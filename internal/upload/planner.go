package upload

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mpy-sync/internal/config"
)

// Request describes one planning run. All paths are absolute. An empty
// Targets list uploads the whole project.
type Request struct {
	ProjectRoot string
	Targets     []string
	SourceRoots []string
	TestRoots   []string
	Excludes    []string
	Ignore      Matcher
}

// Candidate is a local regular file and the device path it uploads to
// (relative, "/"-separated).
type Candidate struct {
	LocalPath  string
	RemotePath string
	Size       int64
}

type workItem struct {
	path string
	rel  string
	// root is the explicit upload target the item came from, "" for a
	// whole-project upload.
	root  string
	tests bool
}

// Plan expands the requested roots into the ordered list of files to upload.
// Directories are replaced in place by their children (in name order) until
// only regular files remain.
func Plan(ctx context.Context, req Request) ([]Candidate, error) {
	p := newPlanner(req)

	var work []workItem
	if len(req.Targets) == 0 {
		work = append(work, workItem{path: p.project})
	}
	for _, t := range req.Targets {
		t = filepath.Clean(t)
		if t == p.project {
			work = append(work, workItem{path: p.project})
			continue
		}
		it := workItem{path: t, root: t, tests: within(t, p.tests)}
		it.rel = p.relFor(it, "", filepath.Base(t))
		work = append(work, it)
	}

	var out []Candidate
	for i := 0; i < len(work); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		it := work[i]
		info, err := os.Stat(it.path)
		if err != nil || p.skip(it, info) {
			work = append(work[:i], work[i+1:]...)
			continue
		}

		if info.IsDir() {
			entries, err := os.ReadDir(it.path)
			if err != nil {
				work = append(work[:i], work[i+1:]...)
				continue
			}
			children := make([]workItem, 0, len(entries))
			for _, e := range entries {
				child := workItem{path: filepath.Join(it.path, e.Name()), root: it.root, tests: it.tests}
				child.rel = p.relFor(child, it.rel, e.Name())
				children = append(children, child)
			}
			rest := append(children, work[i+1:]...)
			work = append(work[:i], rest...)
			continue
		}

		if !info.Mode().IsRegular() {
			work = append(work[:i], work[i+1:]...)
			continue
		}
		out = append(out, Candidate{LocalPath: it.path, RemotePath: it.rel, Size: info.Size()})
		i++
	}
	return out, nil
}

type planner struct {
	req     Request
	project string
	sources []string
	tests   []string
	roots   []string
	exclude []string
}

func newPlanner(req Request) *planner {
	p := &planner{
		req:     req,
		project: filepath.Clean(req.ProjectRoot),
		sources: cleanAll(req.SourceRoots),
		tests:   cleanAll(req.TestRoots),
		exclude: cleanAll(req.Excludes),
	}
	p.roots = append(append([]string{}, p.sources...), p.tests...)
	// Deepest first so the nearest enclosing root wins.
	sort.SliceStable(p.roots, func(i, j int) bool { return len(p.roots[i]) > len(p.roots[j]) })
	return p
}

func cleanAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, x := range paths {
		out[i] = filepath.Clean(x)
	}
	return out
}

// relFor computes the remote path of an item: relative to the nearest
// enclosing source or test root, else to the explicit upload root, else the
// parent's path plus name.
func (p *planner) relFor(it workItem, parentRel, name string) string {
	for _, r := range p.roots {
		if isStrictAncestor(r, it.path) {
			return relSlash(r, it.path)
		}
	}
	if it.root != "" && isStrictAncestor(it.root, it.path) {
		return relSlash(it.root, it.path)
	}
	if parentRel == "" {
		return name
	}
	return parentRel + "/" + name
}

func (p *planner) skip(it workItem, info os.FileInfo) bool {
	if it.path == p.project {
		return false
	}
	if strings.HasPrefix(filepath.Base(it.path), ".") {
		return true
	}
	if p.req.Ignore != nil && p.req.Ignore.Match(it.path, info.IsDir()) {
		return true
	}
	if within(it.path, p.exclude) {
		return true
	}
	if !it.tests && within(it.path, p.tests) {
		return true
	}
	if it.root == "" && len(p.sources) > 0 && !within(it.path, p.sources) && !ancestorOfAny(it.path, p.sources) {
		return true
	}
	return false
}

func relSlash(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return filepath.ToSlash(filepath.Base(path))
	}
	return filepath.ToSlash(rel)
}

// isStrictAncestor reports whether dir strictly contains path.
func isStrictAncestor(dir, path string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator)) || (dir == string(filepath.Separator) && path != dir && strings.HasPrefix(path, dir))
}

// within reports whether path equals or lies under one of roots.
func within(path string, roots []string) bool {
	for _, r := range roots {
		if path == r || isStrictAncestor(r, path) {
			return true
		}
	}
	return false
}

func ancestorOfAny(path string, roots []string) bool {
	for _, r := range roots {
		if isStrictAncestor(path, r) {
			return true
		}
	}
	return false
}

// CollectExcludes returns the folders never uploaded: editor metadata, the
// state directory, configured excludes and virtualenv homes found directly
// under the project root.
func CollectExcludes(projectRoot string, configured []string) []string {
	out := []string{
		filepath.Join(projectRoot, ".idea"),
		filepath.Join(projectRoot, ".vscode"),
		filepath.Join(projectRoot, config.StateDir),
	}
	for _, e := range configured {
		out = append(out, filepath.Join(projectRoot, e))
	}
	entries, err := os.ReadDir(projectRoot)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(projectRoot, e.Name(), "pyvenv.cfg")); err == nil {
			out = append(out, filepath.Join(projectRoot, e.Name()))
		}
	}
	return out
}

// RequestFromConfig builds a planning request for targets (absolute or
// relative to the working directory) using the project's configuration.
func RequestFromConfig(cfg *config.Config, targets []string) (Request, error) {
	root, err := filepath.Abs(cfg.Root())
	if err != nil {
		return Request{}, err
	}
	abs := func(rel []string) []string {
		out := make([]string, len(rel))
		for i, r := range rel {
			out[i] = filepath.Join(root, r)
		}
		return out
	}

	req := Request{
		ProjectRoot: root,
		SourceRoots: abs(cfg.Upload.SourceRoots),
		TestRoots:   abs(cfg.Upload.TestRoots),
		Excludes:    CollectExcludes(root, cfg.Upload.Excludes),
		Ignore:      NewIgnoreCache(root),
	}
	for _, t := range targets {
		a, err := filepath.Abs(t)
		if err != nil {
			return Request{}, err
		}
		req.Targets = append(req.Targets, a)
	}
	return req, nil
}
