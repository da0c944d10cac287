package upload

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	ig "github.com/sabhiram/go-gitignore"

	"mpy-sync/internal/config"
)

// Matcher decides whether a local path is left out of uploads.
type Matcher interface {
	Match(path string, isDir bool) bool
}

var defaultIgnores = []string{config.StateDir, config.ConfigFileName, config.IgnoreFileName, "__pycache__"}

// IgnoreCache caches compiled .mpyignore matchers per directory. Rules
// cascade from the root down to the directory holding the path, and a
// negated rule ("!keep.py") anywhere in the chain wins over every ignore.
type IgnoreCache struct {
	Root string

	mu        sync.Mutex
	lines     map[string][]string
	matchers  map[string]*ig.GitIgnore
	negations map[string]*ig.GitIgnore
}

// NewIgnoreCache creates an IgnoreCache rooted at absRoot.
func NewIgnoreCache(absRoot string) *IgnoreCache {
	c := &IgnoreCache{Root: filepath.Clean(absRoot)}
	c.ClearCache()
	return c
}

// ClearCache forgets every loaded .mpyignore, forcing a reload on next Match.
func (c *IgnoreCache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = map[string][]string{}
	c.matchers = map[string]*ig.GitIgnore{}
	c.negations = map[string]*ig.GitIgnore{}
}

// Match returns true if the given path (absolute or relative to Root)
// should be ignored.
func (c *IgnoreCache) Match(path string, isDir bool) bool {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.Root, path)
	}
	path = filepath.Clean(path)

	base := filepath.Base(path)
	for _, d := range defaultIgnores {
		if strings.EqualFold(d, base) {
			return true
		}
	}

	dir := path
	if !isDir {
		dir = filepath.Dir(path)
	}
	rel, err := filepath.Rel(c.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if runtime.GOOS == "windows" {
		rel = strings.ToLower(rel)
		base = strings.ToLower(base)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, neg := c.compiled(dir)

	if neg != nil && (neg.MatchesPath(rel) || neg.MatchesPath(base)) {
		return false
	}
	if m == nil {
		return false
	}
	return m.MatchesPath(rel) || m.MatchesPath(base)
}

// compiled returns the cumulative matcher and the negation-only matcher for
// dir. Both may be nil.
func (c *IgnoreCache) compiled(dir string) (*ig.GitIgnore, *ig.GitIgnore) {
	if m, ok := c.matchers[dir]; ok {
		return m, c.negations[dir]
	}

	var cumulative, negated []string
	for _, d := range c.ancestors(dir) {
		for _, l := range c.load(d) {
			cumulative = append(cumulative, l)
			if strings.HasPrefix(l, "!") {
				negated = append(negated, strings.TrimPrefix(l, "!"))
			}
		}
	}

	var m, neg *ig.GitIgnore
	if len(cumulative) > 0 {
		m = ig.CompileIgnoreLines(cumulative...)
	}
	if len(negated) > 0 {
		neg = ig.CompileIgnoreLines(negated...)
	}
	c.matchers[dir] = m
	c.negations[dir] = neg
	return m, neg
}

// ancestors lists Root..dir, Root first.
func (c *IgnoreCache) ancestors(dir string) []string {
	var out []string
	cur := dir
	for {
		out = append(out, cur)
		if cur == c.Root {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// load reads and preprocesses dir's .mpyignore. Simple patterns such as
// "*.log" also get a "**/" form so they match in every subdirectory.
func (c *IgnoreCache) load(dir string) []string {
	if lines, ok := c.lines[dir]; ok {
		return lines
	}
	data, err := os.ReadFile(filepath.Join(dir, config.IgnoreFileName))
	if err != nil {
		c.lines[dir] = nil
		return nil
	}

	var lines []string
	for _, raw := range strings.Split(string(data), "\n") {
		l := strings.TrimSpace(raw)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		prefix := ""
		if strings.HasPrefix(l, "!") {
			prefix = "!"
			l = strings.TrimPrefix(l, "!")
		}
		l = filepath.ToSlash(l)
		lines = append(lines, prefix+l)
		if !strings.Contains(strings.TrimSuffix(l, "/"), "/") && !strings.Contains(l, "**") {
			lines = append(lines, prefix+"**/"+l)
		}
	}
	c.lines[dir] = lines
	return lines
}

// DefaultIgnoreFile is written by "mpy-sync init".
const DefaultIgnoreFile = `# Files and folders that are never uploaded to the board.
# Syntax follows .gitignore; "!pattern" re-includes a file.
*.pyc
*.log
venv/
node_modules/
README.md
`
