package upload

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIgnoreCacheSimple(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".mpyignore"), []byte("*.tmp\n# comment\n"), 0644)

	ic := NewIgnoreCache(dir)

	if p := filepath.Join(dir, "foo.tmp"); !ic.Match(p, false) {
		t.Fatalf("expected %s to match ignore pattern", p)
	}
	if p := filepath.Join(dir, "deep", "er", "foo.tmp"); !ic.Match(p, false) {
		t.Fatalf("expected %s to match in a subdirectory", p)
	}
	if p := filepath.Join(dir, ".mpy_sync"); !ic.Match(p, true) {
		t.Fatalf("expected %s to be ignored by default", p)
	}
	if p := filepath.Join(dir, "main.py"); ic.Match(p, false) {
		t.Fatalf("did not expect %s to be ignored", p)
	}
}

func TestIgnoreCacheCascade(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, ".mpyignore"), []byte("*.log\n"), 0644)

	child := filepath.Join(root, "sub")
	os.MkdirAll(child, 0755)
	os.WriteFile(filepath.Join(child, ".mpyignore"), []byte("!keep.log\n"), 0644)

	ic := NewIgnoreCache(root)

	if f := filepath.Join(child, "other.log"); !ic.Match(f, false) {
		t.Fatalf("expected %s to be ignored by parent rule", f)
	}
	if f := filepath.Join(child, "keep.log"); ic.Match(f, false) {
		t.Fatalf("expected %s to NOT be ignored due to child negation", f)
	}
}

func TestIgnoreCacheClear(t *testing.T) {
	root := t.TempDir()
	ic := NewIgnoreCache(root)
	f := filepath.Join(root, "a.bin")
	if ic.Match(f, false) {
		t.Fatalf("nothing should be ignored yet")
	}

	os.WriteFile(filepath.Join(root, ".mpyignore"), []byte("*.bin\n"), 0644)
	if ic.Match(f, false) {
		t.Fatalf("cached result expected before ClearCache")
	}
	ic.ClearCache()
	if !ic.Match(f, false) {
		t.Fatalf("expected %s to be ignored after ClearCache", f)
	}
}
