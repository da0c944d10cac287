package tui

import (
	"regexp"
	"strings"
	"testing"

	"mpy-sync/internal/protocol"
	"mpy-sync/internal/remotefs"
)

var ansiRe = regexp.MustCompile("\x1b\\[[0-9;]*m")

func plain(s string) string { return ansiRe.ReplaceAllString(s, "") }

func sampleTree(t *testing.T) *remotefs.Tree {
	t.Helper()
	records, err := protocol.ParseListing("0&-1&/app\n32768&10&/app/main.py\n32768&2048&/app/util.py\n-1&-1&/lib\n32768&3&/boot.py\n")
	if err != nil {
		t.Fatal(err)
	}
	return remotefs.BuildTree(records, 1)
}

func TestRenderTree(t *testing.T) {
	out := plain(RenderTree(sampleTree(t).Root(), -1))
	want := []string{
		"/",
		"├── app/",
		"│   ├── main.py  10 B",
		"│   └── util.py  2.0 KiB",
		"├── lib/",
		"└── boot.py  3 B",
	}
	got := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("got\n%s", out)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestRenderTreeDepth(t *testing.T) {
	tree := sampleTree(t)
	out := plain(RenderTree(tree.Root(), 1))
	if strings.Contains(out, "main.py") {
		t.Fatalf("depth 1 should not descend:\n%s", out)
	}
	sub := plain(RenderTree(tree.Find("/app"), -1))
	if !strings.HasPrefix(sub, "/app/\n") {
		t.Fatalf("subtree header:\n%s", sub)
	}
}
