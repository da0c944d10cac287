package remotefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"mpy-sync/internal/protocol"
	"mpy-sync/internal/testutil"
	"mpy-sync/internal/transport"
)

type recorder struct {
	log []string
}

func (r *recorder) Before(events []Event) {
	for _, e := range events {
		r.log = append(r.log, "before "+e.Kind.String()+" "+e.Path)
	}
}

func (r *recorder) After(events []Event) {
	for _, e := range events {
		r.log = append(r.log, "after "+e.Kind.String()+" "+e.Path)
	}
}

func newFS(t *testing.T, dev *testutil.FakeDevice) *FS {
	t.Helper()
	fs := New(dev)
	fs.now = func() time.Time { return time.UnixMilli(42) }
	if err := fs.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return fs
}

func TestRefreshLoadsDevice(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/app/main.py", "print(1)\n")
	dev.AddDir("/lib")

	fs := newFS(t, dev)
	if n := fs.Find("/app/main.py"); n == nil || n.Len() != 9 {
		t.Fatalf("main.py missing or wrong size")
	}
	if n := fs.Find("/lib"); n == nil || !n.IsDir() {
		t.Fatalf("/lib missing")
	}
}

func TestRefreshFailureKeepsOldTree(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/main.py", "x")
	fs := newFS(t, dev)
	old := fs.Tree()

	bad := "16384&0&/lib\ngarbage"
	dev.ScanOutput = &bad
	err := fs.Refresh(context.Background())
	if err == nil || !strings.Contains(err.Error(), "protocol error") {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if fs.Tree() != old || fs.Find("/main.py") == nil {
		t.Fatalf("old tree should be retained after a bad listing")
	}

	dev.ScanOutput = nil
	dev.Broken = true
	if err := fs.Refresh(context.Background()); err == nil {
		t.Fatalf("expected transport error")
	}
	if fs.Tree() != old {
		t.Fatalf("old tree should be retained after a transport failure")
	}
}

func TestReadFileCachesUntilForced(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/main.py", strings.Repeat("abc", 300))
	fs := newFS(t, dev)
	ctx := context.Background()

	data, err := fs.ReadFile(ctx, "/main.py", false)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strings.Repeat("abc", 300) {
		t.Fatalf("unexpected content (%d bytes)", len(data))
	}

	dev.AddFile("/main.py", "changed")
	data, _ = fs.ReadFile(ctx, "/main.py", false)
	if len(dev.CallsNamed("rd")) != 1 || string(data) != strings.Repeat("abc", 300) {
		t.Fatalf("second read should come from the cache")
	}

	data, err = fs.ReadFile(ctx, "/main.py", true)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "changed" || len(dev.CallsNamed("rd")) != 2 {
		t.Fatalf("forced read should hit the device")
	}
	if n := fs.Find("/main.py"); n.Len() != int64(len("changed")) {
		t.Fatalf("length should follow the loaded content, got %d", n.Len())
	}
}

func TestReadFileMissingOnDevice(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/gone.py", "x")
	fs := newFS(t, dev)

	dev.FailOn = func(c testutil.Call) int {
		if c.Name == "rd" {
			return testutil.ENOENT
		}
		return 0
	}
	_, err := fs.ReadFile(context.Background(), "/gone.py", false)
	if !transport.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if fs.Find("/gone.py").Exists() {
		t.Fatalf("node should be marked as not existing")
	}
	if _, err := fs.ReadFile(context.Background(), "/never.py", false); !transport.IsNotFound(err) {
		t.Fatalf("path absent from the tree should be not found, got %v", err)
	}
}

func TestWriteFileCreatesParentsAndNotifies(t *testing.T) {
	dev := testutil.NewFakeDevice()
	fs := newFS(t, dev)
	rec := &recorder{}
	fs.Subscribe(rec)

	if err := fs.WriteFile(context.Background(), "pkg/sub/mod.py", []byte("x = 1\n")); err != nil {
		t.Fatal(err)
	}
	if got, ok := dev.File("/pkg/sub/mod.py"); !ok || string(got) != "x = 1\n" {
		t.Fatalf("device content mismatch: %q", got)
	}
	n := fs.Find("/pkg/sub/mod.py")
	if n == nil || !n.Loaded() || n.Len() != 6 {
		t.Fatalf("tree not updated after write")
	}
	want := []string{
		"before create /pkg", "before create /pkg/sub", "before create /pkg/sub/mod.py",
		"after create /pkg", "after create /pkg/sub", "after create /pkg/sub/mod.py",
	}
	if fmt.Sprint(rec.log) != fmt.Sprint(want) {
		t.Fatalf("unexpected events:\n%v", rec.log)
	}

	rec.log = nil
	if err := fs.WriteFile(context.Background(), "/pkg/sub/mod.py", []byte("x = 2\n")); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(rec.log) != "[before content-change /pkg/sub/mod.py after content-change /pkg/sub/mod.py]" {
		t.Fatalf("unexpected events on overwrite: %v", rec.log)
	}
}

func TestWriteFileFailureLeavesTreeUntouched(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/main.py", "old")
	fs := newFS(t, dev)
	if _, err := fs.ReadFile(context.Background(), "/main.py", false); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	fs.Subscribe(rec)

	dev.FailOn = func(c testutil.Call) int {
		if c.Name == "wr" {
			return testutil.EACCES
		}
		return 0
	}
	if err := fs.WriteFile(context.Background(), "/main.py", []byte("new")); err == nil {
		t.Fatalf("expected write failure")
	}
	data, _ := fs.ReadFile(context.Background(), "/main.py", false)
	if string(data) != "old" {
		t.Fatalf("cache must not change after a failed write, got %q", data)
	}
	for _, l := range rec.log {
		if strings.HasPrefix(l, "after") {
			t.Fatalf("after must not be emitted for a failed write: %v", rec.log)
		}
	}
	if dev.Scans() != 1 {
		t.Fatalf("a failed single-chunk write must not rescan, got %d scans", dev.Scans())
	}
}

func TestWriteFileFailureAfterParentsRefreshes(t *testing.T) {
	dev := testutil.NewFakeDevice()
	fs := newFS(t, dev)

	dev.FailOn = func(c testutil.Call) int {
		if c.Name == "wr" {
			return testutil.EACCES
		}
		return 0
	}
	if err := fs.WriteFile(context.Background(), "/new/file.py", []byte("x")); err == nil {
		t.Fatalf("expected write failure")
	}
	if !dev.Exists("/new") {
		t.Fatalf("fake device should hold the parent created before the failure")
	}
	if n := fs.Find("/new"); n == nil || !n.IsDir() {
		t.Fatalf("tree must follow the device after a partial write, got %v", n)
	}
	if fs.Find("/new/file.py") != nil {
		t.Fatalf("file must not appear in the tree")
	}
	if dev.Scans() != 2 {
		t.Fatalf("expected a refresh after the partial write, got %d scans", dev.Scans())
	}
}

func TestWriteFileFailedAppendDropsCache(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/main.py", "old")
	fs := newFS(t, dev)
	if _, err := fs.ReadFile(context.Background(), "/main.py", false); err != nil {
		t.Fatal(err)
	}

	dev.FailOn = func(c testutil.Call) int {
		if c.Name == "wr" && len(c.Args) > 1 && c.Args[1] == "ab" {
			return testutil.EACCES
		}
		return 0
	}
	data := []byte(strings.Repeat("a", protocol.WriteChunk+10))
	if err := fs.WriteFile(context.Background(), "/main.py", data); err == nil {
		t.Fatalf("expected the append to fail")
	}
	dev.FailOn = nil

	onDevice, _ := dev.File("/main.py")
	if len(onDevice) != protocol.WriteChunk {
		t.Fatalf("fake device should hold the first chunk only, got %d bytes", len(onDevice))
	}
	n := fs.Find("/main.py")
	if n == nil || n.Loaded() {
		t.Fatalf("cached content must be dropped after a partial write")
	}
	if n.Len() != int64(protocol.WriteChunk) {
		t.Fatalf("tree size = %d, want %d", n.Len(), protocol.WriteChunk)
	}
	got, err := fs.ReadFile(context.Background(), "/main.py", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != protocol.WriteChunk {
		t.Fatalf("read %d bytes, want the %d bytes on the device", len(got), protocol.WriteChunk)
	}
}

func TestCreateWriterFlushesOnClose(t *testing.T) {
	dev := testutil.NewFakeDevice()
	fs := newFS(t, dev)

	w := fs.Create(context.Background(), "/boot.py")
	io.WriteString(w, "import ")
	io.WriteString(w, "machine\n")
	if dev.Exists("/boot.py") {
		t.Fatalf("nothing should reach the device before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got, _ := dev.File("/boot.py"); string(got) != "import machine\n" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestCreateFileAndDir(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddDir("/lib")
	fs := newFS(t, dev)
	ctx := context.Background()

	if _, err := fs.CreateDir(ctx, "/lib", "drivers"); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.CreateFile(ctx, "/lib/drivers", "__init__.py"); err != nil {
		t.Fatal(err)
	}
	if !dev.Exists("/lib/drivers/__init__.py") || fs.Find("/lib/drivers/__init__.py") == nil {
		t.Fatalf("created nodes missing")
	}
	if _, err := fs.CreateDir(ctx, "/lib", "drivers"); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
	if _, err := fs.CreateFile(ctx, "/nope", "x.py"); !transport.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := fs.CreateFile(ctx, "/lib", "a/b"); err == nil {
		t.Fatalf("expected invalid name error")
	}
}

func TestCreateFailureDoesNotMutate(t *testing.T) {
	dev := testutil.NewFakeDevice()
	fs := newFS(t, dev)
	dev.FailOn = func(c testutil.Call) int { return testutil.EACCES }

	if _, err := fs.CreateDir(context.Background(), "/", "x"); err == nil {
		t.Fatalf("expected failure")
	}
	if fs.Find("/x") != nil {
		t.Fatalf("tree mutated after failed create")
	}
}

func TestDeleteSelectionWithParentAndChild(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/app/main.py", "x")
	fs := newFS(t, dev)
	scans := dev.Scans()

	if err := fs.Delete(context.Background(), "/app", "/app/main.py"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got := dev.CallsNamed("rm")
	want := []string{"rm(/app/main.py, 0)", "rm(/app, 1)", "rm(/app/main.py, 0)"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected remove order:\n%v", got)
	}
	if fs.Find("/app") != nil || dev.Exists("/app") {
		t.Fatalf("/app should be gone")
	}
	if dev.Scans() != scans {
		t.Fatalf("a swallowed not-found on a removed subtree should not need a refresh")
	}
}

func TestDeleteIsPostOrder(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/a/b/c.py", "c")
	dev.AddFile("/a/d.py", "d")
	fs := newFS(t, dev)

	if err := fs.Delete(context.Background(), "/a"); err != nil {
		t.Fatal(err)
	}
	pos := map[string]int{}
	for i, c := range dev.CallsNamed("rm") {
		pos[c] = i
	}
	if pos["rm(/a/b/c.py, 0)"] > pos["rm(/a/b, 1)"] || pos["rm(/a/b, 1)"] > pos["rm(/a, 1)"] || pos["rm(/a/d.py, 0)"] > pos["rm(/a, 1)"] {
		t.Fatalf("directories removed before their content: %v", dev.CallsNamed("rm"))
	}
	if len(dev.Paths()) != 0 {
		t.Fatalf("device should be empty, has %v", dev.Paths())
	}
}

func TestDeleteOtherErrorAbortsAndRefreshes(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/a.py", "a")
	dev.AddFile("/b.py", "b")
	dev.AddFile("/c.py", "c")
	fs := newFS(t, dev)
	scans := dev.Scans()

	dev.FailOn = func(c testutil.Call) int {
		if c.Name == "rm" && c.Args[0] == "/b.py" {
			return testutil.EACCES
		}
		return 0
	}
	err := fs.Delete(context.Background(), "/a.py", "/b.py", "/c.py")
	if err == nil || transport.IsNotFound(err) {
		t.Fatalf("expected a non-not-found failure, got %v", err)
	}
	if dev.Exists("/a.py") || !dev.Exists("/b.py") || !dev.Exists("/c.py") {
		t.Fatalf("unexpected device state: %v", dev.Paths())
	}
	if len(dev.CallsNamed("rm")) != 2 {
		t.Fatalf("remaining batch should be aborted: %v", dev.CallsNamed("rm"))
	}
	if dev.Scans() != scans+1 {
		t.Fatalf("expected a refresh after the failure")
	}
	if fs.Find("/a.py") != nil || fs.Find("/b.py") == nil {
		t.Fatalf("tree should match the device after refresh")
	}
}

func TestDeleteCancelledRefreshesBeforeReturning(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/a.py", "a")
	fs := newFS(t, dev)
	scans := dev.Scans()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fs.Delete(ctx, "/a.py")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if dev.Scans() != scans+1 {
		t.Fatalf("cancellation must still refresh the tree")
	}
}

func TestDeleteRootRefused(t *testing.T) {
	fs := newFS(t, testutil.NewFakeDevice())
	if err := fs.Delete(context.Background(), "/"); err == nil {
		t.Fatalf("deleting the root must be refused")
	}
}

func TestRenameMoveCopy(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/lib/util.py", "u")
	dev.AddFile("/lib/pkg/a.py", "a")
	dev.AddDir("/dst")
	fs := newFS(t, dev)
	ctx := context.Background()
	rec := &recorder{}
	fs.Subscribe(rec)

	n, err := fs.Rename(ctx, "/lib/util.py", "helpers.py")
	if err != nil {
		t.Fatal(err)
	}
	if n.Path() != "/lib/helpers.py" || !dev.Exists("/lib/helpers.py") || fs.Find("/lib/util.py") != nil {
		t.Fatalf("rename not mirrored")
	}

	if _, err := fs.Move(ctx, "/lib/helpers.py", "/dst"); err != nil {
		t.Fatal(err)
	}
	if !dev.Exists("/dst/helpers.py") || fs.Find("/dst/helpers.py") == nil || fs.Find("/lib/helpers.py") != nil {
		t.Fatalf("move not mirrored")
	}

	c, err := fs.Copy(ctx, "/lib/pkg", "/dst", "pkg2")
	if err != nil {
		t.Fatal(err)
	}
	if c.Path() != "/dst/pkg2" || fs.Find("/dst/pkg2/a.py") == nil || fs.Find("/lib/pkg/a.py") == nil {
		t.Fatalf("copy not mirrored in tree")
	}
	if got, _ := dev.File("/dst/pkg2/a.py"); string(got) != "a" {
		t.Fatalf("copy not mirrored on device")
	}

	want := []string{
		"before rename /lib/helpers.py", "after rename /lib/helpers.py",
		"before move /dst/helpers.py", "after move /dst/helpers.py",
		"before copy /dst/pkg2", "after copy /dst/pkg2",
	}
	if fmt.Sprint(rec.log) != fmt.Sprint(want) {
		t.Fatalf("unexpected events:\n%v", rec.log)
	}
}

func TestMoveRejectsInvalidTargets(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/a/b/c.py", "c")
	dev.AddFile("/x.py", "x")
	dev.AddFile("/a/x.py", "x")
	fs := newFS(t, dev)
	ctx := context.Background()

	if _, err := fs.Move(ctx, "/a", "/a/b"); err == nil {
		t.Fatalf("moving a directory into itself must fail")
	}
	if _, err := fs.Move(ctx, "/x.py", "/a"); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
	if _, err := fs.Rename(ctx, "/x.py", "b"); err != nil {
		t.Fatalf("rename to a free name should work: %v", err)
	}
}

func TestRenameFailureDoesNotMutate(t *testing.T) {
	dev := testutil.NewFakeDevice()
	dev.AddFile("/x.py", "x")
	fs := newFS(t, dev)
	dev.FailOn = func(c testutil.Call) int { return testutil.EACCES }

	if _, err := fs.Rename(context.Background(), "/x.py", "y.py"); err == nil {
		t.Fatalf("expected failure")
	}
	if fs.Find("/x.py") == nil || fs.Find("/y.py") != nil {
		t.Fatalf("tree mutated after failed rename")
	}
}

func TestUnsubscribe(t *testing.T) {
	fs := newFS(t, testutil.NewFakeDevice())
	rec := &recorder{}
	unsubscribe := fs.Subscribe(rec)
	unsubscribe()

	if _, err := fs.CreateDir(context.Background(), "/", "lib"); err != nil {
		t.Fatal(err)
	}
	if len(rec.log) != 0 {
		t.Fatalf("unsubscribed observer was notified: %v", rec.log)
	}
}
