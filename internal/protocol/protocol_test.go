package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseListingExample(t *testing.T) {
	records, err := ParseListing("0&-1&/app\n32768&10&/app/main.py\n-1&-1&/lib")
	if err != nil {
		t.Fatalf("ParseListing failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !records[0].IsDir() || records[1].IsDir() || !records[2].IsDir() {
		t.Fatalf("unexpected kinds: %+v", records)
	}
	if records[1].Size != 10 || records[1].Path != "/app/main.py" {
		t.Fatalf("unexpected file record: %+v", records[1])
	}
}

func TestParseRecordKeepsAmpersandInPath(t *testing.T) {
	rec, err := ParseRecord("32768&3&/a&b.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Path != "/a&b.txt" {
		t.Fatalf("unexpected path %q", rec.Path)
	}
}

func TestParseListingSkipsBlankAndCRLF(t *testing.T) {
	records, err := ParseListing("\r\n16384&0&/lib\r\n\n  \n32768&1&/boot.py\r\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[1].Path != "/boot.py" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestParseListingRejectsMalformed(t *testing.T) {
	cases := []string{
		"16384&0&/lib\nnot a record",
		"x&0&/lib",
		"16384&big&/lib",
		"16384&0&lib",
		"16384&0&/",
		"/lib,D,0",
	}
	for _, text := range cases {
		_, err := ParseListing(text)
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("%q: expected ProtocolError, got %v", text, err)
		}
		if pe.Line == 0 {
			t.Fatalf("%q: line number missing", text)
		}
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	for _, s := range []string{"", "/app/main.py", "it's", `back\slash`, "tab\tnl\ncr\r", "\x00\x1f\x7f", "ünï"} {
		q := Quote(s)
		if strings.ContainsAny(q[1:len(q)-1], "\n\r") {
			t.Fatalf("quoted literal spans lines: %s", q)
		}
		got, err := Unquote(q)
		if err != nil {
			t.Fatalf("Unquote(%s): %v", q, err)
		}
		if got != s {
			t.Fatalf("round trip mismatch: %q -> %s -> %q", s, q, got)
		}
	}
}

func TestRemoveScriptOrder(t *testing.T) {
	s := RemoveScript([]Target{{Path: "/app/main.py"}, {Path: "/app", Dir: true}})
	file := strings.Index(s, "___rm('/app/main.py', 0)")
	dir := strings.Index(s, "___rm('/app', 1)")
	if file < 0 || dir < 0 || file > dir {
		t.Fatalf("unexpected remove script:\n%s", s)
	}
}

func TestWriteScriptsChunking(t *testing.T) {
	data := bytes.Repeat([]byte("x"), WriteChunk*2+5)
	scripts := WriteScripts("/lib/big.bin", data, []string{"/lib"})
	if len(scripts) != 3 {
		t.Fatalf("expected 3 scripts, got %d", len(scripts))
	}
	if !strings.Contains(scripts[0], "___mk('/lib')") || !strings.Contains(scripts[0], "'wb'") {
		t.Fatalf("first script should create parents and truncate")
	}
	for _, s := range scripts[1:] {
		if strings.Contains(s, "___mk(") || !strings.Contains(s, "'ab'") {
			t.Fatalf("follow-up scripts should only append")
		}
	}
}

func TestWriteScriptsEmptyFile(t *testing.T) {
	scripts := WriteScripts("/empty.txt", nil, nil)
	if len(scripts) != 1 || !strings.Contains(scripts[0], "___wr('/empty.txt', 'wb', '')") {
		t.Fatalf("unexpected scripts: %v", scripts)
	}
}

func TestDecodeRead(t *testing.T) {
	got, err := DecodeRead([]byte("aGVsbG8g\r\nd29ybGQ=\n"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected content %q", got)
	}
	if _, err := DecodeRead([]byte("Traceback!\n")); err == nil {
		t.Fatalf("expected error for non-base64 reply")
	}
}

func TestCopyScript(t *testing.T) {
	s := CopyScript([]CopyStep{{To: "/b", Dir: true}, {From: "/a/x.py", To: "/b/x.py"}})
	if !strings.Contains(s, "___md('/b')") || !strings.Contains(s, "___cp('/a/x.py', '/b/x.py')") {
		t.Fatalf("unexpected copy script:\n%s", s)
	}
}
