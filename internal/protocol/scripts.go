package protocol

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// WriteChunk is the number of raw bytes sent per write script. Larger
// payloads are split so the board never compiles an oversized script.
const WriteChunk = 12 * 1024

// prelude defines the helpers every command script calls.
const prelude = `import os
import sys
try:
    import binascii
except ImportError:
    import ubinascii as binascii
def ___rm(p, d):
    if d:
        os.rmdir(p)
    else:
        os.remove(p)
def ___mk(p):
    try:
        os.mkdir(p)
    except OSError as e:
        if e.args[0] != 17:
            raise
def ___md(p):
    os.mkdir(p)
def ___tc(p):
    open(p, 'ab').close()
def ___wr(p, m, b):
    f = open(p, m)
    try:
        f.write(binascii.a2b_base64(b))
    finally:
        f.close()
def ___rd(p):
    f = open(p, 'rb')
    try:
        while True:
            b = f.read(384)
            if not b:
                break
            print(binascii.b2a_base64(b).decode().strip())
    finally:
        f.close()
def ___mv(a, b):
    os.rename(a, b)
def ___cp(a, b):
    s = open(a, 'rb')
    try:
        d = open(b, 'wb')
        try:
            while True:
                c = s.read(512)
                if not c:
                    break
                d.write(c)
        finally:
            d.close()
    finally:
        s.close()
`

// Target is one entry of a remove batch.
type Target struct {
	Path string
	Dir  bool
}

// CopyStep is one entry of a copy batch: create To as a directory, or copy
// the file From into To.
type CopyStep struct {
	From string
	To   string
	Dir  bool
}

func call(name string, args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			parts[i] = Quote(v)
		case bool:
			if v {
				parts[i] = "1"
			} else {
				parts[i] = "0"
			}
		case int:
			parts[i] = strconv.Itoa(v)
		}
	}
	return "___" + name + "(" + strings.Join(parts, ", ") + ")"
}

func script(calls ...string) string {
	var b strings.Builder
	b.WriteString(prelude)
	for _, c := range calls {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	return b.String()
}

// ReadScript prints the content of path as base64 lines.
func ReadScript(path string) string {
	return script(call("rd", path))
}

// DecodeRead turns the reply of ReadScript back into the file content.
func DecodeRead(out []byte) ([]byte, error) {
	var data []byte
	for i, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		chunk, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			return nil, &ProtocolError{Line: i + 1, Text: line, Reason: "content line is not base64"}
		}
		data = append(data, chunk...)
	}
	return data, nil
}

// WriteScripts overwrites path with data. The first script creates every
// directory in parents (existing ones are fine) and truncates the file; the
// following ones append the remaining chunks.
func WriteScripts(path string, data []byte, parents []string) []string {
	var first []string
	for _, p := range parents {
		first = append(first, call("mk", p))
	}

	chunk := data
	if len(chunk) > WriteChunk {
		chunk = chunk[:WriteChunk]
	}
	first = append(first, call("wr", path, "wb", base64.StdEncoding.EncodeToString(chunk)))
	scripts := []string{script(first...)}

	for off := len(chunk); off < len(data); off += WriteChunk {
		end := off + WriteChunk
		if end > len(data) {
			end = len(data)
		}
		scripts = append(scripts, script(call("wr", path, "ab", base64.StdEncoding.EncodeToString(data[off:end]))))
	}
	return scripts
}

// RemoveScript removes targets in the given order. Callers pass them
// post-order so a directory is removed after its content.
func RemoveScript(targets []Target) string {
	calls := make([]string, len(targets))
	for i, t := range targets {
		calls[i] = call("rm", t.Path, t.Dir)
	}
	return script(calls...)
}

// MkdirScript creates one directory and fails if it already exists.
func MkdirScript(path string) string {
	return script(call("md", path))
}

// TouchScript creates an empty file, leaving existing content alone.
func TouchScript(path string) string {
	return script(call("tc", path))
}

func RenameScript(from, to string) string {
	return script(call("mv", from, to))
}

// CopyScript replays steps in order.
func CopyScript(steps []CopyStep) string {
	calls := make([]string, len(steps))
	for i, s := range steps {
		if s.Dir {
			calls[i] = call("md", s.To)
		} else {
			calls[i] = call("cp", s.From, s.To)
		}
	}
	return script(calls...)
}
