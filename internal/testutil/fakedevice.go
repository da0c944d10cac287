// Package testutil provides an in-memory board for tests.
package testutil

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"mpy-sync/internal/protocol"
	"mpy-sync/internal/transport"
)

// Errno values raised by the fake board.
const (
	ENOENT    = 2
	EACCES    = 13
	EEXIST    = 17
	EISDIR    = 21
	ENOTEMPTY = 39
)

// Call is one helper invocation found in a script, arguments unquoted.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return c.Name + "(" + strings.Join(c.Args, ", ") + ")"
}

type entry struct {
	dir  bool
	data []byte
}

// FakeDevice implements transport.Channel on top of an in-memory
// filesystem. It understands the scripts built by package protocol.
type FakeDevice struct {
	mu      sync.Mutex
	entries map[string]*entry

	calls  []Call
	scans  int
	resets int
	execs  []string

	// FailOn returns an errno to raise for a call, or 0.
	FailOn func(Call) int
	// ScanOutput replaces the listing reply when set.
	ScanOutput *string
	// Broken makes every command fail with a transport timeout.
	Broken bool
	// Block makes commands wait until it is closed or the context ends.
	Block chan struct{}
	// ExecOutput is returned for scripts that are not protocol scripts.
	ExecOutput string
}

var _ transport.Channel = (*FakeDevice)(nil)

func NewFakeDevice() *FakeDevice {
	return &FakeDevice{entries: map[string]*entry{}}
}

func parentOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

func (d *FakeDevice) isDir(p string) bool {
	if p == "/" {
		return true
	}
	e, ok := d.entries[p]
	return ok && e.dir
}

// AddDir creates p and its parents.
func (d *FakeDevice) AddDir(p string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mkdirAll(p)
}

func (d *FakeDevice) mkdirAll(p string) {
	if p == "/" || p == "" {
		return
	}
	d.mkdirAll(parentOf(p))
	if _, ok := d.entries[p]; !ok {
		d.entries[p] = &entry{dir: true}
	}
}

// AddFile creates p with content, creating parents.
func (d *FakeDevice) AddFile(p string, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mkdirAll(parentOf(p))
	d.entries[p] = &entry{data: []byte(content)}
}

// File returns the content of p.
func (d *FakeDevice) File(p string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[p]
	if !ok || e.dir {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

func (d *FakeDevice) Exists(p string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[p]
	return ok
}

// Paths lists every entry, sorted.
func (d *FakeDevice) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for p := range d.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Calls returns the helper calls executed so far.
func (d *FakeDevice) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsNamed returns calls to helper name, rendered as strings.
func (d *FakeDevice) CallsNamed(name string) []string {
	var out []string
	for _, c := range d.Calls() {
		if c.Name == name {
			out = append(out, c.String())
		}
	}
	return out
}

func (d *FakeDevice) Scans() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scans
}

func (d *FakeDevice) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Execs returns the non-protocol scripts received.
func (d *FakeDevice) Execs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.execs...)
}

func (d *FakeDevice) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Block != nil {
		select {
		case <-d.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.Broken {
		return transport.TimeoutError("exec", "")
	}
	return nil
}

func (d *FakeDevice) Exec(ctx context.Context, class transport.Class, script string) ([]byte, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if strings.Contains(script, "___FSScan") {
		d.scans++
		if d.ScanOutput != nil {
			return []byte(*d.ScanOutput), nil
		}
		return []byte(d.listing()), nil
	}

	if !strings.Contains(script, "def ___rm(") {
		d.execs = append(d.execs, script)
		return []byte(d.ExecOutput), nil
	}

	var out strings.Builder
	for lineNo, line := range strings.Split(script, "\n") {
		if !strings.HasPrefix(line, "___") {
			continue
		}
		c, err := parseCall(line)
		if err != nil {
			return nil, fmt.Errorf("fake device: %v", err)
		}
		d.calls = append(d.calls, c)

		errno := 0
		if d.FailOn != nil {
			errno = d.FailOn(c)
		}
		if errno == 0 {
			errno = d.apply(c, &out)
		}
		if errno != 0 {
			out.WriteString(traceback(lineNo+1, errno))
			return []byte(out.String()), transport.Classify("exec", out.String(), errors.New("exit status 1"))
		}
	}
	return []byte(out.String()), nil
}

func (d *FakeDevice) Reset(ctx context.Context) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	return nil
}

func (d *FakeDevice) Close() error { return nil }

func traceback(line, errno int) string {
	names := map[int]string{ENOENT: "ENOENT", EACCES: "EACCES", EEXIST: "EEXIST", EISDIR: "EISDIR", ENOTEMPTY: "ENOTEMPTY"}
	return fmt.Sprintf("Traceback (most recent call last):\n  File \"<stdin>\", line %d, in <module>\nOSError: [Errno %d] %s\n", line, errno, names[errno])
}

// listing renders the filesystem the way ScanScript prints it.
func (d *FakeDevice) listing() string {
	var b strings.Builder
	var walk func(dir string)
	walk = func(dir string) {
		for _, p := range d.childrenOf(dir) {
			e := d.entries[p]
			if e.dir {
				fmt.Fprintf(&b, "%d&%d&%s\n", protocol.DirBit, 0, p)
				walk(p)
			} else {
				fmt.Fprintf(&b, "%d&%d&%s\n", 0x8000, len(e.data), p)
			}
		}
	}
	walk("/")
	return b.String()
}

func (d *FakeDevice) childrenOf(dir string) []string {
	var out []string
	for p := range d.entries {
		if parentOf(p) == dir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (d *FakeDevice) apply(c Call, out *strings.Builder) int {
	arg := func(i int) string {
		if i < len(c.Args) {
			return c.Args[i]
		}
		return ""
	}
	switch c.Name {
	case "rm":
		e, ok := d.entries[arg(0)]
		if !ok {
			return ENOENT
		}
		if arg(1) == "1" {
			if !e.dir {
				return ENOENT
			}
			if len(d.childrenOf(arg(0))) > 0 {
				return ENOTEMPTY
			}
		} else if e.dir {
			return EISDIR
		}
		delete(d.entries, arg(0))
	case "mk", "md":
		if !d.isDir(parentOf(arg(0))) {
			return ENOENT
		}
		if _, ok := d.entries[arg(0)]; ok {
			if c.Name == "md" {
				return EEXIST
			}
			return 0
		}
		d.entries[arg(0)] = &entry{dir: true}
	case "tc":
		if !d.isDir(parentOf(arg(0))) {
			return ENOENT
		}
		if _, ok := d.entries[arg(0)]; !ok {
			d.entries[arg(0)] = &entry{}
		}
	case "wr":
		if !d.isDir(parentOf(arg(0))) {
			return ENOENT
		}
		data, err := base64.StdEncoding.DecodeString(arg(2))
		if err != nil {
			return EACCES
		}
		e, ok := d.entries[arg(0)]
		if ok && e.dir {
			return EISDIR
		}
		if !ok || arg(1) == "wb" {
			e = &entry{}
			d.entries[arg(0)] = e
		}
		e.data = append(e.data, data...)
	case "rd":
		e, ok := d.entries[arg(0)]
		if !ok {
			return ENOENT
		}
		if e.dir {
			return EISDIR
		}
		for off := 0; off < len(e.data); off += 384 {
			end := min(off+384, len(e.data))
			out.WriteString(base64.StdEncoding.EncodeToString(e.data[off:end]))
			out.WriteString("\r\n")
		}
	case "mv":
		from, to := arg(0), arg(1)
		if _, ok := d.entries[from]; !ok {
			return ENOENT
		}
		if !d.isDir(parentOf(to)) {
			return ENOENT
		}
		if _, ok := d.entries[to]; ok {
			return EEXIST
		}
		moved := map[string]*entry{}
		for p, e := range d.entries {
			if p == from || strings.HasPrefix(p, from+"/") {
				moved[to+p[len(from):]] = e
				delete(d.entries, p)
			}
		}
		for p, e := range moved {
			d.entries[p] = e
		}
	case "cp":
		e, ok := d.entries[arg(0)]
		if !ok {
			return ENOENT
		}
		if !d.isDir(parentOf(arg(1))) {
			return ENOENT
		}
		d.entries[arg(1)] = &entry{data: append([]byte(nil), e.data...)}
	default:
		return EACCES
	}
	return 0
}

// parseCall parses a line such as ___rm('/a', 1).
func parseCall(line string) (Call, error) {
	open := strings.IndexByte(line, '(')
	if open < 0 || !strings.HasSuffix(line, ")") {
		return Call{}, fmt.Errorf("bad call %q", line)
	}
	c := Call{Name: strings.TrimPrefix(line[:open], "___")}
	rest := line[open+1 : len(line)-1]

	for len(rest) > 0 {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		var tok string
		if rest[0] == '\'' {
			end := 1
			for end < len(rest) && rest[end] != '\'' {
				if rest[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(rest) {
				return Call{}, fmt.Errorf("unterminated string in %q", line)
			}
			lit, err := protocol.Unquote(rest[:end+1])
			if err != nil {
				return Call{}, err
			}
			tok = lit
			rest = rest[end+1:]
		} else {
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			raw := strings.TrimSpace(rest[:end])
			if _, err := strconv.Atoi(raw); err != nil {
				return Call{}, fmt.Errorf("bad argument %q in %q", raw, line)
			}
			tok = raw
			rest = rest[end:]
		}
		c.Args = append(c.Args, tok)
		rest = strings.TrimLeft(rest, " ")
		rest = strings.TrimPrefix(rest, ",")
	}
	return c, nil
}
