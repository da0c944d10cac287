// Package util holds the serialized terminal printer shared by commands.
package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// SafePrinter serializes terminal output so progress lines written from one
// goroutine never interleave with messages from another.
type SafePrinter struct {
	mu        sync.Mutex
	out       io.Writer
	suspended bool
	// status is true while an unterminated status line is on screen.
	status bool
}

// Default is the shared SafePrinter used across the application.
var Default = NewSafePrinter(os.Stdout)

func NewSafePrinter(w io.Writer) *SafePrinter {
	return &SafePrinter{out: w}
}

// write runs fn with the lock held unless output is suspended. Any pending
// status line is ended first.
func (s *SafePrinter) write(fn func(w io.Writer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	if s.status {
		fmt.Fprint(s.out, "\n")
		s.status = false
	}
	fn(s.out)
}

func (s *SafePrinter) Print(a ...interface{}) {
	s.write(func(w io.Writer) { fmt.Fprint(w, a...) })
}

func (s *SafePrinter) Printf(format string, a ...interface{}) {
	s.write(func(w io.Writer) { fmt.Fprintf(w, format, a...) })
}

func (s *SafePrinter) Println(a ...interface{}) {
	s.write(func(w io.Writer) { fmt.Fprintln(w, a...) })
}

// PrintBlock prints a multi-line block atomically, clearing the current
// line first when clearLine is set. A trailing newline is added if missing.
func (s *SafePrinter) PrintBlock(block string, clearLine bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	if clearLine {
		fmt.Fprint(s.out, "\r\x1b[K")
	} else if s.status {
		fmt.Fprint(s.out, "\n")
	}
	s.status = false
	fmt.Fprint(s.out, block)
	if !strings.HasSuffix(block, "\n") {
		fmt.Fprint(s.out, "\n")
	}
}

// Status overwrites the current line with line and leaves the cursor on it.
// The next regular print starts on a fresh line.
func (s *SafePrinter) Status(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprint(s.out, "\r\x1b[K"+line)
	s.status = true
}

// ClearLine clears the current line and returns the cursor to the beginning.
func (s *SafePrinter) ClearLine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprint(s.out, "\r\x1b[K")
	s.status = false
}

// Suspend silences all subsequent prints until Resume is called, so an
// interactive prompt can own the terminal.
func (s *SafePrinter) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
}

func (s *SafePrinter) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
}
