package transport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports a path that does not exist on the device or in the tree.
	ErrNotFound = errors.New("no such file or directory")
	// ErrTimeout reports a command that did not complete within its class timeout.
	ErrTimeout = errors.New("command timed out")
)

// TransportError is returned when a command could not complete: timeout,
// non-zero exit, or a lost connection.
type TransportError struct {
	Op      string
	Output  string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if tail := lastLine(e.Output); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is, or wraps, a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Classify turns the output of a failed command into a TransportError. A
// reply carrying ENOENT wraps ErrNotFound so callers can tell it apart.
func Classify(op, output string, cause error) error {
	if cause == nil {
		cause = errors.New("command failed")
	}
	if notFoundReply(output) {
		cause = fmt.Errorf("%w (%v)", ErrNotFound, cause)
	}
	return &TransportError{Op: op, Output: output, Err: cause}
}

// TimeoutError builds the error returned when a class timeout expires.
func TimeoutError(op, output string) error {
	return &TransportError{Op: op, Output: output, Timeout: true, Err: ErrTimeout}
}

func notFoundReply(output string) bool {
	return strings.Contains(output, "ENOENT") || strings.Contains(output, "[Errno 2]")
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
