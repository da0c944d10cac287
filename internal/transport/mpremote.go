package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// runProcess starts name with args and returns its stdout and stderr.
// Tests replace it to avoid spawning mpremote.
var runProcess = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Mpremote drives a board attached to this host through "python -m mpremote".
type Mpremote struct {
	Python   string
	Port     string
	Timeouts Timeouts
}

// NewMpremote returns an executor for the board on port ("" selects "auto").
func NewMpremote(python, port string, timeouts Timeouts) *Mpremote {
	if python == "" {
		python = "python3"
	}
	return &Mpremote{Python: python, Port: port, Timeouts: timeouts}
}

func (m *Mpremote) connectArgs() []string {
	port := m.Port
	if port == "" {
		port = "auto"
	}
	return []string{"-m", "mpremote", "connect", port}
}

// Exec stores script in a temp file and runs it with "mpremote run".
func (m *Mpremote) Exec(ctx context.Context, class Class, script string) ([]byte, error) {
	f, err := os.CreateTemp("", "mpy-sync-*.py")
	if err != nil {
		return nil, fmt.Errorf("failed to create script file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write script file: %w", err)
	}

	args := append(m.connectArgs(), "run", f.Name())
	return m.run(ctx, class, "exec", args)
}

func (m *Mpremote) Reset(ctx context.Context) error {
	_, err := m.run(ctx, Short, "reset", append(m.connectArgs(), "soft-reset"))
	return err
}

func (m *Mpremote) Close() error { return nil }

func (m *Mpremote) run(ctx context.Context, class Class, op string, args []string) ([]byte, error) {
	tctx, cancel := context.WithTimeout(ctx, m.Timeouts.For(class))
	defer cancel()

	stdout, stderr, err := runProcess(tctx, m.Python, args...)
	return finish(ctx, tctx, op, stdout, stderr, err)
}

// finish maps the outcome of one command to the error taxonomy. ctx is the
// caller's context, tctx the one bounded by the class timeout.
func finish(ctx, tctx context.Context, op string, stdout, stderr []byte, err error) ([]byte, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout, ctxErr
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return stdout, TimeoutError(op, string(stdout)+string(stderr))
	}
	if err != nil {
		return stdout, Classify(op, string(stdout)+string(stderr), err)
	}
	if deviceRaised(stdout) {
		return stdout, Classify(op, string(stdout), errors.New("device raised an exception"))
	}
	return stdout, nil
}

func deviceRaised(out []byte) bool {
	return bytes.Contains(out, []byte("Traceback (most recent call last)"))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
