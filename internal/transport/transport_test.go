package transport

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClassifyNotFound(t *testing.T) {
	out := "Traceback (most recent call last):\n  File \"<stdin>\", line 3, in <module>\nOSError: [Errno 2] ENOENT\n"
	err := Classify("exec", out, errors.New("exit status 1"))

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T", err)
	}
	if !IsNotFound(err) {
		t.Fatalf("expected not-found classification: %v", err)
	}
	if !strings.Contains(err.Error(), "OSError: [Errno 2] ENOENT") {
		t.Fatalf("error should carry the last output line: %v", err)
	}
}

func TestClassifyOtherFailure(t *testing.T) {
	err := Classify("exec", "OSError: [Errno 13] EACCES", errors.New("exit status 1"))
	if IsNotFound(err) {
		t.Fatalf("EACCES must not be classified as not found")
	}
}

func TestTimeoutsFallback(t *testing.T) {
	var zero Timeouts
	if zero.For(Short) != DefaultTimeouts.Short || zero.For(Long) != DefaultTimeouts.Long {
		t.Fatalf("zero timeouts should fall back to defaults")
	}
	custom := Timeouts{Short: time.Second, Long: time.Minute}
	if custom.For(Long) != time.Minute {
		t.Fatalf("unexpected long timeout %v", custom.For(Long))
	}
}

func TestMpremoteExecArgs(t *testing.T) {
	old := runProcess
	defer func() { runProcess = old }()

	var gotName string
	var gotArgs []string
	var gotScript string
	runProcess = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotName, gotArgs = name, args
		data, err := os.ReadFile(args[len(args)-1])
		if err != nil {
			t.Fatalf("script file should exist while running: %v", err)
		}
		gotScript = string(data)
		return []byte("ok\n"), nil, nil
	}

	m := NewMpremote("", "/dev/ttyUSB0", Timeouts{})
	out, err := m.Exec(context.Background(), Short, "print('ok')")
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if string(out) != "ok\n" {
		t.Fatalf("unexpected output %q", out)
	}
	if gotName != "python3" {
		t.Fatalf("expected python3, got %s", gotName)
	}
	want := []string{"-m", "mpremote", "connect", "/dev/ttyUSB0", "run"}
	for i, w := range want {
		if gotArgs[i] != w {
			t.Fatalf("arg %d: expected %q, got %q (%v)", i, w, gotArgs[i], gotArgs)
		}
	}
	if gotScript != "print('ok')" {
		t.Fatalf("unexpected script %q", gotScript)
	}
	if _, err := os.Stat(gotArgs[len(gotArgs)-1]); !os.IsNotExist(err) {
		t.Fatalf("script file should be removed after Exec")
	}
}

func TestMpremoteTracebackIsError(t *testing.T) {
	old := runProcess
	defer func() { runProcess = old }()
	runProcess = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return []byte("Traceback (most recent call last):\nOSError: [Errno 2] ENOENT\n"), nil, nil
	}

	_, err := NewMpremote("python3", "", Timeouts{}).Exec(context.Background(), Short, "x")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestMpremoteTimeout(t *testing.T) {
	old := runProcess
	defer func() { runProcess = old }()
	runProcess = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}

	m := NewMpremote("python3", "", Timeouts{Short: 20 * time.Millisecond, Long: time.Second})
	_, err := m.Exec(context.Background(), Short, "x")
	var te *TransportError
	if !errors.As(err, &te) || !te.Timeout || !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout TransportError, got %v", err)
	}
}

func TestMpremoteCancellation(t *testing.T) {
	old := runProcess
	defer func() { runProcess = old }()
	runProcess = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := NewMpremote("python3", "", Timeouts{}).Exec(ctx, Long, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type countingChannel struct {
	mu      sync.Mutex
	active  int
	overlap bool
}

func (c *countingChannel) Exec(ctx context.Context, class Class, script string) ([]byte, error) {
	c.mu.Lock()
	c.active++
	if c.active > 1 {
		c.overlap = true
	}
	c.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return []byte(script), nil
}

func (c *countingChannel) Reset(ctx context.Context) error { return nil }
func (c *countingChannel) Close() error                    { return nil }

func TestLockedSerializesCommands(t *testing.T) {
	inner := &countingChannel{}
	ch := Locked(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ch.Exec(context.Background(), Short, "x"); err != nil {
				t.Errorf("Exec failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if inner.overlap {
		t.Fatalf("commands overlapped on the channel")
	}
}

func TestSSHRunCommandQuoting(t *testing.T) {
	s, err := NewSSH(SSHOptions{Host: "pi.local", Username: "pi", Password: "x", DevicePort: "/dev/tty'ACM0"})
	if err != nil {
		t.Fatal(err)
	}
	cmd := s.runCommand()
	if !strings.HasPrefix(cmd, "sh -c '") {
		t.Fatalf("unexpected command %s", cmd)
	}
	if !strings.Contains(cmd, "mpremote") || !strings.Contains(cmd, "run") {
		t.Fatalf("command should run mpremote: %s", cmd)
	}
}
