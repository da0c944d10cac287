package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"
)

// SSHOptions describes a host that has the board attached and mpremote
// installed.
type SSHOptions struct {
	Host       string
	Port       string
	Username   string
	PrivateKey string
	Password   string
	Python     string
	DevicePort string
	Timeouts   Timeouts
}

// SSH runs mpremote on a remote host, streaming each script over stdin.
type SSH struct {
	opts   SSHOptions
	config *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSH creates an SSH executor. The connection is opened lazily.
func NewSSH(opts SSHOptions) (*SSH, error) {
	var auth []ssh.AuthMethod
	if opts.PrivateKey != "" {
		key, err := os.ReadFile(opts.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("unable to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		auth = append(auth, ssh.Password(opts.Password))
	}
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.Port == "" {
		opts.Port = "22"
	}

	return &SSH{
		opts: opts,
		config: &ssh.ClientConfig{
			User:            opts.Username,
			Auth:            auth,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         opts.Timeouts.For(Short),
		},
	}, nil
}

// Connect establishes the SSH connection
func (s *SSH) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *SSH) connectLocked() error {
	if s.client != nil {
		return nil
	}
	client, err := ssh.Dial("tcp", net.JoinHostPort(s.opts.Host, s.opts.Port), s.config)
	if err != nil {
		return &TransportError{Op: "connect", Err: fmt.Errorf("failed to dial: %w", err)}
	}
	s.client = client
	return nil
}

// Close closes the SSH connection
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *SSH) mpremote() string {
	port := s.opts.DevicePort
	if port == "" {
		port = "auto"
	}
	return fmt.Sprintf("%s -m mpremote connect %s", shellQuote(s.opts.Python), shellQuote(port))
}

// runCommand is the remote shell line that spools stdin into a temp file and
// runs it on the board.
func (s *SSH) runCommand() string {
	inner := fmt.Sprintf(`f=$(mktemp); cat >"$f"; %s run "$f"; rc=$?; rm -f "$f"; exit $rc`, s.mpremote())
	return "sh -c " + shellQuote(inner)
}

func (s *SSH) Exec(ctx context.Context, class Class, script string) ([]byte, error) {
	return s.run(ctx, class, "exec", s.runCommand(), []byte(script))
}

func (s *SSH) Reset(ctx context.Context) error {
	_, err := s.run(ctx, Short, "reset", s.mpremote()+" soft-reset", nil)
	return err
}

func (s *SSH) run(ctx context.Context, class Class, op, command string, stdin []byte) ([]byte, error) {
	s.mu.Lock()
	if err := s.connectLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	client := s.client
	s.mu.Unlock()

	session, err := client.NewSession()
	if err != nil {
		// The link is gone; drop it so the next command redials.
		s.mu.Lock()
		if s.client == client {
			s.client.Close()
			s.client = nil
		}
		s.mu.Unlock()
		return nil, &TransportError{Op: op, Err: fmt.Errorf("lost connection: %w", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	session.Stdin = bytes.NewReader(stdin)

	tctx, cancel := context.WithTimeout(ctx, s.opts.Timeouts.For(class))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-tctx.Done():
		_ = session.Signal(ssh.SIGINT)
		session.Close()
		<-done
	}
	return finish(ctx, tctx, op, stdout.Bytes(), stderr.Bytes(), err)
}
